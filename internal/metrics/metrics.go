// Package metrics exports counters and latencies for outbound hypervisor
// calls and provisioning workflows.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/StealthBadger747/ProxVPS/internal/pveapi"
)

const namespace = "proxvps"

// Recorder implements pveapi.Observer and records workflow outcomes.
type Recorder struct {
	registry  *prometheus.Registry
	requests  *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	workflows *prometheus.CounterVec
}

// New builds a Recorder on its own registry, with the Go and process
// collectors registered alongside.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hypervisor",
			Name:      "requests_total",
			Help:      "Hypervisor API calls by method, action and normalized status.",
		}, []string{"method", "action", "status"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "hypervisor",
			Name:      "request_duration_seconds",
			Help:      "Hypervisor API call latency.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"method", "action"}),
		workflows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflows_total",
			Help:      "Provisioning workflows by name and result.",
		}, []string{"workflow", "result"}),
	}
	r.registry.MustRegister(
		r.requests,
		r.latency,
		r.workflows,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// Registry exposes the underlying registry for an HTTP handler.
func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

func (r *Recorder) ObserveRequest(method, action string, status pveapi.Status, elapsed time.Duration) {
	r.requests.WithLabelValues(method, action, string(status)).Inc()
	r.latency.WithLabelValues(method, action).Observe(elapsed.Seconds())
}

// ObserveWorkflow counts one finished workflow; err decides the result label.
func (r *Recorder) ObserveWorkflow(workflow string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	r.workflows.WithLabelValues(workflow, result).Inc()
}
