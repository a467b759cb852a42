package proxmox

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-logr/logr"

	"github.com/StealthBadger747/ProxVPS/internal/provider"
	"github.com/StealthBadger747/ProxVPS/internal/pveapi"
)

// Delays bounds the waits between dependent hypervisor steps.
type Delays struct {
	// CreateBoot separates the create call from the first boot.
	CreateBoot time.Duration
	// CancelTerminate separates the shutdown of a cancelled service from its deletion.
	CancelTerminate time.Duration
	// ReinstallStop follows the stop of a reinstalled container; it is also
	// used between recreate and boot.
	ReinstallStop time.Duration
	// ReinstallRecreate follows the delete of a reinstalled container.
	ReinstallRecreate time.Duration
}

// DefaultDelays returns the historic settle times.
func DefaultDelays() Delays {
	return Delays{
		CreateBoot:        5 * time.Second,
		CancelTerminate:   5 * time.Second,
		ReinstallStop:     5 * time.Second,
		ReinstallRecreate: 10 * time.Second,
	}
}

// WorkflowObserver receives the outcome of every lifecycle workflow.
type WorkflowObserver interface {
	ObserveWorkflow(name string, err error)
}

// Provider implements provider.Provisioner against a Proxmox VE cluster. A
// client is dialled per workflow from the module row it receives, so one
// Provider serves any number of hypervisor servers.
type Provider struct {
	log        logr.Logger
	sink       pveapi.LogSink
	observer   pveapi.Observer
	workflows  WorkflowObserver
	httpClient *http.Client
	timeout    time.Duration
	failFast   bool

	customers provider.CustomerDirectory
	settler   Settler
	delays    Delays
	passwords func() (string, error)

	// vmidCheck skips ids already used in the cluster when reserving.
	vmidCheck bool
}

var _ provider.Provisioner = (*Provider)(nil)

// Option customizes a Provider.
type Option func(*Provider)

func WithLogger(l logr.Logger) Option {
	return func(p *Provider) { p.log = l }
}

// WithLogSink receives every masked request and response.
func WithLogSink(s pveapi.LogSink) Option {
	return func(p *Provider) { p.sink = s }
}

func WithObserver(o pveapi.Observer) Option {
	return func(p *Provider) { p.observer = o }
}

func WithWorkflowObserver(o WorkflowObserver) Option {
	return func(p *Provider) { p.workflows = o }
}

// WithHTTPClient replaces the HTTP client used for every dialled server.
func WithHTTPClient(hc *http.Client) Option {
	return func(p *Provider) { p.httpClient = hc }
}

func WithTimeout(d time.Duration) Option {
	return func(p *Provider) { p.timeout = d }
}

// WithFailFast aborts a workflow when the login does not return a ticket.
func WithFailFast(enabled bool) Option {
	return func(p *Provider) { p.failFast = enabled }
}

func WithCustomers(d provider.CustomerDirectory) Option {
	return func(p *Provider) { p.customers = d }
}

func WithSettler(s Settler) Option {
	return func(p *Provider) { p.settler = s }
}

func WithDelays(d Delays) Option {
	return func(p *Provider) { p.delays = d }
}

// WithPasswordGenerator replaces provider.GeneratePassword.
func WithPasswordGenerator(fn func() (string, error)) Option {
	return func(p *Provider) { p.passwords = fn }
}

// WithVMIDCollisionCheck makes AddService skip vmids that already exist in
// the cluster instead of trusting the module row counter.
func WithVMIDCollisionCheck(enabled bool) Option {
	return func(p *Provider) { p.vmidCheck = enabled }
}

// NewProvider constructs a Proxmox-backed provisioner. Without options it
// logs nowhere, polls the guest status between steps and generates passwords
// with provider.GeneratePassword.
func NewProvider(opts ...Option) *Provider {
	p := &Provider{
		log:       logr.Discard(),
		delays:    DefaultDelays(),
		passwords: provider.GeneratePassword,
		timeout:   pveapi.DefaultTimeout,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.settler == nil {
		p.settler = PollSettler{Log: p.log}
	}
	return p
}

// Dial authenticates against the server described by row.
func (p *Provider) Dial(ctx context.Context, row provider.ModuleRow) (*pveapi.Client, error) {
	if strings.TrimSpace(row.Host) == "" {
		return nil, provider.RowMissing()
	}
	opts := []pveapi.Option{
		pveapi.WithLogger(p.log.WithValues("server", row.Name, "host", row.Host)),
		pveapi.WithInsecureSkipVerify(row.InsecureSkipVerify),
		pveapi.WithTimeout(p.timeout),
		pveapi.WithFailFast(p.failFast),
	}
	if p.sink != nil {
		opts = append(opts, pveapi.WithLogSink(p.sink))
	}
	if p.observer != nil {
		opts = append(opts, pveapi.WithObserver(p.observer))
	}
	if p.httpClient != nil {
		opts = append(opts, pveapi.WithHTTPClient(p.httpClient))
	}
	c, err := pveapi.Dial(ctx, row.Host, row.Port, row.User, row.Password, opts...)
	if err != nil {
		return nil, provider.APIFailure(err)
	}
	return c, nil
}

// target addresses the guest of svc.
func target(svc provider.Service) (pveapi.Target, error) {
	kind, err := pveapi.ParseKind(svc.Type)
	if err != nil {
		return pveapi.Target{}, &provider.Error{Key: provider.KeyTypeValid, Message: "Please select a valid virtualization type.", Err: err}
	}
	return pveapi.Target{Node: svc.Node, Kind: kind, VMID: svc.VMID}, nil
}

// observe reports a finished workflow and passes err through.
func (p *Provider) observe(name string, err error) error {
	if p.workflows != nil {
		p.workflows.ObserveWorkflow(name, err)
	}
	return err
}

// settle waits at most limit for until to hold on the guest at t.
func (p *Provider) settle(ctx context.Context, c *pveapi.Client, t pveapi.Target, limit time.Duration, until Condition) error {
	probe := func(ctx context.Context) (*pveapi.VMStatus, error) {
		return c.VServers().CurrentStatus(ctx, t)
	}
	return p.settler.Settle(ctx, limit, probe, until)
}
