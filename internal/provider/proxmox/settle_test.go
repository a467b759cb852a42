package proxmox_test

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/StealthBadger747/ProxVPS/internal/provider/proxmox"
	"github.com/StealthBadger747/ProxVPS/internal/pveapi"
)

var _ = Describe("Settlers", func() {
	status := func(s string) proxmox.Probe {
		return func(context.Context) (*pveapi.VMStatus, error) {
			return &pveapi.VMStatus{Status: s}, nil
		}
	}

	Describe("conditions", func() {
		transport := &pveapi.TransportError{Err: errors.New("connection refused")}
		rejected := &pveapi.APIError{Status: pveapi.StatusError, StatusCode: 500}

		It("treats transport failures as unsettled", func() {
			Expect(proxmox.UntilStopped(nil, transport)).To(BeFalse())
			Expect(proxmox.UntilGone(nil, transport)).To(BeFalse())
			Expect(proxmox.UntilPresent(nil, transport)).To(BeFalse())
		})

		It("accepts a rejected status query as stopped and gone", func() {
			Expect(proxmox.UntilStopped(nil, rejected)).To(BeTrue())
			Expect(proxmox.UntilGone(nil, rejected)).To(BeTrue())
		})

		It("reads the runtime status", func() {
			Expect(proxmox.UntilStopped(&pveapi.VMStatus{Status: "stopped"}, nil)).To(BeTrue())
			Expect(proxmox.UntilStopped(&pveapi.VMStatus{Status: "running"}, nil)).To(BeFalse())
			Expect(proxmox.UntilPresent(&pveapi.VMStatus{Status: "running"}, nil)).To(BeTrue())
		})
	})

	Describe("PollSettler", func() {
		It("returns on the first satisfied probe", func() {
			calls := 0
			probe := func(ctx context.Context) (*pveapi.VMStatus, error) {
				calls++
				return status("stopped")(ctx)
			}
			start := time.Now()
			err := proxmox.PollSettler{InitialInterval: 5 * time.Millisecond}.
				Settle(context.Background(), 5*time.Second, probe, proxmox.UntilStopped)
			Expect(err).NotTo(HaveOccurred())
			Expect(calls).To(Equal(1))
			Expect(time.Since(start)).To(BeNumerically("<", time.Second))
		})

		It("keeps probing until the condition holds", func() {
			calls := 0
			probe := func(ctx context.Context) (*pveapi.VMStatus, error) {
				calls++
				if calls < 3 {
					return status("running")(ctx)
				}
				return status("stopped")(ctx)
			}
			err := proxmox.PollSettler{InitialInterval: time.Millisecond}.
				Settle(context.Background(), 5*time.Second, probe, proxmox.UntilStopped)
			Expect(err).NotTo(HaveOccurred())
			Expect(calls).To(Equal(3))
		})

		It("gives up silently once the limit elapses", func() {
			start := time.Now()
			err := proxmox.PollSettler{InitialInterval: 5 * time.Millisecond}.
				Settle(context.Background(), 60*time.Millisecond, status("running"), proxmox.UntilStopped)
			Expect(err).NotTo(HaveOccurred())
			Expect(time.Since(start)).To(BeNumerically("<", time.Second))
		})

		It("cuts a slow status query off at the limit", func() {
			probe := func(ctx context.Context) (*pveapi.VMStatus, error) {
				select {
				case <-ctx.Done():
					return nil, &pveapi.TransportError{Err: ctx.Err()}
				case <-time.After(10 * time.Second):
					return &pveapi.VMStatus{Status: "stopped"}, nil
				}
			}
			start := time.Now()
			err := proxmox.PollSettler{InitialInterval: 5 * time.Millisecond}.
				Settle(context.Background(), 50*time.Millisecond, probe, proxmox.UntilStopped)
			Expect(err).NotTo(HaveOccurred())
			Expect(time.Since(start)).To(BeNumerically("<", 2*time.Second))
		})

		It("reports cancellation", func() {
			ctx, cancel := context.WithCancel(context.Background())
			cancel()
			err := proxmox.PollSettler{}.Settle(ctx, time.Second, status("running"), proxmox.UntilStopped)
			Expect(err).To(MatchError(context.Canceled))
		})

		It("does not probe without a delay", func() {
			probe := func(context.Context) (*pveapi.VMStatus, error) {
				Fail("probe must not run")
				return nil, nil
			}
			Expect(proxmox.PollSettler{}.Settle(context.Background(), 0, probe, proxmox.UntilStopped)).To(Succeed())
		})
	})

	Describe("FixedSettler", func() {
		It("waits the full delay", func() {
			start := time.Now()
			Expect(proxmox.FixedSettler{}.Settle(context.Background(), 20*time.Millisecond, nil, nil)).To(Succeed())
			Expect(time.Since(start)).To(BeNumerically(">=", 20*time.Millisecond))
		})

		It("stops early on cancellation", func() {
			ctx, cancel := context.WithCancel(context.Background())
			cancel()
			Expect(proxmox.FixedSettler{}.Settle(ctx, time.Hour, nil, nil)).To(MatchError(context.Canceled))
		})
	})
})
