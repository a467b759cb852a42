package proxmox_test

import (
	"context"
	"errors"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/StealthBadger747/ProxVPS/internal/provider"
	"github.com/StealthBadger747/ProxVPS/internal/provider/proxmox"
	"github.com/StealthBadger747/ProxVPS/internal/pveapi/pvetest"
)

var _ = Describe("AddService", func() {
	var (
		ctx context.Context
		f   *fixture
		req provider.AddRequest
	)

	BeforeEach(func() {
		ctx = context.Background()
		f = newFixture()
		req = provider.AddRequest{ClientID: "7", Hostname: "Web01.Example.com", UseModule: true}
	})

	Context("placement", func() {
		It("skips nodes below the floor once a better node was seen", func() {
			f.srv.Handle("GET", "nodes/A/status", 200, pvetest.NodeStatus(2*mib, 2*mib))
			f.srv.Handle("GET", "nodes/B/status", 200, pvetest.NodeStatus(5*mib, mib/2))
			f.srv.Handle("GET", "nodes/C/status", 200, pvetest.NodeStatus(3*mib, 3*mib))
			f.accountExists("vmuser7")
			f.guestRoutes("C", "lxc", "200")

			res, err := f.p.AddService(ctx, &f.row, containerPackage("A", "B", "C"), req)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Service.Node).To(Equal("C"))
			Expect(f.srv.CallsTo("POST", "nodes/C/lxc")).To(HaveLen(1))
		})

		It("returns a lone candidate without reading its statistics", func() {
			f.accountExists("vmuser7")
			f.guestRoutes("B", "lxc", "200")

			res, err := f.p.AddService(ctx, &f.row, containerPackage("B"), req)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Service.Node).To(Equal("B"))
			Expect(f.srv.CallsTo("GET", "nodes/B/status")).To(BeEmpty())
		})

		It("keeps the first node on equal scores", func() {
			f.srv.Handle("GET", "nodes/A/status", 200, pvetest.NodeStatus(4*mib, 4*mib))
			f.srv.Handle("GET", "nodes/B/status", 200, pvetest.NodeStatus(4*mib, 4*mib))
			f.accountExists("vmuser7")
			f.guestRoutes("A", "lxc", "200")

			res, err := f.p.AddService(ctx, &f.row, containerPackage("A", "B"), req)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Service.Node).To(Equal("A"))
		})
	})

	Context("allocation", func() {
		BeforeEach(func() {
			f.accountExists("vmuser7")
			f.guestRoutes("pve1", "lxc", "200")
		})

		It("applies the vmid floor and consumes the head of the pool", func() {
			f.row.VMID = 150

			res, err := f.p.AddService(ctx, &f.row, containerPackage("pve1"), req)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Service.VMID).To(Equal(200))
			Expect(res.Service.IP).To(Equal("10.0.0.2"))
			Expect(res.Service.Hostname).To(Equal("web01.example.com"))
			Expect(res.Service.State).To(Equal(provider.StateActive))
			Expect(res.RowChanged).To(BeTrue())
			Expect(res.Row.VMID).To(Equal(201))
			Expect(res.Row.IPs).To(Equal([]string{"10.0.0.3"}))
			Expect(f.row.VMID).To(Equal(150), "the caller's row is not mutated")

			create := f.srv.CallsTo("POST", "nodes/pve1/lxc")[0]
			Expect(create.Form.Get("vmid")).To(Equal("200"))
			Expect(create.Form.Get("ostemplate")).To(Equal("local:vztmpl/debian-12-standard_12.2-1_amd64.tar.zst"))
			Expect(create.Form.Get("net0")).To(ContainSubstring("ip=10.0.0.2/32"))
			Expect(create.Form.Get("password")).To(Equal(generatedSecret))
		})

		It("keeps ids at or above the floor", func() {
			f.row.VMID = 305
			f.guestRoutes("pve1", "lxc", "305")

			res, err := f.p.AddService(ctx, &f.row, containerPackage("pve1"), req)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Service.VMID).To(Equal(305))
			Expect(res.Row.VMID).To(Equal(306))
		})

		It("boots the new guest after creating it", func() {
			_, err := f.p.AddService(ctx, &f.row, containerPackage("pve1"), req)
			Expect(err).NotTo(HaveOccurred())
			Expect(f.srv.Routes()).To(Equal([]string{
				"GET access/users/vmuser7@pve",
				"POST nodes/pve1/lxc",
				"PUT access/acl",
				"POST nodes/pve1/lxc/200/status/start",
			}))
		})

		It("does not advance the row when the create call fails", func() {
			f.srv.Handle("POST", "nodes/pve1/lxc", 500, pvetest.Data(nil))

			res, err := f.p.AddService(ctx, &f.row, containerPackage("pve1"), req)
			Expect(res).To(BeNil())
			Expect(provider.KeyOf(err)).To(Equal(provider.KeyAPIInternal))

			var wf *provider.WorkflowError
			Expect(errors.As(err, &wf)).To(BeTrue())
			Expect(wf.Step).To(Equal("create"))
			Expect(f.srv.CallsTo("POST", "nodes/pve1/lxc/200/status/start")).To(BeEmpty())
			Expect(f.workflows.Entries()).To(Equal([]string{"add:error"}))
		})

		It("skips vmids already used in the cluster when asked to", func() {
			f = newFixture(proxmox.WithVMIDCollisionCheck(true))
			f.accountExists("vmuser7")
			f.guestRoutes("pve1", "lxc", "202")
			f.srv.Handle("GET", "cluster/resources", 200, pvetest.Data([]map[string]any{
				{"id": "lxc/200", "type": "lxc", "vmid": 200, "node": "pve1"},
				{"id": "qemu/201", "type": "qemu", "vmid": 201, "node": "pve2"},
			}))

			res, err := f.p.AddService(ctx, &f.row, containerPackage("pve1"), req)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Service.VMID).To(Equal(202))
			Expect(res.Row.VMID).To(Equal(203))
		})
	})

	Context("accounts", func() {
		BeforeEach(func() {
			f.row.IPs = []string{"10.0.0.2", "10.0.0.3", "10.0.0.4"}
			f.srv.Handle("POST", "access/users", 200, pvetest.Data(nil))
			f.guestRoutes("pve1", "lxc", "200")
			f.guestRoutes("pve1", "lxc", "201")
		})

		It("creates a missing account exactly once", func() {
			f.srv.Sequence("GET", "access/users/vmuser7@pve",
				pvetest.Reply{Status: 500, Body: pvetest.Data(nil)},
				pvetest.Reply{Body: pvetest.Data(map[string]any{"userid": "vmuser7@pve"})},
			)

			first, err := f.p.AddService(ctx, &f.row, containerPackage("pve1"), req)
			Expect(err).NotTo(HaveOccurred())
			_, err = f.p.AddService(ctx, &first.Row, containerPackage("pve1"), req)
			Expect(err).NotTo(HaveOccurred())

			creates := f.srv.CallsTo("POST", "access/users")
			Expect(creates).To(HaveLen(1))
			Expect(creates[0].Form.Get("userid")).To(Equal("vmuser7@pve"))
			Expect(creates[0].Form.Get("email")).To(Equal("ada@example.com"))
			Expect(creates[0].Form.Get("firstname")).To(Equal("Ada"))
			Expect(f.srv.CallsTo("GET", "access/users/vmuser7@pve")).To(HaveLen(3))
		})

		It("blocks on a transport failure and does not create on retry", func() {
			f.srv.Sequence("GET", "access/users/vmuser7@pve",
				pvetest.Reply{Body: ""},
				pvetest.Reply{Body: pvetest.Data(map[string]any{"userid": "vmuser7@pve"})},
			)

			_, err := f.p.AddService(ctx, &f.row, containerPackage("pve1"), req)
			Expect(provider.KeyOf(err)).To(Equal(provider.KeyAPIInternal))
			Expect(f.srv.CallsTo("POST", "nodes/pve1/lxc")).To(BeEmpty())

			_, err = f.p.AddService(ctx, &f.row, containerPackage("pve1"), req)
			Expect(err).NotTo(HaveOccurred())
			Expect(f.srv.CallsTo("POST", "access/users")).To(BeEmpty())
		})

		It("reports an account that is still missing after create", func() {
			f.srv.Handle("GET", "access/users/vmuser7@pve", 500, pvetest.Data(nil))

			_, err := f.p.AddService(ctx, &f.row, containerPackage("pve1"), req)
			Expect(provider.KeyOf(err)).To(Equal(provider.KeyCreateClient))
			Expect(f.srv.CallsTo("POST", "access/users")).To(HaveLen(1))
			Expect(f.srv.CallsTo("POST", "nodes/pve1/lxc")).To(BeEmpty())
		})
	})

	Context("without the module", func() {
		It("records the service without calling the hypervisor", func() {
			req.UseModule = false

			res, err := f.p.AddService(ctx, &f.row, containerPackage("pve1"), req)
			Expect(err).NotTo(HaveOccurred())
			Expect(f.srv.Calls()).To(BeEmpty())
			Expect(res.RowChanged).To(BeFalse())
			Expect(res.Service.VMID).To(BeZero())
			Expect(res.Service.Node).To(Equal("pve1"))
			Expect(res.Service.Username).To(Equal("vmuser7"))
			Expect(res.Service.State).To(Equal(provider.StateUnprovisioned))
		})
	})

	Context("validation", func() {
		It("rejects bad input before any call", func() {
			req.Hostname = "not a host"
			_, err := f.p.AddService(ctx, &f.row, containerPackage("pve1"), req)
			Expect(provider.KeyOf(err)).To(Equal(provider.KeyHostnameFormat))

			_, err = f.p.AddService(ctx, &f.row, containerPackage(), provider.AddRequest{ClientID: "7", Hostname: "web", UseModule: true})
			Expect(provider.KeyOf(err)).To(Equal(provider.KeyNodesEmpty))

			_, err = f.p.AddService(ctx, nil, containerPackage("pve1"), req)
			Expect(provider.KeyOf(err)).To(Equal(provider.KeyModuleRowMissing))
			Expect(f.srv.Calls()).To(BeEmpty())
		})
	})
})

var _ = Describe("CancelService", func() {
	var (
		ctx context.Context
		f   *fixture
	)

	BeforeEach(func() {
		ctx = context.Background()
		f = newFixture()
	})

	It("shuts a container down before deleting it", func() {
		f.guestRoutes("pve1", "lxc", "201")
		svc := &provider.Service{VMID: 201, Node: "pve1", Type: "lxc", IP: "10.0.0.9", State: provider.StateActive}

		row, err := f.p.CancelService(ctx, f.row, svc)
		Expect(err).NotTo(HaveOccurred())
		Expect(f.srv.Routes()).To(Equal([]string{
			"POST nodes/pve1/lxc/201/status/shutdown",
			"POST nodes/pve1/lxc/201/status/stop",
			"DELETE nodes/pve1/lxc/201",
		}))
		Expect(row.IPs).To(Equal([]string{"10.0.0.2", "10.0.0.3", "10.0.0.9"}))
		Expect(svc.State).To(Equal(provider.StateTerminated))
	})

	It("deletes a qemu guest without a graceful shutdown", func() {
		f.guestRoutes("pve1", "qemu", "201")
		svc := &provider.Service{VMID: 201, Node: "pve1", Type: "qemu", State: provider.StateSuspended}

		_, err := f.p.CancelService(ctx, f.row, svc)
		Expect(err).NotTo(HaveOccurred())
		Expect(f.srv.Routes()).To(Equal([]string{
			"POST nodes/pve1/qemu/201/status/stop",
			"DELETE nodes/pve1/qemu/201",
		}))
	})

	It("terminates even when the shutdown fails and surfaces delete errors", func() {
		f.srv.Handle("POST", "nodes/pve1/lxc/201/status/shutdown", 500, pvetest.Data(nil))
		f.srv.Handle("DELETE", "nodes/pve1/lxc/201", 500, pvetest.Data(nil))
		svc := &provider.Service{VMID: 201, Node: "pve1", Type: "lxc", IP: "10.0.0.9", State: provider.StateActive}

		row, err := f.p.CancelService(ctx, f.row, svc)
		Expect(provider.KeyOf(err)).To(Equal(provider.KeyAPIInternal))
		Expect(f.srv.CallsTo("DELETE", "nodes/pve1/lxc/201")).To(HaveLen(1))
		Expect(row.IPs).To(ContainElement("10.0.0.9"), "the address is released even on error")
		Expect(svc.State).To(Equal(provider.StateActive))
	})

	It("returns the address only once when a failed cancel is retried", func() {
		f.guestRoutes("pve1", "lxc", "201")
		f.srv.Sequence("DELETE", "nodes/pve1/lxc/201",
			pvetest.Reply{Status: 500, Body: pvetest.Data(nil)},
			pvetest.Reply{Body: pvetest.Task("pve1", "vzdestroy")},
		)
		svc := &provider.Service{VMID: 201, Node: "pve1", Type: "lxc", IP: "10.0.0.9", State: provider.StateActive}

		row, err := f.p.CancelService(ctx, f.row, svc)
		Expect(provider.KeyOf(err)).To(Equal(provider.KeyAPIInternal))
		Expect(svc.State).To(Equal(provider.StateActive))

		row, err = f.p.CancelService(ctx, row, svc)
		Expect(err).NotTo(HaveOccurred())
		Expect(svc.State).To(Equal(provider.StateTerminated))
		Expect(row.IPs).To(Equal([]string{"10.0.0.2", "10.0.0.3", "10.0.0.9"}))
		Expect(f.srv.CallsTo("DELETE", "nodes/pve1/lxc/201")).To(HaveLen(2))
	})

	It("skips the hypervisor for services that were never provisioned", func() {
		svc := &provider.Service{Type: "lxc", State: provider.StateUnprovisioned}

		_, err := f.p.CancelService(ctx, f.row, svc)
		Expect(err).NotTo(HaveOccurred())
		Expect(f.srv.Calls()).To(BeEmpty())
		Expect(svc.State).To(Equal(provider.StateTerminated))
	})

	It("refuses to cancel twice", func() {
		svc := &provider.Service{VMID: 201, Node: "pve1", Type: "lxc", IP: "10.0.0.9", State: provider.StateTerminated}

		row, err := f.p.CancelService(ctx, f.row, svc)
		Expect(provider.KeyOf(err)).To(Equal(provider.KeyStateTransition))
		Expect(row.IPs).To(Equal(f.row.IPs))
	})
})

var _ = Describe("SuspendService and UnsuspendService", func() {
	It("swallows hypervisor failures", func() {
		ctx := context.Background()
		f := newFixture()
		f.srv.Handle("POST", "nodes/pve1/lxc/201/status/shutdown", 500, pvetest.Data(nil))
		svc := &provider.Service{VMID: 201, Node: "pve1", Type: "lxc", State: provider.StateActive}

		Expect(f.p.SuspendService(ctx, f.row, svc)).To(Succeed())
		Expect(svc.State).To(Equal(provider.StateSuspended))
		Expect(f.srv.CallsTo("POST", "nodes/pve1/lxc/201/status/shutdown")).To(HaveLen(1))

		Expect(f.p.UnsuspendService(ctx, f.row, svc)).To(Succeed())
		Expect(svc.State).To(Equal(provider.StateActive))
		Expect(f.srv.CallsTo("POST", "nodes/pve1/lxc/201/status/start")).To(HaveLen(1))
		Expect(f.workflows.Entries()).To(Equal([]string{"suspend:ok", "unsuspend:ok"}))
	})

	It("rejects unsuspending an active service", func() {
		f := newFixture()
		svc := &provider.Service{VMID: 201, Node: "pve1", Type: "lxc", State: provider.StateActive}

		err := f.p.UnsuspendService(context.Background(), f.row, svc)
		Expect(provider.KeyOf(err)).To(Equal(provider.KeyStateTransition))
		Expect(f.srv.Calls()).To(BeEmpty())
	})
})

var _ = Describe("Reinstall", func() {
	var (
		ctx context.Context
		f   *fixture
		svc *provider.Service
		pkg provider.PackageSpec
	)

	BeforeEach(func() {
		ctx = context.Background()
		f = newFixture()
		pkg = containerPackage("pve1")
		pkg.Unprivileged = true
		svc = &provider.Service{
			VMID: 201, Node: "pve1", Type: "lxc", IP: "10.0.0.9", Hostname: "web01",
			Username: "vmuser7", Password: "old-password", CPU: 2, MemoryMB: 1024, HDD: 10,
			Storage: "local-lvm", TemplateStorage: "local", State: provider.StateSuspended,
		}
	})

	It("stops, deletes, recreates and boots the container in order", func() {
		f.guestRoutes("pve1", "lxc", "201")

		err := f.p.Reinstall(ctx, f.row, pkg, svc, provider.ReinstallRequest{Template: "alpine-3.19.tar.xz", Password: "fresh-pass"})
		Expect(err).NotTo(HaveOccurred())
		Expect(f.srv.Routes()).To(Equal([]string{
			"POST nodes/pve1/lxc/201/status/stop",
			"POST nodes/pve1/lxc/201/status/stop",
			"DELETE nodes/pve1/lxc/201",
			"POST nodes/pve1/lxc",
			"PUT access/acl",
			"POST nodes/pve1/lxc/201/status/start",
		}))

		create := f.srv.CallsTo("POST", "nodes/pve1/lxc")[0]
		Expect(create.Form.Get("ostemplate")).To(Equal("local:vztmpl/alpine-3.19.tar.xz"))
		Expect(create.Form.Get("hostname")).To(Equal("web01"))
		Expect(create.Form.Get("unprivileged")).To(Equal("1"))
		Expect(create.Form.Get("password")).To(Equal("fresh-pass"))
		Expect(svc.State).To(Equal(provider.StateActive))
		Expect(svc.Password).To(Equal("fresh-pass"))
	})

	It("falls back to the package template and a generated password", func() {
		f.guestRoutes("pve1", "lxc", "201")

		Expect(f.p.Reinstall(ctx, f.row, pkg, svc, provider.ReinstallRequest{})).To(Succeed())
		create := f.srv.CallsTo("POST", "nodes/pve1/lxc")[0]
		Expect(create.Form.Get("ostemplate")).To(Equal("local:vztmpl/" + pkg.DefaultTemplate))
		Expect(create.Form.Get("password")).To(Equal(generatedSecret))
	})

	It("leaves the service failed when the recreate fails", func() {
		f.guestRoutes("pve1", "lxc", "201")
		f.srv.Handle("POST", "nodes/pve1/lxc", 500, pvetest.Data(nil))

		err := f.p.Reinstall(ctx, f.row, pkg, svc, provider.ReinstallRequest{Template: "alpine-3.19.tar.xz"})
		Expect(provider.KeyOf(err)).To(Equal(provider.KeyAPIInternal))
		Expect(svc.State).To(Equal(provider.StateFailed))
		Expect(f.srv.CallsTo("POST", "nodes/pve1/lxc/201/status/start")).To(BeEmpty())
	})

	It("aborts before recreating when the delete fails", func() {
		f.guestRoutes("pve1", "lxc", "201")
		f.srv.Handle("DELETE", "nodes/pve1/lxc/201", 500, pvetest.Data(nil))

		err := f.p.Reinstall(ctx, f.row, pkg, svc, provider.ReinstallRequest{})
		var wf *provider.WorkflowError
		Expect(errors.As(err, &wf)).To(BeTrue())
		Expect(wf.Step).To(Equal("terminate"))
		Expect(svc.State).To(Equal(provider.StateSuspended))
		Expect(f.srv.CallsTo("POST", "nodes/pve1/lxc")).To(BeEmpty())
	})

	It("only reinstalls containers", func() {
		svc.Type = "qemu"
		err := f.p.Reinstall(ctx, f.row, pkg, svc, provider.ReinstallRequest{})
		Expect(provider.KeyOf(err)).To(Equal(provider.KeyServiceUnsupported))
		Expect(f.srv.Calls()).To(BeEmpty())
	})

	It("validates the template and password first", func() {
		err := f.p.Reinstall(ctx, f.row, pkg, svc, provider.ReinstallRequest{Template: "bad template"})
		Expect(provider.KeyOf(err)).To(Equal(provider.KeyTemplateValid))
		err = f.p.Reinstall(ctx, f.row, pkg, svc, provider.ReinstallRequest{Password: "abc"})
		Expect(provider.KeyOf(err)).To(Equal(provider.KeyRootPasswordLength))
		Expect(f.srv.Calls()).To(BeEmpty())
	})
})

var _ = Describe("credential masking", func() {
	It("never hands a password to the log sink", func() {
		ctx := context.Background()
		f := newFixture()
		f.srv.Handle("POST", "access/users", 200, pvetest.Data(nil))
		f.srv.Sequence("GET", "access/users/vmuser7@pve",
			pvetest.Reply{Status: 500, Body: pvetest.Data(nil)},
			pvetest.Reply{Body: pvetest.Data(map[string]any{"userid": "vmuser7@pve"})},
		)
		f.guestRoutes("pve1", "lxc", "200")
		f.srv.Handle("PUT", "nodes/pve1/lxc/200/config", 200, pvetest.Data(nil))

		res, err := f.p.AddService(ctx, &f.row, containerPackage("pve1"), provider.AddRequest{ClientID: "7", Hostname: "web", UseModule: true})
		Expect(err).NotTo(HaveOccurred())
		svc := res.Service
		Expect(f.p.PerformAction(ctx, res.Row, &svc, proxmox.ActionPassword, proxmox.ActionInput{Password: "Sup3r-Secret"})).To(Succeed())

		records := f.sink.Records()
		Expect(records).NotTo(BeEmpty())
		masked := map[string]bool{}
		for _, r := range records {
			for _, secret := range []string{generatedSecret, rowSecret, "Sup3r-Secret", pvetest.Ticket, pvetest.CSRFToken} {
				Expect(r.Payload).NotTo(ContainSubstring(secret), "record %s %s", r.Tag, r.Direction)
			}
			if strings.Contains(r.Payload, "***") {
				masked[r.Tag[strings.Index(r.Tag, "|")+1:]] = true
			}
		}
		Expect(masked).To(HaveKey("access-ticket"))
		Expect(masked).To(HaveKey("client-create"))
		Expect(masked).To(HaveKey("vserver-create"))
		Expect(masked).To(HaveKey("vserver-password"))
	})
})
