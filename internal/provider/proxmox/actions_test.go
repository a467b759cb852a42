package proxmox_test

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/StealthBadger747/ProxVPS/internal/provider"
	"github.com/StealthBadger747/ProxVPS/internal/provider/proxmox"
	"github.com/StealthBadger747/ProxVPS/internal/pveapi/pvetest"
)

var _ = Describe("PerformAction", func() {
	var (
		ctx context.Context
		f   *fixture
		svc *provider.Service
	)

	BeforeEach(func() {
		ctx = context.Background()
		f = newFixture()
		svc = &provider.Service{VMID: 201, Node: "pve1", Type: "lxc", Hostname: "web01", State: provider.StateActive}
	})

	It("renames the guest on a null data reply", func() {
		f.srv.Handle("PUT", "nodes/pve1/lxc/201/config", 200, pvetest.Data(nil))

		Expect(f.p.PerformAction(ctx, f.row, svc, proxmox.ActionHostname, proxmox.ActionInput{Hostname: " Web02.Example.com "})).To(Succeed())
		Expect(svc.Hostname).To(Equal("web02.example.com"))
		Expect(f.srv.CallsTo("PUT", "nodes/pve1/lxc/201/config")[0].Form.Get("hostname")).To(Equal("web02.example.com"))
	})

	It("fails a null data action on a server error", func() {
		f.srv.Handle("PUT", "nodes/pve1/lxc/201/config", 500, pvetest.Data(nil))

		err := f.p.PerformAction(ctx, f.row, svc, proxmox.ActionHostname, proxmox.ActionInput{Hostname: "web02"})
		Expect(provider.KeyOf(err)).To(Equal(provider.KeyAPIInternal))
		Expect(svc.Hostname).To(Equal("web01"))
	})

	It("requires data from power actions", func() {
		f.srv.Handle("POST", "nodes/pve1/lxc/201/status/start", 200, pvetest.Data(nil))
		f.srv.Handle("POST", "nodes/pve1/lxc/201/status/stop", 200, pvetest.Task("pve1", "vzstop"))

		Expect(f.p.PerformAction(ctx, f.row, svc, proxmox.ActionBoot, proxmox.ActionInput{})).NotTo(Succeed())
		Expect(f.p.PerformAction(ctx, f.row, svc, proxmox.ActionStop, proxmox.ActionInput{})).To(Succeed())
	})

	It("sets the root password", func() {
		f.srv.Handle("PUT", "nodes/pve1/lxc/201/config", 200, pvetest.Data(nil))

		Expect(f.p.PerformAction(ctx, f.row, svc, proxmox.ActionPassword, proxmox.ActionInput{Password: "n3w-secret"})).To(Succeed())
		Expect(svc.Password).To(Equal("n3w-secret"))
	})

	It("mounts ISO images on qemu guests only", func() {
		err := f.p.PerformAction(ctx, f.row, svc, proxmox.ActionMountISO, proxmox.ActionInput{ISO: "local:iso/debian.iso"})
		Expect(provider.KeyOf(err)).To(Equal(provider.KeyServiceUnsupported))
		Expect(f.srv.Calls()).To(BeEmpty())

		svc.Type = "qemu"
		f.srv.Handle("PUT", "nodes/pve1/qemu/201/config", 200, pvetest.Data(nil))
		Expect(f.p.PerformAction(ctx, f.row, svc, proxmox.ActionMountISO, proxmox.ActionInput{ISO: "local:iso/debian.iso"})).To(Succeed())
		Expect(f.p.PerformAction(ctx, f.row, svc, proxmox.ActionUnmountISO, proxmox.ActionInput{})).To(Succeed())
		Expect(f.srv.CallsTo("PUT", "nodes/pve1/qemu/201/config")).To(HaveLen(2))
	})

	It("rejects bad input without calling the hypervisor", func() {
		Expect(provider.KeyOf(f.p.PerformAction(ctx, f.row, svc, proxmox.ActionPassword, proxmox.ActionInput{}))).
			To(Equal(provider.KeyRootPasswordLength))
		Expect(provider.KeyOf(f.p.PerformAction(ctx, f.row, svc, proxmox.ActionPassword, proxmox.ActionInput{Password: "short"}))).
			To(Equal(provider.KeyRootPasswordLength))
		Expect(provider.KeyOf(f.p.PerformAction(ctx, f.row, svc, proxmox.ActionHostname, proxmox.ActionInput{Hostname: "-bad-"}))).
			To(Equal(provider.KeyHostnameFormat))
		Expect(provider.KeyOf(f.p.PerformAction(ctx, f.row, svc, "reboot", proxmox.ActionInput{}))).
			To(Equal(provider.KeyServiceUnsupported))
		Expect(f.srv.Calls()).To(BeEmpty())
	})

	It("needs a configured server row", func() {
		err := f.p.PerformAction(ctx, provider.ModuleRow{}, svc, proxmox.ActionBoot, proxmox.ActionInput{})
		Expect(provider.KeyOf(err)).To(Equal(provider.KeyModuleRowMissing))
	})
})

var _ = Describe("status and console", func() {
	var (
		ctx context.Context
		f   *fixture
		svc provider.Service
	)

	BeforeEach(func() {
		ctx = context.Background()
		f = newFixture()
		svc = provider.Service{VMID: 201, Node: "pve1", Type: "qemu", State: provider.StateActive}
	})

	It("formats the runtime status for display", func() {
		f.srv.Handle("GET", "nodes/pve1/qemu/201/status/current", 200, pvetest.Data(map[string]any{
			"status":  "running",
			"vmid":    201,
			"cpu":     0.1234,
			"uptime":  90061,
			"mem":     512 * mib,
			"maxmem":  1024 * mib,
			"disk":    0,
			"maxdisk": 0,
		}))

		st, err := f.p.ServerState(ctx, f.row, svc)
		Expect(err).NotTo(HaveOccurred())
		Expect(st.Status).To(Equal("running"))
		Expect(st.CPUPercent).To(Equal(12.34))
		Expect(st.Uptime).To(Equal("1 days, 1 hours, 1 minutes"))
		Expect(st.Memory).To(Equal(proxmox.Usage{Used: "512 MiB", Total: "1.0 GiB", Percent: 50}))
		Expect(st.Disk.Percent).To(BeZero())
	})

	It("reports a missing guest as an api error", func() {
		f.srv.Handle("GET", "nodes/pve1/qemu/201/status/current", 500, pvetest.Data(nil))

		_, err := f.p.ServerState(ctx, f.row, svc)
		Expect(provider.KeyOf(err)).To(Equal(provider.KeyAPIInternal))
	})

	It("flattens the console certificate", func() {
		f.srv.Handle("POST", "nodes/pve1/qemu/201/vncproxy", 200, pvetest.Data(map[string]any{
			"user":   "root@pam",
			"ticket": "PVEVNC:abc",
			"port":   5900,
			"cert":   "-----BEGIN-----\nabc\n-----END-----",
		}))

		con, err := f.p.Console(ctx, f.row, svc)
		Expect(err).NotTo(HaveOccurred())
		Expect(con.Host).To(Equal(f.row.Host))
		Expect(con.Port).To(Equal("5900"))
		Expect(con.Ticket).To(Equal("PVEVNC:abc"))
		Expect(con.Cert).To(Equal("-----BEGIN-----|abc|-----END-----"))
	})

	It("decodes the graph image into bytes", func() {
		f.srv.Handle("GET", "nodes/pve1/qemu/201/rrd", 200, pvetest.Data(map[string]any{
			"filename": "/tmp/graph.png",
			"image":    "\u0089PNG",
		}))

		img, err := f.p.Graph(ctx, f.row, svc, "cpu", "")
		Expect(err).NotTo(HaveOccurred())
		Expect(img).To(Equal([]byte{0x89, 'P', 'N', 'G'}))
		Expect(f.srv.CallsTo("GET", "nodes/pve1/qemu/201/rrd")[0].Form.Get("timeframe")).To(Equal("day"))
	})
})

var _ = Describe("listings", func() {
	var (
		ctx context.Context
		f   *fixture
	)

	BeforeEach(func() {
		ctx = context.Background()
		f = newFixture()
		f.srv.Handle("GET", "nodes/pve1/storage/local/content", 200, pvetest.Data([]map[string]any{
			{"volid": "local:iso/ubuntu.iso", "content": "iso"},
			{"volid": "local:vztmpl/debian-12.tar.zst", "content": "vztmpl"},
			{"volid": "local:iso/alpine.iso", "content": "iso"},
			{"volid": "local:vztmpl/alpine-3.19.tar.xz", "content": "vztmpl"},
			{"volid": "local:iso/alpine.iso", "content": "iso"},
		}))
	})

	It("lists ISO volume ids sorted and unique", func() {
		isos, err := f.p.ISOs(ctx, f.row, "pve1", "local")
		Expect(err).NotTo(HaveOccurred())
		Expect(isos).To(Equal([]string{"local:iso/alpine.iso", "local:iso/ubuntu.iso"}))
	})

	It("lists template file names", func() {
		tpls, err := f.p.Templates(ctx, f.row, "pve1", "local")
		Expect(err).NotTo(HaveOccurred())
		Expect(tpls).To(Equal([]string{"alpine-3.19.tar.xz", "debian-12.tar.zst"}))
	})

	It("lists storage holding a content kind", func() {
		f.srv.Handle("GET", "nodes/pve1/storage", 200, pvetest.Data([]map[string]any{
			{"storage": "local", "content": "iso,vztmpl,backup"},
			{"storage": "local-lvm", "content": "rootdir,images"},
		}))

		names, err := f.p.NodeStorage(ctx, f.row, "pve1", "vztmpl")
		Expect(err).NotTo(HaveOccurred())
		Expect(names).To(Equal([]string{"local"}))
	})

	It("reads node statistics", func() {
		f.srv.Handle("GET", "nodes/pve1/status", 200, pvetest.NodeStatus(4*mib, 8*mib))

		snap, err := f.p.NodeStatistics(ctx, f.row, "pve1")
		Expect(err).NotTo(HaveOccurred())
		Expect(snap.Name).To(Equal("pve1"))
		Expect(snap.Memory.Free).To(Equal(uint64(4 * mib)))
	})

	It("lists the guests of a node across both kinds", func() {
		f.srv.Handle("GET", "nodes/pve1/qemu", 200, pvetest.Data([]map[string]any{
			{"vmid": 305, "name": "db", "status": "stopped"},
		}))
		f.srv.Handle("GET", "nodes/pve1/lxc", 200, pvetest.Data([]map[string]any{
			{"vmid": "201", "name": "web", "status": "running", "uptime": 90061},
		}))

		guests, err := f.p.Guests(ctx, f.row, "pve1")
		Expect(err).NotTo(HaveOccurred())
		Expect(guests).To(Equal([]proxmox.Guest{
			{VMID: "201", Name: "web", Type: "lxc", Status: "running", Running: true, Uptime: "1 days, 1 hours, 1 minutes"},
			{VMID: "305", Name: "db", Type: "qemu", Status: "stopped"},
		}))
	})

	It("lists only accounts of the provisioning realm", func() {
		f.srv.Handle("GET", "access/users", 200, pvetest.Data([]map[string]any{
			{"userid": "vmuser9@pve", "email": "b@example.com"},
			{"userid": "root@pam"},
			{"userid": "vmuser7@pve", "email": "ada@example.com", "enable": 1},
		}))

		users, err := f.p.Accounts(ctx, f.row)
		Expect(err).NotTo(HaveOccurred())
		Expect(users).To(HaveLen(2))
		Expect(users[0].UserID).To(Equal("vmuser7@pve"))
		Expect(users[0].Email).To(Equal("ada@example.com"))
		Expect(users[1].UserID).To(Equal("vmuser9@pve"))
	})

	It("classifies a failed guest listing", func() {
		f.srv.Handle("GET", "nodes/pve1/qemu", 500, pvetest.Data(nil))

		_, err := f.p.Guests(ctx, f.row, "pve1")
		Expect(provider.KeyOf(err)).To(Equal(provider.KeyAPIInternal))
	})
})
