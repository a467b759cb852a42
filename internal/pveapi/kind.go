package pveapi

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// VMKind is the closed set of virtualization backends: Qemu and Container.
type VMKind interface {
	// Name is the path segment used by the API ("qemu" or "lxc").
	Name() string
	SupportsISO() bool
	Reinstallable() bool
	// ShutdownBeforeTerminate reports whether a graceful shutdown precedes
	// deletion of the guest.
	ShutdownBeforeTerminate() bool

	createRequests(spec CreateSpec) []Request
}

var (
	KindQemu      VMKind = Qemu{}
	KindContainer VMKind = Container{}
)

// ParseKind maps a package type onto a VMKind.
func ParseKind(s string) (VMKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "qemu":
		return KindQemu, nil
	case "lxc":
		return KindContainer, nil
	}
	return nil, fmt.Errorf("unknown virtualization type %q", s)
}

// CreateSpec is everything needed to create one guest.
type CreateSpec struct {
	Kind         VMKind
	Node         string
	VMID         int
	UserID       string
	Hostname     string
	Password     string
	Template     string
	Storage      string
	Sockets      int
	MemoryMB     int
	DiskGB       int
	SwapMB       int
	CPULimit     int
	CPUUnits     int
	NetSpeed     int
	Gateway      string
	IP           string
	Unprivileged bool
}

// Qemu is a full virtual machine. Creation is a three call sequence: the VM
// shell, a disk volume and the disk attachment.
type Qemu struct{}

func (Qemu) Name() string                  { return "qemu" }
func (Qemu) SupportsISO() bool             { return true }
func (Qemu) Reinstallable() bool           { return false }
func (Qemu) ShutdownBeforeTerminate() bool { return false }

func (Qemu) createRequests(spec CreateSpec) []Request {
	vmid := strconv.Itoa(spec.VMID)
	disk := "root_" + vmid + ".qcow2"

	net0 := "virtio,bridge=vmbr0"
	if spec.NetSpeed > 0 {
		net0 += ",rate=" + strconv.Itoa(spec.NetSpeed)
	}

	return []Request{
		{
			Action: "vserver-create",
			Method: http.MethodPost,
			Path:   "nodes/" + spec.Node + "/qemu",
			Params: url.Values{
				"vmid":    {vmid},
				"sockets": {strconv.Itoa(spec.Sockets)},
				"memory":  {strconv.Itoa(spec.MemoryMB)},
				"storage": {spec.Storage},
				"net0":    {net0},
				"onboot":  {"1"},
			},
		},
		{
			Action: "vserver-disk-alloc",
			Method: http.MethodPost,
			Path:   "nodes/" + spec.Node + "/storage/" + spec.Storage + "/content",
			Params: url.Values{
				"vmid":     {vmid},
				"size":     {strconv.Itoa(spec.DiskGB) + "G"},
				"filename": {disk},
			},
		},
		{
			Action: "vserver-disk-attach",
			Method: http.MethodPut,
			Path:   "nodes/" + spec.Node + "/qemu/" + vmid + "/config",
			Params: url.Values{
				"virtio0": {spec.Storage + ":" + vmid + "/" + disk},
			},
		},
	}
}

// Container is an LXC guest, created in a single call.
type Container struct{}

func (Container) Name() string                  { return "lxc" }
func (Container) SupportsISO() bool             { return false }
func (Container) Reinstallable() bool           { return true }
func (Container) ShutdownBeforeTerminate() bool { return true }

func (Container) createRequests(spec CreateSpec) []Request {
	params := url.Values{
		"unprivileged": {boolFlag(spec.Unprivileged)},
		"vmid":         {strconv.Itoa(spec.VMID)},
		"ostemplate":   {spec.Template},
		"cores":        {strconv.Itoa(spec.Sockets)},
		"memory":       {strconv.Itoa(spec.MemoryMB)},
		"rootfs":       {spec.Storage + ":" + strconv.Itoa(spec.DiskGB)},
		"storage":      {spec.Storage},
		"hostname":     {spec.Hostname},
		"password":     {spec.Password},
		"net0":         {containerNet(spec)},
		"onboot":       {"0"},
	}
	if spec.SwapMB > 0 {
		params.Set("swap", strconv.Itoa(spec.SwapMB))
	}
	if spec.CPULimit > 0 {
		params.Set("cpulimit", strconv.Itoa(spec.CPULimit))
	}
	if spec.CPUUnits > 0 {
		params.Set("cpuunits", strconv.Itoa(spec.CPUUnits))
	}

	return []Request{{
		Action: "vserver-create",
		Method: http.MethodPost,
		Path:   "nodes/" + spec.Node + "/lxc",
		Params: params,
	}}
}

// containerNet composes the net0 descriptor; rate, gateway and address are
// appended only when set.
func containerNet(spec CreateSpec) string {
	var b strings.Builder
	b.WriteString("name=eth0,bridge=vmbr0,type=veth,firewall=1")
	if spec.NetSpeed > 0 {
		b.WriteString(",rate=" + strconv.Itoa(spec.NetSpeed))
	}
	if spec.Gateway != "" {
		b.WriteString(",gw=" + spec.Gateway)
	}
	if spec.IP != "" {
		b.WriteString(",ip=" + spec.IP + "/32")
	}
	return b.String()
}

func boolFlag(v bool) string {
	if v {
		return "1"
	}
	return "0"
}
