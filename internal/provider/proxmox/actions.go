package proxmox

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/StealthBadger747/ProxVPS/internal/provider"
	"github.com/StealthBadger747/ProxVPS/internal/pveapi"
)

// Actions accepted by PerformAction.
const (
	ActionBoot       = "boot"
	ActionShutdown   = "shutdown"
	ActionStop       = "stop"
	ActionMountISO   = "mountIso"
	ActionUnmountISO = "unmountIso"
	ActionHostname   = "hostname"
	ActionPassword   = "password"
)

// ActionInput carries the argument of the actions that take one.
type ActionInput struct {
	ISO      string
	Hostname string
	Password string
}

// PerformAction runs one service action. Mount, unmount, hostname and
// password calls answer with no data, so they only fail on a transport error,
// an unreadable body or a 500. On success the hostname and password of svc
// are updated.
func (p *Provider) PerformAction(ctx context.Context, row provider.ModuleRow, svc *provider.Service, action string, in ActionInput) error {
	t, err := target(*svc)
	if err != nil {
		return err
	}

	switch action {
	case ActionMountISO, ActionUnmountISO:
		if !t.Kind.SupportsISO() {
			return provider.Errorf(provider.KeyServiceUnsupported, "%s servers cannot mount ISO images", t.Kind.Name())
		}
	case ActionHostname:
		in.Hostname = strings.ToLower(strings.TrimSpace(in.Hostname))
		if err := provider.ValidateHostname(in.Hostname); err != nil {
			return err
		}
	case ActionPassword:
		if in.Password == "" {
			return provider.Errorf(provider.KeyRootPasswordLength, "The root password must be at least %d characters in length.", provider.MinRootPasswordLength)
		}
		if err := provider.ValidateRootPassword(in.Password); err != nil {
			return err
		}
	case ActionBoot, ActionShutdown, ActionStop:
	default:
		return provider.Errorf(provider.KeyServiceUnsupported, "unknown action %q", action)
	}

	c, err := p.Dial(ctx, row)
	if err != nil {
		return err
	}
	vs := c.VServers()

	switch action {
	case ActionBoot:
		return strict(vs.Boot(ctx, t))
	case ActionShutdown:
		return strict(vs.Shutdown(ctx, t))
	case ActionStop:
		return strict(vs.Stop(ctx, t))
	case ActionMountISO:
		return nullData(vs.MountISO(ctx, t, in.ISO))
	case ActionUnmountISO:
		return nullData(vs.UnmountISO(ctx, t))
	case ActionHostname:
		if err := nullData(vs.SetHostname(ctx, t, in.Hostname)); err != nil {
			return err
		}
		svc.Hostname = in.Hostname
	case ActionPassword:
		if err := nullData(vs.SetPassword(ctx, t, in.Password)); err != nil {
			return err
		}
		svc.Password = in.Password
	}
	return nil
}

func strict(resp *pveapi.Response) error {
	if err := resp.Err(); err != nil {
		return provider.APIFailure(err)
	}
	return nil
}

func nullData(resp *pveapi.Response) error {
	if resp.Transport() != nil || resp.Status == pveapi.StatusInvalid || resp.StatusCode == http.StatusInternalServerError {
		return provider.APIFailure(resp.Err())
	}
	return nil
}

// Graph returns the PNG rendering of data source ds over timeframe; an empty
// timeframe means one day.
func (p *Provider) Graph(ctx context.Context, row provider.ModuleRow, svc provider.Service, ds, timeframe string) ([]byte, error) {
	if timeframe == "" {
		timeframe = "day"
	}
	t, err := target(svc)
	if err != nil {
		return nil, err
	}
	c, err := p.Dial(ctx, row)
	if err != nil {
		return nil, err
	}
	var img pveapi.GraphImage
	if err := c.VServers().Graph(ctx, t, ds, timeframe).Decode(&img); err != nil {
		return nil, provider.APIFailure(err)
	}
	return img.PNG(), nil
}

// Console is what a VNC client needs to attach to the guest.
type Console struct {
	Host   string `json:"host"`
	User   string `json:"user"`
	Ticket string `json:"ticket"`
	Port   string `json:"port"`
	// Cert is the PEM certificate with newlines replaced by "|".
	Cert string `json:"cert"`
}

func (p *Provider) Console(ctx context.Context, row provider.ModuleRow, svc provider.Service) (*Console, error) {
	t, err := target(svc)
	if err != nil {
		return nil, err
	}
	c, err := p.Dial(ctx, row)
	if err != nil {
		return nil, err
	}
	var vnc pveapi.VNCTicket
	if err := c.VServers().VNC(ctx, t).Decode(&vnc); err != nil {
		return nil, provider.APIFailure(err)
	}
	return &Console{
		Host:   row.Host,
		User:   vnc.User,
		Ticket: vnc.Ticket,
		Port:   vnc.Port.String(),
		Cert:   strings.ReplaceAll(vnc.Cert, "\n", "|"),
	}, nil
}

// Usage is a used/total pair rendered for display.
type Usage struct {
	Used    string  `json:"used"`
	Total   string  `json:"total"`
	Percent float64 `json:"percent"`
}

func newUsage(used, total uint64) Usage {
	denom := float64(total)
	if denom == 0 {
		denom = 1
	}
	return Usage{
		Used:    humanize.IBytes(used),
		Total:   humanize.IBytes(total),
		Percent: round2(float64(used) / denom * 100),
	}
}

// ServerState is the runtime status of a guest with display values.
type ServerState struct {
	pveapi.VMStatus
	CPUPercent float64 `json:"cpu_formatted"`
	Uptime     string  `json:"uptime_formatted"`
	Memory     Usage   `json:"mem_formatted"`
	Disk       Usage   `json:"disk_formatted"`
}

func (p *Provider) ServerState(ctx context.Context, row provider.ModuleRow, svc provider.Service) (*ServerState, error) {
	t, err := target(svc)
	if err != nil {
		return nil, err
	}
	c, err := p.Dial(ctx, row)
	if err != nil {
		return nil, err
	}
	st, err := c.VServers().CurrentStatus(ctx, t)
	if err != nil {
		return nil, provider.APIFailure(err)
	}
	return &ServerState{
		VMStatus:   *st,
		CPUPercent: round2(st.CPU * 100),
		Uptime:     formatUptime(st.Uptime),
		Memory:     newUsage(st.Mem, st.MaxMem),
		Disk:       newUsage(st.Disk, st.MaxDisk),
	}, nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func formatUptime(seconds uint64) string {
	days := seconds / 86400
	hours := (seconds % 86400) / 3600
	minutes := (seconds % 3600) / 60
	return fmt.Sprintf("%d days, %d hours, %d minutes", days, hours, minutes)
}

// ISOs lists the volume ids of ISO images in storage on node.
func (p *Provider) ISOs(ctx context.Context, row provider.ModuleRow, node, storage string) ([]string, error) {
	return p.volumes(ctx, row, node, storage, pveapi.ContentISO, func(v pveapi.StorageVolume) string { return v.VolID })
}

// Templates lists the container template file names in storage on node.
func (p *Provider) Templates(ctx context.Context, row provider.ModuleRow, node, storage string) ([]string, error) {
	return p.volumes(ctx, row, node, storage, pveapi.ContentTemplate, pveapi.StorageVolume.Basename)
}

func (p *Provider) volumes(ctx context.Context, row provider.ModuleRow, node, storage, content string, key func(pveapi.StorageVolume) string) ([]string, error) {
	c, err := p.Dial(ctx, row)
	if err != nil {
		return nil, err
	}
	vols, err := c.Nodes().Volumes(ctx, node, storage, content)
	if err != nil {
		return nil, provider.APIFailure(err)
	}
	out := make([]string, 0, len(vols))
	for _, v := range vols {
		out = append(out, key(v))
	}
	return uniqueSorted(out), nil
}

// NodeStorage lists storage names on node whose content list mentions
// content; an empty content lists every storage.
func (p *Provider) NodeStorage(ctx context.Context, row provider.ModuleRow, node, content string) ([]string, error) {
	c, err := p.Dial(ctx, row)
	if err != nil {
		return nil, err
	}
	infos, err := c.Nodes().StorageFor(ctx, node, content)
	if err != nil {
		return nil, provider.APIFailure(err)
	}
	out := make([]string, 0, len(infos))
	for _, s := range infos {
		out = append(out, s.Storage)
	}
	return uniqueSorted(out), nil
}

// Storage lists the cluster storage definitions.
func (p *Provider) Storage(ctx context.Context, row provider.ModuleRow) ([]pveapi.StorageInfo, error) {
	c, err := p.Dial(ctx, row)
	if err != nil {
		return nil, err
	}
	out, err := c.Storage().ListStorage(ctx)
	if err != nil {
		return nil, provider.APIFailure(err)
	}
	return out, nil
}

// Nodes lists the cluster nodes.
func (p *Provider) Nodes(ctx context.Context, row provider.ModuleRow) ([]pveapi.NodeSummary, error) {
	c, err := p.Dial(ctx, row)
	if err != nil {
		return nil, err
	}
	out, err := c.Nodes().ListNodes(ctx)
	if err != nil {
		return nil, provider.APIFailure(err)
	}
	return out, nil
}

// NodeStatistics returns the utilization report of node.
func (p *Provider) NodeStatistics(ctx context.Context, row provider.ModuleRow, node string) (*pveapi.NodeSnapshot, error) {
	c, err := p.Dial(ctx, row)
	if err != nil {
		return nil, err
	}
	snap, err := c.Nodes().Snapshot(ctx, node)
	if err != nil {
		return nil, provider.APIFailure(err)
	}
	return snap, nil
}

// Guest is one virtual server found on a node.
type Guest struct {
	VMID    string `json:"vmid"`
	Name    string `json:"name"`
	Type    string `json:"type"`
	Status  string `json:"status"`
	Running bool   `json:"running"`
	Uptime  string `json:"uptime,omitempty"`
}

// Guests lists the qemu and lxc guests of node ordered by vmid.
func (p *Provider) Guests(ctx context.Context, row provider.ModuleRow, node string) ([]Guest, error) {
	c, err := p.Dial(ctx, row)
	if err != nil {
		return nil, err
	}
	var out []Guest
	for _, kind := range []pveapi.VMKind{pveapi.KindQemu, pveapi.KindContainer} {
		list, err := c.Nodes().Guests(ctx, node, kind)
		if err != nil {
			return nil, provider.APIFailure(err)
		}
		for _, st := range list {
			g := Guest{VMID: st.VMID.String(), Name: st.Name, Type: kind.Name(), Status: st.Status, Running: st.Running()}
			if g.Running {
				g.Uptime = formatUptime(st.Uptime)
			}
			out = append(out, g)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, _ := strconv.Atoi(out[i].VMID)
		b, _ := strconv.Atoi(out[j].VMID)
		return a < b
	})
	return out, nil
}

// Accounts lists the hypervisor users of the provisioning realm.
func (p *Provider) Accounts(ctx context.Context, row provider.ModuleRow) ([]pveapi.User, error) {
	c, err := p.Dial(ctx, row)
	if err != nil {
		return nil, err
	}
	users, err := c.Accounts().Users(ctx)
	if err != nil {
		return nil, provider.APIFailure(err)
	}
	out := users[:0]
	for _, u := range users {
		if strings.HasSuffix(u.UserID, "@"+pveapi.Realm) {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func uniqueSorted(in []string) []string {
	sort.Strings(in)
	out := make([]string, 0, len(in))
	for _, s := range in {
		if len(out) > 0 && out[len(out)-1] == s {
			continue
		}
		out = append(out, s)
	}
	return out
}
