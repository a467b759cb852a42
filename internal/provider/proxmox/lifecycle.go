package proxmox

import (
	"context"
	"strings"

	"github.com/StealthBadger747/ProxVPS/internal/provider"
	"github.com/StealthBadger747/ProxVPS/internal/pveapi"
)

// Workflow names reported to the WorkflowObserver and in WorkflowError.
const (
	WorkflowAdd       = "add"
	WorkflowEdit      = "edit"
	WorkflowCancel    = "cancel"
	WorkflowSuspend   = "suspend"
	WorkflowUnsuspend = "unsuspend"
	WorkflowReinstall = "reinstall"
)

// templateRef is the volume id of a container template.
func templateRef(storage, name string) string {
	return storage + ":vztmpl/" + name
}

func newService(pkg provider.PackageSpec, kind pveapi.VMKind, hostname, password, username string) provider.Service {
	return provider.Service{
		Hostname:        hostname,
		Type:            kind.Name(),
		Username:        username,
		Password:        password,
		CPU:             pkg.CPU,
		MemoryMB:        pkg.MemoryMB,
		HDD:             pkg.HDD,
		Storage:         pkg.Storage,
		TemplateStorage: pkg.TemplateStorage,
		Gateway:         pkg.Gateway,
		NetSpeed:        pkg.NetSpeed,
		CPULimit:        pkg.CPULimit,
		CPUUnits:        pkg.CPUUnits,
		Unprivileged:    pkg.Unprivileged,
		SwapMB:          pkg.SwapMB,
		State:           provider.StateUnprovisioned,
	}
}

func createSpec(svc provider.Service, kind pveapi.VMKind, template string) pveapi.CreateSpec {
	return pveapi.CreateSpec{
		Kind:         kind,
		Node:         svc.Node,
		VMID:         svc.VMID,
		UserID:       svc.Username,
		Hostname:     svc.Hostname,
		Password:     svc.Password,
		Template:     template,
		Storage:      svc.Storage,
		Sockets:      svc.CPU,
		MemoryMB:     svc.MemoryMB,
		DiskGB:       svc.HDD,
		SwapMB:       svc.SwapMB,
		CPULimit:     svc.CPULimit,
		CPUUnits:     svc.CPUUnits,
		NetSpeed:     svc.NetSpeed,
		Gateway:      svc.Gateway,
		IP:           svc.IP,
		Unprivileged: svc.Unprivileged,
	}
}

// AddService validates the request, places the server, makes sure the
// client's hypervisor account exists and creates the guest. The module row is
// only advanced once the create call succeeded; the boot that follows is best
// effort.
func (p *Provider) AddService(ctx context.Context, row *provider.ModuleRow, pkg provider.PackageSpec, req provider.AddRequest) (result *provider.AddResult, err error) {
	defer func() { p.observe(WorkflowAdd, err) }()

	if row == nil {
		return nil, provider.RowMissing()
	}
	if err := provider.ValidatePackage(pkg); err != nil {
		return nil, err
	}
	hostname := strings.ToLower(strings.TrimSpace(req.Hostname))
	if err := provider.ValidateHostname(hostname); err != nil {
		return nil, err
	}
	if err := provider.ValidateRootPassword(req.Password); err != nil {
		return nil, err
	}
	kind, err := pveapi.ParseKind(pkg.Type)
	if err != nil {
		return nil, &provider.Error{Key: provider.KeyTypeValid, Message: "Please select a valid virtualization type.", Err: err}
	}

	password := req.Password
	if password == "" {
		if password, err = p.passwords(); err != nil {
			return nil, provider.APIFailure(err)
		}
	}
	svc := newService(pkg, kind, hostname, password, AccountID(req.ClientID))
	result = &provider.AddResult{Row: *row}

	if !req.UseModule {
		if len(pkg.Nodes) == 1 {
			svc.Node = pkg.Nodes[0]
		}
		result.Service = svc
		return result, nil
	}

	log := p.log.WithValues("workflow", WorkflowAdd, "server", row.Name, "hostname", hostname)

	c, err := p.Dial(ctx, *row)
	if err != nil {
		return nil, err
	}
	if svc.Node, err = p.chooseNode(ctx, c, pkg.Nodes); err != nil {
		return nil, &provider.WorkflowError{Workflow: WorkflowAdd, Step: "placement", Err: err}
	}

	res := row.Reserve()
	if p.vmidCheck {
		if res, err = freeVMID(ctx, c, res); err != nil {
			return nil, &provider.WorkflowError{Workflow: WorkflowAdd, Step: "vmid", Err: err}
		}
	}
	svc.VMID, svc.IP = res.VMID, res.IP
	if res.IP == "" {
		log.Info("ip pool is exhausted, creating without an address")
	}

	if svc.State, err = svc.State.Transition(provider.EventCreate); err != nil {
		return nil, err
	}

	if _, _, err := p.ensureAccount(ctx, c, req.ClientID); err != nil {
		return nil, &provider.WorkflowError{Workflow: WorkflowAdd, Step: "account", Err: err}
	}

	resp := c.VServers().Create(ctx, createSpec(svc, kind, templateRef(pkg.TemplateStorage, pkg.DefaultTemplate)))
	if err := resp.Err(); err != nil {
		log.Error(err, "create failed", "vmid", svc.VMID, "node", svc.Node)
		return nil, &provider.WorkflowError{Workflow: WorkflowAdd, Step: "create", Err: provider.APIFailure(err)}
	}
	svc.State, _ = svc.State.Transition(provider.EventCreated)
	result.Row = row.Commit(res)
	result.RowChanged = true
	result.Service = svc
	log.Info("created virtual server", "vmid", svc.VMID, "node", svc.Node, "ip", svc.IP)

	t := pveapi.Target{Node: svc.Node, Kind: kind, VMID: svc.VMID}
	if err := p.settle(ctx, c, t, p.delays.CreateBoot, UntilPresent); err != nil {
		log.Error(err, "skipping boot after create")
		return result, nil
	}
	if boot := c.VServers().Boot(ctx, t); !boot.OK() {
		log.Error(boot.Err(), "boot after create failed")
	}
	return result, nil
}

// EditService validates a new hostname and returns the stored fields. The
// guest itself is renamed through the hostname action.
func (p *Provider) EditService(_ context.Context, svc provider.Service, hostname string) (fields []provider.ServiceField, err error) {
	defer func() { p.observe(WorkflowEdit, err) }()

	if hostname != "" {
		if err := provider.ValidateHostname(strings.ToLower(hostname)); err != nil {
			return nil, err
		}
	}
	return svc.Fields(), nil
}

// CancelService returns the service address to the pool and destroys the
// guest. Containers are shut down first; a failed shutdown does not stop the
// termination. The returned row carries the released address even when the
// termination fails.
func (p *Provider) CancelService(ctx context.Context, row provider.ModuleRow, svc *provider.Service) (out provider.ModuleRow, err error) {
	defer func() { p.observe(WorkflowCancel, err) }()

	if !svc.State.Can(provider.EventTerminate) {
		_, err := svc.State.Transition(provider.EventTerminate)
		return row, err
	}
	out = row.Release(svc.IP)

	if svc.State == provider.StateUnprovisioned || svc.VMID == 0 {
		svc.State = provider.StateTerminated
		return out, nil
	}

	t, err := target(*svc)
	if err != nil {
		return out, err
	}
	c, err := p.Dial(ctx, row)
	if err != nil {
		return out, err
	}
	log := p.log.WithValues("workflow", WorkflowCancel, "vmid", t.VMID, "node", t.Node)

	if t.Kind.ShutdownBeforeTerminate() {
		if resp := c.VServers().Shutdown(ctx, t); !resp.OK() {
			log.Error(resp.Err(), "shutdown before terminate failed, terminating anyway")
		}
	}
	if err := p.settle(ctx, c, t, p.delays.CancelTerminate, UntilStopped); err != nil {
		return out, &provider.WorkflowError{Workflow: WorkflowCancel, Step: "settle", Err: err}
	}
	if resp := c.VServers().Terminate(ctx, t); resp.Err() != nil {
		return out, &provider.WorkflowError{Workflow: WorkflowCancel, Step: "terminate", Err: provider.APIFailure(resp.Err())}
	}
	svc.State, _ = svc.State.Transition(provider.EventTerminate)
	log.Info("terminated virtual server")
	return out, nil
}

// SuspendService shuts the guest down. Hypervisor failures are logged only so
// the host can always complete its own suspension.
func (p *Provider) SuspendService(ctx context.Context, row provider.ModuleRow, svc *provider.Service) (err error) {
	defer func() { p.observe(WorkflowSuspend, err) }()
	return p.power(ctx, row, svc, provider.EventSuspend, pveapi.VServers.Shutdown)
}

// UnsuspendService boots the guest on a best effort basis.
func (p *Provider) UnsuspendService(ctx context.Context, row provider.ModuleRow, svc *provider.Service) (err error) {
	defer func() { p.observe(WorkflowUnsuspend, err) }()
	return p.power(ctx, row, svc, provider.EventUnsuspend, pveapi.VServers.Boot)
}

func (p *Provider) power(ctx context.Context, row provider.ModuleRow, svc *provider.Service, ev provider.Event, call func(pveapi.VServers, context.Context, pveapi.Target) *pveapi.Response) error {
	next, err := svc.State.Transition(ev)
	if err != nil {
		return err
	}
	svc.State = next

	log := p.log.WithValues("event", string(ev), "vmid", svc.VMID, "node", svc.Node)
	t, err := target(*svc)
	if err != nil {
		log.Error(err, "cannot address guest")
		return nil
	}
	c, err := p.Dial(ctx, row)
	if err != nil {
		log.Error(err, "cannot reach hypervisor")
		return nil
	}
	if resp := call(c.VServers(), ctx, t); !resp.OK() {
		log.Error(resp.Err(), "power change failed")
	}
	return nil
}

// Reinstall recreates a container in place: stop, delete, recreate from the
// chosen template with the same sizing, then boot. Nothing is rolled back; a
// failed recreate leaves the service in StateFailed.
func (p *Provider) Reinstall(ctx context.Context, row provider.ModuleRow, pkg provider.PackageSpec, svc *provider.Service, req provider.ReinstallRequest) (err error) {
	defer func() { p.observe(WorkflowReinstall, err) }()

	t, err := target(*svc)
	if err != nil {
		return err
	}
	if !t.Kind.Reinstallable() {
		return provider.Errorf(provider.KeyServiceUnsupported, "%s servers cannot be reinstalled", t.Kind.Name())
	}
	template := req.Template
	if template == "" {
		template = pkg.DefaultTemplate
	}
	if err := provider.ValidateTemplate(template); err != nil {
		return err
	}
	if err := provider.ValidateRootPassword(req.Password); err != nil {
		return err
	}
	next, err := svc.State.Transition(provider.EventReinstall)
	if err != nil {
		return err
	}

	password := req.Password
	if password == "" {
		if password, err = p.passwords(); err != nil {
			return provider.APIFailure(err)
		}
	}

	c, err := p.Dial(ctx, row)
	if err != nil {
		return err
	}
	prev := svc.State
	svc.State = next
	log := p.log.WithValues("workflow", WorkflowReinstall, "vmid", t.VMID, "node", t.Node, "template", template)

	if resp := c.VServers().Stop(ctx, t); !resp.OK() {
		log.Error(resp.Err(), "stop before reinstall failed")
	}
	if err := p.settle(ctx, c, t, p.delays.ReinstallStop, UntilStopped); err != nil {
		svc.State = prev
		return &provider.WorkflowError{Workflow: WorkflowReinstall, Step: "settle", Err: err}
	}
	if resp := c.VServers().Terminate(ctx, t); resp.Err() != nil {
		svc.State = prev
		return &provider.WorkflowError{Workflow: WorkflowReinstall, Step: "terminate", Err: provider.APIFailure(resp.Err())}
	}
	if err := p.settle(ctx, c, t, p.delays.ReinstallRecreate, UntilGone); err != nil {
		svc.State, _ = svc.State.Transition(provider.EventCreateFailed)
		return &provider.WorkflowError{Workflow: WorkflowReinstall, Step: "settle", Err: err}
	}

	rebuilt := *svc
	rebuilt.Password = password
	rebuilt.TemplateStorage = pkg.TemplateStorage
	rebuilt.Unprivileged = pkg.Unprivileged
	resp := c.VServers().Create(ctx, createSpec(rebuilt, t.Kind, templateRef(pkg.TemplateStorage, template)))
	if err := resp.Err(); err != nil {
		svc.State, _ = svc.State.Transition(provider.EventCreateFailed)
		log.Error(err, "recreate failed, server is provisioned nowhere")
		return &provider.WorkflowError{Workflow: WorkflowReinstall, Step: "create", Err: provider.APIFailure(err)}
	}
	rebuilt.State, _ = rebuilt.State.Transition(provider.EventCreated)
	*svc = rebuilt
	log.Info("reinstalled virtual server")

	if err := p.settle(ctx, c, t, p.delays.ReinstallStop, UntilPresent); err != nil {
		log.Error(err, "skipping boot after reinstall")
		return nil
	}
	if boot := c.VServers().Boot(ctx, t); !boot.OK() {
		log.Error(boot.Err(), "boot after reinstall failed")
	}
	return nil
}
