package pveapi

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
)

// Target addresses one guest.
type Target struct {
	Node string
	Kind VMKind
	VMID int
}

func (t Target) path(suffix string) string {
	p := "nodes/" + t.Node + "/" + t.Kind.Name() + "/" + strconv.Itoa(t.VMID)
	if suffix != "" {
		p += "/" + suffix
	}
	return p
}

// VServers groups the guest commands. None of them retry.
type VServers struct {
	c *Client
}

func (c *Client) VServers() VServers { return VServers{c: c} }

// Create issues the kind-specific create sequence followed by the ACL grant
// for the owning account. The grant is always the last call. The returned
// response is the one of the guest create call.
func (v VServers) Create(ctx context.Context, spec CreateSpec) *Response {
	var first *Response
	for _, req := range spec.Kind.createRequests(spec) {
		resp := v.c.Submit(ctx, req)
		if first == nil {
			first = resp
		}
	}
	v.c.Accounts().GrantVM(ctx, spec.UserID, spec.VMID, VMUserRole)
	return first
}

func (v VServers) Status(ctx context.Context, t Target) *Response {
	return v.c.Submit(ctx, Request{Action: "vserver-status", Path: t.path("status/current")})
}

// Exists is true when the status query succeeds.
func (v VServers) Exists(ctx context.Context, t Target) bool {
	return v.Status(ctx, t).OK()
}

// CurrentStatus decodes the runtime status.
func (v VServers) CurrentStatus(ctx context.Context, t Target) (*VMStatus, error) {
	var out VMStatus
	if err := v.Status(ctx, t).Decode(&out); err != nil {
		return nil, fmt.Errorf("status of %d: %w", t.VMID, err)
	}
	return &out, nil
}

// Shutdown requests a graceful shutdown that falls back to a forced stop.
func (v VServers) Shutdown(ctx context.Context, t Target) *Response {
	return v.c.Submit(ctx, Request{
		Action: "vserver-shutdown",
		Method: http.MethodPost,
		Path:   t.path("status/shutdown"),
		Params: url.Values{"forceStop": {"1"}},
	})
}

func (v VServers) Stop(ctx context.Context, t Target) *Response {
	return v.c.Submit(ctx, Request{Action: "vserver-stop", Method: http.MethodPost, Path: t.path("status/stop")})
}

func (v VServers) Boot(ctx context.Context, t Target) *Response {
	return v.c.Submit(ctx, Request{Action: "vserver-boot", Method: http.MethodPost, Path: t.path("status/start")})
}

func (v VServers) Delete(ctx context.Context, t Target) *Response {
	return v.c.Submit(ctx, Request{Action: "vserver-delete", Method: http.MethodDelete, Path: t.path("")})
}

// Terminate hard-stops the guest and deletes it. The delete response is returned.
func (v VServers) Terminate(ctx context.Context, t Target) *Response {
	v.Stop(ctx, t)
	return v.Delete(ctx, t)
}

func (v VServers) SetHostname(ctx context.Context, t Target, hostname string) *Response {
	return v.c.Submit(ctx, Request{
		Action: "vserver-hostname",
		Method: http.MethodPut,
		Path:   t.path("config"),
		Params: url.Values{"hostname": {hostname}},
	})
}

func (v VServers) SetPassword(ctx context.Context, t Target, password string) *Response {
	return v.c.Submit(ctx, Request{
		Action: "vserver-password",
		Method: http.MethodPut,
		Path:   t.path("config"),
		Params: url.Values{"password": {password}},
	})
}

// MountISO sets the cdrom of a qemu guest.
func (v VServers) MountISO(ctx context.Context, t Target, iso string) *Response {
	t.Kind = KindQemu
	return v.c.Submit(ctx, Request{
		Action: "vserver-mountiso",
		Method: http.MethodPut,
		Path:   t.path("config"),
		Params: url.Values{"cdrom": {iso}},
	})
}

func (v VServers) UnmountISO(ctx context.Context, t Target) *Response {
	t.Kind = KindQemu
	return v.c.Submit(ctx, Request{
		Action: "vserver-unmountiso",
		Method: http.MethodPut,
		Path:   t.path("config"),
		Params: url.Values{"cdrom": {"none"}},
	})
}

// Graph fetches the rrd image for data source ds over timeframe (hour, day, week, month, year).
func (v VServers) Graph(ctx context.Context, t Target, ds, timeframe string) *Response {
	return v.c.Submit(ctx, Request{
		Action: "vserver-graph",
		Path:   t.path("rrd"),
		Params: url.Values{"timeframe": {timeframe}, "ds": {ds}},
	})
}

func (v VServers) VNC(ctx context.Context, t Target) *Response {
	return v.c.Submit(ctx, Request{Action: "vserver-vnc", Method: http.MethodPost, Path: t.path("vncproxy")})
}
