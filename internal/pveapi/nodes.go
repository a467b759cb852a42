package pveapi

import (
	"context"
	"fmt"
	"net/url"
	"strings"
)

// Content kinds used when filtering storage.
const (
	ContentISO      = "iso"
	ContentTemplate = "vztmpl"
)

// Nodes groups the nodes/* and cluster/* read commands.
type Nodes struct {
	c *Client
}

func (c *Client) Nodes() Nodes { return Nodes{c: c} }

func (n Nodes) List(ctx context.Context) *Response {
	return n.c.Submit(ctx, Request{Action: "listnodes", Path: "nodes"})
}

func (n Nodes) Statistics(ctx context.Context, node string) *Response {
	return n.c.Submit(ctx, Request{Action: "node-statistics", Path: "nodes/" + node + "/status"})
}

func (n Nodes) StorageContent(ctx context.Context, node, storage string) *Response {
	return n.c.Submit(ctx, Request{
		Action: "node-storage-content",
		Path:   "nodes/" + node + "/storage/" + storage + "/content",
	})
}

// Storage lists storages on node, optionally limited to those that accept content.
func (n Nodes) Storage(ctx context.Context, node, content string) *Response {
	var params url.Values
	if content != "" {
		params = url.Values{"content": {content}}
	}
	return n.c.Submit(ctx, Request{Action: "nodes-storage", Path: "nodes/" + node + "/storage", Params: params})
}

// VirtualServers lists guests of kind on node.
func (n Nodes) VirtualServers(ctx context.Context, node string, kind VMKind) *Response {
	return n.c.Submit(ctx, Request{Action: "node-vservers", Path: "nodes/" + node + "/" + kind.Name()})
}

// ClusterResources lists cluster resources of the given type ("vm", "node", "storage").
func (n Nodes) ClusterResources(ctx context.Context, kind string) *Response {
	var params url.Values
	if kind != "" {
		params = url.Values{"type": {kind}}
	}
	return n.c.Submit(ctx, Request{Action: "cluster-resources", Path: "cluster/resources", Params: params})
}

// Guests decodes the guests of kind on node.
func (n Nodes) Guests(ctx context.Context, node string, kind VMKind) ([]VMStatus, error) {
	var out []VMStatus
	if err := n.VirtualServers(ctx, node, kind).Decode(&out); err != nil {
		return nil, fmt.Errorf("%s guests on %s: %w", kind.Name(), node, err)
	}
	return out, nil
}

// ListNodes decodes the nodes listing.
func (n Nodes) ListNodes(ctx context.Context) ([]NodeSummary, error) {
	var out []NodeSummary
	if err := n.List(ctx).Decode(&out); err != nil {
		return nil, fmt.Errorf("list nodes: %w", err)
	}
	return out, nil
}

// Snapshot decodes the utilization report for node.
func (n Nodes) Snapshot(ctx context.Context, node string) (*NodeSnapshot, error) {
	var out NodeSnapshot
	if err := n.Statistics(ctx, node).Decode(&out); err != nil {
		return nil, fmt.Errorf("node %s statistics: %w", node, err)
	}
	out.Name = node
	return &out, nil
}

// Volumes returns the content of storage on node whose kind equals content.
// An empty content returns every volume.
func (n Nodes) Volumes(ctx context.Context, node, storage, content string) ([]StorageVolume, error) {
	var all []StorageVolume
	if err := n.StorageContent(ctx, node, storage).Decode(&all); err != nil {
		return nil, fmt.Errorf("storage %s on %s: %w", storage, node, err)
	}
	if content == "" {
		return all, nil
	}
	out := make([]StorageVolume, 0, len(all))
	for _, v := range all {
		if v.Content == content {
			out = append(out, v)
		}
	}
	return out, nil
}

// StorageFor returns storages on node whose content list mentions content.
func (n Nodes) StorageFor(ctx context.Context, node, content string) ([]StorageInfo, error) {
	var all []StorageInfo
	if err := n.Storage(ctx, node, content).Decode(&all); err != nil {
		return nil, fmt.Errorf("storage on %s: %w", node, err)
	}
	if content == "" {
		return all, nil
	}
	out := make([]StorageInfo, 0, len(all))
	for _, s := range all {
		if strings.Contains(s.Content, content) {
			out = append(out, s)
		}
	}
	return out, nil
}

// UsedVMIDs returns every guest id known to the cluster.
func (n Nodes) UsedVMIDs(ctx context.Context) (map[uint64]struct{}, error) {
	var resources []*ClusterResource
	if err := n.ClusterResources(ctx, "vm").Decode(&resources); err != nil {
		return nil, fmt.Errorf("cluster resources: %w", err)
	}
	used := make(map[uint64]struct{}, len(resources))
	for _, r := range resources {
		if r == nil || r.VMID == 0 {
			continue
		}
		used[r.VMID] = struct{}{}
	}
	return used, nil
}
