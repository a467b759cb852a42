package pveapi

import (
	"encoding/json"
	"path"

	proxmoxapi "github.com/luthermonson/go-proxmox"
)

// NodeSnapshot is the per-node utilization report from nodes/{node}/status.
type NodeSnapshot = proxmoxapi.Node

// ClusterResource is one row of cluster/resources.
type ClusterResource = proxmoxapi.ClusterResource

// NodeSummary is one entry of the nodes listing.
type NodeSummary struct {
	Node    string  `json:"node"`
	Status  string  `json:"status"`
	CPU     float64 `json:"cpu"`
	MaxCPU  int     `json:"maxcpu"`
	Mem     uint64  `json:"mem"`
	MaxMem  uint64  `json:"maxmem"`
	Disk    uint64  `json:"disk"`
	MaxDisk uint64  `json:"maxdisk"`
	Uptime  uint64  `json:"uptime"`
}

// StorageInfo describes a storage definition, cluster-wide or on a node.
type StorageInfo struct {
	Storage string `json:"storage"`
	Type    string `json:"type"`
	Content string `json:"content"`
	Shared  int    `json:"shared"`
	Active  int    `json:"active"`
	Enabled int    `json:"enabled"`
	Total   uint64 `json:"total"`
	Used    uint64 `json:"used"`
	Avail   uint64 `json:"avail"`
}

// StorageVolume is one item of a storage content listing.
type StorageVolume struct {
	VolID   string `json:"volid"`
	Content string `json:"content"`
	Format  string `json:"format"`
	Size    uint64 `json:"size"`
}

// Basename returns the last path element of the volume id, e.g. the template
// file name of "local:vztmpl/debian-12.tar.zst".
func (v StorageVolume) Basename() string {
	return path.Base(v.VolID)
}

// User is one hypervisor account.
type User struct {
	UserID    string `json:"userid"`
	Email     string `json:"email"`
	FirstName string `json:"firstname"`
	LastName  string `json:"lastname"`
	Enable    int    `json:"enable"`
}

// VMStatus is the runtime state from status/current.
type VMStatus struct {
	Status  string      `json:"status"`
	Name    string      `json:"name"`
	VMID    json.Number `json:"vmid"`
	CPU     float64     `json:"cpu"`
	CPUs    float64     `json:"cpus"`
	Mem     uint64      `json:"mem"`
	MaxMem  uint64      `json:"maxmem"`
	Disk    uint64      `json:"disk"`
	MaxDisk uint64      `json:"maxdisk"`
	Swap    uint64      `json:"swap"`
	MaxSwap uint64      `json:"maxswap"`
	NetIn   uint64      `json:"netin"`
	NetOut  uint64      `json:"netout"`
	Uptime  uint64      `json:"uptime"`
	Lock    string      `json:"lock"`
}

// Running reports whether the guest is up.
func (s VMStatus) Running() bool { return s.Status == "running" }

// GraphImage is the rrd graph reply.
type GraphImage struct {
	Filename string `json:"filename"`
	Image    string `json:"image"`
}

// PNG converts the image string into raw bytes. The API ships the binary image
// as a latin-1 string, so every code point maps to exactly one byte.
func (g GraphImage) PNG() []byte {
	out := make([]byte, 0, len(g.Image))
	for _, r := range g.Image {
		if r > 0xff {
			r = '?'
		}
		out = append(out, byte(r))
	}
	return out
}

// VNCTicket is the vncproxy reply.
type VNCTicket struct {
	User   string      `json:"user"`
	Ticket string      `json:"ticket"`
	Port   json.Number `json:"port"`
	Cert   string      `json:"cert"`
	UPID   string      `json:"upid"`
}
