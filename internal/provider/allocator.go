package provider

import "strings"

// MinVMID is the lowest id handed out to a new virtual server.
const MinVMID = 200

// Reservation is the id and address picked for one create attempt.
type Reservation struct {
	VMID int
	// IP is empty when the pool is exhausted.
	IP string
}

// Reserve picks the next id and the head of the IP pool without changing r.
func (r ModuleRow) Reserve() Reservation {
	res := Reservation{VMID: r.VMID}
	if res.VMID < MinVMID {
		res.VMID = MinVMID
	}
	if len(r.IPs) > 0 {
		res.IP = strings.TrimSpace(r.IPs[0])
	}
	return res
}

// Commit returns a copy of r with the counter advanced past res and the
// reserved address removed from the pool.
func (r ModuleRow) Commit(res Reservation) ModuleRow {
	out := r.clone()
	out.VMID = res.VMID + 1
	if len(out.IPs) > 0 {
		out.IPs = out.IPs[1:]
	}
	return out
}

// Release returns a copy of r with ip appended to the end of the pool. An
// empty ip, or one already in the pool, leaves the pool unchanged.
func (r ModuleRow) Release(ip string) ModuleRow {
	out := r.clone()
	ip = strings.TrimSpace(ip)
	if ip == "" {
		return out
	}
	for _, have := range out.IPs {
		if strings.TrimSpace(have) == ip {
			return out
		}
	}
	out.IPs = append(out.IPs, ip)
	return out
}

func (r ModuleRow) clone() ModuleRow {
	out := r
	out.IPs = append([]string(nil), r.IPs...)
	return out
}

// ParseIPPool splits a newline separated address list, dropping blank lines.
func ParseIPPool(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out
}

// FormatIPPool is the inverse of ParseIPPool.
func FormatIPPool(ips []string) string {
	return strings.Join(ips, "\n")
}
