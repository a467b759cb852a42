package provider

import (
	"fmt"
	"strconv"
)

// Service field keys stored by the host platform.
const (
	FieldVMID            = "proxmox_vserver_id"
	FieldIP              = "proxmox_ip"
	FieldHostname        = "proxmox_hostname"
	FieldNode            = "proxmox_node"
	FieldType            = "proxmox_type"
	FieldUsername        = "proxmox_username"
	FieldPassword        = "password"
	FieldCPU             = "proxmox_cpu"
	FieldMemory          = "proxmox_memory"
	FieldHDD             = "proxmox_hdd"
	FieldStorage         = "proxmox_storage"
	FieldTemplateStorage = "proxmox_template_storage"
	FieldGateway         = "proxmox_gateway"
	FieldNetSpeed        = "proxmox_netspeed"
	FieldCPULimit        = "proxmox_cpulimit"
	FieldCPUUnits        = "proxmox_cpuunits"
	FieldUnprivileged    = "proxmox_unprivileged"
	FieldSwap            = "proxmox_swap"
)

// ServiceField is one flat key/value record of a service.
type ServiceField struct {
	Key       string `json:"key"`
	Value     string `json:"value"`
	Encrypted bool   `json:"encrypted"`
}

// Service is one provisioned virtual server. The sizing fields mirror the
// package at creation time.
type Service struct {
	VMID     int
	IP       string
	Hostname string
	Node     string
	Type     string
	// Username is the hypervisor account owning the server, without realm.
	Username string
	Password string

	CPU             int
	MemoryMB        int
	HDD             int
	Storage         string
	TemplateStorage string
	Gateway         string
	NetSpeed        int
	CPULimit        int
	CPUUnits        int
	Unprivileged    bool
	SwapMB          int

	State State
}

// Fields flattens the service into the records returned to the host platform.
// Only the password is encrypted.
func (s Service) Fields() []ServiceField {
	return []ServiceField{
		{Key: FieldVMID, Value: itoa(s.VMID)},
		{Key: FieldIP, Value: s.IP},
		{Key: FieldHostname, Value: s.Hostname},
		{Key: FieldNode, Value: s.Node},
		{Key: FieldType, Value: s.Type},
		{Key: FieldUsername, Value: s.Username},
		{Key: FieldPassword, Value: s.Password, Encrypted: true},
		{Key: FieldCPU, Value: strconv.Itoa(s.CPU)},
		{Key: FieldMemory, Value: strconv.Itoa(s.MemoryMB)},
		{Key: FieldHDD, Value: strconv.Itoa(s.HDD)},
		{Key: FieldStorage, Value: s.Storage},
		{Key: FieldTemplateStorage, Value: s.TemplateStorage},
		{Key: FieldGateway, Value: s.Gateway},
		{Key: FieldNetSpeed, Value: strconv.Itoa(s.NetSpeed)},
		{Key: FieldCPULimit, Value: strconv.Itoa(s.CPULimit)},
		{Key: FieldCPUUnits, Value: strconv.Itoa(s.CPUUnits)},
		{Key: FieldUnprivileged, Value: boolString(s.Unprivileged)},
		{Key: FieldSwap, Value: strconv.Itoa(s.SwapMB)},
	}
}

// ServiceFromFields rebuilds a Service from stored records. Unknown keys are
// ignored and missing numeric fields read as zero. A service with a vmid is
// assumed active; callers tracking state overwrite it.
func ServiceFromFields(fields []ServiceField) (Service, error) {
	var s Service
	for _, f := range fields {
		var err error
		switch f.Key {
		case FieldVMID:
			s.VMID, err = atoi(f.Value)
		case FieldIP:
			s.IP = f.Value
		case FieldHostname:
			s.Hostname = f.Value
		case FieldNode:
			s.Node = f.Value
		case FieldType:
			s.Type = f.Value
		case FieldUsername:
			s.Username = f.Value
		case FieldPassword:
			s.Password = f.Value
		case FieldCPU:
			s.CPU, err = atoi(f.Value)
		case FieldMemory:
			s.MemoryMB, err = atoi(f.Value)
		case FieldHDD:
			s.HDD, err = atoi(f.Value)
		case FieldStorage:
			s.Storage = f.Value
		case FieldTemplateStorage:
			s.TemplateStorage = f.Value
		case FieldGateway:
			s.Gateway = f.Value
		case FieldNetSpeed:
			s.NetSpeed, err = atoi(f.Value)
		case FieldCPULimit:
			s.CPULimit, err = atoi(f.Value)
		case FieldCPUUnits:
			s.CPUUnits, err = atoi(f.Value)
		case FieldUnprivileged:
			s.Unprivileged = f.Value == "1" || f.Value == "true"
		case FieldSwap:
			s.SwapMB, err = atoi(f.Value)
		}
		if err != nil {
			return Service{}, fmt.Errorf("service field %s: %w", f.Key, err)
		}
	}
	if s.VMID != 0 {
		s.State = StateActive
	}
	return s, nil
}

// itoa renders an unassigned id as empty, matching services recorded without
// provisioning.
func itoa(v int) string {
	if v == 0 {
		return ""
	}
	return strconv.Itoa(v)
}

func atoi(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.Atoi(s)
}

func boolString(v bool) string {
	if v {
		return "1"
	}
	return "0"
}
