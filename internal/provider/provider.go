package provider

import "context"

// ModuleRow is the connection profile and allocation state for one hypervisor
// master server. The host platform owns it; workflows receive it by value and
// hand back an updated copy.
type ModuleRow struct {
	// Name is the operator-facing server label.
	Name string `validate:"required"`
	// Host is the hypervisor API host, a domain name or an IP address.
	Host string `validate:"required,hostname_rfc1123|ip"`
	Port int    `validate:"gte=0,lte=65535"`
	User string `validate:"required"`
	// Password authenticates User against the API and is never logged.
	Password string `validate:"required"`
	// VMID is the next virtual server id to hand out. Values below MinVMID are
	// raised to MinVMID on reservation.
	VMID int `validate:"gte=0"`
	// IPs is the FIFO pool of addresses still available for new services.
	IPs []string
	// InsecureSkipVerify disables TLS certificate validation for this server.
	InsecureSkipVerify bool
}

// PackageSpec is an immutable plan definition created by an administrator.
type PackageSpec struct {
	// Type selects the virtualization backend, "lxc" or "qemu".
	Type string `validate:"required,oneof=lxc qemu"`
	// Nodes lists the placement candidates. At least one is required.
	Nodes []string `validate:"required,min=1,dive,required"`
	// MemoryMB, CPU (sockets or cores), HDD (GiB) and NetSpeed (MB/s rate
	// limit, 0 for none) size every service of the package.
	MemoryMB int `validate:"gte=0"`
	CPU      int `validate:"gte=0"`
	HDD      int `validate:"gte=0"`
	NetSpeed int `validate:"gte=0"`
	// SwapMB, CPULimit and CPUUnits only apply to containers and are omitted
	// from the create call when zero.
	SwapMB   int    `validate:"gte=0"`
	CPULimit int    `validate:"gte=0"`
	CPUUnits int    `validate:"gte=0"`
	Storage  string `validate:"required,storage_name"`
	// TemplateStorage and DefaultTemplate locate the container template as
	// "<TemplateStorage>:vztmpl/<DefaultTemplate>".
	TemplateStorage string `validate:"required_unless=Type qemu,template_ref"`
	DefaultTemplate string `validate:"required_unless=Type qemu,template_ref"`
	Gateway         string `validate:"omitempty,ip"`
	Unprivileged    bool
}

// Customer is the profile the host platform holds for a client.
type Customer struct {
	ID        string
	Email     string
	FirstName string
	LastName  string
}

// CustomerDirectory resolves a client id to its profile. Implementations
// return a zero Customer and no error when the client is unknown.
type CustomerDirectory interface {
	Customer(ctx context.Context, clientID string) (Customer, error)
}

// AddRequest is the end-user input for creating a service.
type AddRequest struct {
	ClientID string
	Hostname string
	// Password is the initial root password; one is generated when empty.
	Password string
	// UseModule false records the service without touching the hypervisor.
	UseModule bool
}

// AddResult carries the created service and the module row to persist.
type AddResult struct {
	Service Service
	// Row is the updated module row. It is only changed when the create call
	// succeeded.
	Row ModuleRow
	// RowChanged reports whether Row differs from the input row.
	RowChanged bool
}

// ReinstallRequest selects the template and optional password for a reinstall.
type ReinstallRequest struct {
	// Template is the template file name inside the package template storage.
	Template string
	Password string
}

// Provisioner maps the host platform's lifecycle callbacks onto hypervisor
// workflows. Every method is synchronous and returns a *Error when the host
// should render a failure.
type Provisioner interface {
	// AddService validates input, places and creates a new virtual server and
	// returns its fields together with the advanced module row.
	AddService(ctx context.Context, row *ModuleRow, pkg PackageSpec, req AddRequest) (*AddResult, error)

	// EditService validates an edit and returns the fields to store.
	EditService(ctx context.Context, svc Service, hostname string) ([]ServiceField, error)

	// CancelService returns the service IP to the pool and destroys the
	// virtual server. The updated row is returned even when termination fails.
	CancelService(ctx context.Context, row ModuleRow, svc *Service) (ModuleRow, error)

	// SuspendService and UnsuspendService stop or start the server on a best
	// effort basis; hypervisor failures are logged, not returned.
	SuspendService(ctx context.Context, row ModuleRow, svc *Service) error
	UnsuspendService(ctx context.Context, row ModuleRow, svc *Service) error

	// Reinstall recreates a container in place with a new template.
	Reinstall(ctx context.Context, row ModuleRow, pkg PackageSpec, svc *Service, req ReinstallRequest) error
}
