package config

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"

	"github.com/StealthBadger747/ProxVPS/internal/provider"
	"github.com/StealthBadger747/ProxVPS/internal/provider/proxmox"
)

const (
	SchemaVersion = "v1alpha1"

	// DefaultPort is the port of the Proxmox VE API.
	DefaultPort = 8006

	SettleFixed = "fixed"
	SettlePoll  = "poll"
)

// Duration wraps time.Duration to support YAML unmarshalling from strings like "30s".
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses duration strings (or numbers representing nanoseconds).
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		d.Duration = 0
		return nil
	}

	switch value.Kind {
	case yaml.ScalarNode:
		var asString string
		if err := value.Decode(&asString); err == nil {
			if asString == "" {
				d.Duration = 0
				return nil
			}
			parsed, err := time.ParseDuration(asString)
			if err != nil {
				return fmt.Errorf("invalid duration %q: %w", asString, err)
			}
			d.Duration = parsed
			return nil
		}

		var asInt int64
		if err := value.Decode(&asInt); err == nil {
			d.Duration = time.Duration(asInt)
			return nil
		}
	}

	return fmt.Errorf("invalid duration value: %s", value.Value)
}

// AsDuration exposes the inner time.Duration value.
func (d Duration) AsDuration() time.Duration {
	return d.Duration
}

// Config represents the root configuration document.
type Config struct {
	SchemaVersion      string                   `yaml:"schemaVersion"`
	Server             ServerConfig             `yaml:"server"`
	Packages           map[string]PackageConfig `yaml:"packages"`
	Settle             SettleConfig             `yaml:"settle"`
	StateFile          string                   `yaml:"stateFile"`
	VMIDCollisionCheck bool                     `yaml:"vmidCollisionCheck"`
}

// ServerConfig is the master server profile seeded into the module row.
type ServerConfig struct {
	Name     string `yaml:"name"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	// CredentialsRef replaces User, Password and InsecureSkipTLSVerify with
	// the values of a Kubernetes secret.
	CredentialsRef        *CredentialsRef `yaml:"credentialsRef,omitempty"`
	InsecureSkipTLSVerify bool            `yaml:"insecureSkipTLSVerify"`
	Timeout               Duration        `yaml:"timeout"`
	VMID                  int             `yaml:"vmid"`
	IPs                   []string        `yaml:"ips"`
}

// CredentialsRef points to the secret holding the API credentials.
type CredentialsRef struct {
	Name      string `yaml:"name"`
	Namespace string `yaml:"namespace"`
}

// PackageConfig describes one hosting plan.
type PackageConfig struct {
	Type            string   `yaml:"type"`
	Nodes           []string `yaml:"nodes"`
	MemoryMiB       int      `yaml:"memoryMiB"`
	CPU             int      `yaml:"cpu"`
	DiskGiB         int      `yaml:"diskGiB"`
	NetSpeed        int      `yaml:"netSpeed"`
	SwapMiB         int      `yaml:"swapMiB,omitempty"`
	CPULimit        int      `yaml:"cpuLimit,omitempty"`
	CPUUnits        int      `yaml:"cpuUnits,omitempty"`
	Storage         string   `yaml:"storage"`
	TemplateStorage string   `yaml:"templateStorage,omitempty"`
	DefaultTemplate string   `yaml:"defaultTemplate,omitempty"`
	Gateway         string   `yaml:"gateway,omitempty"`
	Unprivileged    bool     `yaml:"unprivileged,omitempty"`
}

// SettleConfig selects how long dependent hypervisor steps wait for each
// other. Unset delays keep their defaults.
type SettleConfig struct {
	Mode              string    `yaml:"mode"`
	CreateBoot        *Duration `yaml:"createBoot,omitempty"`
	CancelTerminate   *Duration `yaml:"cancelTerminate,omitempty"`
	ReinstallStop     *Duration `yaml:"reinstallStop,omitempty"`
	ReinstallRecreate *Duration `yaml:"reinstallRecreate,omitempty"`
}

// Load reads and parses a configuration file from disk.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	return decode(f)
}

// decode unmarshals YAML into a Config while enforcing known fields.
func decode(r io.Reader) (*Config, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		if err == io.EOF {
			return nil, fmt.Errorf("parse config: empty document")
		}
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.postProcess()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate performs integrity checks on the configuration. Package errors
// are collected so every broken plan is reported at once.
func (c *Config) Validate() error {
	if c.SchemaVersion == "" {
		return fmt.Errorf("schemaVersion is required")
	}
	if c.SchemaVersion != SchemaVersion {
		return fmt.Errorf("unsupported schemaVersion %q", c.SchemaVersion)
	}
	if c.Server.Host == "" {
		return fmt.Errorf("server.host is required")
	}
	if ref := c.Server.CredentialsRef; ref != nil {
		if ref.Name == "" || ref.Namespace == "" {
			return fmt.Errorf("server.credentialsRef needs name and namespace")
		}
	} else if c.Server.User == "" || c.Server.Password == "" {
		return fmt.Errorf("server needs user and password or a credentialsRef")
	}
	switch c.Settle.Mode {
	case SettleFixed, SettlePoll:
	default:
		return fmt.Errorf("settle.mode must be %q or %q, got %q", SettleFixed, SettlePoll, c.Settle.Mode)
	}

	var result *multierror.Error
	for _, name := range c.PackageNames() {
		if err := provider.ValidatePackage(c.Packages[name].Spec()); err != nil {
			result = multierror.Append(result, fmt.Errorf("package %q: %w", name, err))
		}
	}
	return result.ErrorOrNil()
}

func (c *Config) postProcess() {
	if c.Server.Port == 0 {
		c.Server.Port = DefaultPort
	}
	if c.Server.Name == "" {
		c.Server.Name = c.Server.Host
	}
	if c.Settle.Mode == "" {
		c.Settle.Mode = SettlePoll
	}
	if c.Packages == nil {
		c.Packages = map[string]PackageConfig{}
	}
	for i, ip := range c.Server.IPs {
		c.Server.IPs[i] = strings.TrimSpace(ip)
	}
}

// PackageNames returns the package keys in a stable order.
func (c *Config) PackageNames() []string {
	names := make([]string, 0, len(c.Packages))
	for name := range c.Packages {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Package looks up a plan by name.
func (c *Config) Package(name string) (provider.PackageSpec, error) {
	pkg, ok := c.Packages[name]
	if !ok {
		return provider.PackageSpec{}, fmt.Errorf("unknown package %q", name)
	}
	return pkg.Spec(), nil
}

// Spec converts the plan into the package definition used by workflows.
func (p PackageConfig) Spec() provider.PackageSpec {
	return provider.PackageSpec{
		Type:            p.Type,
		Nodes:           append([]string(nil), p.Nodes...),
		MemoryMB:        p.MemoryMiB,
		CPU:             p.CPU,
		HDD:             p.DiskGiB,
		NetSpeed:        p.NetSpeed,
		SwapMB:          p.SwapMiB,
		CPULimit:        p.CPULimit,
		CPUUnits:        p.CPUUnits,
		Storage:         p.Storage,
		TemplateStorage: p.TemplateStorage,
		DefaultTemplate: p.DefaultTemplate,
		Gateway:         p.Gateway,
		Unprivileged:    p.Unprivileged,
	}
}

// Row seeds a module row from the server profile.
func (s ServerConfig) Row() provider.ModuleRow {
	return provider.ModuleRow{
		Name:               s.Name,
		Host:               s.Host,
		Port:               s.Port,
		User:               s.User,
		Password:           s.Password,
		VMID:               s.VMID,
		IPs:                append([]string(nil), s.IPs...),
		InsecureSkipVerify: s.InsecureSkipTLSVerify,
	}
}

// Delays overlays the configured delays on the defaults.
func (s SettleConfig) Delays() proxmox.Delays {
	d := proxmox.DefaultDelays()
	set := func(dst *time.Duration, src *Duration) {
		if src != nil {
			*dst = src.AsDuration()
		}
	}
	set(&d.CreateBoot, s.CreateBoot)
	set(&d.CancelTerminate, s.CancelTerminate)
	set(&d.ReinstallStop, s.ReinstallStop)
	set(&d.ReinstallRecreate, s.ReinstallRecreate)
	return d
}

// Settler builds the settle policy of Mode.
func (s SettleConfig) Settler(log logr.Logger) proxmox.Settler {
	if s.Mode == SettleFixed {
		return proxmox.FixedSettler{}
	}
	return proxmox.PollSettler{Log: log}
}
