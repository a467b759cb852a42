package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	cfgpkg "github.com/StealthBadger747/ProxVPS/internal/config"
	"github.com/StealthBadger747/ProxVPS/internal/metrics"
	"github.com/StealthBadger747/ProxVPS/internal/provider"
	"github.com/StealthBadger747/ProxVPS/internal/provider/proxmox"
	"github.com/StealthBadger747/ProxVPS/internal/pveapi"
	"github.com/StealthBadger747/ProxVPS/internal/store"
)

// ConfigEnv is read when --config is not given.
const ConfigEnv = "PROXVPS_CONFIG"

type rootOptions struct {
	configPath string
	logLevel   string
	logFormat  string
}

// app is the state shared by every subcommand.
type app struct {
	cfg       *cfgpkg.Config
	log       logr.Logger
	store     *store.Store
	metrics   *metrics.Recorder
	customers *flagCustomers
	prov      *proxmox.Provider
	out       io.Writer
}

// flagCustomers serves the customer profile given on the command line.
type flagCustomers struct {
	profile provider.Customer
}

func (f *flagCustomers) Customer(_ context.Context, clientID string) (provider.Customer, error) {
	if f.profile.ID != clientID {
		return provider.Customer{}, nil
	}
	return f.profile, nil
}

func newLogger(level, format string) (logr.Logger, error) {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return logr.Logger{}, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	var zc zap.Config
	switch format {
	case "json":
		zc = zap.NewProductionConfig()
	case "console", "":
		zc = zap.NewDevelopmentConfig()
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	default:
		return logr.Logger{}, fmt.Errorf("invalid log format %q", format)
	}
	zc.Level = zap.NewAtomicLevelAt(lvl)
	zc.OutputPaths = []string{"stderr"}

	z, err := zc.Build()
	if err != nil {
		return logr.Logger{}, fmt.Errorf("build logger: %w", err)
	}
	return zapr.NewLogger(z), nil
}

// newApp loads the configuration, opens the state file, seeds the module
// row and wires the provisioner.
func newApp(ctx context.Context, opts *rootOptions, out io.Writer) (*app, error) {
	log, err := newLogger(opts.logLevel, opts.logFormat)
	if err != nil {
		return nil, err
	}

	path := opts.configPath
	if path == "" {
		path = os.Getenv(ConfigEnv)
	}
	if path == "" {
		return nil, fmt.Errorf("config path must be provided via --config or %s", ConfigEnv)
	}
	cfg, err := cfgpkg.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.ResolveCredentials(ctx, nil); err != nil {
		return nil, fmt.Errorf("resolve credentials: %w", err)
	}

	statePath := cfg.StateFile
	if statePath == "" {
		statePath = "proxvps.db"
	}
	st, err := store.Open(ctx, statePath)
	if err != nil {
		return nil, err
	}
	if err := st.Rows().Seed(ctx, cfg.Server.Row()); err != nil {
		st.Close()
		return nil, err
	}

	rec := metrics.New()
	customers := &flagCustomers{}
	provOpts := []proxmox.Option{
		proxmox.WithLogger(log.WithName("proxmox")),
		proxmox.WithLogSink(pveapi.LogrSink{Logger: log.WithName("exchange")}),
		proxmox.WithObserver(rec),
		proxmox.WithWorkflowObserver(rec),
		proxmox.WithCustomers(customers),
		proxmox.WithSettler(cfg.Settle.Settler(log.WithName("settle"))),
		proxmox.WithDelays(cfg.Settle.Delays()),
		proxmox.WithVMIDCollisionCheck(cfg.VMIDCollisionCheck),
	}
	if d := cfg.Server.Timeout.AsDuration(); d > 0 {
		provOpts = append(provOpts, proxmox.WithTimeout(d))
	}

	return &app{
		cfg:       cfg,
		log:       log,
		store:     st,
		metrics:   rec,
		customers: customers,
		prov:      proxmox.NewProvider(provOpts...),
		out:       out,
	}, nil
}

func (a *app) Close() error { return a.store.Close() }

func (a *app) row(ctx context.Context) (provider.ModuleRow, error) {
	return a.store.Rows().Get(ctx, a.cfg.Server.Name)
}

func (a *app) service(ctx context.Context, name string) (store.ServiceRecord, error) {
	if name == "" {
		return store.ServiceRecord{}, errors.New("--service is required")
	}
	return a.store.Services().Get(ctx, name)
}

// swapRow persists an updated row; a concurrent writer is reported, not retried.
func (a *app) swapRow(ctx context.Context, old, next provider.ModuleRow) error {
	if err := a.store.Rows().CompareAndSwap(ctx, old, next); err != nil {
		if errors.Is(err, store.ErrConflict) {
			a.log.Error(err, "module row changed while the workflow ran; reconcile the pool manually", "server", old.Name)
		}
		return err
	}
	return nil
}

func (a *app) print(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// hostError renders a workflow failure the way the host platform shows it.
func hostError(err error) error {
	var e *provider.Error
	if errors.As(err, &e) {
		var wf *provider.WorkflowError
		if errors.As(err, &wf) {
			return fmt.Errorf("[%s] %s (%s step %s)", e.Key, e.Message, wf.Workflow, wf.Step)
		}
		return fmt.Errorf("[%s] %s", e.Key, e.Message)
	}
	return err
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	var a *app

	root := &cobra.Command{
		Use:           "proxvps",
		Short:         "Provision Proxmox VE virtual servers",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			a, err = newApp(cmd.Context(), opts, cmd.OutOrStdout())
			return err
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			if a == nil {
				return nil
			}
			return a.Close()
		},
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to the configuration file (default $"+ConfigEnv+")")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&opts.logFormat, "log-format", "console", "log format (console, json)")

	get := func() *app { return a }
	root.AddCommand(
		newAddCmd(get),
		newEditCmd(get),
		newCancelCmd(get),
		newSuspendCmd(get, true),
		newSuspendCmd(get, false),
		newReinstallCmd(get),
		newActionCmd(get),
		newStateCmd(get),
		newGraphCmd(get),
		newConsoleCmd(get),
		newNodesCmd(get),
		newGuestsCmd(get),
		newAccountsCmd(get),
		newVolumesCmd(get, "isos"),
		newVolumesCmd(get, "templates"),
		newValidateCmd(get),
		newServeCmd(get),
	)
	return root
}
