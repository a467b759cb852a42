package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/StealthBadger747/ProxVPS/internal/provider"
	"github.com/StealthBadger747/ProxVPS/internal/provider/proxmox"
	"github.com/StealthBadger747/ProxVPS/internal/store"
)

func newAddCmd(get func() *app) *cobra.Command {
	var (
		name, pkgName, password string
		customer                provider.Customer
		req                     provider.AddRequest
	)
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create a virtual server for a client",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := get()
			ctx := cmd.Context()
			if name == "" {
				return errors.New("--service is required")
			}
			if _, err := a.store.Services().Get(ctx, name); err == nil {
				return fmt.Errorf("service %q already exists", name)
			} else if !errors.Is(err, store.ErrNotFound) {
				return err
			}
			pkg, err := a.cfg.Package(pkgName)
			if err != nil {
				return err
			}
			row, err := a.row(ctx)
			if err != nil {
				return err
			}

			customer.ID = req.ClientID
			a.customers.profile = customer
			req.Password = password

			res, err := a.prov.AddService(ctx, &row, pkg, req)
			if err != nil {
				return hostError(err)
			}
			if res.RowChanged {
				if err := a.swapRow(ctx, row, res.Row); err != nil {
					return err
				}
			}
			rec := store.ServiceRecord{Name: name, Server: row.Name, Package: pkgName, ClientID: req.ClientID, Service: res.Service}
			if err := a.store.Services().Save(ctx, rec); err != nil {
				return err
			}
			return a.print(res.Service.Fields())
		},
	}
	f := cmd.Flags()
	f.StringVar(&name, "service", "", "name of the service record")
	f.StringVar(&pkgName, "package", "", "package to size the server from")
	f.StringVar(&req.ClientID, "client-id", "", "client owning the server")
	f.StringVar(&req.Hostname, "hostname", "", "hostname of the server")
	f.StringVar(&password, "password", "", "root password, generated when empty")
	f.BoolVar(&req.UseModule, "use-module", true, "create the server on the hypervisor")
	f.StringVar(&customer.Email, "email", "", "client email for a new hypervisor account")
	f.StringVar(&customer.FirstName, "first-name", "", "client first name")
	f.StringVar(&customer.LastName, "last-name", "", "client last name")
	return cmd
}

func newEditCmd(get func() *app) *cobra.Command {
	var name, hostname string
	cmd := &cobra.Command{
		Use:   "edit",
		Short: "Validate an edit of a service",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := get()
			rec, err := a.service(cmd.Context(), name)
			if err != nil {
				return err
			}
			fields, err := a.prov.EditService(cmd.Context(), rec.Service, hostname)
			if err != nil {
				return hostError(err)
			}
			return a.print(fields)
		},
	}
	cmd.Flags().StringVar(&name, "service", "", "name of the service record")
	cmd.Flags().StringVar(&hostname, "hostname", "", "new hostname to validate")
	return cmd
}

func newCancelCmd(get func() *app) *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "cancel",
		Short: "Destroy a virtual server and release its address",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := get()
			ctx := cmd.Context()
			rec, err := a.service(ctx, name)
			if err != nil {
				return err
			}
			row, err := a.row(ctx)
			if err != nil {
				return err
			}

			out, cancelErr := a.prov.CancelService(ctx, row, &rec.Service)
			if len(out.IPs) != len(row.IPs) {
				if err := a.swapRow(ctx, row, out); err != nil {
					return err
				}
			}
			if err := a.store.Services().Save(ctx, rec); err != nil {
				return err
			}
			if cancelErr != nil {
				return hostError(cancelErr)
			}
			return a.print(rec.Service.Fields())
		},
	}
	cmd.Flags().StringVar(&name, "service", "", "name of the service record")
	return cmd
}

func newSuspendCmd(get func() *app, suspend bool) *cobra.Command {
	var name string
	use, short := "unsuspend", "Boot a suspended virtual server"
	if suspend {
		use, short = "suspend", "Shut a virtual server down"
	}
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := get()
			ctx := cmd.Context()
			rec, err := a.service(ctx, name)
			if err != nil {
				return err
			}
			row, err := a.row(ctx)
			if err != nil {
				return err
			}
			if suspend {
				err = a.prov.SuspendService(ctx, row, &rec.Service)
			} else {
				err = a.prov.UnsuspendService(ctx, row, &rec.Service)
			}
			if err != nil {
				return hostError(err)
			}
			return a.store.Services().Save(ctx, rec)
		},
	}
	cmd.Flags().StringVar(&name, "service", "", "name of the service record")
	return cmd
}

func newReinstallCmd(get func() *app) *cobra.Command {
	var (
		name string
		req  provider.ReinstallRequest
	)
	cmd := &cobra.Command{
		Use:   "reinstall",
		Short: "Recreate a container from a template",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := get()
			ctx := cmd.Context()
			rec, err := a.service(ctx, name)
			if err != nil {
				return err
			}
			pkg, err := a.cfg.Package(rec.Package)
			if err != nil {
				return err
			}
			row, err := a.row(ctx)
			if err != nil {
				return err
			}
			reinstallErr := a.prov.Reinstall(ctx, row, pkg, &rec.Service, req)
			if err := a.store.Services().Save(ctx, rec); err != nil {
				return err
			}
			if reinstallErr != nil {
				return hostError(reinstallErr)
			}
			return a.print(rec.Service.Fields())
		},
	}
	cmd.Flags().StringVar(&name, "service", "", "name of the service record")
	cmd.Flags().StringVar(&req.Template, "template", "", "template file name, the package default when empty")
	cmd.Flags().StringVar(&req.Password, "password", "", "new root password, generated when empty")
	return cmd
}

func newActionCmd(get func() *app) *cobra.Command {
	var (
		name string
		in   proxmox.ActionInput
	)
	cmd := &cobra.Command{
		Use:   "action NAME",
		Short: "Run boot, shutdown, stop, mountIso, unmountIso, hostname or password",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := get()
			ctx := cmd.Context()
			rec, err := a.service(ctx, name)
			if err != nil {
				return err
			}
			row, err := a.row(ctx)
			if err != nil {
				return err
			}
			if err := a.prov.PerformAction(ctx, row, &rec.Service, args[0], in); err != nil {
				return hostError(err)
			}
			return a.store.Services().Save(ctx, rec)
		},
	}
	cmd.Flags().StringVar(&name, "service", "", "name of the service record")
	cmd.Flags().StringVar(&in.ISO, "iso", "", "ISO volume id for mountIso")
	cmd.Flags().StringVar(&in.Hostname, "hostname", "", "new hostname")
	cmd.Flags().StringVar(&in.Password, "password", "", "new root password")
	return cmd
}

func newStateCmd(get func() *app) *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "state",
		Short: "Show the runtime status of a virtual server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := get()
			rec, row, err := serviceAndRow(cmd, a, name)
			if err != nil {
				return err
			}
			st, err := a.prov.ServerState(cmd.Context(), row, rec.Service)
			if err != nil {
				return hostError(err)
			}
			return a.print(st)
		},
	}
	cmd.Flags().StringVar(&name, "service", "", "name of the service record")
	return cmd
}

func newGraphCmd(get func() *app) *cobra.Command {
	var name, ds, timeframe, out string
	cmd := &cobra.Command{
		Use:   "graph",
		Short: "Write a usage graph of a virtual server as PNG",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := get()
			rec, row, err := serviceAndRow(cmd, a, name)
			if err != nil {
				return err
			}
			img, err := a.prov.Graph(cmd.Context(), row, rec.Service, ds, timeframe)
			if err != nil {
				return hostError(err)
			}
			if out == "" || out == "-" {
				_, err = a.out.Write(img)
				return err
			}
			return os.WriteFile(out, img, 0o644)
		},
	}
	cmd.Flags().StringVar(&name, "service", "", "name of the service record")
	cmd.Flags().StringVar(&ds, "ds", "cpu", "data source")
	cmd.Flags().StringVar(&timeframe, "timeframe", "day", "hour, day, week, month or year")
	cmd.Flags().StringVar(&out, "out", "-", "output file")
	return cmd
}

func newConsoleCmd(get func() *app) *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "console",
		Short: "Open a VNC console ticket",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := get()
			rec, row, err := serviceAndRow(cmd, a, name)
			if err != nil {
				return err
			}
			con, err := a.prov.Console(cmd.Context(), row, rec.Service)
			if err != nil {
				return hostError(err)
			}
			return a.print(con)
		},
	}
	cmd.Flags().StringVar(&name, "service", "", "name of the service record")
	return cmd
}

func newNodesCmd(get func() *app) *cobra.Command {
	var node string
	cmd := &cobra.Command{
		Use:   "nodes",
		Short: "List cluster nodes, or the statistics of one node",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := get()
			row, err := a.row(cmd.Context())
			if err != nil {
				return err
			}
			if node != "" {
				snap, err := a.prov.NodeStatistics(cmd.Context(), row, node)
				if err != nil {
					return hostError(err)
				}
				return a.print(snap)
			}
			nodes, err := a.prov.Nodes(cmd.Context(), row)
			if err != nil {
				return hostError(err)
			}
			return a.print(nodes)
		},
	}
	cmd.Flags().StringVar(&node, "node", "", "show the statistics of this node")
	return cmd
}

func newGuestsCmd(get func() *app) *cobra.Command {
	var node string
	cmd := &cobra.Command{
		Use:   "guests",
		Short: "List the virtual servers of one node",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := get()
			row, err := a.row(cmd.Context())
			if err != nil {
				return err
			}
			guests, err := a.prov.Guests(cmd.Context(), row, node)
			if err != nil {
				return hostError(err)
			}
			return a.print(guests)
		},
	}
	cmd.Flags().StringVar(&node, "node", "", "node to list")
	_ = cmd.MarkFlagRequired("node")
	return cmd
}

func newAccountsCmd(get func() *app) *cobra.Command {
	return &cobra.Command{
		Use:   "accounts",
		Short: "List the customer accounts on the hypervisor",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := get()
			row, err := a.row(cmd.Context())
			if err != nil {
				return err
			}
			users, err := a.prov.Accounts(cmd.Context(), row)
			if err != nil {
				return hostError(err)
			}
			return a.print(users)
		},
	}
}

func newVolumesCmd(get func() *app, kind string) *cobra.Command {
	var node, storage string
	cmd := &cobra.Command{
		Use:   kind,
		Short: "List " + kind + " available on a node storage",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := get()
			row, err := a.row(cmd.Context())
			if err != nil {
				return err
			}
			if storage == "" {
				names, err := a.prov.NodeStorage(cmd.Context(), row, node, volumeContent(kind))
				if err != nil {
					return hostError(err)
				}
				return a.print(names)
			}
			list := a.prov.ISOs
			if kind == "templates" {
				list = a.prov.Templates
			}
			out, err := list(cmd.Context(), row, node, storage)
			if err != nil {
				return hostError(err)
			}
			return a.print(out)
		},
	}
	cmd.Flags().StringVar(&node, "node", "", "node to list")
	cmd.Flags().StringVar(&storage, "storage", "", "storage to list; without it the storages holding "+kind+" are listed")
	_ = cmd.MarkFlagRequired("node")
	return cmd
}

func volumeContent(kind string) string {
	if kind == "templates" {
		return "vztmpl"
	}
	return "iso"
}

func newValidateCmd(get func() *app) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the server row and every package",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := get()
			row, err := a.row(cmd.Context())
			if err != nil {
				return err
			}
			if err := provider.ValidateRow(row); err != nil {
				return hostError(err)
			}
			for _, name := range a.cfg.PackageNames() {
				if err := provider.ValidatePackage(a.cfg.Packages[name].Spec()); err != nil {
					return fmt.Errorf("package %q: %w", name, hostError(err))
				}
			}
			fmt.Fprintf(a.out, "configuration of %q is valid\n", row.Name)
			return nil
		},
	}
}

func serviceAndRow(cmd *cobra.Command, a *app, name string) (store.ServiceRecord, provider.ModuleRow, error) {
	rec, err := a.service(cmd.Context(), name)
	if err != nil {
		return store.ServiceRecord{}, provider.ModuleRow{}, err
	}
	row, err := a.row(cmd.Context())
	if err != nil {
		return store.ServiceRecord{}, provider.ModuleRow{}, err
	}
	return rec, row, nil
}
