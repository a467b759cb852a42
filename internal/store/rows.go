package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/StealthBadger747/ProxVPS/internal/provider"
)

// ModuleRows stores one row per hypervisor master server. The IP pool is kept
// as a newline separated list, the format operators paste it in.
type ModuleRows struct {
	db *sql.DB
}

// Get loads the row called name.
func (r *ModuleRows) Get(ctx context.Context, name string) (provider.ModuleRow, error) {
	var (
		row      provider.ModuleRow
		ips      string
		insecure int
	)
	err := r.db.QueryRowContext(ctx,
		"SELECT name, host, port, user, password, vmid, ips, insecure FROM module_rows WHERE name = ?", name,
	).Scan(&row.Name, &row.Host, &row.Port, &row.User, &row.Password, &row.VMID, &ips, &insecure)
	if errors.Is(err, sql.ErrNoRows) {
		return provider.ModuleRow{}, fmt.Errorf("module row %q: %w", name, ErrNotFound)
	}
	if err != nil {
		return provider.ModuleRow{}, fmt.Errorf("load module row %q: %w", name, err)
	}
	row.IPs = provider.ParseIPPool(ips)
	row.InsecureSkipVerify = insecure != 0
	return row, nil
}

// Seed inserts row, or refreshes its connection settings when it already
// exists. The allocation state of an existing row is never overwritten.
func (r *ModuleRows) Seed(ctx context.Context, row provider.ModuleRow) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO module_rows (name, host, port, user, password, vmid, ips, insecure)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			host = excluded.host,
			port = excluded.port,
			user = excluded.user,
			password = excluded.password,
			insecure = excluded.insecure,
			updated_at = CURRENT_TIMESTAMP`,
		row.Name, row.Host, row.Port, row.User, row.Password, row.VMID, joinPool(row.IPs), boolInt(row.InsecureSkipVerify))
	if err != nil {
		return fmt.Errorf("seed module row %q: %w", row.Name, err)
	}
	return nil
}

// CompareAndSwap stores next only if the allocation state of the stored row
// still equals old. It returns ErrConflict otherwise.
func (r *ModuleRows) CompareAndSwap(ctx context.Context, old, next provider.ModuleRow) error {
	if old.Name != next.Name {
		return fmt.Errorf("compare and swap across rows %q and %q", old.Name, next.Name)
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE module_rows SET vmid = ?, ips = ?, updated_at = CURRENT_TIMESTAMP
		WHERE name = ? AND vmid = ? AND ips = ?`,
		next.VMID, joinPool(next.IPs), old.Name, old.VMID, joinPool(old.IPs))
	if err != nil {
		return fmt.Errorf("update module row %q: %w", old.Name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update module row %q: %w", old.Name, err)
	}
	if n == 0 {
		return fmt.Errorf("module row %q: %w", old.Name, ErrConflict)
	}
	return nil
}

func joinPool(ips []string) string {
	return strings.Join(ips, "\n")
}

func boolInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
