package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/StealthBadger747/ProxVPS/internal/provider"
)

// ServiceRecord is a service as the host platform tracks it.
type ServiceRecord struct {
	Name     string
	Server   string
	Package  string
	ClientID string
	Service  provider.Service
}

// Services stores service records as their flat field list plus the
// lifecycle state.
type Services struct {
	db *sql.DB
}

// Save inserts or replaces rec.
func (s *Services) Save(ctx context.Context, rec ServiceRecord) error {
	if rec.Name == "" {
		return fmt.Errorf("service name is required")
	}
	fields, err := json.Marshal(rec.Service.Fields())
	if err != nil {
		return fmt.Errorf("encode service %q: %w", rec.Name, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO services (name, server, package, client_id, state, fields)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			server = excluded.server,
			package = excluded.package,
			client_id = excluded.client_id,
			state = excluded.state,
			fields = excluded.fields,
			updated_at = CURRENT_TIMESTAMP`,
		rec.Name, rec.Server, rec.Package, rec.ClientID, rec.Service.State.String(), string(fields))
	if err != nil {
		return fmt.Errorf("save service %q: %w", rec.Name, err)
	}
	return nil
}

// Get loads the service called name.
func (s *Services) Get(ctx context.Context, name string) (ServiceRecord, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT name, server, package, client_id, state, fields FROM services WHERE name = ?", name)
	rec, err := scanService(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ServiceRecord{}, fmt.Errorf("service %q: %w", name, ErrNotFound)
	}
	if err != nil {
		return ServiceRecord{}, fmt.Errorf("load service %q: %w", name, err)
	}
	return rec, nil
}

// List returns the services of server ordered by name; an empty server lists
// every service.
func (s *Services) List(ctx context.Context, server string) ([]ServiceRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, server, package, client_id, state, fields FROM services
		WHERE ? = '' OR server = ?
		ORDER BY name ASC`, server, server)
	if err != nil {
		return nil, fmt.Errorf("list services: %w", err)
	}
	defer rows.Close()

	var out []ServiceRecord
	for rows.Next() {
		rec, err := scanService(rows)
		if err != nil {
			return nil, fmt.Errorf("list services: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Delete removes the service called name.
func (s *Services) Delete(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM services WHERE name = ?", name)
	if err != nil {
		return fmt.Errorf("delete service %q: %w", name, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("service %q: %w", name, ErrNotFound)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanService(sc scanner) (ServiceRecord, error) {
	var (
		rec           ServiceRecord
		state, fields string
	)
	if err := sc.Scan(&rec.Name, &rec.Server, &rec.Package, &rec.ClientID, &state, &fields); err != nil {
		return ServiceRecord{}, err
	}

	var flat []provider.ServiceField
	if err := json.Unmarshal([]byte(fields), &flat); err != nil {
		return ServiceRecord{}, fmt.Errorf("decode fields: %w", err)
	}
	svc, err := provider.ServiceFromFields(flat)
	if err != nil {
		return ServiceRecord{}, err
	}
	if svc.State, err = provider.ParseState(state); err != nil {
		return ServiceRecord{}, err
	}
	rec.Service = svc
	return rec, nil
}
