// Package store persists the host platform state of the CLI: module rows and
// service records, in a single sqlite file.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"
)

var (
	// ErrNotFound is returned when a row or service does not exist.
	ErrNotFound = errors.New("entity not found")

	// ErrConflict is returned by CompareAndSwap when the stored row no
	// longer matches the expected value.
	ErrConflict = errors.New("module row was changed concurrently")
)

// Store owns the database handle.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path and applies pending migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open state %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure state: %w", err)
	}
	if err := migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Rows() *ModuleRows { return &ModuleRows{db: s.db} }

func (s *Store) Services() *Services { return &Services{db: s.db} }

type migration struct {
	version int64
	name    string
	stmts   []string
}

var migrations = []migration{
	{
		version: 1,
		name:    "create_module_rows",
		stmts: []string{`
			CREATE TABLE module_rows (
				name TEXT PRIMARY KEY,
				host TEXT NOT NULL,
				port INTEGER NOT NULL,
				user TEXT NOT NULL,
				password TEXT NOT NULL,
				vmid INTEGER NOT NULL DEFAULT 0,
				ips TEXT NOT NULL DEFAULT '',
				insecure INTEGER NOT NULL DEFAULT 0,
				updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
			)`,
		},
	},
	{
		version: 2,
		name:    "create_services",
		stmts: []string{`
			CREATE TABLE services (
				name TEXT PRIMARY KEY,
				server TEXT NOT NULL,
				package TEXT NOT NULL,
				client_id TEXT NOT NULL,
				state TEXT NOT NULL,
				fields TEXT NOT NULL,
				created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
				updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
				FOREIGN KEY (server) REFERENCES module_rows(name)
			)`,
			`CREATE INDEX idx_services_server ON services(server)`,
		},
	},
}

// migrate applies every migration above the recorded schema version, each in
// its own transaction.
func migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	var current int64
	if err := db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&current); err != nil {
		return fmt.Errorf("failed to get current version: %w", err)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		if err := apply(ctx, db, m); err != nil {
			return fmt.Errorf("failed to run migration %d (%s): %w", m.version, m.name, err)
		}
	}
	return nil
}

func apply(ctx context.Context, db *sql.DB, m migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	for _, stmt := range m.stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_migrations (version, name) VALUES (?, ?)", m.version, m.name); err != nil {
		return err
	}
	return tx.Commit()
}
