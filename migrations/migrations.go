// Package migrations owns the SQL schema for every Postgres-backed
// component: the audit log (C9), and the best-effort task/workflow
// mirrors kept by the orchestrator (C4) and workflow engine (C5). It wraps
// goose so cmd/ymerractl's "migrate" subcommand is a thin CLI shim over a
// versioned, embedded migration set rather than ad hoc DDL scattered
// across package Init methods.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"
)

//go:embed *.sql
var files embed.FS

// provider lazily builds a goose.Provider bound to db, since goose.NewProvider
// itself needs the *sql.DB rather than a pool, matching the "one connection
// for DDL" shape the CLI uses (the long-lived pgxpool.Pool used by the
// running daemon is a separate connection set entirely).
func provider(db *sql.DB) (*goose.Provider, error) {
	p, err := goose.NewProvider(goose.DialectPostgres, db, files)
	if err != nil {
		return nil, fmt.Errorf("migrations: new provider: %w", err)
	}
	return p, nil
}

// Up applies every pending migration, in order.
func Up(ctx context.Context, db *sql.DB) error {
	p, err := provider(db)
	if err != nil {
		return err
	}
	if _, err := p.Up(ctx); err != nil {
		return fmt.Errorf("migrations: up: %w", err)
	}
	return nil
}

// Down rolls back exactly one migration, the most recently applied.
func Down(ctx context.Context, db *sql.DB) error {
	p, err := provider(db)
	if err != nil {
		return err
	}
	if _, err := p.Down(ctx); err != nil {
		return fmt.Errorf("migrations: down: %w", err)
	}
	return nil
}

// Status reports every migration's applied/pending state, in ascending
// version order, for cmd/ymerractl's "migrate status" output.
func Status(ctx context.Context, db *sql.DB) ([]*goose.MigrationStatus, error) {
	p, err := provider(db)
	if err != nil {
		return nil, err
	}
	status, err := p.Status(ctx)
	if err != nil {
		return nil, fmt.Errorf("migrations: status: %w", err)
	}
	return status, nil
}
