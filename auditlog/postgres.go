// Package auditlog implements core.DurableLog: an append-only record of
// agent lifecycle transitions, approval decisions, and task/workflow
// terminal states, backed by PostgreSQL with an optional NATS fan-out for
// external consumers (SIEM ingestion, compliance mirrors). The audit_log
// table's schema is owned by migrations, not this package — run
// "ymerractl migrate up" before the first Append.
package auditlog

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ymera-labs/ymera/core"
)

// Fanout is the optional external mirror a Postgres log forwards every
// appended entry to, best-effort.
type Fanout interface {
	Publish(ctx context.Context, topic string, payload core.Value)
}

// Postgres implements core.DurableLog backed by an externally-owned
// *pgxpool.Pool. The caller creates and closes the pool.
type Postgres struct {
	pool   *pgxpool.Pool
	logger core.Logger
	fanout Fanout
}

// Option configures a Postgres log.
type Option func(*Postgres)

// WithLogger sets the logger used for fanout-failure warnings.
func WithLogger(logger core.Logger) Option {
	return func(p *Postgres) { p.logger = logger }
}

// WithFanout mirrors every appended entry to fanout under the
// "audit.<kind>" topic, best-effort.
func WithFanout(fanout Fanout) Option {
	return func(p *Postgres) { p.fanout = fanout }
}

// New constructs a Postgres audit log using an existing pool.
func New(pool *pgxpool.Pool, opts ...Option) *Postgres {
	p := &Postgres{pool: pool, logger: &core.NoOpLogger{}}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Append implements core.DurableLog. It inserts one row and, if a Fanout
// is configured, mirrors the entry best-effort — a fanout failure is
// logged but never fails the Append call, since the durable row is
// already committed.
func (p *Postgres) Append(ctx context.Context, kind string, body core.Value) error {
	raw, err := body.MarshalJSON()
	if err != nil {
		return fmt.Errorf("auditlog: marshal body: %w", err)
	}

	if _, err := p.pool.Exec(ctx, `INSERT INTO audit_log (kind, body) VALUES ($1, $2::jsonb)`, kind, raw); err != nil {
		return fmt.Errorf("auditlog: append: %w", err)
	}

	if p.fanout != nil {
		p.fanout.Publish(ctx, fanoutTopic(kind), body)
	}
	return nil
}

func fanoutTopic(kind string) string {
	return "audit." + kind
}

// Entry is one row read back from the log.
type Entry struct {
	ID         int64
	Kind       string
	Body       core.Value
	RecordedAt string
}

// Query returns the most recent entries of kind, most recent first. kind
// == "" matches every kind.
func (p *Postgres) Query(ctx context.Context, kind string, limit int) ([]Entry, error) {
	var rows pgx.Rows
	var err error
	if kind == "" {
		rows, err = p.pool.Query(ctx, `SELECT id, kind, body, recorded_at FROM audit_log ORDER BY id DESC LIMIT $1`, limit)
	} else {
		rows, err = p.pool.Query(ctx, `SELECT id, kind, body, recorded_at FROM audit_log WHERE kind = $1 ORDER BY id DESC LIMIT $2`, kind, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("auditlog: query: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var raw []byte
		if err := rows.Scan(&e.ID, &e.Kind, &raw, &e.RecordedAt); err != nil {
			return nil, fmt.Errorf("auditlog: scan: %w", err)
		}
		v, err := core.FromJSON(raw)
		if err != nil {
			return nil, fmt.Errorf("auditlog: decode body: %w", err)
		}
		e.Body = v
		out = append(out, e)
	}
	return out, rows.Err()
}

// QueryFilter narrows QueryFiltered's result set. Zero-value fields are
// unconstrained. Mirrors the original audit service's query_events filter
// set (action/time-range/limit/offset).
type QueryFilter struct {
	Kind   string
	Since  time.Time
	Until  time.Time
	Limit  int
	Offset int
}

// buildFilteredQuery renders filter into a parameterized SQL query and its
// positional arguments, factored out of QueryFiltered for unit testing
// without a live database.
func buildFilteredQuery(filter QueryFilter) (string, []interface{}) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	var conds []string
	var args []interface{}
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	query := "SELECT id, kind, body, recorded_at FROM audit_log"
	if filter.Kind != "" {
		conds = append(conds, "kind = "+arg(filter.Kind))
	}
	if !filter.Since.IsZero() {
		conds = append(conds, "recorded_at >= "+arg(filter.Since))
	}
	if !filter.Until.IsZero() {
		conds = append(conds, "recorded_at <= "+arg(filter.Until))
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += fmt.Sprintf(" ORDER BY id DESC LIMIT %s OFFSET %s", arg(limit), arg(filter.Offset))
	return query, args
}

// QueryFiltered returns entries matching filter, most recent first.
func (p *Postgres) QueryFiltered(ctx context.Context, filter QueryFilter) ([]Entry, error) {
	query, args := buildFilteredQuery(filter)

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("auditlog: query filtered: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var raw []byte
		if err := rows.Scan(&e.ID, &e.Kind, &raw, &e.RecordedAt); err != nil {
			return nil, fmt.Errorf("auditlog: scan: %w", err)
		}
		v, err := core.FromJSON(raw)
		if err != nil {
			return nil, fmt.Errorf("auditlog: decode body: %w", err)
		}
		e.Body = v
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close is a no-op; the caller owns the pool.
func (p *Postgres) Close() error { return nil }
