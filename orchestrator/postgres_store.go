package orchestrator

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ymera-labs/ymera/core"
)

// TaskStore durably mirrors task lifecycle transitions. It is not
// authoritative — the in-memory Orchestrator always wins — but gives
// operators a queryable record that survives a process restart, the same
// best-effort-mirror relationship the registry's PresenceCache has to the
// in-memory Registry.
type TaskStore interface {
	RecordSubmitted(ctx context.Context, req TaskRequest) error
	RecordTerminal(ctx context.Context, result TaskResult) error
}

// noopTaskStore is used when no store is configured; every method is a
// cheap no-op so the orchestrator runs fully in-memory by default.
type noopTaskStore struct{}

func (noopTaskStore) RecordSubmitted(context.Context, TaskRequest) error { return nil }
func (noopTaskStore) RecordTerminal(context.Context, TaskResult) error   { return nil }

// PostgresTaskStore implements TaskStore backed by an externally-owned
// *pgxpool.Pool, following the same ownership rule as auditlog.Postgres:
// the caller creates and closes the pool.
type PostgresTaskStore struct {
	pool   *pgxpool.Pool
	logger core.Logger
}

// NewPostgresTaskStore constructs a TaskStore using an existing pool.
func NewPostgresTaskStore(pool *pgxpool.Pool, logger core.Logger) *PostgresTaskStore {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &PostgresTaskStore{pool: pool, logger: logger}
}

// RecordSubmitted upserts a task's initial row. A task that already exists
// (retried submission, replay after crash) is left untouched.
func (s *PostgresTaskStore) RecordSubmitted(ctx context.Context, req TaskRequest) error {
	payload, err := req.Payload.MarshalJSON()
	if err != nil {
		return fmt.Errorf("orchestrator: marshal task payload: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO tasks (task_id, task_type, capability, payload, priority, requester_id, parent_task_id, status, created_at)
		VALUES ($1, $2, $3, $4::jsonb, $5, $6, $7, $8, $9)
		ON CONFLICT (task_id) DO NOTHING`,
		req.TaskID, req.TaskType, req.Capability, payload, int(req.Priority), req.RequesterID, nullIfEmpty(req.ParentTaskID), string(Pending), req.CreatedAt)
	if err != nil {
		return fmt.Errorf("orchestrator: record submitted: %w", err)
	}
	return nil
}

// RecordTerminal updates a task's row once it reaches a terminal status.
func (s *PostgresTaskStore) RecordTerminal(ctx context.Context, result TaskResult) error {
	payload, err := result.Result.MarshalJSON()
	if err != nil {
		return fmt.Errorf("orchestrator: marshal task result: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		UPDATE tasks
		SET status = $2, result = $3::jsonb, error = $4, agent_id = $5, execution_time_ms = $6, retries = $7, completed_at = now()
		WHERE task_id = $1`,
		result.TaskID, string(result.Status), payload, result.Error, nullIfEmpty(result.AgentID), result.ExecutionTimeMs, result.Retries)
	if err != nil {
		return fmt.Errorf("orchestrator: record terminal: %w", err)
	}
	return nil
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
