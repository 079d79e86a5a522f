package workflow

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ymera-labs/ymera/core"
)

// ExecutionStore durably mirrors a workflow execution's terminal outcome
// and the per-step results it produced, for the same best-effort,
// not-authoritative reason orchestrator.TaskStore mirrors task outcomes.
type ExecutionStore interface {
	RecordTerminal(ctx context.Context, exec *WorkflowExecution) error
}

type noopExecutionStore struct{}

func (noopExecutionStore) RecordTerminal(context.Context, *WorkflowExecution) error { return nil }

// PostgresExecutionStore implements ExecutionStore backed by an
// externally-owned *pgxpool.Pool; the caller creates and closes the pool.
type PostgresExecutionStore struct {
	pool   *pgxpool.Pool
	logger core.Logger
}

// NewPostgresExecutionStore constructs an ExecutionStore using an existing
// pool.
func NewPostgresExecutionStore(pool *pgxpool.Pool, logger core.Logger) *PostgresExecutionStore {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &PostgresExecutionStore{pool: pool, logger: logger}
}

// RecordTerminal upserts the execution row and replaces its step rows
// wholesale — an execution's steps never change after it ends, so there is
// no incremental-update case to handle.
func (s *PostgresExecutionStore) RecordTerminal(ctx context.Context, exec *WorkflowExecution) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("workflow: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO workflows (execution_id, workflow_id, status, reason, started_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (execution_id) DO UPDATE SET status = $3, reason = $4, completed_at = $6`,
		exec.ExecutionID, exec.WorkflowID, string(exec.Status), exec.Reason, exec.StartedAt, exec.CompletedAt)
	if err != nil {
		return fmt.Errorf("workflow: upsert execution: %w", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM workflow_steps WHERE execution_id = $1`, exec.ExecutionID); err != nil {
		return fmt.Errorf("workflow: clear steps: %w", err)
	}
	for _, step := range exec.Steps {
		result, err := step.Result.MarshalJSON()
		if err != nil {
			return fmt.Errorf("workflow: marshal step result: %w", err)
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO workflow_steps (execution_id, step_id, status, result, error)
			VALUES ($1, $2, $3, $4::jsonb, $5)`,
			exec.ExecutionID, step.StepID, step.Status, result, step.Error)
		if err != nil {
			return fmt.Errorf("workflow: insert step %s: %w", step.StepID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("workflow: commit tx: %w", err)
	}
	return nil
}
