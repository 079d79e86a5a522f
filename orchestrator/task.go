// Package orchestrator implements the Task Orchestrator (C4): a priority
// queue drained by a fixed-size worker pool, each worker routing a task to
// an agent through discovery and a per-agent circuit breaker.
package orchestrator

import (
	"time"

	"github.com/ymera-labs/ymera/core"
)

// Priority orders tasks; higher values run first.
type Priority int

const (
	Low       Priority = 1
	Normal    Priority = 2
	High      Priority = 3
	Critical  Priority = 4
	Emergency Priority = 5
)

// Status is a task's position in its lifecycle.
type Status string

const (
	Pending   Status = "PENDING"
	Queued    Status = "QUEUED"
	Routing   Status = "ROUTING"
	Executing Status = "EXECUTING"
	Completed Status = "COMPLETED"
	Failed    Status = "FAILED"
	Cancelled Status = "CANCELLED"
	Timeout   Status = "TIMEOUT"
	Retrying  Status = "RETRYING"
)

func (s Status) terminal() bool {
	switch s {
	case Completed, Failed, Cancelled, Timeout:
		return true
	default:
		return false
	}
}

// TaskRequest is the caller-supplied description of work to route.
type TaskRequest struct {
	TaskID         string
	TaskType       string
	Capability     string
	Payload        core.Value
	Priority       Priority
	TimeoutSeconds int
	MaxRetries     int
	RetryBaseDelay time.Duration
	RequesterID    string
	ParentTaskID   string
	CreatedAt      time.Time

	// ForcedAgentID bypasses discovery and routes directly to one agent.
	// Used by the admin-directed assign_task path (spec §4.6): the task
	// still travels the full C4 execution path (load accounting, circuit
	// breaker, retry/backoff), it just skips the discover() call.
	ForcedAgentID string
}

// TaskResult is the outward-facing outcome of one task.
type TaskResult struct {
	TaskID          string
	Status          Status
	Result          core.Value
	Error           string
	AgentID         string
	ExecutionTimeMs int64
	Retries         int
}

// taskContext is the orchestrator's internal, mutable record for one task.
// Once Status is terminal it is never mutated again.
type taskContext struct {
	req            TaskRequest
	status         Status
	currentAgentID string
	retryCount     int
	startedAt      time.Time
	lastRetryAt    time.Time
	errorHistory   []string
	result         core.Value
	completedAt    time.Time
	executionMs    int64
	enqueueSeq     uint64
	excludeAgents  map[string]bool
	cancelled      bool
	callbacks      []func(TaskResult)
}

func (tc *taskContext) toResult() TaskResult {
	errMsg := ""
	if len(tc.errorHistory) > 0 {
		errMsg = tc.errorHistory[len(tc.errorHistory)-1]
	}
	return TaskResult{
		TaskID:          tc.req.TaskID,
		Status:          tc.status,
		Result:          tc.result,
		Error:           errMsg,
		AgentID:         tc.currentAgentID,
		ExecutionTimeMs: tc.executionMs,
		Retries:         tc.retryCount,
	}
}
