package core

import (
	"context"
	"time"
)

// InvocationResult is what an agent returns from a successful capability
// invocation.
type InvocationResult struct {
	Payload  Value
	Metadata map[string]string
}

// AgentAdapter is the collaborator the orchestrator and agent manager use to
// actually reach an agent, regardless of transport. Production adapters
// live under the adapter/ package (in-process, HTTP, WebSocket); tests
// supply fakes satisfying this interface directly.
type AgentAdapter interface {
	// Invoke delivers a capability call to agentID and blocks until the
	// agent responds, the deadline elapses, or cancel is triggered.
	Invoke(ctx context.Context, agentID, capability string, payload Value, deadline time.Time) (*InvocationResult, error)
}

// DurableLog is an append-only log collaborator used for the audit trail
// (agent lifecycle transitions, approval decisions, task terminal states).
// Implementations live under auditlog/ (Postgres-backed, optionally
// fanned out to NATS).
type DurableLog interface {
	Append(ctx context.Context, kind string, body Value) error
}
