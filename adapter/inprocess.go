// Package adapter implements core.AgentAdapter transports: an in-process
// registry used by tests and single-binary deployments, an HTTP adapter
// for agents exposed over the network, and a WebSocket adapter for agents
// that hold a persistent connection open to the control plane.
package adapter

import (
	"context"
	"sync"
	"time"

	"github.com/ymera-labs/ymera/core"
)

// LocalHandler is a capability implementation registered directly in the
// control plane's process, bypassing any network transport.
type LocalHandler func(ctx context.Context, payload core.Value) (*core.InvocationResult, error)

// InProcess is a core.AgentAdapter that dispatches straight to handlers
// registered in this process. It never does network I/O.
type InProcess struct {
	mu       sync.RWMutex
	handlers map[string]LocalHandler // agentID -> handler
}

// NewInProcess constructs an empty InProcess adapter.
func NewInProcess() *InProcess {
	return &InProcess{handlers: make(map[string]LocalHandler)}
}

// Register binds agentID to handler. A later Register for the same
// agentID replaces the earlier one.
func (a *InProcess) Register(agentID string, handler LocalHandler) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.handlers[agentID] = handler
}

// Unregister removes agentID's handler.
func (a *InProcess) Unregister(agentID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.handlers, agentID)
}

// Has reports whether agentID has a registered handler.
func (a *InProcess) Has(agentID string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.handlers[agentID]
	return ok
}

// Invoke implements core.AgentAdapter.
func (a *InProcess) Invoke(ctx context.Context, agentID, capability string, payload core.Value, deadline time.Time) (*core.InvocationResult, error) {
	a.mu.RLock()
	handler, ok := a.handlers[agentID]
	a.mu.RUnlock()
	if !ok {
		return nil, core.NewError("Invoke", core.KindNotFound, core.ErrAgentNotFound)
	}

	callCtx := ctx
	if !deadline.IsZero() {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithDeadline(ctx, deadline)
		defer cancel()
	}
	return handler(callCtx, payload)
}
