package adapter

import (
	"context"
	"time"

	"github.com/ymera-labs/ymera/core"
)

// registered is the subset each transport-specific adapter exposes so Multi
// can check whether it owns a given agent before routing to it.
type registered interface {
	core.AgentAdapter
	Has(agentID string) bool
}

// Multi dispatches Invoke to whichever transport currently owns agentID,
// trying each configured transport in order. Agents self-select their
// transport by how they register (in-process handler, HTTP base URL, or a
// live WebSocket connection); Multi just routes to whichever claimed them,
// so orchestrator.Config.Adapter stays a single core.AgentAdapter no matter
// how many transports the control plane actually serves.
type Multi struct {
	transports []registered
}

// NewMulti builds a Multi trying each transport in the given order.
func NewMulti(transports ...registered) *Multi {
	return &Multi{transports: transports}
}

// Invoke implements core.AgentAdapter.
func (m *Multi) Invoke(ctx context.Context, agentID, capability string, payload core.Value, deadline time.Time) (*core.InvocationResult, error) {
	for _, t := range m.transports {
		if t.Has(agentID) {
			return t.Invoke(ctx, agentID, capability, payload, deadline)
		}
	}
	return nil, core.NewError("Invoke", core.KindNotFound, core.ErrAgentNotFound)
}
