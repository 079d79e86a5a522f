// Package registry implements the Agent Registry (C2): the authoritative
// map of agent identity to capabilities, state, health, and load.
package registry

import (
	"time"

	"github.com/ymera-labs/ymera/core"
)

// State is an agent's position in the lifecycle state machine.
type State string

const (
	Initializing State = "INITIALIZING"
	Active       State = "ACTIVE"
	Busy         State = "BUSY"
	Idle         State = "IDLE"
	Degraded     State = "DEGRADED"
	Suspended    State = "SUSPENDED"
	Frozen       State = "FROZEN"
	Isolated     State = "ISOLATED"
	Deactivated  State = "DEACTIVATED"
	Deleted      State = "DELETED"
)

// allowedTransitions encodes the spec §4.2 table: destination set allowed
// from each source state. DELETED is terminal and handled specially (it
// requires an approval token, enforced by agentmanager, not here).
var allowedTransitions = map[State]map[State]bool{
	Initializing: {Active: true, Deactivated: true},
	Active:       {Degraded: true, Suspended: true, Frozen: true, Isolated: true, Deactivated: true},
	Busy:         {Degraded: true, Suspended: true, Frozen: true, Isolated: true, Deactivated: true},
	Idle:         {Degraded: true, Suspended: true, Frozen: true, Isolated: true, Deactivated: true},
	Degraded:     {Active: true, Isolated: true, Deactivated: true},
	Suspended:    {Active: true, Deactivated: true},
	Frozen:       {Active: true, Deactivated: true},
	Isolated:     {Active: true, Deactivated: true},
	Deactivated:  {Deleted: true},
	Deleted:      {},
}

// CanTransition reports whether from -> to is allowed by the lifecycle
// table. A same-state transition is always permitted as a no-op per spec §8
// ("transition(A→B); transition(B→B) is a no-op, not an error").
func CanTransition(from, to State) bool {
	if from == to {
		return true
	}
	return allowedTransitions[from][to]
}

// HeartbeatMetrics is the payload agents report alongside a heartbeat,
// consumed by the health_score EWMA.
type HeartbeatMetrics struct {
	CPUUsage      float64
	MemoryUsage   float64
	ErrorRate     float64
	ResponseTimeMs float64
}

// HeartbeatStats tracks heartbeat history for operator visibility, grounded
// on the teacher's HeartbeatStats (core/redis_registry.go).
type HeartbeatStats struct {
	SuccessCount int64
	FailureCount int64
	LastSuccess  time.Time
	LastFailure  time.Time
	StartedAt    time.Time
}

// Agent is the authoritative record for one external worker.
type Agent struct {
	AgentID             string
	Type                string
	Capabilities        map[string]bool
	State               State
	HealthScore         float64
	Load                int
	LastHeartbeatAt     time.Time
	Config              core.Value
	Metadata            core.Value
	FailureCount        int
	ConsecutiveFailures int
	RegisteredAt        time.Time
}

// Snapshot returns a defensive copy safe to hand to callers outside the
// registry's lock, matching the spec's "read-only snapshot" ownership rule.
func (a *Agent) Snapshot() *Agent {
	caps := make(map[string]bool, len(a.Capabilities))
	for k, v := range a.Capabilities {
		caps[k] = v
	}
	cp := *a
	cp.Capabilities = caps
	return &cp
}

// CapabilityList returns the agent's capabilities as a sorted-free slice.
func (a *Agent) CapabilityList() []string {
	out := make([]string, 0, len(a.Capabilities))
	for c := range a.Capabilities {
		out = append(out, c)
	}
	return out
}
