// Package discovery implements Agent Discovery (C3): selecting one agent
// for a capability using a named load-balancing strategy.
package discovery

import (
	"sync"

	"github.com/ymera-labs/ymera/core"
	"github.com/ymera-labs/ymera/registry"
)

// Strategy names a load-balancing policy.
type Strategy string

const (
	LeastLoaded    Strategy = "LEAST_LOADED"
	RoundRobin     Strategy = "ROUND_ROBIN"
	Random         Strategy = "RANDOM"
	WeightedHealth Strategy = "WEIGHTED_HEALTH"
)

// AgentSource is the read surface discovery needs from the registry.
type AgentSource interface {
	FindByCapability(capability string, minHealth float64, excludeStates map[registry.State]bool) []*registry.Agent
}

var activeStates = map[registry.State]bool{
	registry.Active: true,
	registry.Idle:   true,
}

// Discovery selects candidate agents from a registry and applies a
// load-balancing strategy. Round-robin state is held per capability under a
// single lock, matching the spec's "rotation counter under a lock".
type Discovery struct {
	source AgentSource
	rng    core.RNG

	mu       sync.Mutex
	rrCursor map[string]int
}

// New constructs a Discovery over source.
func New(source AgentSource) *Discovery {
	return &Discovery{source: source, rng: core.SystemRNG{}, rrCursor: make(map[string]int)}
}

// WithRNG overrides the default random source, for deterministic tests.
func (d *Discovery) WithRNG(rng core.RNG) *Discovery {
	d.rng = rng
	return d
}

// Discover returns one agent id selected by strategy, or ("", false) if no
// candidate exists. excludeAgentIDs is used by the orchestrator to keep a
// just-tripped-breaker agent out of the next attempt (spec §4.4 step 7).
func (d *Discovery) Discover(capability string, strategy Strategy, minHealth float64, excludeAgentIDs map[string]bool) (string, bool) {
	candidates := d.source.FindByCapability(capability, minHealth, nil)
	if len(candidates) == 0 {
		return "", false
	}

	filtered := candidates[:0:0]
	for _, c := range candidates {
		if !activeStates[c.State] {
			continue
		}
		if excludeAgentIDs[c.AgentID] {
			continue
		}
		filtered = append(filtered, c)
	}
	if len(filtered) == 0 {
		return "", false
	}

	switch strategy {
	case RoundRobin:
		return d.roundRobin(capability, filtered), true
	case Random:
		return filtered[d.rng.Intn(len(filtered))].AgentID, true
	case WeightedHealth:
		return d.weightedHealth(filtered), true
	case LeastLoaded:
		fallthrough
	default:
		return d.leastLoaded(filtered), true
	}
}

// leastLoaded picks the lowest load; ties break by highest health_score,
// then earliest registered_at.
func (d *Discovery) leastLoaded(agents []*registry.Agent) string {
	best := agents[0]
	for _, a := range agents[1:] {
		switch {
		case a.Load < best.Load:
			best = a
		case a.Load == best.Load && a.HealthScore > best.HealthScore:
			best = a
		case a.Load == best.Load && a.HealthScore == best.HealthScore && a.RegisteredAt.Before(best.RegisteredAt):
			best = a
		}
	}
	return best.AgentID
}

// roundRobin advances a per-capability cursor under a lock.
func (d *Discovery) roundRobin(capability string, agents []*registry.Agent) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	idx := d.rrCursor[capability] % len(agents)
	d.rrCursor[capability] = idx + 1
	return agents[idx].AgentID
}

// weightedHealth picks proportional to health_score^2.
func (d *Discovery) weightedHealth(agents []*registry.Agent) string {
	total := 0.0
	for _, a := range agents {
		total += a.HealthScore * a.HealthScore
	}
	if total <= 0 {
		return agents[d.rng.Intn(len(agents))].AgentID
	}
	r := d.rng.Float64() * total
	cum := 0.0
	for _, a := range agents {
		cum += a.HealthScore * a.HealthScore
		if r <= cum {
			return a.AgentID
		}
	}
	return agents[len(agents)-1].AgentID
}
