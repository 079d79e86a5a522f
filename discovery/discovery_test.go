package discovery

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ymera-labs/ymera/registry"
)

type stubSource struct {
	agents []*registry.Agent
}

func (s *stubSource) FindByCapability(capability string, minHealth float64, excludeStates map[registry.State]bool) []*registry.Agent {
	var out []*registry.Agent
	for _, a := range s.agents {
		if !a.Capabilities[capability] {
			continue
		}
		if excludeStates[a.State] {
			continue
		}
		if a.HealthScore < minHealth {
			continue
		}
		out = append(out, a)
	}
	return out
}

type fixedRNG struct {
	f   float64
	idx int
}

func (r *fixedRNG) Float64() float64 { return r.f }
func (r *fixedRNG) Intn(n int) int   { return r.idx % n }

func agent(id string, state registry.State, load int, health float64) *registry.Agent {
	return &registry.Agent{
		AgentID:      id,
		Capabilities: map[string]bool{"summarize": true},
		State:        state,
		Load:         load,
		HealthScore:  health,
	}
}

func TestDiscoverReturnsFalseWhenNoCandidate(t *testing.T) {
	d := New(&stubSource{})
	_, ok := d.Discover("summarize", LeastLoaded, 0.5, nil)
	assert.False(t, ok)
}

func TestDiscoverFiltersNonActiveStates(t *testing.T) {
	src := &stubSource{agents: []*registry.Agent{
		agent("a1", registry.Suspended, 0, 1.0),
		agent("a2", registry.Busy, 0, 1.0),
	}}
	d := New(src)
	_, ok := d.Discover("summarize", LeastLoaded, 0, nil)
	assert.False(t, ok, "BUSY and SUSPENDED are not eligible for discovery")
}

func TestLeastLoadedPicksLowestLoad(t *testing.T) {
	src := &stubSource{agents: []*registry.Agent{
		agent("a1", registry.Active, 5, 0.9),
		agent("a2", registry.Idle, 2, 0.7),
		agent("a3", registry.Active, 2, 0.95),
	}}
	d := New(src)
	id, ok := d.Discover("summarize", LeastLoaded, 0, nil)
	require.True(t, ok)
	assert.Equal(t, "a3", id, "ties on load break toward higher health_score")
}

func TestExcludeAgentIDsSkipsTrippedBreakerAgent(t *testing.T) {
	src := &stubSource{agents: []*registry.Agent{
		agent("a1", registry.Active, 0, 0.9),
		agent("a2", registry.Active, 0, 0.9),
	}}
	d := New(src)
	id, ok := d.Discover("summarize", LeastLoaded, 0, map[string]bool{"a1": true})
	require.True(t, ok)
	assert.Equal(t, "a2", id)
}

func TestRoundRobinAdvancesPerCapability(t *testing.T) {
	src := &stubSource{agents: []*registry.Agent{
		agent("a1", registry.Active, 0, 1.0),
		agent("a2", registry.Active, 0, 1.0),
	}}
	d := New(src)
	first, _ := d.Discover("summarize", RoundRobin, 0, nil)
	second, _ := d.Discover("summarize", RoundRobin, 0, nil)
	third, _ := d.Discover("summarize", RoundRobin, 0, nil)
	assert.Equal(t, first, third, "cursor wraps after covering all candidates")
	assert.NotEqual(t, first, second)
}

func TestWeightedHealthFavorsHigherHealthDeterministically(t *testing.T) {
	src := &stubSource{agents: []*registry.Agent{
		agent("a1", registry.Active, 0, 0.1),
		agent("a2", registry.Active, 0, 0.9),
	}}
	d := New(src).WithRNG(&fixedRNG{f: 0.99})
	id, ok := d.Discover("summarize", WeightedHealth, 0, nil)
	require.True(t, ok)
	assert.Equal(t, "a2", id, "a high random draw should land past a1's small weight slice")
}
