package registry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ymera-labs/ymera/core"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }
func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- c.now.Add(d)
	return ch
}
func (c *fakeClock) Sleep(d time.Duration) { c.now = c.now.Add(d) }

func newTestRegistry(clock core.Clock) *Registry {
	return New(Config{Clock: clock, HeartbeatTimeout: 30 * time.Second})
}

func TestRegisterIsIdempotent(t *testing.T) {
	r := newTestRegistry(&fakeClock{now: time.Now()})
	ctx := context.Background()

	a1, err := r.Register(ctx, "agent-1", "worker", []string{"summarize"}, core.Null(), core.Null())
	require.NoError(t, err)

	a2, err := r.Register(ctx, "agent-1", "worker", []string{"summarize"}, core.Null(), core.Null())
	require.NoError(t, err)

	assert.Equal(t, a1.AgentID, a2.AgentID)
	assert.Equal(t, a1.RegisteredAt, a2.RegisteredAt)

	found := r.FindByCapability("summarize", 0, nil)
	require.Len(t, found, 1)
	assert.Equal(t, "agent-1", found[0].AgentID)
}

func TestTransitionValidatesAllowedTable(t *testing.T) {
	r := newTestRegistry(&fakeClock{now: time.Now()})
	ctx := context.Background()
	_, err := r.Register(ctx, "agent-1", "worker", []string{"x"}, core.Null(), core.Null())
	require.NoError(t, err)

	_, err = r.Transition(ctx, "agent-1", Active, "startup complete", "system")
	require.NoError(t, err)

	_, err = r.Transition(ctx, "agent-1", Active, "no-op", "system")
	assert.NoError(t, err, "A->A is a no-op, not an error")

	_, err = r.Transition(ctx, "agent-1", Deleted, "skip approval", "system")
	assert.True(t, core.IsInvalidTransition(err))
}

func TestLoadNeverUnderflows(t *testing.T) {
	r := newTestRegistry(&fakeClock{now: time.Now()})
	ctx := context.Background()
	_, err := r.Register(ctx, "agent-1", "worker", []string{"x"}, core.Null(), core.Null())
	require.NoError(t, err)

	require.NoError(t, r.DecrementLoad("agent-1"))
	agent, err := r.Get("agent-1")
	require.NoError(t, err)
	assert.Equal(t, 0, agent.Load)
}

func TestRecordFailureDegradesAfterThreshold(t *testing.T) {
	r := New(Config{Clock: &fakeClock{now: time.Now()}, MaxConsecutiveFailures: 2})
	ctx := context.Background()
	_, err := r.Register(ctx, "agent-1", "worker", []string{"x"}, core.Null(), core.Null())
	require.NoError(t, err)
	_, err = r.Transition(ctx, "agent-1", Active, "up", "system")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.NoError(t, r.RecordFailure(ctx, "agent-1"))
	}

	agent, err := r.Get("agent-1")
	require.NoError(t, err)
	assert.Equal(t, Degraded, agent.State)
}

func TestSweepIsolatesStaleHeartbeats(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	r := New(Config{Clock: clock, HeartbeatTimeout: 30 * time.Second})
	ctx := context.Background()
	_, err := r.Register(ctx, "agent-1", "worker", []string{"x"}, core.Null(), core.Null())
	require.NoError(t, err)
	_, err = r.Transition(ctx, "agent-1", Active, "up", "system")
	require.NoError(t, err)
	require.NoError(t, r.Heartbeat(ctx, "agent-1", HeartbeatMetrics{}))

	clock.now = clock.now.Add(31 * time.Second)
	r.SweepStaleHeartbeats(ctx)

	agent, err := r.Get("agent-1")
	require.NoError(t, err)
	assert.Equal(t, Isolated, agent.State)
}

func TestSweepSkewEqualToTimeoutIsNotIsolated(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	r := New(Config{Clock: clock, HeartbeatTimeout: 30 * time.Second})
	ctx := context.Background()
	_, _ = r.Register(ctx, "agent-1", "worker", []string{"x"}, core.Null(), core.Null())
	_, _ = r.Transition(ctx, "agent-1", Active, "up", "system")
	require.NoError(t, r.Heartbeat(ctx, "agent-1", HeartbeatMetrics{}))

	clock.now = clock.now.Add(30 * time.Second)
	r.SweepStaleHeartbeats(ctx)

	agent, err := r.Get("agent-1")
	require.NoError(t, err)
	assert.Equal(t, Active, agent.State, "skew equal to heartbeat_timeout is not isolated")
}
