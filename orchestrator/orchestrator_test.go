package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ymera-labs/ymera/breaker"
	"github.com/ymera-labs/ymera/core"
	"github.com/ymera-labs/ymera/discovery"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}
func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- c.Now().Add(d)
	return ch
}
func (c *fakeClock) Sleep(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fakeDiscovery struct {
	mu      sync.Mutex
	agentID string
	found   bool
	calls   int
	lastExclude map[string]bool
}

func (d *fakeDiscovery) Discover(capability string, strategy discovery.Strategy, minHealth float64, exclude map[string]bool) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	d.lastExclude = exclude
	if exclude[d.agentID] {
		return "", false
	}
	return d.agentID, d.found
}

// fakeDiscoveryFallback returns the first agent in preference order that
// isn't excluded, letting tests simulate discovery re-routing around a
// breaker-tripped agent.
type fakeDiscoveryFallback struct {
	mu     sync.Mutex
	agents []string
}

func (d *fakeDiscoveryFallback) Discover(capability string, strategy discovery.Strategy, minHealth float64, exclude map[string]bool) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, a := range d.agents {
		if !exclude[a] {
			return a, true
		}
	}
	return "", false
}

type fakeLoads struct {
	mu       sync.Mutex
	failures int
	successes int
}

func (f *fakeLoads) IncrementLoad(string) error { return nil }
func (f *fakeLoads) DecrementLoad(string) error { return nil }
func (f *fakeLoads) RecordFailure(context.Context, string) error {
	f.mu.Lock()
	f.failures++
	f.mu.Unlock()
	return nil
}
func (f *fakeLoads) RecordSuccess(string) {
	f.mu.Lock()
	f.successes++
	f.mu.Unlock()
}

type fakeAdapter struct {
	mu          sync.Mutex
	invokes     int
	fail        bool
	hang        bool
	failForAgent string // if set, only this agent's invocations fail
}

func (a *fakeAdapter) Invoke(ctx context.Context, agentID, capability string, payload core.Value, deadline time.Time) (*core.InvocationResult, error) {
	a.mu.Lock()
	a.invokes++
	a.mu.Unlock()
	if a.hang {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if a.fail || (a.failForAgent != "" && agentID == a.failForAgent) {
		return nil, core.NewError("invoke", core.KindInternal, core.ErrDependencyFailed)
	}
	return &core.InvocationResult{Payload: core.String("ok")}, nil
}

func newTestOrchestrator(t *testing.T, disc Discoverer, loads AgentLoadTracker, adapter core.AgentAdapter, clock core.Clock) *Orchestrator {
	t.Helper()
	return New(Config{
		WorkerCount:      1,
		Discovery:        disc,
		Loads:            loads,
		Breakers:         breaker.NewRegistry(breaker.DefaultConfig("")),
		Adapter:          adapter,
		Clock:            clock,
		DefaultTimeout:   time.Second,
		MaxRetryAttempts: 3,
	})
}

func waitForTerminal(t *testing.T, o *Orchestrator, taskID string, timeout time.Duration) TaskResult {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		res, ok := o.GetResult(taskID)
		if ok && res.Status.terminal() {
			return res
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("task %s did not reach a terminal state in time", taskID)
	return TaskResult{}
}

func TestSubmitAndSucceed(t *testing.T) {
	disc := &fakeDiscovery{agentID: "agent-1", found: true}
	loads := &fakeLoads{}
	adapter := &fakeAdapter{}
	clock := &fakeClock{now: time.Now()}
	o := newTestOrchestrator(t, disc, loads, adapter, clock)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go o.Run(ctx)

	id, err := o.Submit(context.Background(), TaskRequest{Capability: "summarize"})
	require.NoError(t, err)

	res := waitForTerminal(t, o, id, time.Second)
	assert.Equal(t, Completed, res.Status)
	assert.Equal(t, "agent-1", res.AgentID)
	assert.Equal(t, 1, loads.successes)
}

func TestNoAgentAvailableFailsWithoutRetry(t *testing.T) {
	disc := &fakeDiscovery{found: false}
	o := newTestOrchestrator(t, disc, &fakeLoads{}, &fakeAdapter{}, &fakeClock{now: time.Now()})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go o.Run(ctx)

	id, err := o.Submit(context.Background(), TaskRequest{Capability: "summarize", MaxRetries: 5})
	require.NoError(t, err)

	res := waitForTerminal(t, o, id, time.Second)
	assert.Equal(t, Failed, res.Status)
	assert.Equal(t, 0, res.Retries)
}

func TestFailureRetriesThenSucceedsAfterAdapterRecovers(t *testing.T) {
	disc := &fakeDiscovery{agentID: "agent-1", found: true}
	loads := &fakeLoads{}
	adapter := &fakeAdapter{fail: true}
	// A real clock, so the retry backoff actually waits past the recovery below.
	clock := core.SystemClock{}
	o := newTestOrchestrator(t, disc, loads, adapter, clock)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go o.Run(ctx)

	id, err := o.Submit(context.Background(), TaskRequest{Capability: "summarize", MaxRetries: 2, RetryBaseDelay: 20 * time.Millisecond})
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	adapter.mu.Lock()
	adapter.fail = false
	adapter.mu.Unlock()

	res := waitForTerminal(t, o, id, time.Second)
	assert.Equal(t, Completed, res.Status)
	assert.True(t, res.Retries >= 1)
}

func TestCancelPendingTaskIsImmediate(t *testing.T) {
	disc := &fakeDiscovery{agentID: "agent-1", found: true}
	o := newTestOrchestrator(t, disc, &fakeLoads{}, &fakeAdapter{}, &fakeClock{now: time.Now()})

	id, err := o.Submit(context.Background(), TaskRequest{Capability: "summarize"})
	require.NoError(t, err)

	ok, err := o.Cancel(id)
	require.NoError(t, err)
	assert.True(t, ok)

	status, found := o.GetStatus(id)
	require.True(t, found)
	assert.Equal(t, Cancelled, status)
}

func TestCancelUnknownTaskIsNotFound(t *testing.T) {
	o := newTestOrchestrator(t, &fakeDiscovery{}, &fakeLoads{}, &fakeAdapter{}, &fakeClock{now: time.Now()})
	_, err := o.Cancel("nope")
	assert.True(t, core.IsNotFound(err))
}

func TestSubmitRejectsWhenSaturatedAndNotBlocking(t *testing.T) {
	o := New(Config{
		WorkerCount:        1,
		MaxConcurrentTasks: 1,
		BlockOnSaturation:  false,
		Discovery:          &fakeDiscovery{agentID: "a", found: true},
		Loads:              &fakeLoads{},
		Breakers:           breaker.NewRegistry(breaker.DefaultConfig("")),
		Adapter:            &fakeAdapter{hang: true},
		Clock:              &fakeClock{now: time.Now()},
	})

	_, err := o.Submit(context.Background(), TaskRequest{Capability: "x"})
	require.NoError(t, err)
	_, err = o.Submit(context.Background(), TaskRequest{Capability: "x"})
	assert.True(t, core.IsSaturated(err))
}

func TestCircuitOpenExcludesAgentAndRetriesOnAnotherAgent(t *testing.T) {
	disc := &fakeDiscoveryFallback{agents: []string{"agent-1", "agent-2"}}
	loads := &fakeLoads{}
	adapter := &fakeAdapter{failForAgent: "agent-1"}
	clock := &fakeClock{now: time.Now()}

	breakerCfg := breaker.DefaultConfig("")
	breakerCfg.FailureThreshold = 1
	breakerCfg.MinThroughput = 1
	breakerCfg.OpenTimeout = time.Hour

	o := New(Config{
		WorkerCount:      1,
		Discovery:        disc,
		Loads:            loads,
		Breakers:         breaker.NewRegistry(breakerCfg),
		Adapter:          adapter,
		Clock:            clock,
		DefaultTimeout:   time.Second,
		MaxRetryAttempts: 3,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go o.Run(ctx)

	id, err := o.Submit(context.Background(), TaskRequest{Capability: "summarize", MaxRetries: 3, RetryBaseDelay: time.Millisecond})
	require.NoError(t, err)

	res := waitForTerminal(t, o, id, time.Second)
	// First attempt trips agent-1's breaker with a plain failure; the retry
	// sees CircuitOpen for agent-1, excludes it, and a further retry routes
	// to agent-2, which succeeds — the exclusion must not terminally fail
	// the task while agent-2 could still serve it.
	assert.Equal(t, Completed, res.Status)
	assert.Equal(t, "agent-2", res.AgentID)
}

func TestListReturnsAllKnownTasks(t *testing.T) {
	disc := &fakeDiscovery{agentID: "agent-1", found: true}
	o := newTestOrchestrator(t, disc, &fakeLoads{}, &fakeAdapter{}, &fakeClock{now: time.Now()})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go o.Run(ctx)

	id1, err := o.Submit(context.Background(), TaskRequest{Capability: "a"})
	require.NoError(t, err)
	id2, err := o.Submit(context.Background(), TaskRequest{Capability: "b"})
	require.NoError(t, err)

	waitForTerminal(t, o, id1, time.Second)
	waitForTerminal(t, o, id2, time.Second)

	ids := make(map[string]bool)
	for _, r := range o.List() {
		ids[r.TaskID] = true
	}
	assert.True(t, ids[id1])
	assert.True(t, ids[id2])
}
