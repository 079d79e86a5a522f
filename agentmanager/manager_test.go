package agentmanager

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ymera-labs/ymera/core"
	"github.com/ymera-labs/ymera/orchestrator"
	"github.com/ymera-labs/ymera/registry"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time                        { return c.now }
func (c *fakeClock) After(d time.Duration) <-chan time.Time { ch := make(chan time.Time, 1); ch <- c.now.Add(d); return ch }
func (c *fakeClock) Sleep(d time.Duration)                  { c.now = c.now.Add(d) }

type fakeAssigner struct {
	lastReq orchestrator.TaskRequest
}

func (f *fakeAssigner) Submit(ctx context.Context, req orchestrator.TaskRequest) (string, error) {
	f.lastReq = req
	return "task-1", nil
}

func newTestManager(t *testing.T) (*Manager, *registry.Registry, *fakeAssigner) {
	t.Helper()
	reg := registry.New(registry.Config{})
	assigner := &fakeAssigner{}
	mgr := New(Config{Registry: reg, Orchestrator: assigner, Clock: &fakeClock{now: time.Now()}, ApprovalTTL: time.Minute})
	return mgr, reg, assigner
}

func TestRegisterAndActivate(t *testing.T) {
	mgr, reg, _ := newTestManager(t)
	ctx := context.Background()
	_, err := mgr.RegisterAgent(ctx, "agent-1", "worker", []string{"x"}, core.Null(), core.Null())
	require.NoError(t, err)

	require.NoError(t, mgr.Activate(ctx, "agent-1", "startup", "system"))

	agent, err := reg.Get("agent-1")
	require.NoError(t, err)
	assert.Equal(t, registry.Active, agent.State)
}

func TestDeleteAgentWithoutApprovalFails(t *testing.T) {
	mgr, _, _ := newTestManager(t)
	ctx := context.Background()
	_, _ = mgr.RegisterAgent(ctx, "agent-1", "worker", nil, core.Null(), core.Null())

	err := mgr.DeleteAgent(ctx, "agent-1", "cleanup", "admin", "missing-id", "bogus-token")
	assert.True(t, core.IsApprovalRequired(err))
}

func TestDeleteAgentWithValidApprovalSucceeds(t *testing.T) {
	mgr, reg, _ := newTestManager(t)
	ctx := context.Background()
	_, _ = mgr.RegisterAgent(ctx, "agent-1", "worker", nil, core.Null(), core.Null())
	require.NoError(t, reg.Heartbeat(ctx, "agent-1", registry.HeartbeatMetrics{}))
	_, err := reg.Transition(ctx, "agent-1", registry.Deactivated, "shutdown", "system")
	require.NoError(t, err)

	approvalID, token, err := mgr.RequestDeleteApproval(ctx, "agent-1", "admin-1")
	require.NoError(t, err)

	require.NoError(t, mgr.DeleteAgent(ctx, "agent-1", "cleanup", "admin-2", approvalID, token))

	_, err = reg.Get("agent-1")
	assert.True(t, core.IsNotFound(err), "deleted agent must be removed from the registry's authoritative map and every CapabilityIndex")
}

func TestApproveExecutesBoundDeleteAction(t *testing.T) {
	mgr, reg, _ := newTestManager(t)
	ctx := context.Background()
	_, _ = mgr.RegisterAgent(ctx, "agent-1", "worker", []string{"x"}, core.Null(), core.Null())
	_, _ = reg.Transition(ctx, "agent-1", registry.Deactivated, "shutdown", "system")

	approvalID, token, err := mgr.RequestDeleteApproval(ctx, "agent-1", "admin-1")
	require.NoError(t, err)

	require.NoError(t, mgr.Approve(ctx, approvalID, "admin-2", token))

	_, err = reg.Get("agent-1")
	assert.True(t, core.IsNotFound(err))

	// the pending record is consumed; re-approving fails with NotFound.
	err = mgr.Approve(ctx, approvalID, "admin-2", token)
	assert.True(t, core.IsNotFound(err))
}

func TestDeleteAgentWithWrongTokenFails(t *testing.T) {
	mgr, reg, _ := newTestManager(t)
	ctx := context.Background()
	_, _ = mgr.RegisterAgent(ctx, "agent-1", "worker", nil, core.Null(), core.Null())
	_, _ = reg.Transition(ctx, "agent-1", registry.Deactivated, "shutdown", "system")

	approvalID, _, err := mgr.RequestDeleteApproval(ctx, "agent-1", "admin-1")
	require.NoError(t, err)

	err = mgr.DeleteAgent(ctx, "agent-1", "cleanup", "admin-2", approvalID, "not-the-real-token")
	assert.True(t, core.IsInvalidRequest(err))
}

func TestReceiveReportAutoIsolatesOnCriticalThreat(t *testing.T) {
	mgr, reg, _ := newTestManager(t)
	ctx := context.Background()
	_, _ = mgr.RegisterAgent(ctx, "agent-1", "worker", nil, core.Null(), core.Null())
	_, _ = reg.Transition(ctx, "agent-1", registry.Active, "up", "system")

	outcome, err := mgr.ReceiveReport(ctx, "agent-1", registry.HeartbeatMetrics{}, ThreatReport{
		FailedAuthAttempts: 10,
	})
	require.NoError(t, err)
	assert.Contains(t, outcome.Threats, "repeated_auth_failure")
	assert.Contains(t, outcome.Directives, "isolated")

	agent, err := reg.Get("agent-1")
	require.NoError(t, err)
	assert.Equal(t, registry.Isolated, agent.State)
}

func TestReceiveReportNoThreatsLeavesStateAlone(t *testing.T) {
	mgr, reg, _ := newTestManager(t)
	ctx := context.Background()
	_, _ = mgr.RegisterAgent(ctx, "agent-1", "worker", nil, core.Null(), core.Null())
	_, _ = reg.Transition(ctx, "agent-1", registry.Active, "up", "system")

	outcome, err := mgr.ReceiveReport(ctx, "agent-1", registry.HeartbeatMetrics{}, ThreatReport{})
	require.NoError(t, err)
	assert.Empty(t, outcome.Threats)

	agent, err := reg.Get("agent-1")
	require.NoError(t, err)
	assert.Equal(t, registry.Active, agent.State)
}

func TestAssignTaskBypassesDiscoveryWithForcedAgent(t *testing.T) {
	mgr, _, assigner := newTestManager(t)
	_, err := mgr.AssignTask(context.Background(), "agent-7", "summarize", core.Null(), orchestrator.High, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, "agent-7", assigner.lastReq.ForcedAgentID)
	assert.Equal(t, orchestrator.High, assigner.lastReq.Priority)
}
