// Package agentmanager implements the Agent Manager (C6): the front door
// for agent-originated traffic, lifecycle actions, threat detection, and
// admin-directed task assignment.
package agentmanager

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ymera-labs/ymera/core"
	"github.com/ymera-labs/ymera/orchestrator"
	"github.com/ymera-labs/ymera/registry"
)

// AgentStore is the subset of registry.Registry the manager delegates to.
type AgentStore interface {
	Register(ctx context.Context, agentID, agentType string, capabilities []string, config, metadata core.Value) (*registry.Agent, error)
	Transition(ctx context.Context, agentID string, newState registry.State, reason, actor string) (registry.State, error)
	Heartbeat(ctx context.Context, agentID string, metrics registry.HeartbeatMetrics) error
	Get(agentID string) (*registry.Agent, error)
	RemoveFromIndex(agentID string)
}

// TaskAssigner is the subset of orchestrator.Orchestrator assign_task uses.
type TaskAssigner interface {
	Submit(ctx context.Context, req orchestrator.TaskRequest) (string, error)
}

// EventPublisher is declared locally to avoid an import cycle with
// eventbus. ReceiveReport publishes its outcome on the "agent.report"
// topic; the knowledge store (C7) does not subscribe to that topic.
type EventPublisher interface {
	Publish(ctx context.Context, topic string, payload core.Value)
}

type noopPublisher struct{}

func (noopPublisher) Publish(context.Context, string, core.Value) {}

// ThreatReport is one agent's self-reported operational metrics, evaluated
// against the threat rules in spec §4.6.
type ThreatReport struct {
	OperationsPerMinute  float64
	FailedAuthAttempts   int
	OutboundDataMB       float64
	CPUUsage             float64
	MemoryUsage          float64
	APIRequestsPerMinute float64
	Issues               []string
	Data                 core.Value
}

// ReportOutcome is what receive_report returns: detected threats and any
// directives the manager already acted on.
type ReportOutcome struct {
	Threats    []string
	Directives []string
}

// Config configures a Manager.
type Config struct {
	Registry    AgentStore
	Orchestrator TaskAssigner
	Clock       core.Clock
	Logger      core.Logger
	AuditLog    core.DurableLog
	Bus         EventPublisher
	JWTSecret   []byte
	ApprovalTTL time.Duration
}

// Manager is the Agent Manager (C6).
type Manager struct {
	cfg Config

	mu       sync.Mutex
	pending  map[string]*pendingApproval
}

// New constructs a Manager.
func New(cfg Config) *Manager {
	if cfg.Clock == nil {
		cfg.Clock = core.SystemClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = &core.NoOpLogger{}
	}
	if cal, ok := cfg.Logger.(core.ComponentAwareLogger); ok {
		cfg.Logger = cal.WithComponent("agentmanager")
	}
	if cfg.Bus == nil {
		cfg.Bus = noopPublisher{}
	}
	if cfg.ApprovalTTL <= 0 {
		cfg.ApprovalTTL = 15 * time.Minute
	}
	if len(cfg.JWTSecret) == 0 {
		cfg.JWTSecret = []byte("ymera-dev-only-approval-secret")
	}
	return &Manager{cfg: cfg, pending: make(map[string]*pendingApproval)}
}

// RegisterAgent is a thin wrapper over C2 registration.
func (m *Manager) RegisterAgent(ctx context.Context, agentID, agentType string, capabilities []string, config, metadata core.Value) (*registry.Agent, error) {
	agent, err := m.cfg.Registry.Register(ctx, agentID, agentType, capabilities, config, metadata)
	if err != nil {
		return nil, err
	}
	m.audit(ctx, "agent.registered", "system", agentID, nil)
	return agent, nil
}

// Activate transitions an agent to ACTIVE.
func (m *Manager) Activate(ctx context.Context, agentID, reason, actor string) error {
	_, err := m.cfg.Registry.Transition(ctx, agentID, registry.Active, reason, actor)
	return err
}

// Deactivate transitions an agent to DEACTIVATED.
func (m *Manager) Deactivate(ctx context.Context, agentID, reason, actor string) error {
	_, err := m.cfg.Registry.Transition(ctx, agentID, registry.Deactivated, reason, actor)
	return err
}

// Suspend transitions an agent to SUSPENDED. duration is neither stored nor
// acted on; the registry has no timed resume.
func (m *Manager) Suspend(ctx context.Context, agentID, reason, actor string, duration time.Duration) error {
	_, err := m.cfg.Registry.Transition(ctx, agentID, registry.Suspended, reason, actor)
	return err
}

// Freeze transitions an agent to FROZEN.
func (m *Manager) Freeze(ctx context.Context, agentID, reason, actor string) error {
	_, err := m.cfg.Registry.Transition(ctx, agentID, registry.Frozen, reason, actor)
	return err
}

// Isolate transitions an agent to ISOLATED.
func (m *Manager) Isolate(ctx context.Context, agentID, reason, actor string) error {
	_, err := m.cfg.Registry.Transition(ctx, agentID, registry.Isolated, reason, actor)
	return err
}

// RequestDeleteApproval creates a pending two-party approval record for
// deleting an agent and returns the approval id and a one-time token. The
// token is handed to the requester out of band; only its hash is retained.
// The bound action is the delete itself, so the generic Approve path can
// carry it out without the caller re-stating the transition.
func (m *Manager) RequestDeleteApproval(ctx context.Context, agentID, requestedBy string) (approvalID, token string, err error) {
	return m.requestApproval(ctx, "delete_agent", agentID, requestedBy, func(ctx context.Context, approvedBy string) error {
		if _, err := m.cfg.Registry.Transition(ctx, agentID, registry.Deleted, "approved delete", approvedBy); err != nil {
			return err
		}
		m.cfg.Registry.RemoveFromIndex(agentID)
		return nil
	})
}

func (m *Manager) requestApproval(ctx context.Context, action, target, requestedBy string, execute func(ctx context.Context, approvedBy string) error) (string, string, error) {
	approvalID := uuid.NewString()
	token, hash, expiry, err := issueApprovalToken(m.cfg.Clock, m.cfg.JWTSecret, approvalID, m.cfg.ApprovalTTL)
	if err != nil {
		return "", "", core.NewError("requestApproval", core.KindInternal, err)
	}

	pending := &pendingApproval{
		ApprovalID:  approvalID,
		Action:      action,
		Target:      target,
		RequestedBy: requestedBy,
		RequestedAt: m.cfg.Clock.Now(),
		TokenHash:   hash,
		Expiry:      expiry,
		execute:     execute,
	}
	m.mu.Lock()
	m.pending[approvalID] = pending
	m.mu.Unlock()

	m.audit(ctx, "approval.requested", requestedBy, target, map[string]interface{}{"action": action})
	return approvalID, token, nil
}

// DeleteAgent requires a valid, unexpired approval token; without one it
// fails with ApprovalRequired rather than performing the deletion. reason is
// recorded on the transition audit entry even though the bound approval
// action (used by the generic Approve path) records its own fixed reason.
func (m *Manager) DeleteAgent(ctx context.Context, agentID, reason, actor, approvalID, approvalToken string) error {
	m.mu.Lock()
	pending, ok := m.pending[approvalID]
	m.mu.Unlock()
	if !ok || pending.Action != "delete_agent" || pending.Target != agentID {
		return core.NewError("DeleteAgent", core.KindApprovalRequired, core.ErrApprovalRequired)
	}
	if err := verifyApprovalToken(m.cfg.Clock, m.cfg.JWTSecret, pending, approvalToken); err != nil {
		return err
	}
	return m.approveAndExecute(ctx, approvalID, actor, func(ctx context.Context, approvedBy string) error {
		if _, err := m.cfg.Registry.Transition(ctx, agentID, registry.Deleted, reason, approvedBy); err != nil {
			return err
		}
		m.cfg.Registry.RemoveFromIndex(agentID)
		return nil
	})
}

// Approve is the generic two-phase approval entry point: a second admin
// supplies the approval id and raw token; on success the pending record is
// claimed and removed under the manager's lock, then its action executes
// once. A concurrent or repeated Approve of the same id gets NotFound.
func (m *Manager) Approve(ctx context.Context, approvalID, approvedBy, token string) error {
	m.mu.Lock()
	pending, ok := m.pending[approvalID]
	m.mu.Unlock()
	if !ok {
		return core.NewError("Approve", core.KindNotFound, fmt.Errorf("approval %s not found", approvalID))
	}
	if err := verifyApprovalToken(m.cfg.Clock, m.cfg.JWTSecret, pending, token); err != nil {
		return err
	}
	if pending.execute == nil {
		return core.NewError("Approve", core.KindInvalidRequest, fmt.Errorf("approval %s has no bound action", approvalID))
	}
	return m.approveAndExecute(ctx, approvalID, approvedBy, pending.execute)
}

func (m *Manager) approveAndExecute(ctx context.Context, approvalID, approvedBy string, action func(ctx context.Context, approvedBy string) error) error {
	m.mu.Lock()
	pending, ok := m.pending[approvalID]
	if !ok {
		m.mu.Unlock()
		return core.NewError("Approve", core.KindNotFound, fmt.Errorf("approval %s not found", approvalID))
	}
	delete(m.pending, approvalID)
	m.mu.Unlock()

	if err := action(ctx, approvedBy); err != nil {
		return err
	}
	m.audit(ctx, "approval.executed", approvedBy, pending.Target, map[string]interface{}{"action": pending.Action})
	return nil
}

// thresholds for receive_report threat detection, per spec §4.6.
const (
	thresholdOpsPerMinute     = 1000.0
	thresholdFailedAuth       = 5
	thresholdOutboundDataMB   = 100.0
	thresholdCPUUsage         = 90.0
	thresholdMemoryUsage      = 90.0
	thresholdAPIReqsPerMinute = 500.0
)

// ReceiveReport updates C2 health, evaluates threat rules, feeds outcomes
// to C7 for learning, and may auto-isolate on a critical threat.
func (m *Manager) ReceiveReport(ctx context.Context, agentID string, metrics registry.HeartbeatMetrics, report ThreatReport) (ReportOutcome, error) {
	if err := m.cfg.Registry.Heartbeat(ctx, agentID, metrics); err != nil {
		return ReportOutcome{}, err
	}

	var threats []string
	if report.OperationsPerMinute > thresholdOpsPerMinute {
		threats = append(threats, "excessive_operation_rate")
	}
	if report.FailedAuthAttempts > thresholdFailedAuth {
		threats = append(threats, "repeated_auth_failure")
	}
	if report.OutboundDataMB > thresholdOutboundDataMB {
		threats = append(threats, "excessive_outbound_data")
	}
	if report.CPUUsage > thresholdCPUUsage && report.MemoryUsage > thresholdMemoryUsage {
		threats = append(threats, "resource_exhaustion")
	}
	if report.APIRequestsPerMinute > thresholdAPIReqsPerMinute {
		threats = append(threats, "excessive_api_rate")
	}
	threats = append(threats, report.Issues...)

	outcome := ReportOutcome{Threats: threats}

	if len(threats) > 0 {
		if _, err := m.cfg.Registry.Transition(ctx, agentID, registry.Isolated, "critical threat: "+threats[0], "agentmanager"); err == nil {
			outcome.Directives = append(outcome.Directives, "isolated")
		}
		m.audit(ctx, "agent.threat_detected", agentID, agentID, map[string]interface{}{"threats": threats})
	}

	m.cfg.Bus.Publish(ctx, "agent.report", core.Map(map[string]core.Value{
		"agent_id": core.String(agentID),
		"threats":  stringsValue(threats),
		"data":     report.Data,
	}))

	return outcome, nil
}

// AssignTask is an admin-directed assignment that bypasses discovery but
// still travels the full C4 execution path.
func (m *Manager) AssignTask(ctx context.Context, agentID, taskType string, payload core.Value, priority orchestrator.Priority, deadline time.Time) (string, error) {
	timeoutSeconds := 0
	if !deadline.IsZero() {
		timeoutSeconds = int(time.Until(deadline).Seconds())
	}
	return m.cfg.Orchestrator.Submit(ctx, orchestrator.TaskRequest{
		TaskType:       taskType,
		Capability:     taskType,
		Payload:        payload,
		Priority:       priority,
		TimeoutSeconds: timeoutSeconds,
		ForcedAgentID:  agentID,
		RequesterID:    "agentmanager",
	})
}

func (m *Manager) audit(ctx context.Context, eventType, actor, target string, details map[string]interface{}) {
	if m.cfg.AuditLog == nil {
		return
	}
	fields := map[string]core.Value{
		"actor":  core.String(actor),
		"target": core.String(target),
	}
	if err := m.cfg.AuditLog.Append(ctx, eventType, core.Map(fields)); err != nil {
		m.cfg.Logger.Warn("audit log append failed", map[string]interface{}{"event": eventType, "error": err.Error()})
	}
}

func stringsValue(ss []string) core.Value {
	vals := make([]core.Value, len(ss))
	for i, s := range ss {
		vals[i] = core.String(s)
	}
	return core.List(vals...)
}
