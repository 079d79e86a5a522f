package registry

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ymera-labs/ymera/core"
)

// ewmaAlpha is the smoothing coefficient for the health_score EWMA. Spec §9
// leaves the exact coefficient an open question; this implementation commits
// to alpha=0.3 (recent samples dominate within ~3 heartbeats, matching the
// teacher's heartbeat-driven health adjustments) and documents the choice
// here rather than in code scattered across call sites.
const ewmaAlpha = 0.3

// Config configures registry-wide defaults.
type Config struct {
	HeartbeatTimeout       time.Duration
	MaxConsecutiveFailures int
	Logger                 core.Logger
	Clock                  core.Clock
	AuditLog               core.DurableLog
	Bus                    EventPublisher
}

// EventPublisher is the minimal surface the registry needs from the event
// bus (C8) to announce state changes, without importing the eventbus
// package directly (avoids a C2 -> C8 -> C2 import cycle risk as both
// packages grow).
type EventPublisher interface {
	Publish(ctx context.Context, topic string, payload core.Value)
}

type noopPublisher struct{}

func (noopPublisher) Publish(ctx context.Context, topic string, payload core.Value) {}

// Registry is the authoritative, in-memory agent map plus its derived
// CapabilityIndex. State is protected by a single read-write lock per the
// spec's "single write-lock protected map" resource policy.
type Registry struct {
	cfg Config

	mu      sync.RWMutex
	agents  map[string]*Agent
	capIdx  map[string]map[string]bool // capability -> set of agent_id
	heartbeats map[string]*HeartbeatStats

	logger core.Logger
}

// New constructs a Registry. Zero-value Config fields are replaced with
// spec defaults (heartbeat_timeout=30s, max_consecutive_failures=5).
func New(cfg Config) *Registry {
	if cfg.HeartbeatTimeout <= 0 {
		cfg.HeartbeatTimeout = 30 * time.Second
	}
	if cfg.MaxConsecutiveFailures <= 0 {
		cfg.MaxConsecutiveFailures = 5
	}
	if cfg.Clock == nil {
		cfg.Clock = core.SystemClock{}
	}
	if cfg.Bus == nil {
		cfg.Bus = noopPublisher{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if cal, ok := logger.(core.ComponentAwareLogger); ok {
		logger = cal.WithComponent("registry")
	}
	return &Registry{
		cfg:        cfg,
		agents:     make(map[string]*Agent),
		capIdx:     make(map[string]map[string]bool),
		heartbeats: make(map[string]*HeartbeatStats),
		logger:     logger,
	}
}

// Register creates or re-activates an agent record. Idempotent by agent_id:
// calling it twice for a non-DELETED agent returns the same snapshot.
// Fails with AlreadyExists only when the existing record is not DELETED and
// differs materially (the spec treats a matching re-register as a no-op).
func (r *Registry) Register(ctx context.Context, agentID, agentType string, capabilities []string, config, metadata core.Value) (*Agent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	caps := make(map[string]bool, len(capabilities))
	for _, c := range capabilities {
		caps[c] = true
	}

	if existing, ok := r.agents[agentID]; ok && existing.State != Deleted {
		differs := existing.Type != agentType || len(existing.Capabilities) != len(caps)
		for c := range caps {
			if !existing.Capabilities[c] {
				differs = true
			}
		}
		if differs {
			return nil, core.NewError("Registry.Register", core.KindAlreadyExists, core.ErrAgentAlreadyExists)
		}
		return existing.Snapshot(), nil
	}

	agent := &Agent{
		AgentID:      agentID,
		Type:         agentType,
		Capabilities: caps,
		State:        Initializing,
		HealthScore:  1.0,
		Load:         0,
		Config:       config,
		Metadata:     metadata,
		RegisteredAt: r.cfg.Clock.Now(),
	}
	r.agents[agentID] = agent

	for c := range caps {
		if r.capIdx[c] == nil {
			r.capIdx[c] = make(map[string]bool)
		}
		r.capIdx[c][agentID] = true
	}

	r.audit(ctx, "agent.registered", "system", agentID, map[string]interface{}{"type": agentType, "capabilities": capabilities})
	r.cfg.Bus.Publish(ctx, "agent.state_changed", core.Map(map[string]core.Value{
		"agent_id": core.String(agentID),
		"state":    core.String(string(Initializing)),
	}))

	return agent.Snapshot(), nil
}

// Transition validates and applies a state change per the allowed-transitions
// table, writing an audit record. A same-state transition is a no-op.
func (r *Registry) Transition(ctx context.Context, agentID string, newState State, reason, actor string) (State, error) {
	r.mu.Lock()
	agent, ok := r.agents[agentID]
	if !ok {
		r.mu.Unlock()
		return "", core.NewError("Registry.Transition", core.KindNotFound, core.ErrAgentNotFound)
	}
	if agent.State == newState {
		r.mu.Unlock()
		return newState, nil
	}
	if !CanTransition(agent.State, newState) {
		r.mu.Unlock()
		return "", core.NewError("Registry.Transition", core.KindInvalidTransition, core.ErrInvalidTransition)
	}
	from := agent.State
	agent.State = newState
	r.mu.Unlock()

	r.audit(ctx, "agent.transitioned", actor, agentID, map[string]interface{}{"from": string(from), "to": string(newState), "reason": reason})
	r.cfg.Bus.Publish(ctx, "agent.state_changed", core.Map(map[string]core.Value{
		"agent_id": core.String(agentID),
		"from":     core.String(string(from)),
		"to":       core.String(string(newState)),
	}))
	return newState, nil
}

// Heartbeat updates last_heartbeat_at and recomputes health_score with an
// EWMA over CPU, memory, error rate, and response time. See ewmaAlpha for
// the coefficient decision.
func (r *Registry) Heartbeat(ctx context.Context, agentID string, metrics HeartbeatMetrics) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	agent, ok := r.agents[agentID]
	if !ok {
		return core.NewError("Registry.Heartbeat", core.KindNotFound, core.ErrAgentNotFound)
	}

	now := r.cfg.Clock.Now()
	if !agent.LastHeartbeatAt.IsZero() && now.Before(agent.LastHeartbeatAt) {
		r.logger.Warn("heartbeat timestamp regression ignored", map[string]interface{}{"agent_id": agentID})
	} else {
		agent.LastHeartbeatAt = now
	}

	sample := healthSample(metrics)
	agent.HealthScore = ewmaAlpha*sample + (1-ewmaAlpha)*agent.HealthScore

	stats := r.heartbeats[agentID]
	if stats == nil {
		stats = &HeartbeatStats{StartedAt: now}
		r.heartbeats[agentID] = stats
	}
	stats.SuccessCount++
	stats.LastSuccess = now

	return nil
}

// healthSample folds reported metrics into a single [0,1] instantaneous
// health observation: 1.0 is perfectly healthy, degrading with resource
// pressure, errors, and slow responses.
func healthSample(m HeartbeatMetrics) float64 {
	score := 1.0
	score -= clamp01(m.CPUUsage/100) * 0.25
	score -= clamp01(m.MemoryUsage/100) * 0.25
	score -= clamp01(m.ErrorRate) * 0.35
	score -= clamp01(m.ResponseTimeMs/5000) * 0.15
	return clamp01(score)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// IncrementLoad atomically increases an agent's in-flight task count.
func (r *Registry) IncrementLoad(agentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	agent, ok := r.agents[agentID]
	if !ok {
		return core.NewError("Registry.IncrementLoad", core.KindNotFound, core.ErrAgentNotFound)
	}
	agent.Load++
	return nil
}

// DecrementLoad atomically decreases an agent's in-flight task count.
// Underflow clamps at 0 and is logged as an invariant violation, never
// panics or returns an error to the caller.
func (r *Registry) DecrementLoad(agentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	agent, ok := r.agents[agentID]
	if !ok {
		return core.NewError("Registry.DecrementLoad", core.KindNotFound, core.ErrAgentNotFound)
	}
	if agent.Load <= 0 {
		r.logger.Error("load underflow", map[string]interface{}{"agent_id": agentID})
		agent.Load = 0
		return nil
	}
	agent.Load--
	return nil
}

// RecordFailure increments both failure counters and transitions the agent
// to DEGRADED once consecutive failures exceed the configured threshold.
func (r *Registry) RecordFailure(ctx context.Context, agentID string) error {
	r.mu.Lock()
	agent, ok := r.agents[agentID]
	if !ok {
		r.mu.Unlock()
		return core.NewError("Registry.RecordFailure", core.KindNotFound, core.ErrAgentNotFound)
	}
	agent.FailureCount++
	agent.ConsecutiveFailures++
	shouldDegrade := agent.ConsecutiveFailures > r.cfg.MaxConsecutiveFailures && CanTransition(agent.State, Degraded)
	r.mu.Unlock()

	if shouldDegrade {
		_, _ = r.Transition(ctx, agentID, Degraded, "max_consecutive_failures exceeded", "system")
	}
	return nil
}

// RecordSuccess resets the consecutive-failure counter, mirroring the
// spec's "record_failure ... after max_consecutive_failures" language: a
// successful call breaks the streak.
func (r *Registry) RecordSuccess(agentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if agent, ok := r.agents[agentID]; ok {
		agent.ConsecutiveFailures = 0
	}
}

// Get returns a read-only snapshot of one agent.
func (r *Registry) Get(agentID string) (*Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	agent, ok := r.agents[agentID]
	if !ok {
		return nil, core.NewError("Registry.Get", core.KindNotFound, core.ErrAgentNotFound)
	}
	return agent.Snapshot(), nil
}

// FindByCapability returns an ordered snapshot of agents advertising
// capability, filtered by minimum health and excluded states.
func (r *Registry) FindByCapability(capability string, minHealth float64, excludeStates map[State]bool) []*Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := r.capIdx[capability]
	out := make([]*Agent, 0, len(ids))
	for id := range ids {
		agent := r.agents[id]
		if agent == nil {
			continue
		}
		if excludeStates[agent.State] {
			continue
		}
		if agent.HealthScore < minHealth {
			continue
		}
		out = append(out, agent.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AgentID < out[j].AgentID })
	return out
}

// All returns a snapshot of every known agent, for CLI list operations.
func (r *Registry) All() []*Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Agent, 0, len(r.agents))
	for _, a := range r.agents {
		out = append(out, a.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AgentID < out[j].AgentID })
	return out
}

// RemoveFromIndex deletes an agent from the CapabilityIndex and the
// authoritative map, used only by the approval-gated delete path (C6).
func (r *Registry) RemoveFromIndex(agentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	agent, ok := r.agents[agentID]
	if !ok {
		return
	}
	for c := range agent.Capabilities {
		delete(r.capIdx[c], agentID)
		if len(r.capIdx[c]) == 0 {
			delete(r.capIdx, c)
		}
	}
	delete(r.agents, agentID)
	delete(r.heartbeats, agentID)
}

// SweepStaleHeartbeats transitions any ACTIVE/IDLE/BUSY agent whose
// last_heartbeat_at is older than heartbeat_timeout to ISOLATED. Intended to
// be called periodically from a background goroutine (see Run).
func (r *Registry) SweepStaleHeartbeats(ctx context.Context) {
	now := r.cfg.Clock.Now()

	r.mu.RLock()
	var stale []string
	for id, agent := range r.agents {
		switch agent.State {
		case Active, Idle, Busy:
		default:
			continue
		}
		if agent.LastHeartbeatAt.IsZero() {
			continue
		}
		if now.Sub(agent.LastHeartbeatAt) > r.cfg.HeartbeatTimeout {
			stale = append(stale, id)
		}
	}
	r.mu.RUnlock()

	for _, id := range stale {
		if _, err := r.Transition(ctx, id, Isolated, "heartbeat timeout exceeded", "system"); err != nil {
			r.logger.Error("failed to isolate stale agent", map[string]interface{}{"agent_id": id, "error": err.Error()})
		}
	}
}

// Run drives the periodic stale-heartbeat sweep until ctx is cancelled.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.SweepStaleHeartbeats(ctx)
		}
	}
}

func (r *Registry) audit(ctx context.Context, eventType, actor, target string, details map[string]interface{}) {
	if r.cfg.AuditLog == nil {
		return
	}
	m := make(map[string]core.Value, len(details)+3)
	m["event_type"] = core.String(eventType)
	m["actor"] = core.String(actor)
	m["target"] = core.String(target)
	for k, v := range details {
		m[k] = valueOf(v)
	}
	if err := r.cfg.AuditLog.Append(ctx, eventType, core.Map(m)); err != nil {
		r.logger.Warn("audit log append failed", map[string]interface{}{"event_type": eventType, "error": err.Error()})
	}
}

func valueOf(v interface{}) core.Value {
	switch t := v.(type) {
	case string:
		return core.String(t)
	case []string:
		items := make([]core.Value, len(t))
		for i, s := range t {
			items[i] = core.String(s)
		}
		return core.List(items...)
	case int:
		return core.Int(int64(t))
	case bool:
		return core.Bool(t)
	default:
		return core.Null()
	}
}
