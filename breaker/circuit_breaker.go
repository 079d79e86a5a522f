// Package breaker implements the per-dependency failure gate (C1) that every
// outbound agent call in the orchestrator is wrapped in.
package breaker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ymera-labs/ymera/core"
)

// State identifies one of the three circuit breaker states.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// MetricsCollector receives circuit breaker lifecycle events. The default
// Prometheus-backed implementation lives in breaker/prometheus_metrics.go.
type MetricsCollector interface {
	RecordSuccess(name string)
	RecordFailure(name string)
	RecordStateChange(name string, from, to State)
	RecordRejection(name string)
}

type noopMetrics struct{}

func (noopMetrics) RecordSuccess(name string)                  {}
func (noopMetrics) RecordFailure(name string)                  {}
func (noopMetrics) RecordStateChange(name string, from, to State) {}
func (noopMetrics) RecordRejection(name string)                {}

// ErrorClassifier decides whether err should count toward the breaker's
// failure accounting. Errors excluded here (excluded_failure_kinds in the
// spec's terms) propagate to the caller without affecting breaker state.
type ErrorClassifier func(error) bool

// DefaultErrorClassifier excludes caller-side faults (bad input, unknown
// ids, state conflicts, client-initiated cancellation) from counting as
// infrastructure failures.
func DefaultErrorClassifier(err error) bool {
	if err == nil {
		return false
	}
	if core.IsNotFound(err) || core.IsAlreadyExists(err) || core.IsInvalidTransition(err) || core.IsInvalidRequest(err) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, core.ErrContextCanceled) {
		return false
	}
	return true
}

// Config configures one named circuit breaker.
type Config struct {
	Name string

	// FailureThreshold opens the breaker once this many failures have
	// accumulated in the current CLOSED period, regardless of volume.
	FailureThreshold int

	// SuccessThreshold is the number of consecutive HALF_OPEN successes
	// required to close the breaker again.
	SuccessThreshold int

	// OpenTimeout is how long the breaker stays OPEN before allowing a
	// HALF_OPEN probe.
	OpenTimeout time.Duration

	// WindowSize is the number of most recent outcomes retained for the
	// rolling failure-rate calculation.
	WindowSize int

	// MinThroughput is the minimum number of recorded outcomes in the
	// window before the rolling failure rate can trip the breaker.
	MinThroughput int

	ErrorClassifier ErrorClassifier
	Logger          core.Logger
	Metrics         MetricsCollector
}

// DefaultConfig returns spec-aligned defaults: failure_threshold=5,
// success_threshold=2, open_timeout=30s, window_size=20, min_throughput=10.
func DefaultConfig(name string) *Config {
	return &Config{
		Name:             name,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		OpenTimeout:      30 * time.Second,
		WindowSize:       20,
		MinThroughput:    10,
		ErrorClassifier:  DefaultErrorClassifier,
		Logger:           &core.NoOpLogger{},
		Metrics:          noopMetrics{},
	}
}

// CircuitBreaker is a single named CLOSED/OPEN/HALF_OPEN gate. All counters
// are protected by a single mutex, matching the spec's "one mutex per
// breaker" resource policy.
type CircuitBreaker struct {
	cfg *Config

	mu              sync.Mutex
	state           State
	failureCount    int
	consecutiveHalf int // consecutive half-open successes
	lastFailureAt   time.Time
	openedAt        time.Time
	outcomes        []bool // ring buffer of recent outcomes, true = success
	outcomeHead     int
	outcomeFilled   int
	halfOpenInFlight bool

	clock core.Clock
}

// New constructs a breaker from cfg, filling unset fields from DefaultConfig.
func New(cfg *Config) *CircuitBreaker {
	if cfg == nil {
		cfg = DefaultConfig("default")
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 2
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = 20
	}
	if cfg.MinThroughput <= 0 {
		cfg.MinThroughput = 10
	}
	if cfg.ErrorClassifier == nil {
		cfg.ErrorClassifier = DefaultErrorClassifier
	}
	if cfg.Logger == nil {
		cfg.Logger = &core.NoOpLogger{}
	}
	if cfg.Metrics == nil {
		cfg.Metrics = noopMetrics{}
	}
	return &CircuitBreaker{
		cfg:      cfg,
		state:    Closed,
		outcomes: make([]bool, cfg.WindowSize),
		clock:    core.SystemClock{},
	}
}

// Name returns the breaker's identifying name.
func (cb *CircuitBreaker) Name() string { return cb.cfg.Name }

// State returns the current state.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Call wraps fn with circuit breaker protection. It returns core.ErrCircuitOpen
// wrapped in a *core.Error without invoking fn when the breaker is OPEN and
// the open timeout has not elapsed.
func (cb *CircuitBreaker) Call(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := cb.before(); err != nil {
		cb.cfg.Metrics.RecordRejection(cb.cfg.Name)
		return err
	}

	err := fn(ctx)
	cb.after(err)
	return err
}

func (cb *CircuitBreaker) before() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case Closed:
		return nil
	case Open:
		if cb.clock.Now().Sub(cb.openedAt) >= cb.cfg.OpenTimeout {
			cb.transitionLocked(HalfOpen)
			cb.halfOpenInFlight = true
			return nil
		}
		return &core.Error{Op: "CircuitBreaker.Call", Kind: core.KindCircuitOpen, ID: cb.cfg.Name, Err: core.ErrCircuitOpen}
	case HalfOpen:
		if cb.halfOpenInFlight {
			return &core.Error{Op: "CircuitBreaker.Call", Kind: core.KindCircuitOpen, ID: cb.cfg.Name, Err: core.ErrCircuitOpen}
		}
		cb.halfOpenInFlight = true
		return nil
	default:
		return nil
	}
}

func (cb *CircuitBreaker) after(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	counts := err == nil || cb.cfg.ErrorClassifier(err)
	if err != nil && !cb.cfg.ErrorClassifier(err) {
		// excluded failure kind: bypasses accounting entirely
		if cb.state == HalfOpen {
			cb.halfOpenInFlight = false
		}
		return
	}

	success := err == nil
	cb.recordOutcome(success)

	if success {
		cb.cfg.Metrics.RecordSuccess(cb.cfg.Name)
	} else if counts {
		cb.cfg.Metrics.RecordFailure(cb.cfg.Name)
	}

	switch cb.state {
	case Closed:
		if success {
			cb.failureCount = 0
			return
		}
		cb.failureCount++
		cb.lastFailureAt = cb.clock.Now()
		if cb.failureCount >= cb.cfg.FailureThreshold || cb.rollingFailureRateTripped() {
			cb.transitionLocked(Open)
		}
	case HalfOpen:
		cb.halfOpenInFlight = false
		if success {
			cb.consecutiveHalf++
			if cb.consecutiveHalf >= cb.cfg.SuccessThreshold {
				cb.transitionLocked(Closed)
			}
		} else {
			cb.lastFailureAt = cb.clock.Now()
			cb.transitionLocked(Open)
		}
	}
}

func (cb *CircuitBreaker) recordOutcome(success bool) {
	cb.outcomes[cb.outcomeHead] = success
	cb.outcomeHead = (cb.outcomeHead + 1) % len(cb.outcomes)
	if cb.outcomeFilled < len(cb.outcomes) {
		cb.outcomeFilled++
	}
}

// rollingFailureRateTripped reports whether the rolling window has enough
// throughput and a failure rate above 0.5, the spec's secondary trip
// condition alongside the raw failure-count threshold.
func (cb *CircuitBreaker) rollingFailureRateTripped() bool {
	if cb.outcomeFilled < cb.cfg.MinThroughput {
		return false
	}
	failures := 0
	for i := 0; i < cb.outcomeFilled; i++ {
		if !cb.outcomes[i] {
			failures++
		}
	}
	return float64(failures)/float64(cb.outcomeFilled) > 0.5
}

func (cb *CircuitBreaker) transitionLocked(to State) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to
	switch to {
	case Open:
		cb.openedAt = cb.clock.Now()
		cb.halfOpenInFlight = false
	case HalfOpen:
		cb.consecutiveHalf = 0
	case Closed:
		cb.failureCount = 0
		cb.consecutiveHalf = 0
		cb.halfOpenInFlight = false
	}
	cb.cfg.Logger.Info("circuit breaker state changed", map[string]interface{}{
		"name": cb.cfg.Name,
		"from": from.String(),
		"to":   to.String(),
	})
	cb.cfg.Metrics.RecordStateChange(cb.cfg.Name, from, to)
}

// GetMetrics returns a point-in-time snapshot for operator visibility.
func (cb *CircuitBreaker) GetMetrics() map[string]interface{} {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	failures := 0
	for i := 0; i < cb.outcomeFilled; i++ {
		if !cb.outcomes[i] {
			failures++
		}
	}
	return map[string]interface{}{
		"name":          cb.cfg.Name,
		"state":         cb.state.String(),
		"failure_count": cb.failureCount,
		"window_filled": cb.outcomeFilled,
		"window_failures": failures,
	}
}

// Registry holds named breakers; GetOrCreate is idempotent per name.
type Registry struct {
	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
	template *Config
	counter  atomic.Uint64
}

// NewRegistry constructs a Registry that derives each new breaker's config
// from template (the Name field is overwritten per breaker).
func NewRegistry(template *Config) *Registry {
	if template == nil {
		template = DefaultConfig("default")
	}
	return &Registry{breakers: make(map[string]*CircuitBreaker), template: template}
}

// GetOrCreate returns the named breaker, constructing it from the registry's
// template configuration on first use.
func (r *Registry) GetOrCreate(name string) *CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cb, ok := r.breakers[name]; ok {
		return cb
	}
	cfg := *r.template
	cfg.Name = name
	cb := New(&cfg)
	r.breakers[name] = cb
	return cb
}

// Get returns the named breaker if it has been created, for read-only
// inspection.
func (r *Registry) Get(name string) (*CircuitBreaker, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cb, ok := r.breakers[name]
	return cb, ok
}

// Snapshot returns GetMetrics() for every known breaker.
func (r *Registry) Snapshot() map[string]map[string]interface{} {
	r.mu.Lock()
	names := make([]string, 0, len(r.breakers))
	breakers := make([]*CircuitBreaker, 0, len(r.breakers))
	for name, cb := range r.breakers {
		names = append(names, name)
		breakers = append(breakers, cb)
	}
	r.mu.Unlock()

	out := make(map[string]map[string]interface{}, len(names))
	for i, name := range names {
		out[name] = breakers[i].GetMetrics()
	}
	return out
}
