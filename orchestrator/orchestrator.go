package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/ymera-labs/ymera/breaker"
	"github.com/ymera-labs/ymera/core"
	"github.com/ymera-labs/ymera/discovery"
	"github.com/ymera-labs/ymera/registry"
)

// EventPublisher is the subset of the event bus the orchestrator needs,
// declared locally (as in the registry package) to avoid an import cycle
// with eventbus.
type EventPublisher interface {
	Publish(ctx context.Context, topic string, payload core.Value)
}

type noopPublisher struct{}

func (noopPublisher) Publish(context.Context, string, core.Value) {}

// AgentLoadTracker is the subset of registry.Registry the orchestrator
// drives load accounting and failure/success reporting through.
type AgentLoadTracker interface {
	IncrementLoad(agentID string) error
	DecrementLoad(agentID string) error
	RecordFailure(ctx context.Context, agentID string) error
	RecordSuccess(agentID string)
}

// Discoverer is the subset of discovery.Discovery the orchestrator needs.
type Discoverer interface {
	Discover(capability string, strategy discovery.Strategy, minHealth float64, excludeAgentIDs map[string]bool) (string, bool)
}

// Config configures an Orchestrator.
type Config struct {
	WorkerCount        int
	MaxConcurrentTasks int
	BlockOnSaturation  bool
	DefaultTimeout     time.Duration
	ShutdownTimeout    time.Duration
	MaxRetryAttempts   int

	Logger    core.Logger
	Clock     core.Clock
	Discovery Discoverer
	Loads     AgentLoadTracker
	Breakers  *breaker.Registry
	Adapter   core.AgentAdapter
	AuditLog  core.DurableLog
	Bus       EventPublisher
	Store     TaskStore
}

// Orchestrator is the Task Orchestrator (C4).
type Orchestrator struct {
	cfg   Config
	queue *priorityQueue
	sem   chan struct{}

	mu    sync.RWMutex
	tasks map[string]*taskContext

	seq atomic.Uint64
	wg  sync.WaitGroup
}

// New constructs an Orchestrator with defaults applied.
func New(cfg Config) *Orchestrator {
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 10
	}
	if cfg.MaxConcurrentTasks <= 0 {
		cfg.MaxConcurrentTasks = cfg.WorkerCount * 4
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = 30 * time.Second
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	if cfg.MaxRetryAttempts <= 0 {
		cfg.MaxRetryAttempts = 3
	}
	if cfg.Logger == nil {
		cfg.Logger = &core.NoOpLogger{}
	}
	if cal, ok := cfg.Logger.(core.ComponentAwareLogger); ok {
		cfg.Logger = cal.WithComponent("orchestrator")
	}
	if cfg.Clock == nil {
		cfg.Clock = core.SystemClock{}
	}
	if cfg.Bus == nil {
		cfg.Bus = noopPublisher{}
	}
	if cfg.Store == nil {
		cfg.Store = noopTaskStore{}
	}
	return &Orchestrator{
		cfg:   cfg,
		queue: newPriorityQueue(),
		sem:   make(chan struct{}, cfg.MaxConcurrentTasks),
		tasks: make(map[string]*taskContext),
	}
}

// Submit enqueues one task and returns its id.
func (o *Orchestrator) Submit(ctx context.Context, req TaskRequest) (string, error) {
	if req.Capability == "" {
		return "", core.NewError("Submit", core.KindInvalidRequest, fmt.Errorf("capability is required"))
	}
	if req.TaskID == "" {
		req.TaskID = uuid.NewString()
	}
	if req.Priority == 0 {
		req.Priority = Normal
	}
	if req.TimeoutSeconds <= 0 {
		req.TimeoutSeconds = int(o.cfg.DefaultTimeout.Seconds())
	}
	if req.RetryBaseDelay <= 0 {
		req.RetryBaseDelay = time.Second
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = o.cfg.Clock.Now()
	}

	if o.cfg.BlockOnSaturation {
		select {
		case o.sem <- struct{}{}:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	} else {
		select {
		case o.sem <- struct{}{}:
		default:
			return "", core.NewError("Submit", core.KindSaturated, core.ErrQueueSaturated)
		}
	}

	tc := &taskContext{req: req, status: Queued, excludeAgents: make(map[string]bool)}

	o.mu.Lock()
	o.tasks[req.TaskID] = tc
	o.mu.Unlock()

	tc.enqueueSeq = o.seq.Add(1)
	o.queue.Push(tc, tc.enqueueSeq)
	o.audit(ctx, "task.submitted", req.RequesterID, req.TaskID, nil)
	if err := o.cfg.Store.RecordSubmitted(ctx, req); err != nil {
		o.cfg.Logger.Warn("task store record submitted failed", map[string]interface{}{"task_id": req.TaskID, "error": err.Error()})
	}
	return req.TaskID, nil
}

// SubmitBatch submits every request, returning the assigned ids in order.
// A failure on one request does not prevent the others from being tried.
func (o *Orchestrator) SubmitBatch(ctx context.Context, reqs []TaskRequest) ([]string, []error) {
	ids := make([]string, len(reqs))
	errs := make([]error, len(reqs))
	for i, r := range reqs {
		ids[i], errs[i] = o.Submit(ctx, r)
	}
	return ids, errs
}

// Cancel moves a PENDING, QUEUED, ROUTING or RETRYING task to CANCELLED.
// An EXECUTING task is only flagged: its in-flight adapter call is not
// interrupted and runs until it returns or its deadline passes, and the
// flag then keeps a retry from being re-enqueued.
func (o *Orchestrator) Cancel(taskID string) (bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	tc, ok := o.tasks[taskID]
	if !ok {
		return false, core.NewError("Cancel", core.KindNotFound, core.ErrTaskNotFound)
	}
	if tc.status.terminal() {
		return false, nil
	}
	tc.cancelled = true
	if tc.status == Pending || tc.status == Queued || tc.status == Routing || tc.status == Retrying {
		tc.status = Cancelled
	}
	return true, nil
}

// GetResult returns the current result snapshot, or false if unknown.
func (o *Orchestrator) GetResult(taskID string) (TaskResult, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	tc, ok := o.tasks[taskID]
	if !ok {
		return TaskResult{}, false
	}
	return tc.toResult(), true
}

// GetStatus returns the current status, or false if unknown.
func (o *Orchestrator) GetStatus(taskID string) (Status, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	tc, ok := o.tasks[taskID]
	if !ok {
		return "", false
	}
	return tc.status, true
}

// List returns a snapshot of every task the orchestrator currently knows
// about, terminal or not.
func (o *Orchestrator) List() []TaskResult {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]TaskResult, 0, len(o.tasks))
	for _, tc := range o.tasks {
		out = append(out, tc.toResult())
	}
	return out
}

// Subscribe registers a callback invoked once the task reaches a terminal
// status. If the task is already terminal, the callback fires immediately.
func (o *Orchestrator) Subscribe(taskID string, cb func(TaskResult)) error {
	o.mu.Lock()
	tc, ok := o.tasks[taskID]
	if !ok {
		o.mu.Unlock()
		return core.NewError("Subscribe", core.KindNotFound, core.ErrTaskNotFound)
	}
	if tc.status.terminal() {
		o.mu.Unlock()
		cb(tc.toResult())
		return nil
	}
	tc.callbacks = append(tc.callbacks, cb)
	o.mu.Unlock()
	return nil
}

// Run starts the fixed worker pool and blocks until ctx is cancelled.
func (o *Orchestrator) Run(ctx context.Context) {
	for i := 0; i < o.cfg.WorkerCount; i++ {
		o.wg.Add(1)
		go o.runWorker(ctx, i)
	}
	<-ctx.Done()
	o.queue.Close()

	done := make(chan struct{})
	go func() { o.wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(o.cfg.ShutdownTimeout):
		o.cfg.Logger.Warn("orchestrator shutdown timeout: workers may still be running", nil)
	}
}

func (o *Orchestrator) runWorker(ctx context.Context, id int) {
	defer o.wg.Done()
	for {
		tc, ok := o.queue.Pop(ctx)
		if !ok {
			return
		}
		o.mu.RLock()
		cancelled := tc.cancelled
		o.mu.RUnlock()
		if cancelled {
			o.finish(ctx, tc)
			continue
		}
		o.executeOnce(ctx, tc)
	}
}

// executeOnce runs the spec §4.4 execution algorithm for one task,
// re-enqueuing it itself on a retryable failure rather than recursing.
func (o *Orchestrator) executeOnce(ctx context.Context, tc *taskContext) {
	o.setStatus(tc, Routing)

	agentID := tc.req.ForcedAgentID
	if agentID == "" {
		var found bool
		agentID, found = o.cfg.Discovery.Discover(tc.req.Capability, discovery.LeastLoaded, 0.6, tc.excludeAgents)
		if !found {
			o.handleFailure(ctx, tc, fmt.Errorf("no agent available"), false)
			return
		}
	} else if tc.excludeAgents[agentID] {
		o.handleFailure(ctx, tc, fmt.Errorf("assigned agent unavailable: circuit open"), false)
		return
	}

	o.setStatus(tc, Executing)
	tc.currentAgentID = agentID
	tc.startedAt = o.cfg.Clock.Now()
	if o.cfg.Loads != nil {
		_ = o.cfg.Loads.IncrementLoad(agentID)
	}

	cb := o.cfg.Breakers.GetOrCreate(agentID)
	deadline := tc.startedAt.Add(time.Duration(tc.req.TimeoutSeconds) * time.Second)
	callCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	var invocation *core.InvocationResult
	err := cb.Call(callCtx, func(ctx context.Context) error {
		res, invokeErr := o.cfg.Adapter.Invoke(ctx, agentID, tc.req.Capability, tc.req.Payload, deadline)
		invocation = res
		return invokeErr
	})

	if o.cfg.Loads != nil {
		_ = o.cfg.Loads.DecrementLoad(agentID)
	}

	if err == nil {
		o.handleSuccess(ctx, tc, invocation)
		return
	}

	if core.IsCircuitOpen(err) {
		// Exclude this agent from discovery on the retried attempt so a
		// tripped breaker for one agent doesn't terminally fail a task other
		// agents could still serve (spec §4.4 step 7). Still consumes a
		// retry so a capability with every agent breaker-tripped still
		// reaches a terminal status within the bounded-attempts invariant.
		tc.excludeAgents[agentID] = true
		o.handleFailure(ctx, tc, err, true)
		return
	}

	if callCtx.Err() == context.DeadlineExceeded {
		if o.cfg.Loads != nil {
			_ = o.cfg.Loads.RecordFailure(ctx, agentID)
		}
		o.handleFailure(ctx, tc, fmt.Errorf("task timed out"), true)
		return
	}

	if o.cfg.Loads != nil {
		_ = o.cfg.Loads.RecordFailure(ctx, agentID)
	}
	o.handleFailure(ctx, tc, err, true)
}

func (o *Orchestrator) handleSuccess(ctx context.Context, tc *taskContext, res *core.InvocationResult) {
	o.mu.Lock()
	tc.status = Completed
	tc.result = res.Payload
	tc.completedAt = o.cfg.Clock.Now()
	tc.executionMs = tc.completedAt.Sub(tc.startedAt).Milliseconds()
	o.mu.Unlock()

	if o.cfg.Loads != nil {
		o.cfg.Loads.RecordSuccess(tc.currentAgentID)
	}
	o.cfg.Bus.Publish(ctx, "task.completed", taskResultValue(tc))
	o.finish(ctx, tc)
}

// handleFailure appends to error_history and either schedules a retry or
// marks the task terminally FAILED.
func (o *Orchestrator) handleFailure(ctx context.Context, tc *taskContext, cause error, countsAsRetry bool) {
	o.mu.Lock()
	tc.errorHistory = append(tc.errorHistory, cause.Error())
	retriesLeft := countsAsRetry && tc.retryCount < tc.req.MaxRetries
	o.mu.Unlock()

	if retriesLeft {
		o.mu.Lock()
		tc.retryCount++
		tc.status = Retrying
		tc.lastRetryAt = o.cfg.Clock.Now()
		delay := tc.req.RetryBaseDelay * time.Duration(1<<uint(tc.retryCount-1))
		o.mu.Unlock()

		go func() {
			o.cfg.Clock.Sleep(delay)
			o.mu.RLock()
			cancelled := tc.cancelled
			o.mu.RUnlock()
			if cancelled {
				o.finish(ctx, tc)
				return
			}
			o.mu.Lock()
			tc.status = Queued
			o.mu.Unlock()
			tc.enqueueSeq = o.seq.Add(1)
			o.queue.Push(tc, tc.enqueueSeq)
		}()
		return
	}

	o.failTerminal(ctx, tc, cause)
}

func (o *Orchestrator) failTerminal(ctx context.Context, tc *taskContext, cause error) {
	o.mu.Lock()
	tc.status = Failed
	tc.completedAt = o.cfg.Clock.Now()
	if !tc.startedAt.IsZero() {
		tc.executionMs = tc.completedAt.Sub(tc.startedAt).Milliseconds()
	}
	o.mu.Unlock()

	o.cfg.Bus.Publish(ctx, "task.failed", taskResultValue(tc))
	o.finish(ctx, tc)
}

func (o *Orchestrator) setStatus(tc *taskContext, s Status) {
	o.mu.Lock()
	tc.status = s
	o.mu.Unlock()
}

// finish releases the submission semaphore and fires any registered
// callbacks. Called exactly once per task, on its terminal transition.
func (o *Orchestrator) finish(ctx context.Context, tc *taskContext) {
	select {
	case <-o.sem:
	default:
	}
	o.mu.Lock()
	cbs := tc.callbacks
	tc.callbacks = nil
	result := tc.toResult()
	o.mu.Unlock()
	if result.Status.terminal() {
		if err := o.cfg.Store.RecordTerminal(ctx, result); err != nil {
			o.cfg.Logger.Warn("task store record terminal failed", map[string]interface{}{"task_id": result.TaskID, "error": err.Error()})
		}
	}
	for _, cb := range cbs {
		cb(result)
	}
}

func (o *Orchestrator) audit(ctx context.Context, eventType, actor, target string, details map[string]interface{}) {
	if o.cfg.AuditLog == nil {
		return
	}
	fields := make(map[string]core.Value, len(details)+2)
	fields["actor"] = core.String(actor)
	fields["target"] = core.String(target)
	if err := o.cfg.AuditLog.Append(ctx, eventType, core.Map(fields)); err != nil {
		o.cfg.Logger.Warn("audit log append failed", map[string]interface{}{"event": eventType, "error": err.Error()})
	}
}

func taskResultValue(tc *taskContext) core.Value {
	r := tc.toResult()
	return core.Map(map[string]core.Value{
		"task_id":           core.String(r.TaskID),
		"status":            core.String(string(r.Status)),
		"agent_id":          core.String(r.AgentID),
		"error":             core.String(r.Error),
		"execution_time_ms": core.Int(r.ExecutionTimeMs),
		"retries":           core.Int(int64(r.Retries)),
	})
}
