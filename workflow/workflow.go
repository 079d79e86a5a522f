// Package workflow implements the Workflow Engine (C5): DAG-validated
// multi-step executions driven on top of the Task Orchestrator (C4).
package workflow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ymera-labs/ymera/core"
	"github.com/ymera-labs/ymera/orchestrator"
)

// StepFailurePolicy governs what happens to a step's dependents when the
// step itself fails.
type StepFailurePolicy string

const (
	StepFail  StepFailurePolicy = "FAIL"
	StepSkip  StepFailurePolicy = "SKIP"
	StepRetry StepFailurePolicy = "RETRY"
)

// WorkflowFailurePolicy governs the terminal disposition of a workflow that
// had at least one failed step.
type WorkflowFailurePolicy string

const (
	WorkflowFail     WorkflowFailurePolicy = "FAIL"
	WorkflowContinue WorkflowFailurePolicy = "CONTINUE"
	WorkflowRollback WorkflowFailurePolicy = "ROLLBACK"
)

// ExecutionStatus is a workflow execution's lifecycle position.
type ExecutionStatus string

const (
	ExecRunning   ExecutionStatus = "RUNNING"
	ExecCompleted ExecutionStatus = "COMPLETED"
	ExecFailed    ExecutionStatus = "FAILED"
	ExecCancelled ExecutionStatus = "CANCELLED"
)

// WorkflowStep is one node of a WorkflowDefinition's DAG.
type WorkflowStep struct {
	StepID                 string
	Capability             string
	Payload                core.Value
	Dependencies           []string
	TimeoutSeconds         int
	RetryCount             int
	OnFailure              StepFailurePolicy
	Condition              func(ctx map[string]core.Value) bool
	CompensationCapability string
}

// WorkflowDefinition is a registered, named DAG of steps.
type WorkflowDefinition struct {
	WorkflowID     string
	Steps          []WorkflowStep
	Priority       orchestrator.Priority
	TimeoutSeconds int
	OnFailure      WorkflowFailurePolicy
}

// StepExecution is the outcome of one step within one execution.
type StepExecution struct {
	StepID string
	Status string
	Result core.Value
	Error  string
}

// WorkflowExecution is a single run of a WorkflowDefinition.
type WorkflowExecution struct {
	ExecutionID string
	WorkflowID  string
	Status      ExecutionStatus
	Reason      string
	StartedAt   time.Time
	CompletedAt time.Time
	Context     map[string]core.Value
	Steps       map[string]*StepExecution
}

// EventPublisher is the subset of the event bus the engine needs, declared
// locally to avoid an import cycle with eventbus.
type EventPublisher interface {
	Publish(ctx context.Context, topic string, payload core.Value)
}

type noopPublisher struct{}

func (noopPublisher) Publish(context.Context, string, core.Value) {}

// TaskRunner is the subset of orchestrator.Orchestrator the engine drives
// steps through.
type TaskRunner interface {
	Submit(ctx context.Context, req orchestrator.TaskRequest) (string, error)
	Subscribe(taskID string, cb func(orchestrator.TaskResult)) error
	Cancel(taskID string) (bool, error)
}

// Config configures an Engine.
type Config struct {
	Runner   TaskRunner
	Logger   core.Logger
	Clock    core.Clock
	Bus      EventPublisher
	AuditLog core.DurableLog
	Store    ExecutionStore
}

// Engine is the Workflow Engine (C5).
type Engine struct {
	cfg Config

	mu         sync.RWMutex
	executions map[string]*runningExecution
	templates  map[string]WorkflowDefinition
}

type runningExecution struct {
	exec   *WorkflowExecution
	cancel context.CancelFunc
	tasks  map[string]string // step id -> in-flight task id
}

// New constructs an Engine.
func New(cfg Config) *Engine {
	if cfg.Logger == nil {
		cfg.Logger = &core.NoOpLogger{}
	}
	if cal, ok := cfg.Logger.(core.ComponentAwareLogger); ok {
		cfg.Logger = cal.WithComponent("workflow")
	}
	if cfg.Clock == nil {
		cfg.Clock = core.SystemClock{}
	}
	if cfg.Bus == nil {
		cfg.Bus = noopPublisher{}
	}
	if cfg.Store == nil {
		cfg.Store = noopExecutionStore{}
	}
	return &Engine{
		cfg:        cfg,
		executions: make(map[string]*runningExecution),
		templates:  make(map[string]WorkflowDefinition),
	}
}

// RegisterTemplate validates def's DAG and stores it under def.WorkflowID so
// later callers can run it repeatedly via ExecuteTemplate without
// resubmitting the full step graph each time.
func (e *Engine) RegisterTemplate(def WorkflowDefinition) error {
	if err := newDAG(def.Steps).validate(); err != nil {
		return err
	}
	e.mu.Lock()
	e.templates[def.WorkflowID] = def
	e.mu.Unlock()
	return nil
}

// GetTemplate returns a previously registered template.
func (e *Engine) GetTemplate(workflowID string) (WorkflowDefinition, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	def, ok := e.templates[workflowID]
	return def, ok
}

// ExecuteTemplate runs a registered template the same way Execute runs an
// inline definition.
func (e *Engine) ExecuteTemplate(ctx context.Context, workflowID string, initialContext map[string]core.Value) (*WorkflowExecution, error) {
	def, ok := e.GetTemplate(workflowID)
	if !ok {
		return nil, core.NewError("ExecuteTemplate", core.KindNotFound, fmt.Errorf("workflow template %s not found", workflowID))
	}
	return e.Execute(ctx, def, initialContext)
}

// Execute validates def's DAG, then drives its steps to completion
// synchronously, returning the terminal WorkflowExecution. Callers that want
// fire-and-forget semantics should invoke this from their own goroutine.
func (e *Engine) Execute(ctx context.Context, def WorkflowDefinition, initialContext map[string]core.Value) (*WorkflowExecution, error) {
	graph := newDAG(def.Steps)
	if err := graph.validate(); err != nil {
		return nil, err
	}

	priority := def.Priority
	if priority == 0 {
		priority = orchestrator.Normal
	}

	stepsByID := make(map[string]WorkflowStep, len(def.Steps))
	for _, s := range def.Steps {
		stepsByID[s.StepID] = s
	}

	execCtx := make(map[string]core.Value, len(initialContext))
	for k, v := range initialContext {
		execCtx[k] = v
	}

	exec := &WorkflowExecution{
		ExecutionID: uuid.NewString(),
		WorkflowID:  def.WorkflowID,
		Status:      ExecRunning,
		StartedAt:   e.cfg.Clock.Now(),
		Context:     execCtx,
		Steps:       make(map[string]*StepExecution, len(def.Steps)),
	}
	for _, s := range def.Steps {
		exec.Steps[s.StepID] = &StepExecution{StepID: s.StepID, Status: "PENDING"}
	}

	runCtx := ctx
	var cancel context.CancelFunc
	if def.TimeoutSeconds > 0 {
		runCtx, cancel = context.WithTimeout(ctx, time.Duration(def.TimeoutSeconds)*time.Second)
	} else {
		runCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	re := &runningExecution{exec: exec, cancel: cancel, tasks: make(map[string]string)}
	e.mu.Lock()
	e.executions[exec.ExecutionID] = re
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.executions, exec.ExecutionID)
		e.mu.Unlock()
	}()

	failed := make(map[string]bool)
	var ctxMu sync.Mutex

	for graph.remaining() {
		if runCtx.Err() != nil {
			exec.Status = ExecCancelled
			exec.Reason = "cancelled"
			break
		}

		ready := graph.ready()

		// Evaluate conditions before submission; false predicates skip.
		var toSubmit []string
		for _, id := range ready {
			step := stepsByID[id]
			if step.Condition != nil {
				ctxMu.Lock()
				snapshot := cloneContext(execCtx)
				ctxMu.Unlock()
				if !step.Condition(snapshot) {
					graph.markSkipped(id)
					exec.Steps[id].Status = "SKIPPED"
					continue
				}
			}
			toSubmit = append(toSubmit, id)
		}

		if len(toSubmit) == 0 {
			if len(ready) == 0 {
				exec.Status = ExecFailed
				exec.Reason = "deadlock — unmet dependencies"
				e.audit(ctx, "workflow.deadlock", exec)
				break
			}
			continue
		}

		var wg sync.WaitGroup
		for _, id := range toSubmit {
			step := stepsByID[id]
			exec.Steps[id].Status = "RUNNING"
			wg.Add(1)
			e.runStep(runCtx, re, step, priority, execCtx, &ctxMu, func(res orchestrator.TaskResult) {
				defer wg.Done()
				ctxMu.Lock()
				execCtx[fmt.Sprintf("step_%s_result", id)] = res.Result
				ctxMu.Unlock()

				if res.Status == orchestrator.Completed {
					graph.markCompleted(id)
					exec.Steps[id].Status = "COMPLETED"
					exec.Steps[id].Result = res.Result
					return
				}

				ctxMu.Lock()
				failed[id] = true
				ctxMu.Unlock()
				exec.Steps[id].Status = "FAILED"
				exec.Steps[id].Error = res.Error
				if step.OnFailure == StepSkip {
					graph.markFailedAndPropagateSkip(id)
					for sid, se := range exec.Steps {
						if graph.statusOf(sid) == nodeSkipped && se.Status == "PENDING" {
							se.Status = "SKIPPED"
						}
					}
				} else {
					graph.markFailed(id)
				}
			})
		}
		wg.Wait()
	}

	if exec.Status == ExecRunning {
		ctxMu.Lock()
		numFailed := len(failed)
		ctxMu.Unlock()
		if numFailed == 0 {
			exec.Status = ExecCompleted
		} else {
			switch def.OnFailure {
			case WorkflowContinue:
				exec.Status = ExecCompleted
				exec.Reason = "completed with skipped/failed steps"
			case WorkflowRollback:
				e.compensate(ctx, graph, stepsByID, exec)
				exec.Status = ExecFailed
				exec.Reason = "rolled back"
			default:
				exec.Status = ExecFailed
				exec.Reason = "step failure"
			}
		}
	}

	exec.CompletedAt = e.cfg.Clock.Now()
	e.audit(ctx, "workflow.completed", exec)
	e.cfg.Bus.Publish(ctx, "workflow.completed", core.String(exec.ExecutionID))
	if err := e.cfg.Store.RecordTerminal(ctx, exec); err != nil {
		e.cfg.Logger.Warn("execution store record terminal failed", map[string]interface{}{"execution_id": exec.ExecutionID, "error": err.Error()})
	}
	return exec, nil
}

// runStep submits one step as a C4 task and invokes done with its result.
// priority is the owning WorkflowDefinition's priority, inherited by every
// step (spec §4.5: "priority inherited").
func (e *Engine) runStep(ctx context.Context, re *runningExecution, step WorkflowStep, priority orchestrator.Priority, execCtx map[string]core.Value, ctxMu *sync.Mutex, done func(orchestrator.TaskResult)) {
	ctxMu.Lock()
	payload := mergePayload(step.Payload, execCtx)
	ctxMu.Unlock()

	taskID, err := e.cfg.Runner.Submit(ctx, orchestrator.TaskRequest{
		Capability:     step.Capability,
		Payload:        payload,
		Priority:       priority,
		TimeoutSeconds: step.TimeoutSeconds,
		MaxRetries:     step.RetryCount,
	})
	if err != nil {
		done(orchestrator.TaskResult{Status: orchestrator.Failed, Error: err.Error()})
		return
	}

	e.mu.Lock()
	re.tasks[step.StepID] = taskID
	e.mu.Unlock()

	_ = e.cfg.Runner.Subscribe(taskID, done)
}

// compensate invokes each completed step's compensating capability in
// reverse topological order, best-effort: failures are logged, never
// propagated (spec §4.5 step 3).
func (e *Engine) compensate(ctx context.Context, graph *dag, stepsByID map[string]WorkflowStep, exec *WorkflowExecution) {
	for _, id := range graph.completedInReverseTopoOrder() {
		step := stepsByID[id]
		if step.CompensationCapability == "" {
			continue
		}
		_, err := e.cfg.Runner.Submit(ctx, orchestrator.TaskRequest{
			Capability: step.CompensationCapability,
			Payload:    exec.Steps[id].Result,
		})
		if err != nil {
			e.cfg.Logger.Warn("compensation submission failed", map[string]interface{}{
				"execution_id": exec.ExecutionID,
				"step_id":      id,
				"error":        err.Error(),
			})
		}
	}
}

// Cancel cancels a running execution and every in-flight C4 task it owns.
// Cancellation does not roll back already-completed steps.
func (e *Engine) Cancel(executionID string) (bool, error) {
	e.mu.Lock()
	re, ok := e.executions[executionID]
	e.mu.Unlock()
	if !ok {
		return false, core.NewError("Cancel", core.KindNotFound, core.ErrWorkflowNotFound)
	}
	re.cancel()
	e.mu.Lock()
	for _, taskID := range re.tasks {
		_, _ = e.cfg.Runner.Cancel(taskID)
	}
	e.mu.Unlock()
	return true, nil
}

// Inspect returns the live snapshot of a still-running execution. Once an
// execution reaches a terminal status it is dropped from memory (see
// Execute's deferred cleanup); after that point the only record is what an
// ExecutionStore wrote, and the engine offers no lookup of it.
func (e *Engine) Inspect(executionID string) (*WorkflowExecution, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	re, ok := e.executions[executionID]
	if !ok {
		return nil, false
	}
	return re.exec, true
}

// List returns the ids of every currently running execution.
func (e *Engine) List() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ids := make([]string, 0, len(e.executions))
	for id := range e.executions {
		ids = append(ids, id)
	}
	return ids
}

func (e *Engine) audit(ctx context.Context, eventType string, exec *WorkflowExecution) {
	if e.cfg.AuditLog == nil {
		return
	}
	body := core.Map(map[string]core.Value{
		"execution_id": core.String(exec.ExecutionID),
		"workflow_id":  core.String(exec.WorkflowID),
		"status":       core.String(string(exec.Status)),
	})
	if err := e.cfg.AuditLog.Append(ctx, eventType, body); err != nil {
		e.cfg.Logger.Warn("audit log append failed", map[string]interface{}{"event": eventType, "error": err.Error()})
	}
}

func cloneContext(ctx map[string]core.Value) map[string]core.Value {
	out := make(map[string]core.Value, len(ctx))
	for k, v := range ctx {
		out[k] = v
	}
	return out
}

// mergePayload overlays the step's static payload on top of the current
// execution context so a step sees both its own inputs and prior results.
func mergePayload(payload core.Value, execCtx map[string]core.Value) core.Value {
	merged := cloneContext(execCtx)
	if m, ok := payload.AsMap(); ok {
		for k, v := range m {
			merged[k] = v
		}
	}
	return core.Map(merged)
}
