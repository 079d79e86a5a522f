package core

import (
	"errors"
	"fmt"
)

// Kind classifies an Error into the control plane's error taxonomy.
// Callers switch on Kind (via the Is* helpers below) rather than comparing
// sentinel values directly, since the same Kind can wrap different
// underlying sentinels depending on the component that raised it.
type Kind string

const (
	KindInvalidRequest   Kind = "invalid_request"
	KindNotFound         Kind = "not_found"
	KindAlreadyExists    Kind = "already_exists"
	KindInvalidTransition Kind = "invalid_transition"
	KindApprovalRequired Kind = "approval_required"
	KindSaturated        Kind = "saturated"
	KindCircuitOpen      Kind = "circuit_open"
	KindTimeout          Kind = "timeout"
	KindDependencyFailure Kind = "dependency_failure"
	KindInternal         Kind = "internal"
)

// Standard sentinel errors for comparison using errors.Is().
var (
	ErrAgentNotFound       = errors.New("agent not found")
	ErrAgentAlreadyExists  = errors.New("agent already exists")
	ErrInvalidTransition   = errors.New("invalid state transition")
	ErrApprovalRequired    = errors.New("second-party approval required")
	ErrApprovalExpired     = errors.New("approval token expired")
	ErrApprovalInvalid     = errors.New("approval token invalid")

	ErrTaskNotFound      = errors.New("task not found")
	ErrWorkflowNotFound  = errors.New("workflow not found")
	ErrStepNotFound      = errors.New("workflow step not found")
	ErrEntryNotFound     = errors.New("knowledge entry not found")
	ErrSubscriptionNotFound = errors.New("knowledge subscription not found")

	ErrQueueSaturated    = errors.New("task queue saturated")
	ErrCircuitOpen       = errors.New("circuit breaker open")
	ErrCycleDetected     = errors.New("dependency cycle detected")
	ErrDanglingDependency = errors.New("step references unknown dependency")

	ErrInvalidConfiguration = errors.New("invalid configuration")
	ErrMissingConfiguration = errors.New("missing required configuration")

	ErrAlreadyStarted  = errors.New("already started")
	ErrNotInitialized  = errors.New("not initialized")

	ErrTimeout            = errors.New("operation timeout")
	ErrContextCanceled    = errors.New("context canceled")
	ErrMaxRetriesExceeded = errors.New("maximum retries exceeded")

	ErrDependencyFailed = errors.New("dependency call failed")
)

// Error provides structured error information with context. It implements
// the error interface and supports wrapping via Unwrap.
type Error struct {
	Op      string // Operation that failed (e.g., "registry.Register")
	Kind    Kind   // Error kind
	ID      string // Optional ID of the entity involved
	Message string // Human-readable message
	Err     error  // Underlying error for wrapping
}

func (e *Error) Error() string {
	if e.Op != "" && e.Err != nil {
		if e.ID != "" {
			return fmt.Sprintf("%s [%s]: %v", e.Op, e.ID, e.Err)
		}
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s error", e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a new Error.
func NewError(op string, kind Kind, err error) *Error {
	return &Error{Op: op, Kind: kind, Err: err}
}

// KindOf extracts the Kind carried by err, if any, walking Unwrap chains.
func KindOf(err error) (Kind, bool) {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind, true
	}
	return "", false
}

func hasKind(err error, k Kind) bool {
	kind, ok := KindOf(err)
	return ok && kind == k
}

func IsNotFound(err error) bool {
	return hasKind(err, KindNotFound) ||
		errors.Is(err, ErrAgentNotFound) ||
		errors.Is(err, ErrTaskNotFound) ||
		errors.Is(err, ErrWorkflowNotFound) ||
		errors.Is(err, ErrStepNotFound) ||
		errors.Is(err, ErrEntryNotFound) ||
		errors.Is(err, ErrSubscriptionNotFound)
}

func IsAlreadyExists(err error) bool {
	return hasKind(err, KindAlreadyExists) || errors.Is(err, ErrAgentAlreadyExists)
}

func IsInvalidRequest(err error) bool {
	return hasKind(err, KindInvalidRequest) || errors.Is(err, ErrApprovalInvalid) || errors.Is(err, ErrApprovalExpired)
}

func IsInvalidTransition(err error) bool {
	return hasKind(err, KindInvalidTransition) || errors.Is(err, ErrInvalidTransition)
}

func IsApprovalRequired(err error) bool {
	return hasKind(err, KindApprovalRequired) || errors.Is(err, ErrApprovalRequired)
}

func IsSaturated(err error) bool {
	return hasKind(err, KindSaturated) || errors.Is(err, ErrQueueSaturated)
}

func IsCircuitOpen(err error) bool {
	return hasKind(err, KindCircuitOpen) || errors.Is(err, ErrCircuitOpen)
}

func IsTimeout(err error) bool {
	return hasKind(err, KindTimeout) || errors.Is(err, ErrTimeout) || errors.Is(err, ErrContextCanceled)
}

func IsDependencyFailure(err error) bool {
	return hasKind(err, KindDependencyFailure) || errors.Is(err, ErrDependencyFailed)
}

func IsConfigurationError(err error) bool {
	return errors.Is(err, ErrInvalidConfiguration) || errors.Is(err, ErrMissingConfiguration)
}

// IsRetryable reports whether a failed task attempt should be retried.
// Circuit-open and saturation are deliberately excluded: they signal
// back-pressure the caller should respect, not a transient per-attempt fault.
func IsRetryable(err error) bool {
	return IsTimeout(err) || IsDependencyFailure(err) || hasKind(err, KindInternal)
}
