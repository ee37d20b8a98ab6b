package model

import "fmt"

// ErrorCode represents a structured API error code.
type ErrorCode string

const (
	ErrValidation ErrorCode = "VALIDATION_ERROR"
	ErrNotFound   ErrorCode = "NOT_FOUND"
	ErrInternal   ErrorCode = "INTERNAL_ERROR"
)

// APIError is a structured error returned by the kthreads API and by
// scenario validation.
type APIError struct {
	Code    ErrorCode    `json:"code"`
	Message string       `json:"message"`
	Details []FieldError `json:"details,omitempty"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// FieldError describes a validation error on a specific field.
type FieldError struct {
	Field   string `json:"field,omitempty"`
	Path    string `json:"path,omitempty"`
	Message string `json:"message"`
}

// NewValidationError creates an APIError with validation details.
func NewValidationError(msg string, details ...FieldError) *APIError {
	return &APIError{Code: ErrValidation, Message: msg, Details: details}
}

// NewNotFoundError creates a NOT_FOUND APIError.
func NewNotFoundError(resource, id string) *APIError {
	return &APIError{
		Code:    ErrNotFound,
		Message: fmt.Sprintf("%s '%s' not found", resource, id),
	}
}

// NewInternalError creates an INTERNAL_ERROR APIError.
func NewInternalError(msg string) *APIError {
	return &APIError{Code: ErrInternal, Message: msg}
}

// FaultKind classifies unrecoverable kernel faults.
type FaultKind string

const (
	// FaultInvariant is scheduler corruption: empty dispatch, double block,
	// a thread linked into two queues, a donation cycle.
	FaultInvariant FaultKind = "INVARIANT"
	// FaultStackOverflow is a stack guard tag mismatch.
	FaultStackOverflow FaultKind = "STACK_OVERFLOW"
	// FaultMisuse is caller misuse such as releasing a lock that is not held.
	FaultMisuse FaultKind = "MISUSE"
	// FaultDeadlock means no thread can ever run again.
	FaultDeadlock FaultKind = "DEADLOCK"
	// FaultTimeout means a run exceeded its tick limit.
	FaultTimeout FaultKind = "TIMEOUT"
)

// KernelFault halts the kernel. It is raised with panic, never returned.
type KernelFault struct {
	Kind    FaultKind
	Thread  string
	TID     int
	Tick    int64
	Message string
}

func (f *KernelFault) Error() string {
	return fmt.Sprintf("kernel fault (%s) in thread %q (tid %d) at tick %d: %s",
		f.Kind, f.Thread, f.TID, f.Tick, f.Message)
}

// InvalidTransitionError describes a rejected thread status transition.
type InvalidTransitionError struct {
	Entity string
	ID     string
	From   string
	To     string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid %s state transition: %s → %s (entity %s)", e.Entity, e.From, e.To, e.ID)
}
