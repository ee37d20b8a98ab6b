package model

import (
	"errors"
	"testing"
)

func TestAPIError_Error(t *testing.T) {
	err := &APIError{Code: ErrNotFound, Message: "run 'run_123' not found"}
	want := "NOT_FOUND: run 'run_123' not found"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestNewNotFoundError(t *testing.T) {
	err := NewNotFoundError("run", "run_abc")
	if err.Code != ErrNotFound {
		t.Errorf("Code = %q, want %q", err.Code, ErrNotFound)
	}
	if err.Message != "run 'run_abc' not found" {
		t.Errorf("Message = %q, want %q", err.Message, "run 'run_abc' not found")
	}
}

func TestNewValidationError(t *testing.T) {
	err := NewValidationError("invalid scenario",
		FieldError{Field: "threads[0].priority", Message: "must be within [0, 63]"},
		FieldError{Field: "threads[1].actions[2].release", Message: "unknown lock"},
	)
	if err.Code != ErrValidation {
		t.Errorf("Code = %q, want %q", err.Code, ErrValidation)
	}
	if len(err.Details) != 2 {
		t.Errorf("Details length = %d, want 2", len(err.Details))
	}
}

func TestKernelFault_Error(t *testing.T) {
	f := &KernelFault{
		Kind:    FaultMisuse,
		Thread:  "worker",
		TID:     3,
		Tick:    42,
		Message: "lock released by a thread that does not hold it",
	}
	want := `kernel fault (MISUSE) in thread "worker" (tid 3) at tick 42: lock released by a thread that does not hold it`
	if got := f.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}

	var target *KernelFault
	if !errors.As(error(f), &target) {
		t.Error("errors.As did not match *KernelFault")
	}
}

func TestInvalidTransitionError(t *testing.T) {
	err := &InvalidTransitionError{
		Entity: "thread",
		ID:     "7",
		From:   "READY",
		To:     "READY",
	}
	want := "invalid thread state transition: READY → READY (entity 7)"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}
