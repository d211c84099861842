package engine

import (
	"errors"
	"fmt"
)

// RuntimeError represents a failure detected while processing a job.
//
// Runtime errors include:
//   - Guard failure: a pipeline stage returned an error; the run was
//     aborted and the previous state stays authoritative
//   - Storage failure: the bookkeeping collaborator rejected a write;
//     the in-memory update still happened
//   - Handler failure: an event handler returned an error
//
// RuntimeError carries structured fields for diagnostics; everything
// reaching the error sink is one of these.
type RuntimeError struct {
	// Code identifies the error category.
	Code RuntimeErrorCode

	// Message is a human-readable description.
	Message string

	// Token identifies the transaction that failed.
	Token string

	// Guard names the pipeline stage, for guard failures.
	Guard string

	// Err is the underlying cause.
	Err error
}

// RuntimeErrorCode categorizes runtime errors.
type RuntimeErrorCode string

const (
	// ErrCodeGuardFailed indicates a guard aborted a pipeline run.
	ErrCodeGuardFailed RuntimeErrorCode = "GUARD_FAILED"

	// ErrCodeStorageFailed indicates a bookkeeping write or read failed.
	ErrCodeStorageFailed RuntimeErrorCode = "STORAGE_FAILED"

	// ErrCodeHandlerFailed indicates an event handler returned an error.
	ErrCodeHandlerFailed RuntimeErrorCode = "HANDLER_FAILED"

	// ErrCodeStopped indicates a job was submitted after Stop.
	ErrCodeStopped RuntimeErrorCode = "ENGINE_STOPPED"
)

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	if e.Token != "" && e.Guard != "" {
		return fmt.Sprintf("%s: %s (tx=%s, guard=%s)", e.Code, e.Message, e.Token, e.Guard)
	}
	if e.Token != "" {
		return fmt.Sprintf("%s: %s (tx=%s)", e.Code, e.Message, e.Token)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the underlying cause to errors.Is/As.
func (e *RuntimeError) Unwrap() error { return e.Err }

// IsGuardError reports whether err is a guard failure. Uses errors.As to
// handle wrapped errors.
func IsGuardError(err error) bool {
	var re *RuntimeError
	return errors.As(err, &re) && re.Code == ErrCodeGuardFailed
}

// IsStorageError reports whether err is a storage failure.
func IsStorageError(err error) bool {
	var re *RuntimeError
	return errors.As(err, &re) && re.Code == ErrCodeStorageFailed
}

// NewGuardError wraps a guard failure with its run context.
func NewGuardError(token, guardName string, err error) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeGuardFailed,
		Message: "guard pipeline aborted",
		Token:   token,
		Guard:   guardName,
		Err:     err,
	}
}

// NewStorageError wraps a bookkeeping failure.
func NewStorageError(token, op string, err error) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeStorageFailed,
		Message: fmt.Sprintf("storage %s failed", op),
		Token:   token,
		Err:     err,
	}
}

// NewHandlerError wraps an event handler failure.
func NewHandlerError(token string, err error) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeHandlerFailed,
		Message: "event handler failed",
		Token:   token,
		Err:     err,
	}
}

// ErrStopped is returned by operations submitted after Stop.
var ErrStopped = &RuntimeError{Code: ErrCodeStopped, Message: "engine stopped"}
