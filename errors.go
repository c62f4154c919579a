// Package vox provides a Go error taxonomy mirroring spec.md's error
// kinds (transient, peer-closed, operational, connection, fatal-backend),
// each carrying a cause chain usable with errors.Is/errors.As.
package vox

import (
	"errors"
	"fmt"
)

// Sentinel errors for the transient/operational kinds named in spec.md §7.
var (
	// ErrWouldBlock marks a non-blocking operation that could not complete
	// immediately; callers should wait for the next readiness/completion.
	ErrWouldBlock = errors.New("vox: operation would block")
	// ErrClosed is returned by operations attempted on a closed or
	// closing handle.
	ErrClosed = errors.New("vox: handle is closing or closed")
	// ErrNotActive is returned when an operation requires an active
	// handle (e.g. Write before Listen/Connect completes).
	ErrNotActive = errors.New("vox: handle is not active")
	// ErrQueueFull is returned by submit-style operations that never
	// block the caller (thread pool, write queue admission).
	ErrQueueFull = errors.New("vox: queue is full")
	// ErrPoolFull is returned by ThreadPool.Submit when the admission
	// semaphore has no capacity left.
	ErrPoolFull = errors.New("vox: thread pool is full")
	// ErrPoolShutdown is returned by ThreadPool.Submit after Shutdown or
	// ForceShutdown has been called.
	ErrPoolShutdown = errors.New("vox: thread pool is shut down")
)

// PanicError wraps a value recovered from a panic inside a loop-driven
// callback (timer, I/O dispatch, deferred work).
type PanicError struct {
	Value any
	Stack []byte
}

// Error implements the error interface.
func (e *PanicError) Error() string {
	return fmt.Sprintf("vox: recovered panic: %v", e.Value)
}

// Unwrap returns the underlying error if the panic value is an error type.
// This enables use with [errors.Is] and [errors.As] for error matching
// through the cause chain. Returns nil if the panic value is not an error
// (e.g. a string).
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// AggregateError aggregates multiple independent errors observed during
// a single operation (e.g. closing several handles during shutdown).
//
// [github.com/hashicorp/go-multierror] is used instead for the
// user-facing backend auto-select failure (SelectBackend); AggregateError
// is kept for the narrower internal panic-recovery path where
// multierror's multi-line formatting is unwanted.
type AggregateError struct {
	Errors []error
}

// Error implements the error interface.
func (e *AggregateError) Error() string {
	if len(e.Errors) == 0 {
		return "vox: aggregate error with no causes"
	}
	return fmt.Sprintf("vox: %d error(s) occurred, first: %v", len(e.Errors), e.Errors[0])
}

// AggregateErrorCause returns the first error in the Errors slice, if any.
func (e *AggregateError) AggregateErrorCause() error {
	if len(e.Errors) > 0 {
		return e.Errors[0]
	}
	return nil
}

// Unwrap returns the errors slice for multi-error unwrapping (Go 1.20+).
func (e *AggregateError) Unwrap() []error {
	return e.Errors
}

// Is implements custom error matching for AggregateError. Returns true if
// target is an AggregateError (regardless of contents) or if any of the
// contained errors match target.
func (e *AggregateError) Is(target error) bool {
	var aggTarget *AggregateError
	return errors.As(target, &aggTarget)
}

// TypeError reports a value of the wrong type (bad address family, wrong
// handle kind passed where another was expected).
type TypeError struct {
	Cause   error
	Message string
}

// Error implements the error interface.
func (e *TypeError) Error() string {
	if e.Message == "" {
		return "vox: type error"
	}
	return e.Message
}

// Unwrap returns the underlying cause for use with [errors.Is] and [errors.As].
func (e *TypeError) Unwrap() error {
	return e.Cause
}

// RangeError reports a value outside its expected range (negative
// backlog, zero-length buffer where one is required).
type RangeError struct {
	Cause   error
	Message string
}

// Error implements the error interface.
func (e *RangeError) Error() string {
	if e.Message == "" {
		return "vox: range error"
	}
	return e.Message
}

// Unwrap returns the underlying cause for use with [errors.Is] and [errors.As].
func (e *RangeError) Unwrap() error {
	return e.Cause
}

// TimeoutError reports that a timed operation (DNS resolution, abort
// deadline) did not complete before its deadline.
type TimeoutError struct {
	Cause   error
	Message string
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	if e.Message == "" {
		return "vox: operation timed out"
	}
	return e.Message
}

// Unwrap returns the underlying cause for use with [errors.Is] and [errors.As].
func (e *TimeoutError) Unwrap() error {
	return e.Cause
}

// OpError reports a failure of a specific named operation on a specific
// network/handle, in the style of [net.OpError], carrying the
// connection-kind errors named in spec.md §7 (connect/accept/handshake
// failures surfaced through the matching callback's status).
type OpError struct {
	Op   string
	Addr fmt.Stringer
	Err  error
}

// Error implements the error interface.
func (e *OpError) Error() string {
	if e.Addr != nil {
		return fmt.Sprintf("vox: %s %s: %v", e.Op, e.Addr.String(), e.Err)
	}
	return fmt.Sprintf("vox: %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying cause for use with [errors.Is] and [errors.As].
func (e *OpError) Unwrap() error {
	return e.Err
}

// WrapError wraps an error with a message and cause chain.
//
// The result satisfies errors.Is(result, cause) == true.
func WrapError(message string, cause error) error {
	return fmt.Errorf("%s: %w", message, cause)
}
