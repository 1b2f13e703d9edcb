// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

// Package jobtree error types with cause chain support.

package jobtree

import "fmt"

// CancellationError is the expected failure produced when a job is cancelled.
// It carries the user-supplied cause, if any, and is what [Job.Await],
// [Job.Join] (for caller cancellation) and [Job.CancellationError] surface.
//
// Cause identity is preserved: cancelling with a cause that is already a
// *CancellationError propagates that exact value; any other cause is wrapped
// so that [errors.Is] still matches the original through the chain.
type CancellationError struct {
	// Message describes why the cancellation exception was produced.
	Message string
	// Cause is the original cancellation cause, or nil if none was supplied.
	Cause error
}

// Error implements the error interface.
func (e *CancellationError) Error() string {
	if e.Message == "" {
		return "job was cancelled"
	}
	return e.Message
}

// Is implements type-based matching: any *CancellationError matches any
// other, so callers can test for "some cancellation" without caring about
// the specific cause.
func (e *CancellationError) Is(target error) bool {
	_, ok := target.(*CancellationError)
	return ok
}

// Unwrap returns the underlying cause for use with [errors.Is] and
// [errors.As] through the cause chain.
func (e *CancellationError) Unwrap() error {
	return e.Cause
}

// CompletionHandlerError wraps a panic thrown by a completion handler. The
// first faulting handler becomes Cause; faults from any further handlers in
// the same notification pass are attached as Suppressed.
type CompletionHandlerError struct {
	// Cause is the recovered panic of the first faulting handler.
	Cause error
	// Suppressed holds recovered panics of any additional faulting handlers.
	Suppressed []error
}

// Error implements the error interface.
func (e *CompletionHandlerError) Error() string {
	return "completion handler failed: " + e.Cause.Error()
}

// Unwrap returns the cause followed by all suppressed errors for multi-error
// unwrapping (Go 1.20+), enabling [errors.Is] and [errors.As] against every
// accumulated fault.
func (e *CompletionHandlerError) Unwrap() []error {
	return append([]error{e.Cause}, e.Suppressed...)
}

// PanicError wraps an arbitrary recovered panic value as an error.
type PanicError struct {
	// Value is the value the panicking code passed to panic.
	Value any
}

// Error implements the error interface.
func (e PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// Unwrap returns the underlying error if the panic value is an error type.
// If the panic Value is not an error (e.g., a string), returns nil.
func (e PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// recoveredError normalizes a recover() result into an error.
func recoveredError(r any) error {
	if err, ok := r.(error); ok {
		return err
	}
	return PanicError{Value: r}
}

// sameCause reports whether two causes are "the same" for the purposes of
// cause coercion: reference-equal, or one is a *CancellationError whose inner
// cause is reference-equal to the other.
func sameCause(a, b error) bool {
	if a == b {
		return true
	}
	if ce, ok := a.(*CancellationError); ok && ce.Cause == b {
		return true
	}
	if ce, ok := b.(*CancellationError); ok && ce.Cause == a {
		return true
	}
	return false
}

// asCancellation returns c as-is if it is already a cancellation error, and
// otherwise wraps it, preserving c as the cause.
func asCancellation(c error, message string) *CancellationError {
	if ce, ok := c.(*CancellationError); ok {
		return ce
	}
	return &CancellationError{Message: message, Cause: c}
}
