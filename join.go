// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package jobtree

import (
	"context"
	"sync/atomic"
)

// continuation is the bridge between the job state machine and the ambient
// scheduler (the Go runtime): a one-shot resumption that a suspended caller
// of Join or Await parks on, with a disposer invoked however the wait ends so
// an aborted caller always detaches its listener.
type continuation struct {
	done     chan struct{}
	resumed  atomic.Bool
	disposer DisposableHandle
}

func newContinuation() *continuation {
	return &continuation{done: make(chan struct{})}
}

// resume releases the suspended caller. At most one call has any effect.
func (c *continuation) resume() {
	if c.resumed.CompareAndSwap(false, true) {
		close(c.done)
	}
}

// disposeOnCompletion registers the handle to dispose when the continuation
// completes, whether by resumption or by caller cancellation.
func (c *continuation) disposeOnCompletion(h DisposableHandle) {
	c.disposer = h
}

// suspend parks the caller until resumed or ctx is done. The caller's own
// cancellation aborts the wait with a [CancellationError]; the job being
// waited on is not affected.
func (c *continuation) suspend(ctx context.Context) error {
	defer func() {
		if c.disposer != nil {
			c.disposer.Dispose()
		}
	}()
	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		return &CancellationError{Message: "caller was cancelled", Cause: ctx.Err()}
	}
}

// Join suspends the calling goroutine until the job reaches a terminal state.
// A lazily created job is started first, so joining implicitly starts it.
//
// Join never reports the joined job's own failure or cancellation as an
// error; it only waits. The returned error is non-nil only when ctx is
// cancelled, in which case the wait is aborted (the job is unaffected) and a
// [CancellationError] carrying ctx.Err is returned.
func (j *Job) Join(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	// Joining a lazy job starts it; completion could otherwise never come.
	j.Start()
	if j.IsCompleted() {
		if err := ctx.Err(); err != nil {
			return &CancellationError{Message: "caller was cancelled", Cause: err}
		}
		return nil
	}
	c := newContinuation()
	c.disposeOnCompletion(j.InvokeOnCompletion(func(error) { c.resume() }))
	return c.suspend(ctx)
}

// Await suspends like [Job.Join] and then surfaces the job's outcome: the
// completion value on normal completion, or the failure or cancellation cause
// as the error. As with Join, ctx cancellation aborts only the wait.
func (j *Job) Await(ctx context.Context) (any, error) {
	if err := j.Join(ctx); err != nil {
		return nil, err
	}
	return terminalResult(j.state.load())
}
