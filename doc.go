// Package jobtree provides a cancellable, compose-able Job primitive for
// structured concurrency: a lock-free state machine representing a unit of
// asynchronous work, organized into parent/child hierarchies, with completion
// listeners and suspendable join/await operations.
//
// # Architecture
//
// The package is built around a [Job] core holding its entire lifecycle in a
// single atomic state cell. The encoding is deliberately compact: the same
// cell represents "empty", "one listener" (the listener node itself is the
// state), "list of listeners", "completing or cancelling with children", and
// the terminal values, following the promotion ladder Empty → Single → List →
// Finishing → terminal. Most jobs hold zero or one listener and never
// allocate a list.
//
// Listeners are installed with [Job.InvokeOnCompletion] (fires exactly once
// with the terminal cause) or [Job.InvokeOnCancelling] (fires as soon as the
// job enters its cancelling phase). Children attach via [WithParent] or
// [Job.AttachChild]; a parent cannot reach a terminal state while any
// attached child is incomplete, and cancelling a parent cancels its children.
//
// # Thread Safety
//
// Every operation is safe for concurrent use from any goroutine:
//   - State transitions are single CAS operations with caller-side retry.
//   - Listener installation never blocks; handlers run on whichever goroutine
//     effects the relevant transition, or synchronously at install time if
//     the job is already past it.
//   - Only [Job.Join] and [Job.Await] suspend, parking the calling goroutine
//     on a one-shot resumption; the caller's own context cancellation aborts
//     the wait without affecting the job.
//
// # Usage
//
//	parent, err := jobtree.New()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	child, err := jobtree.New(jobtree.WithParent(parent))
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	go func() {
//	    // ... work ...
//	    child.Complete("done")
//	}()
//
//	parent.Complete(nil) // enters completing, waits for child
//	if err := parent.Join(context.Background()); err != nil {
//	    log.Fatal(err)
//	}
//
// # Error Types
//
// The package provides error types with cause chain support:
//   - [CancellationError]: the expected failure carried by cancellation;
//     preserves the original cause by reference through [errors.Unwrap]
//   - [CompletionHandlerError]: a listener panicked (multi-error, Go 1.20+
//     compatible; additional faults are attached as suppressed)
//   - [PanicError]: wraps recovered non-error panic values
//
// All error types implement the standard [error] interface and expose their
// causes through Unwrap, so [errors.Is] and [errors.As] reach them
// ([CompletionHandlerError] uses the multi-error Unwrap() []error form).
// [CancellationError] additionally matches any other *CancellationError via
// its Is method.
package jobtree
