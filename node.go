package jobtree

import "sync/atomic"

// CompletionHandler is a listener invoked with the terminal cause of a job
// (nil on normal completion), or with the cancellation cause when installed
// via [Job.InvokeOnCancelling] and the job enters its cancelling phase.
//
// Handlers must be fast, non-blocking and panic-free. They may run on any
// goroutine that effects the relevant transition, or synchronously on the
// installing goroutine if the job is already past the transition at install
// time. A panic is caught, wrapped in [CompletionHandlerError], and routed to
// the exception hook; it never prevents other handlers from running nor the
// state transition from completing.
type CompletionHandler func(cause error)

// DisposableHandle detaches a previously installed listener.
type DisposableHandle interface {
	// Dispose removes the listener. Idempotent and safe to call concurrently
	// with the job terminating; either the handler fires exactly once or the
	// disposal wins, never both.
	Dispose()
}

type nonDisposable struct{}

func (nonDisposable) Dispose() {}

// NonDisposableHandle is a shared no-op handle. It is returned when there is
// nothing to detach, for example when a handler was invoked synchronously
// because the job was already complete.
var NonDisposableHandle DisposableHandle = nonDisposable{}

// node is a single listener. It is simultaneously the intrusive list element
// (via the next/prev ring pointers) and, while it is the only listener, the
// job's entire state: a fresh node rings to itself and sits directly in the
// state cell until a second listener forces promotion to a full list.
type node struct {
	next atomic.Pointer[nextLink]
	prev atomic.Pointer[node]

	// asList is non-nil only on a list sentinel.
	asList *nodeList

	// job is the owner this node is (or will be) installed on.
	job *Job

	// invoke is the listener body. Guarded by fired: at most one invocation
	// across cancelling notification, terminal notification, and the
	// install-race inline path.
	invoke CompletionHandler

	// onCancelling marks a cancellation-phase listener: it fires when the job
	// enters its cancelling phase rather than waiting for the terminal
	// transition.
	onCancelling bool

	// child is non-nil for child attachment nodes; it is the attached child
	// job, used by the completion protocol's child wait loop and by
	// CancelChildren.
	child *Job

	fired atomic.Bool
}

func newNode(j *Job, onCancelling bool, invoke CompletionHandler) *node {
	n := &node{job: j, invoke: invoke, onCancelling: onCancelling}
	n.next.Store(&nextLink{n: n})
	n.prev.Store(n)
	return n
}

// tryFire invokes the listener at most once, capturing a panic as a
// [CompletionHandlerError]. Reports whether this call claimed the
// invocation; fault is non-nil only if the handler panicked.
func (n *node) tryFire(cause error) (fired bool, fault error) {
	if !n.fired.CompareAndSwap(false, true) {
		return false, nil
	}
	defer func() {
		if r := recover(); r != nil {
			fault = &CompletionHandlerError{Cause: recoveredError(r)}
		}
	}()
	n.invoke(cause)
	return true, nil
}

// Dispose implements [DisposableHandle] by detaching the node from its job.
func (n *node) Dispose() {
	n.job.removeNode(n)
}
