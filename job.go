package jobtree

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/joeycumines/logiface"
)

// Job is a cancellable unit of asynchronous work organized into parent/child
// hierarchies. A job transitions monotonically toward one of three terminal
// states: completed with a value, failed with an error, or cancelled with a
// cause. Parents wait for attached children before completing; cancelling a
// parent propagates to its children.
//
// The zero value is not usable; construct with [New].
//
// Thread Safety:
//
// All methods are safe for concurrent use from any goroutine. State lives in
// a single atomic cell and every transition is a CAS; no operation blocks
// except [Job.Join] and [Job.Await], which park the calling goroutine until
// the job terminates or ctx is done.
//
// Usage:
//
//	parent, _ := jobtree.New()
//	child, _ := jobtree.New(jobtree.WithParent(parent))
//
//	go func() {
//	    defer child.Complete(nil)
//	    // ... work ...
//	}()
//
//	parent.Cancel(errors.New("shutting down")) // cancels child too
//	_ = parent.Join(context.Background())
type Job struct {
	state stateCell

	// parentHandle is the handle returned by the parent's AttachChild. Set at
	// most once, disposed exactly once on terminal transition.
	parentHandle atomic.Pointer[handleRef]

	hooks   Hooks
	logger  *logiface.Logger[logiface.Event]
	metrics *Metrics
	name    string

	// directCancel makes Cancel complete the job immediately when no child is
	// incomplete, without a distinct cancelling phase. With incomplete
	// children the job is cancelling while it waits for them. This is the
	// behaviour of a bare job with no body to run down.
	directCancel bool
}

type handleRef struct {
	h DisposableHandle
}

// Hooks is the small extension vtable visible to carriers built on top of
// Job (for example a typed deferred value). All fields are optional.
type Hooks struct {
	// OnStart is invoked exactly once, by the call that transitions the job
	// from New to Active.
	OnStart func()

	// OnCancelling is invoked exactly once: on entry to the cancelling phase
	// with the cancellation cause, or — if the job reaches a terminal state
	// without a cancelling phase — at terminal transition with the failure
	// cause (nil when completed normally).
	OnCancelling func(cause error)

	// AfterCompletion is invoked after the terminal transition and listener
	// notification, with the terminal value and cause.
	AfterCompletion func(value any, cause error)

	// HandleException receives completion handler faults and exceptions that
	// were superseded by a cancellation already in progress. When nil, faults
	// are logged if a logger is configured and re-raised (panic) otherwise.
	HandleException func(err error)

	// Name overrides the job's display name used by String.
	Name func() string
}

// New creates a job. By default the job is created active, with a cancelling
// phase, no parent, and no logging or metrics; see the With* options.
func New(options ...JobOption) (*Job, error) {
	cfg, err := resolveJobOptions(options)
	if err != nil {
		return nil, err
	}
	j := &Job{
		hooks:        cfg.hooks,
		logger:       cfg.logger,
		name:         cfg.name,
		directCancel: cfg.directCancel,
	}
	if cfg.metricsEnabled {
		j.metrics = &Metrics{}
	}
	if cfg.lazy {
		j.state.init(stateNew)
	} else {
		j.state.init(stateActive)
	}
	if cfg.parent != nil {
		j.initParent(cfg.parent)
	}
	return j, nil
}

// initParent starts the parent if it is lazy, attaches this job as a child,
// and records the handle for disposal on terminal transition.
func (j *Job) initParent(parent *Job) {
	parent.Start()
	h := parent.AttachChild(j)
	for {
		old := j.parentHandle.Load()
		if old != nil {
			if old.h != nil {
				panic("jobtree: parent already initialized")
			}
			// Terminal transition already ran and cleared the slot.
			h.Dispose()
			return
		}
		if j.parentHandle.CompareAndSwap(nil, &handleRef{h: h}) {
			break
		}
	}
	// AttachChild may have cancelled us synchronously (parent already
	// cancelling); the finalization that ran before the handle was stored
	// could not dispose it.
	if j.IsCompleted() {
		if old := j.parentHandle.Swap(&handleRef{}); old != nil && old.h != nil {
			old.h.Dispose()
		}
	}
}

// ---------------------------------------------------------------------------
// Status projections
// ---------------------------------------------------------------------------

// IsActive reports whether the job has been started and is neither complete
// nor being cancelled.
func (j *Job) IsActive() bool {
	if s, ok := j.state.load().(incomplete); ok {
		return s.stateActive()
	}
	return false
}

// IsCompleted reports whether the job has reached a terminal state.
func (j *Job) IsCompleted() bool {
	return isTerminal(j.state.load())
}

// IsCancelled reports whether the job was cancelled, or is currently in its
// cancelling phase.
func (j *Job) IsCancelled() bool {
	switch s := j.state.load().(type) {
	case *completedExceptionally:
		return s.cancelled
	case *finishing:
		return s.cancelCause() != nil
	}
	return false
}

// ---------------------------------------------------------------------------
// Start
// ---------------------------------------------------------------------------

// Start transitions a lazily created job from New to Active. Returns true iff
// this call effected the transition; the OnStart hook runs exactly once, on
// the effecting call.
func (j *Job) Start() bool {
	for {
		ref := j.state.loadRef()
		switch s := ref.s.(type) {
		case *empty:
			if s.active {
				return false
			}
			if j.state.cas(ref, stateActive) {
				j.onStart()
				return true
			}
		case *inactiveList:
			if j.state.cas(ref, s.list) {
				j.onStart()
				return true
			}
		default:
			return false
		}
	}
}

func (j *Job) onStart() {
	if j.metrics != nil {
		j.metrics.started.Add(1)
	}
	if j.logger != nil {
		j.logger.Debug().Str("job", j.nameString()).Log("job started")
	}
	if j.hooks.OnStart != nil {
		j.hooks.OnStart()
	}
}

// ---------------------------------------------------------------------------
// Listener installation
// ---------------------------------------------------------------------------

// InvokeOnCompletion installs a completion-phase listener: handler is invoked
// exactly once with the terminal cause (nil on normal completion) when the
// job terminates. If the job is already terminal, handler is invoked
// synchronously and [NonDisposableHandle] is returned.
func (j *Job) InvokeOnCompletion(handler CompletionHandler) DisposableHandle {
	return j.install(newNode(j, false, handler))
}

// InvokeOnCancelling installs a cancellation-phase listener: handler is
// invoked at most once, as soon as the job enters its cancelling phase (with
// the cancellation cause), or at terminal transition otherwise. If the job is
// already cancelling or terminal, handler is invoked synchronously and
// [NonDisposableHandle] is returned.
func (j *Job) InvokeOnCancelling(handler CompletionHandler) DisposableHandle {
	return j.install(newNode(j, true, handler))
}

// DisposeOnCompletion installs a listener that disposes h when the job
// terminates, tying the lifetime of some other registration to this job.
func (j *Job) DisposeOnCompletion(h DisposableHandle) DisposableHandle {
	return j.InvokeOnCompletion(func(error) { h.Dispose() })
}

// install places n into the job's listener structure, promoting the state
// through the Empty → Single → List ladder as needed.
func (j *Job) install(n *node) DisposableHandle {
	if j.metrics != nil {
		j.metrics.handlersInstalled.Add(1)
	}
	for {
		ref := j.state.loadRef()
		switch s := ref.s.(type) {
		case *empty:
			if s.active {
				// The node itself becomes the state: no list allocation for
				// the common zero-or-one listener case.
				if j.state.cas(ref, n) {
					return n
				}
			} else {
				// Promote to a (still inactive) list first, then retry.
				j.state.cas(ref, &inactiveList{list: newNodeList()})
			}
		case *node:
			j.promoteSingle(ref, s)
		case *finishing:
			s.mu.Lock()
			if s.sealed {
				// Terminal CAS is imminent; retry until it lands.
				s.mu.Unlock()
				continue
			}
			root := s.rootCause
			if n.onCancelling && root != nil {
				// Already cancelling: cancellation-phase handlers fire
				// immediately with the existing cause.
				s.mu.Unlock()
				j.fireInstalled(n, root)
				return NonDisposableHandle
			}
			// Append under the finishing lock: a concurrent cancel sets
			// rootCause under this lock before it notifies, so it cannot
			// miss the node.
			s.list.addLast(n)
			s.mu.Unlock()
			return n
		case incomplete: // *nodeList or *inactiveList
			list := s.stateList()
			list.addLast(n)
			if cur := j.state.loadRef(); cur != ref {
				// The wrapper moved while we appended; the notifier that
				// effected the transition may not have observed the node.
				// The node's one-shot guard makes the reconciliation safe.
				switch c := cur.s.(type) {
				case *finishing:
					if n.onCancelling {
						if root := c.cancelCause(); root != nil {
							j.fireInstalled(n, root)
						}
					}
				default:
					if isTerminal(cur.s) {
						j.fireInstalled(n, terminalCause(cur.s))
						return NonDisposableHandle
					}
					// inactiveList → nodeList flip: same list, clean install.
				}
			}
			return n
		default: // terminal
			j.fireInstalled(n, terminalCause(ref.s))
			return NonDisposableHandle
		}
	}
}

// fireInstalled invokes a node inline (install-time invocation paths),
// routing a handler fault to the exception hook.
func (j *Job) fireInstalled(n *node, cause error) {
	fired, err := n.tryFire(cause)
	if err != nil {
		j.handleException(err)
	} else if fired && j.metrics != nil {
		j.metrics.handlersFired.Add(1)
	}
}

// promoteSingle replaces a single-listener state with a list containing that
// listener. The node is joined into a ring with a fresh sentinel first, so a
// concurrent promoter resolves to the same list.
func (j *Job) promoteSingle(ref *stateRef, single *node) {
	l := single.promoteList()
	j.state.cas(ref, l)
}

// removeNode detaches a listener: if it is the entire state, the state
// reverts to empty-active; if it sits in a list, it is logically removed and
// unlinked. Idempotent.
func (j *Job) removeNode(n *node) {
	for {
		ref := j.state.loadRef()
		switch s := ref.s.(type) {
		case *node:
			if s != n {
				return
			}
			if j.state.cas(ref, stateActive) {
				return
			}
		case incomplete:
			if l := s.stateList(); l != nil {
				if n.remove() {
					l.unlink(n)
				}
			}
			return
		default:
			return
		}
	}
}

// ---------------------------------------------------------------------------
// Children
// ---------------------------------------------------------------------------

// AttachChild attaches child so that this job cannot complete before the
// child does, and so that cancelling this job cancels the child. The returned
// handle is held by the child and disposed on the child's terminal
// transition; most callers want [WithParent] instead of calling this
// directly.
func (j *Job) AttachChild(child *Job) DisposableHandle {
	n := newNode(j, true, nil)
	n.child = child
	n.invoke = func(error) { child.parentCancelled(j) }
	return j.install(n)
}

// parentCancelled is invoked via the parent's child attachment node when the
// parent enters its cancelling phase (or terminates). A terminal child
// ignores it.
func (j *Job) parentCancelled(parent *Job) {
	j.Cancel(parent.CancellationError())
}

// eachChild visits every currently attached child. A lone child attachment
// may still be the single-node state, before any list was allocated.
func (j *Job) eachChild(fn func(*Job)) {
	switch s := j.state.load().(type) {
	case *node:
		if s.child != nil {
			fn(s.child)
		}
	case incomplete:
		if l := s.stateList(); l != nil {
			l.forEach(func(n *node) {
				if n.child != nil {
					fn(n.child)
				}
			})
		}
	}
}

// CancelChildren cancels every currently attached child with the given cause
// without affecting this job's own state.
func (j *Job) CancelChildren(cause error) {
	j.eachChild(func(c *Job) { c.Cancel(cause) })
}

// Children returns a snapshot of the currently attached children.
func (j *Job) Children() []*Job {
	var out []*Job
	j.eachChild(func(c *Job) { out = append(out, c) })
	return out
}

// ---------------------------------------------------------------------------
// Cancellation
// ---------------------------------------------------------------------------

// Cancel requests cancellation with an optional cause (nil materializes a
// generated [CancellationError]). Returns true iff this call effected the
// transition into a cancelling or cancelled state; false if the job was
// already cancelling or complete.
func (j *Job) Cancel(cause error) bool {
	c := j.cancellationCause(cause)
	var ok bool
	if j.directCancel {
		// No body to run down: cancellation is completion.
		ok = j.makeCompleting(&completedExceptionally{cause: c, cancelled: true})
		if !ok {
			// Already completing (waiting for children): establish the
			// cancellation cause on the finishing state instead.
			ok = j.makeCancelling(c)
		}
	} else {
		ok = j.makeCancelling(c)
	}
	if ok {
		if j.metrics != nil {
			j.metrics.cancelRequests.Add(1)
		}
		if j.logger != nil {
			j.logger.Debug().Str("job", j.nameString()).Err(c).Log("job cancelling")
		}
	}
	return ok
}

// CancelAndJoin cancels the job and waits for it to terminate.
func (j *Job) CancelAndJoin(ctx context.Context) error {
	j.Cancel(nil)
	return j.Join(ctx)
}

func (j *Job) cancellationCause(cause error) error {
	if cause == nil {
		return &CancellationError{Message: "job was cancelled"}
	}
	return cause
}

// makeCancelling drives the cancellation transition table for jobs with a
// cancelling phase.
func (j *Job) makeCancelling(cause error) bool {
	for {
		ref := j.state.loadRef()
		switch s := ref.s.(type) {
		case *empty:
			if !s.active {
				// Never started and nothing attached: terminal immediately.
				if j.tryFinalize(ref, s, &completedExceptionally{cause: cause, cancelled: true}) {
					return true
				}
				continue
			}
			// Promote so listeners installed during the cancelling phase
			// still land in a list; the finishing state needs one anyway.
			j.state.cas(ref, newNodeList())
		case *node:
			j.promoteSingle(ref, s)
		case *finishing:
			s.mu.Lock()
			if s.sealed {
				s.mu.Unlock()
				continue
			}
			if s.rootCause != nil {
				s.mu.Unlock()
				return false
			}
			s.rootCause = cause
			completing := s.completing
			s.mu.Unlock()
			j.notifyCancelling(s.list, cause)
			if !completing {
				j.makeCompleting(&completedExceptionally{cause: cause, cancelled: true})
			}
			return true
		case incomplete: // *nodeList or *inactiveList
			list := s.stateList()
			f := newFinishing(list, cause, false)
			if j.state.cas(ref, f) {
				j.notifyCancelling(list, cause)
				j.makeCompleting(&completedExceptionally{cause: cause, cancelled: true})
				return true
			}
		default:
			return false
		}
	}
}

// notifyCancelling fires all cancellation-phase listeners (which includes
// child attachments, propagating the cancellation downward), then the
// OnCancelling hook.
func (j *Job) notifyCancelling(list *nodeList, cause error) {
	var faults []error
	list.forEach(func(n *node) {
		if !n.onCancelling {
			return
		}
		fired, err := n.tryFire(cause)
		if err != nil {
			faults = append(faults, err)
		} else if fired && j.metrics != nil {
			j.metrics.handlersFired.Add(1)
		}
	})
	if j.hooks.OnCancelling != nil {
		j.hooks.OnCancelling(cause)
	}
	j.reportFaults(faults)
}

// ---------------------------------------------------------------------------
// Completion
// ---------------------------------------------------------------------------

// Complete completes the job normally with the given value. If children are
// attached, the job enters the completing phase and terminates only once
// every child has; the value is retained through the wait. Returns true iff
// this call initiated completion; false if the job was already completing or
// complete.
func (j *Job) Complete(value any) bool {
	return j.makeCompleting(&completedValue{value: value})
}

// CompleteExceptionally fails the job with err, subject to the same child
// quiescence protocol as [Job.Complete]. If the job is cancelled while it
// waits for its children, the cancellation cause wins: err is discarded from
// the terminal state and reported through the exception hook unless it is
// the same cause. Cancel itself claims completion, so a call made after
// Cancel returns false and err is neither applied nor reported.
func (j *Job) CompleteExceptionally(err error) bool {
	if err == nil {
		panic("jobtree: CompleteExceptionally requires a non-nil error")
	}
	return j.makeCompleting(&completedExceptionally{cause: err, cancelled: isCancellationCause(err)})
}

func isCancellationCause(err error) bool {
	_, ok := err.(*CancellationError)
	return ok
}

// cancellationOf returns the cause when the proposed terminal update is a
// cancellation, and nil for normal or plain-failure completion.
func cancellationOf(proposed jobState) error {
	if e, ok := proposed.(*completedExceptionally); ok && e.cancelled {
		return e.cause
	}
	return nil
}

// makeCompleting applies a proposed terminal update, waiting for child
// quiescence through the finishing state when children are attached.
func (j *Job) makeCompleting(proposed jobState) bool {
	for {
		ref := j.state.loadRef()
		switch s := ref.s.(type) {
		case *finishing:
			s.mu.Lock()
			if s.sealed {
				s.mu.Unlock()
				continue
			}
			if s.completing {
				s.mu.Unlock()
				return false
			}
			s.completing = true
			s.proposed = proposed
			var notifyCause error
			if c := cancellationOf(proposed); c != nil && s.rootCause == nil {
				// A cancellation-flavoured completion establishes the root
				// cause, so cancellation-phase listeners (child attachments
				// included) must still be notified.
				s.rootCause = c
				notifyCause = c
			}
			s.mu.Unlock()
			if notifyCause != nil {
				j.notifyCancelling(s.list, notifyCause)
			}
			j.finalizeFinishing(s)
			return true
		case incomplete:
			if sn, ok := s.(*node); ok && sn.child != nil && !sn.child.IsCompleted() {
				// A lone child attachment has no list yet; the completing
				// phase needs one to hold the wait state.
				j.promoteSingle(ref, sn)
				continue
			}
			list := s.stateList()
			var ch *node
			if list != nil {
				ch = list.firstIncompleteChild()
			}
			if ch == nil {
				if j.tryFinalize(ref, s, proposed) {
					return true
				}
				continue
			}
			rootCause := cancellationOf(proposed)
			f := newFinishing(list, rootCause, true)
			f.proposed = proposed
			if j.state.cas(ref, f) {
				if rootCause != nil {
					j.notifyCancelling(list, rootCause)
				}
				j.finalizeFinishing(f)
				return true
			}
		default: // terminal
			return false
		}
	}
}

// waitChild installs a one-shot listener on ch's job that re-enters the
// finalization scan once the child terminates.
func (j *Job) waitChild(f *finishing, ch *node) {
	child := ch.child
	child.InvokeOnCompletion(func(error) { j.finalizeFinishing(f) })
}

// finalizeFinishing completes the completion protocol: rescan for incomplete
// children (waiting on one if found), otherwise seal the finishing state and
// apply the terminal update. Sealing and the child scan share the finishing
// lock with listener installation, so a child attached concurrently is either
// observed by the scan or fails its install and retries against the terminal
// state.
func (j *Job) finalizeFinishing(f *finishing) {
	f.mu.Lock()
	if f.sealed || !f.completing {
		f.mu.Unlock()
		return
	}
	if ch := f.list.firstIncompleteChild(); ch != nil {
		f.mu.Unlock()
		j.waitChild(f, ch)
		return
	}
	f.sealed = true
	root := f.rootCause
	proposed := f.proposed
	f.mu.Unlock()

	final := proposed
	var superseded error
	if root != nil {
		// Cause coercion: the established cancellation cause wins over
		// whatever the completion proposed.
		final = &completedExceptionally{cause: root, cancelled: true}
		if pc := terminalCause(proposed); pc != nil && !sameCause(pc, root) {
			superseded = pc
		}
	}

	ref := j.state.loadRef() // necessarily f: a sealed finishing is replaced only below
	j.state.cas(ref, final)

	if superseded != nil {
		j.handleException(fmt.Errorf("unexpected exception while job was cancelling: %w", superseded))
	}
	j.completeStateFinalization(f, final, root != nil)
}

// tryFinalize applies a terminal update directly from a state with no
// attached children and no established cancellation cause.
func (j *Job) tryFinalize(ref *stateRef, old incomplete, final jobState) bool {
	if !j.state.cas(ref, final) {
		return false
	}
	j.completeStateFinalization(old, final, false)
	return true
}

// completeStateFinalization runs the post-terminal protocol: dispose the
// parent link, notify every installed listener exactly once, fire the
// remaining hooks.
func (j *Job) completeStateFinalization(old jobState, final jobState, wasCancelling bool) {
	cause := terminalCause(final)

	if h := j.parentHandle.Swap(&handleRef{}); h != nil && h.h != nil {
		h.h.Dispose()
	}

	var faults []error
	fire := func(n *node) {
		fired, err := n.tryFire(cause)
		if err != nil {
			faults = append(faults, err)
		} else if fired && j.metrics != nil {
			j.metrics.handlersFired.Add(1)
		}
	}
	switch s := old.(type) {
	case *node:
		fire(s)
	case incomplete:
		if l := s.stateList(); l != nil {
			l.forEach(fire)
		}
	}

	if !wasCancelling && j.hooks.OnCancelling != nil {
		j.hooks.OnCancelling(cause)
	}

	if j.metrics != nil {
		if e, ok := final.(*completedExceptionally); ok {
			if e.cancelled {
				j.metrics.cancelled.Add(1)
			} else {
				j.metrics.failed.Add(1)
			}
		} else {
			j.metrics.completed.Add(1)
		}
	}
	if j.logger != nil {
		j.logger.Debug().Str("job", j.nameString()).Str("state", j.stateString()).Log("job completed")
	}

	if j.hooks.AfterCompletion != nil {
		v, _ := terminalResult(final)
		j.hooks.AfterCompletion(v, cause)
	}

	j.reportFaults(faults)
}

// reportFaults aggregates completion handler faults: the first becomes the
// cause, the rest are suppressed, and the bundle is routed to the exception
// hook. Faults never prevent listener notification or state transition.
func (j *Job) reportFaults(faults []error) {
	if len(faults) == 0 {
		return
	}
	first := faults[0].(*CompletionHandlerError)
	for _, f := range faults[1:] {
		first.Suppressed = append(first.Suppressed, f.(*CompletionHandlerError).Cause)
	}
	j.handleException(first)
}

// handleException routes a fault: the HandleException hook if set, else the
// configured logger, else re-raised to the caller that drove the transition.
func (j *Job) handleException(err error) {
	if j.hooks.HandleException != nil {
		j.hooks.HandleException(err)
		return
	}
	if j.logCritical("unhandled job exception", err) {
		return
	}
	panic(err)
}

// ---------------------------------------------------------------------------
// Terminal introspection
// ---------------------------------------------------------------------------

// CancellationError returns a cancellation error reflecting the job's
// terminal (or cancelling) cause:
//
//   - cancelled, or cancelling with cause c: c as-is if it is already a
//     *CancellationError, otherwise a wrapper preserving c as the cause
//   - failed: a "job has failed" error wrapping the failure
//   - completed normally: a fresh "job has completed normally" error
//
// Panics if the job is neither complete nor in its cancelling phase.
func (j *Job) CancellationError() *CancellationError {
	switch s := j.state.load().(type) {
	case *finishing:
		if c := s.cancelCause(); c != nil {
			return asCancellation(c, "job is cancelling")
		}
	case *completedExceptionally:
		if s.cancelled {
			return asCancellation(s.cause, "job was cancelled")
		}
		return &CancellationError{Message: "job has failed", Cause: s.cause}
	case *completedValue:
		return &CancellationError{Message: "job has completed normally"}
	}
	panic(fmt.Sprintf("jobtree: cancellation error requested for a job that is not cancelling or complete: %s", j))
}

// terminalResult projects a terminal state into (value, cause).
func terminalResult(s jobState) (any, error) {
	switch t := s.(type) {
	case *completedValue:
		return t.value, nil
	case *completedExceptionally:
		return nil, t.cause
	}
	return nil, nil
}

// ---------------------------------------------------------------------------
// Rendering
// ---------------------------------------------------------------------------

// String renders the job as name{State}@address, for debugging.
func (j *Job) String() string {
	return fmt.Sprintf("%s{%s}@%p", j.nameString(), j.stateString(), j)
}

func (j *Job) nameString() string {
	if j.hooks.Name != nil {
		return j.hooks.Name()
	}
	if j.name != "" {
		return j.name
	}
	return "Job"
}

func (j *Job) stateString() string {
	switch s := j.state.load().(type) {
	case *empty:
		if s.active {
			return "Active"
		}
		return "New"
	case *node, *nodeList:
		return "Active"
	case *inactiveList:
		return "New"
	case *finishing:
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.rootCause != nil {
			return "Cancelling"
		}
		if s.completing {
			return "Completing"
		}
		return "Active"
	case *completedValue:
		return "Completed"
	case *completedExceptionally:
		if s.cancelled {
			return "Cancelled"
		}
		return "Failed"
	}
	return "Unknown"
}
