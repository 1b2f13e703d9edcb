package jobtree

import (
	"sync"
	"sync/atomic"
)

// jobState is the value held by a Job's state cell.
//
// State Machine (compact encoding, promotion ladder Empty → Single → List →
// Finishing → terminal):
//
//	stateNew (empty, inactive)       → stateActive       [Start() via CAS]
//	stateNew                         → *inactiveList     [listener install before start]
//	stateActive (empty, active)      → *node             [single listener, no list allocated]
//	*node                            → *nodeList         [second listener or cancel; ring promotion]
//	*inactiveList                    → *nodeList         [Start() flips the wrapper]
//	*nodeList                        → *finishing        [cancel, or completion with children]
//	any incomplete                   → terminal          [*completedValue / *completedExceptionally]
//
// Transition Rules:
//   - All cell transitions are single CAS operations; retry is the caller's
//     responsibility via a loop over loadRef.
//   - Terminal states are never replaced (monotonic).
//   - Once a list is allocated it is never replaced with a list-less state;
//     only the wrapper around it changes.
type jobState interface{}

// incomplete is implemented by every non-terminal state.
type incomplete interface {
	jobState
	// stateActive reports whether the state counts as Active for the public
	// IsActive projection.
	stateActive() bool
	// stateList returns the listener list, or nil if none is allocated.
	stateList() *nodeList
}

// empty is a listener-less state. The two instances are shared; they carry no
// per-job data.
type empty struct {
	active bool
}

var (
	stateNew    = &empty{active: false}
	stateActive = &empty{active: true}
)

func (e *empty) stateActive() bool { return e.active }

func (e *empty) stateList() *nodeList { return nil }

// inactiveList wraps a listener list for a job that has not been started.
// Start flips the wrapper to the bare *nodeList, which is the active form.
type inactiveList struct {
	list *nodeList
}

func (s *inactiveList) stateActive() bool { return false }

func (s *inactiveList) stateList() *nodeList { return s.list }

// nodeList in state position is the active, list-bearing form.
func (l *nodeList) stateActive() bool { return true }

func (l *nodeList) stateList() *nodeList { return l }

// A single *node in state position is an active state with exactly one
// listener and no list allocated (see node.go).
func (n *node) stateActive() bool { return true }

func (n *node) stateList() *nodeList { return nil }

// finishing is the transient state between "cancellation or completion has
// begun" and "all children have quiesced". The cell transitions into and out
// of finishing with a CAS; the fields below mutate in place under mu, each at
// most once in a single direction (rootCause nil→non-nil, completing
// false→true, sealed false→true).
type finishing struct {
	list *nodeList

	mu sync.Mutex
	// rootCause is the cancellation cause, nil while not cancelling. Once set
	// it is never replaced; the terminal state must carry it.
	rootCause error
	// completing is set when the completion protocol has claimed this job; a
	// second completer observes it and backs off.
	completing bool
	// sealed is set just before the terminal CAS. Installers and cancellers
	// that observe sealed retry until the cell turns terminal.
	sealed bool
	// proposed is the terminal update the completion protocol will apply once
	// children quiesce, subject to cause coercion against rootCause.
	proposed jobState
}

func newFinishing(list *nodeList, rootCause error, completing bool) *finishing {
	return &finishing{list: list, rootCause: rootCause, completing: completing}
}

func (f *finishing) stateActive() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rootCause == nil
}

func (f *finishing) stateList() *nodeList { return f.list }

// cancelCause returns the root cancellation cause, or nil if not cancelling.
func (f *finishing) cancelCause() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rootCause
}

// completedValue is the terminal state of a normally completed job.
type completedValue struct {
	value any
}

// completedExceptionally is the terminal state of a failed or cancelled job.
// Cancellation is a flavour of exceptional completion that carries its cause
// and renders the job cancelled rather than failed.
type completedExceptionally struct {
	cause     error
	cancelled bool
}

// isTerminal reports whether s is one of the terminal shapes.
func isTerminal(s jobState) bool {
	switch s.(type) {
	case *completedValue, *completedExceptionally:
		return true
	}
	return false
}

// terminalCause returns the cause carried by a terminal state, or nil for
// normal completion.
func terminalCause(s jobState) error {
	if e, ok := s.(*completedExceptionally); ok {
		return e.cause
	}
	return nil
}

// stateRef boxes a jobState so the cell can CAS on reference identity. Every
// transition allocates a fresh box; ABA is impossible because boxes are never
// reused.
type stateRef struct {
	s jobState
}

// stateCell is the single atomic slot holding a Job's current state.
//
// PERFORMANCE: Pure atomic CAS operations with no mutex. Cache-line padding
// prevents false sharing between cores.
type stateCell struct { // betteralign:ignore
	_ [64]byte                 // Cache line padding (before value) //nolint:unused
	p atomic.Pointer[stateRef] // Boxed state value
	_ [56]byte                 // Pad to complete cache line (64 - 8 = 56) //nolint:unused
}

func (c *stateCell) init(s jobState) {
	c.p.Store(&stateRef{s: s})
}

// load returns the current state.
func (c *stateCell) load() jobState {
	return c.p.Load().s
}

// loadRef returns the current boxed state for use with cas.
func (c *stateCell) loadRef() *stateRef {
	return c.p.Load()
}

// cas attempts to transition from the observed box to a new state. Returns
// true if the transition was effected by this call.
func (c *stateCell) cas(from *stateRef, to jobState) bool {
	return c.p.CompareAndSwap(from, &stateRef{s: to})
}
