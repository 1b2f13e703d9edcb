// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package jobtree

// SelectInstance is the contract an external multiplexer implements so that a
// job's completion can be raced against other events. The multiplexer itself
// is out of scope for this package; only the registration points below are
// provided.
type SelectInstance interface {
	// TrySelect atomically claims the select for the calling clause. Exactly
	// one clause of a given select instance may win.
	TrySelect() bool

	// DisposeOnSelect registers a handle disposed once the select completes,
	// so losing clauses detach their listeners.
	DisposeOnSelect(h DisposableHandle)
}

// OnJoin registers a join clause: if the job is already complete, the clause
// tries to claim the select immediately and, if it wins, runs block
// undispatched on the calling goroutine. Otherwise a completion listener is
// installed that claims the select when the job terminates.
func (j *Job) OnJoin(s SelectInstance, block func()) {
	if j.IsCompleted() {
		if s.TrySelect() {
			block()
		}
		return
	}
	s.DisposeOnSelect(j.InvokeOnCompletion(func(error) {
		if s.TrySelect() {
			block()
		}
	}))
}

// OnAwait registers an await clause: as [Job.OnJoin], but the winning clause
// receives the job's outcome — the completion value, or the failure or
// cancellation cause as the error.
func (j *Job) OnAwait(s SelectInstance, block func(value any, err error)) {
	if j.IsCompleted() {
		if s.TrySelect() {
			block(terminalResult(j.state.load()))
		}
		return
	}
	s.DisposeOnSelect(j.InvokeOnCompletion(func(error) {
		if s.TrySelect() {
			block(terminalResult(j.state.load()))
		}
	}))
}
