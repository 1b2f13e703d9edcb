package jobtree

import "sync/atomic"

// Metrics tracks runtime statistics for a job. Metrics are optional and
// attached via [WithMetrics]; when disabled the job carries no counters.
//
// Thread Safety:
//   - All counters are atomic and can be read from any goroutine.
//   - [Job.Metrics] returns a copy, safe for concurrent reads.
type Metrics struct {
	started           atomic.Int64
	completed         atomic.Int64
	failed            atomic.Int64
	cancelled         atomic.Int64
	cancelRequests    atomic.Int64
	handlersInstalled atomic.Int64
	handlersFired     atomic.Int64
}

// MetricsSnapshot is a point-in-time copy of a job's counters.
type MetricsSnapshot struct {
	// Started counts effective Start transitions (0 or 1 for a single job).
	Started int64
	// Completed counts normal terminal transitions.
	Completed int64
	// Failed counts exceptional (non-cancelled) terminal transitions.
	Failed int64
	// Cancelled counts cancelled terminal transitions.
	Cancelled int64
	// CancelRequests counts Cancel calls that effected a transition.
	CancelRequests int64
	// HandlersInstalled counts listener installations.
	HandlersInstalled int64
	// HandlersFired counts listener invocations that returned normally.
	HandlersFired int64
}

// Metrics returns a snapshot of the job's counters, or the zero snapshot if
// metrics were not enabled.
func (j *Job) Metrics() MetricsSnapshot {
	m := j.metrics
	if m == nil {
		return MetricsSnapshot{}
	}
	return MetricsSnapshot{
		Started:           m.started.Load(),
		Completed:         m.completed.Load(),
		Failed:            m.failed.Load(),
		Cancelled:         m.cancelled.Load(),
		CancelRequests:    m.cancelRequests.Load(),
		HandlersInstalled: m.handlersInstalled.Load(),
		HandlersFired:     m.handlersFired.Load(),
	}
}
