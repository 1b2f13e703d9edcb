// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package jobtree

import "github.com/joeycumines/logiface"

// jobOptions holds configuration options for Job creation.
type jobOptions struct {
	parent         *Job
	hooks          Hooks
	logger         *logiface.Logger[logiface.Event]
	name           string
	lazy           bool
	directCancel   bool
	metricsEnabled bool
}

// JobOption configures a Job instance.
type JobOption interface {
	applyJob(*jobOptions) error
}

// jobOptionImpl implements JobOption.
type jobOptionImpl struct {
	applyJobFunc func(*jobOptions) error
}

func (o *jobOptionImpl) applyJob(opts *jobOptions) error {
	return o.applyJobFunc(opts)
}

// WithParent attaches the new job as a child of parent: the parent cannot
// complete before this job does, and cancelling the parent cancels this job.
// A lazy parent is started. A nil parent is a no-op.
func WithParent(parent *Job) JobOption {
	return &jobOptionImpl{func(opts *jobOptions) error {
		opts.parent = parent
		return nil
	}}
}

// WithLazyStart creates the job in the New state instead of Active. It
// transitions to Active on the first call to Start, or implicitly on Join.
func WithLazyStart(enabled bool) JobOption {
	return &jobOptionImpl{func(opts *jobOptions) error {
		opts.lazy = enabled
		return nil
	}}
}

// WithDirectCancellation makes Cancel complete the job immediately when no
// child is incomplete, without a distinct cancelling phase: cancellation-phase
// listeners then fire at the terminal transition. With incomplete children the
// job is cancelling while it waits for them, and cancellation-phase listeners
// (child attachments included) are notified on entry to that phase.
// Use for jobs that have no body to run down.
func WithDirectCancellation(enabled bool) JobOption {
	return &jobOptionImpl{func(opts *jobOptions) error {
		opts.directCancel = enabled
		return nil
	}}
}

// WithHooks sets the extension vtable. See [Hooks].
func WithHooks(hooks Hooks) JobOption {
	return &jobOptionImpl{func(opts *jobOptions) error {
		opts.hooks = hooks
		return nil
	}}
}

// WithLogger attaches a structured logger used for lifecycle debug events and
// for reporting faults when no HandleException hook is installed. A nil
// logger disables logging (the default).
func WithLogger(logger *logiface.Logger[logiface.Event]) JobOption {
	return &jobOptionImpl{func(opts *jobOptions) error {
		opts.logger = logger
		return nil
	}}
}

// WithMetrics enables runtime metrics collection on the Job.
// When enabled, counters can be read via Job.Metrics().
// This adds minimal overhead (a few atomic increments per transition).
func WithMetrics(enabled bool) JobOption {
	return &jobOptionImpl{func(opts *jobOptions) error {
		opts.metricsEnabled = enabled
		return nil
	}}
}

// WithName sets the display name used by String.
func WithName(name string) JobOption {
	return &jobOptionImpl{func(opts *jobOptions) error {
		opts.name = name
		return nil
	}}
}

// resolveJobOptions applies JobOption instances to jobOptions.
func resolveJobOptions(opts []JobOption) (*jobOptions, error) {
	cfg := &jobOptions{}
	for _, opt := range opts {
		if opt == nil {
			continue // Skip nil options gracefully
		}
		if err := opt.applyJob(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
