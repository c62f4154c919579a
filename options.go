// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package vox

// loopOptions holds configuration options for Loop creation.
type loopOptions struct {
	strictMicrotaskOrdering bool
	backend                 Backend
	logger                  Logger
	metricsEnabled          bool
}

// LoopOption configures a Loop instance.
type LoopOption interface {
	applyLoop(*loopOptions) error
}

type loopOptionFunc func(*loopOptions) error

func (f loopOptionFunc) applyLoop(opts *loopOptions) error { return f(opts) }

// WithStrictMicrotaskOrdering sets whether microtasks should be drained
// after every individual timer/task execution for strict ordering. When
// disabled (default), microtasks are drained in batches between deferred-
// work passes for better throughput.
func WithStrictMicrotaskOrdering(enabled bool) LoopOption {
	return loopOptionFunc(func(opts *loopOptions) error {
		opts.strictMicrotaskOrdering = enabled
		return nil
	})
}

// WithBackend pins the loop to a specific, already-constructed Backend
// instead of auto-selecting one. Mainly useful for tests that need to
// exercise a particular backend on a platform where it is not the
// default.
func WithBackend(b Backend) LoopOption {
	return loopOptionFunc(func(opts *loopOptions) error {
		opts.backend = b
		return nil
	})
}

// WithLogger stores l on the loop instance. The loop's own log output
// goes through the package-level logger set via SetStructuredLogger; the
// stored logger does not replace it.
func WithLogger(l Logger) LoopOption {
	return loopOptionFunc(func(opts *loopOptions) error {
		opts.logger = l
		return nil
	})
}

// WithMetrics enables runtime metrics collection (loop iteration
// latency, queue depths, iterations per second) accessible via Loop.Metrics.
func WithMetrics(enabled bool) LoopOption {
	return loopOptionFunc(func(opts *loopOptions) error {
		opts.metricsEnabled = enabled
		return nil
	})
}

// resolveLoopOptions applies LoopOption instances to loopOptions.
func resolveLoopOptions(opts []LoopOption) (*loopOptions, error) {
	cfg := &loopOptions{}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyLoop(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
