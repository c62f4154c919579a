package vox

import (
	"fmt"
	"runtime"

	multierror "github.com/hashicorp/go-multierror"
)

// Backend abstracts the platform I/O readiness/completion mechanism a Loop
// polls on each iteration. Implementations are epoll/io_uring (Linux),
// kqueue (macOS/BSD), IOCP (Windows) and a select(2)-based fallback
// available everywhere.
//
// A Backend is owned by exactly one Loop and is driven only from the
// loop's thread, except for Wakeup, which must be safe to call
// concurrently from any goroutine.
type Backend interface {
	// Init prepares the backend for use, including any internal wakeup
	// mechanism it needs.
	Init() error

	// Add registers fd for the given interest mask. cb is invoked inline
	// from Poll's calling goroutine when fd becomes ready.
	Add(fd int, events IOEvents, cb IOCallback) error

	// Modify updates the interest mask for a previously added fd.
	Modify(fd int, events IOEvents) error

	// Remove deregisters fd. After Remove returns, no further callbacks
	// for fd will be dispatched.
	Remove(fd int) error

	// Poll blocks for at most timeoutMs milliseconds (0 = return
	// immediately, negative = block indefinitely) waiting for readiness,
	// dispatching callbacks for each ready fd before returning the count
	// of events processed.
	Poll(timeoutMs int) (int, error)

	// Wakeup causes a concurrently blocked Poll to return promptly. Safe
	// to call from any goroutine, including from within a callback.
	Wakeup() error

	// Close releases all backend resources. The backend is not usable
	// afterward.
	Close() error

	// Name identifies the backend for diagnostics and metrics, e.g.
	// "io_uring", "epoll", "kqueue", "iocp", "select".
	Name() string
}

// BackendFactory constructs a Backend, returning an error if the
// mechanism is unavailable (missing kernel support, permission denied).
type BackendFactory struct {
	Name string
	New  func() (Backend, error)
}

// candidateBackends returns the ordered auto-select chain for the
// current platform, preferred high-performance mechanism first. Every
// non-Windows list ends with the select(2)-class fallback; the Windows
// list holds IOCP alone.
func candidateBackends() []BackendFactory {
	return platformBackends()
}

// SelectBackend constructs the best available Backend for the current
// platform, trying each candidate in order and falling through silently
// on construction failure. It returns an error only if every candidate,
// including the select(2) fallback where the platform lists one, fails
// to initialize.
func SelectBackend() (Backend, error) {
	var merr *multierror.Error
	for _, candidate := range candidateBackends() {
		b, err := candidate.New()
		if err != nil {
			merr = multierror.Append(merr, fmt.Errorf("%s: %w", candidate.Name, err))
			continue
		}
		if err := b.Init(); err != nil {
			merr = multierror.Append(merr, fmt.Errorf("%s: %w", candidate.Name, err))
			continue
		}
		return b, nil
	}
	merr = multierror.Append(merr, fmt.Errorf("no backend available on %s/%s", runtime.GOOS, runtime.GOARCH))
	return nil, merr.ErrorOrNil()
}

// BackendByName constructs a specific named backend, bypassing
// auto-select. Used by tests and operators pinning a mechanism.
func BackendByName(name string) (Backend, error) {
	for _, candidate := range candidateBackends() {
		if candidate.Name != name {
			continue
		}
		b, err := candidate.New()
		if err != nil {
			return nil, err
		}
		if err := b.Init(); err != nil {
			return nil, err
		}
		return b, nil
	}
	return nil, fmt.Errorf("vox: unknown backend %q", name)
}
