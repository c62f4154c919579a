package vox

import (
	"container/heap"
	"sync/atomic"
	"time"
)

// Timer fires a callback once, or repeatedly every period, on the loop
// thread, implementing Handle per spec.md §4.4's start/stop/is_active
// API. It is the user-facing counterpart to the loop-internal one-shot
// timers scheduled via Loop.ScheduleTimer.
type Timer struct {
	*handleState

	loop   *Loop
	cb     func()
	period time.Duration

	// generation invalidates any heap entry scheduled by a prior Start,
	// so a re-arm or Stop never lets a stale firing through even though
	// removal from the heap itself is lazy.
	generation atomic.Uint64
}

// NewTimer creates a Timer bound to loop. It is inert until Start is
// called.
func NewTimer(loop *Loop) *Timer {
	return &Timer{
		handleState: newHandleState(loop, KindTimer),
		loop:        loop,
	}
}

// Start arms the timer to fire cb once after delay, and then every
// period thereafter if period > 0 (period <= 0 means one-shot). Calling
// Start on an already-armed timer re-arms it: any firing already queued
// from a previous Start is discarded.
//
// The deadline for each periodic re-firing is computed as the previous
// deadline plus period, not the wall-clock time the callback actually
// ran, per spec.md §4.4's drift-bounded re-arm semantics.
func (t *Timer) Start(delay, period time.Duration, cb func()) error {
	if cb == nil {
		return nil
	}
	gen := t.generation.Add(1)
	when := t.loop.CurrentTickTime().Add(delay)

	return t.loop.SubmitInternal(func() {
		t.cb = cb
		t.period = period
		t.activate()
		heap.Push(&t.loop.timers, timer{when: when, owner: t, gen: gen})
	})
}

// Stop disarms the timer. A firing already popped from the heap but not
// yet invoked still completes; a firing not yet popped is dropped. Safe
// to call from any goroutine, including from the timer's own callback.
func (t *Timer) Stop() {
	t.generation.Add(1)
	t.deactivate()
}

// IsActive reports whether the timer is currently armed, delegating to
// the embedded handleState's created/active state machine which Start
// and Stop drive directly.
func (t *Timer) IsActive() bool {
	return t.handleState.IsActive()
}

// Close implements Handle, stopping the timer if still armed before
// running cb on the loop thread.
func (t *Timer) Close(cb func()) error {
	return t.handleState.Close(func() {
		t.Stop()
		if cb != nil {
			cb()
		}
	})
}
