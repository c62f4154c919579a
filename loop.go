package vox

import (
	"container/heap"
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

// Standard errors.
var (
	// ErrLoopAlreadyRunning is returned when Run() is called on a loop that is already running.
	ErrLoopAlreadyRunning = errors.New("vox: loop is already running")

	// ErrLoopTerminated is returned when operations are attempted on a terminated loop.
	ErrLoopTerminated = errors.New("vox: loop has been terminated")

	// ErrLoopOverloaded is returned when the external queue exceeds the tick budget.
	ErrLoopOverloaded = errors.New("vox: loop is overloaded")

	// ErrReentrantRun is returned when Run() is called from within the loop itself.
	ErrReentrantRun = errors.New("vox: cannot call Run() from within the loop")
)

// RunMode selects how long Run keeps iterating before returning, mirroring
// libuv's UV_RUN_DEFAULT/UV_RUN_ONCE/UV_RUN_NOWAIT.
type RunMode int

const (
	// ModeDefault runs until no handle is active, no timer is pending and
	// no deferred work remains.
	ModeDefault RunMode = iota
	// ModeOnce blocks for at most one backend poll, processes whatever
	// it returns, then returns control to the caller.
	ModeOnce
	// ModeNoWait performs a single non-blocking iteration: due timers and
	// already-ready I/O fire, nothing is waited for.
	ModeNoWait
)

// loopTestHooks provides injection points for deterministic race testing.
type loopTestHooks struct {
	PrePollSleep func() // called before the loop transitions to StateSleeping
	PrePollAwake func() // called after the loop transitions back to StateRunning
}

// Loop is a single-threaded, cooperatively-polled event loop. It owns a
// [Backend], the active-handle registry, a timer min-heap and two
// deferred-work queues (internal/priority and external), and drives every
// iteration documented in package doc.go: expire timers, drain deferred
// work, poll the backend (which dispatches I/O callbacks inline), drain
// deferred work again, then process the closing list.
//
// Exactly one goroutine may call Run at a time; all other interaction
// (Submit, SubmitInternal, handle Close) is safe to call from any
// goroutine and is folded into the next iteration.
type Loop struct { // betteralign:ignore
	_ [0]func() // prevent copying

	id uint64

	registry  *registry
	backend   Backend
	testHooks *loopTestHooks

	logger         Logger
	metricsEnabled bool
	metrics        *Metrics
	tps            *TPSCounter

	// OnOverload is invoked, from the loop thread, when the external
	// queue still has work left after a tick's processing budget.
	OnOverload func(error)

	// StrictMicrotaskOrdering drains the microtask queue after every
	// individual timer/task execution instead of once per tick half.
	StrictMicrotaskOrdering bool

	state *FastState[LoopState]

	external   *ChunkedIngress // caller-facing submissions
	internal   *ChunkedIngress // loop-internal priority submissions
	microtasks *MicrotaskRing

	externalMu sync.Mutex
	internalMu sync.Mutex

	timers timerHeap

	closingMu   sync.Mutex
	closingHead *handleState

	wakeUpSignalPending atomic.Uint32

	stopOnce sync.Once
	loopDone chan struct{}

	tickAnchorMu    sync.RWMutex
	tickAnchor      time.Time
	tickElapsedTime atomic.Int64

	loopGoroutineID atomic.Uint64
	tickCount       uint64
}

// timer is a single scheduled entry in the loop's min-heap. owner is nil
// for one-shot internal timers scheduled via ScheduleTimer; when set, gen
// must match owner's current generation for the entry to still be live
// (Stop/Start bump the generation, lazily invalidating stale entries
// already sitting in the heap).
type timer struct {
	when  time.Time
	fn    func()
	owner *Timer
	gen   uint64
}

// timerHeap is a min-heap of timers ordered by fire time.
type timerHeap []timer

func (h timerHeap) Len() int            { return len(h) }
func (h timerHeap) Less(i, j int) bool  { return h[i].when.Before(h[j].when) }
func (h timerHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *timerHeap) Push(x any)         { *h = append(*h, x.(timer)) }
func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

var loopIDCounter atomic.Uint64

// NewLoop creates a Loop with an auto-selected Backend.
func NewLoop(opts ...LoopOption) (*Loop, error) {
	cfg, err := resolveLoopOptions(opts)
	if err != nil {
		return nil, err
	}

	backend := cfg.backend
	if backend == nil {
		backend, err = SelectBackend()
		if err != nil {
			return nil, err
		}
	} else if err := backend.Init(); err != nil {
		return nil, err
	}

	loop := &Loop{
		id:                      loopIDCounter.Add(1),
		registry:                newRegistry(),
		backend:                 backend,
		state:                   NewFastState(StateAwake),
		external:                NewChunkedIngress(),
		internal:                NewChunkedIngress(),
		microtasks:              NewMicrotaskRing(),
		timers:                  make(timerHeap, 0),
		loopDone:                make(chan struct{}),
		StrictMicrotaskOrdering: cfg.strictMicrotaskOrdering,
		logger:                  cfg.logger,
		metricsEnabled:          cfg.metricsEnabled,
	}
	if cfg.metricsEnabled {
		loop.metrics = &Metrics{}
		loop.tps = NewTPSCounter(10*time.Second, 100*time.Millisecond)
	}
	return loop, nil
}

// Metrics returns a point-in-time snapshot of the loop's runtime
// statistics. Only meaningful when the loop was built with WithMetrics;
// otherwise it returns a zero Metrics. Safe to call from any goroutine.
func (l *Loop) Metrics() Metrics {
	if l.metrics == nil {
		return Metrics{}
	}
	l.metrics.Latency.Sample()
	return Metrics{
		Latency: l.metrics.Latency,
		Queue:   l.metrics.Queue,
		TPS:     l.tps.TPS(),
	}
}

// ID returns the loop's process-unique identifier, used in log entries.
func (l *Loop) ID() uint64 { return l.id }

// BackendName returns the name of the backend this loop is driving.
func (l *Loop) BackendName() string { return l.backend.Name() }

// Run runs the event loop according to mode and blocks until it returns
// control (ModeOnce/ModeNoWait: after one iteration; ModeDefault: once no
// handle is active and no deferred work remains, or the loop is closed).
func (l *Loop) Run(ctx context.Context, mode RunMode) error {
	if l.isLoopThread() {
		return ErrReentrantRun
	}

	if !l.state.TryTransition(StateAwake, StateRunning) {
		if l.state.Load() == StateTerminated {
			return ErrLoopTerminated
		}
		return ErrLoopAlreadyRunning
	}

	defer close(l.loopDone)

	l.tickAnchorMu.Lock()
	l.tickAnchor = time.Now()
	l.tickAnchorMu.Unlock()
	l.tickElapsedTime.Store(0)

	return l.run(ctx, mode)
}

// run is the main loop goroutine body.
func (l *Loop) run(ctx context.Context, mode RunMode) error {
	l.loopGoroutineID.Store(getGoroutineID())
	defer l.loopGoroutineID.Store(0)

	ctxDone := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = l.backend.Wakeup()
		case <-ctxDone:
		}
	}()
	defer close(ctxDone)

	// Backends require thread affinity for their poll syscall.
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	for {
		select {
		case <-ctx.Done():
			l.beginTerminating()
			l.shutdown()
			return ctx.Err()
		default:
		}

		if st := l.state.Load(); st == StateTerminating || st == StateTerminated {
			l.shutdown()
			return nil
		}

		l.tick(mode == ModeNoWait)

		if mode != ModeDefault {
			if st := l.state.Load(); st == StateTerminating || st == StateTerminated {
				l.shutdown()
			}
			return nil
		}

		if !l.alive() {
			l.beginTerminating()
			l.shutdown()
			return nil
		}
	}
}

// alive reports whether the loop has any reason to keep iterating:
// a tracked handle, a pending timer, or queued deferred work.
func (l *Loop) alive() bool {
	if l.registry.Count() > 0 {
		return true
	}
	if l.hasTimersPending() {
		return true
	}
	if l.hasInternalTasks() {
		return true
	}
	l.externalMu.Lock()
	n := l.external.Length()
	l.externalMu.Unlock()
	if n > 0 {
		return true
	}
	return !l.microtasks.IsEmpty()
}

// hasTimersPending returns true if there are pending timers. Only called
// from the loop goroutine.
func (l *Loop) hasTimersPending() bool {
	return len(l.timers) > 0
}

// hasInternalTasks returns true if there are internal tasks pending.
func (l *Loop) hasInternalTasks() bool {
	l.internalMu.Lock()
	n := l.internal.Length()
	l.internalMu.Unlock()
	return n > 0
}

// beginTerminating CASes the loop into StateTerminating from any
// non-terminal state.
func (l *Loop) beginTerminating() {
	for {
		cur := l.state.Load()
		if cur == StateTerminating || cur == StateTerminated {
			return
		}
		if l.state.TryTransition(cur, StateTerminating) {
			return
		}
	}
}

// tick runs a single loop iteration following the 7-step sequence: expire
// timers, drain deferred work, compute the poll timeout, poll the backend
// (dispatching I/O callbacks inline), drain deferred work again, then
// process the closing list.
func (l *Loop) tick(nonBlocking bool) {
	l.tickCount++
	l.wakeUpSignalPending.Store(0)

	var tickStart time.Time
	if l.metricsEnabled {
		tickStart = time.Now()
		defer func() {
			l.metrics.Latency.Record(time.Since(tickStart))
			l.tps.Increment()
		}()
	}

	l.tickAnchorMu.RLock()
	anchor := l.tickAnchor
	l.tickAnchorMu.RUnlock()
	l.tickElapsedTime.Store(int64(time.Since(anchor)))

	// 1. expire timers
	l.runTimers()

	// 2. drain deferred work (pass 1)
	l.drainDeferred()

	if l.state.Load() != StateRunning {
		return
	}

	// 3. compute timeout, 4. poll (dispatches inline)
	timeout := 0
	if !nonBlocking {
		timeout = l.calculateTimeout()
	}

	if l.testHooks != nil && l.testHooks.PrePollSleep != nil {
		l.testHooks.PrePollSleep()
	}
	l.state.TryTransition(StateRunning, StateSleeping)

	_, err := l.backend.Poll(timeout)

	l.state.TryTransition(StateSleeping, StateRunning)
	if l.testHooks != nil && l.testHooks.PrePollAwake != nil {
		l.testHooks.PrePollAwake()
	}

	if err != nil {
		l.handlePollError(err)
		return
	}

	// 5. drain deferred work (pass 2)
	l.drainDeferred()

	// 6. process closing list
	l.processClosing()

	l.registry.Scavenge(20)
}

// drainDeferred processes the internal priority queue, then the external
// queue under its tick budget, then any remaining microtasks.
func (l *Loop) drainDeferred() {
	if l.metricsEnabled {
		l.internalMu.Lock()
		intLen := l.internal.Length()
		l.internalMu.Unlock()
		l.externalMu.Lock()
		extLen := l.external.Length()
		l.externalMu.Unlock()
		l.metrics.Queue.UpdateInternal(intLen)
		l.metrics.Queue.UpdateIngress(extLen)
		l.metrics.Queue.UpdateMicrotask(l.microtasks.Length())
	}
	l.processInternalQueue()
	l.processExternal()
	l.drainMicrotasks()
}

// processInternalQueue drains the internal priority queue in full; it is
// not subject to a per-tick budget since only loop-internal code submits
// to it.
func (l *Loop) processInternalQueue() {
	for {
		l.internalMu.Lock()
		fn, ok := l.internal.Pop()
		l.internalMu.Unlock()
		if !ok {
			break
		}
		l.safeExecuteFn(fn)
		if l.StrictMicrotaskOrdering {
			l.drainMicrotasks()
		}
	}
}

// processExternal drains up to a fixed budget of caller-submitted tasks,
// signaling OnOverload if work remains after the budget is exhausted.
func (l *Loop) processExternal() {
	const budget = 1024

	n := 0
	for n < budget {
		l.externalMu.Lock()
		fn, ok := l.external.Pop()
		l.externalMu.Unlock()
		if !ok {
			break
		}
		l.safeExecuteFn(fn)
		n++
		if l.StrictMicrotaskOrdering {
			l.drainMicrotasks()
		}
	}

	if n == budget {
		l.externalMu.Lock()
		remaining := l.external.Length()
		l.externalMu.Unlock()
		if remaining > 0 && l.OnOverload != nil {
			l.OnOverload(ErrLoopOverloaded)
		}
	}
}

// drainMicrotasks drains the microtask ring up to a bounded budget per
// call so a microtask that schedules another cannot starve the loop.
func (l *Loop) drainMicrotasks() {
	const budget = 4096
	for i := 0; i < budget; i++ {
		fn := l.microtasks.Pop()
		if fn == nil {
			break
		}
		l.safeExecuteFn(fn)
	}
}

// enqueueClosing links hs into the closing list and wakes the loop so the
// handle is finalized promptly even if nothing else is pending.
func (l *Loop) enqueueClosing(hs *handleState) {
	l.closingMu.Lock()
	hs.closingNext = l.closingHead
	l.closingHead = hs
	l.closingMu.Unlock()
	_ = l.wakeup()
}

// processClosing finalizes every closing handle whose refcount has
// dropped to zero, invoking its close callback; handles still referenced
// (e.g. by an in-flight backend registration) are carried to the next
// pass.
func (l *Loop) processClosing() {
	l.closingMu.Lock()
	head := l.closingHead
	l.closingHead = nil
	l.closingMu.Unlock()

	var remaining *handleState
	for hs := head; hs != nil; {
		next := hs.closingNext
		if hs.refcount.Load() == 0 {
			hs.state.Store(HandleDestroyed)
			if hs.closeCB != nil {
				l.safeExecuteFn(hs.closeCB)
			}
		} else {
			hs.closingNext = remaining
			remaining = hs
		}
		hs = next
	}

	if remaining != nil {
		l.closingMu.Lock()
		tail := remaining
		for tail.closingNext != nil {
			tail = tail.closingNext
		}
		tail.closingNext = l.closingHead
		l.closingHead = remaining
		l.closingMu.Unlock()
	}
}

// calculateTimeout determines how long to block in Poll, capped by the
// next timer deadline.
func (l *Loop) calculateTimeout() int {
	maxDelay := 10 * time.Second

	if len(l.timers) > 0 {
		delay := l.timers[0].when.Sub(l.CurrentTickTime())
		if delay < 0 {
			delay = 0
		}
		if delay < maxDelay {
			maxDelay = delay
		}
	}

	if maxDelay > 0 && maxDelay < time.Millisecond {
		return 1
	}
	return int(maxDelay.Milliseconds())
}

// runTimers executes every timer due at or before the current tick time,
// in heap order, re-inserting periodic entries with deadline += period
// per spec.md §4.4.
func (l *Loop) runTimers() {
	now := l.CurrentTickTime()
	for len(l.timers) > 0 {
		if l.timers[0].when.After(now) {
			break
		}
		t := heap.Pop(&l.timers).(timer)

		if t.owner != nil {
			if t.owner.generation.Load() != t.gen {
				// Stale: Stop or a re-arming Start happened after this
				// entry was scheduled. Drop it silently.
				continue
			}
			l.safeExecuteFn(t.owner.cb)
			// The callback may have called Stop or Start itself, which
			// bumps the generation; only act on our own firing if it's
			// still current.
			if t.owner.generation.Load() == t.gen {
				if t.owner.period > 0 {
					heap.Push(&l.timers, timer{when: t.when.Add(t.owner.period), owner: t.owner, gen: t.gen})
				} else {
					t.owner.deactivate()
				}
			}
		} else {
			l.safeExecuteFn(t.fn)
		}

		if l.StrictMicrotaskOrdering {
			l.drainMicrotasks()
		}
	}
}

// ScheduleTimer arranges for fn to run once, on the loop thread, no
// earlier than delay from the current tick time. It is safe to call from
// any goroutine.
func (l *Loop) ScheduleTimer(delay time.Duration, fn func()) error {
	when := l.CurrentTickTime().Add(delay)
	return l.SubmitInternal(func() {
		heap.Push(&l.timers, timer{when: when, fn: fn})
	})
}

// handlePollError handles a fatal error returned by the backend's Poll,
// which can only mean the underlying mechanism itself failed (not a
// per-fd error, which the backend already routes to its own callback).
func (l *Loop) handlePollError(err error) {
	LogPollIOError(int64(l.id), err, true)
	l.beginTerminating()
}

// wakeup signals the backend to interrupt a blocked Poll, deduplicating
// concurrent callers so only one wakeup write happens per tick.
func (l *Loop) wakeup() error {
	if l.state.Load() == StateTerminated {
		return ErrLoopTerminated
	}
	if l.wakeUpSignalPending.CompareAndSwap(0, 1) {
		if err := l.backend.Wakeup(); err != nil {
			l.wakeUpSignalPending.Store(0)
			return err
		}
	}
	return nil
}

// Submit enqueues fn to run on the loop thread during the next deferred-
// work pass. Safe to call from any goroutine.
func (l *Loop) Submit(fn func()) error {
	if fn == nil {
		return nil
	}
	l.externalMu.Lock()
	if l.state.Load() == StateTerminated {
		l.externalMu.Unlock()
		return ErrLoopTerminated
	}
	l.external.Push(fn)
	l.externalMu.Unlock()
	return l.wakeup()
}

// SubmitInternal enqueues fn to the loop-internal priority queue, drained
// ahead of Submit work every tick. Used by the loop's own machinery
// (timers, handle bookkeeping) and safe to call from any goroutine.
func (l *Loop) SubmitInternal(fn func()) error {
	if fn == nil {
		return nil
	}
	l.internalMu.Lock()
	if l.state.Load() == StateTerminated {
		l.internalMu.Unlock()
		return ErrLoopTerminated
	}
	l.internal.Push(fn)
	l.internalMu.Unlock()
	return l.wakeup()
}

// ScheduleMicrotask enqueues fn on the microtask ring, drained (up to
// drainMicrotasks' per-call budget) after every deferred-work pass and
// after every timer/task when StrictMicrotaskOrdering is set.
func (l *Loop) ScheduleMicrotask(fn func()) error {
	if l.state.Load() == StateTerminated {
		return ErrLoopTerminated
	}
	l.microtasks.Push(fn)
	return nil
}

// AddFD registers fd with the loop's backend. Handle implementations use
// this instead of talking to a Backend directly.
func (l *Loop) AddFD(fd int, events IOEvents, cb IOCallback) error {
	return l.backend.Add(fd, events, cb)
}

// ModifyFD updates the interest mask for a previously added fd.
func (l *Loop) ModifyFD(fd int, events IOEvents) error {
	return l.backend.Modify(fd, events)
}

// RemoveFD deregisters fd from the loop's backend.
func (l *Loop) RemoveFD(fd int) error {
	return l.backend.Remove(fd)
}

// CurrentTickTime returns the monotonic time cached for the current
// tick, safe to use for timer-delay calculations.
func (l *Loop) CurrentTickTime() time.Time {
	l.tickAnchorMu.RLock()
	anchor := l.tickAnchor
	l.tickAnchorMu.RUnlock()
	if anchor.IsZero() {
		return time.Now()
	}
	return anchor.Add(time.Duration(l.tickElapsedTime.Load()))
}

// State returns the current loop run-state.
func (l *Loop) State() LoopState {
	return l.state.Load()
}

// safeExecuteFn runs fn with panic recovery, logging and discarding any
// recovered value as a [PanicError] rather than propagating it, since a
// panicking callback must never take down the loop.
func (l *Loop) safeExecuteFn(fn func()) {
	if fn == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			var stack [4096]byte
			n := runtime.Stack(stack[:], false)
			LogTaskPanicked(int64(l.id), 0, r, stack[:n])
		}
	}()
	fn()
}

// isLoopThread reports whether the calling goroutine is the one
// currently driving Run.
func (l *Loop) isLoopThread() bool {
	id := l.loopGoroutineID.Load()
	return id != 0 && getGoroutineID() == id
}

// getGoroutineID extracts the calling goroutine's ID from its stack
// trace header. Used only for the reentrancy check above; never exposed.
func getGoroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	var id uint64
	for i := len("goroutine "); i < n; i++ {
		if buf[i] < '0' || buf[i] > '9' {
			break
		}
		id = id*10 + uint64(buf[i]-'0')
	}
	return id
}

// Shutdown gracefully stops the loop: it closes every tracked handle,
// drains remaining deferred work, and blocks until Run returns or ctx
// expires.
func (l *Loop) Shutdown(ctx context.Context) error {
	var result error
	l.stopOnce.Do(func() {
		for {
			cur := l.state.Load()
			if cur == StateTerminated || cur == StateTerminating {
				break
			}
			if l.state.TryTransition(cur, StateTerminating) {
				if cur == StateAwake {
					l.state.Store(StateTerminated)
					l.closeBackend()
					return
				}
				_ = l.backend.Wakeup()
				break
			}
		}

		select {
		case <-l.loopDone:
		case <-ctx.Done():
			result = ctx.Err()
		}
	})
	if result == nil && l.state.Load() != StateTerminated {
		return ErrLoopTerminated
	}
	return result
}

// Close immediately terminates the loop without waiting for Run to
// observe it, for use when the loop was never started or the caller
// cannot wait.
func (l *Loop) Close() error {
	for {
		cur := l.state.Load()
		if cur == StateTerminated {
			return nil
		}
		if l.state.TryTransition(cur, StateTerminating) {
			if cur == StateAwake {
				l.state.Store(StateTerminated)
				l.closeBackend()
				return nil
			}
			_ = l.backend.Wakeup()
			return nil
		}
	}
}

// shutdown drains every queue, closes every tracked handle and releases
// the backend. Called from the loop thread once Run observes
// StateTerminating.
func (l *Loop) shutdown() {
	l.registry.CloseAll(ErrLoopTerminated)
	// One more closing pass picks up handles that had refcount zero
	// already, plus whatever beginClose just enqueued.
	l.processClosing()

	emptyChecks := 0
	const requiredEmptyChecks = 3
	for emptyChecks < requiredEmptyChecks {
		drained := false

		for {
			l.internalMu.Lock()
			fn, ok := l.internal.Pop()
			l.internalMu.Unlock()
			if !ok {
				break
			}
			l.safeExecuteFn(fn)
			drained = true
		}

		for {
			l.externalMu.Lock()
			fn, ok := l.external.Pop()
			l.externalMu.Unlock()
			if !ok {
				break
			}
			l.safeExecuteFn(fn)
			drained = true
		}

		for {
			fn := l.microtasks.Pop()
			if fn == nil {
				break
			}
			l.safeExecuteFn(fn)
			drained = true
		}

		l.processClosing()

		if drained {
			emptyChecks = 0
		} else {
			emptyChecks++
			runtime.Gosched()
		}
	}

	l.state.Store(StateTerminated)
	l.closeBackend()
}

// closeBackend releases the backend exactly once, however shutdown was
// reached (graceful Shutdown, Close, or a fatal poll error).
func (l *Loop) closeBackend() {
	_ = l.backend.Close()
}
