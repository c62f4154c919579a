package vox

import (
	"sync"
	"sync/atomic"
)

// HandleState is the lifecycle state of a [Handle], mirroring spec.md
// §4.3's created → active → closing → destroyed transitions.
type HandleState uint64

const (
	// HandleCreated is the state of a handle that has not yet been
	// activated (e.g. a TCP handle before Listen/Connect).
	HandleCreated HandleState = iota
	// HandleActive is the state of a handle registered in the loop's
	// active set, eligible to fire user callbacks.
	HandleActive
	// HandleClosing is entered exactly once, on the first Close call or
	// forced shutdown; it is monotonic and never reverts.
	HandleClosing
	// HandleDestroyed is the terminal state, reached only from step 7 of
	// a loop iteration once refcount has dropped to zero.
	HandleDestroyed
)

// String implements fmt.Stringer.
func (s HandleState) String() string {
	switch s {
	case HandleCreated:
		return "created"
	case HandleActive:
		return "active"
	case HandleClosing:
		return "closing"
	case HandleDestroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}

// HandleKind identifies the concrete handle type, used for diagnostics
// and logging.
type HandleKind int

const (
	KindTimer HandleKind = iota
	KindTCP
	KindUDP
	KindTLS
	KindDNS
)

// String implements fmt.Stringer.
func (k HandleKind) String() string {
	switch k {
	case KindTimer:
		return "timer"
	case KindTCP:
		return "tcp"
	case KindUDP:
		return "udp"
	case KindTLS:
		return "tls"
	case KindDNS:
		return "dns"
	default:
		return "unknown"
	}
}

// Handle is the common surface every loop-bound async primitive
// implements: Timer, TCPHandle, UDPHandle, TLSHandle, DNSRequest.
type Handle interface {
	// ID returns a process-unique, monotonically assigned handle ID.
	ID() uint64
	// Kind identifies the concrete handle type.
	Kind() HandleKind
	// Loop returns the owning loop.
	Loop() *Loop
	// IsActive reports whether the handle is in the active set.
	IsActive() bool
	// IsClosing reports whether Close has been called (closing or
	// already destroyed).
	IsClosing() bool
	// Close requests the handle be closed. cb, if non-nil, runs on the
	// loop thread once the handle reaches HandleDestroyed. Close may be
	// called more than once; calls after the first are no-ops.
	Close(cb func()) error
	// Data returns the user data previously set with SetData.
	Data() any
	// SetData attaches arbitrary user data to the handle.
	SetData(v any)
}

// handleState is the embeddable base every concrete handle type
// carries, implementing the shared bookkeeping named in spec.md §3's
// "Handle (base)" data model: refcount, closing flag, active flag, and
// the loop back-reference.
type handleState struct { // betteralign:ignore
	id   uint64
	kind HandleKind
	loop *Loop

	state    *FastState[HandleState]
	refcount atomic.Int32

	closeCB  func()
	closeErr error

	dataMu sync.RWMutex
	data   any

	// closingNext links this handle into the loop's closing list; owned
	// by the loop thread, never touched concurrently.
	closingNext *handleState
}

// newHandleState creates and registers a handle state with loop,
// returning it already tracked by the loop's handle registry.
func newHandleState(loop *Loop, kind HandleKind) *handleState {
	hs := &handleState{
		kind:  kind,
		loop:  loop,
		state: NewFastState(HandleCreated),
	}
	hs.id = loop.registry.register(hs)
	return hs
}

// ID implements Handle.
func (hs *handleState) ID() uint64 { return hs.id }

// Kind implements Handle.
func (hs *handleState) Kind() HandleKind { return hs.kind }

// Loop implements Handle.
func (hs *handleState) Loop() *Loop { return hs.loop }

// IsActive implements Handle.
func (hs *handleState) IsActive() bool {
	return hs.state.Load() == HandleActive
}

// IsClosing implements Handle.
func (hs *handleState) IsClosing() bool {
	s := hs.state.Load()
	return s == HandleClosing || s == HandleDestroyed
}

// Data implements Handle.
func (hs *handleState) Data() any {
	hs.dataMu.RLock()
	defer hs.dataMu.RUnlock()
	return hs.data
}

// SetData implements Handle.
func (hs *handleState) SetData(v any) {
	hs.dataMu.Lock()
	hs.data = v
	hs.dataMu.Unlock()
}

// activate transitions created → active. A no-op if already active or
// closing.
func (hs *handleState) activate() {
	hs.state.TryTransition(HandleCreated, HandleActive)
}

// deactivate transitions active → created, used by ReadStop/RecvStop-
// style operations that stop firing callbacks without closing.
func (hs *handleState) deactivate() {
	hs.state.TryTransition(HandleActive, HandleCreated)
}

// ref increments the refcount, used while the backend or a pool task
// holds a pointer into this handle's context.
func (hs *handleState) ref() { hs.refcount.Add(1) }

// unref decrements the refcount. When it reaches zero and the handle
// is closing, it becomes eligible for destruction at the next
// closing-list pass.
func (hs *handleState) unref() { hs.refcount.Add(-1) }

// Close implements Handle. Per spec.md §4.3, close may be called at
// most once; later calls are no-ops.
func (hs *handleState) Close(cb func()) error {
	if !hs.state.TransitionAny([]HandleState{HandleCreated, HandleActive}, HandleClosing) {
		return nil
	}
	hs.closeCB = cb
	hs.loop.enqueueClosing(hs)
	return nil
}

// beginClose forces the handle into HandleClosing with err recorded as
// the reason, used by Loop shutdown to close every remaining handle.
func (hs *handleState) beginClose(err error) {
	if hs.state.TransitionAny([]HandleState{HandleCreated, HandleActive}, HandleClosing) {
		hs.closeErr = err
		hs.loop.enqueueClosing(hs)
	}
}
