//go:build linux

package vox

import (
	"sync"
	"sync/atomic"
	"syscall"
	"time"
	"unsafe"

	"github.com/pawelgaczynski/giouring"
	"golang.org/x/sys/unix"
)

// ioringCQEFMore mirrors liburing's IORING_CQE_F_MORE: set on every
// completion of a multishot request except the last, so its absence
// tells us the kernel dropped the registration and we must re-submit a
// fresh poll SQE to keep watching fd.
const ioringCQEFMore = 1 << 1

// uringFDInfo tracks the registered interest and callback for one fd
// under the poller's multishot poll registration.
type uringFDInfo struct {
	callback IOCallback
	events   IOEvents
	active   bool
}

// URingPoller drives I/O readiness via Linux io_uring multishot poll
// SQEs: one IORING_OP_POLL_ADD submission per fd keeps delivering
// completions for every readiness transition until cancelled, giving
// epoll-equivalent level-triggered semantics without a syscall per
// registration change. Grounded on the ring lifecycle
// (CreateRing/GetSQE/Submit/WaitCQEs/PeekBatchCQE/CQAdvance/QueueExit)
// of other_examples' ianic-xnet aio.Loop, the one pack repo that drives
// github.com/pawelgaczynski/giouring directly rather than through cgo.
type URingPoller struct {
	ring *giouring.Ring

	fdMu sync.RWMutex
	fds  map[int]*uringFDInfo

	closed atomic.Bool

	wakeFd      int
	wakeWriteFd int
}

// Init creates the ring and registers the poller's own wakeup eventfd.
func (p *URingPoller) Init() error {
	if p.closed.Load() {
		return ErrPollerClosed
	}

	ring, err := giouring.CreateRing(1024)
	if err != nil {
		return err
	}
	p.ring = ring
	p.fds = make(map[int]*uringFDInfo)

	wakeFd, wakeWriteFd, err := createWakeFd(0, EFD_CLOEXEC|EFD_NONBLOCK)
	if err != nil {
		ring.QueueExit()
		return err
	}
	p.wakeFd, p.wakeWriteFd = wakeFd, wakeWriteFd

	if err := p.Add(wakeFd, EventRead, func(IOEvents) { p.drainWake() }); err != nil {
		ring.QueueExit()
		_ = closeWakeFd(wakeFd, wakeWriteFd)
		return err
	}
	return nil
}

// Close tears down the ring and wakeup eventfd.
func (p *URingPoller) Close() error {
	p.closed.Store(true)
	_ = closeWakeFd(p.wakeFd, p.wakeWriteFd)
	if p.ring != nil {
		p.ring.QueueExit()
	}
	return nil
}

// Name identifies this Backend for diagnostics, per spec.md §4.1.
func (p *URingPoller) Name() string { return "io_uring" }

// drainWake drains pending wakeups from the internal eventfd.
func (p *URingPoller) drainWake() {
	var buf [8]byte
	for {
		if _, err := unix.Read(p.wakeFd, buf[:]); err != nil {
			break
		}
	}
}

// Add registers fd for the given interest mask, satisfying Backend.
func (p *URingPoller) Add(fd int, events IOEvents, cb IOCallback) error {
	if p.closed.Load() {
		return ErrPollerClosed
	}

	p.fdMu.Lock()
	if _, exists := p.fds[fd]; exists {
		p.fdMu.Unlock()
		return ErrFDAlreadyRegistered
	}
	p.fds[fd] = &uringFDInfo{callback: cb, events: events, active: true}
	p.fdMu.Unlock()

	if err := p.armPoll(fd, events); err != nil {
		p.fdMu.Lock()
		delete(p.fds, fd)
		p.fdMu.Unlock()
		return err
	}
	return nil
}

// Modify updates fd's interest mask, satisfying Backend. Multishot poll
// SQEs can't change mask in place, so this cancels the outstanding
// registration and arms a fresh one.
func (p *URingPoller) Modify(fd int, events IOEvents) error {
	p.fdMu.Lock()
	info, ok := p.fds[fd]
	if !ok {
		p.fdMu.Unlock()
		return ErrFDNotRegistered
	}
	info.events = events
	p.fdMu.Unlock()

	if err := p.cancelPoll(fd); err != nil {
		return err
	}
	return p.armPoll(fd, events)
}

// Remove deregisters fd, satisfying Backend.
func (p *URingPoller) Remove(fd int) error {
	p.fdMu.Lock()
	if _, ok := p.fds[fd]; !ok {
		p.fdMu.Unlock()
		return ErrFDNotRegistered
	}
	delete(p.fds, fd)
	p.fdMu.Unlock()
	return p.cancelPoll(fd)
}

// armPoll submits a fresh multishot poll SQE for fd, using fd+1 as the
// completion's UserData so dispatch can map a CQE straight back to its
// registration without a separate token table.
func (p *URingPoller) armPoll(fd int, events IOEvents) error {
	sqe, err := p.getSQE()
	if err != nil {
		return err
	}
	sqe.PrepareMultishotPollAdd(uint32(fd), eventsToPollMask(events))
	sqe.UserData = uint64(fd) + 1 // +1 so fd 0 (stdin) isn't mistaken for "no payload"
	_, err = p.ring.Submit()
	return err
}

// cancelPoll cancels fd's outstanding multishot poll registration.
func (p *URingPoller) cancelPoll(fd int) error {
	sqe, err := p.getSQE()
	if err != nil {
		return err
	}
	sqe.PrepareCancelFd(fd, 0)
	sqe.UserData = 0
	_, err = p.ring.Submit()
	return err
}

// getSQE fetches a free submission queue entry, submitting already-
// queued entries once to free up space if the ring is momentarily full.
func (p *URingPoller) getSQE() (*giouring.SubmissionQueueEntry, error) {
	sqe := p.ring.GetSQE()
	if sqe != nil {
		return sqe, nil
	}
	if _, err := p.ring.Submit(); err != nil {
		return nil, err
	}
	sqe = p.ring.GetSQE()
	if sqe == nil {
		return nil, ErrLoopOverloaded
	}
	return sqe, nil
}

// Poll submits any pending SQEs, waits for at least one completion (up
// to timeoutMs; 0 = return immediately, negative = block indefinitely),
// and dispatches every completion ready at that point, satisfying
// Backend.
func (p *URingPoller) Poll(timeoutMs int) (int, error) {
	if p.closed.Load() {
		return 0, ErrPollerClosed
	}
	if _, err := p.ring.Submit(); err != nil {
		return 0, err
	}

	var ts syscall.Timespec
	tsPtr := &ts
	if timeoutMs < 0 {
		tsPtr = nil
	} else {
		ts = syscall.NsecToTimespec(int64(timeoutMs) * int64(time.Millisecond))
	}

	if _, err := p.ring.WaitCQEs(1, tsPtr, nil); err != nil && !isTemporaryURingErr(err) {
		return 0, err
	}

	return p.flushCompletions(), nil
}

// Wakeup causes a concurrently blocked Poll to return, safe from any
// goroutine, satisfying Backend.
func (p *URingPoller) Wakeup() error {
	if p.closed.Load() {
		return ErrPollerClosed
	}
	var one uint64 = 1
	buf := (*[8]byte)(unsafe.Pointer(&one))[:]
	_, err := unix.Write(p.wakeWriteFd, buf)
	return err
}

// flushCompletions drains every completion currently queued, dispatching
// inline, and returns the number processed.
func (p *URingPoller) flushCompletions() int {
	var batch [256]*giouring.CompletionQueueEvent
	total := 0
	for {
		n := p.ring.PeekBatchCQE(batch[:])
		for _, cqe := range batch[:n] {
			p.dispatch(cqe)
		}
		p.ring.CQAdvance(n)
		total += int(n)
		if n < uint32(len(batch)) {
			return total
		}
	}
}

// dispatch routes one completion back to its fd's callback and re-arms
// the multishot registration if the kernel terminated it.
func (p *URingPoller) dispatch(cqe *giouring.CompletionQueueEvent) {
	if cqe.UserData == 0 {
		return // cancellation completion; nothing to act on
	}
	fd := int(cqe.UserData - 1)

	p.fdMu.RLock()
	info, ok := p.fds[fd]
	p.fdMu.RUnlock()
	if !ok || !info.active {
		return
	}

	if cqe.Res >= 0 {
		if info.callback != nil {
			info.callback(pollMaskToEvents(uint32(cqe.Res)))
		}
	}

	if cqe.Flags&ioringCQEFMore == 0 {
		_ = p.armPoll(fd, info.events)
	}
}

// isTemporaryURingErr reports whether err from a ring wait/submit call
// means "nothing happened yet" rather than a fatal backend failure.
func isTemporaryURingErr(err error) bool {
	errno, ok := err.(syscall.Errno)
	if !ok {
		return false
	}
	return errno == syscall.EINTR || errno == syscall.EAGAIN || errno == syscall.ETIME
}

// eventsToPollMask converts IOEvents to poll(2) mask bits, which
// io_uring's poll SQEs reuse directly.
func eventsToPollMask(events IOEvents) uint32 {
	var mask uint32
	if events&EventRead != 0 {
		mask |= unix.POLLIN
	}
	if events&EventWrite != 0 {
		mask |= unix.POLLOUT
	}
	return mask
}

// pollMaskToEvents converts a poll(2) result mask back to IOEvents.
func pollMaskToEvents(mask uint32) IOEvents {
	var events IOEvents
	if mask&unix.POLLIN != 0 {
		events |= EventRead
	}
	if mask&unix.POLLOUT != 0 {
		events |= EventWrite
	}
	if mask&unix.POLLERR != 0 {
		events |= EventError
	}
	if mask&(unix.POLLHUP|unix.POLLRDHUP) != 0 {
		events |= EventHangup
	}
	return events
}
