//go:build !windows

package vox

import (
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// SelectBackendImpl is the universal select(2)-based Backend, the last
// resort in every platform's auto-select chain (spec.md §4.1). It trades
// the O(1) readiness dispatch of epoll/kqueue/IOCP for a mechanism every
// POSIX system supports, including inside restrictive containers and
// sandboxes that block epoll_create/kqueue.
type SelectBackendImpl struct {
	mu     sync.RWMutex
	fds    map[int]fdInfo
	closed atomic.Bool

	wakeFd      int
	wakeWriteFd int
}

// Init prepares the select backend and its wakeup self-pipe.
func (b *SelectBackendImpl) Init() error {
	b.fds = make(map[int]fdInfo)

	wakeFd, wakeWriteFd, err := createWakeFd(0, EFD_CLOEXEC|EFD_NONBLOCK)
	if err != nil {
		return err
	}
	b.wakeFd, b.wakeWriteFd = wakeFd, wakeWriteFd
	return b.Add(wakeFd, EventRead, func(IOEvents) { b.drainWake() })
}

func (b *SelectBackendImpl) drainWake() {
	var buf [64]byte
	for {
		n, err := unix.Read(b.wakeFd, buf[:])
		if err != nil || n <= 0 {
			break
		}
	}
}

// Name identifies this Backend for diagnostics, per spec.md §4.1.
func (b *SelectBackendImpl) Name() string { return "select" }

// Add registers fd for the given interest mask.
func (b *SelectBackendImpl) Add(fd int, events IOEvents, cb IOCallback) error {
	if b.closed.Load() {
		return ErrPollerClosed
	}
	if fd < 0 {
		return ErrFDOutOfRange
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.fds[fd]; ok {
		return ErrFDAlreadyRegistered
	}
	b.fds[fd] = fdInfo{callback: cb, events: events, active: true}
	return nil
}

// Modify updates fd's interest mask.
func (b *SelectBackendImpl) Modify(fd int, events IOEvents) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	info, ok := b.fds[fd]
	if !ok {
		return ErrFDNotRegistered
	}
	info.events = events
	b.fds[fd] = info
	return nil
}

// Remove deregisters fd.
func (b *SelectBackendImpl) Remove(fd int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.fds[fd]; !ok {
		return ErrFDNotRegistered
	}
	delete(b.fds, fd)
	return nil
}

// Poll blocks for up to timeoutMs milliseconds using poll(2) and
// dispatches callbacks for ready fds.
//
// poll(2) rather than raw select(2) avoids select's FD_SETSIZE ceiling
// and the per-platform FdSet word-width differences (64-bit words on
// Linux, 32-bit on the BSDs) while remaining the same class of
// universally-available readiness mechanism spec.md calls for.
func (b *SelectBackendImpl) Poll(timeoutMs int) (int, error) {
	if b.closed.Load() {
		return 0, ErrPollerClosed
	}

	b.mu.RLock()
	type entry struct {
		fd   int
		info fdInfo
	}
	entries := make([]entry, 0, len(b.fds))
	pollFds := make([]unix.PollFd, 0, len(b.fds))
	for fd, info := range b.fds {
		var mask int16
		if info.events&EventRead != 0 {
			mask |= unix.POLLIN
		}
		if info.events&EventWrite != 0 {
			mask |= unix.POLLOUT
		}
		entries = append(entries, entry{fd: fd, info: info})
		pollFds = append(pollFds, unix.PollFd{Fd: int32(fd), Events: mask})
	}
	b.mu.RUnlock()

	n, err := unix.Poll(pollFds, timeoutMs)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, err
	}
	if n <= 0 {
		return 0, nil
	}

	dispatched := 0
	for i, pfd := range pollFds {
		if pfd.Revents == 0 {
			continue
		}
		var ev IOEvents
		if pfd.Revents&unix.POLLIN != 0 {
			ev |= EventRead
		}
		if pfd.Revents&unix.POLLOUT != 0 {
			ev |= EventWrite
		}
		if pfd.Revents&unix.POLLERR != 0 {
			ev |= EventError
		}
		if pfd.Revents&unix.POLLHUP != 0 {
			ev |= EventHangup
		}
		if ev != 0 && entries[i].info.callback != nil {
			entries[i].info.callback(ev)
			dispatched++
		}
	}
	return dispatched, nil
}

// Wakeup causes a concurrently blocked Poll to return.
func (b *SelectBackendImpl) Wakeup() error {
	if b.closed.Load() {
		return ErrPollerClosed
	}
	_, err := unix.Write(b.wakeWriteFd, []byte{1})
	if err == unix.EAGAIN {
		return nil
	}
	return err
}

// Close releases the wakeup self-pipe. select(2) itself holds no kernel
// resource to release.
func (b *SelectBackendImpl) Close() error {
	b.closed.Store(true)
	return closeWakeFd(b.wakeFd, b.wakeWriteFd)
}

