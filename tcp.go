package vox

import (
	"sync"

	"github.com/google/uuid"
)

// tcpState tracks the connection lifecycle named in spec.md §4.5: New →
// Bound → Listening (server) or Connecting → Connected → Shutdown-pending
// → Closed. Closed is represented by the embedded handleState instead of
// a dedicated value.
type tcpState int

const (
	tcpNew tcpState = iota
	tcpBound
	tcpListening
	tcpConnecting
	tcpConnected
	tcpShutdownPending
)

// AllocFunc returns a buffer for the driver to read into. Implementations
// may pool buffers; the driver never retains the slice past the
// corresponding callback invocation.
type AllocFunc func(suggestedSize int) []byte

// ReadCallback receives each read_start delivery: n > 0 is data in buf[:n],
// n == 0 means the peer closed its end, and a non-nil err reports a hard
// read error (n is 0 in that case).
type ReadCallback func(buf []byte, n int, err error)

// WriteCallback reports the outcome of one queued Write.
type WriteCallback func(err error)

// AcceptCallback receives each accepted connection from a listening
// TCPHandle, or a non-nil err if accept failed (the listener keeps
// running; err is informational).
type AcceptCallback func(conn *TCPHandle, err error)

// ConnectCallback reports the outcome of Connect.
type ConnectCallback func(err error)

// pendingWrite is one queued Write entry; buf[off:] is the unsent
// residual after a partial send.
type pendingWrite struct {
	buf []byte
	off int
	cb  WriteCallback
}

// TCPHandle implements Handle for a single TCP connection or listening
// socket, per spec.md §4.5.
type TCPHandle struct {
	*handleState

	uuid uuid.UUID
	loop *Loop
	fd   int

	mu        sync.Mutex
	state     tcpState
	reading   bool
	registered bool
	curEvents IOEvents

	alloc     AllocFunc
	readCB    ReadCallback
	acceptCB  AcceptCallback
	connectCB ConnectCallback

	writeQueue []pendingWrite

	localAddr Addr
}

// defaultAlloc returns a fresh 64KiB buffer, the size spec.md's examples
// use for a single readiness-triggered read.
func defaultAlloc(suggestedSize int) []byte {
	if suggestedSize <= 0 {
		suggestedSize = 65536
	}
	return make([]byte, suggestedSize)
}

// NewTCPHandle creates an unbound, unconnected TCP handle on loop. The
// underlying socket is created lazily by Listen/Connect, once the target
// address family is known.
func NewTCPHandle(loop *Loop) (*TCPHandle, error) {
	h := &TCPHandle{
		handleState: newHandleState(loop, KindTCP),
		uuid:        uuid.New(),
		loop:        loop,
		fd:          -1,
		alloc:       defaultAlloc,
	}
	return h, nil
}

// ensureSocket lazily creates the underlying socket for family, if one
// does not already exist.
func (h *TCPHandle) ensureSocket(family AddrFamily, o socketOptions) error {
	if h.fd >= 0 {
		return nil
	}
	fd, err := newNonblockingSocket(family, sockStream, o)
	if err != nil {
		return &OpError{Op: "socket", Err: err}
	}
	h.fd = fd
	return nil
}

// UUID returns a stable identifier for logging/metrics correlation,
// independent of the process-local numeric ID the registry assigns.
func (h *TCPHandle) UUID() uuid.UUID { return h.uuid }

// FD returns the underlying socket file descriptor, for callers that
// need direct syscall access (e.g. setsockopt not covered by SocketOption).
func (h *TCPHandle) FD() int { return h.fd }

// Listen binds to addr and starts accepting connections, invoking cb for
// each accepted connection (or listen-time error recovery attempt).
func (h *TCPHandle) Listen(addr Addr, backlog int, cb AcceptCallback, opts ...SocketOption) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != tcpNew {
		return &TypeError{Message: "vox: Listen called on a non-new TCP handle"}
	}

	o := resolveSocketOptions(opts)
	if err := h.ensureSocket(addr.Family(), o); err != nil {
		return err
	}

	if err := socketBind(h.fd, addr); err != nil {
		return &OpError{Op: "bind", Addr: addr, Err: err}
	}
	if err := socketListen(h.fd, backlog); err != nil {
		return &OpError{Op: "listen", Addr: addr, Err: err}
	}

	h.acceptCB = cb
	h.state = tcpListening
	h.activate()

	return h.registerEvents(EventRead)
}

// Connect starts a non-blocking connect to addr, invoking cb once the
// connection completes or fails.
func (h *TCPHandle) Connect(addr Addr, cb ConnectCallback) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != tcpNew {
		return &TypeError{Message: "vox: Connect called on a non-new TCP handle"}
	}
	if err := h.ensureSocket(addr.Family(), socketOptions{}); err != nil {
		return err
	}

	h.state = tcpConnecting
	h.connectCB = cb
	h.activate()

	err := socketConnect(h.fd, addr)
	if err != nil && err != ErrWouldBlock {
		return &OpError{Op: "connect", Addr: addr, Err: err}
	}

	return h.registerEvents(EventWrite)
}

// onConnectComplete runs on the loop thread when the connect-in-progress
// socket becomes writable, per spec.md §4.5's SO_ERROR completion check.
func (h *TCPHandle) onConnectComplete(events IOEvents) {
	h.mu.Lock()
	cb := h.connectCB
	h.connectCB = nil
	var err error
	if events&EventError != 0 {
		err = socketSendErr(h.fd)
		if err == nil {
			err = ErrClosed
		}
	} else {
		err = socketSendErr(h.fd)
	}
	if err == nil {
		h.state = tcpConnected
	}
	h.mu.Unlock()

	if err == nil {
		_ = h.ModifyInterest(EventRead)
	}
	if cb != nil {
		cb(err)
	}
}

// ModifyInterest is exposed for callback closures registered via
// registerEvents that need to rearm the event mask after a state change.
func (h *TCPHandle) ModifyInterest(events IOEvents) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.setEventsLocked(events)
}

// registerEvents registers (or updates) fd's interest mask. onIOEvent is
// the single steady-state dispatcher for the handle's entire lifetime;
// it multiplexes connecting/listening/read/write based on current state,
// since Backend.Modify only updates the interest mask, never the
// registered callback.
func (h *TCPHandle) registerEvents(events IOEvents) error {
	if !h.registered {
		h.ref()
		if err := h.loop.AddFD(h.fd, events, h.onIOEvent); err != nil {
			h.unref()
			return &OpError{Op: "register", Err: err}
		}
		h.registered = true
		h.curEvents = events
		return nil
	}
	return h.setEventsLocked(events)
}

func (h *TCPHandle) setEventsLocked(events IOEvents) error {
	if !h.registered {
		return nil
	}
	if h.curEvents == events {
		return nil
	}
	if err := h.loop.ModifyFD(h.fd, events); err != nil {
		return &OpError{Op: "modify", Err: err}
	}
	h.curEvents = events
	return nil
}

// onIOEvent is the steady-state dispatcher once a handle is Connected or
// Listening: it multiplexes accept, read and write-drain based on state.
func (h *TCPHandle) onIOEvent(events IOEvents) {
	h.mu.Lock()
	state := h.state
	h.mu.Unlock()

	if state == tcpListening {
		h.acceptLoop()
		return
	}
	if state == tcpConnecting {
		h.onConnectComplete(events)
		return
	}

	if events&EventWrite != 0 {
		h.drainWriteQueue()
	}
	if events&(EventRead|EventHangup|EventError) != 0 && h.reading {
		h.doRead()
	}
}

// acceptLoop accepts every connection currently pending, matching
// edge-triggered-safe readiness backends (epoll/kqueue) that coalesce
// multiple pending connections into one wakeup.
func (h *TCPHandle) acceptLoop() {
	for {
		h.mu.Lock()
		cb := h.acceptCB
		fd := h.fd
		h.mu.Unlock()

		nfd, peer, err := socketAccept(fd)
		if err != nil {
			if err == ErrWouldBlock {
				return
			}
			if cb != nil {
				cb(nil, &OpError{Op: "accept", Err: err})
			}
			return
		}

		conn := &TCPHandle{
			handleState: newHandleState(h.loop, KindTCP),
			uuid:        uuid.New(),
			loop:        h.loop,
			fd:          nfd,
			alloc:       defaultAlloc,
			state:       tcpConnected,
		}
		conn.activate()
		conn.localAddr = peer
		LogConnAccepted(int64(h.loop.ID()), int64(conn.ID()), conn.uuid.String(), peer.String())
		if cb != nil {
			cb(conn, nil)
		}
	}
}

// ReadStart arms read delivery: each readiness wakes the driver to read
// up to alloc's buffer capacity and invoke cb.
func (h *TCPHandle) ReadStart(alloc AllocFunc, cb ReadCallback) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != tcpConnected {
		return ErrNotActive
	}
	if alloc != nil {
		h.alloc = alloc
	}
	h.readCB = cb
	h.reading = true
	return h.setEventsLocked(h.curEvents | EventRead)
}

// ReadStop clears read delivery without closing the handle.
func (h *TCPHandle) ReadStop() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.reading = false
	return h.setEventsLocked(h.curEvents &^ EventRead)
}

// doRead performs one read attempt and delivers the result, per spec.md
// §4.5: nread > 0 is data, 0 is peer-closed, < 0 is a hard error.
func (h *TCPHandle) doRead() {
	h.mu.Lock()
	alloc := h.alloc
	cb := h.readCB
	fd := h.fd
	h.mu.Unlock()

	buf := alloc(65536)
	n, err := socketRead(fd, buf)
	if cb == nil {
		return
	}
	if err != nil {
		if err == ErrWouldBlock {
			return
		}
		cb(nil, 0, &OpError{Op: "read", Err: err})
		return
	}
	if n == 0 {
		cb(nil, 0, nil)
		return
	}
	cb(buf, n, nil)
}

// Write enqueues buf for sending, attempting an immediate send when the
// queue is empty, per spec.md §4.5's partial-send backpressure contract.
func (h *TCPHandle) Write(buf []byte, cb WriteCallback) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state == tcpShutdownPending {
		return &TypeError{Message: "vox: Write called after Shutdown"}
	}
	if h.state != tcpConnected {
		return ErrNotActive
	}

	if len(h.writeQueue) == 0 {
		n, err := socketWrite(h.fd, buf)
		if err != nil && err != ErrWouldBlock {
			return &OpError{Op: "write", Err: err}
		}
		if err == nil && n == len(buf) {
			if cb != nil {
				h.loop.SubmitInternal(func() { cb(nil) })
			}
			return nil
		}
		if err == nil {
			buf = buf[n:]
		}
		h.writeQueue = append(h.writeQueue, pendingWrite{buf: buf, cb: cb})
		return h.setEventsLocked(h.curEvents | EventWrite)
	}

	h.writeQueue = append(h.writeQueue, pendingWrite{buf: buf, cb: cb})
	return nil
}

// drainWriteQueue flushes queued writes until the queue empties or the
// socket would block again, firing each entry's callback in submission
// order as it completes.
func (h *TCPHandle) drainWriteQueue() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for len(h.writeQueue) > 0 {
		entry := &h.writeQueue[0]
		n, err := socketWrite(h.fd, entry.buf[entry.off:])
		if err != nil {
			if err == ErrWouldBlock {
				return
			}
			cb := entry.cb
			h.writeQueue = h.writeQueue[1:]
			LogWriteQueued(int64(h.loop.ID()), int64(h.ID()), h.uuid.String(), 0, err)
			if cb != nil {
				h.loop.SubmitInternal(func() { cb(&OpError{Op: "write", Err: err}) })
			}
			continue
		}
		entry.off += n
		if entry.off < len(entry.buf) {
			return
		}
		cb := entry.cb
		h.writeQueue = h.writeQueue[1:]
		if cb != nil {
			h.loop.SubmitInternal(func() { cb(nil) })
		}
	}

	if h.state == tcpShutdownPending {
		_ = socketShutdownWrite(h.fd)
	}
	_ = h.setEventsLocked(h.curEvents &^ EventWrite)
}

// Shutdown half-closes the write side of the connection via shutdown(2):
// any writes already queued still drain, but Write rejects everything
// submitted afterward, and the peer observes EOF once the queue empties.
// The read side is untouched, matching the half-close contract named in
// spec.md §4.5.
func (h *TCPHandle) Shutdown() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != tcpConnected {
		return ErrNotActive
	}
	if len(h.writeQueue) == 0 {
		if err := socketShutdownWrite(h.fd); err != nil {
			return &OpError{Op: "shutdown", Err: err}
		}
	}
	h.state = tcpShutdownPending
	return nil
}

// LocalAddr returns the socket's bound local address.
func (h *TCPHandle) LocalAddr() (Addr, error) {
	return socketLocalAddr(h.fd, FamilyV4)
}

// Close closes the handle, per the Handle contract: cb runs once the
// underlying fd has actually been released.
func (h *TCPHandle) Close(cb func()) error {
	return h.handleState.Close(func() {
		h.mu.Lock()
		fd := h.fd
		registered := h.registered
		h.registered = false
		h.mu.Unlock()

		if registered {
			_ = h.loop.RemoveFD(fd)
			h.unref()
		}
		_ = socketClose(fd)
		LogConnClosed(int64(h.loop.ID()), int64(h.ID()), h.uuid.String())
		if cb != nil {
			cb()
		}
	})
}
