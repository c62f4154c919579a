package vox

import (
	"github.com/google/uuid"
)

// udpState tracks the small lifecycle named in spec.md §4.6: New → Bound
// → Receiving (optional). Closed is represented by the embedded
// handleState instead of a dedicated value.
type udpState int

const (
	udpNew udpState = iota
	udpBound
)

// UDPReadCallback receives each datagram delivered after RecvStart: n is
// the number of bytes in buf, src is the sender's address, and a
// non-nil err reports a hard receive error (n is 0 in that case).
type UDPReadCallback func(buf []byte, n int, src Addr, err error)

// UDPSendCallback reports the outcome of one queued Send. Per spec.md
// §4.6, UDP sends are all-or-nothing: err is nil only if the entire
// buffer was accepted by the kernel in one datagram.
type UDPSendCallback func(err error)

// pendingSend is one queued UDP Send entry.
type pendingSend struct {
	buf []byte
	dst Addr
	cb  UDPSendCallback
}

// UDPHandle implements Handle for a single UDP socket, per spec.md §4.6.
type UDPHandle struct {
	*handleState

	uuid uuid.UUID
	loop *Loop
	fd   int

	state      udpState
	receiving  bool
	registered bool
	curEvents  IOEvents

	alloc  AllocFunc
	readCB UDPReadCallback

	sendQueue []pendingSend
}

// NewUDPHandle creates an unbound UDP handle on loop. The underlying
// socket is created lazily by Bind, once the target address family is
// known.
func NewUDPHandle(loop *Loop) (*UDPHandle, error) {
	return &UDPHandle{
		handleState: newHandleState(loop, KindUDP),
		uuid:        uuid.New(),
		loop:        loop,
		fd:          -1,
		alloc:       defaultAlloc,
	}, nil
}

// UUID returns a stable identifier for logging/metrics correlation.
func (h *UDPHandle) UUID() uuid.UUID { return h.uuid }

// FD returns the underlying socket file descriptor.
func (h *UDPHandle) FD() int { return h.fd }

// Bind binds the socket to addr (the zero Addr binds the wildcard
// address on the family implied by addr).
func (h *UDPHandle) Bind(addr Addr, opts ...SocketOption) error {
	if h.state != udpNew {
		return &TypeError{Message: "vox: Bind called on an already-bound UDP handle"}
	}

	o := resolveSocketOptions(opts)
	fd, err := newNonblockingSocket(addr.Family(), sockDgram, o)
	if err != nil {
		return &OpError{Op: "socket", Err: err}
	}
	h.fd = fd

	if err := socketBind(h.fd, addr); err != nil {
		_ = socketClose(h.fd)
		return &OpError{Op: "bind", Addr: addr, Err: err}
	}

	h.state = udpBound
	h.activate()
	return nil
}

// RecvStart arms datagram delivery: each readiness wakes the driver to
// recvfrom up to alloc's buffer capacity and invoke cb.
func (h *UDPHandle) RecvStart(alloc AllocFunc, cb UDPReadCallback) error {
	if h.state != udpBound {
		return ErrNotActive
	}
	if alloc != nil {
		h.alloc = alloc
	}
	h.readCB = cb
	h.receiving = true
	return h.setEvents(h.curEvents | EventRead)
}

// RecvStop clears datagram delivery without closing the handle.
func (h *UDPHandle) RecvStop() error {
	h.receiving = false
	return h.setEvents(h.curEvents &^ EventRead)
}

// setEvents registers (first call) or updates (subsequent calls) the
// socket's interest mask. A single steady-state callback (onIOEvent) is
// registered for the handle's entire lifetime, since Backend.Modify only
// updates the interest mask.
func (h *UDPHandle) setEvents(events IOEvents) error {
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
	if h.curEvents == events {
		return nil
	}
	if err := h.loop.ModifyFD(h.fd, events); err != nil {
		return &OpError{Op: "modify", Err: err}
	}
	h.curEvents = events
	return nil
}

func (h *UDPHandle) onIOEvent(events IOEvents) {
	if events&EventWrite != 0 {
		h.drainSendQueue()
	}
	if events&(EventRead|EventError) != 0 && h.receiving {
		h.doRecv()
	}
}

func (h *UDPHandle) doRecv() {
	buf := h.alloc(65536)
	n, src, err := socketRecvfrom(h.fd, buf)
	if h.readCB == nil {
		return
	}
	if err != nil {
		if err == ErrWouldBlock {
			return
		}
		h.readCB(nil, 0, Addr{}, &OpError{Op: "recvfrom", Err: err})
		return
	}
	h.readCB(buf, n, src, nil)
}

// Send queues one datagram for delivery to dst, invoking cb (if non-nil)
// once the kernel accepts (or rejects) the send. Per spec.md §4.6, a
// successful send always consumes the entire buffer as one datagram;
// there is no partial-send case for UDP.
func (h *UDPHandle) Send(buf []byte, dst Addr, cb UDPSendCallback) error {
	if h.state != udpBound {
		return ErrNotActive
	}

	if len(h.sendQueue) == 0 {
		err := socketSendto(h.fd, buf, dst)
		if err == nil {
			if cb != nil {
				h.loop.SubmitInternal(func() { cb(nil) })
			}
			return nil
		}
		if err != ErrWouldBlock {
			return &OpError{Op: "sendto", Addr: dst, Err: err}
		}
		h.sendQueue = append(h.sendQueue, pendingSend{buf: buf, dst: dst, cb: cb})
		return h.setEvents(h.curEvents | EventWrite)
	}

	h.sendQueue = append(h.sendQueue, pendingSend{buf: buf, dst: dst, cb: cb})
	return nil
}

// drainSendQueue retries queued sends until the queue empties or the
// socket would block again. Each entry is all-or-nothing: it is fully
// accepted by the kernel and popped, left at the head to retry on the
// next writable wakeup, or, on a hard send error, popped with the error
// reported to its callback.
func (h *UDPHandle) drainSendQueue() {
	for len(h.sendQueue) > 0 {
		entry := h.sendQueue[0]
		err := socketSendto(h.fd, entry.buf, entry.dst)
		if err != nil {
			if err == ErrWouldBlock {
				return
			}
			h.sendQueue = h.sendQueue[1:]
			LogWriteQueued(int64(h.loop.ID()), int64(h.ID()), h.uuid.String(), len(entry.buf), err)
			if entry.cb != nil {
				cb := entry.cb
				h.loop.SubmitInternal(func() { cb(&OpError{Op: "sendto", Addr: entry.dst, Err: err}) })
			}
			continue
		}
		h.sendQueue = h.sendQueue[1:]
		if entry.cb != nil {
			cb := entry.cb
			h.loop.SubmitInternal(func() { cb(nil) })
		}
	}
	_ = h.setEvents(h.curEvents &^ EventWrite)
}

// LocalAddr returns the socket's bound local address.
func (h *UDPHandle) LocalAddr() (Addr, error) {
	return socketLocalAddr(h.fd, FamilyV4)
}

// Close closes the handle, per the Handle contract.
func (h *UDPHandle) Close(cb func()) error {
	return h.handleState.Close(func() {
		if h.registered {
			_ = h.loop.RemoveFD(h.fd)
			h.registered = false
			h.unref()
		}
		_ = socketClose(h.fd)
		LogConnClosed(int64(h.loop.ID()), int64(h.ID()), h.uuid.String())
		if cb != nil {
			cb()
		}
	})
}
