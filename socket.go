package vox

import "net/netip"

// Portable socket type constants, numerically identical to SOCK_STREAM/
// SOCK_DGRAM on every platform golang.org/x/sys exposes, used so tcp.go/
// udp.go never import a GOOS-specific package directly.
const (
	sockStream = 1
	sockDgram  = 2
)

// socketOptions carries the small set of pre-bind/listen knobs spec.md
// §4.5/§4.6 name (address/port reuse); both TCP and UDP share it.
type socketOptions struct {
	reuseAddr bool
	reusePort bool
}

// SocketOption configures socket creation for Listen/Bind.
type SocketOption func(*socketOptions)

// WithReuseAddr enables SO_REUSEADDR on the listening/bound socket.
func WithReuseAddr() SocketOption {
	return func(o *socketOptions) { o.reuseAddr = true }
}

// WithReusePort enables SO_REUSEPORT (where supported) on the
// listening/bound socket, letting multiple processes/workers share one
// address:port, per spec.md §4.10's worker-process fan-out model.
func WithReusePort() SocketOption {
	return func(o *socketOptions) { o.reusePort = true }
}

func resolveSocketOptions(opts []SocketOption) socketOptions {
	var o socketOptions
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// newNonblockingSocket creates a non-blocking socket for family/sockType
// (SOCK_STREAM or SOCK_DGRAM), applying opts, and returns its fd.
func newNonblockingSocket(family AddrFamily, sockType int, opts socketOptions) (int, error) {
	return platformNewSocket(family, sockType, opts)
}

// socketBind binds fd to addr (the zero Addr binds to the wildcard
// address on the requested family).
func socketBind(fd int, addr Addr) error {
	return platformBind(fd, addr)
}

// socketConnect starts a non-blocking connect to addr, returning
// ErrWouldBlock (not an error condition) if the connect is in progress.
func socketConnect(fd int, addr Addr) error {
	return platformConnect(fd, addr)
}

// socketListen marks fd as a listening socket with the given backlog.
func socketListen(fd int, backlog int) error {
	return platformListen(fd, backlog)
}

// socketAccept accepts one pending connection on fd, returning the new
// fd and the peer address.
func socketAccept(fd int) (int, Addr, error) {
	return platformAccept(fd)
}

// socketLocalAddr returns the local address fd is bound to.
func socketLocalAddr(fd int, family AddrFamily) (Addr, error) {
	return platformLocalAddr(fd, family)
}

// socketSendErr checks SO_ERROR on fd, the standard way to learn whether
// a non-blocking connect completed successfully.
func socketSendErr(fd int) error {
	return platformSocketError(fd)
}

// socketRead reads from a connected socket fd, distinct from the raw fd
// helpers in fd_unix.go/fd_windows.go, which nothing in the package calls
// and whose read/write are no-ops on the Windows build.
func socketRead(fd int, buf []byte) (int, error) {
	return platformSocketRead(fd, buf)
}

// socketWrite writes to a connected socket fd.
func socketWrite(fd int, buf []byte) (int, error) {
	return platformSocketWrite(fd, buf)
}

// socketClose closes a socket fd.
func socketClose(fd int) error {
	return platformSocketClose(fd)
}

// socketShutdownWrite half-closes fd's write side (shutdown(2), SHUT_WR):
// the peer still sees in-flight bytes followed by EOF, but the fd itself
// stays open and readable, per spec.md §4.5's Shutdown-pending semantics.
func socketShutdownWrite(fd int) error {
	return platformShutdownWrite(fd)
}

// socketSendto sends buf as one datagram to dst on a UDP socket,
// returning ErrWouldBlock if the send could not complete immediately.
func socketSendto(fd int, buf []byte, dst Addr) error {
	return platformSendto(fd, buf, dst)
}

// socketRecvfrom receives one datagram into buf on a UDP socket,
// returning the sender's address, or ErrWouldBlock if none is pending.
func socketRecvfrom(fd int, buf []byte) (int, Addr, error) {
	return platformRecvfrom(fd, buf)
}

// wildcardAddr returns the unspecified address ("0.0.0.0"/"::") for
// family, used when Listen/Bind is called with a zero Addr.
func wildcardAddr(family AddrFamily, port uint16) Addr {
	if family == FamilyV4 {
		return AddrFromNetip(netip.IPv4Unspecified(), port)
	}
	return AddrFromNetip(netip.IPv6Unspecified(), port)
}
