package vox

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

// bioConn adapts a pair of in-memory byte queues to the net.Conn
// interface crypto/tls.Conn expects, so the TLS record layer and
// handshake state machine can be driven by data the event loop delivers
// rather than by directly owning a blocking socket.
type bioConn struct {
	mu     sync.Mutex
	cond   *sync.Cond
	rbuf   []byte
	closed bool

	onWrite func([]byte)
}

func newBioConn() *bioConn {
	b := &bioConn{}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// feed delivers ciphertext read off the network into the TLS side's
// incoming buffer, waking any blocked Read.
func (b *bioConn) feed(p []byte) {
	b.mu.Lock()
	b.rbuf = append(b.rbuf, p...)
	b.cond.Broadcast()
	b.mu.Unlock()
}

// Read implements net.Conn, blocking until data is fed or the conn is
// closed.
func (b *bioConn) Read(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for len(b.rbuf) == 0 && !b.closed {
		b.cond.Wait()
	}
	if len(b.rbuf) == 0 && b.closed {
		return 0, io.EOF
	}
	n := copy(p, b.rbuf)
	b.rbuf = b.rbuf[n:]
	return n, nil
}

// Write implements net.Conn: outgoing ciphertext is handed to onWrite,
// which is responsible for getting it onto the network (typically by
// posting a TCPHandle.Write back onto the loop thread).
func (b *bioConn) Write(p []byte) (int, error) {
	b.mu.Lock()
	closed := b.closed
	onWrite := b.onWrite
	b.mu.Unlock()
	if closed {
		return 0, net.ErrClosed
	}
	if onWrite != nil {
		cp := make([]byte, len(p))
		copy(cp, p)
		onWrite(cp)
	}
	return len(p), nil
}

func (b *bioConn) Close() error {
	b.mu.Lock()
	b.closed = true
	b.cond.Broadcast()
	b.mu.Unlock()
	return nil
}

func (b *bioConn) LocalAddr() net.Addr                { return bioAddr{} }
func (b *bioConn) RemoteAddr() net.Addr               { return bioAddr{} }
func (b *bioConn) SetDeadline(t time.Time) error      { return nil }
func (b *bioConn) SetReadDeadline(t time.Time) error  { return nil }
func (b *bioConn) SetWriteDeadline(t time.Time) error { return nil }

// bioAddr is a placeholder net.Addr: the real peer address belongs to
// the underlying TCPHandle, not the in-memory bridge.
type bioAddr struct{}

func (bioAddr) Network() string { return "vox-bio" }
func (bioAddr) String() string  { return "vox-bio" }

// TLSHandle wraps crypto/tls.Conn over a TCPHandle, pumping ciphertext
// through a bioConn so the handshake and record layer are driven by
// the event loop instead of a direct blocking socket read, per spec.md
// §4.7.
type TLSHandle struct {
	*handleState

	uuid uuid.UUID
	loop *Loop
	tcp  *TCPHandle
	bio  *bioConn
	conn *tls.Conn

	handshakeOnce sync.Once
	handshakeDone chan struct{}
	handshakeErr  error

	writeMu sync.Mutex
}

// NewTLSClient wraps tcp (already Connected) in a TLS client session
// using config, and starts the handshake.
func NewTLSClient(loop *Loop, tcp *TCPHandle, config *tls.Config) (*TLSHandle, error) {
	return newTLSHandle(loop, tcp, func(bio net.Conn) *tls.Conn {
		return tls.Client(bio, config)
	})
}

// NewTLSServer wraps tcp (an accepted connection) in a TLS server
// session using config, and starts the handshake.
func NewTLSServer(loop *Loop, tcp *TCPHandle, config *tls.Config) (*TLSHandle, error) {
	return newTLSHandle(loop, tcp, func(bio net.Conn) *tls.Conn {
		return tls.Server(bio, config)
	})
}

func newTLSHandle(loop *Loop, tcp *TCPHandle, build func(net.Conn) *tls.Conn) (*TLSHandle, error) {
	bio := newBioConn()
	h := &TLSHandle{
		handleState:   newHandleState(loop, KindTLS),
		uuid:          uuid.New(),
		loop:          loop,
		tcp:           tcp,
		bio:           bio,
		handshakeDone: make(chan struct{}),
	}
	bio.onWrite = func(p []byte) {
		_ = loop.Submit(func() {
			_ = tcp.Write(p, nil)
		})
	}
	h.conn = build(bio)
	h.activate()

	if err := tcp.ReadStart(nil, func(buf []byte, n int, err error) {
		if err != nil {
			_ = h.bio.Close()
			return
		}
		if n > 0 {
			h.bio.feed(buf[:n])
		}
	}); err != nil {
		return nil, err
	}

	h.handshakeOnce.Do(func() {
		go func() {
			h.handshakeErr = h.conn.Handshake()
			LogTLSHandshake(int64(loop.ID()), int64(h.ID()), h.uuid.String(), h.handshakeErr)
			close(h.handshakeDone)
		}()
	})

	return h, nil
}

// HandshakeError blocks until the handshake completes (success or
// failure) and returns its outcome. Callers driving an event loop should
// poll IsHandshakeComplete or use a select over a goroutine instead of
// calling this directly from the loop thread.
func (h *TLSHandle) HandshakeError() error {
	<-h.handshakeDone
	return h.handshakeErr
}

// IsHandshakeComplete reports whether the handshake has finished,
// without blocking.
func (h *TLSHandle) IsHandshakeComplete() bool {
	select {
	case <-h.handshakeDone:
		return true
	default:
		return false
	}
}

// ReadStart arms decrypted-record delivery: a background goroutine reads
// application data off the tls.Conn and delivers it back onto the loop
// thread via cb.
func (h *TLSHandle) ReadStart(alloc AllocFunc, cb ReadCallback) error {
	if alloc == nil {
		alloc = defaultAlloc
	}
	go func() {
		for {
			buf := alloc(65536)
			n, err := h.conn.Read(buf)
			if err != nil {
				_ = h.loop.Submit(func() { cb(nil, 0, err) })
				return
			}
			_ = h.loop.Submit(func() { cb(buf, n, nil) })
		}
	}()
	return nil
}

// Write encrypts and sends buf. Writes are serialized by writeMu since
// tls.Conn.Write is not safe for concurrent callers.
func (h *TLSHandle) Write(buf []byte, cb WriteCallback) error {
	go func() {
		h.writeMu.Lock()
		_, err := h.conn.Write(buf)
		h.writeMu.Unlock()
		if cb != nil {
			_ = h.loop.Submit(func() { cb(err) })
		}
	}()
	return nil
}

// Close closes the TLS session and its underlying TCP connection.
func (h *TLSHandle) Close(cb func()) error {
	return h.handleState.Close(func() {
		_ = h.conn.Close()
		_ = h.bio.Close()
		_ = h.tcp.Close(cb)
	})
}

// DTLS cookie support per spec.md §4.7 and RFC 6347 §4.2.1: a stateless
// cookie lets a server verify a client owns the source address it
// claims before committing per-connection state to a ClientHello retry.
// Full DTLS record-layer encryption is out of scope for this bridge (see
// DESIGN.md); only the cookie derivation primitive is implemented.

// dtlsCookieSecretSize is the size of the server's cookie-derivation
// secret, matching a curve25519 scalar.
const dtlsCookieSecretSize = 32

// DTLSCookieGenerator derives per-client anti-spoofing cookies from a
// server secret using HKDF, per RFC 6347's "cookie exchange" mechanism.
type DTLSCookieGenerator struct {
	secret [dtlsCookieSecretSize]byte
}

// NewDTLSCookieGenerator creates a generator with a fresh random secret,
// mixed through curve25519 scalar-basepoint multiplication so the
// derived secret never directly leaks the random seed.
func NewDTLSCookieGenerator() (*DTLSCookieGenerator, error) {
	var seed [dtlsCookieSecretSize]byte
	if _, err := io.ReadFull(rand.Reader, seed[:]); err != nil {
		return nil, err
	}
	var secret [dtlsCookieSecretSize]byte
	pub, err := curve25519.X25519(seed[:], curve25519.Basepoint)
	if err != nil {
		return nil, err
	}
	copy(secret[:], pub)
	return &DTLSCookieGenerator{secret: secret}, nil
}

// Generate derives a cookie for clientAddr and clientHello, stable for
// the same (address, hello) pair for as long as the secret is unchanged.
func (g *DTLSCookieGenerator) Generate(clientAddr Addr, clientHello []byte) ([]byte, error) {
	info := append(clientAddr.Bytes(), clientHello...)
	r := hkdf.New(sha256.New, g.secret[:], nil, info)
	cookie := make([]byte, 32)
	if _, err := io.ReadFull(r, cookie); err != nil {
		return nil, err
	}
	return cookie, nil
}

// Verify reports whether cookie matches what Generate would produce for
// clientAddr and clientHello.
func (g *DTLSCookieGenerator) Verify(clientAddr Addr, clientHello, cookie []byte) (bool, error) {
	want, err := g.Generate(clientAddr, clientHello)
	if err != nil {
		return false, err
	}
	if len(want) != len(cookie) {
		return false, nil
	}
	var diff byte
	for i := range want {
		diff |= want[i] ^ cookie[i]
	}
	return diff == 0, nil
}

var errDTLSNotImplemented = errors.New("vox: full DTLS record layer is not implemented, only RFC 6347 cookie exchange")

// NewDTLSServer is a placeholder for a full DTLS record-layer bridge
// over a UDPHandle. It always fails: see DESIGN.md for why no suitable
// third-party DTLS implementation is wired.
func NewDTLSServer(loop *Loop, udp *UDPHandle, cookies *DTLSCookieGenerator) (*TLSHandle, error) {
	return nil, errDTLSNotImplemented
}
