// Package vox implements a cross-platform asynchronous I/O runtime: a
// pluggable backend abstraction over epoll, io_uring, kqueue, IOCP and
// select, a single-threaded event loop, a Handle lifecycle model, TCP/UDP
// drivers, a TLS/DTLS bridge, a thread pool with an arena allocator, and a
// DNS resolver that bridges blocking resolution back onto the loop.
//
// # Architecture
//
// A [Loop] owns a [Backend], a [ThreadPool], an [Arena], the active-handle
// registry, a timer min-heap, and two deferred-work queues. User code
// creates [Handle] values ([Timer], [TCPHandle], [UDPHandle], [TLSHandle],
// [DNSRequest]) bound to a loop and calls [Loop.Run]. Each iteration:
// expired timers fire, deferred work drains, the backend is polled for a
// bounded timeout, completions dispatch to handle callbacks, deferred work
// drains again, then the closing list is processed.
//
// # Platform support
//
// The backend auto-selects in this order and silently falls through on
// construction failure:
//   - Linux: io_uring, then epoll, then select
//   - macOS/BSD: kqueue, then select
//   - Windows: IOCP only (no select fallback is built for Windows)
//   - everything else: select
//
// # Thread safety
//
// Exactly one OS thread drives a Loop's iteration and callbacks; handle
// state requires no internal locking from within a callback. Other
// goroutines communicate with the loop only by enqueuing deferred work and
// waking the backend ([Loop.Submit]); the [ThreadPool] is the only
// parallel executor and its workers never touch handle state directly.
//
// # Usage
//
//	loop, err := vox.NewLoop()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer loop.Close()
//
//	tcp, err := vox.NewTCPHandle(loop)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := tcp.Listen(addr, 128, onAccept); err != nil {
//	    log.Fatal(err)
//	}
//
//	if err := loop.Run(context.Background(), vox.ModeDefault); err != nil {
//	    log.Fatal(err)
//	}
//
// # Error types
//
//   - [AbortError]: raised when an [AbortController]-cancelled operation
//     observes its signal
//   - [TypeError], [RangeError]: argument validation
//   - [TimeoutError]: DNS and other timed operations
//   - [PanicError]: wraps a recovered panic from a loop callback
//
// All error types implement [error], [errors.Unwrap], and Is()-based
// matching. The aggregate failure from backend auto-select exhaustion
// uses [github.com/hashicorp/go-multierror].
package vox
