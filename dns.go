package vox

import (
	"context"
	"net"
	"net/netip"
	"sync/atomic"

	"github.com/google/uuid"
)

// DNSCallback receives the outcome of a DNSRequest: addrs is the
// resolved address list (nil on error), and err is non-nil if resolution
// failed or was aborted.
type DNSCallback func(addrs []Addr, err error)

// DNSRequest represents one outstanding name resolution, per spec.md
// §4.8's data model: arena-copied node/service, pending and closing
// flags, an AbortController for the timeout, and the callback. Resolved
// addresses are not stored; they go straight to the callback.
type DNSRequest struct {
	*handleState

	uuid uuid.UUID
	loop *Loop

	node    []byte
	service []byte

	pending atomic.Bool
	closing atomic.Bool

	controller *AbortController
	cb         DNSCallback
}

// Resolver submits DNS lookups to a ThreadPool, copying the hostname
// into the Loop's Arena so the PoolTask's goroutine never reads memory
// the caller might mutate or free concurrently.
type Resolver struct {
	loop  *Loop
	pool  *ThreadPool
	arena *Arena
}

// NewResolver creates a Resolver bound to loop, using pool for the
// blocking net.DefaultResolver.LookupIPAddr calls and arena for the
// node/service copies spec.md §4.8 calls for.
func NewResolver(loop *Loop, pool *ThreadPool, arena *Arena) *Resolver {
	return &Resolver{loop: loop, pool: pool, arena: arena}
}

// GetAddrInfo resolves node (and optionally service, a numeric port
// string) to a list of addresses, per spec.md §4.8. The resolution runs
// on the ThreadPool; timeoutMs <= 0 means no timeout (cancel only via
// the returned DNSRequest.Cancel).
func (r *Resolver) GetAddrInfo(node, service string, timeoutMs int, family AddrFamily, cb DNSCallback) (*DNSRequest, error) {
	req := &DNSRequest{
		handleState: newHandleState(r.loop, KindDNS),
		uuid:        uuid.New(),
		loop:        r.loop,
		node:        r.arena.CopyString(node),
		service:     r.arena.CopyString(service),
		cb:          cb,
	}
	req.pending.Store(true)
	req.activate()

	if timeoutMs > 0 {
		controller, err := AbortTimeout(r.loop, timeoutMs)
		if err != nil {
			return nil, err
		}
		req.controller = controller
		controller.Signal().OnAbort(func(reason any) {
			req.completeWith(nil, &TimeoutError{Message: "vox: DNS resolution timed out"})
		})
	}

	nodeCopy := string(req.node)
	serviceCopy := string(req.service)

	err := r.pool.Submit(context.Background(), PoolTask{
		Fn: func() (any, error) {
			return resolveHostPort(nodeCopy, serviceCopy, family)
		},
		Complete: func(result any, err error) {
			var addrs []Addr
			if result != nil {
				addrs = result.([]Addr)
			}
			req.completeWith(addrs, err)
		},
	})
	if err != nil {
		req.pending.Store(false)
		return nil, err
	}

	return req, nil
}

// resolveHostPort runs on a pool worker goroutine: it looks up node via
// net.DefaultResolver and pairs every resolved IP with service's port
// (parsed as a numeric string, per spec.md §4.8's getaddrinfo contract).
func resolveHostPort(node, service string, family AddrFamily) ([]Addr, error) {
	ips, err := net.DefaultResolver.LookupIPAddr(context.Background(), node)
	if err != nil {
		return nil, &OpError{Op: "lookup", Err: err}
	}

	var port uint16
	if service != "" {
		p, err := net.LookupPort("tcp", service)
		if err != nil {
			return nil, &OpError{Op: "lookup", Err: err}
		}
		port = uint16(p)
	}

	addrs := make([]Addr, 0, len(ips))
	for _, ip := range ips {
		netIP, ok := netip.AddrFromSlice(ip.IP)
		if !ok {
			continue
		}
		a := AddrFromNetip(netIP, port)
		if family == FamilyV4 && a.Family() != FamilyV4 {
			continue
		}
		if family == FamilyV6 && a.Family() != FamilyV6 {
			continue
		}
		addrs = append(addrs, a)
	}
	return addrs, nil
}

// completeWith delivers the final result exactly once: a request already
// marked closing (timed out, cancelled, or already completed) discards
// any late completion, per spec.md §4.8's cancellation semantics.
func (req *DNSRequest) completeWith(addrs []Addr, err error) {
	if !req.closing.CompareAndSwap(false, true) {
		return
	}
	req.pending.Store(false)
	req.deactivate()
	LogDNSResolved(int64(req.loop.ID()), int64(req.ID()), req.uuid.String(), string(req.node), len(addrs), err)
	if req.cb != nil {
		req.cb(addrs, err)
	}
}

// Cancel aborts a pending request; any in-flight pool task still
// completes, but its result is discarded by completeWith's closing gate.
func (req *DNSRequest) Cancel() {
	if req.controller != nil {
		req.controller.Abort(&AbortError{Reason: "cancelled"})
	}
	req.completeWith(nil, ErrClosed)
}

// IsPending reports whether the request has not yet completed or been
// cancelled.
func (req *DNSRequest) IsPending() bool {
	return req.pending.Load()
}

// Close implements Handle, cancelling the request if still pending.
func (req *DNSRequest) Close(cb func()) error {
	return req.handleState.Close(func() {
		req.Cancel()
		if cb != nil {
			cb()
		}
	})
}
