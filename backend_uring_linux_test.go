//go:build linux

package vox

import (
	"net"
	"testing"
	"time"
)

// newTestURingPoller returns an initialized URingPoller, skipping the test
// if the kernel/sandbox has no usable io_uring_setup (the same condition
// SelectBackend tolerates by falling through to epoll).
func newTestURingPoller(t *testing.T) *URingPoller {
	t.Helper()
	p := &URingPoller{}
	if err := p.Init(); err != nil {
		t.Skipf("io_uring unavailable in this environment: %v", err)
	}
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func TestURingPollerName(t *testing.T) {
	p := newTestURingPoller(t)
	if p.Name() != "io_uring" {
		t.Errorf("Name() = %q, want %q", p.Name(), "io_uring")
	}
}

// TestURingPollerReadReady registers a connected TCP socket and checks that
// writing data on the peer side produces a readiness callback carrying
// EventRead, exercising the full multishot poll submit/completion path.
func TestURingPollerReadReady(t *testing.T) {
	p := newTestURingPoller(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()

	client, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer client.Close()

	server, err := ln.Accept()
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	defer server.Close()

	file, err := server.(*net.TCPConn).File()
	if err != nil {
		t.Fatalf("File: %v", err)
	}
	defer file.Close()
	fd := int(file.Fd())

	events := make(chan IOEvents, 4)
	if err := p.Add(fd, EventRead, func(ev IOEvents) { events <- ev }); err != nil {
		t.Fatalf("Add: %v", err)
	}

	if _, err := client.Write([]byte("hello")); err != nil {
		t.Fatalf("client.Write: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := p.Poll(50); err != nil {
			t.Fatalf("Poll: %v", err)
		}
		select {
		case ev := <-events:
			if ev&EventRead == 0 {
				t.Fatalf("got events %v, want EventRead set", ev)
			}
			return
		default:
		}
	}
	t.Fatal("timed out waiting for read readiness")
}

// TestURingPollerRemoveStopsDelivery ensures a removed fd's completions are
// no longer dispatched, even though the kernel may already have an
// in-flight multishot registration pending cancellation.
func TestURingPollerRemoveStopsDelivery(t *testing.T) {
	p := newTestURingPoller(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()

	client, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer client.Close()

	server, err := ln.Accept()
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	defer server.Close()

	file, err := server.(*net.TCPConn).File()
	if err != nil {
		t.Fatalf("File: %v", err)
	}
	defer file.Close()
	fd := int(file.Fd())

	calls := 0
	if err := p.Add(fd, EventRead, func(IOEvents) { calls++ }); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := p.Remove(fd); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	if _, err := client.Write([]byte("hello")); err != nil {
		t.Fatalf("client.Write: %v", err)
	}

	deadline := time.Now().Add(200 * time.Millisecond)
	for time.Now().Before(deadline) {
		if _, err := p.Poll(20); err != nil {
			t.Fatalf("Poll: %v", err)
		}
	}
	if calls != 0 {
		t.Errorf("calls = %d after Remove, want 0", calls)
	}
}

func TestURingPollerDoubleAddRejected(t *testing.T) {
	p := newTestURingPoller(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()
	file, err := ln.(*net.TCPListener).File()
	if err != nil {
		t.Fatalf("File: %v", err)
	}
	defer file.Close()
	fd := int(file.Fd())

	if err := p.Add(fd, EventRead, func(IOEvents) {}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := p.Add(fd, EventRead, func(IOEvents) {}); err != ErrFDAlreadyRegistered {
		t.Errorf("second Add err = %v, want ErrFDAlreadyRegistered", err)
	}
}
