package vox

import "testing"

func TestArenaGetReturnsRequestedLength(t *testing.T) {
	a := NewArena()
	defer a.Close()

	buf := a.Get(100)
	if len(buf) != 100 {
		t.Fatalf("len(buf) = %d, want 100", len(buf))
	}
}

func TestArenaGetPutRecyclesBuffer(t *testing.T) {
	a := NewArena()
	defer a.Close()

	buf := a.Get(64)
	a.Put(buf)

	recycled := a.Get(64)
	if cap(recycled) != cap(buf) {
		t.Errorf("expected Get after Put to recycle a same-capacity buffer")
	}
}

func TestArenaOversizeBypassesPool(t *testing.T) {
	a := NewArena()
	defer a.Close()

	buf := a.Get(1 << 20)
	if len(buf) != 1<<20 {
		t.Fatalf("len(buf) = %d, want %d", len(buf), 1<<20)
	}
	// Put on an oversize buffer is a silent no-op (bypasses every bucket).
	a.Put(buf)
}

func TestArenaCopyBytesAndCopyString(t *testing.T) {
	a := NewArena()
	defer a.Close()

	src := []byte("hello world")
	got := a.CopyBytes(src)
	if string(got) != "hello world" {
		t.Errorf("CopyBytes = %q, want %q", got, "hello world")
	}
	// Mutating src must not affect the copy.
	src[0] = 'X'
	if got[0] != 'h' {
		t.Error("CopyBytes should not alias the source slice")
	}

	gotStr := a.CopyString("vox")
	if string(gotStr) != "vox" {
		t.Errorf("CopyString = %q, want %q", gotStr, "vox")
	}
}

func TestArenaConcurrentShardCountMatchesCPUShards(t *testing.T) {
	a := NewArena(WithArenaConcurrent())
	if len(a.shards) != numCPUShards() {
		t.Fatalf("len(shards) = %d, want %d", len(a.shards), numCPUShards())
	}
}

func TestArenaCloseInvalidatesFreeLists(t *testing.T) {
	a := NewArena()
	buf := a.Get(64)
	if err := a.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	// Put after Close should not panic and should be a no-op.
	a.Put(buf)
}

func TestSizeClassFor(t *testing.T) {
	if c := sizeClassFor(64); c != 0 {
		t.Errorf("sizeClassFor(64) = %d, want 0", c)
	}
	if c := sizeClassFor(65); c != 1 {
		t.Errorf("sizeClassFor(65) = %d, want 1", c)
	}
	if c := sizeClassFor(1 << 30); c != -1 {
		t.Errorf("sizeClassFor(huge) = %d, want -1", c)
	}
}
