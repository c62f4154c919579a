package vox

import (
	"runtime"
	"sync"
)

// numCPUShards returns the shard count used by WithArenaConcurrent and
// the default ThreadPool size, mirroring spec.md's "size to GOMAXPROCS"
// guidance.
func numCPUShards() int {
	n := runtime.GOMAXPROCS(0)
	if n < 1 {
		return 1
	}
	return n
}

// arenaSizeClasses are the bucket boundaries (in bytes) an Arena pools
// allocations into, chosen to cover the small, short-lived buffers this
// runtime allocates most often: DNS node/service copies, read buffers,
// and write-queue residuals.
var arenaSizeClasses = [...]int{64, 256, 1024, 4096, 16384, 65536}

// arenaOptions configures Arena construction.
type arenaOptions struct {
	sharded bool
}

// ArenaOption configures an Arena.
type ArenaOption func(*arenaOptions)

// WithArenaConcurrent shards the Arena's free lists across GOMAXPROCS
// buckets instead of a single mutex, trading memory for less lock
// contention under concurrent Get/Put from multiple pool workers.
func WithArenaConcurrent() ArenaOption {
	return func(o *arenaOptions) { o.sharded = true }
}

// arenaShard holds one set of size-classed free lists behind one mutex.
type arenaShard struct {
	mu      sync.Mutex
	buckets [len(arenaSizeClasses)][][]byte
	closed  bool
}

// Arena is a size-class bucketed byte-slice pool, used throughout the
// runtime to avoid allocating and zeroing a fresh buffer for every DNS
// lookup, read, or write. Objects obtained from Get remain valid until
// returned via Put or until the Arena is Closed.
type Arena struct {
	shards []*arenaShard
}

// NewArena constructs an Arena. With no options, a single shard behind
// one mutex is used, sufficient for a single-threaded loop driving all
// allocation from its own goroutine.
func NewArena(opts ...ArenaOption) *Arena {
	var o arenaOptions
	for _, fn := range opts {
		fn(&o)
	}
	n := 1
	if o.sharded {
		n = numCPUShards()
	}
	shards := make([]*arenaShard, n)
	for i := range shards {
		shards[i] = &arenaShard{}
	}
	return &Arena{shards: shards}
}

// shardFor picks a shard using goroutine-independent round robin keyed
// on the requested size, good enough to spread contention without a
// per-goroutine index lookup.
func (a *Arena) shardFor(size int) *arenaShard {
	if len(a.shards) == 1 {
		return a.shards[0]
	}
	return a.shards[size%len(a.shards)]
}

// sizeClassFor returns the index of the smallest bucket able to hold
// size bytes, or -1 if size exceeds every bucket (such allocations
// bypass the pool entirely).
func sizeClassFor(size int) int {
	for i, c := range arenaSizeClasses {
		if size <= c {
			return i
		}
	}
	return -1
}

// Get returns a []byte with length size, either recycled from the
// matching size class or freshly allocated if the pool is empty or size
// exceeds every bucket.
func (a *Arena) Get(size int) []byte {
	class := sizeClassFor(size)
	if class < 0 {
		return make([]byte, size)
	}
	shard := a.shardFor(size)
	shard.mu.Lock()
	bucket := shard.buckets[class]
	var buf []byte
	if n := len(bucket); n > 0 {
		buf = bucket[n-1]
		shard.buckets[class] = bucket[:n-1]
	}
	shard.mu.Unlock()
	if buf == nil {
		buf = make([]byte, arenaSizeClasses[class])
	}
	return buf[:size]
}

// Put returns buf to its size class's free list. Callers must not use
// buf after calling Put.
func (a *Arena) Put(buf []byte) {
	class := sizeClassFor(cap(buf))
	if class < 0 {
		return
	}
	shard := a.shardFor(cap(buf))
	shard.mu.Lock()
	if !shard.closed {
		shard.buckets[class] = append(shard.buckets[class], buf[:cap(buf)])
	}
	shard.mu.Unlock()
}

// CopyBytes copies src into a freshly obtained Arena buffer, used by
// dns.go to keep a resolved address alive across the pool-task/loop
// boundary without reaching back into caller-owned memory.
func (a *Arena) CopyBytes(src []byte) []byte {
	buf := a.Get(len(src))
	copy(buf, src)
	return buf
}

// CopyString is the string equivalent of CopyBytes, used for node/
// service name copies in dns.go.
func (a *Arena) CopyString(s string) []byte {
	buf := a.Get(len(s))
	copy(buf, s)
	return buf
}

// Close releases every pooled buffer. Buffers already handed out via Get
// remain valid but must not be returned via Put afterward.
func (a *Arena) Close() error {
	for _, shard := range a.shards {
		shard.mu.Lock()
		for i := range shard.buckets {
			shard.buckets[i] = nil
		}
		shard.closed = true
		shard.mu.Unlock()
	}
	return nil
}
