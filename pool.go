package vox

import (
	"context"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// PoolTask is one unit of work submitted to a ThreadPool: Fn runs off
// the loop thread, and Complete (if non-nil) is posted back onto the
// owning Loop via SubmitInternal once Fn returns.
type PoolTask struct {
	Fn       func() (any, error)
	Complete func(result any, err error)
	Data     any
}

// poolOptions configures ThreadPool construction.
type poolOptions struct {
	workers int
}

// PoolOption configures a ThreadPool.
type PoolOption func(*poolOptions)

// WithPoolWorkers overrides the default GOMAXPROCS-sized worker count.
func WithPoolWorkers(n int) PoolOption {
	return func(o *poolOptions) {
		if n > 0 {
			o.workers = n
		}
	}
}

// ThreadPool offloads blocking work (DNS resolution, filesystem I/O) from
// the loop thread, per spec.md §4.9. With a single worker, tasks queue
// through teacher's lock-free MPSC MicrotaskRing; with multiple workers,
// a mutex-guarded ChunkedIngress is used instead, since MicrotaskRing's
// single-consumer contract would be violated by concurrent Pop callers.
type ThreadPool struct {
	loop    *Loop
	workers int
	sem     *semaphore.Weighted

	ring *MicrotaskRing

	mu     sync.Mutex
	queue  *ChunkedIngress
	signal chan struct{}

	wg       sync.WaitGroup
	shutdown chan struct{}
	once     sync.Once
}

// NewThreadPool creates a ThreadPool bound to loop, sized to
// runtime.GOMAXPROCS(0) workers unless overridden by WithPoolWorkers, and
// starts its worker goroutines.
func NewThreadPool(loop *Loop, opts ...PoolOption) *ThreadPool {
	o := poolOptions{workers: numCPUShards()}
	for _, fn := range opts {
		fn(&o)
	}

	p := &ThreadPool{
		loop:     loop,
		workers:  o.workers,
		sem:      semaphore.NewWeighted(int64(o.workers) * 4),
		shutdown: make(chan struct{}),
	}
	if o.workers == 1 {
		p.ring = NewMicrotaskRing()
	} else {
		p.queue = NewChunkedIngress()
		p.signal = make(chan struct{}, o.workers)
	}

	for i := 0; i < o.workers; i++ {
		p.wg.Add(1)
		go p.runWorker()
	}
	return p
}

// Workers reports the pool's worker goroutine count.
func (p *ThreadPool) Workers() int { return p.workers }

// Submit enqueues task for execution on a worker goroutine. Submit never
// blocks the caller; it returns ErrPoolFull if the admission semaphore is
// saturated or ErrPoolShutdown if the pool has been shut down.
func (p *ThreadPool) Submit(ctx context.Context, task PoolTask) error {
	select {
	case <-p.shutdown:
		return ErrPoolShutdown
	default:
	}

	if !p.sem.TryAcquire(1) {
		return ErrPoolFull
	}

	run := func() {
		defer p.sem.Release(1)
		result, err := p.runTask(task)
		if task.Complete != nil {
			cb := task.Complete
			_ = p.loop.SubmitInternal(func() { cb(result, err) })
		}
	}

	if p.ring != nil {
		if !p.ring.Push(run) {
			p.sem.Release(1)
			return ErrQueueFull
		}
		return nil
	}

	p.mu.Lock()
	p.queue.Push(run)
	p.mu.Unlock()
	select {
	case p.signal <- struct{}{}:
	default:
	}
	return nil
}

// runTask invokes task.Fn, converting a recovered panic into a PanicError
// so a misbehaving task can never take down a worker goroutine.
func (p *ThreadPool) runTask(task PoolTask) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r}
		}
	}()
	if task.Fn == nil {
		return nil, nil
	}
	return task.Fn()
}

// runWorker is the body of each pool worker goroutine.
func (p *ThreadPool) runWorker() {
	defer p.wg.Done()
	if p.ring != nil {
		p.runRingWorker()
		return
	}
	p.runQueueWorker()
}

func (p *ThreadPool) runRingWorker() {
	for {
		if fn := p.ring.Pop(); fn != nil {
			fn()
			continue
		}
		select {
		case <-p.shutdown:
			if fn := p.ring.Pop(); fn != nil {
				fn()
				continue
			}
			return
		default:
			runtime.Gosched()
			time.Sleep(time.Millisecond)
		}
	}
}

func (p *ThreadPool) runQueueWorker() {
	for {
		p.mu.Lock()
		fn, ok := p.queue.Pop()
		p.mu.Unlock()
		if ok {
			fn()
			continue
		}
		select {
		case <-p.signal:
		case <-p.shutdown:
			p.mu.Lock()
			fn, ok := p.queue.Pop()
			p.mu.Unlock()
			if ok {
				fn()
				continue
			}
			return
		}
	}
}

// Shutdown stops accepting new work and waits for queued and in-flight
// tasks to finish, honoring ctx's deadline.
func (p *ThreadPool) Shutdown(ctx context.Context) error {
	p.once.Do(func() { close(p.shutdown) })

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ForceShutdown stops accepting new work and returns at once, without
// waiting for in-flight tasks.
func (p *ThreadPool) ForceShutdown() {
	p.once.Do(func() { close(p.shutdown) })
}
