package vox

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestThreadPoolSingleWorkerRunsTask(t *testing.T) {
	loop, err := NewLoop()
	if err != nil {
		t.Fatalf("NewLoop: %v", err)
	}
	defer loop.Close()

	pool := NewThreadPool(loop, WithPoolWorkers(1))
	defer pool.ForceShutdown()

	if pool.Workers() != 1 {
		t.Fatalf("Workers() = %d, want 1", pool.Workers())
	}

	var ran atomic.Bool
	done := make(chan struct{})
	err = pool.Submit(context.Background(), PoolTask{
		Fn: func() (any, error) {
			ran.Store(true)
			return 42, nil
		},
		Complete: func(result any, err error) {
			if result != 42 || err != nil {
				t.Errorf("Complete(%v, %v), want (42, nil)", result, err)
			}
			close(done)
		},
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	deadline := time.After(time.Second)
	for {
		loop.tick(true)
		select {
		case <-done:
			if !ran.Load() {
				t.Error("task did not run")
			}
			return
		case <-deadline:
			t.Fatal("task never completed")
		default:
		}
	}
}

func TestThreadPoolMultiWorkerRunsAllTasks(t *testing.T) {
	loop, err := NewLoop()
	if err != nil {
		t.Fatalf("NewLoop: %v", err)
	}
	defer loop.Close()

	pool := NewThreadPool(loop, WithPoolWorkers(4))
	defer pool.ForceShutdown()

	const n = 50
	var count atomic.Int64
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		if err := pool.Submit(context.Background(), PoolTask{
			Fn: func() (any, error) {
				count.Add(1)
				return nil, nil
			},
			Complete: func(result any, err error) { wg.Done() },
		}); err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}

	waitDone := make(chan struct{})
	go func() { wg.Wait(); close(waitDone) }()

	deadline := time.After(2 * time.Second)
	for {
		loop.tick(true)
		select {
		case <-waitDone:
			if count.Load() != n {
				t.Errorf("count = %d, want %d", count.Load(), n)
			}
			return
		case <-deadline:
			t.Fatal("not all tasks completed")
		default:
		}
	}
}

func TestThreadPoolRunTaskRecoversPanic(t *testing.T) {
	loop, err := NewLoop()
	if err != nil {
		t.Fatalf("NewLoop: %v", err)
	}
	defer loop.Close()

	pool := NewThreadPool(loop, WithPoolWorkers(1))
	defer pool.ForceShutdown()

	_, err = pool.runTask(PoolTask{Fn: func() (any, error) { panic("boom") }})
	var panicErr *PanicError
	if !errors.As(err, &panicErr) {
		t.Errorf("expected a *PanicError, got %v (%T)", err, err)
	}
}

func TestThreadPoolShutdownRejectsNewSubmits(t *testing.T) {
	loop, err := NewLoop()
	if err != nil {
		t.Fatalf("NewLoop: %v", err)
	}
	defer loop.Close()

	pool := NewThreadPool(loop, WithPoolWorkers(2))
	if err := pool.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if err := pool.Submit(context.Background(), PoolTask{Fn: func() (any, error) { return nil, nil }}); !errors.Is(err, ErrPoolShutdown) {
		t.Errorf("Submit after Shutdown = %v, want ErrPoolShutdown", err)
	}
}
