package vox

import (
	"context"
	"os"
)

// FileCallback receives the outcome of an off-loop file operation.
type FileCallback func(result any, err error)

// FS offloads blocking filesystem calls to a ThreadPool, so loop-thread
// callers never block on disk I/O.
type FS struct {
	pool *ThreadPool
}

// NewFS creates an FS backed by pool.
func NewFS(pool *ThreadPool) *FS {
	return &FS{pool: pool}
}

// ReadFile reads the entire contents of name off the loop thread,
// delivering ([]byte, error) to cb.
func (f *FS) ReadFile(ctx context.Context, name string, cb FileCallback) error {
	return f.pool.Submit(ctx, PoolTask{
		Fn: func() (any, error) {
			return os.ReadFile(name)
		},
		Complete: cb,
	})
}

// WriteFile writes data to name off the loop thread with the given
// permissions, delivering (nil, error) to cb.
func (f *FS) WriteFile(ctx context.Context, name string, data []byte, perm os.FileMode, cb FileCallback) error {
	return f.pool.Submit(ctx, PoolTask{
		Fn: func() (any, error) {
			return nil, os.WriteFile(name, data, perm)
		},
		Complete: cb,
	})
}

// Stat stats name off the loop thread, delivering (os.FileInfo, error)
// to cb.
func (f *FS) Stat(ctx context.Context, name string, cb FileCallback) error {
	return f.pool.Submit(ctx, PoolTask{
		Fn: func() (any, error) {
			return os.Stat(name)
		},
		Complete: cb,
	})
}

// Remove removes name off the loop thread, delivering (nil, error) to cb.
func (f *FS) Remove(ctx context.Context, name string, cb FileCallback) error {
	return f.pool.Submit(ctx, PoolTask{
		Fn: func() (any, error) {
			return nil, os.Remove(name)
		},
		Complete: cb,
	})
}

// Mkdir creates name (and any necessary parents) off the loop thread,
// delivering (nil, error) to cb.
func (f *FS) Mkdir(ctx context.Context, name string, perm os.FileMode, cb FileCallback) error {
	return f.pool.Submit(ctx, PoolTask{
		Fn: func() (any, error) {
			return nil, os.MkdirAll(name, perm)
		},
		Complete: cb,
	})
}
