package vox

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

const fsioTestTimeout = 5 * time.Second

func newTestFS(t *testing.T) (*FS, *Loop) {
	t.Helper()
	loop, err := NewLoop()
	if err != nil {
		t.Fatalf("NewLoop: %v", err)
	}
	t.Cleanup(func() { loop.Close() })

	pool := NewThreadPool(loop, WithPoolWorkers(1))
	t.Cleanup(pool.ForceShutdown)

	return NewFS(pool), loop
}

func TestFSWriteReadRoundTrip(t *testing.T) {
	fs, loop := newTestFS(t)
	path := filepath.Join(t.TempDir(), "vox-fsio-test.txt")

	writeDone := make(chan struct{})
	var writeErr error
	if err := fs.WriteFile(context.Background(), path, []byte("hello vox"), 0o644, func(result any, err error) {
		writeErr = err
		close(writeDone)
	}); err != nil {
		t.Fatalf("WriteFile submit: %v", err)
	}
	tickUntil(t, loop, writeDone, fsioTestTimeout)
	if writeErr != nil {
		t.Fatalf("WriteFile: %v", writeErr)
	}

	readDone := make(chan struct{})
	var readErr error
	var contents []byte
	if err := fs.ReadFile(context.Background(), path, func(result any, err error) {
		readErr = err
		if result != nil {
			contents = result.([]byte)
		}
		close(readDone)
	}); err != nil {
		t.Fatalf("ReadFile submit: %v", err)
	}
	tickUntil(t, loop, readDone, fsioTestTimeout)
	if readErr != nil {
		t.Fatalf("ReadFile: %v", readErr)
	}
	if string(contents) != "hello vox" {
		t.Errorf("contents = %q, want %q", contents, "hello vox")
	}
}

func TestFSStatAndRemove(t *testing.T) {
	fs, loop := newTestFS(t)
	path := filepath.Join(t.TempDir(), "vox-fsio-stat.txt")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("os.WriteFile: %v", err)
	}

	statDone := make(chan struct{})
	var statErr error
	if err := fs.Stat(context.Background(), path, func(result any, err error) {
		statErr = err
		close(statDone)
	}); err != nil {
		t.Fatalf("Stat submit: %v", err)
	}
	tickUntil(t, loop, statDone, fsioTestTimeout)
	if statErr != nil {
		t.Fatalf("Stat: %v", statErr)
	}

	removeDone := make(chan struct{})
	var removeErr error
	if err := fs.Remove(context.Background(), path, func(result any, err error) {
		removeErr = err
		close(removeDone)
	}); err != nil {
		t.Fatalf("Remove submit: %v", err)
	}
	tickUntil(t, loop, removeDone, fsioTestTimeout)
	if removeErr != nil {
		t.Fatalf("Remove: %v", removeErr)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("expected file to be removed, stat err = %v", err)
	}
}

func TestFSMkdirCreatesNestedDirs(t *testing.T) {
	fs, loop := newTestFS(t)
	path := filepath.Join(t.TempDir(), "a", "b", "c")

	mkdirDone := make(chan struct{})
	var mkdirErr error
	if err := fs.Mkdir(context.Background(), path, 0o755, func(result any, err error) {
		mkdirErr = err
		close(mkdirDone)
	}); err != nil {
		t.Fatalf("Mkdir submit: %v", err)
	}
	tickUntil(t, loop, mkdirDone, fsioTestTimeout)
	if mkdirErr != nil {
		t.Fatalf("Mkdir: %v", mkdirErr)
	}

	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		t.Errorf("expected %s to exist as a directory, err = %v", path, err)
	}
}
