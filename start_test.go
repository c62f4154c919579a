package vox

import (
	"context"
	"testing"
)

func TestStartModeStringAndParse(t *testing.T) {
	cases := []struct {
		mode StartMode
		str  string
	}{
		{ThreadMode, "thread"},
		{ProcessMode, "process"},
		{ListenerWorkersMode, "listener_workers"},
	}
	for _, c := range cases {
		if got := c.mode.String(); got != c.str {
			t.Errorf("%v.String() = %q, want %q", c.mode, got, c.str)
		}
		parsed, err := ParseStartMode(c.str)
		if err != nil {
			t.Fatalf("ParseStartMode(%q): %v", c.str, err)
		}
		if parsed != c.mode {
			t.Errorf("ParseStartMode(%q) = %v, want %v", c.str, parsed, c.mode)
		}
	}

	if _, err := ParseStartMode("bogus"); err == nil {
		t.Error("expected an error for an unrecognized mode")
	}

	if m, err := ParseStartMode("Listener-Workers"); err != nil || m != ListenerWorkersMode {
		t.Errorf("ParseStartMode should be case/separator insensitive, got %v, %v", m, err)
	}
}

func TestFirstNonzero(t *testing.T) {
	if got := firstNonzero([]int{0, 0, 0}); got != 0 {
		t.Errorf("firstNonzero(all zero) = %d, want 0", got)
	}
	if got := firstNonzero([]int{0, 3, 5}); got != 3 {
		t.Errorf("firstNonzero = %d, want 3", got)
	}
	if got := firstNonzero(nil); got != 0 {
		t.Errorf("firstNonzero(nil) = %d, want 0", got)
	}
}

func TestStartThreadModeRunsEveryWorkerAndAggregatesExitCode(t *testing.T) {
	const workers = 4
	var ran [workers]bool

	code := Start(context.Background(), StartOptions{
		Mode:    ThreadMode,
		Workers: workers,
		WorkerFn: func(ctx context.Context, idx int) int {
			ran[idx] = true
			if idx == 2 {
				return 7
			}
			return 0
		},
	})

	if code != 7 {
		t.Errorf("Start() = %d, want 7 (worker 2's exit code)", code)
	}
	for i, got := range ran {
		if !got {
			t.Errorf("worker %d never ran", i)
		}
	}
}

func TestStartDispatchesDirectlyWhenVoxWorkerIndexSet(t *testing.T) {
	called := false
	code := Start(context.Background(), StartOptions{
		Mode:           ProcessMode,
		VoxWorkerIndex: 3,
		WorkerFn: func(ctx context.Context, idx int) int {
			called = true
			if idx != 3 {
				t.Errorf("workerIndex = %d, want 3", idx)
			}
			return 0
		},
	})
	if !called {
		t.Error("WorkerFn was not invoked despite VoxWorkerIndex >= 0")
	}
	if code != 0 {
		t.Errorf("code = %d, want 0", code)
	}
}

func TestStartDefaultsWorkersToOne(t *testing.T) {
	count := 0
	Start(context.Background(), StartOptions{
		Mode: ThreadMode,
		WorkerFn: func(ctx context.Context, idx int) int {
			count++
			return 0
		},
	})
	if count != 1 {
		t.Errorf("ran %d workers, want 1 (default for Workers <= 0)", count)
	}
}

func TestSampleWorkerHealthRejectsInvalidPID(t *testing.T) {
	if _, err := SampleWorkerHealth(-1); err == nil {
		t.Error("expected an error sampling health for an invalid pid")
	}
}
