package vox

import (
	"testing"
	"time"
)

func TestTimerOneShotFiresOnceAndDeactivates(t *testing.T) {
	loop, err := NewLoop()
	if err != nil {
		t.Fatalf("NewLoop: %v", err)
	}
	defer loop.Close()

	timer := NewTimer(loop)
	calls := 0
	if err := timer.Start(0, 0, func() { calls++ }); err != nil {
		t.Fatalf("Start: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for calls == 0 && time.Now().Before(deadline) {
		loop.tick(true)
		time.Sleep(time.Millisecond)
	}

	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
	if timer.IsActive() {
		t.Error("one-shot timer should no longer be active after firing")
	}
}

func TestTimerPeriodicRefiresUntilStopped(t *testing.T) {
	loop, err := NewLoop()
	if err != nil {
		t.Fatalf("NewLoop: %v", err)
	}
	defer loop.Close()

	timer := NewTimer(loop)
	calls := 0
	if err := timer.Start(0, time.Millisecond, func() { calls++ }); err != nil {
		t.Fatalf("Start: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for calls < 3 && time.Now().Before(deadline) {
		loop.tick(true)
		time.Sleep(time.Millisecond)
	}
	if calls < 3 {
		t.Fatalf("periodic timer only fired %d times, want >= 3", calls)
	}

	timer.Stop()
	if timer.IsActive() {
		t.Error("timer should be inactive immediately after Stop")
	}

	stoppedAt := calls
	for i := 0; i < 20; i++ {
		loop.tick(true)
		time.Sleep(time.Millisecond)
	}
	if calls != stoppedAt {
		t.Errorf("timer fired %d more times after Stop, want 0", calls-stoppedAt)
	}
}

func TestTimerCascadeStartsSecondTimerFromFirst(t *testing.T) {
	loop, err := NewLoop()
	if err != nil {
		t.Fatalf("NewLoop: %v", err)
	}
	defer loop.Close()

	timerA := NewTimer(loop)
	timerB := NewTimer(loop)

	var aFired, bFired bool
	done := make(chan struct{})

	if err := timerA.Start(5*time.Millisecond, 0, func() {
		aFired = true
		_ = timerB.Start(5*time.Millisecond, 0, func() {
			bFired = true
			close(done)
		})
	}); err != nil {
		t.Fatalf("Start A: %v", err)
	}

	tickUntil(t, loop, done, 2*time.Second)

	if !aFired || !bFired {
		t.Errorf("aFired=%v bFired=%v, want both true", aFired, bFired)
	}
}

func TestTimerStopDuringOwnCallbackPreventsRefire(t *testing.T) {
	loop, err := NewLoop()
	if err != nil {
		t.Fatalf("NewLoop: %v", err)
	}
	defer loop.Close()

	timer := NewTimer(loop)
	calls := 0
	if err := timer.Start(0, time.Millisecond, func() {
		calls++
		timer.Stop()
	}); err != nil {
		t.Fatalf("Start: %v", err)
	}

	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) {
		loop.tick(true)
		time.Sleep(time.Millisecond)
	}

	if calls != 1 {
		t.Errorf("calls = %d, want exactly 1 (self-stop must prevent re-arm)", calls)
	}
}

func TestTimerRestartInvalidatesPriorArm(t *testing.T) {
	loop, err := NewLoop()
	if err != nil {
		t.Fatalf("NewLoop: %v", err)
	}
	defer loop.Close()

	timer := NewTimer(loop)
	var firedWith string
	if err := timer.Start(time.Hour, 0, func() { firedWith = "first" }); err != nil {
		t.Fatalf("Start first: %v", err)
	}
	done := make(chan struct{})
	if err := timer.Start(0, 0, func() {
		firedWith = "second"
		close(done)
	}); err != nil {
		t.Fatalf("Start second: %v", err)
	}

	tickUntil(t, loop, done, 2*time.Second)

	if firedWith != "second" {
		t.Errorf("firedWith = %q, want %q", firedWith, "second")
	}
}
