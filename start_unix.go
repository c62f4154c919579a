//go:build !windows

package vox

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

// superviseWithRespawn waits on SIGCHLD and re-forks (re-execs) any
// worker slot that exits unexpectedly, until ctx is cancelled or the
// process receives SIGINT/SIGTERM, at which point every worker is sent
// SIGTERM and reaped. Matches spec.md §9's resolution of the respawn
// open question: blocking signal delivery, not polling.
func superviseWithRespawn(ctx context.Context, procs []*workerProc) int {
	var mu sync.Mutex
	byPid := make(map[int]*workerProc, len(procs))
	for _, p := range procs {
		byPid[p.cmd.Process.Pid] = p
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGCHLD, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
			return
		}
		sigCh <- syscall.SIGTERM
	}()
	defer close(done)

	go watchWorkerHealth(done, &mu, byPid)

	lastCode := 0
	for {
		sig := <-sigCh
		switch sig {
		case syscall.SIGINT, syscall.SIGTERM:
			mu.Lock()
			targets := make([]*workerProc, 0, len(byPid))
			for _, p := range byPid {
				targets = append(targets, p)
			}
			mu.Unlock()
			for _, p := range targets {
				_ = p.cmd.Process.Signal(syscall.SIGTERM)
			}
			for _, p := range targets {
				if c := waitWorkerExitCode(p.cmd); c != 0 {
					lastCode = c
				}
			}
			return lastCode
		case syscall.SIGCHLD:
			reapExited(&mu, byPid)
		}
	}
}

// reapExited collects any terminated children via WNOHANG and re-execs a
// fresh worker process in each dead slot.
func reapExited(mu *sync.Mutex, byPid map[int]*workerProc) {
	for {
		var ws syscall.WaitStatus
		pid, err := syscall.Wait4(-1, &ws, syscall.WNOHANG, nil)
		if err != nil || pid <= 0 {
			return
		}
		mu.Lock()
		dead, ok := byPid[pid]
		if ok {
			delete(byPid, pid)
		}
		mu.Unlock()
		if !ok {
			continue
		}

		np, err := spawnWorkerProcess(dead.index)
		if err != nil {
			continue
		}
		LogWorkerRespawned(dead.index, np.cmd.Process.Pid, fmt.Errorf("worker exited: signaled=%v exitStatus=%d", ws.Signaled(), ws.ExitStatus()))
		mu.Lock()
		byPid[np.cmd.Process.Pid] = np
		mu.Unlock()
	}
}

// watchWorkerHealth periodically samples every live worker's CPU/RSS via
// gopsutil and logs it, giving an operator visibility into a worker's
// resource use before it crashes or gets stuck.
func watchWorkerHealth(done <-chan struct{}, mu *sync.Mutex, byPid map[int]*workerProc) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			mu.Lock()
			pids := make(map[int]int, len(byPid))
			for pid, p := range byPid {
				pids[pid] = p.index
			}
			mu.Unlock()
			for pid, idx := range pids {
				health, err := SampleWorkerHealth(pid)
				if err != nil {
					continue
				}
				LogDebug(getGlobalLogger(), "start", "worker health", map[string]interface{}{
					"workerIndex": idx,
					"cpuPercent":  health.CPUPercent,
					"rssBytes":    health.RSSBytes,
				})
			}
		}
	}
}

// daemonize re-execs the current process detached from its controlling
// terminal (new session, stdio redirected to /dev/null) when not already
// running as the daemonized child, signalled by the VOX_DAEMONIZED
// environment variable. Go cannot portably double-fork without exec, so
// this uses the same re-exec strategy as ProcessMode's workers.
func daemonize() error {
	if os.Getenv("VOX_DAEMONIZED") == "1" {
		return nil
	}
	devNull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		return err
	}
	defer devNull.Close()

	cmd := exec.Command(os.Args[0], os.Args[1:]...)
	cmd.Stdin = devNull
	cmd.Stdout = devNull
	cmd.Stderr = devNull
	cmd.Env = append(os.Environ(), "VOX_DAEMONIZED=1")
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := cmd.Start(); err != nil {
		return err
	}
	os.Exit(0)
	return nil
}
