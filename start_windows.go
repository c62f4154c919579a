//go:build windows

package vox

import (
	"context"
	"errors"
	"sync"
	"time"
)

// workerExit carries one worker's termination back to the supervisor
// loop; exitWatcher below is the only writer per worker slot.
type workerExit struct {
	idx  int
	code int
}

// exitWatcher calls cmd.Wait in the background and reports the result,
// the Windows-compatible replacement for blocking on SIGCHLD.
func exitWatcher(p *workerProc, out chan<- workerExit) {
	code := waitWorkerExitCode(p.cmd)
	out <- workerExit{idx: p.idx(), code: code}
}

func (p *workerProc) idx() int { return p.index }

// superviseWithRespawn waits for each worker's exit via exitWatcher
// goroutines since Windows has no SIGCHLD, re-exec'ing a fresh process
// in the dead slot until ctx is cancelled, at which point every live
// worker is killed and reaped.
func superviseWithRespawn(ctx context.Context, procs []*workerProc) int {
	var mu sync.Mutex
	live := make(map[int]*workerProc, len(procs))
	exits := make(chan workerExit, len(procs))
	for _, p := range procs {
		live[p.index] = p
		go exitWatcher(p, exits)
	}

	healthDone := make(chan struct{})
	go watchWorkerHealth(healthDone, &mu, live)
	defer close(healthDone)

	lastCode := 0
	for {
		select {
		case <-ctx.Done():
			mu.Lock()
			targets := make([]*workerProc, 0, len(live))
			for _, p := range live {
				targets = append(targets, p)
			}
			mu.Unlock()
			for _, p := range targets {
				_ = p.cmd.Process.Kill()
			}
			for range targets {
				e := <-exits
				if e.code != 0 {
					lastCode = e.code
				}
			}
			return lastCode
		case e := <-exits:
			if e.code != 0 {
				lastCode = e.code
			}
			mu.Lock()
			delete(live, e.idx)
			mu.Unlock()
			np, err := spawnWorkerProcess(e.idx)
			if err != nil {
				continue
			}
			LogWorkerRespawned(e.idx, 0, errors.New("worker exited"))
			mu.Lock()
			live[e.idx] = np
			mu.Unlock()
			go exitWatcher(np, exits)
		}
	}
}

// watchWorkerHealth periodically samples every live worker's CPU/RSS via
// gopsutil and logs it, mirroring start_unix.go's health reporting since
// Windows has no SIGCHLD hook to piggyback on.
func watchWorkerHealth(done <-chan struct{}, mu *sync.Mutex, live map[int]*workerProc) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			mu.Lock()
			pids := make(map[int]int, len(live))
			for idx, p := range live {
				pids[idx] = p.cmd.Process.Pid
			}
			mu.Unlock()
			for idx, pid := range pids {
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

// daemonize is not supported on Windows: there is no setsid/controlling-
// terminal detachment model, and Windows services follow a different
// registration flow entirely (outside this scope). Use a Windows service
// wrapper (e.g. golang.org/x/sys/windows/svc) at a higher layer instead.
func daemonize() error {
	return errors.New("vox: --daemon is not supported on windows")
}
