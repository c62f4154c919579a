package vox

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// StartMode selects how a multi-worker runtime distributes a WorkerFn
// across CPUs, per spec.md's three supervision strategies.
type StartMode int

const (
	// ThreadMode runs every worker as a goroutine inside this process.
	// Go has no notion of a kernel thread distinct from a goroutine, so
	// this is the natural mapping of spec.md's "Thread" mode: cheap,
	// shares the process's file descriptors and memory, no isolation
	// between worker crashes.
	ThreadMode StartMode = iota
	// ProcessMode re-execs the current binary once per worker with
	// --vox-worker=i appended, so each worker runs in its own OS
	// process. Go cannot safely fork without exec (the runtime's own
	// goroutines and locks would be left in an undefined state in the
	// child), so this replaces spec.md's raw fork with re-exec on every
	// platform, which is also spec.md's own documented Windows fallback.
	ProcessMode
	// ListenerWorkersMode runs one Loop with a listening TCPHandle on
	// this goroutine and dispatches accepted connections to a
	// ThreadPool, for platforms or deployments where SO_REUSEPORT
	// listener sharding across processes is unavailable or unwanted.
	ListenerWorkersMode
)

// String implements fmt.Stringer.
func (m StartMode) String() string {
	switch m {
	case ThreadMode:
		return "thread"
	case ProcessMode:
		return "process"
	case ListenerWorkersMode:
		return "listener_workers"
	default:
		return "unknown"
	}
}

// ParseStartMode parses the --mode flag value.
func ParseStartMode(s string) (StartMode, error) {
	switch strings.ToLower(s) {
	case "thread":
		return ThreadMode, nil
	case "process":
		return ProcessMode, nil
	case "listener_workers", "listener-workers", "listenerworkers":
		return ListenerWorkersMode, nil
	default:
		return 0, &TypeError{Message: fmt.Sprintf("vox: unrecognized start mode %q", s)}
	}
}

// WorkerFn is the unit of work a start runtime fans out across workers.
// ctx is cancelled when the runtime begins shutting the worker down;
// workerIndex is zero-based and mode-aware (goroutine-local for
// ThreadMode, process-global for a re-exec'd ProcessMode child). The
// returned int is the worker's exit code.
type WorkerFn func(ctx context.Context, workerIndex int) int

// ConnHandler processes one accepted connection in ListenerWorkersMode,
// running on a ThreadPool worker goroutine rather than the loop thread.
type ConnHandler func(ctx context.Context, conn *TCPHandle)

// StartOptions configures a multi-worker start runtime.
type StartOptions struct {
	Mode     StartMode
	Workers  int
	Daemon   bool
	Respawn  bool
	WorkerFn WorkerFn

	// ListenAddr and ConnHandler are used only by ListenerWorkersMode.
	ListenAddr  Addr
	ConnHandler ConnHandler

	// VoxWorkerIndex, when >= 0, means this process was re-exec'd as a
	// single ProcessMode worker: Start dispatches directly to WorkerFn
	// for this index instead of spawning children.
	VoxWorkerIndex int

	// OnLoopReady, if set, is called with the Loop ListenerWorkersMode
	// builds internally, before it starts running, so a caller can wire
	// optional instrumentation (e.g. a Prometheus exporter) against it.
	// Unused by ThreadMode/ProcessMode, whose workers build their own
	// Loop directly in WorkerFn.
	OnLoopReady func(*Loop)
}

// Start runs opts.WorkerFn across opts.Workers workers using opts.Mode,
// and returns the aggregate exit code: the first nonzero worker return
// if any, else 0, per spec.md §6's CLI surface contract.
func Start(ctx context.Context, opts StartOptions) int {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}

	if opts.VoxWorkerIndex >= 0 {
		return opts.WorkerFn(ctx, opts.VoxWorkerIndex)
	}

	switch opts.Mode {
	case ProcessMode:
		return startProcessMode(ctx, opts)
	case ListenerWorkersMode:
		return startListenerWorkers(ctx, opts)
	default:
		return startThreadMode(ctx, opts)
	}
}

// startThreadMode runs opts.Workers goroutines, each a worker, and
// returns once all have exited.
func startThreadMode(ctx context.Context, opts StartOptions) int {
	var wg sync.WaitGroup
	codes := make([]int, opts.Workers)
	for i := 0; i < opts.Workers; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			codes[idx] = opts.WorkerFn(ctx, idx)
		}(i)
	}
	wg.Wait()
	return firstNonzero(codes)
}

func firstNonzero(codes []int) int {
	for _, c := range codes {
		if c != 0 {
			return c
		}
	}
	return 0
}

// workerProc tracks one re-exec'd ProcessMode child.
type workerProc struct {
	index int
	cmd   *exec.Cmd
}

// startProcessMode re-execs os.Args[0] once per worker with
// --vox-worker=i, waits for all children, and (if Respawn is set) keeps
// the dead slot re-exec'd until the runtime is interrupted. Daemonizing
// and respawn supervision are handled in start_unix.go/start_windows.go
// since both rely on OS-specific facilities (SIGCHLD vs polling Wait)
// with no portable equivalent.
func startProcessMode(ctx context.Context, opts StartOptions) int {
	if opts.Daemon {
		if err := daemonize(); err != nil {
			return 1
		}
	}

	procs := make([]*workerProc, 0, opts.Workers)
	for i := 0; i < opts.Workers; i++ {
		p, err := spawnWorkerProcess(i)
		if err != nil {
			return 1
		}
		procs = append(procs, p)
	}

	if opts.Respawn {
		return superviseWithRespawn(ctx, procs)
	}

	return waitAllWorkers(procs)
}

// spawnWorkerProcess re-execs the current binary with --vox-worker=idx
// appended to argv, inheriting stdio.
func spawnWorkerProcess(idx int) (*workerProc, error) {
	args := append(append([]string{}, os.Args[1:]...), "--vox-worker="+strconv.Itoa(idx))
	cmd := exec.Command(os.Args[0], args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Stdin = os.Stdin
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return &workerProc{index: idx, cmd: cmd}, nil
}

// waitAllWorkers blocks until every worker process has exited, returning
// the first nonzero exit code observed.
func waitAllWorkers(procs []*workerProc) int {
	codes := make([]int, len(procs))
	var wg sync.WaitGroup
	for i, p := range procs {
		wg.Add(1)
		go func(i int, p *workerProc) {
			defer wg.Done()
			codes[i] = waitWorkerExitCode(p.cmd)
		}(i, p)
	}
	wg.Wait()
	return firstNonzero(codes)
}

// WorkerHealth is a point-in-time CPU/memory sample for one worker
// process, which the respawn supervisor logs at debug level for each
// live worker; the samples do not affect respawn decisions.
type WorkerHealth struct {
	CPUPercent float64
	RSSBytes   uint64
}

// SampleWorkerHealth reads pid's CPU percent (since its last sample, 0 on
// the first call) and resident set size via gopsutil, which works
// uniformly across the platforms this runtime targets without shelling
// out to ps/tasklist.
func SampleWorkerHealth(pid int) (WorkerHealth, error) {
	proc, err := process.NewProcess(int32(pid))
	if err != nil {
		return WorkerHealth{}, err
	}
	cpuPct, err := proc.CPUPercent()
	if err != nil {
		return WorkerHealth{}, err
	}
	mem, err := proc.MemoryInfo()
	if err != nil {
		return WorkerHealth{}, err
	}
	return WorkerHealth{CPUPercent: cpuPct, RSSBytes: mem.RSS}, nil
}

func waitWorkerExitCode(cmd *exec.Cmd) int {
	err := cmd.Wait()
	if err == nil {
		return 0
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		return exitErr.ExitCode()
	}
	return 1
}

// startListenerWorkers runs a single Loop with a listening TCPHandle on
// this goroutine and a ThreadPool sized to opts.Workers; each accepted
// connection is handed to opts.ConnHandler on a pool worker, used where
// SO_REUSEPORT listener sharding across processes is unavailable.
func startListenerWorkers(ctx context.Context, opts StartOptions) int {
	loop, err := NewLoop(WithMetrics(true))
	if err != nil {
		return 1
	}
	defer func() { _ = loop.Close() }()

	pool := NewThreadPool(loop, WithPoolWorkers(opts.Workers))
	defer pool.ForceShutdown()

	listener, err := NewTCPHandle(loop)
	if err != nil {
		return 1
	}

	if opts.OnLoopReady != nil {
		opts.OnLoopReady(loop)
	}

	handler := opts.ConnHandler
	if err := listener.Listen(opts.ListenAddr, 128, func(conn *TCPHandle, err error) {
		if err != nil {
			LogError(getGlobalLogger(), "start", "accept failed", err, nil)
			return
		}
		if handler == nil {
			_ = conn.Close(nil)
			return
		}
		_ = pool.Submit(ctx, PoolTask{
			Fn: func() (any, error) {
				handler(ctx, conn)
				return nil, nil
			},
		})
	}); err != nil {
		return 1
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = listener.Close(nil)
		_ = loop.Shutdown(shutdownCtx)
	}()

	code := 0
	if err := loop.Run(ctx, ModeDefault); err != nil && err != context.Canceled {
		code = 1
	}
	return code
}
