// Command voxd is a demonstration start-runtime binary for the vox
// event-loop library: it runs a multi-worker TCP echo service under
// whichever StartMode the CLI flags select, exercising Thread, Process,
// and ListenerWorkers supervision end to end.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	vox "github.com/jypaas/voxlib"
)

var (
	modeFlag        string
	workersFlag     int
	daemonFlag      bool
	respawnFlag     bool
	voxWorkerFlag   int
	listenFlag      string
	metricsAddrFlag string
)

func main() {
	os.Exit(run())
}

func run() int {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return exitCode
}

// exitCode is set by runRoot since cobra's RunE only reports err, not an
// arbitrary process exit code.
var exitCode int

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "voxd",
		Short:         "vox event-loop demonstration daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE:          runRoot,
	}

	// Unknown arguments are ignored per the CLI surface contract, so a
	// worker re-exec carrying flags voxd itself doesn't recognize still
	// starts cleanly.
	cmd.FParseErrWhitelist = cobra.FParseErrWhitelist{UnknownFlags: true}

	flags := cmd.Flags()
	flags.StringVar(&modeFlag, "mode", "thread", "start mode: thread|process|listener_workers")
	flags.IntVar(&workersFlag, "workers", 0, "worker count (default: 1)")
	flags.IntVar(&workersFlag, "worker", 0, "alias for --workers")
	flags.BoolVar(&daemonFlag, "daemon", false, "daemonize (process mode only, unix only)")
	flags.BoolVar(&respawnFlag, "respawn", false, "respawn dead workers (process mode only)")
	flags.IntVar(&voxWorkerFlag, "vox-worker", -1, "internal: dispatch directly to worker index I")
	flags.StringVar(&listenFlag, "listen", "127.0.0.1:9900", "address the echo service listens on")
	flags.StringVar(&metricsAddrFlag, "metrics-addr", "", "if set, serve Prometheus /metrics on this address")

	return cmd
}

func runRoot(cmd *cobra.Command, args []string) error {
	mode, err := vox.ParseStartMode(modeFlag)
	if err != nil {
		return err
	}

	workers := workersFlag
	if workers <= 0 {
		workers = 1
	}

	addr, err := vox.ParseAddr(listenFlag)
	if err != nil {
		return fmt.Errorf("parsing --listen %q: %w", listenFlag, err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	opts := vox.StartOptions{
		Mode:           mode,
		Workers:        workers,
		Daemon:         daemonFlag,
		Respawn:        respawnFlag,
		VoxWorkerIndex: voxWorkerFlag,
		ListenAddr:     addr,
		ConnHandler:    echoConn,
		WorkerFn: func(ctx context.Context, workerIndex int) int {
			return runEchoWorker(ctx, workerIndex, addr)
		},
		OnLoopReady: func(loop *vox.Loop) {
			if stop := serveMetrics(metricsAddrFlag, loop); stop != nil {
				go func() { <-ctx.Done(); stop() }()
			}
		},
	}

	exitCode = vox.Start(ctx, opts)
	return nil
}

// runEchoWorker builds a Loop, TCP listener, and thread pool for one
// worker and runs an echo service until ctx is cancelled. Every worker
// binds with SO_REUSEPORT so Thread/Process mode can share one listen
// address without a ListenerWorkers-style single accept point.
func runEchoWorker(ctx context.Context, workerIndex int, addr vox.Addr) int {
	loop, err := vox.NewLoop(vox.WithMetrics(true))
	if err != nil {
		fmt.Fprintf(os.Stderr, "worker %d: new loop: %v\n", workerIndex, err)
		return 1
	}
	defer func() { _ = loop.Close() }()

	pool := vox.NewThreadPool(loop)
	defer pool.ForceShutdown()

	listener, err := vox.NewTCPHandle(loop)
	if err != nil {
		fmt.Fprintf(os.Stderr, "worker %d: new tcp handle: %v\n", workerIndex, err)
		return 1
	}

	// Only worker 0 serves /metrics: in Thread mode the workers share a
	// process and port, and in Process mode each re-exec'd child would
	// otherwise race to bind the same metrics address.
	if workerIndex == 0 {
		if stop := serveMetrics(metricsAddrFlag, loop); stop != nil {
			defer stop()
		}
	}

	listenOpts := []vox.SocketOption{vox.WithReuseAddr(), vox.WithReusePort()}

	if err := listener.Listen(addr, 128, func(conn *vox.TCPHandle, err error) {
		if err != nil {
			return
		}
		_ = pool.Submit(ctx, vox.PoolTask{
			Fn: func() (any, error) {
				echoConn(ctx, conn)
				return nil, nil
			},
		})
	}, listenOpts...); err != nil {
		fmt.Fprintf(os.Stderr, "worker %d: listen: %v\n", workerIndex, err)
		return 1
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = listener.Close(nil)
		_ = loop.Shutdown(shutdownCtx)
	}()

	if err := loop.Run(ctx, vox.ModeDefault); err != nil && err != context.Canceled {
		return 1
	}
	return 0
}

// echoConn wires ReadStart/Write together so every received chunk is
// written straight back to its sender.
func echoConn(ctx context.Context, conn *vox.TCPHandle) {
	_ = conn.ReadStart(nil, func(buf []byte, n int, err error) {
		if err != nil {
			_ = conn.Close(nil)
			return
		}
		if n == 0 {
			return
		}
		_ = conn.Write(buf[:n], nil)
	})
}

// serveMetrics, when addr is non-empty, registers a PrometheusExporter
// for loop and starts an HTTP server exposing it at /metrics. It
// returns a stop function that shuts the server and exporter down, or
// nil if addr is empty.
func serveMetrics(addr string, loop *vox.Loop) func() {
	if addr == "" {
		return nil
	}

	exporter, err := vox.NewPrometheusExporter(loop, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "metrics: register: %v\n", err)
		return nil
	}
	exporter.Start(time.Second)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Fprintf(os.Stderr, "metrics: serve %s: %v\n", addr, err)
		}
	}()

	return func() {
		exporter.Stop()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}
}
