package vox

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusExporter periodically mirrors a Loop's Metrics snapshot into
// Prometheus collectors, for deployments that scrape /metrics instead of
// reading Loop.Metrics() in-process. The loop's own percentile/EMA
// computation is reused as-is; the exporter only copies the already-
// computed numbers into gauges on a timer.
type PrometheusExporter struct {
	loop *Loop

	latency *prometheus.GaugeVec
	queue   *prometheus.GaugeVec
	tps     prometheus.Gauge

	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

// NewPrometheusExporter registers loop's metrics collectors with reg
// (prometheus.DefaultRegisterer if nil) and returns an exporter ready
// for Start. loop should be built with WithMetrics(true); otherwise
// Loop.Metrics() returns a zero value and every collector reports 0.
func NewPrometheusExporter(loop *Loop, reg prometheus.Registerer) (*PrometheusExporter, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	e := &PrometheusExporter{
		loop: loop,
		latency: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "vox",
			Subsystem: "loop",
			Name:      "tick_latency_seconds",
			Help:      "Loop iteration latency, by percentile (p50/p90/p95/p99/max/mean).",
		}, []string{"quantile"}),
		queue: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "vox",
			Subsystem: "loop",
			Name:      "queue_depth",
			Help:      "Deferred-work queue depth, by queue and aggregation (current/max/avg).",
		}, []string{"queue", "stat"}),
		tps: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "vox",
			Subsystem: "loop",
			Name:      "ticks_per_second",
			Help:      "Loop iterations per second over a rolling window.",
		}),
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}

	if err := reg.Register(e.latency); err != nil {
		return nil, err
	}
	if err := reg.Register(e.queue); err != nil {
		return nil, err
	}
	if err := reg.Register(e.tps); err != nil {
		return nil, err
	}
	return e, nil
}

// Start launches a goroutine that samples loop.Metrics() every interval
// and updates the registered collectors until Stop is called.
func (e *PrometheusExporter) Start(interval time.Duration) {
	go func() {
		defer close(e.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-e.stopCh:
				return
			case <-ticker.C:
				e.sample()
			}
		}
	}()
}

func (e *PrometheusExporter) sample() {
	stats := e.loop.Metrics()

	e.latency.WithLabelValues("p50").Set(stats.Latency.P50.Seconds())
	e.latency.WithLabelValues("p90").Set(stats.Latency.P90.Seconds())
	e.latency.WithLabelValues("p95").Set(stats.Latency.P95.Seconds())
	e.latency.WithLabelValues("p99").Set(stats.Latency.P99.Seconds())
	e.latency.WithLabelValues("max").Set(stats.Latency.Max.Seconds())
	e.latency.WithLabelValues("mean").Set(stats.Latency.Mean.Seconds())

	e.queue.WithLabelValues("ingress", "current").Set(float64(stats.Queue.IngressCurrent))
	e.queue.WithLabelValues("ingress", "max").Set(float64(stats.Queue.IngressMax))
	e.queue.WithLabelValues("ingress", "avg").Set(stats.Queue.IngressAvg)
	e.queue.WithLabelValues("internal", "current").Set(float64(stats.Queue.InternalCurrent))
	e.queue.WithLabelValues("internal", "max").Set(float64(stats.Queue.InternalMax))
	e.queue.WithLabelValues("internal", "avg").Set(stats.Queue.InternalAvg)
	e.queue.WithLabelValues("microtask", "current").Set(float64(stats.Queue.MicrotaskCurrent))
	e.queue.WithLabelValues("microtask", "max").Set(float64(stats.Queue.MicrotaskMax))
	e.queue.WithLabelValues("microtask", "avg").Set(stats.Queue.MicrotaskAvg)

	e.tps.Set(stats.TPS)
}

// Stop halts the sampling goroutine and blocks until it has exited.
func (e *PrometheusExporter) Stop() {
	e.stopOnce.Do(func() { close(e.stopCh) })
	<-e.done
}
