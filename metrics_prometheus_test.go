package vox

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestPrometheusExporterRegistersAndSamples(t *testing.T) {
	loop, err := NewLoop(WithMetrics(true))
	if err != nil {
		t.Fatalf("NewLoop: %v", err)
	}
	defer loop.Close()

	loop.tick(true)

	reg := prometheus.NewRegistry()
	exporter, err := NewPrometheusExporter(loop, reg)
	if err != nil {
		t.Fatalf("NewPrometheusExporter: %v", err)
	}

	exporter.sample()

	metrics, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}

	var found bool
	for _, mf := range metrics {
		if mf.GetName() == "vox_loop_ticks_per_second" {
			found = true
		}
	}
	if !found {
		t.Error("expected vox_loop_ticks_per_second to be registered")
	}
}

func TestPrometheusExporterDoubleRegisterFails(t *testing.T) {
	loop, err := NewLoop(WithMetrics(true))
	if err != nil {
		t.Fatalf("NewLoop: %v", err)
	}
	defer loop.Close()

	reg := prometheus.NewRegistry()
	if _, err := NewPrometheusExporter(loop, reg); err != nil {
		t.Fatalf("first NewPrometheusExporter: %v", err)
	}
	if _, err := NewPrometheusExporter(loop, reg); err == nil {
		t.Error("expected an error registering the same collectors twice against one registry")
	}
}

func TestPrometheusExporterStartStop(t *testing.T) {
	loop, err := NewLoop(WithMetrics(true))
	if err != nil {
		t.Fatalf("NewLoop: %v", err)
	}
	defer loop.Close()

	reg := prometheus.NewRegistry()
	exporter, err := NewPrometheusExporter(loop, reg)
	if err != nil {
		t.Fatalf("NewPrometheusExporter: %v", err)
	}

	exporter.Start(5 * time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	exporter.Stop()

	metrics, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	if len(metrics) == 0 {
		t.Error("expected registered collectors to be gathered after Start/Stop")
	}
}
