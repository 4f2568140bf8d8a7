package main

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/garudex-labs/caracal/internal/authority/metrics"
)

func TestMetricsRecorderObserveIncrementsRequestCounter(t *testing.T) {
	reg := metrics.NewWithRegistry("authorityd-test", prometheus.NewRegistry())
	rec := &metricsRecorder{reg: reg}

	rec.observe("GET", "/health", 200, 5*time.Millisecond)

	m := &dto.Metric{}
	if err := reg.RequestsTotal.WithLabelValues("GET", "/health", "200").Write(m); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	if got := m.GetCounter().GetValue(); got != 1 {
		t.Fatalf("RequestsTotal = %v, want 1", got)
	}
}

func TestMetricsRecorderObserveToleratesNilRecorder(t *testing.T) {
	var rec *metricsRecorder
	rec.observe("GET", "/health", 200, time.Millisecond) // must not panic
}

func TestMetricsRecorderObserveToleratesNilRegistry(t *testing.T) {
	rec := &metricsRecorder{}
	rec.observe("GET", "/health", 200, time.Millisecond) // must not panic
}
