package main

import (
	"strconv"
	"time"

	"github.com/garudex-labs/caracal/internal/authority/metrics"
)

// metricsRecorder adapts internal/authority/metrics.Registry's
// prometheus.CounterVec/HistogramVec to the HTTP-specific call shape
// loggingMiddleware needs, keeping net/http out of the metrics package.
type metricsRecorder struct {
	reg *metrics.Registry
}

func (m *metricsRecorder) observe(method, path string, status int, duration time.Duration) {
	if m == nil || m.reg == nil {
		return
	}
	statusStr := strconv.Itoa(status)
	m.reg.RequestsTotal.WithLabelValues(method, path, statusStr).Inc()
	m.reg.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}
