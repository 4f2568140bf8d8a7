// Package metrics narrows r3e-network-service_layer's infrastructure/metrics
// HTTP/breaker/error collectors down to what the authority plane's health
// endpoint and admin surface actually need (SPEC_FULL.md SUPPLEMENTED
// FEATURES #4: breaker/DLQ/denial counts surfaced at `/health`, full
// dashboards and analytics staying out of scope).
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry holds the authority engine's process-wide Prometheus collectors.
type Registry struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	DenialsTotal    *prometheus.CounterVec
	BreakerState    *prometheus.GaugeVec
	DLQDepth        prometheus.Gauge
	MerkleBatchesSealed prometheus.Counter
}

// New registers a Registry against the default Prometheus registerer.
func New(serviceName string) *Registry {
	return NewWithRegistry(serviceName, prometheus.DefaultRegisterer)
}

// NewWithRegistry registers a Registry against reg, letting tests use a
// throwaway prometheus.NewRegistry() instead of the package-global default.
func NewWithRegistry(serviceName string, reg prometheus.Registerer) *Registry {
	r := &Registry{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authority_http_requests_total",
				Help: "Total number of admin HTTP requests.",
				ConstLabels: prometheus.Labels{"service": serviceName},
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "authority_http_request_duration_seconds",
				Help:    "Admin HTTP request duration in seconds.",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
				ConstLabels: prometheus.Labels{"service": serviceName},
			},
			[]string{"method", "path"},
		),
		DenialsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authority_denials_total",
				Help: "Total number of issue/validate denials by reason.",
				ConstLabels: prometheus.Labels{"service": serviceName},
			},
			[]string{"reason"},
		),
		BreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "authority_circuit_breaker_state",
				Help: "Circuit breaker state per dependency (0=closed, 1=half-open, 2=open).",
				ConstLabels: prometheus.Labels{"service": serviceName},
			},
			[]string{"dependency"},
		),
		DLQDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "authority_dlq_depth",
				Help: "Number of messages this process has routed to the authority dead-letter topic.",
				ConstLabels: prometheus.Labels{"service": serviceName},
			},
		),
		MerkleBatchesSealed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "authority_merkle_batches_sealed_total",
				Help: "Total number of Merkle batches sealed by the ledger materializer.",
				ConstLabels: prometheus.Labels{"service": serviceName},
			},
		),
	}

	reg.MustRegister(
		r.RequestsTotal, r.RequestDuration, r.DenialsTotal,
		r.BreakerState, r.DLQDepth, r.MerkleBatchesSealed,
	)
	return r
}

// SetBreakerState records dependency's current circuit breaker state
// (0=closed, 1=half-open, 2=open).
func (r *Registry) SetBreakerState(dependency string, state int) {
	r.BreakerState.WithLabelValues(dependency).Set(float64(state))
}

// IncDLQDepth records one more message routed to the dead-letter topic.
func (r *Registry) IncDLQDepth() {
	r.DLQDepth.Inc()
}

// IncMerkleBatchesSealed records one more Merkle batch sealed by the ledger
// materializer.
func (r *Registry) IncMerkleBatchesSealed() {
	r.MerkleBatchesSealed.Inc()
}
