package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// GatewayMetrics captures the settlement gateway's request-level activity:
// authorization outcomes, settlement branch selection and payment latency.
type GatewayMetrics struct {
	requests    *prometheus.CounterVec
	authErrors  *prometheus.CounterVec
	settlements *prometheus.CounterVec
	latency     *prometheus.HistogramVec
}

var (
	gatewayMetricsOnce sync.Once
	gatewayRegistry    *GatewayMetrics
)

// Gateway returns the lazily-initialised singleton metrics registry used by
// the settlement gateway handlers.
func Gateway() *GatewayMetrics {
	gatewayMetricsOnce.Do(func() {
		gatewayRegistry = &GatewayMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "lendgate",
				Subsystem: "gateway",
				Name:      "requests_total",
				Help:      "Total gateway operations segmented by operation and outcome.",
			}, []string{"operation", "outcome"}),
			authErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "lendgate",
				Subsystem: "gateway",
				Name:      "auth_errors_total",
				Help:      "Count of rejected authorization proofs segmented by operation.",
			}, []string{"operation"}),
			settlements: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "lendgate",
				Subsystem: "settlement",
				Name:      "payments_total",
				Help:      "Count of settled payments segmented by branch taken.",
			}, []string{"branch"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "lendgate",
				Subsystem: "gateway",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for gateway operations.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"operation"}),
		}
		prometheus.MustRegister(
			gatewayRegistry.requests,
			gatewayRegistry.authErrors,
			gatewayRegistry.settlements,
			gatewayRegistry.latency,
		)
	})
	return gatewayRegistry
}

// Observe records one gateway operation with its outcome and duration.
func (m *GatewayMetrics) Observe(operation string, err error, duration time.Duration) {
	if m == nil {
		return
	}
	if operation == "" {
		operation = "unknown"
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.requests.WithLabelValues(operation, outcome).Inc()
	m.latency.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordAuthError counts a rejected authorization proof for the operation.
func (m *GatewayMetrics) RecordAuthError(operation string) {
	if m == nil {
		return
	}
	if operation == "" {
		operation = "unknown"
	}
	m.authErrors.WithLabelValues(operation).Inc()
}

// RecordSettlement counts a settled payment for the branch taken.
func (m *GatewayMetrics) RecordSettlement(branch string) {
	if m == nil {
		return
	}
	if branch == "" {
		branch = "unknown"
	}
	m.settlements.WithLabelValues(branch).Inc()
}
