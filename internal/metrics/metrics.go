package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for the service.
type Metrics struct {
	LedgerOps      *prometheus.CounterVec
	LedgerDuration *prometheus.HistogramVec
	HTTPRequests   *prometheus.CounterVec
	HTTPDuration   *prometheus.HistogramVec
}

// New registers and returns the service collectors.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		LedgerOps: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_operations_total",
			Help: "Lending ledger operations by operation and outcome.",
		}, []string{"op", "outcome"}),
		LedgerDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ledger_operation_duration_seconds",
			Help:    "Lending ledger operation latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"}),
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		HTTPDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
	}
}

// ObserveLedgerOp records one ledger operation. Safe on a nil receiver so the
// ledger can run without metrics in tests.
func (m *Metrics) ObserveLedgerOp(op, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.LedgerOps.WithLabelValues(op, outcome).Inc()
	m.LedgerDuration.WithLabelValues(op).Observe(elapsed.Seconds())
}
