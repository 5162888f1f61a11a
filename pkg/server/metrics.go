package server

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/marmos91/dittorpc/pkg/metrics"
	"github.com/marmos91/dittorpc/pkg/wire"
)

// Metrics provides Prometheus metrics for the request coordinator.
// All methods are nil-safe: calls on a nil *Metrics are no-ops.
type Metrics struct {
	// RequestsTotal counts frames, labeled by outcome (ok, replay, broken).
	RequestsTotal *prometheus.CounterVec

	// RequestDuration observes frame handling time in seconds.
	RequestDuration prometheus.Histogram

	// CallsTotal counts dispatched calls, labeled by kind (object, session,
	// callback) and status (ok, error).
	CallsTotal *prometheus.CounterVec

	// CallDuration observes call execution time in seconds, labeled by kind.
	CallDuration *prometheus.HistogramVec

	// CallbackResults counts queued callback results, labeled by type.
	CallbackResults *prometheus.CounterVec

	// ResponseBytes observes encoded response sizes, labeled by whether
	// they were compressed.
	ResponseBytes *prometheus.HistogramVec
}

// NewMetrics creates coordinator metrics and registers them with reg. If reg
// is nil, metrics are created but not registered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dittorpc",
			Subsystem: "rpc",
			Name:      "requests_total",
			Help:      "Total number of request frames by outcome",
		}, []string{"outcome"}),
		RequestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "dittorpc",
			Subsystem: "rpc",
			Name:      "request_duration_seconds",
			Help:      "Time to handle one request frame",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 16), // 0.5ms to ~16s
		}),
		CallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dittorpc",
			Subsystem: "rpc",
			Name:      "calls_total",
			Help:      "Total number of dispatched calls",
		}, []string{"kind", "status"}),
		CallDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "dittorpc",
			Subsystem: "rpc",
			Name:      "call_duration_seconds",
			Help:      "Time to execute one call",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 18),
		}, []string{"kind"}),
		CallbackResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dittorpc",
			Subsystem: "rpc",
			Name:      "callback_results_total",
			Help:      "Callback results queued for delivery",
		}, []string{"type"}),
		ResponseBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "dittorpc",
			Subsystem: "rpc",
			Name:      "response_bytes",
			Help:      "Size of encoded response frames",
			Buckets:   prometheus.ExponentialBuckets(64, 4, 10), // 64B to 16MiB
		}, []string{"compressed"}),
	}

	m.RequestsTotal = metrics.RegisterOrReuse(reg, m.RequestsTotal)
	m.RequestDuration = metrics.RegisterOrReuse(reg, m.RequestDuration)
	m.CallsTotal = metrics.RegisterOrReuse(reg, m.CallsTotal)
	m.CallDuration = metrics.RegisterOrReuse(reg, m.CallDuration)
	m.CallbackResults = metrics.RegisterOrReuse(reg, m.CallbackResults)
	m.ResponseBytes = metrics.RegisterOrReuse(reg, m.ResponseBytes)

	return m
}

func (m *Metrics) recordRequest(outcome string, start time.Time) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(outcome).Inc()
	m.RequestDuration.Observe(time.Since(start).Seconds())
}

func (m *Metrics) recordCall(kind string, err error, d time.Duration) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.CallsTotal.WithLabelValues(kind, status).Inc()
	m.CallDuration.WithLabelValues(kind).Observe(d.Seconds())
}

func (m *Metrics) recordCallback(t wire.ResultType) {
	if m == nil {
		return
	}
	m.CallbackResults.WithLabelValues(t.String()).Inc()
}

func (m *Metrics) recordResponse(size int, compressed bool) {
	if m == nil {
		return
	}
	label := "false"
	if compressed {
		label = "true"
	}
	m.ResponseBytes.WithLabelValues(label).Observe(float64(size))
}
