package session

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/marmos91/dittorpc/pkg/metrics"
)

// Metrics provides Prometheus metrics for session lifecycle tracking.
// All methods are nil-safe: calls on a nil *Metrics are no-ops.
type Metrics struct {
	// CreatedTotal counts sessions created, labeled by kind (master, sub).
	CreatedTotal *prometheus.CounterVec

	// DestroyedTotal counts sessions destroyed, labeled by reason.
	DestroyedTotal *prometheus.CounterVec

	// FailedTotal counts session creations rejected by authentication.
	FailedTotal prometheus.Counter

	// ActiveGauge tracks the current number of registered sessions.
	ActiveGauge prometheus.Gauge

	// DurationHistogram observes session lifetimes in seconds.
	DurationHistogram prometheus.Histogram
}

// NewMetrics creates session metrics and registers them with reg. If reg is
// nil, metrics are created but not registered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CreatedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dittorpc",
			Subsystem: "sessions",
			Name:      "created_total",
			Help:      "Total number of sessions created",
		}, []string{"kind"}),
		DestroyedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dittorpc",
			Subsystem: "sessions",
			Name:      "destroyed_total",
			Help:      "Total number of sessions destroyed",
		}, []string{"reason"}),
		FailedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dittorpc",
			Subsystem: "sessions",
			Name:      "failed_total",
			Help:      "Total number of rejected session creations",
		}),
		ActiveGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "dittorpc",
			Subsystem: "sessions",
			Name:      "active",
			Help:      "Current number of registered sessions",
		}),
		DurationHistogram: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "dittorpc",
			Subsystem: "sessions",
			Name:      "duration_seconds",
			Help:      "Lifetime of sessions in seconds",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 20), // 1s to ~145 hours
		}),
	}

	m.CreatedTotal = metrics.RegisterOrReuse(reg, m.CreatedTotal)
	m.DestroyedTotal = metrics.RegisterOrReuse(reg, m.DestroyedTotal)
	m.FailedTotal = metrics.RegisterOrReuse(reg, m.FailedTotal)
	m.ActiveGauge = metrics.RegisterOrReuse(reg, m.ActiveGauge)
	m.DurationHistogram = metrics.RegisterOrReuse(reg, m.DurationHistogram)

	return m
}

func (m *Metrics) recordCreated(sub bool) {
	if m == nil {
		return
	}
	kind := "master"
	if sub {
		kind = "sub"
	}
	m.CreatedTotal.WithLabelValues(kind).Inc()
	m.ActiveGauge.Inc()
}

func (m *Metrics) recordDestroyed(reason string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.DestroyedTotal.WithLabelValues(reason).Inc()
	m.ActiveGauge.Dec()
	m.DurationHistogram.Observe(durationSeconds)
}

func (m *Metrics) recordFailed() {
	if m == nil {
		return
	}
	m.FailedTotal.Inc()
}
