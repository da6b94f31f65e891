// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"multipair-engine/internal/domain"
)

// Metrics holds all Prometheus metrics for the engine.
// All Record methods are safe on a nil *Metrics.
type Metrics struct {
	// Decision metrics
	DecisionsTotal    *prometheus.CounterVec
	DecisionLatency   prometheus.Histogram
	PositionSize      prometheus.Histogram
	AdaptiveTarget    *prometheus.HistogramVec
	FusedConfidence   prometheus.Histogram
	PacingWaitSeconds prometheus.Histogram

	// Budget metrics
	BudgetTotal     prometheus.Gauge
	BudgetUsed      prometheus.Gauge
	BudgetAvailable prometheus.Gauge
	BudgetReleased  prometheus.Gauge
	PositionsOpen   prometheus.Gauge

	// Invariant metrics
	LedgerInvariantViolations prometheus.Counter

	// Feed metrics
	FeedMessages         *prometheus.CounterVec
	FeedReconnects       prometheus.Counter
	MinimumRefreshErrors prometheus.Counter

	// Audit metrics
	AuditEventsWritten *prometheus.CounterVec
	AuditEventsDropped prometheus.Counter

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance registered with reg.
// A nil reg uses the default registerer.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "multipair_engine"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		// Decision metrics
		DecisionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "decisions_total",
			Help:      "Total number of trading decisions by action and reason",
		}, []string{"action", "reason"}),
		DecisionLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "decision_latency_seconds",
			Help:      "Decision pipeline latency in seconds",
			Buckets:   []float64{0.00005, 0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.05},
		}),
		PositionSize: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "position_size_quote",
			Help:      "Executed position size in quote currency",
			Buckets:   []float64{5, 10, 15, 20, 25, 30, 40, 50, 75, 100},
		}),
		AdaptiveTarget: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "adaptive_target_ratio",
			Help:      "Adaptive profit target of executed decisions",
			Buckets:   []float64{0.002, 0.004, 0.006, 0.008, 0.01, 0.012, 0.015, 0.02, 0.03},
		}, []string{"pair"}),
		FusedConfidence: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "fusion",
			Name:      "adjusted_confidence",
			Help:      "Confidence after signal fusion",
			Buckets:   prometheus.LinearBuckets(0, 0.1, 11),
		}),
		PacingWaitSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pacing",
			Name:      "wait_seconds",
			Help:      "Remaining wait reported for pacing rejections",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 900, 3600},
		}),

		// Budget metrics
		BudgetTotal: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "budget",
			Name:      "total_quote",
			Help:      "Total session budget",
		}),
		BudgetUsed: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "budget",
			Name:      "used_quote",
			Help:      "Budget allocated to open positions",
		}),
		BudgetAvailable: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "budget",
			Name:      "available_quote",
			Help:      "Budget not allocated to open positions",
		}),
		BudgetReleased: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "budget",
			Name:      "released_quote",
			Help:      "Budget released by pacing",
		}),
		PositionsOpen: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "budget",
			Name:      "positions_open",
			Help:      "Number of open positions",
		}),

		LedgerInvariantViolations: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "invariant_violations_total",
			Help:      "Total number of ledger invariant violations",
		}),

		// Feed metrics
		FeedMessages: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "messages_total",
			Help:      "Total number of feed messages by type",
		}, []string{"type"}),
		FeedReconnects: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "reconnects_total",
			Help:      "Total number of feed reconnect attempts",
		}),
		MinimumRefreshErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "exchange",
			Name:      "minimum_refresh_errors_total",
			Help:      "Total number of failed exchange minimum refreshes",
		}),

		// Audit metrics
		AuditEventsWritten: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "audit",
			Name:      "events_written_total",
			Help:      "Total number of audit events written by kind",
		}, []string{"kind"}),
		AuditEventsDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "audit",
			Name:      "events_dropped_total",
			Help:      "Total number of audit events dropped because the buffer was full",
		}),

		// Database metrics
		DBQueryDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"database", "operation"}),
		DBQueryErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"database", "operation"}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// RecordDecision records a finished decision and its pipeline latency.
func (m *Metrics) RecordDecision(d *domain.Decision, latency time.Duration) {
	if m == nil || d == nil {
		return
	}
	m.DecisionsTotal.WithLabelValues(string(d.Action), string(d.Reason)).Inc()
	m.DecisionLatency.Observe(latency.Seconds())

	if d.Fusion != nil {
		m.FusedConfidence.Observe(d.Fusion.AdjustedConfidence)
	}
	if d.PacingWait > 0 {
		m.PacingWaitSeconds.Observe(d.PacingWait.Seconds())
	}
	if d.Executed() && d.Position != nil {
		m.PositionSize.Observe(d.Position.PositionSize)
		m.AdaptiveTarget.WithLabelValues(d.Pair).Observe(d.Position.ExitTarget)
	}
}

// UpdateBudget updates the budget gauges.
func (m *Metrics) UpdateBudget(state domain.BudgetState, released float64, openPositions int) {
	if m == nil {
		return
	}
	m.BudgetTotal.Set(state.TotalBudget)
	m.BudgetUsed.Set(state.UsedBudget)
	m.BudgetAvailable.Set(state.AvailableBudget)
	m.BudgetReleased.Set(released)
	m.PositionsOpen.Set(float64(openPositions))
}

// RecordInvariantViolation counts a ledger invariant violation.
func (m *Metrics) RecordInvariantViolation() {
	if m == nil {
		return
	}
	m.LedgerInvariantViolations.Inc()
}

// RecordFeedMessage counts a feed message by type.
func (m *Metrics) RecordFeedMessage(msgType string) {
	if m == nil {
		return
	}
	m.FeedMessages.WithLabelValues(msgType).Inc()
}

// RecordFeedReconnect counts a feed reconnect attempt.
func (m *Metrics) RecordFeedReconnect() {
	if m == nil {
		return
	}
	m.FeedReconnects.Inc()
}

// RecordMinimumRefreshError counts a failed exchange minimum refresh.
func (m *Metrics) RecordMinimumRefreshError() {
	if m == nil {
		return
	}
	m.MinimumRefreshErrors.Inc()
}

// RecordAuditWritten counts a persisted audit event.
func (m *Metrics) RecordAuditWritten(kind string) {
	if m == nil {
		return
	}
	m.AuditEventsWritten.WithLabelValues(kind).Inc()
}

// RecordAuditDropped counts an audit event dropped on a full buffer.
func (m *Metrics) RecordAuditDropped() {
	if m == nil {
		return
	}
	m.AuditEventsDropped.Inc()
}

// RecordDBQuery records database query metrics.
func (m *Metrics) RecordDBQuery(database, operation string, seconds float64, err error) {
	if m == nil {
		return
	}
	m.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		m.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}
