package observability

import (
	"database/sql"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the access-control core
type Metrics struct {
	// Authorization metrics
	DecisionsTotal    *prometheus.CounterVec // labels: effect, reason
	DecisionDuration  *prometheus.HistogramVec
	OverrideHitsTotal *prometheus.CounterVec // labels: effect

	// Role registry metrics
	RoleCacheHitsTotal   prometheus.Counter
	RoleCacheMissesTotal prometheus.Counter

	// Session metrics
	SessionsActive       prometheus.Gauge
	SessionsCreatedTotal prometheus.Counter
	SessionsEndedTotal   *prometheus.CounterVec // labels: status

	// Workflow metrics
	AccessRequestsTotal *prometheus.CounterVec // labels: outcome

	// Bulk operation metrics
	BulkItemsTotal      *prometheus.CounterVec // labels: result
	BulkOperationsTotal *prometheus.CounterVec // labels: status

	// Audit metrics
	AuditEventsTotal  prometheus.Counter
	AuditDroppedTotal prometheus.Counter

	// Database metrics
	DBConnectionsActive prometheus.Gauge
	DBConnectionsIdle   prometheus.Gauge
}

// NewMetrics creates and registers all metrics with the given registry.
// Pass nil to use the default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		DecisionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gatehouse_authz_decisions_total",
			Help: "Authorization decisions by effect and reason.",
		}, []string{"effect", "reason"}),
		DecisionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gatehouse_authz_decision_duration_seconds",
			Help:    "Time spent resolving authorization decisions.",
			Buckets: prometheus.DefBuckets,
		}, []string{"effect"}),
		OverrideHitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gatehouse_authz_override_hits_total",
			Help: "Decisions settled by an explicit permission override.",
		}, []string{"effect"}),
		RoleCacheHitsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gatehouse_role_cache_hits_total",
			Help: "Role template cache hits.",
		}),
		RoleCacheMissesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gatehouse_role_cache_misses_total",
			Help: "Role template cache misses.",
		}),
		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gatehouse_sessions_active",
			Help: "Currently active tenant sessions.",
		}),
		SessionsCreatedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gatehouse_sessions_created_total",
			Help: "Sessions created.",
		}),
		SessionsEndedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gatehouse_sessions_ended_total",
			Help: "Sessions moved to a terminal state.",
		}, []string{"status"}),
		AccessRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gatehouse_access_requests_total",
			Help: "Access request transitions by outcome.",
		}, []string{"outcome"}),
		BulkItemsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gatehouse_bulk_items_total",
			Help: "Bulk operation items processed by result.",
		}, []string{"result"}),
		BulkOperationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gatehouse_bulk_operations_total",
			Help: "Bulk operations finished by status.",
		}, []string{"status"}),
		AuditEventsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gatehouse_audit_events_total",
			Help: "Audit events emitted.",
		}),
		AuditDroppedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gatehouse_audit_events_dropped_total",
			Help: "Audit events dropped due to sink backpressure.",
		}),
		DBConnectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gatehouse_db_connections_active",
			Help: "Active database connections.",
		}),
		DBConnectionsIdle: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gatehouse_db_connections_idle",
			Help: "Idle database connections.",
		}),
	}

	reg.MustRegister(
		m.DecisionsTotal,
		m.DecisionDuration,
		m.OverrideHitsTotal,
		m.RoleCacheHitsTotal,
		m.RoleCacheMissesTotal,
		m.SessionsActive,
		m.SessionsCreatedTotal,
		m.SessionsEndedTotal,
		m.AccessRequestsTotal,
		m.BulkItemsTotal,
		m.BulkOperationsTotal,
		m.AuditEventsTotal,
		m.AuditDroppedTotal,
		m.DBConnectionsActive,
		m.DBConnectionsIdle,
	)

	return m
}

// Handler returns the Prometheus scrape handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// CollectDBStats copies sql.DB pool stats into the gauges. Call periodically.
func (m *Metrics) CollectDBStats(db *sql.DB) {
	if db == nil {
		return
	}
	stats := db.Stats()
	m.DBConnectionsActive.Set(float64(stats.InUse))
	m.DBConnectionsIdle.Set(float64(stats.Idle))
}

// ObserveDecision records one resolver outcome.
func (m *Metrics) ObserveDecision(effect, reason string, elapsed time.Duration) {
	m.DecisionsTotal.WithLabelValues(effect, reason).Inc()
	m.DecisionDuration.WithLabelValues(effect).Observe(elapsed.Seconds())
}
