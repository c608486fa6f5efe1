// Package metrics provides Prometheus metrics for the policy store
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the policy store
type Metrics struct {
	// HTTP request metrics
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	// Store metrics
	StoreOperationsTotal   *prometheus.CounterVec
	StoreOperationDuration *prometheus.HistogramVec
	StoreSizeBytes         prometheus.Gauge
	PoliciesTotal          prometheus.Gauge
	RevisionsTotal         prometheus.Gauge

	// Registry operation metrics
	RevisionsCreatedTotal prometheus.Counter
	OverlapsRejectedTotal prometheus.Counter
	SupersessionsTotal    prometheus.Counter
	RevisionsDeletedTotal prometheus.Counter

	// Resolution metrics
	ResolutionsTotal     *prometheus.CounterVec
	SnapshotQueriesTotal prometheus.Counter

	// Server metrics
	ServerUptimeSeconds prometheus.Gauge
	ServerStartTime     time.Time
}

// Resolution outcome labels
const (
	OutcomeFound       = "found"
	OutcomeInGap       = "date_in_gap"
	OutcomeBeforeFirst = "date_before_first_revision"
)

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics() *Metrics {
	m := &Metrics{
		ServerStartTime: time.Now(),
	}

	// HTTP request metrics
	m.HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "policystore_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	m.HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "policystore_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	m.HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "policystore_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)

	// Store metrics
	m.StoreOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "policystore_store_operations_total",
			Help: "Total number of key-value store operations",
		},
		[]string{"operation", "status"},
	)

	m.StoreOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "policystore_store_operation_duration_seconds",
			Help:    "Duration of key-value store operations in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"operation"},
	)

	m.StoreSizeBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "policystore_store_size_bytes",
			Help: "Current on-disk store size in bytes",
		},
	)

	m.PoliciesTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "policystore_policies_total",
			Help: "Total number of policy documents in the store",
		},
	)

	m.RevisionsTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "policystore_revisions_total",
			Help: "Total number of policy revisions in the store",
		},
	)

	// Registry operation metrics
	m.RevisionsCreatedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "policystore_revisions_created_total",
			Help: "Total number of revisions admitted",
		},
	)

	m.OverlapsRejectedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "policystore_overlaps_rejected_total",
			Help: "Total number of revision creations rejected for overlap",
		},
	)

	m.SupersessionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "policystore_supersessions_total",
			Help: "Total number of automatic supersessions of open-ended revisions",
		},
	)

	m.RevisionsDeletedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "policystore_revisions_deleted_total",
			Help: "Total number of revisions deleted",
		},
	)

	// Resolution metrics
	m.ResolutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "policystore_resolutions_total",
			Help: "Total number of effective-date resolutions by outcome",
		},
		[]string{"outcome"},
	)

	m.SnapshotQueriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "policystore_snapshot_queries_total",
			Help: "Total number of full snapshot resolutions",
		},
	)

	// Server metrics
	m.ServerUptimeSeconds = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "policystore_server_uptime_seconds",
			Help: "Server uptime in seconds",
		},
	)

	// Start uptime updater
	go m.updateUptime()

	return m
}

// updateUptime periodically updates the server uptime metric
func (m *Metrics) updateUptime() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		m.ServerUptimeSeconds.Set(time.Since(m.ServerStartTime).Seconds())
	}
}

// RecordHTTPRequest records a completed HTTP request
func (m *Metrics) RecordHTTPRequest(method, route, status string, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, route, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordStoreOperation records a key-value store operation
func (m *Metrics) RecordStoreOperation(operation string, status string, duration time.Duration) {
	m.StoreOperationsTotal.WithLabelValues(operation, status).Inc()
	m.StoreOperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordResolution records an effective-date resolution outcome
func (m *Metrics) RecordResolution(outcome string) {
	m.ResolutionsTotal.WithLabelValues(outcome).Inc()
}

// UpdateStoreStats updates store-level statistics
func (m *Metrics) UpdateStoreStats(sizeBytes int64, policyCount int64, revisionCount int64) {
	m.StoreSizeBytes.Set(float64(sizeBytes))
	m.PoliciesTotal.Set(float64(policyCount))
	m.RevisionsTotal.Set(float64(revisionCount))
}
