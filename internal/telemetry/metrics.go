package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the service.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	AgencyCalls        *prometheus.CounterVec
	AgencyCallDuration *prometheus.HistogramVec
	AgencyErrors       *prometheus.CounterVec
	SyncRuns           *prometheus.CounterVec
	SyncRunDuration    *prometheus.HistogramVec
	SyncShipments      *prometheus.CounterVec
	StatusTransitions  *prometheus.CounterVec
	StaleShipments     prometheus.Gauge
}

// NewMetrics creates metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		AgencyCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "delivery_agency_calls_total",
				Help: "Total number of agency API calls by agency, operation, and outcome",
			},
			[]string{"agency", "operation", "outcome"},
		),
		AgencyCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "delivery_agency_call_duration_seconds",
				Help:    "Agency API call duration in seconds by agency and operation",
				Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"agency", "operation"},
		),
		AgencyErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "delivery_agency_errors_total",
				Help: "Total agency API errors by agency and error kind",
			},
			[]string{"agency", "kind"},
		),
		SyncRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "delivery_sync_runs_total",
				Help: "Total sync runs by variant and result",
			},
			[]string{"variant", "result"},
		),
		SyncRunDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "delivery_sync_run_duration_seconds",
				Help:    "Sync run duration in seconds by variant",
				Buckets: prometheus.ExponentialBuckets(1, 2, 12),
			},
			[]string{"variant"},
		),
		SyncShipments: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "delivery_sync_shipments_total",
				Help: "Shipments visited by sync runs by outcome (unchanged, updated, error)",
			},
			[]string{"outcome"},
		),
		StatusTransitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "delivery_shipment_status_transitions_total",
				Help: "Shipment status changes by agency, new status, and source",
			},
			[]string{"agency", "status", "source"},
		),
		StaleShipments: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "delivery_stale_shipments",
				Help: "Active shipments not refreshed within the stale threshold",
			},
		),
	}
}

// ObserveAgencyCall records one agency call attempt.
func (m *Metrics) ObserveAgencyCall(agencyName, operation, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.AgencyCalls.WithLabelValues(agencyName, operation, outcome).Inc()
	m.AgencyCallDuration.WithLabelValues(agencyName, operation).Observe(duration.Seconds())
	if outcome != "success" {
		m.AgencyErrors.WithLabelValues(agencyName, outcome).Inc()
	}
}

// RecordSyncRun records a finished or rejected sync run.
func (m *Metrics) RecordSyncRun(variant, result string, duration time.Duration) {
	if m == nil {
		return
	}
	m.SyncRuns.WithLabelValues(variant, result).Inc()
	if duration > 0 {
		m.SyncRunDuration.WithLabelValues(variant).Observe(duration.Seconds())
	}
}

// RecordSyncShipment records the outcome of one shipment within a sync run.
func (m *Metrics) RecordSyncShipment(outcome string) {
	if m == nil {
		return
	}
	m.SyncShipments.WithLabelValues(outcome).Inc()
}

// RecordStatusTransition records a shipment status change.
func (m *Metrics) RecordStatusTransition(agencyName, status, source string) {
	if m == nil {
		return
	}
	m.StatusTransitions.WithLabelValues(agencyName, status, source).Inc()
}

// SetStaleShipments sets the stale shipment gauge.
func (m *Metrics) SetStaleShipments(n int) {
	if m == nil {
		return
	}
	m.StaleShipments.Set(float64(n))
}
