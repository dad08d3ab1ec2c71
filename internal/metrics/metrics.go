// Package metrics holds the package-level Prometheus collectors of the
// proctoring pipeline. They register on the default registry.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Detection loop
var (
	DetectorTicksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proctor_detector_ticks_total",
			Help: "Detector ticks by detector and result (ok, error, skipped)",
		},
		[]string{"detector", "result"},
	)

	DetectorTickDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "proctor_detector_tick_duration_seconds",
			Help:    "Detector tick duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{"detector"},
	)

	// DetectorPhase is 0=initializing, 1=ready, 2=emitting, 3=degraded
	DetectorPhase = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "proctor_detector_phase",
			Help: "Current detector phase (0=initializing, 1=ready, 2=emitting, 3=degraded)",
		},
		[]string{"detector"},
	)

	ModelLoadFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proctor_model_load_failures_total",
			Help: "Detector model load failures",
		},
		[]string{"detector"},
	)

	SessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "proctor_sessions_active",
			Help: "Number of running proctoring sessions",
		},
	)

	SessionsBlockedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proctor_sessions_blocked_total",
			Help: "Sessions blocked on a missing device permission, by media kind",
		},
		[]string{"kind"},
	)
)

// Anomalies and evidence
var (
	AnomaliesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proctor_anomalies_total",
			Help: "Anomaly events by type and dedup outcome (accepted, suppressed)",
		},
		[]string{"type", "outcome"},
	)

	SnapshotsSavedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proctor_snapshots_saved_total",
			Help: "Snapshots persisted by anomaly type",
		},
		[]string{"type"},
	)

	SnapshotsEvictedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "proctor_snapshots_evicted_total",
			Help: "Snapshots removed by the capacity bound",
		},
	)

	SnapshotsDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proctor_snapshots_dropped_total",
			Help: "Snapshots that could not be stored, by reason (quota, capture, error)",
		},
		[]string{"reason"},
	)
)

// Media and reporting
var (
	MediaHandlesOutstanding = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "proctor_media_handles_outstanding",
			Help: "Live media handles by kind",
		},
		[]string{"kind"},
	)

	MediaTrackEndedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proctor_media_track_ended_total",
			Help: "Media tracks that ended outside our control, by kind",
		},
		[]string{"kind"},
	)

	ReporterFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proctor_reporter_failures_total",
			Help: "Failed anomaly reports by reporter",
		},
		[]string{"reporter"},
	)

	// CircuitBreakerState is 0=closed, 1=half-open, 2=open
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "proctor_circuit_breaker_state",
			Help: "Current circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"component"},
	)

	CircuitBreakerStateChanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proctor_circuit_breaker_state_changes_total",
			Help: "Circuit breaker state transitions by component and new state",
		},
		[]string{"component", "state"},
	)

	// Redis metrics (reporter transport)
	RedisOpsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proctor_redis_operations_total",
			Help: "Redis commands by operation and status",
		},
		[]string{"operation", "status"},
	)

	RedisOpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "proctor_redis_operation_duration_seconds",
			Help:    "Redis command latency",
			Buckets: []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"operation"},
	)

	RedisConnectionErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "proctor_redis_connection_errors_total",
			Help: "Failed Redis dials",
		},
	)
)
