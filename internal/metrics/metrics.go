// Package metrics registers the Prometheus collectors for the pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Ingestion
	TelemetryEnqueued = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cadence_telemetry_enqueued_total",
			Help: "Heart-rate samples accepted by the telemetry queue",
		},
	)

	TelemetryDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cadence_telemetry_dropped_total",
			Help: "Oldest samples evicted from a full telemetry queue",
		},
	)

	TelemetryQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cadence_telemetry_queue_depth",
			Help: "Samples waiting in the telemetry queue",
		},
	)

	ForwardResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cadence_forward_total",
			Help: "Samples forwarded by sink and result",
		},
		[]string{"sink", "result"},
	)

	ArchiveFlushes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cadence_archive_flush_total",
			Help: "Archive batch uploads by result",
		},
		[]string{"result"},
	)

	ArchivePending = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cadence_archive_pending_records",
			Help: "Samples buffered for the next archive batch",
		},
	)

	// Stream consumption
	StreamEntries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cadence_stream_entries_total",
			Help: "Stream entries handled by the consumer group, by outcome",
		},
		[]string{"outcome"}, // "acked", "nacked", "terminated"
	)

	StreamReadErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cadence_stream_read_errors_total",
			Help: "Failed fetches against the durable stream",
		},
	)

	// Decisions
	RecommendationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cadence_recommendation_duration_seconds",
			Help:    "Time spent scoring the catalog for one user",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		},
	)

	SwitchEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cadence_switch_events_total",
			Help: "Realized track switches",
		},
		[]string{"forced"},
	)

	FeedbackEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cadence_feedback_events_total",
			Help: "Feedback events by type",
		},
		[]string{"event_type"},
	)

	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cadence_active_sessions",
			Help: "Sessions tracked by the registry",
		},
	)

	ConnectedUsers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cadence_connected_users",
			Help: "Distinct users with at least one live client",
		},
	)

	// Outbound I/O
	SideEffectErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cadence_side_effect_errors_total",
			Help: "Best-effort writes that failed, by target",
		},
		[]string{"target"}, // "sqlite", "artifact", "broadcast"
	)

	WebSocketClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cadence_websocket_clients",
			Help: "Connected websocket clients",
		},
	)

	CircuitState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cadence_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cadence_http_request_duration_seconds",
			Help:    "HTTP handler latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)
)

// RecordForward records one forwarding attempt.
func RecordForward(sink string, err error) {
	ForwardResults.WithLabelValues(sink, result(err)).Inc()
}

// RecordArchiveFlush records one archive upload.
func RecordArchiveFlush(err error) {
	ArchiveFlushes.WithLabelValues(result(err)).Inc()
}

// RecordSwitch records a realized switch.
func RecordSwitch(forced bool) {
	label := "false"
	if forced {
		label = "true"
	}
	SwitchEvents.WithLabelValues(label).Inc()
}

// ObserveRecommendation records how long a recommendation took.
func ObserveRecommendation(d time.Duration) {
	RecommendationDuration.Observe(d.Seconds())
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
