package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Submission metrics
	SubmissionsStarted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "talentpath_submissions_started_total",
			Help: "Total number of assessment submissions accepted by the API",
		},
	)

	SubmissionsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "talentpath_submissions_rejected_total",
			Help: "Total number of submissions rejected before reaching the API",
		},
		[]string{"reason"},
	)

	WorkflowsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "talentpath_workflows_completed_total",
			Help: "Total number of workflows reaching a terminal state",
		},
		[]string{"status"},
	)

	WorkflowDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "talentpath_workflow_duration_seconds",
			Help:    "Submit-to-terminal workflow duration in seconds",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 180, 300},
		},
	)

	// Transport metrics
	TransportEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "talentpath_transport_events_total",
			Help: "Total number of normalized transport events received",
		},
		[]string{"source", "kind"},
	)

	TransportEventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "talentpath_transport_events_dropped_total",
			Help: "Total number of transport events dropped (malformed or post-terminal)",
		},
		[]string{"source", "reason"},
	)

	TransportRacesWon = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "talentpath_transport_races_won_total",
			Help: "Terminal events by the transport that delivered them first",
		},
		[]string{"source"},
	)

	SocketAuthFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "talentpath_socket_auth_failures_total",
			Help: "Total number of socket authentication failures",
		},
	)

	PollAttempts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "talentpath_poll_attempts_total",
			Help: "Total number of status poll round trips",
		},
	)

	// Result metrics
	ResultFetches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "talentpath_result_fetches_total",
			Help: "Total number of result document fetches",
		},
		[]string{"endpoint", "status"},
	)

	ResultCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "talentpath_result_cache_hits_total",
			Help: "Total number of result fetches served from the in-memory cache",
		},
	)

	// Guard metrics
	GuardEntriesActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "talentpath_guard_entries_active",
			Help: "Current number of live submission guard entries",
		},
	)

	GuardCooldownHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "talentpath_guard_cooldown_hits_total",
			Help: "Total number of submissions blocked by the persisted cooldown",
		},
	)
)

// RecordWorkflowTerminal records metrics for a workflow reaching a terminal state.
func RecordWorkflowTerminal(status string, durationSeconds float64) {
	WorkflowsCompleted.WithLabelValues(status).Inc()
	if durationSeconds > 0 {
		WorkflowDuration.Observe(durationSeconds)
	}
}

// RecordTransportEvent records a normalized event arriving from a transport.
func RecordTransportEvent(source, kind string) {
	TransportEvents.WithLabelValues(source, kind).Inc()
}
