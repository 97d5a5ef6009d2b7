package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Intake metrics
	EventsRouted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_events_routed_total",
			Help: "Inbound events by router classification",
		},
		[]string{"action"}, // "new_root", "reply", "ignore"
	)

	EventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_events_dropped_total",
			Help: "Inbound events silently dropped by the pipeline",
		},
		[]string{"reason"},
	)

	// Publish metrics
	Published = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_published_total",
			Help: "Records published to the destination channel",
		},
		[]string{"kind"}, // "signal" or "update"
	)

	PublishFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_publish_failures_total",
			Help: "Records marked ERROR after a failed publish",
		},
		[]string{"kind"},
	)

	TranslationFallbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_translation_fallbacks_total",
			Help: "Translations that failed and fell back to the original content",
		},
	)

	// Supervisor metrics
	TasksLive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_tasks_live",
			Help: "Pipeline tasks currently in flight",
		},
	)

	TaskFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_task_failures_total",
			Help: "Pipeline tasks that ended with an error or panic",
		},
	)

	// Ownership metrics
	OwnershipEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_ownership_entries",
			Help: "Entries in the flow ownership cache",
		},
	)

	OwnershipEvictions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_ownership_evictions_total",
			Help: "Ownership cache evictions",
		},
		[]string{"reason"}, // "expired", "ceiling"
	)

	OwnershipLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_ownership_lookups_total",
			Help: "Ownership checks by cache outcome",
		},
		[]string{"outcome"}, // "hit", "miss"
	)

	// Infrastructure metrics
	StoreLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relay_store_latency_seconds",
			Help:    "Record store operation latency",
			Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25},
		},
		[]string{"op"},
	)

	// HTTP metrics
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_http_requests_total",
			Help: "API requests by route and status",
		},
		[]string{"method", "route", "status"},
	)

	HTTPLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relay_http_request_duration_seconds",
			Help:    "API request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	WSClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_ws_clients",
			Help: "Connected WebSocket clients",
		},
	)
)
