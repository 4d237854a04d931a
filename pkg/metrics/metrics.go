package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Run metrics
	RunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prerender_runs_total",
			Help: "Total orchestrator invocations by terminal status",
		},
		[]string{"status"},
	)

	RunDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "prerender_run_duration_seconds",
			Help:    "Duration of orchestrator invocations",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		},
	)

	EventsFetchedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "prerender_events_fetched_total",
			Help: "Total journal events fetched",
		},
	)

	// Render metrics
	RendersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prerender_renders_total",
			Help: "Total render outcomes by result",
		},
		[]string{"result"},
	)

	// Admin metrics
	AdminBatchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prerender_admin_batches_total",
			Help: "Total admin batches by stage and outcome",
		},
		[]string{"stage", "outcome"},
	)

	PagesPublishedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "prerender_pages_published_total",
			Help: "Total pages promoted to live",
		},
	)

	PagesUnpublishedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "prerender_pages_unpublished_total",
			Help: "Total pages removed from live",
		},
	)

	// Queue metrics
	QueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "prerender_queue_depth",
			Help: "Pending events in the durable queue",
		},
	)

	QueueDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "prerender_queue_dropped_total",
			Help: "Events evicted under capacity pressure",
		},
	)

	// Rate limiter metrics
	RateLimitedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "prerender_rate_limited_total",
			Help: "Acquisitions refused by the token bucket",
		},
	)
)

// Register registers all metrics with the default registry
func Register() {
	prometheus.MustRegister(
		RunsTotal,
		RunDuration,
		EventsFetchedTotal,
		RendersTotal,
		AdminBatchesTotal,
		PagesPublishedTotal,
		PagesUnpublishedTotal,
		QueueDepth,
		QueueDroppedTotal,
		RateLimitedTotal,
	)
}

// Handler returns the HTTP handler exposing the metrics endpoint
func Handler() http.Handler {
	return promhttp.Handler()
}
