package metrics

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	CollabConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "bidboard_collab_connections",
			Help: "Currently registered collaboration connections",
		},
	)

	BroadcastsDelivered = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bidboard_collab_broadcasts_delivered_total",
			Help: "Total per-connection broadcast deliveries",
		},
	)

	CommentsPersisted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bidboard_collab_comments_persisted_total",
			Help: "Total comments durably recorded",
		},
	)

	TeamNoteMirrorFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bidboard_collab_team_note_mirror_failures_total",
			Help: "Total best-effort team-note mirror writes that failed",
		},
	)

	ExtractionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bidboard_extraction_duration_seconds",
			Help:    "Extraction pipeline duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120},
		},
		[]string{"outcome"},
	)

	ExtractionTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bidboard_extraction_total",
			Help: "Total extraction requests by outcome",
		},
		[]string{"outcome"},
	)

	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bidboard_cache_hits_total",
			Help: "Total cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bidboard_cache_misses_total",
			Help: "Total cache misses",
		},
		[]string{"cache_type"},
	)

	RateLimited = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bidboard_rate_limited_total",
			Help: "Total requests rejected by the sliding-window limiter",
		},
		[]string{"scope"},
	)
)

func Init() {
	prometheus.MustRegister(CollabConnections)
	prometheus.MustRegister(BroadcastsDelivered)
	prometheus.MustRegister(CommentsPersisted)
	prometheus.MustRegister(TeamNoteMirrorFailures)
	prometheus.MustRegister(ExtractionDuration)
	prometheus.MustRegister(ExtractionTotal)
	prometheus.MustRegister(CacheHits)
	prometheus.MustRegister(CacheMisses)
	prometheus.MustRegister(RateLimited)
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
