package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Cache metrics
	CacheHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mirror_cache_hits_total",
			Help: "Total number of cache hits by ecosystem",
		},
		[]string{"ecosystem"},
	)

	CacheMissesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mirror_cache_misses_total",
			Help: "Total number of cache misses by ecosystem",
		},
		[]string{"ecosystem"},
	)

	CacheFilesTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "mirror_cache_files_total",
			Help: "Total number of files currently cached",
		},
	)

	CacheBytesTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "mirror_cache_bytes_total",
			Help: "Total bytes currently occupied by the cache",
		},
	)

	CacheEvictionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "mirror_cache_evictions_total",
			Help: "Total number of cache entries evicted",
		},
	)

	// Fetch (upstream) metrics
	FetchRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mirror_fetch_requests_total",
			Help: "Total number of upstream fetch attempts by ecosystem and outcome",
		},
		[]string{"ecosystem", "outcome"},
	)

	FetchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mirror_fetch_duration_seconds",
			Help:    "Upstream fetch duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"ecosystem"},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mirror_api_requests_total",
			Help: "Total number of control API requests by method and status",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mirror_api_request_duration_seconds",
			Help:    "Control API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// Router (serving path) metrics
	ServeRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mirror_serve_requests_total",
			Help: "Total number of served download requests by ecosystem and status",
		},
		[]string{"ecosystem", "status"},
	)

	ServeBytesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mirror_serve_bytes_total",
			Help: "Total bytes served to clients by ecosystem",
		},
		[]string{"ecosystem"},
	)

	// Sync metrics
	SyncRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mirror_sync_runs_total",
			Help: "Total number of sync runs by source and outcome",
		},
		[]string{"source", "outcome"},
	)

	SyncDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mirror_sync_duration_seconds",
			Help:    "Sync run duration in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		},
		[]string{"source"},
	)

	// Prewarm metrics
	PrewarmItemsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mirror_prewarm_items_total",
			Help: "Total number of prewarm items processed by terminal status",
		},
		[]string{"status"},
	)

	// Failover metrics
	FailoverEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mirror_failover_events_total",
			Help: "Total number of upstream failover promotions by ecosystem",
		},
		[]string{"ecosystem"},
	)

	UpstreamHealthy = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mirror_upstream_healthy",
			Help: "Whether an ecosystem's active upstream is currently healthy (1) or not (0)",
		},
		[]string{"ecosystem", "source"},
	)
)

func init() {
	prometheus.MustRegister(
		CacheHitsTotal, CacheMissesTotal, CacheFilesTotal, CacheBytesTotal, CacheEvictionsTotal,
		FetchRequestsTotal, FetchDuration,
		APIRequestsTotal, APIRequestDuration,
		ServeRequestsTotal, ServeBytesTotal,
		SyncRunsTotal, SyncDuration,
		PrewarmItemsTotal,
		FailoverEventsTotal, UpstreamHealthy,
	)
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer measures elapsed time for a histogram observation.
type Timer struct {
	start time.Time
}

// NewTimer starts a Timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed time to histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the elapsed time to a labeled histogram vec.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
