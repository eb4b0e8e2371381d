// Package metrics exposes Prometheus collectors for the watch-wrapped service.
// Collectors are registered by Init; until then every helper is a no-op so
// library code can record metrics unconditionally.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	cacheLookupsTotal            *prometheus.CounterVec
	cacheEntries                 prometheus.Gauge
	cacheDurabilityWarningsTotal prometheus.Counter
	catalogRequestsTotal         *prometheus.CounterVec
	catalogRequestDuration       prometheus.Histogram
	catalogRateLimitDelay        prometheus.Histogram
	jobsTotal                    *prometheus.CounterVec
	activeFetchWorkers           prometheus.Gauge
	httpRequestsTotal            *prometheus.CounterVec
	httpRequestDurationSeconds   *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		cacheLookupsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wrapped_cache_lookups_total",
				Help: "Metadata cache lookups, labeled by result (hit or miss).",
			},
			[]string{"result"},
		)

		cacheEntries = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "wrapped_cache_entries",
				Help: "Number of catalog items held in the metadata cache.",
			},
		)

		cacheDurabilityWarningsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "wrapped_cache_durability_warnings_total",
				Help: "Cache entries that could not be appended to the persisted log.",
			},
		)

		catalogRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wrapped_catalog_requests_total",
				Help: "Catalog API requests, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		catalogRequestDuration = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "wrapped_catalog_request_duration_seconds",
				Help:    "Histogram of catalog API request latencies.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
		)

		catalogRateLimitDelay = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "wrapped_catalog_rate_limit_delay_seconds",
				Help:    "Histogram of time spent waiting on the catalog rate limiter.",
				Buckets: []float64{0.01, 0.1, 0.5, 1, 2, 5, 10},
			},
		)

		jobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wrapped_jobs_total",
				Help: "Total number of pipeline runs, labeled by final status.",
			},
			[]string{"status"},
		)

		activeFetchWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "wrapped_active_fetch_workers",
				Help: "Number of fetch workers currently resolving an item.",
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveCacheLookup counts a cache hit or miss.
func ObserveCacheLookup(hit bool) {
	if cacheLookupsTotal == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	cacheLookupsTotal.WithLabelValues(result).Inc()
}

// SetCacheEntries records the current cache size.
func SetCacheEntries(n int) {
	if cacheEntries == nil {
		return
	}
	cacheEntries.Set(float64(n))
}

// IncDurabilityWarning counts a failed append to the persisted cache log.
func IncDurabilityWarning() {
	if cacheDurabilityWarningsTotal == nil {
		return
	}
	cacheDurabilityWarningsTotal.Inc()
}

// ObserveCatalogRequest records one catalog API attempt.
func ObserveCatalogRequest(outcome string, duration time.Duration) {
	if catalogRequestsTotal == nil {
		return
	}
	catalogRequestsTotal.WithLabelValues(outcome).Inc()
	catalogRequestDuration.Observe(duration.Seconds())
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(duration time.Duration) {
	if catalogRateLimitDelay == nil {
		return
	}
	catalogRateLimitDelay.Observe(duration.Seconds())
}

// ObserveJob increments the job counter for the given status.
func ObserveJob(status string) {
	if jobsTotal == nil {
		return
	}
	jobsTotal.WithLabelValues(status).Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	if activeFetchWorkers == nil {
		return
	}
	activeFetchWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	if activeFetchWorkers == nil {
		return
	}
	activeFetchWorkers.Dec()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	if httpRequestsTotal == nil {
		return
	}
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
