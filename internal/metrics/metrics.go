package metrics

import (
	"errors"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ees_dashboard_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ees_dashboard_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~10s
		},
		[]string{"method", "path"},
	)

	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ees_dashboard_http_requests_in_flight",
			Help: "Number of HTTP requests currently being served",
		},
	)

	CacheLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ees_dashboard_cache_lookups_total",
			Help: "Total number of cache lookups by result",
		},
		[]string{"cache", "result"},
	)

	CacheEvictionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ees_dashboard_cache_evictions_total",
			Help: "Total number of entries evicted to stay within capacity",
		},
		[]string{"cache"},
	)

	CacheEntries = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ees_dashboard_cache_entries",
			Help: "Number of resident cache entries",
		},
		[]string{"cache"},
	)

	UpstreamRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ees_dashboard_upstream_requests_total",
			Help: "Total number of requests to the statistics API",
		},
		[]string{"operation", "status"},
	)

	UpstreamRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ees_dashboard_upstream_request_duration_seconds",
			Help:    "Duration of requests to the statistics API",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~20s
		},
		[]string{"operation"},
	)

	SchedulerJobRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ees_dashboard_scheduler_job_runs_total",
			Help: "Total number of scheduled job runs",
		},
		[]string{"job", "status"},
	)
)

// Middleware returns a fiber handler that records HTTP metrics.
func Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		HTTPRequestsInFlight.Inc()
		defer HTTPRequestsInFlight.Dec()

		err := c.Next()

		// Use the route pattern if available, otherwise use the path
		path := c.Route().Path
		if path == "" || path == "/" {
			path = c.Path()
		}
		status := c.Response().StatusCode()
		if err != nil {
			status = fiber.StatusInternalServerError
			var fe *fiber.Error
			if errors.As(err, &fe) {
				status = fe.Code
			}
		}

		HTTPRequestsTotal.WithLabelValues(c.Method(), path, strconv.Itoa(status)).Inc()
		HTTPRequestDuration.WithLabelValues(c.Method(), path).Observe(time.Since(start).Seconds())
		return err
	}
}

// RecordCacheLookup records a cache hit or miss.
func RecordCacheLookup(cache string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	CacheLookupsTotal.WithLabelValues(cache, result).Inc()
}

// RecordCacheEviction records one capacity eviction.
func RecordCacheEviction(cache string) {
	CacheEvictionsTotal.WithLabelValues(cache).Inc()
}

// SetCacheEntries records the current number of resident entries.
func SetCacheEntries(cache string, n int) {
	CacheEntries.WithLabelValues(cache).Set(float64(n))
}

// RecordUpstreamRequest records metrics for one request to the statistics API.
// A transport failure is recorded with status "error".
func RecordUpstreamRequest(operation string, status int, duration time.Duration, err error) {
	label := strconv.Itoa(status)
	if err != nil && status == 0 {
		label = "error"
	}
	UpstreamRequestsTotal.WithLabelValues(operation, label).Inc()
	UpstreamRequestDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordJobRun records the outcome of a scheduled job.
func RecordJobRun(job string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	SchedulerJobRunsTotal.WithLabelValues(job, status).Inc()
}
