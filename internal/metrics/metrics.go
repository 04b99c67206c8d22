// Package metrics exposes Prometheus collectors for the explorer's HTTP
// surface, tile proxy, catalog searches, and export jobs.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "imagery_explorer",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "imagery_explorer",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "imagery_explorer",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	tilesServed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "imagery_explorer",
			Subsystem: "tiles",
			Name:      "served_total",
			Help:      "Total number of tiles served, by source and cache outcome.",
		},
		[]string{"source", "cache"},
	)

	tileDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "imagery_explorer",
			Subsystem: "tiles",
			Name:      "serve_duration_seconds",
			Help:      "Duration of tile requests, including upstream fetches.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
		},
		[]string{"source"},
	)

	searches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "imagery_explorer",
			Subsystem: "catalog",
			Name:      "searches_total",
			Help:      "Total number of catalog searches.",
		},
		[]string{"collection", "status"},
	)

	searchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "imagery_explorer",
			Subsystem: "catalog",
			Name:      "search_duration_seconds",
			Help:      "Duration of catalog searches.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 8), // 50ms to ~6s
		},
		[]string{"collection"},
	)

	exportsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "imagery_explorer",
			Subsystem: "exports",
			Name:      "finished_total",
			Help:      "Total number of finished export jobs, by format and terminal status.",
		},
		[]string{"format", "status"},
	)

	exportDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "imagery_explorer",
			Subsystem: "exports",
			Name:      "duration_seconds",
			Help:      "Duration of export jobs.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10), // 0.5s to ~4m
		},
		[]string{"format"},
	)

	queueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "imagery_explorer",
			Subsystem: "exports",
			Name:      "queue_depth",
			Help:      "Number of export jobs waiting or running.",
		},
	)

	rateLimitHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "imagery_explorer",
			Subsystem: "upstream",
			Name:      "rate_limited_total",
			Help:      "Total number of rate-limit responses from upstream providers.",
		},
		[]string{"provider"},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		tilesServed,
		tileDuration,
		searches,
		searchDuration,
		exportsTotal,
		exportDuration,
		queueDepth,
		rateLimitHits,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// Middleware wraps a handler with HTTP request metrics collection.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		path := routePath(r)
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	})
}

// RecordTileServed records one proxied tile response. cacheStatus is
// "hit" or "miss".
func RecordTileServed(source, cacheStatus string, duration time.Duration) {
	tilesServed.WithLabelValues(source, cacheStatus).Inc()
	tileDuration.WithLabelValues(source).Observe(duration.Seconds())
}

// RecordSearch records one catalog search. status is "ok", "error" or
// "rate_limited".
func RecordSearch(collection, status string, duration time.Duration) {
	if collection == "" {
		collection = "unknown"
	}
	searches.WithLabelValues(collection, status).Inc()
	searchDuration.WithLabelValues(collection).Observe(duration.Seconds())
}

// RecordExport records one finished export job. status is the terminal
// task status: "completed", "failed" or "cancelled".
func RecordExport(format, status string, duration time.Duration) {
	if format == "" {
		format = "unknown"
	}
	exportsTotal.WithLabelValues(format, status).Inc()
	exportDuration.WithLabelValues(format).Observe(duration.Seconds())
}

// SetQueueDepth records the number of export jobs waiting or running.
func SetQueueDepth(n int) {
	queueDepth.Set(float64(n))
}

// RecordRateLimited records an upstream rate-limit response.
func RecordRateLimited(provider string) {
	rateLimitHits.WithLabelValues(provider).Inc()
}

// routePath labels a request by its route pattern so label cardinality
// stays bounded. Unrouted requests collapse to their first path segment.
func routePath(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if template, err := route.GetPathTemplate(); err == nil {
			return template
		}
	}
	trimmed := strings.Trim(r.URL.Path, "/")
	if trimmed == "" {
		return "/"
	}
	if i := strings.Index(trimmed, "/"); i >= 0 {
		trimmed = trimmed[:i]
	}
	return "/" + trimmed
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}
