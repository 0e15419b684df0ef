// Package metrics provides Prometheus instrumentation for the streaming
// pipeline. All collectors live on an explicit per-Collector registry;
// nothing registers against the process-wide default.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds the pipeline's metric instruments.
type Collector struct {
	registry *prometheus.Registry

	// HTTPRequests counts requests by method, route and status.
	HTTPRequests *prometheus.CounterVec

	// SegmentServeDuration tracks time to serve one segment.
	SegmentServeDuration prometheus.Histogram

	// SegmentCacheHits / SegmentCacheMisses count read-through cache outcomes.
	SegmentCacheHits   prometheus.Counter
	SegmentCacheMisses prometheus.Counter

	// OriginErrors counts upstream failures by kind.
	OriginErrors *prometheus.CounterVec

	// GrantsIssued counts issued download grants by quality.
	GrantsIssued *prometheus.CounterVec
}

// NewCollector creates a collector with a fresh registry.
func NewCollector() *Collector {
	registry := prometheus.NewRegistry()

	c := &Collector{
		registry: registry,
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gostreamd_http_requests_total",
			Help: "Total HTTP requests handled.",
		}, []string{"method", "route", "status"}),
		SegmentServeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "gostreamd_segment_serve_duration_seconds",
			Help:    "Time to serve a single segment.",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}),
		SegmentCacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gostreamd_segment_cache_hits_total",
			Help: "Segment cache hits.",
		}),
		SegmentCacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gostreamd_segment_cache_misses_total",
			Help: "Segment cache misses.",
		}),
		OriginErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gostreamd_origin_errors_total",
			Help: "Origin store errors by kind.",
		}, []string{"kind"}),
		GrantsIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gostreamd_download_grants_issued_total",
			Help: "Signed download grants issued by quality.",
		}, []string{"quality"}),
	}

	registry.MustRegister(
		c.HTTPRequests,
		c.SegmentServeDuration,
		c.SegmentCacheHits,
		c.SegmentCacheMisses,
		c.OriginErrors,
		c.GrantsIssued,
	)

	return c
}

// Handler returns the scrape endpoint handler for this collector's registry.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Middleware wraps an HTTP handler to record request counts. route should be
// the registered pattern (e.g. "/stream/{titleId}/manifest.m3u8"), not the
// raw URL, to keep label cardinality bounded.
func (c *Collector) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		c.HTTPRequests.WithLabelValues(r.Method, route, strconv.Itoa(rw.status)).Inc()
	})
}

// ObserveSegmentServe records one segment serve duration.
func (c *Collector) ObserveSegmentServe(d time.Duration) {
	c.SegmentServeDuration.Observe(d.Seconds())
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
