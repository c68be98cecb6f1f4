// Package metrics exposes Prometheus collectors for the scout pipeline.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	chunksTotal                *prometheus.CounterVec
	chunkItemsTotal            *prometheus.CounterVec
	runnerActiveTasks          prometheus.Gauge
	discoveryPagesTotal        *prometheus.CounterVec
	remoteRequestDuration      *prometheus.HistogramVec
	rateLimitDelaysSeconds     *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	progressDroppedTotal       *prometheus.CounterVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		chunksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scout_chunks_total",
				Help: "Scrape chunks processed, labeled by stage and result.",
			},
			[]string{"stage", "result"},
		)

		chunkItemsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scout_chunk_items_total",
				Help: "Dataset items persisted from successful chunks, labeled by stage.",
			},
			[]string{"stage"},
		)

		runnerActiveTasks = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "scout_runner_active_tasks",
				Help: "Number of pipeline tasks currently executing.",
			},
		)

		discoveryPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scout_discovery_pages_total",
				Help: "Search result pages requested during discovery, labeled by result.",
			},
			[]string{"result"},
		)

		remoteRequestDuration = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "scout_remote_request_duration_seconds",
				Help:    "Latency of calls to third-party APIs, labeled by api and operation.",
				Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
			},
			[]string{"api", "op"},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "scout_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
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

		progressDroppedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scout_progress_events_dropped_total",
				Help: "Progress events dropped because the hub buffer was full, labeled by stage.",
			},
			[]string{"stage"},
		)
	})
}

// SanitizeSite extracts a lowercase hostname from a URL.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveChunk records one finished scrape chunk.
func ObserveChunk(stage string, ok bool, items int) {
	Init()
	result := "success"
	if !ok {
		result = "error"
	}
	chunksTotal.WithLabelValues(stage, result).Inc()
	if items > 0 {
		chunkItemsTotal.WithLabelValues(stage).Add(float64(items))
	}
}

// IncActiveTasks increments the runner's in-flight gauge.
func IncActiveTasks() {
	Init()
	runnerActiveTasks.Inc()
}

// DecActiveTasks decrements the runner's in-flight gauge.
func DecActiveTasks() {
	Init()
	runnerActiveTasks.Dec()
}

// ObserveDiscoveryPage counts a search page by outcome.
func ObserveDiscoveryPage(ok bool) {
	Init()
	result := "success"
	if !ok {
		result = "error"
	}
	discoveryPagesTotal.WithLabelValues(result).Inc()
}

// ObserveRemoteRequest records the latency of a third-party API call.
func ObserveRemoteRequest(api, op string, duration time.Duration) {
	Init()
	remoteRequestDuration.WithLabelValues(api, op).Observe(duration.Seconds())
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveProgressDropped counts a progress event lost to backpressure.
func ObserveProgressDropped(stage string) {
	Init()
	progressDroppedTotal.WithLabelValues(stage).Inc()
}

// Middleware is a chi middleware that records HTTP request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)

		route := "unknown"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		ObserveHTTPRequest(r.Method, route, ww.status, time.Since(start))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
