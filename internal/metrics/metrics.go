// Package metrics exposes Prometheus collectors for the archiver.
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

// Chapter outcomes.
const (
	OutcomeArchived = "archived"
	OutcomeSkipped  = "skipped"
	OutcomeFailed   = "failed"
)

var (
	chaptersTotal              *prometheus.CounterVec
	pagesTotal                 *prometheus.CounterVec
	archiveBytesTotal          *prometheus.CounterVec
	chapterRetriesTotal        *prometheus.CounterVec
	sourcesTotal               *prometheus.CounterVec
	sweepsTotal                *prometheus.CounterVec
	sweepDurationSeconds       prometheus.Histogram
	lastSweepTimestamp         prometheus.Gauge
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	rateLimitDelaysSeconds     *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		chaptersTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mangashelf_chapters_total",
				Help: "Chapters handled, labeled by site and outcome.",
			},
			[]string{"site", "outcome"},
		)

		pagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mangashelf_pages_total",
				Help: "Pages written into archives, labeled by site.",
			},
			[]string{"site"},
		)

		archiveBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mangashelf_archive_bytes_total",
				Help: "Bytes of archive written, labeled by site.",
			},
			[]string{"site"},
		)

		chapterRetriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mangashelf_chapter_retries_total",
				Help: "Chapter fetches that returned no images, labeled by site.",
			},
			[]string{"site"},
		)

		sourcesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mangashelf_sources_total",
				Help: "Sources processed, labeled by final status.",
			},
			[]string{"status"},
		)

		sweepsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mangashelf_sweeps_total",
				Help: "Sweeps over the URL list, labeled by trigger.",
			},
			[]string{"trigger"},
		)

		sweepDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "mangashelf_sweep_duration_seconds",
				Help:    "Histogram of sweep durations.",
				Buckets: []float64{1, 10, 60, 300, 900, 1800, 3600, 7200},
			},
		)

		lastSweepTimestamp = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "mangashelf_last_sweep_timestamp_seconds",
				Help: "Unix time at which the last sweep finished.",
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

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mangashelf_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
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

// ObserveChapter records one chapter outcome. pages and size are only
// counted for archived chapters.
func ObserveChapter(sourceURL, outcome string, pages int, size int64) {
	Init()
	site := SanitizeSite(sourceURL)
	chaptersTotal.WithLabelValues(site, outcome).Inc()
	if outcome != OutcomeArchived {
		return
	}
	if pages > 0 {
		pagesTotal.WithLabelValues(site).Add(float64(pages))
	}
	if size > 0 {
		archiveBytesTotal.WithLabelValues(site).Add(float64(size))
	}
}

// ObserveChapterRetry counts an empty chapter fetch.
func ObserveChapterRetry(sourceURL string) {
	Init()
	chapterRetriesTotal.WithLabelValues(SanitizeSite(sourceURL)).Inc()
}

// ObserveSource records the final status of one source.
func ObserveSource(status string) {
	Init()
	sourcesTotal.WithLabelValues(status).Inc()
}

// ObserveSweep records a completed sweep.
func ObserveSweep(trigger string, duration time.Duration, finished time.Time) {
	Init()
	sweepsTotal.WithLabelValues(trigger).Inc()
	sweepDurationSeconds.Observe(duration.Seconds())
	lastSweepTimestamp.Set(float64(finished.Unix()))
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// Middleware is a chi middleware that records HTTP request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(ww, r)

		routePattern := "unknown"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			routePattern = rctx.RoutePattern()
		}
		ObserveHTTPRequest(r.Method, routePattern, ww.statusCode, time.Since(start))
	})
}

// statusRecorder wraps http.ResponseWriter to capture the status code.
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.statusCode = code
	rec.ResponseWriter.WriteHeader(code)
}
