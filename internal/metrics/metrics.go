package metrics

import (
	"bufio"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "mediafetch"

// Metrics holds all application metrics on a private registry.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// Request metrics
	requestCount    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	// Application metrics
	activeWSConnections prometheus.Gauge
	downloadQueueLength prometheus.Gauge

	// Pipeline metrics
	jobsTotal        *prometheus.CounterVec
	jobDuration      prometheus.Histogram
	itemsTotal       *prometheus.CounterVec
	retriesTotal     *prometheus.CounterVec
	mergeDuration    prometheus.Histogram
	bytesPublished   prometheus.Counter
	activeItemsGauge prometheus.Gauge
}

// New creates a metrics set with its own registry
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		requestCount: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests, by endpoint, method and status class.",
		}, []string{"endpoint", "method", "status"}),
		requestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"endpoint", "method"}),
		activeWSConnections: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "websocket_connections_active",
			Help:      "Number of open progress websocket connections.",
		}),
		downloadQueueLength: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "download_queue_length",
			Help:      "Number of jobs waiting in the download queue.",
		}),
		jobsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_total",
			Help:      "Jobs finished by the worker pool, by final status.",
		}, []string{"status"}),
		jobDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Wall clock time of a job from start to reclaim.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		}),
		itemsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "items_total",
			Help:      "Media items processed, by outcome (merged, audio, video, empty, failed).",
		}, []string{"outcome"}),
		retriesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_retries_total",
			Help:      "Failed fetch attempts that were retried or abandoned, by operation.",
		}, []string{"op"}),
		mergeDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "merge_duration_seconds",
			Help:      "Time spent in ffmpeg merging streams.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
		bytesPublished: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "published_bytes_total",
			Help:      "Bytes uploaded to object storage.",
		}),
		activeItemsGauge: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "items_in_flight",
			Help:      "Items currently being downloaded or merged.",
		}),
	}
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// Default returns the process-wide metrics set
func Default() *Metrics {
	defaultOnce.Do(func() {
		defaultMetrics = New()
	})
	return defaultMetrics
}

// Registry exposes the underlying registry, mainly for tests
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordRequest records an HTTP request
func (m *Metrics) RecordRequest(method, path string, statusCode int, duration time.Duration) {
	if m == nil {
		return
	}
	endpoint := normalizeEndpoint(path)
	m.requestCount.WithLabelValues(endpoint, method, statusClass(statusCode)).Inc()
	m.requestDuration.WithLabelValues(endpoint, method).Observe(duration.Seconds())
}

func statusClass(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}

// normalizeEndpoint replaces IDs in paths with placeholders to keep label cardinality bounded
func normalizeEndpoint(path string) string {
	parts := strings.Split(path, "/")
	for i, part := range parts {
		if isNumeric(part) || looksLikeUUID(part) {
			parts[i] = ":id"
		}
	}
	return strings.Join(parts, "/")
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

func looksLikeUUID(s string) bool {
	return len(s) == 36 && strings.Count(s, "-") == 4
}

// IncWSConnections increments the websocket connection count
func (m *Metrics) IncWSConnections() {
	if m != nil {
		m.activeWSConnections.Inc()
	}
}

// DecWSConnections decrements the websocket connection count
func (m *Metrics) DecWSConnections() {
	if m != nil {
		m.activeWSConnections.Dec()
	}
}

// SetDownloadQueueLength sets the current queue length
func (m *Metrics) SetDownloadQueueLength(length int64) {
	if m != nil {
		m.downloadQueueLength.Set(float64(length))
	}
}

// JobFinished records a job's terminal status and duration
func (m *Metrics) JobFinished(status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.jobsTotal.WithLabelValues(status).Inc()
	m.jobDuration.Observe(duration.Seconds())
}

// ItemFinished records the outcome of one item pipeline run
func (m *Metrics) ItemFinished(outcome string) {
	if m != nil {
		m.itemsTotal.WithLabelValues(outcome).Inc()
	}
}

// ItemStarted and ItemDone track items in flight
func (m *Metrics) ItemStarted() {
	if m != nil {
		m.activeItemsGauge.Inc()
	}
}

func (m *Metrics) ItemDone() {
	if m != nil {
		m.activeItemsGauge.Dec()
	}
}

// FetchRetried counts a failed attempt of op
func (m *Metrics) FetchRetried(op string) {
	if m != nil {
		m.retriesTotal.WithLabelValues(op).Inc()
	}
}

// ObserveMerge records how long a merge took
func (m *Metrics) ObserveMerge(d time.Duration) {
	if m != nil {
		m.mergeDuration.Observe(d.Seconds())
	}
}

// AddPublishedBytes counts bytes uploaded to object storage
func (m *Metrics) AddPublishedBytes(n int64) {
	if m != nil && n > 0 {
		m.bytesPublished.Add(float64(n))
	}
}

// Handler returns the /metrics handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// MetricsMiddleware records request counts and latency
func MetricsMiddleware(m *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusResponseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r)
			m.RecordRequest(r.Method, r.URL.Path, sw.status, time.Since(start))
		})
	}
}

type statusResponseWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusResponseWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusResponseWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

func (w *statusResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	return http.NewResponseController(w.ResponseWriter).Hijack()
}
