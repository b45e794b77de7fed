package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, req)
	return w.Body.String()
}

func TestMetrics_RecordRequest(t *testing.T) {
	m := New()

	m.RecordRequest("GET", "/api/v1/downloads", 200, 100*time.Millisecond)
	m.RecordRequest("GET", "/api/v1/downloads", 200, 150*time.Millisecond)
	m.RecordRequest("GET", "/api/v1/downloads", 500, 50*time.Millisecond)

	body := scrape(t, m)
	if !strings.Contains(body, "mediafetch_http_requests_total") {
		t.Error("expected mediafetch_http_requests_total metric")
	}
	if !strings.Contains(body, "mediafetch_http_request_duration_seconds") {
		t.Error("expected mediafetch_http_request_duration_seconds metric")
	}

	if got := testutil.ToFloat64(m.requestCount.WithLabelValues("/api/v1/downloads", "GET", "2xx")); got != 2 {
		t.Errorf("expected 2 successful requests, got %v", got)
	}
	if got := testutil.ToFloat64(m.requestCount.WithLabelValues("/api/v1/downloads", "GET", "5xx")); got != 1 {
		t.Errorf("expected 1 failed request, got %v", got)
	}
}

func TestMetrics_WSConnections(t *testing.T) {
	m := New()

	m.IncWSConnections()
	m.IncWSConnections()
	m.DecWSConnections()

	if got := testutil.ToFloat64(m.activeWSConnections); got != 1 {
		t.Errorf("expected 1 connection, got %v", got)
	}
}

func TestMetrics_Pipeline(t *testing.T) {
	m := New()

	m.JobFinished("completed", 3*time.Second)
	m.ItemFinished("merged")
	m.ItemFinished("failed")
	m.ItemFinished("merged")
	m.FetchRetried("fetch_video")
	m.ObserveMerge(time.Second)
	m.AddPublishedBytes(1024)

	if got := testutil.ToFloat64(m.itemsTotal.WithLabelValues("merged")); got != 2 {
		t.Errorf("expected 2 merged items, got %v", got)
	}
	if got := testutil.ToFloat64(m.retriesTotal.WithLabelValues("fetch_video")); got != 1 {
		t.Errorf("expected 1 retry, got %v", got)
	}
	if got := testutil.ToFloat64(m.bytesPublished); got != 1024 {
		t.Errorf("expected 1024 bytes, got %v", got)
	}

	body := scrape(t, m)
	if !strings.Contains(body, `mediafetch_jobs_total{status="completed"} 1`) {
		t.Errorf("expected completed job in output")
	}
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	m.RecordRequest("GET", "/", 200, time.Millisecond)
	m.ItemFinished("merged")
	m.JobFinished("failed", time.Second)
	m.IncWSConnections()
}

func TestNormalizeEndpoint(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"/api/v1/downloads", "/api/v1/downloads"},
		{"/api/v1/downloads/123", "/api/v1/downloads/:id"},
		{"/api/v1/downloads/6ba7b810-9dad-11d1-80b4-00c04fd430c8/events", "/api/v1/downloads/:id/events"},
	}

	for _, tt := range tests {
		if got := normalizeEndpoint(tt.input); got != tt.expected {
			t.Errorf("normalizeEndpoint(%q) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}

func TestMetricsMiddleware(t *testing.T) {
	m := New()
	h := MetricsMiddleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/v1/downloads", nil))

	if got := testutil.ToFloat64(m.requestCount.WithLabelValues("/api/v1/downloads", "POST", "2xx")); got != 1 {
		t.Errorf("expected 1 request, got %v", got)
	}
}
