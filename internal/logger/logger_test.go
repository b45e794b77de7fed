package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	apperrors "github.com/openmusicplayer/mediafetch/internal/errors"
)

func TestConfigure_JSONOutput(t *testing.T) {
	var buf bytes.Buffer
	log := Configure(Config{Output: &buf, Level: "debug"})

	log.Info().Str("key", "value").Msg("test message")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse log entry: %v", err)
	}

	if entry["level"] != "info" {
		t.Errorf("expected level info, got %v", entry["level"])
	}
	if entry["message"] != "test message" {
		t.Errorf("expected message 'test message', got %v", entry["message"])
	}
	if entry["key"] != "value" {
		t.Errorf("expected field key=value, got %v", entry["key"])
	}
	if entry["service"] != "mediafetch" {
		t.Errorf("expected service mediafetch, got %v", entry["service"])
	}
}

func TestFromContext_CorrelationIDs(t *testing.T) {
	var buf bytes.Buffer
	base := zerolog.New(&buf)

	ctx := ContextWithJobID(context.Background(), "job-1")
	ctx = apperrors.WithRequestID(ctx, "req-1")

	log := FromContext(ctx, base)
	log.Info().Msg("hello")

	out := buf.String()
	if !strings.Contains(out, `"job_id":"job-1"`) {
		t.Errorf("expected job_id in output, got %s", out)
	}
	if !strings.Contains(out, `"request_id":"req-1"`) {
		t.Errorf("expected request_id in output, got %s", out)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"DEBUG", zerolog.DebugLevel},
		{"info", zerolog.InfoLevel},
		{"warn", zerolog.WarnLevel},
		{"warning", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"unknown", zerolog.InfoLevel},
		{"", zerolog.InfoLevel},
	}

	for _, tt := range tests {
		if got := ParseLevel(tt.input); got != tt.expected {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.input, got, tt.expected)
		}
	}
}

func TestSanitizeQuery(t *testing.T) {
	got := sanitizeQuery("url=abc&token=secret&api_key=x")
	if strings.Contains(got, "secret") {
		t.Errorf("token should be redacted, got %s", got)
	}
	if !strings.Contains(got, "url=abc") {
		t.Errorf("url should be kept, got %s", got)
	}
	if !strings.Contains(got, "api_key=[REDACTED]") {
		t.Errorf("api_key should be redacted, got %s", got)
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	var buf bytes.Buffer
	h := RecoveryMiddleware(zerolog.New(&buf))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/downloads", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", rec.Code)
	}
	if !strings.Contains(buf.String(), "panic recovered") {
		t.Errorf("expected panic to be logged, got %s", buf.String())
	}
}
