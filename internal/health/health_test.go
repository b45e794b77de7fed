package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client
}

func TestChecker_BasicHealth(t *testing.T) {
	checker := NewChecker(&CheckerConfig{
		Version: "1.0.0",
		Timeout: 5 * time.Second,
	})

	response := checker.Check(context.Background())

	if response.Status != StatusHealthy {
		t.Errorf("expected status healthy, got %s", response.Status)
	}
	if response.Version != "1.0.0" {
		t.Errorf("expected version 1.0.0, got %s", response.Version)
	}
}

func TestChecker_DeepCheck(t *testing.T) {
	storageDown := func(ctx context.Context) error { return errors.New("storage connection failed") }
	storageUp := func(ctx context.Context) error { return nil }

	tests := []struct {
		name       string
		redis      bool
		storage    func(context.Context) error
		outputDir  func(t *testing.T) string
		wantStatus Status
		wantKeys   []string
	}{
		{
			name:       "all healthy",
			redis:      true,
			storage:    storageUp,
			outputDir:  func(t *testing.T) string { return t.TempDir() },
			wantStatus: StatusHealthy,
			wantKeys:   []string{"redis", "storage", "output"},
		},
		{
			name:       "storage optional",
			redis:      true,
			outputDir:  func(t *testing.T) string { return t.TempDir() },
			wantStatus: StatusHealthy,
			wantKeys:   []string{"redis", "output"},
		},
		{
			name:       "storage down",
			redis:      true,
			storage:    storageDown,
			wantStatus: StatusUnhealthy,
			wantKeys:   []string{"redis", "storage"},
		},
		{
			name:       "redis missing",
			wantStatus: StatusUnhealthy,
			wantKeys:   []string{"redis"},
		},
		{
			name:       "output missing",
			redis:      true,
			outputDir:  func(t *testing.T) string { return filepath.Join(t.TempDir(), "gone") },
			wantStatus: StatusUnhealthy,
			wantKeys:   []string{"redis", "output"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &CheckerConfig{StorageCheck: tt.storage, Timeout: time.Second}
			if tt.redis {
				cfg.Redis = newRedis(t)
			}
			if tt.outputDir != nil {
				cfg.OutputDir = tt.outputDir(t)
			}

			response := NewChecker(cfg).DeepCheck(context.Background())

			if response.Status != tt.wantStatus {
				t.Errorf("status = %s, want %s (%+v)", response.Status, tt.wantStatus, response.Components)
			}
			if len(response.Components) != len(tt.wantKeys) {
				t.Errorf("components = %v, want %v", response.Components, tt.wantKeys)
			}
			for _, k := range tt.wantKeys {
				if _, ok := response.Components[k]; !ok {
					t.Errorf("missing component %q", k)
				}
			}
		})
	}
}

func TestHandler_LivenessHandler(t *testing.T) {
	handler := NewHandler(NewChecker(&CheckerConfig{Version: "1.0.0"}))

	req := httptest.NewRequest(http.MethodGet, "/health/live", nil)
	w := httptest.NewRecorder()

	handler.LivenessHandler(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}

	var response HealthResponse
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if response.Status != StatusHealthy {
		t.Errorf("expected status healthy, got %s", response.Status)
	}
}

func TestHandler_ReadinessHandler(t *testing.T) {
	tests := []struct {
		name     string
		storage  func(context.Context) error
		wantCode int
	}{
		{"ready", func(context.Context) error { return nil }, http.StatusOK},
		{"storage down", func(context.Context) error { return errors.New("down") }, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := NewHandler(NewChecker(&CheckerConfig{
				Redis:        newRedis(t),
				StorageCheck: tt.storage,
				OutputDir:    t.TempDir(),
			}))

			req := httptest.NewRequest(http.MethodGet, "/health/ready", nil)
			w := httptest.NewRecorder()
			handler.ReadinessHandler(w, req)

			if w.Code != tt.wantCode {
				t.Errorf("expected status %d, got %d", tt.wantCode, w.Code)
			}
		})
	}
}

func TestHandler_HealthHandler_DeepQuery(t *testing.T) {
	handler := NewHandler(NewChecker(&CheckerConfig{Redis: newRedis(t)}))

	req := httptest.NewRequest(http.MethodGet, "/health?deep=true", nil)
	w := httptest.NewRecorder()

	handler.HealthHandler(w, req)

	var response HealthResponse
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if response.Components["redis"].Status != StatusHealthy {
		t.Errorf("expected redis healthy, got %+v", response.Components)
	}
}
