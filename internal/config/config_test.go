package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("MEDIAFETCH_CONFIG", "")
	t.Setenv("YT_DOWNLOADER_PATH", "")
	t.Setenv("MAX_PROCESS_WORKERS", "")
	t.Setenv("FFMPEG_GLOBAL_FLAGS", "")
	os.Unsetenv("FFMPEG_GLOBAL_FLAGS")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.BasePath != "./downloads" {
		t.Errorf("expected ./downloads, got %s", cfg.BasePath)
	}
	if cfg.MaxProcessWorkers != 4 {
		t.Errorf("expected 4 workers, got %d", cfg.MaxProcessWorkers)
	}
	if cfg.JobTimeout != 96*time.Hour {
		t.Errorf("expected 96h job timeout, got %v", cfg.JobTimeout)
	}
	if cfg.RetryBaseDelay != 10*time.Second {
		t.Errorf("expected 10s retry base, got %v", cfg.RetryBaseDelay)
	}
	if cfg.CleanupDelay != 2*time.Second {
		t.Errorf("expected 2s cleanup delay, got %v", cfg.CleanupDelay)
	}
	if cfg.JWTSecret == "" {
		t.Error("expected generated JWT secret")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("MEDIAFETCH_CONFIG", "")
	t.Setenv("YT_DOWNLOADER_PATH", "/srv/media")
	t.Setenv("MAX_PROCESS_WORKERS", "8")
	t.Setenv("FFMPEG_GLOBAL_FLAGS", "-threads 2  -hide_banner")
	t.Setenv("JOB_TIMEOUT", "1h")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.BasePath != "/srv/media" {
		t.Errorf("expected /srv/media, got %s", cfg.BasePath)
	}
	if cfg.MaxProcessWorkers != 8 {
		t.Errorf("expected 8, got %d", cfg.MaxProcessWorkers)
	}
	want := []string{"-threads", "2", "-hide_banner"}
	if !reflect.DeepEqual(cfg.FFmpegGlobalFlags, want) {
		t.Errorf("expected %v, got %v", want, cfg.FFmpegGlobalFlags)
	}
	if cfg.JobTimeout != time.Hour {
		t.Errorf("expected 1h, got %v", cfg.JobTimeout)
	}
}

func TestLoad_FileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := `
basePath: /from/file
maxProcessWorkers: 2
cleanupDelay: 500ms
queue:
  name: media-jobs
  workers: 3
storage:
  enabled: true
  bucket: finished
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("MEDIAFETCH_CONFIG", path)
	t.Setenv("YT_DOWNLOADER_PATH", "")
	t.Setenv("MAX_PROCESS_WORKERS", "6")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.BasePath != "/from/file" {
		t.Errorf("expected file base path, got %s", cfg.BasePath)
	}
	if cfg.MaxProcessWorkers != 6 {
		t.Errorf("env should win over file, got %d", cfg.MaxProcessWorkers)
	}
	if cfg.CleanupDelay != 500*time.Millisecond {
		t.Errorf("expected 500ms, got %v", cfg.CleanupDelay)
	}
	if cfg.QueueName != "media-jobs" || cfg.WorkerCount != 3 {
		t.Errorf("queue section not applied: %s/%d", cfg.QueueName, cfg.WorkerCount)
	}
	if !cfg.StorageEnabled || cfg.MinioBucket != "finished" {
		t.Errorf("storage section not applied")
	}
}

func TestLoad_UnknownFileKey(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("basePaht: /typo\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("MEDIAFETCH_CONFIG", path)

	if _, err := Load(); err == nil {
		t.Fatal("expected error for unknown key")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults ok", func(c *Config) {}, ""},
		{"empty base path", func(c *Config) { c.BasePath = " " }, "YT_DOWNLOADER_PATH"},
		{"zero pool", func(c *Config) { c.MaxProcessWorkers = 0 }, "MAX_PROCESS_WORKERS"},
		{"zero workers", func(c *Config) { c.WorkerCount = 0 }, "WORKER_COUNT"},
		{"negative retries", func(c *Config) { c.QueueMaxRetries = -1 }, "QUEUE_MAX_RETRIES"},
		{"auth without secret", func(c *Config) { c.AuthRequired = true }, "JWT_SECRET"},
		{"auth with secret", func(c *Config) {
			c.AuthRequired = true
			c.JWTSecret = "s"
		}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestLoad_CORSOrigins(t *testing.T) {
	t.Setenv("MEDIAFETCH_CONFIG", "")
	t.Setenv("CORS_ORIGINS", "https://a.example,https://b.example")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := []string{"https://a.example", "https://b.example"}
	if !reflect.DeepEqual(cfg.CORSOrigins, want) {
		t.Errorf("expected %v, got %v", want, cfg.CORSOrigins)
	}
}
