package logger

import (
	"context"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	apperrors "github.com/openmusicplayer/mediafetch/internal/errors"
)

// Config holds options for the process logger
type Config struct {
	Level       string    // debug, info, warn, error
	Environment string    // "development" switches to console output
	Output      io.Writer // defaults to os.Stdout
	Service     string
}

var (
	mu   sync.RWMutex
	base = zerolog.New(os.Stdout).With().Timestamp().Logger()
)

// Configure builds the process-wide base logger and returns it
func Configure(cfg Config) zerolog.Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	if cfg.Environment == "development" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	service := cfg.Service
	if service == "" {
		service = "mediafetch"
	}

	zerolog.TimeFieldFormat = time.RFC3339
	l := zerolog.New(out).Level(ParseLevel(cfg.Level)).With().
		Timestamp().
		Str("service", service).
		Logger()

	mu.Lock()
	base = l
	mu.Unlock()
	return l
}

// Default returns the configured base logger
func Default() zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return base
}

// WithComponent returns a child logger tagged with the component name
func WithComponent(component string) zerolog.Logger {
	return Default().With().Str("component", component).Logger()
}

// ParseLevel maps a level name to a zerolog level, defaulting to info
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

type contextKey string

const jobIDKey contextKey = "job_id"

// ContextWithJobID stores the job id for log correlation
func ContextWithJobID(ctx context.Context, jobID string) context.Context {
	return context.WithValue(ctx, jobIDKey, jobID)
}

// JobIDFromContext returns the job id stored in ctx, if any
func JobIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(jobIDKey).(string); ok {
		return v
	}
	return ""
}

// FromContext enriches l with the correlation ids carried by ctx
func FromContext(ctx context.Context, l zerolog.Logger) zerolog.Logger {
	lc := l.With()
	if id := JobIDFromContext(ctx); id != "" {
		lc = lc.Str("job_id", id)
	}
	if id := apperrors.GetRequestID(ctx); id != "" {
		lc = lc.Str("request_id", id)
	}
	return lc.Logger()
}
