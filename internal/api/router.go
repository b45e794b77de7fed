// Package api exposes the job submission surface: enqueue, inspect and
// watch downloads, validate URLs, health and metrics.
package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/rs/zerolog"

	"github.com/openmusicplayer/mediafetch/internal/auth"
	apperrors "github.com/openmusicplayer/mediafetch/internal/errors"
	"github.com/openmusicplayer/mediafetch/internal/health"
	"github.com/openmusicplayer/mediafetch/internal/logger"
	"github.com/openmusicplayer/mediafetch/internal/metrics"
	"github.com/openmusicplayer/mediafetch/internal/validators"
	"github.com/openmusicplayer/mediafetch/internal/websocket"
)

// DefaultSubmitLimit is the number of submissions per minute per client
const DefaultSubmitLimit = 30

// RouterConfig holds the handlers' collaborators. Auth, Health, WebSocket
// and Metrics are optional.
type RouterConfig struct {
	Downloads   DownloadService
	Validators  *validators.Registry
	Auth        *auth.Service
	Health      *health.Handler
	WebSocket   *websocket.Handler
	Metrics     *metrics.Metrics
	Logger      zerolog.Logger
	SubmitLimit int
	CORSOrigins []string
}

// NewRouter builds the HTTP handler
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(apperrors.RequestIDMiddleware)
	r.Use(logger.RecoveryMiddleware(cfg.Logger))
	r.Use(logger.LoggingMiddleware(cfg.Logger))
	if len(cfg.CORSOrigins) > 0 {
		r.Use(cors(cfg.CORSOrigins))
	}
	if cfg.Metrics != nil {
		r.Use(metrics.MetricsMiddleware(cfg.Metrics))
		r.Method(http.MethodGet, "/metrics", cfg.Metrics.Handler())
	}

	if cfg.Health != nil {
		r.Get("/health", cfg.Health.HealthHandler)
		r.Get("/health/live", cfg.Health.LivenessHandler)
		r.Get("/health/ready", cfg.Health.ReadinessHandler)
	}

	downloads := NewDownloadHandlers(cfg.Downloads, cfg.Validators)
	validate := validators.NewHandlers(cfg.Validators)

	limit := cfg.SubmitLimit
	if limit <= 0 {
		limit = DefaultSubmitLimit
	}

	r.Route("/api/v1", func(r chi.Router) {
		if cfg.Auth != nil {
			r.Use(auth.Middleware(cfg.Auth))
		}

		r.Get("/validate", apperrors.HandleFunc(validate.ValidateURLQuery))
		r.Post("/validate", apperrors.HandleFunc(validate.ValidateURL))
		r.Get("/validate/sources", apperrors.HandleFunc(validate.GetSupportedSources))

		r.Route("/downloads", func(r chi.Router) {
			r.With(submitRateLimit(limit, time.Minute)).Post("/", apperrors.HandleFunc(downloads.CreateDownload))
			r.With(jobETag).Get("/", apperrors.HandleFunc(downloads.ListJobs))
			r.With(jobETag).Get("/{id}", apperrors.HandleFunc(downloads.GetJob))
			if cfg.WebSocket != nil {
				r.Get("/{id}/events", cfg.WebSocket.ServeWS)
			}
		})
	})

	return r
}

// submitRateLimit caps submissions per client IP with a sliding window
func submitRateLimit(requests int, window time.Duration) func(http.Handler) http.Handler {
	return httprate.Limit(
		requests,
		window,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", fmt.Sprintf("%d", int(window.Seconds())))
			apperrors.WriteError(w, apperrors.GetRequestID(r.Context()), apperrors.RateLimited())
		}),
	)
}
