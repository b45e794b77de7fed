package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/openmusicplayer/mediafetch/internal/api"
	"github.com/openmusicplayer/mediafetch/internal/auth"
	"github.com/openmusicplayer/mediafetch/internal/download"
	"github.com/openmusicplayer/mediafetch/internal/health"
	"github.com/openmusicplayer/mediafetch/internal/metrics"
	"github.com/openmusicplayer/mediafetch/internal/validators"
	"github.com/openmusicplayer/mediafetch/internal/websocket"
)

var (
	serveWithWorkers bool
	serveSubmitLimit int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the submission API",
	Long: `Start the HTTP API that validates and enqueues download requests and
reports their progress. With --with-workers the same process also runs jobs.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&serveWithWorkers, "with-workers", false, "Also run download workers in this process")
	serveCmd.Flags().IntVar(&serveSubmitLimit, "submit-limit", api.DefaultSubmitLimit, "Submissions per minute per client")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	m := metrics.Default()

	var (
		svc          *download.Service
		storageCheck func(context.Context) error
	)
	if serveWithWorkers {
		workers, stack, err := startWorkers(ctx, m)
		if err != nil {
			return err
		}
		svc = workers
		if stack.storage != nil {
			storageCheck = stack.storage.Ping
		}
	} else {
		producer, err := download.NewService(&download.ServiceConfig{
			RedisURL:  cfg.RedisURL,
			QueueName: cfg.QueueName,
			Logger:    log,
		}, nil)
		if err != nil {
			return err
		}
		svc = producer
	}

	checker := health.NewChecker(&health.CheckerConfig{
		Redis:        svc.Queue().Client(),
		StorageCheck: storageCheck,
		OutputDir:    cfg.BasePath,
		Version:      version,
	})

	hub := websocket.NewHub(svc, m, log)
	go hub.Run(ctx)

	var authService *auth.Service
	if cfg.AuthRequired {
		authService = auth.NewService(cfg.JWTSecret)
	}

	router := api.NewRouter(api.RouterConfig{
		Downloads:   svc,
		Validators:  validators.DefaultRegistry(),
		Auth:        authService,
		Health:      health.NewHandler(checker),
		WebSocket:   websocket.NewHandler(hub, svc, log),
		Metrics:     m,
		Logger:      log,
		SubmitLimit: serveSubmitLimit,
		CORSOrigins: cfg.CORSOrigins,
	})

	httpServer := &http.Server{
		Addr:              cfg.ServerAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.ServerAddr).Bool("workers", serveWithWorkers).Bool("auth", cfg.AuthRequired).Msg("HTTP server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}

	log.Info().Msg("shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
	if err := svc.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("download service shutdown failed")
	}

	log.Info().Msg("mediafetch stopped")
	return serveErr
}
