package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/openmusicplayer/mediafetch/internal/download"
	"github.com/openmusicplayer/mediafetch/internal/metrics"
)

var workerMetricsAddr string

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run download workers against the Redis queue",
	RunE:  runWorker,
}

func init() {
	workerCmd.Flags().StringVar(&workerMetricsAddr, "metrics-addr", "", "Serve /metrics on this address (disabled when empty)")
	rootCmd.AddCommand(workerCmd)
}

// startWorkers connects to the queue and starts a pool running the job runner
func startWorkers(ctx context.Context, m *metrics.Metrics) (*download.Service, *mediaStack, error) {
	queue, err := download.NewQueue(cfg.RedisURL, cfg.QueueName)
	if err != nil {
		return nil, nil, err
	}

	rt, err := buildStack(ctx, queue.Client(), m)
	if err != nil {
		queue.Close()
		return nil, nil, err
	}

	svc := download.NewServiceWithQueue(queue, &download.ServiceConfig{
		WorkerCount: cfg.WorkerCount,
		MaxRetries:  cfg.QueueMaxRetries,
		JobTimeout:  cfg.JobTimeout,
		Metrics:     m,
		Logger:      log,
	}, rt.runner.Process)
	svc.Start()
	return svc, rt, nil
}

func runWorker(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	m := metrics.Default()
	svc, _, err := startWorkers(ctx, m)
	if err != nil {
		return err
	}

	var metricsServer *http.Server
	if workerMetricsAddr != "" {
		metricsServer = &http.Server{Addr: workerMetricsAddr, Handler: m.Handler(), ReadHeaderTimeout: 10 * time.Second}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("metrics server error")
			}
		}()
	}

	log.Info().Str("version", version).Int("workers", cfg.WorkerCount).Str("queue", cfg.QueueName).Msg("worker started")
	<-ctx.Done()
	log.Info().Msg("shutting down workers...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if metricsServer != nil {
		metricsServer.Shutdown(shutdownCtx)
	}
	return svc.Stop(shutdownCtx)
}
