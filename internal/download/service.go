package download

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/openmusicplayer/mediafetch/internal/metrics"
)

// Service provides download job management functionality
type Service struct {
	queue      *Queue
	workerPool *WorkerPool
	logger     zerolog.Logger
}

// ServiceConfig holds configuration for the download service
type ServiceConfig struct {
	RedisURL    string
	QueueName   string
	WorkerCount int
	MaxRetries  int
	JobTimeout  time.Duration
	Metrics     *metrics.Metrics
	Logger      zerolog.Logger
}

// NewService creates a new download service. A nil processor gives a
// producer-only service that enqueues and reports but never runs jobs.
func NewService(config *ServiceConfig, processor JobProcessor) (*Service, error) {
	queue, err := NewQueue(config.RedisURL, config.QueueName)
	if err != nil {
		return nil, err
	}
	return NewServiceWithQueue(queue, config, processor), nil
}

// NewServiceWithQueue builds a service around an existing queue
func NewServiceWithQueue(queue *Queue, config *ServiceConfig, processor JobProcessor) *Service {
	s := &Service{
		queue:  queue,
		logger: config.Logger.With().Str("component", "download_service").Logger(),
	}
	if processor != nil {
		s.workerPool = NewWorkerPool(queue, processor, &WorkerPoolConfig{
			WorkerCount: config.WorkerCount,
			MaxRetries:  config.MaxRetries,
			JobTimeout:  config.JobTimeout,
			Metrics:     config.Metrics,
			Logger:      config.Logger,
		})
	}
	return s
}

// Start starts the worker pool
func (s *Service) Start() {
	if s.workerPool != nil {
		s.workerPool.Start()
	}
}

// Stop gracefully stops the service
func (s *Service) Stop(ctx context.Context) error {
	if s.workerPool != nil {
		if err := s.workerPool.Stop(ctx); err != nil {
			s.logger.Warn().Err(err).Msg("worker pool stop error")
		}
	}
	return s.queue.Close()
}

// Queue returns the underlying job queue
func (s *Service) Queue() *Queue {
	return s.queue
}

// EnqueueDownload adds a new download job to the queue
func (s *Service) EnqueueDownload(ctx context.Context, url, mask string, toAudio bool) (*DownloadJob, error) {
	job, err := s.queue.EnqueueJob(ctx, url, mask, toAudio)
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("job_id", job.ID).Str("url", url).Str("mask", mask).Msg("job enqueued")
	return job, nil
}

// GetJob retrieves a job by ID
func (s *Service) GetJob(ctx context.Context, jobID string) (*DownloadJob, error) {
	return s.queue.GetJob(ctx, jobID)
}

// ListJobs retrieves all stored jobs
func (s *Service) ListJobs(ctx context.Context) ([]*DownloadJob, error) {
	return s.queue.ListJobs(ctx)
}

// GetQueueLength returns the number of pending jobs
func (s *Service) GetQueueLength(ctx context.Context) (int64, error) {
	return s.queue.QueueLength(ctx)
}

// SubscribeToJob returns a subscription for one job's progress events.
// It returns once Redis has confirmed the subscription, so no update
// published afterwards is missed.
func (s *Service) SubscribeToJob(ctx context.Context, jobID string) (*ProgressSubscription, error) {
	pubsub := s.queue.SubscribeProgress(ctx, jobID)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to job %s: %w", jobID, err)
	}
	return newProgressSubscription(pubsub), nil
}

// IsRunning returns whether the worker pool is running
func (s *Service) IsRunning() bool {
	return s.workerPool != nil && s.workerPool.IsRunning()
}
