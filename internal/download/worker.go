package download

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	apperrors "github.com/openmusicplayer/mediafetch/internal/errors"
	"github.com/openmusicplayer/mediafetch/internal/metrics"
)

const (
	// Default configuration values
	DefaultWorkerCount = 1
	DefaultMaxRetries  = 0
	DefaultJobTimeout  = 96 * time.Hour

	// Exponential backoff parameters for requeued jobs
	baseBackoff = 1 * time.Second
	maxBackoff  = 5 * time.Minute
)

// JobProcessor is the function signature for processing a download job.
// The processor may record Title, Results and counts on job; they are
// stored when the job finishes.
type JobProcessor func(ctx context.Context, job *DownloadJob, progress func(int)) error

// WorkerPool manages a pool of workers that process download jobs
type WorkerPool struct {
	queue        *Queue
	workerCount  int
	maxRetries   int
	jobTimeout   time.Duration
	blockTimeout time.Duration
	processor    JobProcessor
	metrics      *metrics.Metrics
	logger       zerolog.Logger

	wg         sync.WaitGroup
	stopChan   chan struct{}
	pollCancel context.CancelFunc
	runCtx     context.Context
	runCancel  context.CancelFunc
	mu         sync.RWMutex
	running    bool
}

// WorkerPoolConfig holds configuration for the worker pool
type WorkerPoolConfig struct {
	WorkerCount  int
	MaxRetries   int
	JobTimeout   time.Duration
	BlockTimeout time.Duration
	Metrics      *metrics.Metrics
	Logger       zerolog.Logger
}

// NewWorkerPool creates a new worker pool
func NewWorkerPool(queue *Queue, processor JobProcessor, config *WorkerPoolConfig) *WorkerPool {
	if config == nil {
		config = &WorkerPoolConfig{Logger: zerolog.Nop()}
	}

	workerCount := config.WorkerCount
	if workerCount <= 0 {
		workerCount = DefaultWorkerCount
	}

	maxRetries := config.MaxRetries
	if maxRetries < 0 {
		maxRetries = DefaultMaxRetries
	}

	jobTimeout := config.JobTimeout
	if jobTimeout <= 0 {
		jobTimeout = DefaultJobTimeout
	}

	blockTimeout := config.BlockTimeout
	if blockTimeout <= 0 {
		blockTimeout = defaultBlockTimeout
	}

	return &WorkerPool{
		queue:        queue,
		workerCount:  workerCount,
		maxRetries:   maxRetries,
		jobTimeout:   jobTimeout,
		blockTimeout: blockTimeout,
		processor:    processor,
		metrics:      config.Metrics,
		logger:       config.Logger.With().Str("component", "worker_pool").Logger(),
		stopChan:     make(chan struct{}),
	}
}

// Start launches the worker pool
func (wp *WorkerPool) Start() {
	wp.mu.Lock()
	defer wp.mu.Unlock()

	if wp.running {
		return
	}

	wp.running = true
	wp.stopChan = make(chan struct{})

	var pollCtx context.Context
	pollCtx, wp.pollCancel = context.WithCancel(context.Background())
	wp.runCtx, wp.runCancel = context.WithCancel(context.Background())

	for i := 0; i < wp.workerCount; i++ {
		wp.wg.Add(1)
		go wp.worker(pollCtx, i)
	}

	wp.logger.Info().Int("workers", wp.workerCount).Msg("worker pool started")
}

// Stop stops taking new jobs and waits for running ones. When ctx expires
// first, running jobs are cancelled and ctx.Err() is returned.
func (wp *WorkerPool) Stop(ctx context.Context) error {
	wp.mu.Lock()
	if !wp.running {
		wp.mu.Unlock()
		return nil
	}
	wp.running = false
	close(wp.stopChan)
	wp.pollCancel()
	wp.mu.Unlock()

	done := make(chan struct{})
	go func() {
		wp.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		wp.runCancel()
		wp.logger.Info().Msg("worker pool stopped gracefully")
		return nil
	case <-ctx.Done():
		wp.runCancel()
		<-done
		wp.logger.Warn().Msg("worker pool shutdown timed out, running jobs cancelled")
		return ctx.Err()
	}
}

// IsRunning returns whether the worker pool is currently running
func (wp *WorkerPool) IsRunning() bool {
	wp.mu.RLock()
	defer wp.mu.RUnlock()
	return wp.running
}

// worker is the main loop for a single worker
func (wp *WorkerPool) worker(pollCtx context.Context, id int) {
	defer wp.wg.Done()

	log := wp.logger.With().Int("worker", id).Logger()
	log.Debug().Msg("worker started")

	for {
		select {
		case <-wp.stopChan:
			log.Debug().Msg("worker stopping")
			return
		default:
			wp.processNextJob(pollCtx, log)
		}
	}
}

// processNextJob dequeues and processes the next available job
func (wp *WorkerPool) processNextJob(pollCtx context.Context, log zerolog.Logger) {
	job, err := wp.queue.Dequeue(pollCtx, wp.blockTimeout)
	if err != nil {
		if errors.Is(err, ErrQueueEmpty) || pollCtx.Err() != nil {
			return
		}
		log.Error().Err(err).Msg("failed to dequeue job")
		// Avoid spinning while Redis is unreachable
		select {
		case <-time.After(wp.blockTimeout):
		case <-pollCtx.Done():
		}
		return
	}

	if n, err := wp.queue.QueueLength(wp.runCtx); err == nil {
		wp.metrics.SetDownloadQueueLength(n)
	}

	log.Info().Str("job_id", job.ID).Str("url", job.URL).Msg("processing job")
	wp.processJob(wp.runCtx, log.With().Str("job_id", job.ID).Logger(), job)
}

// processJob handles the full lifecycle of a single job
func (wp *WorkerPool) processJob(ctx context.Context, log zerolog.Logger, job *DownloadJob) {
	jobCtx, cancel := context.WithTimeout(ctx, wp.jobTimeout)
	defer cancel()

	// Status writes outlive a cancelled job so the failure is still recorded
	store := context.WithoutCancel(ctx)

	if err := wp.queue.UpdateStatus(store, job.ID, StatusRunning, 0, ""); err != nil {
		log.Error().Err(err).Msg("failed to update job status to running")
		return
	}
	job.Status = StatusRunning

	var (
		progressMu sync.Mutex
		last       int
	)
	progressFn := func(progress int) {
		progressMu.Lock()
		defer progressMu.Unlock()
		if progress <= last {
			return
		}
		last = progress
		if err := wp.queue.UpdateStatus(store, job.ID, StatusRunning, progress, ""); err != nil {
			log.Warn().Err(err).Msg("failed to update progress")
		}
	}

	started := time.Now()
	err := wp.run(jobCtx, job, progressFn)
	elapsed := time.Since(started)

	if err != nil {
		wp.metrics.JobFinished(StatusFailed, elapsed)
		wp.handleJobFailure(store, log, job, err)
		return
	}

	wp.metrics.JobFinished(StatusComplete, elapsed)
	if err := wp.queue.Finish(store, job, nil); err != nil {
		log.Error().Err(err).Msg("failed to update job status to complete")
	}

	log.Info().Dur("elapsed", elapsed).Msg("job completed")
}

// run invokes the processor, turning a panic into a job failure
func (wp *WorkerPool) run(ctx context.Context, job *DownloadJob, progress func(int)) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.New("job processor panicked")
			wp.logger.Error().Interface("panic", r).Str("job_id", job.ID).Msg("job processor panicked")
		}
	}()
	return wp.processor(ctx, job, progress)
}

// handleJobFailure records a failed job and requeues it when retries remain
func (wp *WorkerPool) handleJobFailure(ctx context.Context, log zerolog.Logger, job *DownloadJob, jobErr error) {
	log.Error().Err(jobErr).Msg("job failed")

	if err := wp.queue.Finish(ctx, job, jobErr); err != nil {
		log.Error().Err(err).Msg("failed to update job status to failed")
		return
	}

	updatedJob, err := wp.queue.GetJob(ctx, job.ID)
	if err != nil {
		log.Error().Err(err).Msg("failed to get updated job")
		return
	}

	if wp.maxRetries > 0 && !apperrors.IsRetryable(jobErr) {
		log.Info().Msg("job failure is permanent, not retrying")
		return
	}

	if !updatedJob.CanRetry(wp.maxRetries) {
		if wp.maxRetries > 0 {
			log.Warn().Int("max_retries", wp.maxRetries).Msg("job exceeded max retries")
		}
		return
	}

	backoff := calculateBackoff(updatedJob.RetryCount)
	log.Info().
		Dur("backoff", backoff).
		Int("attempt", updatedJob.RetryCount+1).
		Int("max_retries", wp.maxRetries).
		Msg("scheduling job retry")

	select {
	case <-time.After(backoff):
	case <-wp.runCtx.Done():
		return
	}

	if err := wp.queue.IncrementRetry(ctx, job.ID); err != nil {
		log.Error().Err(err).Msg("failed to requeue job for retry")
	}
}

// calculateBackoff calculates the exponential backoff duration for a given retry count
func calculateBackoff(retryCount int) time.Duration {
	backoff := time.Duration(math.Pow(2, float64(retryCount))) * baseBackoff
	if backoff > maxBackoff {
		backoff = maxBackoff
	}
	return backoff
}
