package download

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	// DefaultQueueName prefixes every Redis key of the queue
	DefaultQueueName = "downloads"

	// Default timeout for blocking operations
	defaultBlockTimeout = 5 * time.Second

	// Finished jobs are kept around this long for status queries
	finishedJobTTL = 7 * 24 * time.Hour
)

var (
	ErrJobNotFound = errors.New("job not found")
	ErrQueueEmpty  = errors.New("queue is empty")
)

// Queue manages download jobs using Redis
type Queue struct {
	client *redis.Client
	name   string
}

// NewQueue creates a new job queue with the given Redis URL
func NewQueue(redisURL, name string) (*Queue, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return NewQueueFromClient(client, name), nil
}

// NewQueueFromClient wraps an existing Redis client
func NewQueueFromClient(client *redis.Client, name string) *Queue {
	if name == "" {
		name = DefaultQueueName
	}
	return &Queue{client: client, name: name}
}

// Client returns the underlying Redis client for pub/sub operations
func (q *Queue) Client() *redis.Client {
	return q.client
}

// Name returns the queue name
func (q *Queue) Name() string {
	return q.name
}

// Close closes the Redis connection
func (q *Queue) Close() error {
	return q.client.Close()
}

func (q *Queue) listKey() string {
	return q.name + ":queue"
}

func (q *Queue) jobKey(jobID string) string {
	return q.name + ":job:" + jobID
}

func (q *Queue) progressChannel(jobID string) string {
	return q.name + ":progress:" + jobID
}

// Enqueue adds a new job to the queue and returns without waiting for it
func (q *Queue) Enqueue(ctx context.Context, url, mask string) (*DownloadJob, error) {
	return q.EnqueueJob(ctx, url, mask, false)
}

// EnqueueJob is Enqueue with an audio transcode requested for finished files
func (q *Queue) EnqueueJob(ctx context.Context, url, mask string, toAudio bool) (*DownloadJob, error) {
	now := time.Now()
	job := &DownloadJob{
		ID:          uuid.New().String(),
		URL:         url,
		ContentMask: mask,
		ToAudio:     toAudio,
		Status:      StatusQueued,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := q.saveJob(ctx, job); err != nil {
		return nil, err
	}

	if err := q.client.LPush(ctx, q.listKey(), job.ID).Err(); err != nil {
		return nil, fmt.Errorf("failed to enqueue job: %w", err)
	}

	return job, nil
}

// Dequeue retrieves and removes a job from the queue (blocking)
func (q *Queue) Dequeue(ctx context.Context, timeout time.Duration) (*DownloadJob, error) {
	if timeout == 0 {
		timeout = defaultBlockTimeout
	}

	result, err := q.client.BRPop(ctx, timeout, q.listKey()).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrQueueEmpty
		}
		return nil, fmt.Errorf("failed to dequeue job: %w", err)
	}

	if len(result) < 2 {
		return nil, ErrQueueEmpty
	}

	return q.GetJob(ctx, result[1])
}

// GetJob retrieves a job by ID
func (q *Queue) GetJob(ctx context.Context, jobID string) (*DownloadJob, error) {
	data, err := q.client.Get(ctx, q.jobKey(jobID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	var job DownloadJob
	if err := json.Unmarshal([]byte(data), &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}

	return &job, nil
}

// UpdateStatus updates the job status and publishes a progress event
func (q *Queue) UpdateStatus(ctx context.Context, jobID, status string, progress int, errMsg string) error {
	job, err := q.GetJob(ctx, jobID)
	if err != nil {
		return err
	}

	job.Status = status
	job.Progress = progress
	job.Error = errMsg
	job.UpdatedAt = time.Now()

	if status == StatusRunning && job.StartedAt == nil {
		now := time.Now()
		job.StartedAt = &now
	}

	if status == StatusComplete || status == StatusFailed {
		now := time.Now()
		job.CompletedAt = &now
	}

	if err := q.saveJob(ctx, job); err != nil {
		return err
	}

	return q.publishProgress(ctx, job)
}

// Finish stores the outcome recorded on done and moves the job to a terminal state
func (q *Queue) Finish(ctx context.Context, done *DownloadJob, jobErr error) error {
	job, err := q.GetJob(ctx, done.ID)
	if err != nil {
		return err
	}

	now := time.Now()
	job.Title = done.Title
	job.Results = done.Results
	job.Succeeded = done.Succeeded
	job.Failed = done.Failed
	job.UpdatedAt = now
	job.CompletedAt = &now

	if jobErr != nil {
		job.Status = StatusFailed
		job.Error = jobErr.Error()
	} else {
		job.Status = StatusComplete
		job.Progress = 100
		job.Error = ""
	}

	if err := q.saveJob(ctx, job); err != nil {
		return err
	}
	return q.publishProgress(ctx, job)
}

// IncrementRetry increments the retry count and requeues the job
func (q *Queue) IncrementRetry(ctx context.Context, jobID string) error {
	job, err := q.GetJob(ctx, jobID)
	if err != nil {
		return err
	}

	job.RetryCount++
	job.Status = StatusQueued
	job.Error = ""
	job.CompletedAt = nil
	job.UpdatedAt = time.Now()

	if err := q.saveJob(ctx, job); err != nil {
		return err
	}

	return q.client.LPush(ctx, q.listKey(), jobID).Err()
}

// ListJobs returns every stored job in no particular order
func (q *Queue) ListJobs(ctx context.Context) ([]*DownloadJob, error) {
	var jobs []*DownloadJob

	iter := q.client.Scan(ctx, 0, q.jobKey("*"), 100).Iterator()
	for iter.Next(ctx) {
		data, err := q.client.Get(ctx, iter.Val()).Result()
		if err != nil {
			continue
		}

		var job DownloadJob
		if err := json.Unmarshal([]byte(data), &job); err != nil {
			continue
		}
		jobs = append(jobs, &job)
	}

	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan jobs: %w", err)
	}

	return jobs, nil
}

// QueueLength returns the number of jobs waiting in the queue
func (q *Queue) QueueLength(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.listKey()).Result()
}

// saveJob saves a job to Redis. Terminal jobs expire.
func (q *Queue) saveJob(ctx context.Context, job *DownloadJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	var ttl time.Duration
	if job.IsTerminal() {
		ttl = finishedJobTTL
	}
	return q.client.Set(ctx, q.jobKey(job.ID), data, ttl).Err()
}

// publishProgress publishes a progress event via Redis Pub/Sub
func (q *Queue) publishProgress(ctx context.Context, job *DownloadJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal progress event: %w", err)
	}

	return q.client.Publish(ctx, q.progressChannel(job.ID), data).Err()
}

// SubscribeProgress subscribes to progress events for a single job
func (q *Queue) SubscribeProgress(ctx context.Context, jobID string) *redis.PubSub {
	return q.client.Subscribe(ctx, q.progressChannel(jobID))
}
