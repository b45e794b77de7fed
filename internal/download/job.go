package download

import (
	"time"
)

// Job status constants representing the job lifecycle
const (
	StatusQueued   = "queued"
	StatusRunning  = "running"
	StatusComplete = "complete"
	StatusFailed   = "failed"
)

// ItemResult is the stored outcome of one media item of a job
type ItemResult struct {
	ItemID    string `json:"item_id,omitempty"`
	Title     string `json:"title,omitempty"`
	Path      string `json:"path,omitempty"`
	Outcome   string `json:"outcome"`
	Error     string `json:"error,omitempty"`
	ObjectKey string `json:"object_key,omitempty"`
}

// DownloadJob represents a download request in the queue
type DownloadJob struct {
	ID          string       `json:"id"`
	URL         string       `json:"url"`
	ContentMask string       `json:"content_mask"`
	ToAudio     bool         `json:"to_audio,omitempty"`
	Status      string       `json:"status"`
	Progress    int          `json:"progress"`
	Error       string       `json:"error,omitempty"`
	RetryCount  int          `json:"retry_count"`
	Title       string       `json:"title,omitempty"`
	Results     []ItemResult `json:"results,omitempty"`
	Succeeded   int          `json:"succeeded"`
	Failed      int          `json:"failed"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
	StartedAt   *time.Time   `json:"started_at,omitempty"`
	CompletedAt *time.Time   `json:"completed_at,omitempty"`
}

// IsTerminal returns true if the job is in a terminal state
func (j *DownloadJob) IsTerminal() bool {
	return j.Status == StatusComplete || j.Status == StatusFailed
}

// CanRetry returns true if the job can be retried
func (j *DownloadJob) CanRetry(maxRetries int) bool {
	return j.Status == StatusFailed && j.RetryCount < maxRetries
}

// Elapsed returns the run time of a started job
func (j *DownloadJob) Elapsed() time.Duration {
	if j.StartedAt == nil {
		return 0
	}
	if j.CompletedAt != nil {
		return j.CompletedAt.Sub(*j.StartedAt)
	}
	return time.Since(*j.StartedAt)
}
