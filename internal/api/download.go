package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/openmusicplayer/mediafetch/internal/download"
	apperrors "github.com/openmusicplayer/mediafetch/internal/errors"
	"github.com/openmusicplayer/mediafetch/internal/job"
	"github.com/openmusicplayer/mediafetch/internal/validators"
)

const timeFormat = "2006-01-02T15:04:05Z"

// DownloadService is the queue side of the download service
type DownloadService interface {
	EnqueueDownload(ctx context.Context, url, mask string, toAudio bool) (*download.DownloadJob, error)
	GetJob(ctx context.Context, jobID string) (*download.DownloadJob, error)
	ListJobs(ctx context.Context) ([]*download.DownloadJob, error)
	GetQueueLength(ctx context.Context) (int64, error)
}

type DownloadHandlers struct {
	downloadService DownloadService
	registry        *validators.Registry
}

func NewDownloadHandlers(downloadService DownloadService, registry *validators.Registry) *DownloadHandlers {
	return &DownloadHandlers{
		downloadService: downloadService,
		registry:        registry,
	}
}

// CreateDownloadRequest represents the request body for creating a download.
// An empty mask means ALL.
type CreateDownloadRequest struct {
	URL     string `json:"url"`
	Mask    string `json:"mask"`
	ToAudio bool   `json:"to_audio"`
}

// CreateDownloadResponse represents the response for a created download job
type CreateDownloadResponse struct {
	JobID     string               `json:"job_id"`
	Status    string               `json:"status"`
	MediaType validators.MediaType `json:"media_type"`
	URL       string               `json:"url"`
}

// GetJobResponse represents a job status response
type GetJobResponse struct {
	JobID       string                `json:"job_id"`
	Status      string                `json:"status"`
	Progress    int                   `json:"progress"`
	Error       string                `json:"error,omitempty"`
	URL         string                `json:"url"`
	Mask        string                `json:"mask"`
	ToAudio     bool                  `json:"to_audio"`
	Title       string                `json:"title,omitempty"`
	Succeeded   int                   `json:"succeeded"`
	Failed      int                   `json:"failed"`
	RetryCount  int                   `json:"retry_count"`
	Results     []download.ItemResult `json:"results,omitempty"`
	CreatedAt   string                `json:"created_at"`
	StartedAt   *string               `json:"started_at,omitempty"`
	CompletedAt *string               `json:"completed_at,omitempty"`
}

// ListJobsResponse is the body of GET /api/v1/downloads
type ListJobsResponse struct {
	Jobs        []GetJobResponse `json:"jobs"`
	QueueLength int64            `json:"queue_length"`
}

// CreateDownload handles POST /api/v1/downloads
func (h *DownloadHandlers) CreateDownload(w http.ResponseWriter, r *http.Request) error {
	var req CreateDownloadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return apperrors.BadRequest("invalid request body")
	}

	if req.URL == "" {
		return apperrors.ValidationError("url is required")
	}

	if req.Mask == "" {
		req.Mask = job.MaskAll
	}
	if !job.ValidMask(req.Mask) {
		return apperrors.InvalidMask(req.Mask)
	}

	result := h.registry.Validate(req.URL)
	if !result.Valid {
		return apperrors.UnsupportedSource(req.URL).WithDetails(map[string]any{"reason": result.Error})
	}

	queued, err := h.downloadService.EnqueueDownload(r.Context(), result.Canonical, req.Mask, req.ToAudio)
	if err != nil {
		return apperrors.QueueError("failed to create download job").WithCause(err)
	}

	apperrors.WriteJSON(w, apperrors.GetRequestID(r.Context()), http.StatusAccepted, CreateDownloadResponse{
		JobID:     queued.ID,
		Status:    queued.Status,
		MediaType: result.MediaType,
		URL:       queued.URL,
	})
	return nil
}

// GetJob handles GET /api/v1/downloads/{id}
func (h *DownloadHandlers) GetJob(w http.ResponseWriter, r *http.Request) error {
	jobID := chi.URLParam(r, "id")

	found, err := h.downloadService.GetJob(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, download.ErrJobNotFound) {
			return apperrors.JobNotFound()
		}
		return apperrors.QueueError("failed to load job").WithCause(err)
	}

	apperrors.WriteJSON(w, apperrors.GetRequestID(r.Context()), http.StatusOK, toJobResponse(found))
	return nil
}

// ListJobs handles GET /api/v1/downloads. ?status= filters by status.
func (h *DownloadHandlers) ListJobs(w http.ResponseWriter, r *http.Request) error {
	jobs, err := h.downloadService.ListJobs(r.Context())
	if err != nil {
		return apperrors.QueueError("failed to retrieve jobs").WithCause(err)
	}

	length, err := h.downloadService.GetQueueLength(r.Context())
	if err != nil {
		return apperrors.QueueError("failed to read queue length").WithCause(err)
	}

	status := r.URL.Query().Get("status")
	resp := ListJobsResponse{
		Jobs:        make([]GetJobResponse, 0, len(jobs)),
		QueueLength: length,
	}
	for _, j := range jobs {
		if status != "" && j.Status != status {
			continue
		}
		resp.Jobs = append(resp.Jobs, toJobResponse(j))
	}

	apperrors.WriteJSON(w, apperrors.GetRequestID(r.Context()), http.StatusOK, resp)
	return nil
}

func toJobResponse(j *download.DownloadJob) GetJobResponse {
	resp := GetJobResponse{
		JobID:      j.ID,
		Status:     j.Status,
		Progress:   j.Progress,
		Error:      j.Error,
		URL:        j.URL,
		Mask:       j.ContentMask,
		ToAudio:    j.ToAudio,
		Title:      j.Title,
		Succeeded:  j.Succeeded,
		Failed:     j.Failed,
		RetryCount: j.RetryCount,
		Results:    j.Results,
		CreatedAt:  j.CreatedAt.UTC().Format(timeFormat),
	}

	if j.StartedAt != nil {
		startedAt := j.StartedAt.UTC().Format(timeFormat)
		resp.StartedAt = &startedAt
	}
	if j.CompletedAt != nil {
		completedAt := j.CompletedAt.UTC().Format(timeFormat)
		resp.CompletedAt = &completedAt
	}
	return resp
}
