package websocket

import (
	"github.com/openmusicplayer/mediafetch/internal/download"
)

// ProgressMessage is one job update sent to watchers
type ProgressMessage struct {
	Type      string `json:"type"`
	JobID     string `json:"job_id"`
	Status    string `json:"status"`
	Progress  int    `json:"progress"`
	Error     string `json:"error,omitempty"`
	Title     string `json:"title,omitempty"`
	Succeeded int    `json:"succeeded,omitempty"`
	Failed    int    `json:"failed,omitempty"`
}

// Terminal reports whether no further updates follow this one
func (m *ProgressMessage) Terminal() bool {
	return m.Type == typeUnavailable || m.Status == download.StatusComplete || m.Status == download.StatusFailed
}

const (
	typeProgress    = "download_progress"
	typeUnavailable = "unavailable"
)

func unavailable(jobID string) *ProgressMessage {
	return &ProgressMessage{
		Type:  typeUnavailable,
		JobID: jobID,
		Error: "progress stream unavailable",
	}
}

func messageFor(job *download.DownloadJob) *ProgressMessage {
	return &ProgressMessage{
		Type:      typeProgress,
		JobID:     job.ID,
		Status:    job.Status,
		Progress:  job.Progress,
		Error:     job.Error,
		Title:     job.Title,
		Succeeded: job.Succeeded,
		Failed:    job.Failed,
	}
}
