package pipeline

import (
	"context"
)

// Selection says which representations to fetch for an item
type Selection struct {
	DownloadVideo  bool `json:"download_video"`
	DownloadAudio  bool `json:"download_audio"`
	ConvertToAudio bool `json:"convert_to_audio"`
}

// Any reports whether at least one stream is requested
func (s Selection) Any() bool {
	return s.DownloadVideo || s.DownloadAudio
}

// ArtifactKind is what a file on disk contains
type ArtifactKind string

const (
	ArtifactVideo      ArtifactKind = "video"
	ArtifactAudio      ArtifactKind = "audio"
	ArtifactSubtitles  ArtifactKind = "subtitles"
	ArtifactMerged     ArtifactKind = "merged"
	ArtifactTranscoded ArtifactKind = "transcoded"
)

// ArtifactStage separates workspace intermediates from delivered files
type ArtifactStage string

const (
	StageIntermediate ArtifactStage = "intermediate"
	StageFinal        ArtifactStage = "final"
)

// Artifact records one file produced while processing an item
type Artifact struct {
	ItemID string        `json:"item_id"`
	Kind   ArtifactKind  `json:"kind"`
	Stage  ArtifactStage `json:"stage"`
	Path   string        `json:"path"`
}

// Result is the terminal outcome of one item.
// A failed item has Err set and no Path; an empty result has neither.
type Result struct {
	ItemID    string       `json:"item_id"`
	Title     string       `json:"title"`
	Path      string       `json:"path,omitempty"`
	Kind      ArtifactKind `json:"kind,omitempty"`
	Artifacts []Artifact   `json:"artifacts,omitempty"`
	Err       error        `json:"-"`
}

// Failed reports whether the item ended in an error
func (r Result) Failed() bool {
	return r.Err != nil
}

// Empty reports the non-fatal "nothing was requested or available" outcome
func (r Result) Empty() bool {
	return r.Err == nil && r.Path == ""
}

// Outcome is a short label for logs and metrics
func (r Result) Outcome() string {
	switch {
	case r.Failed():
		return "failed"
	case r.Empty():
		return "empty"
	default:
		return string(r.Kind)
	}
}

// Stage names reported through progress events
const (
	StepResolve  = "resolve"
	StepDownload = "download"
	StepCaptions = "captions"
	StepMerge    = "merge"
	StepDone     = "done"
)

// ProgressEvent reports where an item is in the pipeline
type ProgressEvent struct {
	ItemID  string
	Title   string
	Step    string
	Percent float64
}

// ProgressFunc receives progress events. Implementations must be safe for
// concurrent use since acquisitions run in parallel.
type ProgressFunc func(ev ProgressEvent)

// Merger muxes separate streams into one container
type Merger interface {
	Merge(ctx context.Context, videoPath, audioPath, subtitlePath, outputPath string) error
}
