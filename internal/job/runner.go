// Package job is the entry point for one download request: it classifies
// the URL, dispatches to the item pipeline or the playlist orchestrator,
// applies the optional audio transcode and publishes the results.
package job

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/openmusicplayer/mediafetch/internal/download"
	apperrors "github.com/openmusicplayer/mediafetch/internal/errors"
	"github.com/openmusicplayer/mediafetch/internal/logger"
	"github.com/openmusicplayer/mediafetch/internal/pipeline"
	"github.com/openmusicplayer/mediafetch/internal/playlist"
	"github.com/openmusicplayer/mediafetch/internal/validators"
	"github.com/openmusicplayer/mediafetch/internal/workspace"
)

// Content masks accepted by ParseMask
const (
	MaskAll   = "ALL"
	MaskVideo = "VIDEO"
	MaskAudio = "AUDIO"
)

// ContentSelection says which streams to download and whether to transcode
type ContentSelection = pipeline.Selection

// ParseMask maps a content mask to a selection. Unknown masks select nothing.
func ParseMask(mask string) ContentSelection {
	switch mask {
	case MaskAll:
		return ContentSelection{DownloadVideo: true, DownloadAudio: true}
	case MaskVideo:
		return ContentSelection{DownloadVideo: true}
	case MaskAudio:
		return ContentSelection{DownloadAudio: true}
	default:
		return ContentSelection{}
	}
}

// ValidMask reports whether mask is one of the known content masks
func ValidMask(mask string) bool {
	return mask == MaskAll || mask == MaskVideo || mask == MaskAudio
}

// FormatElapsed renders a duration as seconds below a minute and minutes above
func FormatElapsed(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.2f seconds", d.Seconds())
	}
	return fmt.Sprintf("%.2f minutes", d.Minutes())
}

// ItemFetcher resolves and processes a single item URL
type ItemFetcher interface {
	Fetch(ctx context.Context, jobID, url, subfolder string, sel pipeline.Selection, progress pipeline.ProgressFunc) pipeline.Result
}

// PlaylistRunner downloads every entry of a playlist
type PlaylistRunner interface {
	Run(ctx context.Context, jobID, url string, sel pipeline.Selection, onProgress func(playlist.Progress)) (*playlist.Report, error)
}

// Publisher uploads a finished file and returns its object key
type Publisher interface {
	Publish(ctx context.Context, localPath, key string) (string, error)
}

// Outcome summarizes a finished request
type Outcome struct {
	Kind      validators.MediaType
	Title     string
	Results   []pipeline.Result
	Published map[string]string // local path -> object key
	Succeeded int
	Failed    int
	Elapsed   time.Duration
}

// Runner executes download requests
type Runner struct {
	items      ItemFetcher
	playlists  PlaylistRunner
	transcoder playlist.Transcoder
	publisher  Publisher
	workspace  *workspace.Manager
	logger     zerolog.Logger
}

// Config holds the runner's collaborators. Publisher may be nil.
type Config struct {
	Items      ItemFetcher
	Playlists  PlaylistRunner
	Transcoder playlist.Transcoder
	Publisher  Publisher
	Workspace  *workspace.Manager
	Logger     zerolog.Logger
}

// New creates a runner
func New(cfg Config) *Runner {
	return &Runner{
		items:      cfg.Items,
		playlists:  cfg.Playlists,
		transcoder: cfg.Transcoder,
		publisher:  cfg.Publisher,
		workspace:  cfg.Workspace,
		logger:     cfg.Logger.With().Str("component", "job").Logger(),
	}
}

// Run handles one request with the selection given by mask
func (r *Runner) Run(ctx context.Context, jobID, url, mask string) (*Outcome, error) {
	return r.RunSelection(ctx, jobID, url, ParseMask(mask), nil)
}

// RunSelection handles one request. progress receives an overall
// percentage and may be nil. Item failures are reported in the outcome;
// only a request that could not start at all returns an error.
func (r *Runner) RunSelection(ctx context.Context, jobID, url string, sel ContentSelection, progress func(int)) (*Outcome, error) {
	started := time.Now()
	ctx = logger.ContextWithJobID(ctx, jobID)
	log := logger.FromContext(ctx, r.logger)

	if _, err := r.workspace.Prepare(jobID); err != nil {
		return nil, err
	}
	defer r.workspace.Reclaim(context.WithoutCancel(ctx), jobID)

	out := &Outcome{Kind: validators.Classify(url)}

	switch out.Kind {
	case validators.MediaPlaylist:
		report, err := r.playlists.Run(ctx, jobID, url, sel, func(p playlist.Progress) {
			reportProgress(progress, 5+90*p.Completed/max(p.Total, 1))
		})
		if err != nil {
			return nil, err
		}
		out.Title = report.Title
		out.Results = report.Results

	case validators.MediaItem:
		res := r.items.Fetch(ctx, jobID, url, "", sel, func(ev pipeline.ProgressEvent) {
			reportProgress(progress, itemPercent(ev))
		})
		if sel.ConvertToAudio && !res.Failed() && !res.Empty() {
			res = r.transcode(ctx, res, sel, log)
		}
		out.Title = res.Title
		out.Results = []pipeline.Result{res}

	default:
		log.Warn().Str("url", url).Msg("not a playlist or watch URL, nothing to do")
		return nil, apperrors.ErrUnrecognizedURL
	}

	for _, res := range out.Results {
		switch {
		case res.Failed():
			out.Failed++
		case !res.Empty():
			out.Succeeded++
		}
	}

	if r.publisher != nil {
		out.Published = r.publish(ctx, out.Results, log)
	}

	out.Elapsed = time.Since(started)
	log.Info().
		Int("succeeded", out.Succeeded).
		Int("failed", out.Failed).
		Msgf("Request completed in %s", FormatElapsed(out.Elapsed))
	return out, nil
}

// transcode converts a delivered item. When only audio was downloaded the
// source file is replaced by the transcoded one.
func (r *Runner) transcode(ctx context.Context, res pipeline.Result, sel ContentSelection, log zerolog.Logger) pipeline.Result {
	out, err := r.transcoder.Transcode(ctx, res.Path)
	if err != nil {
		log.Error().Err(err).Str("path", res.Path).Msg("transcode failed")
		res.Err = err
		return res
	}

	res.Artifacts = append(res.Artifacts, pipeline.Artifact{
		ItemID: res.ItemID,
		Kind:   pipeline.ArtifactTranscoded,
		Stage:  pipeline.StageFinal,
		Path:   out,
	})

	if sel.DownloadAudio && !sel.DownloadVideo {
		if err := os.Remove(res.Path); err != nil {
			log.Warn().Err(err).Str("path", res.Path).Msg("failed to remove audio source")
		}
		res.Path = out
		res.Kind = pipeline.ArtifactTranscoded
	}
	return res
}

// publish uploads every final file and returns the keys by local path.
// Upload failures are logged and leave the local file in place.
func (r *Runner) publish(ctx context.Context, results []pipeline.Result, log zerolog.Logger) map[string]string {
	keys := make(map[string]string)
	for _, res := range results {
		if res.Failed() || res.Empty() {
			continue
		}
		paths := []string{res.Path}
		for _, a := range res.Artifacts {
			if a.Stage == pipeline.StageFinal && a.Path != res.Path {
				paths = append(paths, a.Path)
			}
		}
		for _, p := range paths {
			if _, err := os.Stat(p); err != nil {
				continue
			}
			key, err := r.objectKey(p)
			if err != nil {
				log.Warn().Err(err).Str("path", p).Msg("cannot derive object key")
				continue
			}
			stored, err := r.publisher.Publish(ctx, p, key)
			if err != nil {
				log.Error().Err(err).Str("path", p).Msg("publish failed")
				continue
			}
			keys[p] = stored
		}
	}
	return keys
}

func (r *Runner) objectKey(path string) (string, error) {
	rel, err := filepath.Rel(r.workspace.Base(), path)
	if err != nil {
		return "", err
	}
	return filepath.ToSlash(rel), nil
}

func itemPercent(ev pipeline.ProgressEvent) int {
	switch ev.Step {
	case pipeline.StepResolve:
		return 5
	case pipeline.StepDownload:
		return 5 + int(ev.Percent*0.8)
	case pipeline.StepCaptions:
		return 85
	case pipeline.StepMerge:
		return 90
	default:
		return 95
	}
}

func reportProgress(progress func(int), percent int) {
	if progress != nil {
		progress(min(percent, 99))
	}
}

// Process adapts the runner to the worker pool. It records the outcome on
// job so the pool stores it with the terminal status.
func (r *Runner) Process(ctx context.Context, job *download.DownloadJob, progress func(int)) error {
	sel := ParseMask(job.ContentMask)
	sel.ConvertToAudio = job.ToAudio

	out, err := r.RunSelection(ctx, job.ID, job.URL, sel, progress)
	if err != nil {
		return err
	}

	job.Title = out.Title
	job.Succeeded = out.Succeeded
	job.Failed = out.Failed
	job.Results = make([]download.ItemResult, 0, len(out.Results))
	for _, res := range out.Results {
		item := download.ItemResult{
			ItemID:    res.ItemID,
			Title:     res.Title,
			Path:      res.Path,
			Outcome:   res.Outcome(),
			ObjectKey: out.Published[res.Path],
		}
		if res.Err != nil {
			item.Error = res.Err.Error()
		}
		job.Results = append(job.Results, item)
	}

	if out.Failed > 0 && out.Succeeded == 0 {
		return apperrors.DownloadError(fmt.Sprintf("all %d items failed", out.Failed))
	}
	return nil
}
