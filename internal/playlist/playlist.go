// Package playlist fans a playlist out into item pipelines: unbounded
// metadata resolution followed by a bounded download pool.
package playlist

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	apperrors "github.com/openmusicplayer/mediafetch/internal/errors"
	"github.com/openmusicplayer/mediafetch/internal/pipeline"
	"github.com/openmusicplayer/mediafetch/internal/provider"
	"github.com/openmusicplayer/mediafetch/internal/workspace"
)

// DefaultMaxWorkers bounds concurrent item downloads
const DefaultMaxWorkers = 4

// ItemProcessor is the part of the item pipeline the orchestrator drives
type ItemProcessor interface {
	Process(ctx context.Context, jobID string, item *provider.MediaItem, subfolder string, sel pipeline.Selection, progress pipeline.ProgressFunc) pipeline.Result
}

// Transcoder converts a delivered file to audio
type Transcoder interface {
	Transcode(ctx context.Context, inputPath string) (string, error)
}

// Report summarizes a playlist run
type Report struct {
	Title     string            `json:"title"`
	Folder    string            `json:"folder"`
	Entries   int               `json:"entries"`
	Resolved  int               `json:"resolved"`
	Results   []pipeline.Result `json:"results"` // completion order
	Succeeded int               `json:"succeeded"`
	Failed    int               `json:"failed"`
}

// Progress is reported after every item reaches a terminal state
type Progress struct {
	Completed int
	Total     int
	Last      pipeline.Result
}

// Orchestrator runs playlists
type Orchestrator struct {
	provider   provider.Provider
	items      ItemProcessor
	transcoder Transcoder
	workspace  *workspace.Manager
	retry      *apperrors.RetryConfig
	maxWorkers int
	logger     zerolog.Logger
}

// Config holds the orchestrator's collaborators
type Config struct {
	Provider   provider.Provider
	Items      ItemProcessor
	Transcoder Transcoder
	Workspace  *workspace.Manager
	Retry      *apperrors.RetryConfig
	MaxWorkers int
	Logger     zerolog.Logger
}

// New creates an orchestrator
func New(cfg Config) *Orchestrator {
	workers := cfg.MaxWorkers
	if workers <= 0 {
		workers = DefaultMaxWorkers
	}
	retry := cfg.Retry
	if retry == nil {
		retry = apperrors.DefaultRetryConfig()
	}
	return &Orchestrator{
		provider:   cfg.Provider,
		items:      cfg.Items,
		transcoder: cfg.Transcoder,
		workspace:  cfg.Workspace,
		retry:      retry,
		maxWorkers: workers,
		logger:     cfg.Logger.With().Str("component", "playlist").Logger(),
	}
}

// Run downloads every entry of the playlist at url. Item failures are
// recorded in the report, never returned. The job workspace is reclaimed
// before Run returns, whatever the outcome.
func (o *Orchestrator) Run(ctx context.Context, jobID, url string, sel pipeline.Selection, onProgress func(Progress)) (*Report, error) {
	if _, err := o.workspace.Prepare(jobID); err != nil {
		return nil, err
	}
	defer o.workspace.Reclaim(context.WithoutCancel(ctx), jobID)

	log := o.logger.With().Str("job_id", jobID).Logger()

	info, err := apperrors.RetryWithResult(ctx, o.retry, "resolve_playlist", log, func(ctx context.Context) (*provider.PlaylistInfo, error) {
		return o.provider.ResolvePlaylist(ctx, url)
	})
	if err != nil {
		return nil, err
	}

	folder := workspace.SanitizeName(info.Title)
	log.Info().Str("title", info.Title).Int("entries", len(info.Entries)).Msg("playlist resolved")

	if err := o.workspace.EnsureDirectory(o.workspace.TemporaryDir(jobID, folder)); err != nil {
		return nil, err
	}
	if err := o.workspace.EnsureDirectory(o.workspace.DestinationDir(folder)); err != nil {
		return nil, err
	}

	report := &Report{Title: info.Title, Folder: folder, Entries: len(info.Entries)}

	items := o.resolveAll(ctx, info.Entries, log)
	report.Resolved = len(items)

	report.Results = o.downloadAll(ctx, jobID, folder, items, sel, onProgress)

	if sel.ConvertToAudio && o.transcoder != nil {
		o.transcodeAll(ctx, report.Results, log)
	}

	for _, r := range report.Results {
		if r.Failed() {
			report.Failed++
		} else if !r.Empty() {
			report.Succeeded++
		}
	}

	log.Info().
		Int("entries", report.Entries).
		Int("resolved", report.Resolved).
		Int("succeeded", report.Succeeded).
		Int("failed", report.Failed).
		Msg("playlist complete")
	return report, nil
}

// resolveAll resolves every entry concurrently and drops failures,
// keeping playlist order among the survivors.
func (o *Orchestrator) resolveAll(ctx context.Context, entries []string, log zerolog.Logger) []*provider.MediaItem {
	resolved := make([]*provider.MediaItem, len(entries))

	var g errgroup.Group
	for i, entry := range entries {
		i, entry := i, entry
		g.Go(func() error {
			item, err := o.provider.ResolveItem(ctx, entry)
			if err != nil {
				log.Warn().Err(err).Str("url", entry).Msg("dropping unresolvable playlist entry")
				return nil
			}
			resolved[i] = item
			return nil
		})
	}
	g.Wait()

	items := make([]*provider.MediaItem, 0, len(entries))
	for _, item := range resolved {
		if item != nil {
			items = append(items, item)
		}
	}
	return items
}

// downloadAll runs the item pipeline with at most maxWorkers items in
// flight and returns results in completion order.
func (o *Orchestrator) downloadAll(ctx context.Context, jobID, folder string, items []*provider.MediaItem, sel pipeline.Selection, onProgress func(Progress)) []pipeline.Result {
	var (
		mu      sync.Mutex
		results = make([]pipeline.Result, 0, len(items))
	)

	var g errgroup.Group
	g.SetLimit(o.maxWorkers)
	for _, item := range items {
		item := item
		g.Go(func() error {
			res := o.items.Process(ctx, jobID, item, folder, sel, nil)

			mu.Lock()
			results = append(results, res)
			p := Progress{Completed: len(results), Total: len(items), Last: res}
			mu.Unlock()

			if onProgress != nil {
				onProgress(p)
			}
			return nil
		})
	}
	g.Wait()
	return results
}

func (o *Orchestrator) transcodeAll(ctx context.Context, results []pipeline.Result, log zerolog.Logger) {
	var g errgroup.Group
	for i := range results {
		if results[i].Failed() || results[i].Empty() {
			continue
		}
		i := i
		g.Go(func() error {
			out, err := o.transcoder.Transcode(ctx, results[i].Path)
			if err != nil {
				log.Error().Err(err).Str("path", results[i].Path).Msg("transcode failed")
				return nil
			}
			results[i].Artifacts = append(results[i].Artifacts, pipeline.Artifact{
				ItemID: results[i].ItemID,
				Kind:   pipeline.ArtifactTranscoded,
				Stage:  pipeline.StageFinal,
				Path:   out,
			})
			return nil
		})
	}
	g.Wait()
}
