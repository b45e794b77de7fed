// Package pipeline runs a single media item from resolution through
// concurrent acquisition, captions and the final merge or move.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/renameio/v2"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/openmusicplayer/mediafetch/internal/captions"
	apperrors "github.com/openmusicplayer/mediafetch/internal/errors"
	"github.com/openmusicplayer/mediafetch/internal/metrics"
	"github.com/openmusicplayer/mediafetch/internal/provider"
	"github.com/openmusicplayer/mediafetch/internal/workspace"
)

// Filename prefixes for intermediates in the job workspace
const (
	VideoPrefix     = "__VIDEO__"
	AudioPrefix     = "__AUDIO__"
	SubtitlesPrefix = "__SUBTITLES__"
)

// PreferredAudioContainer is picked over higher ranked audio in other containers
const PreferredAudioContainer = "webm"

// MergedExt is the container of merged items. mp4 takes VP9, H.264, Opus
// and AAC streams as copied, and mov_text subtitles.
const MergedExt = ".mp4"

var errNoItem = errors.New("provider returned no item")

// Pipeline processes one item at a time; it is safe to share between goroutines
type Pipeline struct {
	provider  provider.Provider
	merger    Merger
	workspace *workspace.Manager
	retry     *apperrors.RetryConfig
	metrics   *metrics.Metrics
	logger    zerolog.Logger
}

// Config holds the pipeline's collaborators
type Config struct {
	Provider  provider.Provider
	Merger    Merger
	Workspace *workspace.Manager
	Retry     *apperrors.RetryConfig
	Metrics   *metrics.Metrics
	Logger    zerolog.Logger
}

// New creates a pipeline
func New(cfg Config) *Pipeline {
	retry := cfg.Retry
	if retry == nil {
		retry = apperrors.DefaultRetryConfig()
	}
	return &Pipeline{
		provider:  cfg.Provider,
		merger:    cfg.Merger,
		workspace: cfg.Workspace,
		retry:     retry,
		metrics:   cfg.Metrics,
		logger:    cfg.Logger.With().Str("component", "pipeline").Logger(),
	}
}

// Fetch resolves a single item URL and processes it
func (p *Pipeline) Fetch(ctx context.Context, jobID, url, subfolder string, sel Selection, progress ProgressFunc) Result {
	emit(progress, ProgressEvent{ItemID: url, Step: StepResolve})

	item, err := p.provider.ResolveItem(ctx, url)
	if err == nil && item == nil {
		err = errNoItem
	}
	if err != nil {
		if apperrors.KindOf(err) != apperrors.KindResolve {
			err = apperrors.NewMediaError(apperrors.KindResolve, "resolve", url, err)
		}
		p.logger.Error().Err(err).Str("url", url).Msg("failed to resolve item")
		p.metrics.ItemFinished("failed")
		return Result{ItemID: url, Err: err}
	}
	return p.Process(ctx, jobID, item, subfolder, sel, progress)
}

// SelectVideo returns the highest ranked video-only variant, or nil
func SelectVideo(item *provider.MediaItem) *provider.StreamVariant {
	return best(provider.VariantsOf(item, provider.KindVideo), nil)
}

// SelectAudio prefers the best webm audio-only variant and falls back to
// the best audio-only variant of any container.
func SelectAudio(item *provider.MediaItem) *provider.StreamVariant {
	audio := provider.VariantsOf(item, provider.KindAudio)
	if v := best(audio, func(v provider.StreamVariant) bool {
		return strings.EqualFold(v.Container, PreferredAudioContainer)
	}); v != nil {
		return v
	}
	return best(audio, nil)
}

func best(variants []provider.StreamVariant, keep func(provider.StreamVariant) bool) *provider.StreamVariant {
	var out *provider.StreamVariant
	for i := range variants {
		v := variants[i]
		if keep != nil && !keep(v) {
			continue
		}
		if out == nil || v.Rank > out.Rank {
			out = &v
		}
	}
	return out
}

// Process downloads, merges and delivers an already resolved item.
// It never panics and never returns an error: failures become a failed Result.
func (p *Pipeline) Process(ctx context.Context, jobID string, item *provider.MediaItem, subfolder string, sel Selection, progress ProgressFunc) (res Result) {
	if item == nil {
		err := apperrors.NewMediaError(apperrors.KindResolve, "process", "", errNoItem)
		p.logger.Error().Err(err).Str("job_id", jobID).Msg("nothing to process")
		p.metrics.ItemFinished("failed")
		return Result{Err: err}
	}

	log := p.logger.With().Str("job_id", jobID).Str("item_id", item.ID).Str("title", item.Title).Logger()

	p.metrics.ItemStarted()
	defer p.metrics.ItemDone()

	defer func() {
		if r := recover(); r != nil {
			res = Result{
				ItemID: item.ID,
				Title:  item.Title,
				Err:    apperrors.NewMediaError(apperrors.KindUnexpected, "process", item.Title, fmt.Errorf("panic: %v", r)),
			}
		}
		if res.Err != nil {
			log.Error().Err(res.Err).Msgf("Error when downloading item: %s", item.Title)
		}
		p.metrics.ItemFinished(res.Outcome())
		emit(progress, ProgressEvent{ItemID: item.ID, Title: item.Title, Step: StepDone, Percent: 100})
	}()

	log.Info().Msg("downloading item")
	title := workspace.SanitizeName(item.Title)
	stem := intermediateStem(item, title)

	tempDir := p.workspace.TemporaryDir(jobID, subfolder)
	if err := p.workspace.EnsureDirectory(tempDir); err != nil {
		return Result{ItemID: item.ID, Title: item.Title, Err: err}
	}

	var videoVariant, audioVariant *provider.StreamVariant
	if sel.DownloadVideo {
		videoVariant = SelectVideo(item)
		log.Debug().Interface("variant", videoVariant).Msg("selected video stream")
	}
	if sel.DownloadAudio {
		audioVariant = SelectAudio(item)
		log.Debug().Interface("variant", audioVariant).Msg("selected audio stream")
	}

	video, audio, err := p.acquire(ctx, item, stem, tempDir, videoVariant, audioVariant, progress)
	if err != nil {
		return Result{ItemID: item.ID, Title: item.Title, Err: err}
	}

	var subtitles *Artifact
	if video != nil {
		emit(progress, ProgressEvent{ItemID: item.ID, Title: item.Title, Step: StepCaptions})
		subtitles = p.fetchSubtitles(ctx, item, stem, tempDir, log)
	}

	return p.finalize(ctx, jobID, item, title, subfolder, video, audio, subtitles, progress, log)
}

// intermediateStem names an item's files in the job workspace. The item ID
// keeps items with the same title apart.
func intermediateStem(item *provider.MediaItem, title string) string {
	return workspace.SanitizeName(item.ID) + "_" + title
}

// acquire downloads the selected variants concurrently. Both must finish
// before finalize runs.
func (p *Pipeline) acquire(ctx context.Context, item *provider.MediaItem, stem, dir string, videoVariant, audioVariant *provider.StreamVariant, progress ProgressFunc) (*Artifact, *Artifact, error) {
	var video, audio *Artifact
	g, gctx := errgroup.WithContext(ctx)

	var mu sync.Mutex
	percents := map[provider.VariantKind]float64{}
	report := func(kind provider.VariantKind) provider.ProgressFunc {
		if progress == nil {
			return nil
		}
		return func(percent float64) {
			mu.Lock()
			percents[kind] = percent
			var total float64
			for _, v := range percents {
				total += v
			}
			avg := total / float64(len(percents))
			mu.Unlock()
			progress(ProgressEvent{ItemID: item.ID, Title: item.Title, Step: StepDownload, Percent: avg})
		}
	}

	if videoVariant != nil {
		v := *videoVariant
		path := filepath.Join(dir, VideoPrefix+stem+"."+v.Container)
		g.Go(func() error {
			if err := p.fetch(gctx, item, v, path, report(provider.KindVideo)); err != nil {
				return err
			}
			video = &Artifact{ItemID: item.ID, Kind: ArtifactVideo, Stage: StageIntermediate, Path: path}
			return nil
		})
	}

	if audioVariant != nil {
		v := *audioVariant
		path := filepath.Join(dir, AudioPrefix+stem+"."+v.Container)
		g.Go(func() error {
			if err := p.fetch(gctx, item, v, path, report(provider.KindAudio)); err != nil {
				return err
			}
			audio = &Artifact{ItemID: item.ID, Kind: ArtifactAudio, Stage: StageIntermediate, Path: path}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		// The sibling may have finished before the failure
		for _, a := range []*Artifact{video, audio} {
			if a != nil {
				os.Remove(a.Path)
			}
		}
		return nil, nil, err
	}
	return video, audio, nil
}

// fetch runs on an errgroup goroutine, so it recovers its own panics
func (p *Pipeline) fetch(ctx context.Context, item *provider.MediaItem, v provider.StreamVariant, path string, progress provider.ProgressFunc) (err error) {
	op := "fetch_" + string(v.Kind)
	defer func() {
		if r := recover(); r != nil {
			err = apperrors.NewMediaError(apperrors.KindUnexpected, op, item.Title, fmt.Errorf("panic: %v", r))
		}
	}()
	return apperrors.Retry(ctx, p.retry, op, p.logger.With().Str("title", item.Title).Logger(), func(ctx context.Context) error {
		err := p.provider.FetchVariant(ctx, item, v, path, progress)
		if err != nil {
			p.metrics.FetchRetried(op)
		}
		return err
	})
}

// fetchSubtitles writes the SRT next to the video download. Any failure is
// logged and yields no subtitles.
func (p *Pipeline) fetchSubtitles(ctx context.Context, item *provider.MediaItem, stem, dir string, log zerolog.Logger) *Artifact {
	tracks, err := apperrors.RetryWithResult(ctx, p.retry, "list_captions", log, func(ctx context.Context) ([]provider.CaptionTrack, error) {
		return p.provider.ListCaptionTracks(ctx, item)
	})
	if err != nil {
		log.Warn().Err(err).Msg("could not list caption tracks")
		return nil
	}

	track := captions.SelectTrack(tracks)
	if track == nil {
		log.Debug().Msg("no manual english captions")
		return nil
	}

	payload, err := apperrors.RetryWithResult(ctx, p.retry, "fetch_caption", log, func(ctx context.Context) ([]byte, error) {
		return p.provider.FetchCaption(ctx, *track)
	})
	if err != nil {
		log.Warn().Err(err).Msg("could not fetch captions")
		return nil
	}

	srt, err := captions.Convert(payload)
	if err != nil {
		log.Warn().Err(apperrors.NewMediaError(apperrors.KindCaption, "convert", item.Title, err)).Msg("generating subtitles failed")
		return nil
	}

	path := filepath.Join(dir, SubtitlesPrefix+stem+".srt")
	if err := renameio.WriteFile(path, []byte(srt), 0o644); err != nil {
		log.Warn().Err(err).Msg("writing subtitles failed")
		return nil
	}
	return &Artifact{ItemID: item.ID, Kind: ArtifactSubtitles, Stage: StageIntermediate, Path: path}
}

// finalize delivers the acquired files. Destinations are claimed so two
// items with the same title never share a path.
func (p *Pipeline) finalize(ctx context.Context, jobID string, item *provider.MediaItem, title, subfolder string, video, audio, subtitles *Artifact, progress ProgressFunc, log zerolog.Logger) Result {
	res := Result{ItemID: item.ID, Title: item.Title}

	switch {
	case video != nil && audio != nil:
		emit(progress, ProgressEvent{ItemID: item.ID, Title: item.Title, Step: StepMerge})
		output := p.workspace.ClaimDestination(jobID, item.ID, subfolder, title, MergedExt)

		subPath := ""
		if subtitles != nil {
			subPath = subtitles.Path
		}

		start := time.Now()
		if err := p.merger.Merge(ctx, video.Path, audio.Path, subPath, output); err != nil {
			res.Err = err
			return res
		}
		p.metrics.ObserveMerge(time.Since(start))

		for _, a := range []*Artifact{video, audio, subtitles} {
			if a == nil {
				continue
			}
			if err := os.Remove(a.Path); err != nil && !os.IsNotExist(err) {
				log.Warn().Err(err).Str("path", a.Path).Msg("failed to remove intermediate")
			}
		}

		res.Path = output
		res.Kind = ArtifactMerged
		res.Artifacts = []Artifact{{ItemID: item.ID, Kind: ArtifactMerged, Stage: StageFinal, Path: output}}

	case audio != nil:
		dst := p.workspace.ClaimDestination(jobID, item.ID, subfolder, title, filepath.Ext(audio.Path))
		if err := p.workspace.MoveFile(audio.Path, dst); err != nil {
			res.Err = apperrors.NewMediaError(apperrors.KindProcessing, "deliver", item.Title, err)
			return res
		}
		res.Path = dst
		res.Kind = ArtifactAudio
		res.Artifacts = []Artifact{{ItemID: item.ID, Kind: ArtifactAudio, Stage: StageFinal, Path: dst}}

	case video != nil:
		dst := p.workspace.ClaimDestination(jobID, item.ID, subfolder, title, filepath.Ext(video.Path))
		if err := p.workspace.MoveFile(video.Path, dst); err != nil {
			res.Err = apperrors.NewMediaError(apperrors.KindProcessing, "deliver", item.Title, err)
			return res
		}
		res.Path = dst
		res.Kind = ArtifactVideo
		res.Artifacts = []Artifact{{ItemID: item.ID, Kind: ArtifactVideo, Stage: StageFinal, Path: dst}}

		// Without a merge the subtitles ship as a sidecar
		if subtitles != nil {
			subDst := strings.TrimSuffix(dst, filepath.Ext(dst)) + ".srt"
			if err := p.workspace.MoveFile(subtitles.Path, subDst); err != nil {
				log.Warn().Err(err).Msg("failed to deliver subtitles")
			} else {
				res.Artifacts = append(res.Artifacts, Artifact{ItemID: item.ID, Kind: ArtifactSubtitles, Stage: StageFinal, Path: subDst})
			}
		}

	default:
		log.Info().Msg("no streams acquired, nothing to deliver")
		return res
	}

	log.Info().Str("path", res.Path).Str("kind", string(res.Kind)).Msg("item complete")
	return res
}

func emit(progress ProgressFunc, ev ProgressEvent) {
	if progress != nil {
		progress(ev)
	}
}
