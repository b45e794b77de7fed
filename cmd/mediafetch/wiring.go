package main

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/openmusicplayer/mediafetch/internal/cache"
	apperrors "github.com/openmusicplayer/mediafetch/internal/errors"
	"github.com/openmusicplayer/mediafetch/internal/ffmpeg"
	"github.com/openmusicplayer/mediafetch/internal/job"
	"github.com/openmusicplayer/mediafetch/internal/metrics"
	"github.com/openmusicplayer/mediafetch/internal/pipeline"
	"github.com/openmusicplayer/mediafetch/internal/playlist"
	"github.com/openmusicplayer/mediafetch/internal/provider"
	"github.com/openmusicplayer/mediafetch/internal/storage"
	"github.com/openmusicplayer/mediafetch/internal/workspace"
	"github.com/openmusicplayer/mediafetch/internal/ytdlp"
)

// mediaStack is the download stack shared by the worker, serve and fetch commands
type mediaStack struct {
	runner  *job.Runner
	storage *storage.Client // nil unless publishing is enabled
}

// buildStack wires provider, engine, pipeline and orchestrator. rdb may
// be nil, which disables the metadata cache.
func buildStack(ctx context.Context, rdb *redis.Client, m *metrics.Metrics) (*mediaStack, error) {
	ws := workspace.New(cfg.BasePath, cfg.CleanupDelay, log)
	if err := ws.EnsureDirectory(cfg.BasePath); err != nil {
		return nil, err
	}

	yt, err := ytdlp.New(&ytdlp.Config{YtdlpPath: cfg.YtDlpPath}, log)
	if err != nil {
		return nil, fmt.Errorf("initialize provider: %w", err)
	}

	var prov provider.Provider = yt
	if rdb != nil && cfg.MetadataCacheTTL > 0 {
		prov = provider.WithCache(prov, cache.NewFromClient(rdb, log), cfg.MetadataCacheTTL)
	}
	prov = provider.WithRateLimit(prov, cfg.ProviderRateLimit)

	retry := apperrors.DefaultRetryConfig()
	retry.BaseDelay = cfg.RetryBaseDelay

	engine := ffmpeg.NewProcessor(&ffmpeg.Binary{Command: cfg.FFmpegPath}, cfg.FFmpegGlobalFlags, log)

	items := pipeline.New(pipeline.Config{
		Provider:  prov,
		Merger:    engine,
		Workspace: ws,
		Retry:     retry,
		Metrics:   m,
		Logger:    log,
	})

	playlists := playlist.New(playlist.Config{
		Provider:   prov,
		Items:      items,
		Transcoder: engine,
		Workspace:  ws,
		Retry:      retry,
		MaxWorkers: cfg.MaxProcessWorkers,
		Logger:     log,
	})

	rt := &mediaStack{}
	var publisher job.Publisher
	if cfg.StorageEnabled {
		pub, client, err := storage.FromConfig(ctx, cfg, m, log)
		if err != nil {
			return nil, fmt.Errorf("initialize storage: %w", err)
		}
		publisher = pub
		rt.storage = client
		log.Info().Str("bucket", client.Bucket()).Msg("publishing finished files")
	}

	rt.runner = job.New(job.Config{
		Items:      items,
		Playlists:  playlists,
		Transcoder: engine,
		Publisher:  publisher,
		Workspace:  ws,
		Logger:     log,
	})
	return rt, nil
}
