package storage

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/openmusicplayer/mediafetch/internal/config"
	apperrors "github.com/openmusicplayer/mediafetch/internal/errors"
	"github.com/openmusicplayer/mediafetch/internal/metrics"
)

// ObjectStat looks up stored objects; a missing object is (nil, nil)
type ObjectStat interface {
	StatObject(ctx context.Context, key string) (*ObjectInfo, error)
}

// Uploader sends a local file to the bucket
type Uploader interface {
	Upload(ctx context.Context, key, path, contentType string) (int64, error)
}

// Publisher uploads finished media files under a key prefix. Files whose
// size already matches the stored object are skipped.
type Publisher struct {
	stat     ObjectStat
	uploader Uploader
	prefix   string
	metrics  *metrics.Metrics
	logger   zerolog.Logger
}

// NewPublisher creates a publisher from its collaborators
func NewPublisher(stat ObjectStat, uploader Uploader, prefix string, m *metrics.Metrics, log zerolog.Logger) *Publisher {
	return &Publisher{
		stat:     stat,
		uploader: uploader,
		prefix:   strings.Trim(prefix, "/"),
		metrics:  m,
		logger:   log.With().Str("component", "storage").Logger(),
	}
}

// FromConfig builds the publisher and the minio client used for health
// checks. S3_BUCKET and S3_ENDPOINT override the MinIO bucket and endpoint
// for uploads.
func FromConfig(ctx context.Context, cfg *config.Config, m *metrics.Metrics, log zerolog.Logger) (*Publisher, *Client, error) {
	base := &Config{
		Endpoint:  cfg.MinioEndpoint,
		AccessKey: cfg.MinioAccessKey,
		SecretKey: cfg.MinioSecretKey,
		Bucket:    cfg.MinioBucket,
		UseSSL:    cfg.MinioUseSSL,
		Region:    cfg.S3Region,
	}
	if cfg.S3Bucket != "" {
		base.Bucket = cfg.S3Bucket
	}

	client, err := New(base)
	if err != nil {
		return nil, nil, err
	}
	if err := client.EnsureBucket(ctx); err != nil {
		return nil, nil, err
	}

	endpoint := cfg.S3Endpoint
	if endpoint == "" {
		endpoint = endpointURL(cfg.MinioEndpoint, cfg.MinioUseSSL)
	}

	return NewPublisher(client, NewS3Uploader(base, endpoint), cfg.S3Prefix, m, log), client, nil
}

func endpointURL(endpoint string, useSSL bool) string {
	if strings.HasPrefix(endpoint, "http://") || strings.HasPrefix(endpoint, "https://") {
		return endpoint
	}
	if useSSL {
		return "https://" + endpoint
	}
	return "http://" + endpoint
}

// Key returns the object key for a relative file key
func (p *Publisher) Key(key string) string {
	key = strings.TrimLeft(filepath.ToSlash(key), "/")
	if p.prefix == "" {
		return key
	}
	return path.Join(p.prefix, key)
}

// Publish uploads localPath under key and returns the stored object key
func (p *Publisher) Publish(ctx context.Context, localPath, key string) (string, error) {
	info, err := os.Stat(localPath)
	if err != nil {
		return "", fmt.Errorf("failed to stat %s: %w", localPath, err)
	}

	objectKey := p.Key(key)
	existing, err := p.stat.StatObject(ctx, objectKey)
	if err != nil {
		return "", apperrors.StorageError("failed to look up "+objectKey).WithCause(err)
	}
	if existing != nil && existing.Size == info.Size() {
		p.logger.Debug().Str("key", objectKey).Msg("object already stored, skipping upload")
		return objectKey, nil
	}

	n, err := p.uploader.Upload(ctx, objectKey, localPath, ContentType(localPath))
	if err != nil {
		return "", apperrors.StorageError("failed to upload "+objectKey).WithCause(err)
	}
	p.metrics.AddPublishedBytes(n)

	p.logger.Info().Str("key", objectKey).Int64("bytes", n).Msg("published")
	return objectKey, nil
}

// ContentType guesses a MIME type from the file extension
func ContentType(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".mp3":
		return "audio/mpeg"
	case ".mp4", ".m4v":
		return "video/mp4"
	case ".m4a":
		return "audio/mp4"
	case ".webm":
		return "video/webm"
	case ".srt":
		return "application/x-subrip"
	}
	if t := mime.TypeByExtension(filepath.Ext(name)); t != "" {
		return t
	}
	return "application/octet-stream"
}
