package ytdlp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	apperrors "github.com/openmusicplayer/mediafetch/internal/errors"
	"github.com/openmusicplayer/mediafetch/internal/provider"
)

// Config holds configuration for the yt-dlp service
type Config struct {
	// YtdlpPath is the path to yt-dlp binary (default: "yt-dlp")
	YtdlpPath string
	// HTTPClient fetches caption payloads
	HTTPClient *http.Client
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		YtdlpPath:  "yt-dlp",
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Service implements provider.Provider on top of the yt-dlp binary
type Service struct {
	cfg    *Config
	logger zerolog.Logger
}

var _ provider.Provider = (*Service)(nil)

// New creates a new yt-dlp service
func New(cfg *Config, logger zerolog.Logger) (*Service, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.YtdlpPath == "" {
		cfg.YtdlpPath = "yt-dlp"
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = DefaultConfig().HTTPClient
	}

	// Verify yt-dlp is available
	if _, err := exec.LookPath(cfg.YtdlpPath); err != nil {
		return nil, ErrYtdlpNotFound
	}

	return &Service{
		cfg:    cfg,
		logger: logger.With().Str("component", "ytdlp").Logger(),
	}, nil
}

// ResolveItem retrieves metadata and the format list for a single item
func (s *Service) ResolveItem(ctx context.Context, sourceURL string) (*provider.MediaItem, error) {
	out, err := s.runJSON(ctx, "resolve", sourceURL,
		"--dump-json",
		"--no-download",
		"--no-playlist",
		"--no-warnings",
		sourceURL,
	)
	if err != nil {
		return nil, err
	}

	var parsed ytdlpOutput
	if err := json.Unmarshal(out, &parsed); err != nil {
		return nil, apperrors.NewMediaError(apperrors.KindResolve, "resolve", sourceURL, fmt.Errorf("parse metadata: %w", err))
	}
	return parsed.toItem(sourceURL), nil
}

// ResolvePlaylist lists a playlist's entries without resolving them
func (s *Service) ResolvePlaylist(ctx context.Context, sourceURL string) (*provider.PlaylistInfo, error) {
	out, err := s.runJSON(ctx, "resolve_playlist", sourceURL,
		"--flat-playlist",
		"--dump-single-json",
		"--no-warnings",
		sourceURL,
	)
	if err != nil {
		return nil, err
	}

	var parsed playlistOutput
	if err := json.Unmarshal(out, &parsed); err != nil {
		return nil, apperrors.NewMediaError(apperrors.KindResolve, "resolve_playlist", sourceURL, fmt.Errorf("parse playlist: %w", err))
	}
	return parsed.toPlaylist(), nil
}

// ListCaptionTracks returns the item's caption tracks, re-resolving when
// the item was built without them.
func (s *Service) ListCaptionTracks(ctx context.Context, item *provider.MediaItem) ([]provider.CaptionTrack, error) {
	if item.Captions != nil {
		return item.Captions, nil
	}
	fresh, err := s.ResolveItem(ctx, item.URL)
	if err != nil {
		return nil, err
	}
	return fresh.Captions, nil
}

// FetchVariant downloads a single format to destPath
func (s *Service) FetchVariant(ctx context.Context, item *provider.MediaItem, variant provider.StreamVariant, destPath string, progress provider.ProgressFunc) error {
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return fmt.Errorf("failed to create download directory: %w", err)
	}

	args := []string{
		"-f", variant.FormatID,
		// yt-dlp treats % as a template marker
		"--output", strings.ReplaceAll(destPath, "%", "%%"),
		"--no-playlist",
		"--no-part",
		"--force-overwrites",
		"--newline",
		"--progress",
		"--no-warnings",
		item.URL,
	}

	cmd := exec.CommandContext(ctx, s.cfg.YtdlpPath, args...)
	op := "fetch_" + string(variant.Kind)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return categorizeError(op, item.URL, err, "")
	}

	var stderrOutput strings.Builder
	stderrDone := make(chan struct{})
	go func() {
		defer close(stderrDone)
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			stderrOutput.WriteString(scanner.Text())
			stderrOutput.WriteString("\n")
		}
	}()

	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		percent, status := parseProgress(scanner.Text())
		if status == "downloading" && progress != nil {
			progress(percent)
		}
	}
	<-stderrDone

	if err := cmd.Wait(); err != nil {
		os.Remove(destPath)
		return categorizeError(op, item.URL, err, stderrOutput.String())
	}

	if _, err := os.Stat(destPath); err != nil {
		return apperrors.NewMediaError(apperrors.KindTransient, op, item.URL, fmt.Errorf("%w: output file not found", ErrDownloadFailed))
	}

	s.logger.Debug().Str("format", variant.FormatID).Str("path", destPath).Msg("variant downloaded")
	return nil
}

// FetchCaption downloads a caption payload
func (s *Service) FetchCaption(ctx context.Context, track provider.CaptionTrack) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, track.URL, nil)
	if err != nil {
		return nil, apperrors.NewMediaError(apperrors.KindCaption, "fetch_caption", track.Language, err)
	}

	resp, err := s.cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, apperrors.NewMediaError(apperrors.KindTransient, "fetch_caption", track.Language, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apperrors.NewMediaError(apperrors.KindTransient, "fetch_caption", track.Language,
			fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	return io.ReadAll(io.LimitReader(resp.Body, 16<<20))
}

func (s *Service) runJSON(ctx context.Context, op, sourceURL string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, s.cfg.YtdlpPath, args...)
	output, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, categorizeError(op, sourceURL, err, string(exitErr.Stderr))
		}
		return nil, categorizeError(op, sourceURL, err, "")
	}
	return output, nil
}

// parseProgress extracts progress percentage and status from yt-dlp output
func parseProgress(line string) (percent float64, status string) {
	line = strings.TrimSpace(line)

	if strings.Contains(line, "Destination:") {
		return 0, "starting"
	}

	// yt-dlp progress format: [download]  45.2% of 5.00MiB at 1.00MiB/s ETA 00:03
	if strings.HasPrefix(line, "[download]") {
		parts := strings.Fields(line)
		if len(parts) >= 2 && strings.HasSuffix(parts[1], "%") {
			percentStr := strings.TrimSuffix(parts[1], "%")
			if _, err := fmt.Sscanf(percentStr, "%f", &percent); err == nil {
				status = "downloading"
			}
		}
	}

	return percent, status
}
