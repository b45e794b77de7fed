package ytdlp

import (
	"errors"
	"fmt"
	"strings"

	apperrors "github.com/openmusicplayer/mediafetch/internal/errors"
)

var (
	// ErrVideoUnavailable indicates the video/audio is not available
	ErrVideoUnavailable = errors.New("video unavailable")

	// ErrVideoPrivate indicates the video is private
	ErrVideoPrivate = errors.New("video is private")

	// ErrAgeRestricted indicates the content is age-restricted
	ErrAgeRestricted = errors.New("content is age-restricted")

	// ErrNetworkError indicates a network-related error
	ErrNetworkError = errors.New("network error")

	// ErrYtdlpNotFound indicates yt-dlp is not installed
	ErrYtdlpNotFound = errors.New("yt-dlp not found in PATH")

	// ErrDownloadFailed indicates the download failed
	ErrDownloadFailed = errors.New("download failed")

	// ErrURLNotSupported indicates no extractor handles the URL
	ErrURLNotSupported = errors.New("url not supported")
)

// categorizeError converts yt-dlp failures into media errors. Content
// problems are Resolve errors, everything else is Transient.
func categorizeError(op, sourceURL string, err error, stderr string) error {
	stderrLower := strings.ToLower(stderr)

	wrap := func(kind apperrors.Kind, sentinel error) error {
		return apperrors.NewMediaError(kind, op, sourceURL, fmt.Errorf("%w: %v", sentinel, err))
	}

	switch {
	case strings.Contains(stderrLower, "video unavailable") ||
		strings.Contains(stderrLower, "this video is unavailable"):
		return wrap(apperrors.KindResolve, ErrVideoUnavailable)

	case strings.Contains(stderrLower, "private video") ||
		strings.Contains(stderrLower, "is private"):
		return wrap(apperrors.KindResolve, ErrVideoPrivate)

	case strings.Contains(stderrLower, "age-restricted") ||
		strings.Contains(stderrLower, "sign in to confirm your age"):
		return wrap(apperrors.KindResolve, ErrAgeRestricted)

	case strings.Contains(stderrLower, "unsupported url") ||
		strings.Contains(stderrLower, "no suitable extractor"):
		return wrap(apperrors.KindResolve, ErrURLNotSupported)

	case strings.Contains(stderrLower, "unable to download") ||
		strings.Contains(stderrLower, "connection") ||
		strings.Contains(stderrLower, "network"):
		return wrap(apperrors.KindTransient, ErrNetworkError)

	default:
		return apperrors.NewMediaError(apperrors.KindTransient, op, sourceURL,
			fmt.Errorf("%w: %v: %s", ErrDownloadFailed, err, strings.TrimSpace(tail(stderr, 512))))
	}
}

// tail returns at most n trailing bytes of s
func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
