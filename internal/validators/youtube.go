package validators

import (
	"net/url"
	"regexp"
	"strings"
)

// YouTubeValidator recognizes YouTube watch, short-link and playlist URLs
type YouTubeValidator struct {
	// videoIDPattern matches YouTube video IDs (11 characters, alphanumeric with - and _)
	videoIDPattern *regexp.Regexp
	listIDPattern  *regexp.Regexp
}

// NewYouTubeValidator creates a new YouTube URL validator
func NewYouTubeValidator() *YouTubeValidator {
	return &YouTubeValidator{
		videoIDPattern: regexp.MustCompile(`^[a-zA-Z0-9_-]{11}$`),
		listIDPattern:  regexp.MustCompile(`^[a-zA-Z0-9_-]{2,64}$`),
	}
}

// SourceType returns the source type for this validator
func (v *YouTubeValidator) SourceType() SourceType {
	return SourceYouTube
}

func normalizeHost(host string) string {
	host = strings.ToLower(host)
	host = strings.TrimPrefix(host, "www.")
	host = strings.TrimPrefix(host, "m.")
	return host
}

// CanHandle returns true if the URL appears to be a YouTube URL
func (v *YouTubeValidator) CanHandle(rawURL string) bool {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return false
	}

	host := normalizeHost(parsed.Host)
	return host == "youtube.com" ||
		host == "youtu.be" ||
		host == "music.youtube.com"
}

// Validate classifies a YouTube URL and extracts the video or playlist ID
func (v *YouTubeValidator) Validate(rawURL string) ValidationResult {
	rawURL = strings.TrimSpace(rawURL)

	invalid := func(msg string) ValidationResult {
		return ValidationResult{
			Valid:      false,
			SourceType: SourceYouTube,
			MediaType:  MediaUnknown,
			URL:        rawURL,
			Error:      msg,
		}
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return invalid("invalid URL format")
	}

	// Only allow http/https schemes
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return invalid("invalid URL scheme")
	}

	switch host := normalizeHost(parsed.Host); host {
	case "youtu.be":
		// Short URL format: youtu.be/VIDEO_ID
		videoID := strings.Trim(parsed.Path, "/")
		return v.item(rawURL, videoID)

	case "youtube.com", "music.youtube.com":
		query := parsed.Query()
		switch {
		case parsed.Path == "/playlist":
			listID := query.Get("list")
			if listID == "" {
				return invalid("playlist URL without list parameter")
			}
			if !v.listIDPattern.MatchString(listID) {
				return invalid("invalid playlist ID format")
			}
			return ValidationResult{
				Valid:      true,
				SourceType: SourceYouTube,
				MediaID:    listID,
				MediaType:  MediaPlaylist,
				URL:        rawURL,
				Canonical:  "https://www.youtube.com/playlist?list=" + listID,
			}

		case parsed.Path == "/watch":
			// A watch URL inside a playlist still names one item
			return v.item(rawURL, query.Get("v"))
		}
		return invalid("not a watch or playlist URL")

	default:
		return invalid("not a YouTube URL")
	}
}

func (v *YouTubeValidator) item(rawURL, videoID string) ValidationResult {
	if videoID == "" {
		return ValidationResult{
			SourceType: SourceYouTube,
			MediaType:  MediaUnknown,
			URL:        rawURL,
			Error:      "could not extract video ID from URL",
		}
	}

	if !v.videoIDPattern.MatchString(videoID) {
		return ValidationResult{
			SourceType: SourceYouTube,
			MediaType:  MediaUnknown,
			URL:        rawURL,
			MediaID:    videoID,
			Error:      "invalid video ID format",
		}
	}

	return ValidationResult{
		Valid:      true,
		SourceType: SourceYouTube,
		MediaID:    videoID,
		MediaType:  MediaItem,
		URL:        rawURL,
		Canonical:  "https://www.youtube.com/watch?v=" + videoID,
	}
}
