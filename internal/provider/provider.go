// Package provider defines the media source abstraction the pipeline
// resolves and downloads through, plus decorators for caching and rate
// limiting.
package provider

import (
	"context"
)

// VariantKind distinguishes audio-only from video-only streams
type VariantKind string

const (
	KindVideo VariantKind = "video"
	KindAudio VariantKind = "audio"
)

// StreamVariant is one downloadable representation of an item
type StreamVariant struct {
	FormatID  string      `json:"format_id"`
	Kind      VariantKind `json:"kind"`
	Container string      `json:"container"` // file extension, e.g. mp4, webm
	Codec     string      `json:"codec"`
	Height    int         `json:"height,omitempty"`
	Bitrate   float64     `json:"bitrate,omitempty"` // kbps
	Rank      int         `json:"rank"`              // higher is better
}

// CaptionTrack is a subtitle track offered by the provider
type CaptionTrack struct {
	Language  string `json:"language"`
	Name      string `json:"name,omitempty"`
	URL       string `json:"url"`
	Ext       string `json:"ext"`
	Automatic bool   `json:"automatic"`
}

// MediaItem is a resolved single media item. Treat as immutable once returned.
type MediaItem struct {
	ID       string          `json:"id"`
	Title    string          `json:"title"`
	URL      string          `json:"url"`
	Variants []StreamVariant `json:"variants"`
	Captions []CaptionTrack  `json:"captions,omitempty"`
}

// PlaylistInfo is a resolved playlist with its ordered entry URLs
type PlaylistInfo struct {
	ID      string   `json:"id"`
	Title   string   `json:"title"`
	Entries []string `json:"entries"`
}

// ProgressFunc receives download progress in percent (0-100)
type ProgressFunc func(percent float64)

// Provider resolves and fetches remote media
type Provider interface {
	ResolveItem(ctx context.Context, url string) (*MediaItem, error)
	ResolvePlaylist(ctx context.Context, url string) (*PlaylistInfo, error)
	ListCaptionTracks(ctx context.Context, item *MediaItem) ([]CaptionTrack, error)
	// FetchVariant downloads variant of item to destPath. progress may be nil.
	FetchVariant(ctx context.Context, item *MediaItem, variant StreamVariant, destPath string, progress ProgressFunc) error
	FetchCaption(ctx context.Context, track CaptionTrack) ([]byte, error)
}

// VariantsOf returns the item's variants of the given kind
func VariantsOf(item *MediaItem, kind VariantKind) []StreamVariant {
	var out []StreamVariant
	for _, v := range item.Variants {
		if v.Kind == kind {
			out = append(out, v)
		}
	}
	return out
}
