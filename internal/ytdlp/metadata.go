package ytdlp

import (
	"fmt"
	"sort"
	"strings"

	"github.com/openmusicplayer/mediafetch/internal/provider"
)

// ytdlpOutput represents the JSON output from yt-dlp --dump-json
type ytdlpOutput struct {
	ID                string                     `json:"id"`
	Title             string                     `json:"title"`
	WebpageURL        string                     `json:"webpage_url"`
	Formats           []format                   `json:"formats"`
	Subtitles         map[string][]subtitleEntry `json:"subtitles"`
	AutomaticCaptions map[string][]subtitleEntry `json:"automatic_captions"`
}

// format represents a media format option. yt-dlp lists formats worst to best.
type format struct {
	FormatID string  `json:"format_id"`
	Ext      string  `json:"ext"`
	VCodec   string  `json:"vcodec"`
	ACodec   string  `json:"acodec"`
	Height   int     `json:"height"`
	Tbr      float64 `json:"tbr"`
	Abr      float64 `json:"abr"`
	Protocol string  `json:"protocol"`
}

type subtitleEntry struct {
	Ext  string `json:"ext"`
	URL  string `json:"url"`
	Name string `json:"name"`
}

// playlistOutput is the --flat-playlist --dump-single-json shape
type playlistOutput struct {
	ID      string          `json:"id"`
	Title   string          `json:"title"`
	Entries []playlistEntry `json:"entries"`
}

type playlistEntry struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// captionExt is the timed-text flavour the caption converter understands
const captionExt = "srv3"

func noCodec(c string) bool {
	return c == "" || c == "none"
}

// toItem converts yt-dlp output into a provider item. Only adaptive
// (single-stream) formats are kept; the rank follows yt-dlp's own ordering.
func (o *ytdlpOutput) toItem(sourceURL string) *provider.MediaItem {
	item := &provider.MediaItem{
		ID:    o.ID,
		Title: o.Title,
		URL:   o.WebpageURL,
	}
	if item.URL == "" {
		item.URL = sourceURL
	}

	for i, f := range o.Formats {
		// Manifests can't be fetched by format id alone
		if strings.HasPrefix(f.Protocol, "m3u8") || f.Protocol == "http_dash_segments" {
			continue
		}
		switch {
		case !noCodec(f.VCodec) && noCodec(f.ACodec):
			item.Variants = append(item.Variants, provider.StreamVariant{
				FormatID:  f.FormatID,
				Kind:      provider.KindVideo,
				Container: f.Ext,
				Codec:     f.VCodec,
				Height:    f.Height,
				Bitrate:   f.Tbr,
				Rank:      i,
			})
		case noCodec(f.VCodec) && !noCodec(f.ACodec):
			item.Variants = append(item.Variants, provider.StreamVariant{
				FormatID:  f.FormatID,
				Kind:      provider.KindAudio,
				Container: f.Ext,
				Codec:     f.ACodec,
				Bitrate:   f.Abr,
				Rank:      i,
			})
		}
	}

	item.Captions = append(captionTracks(o.Subtitles, false), captionTracks(o.AutomaticCaptions, true)...)
	return item
}

func captionTracks(subs map[string][]subtitleEntry, automatic bool) []provider.CaptionTrack {
	langs := make([]string, 0, len(subs))
	for lang := range subs {
		langs = append(langs, lang)
	}
	sort.Strings(langs)

	var tracks []provider.CaptionTrack
	for _, lang := range langs {
		for _, e := range subs[lang] {
			if e.Ext != captionExt {
				continue
			}
			tracks = append(tracks, provider.CaptionTrack{
				Language:  lang,
				Name:      e.Name,
				URL:       e.URL,
				Ext:       e.Ext,
				Automatic: automatic,
			})
		}
	}
	return tracks
}

func (o *playlistOutput) toPlaylist() *provider.PlaylistInfo {
	info := &provider.PlaylistInfo{ID: o.ID, Title: o.Title}
	for _, e := range o.Entries {
		switch {
		case strings.HasPrefix(e.URL, "http"):
			info.Entries = append(info.Entries, e.URL)
		case e.ID != "":
			info.Entries = append(info.Entries, fmt.Sprintf("https://www.youtube.com/watch?v=%s", e.ID))
		}
	}
	return info
}
