package ytdlp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"

	apperrors "github.com/openmusicplayer/mediafetch/internal/errors"
	"github.com/openmusicplayer/mediafetch/internal/provider"
)

const sampleDump = `{
  "id": "dQw4w9WgXcQ",
  "title": "Never Gonna Give You Up",
  "webpage_url": "https://www.youtube.com/watch?v=dQw4w9WgXcQ",
  "formats": [
    {"format_id": "sb0", "ext": "mhtml", "vcodec": "none", "acodec": "none", "protocol": "mhtml"},
    {"format_id": "140", "ext": "m4a", "vcodec": "none", "acodec": "mp4a.40.2", "abr": 129.5, "protocol": "https"},
    {"format_id": "251", "ext": "webm", "vcodec": "none", "acodec": "opus", "abr": 135.1, "protocol": "https"},
    {"format_id": "18", "ext": "mp4", "vcodec": "avc1", "acodec": "mp4a.40.2", "height": 360, "protocol": "https"},
    {"format_id": "137", "ext": "mp4", "vcodec": "avc1.640028", "acodec": "none", "height": 1080, "tbr": 4400, "protocol": "https"},
    {"format_id": "96", "ext": "mp4", "vcodec": "avc1", "acodec": "mp4a", "height": 1080, "protocol": "m3u8_native"}
  ],
  "subtitles": {
    "en": [{"ext": "json3", "url": "https://x/json3"}, {"ext": "srv3", "url": "https://x/en.srv3", "name": "English"}],
    "de": [{"ext": "srv3", "url": "https://x/de.srv3"}]
  },
  "automatic_captions": {
    "en": [{"ext": "srv3", "url": "https://x/auto.srv3"}]
  }
}`

func TestToItem(t *testing.T) {
	var out ytdlpOutput
	if err := json.Unmarshal([]byte(sampleDump), &out); err != nil {
		t.Fatal(err)
	}
	item := out.toItem("https://youtu.be/dQw4w9WgXcQ")

	if item.Title != "Never Gonna Give You Up" {
		t.Errorf("unexpected title %q", item.Title)
	}
	if item.URL != "https://www.youtube.com/watch?v=dQw4w9WgXcQ" {
		t.Errorf("unexpected url %q", item.URL)
	}

	video := provider.VariantsOf(item, provider.KindVideo)
	if len(video) != 1 || video[0].FormatID != "137" || video[0].Height != 1080 {
		t.Errorf("unexpected video variants %+v", video)
	}

	audio := provider.VariantsOf(item, provider.KindAudio)
	if len(audio) != 2 {
		t.Fatalf("expected 2 audio variants, got %+v", audio)
	}
	if audio[1].Rank <= audio[0].Rank {
		t.Errorf("later formats should rank higher: %+v", audio)
	}

	if len(item.Captions) != 3 {
		t.Fatalf("expected 3 srv3 tracks, got %+v", item.Captions)
	}
	if item.Captions[0].Language != "de" || item.Captions[1].Language != "en" || item.Captions[1].Automatic {
		t.Errorf("unexpected manual tracks %+v", item.Captions)
	}
	if !item.Captions[2].Automatic {
		t.Errorf("expected last track to be automatic")
	}
}

func TestToPlaylist(t *testing.T) {
	out := playlistOutput{
		ID:    "PL1",
		Title: "Mix",
		Entries: []playlistEntry{
			{ID: "a", URL: "https://www.youtube.com/watch?v=a"},
			{ID: "b"},
			{},
		},
	}
	info := out.toPlaylist()

	want := []string{"https://www.youtube.com/watch?v=a", "https://www.youtube.com/watch?v=b"}
	if len(info.Entries) != len(want) {
		t.Fatalf("expected %v, got %v", want, info.Entries)
	}
	for i := range want {
		if info.Entries[i] != want[i] {
			t.Errorf("entry %d: expected %s, got %s", i, want[i], info.Entries[i])
		}
	}
}

func TestCategorizeError(t *testing.T) {
	tests := []struct {
		name     string
		stderr   string
		sentinel error
		kind     apperrors.Kind
	}{
		{"unavailable", "ERROR: Video unavailable", ErrVideoUnavailable, apperrors.KindResolve},
		{"private", "ERROR: Private video", ErrVideoPrivate, apperrors.KindResolve},
		{"age", "Sign in to confirm your age", ErrAgeRestricted, apperrors.KindResolve},
		{"unsupported", "ERROR: Unsupported URL: x", ErrURLNotSupported, apperrors.KindResolve},
		{"network", "Connection reset by peer", ErrNetworkError, apperrors.KindTransient},
		{"other", "something odd", ErrDownloadFailed, apperrors.KindTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := categorizeError("resolve", "u", errors.New("exit status 1"), tt.stderr)
			if !errors.Is(err, tt.sentinel) {
				t.Errorf("expected %v, got %v", tt.sentinel, err)
			}
			if apperrors.KindOf(err) != tt.kind {
				t.Errorf("expected kind %s, got %s", tt.kind, apperrors.KindOf(err))
			}
		})
	}
}

func TestParseProgress(t *testing.T) {
	tests := []struct {
		line    string
		percent float64
		status  string
	}{
		{"[download]  45.2% of 5.00MiB at 1.00MiB/s ETA 00:03", 45.2, "downloading"},
		{"[download] 100% of 5.00MiB", 100, "downloading"},
		{"[download] Destination: /tmp/x.webm", 0, "starting"},
		{"[info] something", 0, ""},
	}

	for _, tt := range tests {
		percent, status := parseProgress(tt.line)
		if percent != tt.percent || status != tt.status {
			t.Errorf("parseProgress(%q) = %v, %q; want %v, %q", tt.line, percent, status, tt.percent, tt.status)
		}
	}
}

func TestFetchCaption(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(`<timedtext><body></body></timedtext>`))
	}))
	defer srv.Close()

	s := &Service{cfg: &Config{HTTPClient: srv.Client()}, logger: zerolog.Nop()}

	data, err := s.FetchCaption(context.Background(), provider.CaptionTrack{URL: srv.URL + "/en"})
	if err != nil {
		t.Fatalf("FetchCaption: %v", err)
	}
	if string(data) != `<timedtext><body></body></timedtext>` {
		t.Errorf("unexpected payload %q", data)
	}

	_, err = s.FetchCaption(context.Background(), provider.CaptionTrack{URL: srv.URL + "/missing"})
	if !apperrors.IsTransient(err) {
		t.Errorf("expected transient error, got %v", err)
	}
}

func TestListCaptionTracks_UsesResolvedTracks(t *testing.T) {
	s := &Service{cfg: DefaultConfig(), logger: zerolog.Nop()}
	item := &provider.MediaItem{Captions: []provider.CaptionTrack{{Language: "en"}}}

	tracks, err := s.ListCaptionTracks(context.Background(), item)
	if err != nil || len(tracks) != 1 {
		t.Errorf("expected resolved tracks, got %v, %v", tracks, err)
	}
}
