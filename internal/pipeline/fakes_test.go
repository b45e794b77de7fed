package pipeline

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	apperrors "github.com/openmusicplayer/mediafetch/internal/errors"
	"github.com/openmusicplayer/mediafetch/internal/provider"
	"github.com/openmusicplayer/mediafetch/internal/workspace"
)

const timedTextSample = `<timedtext><body><p t="0" d="1000">hi</p></body></timedtext>`

// fakeProvider serves canned items and writes the variant's format id as file content
type fakeProvider struct {
	mu            sync.Mutex
	items         map[string]*provider.MediaItem
	playlists     map[string]*provider.PlaylistInfo
	failFetch     map[string]bool // format id -> always fail
	panicFetch    map[string]bool
	fetched       []provider.VariantKind
	captionCalls  int
	resolveErrors map[string]error
	listErr       error  // ListCaptionTracks always fails
	captionErr    error  // FetchCaption always fails
	captionBody   []byte // replaces the timed text sample
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		items:         map[string]*provider.MediaItem{},
		playlists:     map[string]*provider.PlaylistInfo{},
		failFetch:     map[string]bool{},
		panicFetch:    map[string]bool{},
		resolveErrors: map[string]error{},
	}
}

func (f *fakeProvider) ResolveItem(ctx context.Context, url string) (*provider.MediaItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.resolveErrors[url]; err != nil {
		return nil, err
	}
	item, ok := f.items[url]
	if !ok {
		return nil, apperrors.NewMediaError(apperrors.KindResolve, "resolve", url, errors.New("not found"))
	}
	return item, nil
}

func (f *fakeProvider) ResolvePlaylist(ctx context.Context, url string) (*provider.PlaylistInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	info, ok := f.playlists[url]
	if !ok {
		return nil, errors.New("playlist not found")
	}
	return info, nil
}

func (f *fakeProvider) ListCaptionTracks(ctx context.Context, item *provider.MediaItem) ([]provider.CaptionTrack, error) {
	f.mu.Lock()
	f.captionCalls++
	err := f.listErr
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return item.Captions, nil
}

func (f *fakeProvider) FetchVariant(ctx context.Context, item *provider.MediaItem, v provider.StreamVariant, destPath string, progress provider.ProgressFunc) error {
	f.mu.Lock()
	f.fetched = append(f.fetched, v.Kind)
	fail := f.failFetch[v.FormatID]
	panics := f.panicFetch[v.FormatID]
	f.mu.Unlock()

	if panics {
		panic("provider blew up")
	}
	if fail {
		return apperrors.NewMediaError(apperrors.KindTransient, "fetch", item.Title, errors.New("connection reset"))
	}
	if progress != nil {
		progress(100)
	}
	return os.WriteFile(destPath, []byte(v.FormatID), 0o644)
}

func (f *fakeProvider) FetchCaption(ctx context.Context, track provider.CaptionTrack) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.captionErr != nil {
		return nil, f.captionErr
	}
	if f.captionBody != nil {
		return f.captionBody, nil
	}
	return []byte(timedTextSample), nil
}

func (f *fakeProvider) fetchedKinds() []provider.VariantKind {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]provider.VariantKind(nil), f.fetched...)
}

// fakeMerger concatenates inputs into the output file
type fakeMerger struct {
	mu        sync.Mutex
	calls     int
	subtitles []string
	err       error
}

func (m *fakeMerger) Merge(ctx context.Context, videoPath, audioPath, subtitlePath, outputPath string) error {
	m.mu.Lock()
	m.calls++
	m.subtitles = append(m.subtitles, subtitlePath)
	m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	return os.WriteFile(outputPath, []byte("merged"), 0o644)
}

func sampleItem(id, title string) *provider.MediaItem {
	return &provider.MediaItem{
		ID:    id,
		Title: title,
		URL:   "https://www.youtube.com/watch?v=" + id,
		Variants: []provider.StreamVariant{
			{FormatID: id + "-v-low", Kind: provider.KindVideo, Container: "mp4", Rank: 1},
			{FormatID: id + "-v-high", Kind: provider.KindVideo, Container: "mp4", Rank: 9},
			{FormatID: id + "-a-m4a", Kind: provider.KindAudio, Container: "m4a", Rank: 8},
			{FormatID: id + "-a-webm", Kind: provider.KindAudio, Container: "webm", Rank: 7},
		},
		Captions: []provider.CaptionTrack{{Language: "en", URL: "https://captions/" + id, Ext: "srv3"}},
	}
}

func fastRetry() *apperrors.RetryConfig {
	return &apperrors.RetryConfig{
		BaseDelay: time.Millisecond,
		Sleep:     func(ctx context.Context, d time.Duration) error { return ctx.Err() },
	}
}

func newTestPipeline(t *testing.T, p provider.Provider, m Merger) (*Pipeline, *workspace.Manager) {
	t.Helper()
	ws := workspace.New(t.TempDir(), 0, zerolog.Nop())
	return New(Config{
		Provider:  p,
		Merger:    m,
		Workspace: ws,
		Retry:     fastRetry(),
		Logger:    zerolog.Nop(),
	}), ws
}
