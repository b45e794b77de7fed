package job

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/openmusicplayer/mediafetch/internal/download"
	apperrors "github.com/openmusicplayer/mediafetch/internal/errors"
	"github.com/openmusicplayer/mediafetch/internal/pipeline"
	"github.com/openmusicplayer/mediafetch/internal/playlist"
	"github.com/openmusicplayer/mediafetch/internal/provider"
	"github.com/openmusicplayer/mediafetch/internal/workspace"
)

const (
	playlistURL = "https://www.youtube.com/playlist?list=PLtest123"
	itemURL     = "https://www.youtube.com/watch?v=aaaaaaaaaaa"
)

// memProvider serves canned items; FetchVariant writes the format id
type memProvider struct {
	mu        sync.Mutex
	items     map[string]*provider.MediaItem
	playlists map[string]*provider.PlaylistInfo
	broken    map[string]bool // format ids that always fail
	fetched   []provider.StreamVariant
}

func (m *memProvider) ResolveItem(ctx context.Context, url string) (*provider.MediaItem, error) {
	if item, ok := m.items[url]; ok {
		return item, nil
	}
	return nil, errors.New("no such item")
}

func (m *memProvider) ResolvePlaylist(ctx context.Context, url string) (*provider.PlaylistInfo, error) {
	if info, ok := m.playlists[url]; ok {
		return info, nil
	}
	return nil, errors.New("no such playlist")
}

func (m *memProvider) ListCaptionTracks(ctx context.Context, item *provider.MediaItem) ([]provider.CaptionTrack, error) {
	return item.Captions, nil
}

func (m *memProvider) FetchVariant(ctx context.Context, item *provider.MediaItem, v provider.StreamVariant, destPath string, progress provider.ProgressFunc) error {
	m.mu.Lock()
	m.fetched = append(m.fetched, v)
	broken := m.broken[v.FormatID]
	m.mu.Unlock()
	if broken {
		return errors.New("connection reset")
	}
	return os.WriteFile(destPath, []byte(v.FormatID), 0o644)
}

func (m *memProvider) FetchCaption(ctx context.Context, track provider.CaptionTrack) ([]byte, error) {
	return nil, errors.New("captions unavailable")
}

type copyMerger struct{}

func (copyMerger) Merge(ctx context.Context, videoPath, audioPath, subtitlePath, outputPath string) error {
	return os.WriteFile(outputPath, []byte("merged"), 0o644)
}

// extTranscoder writes <input>.mp3 next to the input
type extTranscoder struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (e *extTranscoder) Transcode(ctx context.Context, input string) (string, error) {
	e.mu.Lock()
	e.calls = append(e.calls, input)
	e.mu.Unlock()
	if e.err != nil {
		return "", e.err
	}
	out := strings.TrimSuffix(input, filepath.Ext(input)) + ".mp3"
	return out, os.WriteFile(out, []byte("mp3"), 0o644)
}

type recordingPublisher struct {
	mu   sync.Mutex
	keys []string
}

func (p *recordingPublisher) Publish(ctx context.Context, localPath, key string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keys = append(p.keys, key)
	return "media/" + key, nil
}

func item(id, title string) *provider.MediaItem {
	return &provider.MediaItem{
		ID:    id,
		Title: title,
		URL:   "https://www.youtube.com/watch?v=" + id,
		Variants: []provider.StreamVariant{
			{FormatID: id + "-video", Kind: provider.KindVideo, Container: "mp4", Rank: 5},
			{FormatID: id + "-audio", Kind: provider.KindAudio, Container: "webm", Rank: 3},
		},
	}
}

type harness struct {
	runner     *Runner
	ws         *workspace.Manager
	provider   *memProvider
	transcoder *extTranscoder
	publisher  *recordingPublisher
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	ws := workspace.New(t.TempDir(), 0, zerolog.Nop())
	prov := &memProvider{
		items:     map[string]*provider.MediaItem{},
		playlists: map[string]*provider.PlaylistInfo{},
		broken:    map[string]bool{},
	}
	retry := &apperrors.RetryConfig{
		BaseDelay: time.Millisecond,
		Sleep:     func(ctx context.Context, d time.Duration) error { return nil },
	}
	items := pipeline.New(pipeline.Config{
		Provider:  prov,
		Merger:    copyMerger{},
		Workspace: ws,
		Retry:     retry,
		Logger:    zerolog.Nop(),
	})
	tr := &extTranscoder{}
	orchestrator := playlist.New(playlist.Config{
		Provider:   prov,
		Items:      items,
		Transcoder: tr,
		Workspace:  ws,
		Retry:      retry,
		Logger:     zerolog.Nop(),
	})
	pub := &recordingPublisher{}

	return &harness{
		runner: New(Config{
			Items:      items,
			Playlists:  orchestrator,
			Transcoder: tr,
			Workspace:  ws,
			Logger:     zerolog.Nop(),
		}),
		ws:         ws,
		provider:   prov,
		transcoder: tr,
		publisher:  pub,
	}
}

func TestParseMask(t *testing.T) {
	tests := []struct {
		mask string
		want ContentSelection
	}{
		{"ALL", ContentSelection{DownloadVideo: true, DownloadAudio: true}},
		{"VIDEO", ContentSelection{DownloadVideo: true}},
		{"AUDIO", ContentSelection{DownloadAudio: true}},
		{"audio", ContentSelection{}},
		{"", ContentSelection{}},
		{"MP3", ContentSelection{}},
	}

	for _, tt := range tests {
		t.Run(tt.mask, func(t *testing.T) {
			if got := ParseMask(tt.mask); got != tt.want {
				t.Errorf("ParseMask(%q) = %+v, want %+v", tt.mask, got, tt.want)
			}
			if got := ParseMask(tt.mask); got.ConvertToAudio {
				t.Error("no mask requests a transcode")
			}
		})
	}
}

func TestFormatElapsed(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{12340 * time.Millisecond, "12.34 seconds"},
		{90 * time.Second, "1.50 minutes"},
		{0, "0.00 seconds"},
		{time.Minute, "1.00 minutes"},
	}

	for _, tt := range tests {
		if got := FormatElapsed(tt.d); got != tt.want {
			t.Errorf("FormatElapsed(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}

func TestRun_SingleItemAudio(t *testing.T) {
	h := newHarness(t)
	h.provider.items[itemURL] = item("aaaaaaaaaaa", "First Song")

	out, err := h.runner.Run(context.Background(), "job-1", itemURL, MaskAudio)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if out.Succeeded != 1 || out.Failed != 0 {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if want := h.ws.Destination("", "First Song.webm"); out.Results[0].Path != want {
		t.Errorf("expected %s, got %s", want, out.Results[0].Path)
	}
	for _, v := range h.provider.fetched {
		if v.Kind == provider.KindVideo {
			t.Error("audio mask must not fetch video")
		}
	}
	if _, err := os.Stat(h.ws.TemporaryRoot("job-1")); !os.IsNotExist(err) {
		t.Error("workspace should be reclaimed")
	}
}

func TestRun_PlaylistWithFailingItem(t *testing.T) {
	h := newHarness(t)
	h.provider.playlists[playlistURL] = &provider.PlaylistInfo{
		Title:   "Road Trip",
		Entries: []string{"u1", "u2", "u3"},
	}
	h.provider.items["u1"] = item("one", "One")
	h.provider.items["u2"] = item("two", "Two")
	h.provider.items["u3"] = item("three", "Three")
	h.provider.broken["two-audio"] = true

	out, err := h.runner.Run(context.Background(), "job-2", playlistURL, MaskAll)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if out.Succeeded != 2 || out.Failed != 1 {
		t.Errorf("expected 2 succeeded and 1 failed, got %d/%d", out.Succeeded, out.Failed)
	}
	var delivered []string
	for _, res := range out.Results {
		if !res.Failed() {
			delivered = append(delivered, res.Path)
		}
	}
	if len(delivered) != 2 {
		t.Errorf("expected 2 delivered files, got %v", delivered)
	}
	for _, name := range []string{"One.mp4", "Three.mp4"} {
		if _, err := os.Stat(h.ws.Destination("Road Trip", name)); err != nil {
			t.Errorf("expected %s: %v", name, err)
		}
	}
	if _, err := os.Stat(h.ws.TemporaryRoot("job-2")); !os.IsNotExist(err) {
		t.Error("workspace should be reclaimed")
	}
}

func TestRun_UnrecognizedURL(t *testing.T) {
	h := newHarness(t)

	_, err := h.runner.Run(context.Background(), "job-3", "https://example.com/video", MaskAll)
	if !errors.Is(err, apperrors.ErrUnrecognizedURL) {
		t.Errorf("expected ErrUnrecognizedURL, got %v", err)
	}
	if len(h.provider.fetched) != 0 {
		t.Error("nothing should be fetched")
	}
	if _, err := os.Stat(h.ws.TemporaryRoot("job-3")); !os.IsNotExist(err) {
		t.Error("workspace should be reclaimed")
	}
}

func TestRunSelection_TranscodeReplacesAudioSource(t *testing.T) {
	h := newHarness(t)
	h.provider.items[itemURL] = item("aaaaaaaaaaa", "Tune")

	sel := ParseMask(MaskAudio)
	sel.ConvertToAudio = true
	out, err := h.runner.RunSelection(context.Background(), "job-4", itemURL, sel, nil)
	if err != nil {
		t.Fatal(err)
	}

	res := out.Results[0]
	if res.Path != h.ws.Destination("", "Tune.mp3") || res.Kind != pipeline.ArtifactTranscoded {
		t.Errorf("expected transcoded result, got %+v", res)
	}
	if _, err := os.Stat(h.ws.Destination("", "Tune.webm")); !os.IsNotExist(err) {
		t.Error("audio source should be removed")
	}
}

func TestRunSelection_TranscodeKeepsMergedVideo(t *testing.T) {
	h := newHarness(t)
	h.provider.items[itemURL] = item("aaaaaaaaaaa", "Clip")

	sel := ParseMask(MaskAll)
	sel.ConvertToAudio = true
	out, err := h.runner.RunSelection(context.Background(), "job-5", itemURL, sel, nil)
	if err != nil {
		t.Fatal(err)
	}

	res := out.Results[0]
	if res.Path != h.ws.Destination("", "Clip.mp4") {
		t.Errorf("merged file should stay the result, got %s", res.Path)
	}
	if len(res.Artifacts) == 0 || res.Artifacts[len(res.Artifacts)-1].Kind != pipeline.ArtifactTranscoded {
		t.Errorf("expected transcoded artifact, got %+v", res.Artifacts)
	}
}

func TestRunSelection_TranscodeFailureFailsItem(t *testing.T) {
	h := newHarness(t)
	h.provider.items[itemURL] = item("aaaaaaaaaaa", "Tune")
	h.transcoder.err = errors.New("encoder missing")

	sel := ParseMask(MaskAudio)
	sel.ConvertToAudio = true
	out, err := h.runner.RunSelection(context.Background(), "job-6", itemURL, sel, nil)
	if err != nil {
		t.Fatal(err)
	}
	if out.Failed != 1 {
		t.Errorf("expected failed item, got %+v", out)
	}
}

func TestRunSelection_ReportsProgress(t *testing.T) {
	h := newHarness(t)
	h.provider.items[itemURL] = item("aaaaaaaaaaa", "Song")

	var mu sync.Mutex
	var seen []int
	_, err := h.runner.RunSelection(context.Background(), "job-7", itemURL, ParseMask(MaskAll), func(p int) {
		mu.Lock()
		seen = append(seen, p)
		mu.Unlock()
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(seen) == 0 {
		t.Fatal("expected progress updates")
	}
	for _, p := range seen {
		if p < 0 || p > 99 {
			t.Errorf("progress %d out of range", p)
		}
	}
}

func TestRun_PublishesFinishedFiles(t *testing.T) {
	h := newHarness(t)
	h.runner.publisher = h.publisher
	h.provider.items[itemURL] = item("aaaaaaaaaaa", "Song")

	out, err := h.runner.Run(context.Background(), "job-8", itemURL, MaskVideo)
	if err != nil {
		t.Fatal(err)
	}

	if len(h.publisher.keys) != 1 || h.publisher.keys[0] != "Song.mp4" {
		t.Errorf("unexpected published keys %v", h.publisher.keys)
	}
	if out.Published[out.Results[0].Path] != "media/Song.mp4" {
		t.Errorf("expected stored key, got %v", out.Published)
	}
}

func TestProcess_RecordsResultsOnJob(t *testing.T) {
	h := newHarness(t)
	h.provider.items[itemURL] = item("aaaaaaaaaaa", "Song")

	job := &download.DownloadJob{ID: "job-9", URL: itemURL, ContentMask: MaskAll}
	if err := h.runner.Process(context.Background(), job, func(int) {}); err != nil {
		t.Fatalf("Process: %v", err)
	}

	if job.Title != "Song" || job.Succeeded != 1 || len(job.Results) != 1 {
		t.Errorf("outcome not recorded: %+v", job)
	}
	if job.Results[0].Outcome != string(pipeline.ArtifactMerged) {
		t.Errorf("unexpected outcome %q", job.Results[0].Outcome)
	}
}

func TestProcess_AllItemsFailed(t *testing.T) {
	h := newHarness(t)
	h.provider.items[itemURL] = item("aaaaaaaaaaa", "Song")
	h.provider.broken["aaaaaaaaaaa-video"] = true

	job := &download.DownloadJob{ID: "job-10", URL: itemURL, ContentMask: MaskVideo}
	if err := h.runner.Process(context.Background(), job, nil); err == nil {
		t.Fatal("expected job error when every item failed")
	}
	if job.Failed != 1 || job.Results[0].Error == "" {
		t.Errorf("failure not recorded: %+v", job.Results)
	}
}

func TestRun_PlaylistEntriesSharingATitle(t *testing.T) {
	h := newHarness(t)
	h.provider.playlists[playlistURL] = &provider.PlaylistInfo{
		Title:   "Live Sets",
		Entries: []string{"u1", "u2"},
	}
	h.provider.items["u1"] = item("aaaaaaaaaaa", "Intro")
	h.provider.items["u2"] = item("bbbbbbbbbbb", "Intro")

	out, err := h.runner.Run(context.Background(), "job-11", playlistURL, MaskAudio)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Succeeded != 2 {
		t.Fatalf("expected 2 succeeded, got %+v", out)
	}

	seen := map[string]string{}
	for _, res := range out.Results {
		data, err := os.ReadFile(res.Path)
		if err != nil {
			t.Fatal(err)
		}
		if want := res.ItemID + "-audio"; string(data) != want {
			t.Errorf("%s holds %q, want %q", res.Path, data, want)
		}
		if other, dup := seen[res.Path]; dup {
			t.Errorf("%s and %s delivered to the same file", other, res.ItemID)
		}
		seen[res.Path] = res.ItemID
	}
}

func TestProcess_RetriedJobReclaimsAgain(t *testing.T) {
	h := newHarness(t)
	h.provider.items[itemURL] = item("aaaaaaaaaaa", "Song")
	h.provider.broken["aaaaaaaaaaa-video"] = true

	job := &download.DownloadJob{ID: "job-12", URL: itemURL, ContentMask: MaskVideo}
	if err := h.runner.Process(context.Background(), job, nil); err == nil {
		t.Fatal("expected first attempt to fail")
	}

	h.provider.mu.Lock()
	h.provider.broken["aaaaaaaaaaa-video"] = false
	h.provider.mu.Unlock()

	if err := h.runner.Process(context.Background(), job, nil); err != nil {
		t.Fatalf("second attempt: %v", err)
	}
	if _, err := os.Stat(h.ws.TemporaryRoot("job-12")); !os.IsNotExist(err) {
		t.Error("workspace of the second attempt should be reclaimed")
	}
}

func TestProcess_AllItemsFailedIsRetryable(t *testing.T) {
	h := newHarness(t)
	h.provider.items[itemURL] = item("aaaaaaaaaaa", "Song")
	h.provider.broken["aaaaaaaaaaa-video"] = true

	job := &download.DownloadJob{ID: "job-13", URL: itemURL, ContentMask: MaskVideo}
	err := h.runner.Process(context.Background(), job, nil)
	if !apperrors.IsRetryable(err) {
		t.Errorf("expected a retryable job error, got %v", err)
	}

	job = &download.DownloadJob{ID: "job-14", URL: "https://example.com/x", ContentMask: MaskAll}
	if err := h.runner.Process(context.Background(), job, nil); apperrors.IsRetryable(err) {
		t.Errorf("unrecognized url must not be retried: %v", err)
	}
}
