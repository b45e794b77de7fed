package ffmpeg

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/rs/zerolog"

	apperrors "github.com/openmusicplayer/mediafetch/internal/errors"
)

type fakeEngine struct {
	calls []Invocation
	err   error
}

func (f *fakeEngine) Run(ctx context.Context, inv Invocation) error {
	f.calls = append(f.calls, inv)
	for _, out := range inv.Outputs {
		os.WriteFile(out.Path, []byte("partial"), 0o644)
	}
	return f.err
}

func TestBuildArgs(t *testing.T) {
	inv := Invocation{
		GlobalFlags: []string{"-loglevel", "quiet", "-y"},
		Inputs:      []string{"v.mp4", "a.webm"},
		Outputs:     []Output{{Path: "out.mp4", Options: []string{"-c:v", "copy"}}},
	}

	want := []string{"-loglevel", "quiet", "-y", "-i", "v.mp4", "-i", "a.webm", "-c:v", "copy", "out.mp4"}
	if got := BuildArgs(inv); !reflect.DeepEqual(got, want) {
		t.Errorf("BuildArgs() = %v, want %v", got, want)
	}
}

func TestMerge_Invocation(t *testing.T) {
	dir := t.TempDir()
	engine := &fakeEngine{}
	p := NewProcessor(engine, []string{"-threads", "2"}, zerolog.Nop())

	out := filepath.Join(dir, "final", "song.mp4")
	if err := p.Merge(context.Background(), "v.mp4", "a.webm", "s.srt", out); err != nil {
		t.Fatalf("Merge: %v", err)
	}

	if len(engine.calls) != 1 {
		t.Fatalf("expected one run, got %d", len(engine.calls))
	}
	inv := engine.calls[0]

	wantFlags := []string{"-loglevel", "quiet", "-y", "-threads", "2"}
	if !reflect.DeepEqual(inv.GlobalFlags, wantFlags) {
		t.Errorf("global flags = %v, want %v", inv.GlobalFlags, wantFlags)
	}
	if !reflect.DeepEqual(inv.Inputs, []string{"v.mp4", "a.webm", "s.srt"}) {
		t.Errorf("unexpected inputs %v", inv.Inputs)
	}
	wantOpts := []string{"-c:v", "copy", "-c:a", "copy", "-c:s", "mov_text"}
	if !reflect.DeepEqual(inv.Outputs[0].Options, wantOpts) {
		t.Errorf("output options = %v, want %v", inv.Outputs[0].Options, wantOpts)
	}
}

func TestMerge_NoSubtitles(t *testing.T) {
	engine := &fakeEngine{}
	p := NewProcessor(engine, nil, zerolog.Nop())

	if err := p.Merge(context.Background(), "v.mp4", "a.webm", "", filepath.Join(t.TempDir(), "o.mp4")); err != nil {
		t.Fatal(err)
	}
	if len(engine.calls[0].Inputs) != 2 {
		t.Errorf("expected 2 inputs, got %v", engine.calls[0].Inputs)
	}
}

func TestMerge_FailureRemovesPartialOutput(t *testing.T) {
	engine := &fakeEngine{err: errors.New("exit status 1")}
	p := NewProcessor(engine, nil, zerolog.Nop())
	out := filepath.Join(t.TempDir(), "song.mp4")

	err := p.Merge(context.Background(), "v.mp4", "a.webm", "", out)
	if err == nil {
		t.Fatal("expected error")
	}
	if apperrors.KindOf(err) != apperrors.KindProcessing {
		t.Errorf("expected processing kind, got %s", apperrors.KindOf(err))
	}
	if _, statErr := os.Stat(out); !os.IsNotExist(statErr) {
		t.Error("partial output should be removed")
	}
}

func TestTranscodePath(t *testing.T) {
	tests := map[string]string{
		"/a/song.mp4":  "/a/song.mp3",
		"/a/song.webm": "/a/song.mp3",
		"/a/song.m4a":  "/a/song.m4a.mp3",
	}
	for in, want := range tests {
		if got := TranscodePath(in); got != want {
			t.Errorf("TranscodePath(%s) = %s, want %s", in, got, want)
		}
	}
}

func TestTranscode(t *testing.T) {
	dir := t.TempDir()
	engine := &fakeEngine{}
	p := NewProcessor(engine, []string{"-threads", "2"}, zerolog.Nop())

	in := filepath.Join(dir, "song.webm")
	out, err := p.Transcode(context.Background(), in)
	if err != nil {
		t.Fatal(err)
	}
	if out != filepath.Join(dir, "song.mp3") {
		t.Errorf("unexpected output %s", out)
	}
	if !reflect.DeepEqual(engine.calls[0].GlobalFlags, []string{"-loglevel", "quiet", "-y"}) {
		t.Errorf("transcode should use the base flags only, got %v", engine.calls[0].GlobalFlags)
	}
}

func TestBinary_MissingCommand(t *testing.T) {
	b := &Binary{Command: filepath.Join(t.TempDir(), "no-such-ffmpeg")}
	if err := b.Run(context.Background(), Invocation{}); err == nil {
		t.Error("expected error for missing binary")
	}
}
