// Package ffmpeg drives the ffmpeg binary for merging streams and
// transcoding to audio.
package ffmpeg

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	apperrors "github.com/openmusicplayer/mediafetch/internal/errors"
)

const (
	// DefaultCommand is looked up on PATH
	DefaultCommand = "ffmpeg"

	stderrTail = 2048
)

// baseGlobalFlags are always passed before any configured flags
var baseGlobalFlags = []string{"-loglevel", "quiet", "-y"}

// mergeOutputOptions copy streams as-is and convert subtitles for mp4
var mergeOutputOptions = []string{"-c:v", "copy", "-c:a", "copy", "-c:s", "mov_text"}

// Output is an output file with its per-output options
type Output struct {
	Path    string
	Options []string
}

// Invocation describes one ffmpeg run
type Invocation struct {
	GlobalFlags []string
	Inputs      []string
	Outputs     []Output
}

// Engine executes an invocation
type Engine interface {
	Run(ctx context.Context, inv Invocation) error
}

// BuildArgs builds the ffmpeg command arguments
func BuildArgs(inv Invocation) []string {
	args := append([]string{}, inv.GlobalFlags...)
	for _, in := range inv.Inputs {
		args = append(args, "-i", in)
	}
	for _, out := range inv.Outputs {
		args = append(args, out.Options...)
		args = append(args, out.Path)
	}
	return args
}

// Binary runs the real ffmpeg executable
type Binary struct {
	Command string
}

func (b *Binary) Run(ctx context.Context, inv Invocation) error {
	command := b.Command
	if command == "" {
		command = DefaultCommand
	}

	cmd := exec.CommandContext(ctx, command, BuildArgs(inv)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if len(msg) > stderrTail {
			msg = msg[len(msg)-stderrTail:]
		}
		if msg != "" {
			return fmt.Errorf("ffmpeg: %w: %s", err, msg)
		}
		return fmt.Errorf("ffmpeg: %w", err)
	}
	return nil
}

// Processor performs the merge and transcode steps of the pipeline
type Processor struct {
	engine      Engine
	globalFlags []string
	logger      zerolog.Logger
}

// NewProcessor creates a processor. extraFlags are appended after the
// quiet/overwrite defaults.
func NewProcessor(engine Engine, extraFlags []string, logger zerolog.Logger) *Processor {
	flags := append(append([]string{}, baseGlobalFlags...), extraFlags...)
	return &Processor{
		engine:      engine,
		globalFlags: flags,
		logger:      logger.With().Str("component", "ffmpeg").Logger(),
	}
}

// Merge muxes video, audio and optional subtitles into output. On
// failure any partial output is removed and a Processing error returned.
func (p *Processor) Merge(ctx context.Context, videoPath, audioPath, subtitlePath, outputPath string) error {
	inputs := []string{videoPath, audioPath}
	if subtitlePath != "" {
		inputs = append(inputs, subtitlePath)
	}

	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return apperrors.NewMediaError(apperrors.KindProcessing, "merge", filepath.Base(outputPath), err)
	}

	inv := Invocation{
		GlobalFlags: p.globalFlags,
		Inputs:      inputs,
		Outputs:     []Output{{Path: outputPath, Options: mergeOutputOptions}},
	}

	p.logger.Info().
		Str("output", outputPath).
		Strs("global_flags", p.globalFlags).
		Bool("subtitles", subtitlePath != "").
		Msg("merging streams")

	start := time.Now()
	if err := p.engine.Run(ctx, inv); err != nil {
		os.Remove(outputPath)
		p.logger.Error().Err(err).Str("output", outputPath).Msg("merge failed")
		return apperrors.NewMediaError(apperrors.KindProcessing, "merge", filepath.Base(outputPath), err)
	}

	p.logger.Debug().Str("output", outputPath).Dur("took", time.Since(start)).Msg("merge complete")
	return nil
}

// TranscodePath returns the .mp3 sibling of an .mp4 or .webm input
func TranscodePath(inputPath string) string {
	ext := filepath.Ext(inputPath)
	switch strings.ToLower(ext) {
	case ".mp4", ".webm":
		return strings.TrimSuffix(inputPath, ext) + ".mp3"
	}
	return inputPath + ".mp3"
}

// Transcode converts inputPath to mp3 next to it and returns the new path
func (p *Processor) Transcode(ctx context.Context, inputPath string) (string, error) {
	outputPath := TranscodePath(inputPath)
	inv := Invocation{
		GlobalFlags: append([]string{}, baseGlobalFlags...),
		Inputs:      []string{inputPath},
		Outputs:     []Output{{Path: outputPath}},
	}

	p.logger.Info().Str("input", inputPath).Msg("converting to mp3")
	if err := p.engine.Run(ctx, inv); err != nil {
		os.Remove(outputPath)
		return "", apperrors.NewMediaError(apperrors.KindProcessing, "transcode", filepath.Base(inputPath), err)
	}
	return outputPath, nil
}
