// Package captions selects a subtitle track and converts provider timed
// text into SRT.
package captions

import (
	"encoding/xml"
	"fmt"
	"html"
	"math"
	"strconv"
	"strings"

	"github.com/openmusicplayer/mediafetch/internal/provider"
)

// SelectTrack returns the first manually authored English track, or nil
func SelectTrack(tracks []provider.CaptionTrack) *provider.CaptionTrack {
	for i := range tracks {
		t := tracks[i]
		if t.Automatic || strings.HasPrefix(t.Language, "a.") {
			continue
		}
		if strings.Contains(strings.ToLower(t.Language), "en") {
			return &tracks[i]
		}
	}
	return nil
}

type timedText struct {
	XMLName xml.Name `xml:"timedtext"`
	Body    struct {
		Paragraphs []paragraph `xml:"p"`
	} `xml:"body"`
}

type paragraph struct {
	Start    string    `xml:"t,attr"`
	Duration string    `xml:"d,attr"`
	Text     string    `xml:",chardata"`
	Segments []segment `xml:"s"`
}

type segment struct {
	Text string `xml:",chardata"`
}

// Convert turns a timed-text payload (<timedtext><body><p t d>...) into SRT.
// Times are in milliseconds; a missing duration means zero.
func Convert(payload []byte) (string, error) {
	var doc timedText
	if err := xml.Unmarshal(payload, &doc); err != nil {
		return "", fmt.Errorf("parse timed text: %w", err)
	}

	cues := make([]string, 0, len(doc.Body.Paragraphs))
	for i, p := range doc.Body.Paragraphs {
		startMs, err := strconv.ParseFloat(strings.TrimSpace(p.Start), 64)
		if err != nil {
			return "", fmt.Errorf("cue %d: invalid start %q", i+1, p.Start)
		}

		var durMs float64
		if p.Duration != "" {
			durMs, err = strconv.ParseFloat(strings.TrimSpace(p.Duration), 64)
			if err != nil {
				return "", fmt.Errorf("cue %d: invalid duration %q", i+1, p.Duration)
			}
		}

		text := p.Text
		for _, s := range p.Segments {
			text += s.Text
		}
		text = strings.ReplaceAll(text, "\n", " ")
		text = strings.ReplaceAll(text, "  ", " ")
		// encoding/xml already decoded one level of entities
		text = html.UnescapeString(text)

		start := startMs / 1000
		end := start + durMs/1000
		cues = append(cues, fmt.Sprintf("%d\n%s --> %s\n%s\n", i+1, FormatTimestamp(start), FormatTimestamp(end), text))
	}

	return strings.TrimSpace(strings.Join(cues, "\n")), nil
}

// FormatTimestamp renders seconds as HH:MM:SS,mmm
func FormatTimestamp(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	totalMs := int64(math.Round(seconds * 1000))
	ms := totalMs % 1000
	totalSec := totalMs / 1000
	return fmt.Sprintf("%02d:%02d:%02d,%03d", totalSec/3600, (totalSec/60)%60, totalSec%60, ms)
}
