// Package captions acquires transcriptions and turns them into timed caption
// segments and drawtext overlays.
package captions

import (
	"strings"

	"veil/internal/filtergraph"
)

// UnavailableText is the transcription value used when every provider path
// failed and the artifact ships without captions.
const UnavailableText = "Transcription not available"

// segmentWordCount is the fixed grouping window for caption segments.
const segmentWordCount = 8

// Word is a single transcribed word with provider timing and confidence.
type Word struct {
	Word       string  `json:"word"`
	Confidence float64 `json:"confidence"`
	Start      float64 `json:"startTime"`
	End        float64 `json:"endTime"`
}

// Segment is one caption line. Start and End come from the first and last
// word timestamps; a segment is immutable once IsComplete.
type Segment struct {
	ID         int     `json:"id"`
	Text       string  `json:"text"`
	Words      []Word  `json:"words"`
	Start      float64 `json:"startTime"`
	End        float64 `json:"endTime"`
	IsComplete bool    `json:"isComplete"`
}

// CaptionData is the serialized sidecar payload for one video.
type CaptionData struct {
	Language string    `json:"language,omitempty"`
	Segments []Segment `json:"segments"`
}

// FullText joins all segment texts into one transcription string.
func (d *CaptionData) FullText() string {
	if d == nil || len(d.Segments) == 0 {
		return ""
	}
	parts := make([]string, 0, len(d.Segments))
	for _, segment := range d.Segments {
		parts = append(parts, segment.Text)
	}
	return strings.Join(parts, " ")
}

// Segmentize groups words into fixed-size caption segments in chronological
// order. Timing always derives from real word boundaries.
func Segmentize(words []Word) []Segment {
	var segments []Segment
	for start := 0; start < len(words); start += segmentWordCount {
		end := min(start+segmentWordCount, len(words))
		group := words[start:end]

		texts := make([]string, 0, len(group))
		for _, w := range group {
			texts = append(texts, w.Word)
		}

		segments = append(segments, Segment{
			ID:         len(segments),
			Text:       strings.Join(texts, " "),
			Words:      append([]Word{}, group...),
			Start:      group[0].Start,
			End:        group[len(group)-1].End,
			IsComplete: true,
		})
	}
	return segments
}

// Overlays converts caption segments into time-gated drawtext entries.
func Overlays(data *CaptionData) []filtergraph.Drawtext {
	if data == nil {
		return nil
	}
	overlays := make([]filtergraph.Drawtext, 0, len(data.Segments))
	for _, segment := range data.Segments {
		overlays = append(overlays, filtergraph.Drawtext{
			Text:  segment.Text,
			Start: segment.Start,
			End:   segment.End,
		})
	}
	return overlays
}
