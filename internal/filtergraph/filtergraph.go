package filtergraph

import (
	"fmt"
	"strings"
)

// Rect is a pixel-aligned rectangle in source-frame coordinates.
type Rect struct {
	X int
	Y int
	W int
	H int
}

// Drawtext describes one time-gated caption overlay.
type Drawtext struct {
	Text  string
	Start float64
	End   float64
}

// Graph accumulates the filter operations for one transcode invocation and
// renders them as a single ffmpeg -filter_complex expression. The output
// labels are [vout] and [aout]; callers map those when the corresponding
// chain is present and fall back to the source streams otherwise.
type Graph struct {
	blur        *Rect
	scaleHeight int
	drawtexts   []Drawtext
	audio       []string
}

// New returns an empty graph.
func New() *Graph {
	return &Graph{}
}

// SetBlur obscures the given region via a crop+boxblur+overlay chain.
func (g *Graph) SetBlur(region Rect) {
	r := region
	g.blur = &r
}

// SetScaleHeight downscales the video to the given height, preserving aspect.
// Zero disables scaling.
func (g *Graph) SetScaleHeight(height int) {
	g.scaleHeight = height
}

// AddCaption appends a bottom-centered, outlined caption overlay gated to
// the [start, end] interval.
func (g *Graph) AddCaption(d Drawtext) {
	g.drawtexts = append(g.drawtexts, d)
}

// SetAudioFilters replaces the audio filter chain.
func (g *Graph) SetAudioFilters(filters ...string) {
	g.audio = append([]string{}, filters...)
}

// HasVideo reports whether any video filtering is configured.
func (g *Graph) HasVideo() bool {
	return g.blur != nil || g.scaleHeight > 0 || len(g.drawtexts) > 0
}

// HasAudio reports whether any audio filtering is configured.
func (g *Graph) HasAudio() bool {
	return len(g.audio) > 0
}

// Empty reports whether the graph contains no filters at all.
func (g *Graph) Empty() bool {
	return !g.HasVideo() && !g.HasAudio()
}

// VideoLabel returns the label to map for video output, or "" when the
// source stream should be mapped untouched.
func (g *Graph) VideoLabel() string {
	if g.HasVideo() {
		return "[vout]"
	}
	return ""
}

// AudioLabel returns the label to map for audio output, or "" when the
// source stream should be mapped untouched.
func (g *Graph) AudioLabel() string {
	if g.HasAudio() {
		return "[aout]"
	}
	return ""
}

// Render produces the -filter_complex expression. Returns "" for an empty graph.
func (g *Graph) Render() string {
	var chains []string

	if g.HasVideo() {
		current := "[0:v]"
		if g.blur != nil {
			r := *g.blur
			chains = append(chains,
				current+"split=2[vbase][vroi]",
				fmt.Sprintf("[vroi]crop=%d:%d:%d:%d,boxblur=luma_radius=20:luma_power=2[vblurred]", r.W, r.H, r.X, r.Y),
				fmt.Sprintf("[vbase][vblurred]overlay=%d:%d[vmain]", r.X, r.Y),
			)
			current = "[vmain]"
		}

		var ops []string
		if g.scaleHeight > 0 {
			ops = append(ops, fmt.Sprintf("scale=-2:%d", g.scaleHeight))
		}
		for _, d := range g.drawtexts {
			ops = append(ops, renderDrawtext(d))
		}

		if len(ops) > 0 {
			chains = append(chains, current+strings.Join(ops, ",")+"[vout]")
		} else {
			// Blur only: relabel the overlay output directly.
			last := chains[len(chains)-1]
			chains[len(chains)-1] = strings.TrimSuffix(last, "[vmain]") + "[vout]"
		}
	}

	if g.HasAudio() {
		chains = append(chains, "[0:a]"+strings.Join(g.audio, ",")+"[aout]")
	}

	return strings.Join(chains, ";")
}

func renderDrawtext(d Drawtext) string {
	return fmt.Sprintf(
		"drawtext=text='%s':fontcolor=white:fontsize=28:borderw=2:bordercolor=black:x=(w-text_w)/2:y=h-text_h-40:enable='between(t,%.2f,%.2f)'",
		escapeDrawtext(d.Text), d.Start, d.End,
	)
}

// escapeDrawtext escapes the characters ffmpeg's drawtext filter treats
// specially inside a quoted text value.
func escapeDrawtext(text string) string {
	replacer := strings.NewReplacer(
		`\`, `\\`,
		`'`, `\'`,
		`:`, `\:`,
		`%`, `\%`,
	)
	return replacer.Replace(text)
}
