package reel

import (
	"fmt"
	"math"
	"strings"

	"github.com/bobarin/reels/internal/models"
)

// Pad labels shared by the segment graph and the encoder arguments.
const (
	LabelVideo = "v"
	LabelAudio = "a"
)

// Fade timings in seconds.
const (
	FadeIn         = 0.25
	FadeOutRatio   = 0.15
	FadeOutMin     = 0.2
	FadeOutMax     = 0.6
	blurWidth      = CanvasWidth / 4
	blurHeight     = CanvasHeight / 4
	blurRadius     = 20
	blurIterations = 2
)

// AudioMode selects where a segment's audio stream comes from.
type AudioMode int

const (
	// AudioSilence synthesizes a silent stereo bed from input 1.
	AudioSilence AudioMode = iota
	// AudioPassthrough keeps the source's own audio from input 0.
	AudioPassthrough
)

func (m AudioMode) String() string {
	if m == AudioPassthrough {
		return "passthrough"
	}
	return "silence"
}

// SegmentPlan is everything the segment graph depends on for one item.
type SegmentPlan struct {
	Kind     models.MediaKind
	SrcW     int
	SrcH     int
	Rotation int // 0, 90, 180, 270; applied to video pixels before scaling
	Transfer string
	IsHDR    bool
	Duration float64 // seconds; 0 means an unprobed video played in full
	Motion   models.Motion
	BgBlur   bool
	Audio    AudioMode
}

// FadeDurations returns the fade-in and fade-out lengths for a segment of
// the given duration. Only an unknown duration (<= 0) gets no fade-out.
func FadeDurations(duration float64) (in, out float64) {
	in = FadeIn
	if duration <= 0 {
		return in, 0
	}
	out = math.Min(math.Max(duration*FadeOutRatio, FadeOutMin), FadeOutMax)
	if half := duration / 2; in > half {
		in = half
	}
	if half := duration / 2; out > half {
		out = half
	}
	return in, out
}

// NeedsToneMap reports whether the transfer characteristic is PQ or HLG.
func NeedsToneMap(transfer string) bool {
	switch strings.ToLower(transfer) {
	case "smpte2084", "arib-std-b67":
		return true
	}
	return false
}

func rotationFilters(rotation int) []Filter {
	switch NormalizeRotation(rotation) {
	case 90:
		return []Filter{NewFilter("transpose", Pos(1))}
	case 270:
		return []Filter{NewFilter("transpose", Pos(2))}
	case 180:
		return []Filter{NewFilter("hflip"), NewFilter("vflip")}
	}
	return nil
}

func toneMapFilters() []Filter {
	return []Filter{
		NewFilter("zscale", KV("t", "linear"), KV("npl", 100)),
		NewFilter("format", Pos("gbrpf32le")),
		NewFilter("zscale", KV("p", "bt709")),
		NewFilter("tonemap", KV("tonemap", "hable"), KV("desat", 0)),
		NewFilter("zscale", KV("t", "bt709"), KV("m", "bt709"), KV("r", "tv")),
		NewFilter("format", Pos("yuv420p")),
	}
}

// coverFill scales up until the canvas is covered, then crops the overflow.
func coverFill(w, h int) []Filter {
	return []Filter{
		NewFilter("scale", KV("w", w), KV("h", h), KV("force_original_aspect_ratio", "increase")),
		NewFilter("crop", KV("w", w), KV("h", h)),
	}
}

// BuildSegmentGraph builds the filter graph for one segment. Input 0 is the
// normalized media; for AudioSilence, input 1 is a silent audio source.
// The graph ends in [v] and [a].
func BuildSegmentGraph(p SegmentPlan) (Graph, error) {
	if p.Kind != models.MediaKindImage && p.Kind != models.MediaKindVideo {
		return Graph{}, fmt.Errorf("cannot build a segment for kind %q", p.Kind)
	}
	if p.Kind == models.MediaKindImage && p.Duration <= 0 {
		return Graph{}, fmt.Errorf("image segment needs a positive duration")
	}

	var g Graph
	fitW, fitH := ContainBox(p.SrcW, p.SrcH, p.Rotation)

	// Source: upright, SDR, square pixels, then split for the two layers.
	var src []Filter
	if p.Kind == models.MediaKindVideo {
		src = append(src, rotationFilters(p.Rotation)...)
		if NeedsToneMap(p.Transfer) {
			src = append(src, toneMapFilters()...)
		} else if p.IsHDR {
			src = append(src, NewFilter("format", Pos("yuv420p")))
		}
	}
	src = append(src, NewFilter("setsar", Pos(1)), NewFilter("split", Pos(2)))
	g.Add([]string{"0:v"}, src, "bgsrc", "fgsrc")

	// Background layer.
	var bg []Filter
	if p.BgBlur {
		bg = append(bg, coverFill(blurWidth, blurHeight)...)
		bg = append(bg,
			NewFilter("boxblur", KV("luma_radius", blurRadius), KV("luma_power", blurIterations)),
			NewFilter("scale", KV("w", CanvasWidth), KV("h", CanvasHeight)),
		)
	} else {
		bg = append(bg, coverFill(CanvasWidth, CanvasHeight)...)
	}
	bg = append(bg, NewFilter("setsar", Pos(1)))
	g.Add([]string{"bgsrc"}, bg, "bg")

	// Foreground layer: contain box, plus motion for stills.
	fg := []Filter{
		NewFilter("scale", KV("w", fitW), KV("h", fitH), KV("flags", "lanczos")),
		NewFilter("setsar", Pos(1)),
	}
	if p.Kind == models.MediaKindImage {
		if path := NewMotionPath(p.Motion, p.Duration, FPS); path.Animated() {
			fg = append(fg, path.Zoompan(fitW, fitH, FPS))
		}
	}
	g.Add([]string{"fgsrc"}, fg, "fg")

	fadeIn, fadeOut := FadeDurations(p.Duration)

	out := []Filter{
		NewFilter("overlay", KV("x", "(W-w)/2"), KV("y", "(H-h)/2"), KV("shortest", 1)),
		NewFilter("fps", Pos(FPS)),
		NewFilter("format", Pos("yuv420p")),
		NewFilter("fade", KV("t", "in"), KV("st", 0), KV("d", fadeIn)),
	}
	if fadeOut > 0 {
		out = append(out, NewFilter("fade", KV("t", "out"), KV("st", p.Duration-fadeOut), KV("d", fadeOut)))
	}
	g.Add([]string{"bg", "fg"}, out, LabelVideo)

	// Audio: every segment carries 48 kHz stereo so concat can stream-copy.
	aformat := NewFilter("aformat",
		KV("sample_fmts", "fltp"),
		KV("sample_rates", 48000),
		KV("channel_layouts", "stereo"),
	)
	switch p.Audio {
	case AudioPassthrough:
		audio := []Filter{
			NewFilter("aresample", Pos(48000)),
			aformat,
			NewFilter("afade", KV("t", "in"), KV("st", 0), KV("d", fadeIn)),
		}
		if fadeOut > 0 {
			audio = append(audio, NewFilter("afade", KV("t", "out"), KV("st", p.Duration-fadeOut), KV("d", fadeOut)))
		}
		g.Add([]string{"0:a"}, audio, LabelAudio)
	default:
		audio := []Filter{aformat}
		if p.Duration > 0 {
			audio = append(audio, NewFilter("atrim", KV("duration", p.Duration)))
		}
		g.Add([]string{"1:a"}, audio, LabelAudio)
	}

	if err := g.Validate(LabelVideo, LabelAudio); err != nil {
		return Graph{}, fmt.Errorf("invalid segment graph: %w", err)
	}
	return g, nil
}
