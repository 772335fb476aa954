package reel

import (
	"fmt"
	"math"

	"github.com/bobarin/reels/internal/models"
)

const (
	zoomMax  = 1.20
	panScale = 1.08
)

// FrameCount is round(duration*fps), never below 2.
func FrameCount(durationSec float64, fps int) int {
	n := int(math.Round(durationSec * float64(fps)))
	if n < 2 {
		return 2
	}
	return n
}

// Transform is the state of the moving crop at one frame. X and Y are the
// crop origin as a fraction of the available margin (0 = left/top edge,
// 1 = right/bottom edge). The crop window itself always has the output size.
type Transform struct {
	Scale float64
	X     float64
	Y     float64
}

type linear struct {
	from, to float64
}

func (l linear) at(p float64) float64 {
	switch {
	case p <= 0:
		return l.from
	case p >= 1:
		return l.to
	}
	return l.from + (l.to-l.from)*p
}

func (l linear) expr(progress string) string {
	if l.from == l.to {
		return Num(l.from)
	}
	return fmt.Sprintf("%s+(%s)*%s", Num(l.from), Num(l.to-l.from), progress)
}

// MotionPath describes the per-frame transform of a still image.
type MotionPath struct {
	Motion models.Motion
	Frames int

	scale linear
	x     linear
	y     linear
}

// NewMotionPath builds the path for a clip of durationSec at fps.
// Unknown motions behave like cover.
func NewMotionPath(motion models.Motion, durationSec float64, fps int) MotionPath {
	p := MotionPath{
		Motion: motion,
		Frames: FrameCount(durationSec, fps),
		scale:  linear{1, 1},
		x:      linear{0.5, 0.5},
		y:      linear{0.5, 0.5},
	}
	switch motion {
	case models.MotionZoomIn:
		p.scale = linear{1, zoomMax}
	case models.MotionZoomOut:
		p.scale = linear{zoomMax, 1}
	case models.MotionPanLeft:
		p.scale = linear{panScale, panScale}
		p.x = linear{1, 0}
	case models.MotionPanRight:
		p.scale = linear{panScale, panScale}
		p.x = linear{0, 1}
	default:
		p.Motion = models.MotionCover
	}
	return p
}

// Animated reports whether the path changes anything over time.
func (p MotionPath) Animated() bool {
	return p.Motion != models.MotionCover
}

func (p MotionPath) progress(frame int) float64 {
	if p.Frames <= 1 {
		return 0
	}
	return float64(frame) / float64(p.Frames-1)
}

// At returns the transform at a zero-based frame index.
func (p MotionPath) At(frame int) Transform {
	t := p.progress(frame)
	return Transform{Scale: p.scale.at(t), X: p.x.at(t), Y: p.y.at(t)}
}

// progressExpr is the zoompan expression for At's progress: on/(N-1) clamped to [0,1].
func (p MotionPath) progressExpr() string {
	return fmt.Sprintf("min(on/%d,1)", p.Frames-1)
}

// ZoomExpr is the zoompan z expression.
func (p MotionPath) ZoomExpr() string {
	return p.scale.expr(p.progressExpr())
}

// XExpr is the zoompan x expression: the origin fraction times the margin.
func (p MotionPath) XExpr() string {
	return fmt.Sprintf("(iw-iw/zoom)*(%s)", p.x.expr(p.progressExpr()))
}

func (p MotionPath) YExpr() string {
	return fmt.Sprintf("(ih-ih/zoom)*(%s)", p.y.expr(p.progressExpr()))
}

// Zoompan emits one output frame per input frame at the contain box size,
// so the input must already be a looped still at the output frame rate.
func (p MotionPath) Zoompan(w, h, fps int) Filter {
	return NewFilter("zoompan",
		KV("z", p.ZoomExpr()),
		KV("x", p.XExpr()),
		KV("y", p.YExpr()),
		KV("d", 1),
		KV("s", fmt.Sprintf("%dx%d", w, h)),
		KV("fps", fps),
	)
}
