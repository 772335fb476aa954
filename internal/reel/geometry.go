package reel

// Output canvas. Every segment and every artifact has exactly this shape.
const (
	CanvasWidth  = 1080
	CanvasHeight = 1920
	FPS          = 30
)

// EvenFloor rounds n down to an even number, never below 2.
func EvenFloor(n int) int {
	n &^= 1
	if n < 2 {
		return 2
	}
	return n
}

// NormalizeRotation maps any angle in degrees to one of 0, 90, 180, 270,
// snapping to the nearest quarter turn.
func NormalizeRotation(deg int) int {
	r := ((deg % 360) + 360) % 360
	r = ((r + 45) / 90 * 90) % 360
	return r
}

// OrientedSize returns the display dimensions of a source after rotation.
func OrientedSize(w, h, rotation int) (int, int) {
	switch NormalizeRotation(rotation) {
	case 90, 270:
		return h, w
	}
	return w, h
}

// FitContain scales a source to fit entirely inside the canvas, preserving
// the aspect ratio. If the source is at least as wide as the canvas (by
// aspect) the width is pinned, otherwise the height is. Both results are
// even. Non-positive input yields the full canvas.
func FitContain(srcW, srcH, canvasW, canvasH int) (int, int) {
	if srcW <= 0 || srcH <= 0 || canvasW <= 0 || canvasH <= 0 {
		return EvenFloor(canvasW), EvenFloor(canvasH)
	}

	var fitW, fitH int
	if int64(srcW)*int64(canvasH) >= int64(canvasW)*int64(srcH) {
		fitW = canvasW
		fitH = int(int64(srcH) * int64(canvasW) / int64(srcW))
	} else {
		fitH = canvasH
		fitW = int(int64(srcW) * int64(canvasH) / int64(srcH))
	}

	fitW, fitH = EvenFloor(fitW), EvenFloor(fitH)
	if fitW > canvasW {
		fitW = canvasW &^ 1
	}
	if fitH > canvasH {
		fitH = canvasH &^ 1
	}
	return fitW, fitH
}

// ContainBox is FitContain against the output canvas, after applying rotation.
func ContainBox(srcW, srcH, rotation int) (int, int) {
	w, h := OrientedSize(srcW, srcH, rotation)
	return FitContain(w, h, CanvasWidth, CanvasHeight)
}
