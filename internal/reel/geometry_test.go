package reel

import (
	"math/rand"
	"testing"
)

func TestFitContain(t *testing.T) {
	tests := []struct {
		name         string
		srcW, srcH   int
		wantW, wantH int
	}{
		{"portrait 2:3 is wider than 9:16 so pins width", 2000, 3000, 1080, 1620},
		{"landscape pins width", 1280, 720, 1080, 606},
		{"exact canvas aspect pins width", 540, 960, 1080, 1920},
		{"square", 500, 500, 1080, 1080},
		{"very tall", 10, 4000, 4, 1920},
		{"invalid falls back to canvas", 0, 100, 1080, 1920},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, h := FitContain(tt.srcW, tt.srcH, CanvasWidth, CanvasHeight)
			if w != tt.wantW || h != tt.wantH {
				t.Errorf("FitContain(%d,%d) = %dx%d, want %dx%d", tt.srcW, tt.srcH, w, h, tt.wantW, tt.wantH)
			}
		})
	}
}

func TestFitContainInvariants(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 5000; i++ {
		srcW := 1 + rng.Intn(8000)
		srcH := 1 + rng.Intn(8000)

		w, h := FitContain(srcW, srcH, CanvasWidth, CanvasHeight)
		if w%2 != 0 || h%2 != 0 {
			t.Fatalf("%dx%d: odd result %dx%d", srcW, srcH, w, h)
		}
		if w > CanvasWidth || h > CanvasHeight || w < 2 || h < 2 {
			t.Fatalf("%dx%d: result %dx%d outside canvas", srcW, srcH, w, h)
		}

		// One side is pinned; the derived side is within rounding of the true ratio.
		if w == CanvasWidth {
			exact := float64(srcH) * CanvasWidth / float64(srcW)
			if exact >= 2 && (float64(h) > exact || exact-float64(h) > 2) {
				t.Fatalf("%dx%d: height %d not within tolerance of %.2f", srcW, srcH, h, exact)
			}
		} else if h == CanvasHeight {
			exact := float64(srcW) * CanvasHeight / float64(srcH)
			if exact >= 2 && (float64(w) > exact || exact-float64(w) > 2) {
				t.Fatalf("%dx%d: width %d not within tolerance of %.2f", srcW, srcH, w, exact)
			}
		} else {
			t.Fatalf("%dx%d: neither side pinned (%dx%d)", srcW, srcH, w, h)
		}
	}
}

func TestOrientedSizeSwapsQuarterTurns(t *testing.T) {
	tests := []struct {
		rotation     int
		wantW, wantH int
	}{
		{0, 1280, 720},
		{90, 720, 1280},
		{180, 1280, 720},
		{270, 720, 1280},
		{-90, 720, 1280},
		{450, 720, 1280},
	}

	for _, tt := range tests {
		w, h := OrientedSize(1280, 720, tt.rotation)
		if w != tt.wantW || h != tt.wantH {
			t.Errorf("rotation %d: got %dx%d, want %dx%d", tt.rotation, w, h, tt.wantW, tt.wantH)
		}
	}
}

func TestContainBoxUsesRotatedDimensions(t *testing.T) {
	// A 1280x720 source rotated 90 is 720x1280 on screen: 9:16, same as the canvas.
	w, h := ContainBox(1280, 720, 90)
	if w != 1080 || h != 1920 {
		t.Errorf("rotated box = %dx%d, want 1080x1920", w, h)
	}

	w, h = ContainBox(1280, 720, 180)
	if w != 1080 || h != 606 {
		t.Errorf("upside-down box = %dx%d, want 1080x606", w, h)
	}
}

func TestNormalizeRotation(t *testing.T) {
	cases := map[int]int{0: 0, 90: 90, -90: 270, 180: 180, -180: 180, 270: 270, 360: 0, 89: 90, 44: 0, 314: 270, 316: 0}
	for in, want := range cases {
		if got := NormalizeRotation(in); got != want {
			t.Errorf("NormalizeRotation(%d) = %d, want %d", in, got, want)
		}
	}
}

func TestEvenFloor(t *testing.T) {
	cases := map[int]int{0: 2, 1: 2, 2: 2, 3: 2, 607: 606, 1080: 1080}
	for in, want := range cases {
		if got := EvenFloor(in); got != want {
			t.Errorf("EvenFloor(%d) = %d, want %d", in, got, want)
		}
	}
}
