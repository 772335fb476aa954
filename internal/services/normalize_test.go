package services

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/bobarin/reels/internal/models"
	"github.com/bobarin/reels/internal/reel"
	"github.com/disintegration/imaging"
	"go.uber.org/zap"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA64(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA64{R: uint16(x * 65535 / w), G: uint16(y * 65535 / h), B: 30000, A: 65535})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func pngDataURL(t *testing.T, w, h int) string {
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(pngBytes(t, w, h))
}

func newTestNormalizer(t *testing.T, uploads string) *Normalizer {
	t.Helper()
	logger := zap.NewNop()
	ff := NewFFmpegService("", "", logger)
	return NewNormalizer(ff, NewProber(ff, logger), NormalizerConfig{
		UploadsRoot:       uploads,
		MaxImageDimension: 400,
		Limits:            reel.DefaultLimits(),
	}, logger)
}

func TestNormalizeImageDownscalesAndReencodes(t *testing.T) {
	n := newTestNormalizer(t, "")
	work := t.TempDir()

	in, err := n.Normalize(context.Background(), models.MediaItem{DataURL: pngDataURL(t, 800, 1200)}, work, "item000")
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if in.Kind != models.MediaKindImage || filepath.Ext(in.Path) != ".jpg" {
		t.Errorf("expected a jpeg still, got %+v", in)
	}
	if in.Info.Height != 400 || in.Info.Width < 266 || in.Info.Width > 267 {
		t.Errorf("expected ~266x400 after fitting into 400, got %dx%d", in.Info.Width, in.Info.Height)
	}

	img, err := imaging.Open(in.Path)
	if err != nil {
		t.Fatalf("output is not a readable image: %v", err)
	}
	if b := img.Bounds(); b.Dx() != in.Info.Width || b.Dy() != in.Info.Height {
		t.Errorf("file dimensions %dx%d", b.Dx(), b.Dy())
	}
}

func TestNormalizeSmallImageKeepsSize(t *testing.T) {
	n := newTestNormalizer(t, "")
	in, err := n.Normalize(context.Background(), models.MediaItem{DataURL: pngDataURL(t, 120, 90)}, t.TempDir(), "item000")
	if err != nil {
		t.Fatal(err)
	}
	if in.Info.Width != 120 || in.Info.Height != 90 {
		t.Errorf("small images must not be scaled, got %dx%d", in.Info.Width, in.Info.Height)
	}
}

// exifRotated encodes a w x h JPEG, red on the left half and blue on the
// right, tagged with EXIF Orientation 6 (display rotated 90 degrees clockwise).
func exifRotated(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := color.NRGBA{R: 230, G: 20, B: 20, A: 255}
			if x >= w/2 {
				c = color.NRGBA{R: 20, G: 20, B: 230, A: 255}
			}
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 95}); err != nil {
		t.Fatal(err)
	}
	raw := buf.Bytes()

	app1 := []byte{
		0xFF, 0xE1, 0x00, 0x22, // APP1, length 34
		'E', 'x', 'i', 'f', 0x00, 0x00,
		'I', 'I', 0x2A, 0x00, 0x08, 0x00, 0x00, 0x00, // little-endian TIFF, IFD0 at 8
		0x01, 0x00, // one entry
		0x12, 0x01, 0x03, 0x00, 0x01, 0x00, 0x00, 0x00, 0x06, 0x00, 0x00, 0x00, // Orientation SHORT 6
		0x00, 0x00, 0x00, 0x00, // no next IFD
	}
	out := append([]byte{}, raw[:2]...) // SOI
	out = append(out, app1...)
	return append(out, raw[2:]...)
}

func TestNormalizeAppliesExifOrientation(t *testing.T) {
	n := newTestNormalizer(t, "")
	dataURL := "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(exifRotated(t, 40, 20))

	in, err := n.Normalize(context.Background(), models.MediaItem{DataURL: dataURL}, t.TempDir(), "item000")
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if in.Info.Width != 20 || in.Info.Height != 40 {
		t.Fatalf("expected the 40x20 source stored upright as 20x40, got %dx%d", in.Info.Width, in.Info.Height)
	}

	img, err := imaging.Open(in.Path)
	if err != nil {
		t.Fatal(err)
	}
	if b := img.Bounds(); b.Dx() != 20 || b.Dy() != 40 {
		t.Fatalf("file is %dx%d", b.Dx(), b.Dy())
	}
	// The left (red) half ends up on top after a clockwise turn.
	top := color.NRGBAModel.Convert(img.At(10, 8)).(color.NRGBA)
	bottom := color.NRGBAModel.Convert(img.At(10, 32)).(color.NRGBA)
	if top.R < top.B || bottom.B < bottom.R {
		t.Errorf("pixels not rotated: top %v, bottom %v", top, bottom)
	}
}

func TestNormalizeRejectsUnsupportedType(t *testing.T) {
	n := newTestNormalizer(t, "")
	tests := []models.MediaItem{
		{DataURL: "data:application/pdf;base64,AAAA"},
		{DataURL: "data:audio/mpeg;base64,AAAA"},
		{DataURL: "data:image/x-unknown;base64,AAAA"},
	}
	for _, item := range tests {
		if _, err := n.Normalize(context.Background(), item, t.TempDir(), "x"); !reel.IsCode(err, reel.CodeUnsupportedType) {
			t.Errorf("%s: expected unsupported_type, got %v", item.MediaType(), err)
		}
	}
}

func TestNormalizeMusicRejectsVideoType(t *testing.T) {
	n := newTestNormalizer(t, "")
	_, err := n.NormalizeMusic(context.Background(), models.MediaItem{DataURL: "data:video/mp4;base64,AAAA"}, t.TempDir())
	if !reel.IsCode(err, reel.CodeMusicMustBeAudio) {
		t.Errorf("expected music_must_be_audio, got %v", err)
	}
}

func TestDecodeDataURL(t *testing.T) {
	dir := t.TempDir()

	t.Run("base64", func(t *testing.T) {
		dst := filepath.Join(dir, "a.bin")
		if err := decodeDataURL("data:image/png;base64,"+base64.StdEncoding.EncodeToString([]byte("hello")), dst, 100); err != nil {
			t.Fatal(err)
		}
		if data, _ := os.ReadFile(dst); string(data) != "hello" {
			t.Errorf("got %q", data)
		}
	})

	t.Run("unpadded base64", func(t *testing.T) {
		dst := filepath.Join(dir, "b.bin")
		if err := decodeDataURL("data:image/png;base64,"+base64.RawStdEncoding.EncodeToString([]byte("hello")), dst, 100); err != nil {
			t.Fatal(err)
		}
		if data, _ := os.ReadFile(dst); string(data) != "hello" {
			t.Errorf("got %q", data)
		}
	})

	t.Run("percent encoded", func(t *testing.T) {
		dst := filepath.Join(dir, "c.bin")
		if err := decodeDataURL("data:image/svg+xml,%3Csvg%3E", dst, 100); err != nil {
			t.Fatal(err)
		}
		if data, _ := os.ReadFile(dst); string(data) != "<svg>" {
			t.Errorf("got %q", data)
		}
	})

	t.Run("too large before decoding", func(t *testing.T) {
		err := decodeDataURL("data:image/png;base64,"+base64.StdEncoding.EncodeToString(make([]byte, 101)), filepath.Join(dir, "d.bin"), 100)
		if !errors.Is(err, reel.ErrTooLarge) || !reel.IsCode(err, reel.CodeValidationFailed) {
			t.Errorf("expected too large, got %v", err)
		}
	})

	t.Run("corrupt", func(t *testing.T) {
		err := decodeDataURL("data:image/png;base64,@@@@", filepath.Join(dir, "e.bin"), 100)
		if !reel.IsCode(err, reel.CodeValidationFailed) {
			t.Errorf("expected validation_failed, got %v", err)
		}
	})

	t.Run("malformed", func(t *testing.T) {
		if err := decodeDataURL("data:image/png;base64", filepath.Join(dir, "f.bin"), 100); !reel.IsCode(err, reel.CodeValidationFailed) {
			t.Errorf("expected validation_failed, got %v", err)
		}
	})
}

func TestResolveStoredPath(t *testing.T) {
	uploads := t.TempDir()
	if err := os.MkdirAll(filepath.Join(uploads, "user1"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(uploads, "user1", "photo.png"), pngBytes(t, 20, 20), 0o644); err != nil {
		t.Fatal(err)
	}
	outside := filepath.Join(filepath.Dir(uploads), "secret.png")
	os.WriteFile(outside, []byte("x"), 0o644)
	t.Cleanup(func() { os.Remove(outside) })

	n := newTestNormalizer(t, uploads)

	path, err := n.resolveStored("user1/photo.png", 0, 1<<20)
	if err != nil {
		t.Fatalf("expected stored file to resolve: %v", err)
	}
	if path != filepath.Join(uploads, "user1", "photo.png") {
		t.Errorf("unexpected path %s", path)
	}

	// Traversal is clamped to the root, so the outside file is never reached.
	if _, err := n.resolveStored("../"+filepath.Base(outside), 0, 1<<20); err == nil {
		t.Error("traversal must not escape the uploads root")
	}
	if _, err := n.resolveStored("user1/photo.png", 0, 10); !errors.Is(err, reel.ErrTooLarge) {
		t.Errorf("expected size rejection, got %v", err)
	}
	if _, err := n.resolveStored("user1/photo.png", 5, 1<<20); !errors.Is(err, reel.ErrTooLarge) {
		t.Errorf("a file grown past its declared size must be rejected, got %v", err)
	}
	if _, err := n.resolveStored("user1", 0, 1<<20); err == nil {
		t.Error("directories are not media")
	}
	if _, err := n.resolveStored("/", 0, 1<<20); err == nil {
		t.Error("root itself is not media")
	}

	in, err := n.Normalize(context.Background(), models.MediaItem{StoredPath: "user1/photo.png", Mime: "image/png"}, t.TempDir(), "item000")
	if err != nil {
		t.Fatalf("Normalize stored: %v", err)
	}
	if in.Info.Width != 20 {
		t.Errorf("unexpected info %+v", in.Info)
	}
}
