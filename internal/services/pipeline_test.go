package services

import (
	"context"
	"image/color"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/bobarin/reels/internal/models"
	"github.com/bobarin/reels/internal/reel"
	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// requireTools skips tests that shell out to the real transcoder.
func requireTools(t *testing.T) {
	t.Helper()
	for _, tool := range []string{"ffmpeg", "ffprobe"} {
		if _, err := exec.LookPath(tool); err != nil {
			t.Skipf("%s not on PATH", tool)
		}
	}
}

type pipelineFixture struct {
	uploads  string
	ffmpeg   *FFmpegService
	prober   *Prober
	pipeline *Pipeline
}

func newPipelineFixture(t *testing.T) *pipelineFixture {
	t.Helper()
	requireTools(t)

	logger := zap.NewNop()
	uploads := t.TempDir()
	ff := NewFFmpegService("", "", logger)
	prober := NewProber(ff, logger)
	norm := NewNormalizer(ff, prober, NormalizerConfig{UploadsRoot: uploads, Limits: reel.DefaultLimits()}, logger)
	return &pipelineFixture{
		uploads:  uploads,
		ffmpeg:   ff,
		prober:   prober,
		pipeline: NewPipeline(ff, norm, NewAssembler(ff, prober, logger), reel.DefaultLimits(), logger),
	}
}

// generate runs ffmpeg to create a fixture in the uploads root and returns
// its stored path.
func (f *pipelineFixture) generate(t *testing.T, name string, args ...string) string {
	t.Helper()
	out := filepath.Join(f.uploads, name)
	if err := f.ffmpeg.run(context.Background(), append(args, out)); err != nil {
		t.Fatalf("generate %s: %v (%s)", name, err, diagnostic(err))
	}
	return name
}

// rotate remuxes src with a 90 degree clockwise display rotation. Newer
// ffmpeg only writes a display matrix through -display_rotation; older
// releases take the legacy rotate tag.
func (f *pipelineFixture) rotate(t *testing.T, src, name string) string {
	t.Helper()
	in := filepath.Join(f.uploads, src)
	out := filepath.Join(f.uploads, name)
	err := f.ffmpeg.run(context.Background(), []string{"-display_rotation", "-90", "-i", in, "-c", "copy", out})
	if err != nil {
		err = f.ffmpeg.run(context.Background(), []string{"-i", in, "-c", "copy", "-metadata:s:v:0", "rotate=90", out})
	}
	if err != nil {
		t.Fatalf("rotate %s: %v (%s)", src, err, diagnostic(err))
	}
	return name
}

// measure records on-disk sizes for stored files, as intake does.
func (f *pipelineFixture) measure(t *testing.T, item models.MediaItem) models.MediaItem {
	t.Helper()
	st, err := os.Stat(filepath.Join(f.uploads, item.StoredPath))
	if err != nil {
		t.Fatal(err)
	}
	item.Size = st.Size()
	return item
}

func (f *pipelineFixture) render(t *testing.T, items []models.MediaItem, opts models.RenderOptions) (string, error) {
	t.Helper()
	for i := range items {
		items[i] = f.measure(t, items[i])
	}
	if opts.Music != nil {
		music := f.measure(t, *opts.Music)
		opts.Music = &music
	}
	job := &models.RenderJob{
		ID:     uuid.New(),
		Owner:  "tester",
		Status: models.JobStatusRunning,
		Spec:   models.RenderSpec{Items: items, Options: opts},
	}
	out := filepath.Join(t.TempDir(), "reel.mp4")
	return out, f.pipeline.Render(context.Background(), job, t.TempDir(), out)
}

func assertCanvas(t *testing.T, info MediaInfo) {
	t.Helper()
	if !info.Probed || !info.HasVideo {
		t.Fatalf("output did not probe as video: %+v", info)
	}
	if info.Width != reel.CanvasWidth || info.Height != reel.CanvasHeight {
		t.Errorf("expected %dx%d, got %dx%d", reel.CanvasWidth, reel.CanvasHeight, info.Width, info.Height)
	}
	if !info.HasAudio {
		t.Error("every output carries an audio track")
	}
}

func TestRenderSinglePortraitStill(t *testing.T) {
	f := newPipelineFixture(t)
	tall := imaging.New(2000, 3000, color.NRGBA{R: 200, G: 80, B: 40, A: 255})
	if err := imaging.Save(tall, filepath.Join(f.uploads, "tall.png")); err != nil {
		t.Fatal(err)
	}

	out, err := f.render(t,
		[]models.MediaItem{{StoredPath: "tall.png", Mime: "image/png"}},
		models.RenderOptions{DurationSec: 3, Motion: models.MotionZoomIn, BgBlur: true},
	)
	if err != nil {
		t.Fatalf("Render: %v (%s)", err, reel.Detail(err))
	}

	info := f.prober.Probe(context.Background(), out)
	assertCanvas(t, info)
	if math.Abs(info.Duration-3) > 0.15 {
		t.Errorf("expected ~3s, got %.3f", info.Duration)
	}
}

func TestRenderRotatedClipKeepsAudioUnderCap(t *testing.T) {
	f := newPipelineFixture(t)
	plain := f.generate(t, "plain.mp4",
		"-f", "lavfi", "-i", "testsrc=size=1280x720:rate=30:duration=8",
		"-f", "lavfi", "-i", "sine=frequency=440:duration=8",
		"-shortest", "-c:v", "libx264", "-pix_fmt", "yuv420p", "-c:a", "aac",
	)
	clip := f.rotate(t, plain, "clip.mp4")
	if info := f.prober.Probe(context.Background(), filepath.Join(f.uploads, clip)); info.Rotation != 90 {
		t.Fatalf("fixture should probe as a quarter turn, got rotation %d", info.Rotation)
	}

	out, err := f.render(t,
		[]models.MediaItem{{StoredPath: clip, Mime: "video/mp4"}},
		models.RenderOptions{KeepVideoAudio: true, MaxPerVideoSec: 5},
	)
	if err != nil {
		t.Fatalf("Render: %v (%s)", err, reel.Detail(err))
	}

	info := f.prober.Probe(context.Background(), out)
	assertCanvas(t, info)
	if info.Duration > 5.1 || info.Duration < 4.5 {
		t.Errorf("expected the clip capped at 5s, got %.3f", info.Duration)
	}
}

func TestRenderFitsStillsToMusic(t *testing.T) {
	f := newPipelineFixture(t)
	for _, name := range []string{"a.png", "b.png", "c.png"} {
		if err := os.WriteFile(filepath.Join(f.uploads, name), pngBytes(t, 640, 480), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	music := f.generate(t, "music.m4a",
		"-f", "lavfi", "-i", "sine=frequency=220:duration=10",
		"-c:a", "aac",
	)

	items := []models.MediaItem{
		{StoredPath: "a.png", Mime: "image/png"},
		{StoredPath: "b.png", Mime: "image/png"},
		{StoredPath: "c.png", Mime: "image/png"},
	}
	out, err := f.render(t, items, models.RenderOptions{
		Motion:             models.MotionPanLeft,
		Music:              &models.MediaItem{StoredPath: music, Mime: "audio/mp4"},
		MatchMusicDuration: true,
	})
	if err != nil {
		t.Fatalf("Render: %v (%s)", err, reel.Detail(err))
	}

	info := f.prober.Probe(context.Background(), out)
	assertCanvas(t, info)
	if math.Abs(info.Duration-10) > 0.25 {
		t.Errorf("expected ~10s to match the music, got %.3f", info.Duration)
	}
}

func TestRenderRejectsVideoAsMusic(t *testing.T) {
	f := newPipelineFixture(t)
	if err := os.WriteFile(filepath.Join(f.uploads, "still.png"), pngBytes(t, 100, 100), 0o644); err != nil {
		t.Fatal(err)
	}
	clip := f.generate(t, "disguised.m4a",
		"-f", "lavfi", "-i", "testsrc=size=320x240:rate=30:duration=2",
		"-f", "lavfi", "-i", "sine=duration=2",
		"-shortest", "-c:v", "libx264", "-pix_fmt", "yuv420p", "-c:a", "aac", "-f", "mp4",
	)

	out, err := f.render(t,
		[]models.MediaItem{{StoredPath: "still.png", Mime: "image/png"}},
		models.RenderOptions{Music: &models.MediaItem{StoredPath: clip, Mime: "audio/mp4"}},
	)
	if !reel.IsCode(err, reel.CodeMusicMustBeAudio) {
		t.Fatalf("expected music_must_be_audio, got %v", err)
	}
	if _, statErr := os.Stat(out); !os.IsNotExist(statErr) {
		t.Error("a rejected job must not write output")
	}
}

func TestSegmentPlanAudioMode(t *testing.T) {
	clip := &Intermediate{Kind: models.MediaKindVideo, Info: MediaInfo{Width: 640, Height: 480, HasAudio: true, Rotation: 90}}
	slot := reel.Slot{Index: 0, Kind: models.MediaKindVideo, Duration: 4}

	keep := models.RenderOptions{KeepVideoAudio: true}.WithDefaults()
	if plan := segmentPlan(clip, slot, keep); plan.Audio != reel.AudioPassthrough || plan.Rotation != 90 {
		t.Errorf("expected passthrough with rotation, got %+v", plan)
	}

	mute := &Intermediate{Kind: models.MediaKindVideo, Info: MediaInfo{Width: 640, Height: 480}}
	if plan := segmentPlan(mute, slot, keep); plan.Audio != reel.AudioSilence {
		t.Error("a clip without audio gets silence")
	}

	still := &Intermediate{Kind: models.MediaKindImage, Info: MediaInfo{Width: 100, Height: 100, Rotation: 90}}
	if plan := segmentPlan(still, reel.Slot{Kind: models.MediaKindImage, Duration: 2}, keep); plan.Rotation != 0 || plan.Audio != reel.AudioSilence {
		t.Errorf("stills are already upright and silent, got %+v", plan)
	}
}
