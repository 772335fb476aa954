package services

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/bobarin/reels/internal/models"
	"github.com/bobarin/reels/internal/reel"
	"go.uber.org/zap"
)

func argValue(args []string, flag string) (string, bool) {
	for i := 0; i < len(args)-1; i++ {
		if args[i] == flag {
			return args[i+1], true
		}
	}
	return "", false
}

func TestSegmentArgsImage(t *testing.T) {
	args, err := SegmentArgs(SegmentInput{
		Path: "/work/item000.jpg",
		Plan: reel.SegmentPlan{
			Kind:     models.MediaKindImage,
			SrcW:     2000,
			SrcH:     3000,
			Duration: 3,
			Motion:   models.MotionZoomIn,
			BgBlur:   true,
		},
	}, "/work/seg000.mp4")
	if err != nil {
		t.Fatal(err)
	}

	joined := strings.Join(args, " ")
	for _, want := range []string{
		"-loop 1 -framerate 30 -t 3 -i /work/item000.jpg",
		"-f lavfi -i " + silenceSource,
		"-map [v] -map [a]",
		"-c:v libx264",
		"-pix_fmt yuv420p",
		"-r 30",
		"-ar 48000 -ac 2",
		"-video_track_timescale 15360",
	} {
		if !strings.Contains(joined, want) {
			t.Errorf("args missing %q:\n%s", want, joined)
		}
	}
	if args[len(args)-1] != "/work/seg000.mp4" {
		t.Errorf("output must be last, got %q", args[len(args)-1])
	}
	if graph, _ := argValue(args, "-filter_complex"); !strings.Contains(graph, "zoompan") {
		t.Errorf("expected zoompan in graph: %s", graph)
	}
}

func TestSegmentArgsVideo(t *testing.T) {
	t.Run("trimmed passthrough", func(t *testing.T) {
		args, err := SegmentArgs(SegmentInput{
			Path: "/work/clip.mov",
			Plan: reel.SegmentPlan{Kind: models.MediaKindVideo, SrcW: 1280, SrcH: 720, Rotation: 90, Duration: 5, Audio: reel.AudioPassthrough},
		}, "/work/seg.mp4")
		if err != nil {
			t.Fatal(err)
		}
		joined := strings.Join(args, " ")
		if !strings.HasPrefix(joined, "-noautorotate -t 5 -i /work/clip.mov") {
			t.Errorf("unexpected input args: %s", joined)
		}
		if strings.Contains(joined, "lavfi") {
			t.Error("passthrough must not add a silent source")
		}
		if strings.Contains(joined, "-shortest") {
			t.Error("known duration should use -t, not -shortest")
		}
	})

	t.Run("untrimmed silence", func(t *testing.T) {
		args, err := SegmentArgs(SegmentInput{
			Path: "/work/clip.mp4",
			Plan: reel.SegmentPlan{Kind: models.MediaKindVideo, SrcW: 640, SrcH: 480},
		}, "/work/seg.mp4")
		if err != nil {
			t.Fatal(err)
		}
		joined := strings.Join(args, " ")
		if !strings.Contains(joined, "-shortest") {
			t.Errorf("unknown duration must end with the picture: %s", joined)
		}
		if _, ok := argValue(args[:4], "-t"); ok {
			t.Error("no input trim expected")
		}
	})
}

func TestEscapeConcatPath(t *testing.T) {
	if got := escapeConcatPath("/tmp/it's here/seg.mp4"); got != `'/tmp/it'\''s here/seg.mp4'` {
		t.Errorf("got %s", got)
	}
}

func TestWriteConcatListKeepsOrder(t *testing.T) {
	dir := t.TempDir()
	list := filepath.Join(dir, "concat.txt")
	if err := writeConcatList(list, []string{"/a/seg002.mp4", "/a/seg000.mp4", "/a/seg001.mp4"}); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(list)
	if err != nil {
		t.Fatal(err)
	}
	want := "file '/a/seg002.mp4'\nfile '/a/seg000.mp4'\nfile '/a/seg001.mp4'\n"
	if string(data) != want {
		t.Errorf("got %q", string(data))
	}
}

// fakeTool writes an executable script that prints to stderr and fails.
func fakeTool(t *testing.T, stderrBytes int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ffmpeg")
	script := "#!/bin/sh\nhead -c " + strconv.Itoa(stderrBytes) + " /dev/zero | tr '\\0' 'x' >&2\necho 'Conversion failed!' >&2\nexit 1\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestBuildSegmentFailureIsBoundedAndClassified(t *testing.T) {
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("needs /bin/sh")
	}

	svc := NewFFmpegService(fakeTool(t, 100_000), "", zap.NewNop())
	err := svc.BuildSegment(context.Background(), SegmentInput{
		Path: "in.jpg",
		Plan: reel.SegmentPlan{Kind: models.MediaKindImage, SrcW: 100, SrcH: 100, Duration: 1},
	}, filepath.Join(t.TempDir(), "out.mp4"))

	if !reel.IsCode(err, reel.CodeSegmentBuildFailed) {
		t.Fatalf("expected segment_build_failed, got %v", err)
	}
	detail := reel.Detail(err)
	if !strings.Contains(detail, "Conversion failed!") {
		t.Errorf("detail should keep the end of stderr, got %d bytes", len(detail))
	}
	if len(detail) > diagnosticLimit+3 {
		t.Errorf("detail not bounded: %d bytes", len(detail))
	}
	if strings.Contains(reel.UserMessage(err), "Conversion failed") {
		t.Error("user message must not include tool output")
	}
}

func TestConcatFailureIsAssemblyFailed(t *testing.T) {
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("needs /bin/sh")
	}

	dir := t.TempDir()
	svc := NewFFmpegService(fakeTool(t, 10), "", zap.NewNop())
	err := svc.Concat(context.Background(), []string{"a.mp4"}, filepath.Join(dir, "list.txt"), filepath.Join(dir, "out.mp4"))
	if !reel.IsCode(err, reel.CodeAssemblyFailed) {
		t.Fatalf("expected assembly_failed, got %v", err)
	}

	if err := svc.Concat(context.Background(), nil, filepath.Join(dir, "list.txt"), filepath.Join(dir, "out.mp4")); !reel.IsCode(err, reel.CodeAssemblyFailed) {
		t.Errorf("empty timeline should be assembly_failed, got %v", err)
	}
}
