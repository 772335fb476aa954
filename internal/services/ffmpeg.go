package services

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/bobarin/reels/internal/logging"
	"github.com/bobarin/reels/internal/models"
	"github.com/bobarin/reels/internal/reel"
	"go.uber.org/zap"
)

// Encoder settings shared by every segment so the timeline can be joined by
// stream copy. Changing any of these breaks concat compatibility between
// segments rendered by different versions.
const (
	videoCodec     = "libx264"
	videoPreset    = "veryfast"
	videoCRF       = "20"
	audioCodec     = "aac"
	audioBitrate   = "192k"
	audioRate      = "48000"
	audioChannels  = "2"
	trackTimescale = "15360"

	// diagnosticLimit bounds how much tool stderr is kept per invocation.
	diagnosticLimit = 8 << 10

	musicFadeOut = 1.0
)

// ToolError is a failed ffmpeg/ffprobe run with the tail of its stderr.
type ToolError struct {
	Tool   string
	Err    error
	Stderr string
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Tool, e.Err)
}

func (e *ToolError) Unwrap() error { return e.Err }

// diagnostic returns the captured stderr of a tool failure, if any.
func diagnostic(err error) string {
	var te *ToolError
	if errors.As(err, &te) {
		return te.Stderr
	}
	return ""
}

// ---------------------------------------------------------------------------
// FFmpegService
// ---------------------------------------------------------------------------

type FFmpegService struct {
	ffmpegPath  string
	ffprobePath string
	logger      *zap.Logger
}

func NewFFmpegService(ffmpegPath, ffprobePath string, logger *zap.Logger) *FFmpegService {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &FFmpegService{
		ffmpegPath:  ffmpegPath,
		ffprobePath: ffprobePath,
		logger:      logger.Named("ffmpeg"),
	}
}

// run executes ffmpeg. Stdout is discarded and stderr is kept only as a
// bounded tail for the error.
func (s *FFmpegService) run(ctx context.Context, args []string) error {
	full := append([]string{"-hide_banner", "-nostdin", "-y"}, args...)

	s.logger.Debug("Executing FFmpeg", zap.Strings("args", full))

	tail := logging.NewTail(diagnosticLimit)
	cmd := exec.CommandContext(ctx, s.ffmpegPath, full...)
	cmd.Stderr = tail

	start := time.Now()
	if err := cmd.Run(); err != nil {
		return &ToolError{Tool: "ffmpeg", Err: err, Stderr: tail.String()}
	}

	s.logger.Debug("FFmpeg finished", zap.Duration("elapsed", time.Since(start)))
	return nil
}

// output executes ffprobe and returns its stdout.
func (s *FFmpegService) output(ctx context.Context, args []string) ([]byte, error) {
	tail := logging.NewTail(diagnosticLimit)
	var stdout bytes.Buffer

	cmd := exec.CommandContext(ctx, s.ffprobePath, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = tail

	if err := cmd.Run(); err != nil {
		return nil, &ToolError{Tool: "ffprobe", Err: err, Stderr: tail.String()}
	}
	return stdout.Bytes(), nil
}

// SegmentInput is one normalized item ready to be rendered.
type SegmentInput struct {
	Path string
	Plan reel.SegmentPlan
}

// silenceSource is a lavfi input producing the silent audio bed.
const silenceSource = "anullsrc=channel_layout=stereo:sample_rate=48000"

// SegmentArgs builds the ffmpeg arguments that render one segment.
func SegmentArgs(in SegmentInput, outputPath string) ([]string, error) {
	graph, err := reel.BuildSegmentGraph(in.Plan)
	if err != nil {
		return nil, err
	}

	duration := in.Plan.Duration
	var args []string

	switch in.Plan.Kind {
	case models.MediaKindImage:
		// A single still looped at the output rate; zoompan then emits one
		// frame per input frame.
		args = append(args,
			"-loop", "1",
			"-framerate", fmt.Sprint(reel.FPS),
			"-t", reel.Num(duration),
			"-i", in.Path,
		)
	default:
		// Rotation is applied in the graph, so disable the decoder's own.
		args = append(args, "-noautorotate")
		if duration > 0 {
			args = append(args, "-t", reel.Num(duration))
		}
		args = append(args, "-i", in.Path)
	}

	if in.Plan.Audio == reel.AudioSilence {
		args = append(args, "-f", "lavfi", "-i", silenceSource)
	}

	args = append(args,
		"-filter_complex", graph.String(),
		"-map", "["+reel.LabelVideo+"]",
		"-map", "["+reel.LabelAudio+"]",
		"-c:v", videoCodec,
		"-preset", videoPreset,
		"-crf", videoCRF,
		"-pix_fmt", "yuv420p",
		"-r", fmt.Sprint(reel.FPS),
		"-c:a", audioCodec,
		"-b:a", audioBitrate,
		"-ar", audioRate,
		"-ac", audioChannels,
		"-video_track_timescale", trackTimescale,
	)

	if duration > 0 {
		args = append(args, "-t", reel.Num(duration))
	} else {
		args = append(args, "-shortest")
	}

	args = append(args, "-movflags", "+faststart", "-f", "mp4", outputPath)
	return args, nil
}

// BuildSegment renders one item into a fixed-canvas segment. Any failure is
// a segment_build_failed error carrying the tool's stderr tail as detail.
func (s *FFmpegService) BuildSegment(ctx context.Context, in SegmentInput, outputPath string) error {
	const op = "segment.build"

	args, err := SegmentArgs(in, outputPath)
	if err != nil {
		return &reel.Error{Code: reel.CodeSegmentBuildFailed, Op: op, Message: "invalid segment plan", Err: err}
	}

	s.logger.Info("Rendering segment",
		zap.String("kind", string(in.Plan.Kind)),
		zap.Float64("duration", in.Plan.Duration),
		zap.String("motion", string(in.Plan.Motion)),
		zap.Int("rotation", in.Plan.Rotation),
		zap.String("audio", in.Plan.Audio.String()),
	)

	if err := s.run(ctx, args); err != nil {
		return (&reel.Error{
			Code:    reel.CodeSegmentBuildFailed,
			Op:      op,
			Message: "ffmpeg could not render segment",
			Err:     err,
		}).WithDetail(diagnostic(err))
	}
	return nil
}

// escapeConcatPath quotes a path for a concat demuxer list entry.
func escapeConcatPath(path string) string {
	return "'" + strings.ReplaceAll(path, "'", `'\''`) + "'"
}

// writeConcatList writes the ordered concat manifest.
func writeConcatList(listPath string, segments []string) error {
	f, err := os.Create(listPath)
	if err != nil {
		return fmt.Errorf("failed to create concat list: %w", err)
	}

	w := bufio.NewWriter(f)
	for _, path := range segments {
		fmt.Fprintf(w, "file %s\n", escapeConcatPath(path))
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("failed to write concat list: %w", err)
	}
	return f.Close()
}

// Concat joins segments in order by stream copy.
func (s *FFmpegService) Concat(ctx context.Context, segments []string, listPath, outputPath string) error {
	const op = "assemble.concat"

	if len(segments) == 0 {
		return reel.New(reel.CodeAssemblyFailed, op, "no segments to concatenate")
	}
	if err := writeConcatList(listPath, segments); err != nil {
		return reel.Wrap(err, reel.CodeAssemblyFailed, op, "could not write concat list")
	}

	args := []string{
		"-f", "concat",
		"-safe", "0",
		"-i", listPath,
		"-map", "0",
		"-c", "copy",
		"-movflags", "+faststart",
		"-f", "mp4",
		outputPath,
	}

	s.logger.Info("Concatenating segments", zap.Int("segments", len(segments)))

	if err := s.run(ctx, args); err != nil {
		return (&reel.Error{Code: reel.CodeAssemblyFailed, Op: op, Message: "ffmpeg concat failed", Err: err}).
			WithDetail(diagnostic(err))
	}
	return nil
}

// ReplaceAudio swaps the video's audio for music looped and trimmed to
// duration. The video stream is copied; only audio is re-encoded.
func (s *FFmpegService) ReplaceAudio(ctx context.Context, videoPath, musicPath string, duration float64, outputPath string) error {
	const op = "assemble.music"

	args := []string{
		"-i", videoPath, // Input 0: the concatenated picture
		"-stream_loop", "-1", // Loop the music for as long as needed
		"-i", musicPath, // Input 1: background music
		"-map", "0:v:0",
		"-map", "1:a:0",
		"-c:v", "copy",
		"-c:a", audioCodec,
		"-b:a", audioBitrate,
		"-ar", audioRate,
		"-ac", audioChannels,
	}
	if duration > 2*musicFadeOut {
		args = append(args, "-af", fmt.Sprintf("afade=t=out:st=%s:d=%s", reel.Num(duration-musicFadeOut), reel.Num(musicFadeOut)))
	}
	if duration > 0 {
		args = append(args, "-t", reel.Num(duration))
	} else {
		args = append(args, "-shortest")
	}
	args = append(args, "-movflags", "+faststart", "-f", "mp4", outputPath)

	s.logger.Info("Replacing audio with background music", zap.Float64("duration", duration))

	if err := s.run(ctx, args); err != nil {
		return (&reel.Error{Code: reel.CodeAssemblyFailed, Op: op, Message: "ffmpeg music replacement failed", Err: err}).
			WithDetail(diagnostic(err))
	}
	return nil
}

// ExtractFrame decodes the first frame of an image the Go decoders cannot
// read (HEIC, AVIF) and writes it as an 8-bit JPEG no larger than maxDim.
func (s *FFmpegService) ExtractFrame(ctx context.Context, inputPath, outputPath string, maxDim int) error {
	scale := fmt.Sprintf("scale=w='min(%d,iw)':h='min(%d,ih)':force_original_aspect_ratio=decrease,format=yuvj420p", maxDim, maxDim)
	args := []string{
		"-i", inputPath,
		"-frames:v", "1",
		"-vf", scale,
		"-q:v", "2",
		"-f", "image2",
		outputPath,
	}
	return s.run(ctx, args)
}

// Cleanup removes temporary files
func (s *FFmpegService) Cleanup(paths ...string) {
	for _, path := range paths {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			s.logger.Warn("Failed to remove temp file", zap.String("path", path), zap.Error(err))
		}
	}
}
