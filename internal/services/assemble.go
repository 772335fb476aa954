package services

import (
	"context"
	"path/filepath"

	"go.uber.org/zap"
)

// Timeline is the ordered output of the segment stage.
type Timeline struct {
	Segments []string
	Music    *Intermediate // nil keeps the segments' own audio
	Duration float64       // planned picture length; 0 if unknown
}

// Assembler joins segments into the final file.
type Assembler struct {
	ffmpeg *FFmpegService
	prober *Prober
	logger *zap.Logger
}

func NewAssembler(ffmpeg *FFmpegService, prober *Prober, logger *zap.Logger) *Assembler {
	return &Assembler{ffmpeg: ffmpeg, prober: prober, logger: logger.Named("assembler")}
}

// Assemble writes the finished video to outputPath. Intermediate files stay
// in workDir; outputPath is only written by the last tool run.
func (a *Assembler) Assemble(ctx context.Context, tl Timeline, workDir, outputPath string) error {
	listPath := filepath.Join(workDir, "concat.txt")

	if tl.Music == nil {
		return a.ffmpeg.Concat(ctx, tl.Segments, listPath, outputPath)
	}

	picture := filepath.Join(workDir, "timeline.mp4")
	if err := a.ffmpeg.Concat(ctx, tl.Segments, listPath, picture); err != nil {
		return err
	}
	defer a.ffmpeg.Cleanup(picture)

	// Trust the muxed length over the plan; they differ by encoder rounding.
	duration := tl.Duration
	if info := a.prober.Probe(ctx, picture); info.Probed && info.Duration > 0 {
		duration = info.Duration
	}

	a.logger.Debug("Picture assembled",
		zap.Float64("planned", tl.Duration),
		zap.Float64("actual", duration),
		zap.Float64("music", tl.Music.Info.Duration),
	)

	return a.ffmpeg.ReplaceAudio(ctx, picture, tl.Music.Path, duration, outputPath)
}
