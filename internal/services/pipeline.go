package services

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/bobarin/reels/internal/models"
	"github.com/bobarin/reels/internal/reel"
	"go.uber.org/zap"
)

// Pipeline renders one job end to end inside a private work directory.
// Stages run strictly in order: music, items, durations, segments, assembly.
type Pipeline struct {
	normalizer *Normalizer
	ffmpeg     *FFmpegService
	assembler  *Assembler
	limits     reel.Limits
	logger     *zap.Logger
}

func NewPipeline(ffmpeg *FFmpegService, normalizer *Normalizer, assembler *Assembler, limits reel.Limits, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		normalizer: normalizer,
		ffmpeg:     ffmpeg,
		assembler:  assembler,
		limits:     limits,
		logger:     logger.Named("pipeline"),
	}
}

// Render writes the job's video to outputPath. Every error it returns is a
// *reel.Error; the first failing stage aborts the rest.
func (p *Pipeline) Render(ctx context.Context, job *models.RenderJob, workDir, outputPath string) error {
	log := p.logger.With(zap.String("job_id", job.ID.String()), zap.String("owner", job.Owner))
	start := time.Now()

	opts := job.Spec.Options.WithDefaults()
	if err := opts.Validate(); err != nil {
		return reel.Wrap(err, reel.CodeValidationFailed, "pipeline.options", err.Error())
	}
	// Rows can be inserted by other producers, so the ceilings are checked
	// again before any decoding.
	if err := reel.CheckRequest(job.Spec.Items, opts, p.limits); err != nil {
		return err
	}

	var music *Intermediate
	if opts.HasMusic() {
		m, err := p.normalizer.NormalizeMusic(ctx, *opts.Music, workDir)
		if err != nil {
			return err
		}
		music = m
		log.Info("Music ready", zap.Float64("duration", music.Info.Duration))
	}

	inputs := make([]*Intermediate, len(job.Spec.Items))
	timeline := make([]reel.TimelineItem, len(job.Spec.Items))
	for i, item := range job.Spec.Items {
		in, err := p.normalizer.Normalize(ctx, item, workDir, fmt.Sprintf("item%03d", i))
		if err != nil {
			return fmt.Errorf("item %d: %w", i, err)
		}
		inputs[i] = in
		timeline[i] = reel.TimelineItem{Kind: in.Kind, Duration: in.Info.Duration}

		log.Debug("Item normalized",
			zap.Int("index", i),
			zap.String("kind", string(in.Kind)),
			zap.Int("width", in.Info.Width),
			zap.Int("height", in.Info.Height),
			zap.Int("rotation", in.Info.Rotation),
			zap.Float64("duration", in.Info.Duration),
			zap.Bool("hdr", in.Info.IsHDR),
		)
	}

	slots := reel.PlanDurations(timeline, opts)
	if opts.MatchMusicDuration && music != nil {
		if music.Info.Duration > 0 {
			fitted, err := reel.FitToMusic(timeline, opts, music.Info.Duration)
			if err != nil {
				return err
			}
			if len(fitted) < len(slots) {
				log.Info("Music shorter than timeline, dropping trailing items",
					zap.Int("admitted", len(fitted)),
					zap.Int("items", len(slots)),
				)
			}
			slots = fitted
		} else {
			log.Warn("Music duration unknown, keeping planned durations")
		}
	}

	segments := make([]string, 0, len(slots))
	planned := 0.0
	for _, slot := range slots {
		in := inputs[slot.Index]
		plan := segmentPlan(in, slot, opts)

		segPath := filepath.Join(workDir, fmt.Sprintf("seg%03d.mp4", slot.Index))
		if err := p.ffmpeg.BuildSegment(ctx, SegmentInput{Path: in.Path, Plan: plan}, segPath); err != nil {
			return fmt.Errorf("item %d: %w", slot.Index, err)
		}
		segments = append(segments, segPath)

		if planned >= 0 && slot.Duration > 0 {
			planned += slot.Duration
		} else {
			planned = -1 // a clip of unknown length makes the total unknown
		}
	}

	tl := Timeline{Segments: segments, Music: music, Duration: max(planned, 0)}
	if err := p.assembler.Assemble(ctx, tl, workDir, outputPath); err != nil {
		return err
	}

	log.Info("Render finished",
		zap.Int("segments", len(segments)),
		zap.Bool("music", music != nil),
		zap.Duration("elapsed", time.Since(start)),
	)
	return nil
}

// segmentPlan combines an item's probed facts with the job's style options.
func segmentPlan(in *Intermediate, slot reel.Slot, opts models.RenderOptions) reel.SegmentPlan {
	plan := reel.SegmentPlan{
		Kind:     in.Kind,
		SrcW:     in.Info.Width,
		SrcH:     in.Info.Height,
		Duration: slot.Duration,
		Motion:   opts.Motion,
		BgBlur:   opts.BgBlur,
		Audio:    reel.AudioSilence,
	}
	if in.Kind == models.MediaKindVideo {
		plan.Rotation = in.Info.Rotation
		plan.Transfer = in.Info.Transfer
		plan.IsHDR = in.Info.IsHDR
		if opts.KeepVideoAudio && !opts.HasMusic() && in.Info.HasAudio {
			plan.Audio = reel.AudioPassthrough
		}
	}
	return plan
}
