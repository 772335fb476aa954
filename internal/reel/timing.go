package reel

import (
	"math"

	"github.com/bobarin/reels/internal/models"
)

// MinImageSec is the shortest still allowed when fitting to music.
const MinImageSec = 1.0

// TimelineItem is what duration planning needs to know about one input.
type TimelineItem struct {
	Kind     models.MediaKind
	Duration float64 // probed seconds for video; 0 if unknown
}

// Slot is one admitted item with its segment length. For video a zero
// Duration means the length is unknown and the whole source is used.
type Slot struct {
	Index    int
	Kind     models.MediaKind
	Duration float64
}

// TotalDuration sums the slot lengths. Video of unknown length counts as zero.
func TotalDuration(slots []Slot) float64 {
	var total float64
	for _, s := range slots {
		total += s.Duration
	}
	return total
}

// videoLength is the capped length of a video, or 0 when unknown and uncapped.
func videoLength(probed, maxPerVideo float64) float64 {
	switch {
	case maxPerVideo > 0 && probed > 0:
		return math.Min(probed, maxPerVideo)
	case maxPerVideo > 0:
		return maxPerVideo
	default:
		return probed
	}
}

// PlanDurations assigns the fixed per-image duration to stills and the
// probed length, capped when a cap applies, to videos. All items are admitted.
func PlanDurations(items []TimelineItem, opts models.RenderOptions) []Slot {
	slots := make([]Slot, 0, len(items))
	for i, it := range items {
		s := Slot{Index: i, Kind: it.Kind}
		if it.Kind == models.MediaKindImage {
			s.Duration = opts.DurationSec
		} else {
			s.Duration = videoLength(it.Duration, opts.MaxPerVideoSec)
		}
		slots = append(slots, s)
	}
	return slots
}

// FitToMusic revises durations so the picture fills musicSec. Videos keep
// their capped length, stills share what is left, never below MinImageSec.
// Items are admitted in order against a frame budget; admission stops once
// the budget is spent or the next still would fall below the floor. All
// lengths are whole frames and their sum never exceeds musicSec.
func FitToMusic(items []TimelineItem, opts models.RenderOptions, musicSec float64) ([]Slot, error) {
	const op = "timing.fit_to_music"

	budget := int(math.Floor(musicSec*FPS + 1e-6))
	if budget < 2 {
		return nil, Newf(CodeValidationFailed, op, "music is too short (%.2fs)", musicSec)
	}

	var videoSec float64
	var images int
	for _, it := range items {
		if it.Kind == models.MediaKindImage {
			images++
		} else {
			videoSec += videoLength(it.Duration, opts.MaxPerVideoSec)
		}
	}

	perImage := 0.0
	if images > 0 {
		perImage = math.Max(MinImageSec, (musicSec-videoSec)/float64(images))
	}
	perImageFrames := int(math.Floor(perImage*FPS + 1e-6))
	minImageFrames := int(math.Ceil(MinImageSec * FPS))

	slots := make([]Slot, 0, len(items))
	remaining := budget
	for i, it := range items {
		if remaining < 1 {
			break
		}

		var frames int
		if it.Kind == models.MediaKindImage {
			frames = min(perImageFrames, remaining)
			if frames < minImageFrames && len(slots) > 0 {
				break
			}
			if frames < 2 {
				break
			}
		} else {
			length := videoLength(it.Duration, opts.MaxPerVideoSec)
			if length <= 0 {
				frames = remaining
			} else {
				frames = min(max(int(math.Floor(length*FPS+1e-6)), 1), remaining)
			}
		}

		slots = append(slots, Slot{Index: i, Kind: it.Kind, Duration: float64(frames) / FPS})
		remaining -= frames
	}

	if len(slots) == 0 {
		return nil, Newf(CodeValidationFailed, op, "no item fits in %.2fs of music", musicSec)
	}
	return slots, nil
}
