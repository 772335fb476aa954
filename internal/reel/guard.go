package reel

import (
	"errors"
	"fmt"

	"github.com/bobarin/reels/internal/models"
)

var (
	ErrTooManyItems = errors.New("too many items")
	ErrTooLarge     = errors.New("payload too large")
	ErrNoItems      = errors.New("no items")
)

const mb = 1 << 20

// Limits are the intake ceilings. Sizes are in bytes.
type Limits struct {
	MaxItems      int
	MaxTotalBytes int64
	MaxImageBytes int64
	MaxVideoBytes int64
	MaxMusicBytes int64
}

func DefaultLimits() Limits {
	return Limits{
		MaxItems:      40,
		MaxTotalBytes: 400 * mb,
		MaxImageBytes: 25 * mb,
		MaxVideoBytes: 200 * mb,
		MaxMusicBytes: 30 * mb,
	}
}

// MaxForKind returns the per-item ceiling for kind, or 0 if the kind is not
// accepted as a timeline item.
func (l Limits) MaxForKind(kind models.MediaKind) int64 {
	switch kind {
	case models.MediaKindImage:
		return l.MaxImageBytes
	case models.MediaKindVideo:
		return l.MaxVideoBytes
	case models.MediaKindAudio:
		return l.MaxMusicBytes
	}
	return 0
}

// CheckRequest runs the cheap ceiling checks on a job before it is queued.
// It never decodes payloads; sizes come from encoded lengths, or from the
// size recorded for stored files, which must be present.
func CheckRequest(items []models.MediaItem, opts models.RenderOptions, limits Limits) error {
	const op = "guard.check"

	if len(items) == 0 {
		return &Error{Code: CodeValidationFailed, Op: op, Message: "at least one item is required", Err: ErrNoItems}
	}
	if limits.MaxItems > 0 && len(items) > limits.MaxItems {
		return &Error{
			Code:    CodeValidationFailed,
			Op:      op,
			Message: fmt.Sprintf("%d items exceeds the limit of %d", len(items), limits.MaxItems),
			Err:     ErrTooManyItems,
		}
	}

	var total int64
	for i, item := range items {
		if item.DataURL == "" && item.StoredPath == "" {
			return Newf(CodeValidationFailed, op, "item %d has no source", i)
		}
		if item.DataURL != "" && item.StoredPath != "" {
			return Newf(CodeValidationFailed, op, "item %d has both inline data and a stored path", i)
		}

		if item.StoredPath != "" && item.Size <= 0 {
			return Newf(CodeValidationFailed, op, "item %d is a stored file without a size", i)
		}

		kind := item.Kind()
		if kind != models.MediaKindImage && kind != models.MediaKindVideo {
			return Newf(CodeValidationFailed, op, "item %d has unsupported type %q", i, item.MediaType())
		}

		size := item.EstimatedDecodedSize()
		if limit := limits.MaxForKind(kind); limit > 0 && size > limit {
			return &Error{
				Code:    CodeValidationFailed,
				Op:      op,
				Message: fmt.Sprintf("item %d (%s) is %s, limit is %s", i, kind, formatBytes(size), formatBytes(limit)),
				Err:     ErrTooLarge,
			}
		}
		total += size
	}

	// Whether music really is audio-only is decided by probing during normalization.
	if opts.Music != nil {
		if opts.Music.StoredPath != "" && opts.Music.Size <= 0 {
			return New(CodeValidationFailed, op, "music is a stored file without a size")
		}
		size := opts.Music.EstimatedDecodedSize()
		if limits.MaxMusicBytes > 0 && size > limits.MaxMusicBytes {
			return &Error{
				Code:    CodeValidationFailed,
				Op:      op,
				Message: fmt.Sprintf("music is %s, limit is %s", formatBytes(size), formatBytes(limits.MaxMusicBytes)),
				Err:     ErrTooLarge,
			}
		}
		total += size
	}

	if limits.MaxTotalBytes > 0 && total > limits.MaxTotalBytes {
		return &Error{
			Code:    CodeValidationFailed,
			Op:      op,
			Message: fmt.Sprintf("total payload %s exceeds the limit of %s", formatBytes(total), formatBytes(limits.MaxTotalBytes)),
			Err:     ErrTooLarge,
		}
	}
	return nil
}

func formatBytes(n int64) string {
	if n >= mb {
		return fmt.Sprintf("%.1f MB", float64(n)/mb)
	}
	if n >= 1024 {
		return fmt.Sprintf("%.1f KB", float64(n)/1024)
	}
	return fmt.Sprintf("%d B", n)
}
