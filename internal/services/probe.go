package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/bobarin/reels/internal/reel"
	"go.uber.org/zap"
)

// MediaInfo is what the pipeline needs to know about one local file.
type MediaInfo struct {
	Width    int
	Height   int
	Rotation int // 0, 90, 180, 270 clockwise for display
	Duration float64
	IsHDR    bool
	Transfer string
	HasVideo bool // false for audio files and cover-art only streams
	HasAudio bool
	Probed   bool // false when ffprobe failed and defaults were returned
}

// DefaultMediaInfo is returned when a file cannot be probed.
func DefaultMediaInfo() MediaInfo {
	return MediaInfo{Width: reel.CanvasWidth, Height: reel.CanvasHeight}
}

type probeOutput struct {
	Streams []probeStream `json:"streams"`
	Format  struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

type probeStream struct {
	CodecType      string            `json:"codec_type"`
	Width          int               `json:"width"`
	Height         int               `json:"height"`
	PixFmt         string            `json:"pix_fmt"`
	ColorPrimaries string            `json:"color_primaries"`
	ColorTransfer  string            `json:"color_transfer"`
	Duration       string            `json:"duration"`
	Tags           map[string]string `json:"tags"`
	Disposition    map[string]int    `json:"disposition"`
	SideDataList   []struct {
		SideDataType string  `json:"side_data_type"`
		Rotation     float64 `json:"rotation"`
	} `json:"side_data_list"`
}

// Prober inspects media files with ffprobe.
type Prober struct {
	ffmpeg *FFmpegService
	logger *zap.Logger
}

func NewProber(ffmpeg *FFmpegService, logger *zap.Logger) *Prober {
	return &Prober{ffmpeg: ffmpeg, logger: logger.Named("prober")}
}

// Probe never fails: on any error it logs and returns DefaultMediaInfo so
// the pipeline degrades instead of aborting.
func (p *Prober) Probe(ctx context.Context, path string) MediaInfo {
	out, err := p.ffmpeg.output(ctx, []string{
		"-v", "error",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	})
	if err != nil {
		p.logger.Warn("ffprobe failed, using defaults",
			zap.String("path", path),
			zap.Error(err),
			zap.String("stderr", diagnostic(err)),
		)
		return DefaultMediaInfo()
	}

	info, err := ParseProbeOutput(out)
	if err != nil {
		p.logger.Warn("Unreadable ffprobe output, using defaults", zap.String("path", path), zap.Error(err))
		return DefaultMediaInfo()
	}
	return info
}

// ParseProbeOutput interprets `ffprobe -print_format json -show_format -show_streams`.
func ParseProbeOutput(data []byte) (MediaInfo, error) {
	var out probeOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return MediaInfo{}, fmt.Errorf("failed to parse ffprobe json: %w", err)
	}

	info := MediaInfo{Probed: true}
	var video *probeStream
	for i := range out.Streams {
		s := &out.Streams[i]
		switch s.CodecType {
		case "video":
			if s.Disposition["attached_pic"] == 1 {
				continue
			}
			if video == nil {
				video = s
			}
		case "audio":
			info.HasAudio = true
		}
	}

	info.Duration = parseSeconds(out.Format.Duration)

	if video == nil {
		info.Width, info.Height = reel.CanvasWidth, reel.CanvasHeight
		return info, nil
	}

	info.HasVideo = true
	info.Width, info.Height = video.Width, video.Height
	if info.Width <= 0 || info.Height <= 0 {
		info.Width, info.Height = reel.CanvasWidth, reel.CanvasHeight
	}
	if info.Duration <= 0 {
		info.Duration = parseSeconds(video.Duration)
	}
	info.Rotation = streamRotation(video)
	info.Transfer = video.ColorTransfer
	info.IsHDR = isHDR(video)
	return info, nil
}

// streamRotation reads the legacy rotate tag, else the display matrix side
// data. The display matrix angle is counter-clockwise, so it is negated.
func streamRotation(s *probeStream) int {
	if v, ok := s.Tags["rotate"]; ok {
		if deg, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return reel.NormalizeRotation(deg)
		}
	}
	for _, sd := range s.SideDataList {
		if sd.SideDataType == "Display Matrix" || sd.Rotation != 0 {
			return reel.NormalizeRotation(-int(sd.Rotation))
		}
	}
	return 0
}

func isHDR(s *probeStream) bool {
	switch strings.ToLower(s.ColorPrimaries) {
	case "bt2020":
		return true
	}
	if reel.NeedsToneMap(s.ColorTransfer) {
		return true
	}
	pf := strings.ToLower(s.PixFmt)
	for _, marker := range []string{"10le", "10be", "12le", "12be", "p010", "p016", "16le", "16be"} {
		if strings.Contains(pf, marker) {
			return true
		}
	}
	return false
}

func parseSeconds(v string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil || f < 0 {
		return 0
	}
	return f
}
