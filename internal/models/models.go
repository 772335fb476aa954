package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Enums
type JobStatus string

const (
	JobStatusQueued  JobStatus = "queued"
	JobStatusRunning JobStatus = "running"
	JobStatusDone    JobStatus = "done"
	JobStatusFailed  JobStatus = "failed"
)

// IsTerminal reports whether no further transitions are allowed out of s.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusDone || s == JobStatusFailed
}

type MediaKind string

const (
	MediaKindImage MediaKind = "image"
	MediaKindVideo MediaKind = "video"
	MediaKindAudio MediaKind = "audio"
)

// KindFromMediaType maps a declared mime type to its media kind.
// Returns "" for anything that is not image/*, video/* or audio/*.
func KindFromMediaType(mediaType string) MediaKind {
	mediaType = strings.ToLower(strings.TrimSpace(mediaType))
	switch {
	case strings.HasPrefix(mediaType, "image/"):
		return MediaKindImage
	case strings.HasPrefix(mediaType, "video/"):
		return MediaKindVideo
	case strings.HasPrefix(mediaType, "audio/"):
		return MediaKindAudio
	default:
		return ""
	}
}

// Motion is the Ken Burns style applied to still images.
type Motion string

const (
	MotionZoomIn   Motion = "zoom_in"   // 1.00 -> 1.20
	MotionZoomOut  Motion = "zoom_out"  // 1.20 -> 1.00
	MotionPanLeft  Motion = "pan_left"  // fixed 1.08, slides right to left
	MotionPanRight Motion = "pan_right" // fixed 1.08, slides left to right
	MotionCover    Motion = "cover"     // no animation
)

func (m Motion) Valid() bool {
	switch m {
	case MotionZoomIn, MotionZoomOut, MotionPanLeft, MotionPanRight, MotionCover:
		return true
	}
	return false
}

// Render option defaults and bounds
const (
	RenderOptionsVersion = 1

	DefaultImageDurationSec = 2.5
	DefaultMotion           = MotionZoomIn
)

// MediaItem is one input asset. Exactly one of DataURL or StoredPath is set.
type MediaItem struct {
	DataURL    string `json:"dataUrl,omitempty"`
	StoredPath string `json:"storedPath,omitempty"` // relative to the uploads root
	Name       string `json:"name,omitempty"`
	Mime       string `json:"mime,omitempty"`
	Size       int64  `json:"size,omitempty"` // declared byte size for stored files
}

// MediaType returns the declared mime type, falling back to the data URL header.
func (m MediaItem) MediaType() string {
	if m.Mime != "" {
		return strings.ToLower(strings.TrimSpace(m.Mime))
	}
	if strings.HasPrefix(m.DataURL, "data:") {
		header := m.DataURL[len("data:"):]
		if i := strings.IndexByte(header, ','); i >= 0 {
			header = header[:i]
		}
		if i := strings.IndexByte(header, ';'); i >= 0 {
			header = header[:i]
		}
		return strings.ToLower(strings.TrimSpace(header))
	}
	return ""
}

// Kind is derived from the declared media type, never from the file extension.
func (m MediaItem) Kind() MediaKind {
	return KindFromMediaType(m.MediaType())
}

// EncodedSize is the length of the inline payload as sent, or the declared
// size for stored files.
func (m MediaItem) EncodedSize() int64 {
	if m.DataURL != "" {
		return int64(len(m.DataURL))
	}
	return m.Size
}

// EstimatedDecodedSize is a cheap upper bound on the decoded payload size.
// For base64 data URLs it is computed from the encoded length; for stored
// files it is the declared size.
func (m MediaItem) EstimatedDecodedSize() int64 {
	if m.DataURL == "" {
		return m.Size
	}
	comma := strings.IndexByte(m.DataURL, ',')
	if comma < 0 {
		return 0
	}
	header := m.DataURL[:comma]
	payload := int64(len(m.DataURL) - comma - 1)
	if !strings.HasSuffix(header, ";base64") {
		return payload
	}
	decoded := payload / 4 * 3
	if rem := payload % 4; rem > 1 {
		decoded += rem - 1
	}
	if strings.HasSuffix(m.DataURL, "==") {
		decoded -= 2
	} else if strings.HasSuffix(m.DataURL, "=") {
		decoded--
	}
	if decoded < 0 {
		decoded = 0
	}
	return decoded
}

// RenderOptions are the style and timing parameters of one job.
type RenderOptions struct {
	Version            int        `json:"version"`
	DurationSec        float64    `json:"durationSec"`    // per still image
	MaxPerVideoSec     float64    `json:"maxPerVideoSec"` // 0 = no cap
	KeepVideoAudio     bool       `json:"keepVideoAudio"`
	BgBlur             bool       `json:"bgBlur"`
	Motion             Motion     `json:"motion"`
	Music              *MediaItem `json:"music,omitempty"`
	MatchMusicDuration bool       `json:"matchMusicDuration"`
}

// WithDefaults fills zero values. Negative values are left for Validate to reject.
func (o RenderOptions) WithDefaults() RenderOptions {
	if o.Version == 0 {
		o.Version = RenderOptionsVersion
	}
	if o.DurationSec == 0 {
		o.DurationSec = DefaultImageDurationSec
	}
	if o.Motion == "" {
		o.Motion = DefaultMotion
	}
	return o
}

// Validate checks the options after defaults have been applied.
func (o RenderOptions) Validate() error {
	if o.Version != RenderOptionsVersion {
		return fmt.Errorf("unsupported options version %d", o.Version)
	}
	if !(o.DurationSec > 0) {
		return fmt.Errorf("durationSec must be greater than 0")
	}
	if o.MaxPerVideoSec < 0 {
		return fmt.Errorf("maxPerVideoSec must not be negative")
	}
	if !o.Motion.Valid() {
		return fmt.Errorf("unknown motion %q", o.Motion)
	}
	if o.Music != nil {
		if o.KeepVideoAudio {
			return fmt.Errorf("keepVideoAudio cannot be combined with background music")
		}
		if o.Music.DataURL == "" && o.Music.StoredPath == "" {
			return fmt.Errorf("music has no source")
		}
	}
	return nil
}

// HasMusic reports whether background music replaces the picture's audio.
func (o RenderOptions) HasMusic() bool {
	return o.Music != nil && !o.KeepVideoAudio
}

// RenderSpec is the persisted input of a job (JSONB column).
type RenderSpec struct {
	Items   []MediaItem   `json:"items"`
	Options RenderOptions `json:"options"`
}

func (s RenderSpec) Value() (driver.Value, error) {
	return json.Marshal(s)
}

func (s *RenderSpec) Scan(value interface{}) error {
	if value == nil {
		*s = RenderSpec{}
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported render spec column type %T", value)
	}
	return json.Unmarshal(data, s)
}

// Models

type RenderJob struct {
	ID           uuid.UUID  `json:"id"`
	Owner        string     `json:"owner"`
	Status       JobStatus  `json:"status"`
	Spec         RenderSpec `json:"spec"`
	OutputURL    *string    `json:"output_url,omitempty"`
	ErrorCode    *string    `json:"error_code,omitempty"`
	ErrorMessage *string    `json:"error_message,omitempty"`
	Attempts     int        `json:"attempts"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// Artifact is the metadata row of a published render output.
type Artifact struct {
	ID        uuid.UUID `json:"id"`
	JobID     uuid.UUID `json:"job_id"`
	Owner     string    `json:"owner"`
	FileName  string    `json:"file_name"`
	ByteSize  int64     `json:"byte_size"`
	URL       string    `json:"url"`
	CreatedAt time.Time `json:"created_at"`
}

// DTOs for API requests and responses

type CreateJobRequest struct {
	Owner   string        `json:"owner"`
	Items   []MediaItem   `json:"items"`
	Options RenderOptions `json:"options"`
}

type CreateJobResponse struct {
	JobID  uuid.UUID `json:"job_id"`
	Status JobStatus `json:"status"`
}

// JobStatusResponse is the poll-friendly view of a job exposed to callers.
type JobStatusResponse struct {
	Status    JobStatus `json:"status"`
	OutputURL *string   `json:"output_url,omitempty"`
	Error     *string   `json:"error,omitempty"`
	ErrorCode *string   `json:"error_code,omitempty"`
}

// StatusView builds the caller-facing view of a job.
func (j *RenderJob) StatusView() JobStatusResponse {
	resp := JobStatusResponse{Status: j.Status}
	if j.Status == JobStatusDone {
		resp.OutputURL = j.OutputURL
	}
	if j.Status == JobStatusFailed {
		resp.Error = j.ErrorMessage
		resp.ErrorCode = j.ErrorCode
	}
	return resp
}
