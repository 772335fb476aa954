package services

import (
	"context"
	"encoding/base64"
	"errors"
	"image"
	"image/color"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/bobarin/reels/internal/models"
	"github.com/bobarin/reels/internal/reel"
	"github.com/bobarin/reels/internal/storage"
	"github.com/disintegration/imaging"
	"go.uber.org/zap"
)

const (
	DefaultMaxImageDimension = 2160
	jpegQuality              = 90
)

type mediaType struct {
	kind models.MediaKind
	ext  string
}

// allowedTypes is the declared mime allow-list. Kind always comes from here,
// never from a file name.
var allowedTypes = map[string]mediaType{
	"image/jpeg":       {models.MediaKindImage, ".jpg"},
	"image/jpg":        {models.MediaKindImage, ".jpg"},
	"image/pjpeg":      {models.MediaKindImage, ".jpg"},
	"image/png":        {models.MediaKindImage, ".png"},
	"image/webp":       {models.MediaKindImage, ".webp"},
	"image/gif":        {models.MediaKindImage, ".gif"},
	"image/bmp":        {models.MediaKindImage, ".bmp"},
	"image/tiff":       {models.MediaKindImage, ".tiff"},
	"image/heic":       {models.MediaKindImage, ".heic"},
	"image/heif":       {models.MediaKindImage, ".heif"},
	"image/avif":       {models.MediaKindImage, ".avif"},
	"video/mp4":        {models.MediaKindVideo, ".mp4"},
	"video/quicktime":  {models.MediaKindVideo, ".mov"},
	"video/webm":       {models.MediaKindVideo, ".webm"},
	"video/x-matroska": {models.MediaKindVideo, ".mkv"},
	"video/x-m4v":      {models.MediaKindVideo, ".m4v"},
	"video/3gpp":       {models.MediaKindVideo, ".3gp"},
	"video/x-msvideo":  {models.MediaKindVideo, ".avi"},
	"video/mpeg":       {models.MediaKindVideo, ".mpg"},
	"audio/mpeg":       {models.MediaKindAudio, ".mp3"},
	"audio/mp3":        {models.MediaKindAudio, ".mp3"},
	"audio/mp4":        {models.MediaKindAudio, ".m4a"},
	"audio/m4a":        {models.MediaKindAudio, ".m4a"},
	"audio/x-m4a":      {models.MediaKindAudio, ".m4a"},
	"audio/aac":        {models.MediaKindAudio, ".aac"},
	"audio/wav":        {models.MediaKindAudio, ".wav"},
	"audio/wave":       {models.MediaKindAudio, ".wav"},
	"audio/x-wav":      {models.MediaKindAudio, ".wav"},
	"audio/ogg":        {models.MediaKindAudio, ".ogg"},
	"audio/vorbis":     {models.MediaKindAudio, ".ogg"},
	"audio/opus":       {models.MediaKindAudio, ".opus"},
	"audio/flac":       {models.MediaKindAudio, ".flac"},
	"audio/x-flac":     {models.MediaKindAudio, ".flac"},
	"audio/webm":       {models.MediaKindAudio, ".weba"},
}

// Intermediate is a normalized local file plus what was learned about it.
type Intermediate struct {
	Path string
	Kind models.MediaKind
	Info MediaInfo
}

type NormalizerConfig struct {
	UploadsRoot       string
	MaxImageDimension int
	Limits            reel.Limits
}

// Normalizer turns inline or stored media into files ffmpeg can read reliably.
type Normalizer struct {
	ffmpeg *FFmpegService
	prober *Prober
	cfg    NormalizerConfig
	logger *zap.Logger
}

func NewNormalizer(ffmpeg *FFmpegService, prober *Prober, cfg NormalizerConfig, logger *zap.Logger) *Normalizer {
	if cfg.MaxImageDimension <= 0 {
		cfg.MaxImageDimension = DefaultMaxImageDimension
	}
	return &Normalizer{ffmpeg: ffmpeg, prober: prober, cfg: cfg, logger: logger.Named("normalizer")}
}

// Normalize prepares one timeline item inside workDir. name is a unique,
// filesystem-safe stem for the files it creates.
func (n *Normalizer) Normalize(ctx context.Context, item models.MediaItem, workDir, name string) (*Intermediate, error) {
	const op = "normalize.item"

	mt, ok := allowedTypes[item.MediaType()]
	if !ok || mt.kind == models.MediaKindAudio {
		return nil, reel.Newf(reel.CodeUnsupportedType, op, "unsupported media type %q", item.MediaType())
	}

	raw, err := n.materialize(item, workDir, name+".src"+mt.ext, n.cfg.Limits.MaxForKind(mt.kind))
	if err != nil {
		return nil, err
	}

	if mt.kind == models.MediaKindImage {
		return n.normalizeImage(ctx, raw, filepath.Join(workDir, name+".jpg"))
	}

	info := n.prober.Probe(ctx, raw)
	if info.Probed && !info.HasVideo {
		return nil, reel.New(reel.CodeUnsupportedType, op, "video item has no video stream")
	}
	if info.IsHDR {
		n.logger.Info("HDR video will be tone mapped", zap.String("item", name), zap.String("transfer", info.Transfer))
	}
	return &Intermediate{Path: raw, Kind: models.MediaKindVideo, Info: info}, nil
}

// NormalizeMusic prepares the background track. It must probe as audio
// with no video stream; cover art does not count as video.
func (n *Normalizer) NormalizeMusic(ctx context.Context, item models.MediaItem, workDir string) (*Intermediate, error) {
	const op = "normalize.music"

	declared := item.MediaType()
	mt, ok := allowedTypes[declared]
	if !ok {
		if models.KindFromMediaType(declared) == models.MediaKindVideo {
			return nil, reel.Newf(reel.CodeMusicMustBeAudio, op, "music has video type %q", declared)
		}
		return nil, reel.Newf(reel.CodeUnsupportedType, op, "unsupported music type %q", declared)
	}
	if mt.kind != models.MediaKindAudio {
		return nil, reel.Newf(reel.CodeMusicMustBeAudio, op, "music has %s type %q", mt.kind, declared)
	}

	raw, err := n.materialize(item, workDir, "music"+mt.ext, n.cfg.Limits.MaxMusicBytes)
	if err != nil {
		return nil, err
	}

	info := n.prober.Probe(ctx, raw)
	if !info.Probed || !info.HasAudio || info.HasVideo {
		return nil, reel.New(reel.CodeMusicMustBeAudio, op, "music must contain audio and no video")
	}
	return &Intermediate{Path: raw, Kind: models.MediaKindAudio, Info: info}, nil
}

// materialize returns a local path holding the item's bytes. Inline data is
// decoded into workDir/fileName; stored files are used in place.
func (n *Normalizer) materialize(item models.MediaItem, workDir, fileName string, limit int64) (string, error) {
	if item.DataURL != "" {
		dst := filepath.Join(workDir, fileName)
		if err := decodeDataURL(item.DataURL, dst, limit); err != nil {
			return "", err
		}
		return dst, nil
	}
	return n.resolveStored(item.StoredPath, item.Size, limit)
}

// resolveStored finds a stored file under the uploads root. A file larger
// than its declared size is rejected, so the size checked at intake holds.
func (n *Normalizer) resolveStored(storedPath string, declared, limit int64) (string, error) {
	const op = "normalize.stored"

	if storedPath == "" {
		return "", reel.New(reel.CodeValidationFailed, op, "item has no source")
	}

	full, st, err := storage.ResolveUpload(n.cfg.UploadsRoot, storedPath)
	switch {
	case errors.Is(err, storage.ErrOutsideUploads):
		return "", reel.Newf(reel.CodeValidationFailed, op, "stored path %q is outside the uploads root", storedPath)
	case errors.Is(err, storage.ErrNotAFile):
		return "", reel.New(reel.CodeValidationFailed, op, "stored path is not a file")
	case err != nil:
		return "", reel.Wrap(err, reel.CodeValidationFailed, op, "stored file not found")
	}

	if limit > 0 && st.Size() > limit {
		return "", &reel.Error{Code: reel.CodeValidationFailed, Op: op, Message: "stored file exceeds the size limit", Err: reel.ErrTooLarge}
	}
	if declared > 0 && st.Size() > declared {
		return "", &reel.Error{Code: reel.CodeValidationFailed, Op: op, Message: "stored file is larger than its declared size", Err: reel.ErrTooLarge}
	}
	return full, nil
}

// decodeDataURL streams a data URL payload to dst, checking the estimated
// size before decoding and the real size while writing.
func decodeDataURL(dataURL, dst string, limit int64) error {
	const op = "normalize.decode"

	if !strings.HasPrefix(dataURL, "data:") {
		return reel.New(reel.CodeValidationFailed, op, "malformed data URL")
	}
	comma := strings.IndexByte(dataURL, ',')
	if comma < 0 {
		return reel.New(reel.CodeValidationFailed, op, "malformed data URL")
	}
	header, payload := dataURL[len("data:"):comma], dataURL[comma+1:]

	if limit > 0 {
		estimate := models.MediaItem{DataURL: dataURL}.EstimatedDecodedSize()
		if estimate > limit {
			return &reel.Error{Code: reel.CodeValidationFailed, Op: op, Message: "item exceeds the size limit", Err: reel.ErrTooLarge}
		}
	}

	var src io.Reader
	if strings.HasSuffix(header, ";base64") {
		enc := base64.StdEncoding
		if !strings.HasSuffix(payload, "=") && len(payload)%4 != 0 {
			enc = base64.RawStdEncoding
		}
		src = base64.NewDecoder(enc, strings.NewReader(payload))
	} else {
		decoded, err := url.PathUnescape(payload)
		if err != nil {
			return reel.Wrap(err, reel.CodeValidationFailed, op, "malformed data URL payload")
		}
		src = strings.NewReader(decoded)
	}

	f, err := os.Create(dst)
	if err != nil {
		return reel.Wrap(err, reel.CodeInternal, op, "could not create work file")
	}

	ceiling := limit
	if ceiling <= 0 {
		ceiling = 1 << 62
	}
	written, err := io.Copy(f, io.LimitReader(src, ceiling+1))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		var corrupt base64.CorruptInputError
		if errors.As(err, &corrupt) {
			return reel.Wrap(err, reel.CodeValidationFailed, op, "data URL is not valid base64")
		}
		return reel.Wrap(err, reel.CodeInternal, op, "could not write work file")
	}
	if written > ceiling {
		return &reel.Error{Code: reel.CodeValidationFailed, Op: op, Message: "item exceeds the size limit", Err: reel.ErrTooLarge}
	}
	if written == 0 {
		return reel.New(reel.CodeValidationFailed, op, "item is empty")
	}
	return nil
}

// normalizeImage rewrites a still as an upright 8-bit JPEG no larger than
// MaxImageDimension. Formats the Go decoders cannot read go through ffmpeg.
func (n *Normalizer) normalizeImage(ctx context.Context, src, dst string) (*Intermediate, error) {
	const op = "normalize.image"

	img, err := imaging.Open(src, imaging.AutoOrientation(true))
	if err != nil {
		n.logger.Debug("Go decoder failed, falling back to ffmpeg", zap.String("path", src), zap.Error(err))
		if ferr := n.ffmpeg.ExtractFrame(ctx, src, dst, n.cfg.MaxImageDimension); ferr != nil {
			return nil, (&reel.Error{Code: reel.CodeUnsupportedType, Op: op, Message: "image could not be decoded", Err: ferr}).
				WithDetail(diagnostic(ferr))
		}
		info := n.prober.Probe(ctx, dst)
		return &Intermediate{Path: dst, Kind: models.MediaKindImage, Info: info}, nil
	}

	img = n.fitImage(img)
	if err := imaging.Save(img, dst, imaging.JPEGQuality(jpegQuality)); err != nil {
		return nil, reel.Wrap(err, reel.CodeInternal, op, "could not re-encode image")
	}

	b := img.Bounds()
	info := MediaInfo{Width: b.Dx(), Height: b.Dy(), HasVideo: true, Probed: true}
	return &Intermediate{Path: dst, Kind: models.MediaKindImage, Info: info}, nil
}

// fitImage bounds the image size and flattens it onto an opaque 8-bit canvas.
func (n *Normalizer) fitImage(img image.Image) image.Image {
	b := img.Bounds()
	maxDim := n.cfg.MaxImageDimension
	if b.Dx() > maxDim || b.Dy() > maxDim {
		img = imaging.Fit(img, maxDim, maxDim, imaging.Lanczos)
		b = img.Bounds()
	}
	bg := imaging.New(b.Dx(), b.Dy(), color.Black)
	return imaging.Overlay(bg, img, image.Pt(0, 0), 1.0)
}
