package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"go.uber.org/zap"
)

// Upload timeout per attempt
const uploadTimeout = 5 * time.Minute

type S3Config struct {
	Bucket        string
	Region        string
	Endpoint      string
	AccessKey     string
	SecretKey     string
	UsePathStyle  bool
	PublicBaseURL string
	Prefix        string
	StagingDir    string
}

// S3Store stages renders on local disk and publishes them with a single
// object upload, so readers only ever see complete objects.
type S3Store struct {
	client     *s3.S3
	uploader   *s3manager.Uploader
	bucket     string
	prefix     string
	publicBase string
	stagingDir string
	logger     *zap.Logger
}

func NewS3Store(cfg S3Config, logger *zap.Logger) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3 bucket is required")
	}

	awsCfg := &aws.Config{
		Region: aws.String(cfg.Region),
		// Publishing has its own backoff loop.
		MaxRetries: aws.Int(0),
	}
	if cfg.AccessKey != "" {
		awsCfg.Credentials = credentials.NewStaticCredentials(cfg.AccessKey, cfg.SecretKey, "")
	}
	if cfg.Endpoint != "" {
		awsCfg.Endpoint = aws.String(cfg.Endpoint)
	}
	if cfg.UsePathStyle {
		awsCfg.S3ForcePathStyle = aws.Bool(true)
	}

	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create aws session: %w", err)
	}

	stagingDir := cfg.StagingDir
	if stagingDir == "" {
		stagingDir = filepath.Join(os.TempDir(), "reels-staging")
	}
	if err := os.MkdirAll(stagingDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create staging dir: %w", err)
	}

	publicBase := strings.TrimRight(cfg.PublicBaseURL, "/")
	if publicBase == "" {
		publicBase = defaultObjectBase(cfg)
	}

	return &S3Store{
		client:     s3.New(sess),
		uploader:   s3manager.NewUploader(sess),
		bucket:     cfg.Bucket,
		prefix:     strings.Trim(cfg.Prefix, "/"),
		publicBase: publicBase,
		stagingDir: stagingDir,
		logger:     logger.Named("storage"),
	}, nil
}

func defaultObjectBase(cfg S3Config) string {
	if cfg.Endpoint != "" {
		endpoint := strings.TrimRight(cfg.Endpoint, "/")
		if cfg.UsePathStyle {
			return endpoint + "/" + cfg.Bucket
		}
		if u, err := url.Parse(endpoint); err == nil && u.Host != "" {
			u.Host = cfg.Bucket + "." + u.Host
			return u.String()
		}
		return endpoint + "/" + cfg.Bucket
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com", cfg.Bucket, cfg.Region)
}

func (s *S3Store) key(name string) string {
	if s.prefix == "" {
		return name
	}
	return path.Join(s.prefix, name)
}

func (s *S3Store) Stage(name string) (string, error) {
	if err := checkName(name); err != nil {
		return "", err
	}
	return filepath.Join(s.stagingDir, stagedName(name)), nil
}

// Commit uploads the staged file with retries and exponential backoff, then
// removes the local copy.
func (s *S3Store) Commit(ctx context.Context, staged, name string) (PublishedFile, error) {
	if err := checkName(name); err != nil {
		return PublishedFile{}, err
	}
	info, err := os.Stat(staged)
	if err != nil {
		return PublishedFile{}, fmt.Errorf("failed to stat staged artifact: %w", err)
	}
	if info.Size() == 0 {
		return PublishedFile{}, fmt.Errorf("staged artifact %s is empty", staged)
	}

	key := s.key(name)
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			delay := retryDelay(attempt)
			s.logger.Warn("Retrying artifact upload",
				zap.String("key", key),
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
			)
			select {
			case <-ctx.Done():
				return PublishedFile{}, fmt.Errorf("upload cancelled: %w", ctx.Err())
			case <-time.After(delay):
			}
		}

		lastErr = s.upload(ctx, staged, key)
		if lastErr == nil {
			break
		}
		if !isRetryableError(lastErr) {
			return PublishedFile{}, lastErr
		}
	}
	if lastErr != nil {
		return PublishedFile{}, fmt.Errorf("upload failed after %d attempts: %w", maxRetries+1, lastErr)
	}

	if err := os.Remove(staged); err != nil {
		s.logger.Warn("Failed to remove staged artifact", zap.String("path", staged), zap.Error(err))
	}
	s.logger.Debug("Artifact published", zap.String("key", key), zap.Int64("bytes", info.Size()))
	return PublishedFile{Name: name, URL: s.PublicURL(name), Size: info.Size()}, nil
}

func (s *S3Store) upload(ctx context.Context, localPath, key string) error {
	file, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	uploadCtx, cancel := context.WithTimeout(ctx, uploadTimeout)
	defer cancel()

	_, err = s.uploader.UploadWithContext(uploadCtx, &s3manager.UploadInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        file,
		ContentType: aws.String("video/mp4"),
	})
	if err != nil {
		return fmt.Errorf("failed to upload to S3: %w", err)
	}
	return nil
}

func (s *S3Store) Discard(staged string) {
	if staged == "" {
		return
	}
	if err := os.Remove(staged); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.logger.Warn("Failed to discard staged artifact", zap.String("path", staged), zap.Error(err))
	}
}

// Delete removes the object. S3 reports success for missing keys.
func (s *S3Store) Delete(ctx context.Context, name string) error {
	if err := checkName(name); err != nil {
		return err
	}
	_, err := s.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(name)),
	})
	if err != nil {
		return fmt.Errorf("failed to delete from S3: %w", err)
	}
	return nil
}

func (s *S3Store) PublicURL(name string) string {
	return s.publicBase + "/" + s.key(url.PathEscape(name))
}
