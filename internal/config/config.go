package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/bobarin/reels/internal/reel"
	"github.com/joho/godotenv"
)

const mb = 1 << 20

type Config struct {
	// Server
	APIPort            string
	WorkerEnabled      bool
	BackendAPIKey      string // API key for authenticating requests (empty = no auth, dev mode)
	CorsAllowedOrigins string // Comma-separated allowed origins (empty = *, dev mode)

	// Database
	DatabaseURL string

	// Redis wake-up channel (empty = poll only)
	RedisURL string

	// Artifacts
	ArtifactBackend    string // "local" or "s3"
	ArtifactRoot       string
	ArtifactPublicBase string
	ArtifactRetention  int

	// S3 backend
	S3Bucket        string
	S3Region        string
	S3Endpoint      string
	S3AccessKey     string
	S3SecretKey     string
	S3UsePathStyle  bool
	S3PublicBaseURL string
	S3Prefix        string

	// Inputs and scratch space
	UploadsRoot string
	WorkRoot    string

	// Tools
	FFmpegPath  string
	FFprobePath string

	// Worker
	WorkerCount   int
	PollInterval  time.Duration
	JobTimeout    time.Duration // 0 = none
	StaleJobAfter time.Duration // 0 = sweep disabled

	// Quotas
	MaxItems          int
	MaxTotalBytes     int64
	MaxImageBytes     int64
	MaxVideoBytes     int64
	MaxMusicBytes     int64
	MaxImageDimension int

	// Logging
	LogLevel  string
	LogFormat string
}

func Load() (*Config, error) {
	// Load .env file if it exists (ignore error in production)
	_ = godotenv.Load()

	cfg := &Config{
		APIPort:            getEnv("API_PORT", "8080"),
		WorkerEnabled:      getEnvBool("WORKER_ENABLED", true),
		BackendAPIKey:      getEnv("BACKEND_API_KEY", ""),
		CorsAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", ""),
		DatabaseURL:        getEnv("DATABASE_URL", ""),
		RedisURL:           getEnv("REDIS_URL", ""),

		ArtifactBackend:    getEnv("ARTIFACT_BACKEND", "local"),
		ArtifactRoot:       getEnv("ARTIFACT_ROOT", "./data/reels"),
		ArtifactPublicBase: getEnv("ARTIFACT_PUBLIC_BASE", "/media"),
		ArtifactRetention:  getEnvInt("ARTIFACT_RETENTION", 10),

		S3Bucket:        getEnv("S3_BUCKET", ""),
		S3Region:        getEnv("S3_REGION", "us-east-1"),
		S3Endpoint:      getEnv("S3_ENDPOINT", ""),
		S3AccessKey:     getEnv("S3_KEY", ""),
		S3SecretKey:     getEnv("S3_SECRET", ""),
		S3UsePathStyle:  getEnvBool("S3_USE_PATH_STYLE", false),
		S3PublicBaseURL: getEnv("S3_PUBLIC_BASE_URL", ""),
		S3Prefix:        getEnv("S3_PREFIX", ""),

		UploadsRoot: getEnv("UPLOADS_ROOT", "./data/uploads"),
		WorkRoot:    getEnv("WORK_ROOT", filepath.Join(os.TempDir(), "reels")),

		FFmpegPath:  getEnv("FFMPEG_PATH", "ffmpeg"),
		FFprobePath: getEnv("FFPROBE_PATH", "ffprobe"),

		WorkerCount:   getEnvInt("WORKER_COUNT", 1),
		PollInterval:  getEnvDuration("POLL_INTERVAL", 3*time.Second),
		JobTimeout:    getEnvDuration("JOB_TIMEOUT", 0),
		StaleJobAfter: getEnvDuration("STALE_JOB_AFTER", 0),

		MaxItems:          getEnvInt("MAX_ITEMS", 40),
		MaxTotalBytes:     getEnvInt64("MAX_TOTAL_MB", 400) * mb,
		MaxImageBytes:     getEnvInt64("MAX_IMAGE_MB", 25) * mb,
		MaxVideoBytes:     getEnvInt64("MAX_VIDEO_MB", 200) * mb,
		MaxMusicBytes:     getEnvInt64("MAX_MUSIC_MB", 30) * mb,
		MaxImageDimension: getEnvInt("MAX_IMAGE_DIMENSION", 2160),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks required fields and ceilings.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	switch c.ArtifactBackend {
	case "local":
		if c.ArtifactRoot == "" {
			return fmt.Errorf("ARTIFACT_ROOT is required for the local backend")
		}
	case "s3":
		if c.S3Bucket == "" {
			return fmt.Errorf("S3_BUCKET is required when ARTIFACT_BACKEND=s3")
		}
	default:
		return fmt.Errorf("ARTIFACT_BACKEND must be local or s3, got %q", c.ArtifactBackend)
	}

	positive := []struct {
		name  string
		value int64
	}{
		{"WORKER_COUNT", int64(c.WorkerCount)},
		{"MAX_ITEMS", int64(c.MaxItems)},
		{"MAX_TOTAL_MB", c.MaxTotalBytes},
		{"MAX_IMAGE_MB", c.MaxImageBytes},
		{"MAX_VIDEO_MB", c.MaxVideoBytes},
		{"MAX_MUSIC_MB", c.MaxMusicBytes},
		{"MAX_IMAGE_DIMENSION", int64(c.MaxImageDimension)},
	}
	for _, p := range positive {
		if p.value <= 0 {
			return fmt.Errorf("%s must be positive", p.name)
		}
	}

	if c.PollInterval <= 0 {
		return fmt.Errorf("POLL_INTERVAL must be positive")
	}
	if c.JobTimeout < 0 || c.StaleJobAfter < 0 {
		return fmt.Errorf("JOB_TIMEOUT and STALE_JOB_AFTER must not be negative")
	}
	return nil
}

// Limits returns the quota ceilings for the guard and normalizer.
func (c *Config) Limits() reel.Limits {
	return reel.Limits{
		MaxItems:      c.MaxItems,
		MaxTotalBytes: c.MaxTotalBytes,
		MaxImageBytes: c.MaxImageBytes,
		MaxVideoBytes: c.MaxVideoBytes,
		MaxMusicBytes: c.MaxMusicBytes,
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		b, err := strconv.ParseBool(value)
		if err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		i, err := strconv.Atoi(value)
		if err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		i, err := strconv.ParseInt(value, 10, 64)
		if err == nil {
			return i
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("90s", "5m") or plain seconds.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		if secs, err := strconv.ParseFloat(value, 64); err == nil {
			return time.Duration(secs * float64(time.Second))
		}
	}
	return defaultValue
}
