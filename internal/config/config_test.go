package config

import (
	"os"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	chdir(t, t.TempDir()) // no stray .env
	t.Setenv("DATABASE_URL", "postgres://localhost/reels")

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ArtifactBackend != "local" || cfg.ArtifactRetention != 10 || cfg.WorkerCount != 1 {
		t.Errorf("unexpected defaults %+v", cfg)
	}
	if cfg.PollInterval != 3*time.Second || cfg.JobTimeout != 0 || cfg.StaleJobAfter != 0 {
		t.Errorf("unexpected worker timing %+v", cfg)
	}
	limits := cfg.Limits()
	if limits.MaxItems != 40 || limits.MaxTotalBytes != 400*mb || limits.MaxVideoBytes != 200*mb {
		t.Errorf("unexpected limits %+v", limits)
	}
	if cfg.RedisURL != "" {
		t.Error("redis is optional and off by default")
	}
}

func TestLoadOverrides(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("DATABASE_URL", "postgres://localhost/reels")
	t.Setenv("POLL_INTERVAL", "500ms")
	t.Setenv("JOB_TIMEOUT", "120")
	t.Setenv("MAX_IMAGE_MB", "5")
	t.Setenv("WORKER_COUNT", "not-a-number")

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.PollInterval != 500*time.Millisecond {
		t.Errorf("got poll interval %v", cfg.PollInterval)
	}
	if cfg.JobTimeout != 2*time.Minute {
		t.Errorf("plain seconds should parse, got %v", cfg.JobTimeout)
	}
	if cfg.MaxImageBytes != 5*mb {
		t.Errorf("got %d", cfg.MaxImageBytes)
	}
	if cfg.WorkerCount != 1 {
		t.Error("unparseable values fall back to the default")
	}
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"missing database", map[string]string{}, "DATABASE_URL"},
		{"s3 without bucket", map[string]string{"DATABASE_URL": "x", "ARTIFACT_BACKEND": "s3"}, "S3_BUCKET"},
		{"unknown backend", map[string]string{"DATABASE_URL": "x", "ARTIFACT_BACKEND": "ftp"}, "ARTIFACT_BACKEND"},
		{"zero ceiling", map[string]string{"DATABASE_URL": "x", "MAX_ITEMS": "0"}, "MAX_ITEMS"},
		{"negative ceiling", map[string]string{"DATABASE_URL": "x", "MAX_TOTAL_MB": "-1"}, "MAX_TOTAL_MB"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chdir(t, t.TempDir())
			t.Setenv("DATABASE_URL", "")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected an error mentioning %s, got %v", tt.want, err)
			}
		})
	}
}

// chdir mirrors testing.T.Chdir (Go 1.24+) for older toolchains.
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chdir(prev) })
}
