package storage

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/google/uuid"
)

const (
	// Retry configuration for remote publishes
	maxRetries     = 4
	baseRetryDelay = 1 * time.Second
	maxRetryDelay  = 30 * time.Second

	partialSuffix = ".partial"
)

var ErrInvalidName = errors.New("invalid artifact name")

// PublishedFile is an artifact that is visible at the artifact boundary.
type PublishedFile struct {
	Name string
	URL  string
	Size int64
}

// ArtifactStore publishes finished videos. A render writes to the staged
// path; nothing is visible under the final name until Commit succeeds, and a
// Discard after a failure leaves no trace.
type ArtifactStore interface {
	Stage(name string) (string, error)
	Commit(ctx context.Context, staged, name string) (PublishedFile, error)
	Discard(staged string)
	Delete(ctx context.Context, name string) error
	PublicURL(name string) string
}

// ArtifactName returns the published file name for a job's output.
func ArtifactName(jobID uuid.UUID) string {
	return fmt.Sprintf("reel_%s.mp4", jobID)
}

// checkName rejects anything that is not a single plain file name.
func checkName(name string) error {
	if name == "" || name == "." || name == ".." || strings.HasPrefix(name, ".") ||
		filepath.Base(name) != name || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

func stagedName(name string) string {
	return "." + name + partialSuffix
}

// retryDelay calculates exponential backoff with jitter: base * 2^attempt + random jitter
func retryDelay(attempt int) time.Duration {
	delay := float64(baseRetryDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(maxRetryDelay) {
		delay = float64(maxRetryDelay)
	}
	// Add 0–25% jitter to avoid thundering herd
	jitter := delay * 0.25 * rand.Float64()
	return time.Duration(delay + jitter)
}

// isRetryableError checks if a publish failure is worth retrying
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	var reqErr awserr.RequestFailure
	if errors.As(err, &reqErr) {
		return isRetryableStatus(reqErr.StatusCode())
	}
	errStr := err.Error()
	return strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "deadline exceeded") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "EOF") ||
		strings.Contains(errStr, "broken pipe")
}

// isRetryableStatus checks if an HTTP status code is worth retrying
func isRetryableStatus(status int) bool {
	return status == http.StatusTooManyRequests || // 429
		status == http.StatusRequestTimeout || // 408
		status == http.StatusInternalServerError || // 500
		status == http.StatusBadGateway || // 502
		status == http.StatusServiceUnavailable || // 503
		status == http.StatusGatewayTimeout // 504
}
