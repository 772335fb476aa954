package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/bobarin/reels/internal/models"
	"github.com/google/uuid"
)

const jobColumns = `
	id, owner, status, spec, output_url, error_code, error_message,
	attempts, started_at, finished_at, created_at, updated_at
`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (*models.RenderJob, error) {
	job := &models.RenderJob{}
	err := row.Scan(
		&job.ID, &job.Owner, &job.Status, &job.Spec, &job.OutputURL,
		&job.ErrorCode, &job.ErrorMessage, &job.Attempts, &job.StartedAt,
		&job.FinishedAt, &job.CreatedAt, &job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return job, nil
}

func (db *DB) CreateJob(ctx context.Context, job *models.RenderJob) error {
	query := `
		INSERT INTO render_jobs (id, owner, status, spec, attempts)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at
	`

	return db.QueryRowContext(
		ctx, query,
		job.ID, job.Owner, job.Status, job.Spec, job.Attempts,
	).Scan(&job.CreatedAt, &job.UpdatedAt)
}

func (db *DB) GetJob(ctx context.Context, id uuid.UUID) (*models.RenderJob, error) {
	query := `SELECT ` + jobColumns + ` FROM render_jobs WHERE id = $1`

	job, err := scanJob(db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

// GetJobForOwner hides jobs of other owners behind ErrNotFound.
func (db *DB) GetJobForOwner(ctx context.Context, id uuid.UUID, owner string) (*models.RenderJob, error) {
	query := `SELECT ` + jobColumns + ` FROM render_jobs WHERE id = $1 AND owner = $2`

	job, err := scanJob(db.QueryRowContext(ctx, query, id, owner))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

// OldestQueuedJob returns the next candidate for a claim. Another worker may
// claim it first; ClaimJob decides.
func (db *DB) OldestQueuedJob(ctx context.Context) (*models.RenderJob, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM render_jobs
		WHERE status = $1
		ORDER BY created_at, id
		LIMIT 1
	`

	job, err := scanJob(db.QueryRowContext(ctx, query, models.JobStatusQueued))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get queued job: %w", err)
	}
	return job, nil
}

// ClaimJob moves a job from queued to running. It reports false if another
// worker got there first.
func (db *DB) ClaimJob(ctx context.Context, id uuid.UUID) (bool, error) {
	query := `
		UPDATE render_jobs
		SET status = $1, started_at = $2, updated_at = $2, attempts = attempts + 1
		WHERE id = $3 AND status = $4
	`

	res, err := db.ExecContext(ctx, query, models.JobStatusRunning, time.Now(), id, models.JobStatusQueued)
	if err != nil {
		return false, fmt.Errorf("failed to claim job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to claim job: %w", err)
	}
	return n == 1, nil
}

func (db *DB) MarkJobDone(ctx context.Context, id uuid.UUID, outputURL string) error {
	query := `
		UPDATE render_jobs
		SET status = $1, output_url = $2, finished_at = $3, updated_at = $3
		WHERE id = $4 AND status = $5
	`
	return db.finishJob(ctx, id, query, models.JobStatusDone, outputURL, time.Now(), id, models.JobStatusRunning)
}

func (db *DB) MarkJobFailed(ctx context.Context, id uuid.UUID, code, message string) error {
	query := `
		UPDATE render_jobs
		SET status = $1, error_code = $2, error_message = $3, finished_at = $4, updated_at = $4
		WHERE id = $5 AND status = $6
	`
	return db.finishJob(ctx, id, query, models.JobStatusFailed, code, message, time.Now(), id, models.JobStatusRunning)
}

func (db *DB) finishJob(ctx context.Context, id uuid.UUID, query string, args ...interface{}) error {
	res, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update job status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update job status: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("job %s is not running: %w", id, ErrInvalidTransition)
	}
	return nil
}

// RequeueJob hands a running job back to the queue, for a worker that was
// stopped before it could finish.
func (db *DB) RequeueJob(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE render_jobs
		SET status = $1, started_at = NULL, updated_at = $2
		WHERE id = $3 AND status = $4
	`
	return db.finishJob(ctx, id, query, models.JobStatusQueued, time.Now(), id, models.JobStatusRunning)
}

// RequeueStaleJobs puts running jobs that started before the cutoff back in
// the queue. Used after a worker process died mid-render.
func (db *DB) RequeueStaleJobs(ctx context.Context, olderThan time.Duration) (int64, error) {
	query := `
		UPDATE render_jobs
		SET status = $1, started_at = NULL, updated_at = now()
		WHERE status = $2 AND started_at < now() - make_interval(secs => $3)
	`

	res, err := db.ExecContext(ctx, query, models.JobStatusQueued, models.JobStatusRunning, olderThan.Seconds())
	if err != nil {
		return 0, fmt.Errorf("failed to requeue stale jobs: %w", err)
	}
	return res.RowsAffected()
}
