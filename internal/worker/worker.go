package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/bobarin/reels/internal/db"
	"github.com/bobarin/reels/internal/models"
	"github.com/bobarin/reels/internal/reel"
	"github.com/bobarin/reels/internal/storage"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Store is the job and artifact persistence the worker needs.
type Store interface {
	OldestQueuedJob(ctx context.Context) (*models.RenderJob, error)
	ClaimJob(ctx context.Context, id uuid.UUID) (bool, error)
	MarkJobDone(ctx context.Context, id uuid.UUID, outputURL string) error
	MarkJobFailed(ctx context.Context, id uuid.UUID, code, message string) error
	RequeueJob(ctx context.Context, id uuid.UUID) error
	RequeueStaleJobs(ctx context.Context, olderThan time.Duration) (int64, error)
	CreateArtifact(ctx context.Context, artifact *models.Artifact) error
	ListOwnerArtifacts(ctx context.Context, owner string) ([]models.Artifact, error)
	DeleteArtifact(ctx context.Context, id uuid.UUID, removeFile func(context.Context, models.Artifact) error) error
}

// Renderer produces a job's video at outputPath.
type Renderer interface {
	Render(ctx context.Context, job *models.RenderJob, workDir, outputPath string) error
}

type Options struct {
	WorkRoot   string
	JobTimeout time.Duration // 0 = no deadline
	Retention  int           // artifacts kept per owner; <= 0 keeps all
}

// Worker runs one job at a time: claim, render in a private temp dir,
// then publish or fail.
type Worker struct {
	store     Store
	renderer  Renderer
	artifacts storage.ArtifactStore
	opts      Options
	logger    *zap.Logger
}

func New(store Store, renderer Renderer, artifacts storage.ArtifactStore, opts Options, logger *zap.Logger) *Worker {
	if opts.WorkRoot == "" {
		opts.WorkRoot = os.TempDir()
	}
	return &Worker{
		store:     store,
		renderer:  renderer,
		artifacts: artifacts,
		opts:      opts,
		logger:    logger.Named("worker"),
	}
}

// ProcessNext picks the oldest queued job and runs it. It reports whether
// the queue may still hold work: false means nothing was queued.
func (w *Worker) ProcessNext(ctx context.Context) (bool, error) {
	job, err := w.store.OldestQueuedJob(ctx)
	if errors.Is(err, db.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to find queued job: %w", err)
	}

	claimed, err := w.store.ClaimJob(ctx, job.ID)
	if err != nil {
		return false, err
	}
	if !claimed {
		// Another worker won; there may be more behind it.
		return true, nil
	}

	job.Status = models.JobStatusRunning
	w.run(ctx, job)
	return true, nil
}

func (w *Worker) run(ctx context.Context, job *models.RenderJob) {
	log := w.logger.With(zap.String("job_id", job.ID.String()), zap.String("owner", job.Owner))
	log.Info("Processing job", zap.Int("items", len(job.Spec.Items)))
	start := time.Now()

	name := storage.ArtifactName(job.ID)
	staged := ""

	defer func() {
		if r := recover(); r != nil {
			w.fail(ctx, log, job, staged, reel.Newf(reel.CodeInternal, "worker.run", "panic: %v", r))
		}
	}()

	if err := os.MkdirAll(w.opts.WorkRoot, 0o755); err != nil {
		w.fail(ctx, log, job, "", reel.Wrap(err, reel.CodeInternal, "worker.workdir", "could not create work root"))
		return
	}
	workDir, err := os.MkdirTemp(w.opts.WorkRoot, "job-"+job.ID.String()+"-")
	if err != nil {
		w.fail(ctx, log, job, "", reel.Wrap(err, reel.CodeInternal, "worker.workdir", "could not create work dir"))
		return
	}
	defer os.RemoveAll(workDir)

	staged, err = w.artifacts.Stage(name)
	if err != nil {
		w.fail(ctx, log, job, "", reel.Wrap(err, reel.CodeInternal, "worker.stage", "could not stage output"))
		return
	}

	renderCtx := ctx
	if w.opts.JobTimeout > 0 {
		var cancel context.CancelFunc
		renderCtx, cancel = context.WithTimeout(ctx, w.opts.JobTimeout)
		defer cancel()
	}

	if err := w.renderer.Render(renderCtx, job, workDir, staged); err != nil {
		if errors.Is(renderCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			err = &reel.Error{Code: reel.CodeInternal, Op: "worker.render", Message: "render timed out", Err: err}
		}
		w.fail(ctx, log, job, staged, err)
		return
	}

	pub, err := w.artifacts.Commit(ctx, staged, name)
	if err != nil {
		w.fail(ctx, log, job, staged, reel.Wrap(err, reel.CodePersistFailed, "worker.publish", "could not publish output"))
		return
	}

	// From here the output is visible. Bookkeeping failures are logged and
	// never turn a finished video into a failed job.
	artifact := &models.Artifact{
		ID:       uuid.New(),
		JobID:    job.ID,
		Owner:    job.Owner,
		FileName: pub.Name,
		ByteSize: pub.Size,
		URL:      pub.URL,
	}
	if err := w.store.CreateArtifact(ctx, artifact); err != nil {
		log.Error("Failed to record artifact",
			zap.String("code", string(reel.CodePersistFailed)),
			zap.String("file", pub.Name),
			zap.Error(err),
		)
	} else if err := w.Prune(ctx, job.Owner); err != nil {
		log.Warn("Failed to prune artifacts",
			zap.String("code", string(reel.CodePersistFailed)),
			zap.Error(err),
		)
	}

	if err := w.store.MarkJobDone(context.WithoutCancel(ctx), job.ID, pub.URL); err != nil {
		log.Error("Failed to mark job done", zap.Error(err))
		return
	}

	log.Info("Job completed",
		zap.String("url", pub.URL),
		zap.Int64("bytes", pub.Size),
		zap.Duration("elapsed", time.Since(start)),
	)
}

// fail records a short code and message on the job. The full error and
// tool diagnostic only go to the log. A job cut short by shutdown is not
// failed but handed back to the queue.
func (w *Worker) fail(ctx context.Context, log *zap.Logger, job *models.RenderJob, staged string, err error) {
	if ctx.Err() != nil {
		w.artifacts.Discard(staged)
		if qErr := w.store.RequeueJob(context.WithoutCancel(ctx), job.ID); qErr != nil {
			log.Error("Failed to requeue interrupted job", zap.Error(qErr))
			return
		}
		log.Warn("Job interrupted by shutdown, requeued", zap.Error(err))
		return
	}

	code := reel.GetCode(err)
	log.Error("Job failed",
		zap.String("code", string(code)),
		zap.Error(err),
		zap.String("detail", reel.Detail(err)),
	)

	w.artifacts.Discard(staged)

	if markErr := w.store.MarkJobFailed(context.WithoutCancel(ctx), job.ID, string(code), reel.UserMessage(err)); markErr != nil {
		log.Error("Failed to mark job failed", zap.Error(markErr))
	}
}

// Prune deletes an owner's artifacts beyond the retention limit, oldest
// first. Running it twice, or concurrently, leaves the same result.
func (w *Worker) Prune(ctx context.Context, owner string) error {
	if w.opts.Retention <= 0 {
		return nil
	}

	artifacts, err := w.store.ListOwnerArtifacts(ctx, owner)
	if err != nil {
		return err
	}
	if len(artifacts) <= w.opts.Retention {
		return nil
	}

	var errs []error
	for _, a := range artifacts[w.opts.Retention:] {
		err := w.store.DeleteArtifact(ctx, a.ID, func(ctx context.Context, a models.Artifact) error {
			return w.artifacts.Delete(ctx, a.FileName)
		})
		if errors.Is(err, db.ErrNotFound) {
			continue
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("artifact %s: %w", a.ID, err))
			continue
		}
		w.logger.Debug("Pruned artifact", zap.String("owner", owner), zap.String("file", a.FileName))
	}
	return errors.Join(errs...)
}
