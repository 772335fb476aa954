package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/bobarin/reels/internal/queue"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var ErrSchedulerStarted = errors.New("scheduler already started")

// Notifier wakes idle loops when a job is queued. Optional.
type Notifier interface {
	WaitForJob(ctx context.Context, timeout time.Duration) (*queue.Notification, error)
}

type SchedulerConfig struct {
	Workers      int
	PollInterval time.Duration
	StaleAfter   time.Duration // 0 disables the stale sweep
}

// Scheduler drives a Worker from a fixed number of polling loops.
type Scheduler struct {
	worker   *Worker
	notifier Notifier
	cfg      SchedulerConfig
	started  atomic.Bool
	logger   *zap.Logger
}

func NewScheduler(w *Worker, notifier Notifier, cfg SchedulerConfig, logger *zap.Logger) *Scheduler {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 3 * time.Second
	}
	return &Scheduler{
		worker:   w,
		notifier: notifier,
		cfg:      cfg,
		logger:   logger.Named("scheduler"),
	}
}

// Start runs the loops until ctx is cancelled. It may be called once.
func (s *Scheduler) Start(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return ErrSchedulerStarted
	}

	s.logger.Info("Scheduler started",
		zap.Int("workers", s.cfg.Workers),
		zap.Duration("poll_interval", s.cfg.PollInterval),
		zap.Duration("stale_after", s.cfg.StaleAfter),
	)

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < s.cfg.Workers; i++ {
		id := i
		g.Go(func() error {
			s.loop(gctx, id)
			return nil
		})
	}
	if s.cfg.StaleAfter > 0 {
		g.Go(func() error {
			s.sweep(gctx)
			return nil
		})
	}

	err := g.Wait()
	s.logger.Info("Scheduler stopped")
	return err
}

func (s *Scheduler) loop(ctx context.Context, id int) {
	log := s.logger.With(zap.Int("loop", id))
	for {
		for ctx.Err() == nil {
			more, err := s.worker.ProcessNext(ctx)
			if err != nil {
				log.Error("Error processing queue", zap.Error(err))
				break
			}
			if !more {
				break
			}
		}
		if !s.wait(ctx, log) {
			return
		}
	}
}

// wait blocks for a nudge or one poll interval. It returns false once ctx
// is done.
func (s *Scheduler) wait(ctx context.Context, log *zap.Logger) bool {
	if s.notifier != nil {
		_, err := s.notifier.WaitForJob(ctx, s.cfg.PollInterval)
		if err == nil || ctx.Err() != nil {
			return ctx.Err() == nil
		}
		log.Warn("Wake-up channel unavailable, polling", zap.Error(err))
	}

	timer := time.NewTimer(s.cfg.PollInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (s *Scheduler) sweep(ctx context.Context) {
	interval := max(s.cfg.StaleAfter/2, s.cfg.PollInterval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		n, err := s.worker.store.RequeueStaleJobs(ctx, s.cfg.StaleAfter)
		if err != nil && ctx.Err() == nil {
			s.logger.Error("Stale sweep failed", zap.Error(err))
		} else if n > 0 {
			s.logger.Warn("Requeued stale jobs", zap.Int64("count", n))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
