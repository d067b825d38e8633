package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/clipforge/clipforge/internal/core/domain"
	"golang.org/x/sync/semaphore"
)

// SchedulerConfig defines admission and concurrency limits.
type SchedulerConfig struct {
	// MaxConcurrentJobs is the number of scheduler slots; it IS the worker
	// pool size, since each job occupies one slot for its whole run.
	MaxConcurrentJobs int64
	// MaxQueueDepth bounds the pending queue; submits beyond it fail fast.
	MaxQueueDepth int
	// MaxQueueWait bounds staleness: a job older than this at dispatch time
	// fails with QueueTimeout instead of running.
	MaxQueueWait time.Duration
}

type queuedJob struct {
	job domain.Job
	// ctx is the job's cancellation token, created at admission.
	ctx        context.Context
	enqueuedAt time.Time
}

// JobScheduler admits jobs into a bounded FIFO queue and dispatches them to
// at most MaxConcurrentJobs concurrent executions. The dispatch goroutine is
// the single owner of queue order; the semaphore keeps the slot count
// invariant atomic.
type JobScheduler struct {
	logger  *slog.Logger
	cfg     SchedulerConfig
	pending chan queuedJob
	sem     *semaphore.Weighted
}

func NewJobScheduler(logger *slog.Logger, cfg SchedulerConfig) *JobScheduler {
	if cfg.MaxConcurrentJobs <= 0 {
		cfg.MaxConcurrentJobs = 4
	}
	if cfg.MaxQueueDepth <= 0 {
		cfg.MaxQueueDepth = 32
	}
	return &JobScheduler{
		logger:  logger,
		cfg:     cfg,
		pending: make(chan queuedJob, cfg.MaxQueueDepth),
		sem:     semaphore.NewWeighted(cfg.MaxConcurrentJobs),
	}
}

// Submit enqueues a job. It never blocks: once the queue holds
// MaxQueueDepth jobs the submit fails with QueueFull and no state changes.
func (s *JobScheduler) Submit(jobCtx context.Context, job domain.Job) *domain.JobError {
	select {
	case s.pending <- queuedJob{job: job, ctx: jobCtx, enqueuedAt: time.Now()}:
		s.logger.Info("job queued", "job_id", job.ID)
		return nil
	default:
		return domain.NewJobError(domain.ErrQueueFull, "queue full (%d pending)", s.cfg.MaxQueueDepth)
	}
}

// QueueDepth returns the number of jobs currently waiting.
func (s *JobScheduler) QueueDepth() int { return len(s.pending) }

// Start runs the dispatch loop until ctx is canceled. Jobs are dispatched
// strictly FIFO to execute; jobs that can no longer run (canceled while
// queued, or stale past MaxQueueWait) go to reject without occupying a slot.
func (s *JobScheduler) Start(ctx context.Context, execute func(context.Context, domain.Job), reject func(domain.Job, *domain.JobError)) {
	go func() {
		s.logger.Info("scheduler dispatch loop started", "slots", s.cfg.MaxConcurrentJobs, "queue_depth", s.cfg.MaxQueueDepth)
		for {
			// A slot is claimed before a job is taken off the queue, so the
			// queue depth seen by Submit is exactly MaxQueueDepth.
			if err := s.sem.Acquire(ctx, 1); err != nil {
				s.logger.Info("scheduler stopping")
				return
			}

			select {
			case <-ctx.Done():
				s.sem.Release(1)
				s.logger.Info("scheduler stopping")
				return
			case qj := <-s.pending:
				if qj.ctx.Err() != nil {
					s.sem.Release(1)
					reject(qj.job, domain.NewJobError(domain.ErrCanceled, "canceled while queued"))
					continue
				}
				if wait := time.Since(qj.enqueuedAt); s.cfg.MaxQueueWait > 0 && wait > s.cfg.MaxQueueWait {
					s.sem.Release(1)
					reject(qj.job, domain.NewJobError(domain.ErrQueueTimeout, "waited %s in queue, limit %s", wait.Round(time.Millisecond), s.cfg.MaxQueueWait))
					continue
				}

				go func(qj queuedJob) {
					defer s.sem.Release(1)
					execute(qj.ctx, qj.job)
				}(qj)
			}
		}
	}()
}
