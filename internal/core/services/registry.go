package services

import (
	"context"
	"sync"
	"time"

	"github.com/clipforge/clipforge/internal/core/domain"
)

// JobRegistry tracks every job this process knows about, in memory. It is
// the single serialization point for status reads, cancellation and result
// waits; the repository only mirrors it for history.
type JobRegistry struct {
	mu   sync.RWMutex
	jobs map[domain.JobID]*trackedJob
}

type trackedJob struct {
	job    domain.Job
	cancel context.CancelFunc
	done   chan struct{}
}

func NewJobRegistry() *JobRegistry {
	return &JobRegistry{jobs: make(map[domain.JobID]*trackedJob)}
}

// Add registers a freshly admitted job together with its cancel func.
func (r *JobRegistry) Add(job domain.Job, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[job.ID] = &trackedJob{
		job:    job,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// Update replaces the tracked snapshot. Transitions out of a terminal state
// are ignored, and reaching a terminal state closes the job's done channel
// exactly once.
func (r *JobRegistry) Update(job domain.Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.jobs[job.ID]
	if !ok {
		return
	}
	if t.job.Status.Terminal() {
		// Delivery bookkeeping is the only mutation allowed after terminal.
		if job.Status == t.job.Status {
			t.job.DeliveryErr = job.DeliveryErr
		}
		return
	}
	t.job = job
	if job.Status.Terminal() {
		close(t.done)
	}
}

// Remove forgets a job that never made it past admission (queue full).
func (r *JobRegistry) Remove(id domain.JobID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.jobs, id)
}

func (r *JobRegistry) Get(id domain.JobID) (domain.Job, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.jobs[id]
	if !ok {
		return domain.Job{}, false
	}
	return t.job, true
}

// List returns snapshots of all tracked jobs, newest submission first.
func (r *JobRegistry) List() []domain.Job {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Job, 0, len(r.jobs))
	for _, t := range r.jobs {
		out = append(out, t.job)
	}
	return out
}

// Counts returns the number of jobs per status.
func (r *JobRegistry) Counts() map[domain.JobStatus]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	counts := make(map[domain.JobStatus]int)
	for _, t := range r.jobs {
		counts[t.job.Status]++
	}
	return counts
}

// Running returns how many jobs are currently in the running state.
func (r *JobRegistry) Running() int {
	return r.Counts()[domain.JobStatusRunning]
}

// Cancel triggers the job's cancellation token. The actual terminal
// transition happens on the worker/scheduler side once the in-flight tool
// invocation has been torn down.
func (r *JobRegistry) Cancel(id domain.JobID) bool {
	r.mu.RLock()
	t, ok := r.jobs[id]
	r.mu.RUnlock()
	if !ok || t.job.Status.Terminal() {
		return false
	}
	t.cancel()
	return true
}

// Await blocks until the job reaches a terminal state or wait elapses, in
// which case it returns domain.ErrStillRunning. ctx covers the caller's own
// cancellation (e.g. HTTP client gone).
func (r *JobRegistry) Await(ctx context.Context, id domain.JobID, wait time.Duration) (domain.Job, error) {
	r.mu.RLock()
	t, ok := r.jobs[id]
	r.mu.RUnlock()
	if !ok {
		return domain.Job{}, domain.ErrJobNotFound
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-t.done:
		job, _ := r.Get(id)
		return job, nil
	case <-timer.C:
		job, _ := r.Get(id)
		return job, domain.ErrStillRunning
	case <-ctx.Done():
		return domain.Job{}, ctx.Err()
	}
}
