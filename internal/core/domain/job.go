package domain

import (
	"errors"
	"time"
)

type JobID string

type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
	JobStatusTimedOut  JobStatus = "timed_out"
	JobStatusCanceled  JobStatus = "canceled"
)

// Terminal reports whether the status admits no further transitions.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusSucceeded, JobStatusFailed, JobStatusTimedOut, JobStatusCanceled:
		return true
	}
	return false
}

// SourceSpec identifies the remote media resource a job operates on.
type SourceSpec struct {
	URL string `json:"url"`
}

// OutputOptions describes the requested transformation of the fetched media.
// A zero value means "deliver the fetched file as-is".
type OutputOptions struct {
	// Segments to cut from the source and concatenate, in order.
	Segments []TimeSpan `json:"segments,omitempty"`
	// Format is the target container format (currently only "mp4").
	Format string `json:"format,omitempty"`
}

// WantsTranscode reports whether the options request an ffmpeg pass at all.
func (o OutputOptions) WantsTranscode() bool {
	return len(o.Segments) > 0 || o.Format != ""
}

// Job is one end-to-end request to fetch (and optionally clip) a remote
// media resource. A job is mutated only by the worker executing it and by
// the scheduler for queue-side transitions; once terminal it is immutable
// except for delivery bookkeeping.
type Job struct {
	ID      JobID         `json:"id"`
	Source  SourceSpec    `json:"source"`
	Options OutputOptions `json:"options"`

	Status JobStatus `json:"status"`

	// WorkspacePath is set while the job is running and cleared once its
	// workspace has been reclaimed.
	WorkspacePath string `json:"workspace_path,omitempty"`

	SubmittedAt time.Time  `json:"submitted_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`

	// Result is set when the pipeline produced a verified artifact.
	Result *ArtifactRef `json:"result,omitempty"`
	// Err is the failure that drove the job to a non-succeeded terminal state.
	Err *JobError `json:"error,omitempty"`
	// DeliveryErr records a storage failure after a successful pipeline run.
	// The job is still succeeded; the caller decides whether to re-deliver
	// without re-running the tools.
	DeliveryErr *JobError `json:"delivery_error,omitempty"`
}

var (
	ErrJobNotFound = errors.New("job not found")

	// ErrStillRunning is returned by result waits that hit their deadline
	// before the job reached a terminal state.
	ErrStillRunning = errors.New("job still running")
)
