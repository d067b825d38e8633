package domain

import "fmt"

// ErrorKind classifies everything that can go wrong with a job. It is the
// only failure channel crossing the scheduler boundary: every error ends up
// attached to the job's terminal state as a JobError.
type ErrorKind string

const (
	// ErrInvalidRequest: malformed input, rejected before a job exists.
	ErrInvalidRequest ErrorKind = "invalid_request"

	// Backpressure signals. The caller may retry later; the core never
	// retries on its own.
	ErrQueueFull    ErrorKind = "queue_full"
	ErrQueueTimeout ErrorKind = "queue_timeout"

	// External tool failures, surfaced as a failed job. Re-invoking an
	// untrusted remote resource is a caller-level policy decision, so none
	// of these are retried by the core.
	ErrToolUnavailable      ErrorKind = "tool_unavailable"
	ErrToolFailed           ErrorKind = "tool_failed"
	ErrToolProducedNoOutput ErrorKind = "tool_produced_no_output"
	ErrToolTimeout          ErrorKind = "tool_timeout"

	// ErrStorageFailed: the pipeline succeeded but the artifact could not
	// be delivered to the result store.
	ErrStorageFailed ErrorKind = "storage_failed"

	// ErrCanceled: the caller withdrew the request or disconnected.
	ErrCanceled ErrorKind = "canceled"

	// ErrInternal: pipeline infrastructure failure (workspace allocation
	// and the like), not attributable to a tool or the caller.
	ErrInternal ErrorKind = "internal"
)

// JobError is a classified failure with optional tool diagnostics.
type JobError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
	// StderrTail holds the bounded tail of the failing tool's stderr.
	StderrTail string `json:"stderr_tail,omitempty"`
}

func (e *JobError) Error() string {
	if e.StderrTail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Message, e.StderrTail)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// NewJobError builds a JobError without diagnostics.
func NewJobError(kind ErrorKind, format string, args ...any) *JobError {
	return &JobError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// StatusForError maps an error kind to the terminal status it implies.
func StatusForError(kind ErrorKind) JobStatus {
	switch kind {
	case ErrToolTimeout:
		return JobStatusTimedOut
	case ErrCanceled:
		return JobStatusCanceled
	default:
		return JobStatusFailed
	}
}
