package ports

import (
	"context"
	"io"

	"github.com/clipforge/clipforge/internal/core/domain"
)

// ToolRunner abstracts the external-process invoker so the pipeline can be
// exercised without spawning real tools.
type ToolRunner interface {
	// Invoke runs one external tool call to completion. On timeout or
	// cancellation it must not return until the whole process group has
	// been terminated, so the caller can reclaim the workspace immediately.
	Invoke(ctx context.Context, inv domain.ToolInvocation) (domain.InvocationResult, error)
}

// Repository abstracts persistent job history (DuckDB).
type Repository interface {
	// SaveJob upserts the job record.
	SaveJob(ctx context.Context, job domain.Job) error

	// GetJob retrieves a job by ID.
	GetJob(ctx context.Context, id domain.JobID) (domain.Job, error)

	// ListJobs returns all known jobs, newest first.
	ListJobs(ctx context.Context) ([]domain.Job, error)

	Close() error
}

// ArtifactStore is the result store adapter boundary. The core hands it the
// finished artifact and treats any failure as StorageFailed, distinct from
// tool failures.
type ArtifactStore interface {
	// Put persists the artifact at path for the given job and returns a
	// durable reference.
	Put(ctx context.Context, id domain.JobID, path string) (domain.ArtifactRef, error)

	// Open returns a readable stream for a previously delivered artifact.
	Open(ctx context.Context, ref domain.ArtifactRef) (io.ReadCloser, error)
}
