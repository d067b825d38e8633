package duckdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/clipforge/clipforge/internal/core/domain"
	"github.com/clipforge/clipforge/internal/core/ports"

	_ "github.com/marcboeker/go-duckdb"
)

// Repository persists job history in DuckDB so terminal jobs survive a
// restart for post-mortem and delivery re-attempts.
type Repository struct {
	db *sql.DB
}

var _ ports.Repository = (*Repository)(nil)

func NewRepository(path string) (*Repository, error) {
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS jobs (
			id            VARCHAR PRIMARY KEY,
			source_url    VARCHAR NOT NULL,
			options       VARCHAR NOT NULL,
			status        VARCHAR NOT NULL,
			submitted_at  TIMESTAMP NOT NULL,
			started_at    TIMESTAMP,
			finished_at   TIMESTAMP,
			result        VARCHAR,
			error         VARCHAR,
			delivery_error VARCHAR
		)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("init jobs schema: %w", err)
	}

	return &Repository{db: db}, nil
}

func (r *Repository) Close() error { return r.db.Close() }

// SaveJob upserts the job row; called on every status transition.
func (r *Repository) SaveJob(ctx context.Context, job domain.Job) error {
	optsJSON, err := json.Marshal(job.Options)
	if err != nil {
		return fmt.Errorf("marshal options: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO jobs (id, source_url, options, status, submitted_at,
		                  started_at, finished_at, result, error, delivery_error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			status         = excluded.status,
			started_at     = excluded.started_at,
			finished_at    = excluded.finished_at,
			result         = excluded.result,
			error          = excluded.error,
			delivery_error = excluded.delivery_error`,
		string(job.ID),
		job.Source.URL,
		string(optsJSON),
		string(job.Status),
		job.SubmittedAt,
		nullTime(job.StartedAt),
		nullTime(job.FinishedAt),
		nullJSON(job.Result),
		nullJSON(job.Err),
		nullJSON(job.DeliveryErr),
	)
	if err != nil {
		return fmt.Errorf("upsert job %s: %w", job.ID, err)
	}
	return nil
}

func (r *Repository) GetJob(ctx context.Context, id domain.JobID) (domain.Job, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, source_url, options, status, submitted_at,
		       started_at, finished_at, result, error, delivery_error
		FROM jobs WHERE id = ?`, string(id))

	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Job{}, domain.ErrJobNotFound
	}
	if err != nil {
		return domain.Job{}, fmt.Errorf("get job %s: %w", id, err)
	}
	return job, nil
}

func (r *Repository) ListJobs(ctx context.Context) ([]domain.Job, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, source_url, options, status, submitted_at,
		       started_at, finished_at, result, error, delivery_error
		FROM jobs ORDER BY submitted_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(s scanner) (domain.Job, error) {
	var (
		job                         domain.Job
		id, optsJSON, status        string
		startedAt, finishedAt       sql.NullTime
		result, jobErr, deliveryErr sql.NullString
	)
	if err := s.Scan(&id, &job.Source.URL, &optsJSON, &status, &job.SubmittedAt,
		&startedAt, &finishedAt, &result, &jobErr, &deliveryErr); err != nil {
		return domain.Job{}, err
	}

	job.ID = domain.JobID(id)
	job.Status = domain.JobStatus(status)
	if err := json.Unmarshal([]byte(optsJSON), &job.Options); err != nil {
		return domain.Job{}, fmt.Errorf("unmarshal options: %w", err)
	}
	if startedAt.Valid {
		t := startedAt.Time
		job.StartedAt = &t
	}
	if finishedAt.Valid {
		t := finishedAt.Time
		job.FinishedAt = &t
	}
	if result.Valid {
		job.Result = &domain.ArtifactRef{}
		if err := json.Unmarshal([]byte(result.String), job.Result); err != nil {
			return domain.Job{}, fmt.Errorf("unmarshal result: %w", err)
		}
	}
	if jobErr.Valid {
		job.Err = &domain.JobError{}
		if err := json.Unmarshal([]byte(jobErr.String), job.Err); err != nil {
			return domain.Job{}, fmt.Errorf("unmarshal error: %w", err)
		}
	}
	if deliveryErr.Valid {
		job.DeliveryErr = &domain.JobError{}
		if err := json.Unmarshal([]byte(deliveryErr.String), job.DeliveryErr); err != nil {
			return domain.Job{}, fmt.Errorf("unmarshal delivery error: %w", err)
		}
	}
	return job, nil
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func nullJSON(v any) any {
	switch x := v.(type) {
	case *domain.ArtifactRef:
		if x == nil {
			return nil
		}
	case *domain.JobError:
		if x == nil {
			return nil
		}
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return string(raw)
}
