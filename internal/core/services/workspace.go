package services

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/clipforge/clipforge/internal/core/domain"
)

// WorkspaceManager allocates and reclaims one isolated directory per job
// under <baseDir>/jobs. Directory names come from the job's uuid, so no
// locking is needed across distinct jobs.
type WorkspaceManager struct {
	logger  *slog.Logger
	baseDir string
}

// WorkspaceHandle is an exclusive claim on one job's directory.
type WorkspaceHandle struct {
	JobID domain.JobID
	Path  string
}

func NewWorkspaceManager(logger *slog.Logger, baseDir string) (*WorkspaceManager, error) {
	// Inability to create the root is fatal to startup, not a per-job error.
	if err := os.MkdirAll(filepath.Join(baseDir, "jobs"), 0755); err != nil {
		return nil, fmt.Errorf("create workspace root: %w", err)
	}
	return &WorkspaceManager{logger: logger, baseDir: baseDir}, nil
}

// Acquire creates a fresh, empty workspace directory for the job.
func (m *WorkspaceManager) Acquire(id domain.JobID) (WorkspaceHandle, error) {
	path := m.path(id)
	// A leftover from a crashed run with the same ID would violate the
	// "no pre-existing contents" contract; remove it first.
	if err := os.RemoveAll(path); err != nil {
		return WorkspaceHandle{}, fmt.Errorf("clear stale workspace: %w", err)
	}
	if err := os.MkdirAll(path, 0755); err != nil {
		return WorkspaceHandle{}, fmt.Errorf("create workspace: %w", err)
	}
	return WorkspaceHandle{JobID: id, Path: path}, nil
}

// Release recursively removes the workspace. It is idempotent and must run
// on every exit path of the job holding the handle.
func (m *WorkspaceManager) Release(h WorkspaceHandle) error {
	if h.Path == "" {
		return nil
	}
	if err := os.RemoveAll(h.Path); err != nil {
		return fmt.Errorf("remove workspace: %w", err)
	}
	return nil
}

// SweepStale removes orphaned workspace directories left behind by a
// crashed process. Only directories whose mtime is older than grace are
// touched, so workspaces of jobs started by this process survive.
func (m *WorkspaceManager) SweepStale(grace time.Duration) (int, error) {
	entries, err := os.ReadDir(filepath.Join(m.baseDir, "jobs"))
	if err != nil {
		return 0, fmt.Errorf("read workspace root: %w", err)
	}

	removed := 0
	cutoff := time.Now().Add(-grace)
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(m.baseDir, "jobs", e.Name())
		if err := os.RemoveAll(path); err != nil {
			m.logger.Warn("failed to sweep stale workspace", "path", path, "error", err)
			continue
		}
		m.logger.Info("swept stale workspace", "path", path, "age", time.Since(info.ModTime()).Round(time.Second))
		removed++
	}
	return removed, nil
}

func (m *WorkspaceManager) path(id domain.JobID) string {
	return filepath.Join(m.baseDir, "jobs", string(id))
}
