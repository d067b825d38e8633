package store

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"os"
	"path/filepath"

	"github.com/clipforge/clipforge/internal/core/domain"
	"github.com/clipforge/clipforge/internal/core/ports"
)

// LocalStore delivers artifacts to a directory on local disk, one file per
// job. It is the default ArtifactStore; object-store backends plug in
// behind the same port.
type LocalStore struct {
	logger *slog.Logger
	dir    string
}

var _ ports.ArtifactStore = (*LocalStore)(nil)

func NewLocalStore(logger *slog.Logger, dir string) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	return &LocalStore{logger: logger, dir: dir}, nil
}

// Put copies the artifact out of the job's workspace before the workspace
// is reclaimed, and returns a durable reference to the copy.
func (s *LocalStore) Put(ctx context.Context, id domain.JobID, path string) (domain.ArtifactRef, error) {
	if err := ctx.Err(); err != nil {
		return domain.ArtifactRef{}, err
	}

	src, err := os.Open(path)
	if err != nil {
		return domain.ArtifactRef{}, fmt.Errorf("open artifact: %w", err)
	}
	defer src.Close()

	name := fmt.Sprintf("%s%s", id, filepath.Ext(path))
	dstPath := filepath.Join(s.dir, name)
	dst, err := os.Create(dstPath)
	if err != nil {
		return domain.ArtifactRef{}, fmt.Errorf("create stored artifact: %w", err)
	}

	n, err := io.Copy(dst, src)
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(dstPath)
		return domain.ArtifactRef{}, fmt.Errorf("copy artifact: %w", err)
	}

	ref := domain.ArtifactRef{
		Key:         name,
		ContentType: contentTypeFor(path),
		Size:        n,
	}
	s.logger.Info("artifact stored", "job_id", id, "key", ref.Key, "bytes", n)
	return ref, nil
}

func (s *LocalStore) Open(ctx context.Context, ref domain.ArtifactRef) (io.ReadCloser, error) {
	// Refs come from our own Put, but guard against traversal anyway.
	name := filepath.Base(ref.Key)
	f, err := os.Open(filepath.Join(s.dir, name))
	if err != nil {
		return nil, fmt.Errorf("open stored artifact: %w", err)
	}
	return f, nil
}

func contentTypeFor(path string) string {
	if ct := mime.TypeByExtension(filepath.Ext(path)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
