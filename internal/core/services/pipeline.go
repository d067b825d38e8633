package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/clipforge/clipforge/internal/core/domain"
	"github.com/clipforge/clipforge/internal/core/ports"
	"github.com/google/uuid"
)

const (
	PhaseFetching    = "fetching"
	PhaseTranscoding = "transcoding"
	PhaseStoring     = "storing"
)

// JobLifecycle owns a job from admission to terminal state: validation,
// queueing, workspace allocation, the fetch/transcode invocation chain,
// artifact delivery and unconditional workspace reclamation.
type JobLifecycle struct {
	logger    *slog.Logger
	scheduler *JobScheduler
	registry  *JobRegistry
	workspace *WorkspaceManager
	runner    ports.ToolRunner
	repo      ports.Repository
	store     ports.ArtifactStore
	eventBus  *EventBus
	commands  CommandBuilder

	perJobTimeout  time.Duration
	forceTranscode bool

	// baseCtx is the parent for every job's cancellation token. It is fixed
	// at construction so Submit never races with startup.
	baseCtx context.Context
}

type LifecycleConfig struct {
	PerJobTimeout  time.Duration
	ForceTranscode bool
}

func NewJobLifecycle(
	ctx context.Context,
	logger *slog.Logger,
	scheduler *JobScheduler,
	registry *JobRegistry,
	workspace *WorkspaceManager,
	runner ports.ToolRunner,
	repo ports.Repository,
	store ports.ArtifactStore,
	eventBus *EventBus,
	commands CommandBuilder,
	cfg LifecycleConfig,
) *JobLifecycle {
	return &JobLifecycle{
		logger:         logger,
		scheduler:      scheduler,
		registry:       registry,
		workspace:      workspace,
		runner:         runner,
		repo:           repo,
		store:          store,
		eventBus:       eventBus,
		commands:       commands,
		perJobTimeout:  cfg.PerJobTimeout,
		forceTranscode: cfg.ForceTranscode,
		baseCtx:        ctx,
	}
}

// Run starts the scheduler dispatch loop. It does not block; the loop stops
// when the construction context is canceled.
func (l *JobLifecycle) Run() {
	l.scheduler.Start(l.baseCtx, l.execute, l.rejectQueued)
}

// Submit validates the request, creates a job and enqueues it. Malformed
// input is rejected before any job state or workspace exists.
func (l *JobLifecycle) Submit(ctx context.Context, src domain.SourceSpec, opts domain.OutputOptions) (domain.JobID, *domain.JobError) {
	if jerr := validateSource(src); jerr != nil {
		return "", jerr
	}

	id := domain.JobID(uuid.New().String())
	job := domain.Job{
		ID:          id,
		Source:      src,
		Options:     opts,
		Status:      domain.JobStatusQueued,
		SubmittedAt: time.Now(),
	}

	jobCtx, cancel := context.WithCancel(l.baseCtx)
	l.registry.Add(job, cancel)

	if jerr := l.scheduler.Submit(jobCtx, job); jerr != nil {
		cancel()
		l.registry.Remove(id)
		return "", jerr
	}

	if err := l.repo.SaveJob(ctx, job); err != nil {
		l.logger.Error("failed to persist queued job", "job_id", id, "error", err)
	}
	l.publishStatus(job, "")
	return id, nil
}

// Cancel withdraws a queued or running job, best-effort.
func (l *JobLifecycle) Cancel(id domain.JobID) bool {
	return l.registry.Cancel(id)
}

func validateSource(src domain.SourceSpec) *domain.JobError {
	raw := strings.TrimSpace(src.URL)
	if raw == "" {
		return domain.NewJobError(domain.ErrInvalidRequest, "source url is required")
	}
	u, err := url.ParseRequestURI(raw)
	if err != nil {
		return domain.NewJobError(domain.ErrInvalidRequest, "source url is not a valid resource locator: %v", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return domain.NewJobError(domain.ErrInvalidRequest, "unsupported url scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return domain.NewJobError(domain.ErrInvalidRequest, "source url has no host")
	}
	return nil
}

// rejectQueued is the scheduler's callback for jobs that never got a slot.
func (l *JobLifecycle) rejectQueued(job domain.Job, jerr *domain.JobError) {
	l.logger.Warn("job rejected from queue", "job_id", job.ID, "kind", jerr.Kind)
	l.finish(job, jerr)
}

// execute runs one job's full invocation chain. It is the only writer of
// the job while running.
func (l *JobLifecycle) execute(jobCtx context.Context, job domain.Job) {
	runCtx := jobCtx
	if l.perJobTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(jobCtx, l.perJobTimeout)
		defer cancel()
	}

	now := time.Now()
	job.Status = domain.JobStatusRunning
	job.StartedAt = &now

	ws, err := l.workspace.Acquire(job.ID)
	if err != nil {
		l.finish(job, domain.NewJobError(domain.ErrInternal, "workspace allocation failed: %v", err))
		return
	}
	job.WorkspacePath = ws.Path
	// Reclamation is unconditional: success, tool failure, timeout, cancel.
	defer func() {
		if err := l.workspace.Release(ws); err != nil {
			l.logger.Error("workspace release failed", "job_id", job.ID, "error", err)
		}
	}()

	l.registry.Update(job)
	l.persist(job)
	l.publishStatus(job, PhaseFetching)
	l.logger.Info("job started", "job_id", job.ID, "url", job.Source.URL, "workspace", ws.Path)

	artifact, jerr := l.runTools(runCtx, &job, ws.Path)
	job.WorkspacePath = ""
	if jerr != nil {
		l.finish(job, jerr)
		return
	}

	l.publishStatus(job, PhaseStoring)
	ref, putErr := l.store.Put(runCtx, job.ID, artifact)
	if putErr != nil {
		// The pipeline succeeded; only delivery failed. The job stays
		// succeeded so the caller can re-deliver without re-running tools.
		job.DeliveryErr = domain.NewJobError(domain.ErrStorageFailed, "artifact delivery failed: %v", putErr)
	} else {
		job.Result = &ref
	}

	job.Status = domain.JobStatusSucceeded
	end := time.Now()
	job.FinishedAt = &end
	l.registry.Update(job)
	l.persist(job)
	l.publishStatus(job, "")
	l.logger.Info("job succeeded", "job_id", job.ID, "elapsed", end.Sub(*job.StartedAt).Round(time.Millisecond))
}

// runTools executes fetch and the optional transcode chain, returning the
// final artifact path inside the workspace.
func (l *JobLifecycle) runTools(ctx context.Context, job *domain.Job, workdir string) (string, *domain.JobError) {
	res, err := l.runner.Invoke(ctx, l.commands.Fetch(workdir, job.Source.URL))
	if jerr := asJobError(err); jerr != nil {
		return "", jerr
	}

	src, findErr := findFetchedFile(workdir)
	if findErr != nil {
		return "", domain.NewJobError(domain.ErrToolProducedNoOutput, "fetch reported success but %v", findErr)
	}
	l.publishLog(job.ID, fmt.Sprintf("fetched %s in %s", filepath.Base(src), res.Duration.Round(time.Millisecond)))

	if !job.Options.WantsTranscode() {
		return src, nil
	}

	if len(job.Options.Segments) == 0 {
		// Format-only request: skip the invocation when the fetched file
		// already matches, unless configured to always transcode.
		if !l.forceTranscode && formatOf(src) == job.Options.Format {
			l.publishLog(job.ID, "fetched file already in target format, transcode skipped")
			return src, nil
		}
		out := filepath.Join(workdir, "converted."+targetFormat(job.Options))
		l.publishStatus(*job, PhaseTranscoding)
		res, err := l.runner.Invoke(ctx, l.commands.Convert(workdir, src, out))
		if jerr := asJobError(err); jerr != nil {
			return "", jerr
		}
		return res.OutputPath, nil
	}

	l.publishStatus(*job, PhaseTranscoding)
	cuts := make([]string, 0, len(job.Options.Segments))
	for i, span := range job.Options.Segments {
		res, err := l.runner.Invoke(ctx, l.commands.CutSegment(workdir, src, i, span))
		if jerr := asJobError(err); jerr != nil {
			return "", jerr
		}
		cuts = append(cuts, res.OutputPath)
	}
	if len(cuts) == 1 {
		return cuts[0], nil
	}

	listFile := filepath.Join(workdir, "concat.txt")
	var sb strings.Builder
	for _, c := range cuts {
		fmt.Fprintf(&sb, "file '%s'\n", c)
	}
	if err := os.WriteFile(listFile, []byte(sb.String()), 0644); err != nil {
		return "", domain.NewJobError(domain.ErrInternal, "write concat list: %v", err)
	}

	out := filepath.Join(workdir, "clip."+targetFormat(job.Options))
	res2, err := l.runner.Invoke(ctx, l.commands.Concat(workdir, listFile, out))
	if jerr := asJobError(err); jerr != nil {
		return "", jerr
	}
	return res2.OutputPath, nil
}

// finish drives the job to the terminal state implied by jerr.
func (l *JobLifecycle) finish(job domain.Job, jerr *domain.JobError) {
	job.Status = domain.StatusForError(jerr.Kind)
	job.Err = jerr
	job.WorkspacePath = ""
	end := time.Now()
	job.FinishedAt = &end

	l.registry.Update(job)
	l.persist(job)
	l.publishStatus(job, "")
	if jerr.StderrTail != "" {
		l.publishLog(job.ID, jerr.StderrTail)
	}
	l.logger.Warn("job finished without success", "job_id", job.ID, "status", job.Status, "kind", jerr.Kind, "error", jerr.Message)
}

func (l *JobLifecycle) persist(job domain.Job) {
	if err := l.repo.SaveJob(context.Background(), job); err != nil {
		l.logger.Error("failed to persist job", "job_id", job.ID, "error", err)
	}
}

func (l *JobLifecycle) publishStatus(job domain.Job, phase string) {
	l.eventBus.Publish(Event{
		JobID:  job.ID,
		Type:   EventTypeStatus,
		Status: job.Status,
		Phase:  phase,
	})
}

func (l *JobLifecycle) publishLog(id domain.JobID, msg string) {
	l.eventBus.Publish(Event{JobID: id, Type: EventTypeLog, Data: msg})
}

func asJobError(err error) *domain.JobError {
	if err == nil {
		return nil
	}
	var jerr *domain.JobError
	if errors.As(err, &jerr) {
		return jerr
	}
	return domain.NewJobError(domain.ErrToolFailed, "%v", err)
}

// findFetchedFile locates the downloaded source in the workspace. The fetch
// template names it source.<ext>; the newest match wins if the tool wrote
// intermediate files.
func findFetchedFile(workdir string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(workdir, "source.*"))
	if err != nil || len(matches) == 0 {
		return "", fmt.Errorf("no fetched file in workspace")
	}

	var newest string
	var newestMod time.Time
	for _, m := range matches {
		// Skip yt-dlp partial downloads.
		if strings.HasSuffix(m, ".part") || strings.HasSuffix(m, ".ytdl") {
			continue
		}
		info, err := os.Stat(m)
		if err != nil || info.Size() == 0 {
			continue
		}
		if info.ModTime().After(newestMod) {
			newest, newestMod = m, info.ModTime()
		}
	}
	if newest == "" {
		return "", fmt.Errorf("fetched file is missing or empty")
	}
	return newest, nil
}

func formatOf(path string) string {
	return strings.TrimPrefix(filepath.Ext(path), ".")
}

func targetFormat(opts domain.OutputOptions) string {
	if opts.Format != "" {
		return opts.Format
	}
	return "mp4"
}
