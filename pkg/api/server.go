package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/clipforge/clipforge/internal/core/domain"
	"github.com/clipforge/clipforge/internal/core/ports"
	"github.com/clipforge/clipforge/internal/core/services"
)

// defaultResultWait bounds how long a result long-poll blocks before
// answering StillRunning.
const defaultResultWait = 30 * time.Second

// Server is the thin HTTP layer over the job pipeline. Request parsing and
// response formatting only; all semantics live in the services.
type Server struct {
	logger    *slog.Logger
	lifecycle *services.JobLifecycle
	registry  *services.JobRegistry
	scheduler *services.JobScheduler
	eventBus  *services.EventBus
	repo      ports.Repository
	store     ports.ArtifactStore
}

func NewServer(
	logger *slog.Logger,
	lifecycle *services.JobLifecycle,
	registry *services.JobRegistry,
	scheduler *services.JobScheduler,
	eventBus *services.EventBus,
	repo ports.Repository,
	store ports.ArtifactStore,
) *Server {
	return &Server{
		logger:    logger,
		lifecycle: lifecycle,
		registry:  registry,
		scheduler: scheduler,
		eventBus:  eventBus,
		repo:      repo,
		store:     store,
	}
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Route("/v1", func(r chi.Router) {
		r.Post("/clips", s.handleSubmit)
		r.Get("/jobs", s.handleListJobs)
		r.Get("/jobs/{id}", s.handleGetJob)
		r.Delete("/jobs/{id}", s.handleCancelJob)
		r.Get("/jobs/{id}/result", s.handleAwaitResult)
		r.Get("/jobs/{id}/artifact", s.handleArtifact)
		r.Get("/jobs/{id}/events", s.handleEvents)
		r.Get("/status", s.handleStatus)
	})
	return r
}

type submitRequest struct {
	URL string `json:"url"`
	// Timestamps is a comma-separated "mm:ss-mm:ss" segment list.
	Timestamps string `json:"timestamps,omitempty"`
	Format     string `json:"format,omitempty"`
}

type submitResponse struct {
	JobID  domain.JobID     `json:"job_id"`
	Status domain.JobStatus `json:"status"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJobError(w, domain.NewJobError(domain.ErrInvalidRequest, "invalid request body: %v", err))
		return
	}

	opts := domain.OutputOptions{Format: req.Format}
	if req.Timestamps != "" {
		spans, err := domain.ParseTimeSpans(req.Timestamps)
		if err != nil {
			s.writeJobError(w, domain.NewJobError(domain.ErrInvalidRequest, "%v", err))
			return
		}
		opts.Segments = spans
	}

	id, jerr := s.lifecycle.Submit(r.Context(), domain.SourceSpec{URL: req.URL}, opts)
	if jerr != nil {
		s.writeJobError(w, jerr)
		return
	}

	if r.URL.Query().Get("wait") == "" {
		writeJSON(w, http.StatusAccepted, submitResponse{JobID: id, Status: domain.JobStatusQueued})
		return
	}

	// Synchronous mode: the caller's connection owns the job. Disconnecting
	// before completion withdraws it, best-effort.
	job, err := s.registry.Await(r.Context(), id, waitFrom(r, time.Hour))
	if r.Context().Err() != nil {
		s.lifecycle.Cancel(id)
		return
	}
	if errors.Is(err, domain.ErrStillRunning) {
		writeJSON(w, http.StatusAccepted, job)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := domain.JobID(chi.URLParam(r, "id"))
	if job, ok := s.registry.Get(id); ok {
		writeJSON(w, http.StatusOK, job)
		return
	}
	// Fall back to history for jobs from a previous run.
	job, err := s.repo.GetJob(r.Context(), id)
	if err != nil {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("history") != "" {
		jobs, err := s.repo.ListJobs(r.Context())
		if err != nil {
			s.logger.Error("failed to list job history", "error", err)
			s.writeError(w, http.StatusInternalServerError, "failed to list jobs")
			return
		}
		writeJSON(w, http.StatusOK, jobs)
		return
	}
	writeJSON(w, http.StatusOK, s.registry.List())
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	id := domain.JobID(chi.URLParam(r, "id"))
	if _, ok := s.registry.Get(id); !ok {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if !s.lifecycle.Cancel(id) {
		s.writeError(w, http.StatusConflict, "job already terminal")
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleAwaitResult(w http.ResponseWriter, r *http.Request) {
	id := domain.JobID(chi.URLParam(r, "id"))
	job, err := s.registry.Await(r.Context(), id, waitFrom(r, defaultResultWait))
	switch {
	case errors.Is(err, domain.ErrJobNotFound):
		s.writeError(w, http.StatusNotFound, "job not found")
	case errors.Is(err, domain.ErrStillRunning):
		writeJSON(w, http.StatusAccepted, job)
	case err != nil:
		// Client went away; nothing to write.
	default:
		writeJSON(w, http.StatusOK, job)
	}
}

func (s *Server) handleArtifact(w http.ResponseWriter, r *http.Request) {
	id := domain.JobID(chi.URLParam(r, "id"))
	job, ok := s.registry.Get(id)
	if !ok {
		var err error
		job, err = s.repo.GetJob(r.Context(), id)
		if err != nil {
			s.writeError(w, http.StatusNotFound, "job not found")
			return
		}
	}
	if job.Result == nil {
		s.writeError(w, http.StatusNotFound, "job has no artifact")
		return
	}

	rc, err := s.store.Open(r.Context(), *job.Result)
	if err != nil {
		s.logger.Error("failed to open artifact", "job_id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "artifact unavailable")
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", job.Result.ContentType)
	w.Header().Set("Content-Length", strconv.FormatInt(job.Result.Size, 10))
	if _, err := io.Copy(w, rc); err != nil {
		s.logger.Warn("artifact stream interrupted", "job_id", id, "error", err)
	}
}

// handleEvents streams job lifecycle events as SSE until the job is
// terminal or the client disconnects.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	id := domain.JobID(chi.URLParam(r, "id"))
	if _, ok := s.registry.Get(id); !ok {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	events, unsub := s.eventBus.Subscribe(id)
	defer unsub()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	// The snapshot is taken after Subscribe: a job that turned terminal
	// before the subscription emits its final state once instead of
	// leaving the stream silent.
	if job, ok := s.registry.Get(id); ok && job.Status.Terminal() {
		payload, _ := json.Marshal(map[string]any{"type": services.EventTypeStatus, "status": job.Status})
		fmt.Fprintf(w, "event: %s\ndata: %s\n\n", services.EventTypeStatus, payload)
		flusher.Flush()
		return
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			payload, _ := json.Marshal(map[string]any{
				"type":   e.Type,
				"status": e.Status,
				"phase":  e.Phase,
				"data":   e.Data,
				"ts":     e.Timestamp,
			})
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.Type, payload)
			flusher.Flush()
			if e.Type == services.EventTypeStatus && e.Status.Terminal() {
				return
			}
		}
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"jobs":        s.registry.Counts(),
		"queue_depth": s.scheduler.QueueDepth(),
	})
}

func waitFrom(r *http.Request, fallback time.Duration) time.Duration {
	if raw := r.URL.Query().Get("wait"); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil && d > 0 {
			return d
		}
	}
	return fallback
}

func (s *Server) writeJobError(w http.ResponseWriter, jerr *domain.JobError) {
	status := http.StatusInternalServerError
	switch jerr.Kind {
	case domain.ErrInvalidRequest:
		status = http.StatusBadRequest
	case domain.ErrQueueFull:
		status = http.StatusTooManyRequests
	}
	writeJSON(w, status, map[string]any{"error": jerr.Message, "kind": jerr.Kind})
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
