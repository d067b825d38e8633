package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/clipforge/clipforge/internal/adapters/store"
	"github.com/clipforge/clipforge/internal/core/domain"
	"github.com/clipforge/clipforge/internal/core/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubRunner struct{}

func (stubRunner) Invoke(ctx context.Context, inv domain.ToolInvocation) (domain.InvocationResult, error) {
	out := inv.OutputPath
	if inv.Tool == "fetch" {
		out = filepath.Join(inv.Workdir, "source.mp4")
	}
	if err := os.WriteFile(out, []byte("media"), 0644); err != nil {
		return domain.InvocationResult{}, err
	}
	return domain.InvocationResult{OutputPath: out}, nil
}

type stubRepo struct {
	mu   sync.Mutex
	jobs map[domain.JobID]domain.Job
}

func (r *stubRepo) SaveJob(_ context.Context, job domain.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[job.ID] = job
	return nil
}

func (r *stubRepo) GetJob(_ context.Context, id domain.JobID) (domain.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if job, ok := r.jobs[id]; ok {
		return job, nil
	}
	return domain.Job{}, domain.ErrJobNotFound
}

func (r *stubRepo) ListJobs(_ context.Context) ([]domain.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Job, 0, len(r.jobs))
	for _, j := range r.jobs {
		out = append(out, j)
	}
	return out, nil
}

func (r *stubRepo) Close() error { return nil }

func newTestServer(t *testing.T) (*httptest.Server, *services.JobRegistry) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	workspace, err := services.NewWorkspaceManager(logger, t.TempDir())
	require.NoError(t, err)
	artifacts, err := store.NewLocalStore(logger, t.TempDir())
	require.NoError(t, err)

	repo := &stubRepo{jobs: make(map[domain.JobID]domain.Job)}
	registry := services.NewJobRegistry()
	bus := services.NewEventBus(logger)
	scheduler := services.NewJobScheduler(logger, services.SchedulerConfig{MaxConcurrentJobs: 2, MaxQueueDepth: 8})
	commands := services.CommandBuilder{FetchBin: "yt-dlp", TranscodeBin: "ffmpeg", Timeout: time.Second}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	lifecycle := services.NewJobLifecycle(ctx, logger, scheduler, registry, workspace, stubRunner{}, repo, artifacts, bus, commands,
		services.LifecycleConfig{PerJobTimeout: 5 * time.Second})
	lifecycle.Run()

	srv := httptest.NewServer(NewServer(logger, lifecycle, registry, scheduler, bus, repo, artifacts).Handler())
	t.Cleanup(srv.Close)
	return srv, registry
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	return resp
}

func TestServer_SubmitAndFetchResult(t *testing.T) {
	srv, registry := newTestServer(t)

	resp := postJSON(t, srv.URL+"/v1/clips", map[string]string{
		"url":        "https://example.com/watch?v=ok",
		"timestamps": "0:10-0:20",
	})
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var submitted struct {
		JobID domain.JobID `json:"job_id"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&submitted))
	require.NotEmpty(t, submitted.JobID)

	_, err := registry.Await(context.Background(), submitted.JobID, 5*time.Second)
	require.NoError(t, err)

	resultResp, err := http.Get(srv.URL + "/v1/jobs/" + string(submitted.JobID) + "/result?wait=1s")
	require.NoError(t, err)
	defer resultResp.Body.Close()
	require.Equal(t, http.StatusOK, resultResp.StatusCode)

	var job domain.Job
	require.NoError(t, json.NewDecoder(resultResp.Body).Decode(&job))
	assert.Equal(t, domain.JobStatusSucceeded, job.Status)
	require.NotNil(t, job.Result)

	artResp, err := http.Get(srv.URL + "/v1/jobs/" + string(submitted.JobID) + "/artifact")
	require.NoError(t, err)
	defer artResp.Body.Close()
	require.Equal(t, http.StatusOK, artResp.StatusCode)
	assert.Equal(t, "video/mp4", artResp.Header.Get("Content-Type"))
	data, err := io.ReadAll(artResp.Body)
	require.NoError(t, err)
	assert.Equal(t, "media", string(data))
}

func TestServer_EventsForFinishedJob(t *testing.T) {
	srv, registry := newTestServer(t)

	resp := postJSON(t, srv.URL+"/v1/clips", map[string]string{"url": "https://example.com/watch?v=done"})
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var submitted struct {
		JobID domain.JobID `json:"job_id"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&submitted))

	// The stream must not stay silent for a job that is already terminal
	// when the subscription is established.
	_, err := registry.Await(context.Background(), submitted.JobID, 5*time.Second)
	require.NoError(t, err)

	evResp, err := http.Get(srv.URL + "/v1/jobs/" + string(submitted.JobID) + "/events")
	require.NoError(t, err)
	defer evResp.Body.Close()
	require.Equal(t, http.StatusOK, evResp.StatusCode)
	assert.Equal(t, "text/event-stream", evResp.Header.Get("Content-Type"))

	body, err := io.ReadAll(evResp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `"status":"succeeded"`)
}

func TestServer_SubmitValidation(t *testing.T) {
	srv, _ := newTestServer(t)

	cases := []map[string]string{
		{"url": ""},
		{"url": "not-a-url"},
		{"url": "https://example.com/v", "timestamps": "0:30"},
		{"url": "https://example.com/v", "timestamps": "1:00-0:30"},
	}
	for _, body := range cases {
		resp := postJSON(t, srv.URL+"/v1/clips", body)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "body %v", body)
		resp.Body.Close()
	}
}

func TestServer_UnknownJob(t *testing.T) {
	srv, _ := newTestServer(t)

	for _, path := range []string{
		"/v1/jobs/ghost",
		"/v1/jobs/ghost/result?wait=10ms",
		"/v1/jobs/ghost/artifact",
		"/v1/jobs/ghost/events",
	} {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, path)
		resp.Body.Close()
	}
}

func TestServer_Status(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/v1/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Jobs       map[string]int `json:"jobs"`
		QueueDepth int            `json:"queue_depth"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Zero(t, body.QueueDepth)
}

func TestServer_CancelUnknown(t *testing.T) {
	srv, _ := newTestServer(t)

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/v1/jobs/ghost", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
