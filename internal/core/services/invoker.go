package services

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/clipforge/clipforge/internal/core/domain"
	"github.com/clipforge/clipforge/internal/core/ports"
)

// stderrTailLimit bounds how much tool stderr is kept for diagnostics.
const stderrTailLimit = 4096

// ToolInvoker runs external fetch/transcode executables. Each invocation
// gets its own process group so that a timeout or cancellation kills the
// whole tree (yt-dlp spawns ffmpeg itself for stream muxing), and Invoke
// never returns before the direct child has been reaped.
type ToolInvoker struct {
	logger *slog.Logger
}

func NewToolInvoker(logger *slog.Logger) *ToolInvoker {
	return &ToolInvoker{logger: logger}
}

var _ ports.ToolRunner = (*ToolInvoker)(nil)

func (t *ToolInvoker) Invoke(ctx context.Context, inv domain.ToolInvocation) (domain.InvocationResult, error) {
	start := time.Now()

	invCtx := ctx
	if inv.Timeout > 0 {
		var cancel context.CancelFunc
		invCtx, cancel = context.WithTimeout(ctx, inv.Timeout)
		defer cancel()
	}

	cmd := exec.Command(inv.Bin, inv.Args...)
	cmd.Dir = inv.Workdir
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	tail := newTailBuffer(stderrTailLimit)
	cmd.Stderr = tail
	cmd.Stdout = io.Discard

	if err := cmd.Start(); err != nil {
		return domain.InvocationResult{}, startError(inv, err)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	var waitErr error
	killed := false
	select {
	case waitErr = <-done:
	case <-invCtx.Done():
		// Negative pid addresses the whole process group. Waiting on done
		// afterwards guarantees the child is reaped before we hand the
		// workspace back for reclamation.
		killed = true
		_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		waitErr = <-done
	}

	res := domain.InvocationResult{
		ExitCode:   cmd.ProcessState.ExitCode(),
		StderrTail: tail.String(),
		Duration:   time.Since(start),
	}

	if jerr := t.terminationError(inv, killed, ctx.Err(), waitErr, res); jerr != nil {
		return res, jerr
	}

	if inv.OutputPath != "" {
		info, err := os.Stat(inv.OutputPath)
		if err != nil || info.Size() == 0 {
			jerr := domain.NewJobError(domain.ErrToolProducedNoOutput, "%s reported success but produced no output at %s", inv.Tool, inv.OutputPath)
			jerr.StderrTail = res.StderrTail
			return res, jerr
		}
		res.OutputPath = inv.OutputPath
	}

	t.logger.Info("tool completed", "tool", inv.Tool, "elapsed", res.Duration.Round(time.Millisecond))
	return res, nil
}

// terminationError classifies a reaped invocation. The deadline counts only
// when it is what actually stopped the wait: a process that exited normally
// just as the deadline fired is judged by its exit status, not the clock.
func (t *ToolInvoker) terminationError(inv domain.ToolInvocation, killed bool, parentErr, waitErr error, res domain.InvocationResult) *domain.JobError {
	if killed {
		kind := domain.ErrToolTimeout
		if errors.Is(parentErr, context.Canceled) {
			kind = domain.ErrCanceled
		}
		t.logger.Warn("tool terminated", "tool", inv.Tool, "kind", kind, "elapsed", res.Duration.Round(time.Millisecond))
		jerr := domain.NewJobError(kind, "%s terminated after %s", inv.Tool, res.Duration.Round(time.Millisecond))
		jerr.StderrTail = res.StderrTail
		return jerr
	}
	if waitErr != nil {
		jerr := domain.NewJobError(domain.ErrToolFailed, "%s exited with status %d", inv.Tool, res.ExitCode)
		jerr.StderrTail = res.StderrTail
		return jerr
	}
	return nil
}

func startError(inv domain.ToolInvocation, err error) *domain.JobError {
	if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrPermission) {
		return domain.NewJobError(domain.ErrToolUnavailable, "%s: cannot start %s: %v", inv.Tool, inv.Bin, err)
	}
	return domain.NewJobError(domain.ErrToolFailed, "%s: start failed: %v", inv.Tool, err)
}

// tailBuffer keeps the last capacity bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	cap int
	buf []byte
}

func newTailBuffer(capacity int) *tailBuffer {
	return &tailBuffer{cap: capacity}
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	if len(b.buf) > b.cap {
		b.buf = b.buf[len(b.buf)-b.cap:]
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.TrimSpace(string(b.buf))
}
