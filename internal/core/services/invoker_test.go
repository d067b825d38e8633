package services

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/clipforge/clipforge/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func shInvocation(t *testing.T, script string, timeout time.Duration) domain.ToolInvocation {
	t.Helper()
	return domain.ToolInvocation{
		Tool:    "fetch",
		Bin:     "/bin/sh",
		Args:    []string{"-c", script},
		Workdir: t.TempDir(),
		Timeout: timeout,
	}
}

func kindOf(t *testing.T, err error) domain.ErrorKind {
	t.Helper()
	var jerr *domain.JobError
	require.True(t, errors.As(err, &jerr), "expected a classified job error, got %v", err)
	return jerr.Kind
}

func TestInvoker_Success(t *testing.T) {
	inv := shInvocation(t, "echo payload > out.bin", 5*time.Second)
	inv.OutputPath = filepath.Join(inv.Workdir, "out.bin")

	res, err := NewToolInvoker(testLogger()).Invoke(context.Background(), inv)
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, inv.OutputPath, res.OutputPath)
}

func TestInvoker_NonzeroExit(t *testing.T) {
	inv := shInvocation(t, "echo boom >&2; exit 3", 5*time.Second)

	res, err := NewToolInvoker(testLogger()).Invoke(context.Background(), inv)
	assert.Equal(t, domain.ErrToolFailed, kindOf(t, err))
	assert.Equal(t, 3, res.ExitCode)
	assert.Contains(t, res.StderrTail, "boom")
}

func TestInvoker_MissingExecutable(t *testing.T) {
	inv := domain.ToolInvocation{
		Tool:    "fetch",
		Bin:     "definitely-not-installed-tool",
		Args:    []string{"--version"},
		Workdir: t.TempDir(),
		Timeout: time.Second,
	}

	_, err := NewToolInvoker(testLogger()).Invoke(context.Background(), inv)
	assert.Equal(t, domain.ErrToolUnavailable, kindOf(t, err))
}

func TestInvoker_NoOutputAfterSuccess(t *testing.T) {
	inv := shInvocation(t, "true", 5*time.Second)
	inv.OutputPath = filepath.Join(inv.Workdir, "never-written.mp4")

	_, err := NewToolInvoker(testLogger()).Invoke(context.Background(), inv)
	assert.Equal(t, domain.ErrToolProducedNoOutput, kindOf(t, err))
}

func TestInvoker_EmptyOutputAfterSuccess(t *testing.T) {
	inv := shInvocation(t, "touch out.mp4", 5*time.Second)
	inv.OutputPath = filepath.Join(inv.Workdir, "out.mp4")

	_, err := NewToolInvoker(testLogger()).Invoke(context.Background(), inv)
	assert.Equal(t, domain.ErrToolProducedNoOutput, kindOf(t, err))
}

func TestInvoker_Timeout(t *testing.T) {
	inv := shInvocation(t, "sleep 30", 100*time.Millisecond)

	start := time.Now()
	_, err := NewToolInvoker(testLogger()).Invoke(context.Background(), inv)
	elapsed := time.Since(start)

	assert.Equal(t, domain.ErrToolTimeout, kindOf(t, err))
	// Termination is confirmed, not fire-and-forget, but must still happen
	// within a bounded grace window.
	assert.Less(t, elapsed, 3*time.Second)
}

func TestInvoker_TimeoutKillsProcessGroup(t *testing.T) {
	// The shell spawns a child that would outlive it if only the immediate
	// process were killed. The marker file appears only if the child
	// survives the group kill.
	marker := filepath.Join(t.TempDir(), "survivor")
	inv := shInvocation(t, "(sleep 1; touch "+marker+") & sleep 30", 100*time.Millisecond)

	_, err := NewToolInvoker(testLogger()).Invoke(context.Background(), inv)
	assert.Equal(t, domain.ErrToolTimeout, kindOf(t, err))

	time.Sleep(1500 * time.Millisecond)
	assert.NoFileExists(t, marker, "child process escaped the group kill")
}

func TestInvoker_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	inv := shInvocation(t, "sleep 30", 10*time.Second)
	start := time.Now()
	_, err := NewToolInvoker(testLogger()).Invoke(ctx, inv)

	assert.Equal(t, domain.ErrCanceled, kindOf(t, err))
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestTailBuffer_KeepsTail(t *testing.T) {
	b := newTailBuffer(8)
	_, err := b.Write([]byte("0123456789abcdef"))
	require.NoError(t, err)
	assert.Equal(t, "89abcdef", b.String())
}

func TestInvoker_CleanExitAtDeadlineIsNotTimeout(t *testing.T) {
	// A zero exit observed before the kill path fires stays a success even
	// when the deadline has expired by classification time.
	inv := NewToolInvoker(testLogger())
	res := domain.InvocationResult{ExitCode: 0, Duration: 50 * time.Millisecond}

	jerr := inv.terminationError(domain.ToolInvocation{Tool: "fetch"}, false, context.DeadlineExceeded, nil, res)
	assert.Nil(t, jerr)
}

func TestInvoker_KillPathClassification(t *testing.T) {
	inv := NewToolInvoker(testLogger())
	res := domain.InvocationResult{ExitCode: -1, StderrTail: "interrupted"}

	jerr := inv.terminationError(domain.ToolInvocation{Tool: "fetch"}, true, context.DeadlineExceeded, errors.New("signal: killed"), res)
	require.NotNil(t, jerr)
	assert.Equal(t, domain.ErrToolTimeout, jerr.Kind)
	assert.Equal(t, "interrupted", jerr.StderrTail)

	jerr = inv.terminationError(domain.ToolInvocation{Tool: "fetch"}, true, context.Canceled, errors.New("signal: killed"), res)
	require.NotNil(t, jerr)
	assert.Equal(t, domain.ErrCanceled, jerr.Kind)
}
