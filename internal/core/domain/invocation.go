package domain

import "time"

// ToolInvocation is a single bounded call to an external executable, owned
// by exactly one job and never reused. Args is a discrete list passed to the
// OS directly; nothing here ever goes through a shell.
type ToolInvocation struct {
	// Tool is a short identifier for diagnostics ("fetch", "transcode").
	Tool string
	// Bin is the executable path or name resolved via PATH.
	Bin  string
	Args []string
	// Workdir is the owning job's workspace directory.
	Workdir string
	Timeout time.Duration
	// OutputPath, when non-empty, is verified to exist and be non-empty
	// after a zero exit status. Left empty for invocations whose output
	// location is only known afterwards (yt-dlp's id-templated filename).
	OutputPath string
}

// InvocationResult captures the observable outcome of a tool invocation.
type InvocationResult struct {
	ExitCode   int
	StderrTail string
	Duration   time.Duration
	// OutputPath echoes the verified output file on success.
	OutputPath string
}
