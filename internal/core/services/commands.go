package services

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/clipforge/clipforge/internal/core/domain"
)

// fetchUserAgent is sent to the remote host; some media hosts reject the
// default tool agent outright.
const fetchUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64)"

// CommandBuilder constructs tool invocations for a job's workspace. All
// arguments are discrete list entries handed to the OS directly, so an
// attacker-controlled URL or filename can never break into a shell.
type CommandBuilder struct {
	FetchBin     string
	TranscodeBin string
	CookiesFile  string
	Timeout      time.Duration
}

// Fetch downloads the source into the workspace as source.<ext>. The format
// selector prefers an mp4 video + m4a audio pair and falls back to a plain
// mp4, so the merged result lands as source.mp4.
func (b CommandBuilder) Fetch(workdir, url string) domain.ToolInvocation {
	args := []string{
		"--user-agent", fetchUserAgent,
		"--no-playlist",
		"-f", "bestvideo[ext=mp4]+bestaudio[ext=m4a]/mp4",
		"-o", filepath.Join(workdir, "source.%(ext)s"),
	}
	if b.CookiesFile != "" {
		args = append(args, "--cookies", b.CookiesFile)
	}
	args = append(args, url)

	return domain.ToolInvocation{
		Tool:    "fetch",
		Bin:     b.FetchBin,
		Args:    args,
		Workdir: workdir,
		Timeout: b.Timeout,
	}
}

// CutSegment re-encodes one segment of src into cut_<i>.mp4.
func (b CommandBuilder) CutSegment(workdir, src string, i int, span domain.TimeSpan) domain.ToolInvocation {
	out := filepath.Join(workdir, fmt.Sprintf("cut_%03d.mp4", i))
	return domain.ToolInvocation{
		Tool: "transcode",
		Bin:  b.TranscodeBin,
		Args: []string{
			"-y",
			"-ss", fmt.Sprintf("%d", span.Start),
			"-to", fmt.Sprintf("%d", span.End),
			"-i", src,
			"-c:v", "libx264",
			"-c:a", "aac",
			"-preset", "veryfast",
			"-crf", "23",
			out,
		},
		Workdir:    workdir,
		Timeout:    b.Timeout,
		OutputPath: out,
	}
}

// Concat stitches previously cut segments listed in listFile into out
// without re-encoding.
func (b CommandBuilder) Concat(workdir, listFile, out string) domain.ToolInvocation {
	return domain.ToolInvocation{
		Tool: "transcode",
		Bin:  b.TranscodeBin,
		Args: []string{
			"-y",
			"-f", "concat",
			"-safe", "0",
			"-i", listFile,
			"-c", "copy",
			out,
		},
		Workdir:    workdir,
		Timeout:    b.Timeout,
		OutputPath: out,
	}
}

// Convert re-encodes the whole source into the requested container. Used
// when the caller asked for a format change without segment cuts.
func (b CommandBuilder) Convert(workdir, src, out string) domain.ToolInvocation {
	return domain.ToolInvocation{
		Tool: "transcode",
		Bin:  b.TranscodeBin,
		Args: []string{
			"-y",
			"-i", src,
			"-c:v", "libx264",
			"-c:a", "aac",
			"-preset", "veryfast",
			"-crf", "23",
			out,
		},
		Workdir:    workdir,
		Timeout:    b.Timeout,
		OutputPath: out,
	}
}
