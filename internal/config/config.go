package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full configuration surface consumed by the core. Values come
// from an optional YAML file, overridden by CLIPFORGE_* environment
// variables, with defaults for everything else.
type Config struct {
	ListenAddr string `yaml:"listen_addr"`

	MaxConcurrentJobs int `yaml:"max_concurrent_jobs"`
	MaxQueueDepth     int `yaml:"max_queue_depth"`

	PerInvocationTimeout Duration `yaml:"per_invocation_timeout"`
	PerJobTimeout        Duration `yaml:"per_job_timeout"`
	MaxQueueWait         Duration `yaml:"max_queue_wait"`

	WorkspaceRoot       string   `yaml:"workspace_root"`
	StaleWorkspaceGrace Duration `yaml:"stale_workspace_grace_period"`
	OutputDir           string   `yaml:"output_dir"`
	DBPath              string   `yaml:"db_path"`

	FetchBin     string `yaml:"fetch_bin"`
	TranscodeBin string `yaml:"transcode_bin"`

	// ForceTranscode makes the pipeline invoke ffmpeg even when the fetched
	// file already matches the requested format and no segments were given.
	ForceTranscode bool `yaml:"force_transcode"`

	// CookiesFile is passed to the fetch tool when present. It can also be
	// materialized from the CLIPFORGE_COOKIES_B64 env var at startup.
	CookiesFile string `yaml:"cookies_file"`
}

// Duration wraps time.Duration so it can be written as "30s" in YAML.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("bad duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Get() time.Duration { return time.Duration(d) }

func defaults() Config {
	return Config{
		ListenAddr:           ":8080",
		MaxConcurrentJobs:    4,
		MaxQueueDepth:        32,
		PerInvocationTimeout: Duration(5 * time.Minute),
		PerJobTimeout:        Duration(10 * time.Minute),
		MaxQueueWait:         Duration(2 * time.Minute),
		WorkspaceRoot:        "/var/lib/clipforge/work",
		StaleWorkspaceGrace:  Duration(30 * time.Minute),
		OutputDir:            "/var/lib/clipforge/outputs",
		DBPath:               "clipforge.db",
		FetchBin:             "yt-dlp",
		TranscodeBin:         "ffmpeg",
	}
}

// Load reads path (if non-empty), applies env overrides, and validates.
func Load(path string) (Config, error) {
	cfg := defaults()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("CLIPFORGE_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("CLIPFORGE_MAX_CONCURRENT_JOBS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxConcurrentJobs = n
		}
	}
	if v := os.Getenv("CLIPFORGE_MAX_QUEUE_DEPTH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxQueueDepth = n
		}
	}
	if v := os.Getenv("CLIPFORGE_WORKSPACE_ROOT"); v != "" {
		cfg.WorkspaceRoot = v
	}
	if v := os.Getenv("CLIPFORGE_OUTPUT_DIR"); v != "" {
		cfg.OutputDir = v
	}
	if v := os.Getenv("CLIPFORGE_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("CLIPFORGE_FETCH_BIN"); v != "" {
		cfg.FetchBin = v
	}
	if v := os.Getenv("CLIPFORGE_TRANSCODE_BIN"); v != "" {
		cfg.TranscodeBin = v
	}
	for _, d := range []struct {
		env string
		dst *Duration
	}{
		{"CLIPFORGE_PER_INVOCATION_TIMEOUT", &cfg.PerInvocationTimeout},
		{"CLIPFORGE_PER_JOB_TIMEOUT", &cfg.PerJobTimeout},
		{"CLIPFORGE_MAX_QUEUE_WAIT", &cfg.MaxQueueWait},
		{"CLIPFORGE_STALE_WORKSPACE_GRACE", &cfg.StaleWorkspaceGrace},
	} {
		if v := os.Getenv(d.env); v != "" {
			if parsed, err := time.ParseDuration(v); err == nil {
				*d.dst = Duration(parsed)
			}
		}
	}
}

func (c Config) validate() error {
	if c.MaxConcurrentJobs <= 0 {
		return fmt.Errorf("max_concurrent_jobs must be positive, got %d", c.MaxConcurrentJobs)
	}
	if c.MaxQueueDepth <= 0 {
		return fmt.Errorf("max_queue_depth must be positive, got %d", c.MaxQueueDepth)
	}
	if c.PerInvocationTimeout.Get() <= 0 || c.PerJobTimeout.Get() <= 0 {
		return fmt.Errorf("timeouts must be positive")
	}
	if c.WorkspaceRoot == "" || c.OutputDir == "" {
		return fmt.Errorf("workspace_root and output_dir are required")
	}
	return nil
}

// MaterializeCookies writes the CLIPFORGE_COOKIES_B64 env var, when set, to
// a cookies file next to the workspace root and records its path. Mirrors
// injecting browser cookies into the fetch tool via environment.
func (c *Config) MaterializeCookies() error {
	raw := os.Getenv("CLIPFORGE_COOKIES_B64")
	if raw == "" {
		return nil
	}
	decoded, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return fmt.Errorf("decode CLIPFORGE_COOKIES_B64: %w", err)
	}
	path := filepath.Join(filepath.Dir(c.WorkspaceRoot), "cookies.txt")
	if err := os.WriteFile(path, decoded, 0600); err != nil {
		return fmt.Errorf("write cookies file: %w", err)
	}
	c.CookiesFile = path
	return nil
}
