package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	DataDir   string `toml:"data_dir" env:"CAROUSEL_DATA_DIR"`
	OutputDir string `toml:"output_dir" env:"CAROUSEL_OUTPUT_DIR"`
	WorkDir   string `toml:"work_dir"`
	WatchDir  string `toml:"watch_dir" env:"CAROUSEL_WATCH_DIR"`
	LogDir    string `toml:"log_dir"`
	APIBind   string `toml:"api_bind" env:"CAROUSEL_API_BIND"`
	APIToken  string `toml:"api_token" env:"CAROUSEL_API_TOKEN"`
}

// Queue contains admission, retry, and scheduling configuration for the
// conversion task queue.
type Queue struct {
	MaxConcurrent           int `toml:"max_concurrent"`
	MaxRetries              int `toml:"max_retries"`
	RetryDelayMs            int `toml:"retry_delay_ms"`
	MaxBatchFiles           int `toml:"max_batch_files"`
	AdmissionMaxWaitMs      int `toml:"admission_max_wait_ms"`
	AdmissionPollIntervalMs int `toml:"admission_poll_interval_ms"`
	CancelGraceTimeoutMs    int `toml:"cancel_grace_timeout_ms"`
}

// Workers contains worker pool sizing.
type Workers struct {
	MaxPerKind int `toml:"max_per_kind"`
}

// Memory contains the admission governor's budget configuration.
// CeilingMB of zero means probe the host for available memory.
type Memory struct {
	CeilingMB        int     `toml:"ceiling_mb" env:"CAROUSEL_MEMORY_CEILING_MB"`
	ReclaimThreshold float64 `toml:"reclaim_threshold"`
}

// Engine contains configuration for the external conversion engine.
type Engine struct {
	Binary         string   `toml:"binary" env:"CAROUSEL_ENGINE"`
	ExtraArgs      []string `toml:"extra_args"`
	TimeoutSeconds int      `toml:"timeout_seconds"`
}

// Output contains conversion output defaults applied when a task does not
// override them.
type Output struct {
	Format             string `toml:"format"`
	Quality            int    `toml:"quality"`
	PreserveMetadata   bool   `toml:"preserve_metadata"`
	OverwriteExisting  bool   `toml:"overwrite_existing"`
	NormalizeFilenames bool   `toml:"normalize_filenames"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic          string `toml:"ntfy_topic" env:"CAROUSEL_NTFY_TOPIC"`
	RequestTimeout     int    `toml:"request_timeout"`
	TaskComplete       bool   `toml:"task_complete"`
	TaskFailed         bool   `toml:"task_failed"`
	BatchComplete      bool   `toml:"batch_complete"`
	QueuePaused        bool   `toml:"queue_paused"`
	PoolDegraded       bool   `toml:"pool_degraded"`
	DedupWindowSeconds int    `toml:"dedup_window_seconds"`
}

// Daemon contains daemon polling intervals and the removable media monitor.
type Daemon struct {
	WatchPollInterval int    `toml:"watch_poll_interval"`
	MediaMonitor      bool   `toml:"media_monitor"`
	MediaMountBase    string `toml:"media_mount_base"`
}

// History contains configuration for the completed-task journal.
type History struct {
	Enabled       bool   `toml:"enabled"`
	Path          string `toml:"path"`
	RetentionDays int    `toml:"retention_days"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format          string            `toml:"format"`
	Level           string            `toml:"level" env:"CAROUSEL_LOG_LEVEL"`
	RetentionDays   int               `toml:"retention_days"`
	ComponentLevels map[string]string `toml:"component_levels"`
}

// Config encapsulates all configuration values for Carousel.
//
// Configuration sections by subsystem:
//   - Paths: directories, API bind address, and API token
//   - Queue: concurrency, retry, and admission-wait tunables
//   - Workers: per-kind worker pool caps
//   - Memory: admission governor ceiling and reclaim threshold
//   - Engine: external conversion engine binary and timeouts
//   - Output: default format, quality, and filename handling
//   - Notifications: ntfy push notification settings
//   - Daemon: watch directory polling and removable media monitor
//   - History: completed-task journal retention
//   - Logging: log format, level, retention, and per-component overrides
type Config struct {
	Paths         Paths         `toml:"paths"`
	Queue         Queue         `toml:"queue"`
	Workers       Workers       `toml:"workers"`
	Memory        Memory        `toml:"memory"`
	Engine        Engine        `toml:"engine"`
	Output        Output        `toml:"output"`
	Notifications Notifications `toml:"notifications"`
	Daemon        Daemon        `toml:"daemon"`
	History       History       `toml:"history"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/carousel/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config
// has all path fields expanded and normalized, with CAROUSEL_* environment
// variables overriding values from the file.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return nil, "", false, fmt.Errorf("apply env overrides: %w", err)
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath("~/.config/carousel/config.toml")
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("carousel.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
// OutputDir is created on a best-effort basis so the daemon can run when
// external storage is temporarily unavailable.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.WorkDir, c.Paths.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	if strings.TrimSpace(c.Paths.OutputDir) != "" {
		// Best-effort to avoid failing config load when storage is offline.
		_ = os.MkdirAll(c.Paths.OutputDir, 0o755)
	}
	if strings.TrimSpace(c.Paths.WatchDir) != "" {
		if err := os.MkdirAll(c.Paths.WatchDir, 0o755); err != nil {
			return fmt.Errorf("create watch directory %q: %w", c.Paths.WatchDir, err)
		}
	}
	return nil
}

// SocketPath returns the daemon control socket location under DataDir.
func (c *Config) SocketPath() string {
	return filepath.Join(c.Paths.DataDir, "carousel.sock")
}

// LockPath returns the daemon lock file location under DataDir.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.DataDir, "carousel.lock")
}

// PIDPath returns the daemon pid file location under DataDir.
func (c *Config) PIDPath() string {
	return filepath.Join(c.Paths.DataDir, "carousel.pid")
}

// HistoryPath returns the completed-task journal location. An explicit
// history.path wins over the DataDir default.
func (c *Config) HistoryPath() string {
	if strings.TrimSpace(c.History.Path) != "" {
		return c.History.Path
	}
	return filepath.Join(c.Paths.DataDir, "history.db")
}

// RetryDelay returns the queue retry base delay as a duration.
func (c *Config) RetryDelay() time.Duration {
	return time.Duration(c.Queue.RetryDelayMs) * time.Millisecond
}

// AdmissionMaxWait returns the bounded memory-admission wait as a duration.
func (c *Config) AdmissionMaxWait() time.Duration {
	return time.Duration(c.Queue.AdmissionMaxWaitMs) * time.Millisecond
}

// AdmissionPollInterval returns the admission re-check cadence as a duration.
func (c *Config) AdmissionPollInterval() time.Duration {
	return time.Duration(c.Queue.AdmissionPollIntervalMs) * time.Millisecond
}

// CancelGraceTimeout returns how long a cancelled worker may run before its
// slot is replaced.
func (c *Config) CancelGraceTimeout() time.Duration {
	return time.Duration(c.Queue.CancelGraceTimeoutMs) * time.Millisecond
}

// MemoryCeilingBytes returns the configured ceiling in bytes, or zero when the
// governor should probe the host.
func (c *Config) MemoryCeilingBytes() int64 {
	if c.Memory.CeilingMB <= 0 {
		return 0
	}
	return int64(c.Memory.CeilingMB) * 1024 * 1024
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	sample := sampleConfig

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sample), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
