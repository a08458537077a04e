package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"

	"carousel/internal/config"
)

func TestLoadDefaultsAndExpandsPaths(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantData := filepath.Join(tempHome, ".local", "share", "carousel")
	if cfg.Paths.DataDir != wantData {
		t.Fatalf("unexpected data dir: got %q want %q", cfg.Paths.DataDir, wantData)
	}
	if cfg.Paths.OutputDir != filepath.Join(tempHome, "pictures", "converted") {
		t.Fatalf("unexpected output dir: %q", cfg.Paths.OutputDir)
	}
	if cfg.Paths.APIBind != "127.0.0.1:7485" {
		t.Fatalf("unexpected api bind: %q", cfg.Paths.APIBind)
	}
	if cfg.Queue.MaxConcurrent != 2 {
		t.Fatalf("unexpected max_concurrent: %d", cfg.Queue.MaxConcurrent)
	}
	if cfg.Queue.MaxRetries != 3 {
		t.Fatalf("unexpected max_retries: %d", cfg.Queue.MaxRetries)
	}
	if cfg.RetryDelay() != time.Second {
		t.Fatalf("unexpected retry delay: %v", cfg.RetryDelay())
	}
	if cfg.Workers.MaxPerKind != 4 {
		t.Fatalf("unexpected workers.max_per_kind: %d", cfg.Workers.MaxPerKind)
	}
	if cfg.Memory.ReclaimThreshold != 0.8 {
		t.Fatalf("unexpected reclaim threshold: %v", cfg.Memory.ReclaimThreshold)
	}
	if cfg.Memory.CeilingMB != 0 {
		t.Fatalf("expected ceiling_mb 0 (probe host), got %d", cfg.Memory.CeilingMB)
	}
	if cfg.Output.Format != "jpeg" {
		t.Fatalf("unexpected default format: %q", cfg.Output.Format)
	}
	if cfg.Output.Quality != 90 {
		t.Fatalf("unexpected default quality: %d", cfg.Output.Quality)
	}
	if cfg.Paths.WatchDir != "" {
		t.Fatalf("expected watch dir disabled by default, got %q", cfg.Paths.WatchDir)
	}
	if cfg.Daemon.MediaMonitor {
		t.Fatal("expected media monitor disabled by default")
	}
	if !cfg.History.Enabled {
		t.Fatal("expected history enabled by default")
	}
	if cfg.HistoryPath() != filepath.Join(wantData, "history.db") {
		t.Fatalf("unexpected history path: %q", cfg.HistoryPath())
	}
	if cfg.SocketPath() != filepath.Join(wantData, "carousel.sock") {
		t.Fatalf("unexpected socket path: %q", cfg.SocketPath())
	}

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories failed: %v", err)
	}
	for _, dir := range []string{cfg.Paths.DataDir, cfg.Paths.WorkDir, cfg.Paths.LogDir, cfg.Paths.OutputDir} {
		info, err := os.Stat(dir)
		if err != nil {
			t.Fatalf("expected directory %q to exist: %v", dir, err)
		}
		if !info.IsDir() {
			t.Fatalf("expected %q to be directory", dir)
		}
	}
}

func TestLoadCustomPath(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "carousel.toml")

	type payload struct {
		Queue struct {
			MaxConcurrent int `toml:"max_concurrent"`
			RetryDelayMs  int `toml:"retry_delay_ms"`
		} `toml:"queue"`
		Output struct {
			Format  string `toml:"format"`
			Quality int    `toml:"quality"`
		} `toml:"output"`
		Memory struct {
			CeilingMB int `toml:"ceiling_mb"`
		} `toml:"memory"`
	}
	custom := payload{}
	custom.Queue.MaxConcurrent = 1
	custom.Queue.RetryDelayMs = 50
	custom.Output.Format = "webp"
	custom.Output.Quality = 75
	custom.Memory.CeilingMB = 512
	data, err := toml.Marshal(custom)
	if err != nil {
		t.Fatalf("marshal custom config: %v", err)
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		t.Fatalf("write custom config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists {
		t.Fatal("expected exists to be true")
	}
	if resolved != configPath {
		t.Fatalf("unexpected resolved path: got %q want %q", resolved, configPath)
	}
	if cfg.Queue.MaxConcurrent != 1 {
		t.Fatalf("expected max_concurrent 1, got %d", cfg.Queue.MaxConcurrent)
	}
	if cfg.RetryDelay() != 50*time.Millisecond {
		t.Fatalf("expected retry delay 50ms, got %v", cfg.RetryDelay())
	}
	if cfg.Output.Format != "webp" {
		t.Fatalf("expected webp format, got %q", cfg.Output.Format)
	}
	if cfg.Output.Quality != 75 {
		t.Fatalf("expected quality 75, got %d", cfg.Output.Quality)
	}
	if cfg.MemoryCeilingBytes() != 512*1024*1024 {
		t.Fatalf("expected 512 MiB ceiling, got %d", cfg.MemoryCeilingBytes())
	}
}

func TestEnvOverridesConfigFile(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "carousel.toml")

	type payload struct {
		Paths struct {
			APIToken string `toml:"api_token"`
		} `toml:"paths"`
		Engine struct {
			Binary string `toml:"binary"`
		} `toml:"engine"`
		Notifications struct {
			NtfyTopic string `toml:"ntfy_topic"`
		} `toml:"notifications"`
		Logging struct {
			Level string `toml:"level"`
		} `toml:"logging"`
	}
	custom := payload{}
	custom.Paths.APIToken = "file-token"
	custom.Engine.Binary = "file-engine"
	custom.Notifications.NtfyTopic = "file-topic"
	custom.Logging.Level = "warn"

	data, err := toml.Marshal(custom)
	if err != nil {
		t.Fatalf("marshal custom config: %v", err)
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		t.Fatalf("write custom config: %v", err)
	}

	t.Setenv("CAROUSEL_API_TOKEN", "env-token")
	t.Setenv("CAROUSEL_ENGINE", "env-engine")
	t.Setenv("CAROUSEL_NTFY_TOPIC", "env-topic")
	t.Setenv("CAROUSEL_LOG_LEVEL", "debug")

	cfg, _, _, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Paths.APIToken != "env-token" {
		t.Errorf("expected API token from env, got %q", cfg.Paths.APIToken)
	}
	if cfg.Engine.Binary != "env-engine" {
		t.Errorf("expected engine binary from env, got %q", cfg.Engine.Binary)
	}
	if cfg.Notifications.NtfyTopic != "env-topic" {
		t.Errorf("expected ntfy topic from env, got %q", cfg.Notifications.NtfyTopic)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("expected log level from env, got %q", cfg.Logging.Level)
	}
}

func TestCreateSample(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sample.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample failed: %v", err)
	}

	contents, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}
	if !strings.Contains(string(contents), "max_concurrent") {
		t.Fatalf("sample config missing queue tunables: %s", contents)
	}

	var cfg config.Config
	if err := toml.Unmarshal(contents, &cfg); err != nil {
		t.Fatalf("unmarshal sample: %v", err)
	}
	if cfg.Queue.MaxConcurrent != 2 {
		t.Fatalf("sample max_concurrent = %d, want 2", cfg.Queue.MaxConcurrent)
	}
	if cfg.Workers.MaxPerKind != 4 {
		t.Fatalf("sample workers.max_per_kind = %d, want 4", cfg.Workers.MaxPerKind)
	}
}

func TestValidateDetectsInvalidValues(t *testing.T) {
	base := func() config.Config {
		cfg := config.Default()
		cfg.Paths.OutputDir = "/tmp/out"
		return cfg
	}

	cfg := base()
	cfg.Output.Format = "gif"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for unsupported output format")
	}

	cfg = base()
	cfg.Output.Quality = 101
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for out-of-range quality")
	}

	cfg = base()
	cfg.Queue.MaxConcurrent = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for non-positive max_concurrent")
	}

	cfg = base()
	cfg.Queue.MaxConcurrent = 20
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error when max_concurrent exceeds worker capacity")
	}

	cfg = base()
	cfg.Queue.AdmissionPollIntervalMs = cfg.Queue.AdmissionMaxWaitMs + 1
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error when poll interval exceeds max wait")
	}

	cfg = base()
	cfg.Memory.ReclaimThreshold = 1.5
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for reclaim threshold above 1")
	}

	cfg = base()
	cfg.Engine.Binary = "  "
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for empty engine binary")
	}

	cfg = base()
	cfg.Daemon.MediaMonitor = true
	cfg.Daemon.MediaMountBase = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for media monitor without mount base")
	}
}

func TestNormalizeRepairsSoftInvalids(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "carousel.toml")

	raw := `
[output]
format = "JPEG"
quality = 0

[logging]
format = "fancy"
level = "WARN"
retention_days = -5
`
	if err := os.WriteFile(configPath, []byte(raw), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, _, _, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Output.Format != "jpeg" {
		t.Fatalf("expected lowercased format, got %q", cfg.Output.Format)
	}
	if cfg.Output.Quality != 90 {
		t.Fatalf("expected default quality for zero, got %d", cfg.Output.Quality)
	}
	if cfg.Logging.Format != "console" {
		t.Fatalf("expected unknown log format to fall back to console, got %q", cfg.Logging.Format)
	}
	if cfg.Logging.Level != "warn" {
		t.Fatalf("expected lowercased level, got %q", cfg.Logging.Level)
	}
	if cfg.Logging.RetentionDays != 0 {
		t.Fatalf("expected negative retention clamped to zero, got %d", cfg.Logging.RetentionDays)
	}
}
