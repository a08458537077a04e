package config

import (
	"errors"
	"fmt"
	"strings"
)

var validOutputFormats = map[string]struct{}{
	"jpeg": {},
	"png":  {},
	"webp": {},
}

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateQueue(); err != nil {
		return err
	}
	if err := c.validateWorkers(); err != nil {
		return err
	}
	if err := c.validateMemory(); err != nil {
		return err
	}
	if err := c.validateEngine(); err != nil {
		return err
	}
	if err := c.validateOutput(); err != nil {
		return err
	}
	if err := c.validateDaemon(); err != nil {
		return err
	}
	if err := c.validateNotifications(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validatePaths() error {
	if strings.TrimSpace(c.Paths.OutputDir) == "" {
		return errors.New("paths.output_dir must be set")
	}
	if strings.TrimSpace(c.Paths.APIBind) == "" {
		return errors.New("paths.api_bind must be set")
	}
	return nil
}

func (c *Config) validateQueue() error {
	if err := ensurePositiveMap(map[string]int{
		"queue.max_concurrent":             c.Queue.MaxConcurrent,
		"queue.retry_delay_ms":             c.Queue.RetryDelayMs,
		"queue.max_batch_files":            c.Queue.MaxBatchFiles,
		"queue.admission_max_wait_ms":      c.Queue.AdmissionMaxWaitMs,
		"queue.admission_poll_interval_ms": c.Queue.AdmissionPollIntervalMs,
		"queue.cancel_grace_timeout_ms":    c.Queue.CancelGraceTimeoutMs,
	}); err != nil {
		return err
	}
	if c.Queue.MaxRetries < 0 {
		return errors.New("queue.max_retries must be >= 0")
	}
	if c.Queue.AdmissionPollIntervalMs > c.Queue.AdmissionMaxWaitMs {
		return errors.New("queue.admission_poll_interval_ms must not exceed queue.admission_max_wait_ms")
	}
	return nil
}

func (c *Config) validateWorkers() error {
	if c.Workers.MaxPerKind <= 0 {
		return errors.New("workers.max_per_kind must be positive")
	}
	if c.Queue.MaxConcurrent > 2*c.Workers.MaxPerKind {
		return errors.New("queue.max_concurrent must not exceed total worker capacity (2 kinds x workers.max_per_kind)")
	}
	return nil
}

func (c *Config) validateMemory() error {
	if c.Memory.ReclaimThreshold <= 0 || c.Memory.ReclaimThreshold >= 1 {
		return errors.New("memory.reclaim_threshold must be between 0 and 1 exclusive")
	}
	return nil
}

func (c *Config) validateEngine() error {
	if strings.TrimSpace(c.Engine.Binary) == "" {
		return errors.New("engine.binary must be set")
	}
	if c.Engine.TimeoutSeconds <= 0 {
		return errors.New("engine.timeout_seconds must be positive")
	}
	return nil
}

func (c *Config) validateOutput() error {
	if _, ok := validOutputFormats[c.Output.Format]; !ok {
		return fmt.Errorf("output.format must be one of jpeg, png, webp (got %q)", c.Output.Format)
	}
	if c.Output.Quality < 1 || c.Output.Quality > 100 {
		return errors.New("output.quality must be between 1 and 100")
	}
	return nil
}

func (c *Config) validateDaemon() error {
	if c.Daemon.WatchPollInterval <= 0 {
		return errors.New("daemon.watch_poll_interval must be positive (seconds)")
	}
	if c.Daemon.MediaMonitor && strings.TrimSpace(c.Daemon.MediaMountBase) == "" {
		return errors.New("daemon.media_mount_base must be set when daemon.media_monitor is true")
	}
	return nil
}

func (c *Config) validateNotifications() error {
	if c.Notifications.NtfyTopic != "" && c.Notifications.RequestTimeout <= 0 {
		return errors.New("notifications.request_timeout must be positive")
	}
	if c.Notifications.DedupWindowSeconds < 0 {
		return errors.New("notifications.dedup_window_seconds must be >= 0")
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
