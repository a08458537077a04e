package config

import (
	"fmt"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeQueue()
	c.normalizeWorkers()
	c.normalizeMemory()
	c.normalizeEngine()
	c.normalizeOutput()
	c.normalizeNotifications()
	c.normalizeDaemon()
	if err := c.normalizeHistory(); err != nil {
		return err
	}
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if c.Paths.OutputDir, err = expandPath(c.Paths.OutputDir); err != nil {
		return fmt.Errorf("paths.output_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.WorkDir) == "" {
		c.Paths.WorkDir = defaultWorkDir
	}
	if c.Paths.WorkDir, err = expandPath(c.Paths.WorkDir); err != nil {
		return fmt.Errorf("paths.work_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.WatchDir) != "" {
		if c.Paths.WatchDir, err = expandPath(c.Paths.WatchDir); err != nil {
			return fmt.Errorf("paths.watch_dir: %w", err)
		}
	} else {
		c.Paths.WatchDir = ""
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	if c.Paths.APIBind == "" {
		c.Paths.APIBind = defaultAPIBind
	}
	c.Paths.APIToken = strings.TrimSpace(c.Paths.APIToken)
	return nil
}

func (c *Config) normalizeQueue() {
	if c.Queue.MaxConcurrent <= 0 {
		c.Queue.MaxConcurrent = defaultMaxConcurrent
	}
	if c.Queue.MaxRetries < 0 {
		c.Queue.MaxRetries = defaultMaxRetries
	}
	if c.Queue.RetryDelayMs <= 0 {
		c.Queue.RetryDelayMs = defaultRetryDelayMs
	}
	if c.Queue.MaxBatchFiles <= 0 {
		c.Queue.MaxBatchFiles = defaultMaxBatchFiles
	}
	if c.Queue.AdmissionMaxWaitMs <= 0 {
		c.Queue.AdmissionMaxWaitMs = defaultAdmissionMaxWaitMs
	}
	if c.Queue.AdmissionPollIntervalMs <= 0 {
		c.Queue.AdmissionPollIntervalMs = defaultAdmissionPollIntervalMs
	}
	if c.Queue.CancelGraceTimeoutMs <= 0 {
		c.Queue.CancelGraceTimeoutMs = defaultCancelGraceTimeoutMs
	}
}

func (c *Config) normalizeWorkers() {
	if c.Workers.MaxPerKind <= 0 {
		c.Workers.MaxPerKind = defaultWorkersMaxPerKind
	}
}

func (c *Config) normalizeMemory() {
	if c.Memory.CeilingMB < 0 {
		c.Memory.CeilingMB = 0
	}
	if c.Memory.ReclaimThreshold <= 0 || c.Memory.ReclaimThreshold >= 1 {
		c.Memory.ReclaimThreshold = defaultReclaimThreshold
	}
}

func (c *Config) normalizeEngine() {
	c.Engine.Binary = strings.TrimSpace(c.Engine.Binary)
	if c.Engine.Binary == "" {
		c.Engine.Binary = defaultEngineBinary
	}
	if c.Engine.TimeoutSeconds <= 0 {
		c.Engine.TimeoutSeconds = defaultEngineTimeoutSeconds
	}
}

func (c *Config) normalizeOutput() {
	c.Output.Format = strings.ToLower(strings.TrimSpace(c.Output.Format))
	if c.Output.Format == "" {
		c.Output.Format = defaultOutputFormat
	}
	if c.Output.Quality <= 0 || c.Output.Quality > 100 {
		c.Output.Quality = defaultOutputQuality
	}
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.RequestTimeout <= 0 {
		c.Notifications.RequestTimeout = defaultNotifyRequestTimeout
	}
	if c.Notifications.DedupWindowSeconds < 0 {
		c.Notifications.DedupWindowSeconds = 0
	}
}

func (c *Config) normalizeDaemon() {
	if c.Daemon.WatchPollInterval <= 0 {
		c.Daemon.WatchPollInterval = defaultWatchPollInterval
	}
	c.Daemon.MediaMountBase = strings.TrimSpace(c.Daemon.MediaMountBase)
	if c.Daemon.MediaMountBase == "" {
		c.Daemon.MediaMountBase = defaultMediaMountBase
	}
}

func (c *Config) normalizeHistory() error {
	if strings.TrimSpace(c.History.Path) != "" {
		expanded, err := expandPath(c.History.Path)
		if err != nil {
			return fmt.Errorf("history.path: %w", err)
		}
		c.History.Path = expanded
	} else {
		c.History.Path = ""
	}
	if c.History.RetentionDays < 0 {
		c.History.RetentionDays = 0
	}
	return nil
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.RetentionDays < 0 {
		c.Logging.RetentionDays = 0
	}
	if len(c.Logging.ComponentLevels) > 0 {
		cleaned := make(map[string]string, len(c.Logging.ComponentLevels))
		for component, level := range c.Logging.ComponentLevels {
			component = strings.ToLower(strings.TrimSpace(component))
			level = strings.ToLower(strings.TrimSpace(level))
			if component == "" || level == "" {
				continue
			}
			cleaned[component] = level
		}
		c.Logging.ComponentLevels = cleaned
	}
}
