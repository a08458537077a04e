package config

const (
	defaultDataDir                 = "~/.local/share/carousel"
	defaultOutputDir               = "~/pictures/converted"
	defaultWorkDir                 = "~/.local/share/carousel/work"
	defaultLogDir                  = "~/.local/share/carousel/logs"
	defaultAPIBind                 = "127.0.0.1:7485"
	defaultMaxConcurrent           = 2
	defaultMaxRetries              = 3
	defaultRetryDelayMs            = 1000
	defaultMaxBatchFiles           = 100
	defaultAdmissionMaxWaitMs      = 30000
	defaultAdmissionPollIntervalMs = 250
	defaultCancelGraceTimeoutMs    = 10000
	defaultWorkersMaxPerKind       = 4
	defaultReclaimThreshold        = 0.8
	defaultEngineBinary            = "heifcvt"
	defaultEngineTimeoutSeconds    = 300
	defaultOutputFormat            = "jpeg"
	defaultOutputQuality           = 90
	defaultNotifyRequestTimeout    = 10
	defaultNotifyDedupWindow       = 600
	defaultWatchPollInterval       = 5
	defaultMediaMountBase          = "/run/media"
	defaultHistoryRetentionDays    = 60
	defaultLogFormat               = "console"
	defaultLogLevel                = "info"
	defaultLogRetentionDays        = 60
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir:   defaultDataDir,
			OutputDir: defaultOutputDir,
			WorkDir:   defaultWorkDir,
			LogDir:    defaultLogDir,
			APIBind:   defaultAPIBind,
		},
		Queue: Queue{
			MaxConcurrent:           defaultMaxConcurrent,
			MaxRetries:              defaultMaxRetries,
			RetryDelayMs:            defaultRetryDelayMs,
			MaxBatchFiles:           defaultMaxBatchFiles,
			AdmissionMaxWaitMs:      defaultAdmissionMaxWaitMs,
			AdmissionPollIntervalMs: defaultAdmissionPollIntervalMs,
			CancelGraceTimeoutMs:    defaultCancelGraceTimeoutMs,
		},
		Workers: Workers{
			MaxPerKind: defaultWorkersMaxPerKind,
		},
		Memory: Memory{
			ReclaimThreshold: defaultReclaimThreshold,
		},
		Engine: Engine{
			Binary:         defaultEngineBinary,
			TimeoutSeconds: defaultEngineTimeoutSeconds,
		},
		Output: Output{
			Format:             defaultOutputFormat,
			Quality:            defaultOutputQuality,
			PreserveMetadata:   true,
			NormalizeFilenames: true,
		},
		Notifications: Notifications{
			RequestTimeout:     defaultNotifyRequestTimeout,
			TaskComplete:       true,
			TaskFailed:         true,
			BatchComplete:      true,
			QueuePaused:        false,
			PoolDegraded:       true,
			DedupWindowSeconds: defaultNotifyDedupWindow,
		},
		Daemon: Daemon{
			WatchPollInterval: defaultWatchPollInterval,
			MediaMountBase:    defaultMediaMountBase,
		},
		History: History{
			Enabled:       true,
			RetentionDays: defaultHistoryRetentionDays,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}
