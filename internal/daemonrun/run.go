// Package daemonrun assembles and runs the carousel daemon process. It owns
// the pieces that exist once per daemon: signal handling, the per-run log
// file, the pid file, the history journal, and the IPC control socket.
package daemonrun

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"carousel/internal/config"
	"carousel/internal/daemon"
	"carousel/internal/deps"
	"carousel/internal/history"
	"carousel/internal/ipc"
	"carousel/internal/logging"
	"carousel/internal/notifications"
	"carousel/internal/preflight"
	"carousel/internal/queue"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel    string
	Development bool
}

// Run boots the carousel daemon and blocks until the context is cancelled or
// the process receives SIGINT or SIGTERM.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	runID := time.Now().UTC().Format("20060102T150405.000Z")
	logPath := filepath.Join(cfg.Paths.LogDir, fmt.Sprintf("carousel-%s.log", runID))
	logger, err := logging.New(logging.Options{
		Level:            opts.LogLevel,
		Format:           cfg.Logging.Format,
		OutputPaths:      []string{"stdout", logPath},
		ErrorOutputPaths: []string{"stderr", logPath},
		Development:      opts.Development,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	logDependencySnapshot(logger, cfg)
	for _, check := range preflight.RunAll(signalCtx, cfg) {
		if check.Passed {
			continue
		}
		logger.Warn("readiness check failed",
			logging.String(logging.FieldEventType, "preflight_failed"),
			logging.String("check", check.Name),
			logging.String("detail", check.Detail),
			logging.String(logging.FieldErrorHint, "fix the reported path or binary and restart"),
		)
	}
	if err := ensureCurrentLogPointer(cfg.Paths.LogDir, logPath); err != nil {
		fmt.Fprintf(os.Stderr, "warn: unable to update carousel.log link: %v\n", err)
	}
	logging.CleanupOldLogs(logger, cfg.Logging.RetentionDays,
		logging.RetentionTarget{Dir: cfg.Paths.LogDir, Pattern: "carousel-*.log", Exclude: []string{logPath}},
	)

	pidPath := cfg.PIDPath()
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	journal := openJournal(signalCtx, cfg, logger)
	notifier := notifications.NewService(cfg)
	q := queue.New(cfg, logger)

	d, err := daemon.New(cfg, logger, q, journal, notifier)
	if err != nil {
		_ = q.Destroy()
		if journal != nil {
			_ = journal.Close()
		}
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	ipcServer, err := ipc.NewServer(signalCtx, cfg, d, logger)
	if err != nil {
		return fmt.Errorf("start control server: %w", err)
	}
	defer ipcServer.Close()
	ipcServer.Serve()

	if err := d.Start(signalCtx); err != nil {
		logger.Warn("daemon start failed",
			logging.Error(err),
			logging.String(logging.FieldEventType, "daemon_start_failed"),
			logging.String(logging.FieldErrorHint, "check lock file access and directory permissions"),
			logging.String(logging.FieldImpact, "daemon will not process conversion tasks"),
		)
	}

	<-signalCtx.Done()
	logger.Info("carousel daemon shutting down")
	return nil
}

// openJournal opens the history store when the journal is enabled and prunes
// entries past the retention window. Failures degrade to a nil store so the
// daemon still runs; history operations then report the journal as disabled.
func openJournal(ctx context.Context, cfg *config.Config, logger *slog.Logger) *history.Store {
	if !cfg.History.Enabled {
		return nil
	}
	journal, err := history.Open(cfg.HistoryPath())
	if err != nil {
		logging.WarnWithContext(logger, "history journal unavailable", "history_open_failed",
			logging.String("path", cfg.HistoryPath()),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check data_dir permissions or history.path"),
			logging.String(logging.FieldImpact, "finished tasks will not be recorded"),
		)
		return nil
	}
	if days := cfg.History.RetentionDays; days > 0 {
		removed, err := journal.Prune(ctx, time.Now().AddDate(0, 0, -days))
		switch {
		case err != nil:
			logger.Warn("history retention prune failed", logging.Error(err))
		case removed > 0:
			logger.Info("history pruned",
				logging.Int64("removed", removed),
				logging.Int("retention_days", days),
				logging.String(logging.FieldEventType, "history_pruned"),
			)
		}
	}
	return journal
}

func logDependencySnapshot(logger *slog.Logger, cfg *config.Config) {
	if logger == nil || cfg == nil {
		return
	}
	engine := deps.CheckEngine(cfg.Engine.Binary)
	logger.Info("dependency snapshot",
		logging.String(logging.FieldEventType, "dependency_snapshot"),
		logging.Bool("engine_available", engine.Available),
		logging.String("engine_binary", engine.Command),
		logging.Bool("ntfy_configured", strings.TrimSpace(cfg.Notifications.NtfyTopic) != ""),
		logging.Bool("history_enabled", cfg.History.Enabled),
		logging.Bool("watch_enabled", strings.TrimSpace(cfg.Paths.WatchDir) != ""),
		logging.Bool("media_monitor", cfg.Daemon.MediaMonitor),
	)
}

// ensureCurrentLogPointer repoints <log_dir>/carousel.log at the current
// per-run log file. Filesystems without symlink support fall back to a hard
// link.
func ensureCurrentLogPointer(logDir, target string) error {
	if logDir == "" || target == "" {
		return nil
	}
	current := filepath.Join(logDir, "carousel.log")
	if err := os.Remove(current); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove existing log pointer: %w", err)
	}
	if err := os.Symlink(target, current); err == nil {
		return nil
	}
	if err := os.Link(target, current); err != nil {
		return fmt.Errorf("link log pointer: %w", err)
	}
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}
