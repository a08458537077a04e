package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"log/slog"

	"github.com/gofrs/flock"

	"carousel/internal/config"
	"carousel/internal/history"
	"carousel/internal/logging"
	"carousel/internal/notifications"
	"carousel/internal/queue"
	"carousel/internal/task"
)

// ErrHistoryDisabled is returned by history operations when the daemon runs
// without a journal.
var ErrHistoryDisabled = errors.New("history journal disabled")

// Daemon coordinates the background services and enforces single-instance
// execution.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	queue    *queue.Queue
	journal  *history.Store
	notifier notifications.Service

	watch *watchMonitor
	media *mediaMonitor
	api   *apiServer
	subs  []*queue.Subscription

	logPath  string
	lockPath string
	lock     *flock.Flock

	startedAt time.Time
	running   atomic.Bool
	ctx       context.Context
	cancel    context.CancelFunc
}

// Info reports daemon runtime state for status surfaces.
type Info struct {
	Running         bool      `json:"running"`
	PID             int       `json:"pid"`
	StartedAt       time.Time `json:"startedAt,omitzero"`
	LockPath        string    `json:"lockPath"`
	LogPath         string    `json:"logPath"`
	HistoryPath     string    `json:"historyPath,omitempty"`
	WatchDir        string    `json:"watchDir,omitempty"`
	Watching        bool      `json:"watching"`
	MediaMonitoring bool      `json:"mediaMonitoring"`
	APIAddr         string    `json:"apiAddr,omitempty"`
}

// New constructs a daemon with initialized dependencies. The journal may be
// nil when history is disabled; a nil notifier falls back to the service the
// configuration describes.
func New(cfg *config.Config, logger *slog.Logger, q *queue.Queue, journal *history.Store, notifier notifications.Service) (*Daemon, error) {
	if cfg == nil || q == nil {
		return nil, errors.New("daemon requires config and queue")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	if notifier == nil {
		notifier = notifications.NewService(cfg)
	}

	d := &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		queue:    q,
		journal:  journal,
		notifier: notifier,
		logPath:  filepath.Join(cfg.Paths.LogDir, "carousel.log"),
		lockPath: cfg.LockPath(),
		lock:     flock.New(cfg.LockPath()),
	}
	d.watch = newWatchMonitor(cfg, logger, d.submitWatched, d.queuePaused)
	d.media = newMediaMonitor(cfg, logger, d.submitMedia, d.queuePaused)
	d.api = newAPIServer(cfg, d, logger)
	return d, nil
}

// Start acquires the daemon lock, attaches the event bridges, and launches
// the configured monitors.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	if err := os.MkdirAll(filepath.Dir(d.lockPath), 0o755); err != nil {
		return fmt.Errorf("create lock directory: %w", err)
	}
	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another carousel daemon instance is already running")
	}

	d.ctx, d.cancel = context.WithCancel(ctx)
	d.subscribeBridges()
	if d.watch != nil {
		if err := d.watch.Start(d.ctx); err != nil {
			d.unsubscribeBridges()
			_ = d.lock.Unlock()
			d.cancel()
			d.ctx = nil
			d.cancel = nil
			return fmt.Errorf("start watch monitor: %w", err)
		}
	}
	if d.media != nil {
		_ = d.media.Start(d.ctx)
	}
	if d.api != nil {
		if err := d.api.start(d.ctx); err != nil {
			d.logger.Warn("api server unavailable", logging.Error(err))
		}
	}

	d.startedAt = time.Now().UTC()
	d.running.Store(true)
	d.logger.Info("carousel daemon started",
		logging.String("lock", d.lockPath),
		logging.String(logging.FieldEventType, "daemon_started"),
	)
	return nil
}

// Stop halts the monitors, detaches the event bridges, and releases the
// daemon lock. The queue keeps accepting work until Close.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	if d.watch != nil {
		d.watch.Stop()
	}
	if d.media != nil {
		d.media.Stop()
	}
	d.api.stop()
	d.unsubscribeBridges()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.ctx = nil
	d.running.Store(false)
	d.logger.Info("carousel daemon stopped",
		logging.String(logging.FieldEventType, "daemon_stopped"),
	)
}

// Close drains the queue, stops the daemon, and closes the history journal.
// The queue is destroyed before the bridges detach so tasks cancelled by
// shutdown still reach the journal.
func (d *Daemon) Close() error {
	var errs []error
	if d.queue != nil {
		if err := d.queue.Destroy(); err != nil {
			errs = append(errs, err)
		}
	}
	d.Stop()
	if d.journal != nil {
		if err := d.journal.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Pause suspends dispatch of queued tasks. Running conversions finish.
func (d *Daemon) Pause(reason string) error {
	if err := d.queue.Pause(); err != nil {
		return err
	}
	d.notifyQueuePaused(reason)
	return nil
}

// Resume restarts dispatch of queued tasks.
func (d *Daemon) Resume() error {
	return d.queue.Resume()
}

// Cancel requests cancellation of one task.
func (d *Daemon) Cancel(taskID string) (bool, error) {
	taskID = strings.TrimSpace(taskID)
	if taskID == "" {
		return false, errors.New("task id is required")
	}
	return d.queue.Cancel(taskID)
}

// CancelAll cancels every queued and running task.
func (d *Daemon) CancelAll() (int, error) {
	return d.queue.CancelAll()
}

// QueueStatus returns a snapshot of the queue and everything it owns.
func (d *Daemon) QueueStatus() queue.QueueStatus {
	return d.queue.Status()
}

// Task looks up one live or recently finished task.
func (d *Daemon) Task(taskID string) (queue.TaskSummary, bool) {
	return d.queue.Task(taskID)
}

// Subscribe registers a handler for queue events. Used by the API event
// stream; handlers run on the queue dispatcher goroutine.
func (d *Daemon) Subscribe(kind queue.EventKind, handler queue.Handler) (*queue.Subscription, error) {
	return d.queue.Subscribe(kind, handler)
}

// HistoryList returns journal entries matching the filter.
func (d *Daemon) HistoryList(ctx context.Context, filter history.Filter) ([]history.Entry, error) {
	if d.journal == nil {
		return nil, ErrHistoryDisabled
	}
	return d.journal.List(ctx, filter)
}

// HistoryByTask returns the most recent journal entry for a task, or nil
// when the task never reached a terminal state.
func (d *Daemon) HistoryByTask(ctx context.Context, taskID string) (*history.Entry, error) {
	if d.journal == nil {
		return nil, ErrHistoryDisabled
	}
	return d.journal.ByTaskID(ctx, taskID)
}

// HistoryStats returns aggregate journal statistics.
func (d *Daemon) HistoryStats(ctx context.Context) (history.Stats, error) {
	if d.journal == nil {
		return history.Stats{}, ErrHistoryDisabled
	}
	return d.journal.Stats(ctx)
}

// HistoryPrune removes journal entries recorded before the cutoff.
func (d *Daemon) HistoryPrune(ctx context.Context, olderThan time.Time) (int64, error) {
	if d.journal == nil {
		return 0, ErrHistoryDisabled
	}
	return d.journal.Prune(ctx, olderThan)
}

// HistoryClear removes every journal entry.
func (d *Daemon) HistoryClear(ctx context.Context) error {
	if d.journal == nil {
		return ErrHistoryDisabled
	}
	return d.journal.Clear(ctx)
}

// TestNotification sends a test push through the configured service.
func (d *Daemon) TestNotification(ctx context.Context) (bool, string, error) {
	if strings.TrimSpace(d.cfg.Notifications.NtfyTopic) == "" {
		return false, "ntfy topic not configured", nil
	}
	if err := d.notifier.Publish(ctx, notifications.EventTest, nil); err != nil {
		return false, "failed to send notification", err
	}
	return true, "test notification sent", nil
}

// LogPath returns the path to the daemon log file.
func (d *Daemon) LogPath() string {
	return d.logPath
}

// Info returns the current daemon runtime information.
func (d *Daemon) Info() Info {
	info := Info{
		Running:         d.running.Load(),
		PID:             os.Getpid(),
		LockPath:        d.lockPath,
		LogPath:         d.logPath,
		WatchDir:        d.cfg.Paths.WatchDir,
		Watching:        d.watch.Running(),
		MediaMonitoring: d.media.Running(),
		APIAddr:         d.api.Addr(),
	}
	if info.Running {
		info.StartedAt = d.startedAt
	}
	if d.journal != nil {
		info.HistoryPath = d.journal.Path()
	}
	return info
}

func (d *Daemon) submitWatched(path string) (string, error) {
	return d.Submit(path, task.Options{}, 0)
}

func (d *Daemon) submitMedia(files []task.FilePayload) (string, error) {
	return d.queue.SubmitBatch(files, task.Options{}, 0)
}

func (d *Daemon) queuePaused() bool {
	return d.queue.Status().State == queue.StatePaused
}
