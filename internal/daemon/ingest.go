package daemon

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"log/slog"

	"carousel/internal/config"
	"carousel/internal/logging"
)

// fileState tracks one candidate file between polls. A file is submitted
// only after two consecutive scans observe the same size and mtime, so a
// half-copied camera dump never enters the queue.
type fileState struct {
	size    int64
	modTime time.Time
}

type watchSubmitFunc func(path string) (string, error)

// watchMonitor polls the configured watch directory and feeds stable
// convertible files into the queue. Submitted paths are remembered until
// they leave the directory, so a finished source sitting next to its
// output is not queued again every poll.
type watchMonitor struct {
	cfg      *config.Config
	logger   *slog.Logger
	submit   watchSubmitFunc
	isPaused func() bool

	dir          string
	pollInterval time.Duration

	mu        sync.Mutex
	running   bool
	pending   map[string]fileState
	submitted map[string]struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newWatchMonitor(cfg *config.Config, logger *slog.Logger, submit watchSubmitFunc, isPaused func() bool) *watchMonitor {
	if cfg == nil {
		return nil
	}

	dir := strings.TrimSpace(cfg.Paths.WatchDir)
	if dir == "" {
		return nil
	}

	poll := time.Duration(cfg.Daemon.WatchPollInterval) * time.Second
	if poll <= 0 {
		poll = 5 * time.Second
	}

	return &watchMonitor{
		cfg:          cfg,
		logger:       logging.NewComponentLogger(logger, "watch-monitor"),
		submit:       submit,
		isPaused:     isPaused,
		dir:          dir,
		pollInterval: poll,
		pending:      make(map[string]fileState),
		submitted:    make(map[string]struct{}),
	}
}

func (m *watchMonitor) Start(ctx context.Context) error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return errors.New("watch monitor already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.ctx = runCtx
	m.cancel = cancel
	m.running = true

	m.wg.Add(1)
	go m.loop()

	m.logger.Info("watch monitor started",
		logging.String("dir", m.dir),
		logging.Duration("poll_interval", m.pollInterval),
		logging.String(logging.FieldEventType, "watch_monitor_started"),
	)
	return nil
}

func (m *watchMonitor) Stop() {
	if m == nil {
		return
	}
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	m.running = false
	m.cancel = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	m.wg.Wait()
}

// Running reports whether the watch monitor is active.
func (m *watchMonitor) Running() bool {
	if m == nil {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *watchMonitor) loop() {
	defer m.wg.Done()

	m.poll()

	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.poll()
		}
	}
}

func (m *watchMonitor) poll() {
	if m.isPaused != nil && m.isPaused() {
		return
	}

	entries, err := os.ReadDir(m.dir)
	if err != nil {
		m.logger.Warn("watch directory scan failed; will retry",
			logging.Error(err),
			logging.String(logging.FieldEventType, "watch_scan_failed"),
			logging.String(logging.FieldErrorHint, "check that watch_dir exists and is readable"),
		)
		return
	}

	seen := make(map[string]struct{}, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") || !IsConvertible(name) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		path := filepath.Join(m.dir, name)
		seen[path] = struct{}{}
		m.observe(path, info)
	}
	m.forget(seen)
}

// observe advances one candidate through the stability gate and submits it
// once two consecutive polls agree on size and mtime.
func (m *watchMonitor) observe(path string, info os.FileInfo) {
	m.mu.Lock()
	if _, done := m.submitted[path]; done {
		m.mu.Unlock()
		return
	}
	state := fileState{size: info.Size(), modTime: info.ModTime()}
	previous, tracked := m.pending[path]
	if !tracked || previous != state {
		m.pending[path] = state
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	id, err := m.submit(path)
	if err != nil {
		m.logger.Warn("watched file submission failed; will retry",
			logging.Error(err),
			logging.String("source", path),
			logging.String(logging.FieldEventType, "watch_submit_failed"),
		)
		return
	}

	m.mu.Lock()
	delete(m.pending, path)
	m.submitted[path] = struct{}{}
	m.mu.Unlock()

	m.logger.Info("watched file queued",
		logging.String(logging.FieldTaskID, id),
		logging.String("source", path),
		logging.Int64("size_bytes", state.size),
	)
}

// forget drops tracking for paths that left the directory so a re-added
// file converts again.
func (m *watchMonitor) forget(seen map[string]struct{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for path := range m.pending {
		if _, ok := seen[path]; !ok {
			delete(m.pending, path)
		}
	}
	for path := range m.submitted {
		if _, ok := seen[path]; !ok {
			delete(m.submitted, path)
		}
	}
}
