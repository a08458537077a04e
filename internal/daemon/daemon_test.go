package daemon_test

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"carousel/internal/config"
	"carousel/internal/convert"
	"carousel/internal/daemon"
	"carousel/internal/history"
	"carousel/internal/logging"
	"carousel/internal/notifications"
	"carousel/internal/queue"
	"carousel/internal/task"
	"carousel/internal/testsupport"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()

	cfg := testsupport.NewConfig(t)
	cfg.Queue.MaxConcurrent = 2
	cfg.Queue.RetryDelayMs = 10
	return cfg
}

func newTestQueue(t *testing.T, cfg *config.Config) *queue.Queue {
	t.Helper()

	q := queue.New(cfg, logging.NewNop(), queue.WithEngineFactory(func() (convert.Engine, error) {
		return &testsupport.StubEngine{}, nil
	}))
	t.Cleanup(func() { _ = q.Destroy() })
	return q
}

func newTestDaemon(t *testing.T, cfg *config.Config, journal *history.Store, notifier notifications.Service) *daemon.Daemon {
	t.Helper()

	d, err := daemon.New(cfg, logging.NewNop(), newTestQueue(t, cfg), journal, notifier)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })
	return d
}

// captureNotifier records published notifications and signals arrivals.
type captureNotifier struct {
	mu       sync.Mutex
	events   []notifications.Event
	payloads []notifications.Payload
	ch       chan notifications.Event
}

func newCaptureNotifier() *captureNotifier {
	return &captureNotifier{ch: make(chan notifications.Event, 16)}
}

func (c *captureNotifier) Publish(_ context.Context, event notifications.Event, payload notifications.Payload) error {
	c.mu.Lock()
	c.events = append(c.events, event)
	c.payloads = append(c.payloads, payload)
	c.mu.Unlock()
	c.ch <- event
	return nil
}

func (c *captureNotifier) seen(want notifications.Event) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, event := range c.events {
		if event == want {
			return true
		}
	}
	return false
}

func (c *captureNotifier) wait(t *testing.T, want notifications.Event) notifications.Payload {
	t.Helper()

	timeout := time.After(10 * time.Second)
	for {
		select {
		case event := <-c.ch:
			if event != want {
				continue
			}
			c.mu.Lock()
			defer c.mu.Unlock()
			for i := len(c.events) - 1; i >= 0; i-- {
				if c.events[i] == want {
					return c.payloads[i]
				}
			}
			t.Fatalf("event %s signalled but not recorded", want)
		case <-timeout:
			t.Fatalf("timed out waiting for notification %s", want)
		}
	}
}

func sourceFile(t *testing.T, cfg *config.Config, name string, size int64) string {
	t.Helper()

	path := filepath.Join(testsupport.BaseDir(cfg), "sources", name)
	testsupport.WriteFile(t, path, size)
	return path
}

func TestDaemonStartStop(t *testing.T) {
	cfg := testConfig(t)
	d := newTestDaemon(t, cfg, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	info := d.Info()
	if !info.Running {
		t.Fatal("expected daemon to report running")
	}
	if info.StartedAt.IsZero() {
		t.Fatal("expected StartedAt to be set while running")
	}
	if info.PID <= 0 {
		t.Fatalf("unexpected pid %d", info.PID)
	}

	if err := d.Start(ctx); err == nil {
		t.Fatal("expected second start to fail")
	}

	d.Stop()
	info = d.Info()
	if info.Running {
		t.Fatal("expected daemon to be stopped")
	}

	// Stop is idempotent.
	d.Stop()
}

func TestDaemonLockPreventsSecondInstance(t *testing.T) {
	cfg := testConfig(t)
	first := newTestDaemon(t, cfg, nil, nil)
	second := newTestDaemon(t, cfg, nil, nil)

	ctx := context.Background()
	if err := first.Start(ctx); err != nil {
		t.Fatalf("first Start: %v", err)
	}

	err := second.Start(ctx)
	if err == nil {
		t.Fatal("expected second instance start to fail while lock is held")
	}
	if !strings.Contains(err.Error(), "already running") {
		t.Fatalf("unexpected error: %v", err)
	}

	first.Stop()
	if err := second.Start(ctx); err != nil {
		t.Fatalf("second instance start after release: %v", err)
	}
	second.Stop()
}

func TestDaemonSubmitValidation(t *testing.T) {
	cfg := testConfig(t)
	d := newTestDaemon(t, cfg, nil, nil)

	if _, err := d.Submit("   ", task.Options{}, 0); err == nil {
		t.Fatal("expected error for empty path")
	}
	if _, err := d.Submit(filepath.Join(testsupport.BaseDir(cfg), "missing.heic"), task.Options{}, 0); err == nil {
		t.Fatal("expected error for missing file")
	}
	if _, err := d.Submit(testsupport.BaseDir(cfg), task.Options{}, 0); err == nil {
		t.Fatal("expected error for directory path")
	}

	png := sourceFile(t, cfg, "photo.png", 256)
	if _, err := d.Submit(png, task.Options{}, 0); err == nil {
		t.Fatal("expected error for unsupported extension")
	}

	heic := sourceFile(t, cfg, "photo.heic", 2048)
	id, err := d.Submit(heic, task.Options{}, 0)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if id == "" {
		t.Fatal("expected task id")
	}
	summary, ok := d.Task(id)
	if !ok {
		t.Fatalf("task %s not found", id)
	}
	if summary.Kind != task.KindSingle {
		t.Fatalf("kind = %s, want single", summary.Kind)
	}
}

func TestDaemonSubmitBatchExpandsDirectory(t *testing.T) {
	cfg := testConfig(t)
	d := newTestDaemon(t, cfg, nil, nil)

	dir := filepath.Join(testsupport.BaseDir(cfg), "import")
	testsupport.WriteFile(t, filepath.Join(dir, "a.heic"), 512)
	testsupport.WriteFile(t, filepath.Join(dir, "b.HEIF"), 512)
	testsupport.WriteFile(t, filepath.Join(dir, "notes.txt"), 64)
	testsupport.WriteFile(t, filepath.Join(dir, ".hidden.heic"), 512)
	testsupport.WriteFile(t, filepath.Join(dir, "nested", "c.heic"), 512)

	id, err := d.SubmitBatch([]string{dir}, task.Options{}, 0)
	if err != nil {
		t.Fatalf("SubmitBatch: %v", err)
	}
	summary, ok := d.Task(id)
	if !ok {
		t.Fatalf("task %s not found", id)
	}
	if summary.Kind != task.KindBatch {
		t.Fatalf("kind = %s, want batch", summary.Kind)
	}
	if summary.Files != 3 {
		t.Fatalf("files = %d, want 3", summary.Files)
	}
}

func TestDaemonSubmitBatchRejectsEmptyExpansion(t *testing.T) {
	cfg := testConfig(t)
	d := newTestDaemon(t, cfg, nil, nil)

	dir := filepath.Join(testsupport.BaseDir(cfg), "empty")
	testsupport.WriteFile(t, filepath.Join(dir, "readme.txt"), 64)

	if _, err := d.SubmitBatch([]string{dir}, task.Options{}, 0); err == nil {
		t.Fatal("expected error for directory without convertible files")
	}
	if _, err := d.SubmitBatch(nil, task.Options{}, 0); err == nil {
		t.Fatal("expected error for empty submission")
	}
}

func TestDaemonCancel(t *testing.T) {
	cfg := testConfig(t)
	d := newTestDaemon(t, cfg, nil, nil)

	if _, err := d.Cancel(""); err == nil {
		t.Fatal("expected error for empty task id")
	}
	cancelled, err := d.Cancel("no-such-task")
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if cancelled {
		t.Fatal("expected unknown task to report not cancelled")
	}
}

func TestDaemonJournalsTerminalEvents(t *testing.T) {
	cfg := testConfig(t)
	journal, err := history.Open(cfg.HistoryPath())
	if err != nil {
		t.Fatalf("history.Open: %v", err)
	}
	d := newTestDaemon(t, cfg, journal, nil)

	ctx := context.Background()
	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer d.Stop()

	heic := sourceFile(t, cfg, "journal.heic", 4096)
	id, err := d.Submit(heic, task.Options{}, 0)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	entry := waitForEntry(t, d, id)
	if entry.State != task.StateCompleted {
		t.Fatalf("state = %s, want completed", entry.State)
	}
	if entry.Kind != task.KindSingle {
		t.Fatalf("kind = %s, want single", entry.Kind)
	}
	if entry.OutputPath == "" {
		t.Fatal("expected output path in journal entry")
	}
}

func waitForEntry(t *testing.T, d *daemon.Daemon, taskID string) *history.Entry {
	t.Helper()

	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		entry, err := d.HistoryByTask(context.Background(), taskID)
		if err != nil {
			t.Fatalf("HistoryByTask: %v", err)
		}
		if entry != nil {
			return entry
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("no journal entry for task %s", taskID)
	return nil
}

func TestDaemonNotifiesOnCompletion(t *testing.T) {
	cfg := testConfig(t)
	notifier := newCaptureNotifier()
	d := newTestDaemon(t, cfg, nil, notifier)

	ctx := context.Background()
	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer d.Stop()

	heic := sourceFile(t, cfg, "notify.heic", 4096)
	if _, err := d.Submit(heic, task.Options{}, 0); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	payload := notifier.wait(t, notifications.EventTaskCompleted)
	if payload["name"] != "notify.heic" {
		t.Fatalf("payload name = %q, want notify.heic", payload["name"])
	}
	if payload["output"] == "" {
		t.Fatal("expected output path in payload")
	}
}

func TestDaemonNotifiesOnBatchCompletion(t *testing.T) {
	cfg := testConfig(t)
	notifier := newCaptureNotifier()
	d := newTestDaemon(t, cfg, nil, notifier)

	ctx := context.Background()
	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer d.Stop()

	paths := []string{
		sourceFile(t, cfg, "batch-1.heic", 1024),
		sourceFile(t, cfg, "batch-2.heic", 1024),
	}
	if _, err := d.SubmitBatch(paths, task.Options{}, 0); err != nil {
		t.Fatalf("SubmitBatch: %v", err)
	}

	payload := notifier.wait(t, notifications.EventBatchCompleted)
	if payload["succeeded"] != "2" {
		t.Fatalf("payload succeeded = %q, want 2", payload["succeeded"])
	}
	if payload["failed"] != "0" {
		t.Fatalf("payload failed = %q, want 0", payload["failed"])
	}
}

func TestDaemonNotifiesOnDegradedPool(t *testing.T) {
	cfg := testConfig(t)
	q := queue.New(cfg, logging.NewNop(), queue.WithEngineFactory(func() (convert.Engine, error) {
		return nil, errors.New("heifcvt binary missing")
	}))
	t.Cleanup(func() { _ = q.Destroy() })

	notifier := newCaptureNotifier()
	d, err := daemon.New(cfg, logging.NewNop(), q, nil, notifier)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })

	ctx := context.Background()
	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer d.Stop()

	heic := sourceFile(t, cfg, "doomed.heic", 1024)
	if _, err := d.Submit(heic, task.Options{}, 0); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	// Every attempt fails to spawn a worker, so by the time retries are
	// spent the single pool has crossed its degraded threshold.
	payload := notifier.wait(t, notifications.EventPoolDegraded)
	if payload["kind"] != string(task.KindSingle) {
		t.Fatalf("payload kind = %q, want %s", payload["kind"], task.KindSingle)
	}

	// The failure notification is published from its own goroutine, so
	// poll the record instead of draining the signal channel twice.
	deadline := time.Now().Add(10 * time.Second)
	for !notifier.seen(notifications.EventTaskFailed) {
		if time.Now().After(deadline) {
			t.Fatal("no task_failed notification for the doomed task")
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestDaemonPausePublishesNotification(t *testing.T) {
	cfg := testConfig(t)
	notifier := newCaptureNotifier()
	d := newTestDaemon(t, cfg, nil, notifier)

	if err := d.Pause("maintenance window"); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	payload := notifier.wait(t, notifications.EventQueuePaused)
	if payload["reason"] != "maintenance window" {
		t.Fatalf("payload reason = %q", payload["reason"])
	}
	if state := d.QueueStatus().State; state != queue.StatePaused {
		t.Fatalf("queue state = %s, want paused", state)
	}

	if err := d.Resume(); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if state := d.QueueStatus().State; state != queue.StateRunning {
		t.Fatalf("queue state = %s, want running", state)
	}
}

func TestDaemonHistoryDisabled(t *testing.T) {
	cfg := testConfig(t)
	d := newTestDaemon(t, cfg, nil, nil)

	ctx := context.Background()
	if _, err := d.HistoryList(ctx, history.Filter{}); !errors.Is(err, daemon.ErrHistoryDisabled) {
		t.Fatalf("HistoryList err = %v, want ErrHistoryDisabled", err)
	}
	if _, err := d.HistoryStats(ctx); !errors.Is(err, daemon.ErrHistoryDisabled) {
		t.Fatalf("HistoryStats err = %v, want ErrHistoryDisabled", err)
	}
	if _, err := d.HistoryPrune(ctx, time.Now()); !errors.Is(err, daemon.ErrHistoryDisabled) {
		t.Fatalf("HistoryPrune err = %v, want ErrHistoryDisabled", err)
	}
	if err := d.HistoryClear(ctx); !errors.Is(err, daemon.ErrHistoryDisabled) {
		t.Fatalf("HistoryClear err = %v, want ErrHistoryDisabled", err)
	}
	if _, err := d.HistoryByTask(ctx, "x"); !errors.Is(err, daemon.ErrHistoryDisabled) {
		t.Fatalf("HistoryByTask err = %v, want ErrHistoryDisabled", err)
	}
}

func TestDaemonTestNotification(t *testing.T) {
	cfg := testConfig(t)
	notifier := newCaptureNotifier()
	d := newTestDaemon(t, cfg, nil, notifier)

	sent, msg, err := d.TestNotification(context.Background())
	if err != nil {
		t.Fatalf("TestNotification: %v", err)
	}
	if sent {
		t.Fatal("expected no send without a configured topic")
	}
	if msg != "ntfy topic not configured" {
		t.Fatalf("message = %q", msg)
	}

	cfg.Notifications.NtfyTopic = "carousel-test"
	sent, msg, err = d.TestNotification(context.Background())
	if err != nil {
		t.Fatalf("TestNotification: %v", err)
	}
	if !sent {
		t.Fatalf("expected send, got message %q", msg)
	}
	notifier.wait(t, notifications.EventTest)
}

func TestDaemonInfoPaths(t *testing.T) {
	cfg := testConfig(t)
	journal, err := history.Open(cfg.HistoryPath())
	if err != nil {
		t.Fatalf("history.Open: %v", err)
	}
	d := newTestDaemon(t, cfg, journal, nil)

	info := d.Info()
	if info.LockPath != cfg.LockPath() {
		t.Fatalf("lock path = %q, want %q", info.LockPath, cfg.LockPath())
	}
	if want := filepath.Join(cfg.Paths.LogDir, "carousel.log"); info.LogPath != want {
		t.Fatalf("log path = %q, want %q", info.LogPath, want)
	}
	if info.HistoryPath != cfg.HistoryPath() {
		t.Fatalf("history path = %q, want %q", info.HistoryPath, cfg.HistoryPath())
	}
	if info.LogPath != d.LogPath() {
		t.Fatalf("LogPath() = %q, info %q", d.LogPath(), info.LogPath)
	}
}

func TestDaemonCloseJournalsCancelledTasks(t *testing.T) {
	cfg := testConfig(t)
	journal, err := history.Open(cfg.HistoryPath())
	if err != nil {
		t.Fatalf("history.Open: %v", err)
	}

	q := queue.New(cfg, logging.NewNop(), queue.WithEngineFactory(func() (convert.Engine, error) {
		return &testsupport.StubEngine{OnConvert: func(ctx context.Context, call int, req convert.Request) error {
			<-ctx.Done()
			return ctx.Err()
		}}, nil
	}))
	d, err := daemon.New(cfg, logging.NewNop(), q, journal, nil)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}

	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	heic := sourceFile(t, cfg, "hung.heic", 2048)
	id, err := d.Submit(heic, task.Options{}, 0)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	if err := d.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	store, err := history.Open(cfg.HistoryPath())
	if err != nil {
		t.Fatalf("reopen history: %v", err)
	}
	defer store.Close()
	entry, err := store.ByTaskID(context.Background(), id)
	if err != nil {
		t.Fatalf("ByTaskID: %v", err)
	}
	if entry == nil {
		t.Fatal("expected shutdown-cancelled task in journal")
	}
	if entry.State != task.StateCancelled {
		t.Fatalf("state = %s, want cancelled", entry.State)
	}
}

func TestDaemonRequiresConfigAndQueue(t *testing.T) {
	cfg := testConfig(t)
	if _, err := daemon.New(nil, nil, newTestQueue(t, cfg), nil, nil); err == nil {
		t.Fatal("expected error for nil config")
	}
	if _, err := daemon.New(cfg, nil, nil, nil, nil); err == nil {
		t.Fatal("expected error for nil queue")
	}
}
