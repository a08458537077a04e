package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"carousel/internal/config"
	"carousel/internal/logging"
	"carousel/internal/testsupport"
)

type submitRecorder struct {
	mu    sync.Mutex
	paths []string
	err   error
	ch    chan string
}

func newSubmitRecorder() *submitRecorder {
	return &submitRecorder{ch: make(chan string, 16)}
}

func (r *submitRecorder) submit(path string) (string, error) {
	r.mu.Lock()
	if r.err != nil {
		err := r.err
		r.mu.Unlock()
		return "", err
	}
	r.paths = append(r.paths, path)
	id := fmt.Sprintf("task-%d", len(r.paths))
	r.mu.Unlock()

	select {
	case r.ch <- path:
	default:
	}
	return id, nil
}

func (r *submitRecorder) setErr(err error) {
	r.mu.Lock()
	r.err = err
	r.mu.Unlock()
}

func (r *submitRecorder) calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.paths...)
}

func watchConfig(t *testing.T) *config.Config {
	t.Helper()

	cfg := testsupport.NewConfig(t, testsupport.WithWatchDir())
	if err := os.MkdirAll(cfg.Paths.WatchDir, 0o755); err != nil {
		t.Fatalf("mkdir watch dir: %v", err)
	}
	return cfg
}

func newTestWatchMonitor(t *testing.T, cfg *config.Config, rec *submitRecorder) *watchMonitor {
	t.Helper()

	m := newWatchMonitor(cfg, logging.NewNop(), rec.submit, nil)
	if m == nil {
		t.Fatal("expected watch monitor for configured watch dir")
	}
	return m
}

func TestNewWatchMonitorConfig(t *testing.T) {
	rec := newSubmitRecorder()
	if m := newWatchMonitor(nil, logging.NewNop(), rec.submit, nil); m != nil {
		t.Fatal("expected nil monitor for nil config")
	}

	cfg := testsupport.NewConfig(t)
	if m := newWatchMonitor(cfg, logging.NewNop(), rec.submit, nil); m != nil {
		t.Fatal("expected nil monitor without a watch dir")
	}

	cfg = watchConfig(t)
	cfg.Daemon.WatchPollInterval = 2
	m := newTestWatchMonitor(t, cfg, rec)
	if m.pollInterval != 2*time.Second {
		t.Fatalf("poll interval = %s, want 2s", m.pollInterval)
	}

	cfg.Daemon.WatchPollInterval = 0
	m = newTestWatchMonitor(t, cfg, rec)
	if m.pollInterval != 5*time.Second {
		t.Fatalf("poll interval = %s, want 5s fallback", m.pollInterval)
	}
}

func TestWatchMonitorStabilityGate(t *testing.T) {
	cfg := watchConfig(t)
	rec := newSubmitRecorder()
	m := newTestWatchMonitor(t, cfg, rec)

	path := filepath.Join(cfg.Paths.WatchDir, "photo.heic")
	testsupport.WriteFile(t, path, 1024)

	m.poll()
	if n := len(rec.calls()); n != 0 {
		t.Fatalf("submissions after first poll = %d, want 0", n)
	}

	m.poll()
	calls := rec.calls()
	if len(calls) != 1 {
		t.Fatalf("submissions after second poll = %d, want 1", len(calls))
	}
	if calls[0] != path {
		t.Fatalf("submitted %q, want %q", calls[0], path)
	}

	// Already-submitted files stay out of the queue on later polls.
	m.poll()
	if n := len(rec.calls()); n != 1 {
		t.Fatalf("submissions after third poll = %d, want 1", n)
	}
}

func TestWatchMonitorHoldsGrowingFile(t *testing.T) {
	cfg := watchConfig(t)
	rec := newSubmitRecorder()
	m := newTestWatchMonitor(t, cfg, rec)

	path := filepath.Join(cfg.Paths.WatchDir, "copying.heic")
	testsupport.WriteFile(t, path, 1024)
	m.poll()

	// The file grew between polls, so the gate resets.
	testsupport.WriteFile(t, path, 4096)
	m.poll()
	if n := len(rec.calls()); n != 0 {
		t.Fatalf("submissions while growing = %d, want 0", n)
	}

	m.poll()
	if n := len(rec.calls()); n != 1 {
		t.Fatalf("submissions once stable = %d, want 1", n)
	}
}

func TestWatchMonitorSkipsNonConvertible(t *testing.T) {
	cfg := watchConfig(t)
	rec := newSubmitRecorder()
	m := newTestWatchMonitor(t, cfg, rec)

	testsupport.WriteFile(t, filepath.Join(cfg.Paths.WatchDir, "photo.png"), 512)
	testsupport.WriteFile(t, filepath.Join(cfg.Paths.WatchDir, ".partial.heic"), 512)
	testsupport.WriteFile(t, filepath.Join(cfg.Paths.WatchDir, "notes.txt"), 64)
	testsupport.WriteFile(t, filepath.Join(cfg.Paths.WatchDir, "album", "nested.heic"), 512)
	testsupport.WriteFile(t, filepath.Join(cfg.Paths.WatchDir, "keep.HEIF"), 512)

	m.poll()
	m.poll()

	calls := rec.calls()
	if len(calls) != 1 {
		t.Fatalf("submissions = %v, want only keep.HEIF", calls)
	}
	if filepath.Base(calls[0]) != "keep.HEIF" {
		t.Fatalf("submitted %q, want keep.HEIF", calls[0])
	}
}

func TestWatchMonitorPausedSkipsScan(t *testing.T) {
	cfg := watchConfig(t)
	rec := newSubmitRecorder()
	paused := true
	m := newWatchMonitor(cfg, logging.NewNop(), rec.submit, func() bool { return paused })
	if m == nil {
		t.Fatal("expected watch monitor")
	}

	testsupport.WriteFile(t, filepath.Join(cfg.Paths.WatchDir, "photo.heic"), 1024)
	m.poll()
	m.poll()
	if n := len(rec.calls()); n != 0 {
		t.Fatalf("submissions while paused = %d, want 0", n)
	}

	paused = false
	m.poll()
	m.poll()
	if n := len(rec.calls()); n != 1 {
		t.Fatalf("submissions after resume = %d, want 1", n)
	}
}

func TestWatchMonitorRetriesAfterSubmitError(t *testing.T) {
	cfg := watchConfig(t)
	rec := newSubmitRecorder()
	rec.setErr(errors.New("queue full"))
	m := newTestWatchMonitor(t, cfg, rec)

	path := filepath.Join(cfg.Paths.WatchDir, "retry.heic")
	testsupport.WriteFile(t, path, 1024)
	m.poll()
	m.poll()
	if n := len(rec.calls()); n != 0 {
		t.Fatalf("recorded submissions during failure = %d, want 0", n)
	}

	rec.setErr(nil)
	m.poll()
	calls := rec.calls()
	if len(calls) != 1 || calls[0] != path {
		t.Fatalf("submissions after recovery = %v, want [%s]", calls, path)
	}
}

func TestWatchMonitorForgetsRemovedFiles(t *testing.T) {
	cfg := watchConfig(t)
	rec := newSubmitRecorder()
	m := newTestWatchMonitor(t, cfg, rec)

	path := filepath.Join(cfg.Paths.WatchDir, "again.heic")
	testsupport.WriteFile(t, path, 1024)
	m.poll()
	m.poll()
	if n := len(rec.calls()); n != 1 {
		t.Fatalf("initial submissions = %d, want 1", n)
	}

	if err := os.Remove(path); err != nil {
		t.Fatalf("remove: %v", err)
	}
	m.poll()

	// A file re-added after removal goes through the gate again.
	testsupport.WriteFile(t, path, 2048)
	m.poll()
	m.poll()
	if n := len(rec.calls()); n != 2 {
		t.Fatalf("submissions after re-add = %d, want 2", n)
	}
}

func TestWatchMonitorStartStop(t *testing.T) {
	cfg := watchConfig(t)
	cfg.Daemon.WatchPollInterval = 1
	rec := newSubmitRecorder()
	m := newTestWatchMonitor(t, cfg, rec)

	path := filepath.Join(cfg.Paths.WatchDir, "live.heic")
	testsupport.WriteFile(t, path, 1024)

	// Prime the gate so the immediate poll on start submits.
	m.poll()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !m.Running() {
		t.Fatal("expected monitor to report running")
	}
	if err := m.Start(ctx); err == nil {
		t.Fatal("expected second start to fail")
	}

	select {
	case got := <-rec.ch:
		if got != path {
			t.Fatalf("submitted %q, want %q", got, path)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for watch submission")
	}

	m.Stop()
	if m.Running() {
		t.Fatal("expected monitor to stop")
	}
	m.Stop()
}

func TestWatchMonitorNilSafety(t *testing.T) {
	var m *watchMonitor
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("nil Start: %v", err)
	}
	m.Stop()
	if m.Running() {
		t.Fatal("nil monitor reports running")
	}
}
