package daemon

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pilebones/go-udev/netlink"

	"carousel/internal/config"
	"carousel/internal/logging"
	"carousel/internal/task"
	"carousel/internal/testsupport"
)

type batchRecorder struct {
	mu      sync.Mutex
	batches [][]task.FilePayload
}

func (r *batchRecorder) submit(files []task.FilePayload) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, files)
	return "batch-1", nil
}

func (r *batchRecorder) all() [][]task.FilePayload {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]task.FilePayload(nil), r.batches...)
}

func mediaConfig(t *testing.T) *config.Config {
	t.Helper()

	cfg := testsupport.NewConfig(t)
	cfg.Daemon.MediaMonitor = true
	return cfg
}

func newTestMediaMonitor(t *testing.T, cfg *config.Config, rec *batchRecorder) *mediaMonitor {
	t.Helper()

	m := newMediaMonitor(cfg, logging.NewNop(), rec.submit, nil)
	if m == nil {
		t.Fatal("expected media monitor when enabled")
	}
	return m
}

func TestNewMediaMonitorDisabled(t *testing.T) {
	rec := &batchRecorder{}
	if m := newMediaMonitor(nil, logging.NewNop(), rec.submit, nil); m != nil {
		t.Fatal("expected nil monitor for nil config")
	}

	cfg := testsupport.NewConfig(t)
	if m := newMediaMonitor(cfg, logging.NewNop(), rec.submit, nil); m != nil {
		t.Fatal("expected nil monitor when media ingestion is off")
	}

	cfg = mediaConfig(t)
	cfg.Daemon.MediaMountBase = ""
	m := newTestMediaMonitor(t, cfg, rec)
	if m.mountBase != "/run/media" {
		t.Fatalf("mount base = %q, want /run/media fallback", m.mountBase)
	}

	cfg.Daemon.MediaMountBase = "/media/alice"
	m = newTestMediaMonitor(t, cfg, rec)
	if m.mountBase != "/media/alice" {
		t.Fatalf("mount base = %q, want /media/alice", m.mountBase)
	}
	if m.batchCap != cfg.Queue.MaxBatchFiles {
		t.Fatalf("batch cap = %d, want %d", m.batchCap, cfg.Queue.MaxBatchFiles)
	}
}

func TestMediaMonitorMatcher(t *testing.T) {
	m := newTestMediaMonitor(t, mediaConfig(t), &batchRecorder{})
	matcher := m.buildMatcher()

	mountable := netlink.UEvent{
		Action: netlink.ADD,
		Env: map[string]string{
			"SUBSYSTEM":   "block",
			"ID_FS_USAGE": "filesystem",
		},
	}
	if !matcher.Evaluate(mountable) {
		t.Error("expected matcher to accept a new mountable filesystem")
	}

	removed := netlink.UEvent{
		Action: netlink.REMOVE,
		Env: map[string]string{
			"SUBSYSTEM":   "block",
			"ID_FS_USAGE": "filesystem",
		},
	}
	if matcher.Evaluate(removed) {
		t.Error("expected matcher to reject remove events")
	}

	noFilesystem := netlink.UEvent{
		Action: netlink.ADD,
		Env: map[string]string{
			"SUBSYSTEM": "block",
		},
	}
	if matcher.Evaluate(noFilesystem) {
		t.Error("expected matcher to reject partitions without a filesystem")
	}
}

func TestExtractDeviceName(t *testing.T) {
	m := newTestMediaMonitor(t, mediaConfig(t), &batchRecorder{})

	got := m.extractDeviceName(netlink.UEvent{
		Action: netlink.ADD,
		Env:    map[string]string{"DEVNAME": "/dev/sdb1"},
	})
	if got != "/dev/sdb1" {
		t.Errorf("devname = %q, want /dev/sdb1", got)
	}

	got = m.extractDeviceName(netlink.UEvent{
		Action: netlink.ADD,
		Env:    map[string]string{"DEVPATH": "/devices/pci0000:00/usb1/block/sdb/sdb1"},
	})
	if got != "/dev/sdb1" {
		t.Errorf("devpath fallback = %q, want /dev/sdb1", got)
	}

	got = m.extractDeviceName(netlink.UEvent{Action: netlink.ADD, Env: map[string]string{}})
	if got != "" {
		t.Errorf("empty env = %q, want empty", got)
	}
}

func TestFindMount(t *testing.T) {
	table := strings.Join([]string{
		"/dev/sda1 / ext4 rw,relatime 0 0",
		"devtmpfs /dev devtmpfs rw 0 0",
		"short-line",
		"/dev/sdb1 /run/media/alice/CAM\\040CARD vfat rw 0 0",
	}, "\n")

	got, err := findMount(strings.NewReader(table), "/dev/sdb1")
	if err != nil {
		t.Fatalf("findMount: %v", err)
	}
	if got != "/run/media/alice/CAM CARD" {
		t.Errorf("mountpoint = %q, want escaped space decoded", got)
	}

	got, err = findMount(strings.NewReader(table), "/dev/sda1")
	if err != nil {
		t.Fatalf("findMount: %v", err)
	}
	if got != "/" {
		t.Errorf("mountpoint = %q, want /", got)
	}

	got, err = findMount(strings.NewReader(table), "/dev/sdc1")
	if err != nil {
		t.Fatalf("findMount: %v", err)
	}
	if got != "" {
		t.Errorf("mountpoint for absent device = %q, want empty", got)
	}
}

func TestUnescapeMountPath(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"/run/media/bob/plain", "/run/media/bob/plain"},
		{"CAM\\040CARD", "CAM CARD"},
		{"tab\\011sep", "tab\tsep"},
		{"line\\012break", "line\nbreak"},
		{"back\\134slash", "back\\slash"},
		{"trailing\\", "trailing\\"},
		{"bad\\0xx", "bad\\0xx"},
	}
	for _, tc := range cases {
		if got := unescapeMountPath(tc.in); got != tc.want {
			t.Errorf("unescapeMountPath(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestPathWithin(t *testing.T) {
	cases := []struct {
		base   string
		target string
		want   bool
	}{
		{"/run/media", "/run/media", true},
		{"/run/media", "/run/media/alice/usb", true},
		{"/run/media/", "/run/media/alice", true},
		{"/run/media", "/run/mediafoo", false},
		{"/run/media", "/mnt/usb", false},
	}
	for _, tc := range cases {
		if got := pathWithin(tc.base, tc.target); got != tc.want {
			t.Errorf("pathWithin(%q, %q) = %v, want %v", tc.base, tc.target, got, tc.want)
		}
	}
}

func TestChunkPayloads(t *testing.T) {
	files := make([]task.FilePayload, 5)
	for i := range files {
		files[i] = task.FilePayload{Name: string(rune('a' + i))}
	}

	if got := chunkPayloads(files, 0); len(got) != 1 || len(got[0]) != 5 {
		t.Errorf("no cap: %d chunks, want 1 of 5", len(got))
	}
	if got := chunkPayloads(files, 10); len(got) != 1 {
		t.Errorf("roomy cap: %d chunks, want 1", len(got))
	}
	if got := chunkPayloads(files[:4], 2); len(got) != 2 || len(got[0]) != 2 || len(got[1]) != 2 {
		t.Errorf("even split: got %d chunks", len(got))
	}
	got := chunkPayloads(files, 2)
	if len(got) != 3 {
		t.Fatalf("remainder split: %d chunks, want 3", len(got))
	}
	if len(got[2]) != 1 || got[2][0].Name != "e" {
		t.Errorf("last chunk = %v, want the single remainder", got[2])
	}
}

func TestMediaMonitorHandleDevice(t *testing.T) {
	base := t.TempDir()
	cfg := mediaConfig(t)
	cfg.Daemon.MediaMountBase = base

	rec := &batchRecorder{}
	m := newTestMediaMonitor(t, cfg, rec)
	m.batchCap = 2
	m.mountWait = 100 * time.Millisecond
	m.mountPoll = 10 * time.Millisecond

	mountpoint := filepath.Join(base, "usb0")
	testsupport.WriteFile(t, filepath.Join(mountpoint, "a.heic"), 512)
	testsupport.WriteFile(t, filepath.Join(mountpoint, "b.heif"), 512)
	testsupport.WriteFile(t, filepath.Join(mountpoint, "dcim", "c.HEIC"), 512)
	testsupport.WriteFile(t, filepath.Join(mountpoint, ".trash", "x.heic"), 512)
	testsupport.WriteFile(t, filepath.Join(mountpoint, "readme.txt"), 64)

	mounts := filepath.Join(t.TempDir(), "mounts")
	writeMounts(t, mounts,
		"/dev/sda1 / ext4 rw 0 0",
		"/dev/sdb1 "+mountpoint+" vfat rw 0 0",
	)
	m.mountsPath = mounts

	quit := make(chan struct{})
	m.handleDevice(context.Background(), quit, "/dev/sdb1")

	batches := rec.all()
	if len(batches) != 2 {
		t.Fatalf("batches = %d, want 2", len(batches))
	}
	if len(batches[0]) != 2 || len(batches[1]) != 1 {
		t.Fatalf("batch sizes = %d, %d, want 2 and 1", len(batches[0]), len(batches[1]))
	}
	if batches[0][0].Name != "a.heic" || batches[1][0].Name != "c.HEIC" {
		t.Errorf("unexpected batch contents: %v then %v", batches[0], batches[1])
	}
}

func TestMediaMonitorHandleDeviceOutsideBase(t *testing.T) {
	cfg := mediaConfig(t)
	cfg.Daemon.MediaMountBase = filepath.Join(t.TempDir(), "media")

	rec := &batchRecorder{}
	m := newTestMediaMonitor(t, cfg, rec)
	m.mountWait = 100 * time.Millisecond
	m.mountPoll = 10 * time.Millisecond

	elsewhere := t.TempDir()
	testsupport.WriteFile(t, filepath.Join(elsewhere, "photo.heic"), 512)

	mounts := filepath.Join(t.TempDir(), "mounts")
	writeMounts(t, mounts, "/dev/sdb1 "+elsewhere+" vfat rw 0 0")
	m.mountsPath = mounts

	quit := make(chan struct{})
	m.handleDevice(context.Background(), quit, "/dev/sdb1")

	if n := len(rec.all()); n != 0 {
		t.Fatalf("batches = %d, want 0 for mount outside base", n)
	}
}

func TestMediaMonitorHandleDeviceEmptyMedia(t *testing.T) {
	base := t.TempDir()
	cfg := mediaConfig(t)
	cfg.Daemon.MediaMountBase = base

	rec := &batchRecorder{}
	m := newTestMediaMonitor(t, cfg, rec)
	m.mountWait = 100 * time.Millisecond
	m.mountPoll = 10 * time.Millisecond

	mountpoint := filepath.Join(base, "usb1")
	testsupport.WriteFile(t, filepath.Join(mountpoint, "document.pdf"), 64)

	mounts := filepath.Join(t.TempDir(), "mounts")
	writeMounts(t, mounts, "/dev/sdc1 "+mountpoint+" vfat rw 0 0")
	m.mountsPath = mounts

	quit := make(chan struct{})
	m.handleDevice(context.Background(), quit, "/dev/sdc1")

	if n := len(rec.all()); n != 0 {
		t.Fatalf("batches = %d, want 0 for media without convertible files", n)
	}
}

func TestMediaMonitorHandleDeviceNeverMounts(t *testing.T) {
	cfg := mediaConfig(t)
	rec := &batchRecorder{}
	m := newTestMediaMonitor(t, cfg, rec)
	m.mountWait = 50 * time.Millisecond
	m.mountPoll = 10 * time.Millisecond

	mounts := filepath.Join(t.TempDir(), "mounts")
	writeMounts(t, mounts, "/dev/sda1 / ext4 rw 0 0")
	m.mountsPath = mounts

	quit := make(chan struct{})
	start := time.Now()
	m.handleDevice(context.Background(), quit, "/dev/sdz9")
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("mount wait took %s, expected bounded timeout", elapsed)
	}

	if n := len(rec.all()); n != 0 {
		t.Fatalf("batches = %d, want 0 for device that never mounts", n)
	}
}

func TestMediaMonitorWaitForMountStopsOnQuit(t *testing.T) {
	cfg := mediaConfig(t)
	rec := &batchRecorder{}
	m := newTestMediaMonitor(t, cfg, rec)
	m.mountWait = 10 * time.Second
	m.mountPoll = 10 * time.Millisecond

	mounts := filepath.Join(t.TempDir(), "mounts")
	writeMounts(t, mounts, "/dev/sda1 / ext4 rw 0 0")
	m.mountsPath = mounts

	quit := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		_, err := m.waitForMount(context.Background(), quit, "/dev/sdz9")
		done <- err
	}()

	close(quit)
	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected error after quit")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("waitForMount did not return after quit")
	}
}

func TestMediaMonitorNilSafety(t *testing.T) {
	var m *mediaMonitor
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("nil Start: %v", err)
	}
	m.Stop()
	if m.Running() {
		t.Fatal("nil monitor reports running")
	}

	constructed := newTestMediaMonitor(t, mediaConfig(t), &batchRecorder{})
	constructed.Stop()
	if constructed.Running() {
		t.Fatal("unstarted monitor reports running after Stop")
	}
}

func writeMounts(t *testing.T, path string, lines ...string) {
	t.Helper()

	content := strings.Join(lines, "\n") + "\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write mounts fixture: %v", err)
	}
}
