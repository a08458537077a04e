package daemon

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"log/slog"

	"github.com/pilebones/go-udev/netlink"

	"carousel/internal/config"
	"carousel/internal/logging"
	"carousel/internal/task"
)

const (
	// mountWaitTimeout bounds how long a newly attached filesystem may
	// take to appear in the mount table before the event is dropped.
	mountWaitTimeout  = 10 * time.Second
	mountPollInterval = 500 * time.Millisecond
)

type mediaSubmitFunc func(files []task.FilePayload) (string, error)

// mediaMonitor listens for udev netlink block events and queues the
// convertible files found on newly attached removable media. Only
// filesystems mounted under the configured mount base are ingested.
type mediaMonitor struct {
	cfg      *config.Config
	logger   *slog.Logger
	submit   mediaSubmitFunc
	isPaused func() bool

	mountBase  string
	batchCap   int
	mountWait  time.Duration
	mountPoll  time.Duration
	mountsPath string

	mu      sync.Mutex
	conn    *netlink.UEventConn
	quit    chan struct{}
	running bool

	wg sync.WaitGroup
}

func newMediaMonitor(cfg *config.Config, logger *slog.Logger, submit mediaSubmitFunc, isPaused func() bool) *mediaMonitor {
	if cfg == nil || !cfg.Daemon.MediaMonitor {
		return nil
	}

	base := strings.TrimSpace(cfg.Daemon.MediaMountBase)
	if base == "" {
		base = "/run/media"
	}

	return &mediaMonitor{
		cfg:        cfg,
		logger:     logging.NewComponentLogger(logger, "media-monitor"),
		submit:     submit,
		isPaused:   isPaused,
		mountBase:  base,
		batchCap:   cfg.Queue.MaxBatchFiles,
		mountWait:  mountWaitTimeout,
		mountPoll:  mountPollInterval,
		mountsPath: "/proc/self/mounts",
	}
}

// Start begins listening for udev block events. Failure to reach the
// netlink socket is non-fatal; the daemon keeps running without automatic
// media ingestion.
func (m *mediaMonitor) Start(ctx context.Context) error {
	if m == nil {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return nil
	}

	conn := new(netlink.UEventConn)
	if err := conn.Connect(netlink.UdevEvent); err != nil {
		m.logger.Warn("failed to connect to netlink socket; removable media ingestion disabled",
			logging.Error(err),
			logging.String(logging.FieldEventType, "netlink_connect_failed"),
			logging.String(logging.FieldErrorHint, "ensure the daemon has permission to access netlink sockets"),
		)
		return nil
	}

	m.conn = conn
	m.quit = make(chan struct{})
	m.running = true

	quit := m.quit
	m.wg.Add(1)
	go m.monitorLoop(ctx, quit)

	m.logger.Info("media monitor started",
		logging.String("mount_base", m.mountBase),
		logging.String(logging.FieldEventType, "media_monitor_started"),
	)
	return nil
}

// Stop shuts down the media monitor and waits for in-flight handlers.
func (m *mediaMonitor) Stop() {
	if m == nil {
		return
	}

	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	if m.quit != nil {
		close(m.quit)
		m.quit = nil
	}
	if m.conn != nil {
		_ = m.conn.Close()
		m.conn = nil
	}
	m.running = false
	m.mu.Unlock()

	m.wg.Wait()

	m.logger.Info("media monitor stopped",
		logging.String(logging.FieldEventType, "media_monitor_stopped"),
	)
}

// Running reports whether the media monitor is active.
func (m *mediaMonitor) Running() bool {
	if m == nil {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *mediaMonitor) monitorLoop(ctx context.Context, quit <-chan struct{}) {
	defer m.wg.Done()

	events := make(chan netlink.UEvent)
	errs := make(chan error)

	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()

	if conn == nil {
		return
	}

	monitorQuit := conn.Monitor(events, errs, m.buildMatcher())

	for {
		select {
		case <-ctx.Done():
			close(monitorQuit)
			return
		case <-quit:
			close(monitorQuit)
			return
		case uevent := <-events:
			m.handleEvent(ctx, quit, uevent)
		case err := <-errs:
			m.logger.Warn("netlink monitor error",
				logging.Error(err),
				logging.String(logging.FieldEventType, "netlink_monitor_error"),
			)
		}
	}
}

// buildMatcher selects block devices that just appeared carrying a
// mountable filesystem: ACTION=add, SUBSYSTEM=block, ID_FS_USAGE=filesystem.
func (m *mediaMonitor) buildMatcher() netlink.Matcher {
	action := "add"
	rules := &netlink.RuleDefinitions{}
	rules.AddRule(netlink.RuleDefinition{
		Action: &action,
		Env: map[string]string{
			"SUBSYSTEM":   "block",
			"ID_FS_USAGE": "filesystem",
		},
	})
	return rules
}

func (m *mediaMonitor) handleEvent(ctx context.Context, quit <-chan struct{}, uevent netlink.UEvent) {
	devname := m.extractDeviceName(uevent)
	if devname == "" {
		m.logger.Debug("ignoring block event without device name",
			logging.String("action", string(uevent.Action)),
			logging.String("kobj", uevent.KObj),
		)
		return
	}

	if m.isPaused != nil && m.isPaused() {
		m.logger.Debug("queue paused, ignoring media event",
			logging.String("device", devname),
		)
		return
	}

	m.logger.Info("removable media detected",
		logging.String("device", devname),
		logging.String("label", uevent.Env["ID_FS_LABEL"]),
		logging.String(logging.FieldEventType, "media_detected"),
	)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.handleDevice(ctx, quit, devname)
	}()
}

// handleDevice resolves the device's mount point and queues the
// convertible files it carries, split into batches the queue accepts.
func (m *mediaMonitor) handleDevice(ctx context.Context, quit <-chan struct{}, device string) {
	mountpoint, err := m.waitForMount(ctx, quit, device)
	if err != nil {
		m.logger.Debug("media mount not resolved",
			logging.Error(err),
			logging.String("device", device),
		)
		return
	}

	if !pathWithin(m.mountBase, mountpoint) {
		m.logger.Debug("media mounted outside mount base, ignoring",
			logging.String("device", device),
			logging.String("mountpoint", mountpoint),
			logging.String("mount_base", m.mountBase),
		)
		return
	}

	files, err := CollectConvertibles(mountpoint, 0)
	if err != nil {
		m.logger.Warn("media scan failed",
			logging.Error(err),
			logging.String("device", device),
			logging.String("mountpoint", mountpoint),
			logging.String(logging.FieldEventType, "media_scan_failed"),
		)
		return
	}
	if len(files) == 0 {
		m.logger.Info("no convertible files on media",
			logging.String("device", device),
			logging.String("mountpoint", mountpoint),
		)
		return
	}

	for _, chunk := range chunkPayloads(files, m.batchCap) {
		id, err := m.submit(chunk)
		if err != nil {
			m.logger.Warn("media batch submission failed",
				logging.Error(err),
				logging.String("device", device),
				logging.Int("files", len(chunk)),
				logging.String(logging.FieldEventType, "media_submit_failed"),
			)
			continue
		}
		m.logger.Info("media batch queued",
			logging.String(logging.FieldTaskID, id),
			logging.String("device", device),
			logging.String("mountpoint", mountpoint),
			logging.Int("files", len(chunk)),
			logging.String(logging.FieldEventType, "media_batch_queued"),
		)
	}
}

// waitForMount polls the mount table until the device shows up. Desktop
// automounters typically mount within a second or two of the add event.
func (m *mediaMonitor) waitForMount(ctx context.Context, quit <-chan struct{}, device string) (string, error) {
	deadline := time.Now().Add(m.mountWait)
	for {
		mountpoint, err := m.lookupMount(device)
		if err != nil {
			return "", err
		}
		if mountpoint != "" {
			return mountpoint, nil
		}
		if time.Now().After(deadline) {
			return "", fmt.Errorf("device %s not mounted within %s", device, m.mountWait)
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-quit:
			return "", errors.New("monitor stopped")
		case <-time.After(m.mountPoll):
		}
	}
}

func (m *mediaMonitor) lookupMount(device string) (string, error) {
	f, err := os.Open(m.mountsPath)
	if err != nil {
		return "", fmt.Errorf("open mount table: %w", err)
	}
	defer f.Close()
	return findMount(f, device)
}

// extractDeviceName gets the device path from a uevent.
func (m *mediaMonitor) extractDeviceName(uevent netlink.UEvent) string {
	if devname := uevent.Env["DEVNAME"]; devname != "" {
		return devname
	}

	devpath := uevent.Env["DEVPATH"]
	if devpath == "" {
		return ""
	}

	parts := strings.Split(devpath, "/")
	if len(parts) == 0 {
		return ""
	}
	return "/dev/" + parts[len(parts)-1]
}

// findMount scans a mounts table for the device and returns its mount
// point, or "" when the device is not mounted.
func findMount(r io.Reader, device string) (string, error) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}
		if fields[0] != device {
			continue
		}
		return unescapeMountPath(fields[1]), nil
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("read mount table: %w", err)
	}
	return "", nil
}

// unescapeMountPath decodes the octal escapes the kernel uses for spaces,
// tabs, newlines, and backslashes in mount paths.
func unescapeMountPath(path string) string {
	if !strings.Contains(path, "\\") {
		return path
	}
	var b strings.Builder
	for i := 0; i < len(path); i++ {
		if path[i] == '\\' && i+3 < len(path) {
			if code, err := strconv.ParseUint(path[i+1:i+4], 8, 8); err == nil {
				b.WriteByte(byte(code))
				i += 3
				continue
			}
		}
		b.WriteByte(path[i])
	}
	return b.String()
}

// pathWithin reports whether target sits at or below base.
func pathWithin(base, target string) bool {
	base = filepath.Clean(base)
	target = filepath.Clean(target)
	if base == target {
		return true
	}
	return strings.HasPrefix(target, base+string(os.PathSeparator))
}

// chunkPayloads splits files into batches no larger than the queue's batch
// cap. A cap of zero or less leaves everything in one batch.
func chunkPayloads(files []task.FilePayload, limit int) [][]task.FilePayload {
	if limit <= 0 || len(files) <= limit {
		return [][]task.FilePayload{files}
	}
	chunks := make([][]task.FilePayload, 0, (len(files)+limit-1)/limit)
	for start := 0; start < len(files); start += limit {
		end := start + limit
		if end > len(files) {
			end = len(files)
		}
		chunks = append(chunks, files[start:end])
	}
	return chunks
}
