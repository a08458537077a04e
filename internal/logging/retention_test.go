package logging_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"carousel/internal/logging"
)

func writeLogFile(t *testing.T, dir, name string, age time.Duration) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("entry\n"), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	if age > 0 {
		stamp := time.Now().Add(-age)
		if err := os.Chtimes(path, stamp, stamp); err != nil {
			t.Fatalf("age %s: %v", name, err)
		}
	}
	return path
}

func TestCleanupOldLogs(t *testing.T) {
	dir := t.TempDir()
	week := 7 * 24 * time.Hour

	stale := writeLogFile(t, dir, "carousel-20260101T000000.000Z.log", week)
	current := writeLogFile(t, dir, "carousel-20260201T000000.000Z.log", week)
	fresh := writeLogFile(t, dir, "carousel-20260210T000000.000Z.log", 0)
	unrelated := writeLogFile(t, dir, "notes.txt", week)

	logging.CleanupOldLogs(logging.NewNop(), 2,
		logging.RetentionTarget{Dir: dir, Pattern: "carousel-*.log", Exclude: []string{current}},
	)

	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Fatalf("expected stale log removed, stat err %v", err)
	}
	for _, path := range []string{current, fresh, unrelated} {
		if _, err := os.Stat(path); err != nil {
			t.Fatalf("expected %s to survive pruning: %v", filepath.Base(path), err)
		}
	}
}

func TestCleanupOldLogsDisabled(t *testing.T) {
	dir := t.TempDir()
	stale := writeLogFile(t, dir, "carousel-20260101T000000.000Z.log", 30*24*time.Hour)

	logging.CleanupOldLogs(logging.NewNop(), 0,
		logging.RetentionTarget{Dir: dir, Pattern: "carousel-*.log"},
	)

	if _, err := os.Stat(stale); err != nil {
		t.Fatalf("expected zero retention to keep files: %v", err)
	}
}

func TestCleanupOldLogsNilLogger(t *testing.T) {
	dir := t.TempDir()
	stale := writeLogFile(t, dir, "carousel-20260101T000000.000Z.log", 30*24*time.Hour)

	logging.CleanupOldLogs(nil, 1,
		logging.RetentionTarget{Dir: dir, Pattern: "carousel-*.log"},
		logging.RetentionTarget{Dir: filepath.Join(dir, "missing"), Pattern: "*.log"},
	)

	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Fatalf("expected stale log removed, stat err %v", err)
	}
}
