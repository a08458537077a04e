package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"carousel/internal/task"
)

// Stats aggregates the journal for the stats command. Byte totals cover
// completed tasks only, so saved space reflects conversions that finished.
type Stats struct {
	Total          int       `json:"total"`
	Completed      int       `json:"completed"`
	Failed         int       `json:"failed"`
	Cancelled      int       `json:"cancelled"`
	FilesConverted int       `json:"filesConverted"`
	OriginalBytes  int64     `json:"originalBytes"`
	OutputBytes    int64     `json:"outputBytes"`
	SavedBytes     int64     `json:"savedBytes"`
	OldestEntry    time.Time `json:"oldestEntry,omitzero"`
	NewestEntry    time.Time `json:"newestEntry,omitzero"`
}

// Stats computes journal totals in a single pass.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var (
		stats  Stats
		oldest sql.NullString
		newest sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(1),
			COALESCE(SUM(CASE WHEN state = ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN state = ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN state = ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(processed_files - failed_files), 0),
			COALESCE(SUM(CASE WHEN state = ? THEN total_bytes ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN state = ? THEN output_bytes ELSE 0 END), 0),
			MIN(recorded_at),
			MAX(recorded_at)
		FROM task_history`,
		string(task.StateCompleted),
		string(task.StateFailed),
		string(task.StateCancelled),
		string(task.StateCompleted),
		string(task.StateCompleted),
	).Scan(
		&stats.Total,
		&stats.Completed,
		&stats.Failed,
		&stats.Cancelled,
		&stats.FilesConverted,
		&stats.OriginalBytes,
		&stats.OutputBytes,
		&oldest,
		&newest,
	)
	if err != nil {
		return Stats{}, fmt.Errorf("aggregate history stats: %w", err)
	}

	if stats.OriginalBytes > stats.OutputBytes {
		stats.SavedBytes = stats.OriginalBytes - stats.OutputBytes
	}
	if oldest.Valid {
		stats.OldestEntry = parseTimeString(oldest.String)
	}
	if newest.Valid {
		stats.NewestEntry = parseTimeString(newest.String)
	}
	return stats, nil
}

// Prune deletes entries recorded before the cutoff and reports how many
// rows went away.
func (s *Store) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	result, err := s.execWithRetry(ctx,
		`DELETE FROM task_history WHERE recorded_at < ?`,
		olderThan.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("prune history entries: %w", err)
	}
	removed, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("count pruned history entries: %w", err)
	}
	return removed, nil
}

// Clear removes every entry from the journal.
func (s *Store) Clear(ctx context.Context) error {
	if _, err := s.execWithRetry(ctx, `DELETE FROM task_history`); err != nil {
		return fmt.Errorf("clear history: %w", err)
	}
	return nil
}

// CheckHealth runs SQLite's integrity check against the journal file.
func (s *Store) CheckHealth(ctx context.Context) error {
	var status string
	if err := s.db.QueryRowContext(ctx, `PRAGMA quick_check`).Scan(&status); err != nil {
		return fmt.Errorf("history integrity check: %w", err)
	}
	if status != "ok" {
		return fmt.Errorf("history database is corrupt: %s", status)
	}
	return nil
}
