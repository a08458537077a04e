package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"carousel/internal/task"
)

const entryColumns = `id, task_id, kind, state, priority, files, processed_files, failed_files,
	total_bytes, output_bytes, output_path, retry_count, error_message, message,
	submitted_at, started_at, completed_at, recorded_at`

// Filter narrows List results. Zero values mean "no constraint".
type Filter struct {
	States []task.State
	Kind   task.Kind
	Since  time.Time
	Limit  int
}

// Record inserts one finished task and returns its row id. RecordedAt is
// stamped with the current time when the caller leaves it zero.
func (s *Store) Record(ctx context.Context, entry Entry) (int64, error) {
	if entry.TaskID == "" {
		return 0, fmt.Errorf("history entry has no task id")
	}
	if entry.RecordedAt.IsZero() {
		entry.RecordedAt = time.Now().UTC()
	}
	if entry.SubmittedAt.IsZero() {
		entry.SubmittedAt = entry.RecordedAt
	}

	result, err := s.execWithRetry(ctx, `
		INSERT INTO task_history (
			task_id, kind, state, priority, files, processed_files, failed_files,
			total_bytes, output_bytes, output_path, retry_count, error_message, message,
			submitted_at, started_at, completed_at, recorded_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.TaskID,
		string(entry.Kind),
		string(entry.State),
		entry.Priority,
		entry.Files,
		entry.ProcessedFiles,
		entry.FailedFiles,
		entry.TotalBytes,
		entry.OutputBytes,
		nullableString(entry.OutputPath),
		entry.RetryCount,
		nullableString(entry.ErrorMessage),
		nullableString(entry.Message),
		entry.SubmittedAt.UTC().Format(time.RFC3339Nano),
		nullableTime(entry.StartedAt),
		nullableTime(entry.CompletedAt),
		entry.RecordedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("insert history entry: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("read history entry id: %w", err)
	}
	return id, nil
}

// List returns entries newest first.
func (s *Store) List(ctx context.Context, filter Filter) ([]Entry, error) {
	query := `SELECT ` + entryColumns + ` FROM task_history`
	var clauses []string
	var args []any

	if len(filter.States) > 0 {
		clauses = append(clauses, fmt.Sprintf("state IN (%s)", makePlaceholders(len(filter.States))))
		for _, state := range filter.States {
			args = append(args, string(state))
		}
	}
	if filter.Kind != "" {
		clauses = append(clauses, "kind = ?")
		args = append(args, string(filter.Kind))
	}
	if !filter.Since.IsZero() {
		clauses = append(clauses, "recorded_at >= ?")
		args = append(args, filter.Since.UTC().Format(time.RFC3339Nano))
	}
	for i, clause := range clauses {
		if i == 0 {
			query += " WHERE " + clause
		} else {
			query += " AND " + clause
		}
	}
	query += " ORDER BY recorded_at DESC, id DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list history entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history entries: %w", err)
	}
	return entries, nil
}

// ByTaskID returns the journal entry for one task, or nil when the task was
// never recorded.
func (s *Store) ByTaskID(ctx context.Context, taskID string) (*Entry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+entryColumns+` FROM task_history WHERE task_id = ? ORDER BY id DESC LIMIT 1`,
		taskID,
	)
	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (Entry, error) {
	var (
		entry        Entry
		kind         string
		state        string
		outputPath   sql.NullString
		errorMessage sql.NullString
		message      sql.NullString
		submittedAt  string
		startedAt    sql.NullString
		completedAt  sql.NullString
		recordedAt   string
	)
	err := row.Scan(
		&entry.ID,
		&entry.TaskID,
		&kind,
		&state,
		&entry.Priority,
		&entry.Files,
		&entry.ProcessedFiles,
		&entry.FailedFiles,
		&entry.TotalBytes,
		&entry.OutputBytes,
		&outputPath,
		&entry.RetryCount,
		&errorMessage,
		&message,
		&submittedAt,
		&startedAt,
		&completedAt,
		&recordedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Entry{}, err
		}
		return Entry{}, fmt.Errorf("scan history entry: %w", err)
	}

	entry.Kind = task.Kind(kind)
	entry.State = task.State(state)
	entry.OutputPath = outputPath.String
	entry.ErrorMessage = errorMessage.String
	entry.Message = message.String
	entry.SubmittedAt = parseTimeString(submittedAt)
	if startedAt.Valid {
		entry.StartedAt = parseTimeString(startedAt.String)
	}
	if completedAt.Valid {
		entry.CompletedAt = parseTimeString(completedAt.String)
	}
	entry.RecordedAt = parseTimeString(recordedAt)
	return entry, nil
}
