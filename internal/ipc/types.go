package ipc

import (
	"time"

	"carousel/internal/daemon"
	"carousel/internal/history"
	"carousel/internal/queue"
)

// TaskSummary mirrors the queue's task snapshot for IPC callers.
type TaskSummary = queue.TaskSummary

// HistoryEntry mirrors a journal row for IPC callers.
type HistoryEntry = history.Entry

// PingRequest probes daemon liveness.
type PingRequest struct{}

// PingResponse reports the daemon process id.
type PingResponse struct {
	PID int `json:"pid"`
}

// StartRequest starts the daemon lifecycle (lock, monitors, bridges).
type StartRequest struct{}

// StartResponse indicates whether the daemon was started.
type StartResponse struct {
	Started bool   `json:"started"`
	Message string `json:"message"`
}

// StopRequest stops the daemon lifecycle without exiting the process.
type StopRequest struct{}

// StopResponse indicates stop result.
type StopResponse struct {
	Stopped bool `json:"stopped"`
}

// StatusRequest fetches combined daemon and queue status.
type StatusRequest struct{}

// StatusResponse carries the daemon runtime info and a queue snapshot.
type StatusResponse struct {
	Daemon daemon.Info       `json:"daemon"`
	Queue  queue.QueueStatus `json:"queue"`
}

// ConvertOptions carries per-submission output overrides. Zero and nil
// fields fall back to the daemon's configured defaults.
type ConvertOptions struct {
	Format           string `json:"format,omitempty"`
	Quality          int    `json:"quality,omitempty"`
	PreserveMetadata *bool  `json:"preserveMetadata,omitempty"`
}

// SubmitRequest enqueues one source file.
type SubmitRequest struct {
	Path     string         `json:"path"`
	Options  ConvertOptions `json:"options"`
	Priority int            `json:"priority"`
}

// SubmitResponse reports the queued task.
type SubmitResponse struct {
	TaskID string      `json:"taskId"`
	Task   TaskSummary `json:"task"`
}

// SubmitBatchRequest enqueues files and directories as one batch task.
// Directories are expanded recursively to their convertible files.
type SubmitBatchRequest struct {
	Paths    []string       `json:"paths"`
	Options  ConvertOptions `json:"options"`
	Priority int            `json:"priority"`
}

// SubmitBatchResponse reports the queued batch task.
type SubmitBatchResponse struct {
	TaskID string      `json:"taskId"`
	Task   TaskSummary `json:"task"`
}

// CancelRequest cancels one task by id.
type CancelRequest struct {
	TaskID string `json:"taskId"`
}

// CancelResponse reports whether the task was cancelled.
type CancelResponse struct {
	Cancelled bool `json:"cancelled"`
}

// CancelAllRequest cancels every queued and running task.
type CancelAllRequest struct{}

// CancelAllResponse reports how many tasks were cancelled.
type CancelAllResponse struct {
	Cancelled int `json:"cancelled"`
}

// PauseRequest suspends dispatch of queued tasks.
type PauseRequest struct {
	Reason string `json:"reason,omitempty"`
}

// PauseResponse reports the queue state after the pause.
type PauseResponse struct {
	State queue.State `json:"state"`
}

// ResumeRequest resumes dispatch of queued tasks.
type ResumeRequest struct{}

// ResumeResponse reports the queue state after the resume.
type ResumeResponse struct {
	State queue.State `json:"state"`
}

// TaskRequest fetches a single task by id.
type TaskRequest struct {
	TaskID string `json:"taskId"`
}

// TaskResponse contains the task snapshot.
type TaskResponse struct {
	Task TaskSummary `json:"task"`
}

// HistoryListRequest filters journal entries. Unknown state names are
// ignored; a zero Since means no lower bound.
type HistoryListRequest struct {
	States []string  `json:"states,omitempty"`
	Kind   string    `json:"kind,omitempty"`
	Since  time.Time `json:"since,omitzero"`
	Limit  int       `json:"limit,omitempty"`
}

// HistoryListResponse contains journal entries, newest first.
type HistoryListResponse struct {
	Entries []HistoryEntry `json:"entries"`
}

// HistoryStatsRequest fetches journal aggregates.
type HistoryStatsRequest struct{}

// HistoryStatsResponse reports journal aggregates.
type HistoryStatsResponse struct {
	Stats history.Stats `json:"stats"`
}

// HistoryPruneRequest removes entries recorded before the cutoff.
type HistoryPruneRequest struct {
	OlderThan time.Time `json:"olderThan"`
}

// HistoryPruneResponse reports how many entries were removed.
type HistoryPruneResponse struct {
	Removed int64 `json:"removed"`
}

// HistoryClearRequest removes all journal entries.
type HistoryClearRequest struct{}

// HistoryClearResponse reports completion.
type HistoryClearResponse struct {
	Cleared bool `json:"cleared"`
}

// TestNotificationRequest triggers a notification test.
type TestNotificationRequest struct{}

// TestNotificationResponse reports notification test outcome.
type TestNotificationResponse struct {
	Sent    bool   `json:"sent"`
	Message string `json:"message"`
}

// LogTailRequest fetches log lines based on offset and follow semantics.
type LogTailRequest struct {
	Offset     int64 `json:"offset"`
	Limit      int   `json:"limit"`
	Follow     bool  `json:"follow"`
	WaitMillis int   `json:"waitMillis"`
}

// LogTailResponse returns log lines and the next offset.
type LogTailResponse struct {
	Lines  []string `json:"lines"`
	Offset int64    `json:"offset"`
}
