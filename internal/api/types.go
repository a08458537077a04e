package api

import (
	"time"

	"carousel/internal/history"
	"carousel/internal/queue"
)

// DaemonInfo aggregates daemon runtime information for API consumers.
type DaemonInfo struct {
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

// StatusResponse pairs daemon runtime state with a queue snapshot.
type StatusResponse struct {
	Daemon DaemonInfo        `json:"daemon"`
	Queue  queue.QueueStatus `json:"queue"`
}

// QueueListResponse wraps a collection of task summaries.
type QueueListResponse struct {
	Items []queue.TaskSummary `json:"items"`
}

// QueueItemResponse wraps a single task summary.
type QueueItemResponse struct {
	Item queue.TaskSummary `json:"item"`
}

// HistoryListResponse wraps journal entries.
type HistoryListResponse struct {
	Entries []history.Entry `json:"entries"`
}

// ErrorResponse carries an API error message.
type ErrorResponse struct {
	Error string `json:"error"`
}
