package queue

import (
	"time"

	"carousel/internal/memory"
	"carousel/internal/progress"
	"carousel/internal/task"
	"carousel/internal/worker"
)

// State describes the queue lifecycle as a whole, not any one task.
type State string

const (
	StateRunning   State = "running"
	StatePaused    State = "paused"
	StateDestroyed State = "destroyed"
)

// TaskSummary is the external view of one task, combining the task record
// with the tracker's latest progress for it.
type TaskSummary struct {
	ID             string         `json:"id"`
	Kind           task.Kind      `json:"kind"`
	State          task.State     `json:"state"`
	Priority       int            `json:"priority"`
	Files          int            `json:"files"`
	ProcessedFiles int            `json:"processedFiles"`
	TotalBytes     int64          `json:"totalBytes"`
	Percent        float64        `json:"percent"`
	Stage          string         `json:"stage,omitempty"`
	CurrentFile    string         `json:"currentFile,omitempty"`
	Message        string         `json:"message,omitempty"`
	WorkerID       string         `json:"workerId,omitempty"`
	RetryCount     int            `json:"retryCount"`
	MaxRetries     int            `json:"maxRetries"`
	LastError      string         `json:"lastError,omitempty"`
	Extra          map[string]any `json:"extra,omitempty"`
	SubmittedAt    time.Time      `json:"submittedAt"`
	StartedAt      time.Time      `json:"startedAt,omitzero"`
	CompletedAt    time.Time      `json:"completedAt,omitzero"`
}

// QueueStatus is a point-in-time snapshot of the queue and everything it
// owns. After Destroy it reports the final state the queue shut down with.
type QueueStatus struct {
	State             State             `json:"state"`
	QueuedTasks       int               `json:"queuedTasks"`
	ActiveTasks       int               `json:"activeTasks"`
	RetryWaiting      int               `json:"retryWaiting"`
	MaxConcurrent     int               `json:"maxConcurrent"`
	SuccessRate       float64           `json:"successRate"`
	WorkerUtilization float64           `json:"workerUtilization"`
	StartedAt         time.Time         `json:"startedAt"`
	Uptime            time.Duration     `json:"uptime"`
	Progress          progress.Snapshot `json:"progress"`
	Workers           worker.Stats      `json:"workers"`
	Memory            memory.Stats      `json:"memory"`
	Tasks             []TaskSummary     `json:"tasks"`
	Recent            []TaskSummary     `json:"recent"`
}

// summarize merges the task record with the tracker snapshot. The tracker
// entry may be absent for tasks that never reached admission.
func summarize(t *task.Task, snap progress.TaskSnapshot, tracked bool) TaskSummary {
	s := TaskSummary{
		ID:          t.ID,
		Kind:        t.Kind,
		State:       t.State,
		Priority:    t.Priority,
		Files:       t.FileCount(),
		TotalBytes:  t.TotalBytes(),
		RetryCount:  t.RetryCount,
		MaxRetries:  t.MaxRetries,
		WorkerID:    t.WorkerID,
		LastError:   t.LastError,
		SubmittedAt: t.SubmittedAt,
		StartedAt:   t.StartedAt,
		CompletedAt: t.CompletedAt,
	}
	if tracked {
		s.ProcessedFiles = snap.ProcessedFiles
		s.Percent = snap.Percent
		s.Stage = snap.Stage
		s.CurrentFile = snap.CurrentFile
		s.Message = snap.Message
	}
	if t.State == task.StateCompleted {
		s.Percent = 100
	}
	return s
}

// successRate reports completed over all finished tasks as a percentage.
// No finished tasks yet means a clean slate, reported as 100.
func successRate(snap progress.Snapshot) float64 {
	finished := snap.CompletedTasks + snap.FailedTasks + snap.CancelledTasks
	if finished == 0 {
		return 100
	}
	return float64(snap.CompletedTasks) / float64(finished) * 100
}

// utilization reports busy workers over live workers as a percentage.
func utilization(stats worker.Stats) float64 {
	live := stats.Single.Live + stats.Batch.Live
	if live == 0 {
		return 0
	}
	busy := stats.Single.Busy + stats.Batch.Busy
	return float64(busy) / float64(live) * 100
}
