package history

import (
	"time"

	"carousel/internal/queue"
	"carousel/internal/task"
)

// Entry is one finished task as stored in the journal. It is a flattened
// copy of the terminal queue event, denormalized so rows stay readable with
// plain SQL after the queue process is gone.
type Entry struct {
	ID             int64      `json:"id"`
	TaskID         string     `json:"taskId"`
	Kind           task.Kind  `json:"kind"`
	State          task.State `json:"state"`
	Priority       int        `json:"priority"`
	Files          int        `json:"files"`
	ProcessedFiles int        `json:"processedFiles"`
	FailedFiles    int        `json:"failedFiles"`
	TotalBytes     int64      `json:"totalBytes"`
	OutputBytes    int64      `json:"outputBytes"`
	OutputPath     string     `json:"outputPath,omitempty"`
	RetryCount     int        `json:"retryCount"`
	ErrorMessage   string     `json:"errorMessage,omitempty"`
	Message        string     `json:"message,omitempty"`
	SubmittedAt    time.Time  `json:"submittedAt"`
	StartedAt      time.Time  `json:"startedAt,omitzero"`
	CompletedAt    time.Time  `json:"completedAt,omitzero"`
	RecordedAt     time.Time  `json:"recordedAt"`
}

// Duration reports how long the task ran, or zero when it never started.
func (e Entry) Duration() time.Duration {
	if e.StartedAt.IsZero() || e.CompletedAt.IsZero() {
		return 0
	}
	return e.CompletedAt.Sub(e.StartedAt)
}

// ConvertedFiles reports how many files actually produced output.
func (e Entry) ConvertedFiles() int {
	converted := e.ProcessedFiles - e.FailedFiles
	if converted < 0 {
		return 0
	}
	return converted
}

// FromEvent maps a terminal queue event onto a journal entry. It returns
// false for progress events and for events missing the task summary, which
// callers should skip rather than treat as an error.
func FromEvent(ev queue.Event) (Entry, bool) {
	switch ev.Kind {
	case queue.EventComplete, queue.EventError, queue.EventCancelled:
	default:
		return Entry{}, false
	}
	if ev.Task == nil {
		return Entry{}, false
	}

	summary := ev.Task
	entry := Entry{
		TaskID:         summary.ID,
		Kind:           summary.Kind,
		State:          summary.State,
		Priority:       summary.Priority,
		Files:          summary.Files,
		ProcessedFiles: summary.ProcessedFiles,
		TotalBytes:     summary.TotalBytes,
		RetryCount:     summary.RetryCount,
		ErrorMessage:   ev.Error,
		Message:        ev.Message,
		SubmittedAt:    summary.SubmittedAt,
		StartedAt:      summary.StartedAt,
		CompletedAt:    summary.CompletedAt,
	}
	if entry.ErrorMessage == "" {
		entry.ErrorMessage = summary.LastError
	}
	if ev.Result != nil {
		entry.OutputPath = ev.Result.OutputPath
		entry.OutputBytes = ev.Result.Metadata.OutputBytes
	}
	if ev.Batch != nil {
		entry.OutputBytes = ev.Batch.Summary.OutputBytes
		entry.FailedFiles = ev.Batch.Summary.Failed
	}
	return entry, true
}
