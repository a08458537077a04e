package worker

import (
	"context"
	"time"

	"carousel/internal/convert"
	"carousel/internal/task"
)

// Command is a message dispatched to a worker session. Cancellation is not
// a Command: it travels through the dispatch context so a busy session
// observes it between stages without draining its channel.
type Command interface {
	CommandTaskID() string
}

// ConvertCommand asks a single-kind session to convert one file.
type ConvertCommand struct {
	TaskID  string
	File    task.FilePayload
	Options task.Options
}

func (c ConvertCommand) CommandTaskID() string { return c.TaskID }

// ConvertBatchCommand asks a batch-kind session to convert an ordered list
// of files sequentially.
type ConvertBatchCommand struct {
	TaskID  string
	Files   []task.FilePayload
	Options task.Options
}

func (c ConvertBatchCommand) CommandTaskID() string { return c.TaskID }

type dispatch struct {
	ctx context.Context
	cmd Command
}

// EventMeta identifies the session and task an event belongs to.
type EventMeta struct {
	WorkerID string
	TaskID   string
}

// Meta implements Event.
func (m EventMeta) Meta() EventMeta { return m }

// Event is a message emitted by a worker session. Every dispatch produces
// zero or more progress events followed by exactly one terminal event.
type Event interface {
	Meta() EventMeta
}

// ProgressEvent reports single-conversion progress on the task-wide
// percentage scale.
type ProgressEvent struct {
	EventMeta
	Stage   convert.Stage
	Percent float64
	Message string
}

// SuccessEvent is the terminal event for a completed single conversion.
type SuccessEvent struct {
	EventMeta
	Result  FileResult
	Elapsed time.Duration
}

// ErrorEvent is the terminal event for a failed single conversion.
type ErrorEvent struct {
	EventMeta
	Err error
}

// CancelledEvent is the terminal event for a cancelled dispatch.
type CancelledEvent struct {
	EventMeta
	Message string
}

// TransportErrorEvent reports that the session itself died. The pool
// replaces the worker; the task it held goes through the retry path.
type TransportErrorEvent struct {
	EventMeta
	Err error
}

// FileResult records one successfully converted file.
type FileResult struct {
	Name       string           `json:"name"`
	OutputPath string           `json:"outputPath"`
	Metadata   convert.Metadata `json:"metadata"`
}

// FileError records one file that kept failing after per-file retries.
type FileError struct {
	Index   int    `json:"index"`
	Name    string `json:"name"`
	Message string `json:"message"`
}

// BatchDetails carries the counters shown alongside batch progress.
type BatchDetails struct {
	TotalFiles     int `json:"totalFiles"`
	CompletedFiles int `json:"completedFiles"`
	FailedFiles    int `json:"failedFiles"`
	CurrentIndex   int `json:"currentIndex"`
	ChunkSize      int `json:"chunkSize"`
}

// BatchProgressEvent reports batch progress across the whole file list.
type BatchProgressEvent struct {
	EventMeta
	Percent     float64
	CurrentFile string
	Message     string
	Details     BatchDetails
}

// BatchSummary aggregates a finished batch.
type BatchSummary struct {
	TotalFiles    int           `json:"totalFiles"`
	Succeeded     int           `json:"succeeded"`
	Failed        int           `json:"failed"`
	OriginalBytes int64         `json:"originalBytes"`
	OutputBytes   int64         `json:"outputBytes"`
	Elapsed       time.Duration `json:"elapsed"`
}

// BatchCompleteEvent is the terminal event for a batch that ran to the end
// of its list, per-file failures included.
type BatchCompleteEvent struct {
	EventMeta
	Results []FileResult
	Errors  []FileError
	Summary BatchSummary
}

// BatchCancelledEvent is the terminal event for a batch stopped mid-list.
// Results and Errors hold whatever was gathered before the stop.
type BatchCancelledEvent struct {
	EventMeta
	Message string
	Results []FileResult
	Errors  []FileError
}
