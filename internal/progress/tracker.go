package progress

import (
	"math"
	"sort"
	"sync"
	"time"
)

// Outcome is the terminal accounting state of a tracked task.
type Outcome string

const (
	OutcomeActive    Outcome = "active"
	OutcomeCompleted Outcome = "completed"
	OutcomeFailed    Outcome = "failed"
	OutcomeCancelled Outcome = "cancelled"
)

// Meta carries the totals registered for a task.
type Meta struct {
	Files      int
	TotalBytes int64
}

// TaskSnapshot is a point-in-time view of one tracked task.
type TaskSnapshot struct {
	TaskID         string    `json:"taskId"`
	Files          int       `json:"files"`
	ProcessedFiles int       `json:"processedFiles"`
	TotalBytes     int64     `json:"totalBytes"`
	ProcessedBytes int64     `json:"processedBytes"`
	Percent        float64   `json:"percent"`
	Stage          string    `json:"stage,omitempty"`
	Message        string    `json:"message,omitempty"`
	CurrentFile    string    `json:"currentFile,omitempty"`
	Outcome        Outcome   `json:"outcome"`
	Reason         string    `json:"reason,omitempty"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// Snapshot aggregates progress across every tracked task.
type Snapshot struct {
	TotalTasks               int           `json:"totalTasks"`
	ActiveTasks              int           `json:"activeTasks"`
	CompletedTasks           int           `json:"completedTasks"`
	FailedTasks              int           `json:"failedTasks"`
	CancelledTasks           int           `json:"cancelledTasks"`
	TotalFiles               int           `json:"totalFiles"`
	ProcessedFiles           int           `json:"processedFiles"`
	FailedFiles              int           `json:"failedFiles"`
	CancelledFiles           int           `json:"cancelledFiles"`
	TotalBytes               int64         `json:"totalBytes"`
	ProcessedBytes           int64         `json:"processedBytes"`
	OverallPercent           float64       `json:"overallPercent"`
	ThroughputBytesPerSecond float64       `json:"throughputBytesPerSecond"`
	EstimatedTimeRemaining   time.Duration `json:"estimatedTimeRemaining"`
	Elapsed                  time.Duration `json:"elapsed"`
	StartedAt                time.Time     `json:"startedAt"`
}

type taskEntry struct {
	files       int
	filesDone   int
	totalBytes  int64
	percent     float64
	stage       string
	message     string
	currentFile string
	outcome     Outcome
	reason      string
	seq         uint64
	updatedAt   time.Time
}

// Tracker accumulates per-task progress and derives aggregate stats.
type Tracker struct {
	mu        sync.Mutex
	tasks     map[string]*taskEntry
	startedAt time.Time
	nextSeq   uint64
	now       func() time.Time
}

// New returns an empty tracker using the wall clock.
func New() *Tracker {
	return NewWithNow(time.Now)
}

// NewWithNow returns a tracker with a custom time source (for tests).
func NewWithNow(now func() time.Time) *Tracker {
	if now == nil {
		now = time.Now
	}
	return &Tracker{tasks: make(map[string]*taskEntry), now: now}
}

// CreateTask registers a task's file and byte totals. Registering an ID a
// second time resets that task's accounting, which is what the queue's
// retry path wants.
func (t *Tracker) CreateTask(taskID string, meta Meta) {
	if taskID == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	if len(t.tasks) == 0 && t.startedAt.IsZero() {
		t.startedAt = now
	}
	t.nextSeq++
	t.tasks[taskID] = &taskEntry{
		files:      meta.Files,
		totalBytes: meta.TotalBytes,
		outcome:    OutcomeActive,
		seq:        t.nextSeq,
		updatedAt:  now,
	}
}

// UpdateProgress records a percent update for a task. Percent is clamped to
// [0, 100] and updates on terminal or unknown tasks are ignored.
func (t *Tracker) UpdateProgress(taskID, stage string, percent float64, message string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.activeEntry(taskID)
	if !ok {
		return
	}
	entry.percent = clampPercent(percent)
	if stage != "" {
		entry.stage = stage
	}
	entry.message = message
	entry.updatedAt = t.now()
}

// UpdateBatchProgress records batch progress including the count of files
// already converted and the file currently in flight.
func (t *Tracker) UpdateBatchProgress(taskID string, percent float64, filesDone int, currentFile, message string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.activeEntry(taskID)
	if !ok {
		return
	}
	entry.percent = clampPercent(percent)
	entry.filesDone = clampFiles(filesDone, entry.files)
	entry.currentFile = currentFile
	entry.message = message
	entry.updatedAt = t.now()
}

// CompleteTask finalizes a task as fully converted.
func (t *Tracker) CompleteTask(taskID string) {
	t.finalize(taskID, OutcomeCompleted, "")
}

// FailTask finalizes a task as failed, freezing its partial contribution.
func (t *Tracker) FailTask(taskID, reason string) {
	t.finalize(taskID, OutcomeFailed, reason)
}

// CancelTask finalizes a task as cancelled, freezing its partial contribution.
func (t *Tracker) CancelTask(taskID, reason string) {
	t.finalize(taskID, OutcomeCancelled, reason)
}

func (t *Tracker) finalize(taskID string, outcome Outcome, reason string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.activeEntry(taskID)
	if !ok {
		return
	}
	entry.outcome = outcome
	entry.reason = reason
	entry.currentFile = ""
	if outcome == OutcomeCompleted {
		entry.percent = 100
		entry.filesDone = entry.files
	}
	entry.updatedAt = t.now()
}

// Snapshot derives the aggregate view from current state.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	snap := Snapshot{StartedAt: t.startedAt}
	for _, entry := range t.tasks {
		done := clampFiles(entry.filesDone, entry.files)
		snap.TotalTasks++
		switch entry.outcome {
		case OutcomeCompleted:
			snap.CompletedTasks++
		case OutcomeFailed:
			snap.FailedTasks++
			snap.FailedFiles += entry.files - done
		case OutcomeCancelled:
			snap.CancelledTasks++
			snap.CancelledFiles += entry.files - done
		default:
			snap.ActiveTasks++
		}
		snap.TotalFiles += entry.files
		snap.ProcessedFiles += done
		snap.TotalBytes += entry.totalBytes
		snap.ProcessedBytes += processedBytes(entry)
	}

	if snap.TotalBytes > 0 {
		snap.OverallPercent = float64(snap.ProcessedBytes) / float64(snap.TotalBytes) * 100
	}
	if !t.startedAt.IsZero() {
		snap.Elapsed = t.now().Sub(t.startedAt)
	}
	if seconds := snap.Elapsed.Seconds(); seconds > 0 {
		snap.ThroughputBytesPerSecond = float64(snap.ProcessedBytes) / seconds
	}
	if snap.ThroughputBytesPerSecond > 0 && snap.TotalBytes > snap.ProcessedBytes {
		remaining := float64(snap.TotalBytes - snap.ProcessedBytes)
		snap.EstimatedTimeRemaining = time.Duration(remaining / snap.ThroughputBytesPerSecond * float64(time.Second))
	}
	return snap
}

// Task returns the snapshot for one task.
func (t *Tracker) Task(taskID string) (TaskSnapshot, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.tasks[taskID]
	if !ok {
		return TaskSnapshot{}, false
	}
	return t.snapshotEntry(taskID, entry), true
}

// Tasks returns every tracked task in registration order.
func (t *Tracker) Tasks() []TaskSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]TaskSnapshot, 0, len(t.tasks))
	for id, entry := range t.tasks {
		out = append(out, t.snapshotEntry(id, entry))
	}
	sort.Slice(out, func(i, j int) bool {
		return t.tasks[out[i].TaskID].seq < t.tasks[out[j].TaskID].seq
	})
	return out
}

// Reset clears all accounting back to the initial empty state.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tasks = make(map[string]*taskEntry)
	t.startedAt = time.Time{}
	t.nextSeq = 0
}

func (t *Tracker) activeEntry(taskID string) (*taskEntry, bool) {
	entry, ok := t.tasks[taskID]
	if !ok || entry.outcome != OutcomeActive {
		return nil, false
	}
	return entry, true
}

func (t *Tracker) snapshotEntry(taskID string, entry *taskEntry) TaskSnapshot {
	return TaskSnapshot{
		TaskID:         taskID,
		Files:          entry.files,
		ProcessedFiles: clampFiles(entry.filesDone, entry.files),
		TotalBytes:     entry.totalBytes,
		ProcessedBytes: processedBytes(entry),
		Percent:        entry.percent,
		Stage:          entry.stage,
		Message:        entry.message,
		CurrentFile:    entry.currentFile,
		Outcome:        entry.outcome,
		Reason:         entry.reason,
		UpdatedAt:      entry.updatedAt,
	}
}

func processedBytes(entry *taskEntry) int64 {
	done := int64(math.Round(float64(entry.totalBytes) * entry.percent / 100))
	if done > entry.totalBytes {
		return entry.totalBytes
	}
	if done < 0 {
		return 0
	}
	return done
}

func clampPercent(percent float64) float64 {
	switch {
	case percent < 0 || math.IsNaN(percent):
		return 0
	case percent > 100:
		return 100
	default:
		return percent
	}
}

func clampFiles(done, total int) int {
	if done < 0 {
		return 0
	}
	if done > total {
		return total
	}
	return done
}
