package task

import (
	"time"

	"github.com/google/uuid"

	"carousel/internal/convert"
)

// Kind selects which worker pool a task is dispatched to.
type Kind string

const (
	KindSingle Kind = "single"
	KindBatch  Kind = "batch"
)

// State represents the lifecycle of a conversion task.
type State string

const (
	StateQueued    State = "queued"
	StateAssigned  State = "assigned"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

var allStates = []State{
	StateQueued,
	StateAssigned,
	StateRunning,
	StateCompleted,
	StateFailed,
	StateCancelled,
}

var stateSet = func() map[State]struct{} {
	set := make(map[State]struct{}, len(allStates))
	for _, state := range allStates {
		set[state] = struct{}{}
	}
	return set
}()

// legalTransitions enumerates every permitted state change. Failed→Queued is
// the retry path; Assigned→Queued returns a task to the pending list when no
// worker could be dispatched after all; Queued→Failed is the admission
// timeout, which fails a task that was never assigned.
var legalTransitions = map[State][]State{
	StateQueued:   {StateAssigned, StateCancelled, StateFailed},
	StateAssigned: {StateRunning, StateQueued, StateCancelled, StateFailed},
	StateRunning:  {StateCompleted, StateFailed, StateCancelled},
	StateFailed:   {StateQueued},
}

// Valid reports whether the state is one of the known lifecycle states.
func (s State) Valid() bool {
	_, ok := stateSet[s]
	return ok
}

// Terminal reports whether no further transitions are expected. Failed counts
// as terminal here; the retry path re-opens it explicitly via Transition.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateCancelled:
		return true
	default:
		return false
	}
}

// CanTransition reports whether moving from s to next is a legal lifecycle step.
func (s State) CanTransition(next State) bool {
	for _, candidate := range legalTransitions[s] {
		if candidate == next {
			return true
		}
	}
	return false
}

// FilePayload describes one file within a task.
type FilePayload struct {
	Name      string
	Path      string
	SizeBytes int64
}

// Options carries per-task conversion settings. Extra holds caller extension
// fields that ride along untouched (they surface in events and the history
// journal).
type Options struct {
	Format           convert.Format
	Quality          int
	PreserveMetadata bool
	Extra            map[string]any
}

// Task is the unit of work owned by the queue. Workers hold only a transient
// reference while the task is running; all lifecycle mutation happens on the
// orchestrator goroutine.
type Task struct {
	ID         string
	Kind       Kind
	Payload    []FilePayload
	Options    Options
	Priority   int
	RetryCount int
	MaxRetries int
	State      State

	// Seq preserves submission order for stable priority tie-breaks.
	Seq uint64

	SubmittedAt time.Time
	StartedAt   time.Time
	CompletedAt time.Time

	// WorkerID is the slot currently executing the task, empty when unassigned.
	WorkerID string
	// LastError holds the most recent failure message for status and retry logs.
	LastError string
}

// New builds a queued task with a fresh identifier.
func New(kind Kind, payload []FilePayload, opts Options, priority, maxRetries int) *Task {
	return &Task{
		ID:          uuid.NewString(),
		Kind:        kind,
		Payload:     append([]FilePayload(nil), payload...),
		Options:     opts,
		Priority:    priority,
		MaxRetries:  maxRetries,
		State:       StateQueued,
		SubmittedAt: time.Now().UTC(),
	}
}

// Transition moves the task to next, reporting false when the step is illegal.
// Timestamps are maintained as a side effect: entering Running stamps
// StartedAt once, entering any terminal state stamps CompletedAt.
func (t *Task) Transition(next State) bool {
	if !t.State.CanTransition(next) {
		return false
	}
	t.State = next
	switch next {
	case StateRunning:
		if t.StartedAt.IsZero() {
			t.StartedAt = time.Now().UTC()
		}
	case StateCompleted, StateFailed, StateCancelled:
		t.CompletedAt = time.Now().UTC()
	case StateQueued:
		// Re-queued for retry: the terminal stamp no longer applies.
		t.CompletedAt = time.Time{}
	}
	return true
}

// CanRetry reports whether another automatic retry is allowed.
func (t *Task) CanRetry() bool {
	return t.RetryCount < t.MaxRetries
}

// FileCount returns the number of files in the payload.
func (t *Task) FileCount() int {
	return len(t.Payload)
}

// TotalBytes sums the payload sizes.
func (t *Task) TotalBytes() int64 {
	var total int64
	for _, file := range t.Payload {
		total += file.SizeBytes
	}
	return total
}

// Clone returns a deep copy safe to hand outside the orchestrator goroutine.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	clone := *t
	clone.Payload = append([]FilePayload(nil), t.Payload...)
	if t.Options.Extra != nil {
		extra := make(map[string]any, len(t.Options.Extra))
		for k, v := range t.Options.Extra {
			extra[k] = v
		}
		clone.Options.Extra = extra
	}
	return &clone
}
