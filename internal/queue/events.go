package queue

import (
	"sync"
	"time"

	"carousel/internal/services"
	"carousel/internal/task"
	"carousel/internal/worker"
)

// EventKind enumerates the closed set of subscriber event types.
type EventKind string

const (
	EventProgress  EventKind = "progress"
	EventComplete  EventKind = "complete"
	EventError     EventKind = "error"
	EventCancelled EventKind = "cancelled"
)

// Kinds lists every event kind in a stable order.
func Kinds() []EventKind {
	return []EventKind{EventProgress, EventComplete, EventError, EventCancelled}
}

// BatchOutcome carries a batch task's per-file results alongside its summary.
type BatchOutcome struct {
	Results []worker.FileResult `json:"results"`
	Errors  []worker.FileError  `json:"errors"`
	Summary worker.BatchSummary `json:"summary"`
}

// Event is the payload delivered to subscribers and streamed over the
// daemon's event feed. Terminal events additionally carry a full task
// summary so observers can journal them without a second lookup.
type Event struct {
	Kind        EventKind          `json:"kind"`
	TaskID      string             `json:"taskId"`
	TaskKind    task.Kind          `json:"taskKind"`
	State       task.State         `json:"state"`
	Percent     float64            `json:"percent"`
	Stage       string             `json:"stage,omitempty"`
	CurrentFile string             `json:"currentFile,omitempty"`
	Message     string             `json:"message,omitempty"`
	Error       string             `json:"error,omitempty"`
	ErrorKind   services.ErrorKind `json:"errorKind,omitempty"`
	Attempts    int                `json:"attempts,omitempty"`
	Result      *worker.FileResult `json:"result,omitempty"`
	Batch       *BatchOutcome      `json:"batch,omitempty"`
	Task        *TaskSummary       `json:"task,omitempty"`
	Extra       map[string]any     `json:"extra,omitempty"`
	Timestamp   time.Time          `json:"timestamp"`
}

// Handler receives published events on the dispatcher goroutine. Handlers
// run sequentially in publication order and should return quickly.
type Handler func(Event)

// Subscription identifies one registered handler.
type Subscription struct {
	kind EventKind
	id   uint64
	bus  *eventBus
	once sync.Once
}

// Unsubscribe removes the handler. Safe to call more than once.
func (s *Subscription) Unsubscribe() {
	if s == nil || s.bus == nil {
		return
	}
	s.once.Do(func() {
		s.bus.remove(s.kind, s.id)
	})
}

type eventBus struct {
	mu     sync.Mutex
	nextID uint64
	subs   map[EventKind]map[uint64]Handler
}

func newEventBus() *eventBus {
	return &eventBus{subs: make(map[EventKind]map[uint64]Handler)}
}

func (b *eventBus) subscribe(kind EventKind, handler Handler) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	if b.subs[kind] == nil {
		b.subs[kind] = make(map[uint64]Handler)
	}
	b.subs[kind][b.nextID] = handler
	return &Subscription{kind: kind, id: b.nextID, bus: b}
}

func (b *eventBus) remove(kind EventKind, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs[kind], id)
}

// dispatch snapshots the handler set under the lock and invokes the
// handlers outside it, so a handler may unsubscribe itself.
func (b *eventBus) dispatch(event Event) {
	b.mu.Lock()
	handlers := make([]Handler, 0, len(b.subs[event.Kind]))
	for _, handler := range b.subs[event.Kind] {
		handlers = append(handlers, handler)
	}
	b.mu.Unlock()
	for _, handler := range handlers {
		handler(event)
	}
}

func (b *eventBus) clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = make(map[EventKind]map[uint64]Handler)
}

// eventPipe is an unbounded in-order handoff from the run loop to the
// dispatcher goroutine. Unbounded so the run loop never stalls behind a
// slow subscriber; per-task ordering is the push order.
type eventPipe struct {
	mu     sync.Mutex
	buf    []Event
	wake   chan struct{}
	closed bool
}

func newEventPipe() *eventPipe {
	return &eventPipe{wake: make(chan struct{}, 1)}
}

func (p *eventPipe) push(event Event) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.buf = append(p.buf, event)
	p.mu.Unlock()
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// close stops intake. Buffered events still drain through next.
func (p *eventPipe) close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// next blocks until an event is available, returning false once the pipe
// is closed and drained.
func (p *eventPipe) next() (Event, bool) {
	for {
		p.mu.Lock()
		if len(p.buf) > 0 {
			event := p.buf[0]
			p.buf = p.buf[1:]
			p.mu.Unlock()
			return event, true
		}
		closed := p.closed
		p.mu.Unlock()
		if closed {
			return Event{}, false
		}
		<-p.wake
	}
}
