package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"carousel/internal/logging"
	"carousel/internal/services"
	"carousel/internal/task"
)

const (
	defaultMaxPerKind            = 4
	defaultSpawnFailureThreshold = 3
)

// Config sizes the pool and parameterizes its sessions.
type Config struct {
	// MaxPerKind caps live sessions per task kind. Defaults to 4.
	MaxPerKind int
	// SpawnFailureThreshold is the consecutive spawn-failure count after
	// which a kind is flagged degraded. Defaults to 3.
	SpawnFailureThreshold int

	Session SessionConfig
}

// Slot is the queue-side record of one pooled session.
type Slot struct {
	ID             string
	Kind           task.Kind
	Busy           bool
	AssignedTaskID string
	TasksProcessed int
	LastActivity   time.Time

	dispatches chan dispatch
	cancel     context.CancelFunc
}

// Pool manages both worker kinds. It is owned by the queue's run loop and
// its methods are not safe for concurrent use; only the event channel is
// crossed by session goroutines.
type Pool struct {
	cfg    Config
	events chan<- Event
	logger *slog.Logger

	slots         map[task.Kind][]*Slot
	spawned       map[task.Kind]int
	nextSlot      map[task.Kind]int
	spawnFailures map[task.Kind]int
	degraded      map[task.Kind]bool

	wg     sync.WaitGroup
	closed bool
	done   chan struct{}
}

// NewPool builds an empty pool. Sessions spawn lazily on Acquire.
func NewPool(cfg Config, events chan<- Event, logger *slog.Logger) *Pool {
	if cfg.MaxPerKind <= 0 {
		cfg.MaxPerKind = defaultMaxPerKind
	}
	if cfg.SpawnFailureThreshold <= 0 {
		cfg.SpawnFailureThreshold = defaultSpawnFailureThreshold
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Pool{
		cfg:           cfg,
		events:        events,
		logger:        logging.NewComponentLogger(logger, "worker-pool"),
		slots:         make(map[task.Kind][]*Slot),
		spawned:       make(map[task.Kind]int),
		nextSlot:      make(map[task.Kind]int),
		spawnFailures: make(map[task.Kind]int),
		degraded:      make(map[task.Kind]bool),
	}
}

// Acquire returns an idle slot for kind, spawning one when all live slots
// are busy and the cap allows it. A nil slot with a nil error means the
// kind is at capacity and the caller should try again later.
func (p *Pool) Acquire(kind task.Kind) (*Slot, error) {
	if p.closed {
		return nil, services.Wrap(services.ErrIllegalState, "worker-pool", "acquire", "pool is shut down", nil)
	}
	for _, slot := range p.slots[kind] {
		if !slot.Busy {
			return slot, nil
		}
	}
	if len(p.slots[kind]) >= p.cfg.MaxPerKind {
		return nil, nil
	}
	return p.spawn(kind)
}

func (p *Pool) spawn(kind task.Kind) (*Slot, error) {
	engine, err := p.cfg.Session.Engine()
	if err != nil {
		p.spawnFailures[kind]++
		if p.spawnFailures[kind] >= p.cfg.SpawnFailureThreshold && !p.degraded[kind] {
			p.degraded[kind] = true
			logging.ErrorWithContext(p.logger, "worker pool degraded", "worker_pool_degraded",
				logging.String(logging.FieldKind, string(kind)),
				logging.Int("consecutive_failures", p.spawnFailures[kind]),
				logging.Error(err),
				logging.Alert("no "+string(kind)+" workers can be spawned"),
				logging.String(logging.FieldErrorHint, "check that the conversion binary is installed and executable"),
			)
		}
		return nil, services.Wrap(services.ErrWorkerTransport, "worker-pool", "spawn", fmt.Sprintf("spawn %s worker", kind), err)
	}
	p.spawnFailures[kind] = 0
	p.degraded[kind] = false

	p.nextSlot[kind]++
	slot := &Slot{
		ID:           fmt.Sprintf("%s-%d", kind, p.nextSlot[kind]),
		Kind:         kind,
		LastActivity: time.Now(),
		dispatches:   make(chan dispatch, 1),
	}
	sess := newSession(slot.ID, kind, engine, p.cfg.Session, slot.dispatches, p.events)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		sess.run()
	}()
	p.slots[kind] = append(p.slots[kind], slot)
	p.spawned[kind]++
	p.logger.Debug("worker spawned",
		logging.String(logging.FieldWorkerID, slot.ID),
		logging.String(logging.FieldKind, string(kind)),
	)
	return slot, nil
}

// Dispatch hands cmd to an idle slot and marks it busy. The returned
// context cancel is retained so CancelTask can interrupt the session.
func (p *Pool) Dispatch(ctx context.Context, slot *Slot, cmd Command) error {
	if slot.Busy {
		return services.Wrap(services.ErrIllegalState, "worker-pool", "dispatch", fmt.Sprintf("worker %s is busy", slot.ID), nil)
	}
	runCtx, cancel := context.WithCancel(ctx)
	slot.Busy = true
	slot.AssignedTaskID = cmd.CommandTaskID()
	slot.LastActivity = time.Now()
	slot.cancel = cancel
	slot.dispatches <- dispatch{ctx: runCtx, cmd: cmd}
	return nil
}

// Release returns the slot running taskID to the idle set. It is a no-op
// when no slot holds the task, which happens when a replaced worker's
// terminal event arrives late.
func (p *Pool) Release(taskID string) *Slot {
	slot := p.findByTask(taskID)
	if slot == nil {
		return nil
	}
	if slot.cancel != nil {
		slot.cancel()
		slot.cancel = nil
	}
	slot.Busy = false
	slot.AssignedTaskID = ""
	slot.TasksProcessed++
	slot.LastActivity = time.Now()
	return slot
}

// CancelTask cancels the dispatch context of the slot running taskID.
// The session observes the cancellation between stages and emits its
// cancelled event; the slot stays busy until that event releases it.
func (p *Pool) CancelTask(taskID string) bool {
	slot := p.findByTask(taskID)
	if slot == nil || slot.cancel == nil {
		return false
	}
	slot.cancel()
	return true
}

// Replace tears down the identified slot and spawns a fresh one of the
// same kind. Used when a session dies or ignores cancellation past the
// grace period.
func (p *Pool) Replace(workerID string) (*Slot, error) {
	if p.closed {
		return nil, services.Wrap(services.ErrIllegalState, "worker-pool", "replace", "pool is shut down", nil)
	}
	slot := p.remove(workerID)
	if slot == nil {
		return nil, services.Wrap(services.ErrIllegalState, "worker-pool", "replace", fmt.Sprintf("unknown worker %s", workerID), nil)
	}
	p.terminate(slot)
	p.logger.Info("worker replaced",
		logging.String(logging.FieldWorkerID, slot.ID),
		logging.String(logging.FieldKind, string(slot.Kind)),
	)
	return p.spawn(slot.Kind)
}

// Shutdown terminates every session and returns a channel that closes
// once all session goroutines have exited.
func (p *Pool) Shutdown() <-chan struct{} {
	if p.closed {
		return p.done
	}
	p.closed = true
	p.done = make(chan struct{})
	for _, slots := range p.slots {
		for _, slot := range slots {
			p.terminate(slot)
		}
	}
	p.slots = make(map[task.Kind][]*Slot)
	go func() {
		p.wg.Wait()
		close(p.done)
	}()
	return p.done
}

// Degraded reports whether kind has crossed the spawn-failure threshold.
func (p *Pool) Degraded(kind task.Kind) bool {
	return p.degraded[kind]
}

func (p *Pool) terminate(slot *Slot) {
	if slot.cancel != nil {
		slot.cancel()
		slot.cancel = nil
	}
	close(slot.dispatches)
}

func (p *Pool) findByTask(taskID string) *Slot {
	if taskID == "" {
		return nil
	}
	for _, slots := range p.slots {
		for _, slot := range slots {
			if slot.Busy && slot.AssignedTaskID == taskID {
				return slot
			}
		}
	}
	return nil
}

func (p *Pool) remove(workerID string) *Slot {
	for kind, slots := range p.slots {
		for i, slot := range slots {
			if slot.ID == workerID {
				p.slots[kind] = append(slots[:i], slots[i+1:]...)
				return slot
			}
		}
	}
	return nil
}

// SlotStatus is a point-in-time view of one slot for status reporting.
type SlotStatus struct {
	ID             string    `json:"id"`
	Kind           string    `json:"kind"`
	Busy           bool      `json:"busy"`
	AssignedTaskID string    `json:"assignedTaskId,omitempty"`
	TasksProcessed int       `json:"tasksProcessed"`
	LastActivity   time.Time `json:"lastActivity"`
}

// KindStats aggregates one worker kind.
type KindStats struct {
	Capacity      int  `json:"capacity"`
	Live          int  `json:"live"`
	Busy          int  `json:"busy"`
	Idle          int  `json:"idle"`
	Spawned       int  `json:"spawned"`
	SpawnFailures int  `json:"spawnFailures"`
	Degraded      bool `json:"degraded"`
}

// Stats reports both kinds plus the per-slot detail rows.
type Stats struct {
	Single KindStats    `json:"single"`
	Batch  KindStats    `json:"batch"`
	Slots  []SlotStatus `json:"slots"`
}

func (p *Pool) Stats() Stats {
	stats := Stats{
		Single: p.kindStats(task.KindSingle),
		Batch:  p.kindStats(task.KindBatch),
	}
	for _, kind := range []task.Kind{task.KindSingle, task.KindBatch} {
		for _, slot := range p.slots[kind] {
			stats.Slots = append(stats.Slots, SlotStatus{
				ID:             slot.ID,
				Kind:           string(slot.Kind),
				Busy:           slot.Busy,
				AssignedTaskID: slot.AssignedTaskID,
				TasksProcessed: slot.TasksProcessed,
				LastActivity:   slot.LastActivity,
			})
		}
	}
	return stats
}

func (p *Pool) kindStats(kind task.Kind) KindStats {
	stats := KindStats{
		Capacity:      p.cfg.MaxPerKind,
		Live:          len(p.slots[kind]),
		Spawned:       p.spawned[kind],
		SpawnFailures: p.spawnFailures[kind],
		Degraded:      p.degraded[kind],
	}
	for _, slot := range p.slots[kind] {
		if slot.Busy {
			stats.Busy++
		} else {
			stats.Idle++
		}
	}
	return stats
}
