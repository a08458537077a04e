package queue

import (
	"log/slog"
	"os/exec"
	"time"

	"carousel/internal/config"
	"carousel/internal/convert"
	"carousel/internal/logging"
	"carousel/internal/memory"
	"carousel/internal/progress"
	"carousel/internal/services"
	"carousel/internal/task"
	"carousel/internal/worker"
)

const (
	// workerEventBuffer absorbs event bursts from sessions so they never
	// block on the run loop.
	workerEventBuffer = 256
	// recentTaskLimit caps the terminal-task ring kept for status queries.
	recentTaskLimit = 100
	// drainTimeout bounds how long Destroy waits for in-flight workers to
	// report their terminal events before force-finalizing.
	drainTimeout = 5 * time.Second
)

// Option customizes a Queue at construction.
type Option func(*Queue)

// WithEngineFactory overrides how spawned workers obtain their conversion
// engine. The default resolves the configured binary on PATH and runs it
// as a subprocess per file.
func WithEngineFactory(factory func() (convert.Engine, error)) Option {
	return func(q *Queue) { q.engineFactory = factory }
}

// WithGovernor substitutes the memory admission governor.
func WithGovernor(g *memory.Governor) Option {
	return func(q *Queue) { q.governor = g }
}

// WithTracker substitutes the progress tracker.
func WithTracker(t *progress.Tracker) Option {
	return func(q *Queue) { q.tracker = t }
}

// Queue owns task lifecycle end to end: admission, scheduling, dispatch,
// retry, cancellation, and event fan-out. It is ready as soon as New
// returns and stops accepting work after Destroy.
type Queue struct {
	cfg    *config.Config
	logger *slog.Logger

	tracker       *progress.Tracker
	governor      *memory.Governor
	bus           *eventBus
	engineFactory func() (convert.Engine, error)

	commands     chan func()
	workerEvents chan worker.Event
	events       *eventPipe

	// done closes when the run loop has finished teardown. dispatcherDone
	// closes once every queued event has been delivered.
	done           chan struct{}
	dispatcherDone chan struct{}

	// Everything below is owned by the run loop goroutine.
	pool        *worker.Pool
	pending     *pendingList
	tasks       map[string]*task.Task
	nextSeq     uint64
	admission   *admissionWait
	retryTimers map[string]*time.Timer
	graceTimers map[string]*time.Timer
	cancelling  map[string]bool
	retryErrs   map[string]error
	recent      []TaskSummary
	paused      bool
	destroying  bool
	startedAt   time.Time
	finalStatus *QueueStatus
}

// New builds a queue and starts its run loop. The queue accepts
// submissions immediately; callers are expected to Destroy it when done.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) *Queue {
	if logger == nil {
		logger = logging.NewNop()
	}
	q := &Queue{
		cfg:            cfg,
		logger:         logging.NewComponentLogger(logger, "queue"),
		tracker:        progress.New(),
		bus:            newEventBus(),
		commands:       make(chan func()),
		workerEvents:   make(chan worker.Event, workerEventBuffer),
		events:         newEventPipe(),
		done:           make(chan struct{}),
		dispatcherDone: make(chan struct{}),
		pending:        newPendingList(),
		tasks:          make(map[string]*task.Task),
		retryTimers:    make(map[string]*time.Timer),
		graceTimers:    make(map[string]*time.Timer),
		cancelling:     make(map[string]bool),
		retryErrs:      make(map[string]error),
		startedAt:      time.Now().UTC(),
	}
	for _, opt := range opts {
		opt(q)
	}
	if q.governor == nil {
		ceiling := memory.ResolveCeiling(cfg.MemoryCeilingBytes(), nil)
		q.governor = memory.New(ceiling, cfg.Memory.ReclaimThreshold)
	}
	if q.engineFactory == nil {
		q.engineFactory = func() (convert.Engine, error) {
			path, err := exec.LookPath(cfg.Engine.Binary)
			if err != nil {
				return nil, services.Wrap(services.ErrWorkerTransport, "queue", "spawn",
					"conversion engine not found on PATH: "+cfg.Engine.Binary, err)
			}
			return convert.NewCLI(convert.WithBinary(path), convert.WithExtraArgs(cfg.Engine.ExtraArgs)), nil
		}
	}
	q.pool = worker.NewPool(worker.Config{
		MaxPerKind: cfg.Workers.MaxPerKind,
		Session: worker.SessionConfig{
			Engine:             q.engineFactory,
			OutputDir:          cfg.Paths.OutputDir,
			WorkDir:            cfg.Paths.WorkDir,
			OverwriteExisting:  cfg.Output.OverwriteExisting,
			NormalizeFilenames: cfg.Output.NormalizeFilenames,
			ConvertTimeout:     time.Duration(cfg.Engine.TimeoutSeconds) * time.Second,
			Logger:             logger,
		},
	}, q.workerEvents, logger)

	go q.run()
	go q.dispatchEvents()
	return q
}

// Submit validates and enqueues a single-file conversion, returning the
// task ID. Validation failures are synchronous; everything after admission
// is reported through subscribed handlers.
func (q *Queue) Submit(file task.FilePayload, opts task.Options, priority int) (string, error) {
	opts = q.applyOutputDefaults(opts)
	if err := task.ValidateFile(file); err != nil {
		return "", err
	}
	if err := task.ValidateOptions(opts); err != nil {
		return "", err
	}
	t := task.New(task.KindSingle, []task.FilePayload{file}, opts, priority, q.cfg.Queue.MaxRetries)
	if err := q.do("submit", func() error { return q.enqueue(t) }); err != nil {
		return "", err
	}
	return t.ID, nil
}

// SubmitBatch validates and enqueues an ordered list of files as one task.
func (q *Queue) SubmitBatch(files []task.FilePayload, opts task.Options, priority int) (string, error) {
	opts = q.applyOutputDefaults(opts)
	if err := task.ValidateBatch(files, q.cfg.Queue.MaxBatchFiles); err != nil {
		return "", err
	}
	for _, file := range files {
		if err := task.ValidateFile(file); err != nil {
			return "", err
		}
	}
	if err := task.ValidateOptions(opts); err != nil {
		return "", err
	}
	t := task.New(task.KindBatch, files, opts, priority, q.cfg.Queue.MaxRetries)
	if err := q.do("submit_batch", func() error { return q.enqueue(t) }); err != nil {
		return "", err
	}
	return t.ID, nil
}

// Cancel requests cancellation of one task. Queued tasks are removed
// synchronously and true is returned with the cancelled event already
// queued for delivery. Running tasks get a best-effort cancel request and
// true; the terminal event arrives asynchronously. Unknown or already
// terminal tasks return false, as does a task waiting out a retry delay.
func (q *Queue) Cancel(taskID string) (bool, error) {
	var cancelled bool
	err := q.do("cancel", func() error {
		cancelled = q.cancelTask(taskID, "cancelled by request")
		return nil
	})
	return cancelled, err
}

// CancelAll cancels every queued task and requests cancellation of every
// running one, returning how many tasks were affected.
func (q *Queue) CancelAll() (int, error) {
	var count int
	err := q.do("cancel_all", func() error {
		count = q.cancelAllTasks("cancelled by request")
		return nil
	})
	return count, err
}

// Pause stops new assignments. Running tasks continue. Idempotent.
func (q *Queue) Pause() error {
	return q.do("pause", func() error {
		if !q.paused {
			q.paused = true
			q.logger.Info("queue paused", logging.String(logging.FieldEventType, "queue_paused"))
		}
		return nil
	})
}

// Resume re-enables assignment and immediately reschedules. Idempotent.
func (q *Queue) Resume() error {
	return q.do("resume", func() error {
		if q.paused {
			q.paused = false
			q.logger.Info("queue resumed", logging.String(logging.FieldEventType, "queue_resumed"))
			q.schedule()
		}
		return nil
	})
}

// Status reports a point-in-time snapshot. After Destroy it returns the
// final snapshot taken during teardown.
func (q *Queue) Status() QueueStatus {
	var status QueueStatus
	err := q.do("status", func() error {
		status = q.snapshotStatus(StateRunning)
		return nil
	})
	if err != nil {
		return *q.finalStatus
	}
	return status
}

// Task reports the summary for one task, queued, running, or recently
// finished. The second return is false when the task is unknown.
func (q *Queue) Task(taskID string) (TaskSummary, bool) {
	var (
		summary TaskSummary
		found   bool
	)
	err := q.do("task", func() error {
		if t, ok := q.tasks[taskID]; ok {
			snap, tracked := q.tracker.Task(taskID)
			summary, found = summarize(t, snap, tracked), true
			return nil
		}
		for _, s := range q.recent {
			if s.ID == taskID {
				summary, found = s, true
				return nil
			}
		}
		return nil
	})
	if err != nil {
		for _, s := range q.finalStatus.Recent {
			if s.ID == taskID {
				return s, true
			}
		}
		return TaskSummary{}, false
	}
	return summary, found
}

// Subscribe registers a handler for one event kind. Handlers run on the
// queue's dispatcher goroutine and must not call back into the queue
// synchronously with blocking work. The returned subscription's
// Unsubscribe is safe to call at any time, including after Destroy.
func (q *Queue) Subscribe(kind EventKind, handler Handler) (*Subscription, error) {
	if handler == nil {
		return nil, services.Wrap(services.ErrValidation, "queue", "subscribe", "handler must not be nil", nil)
	}
	valid := false
	for _, k := range Kinds() {
		if k == kind {
			valid = true
			break
		}
	}
	if !valid {
		return nil, services.Wrap(services.ErrValidation, "queue", "subscribe", "unknown event kind: "+string(kind), nil)
	}
	select {
	case <-q.done:
		return nil, services.Wrap(services.ErrIllegalState, "queue", "subscribe", "queue is destroyed", nil)
	default:
	}
	return q.bus.subscribe(kind, handler), nil
}

// Destroy tears the queue down: queued tasks are cancelled, running tasks
// get a cancel request and a bounded drain window, workers are terminated,
// subscriptions are cleared. Further mutating calls fail with an illegal
// state error. Destroy itself is idempotent and returns after all handlers
// have been delivered their final events.
func (q *Queue) Destroy() error {
	err := q.do("destroy", func() error {
		q.beginDestroy()
		return nil
	})
	if err != nil {
		// Already destroyed; wait for delivery to finish all the same.
		<-q.dispatcherDone
		return nil
	}
	<-q.done
	<-q.dispatcherDone
	return nil
}

// do runs fn on the run loop and waits for its result.
func (q *Queue) do(op string, fn func() error) error {
	result := make(chan error, 1)
	select {
	case q.commands <- func() { result <- fn() }:
	case <-q.done:
		return q.destroyedErr(op)
	}
	select {
	case err := <-result:
		return err
	case <-q.done:
		// The loop may have run the command just before exiting.
		select {
		case err := <-result:
			return err
		default:
			return q.destroyedErr(op)
		}
	}
}

// post schedules fn on the run loop without waiting. Used by timer
// callbacks, which must not hang once the queue is gone.
func (q *Queue) post(fn func()) {
	select {
	case q.commands <- fn:
	case <-q.done:
	}
}

func (q *Queue) destroyedErr(op string) error {
	return services.Wrap(services.ErrIllegalState, "queue", op, "queue is destroyed", nil)
}

// applyOutputDefaults fills zero-valued option fields from configuration.
// Booleans pass through; their defaults are resolved by the caller.
func (q *Queue) applyOutputDefaults(opts task.Options) task.Options {
	if opts.Format == "" {
		opts.Format = convert.Format(q.cfg.Output.Format)
	}
	if opts.Quality == 0 {
		opts.Quality = q.cfg.Output.Quality
	}
	return opts
}

// dispatchEvents delivers queued events to subscribers in order, off the
// run loop so a slow handler cannot stall scheduling.
func (q *Queue) dispatchEvents() {
	defer close(q.dispatcherDone)
	for {
		ev, ok := q.events.next()
		if !ok {
			break
		}
		q.bus.dispatch(ev)
	}
	q.bus.clear()
}

// emit queues an event for delivery. The run loop is the only caller, so
// delivery order is the loop's processing order.
func (q *Queue) emit(ev Event) {
	ev.Timestamp = time.Now().UTC()
	q.events.push(ev)
}
