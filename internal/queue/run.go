package queue

import (
	"context"
	"fmt"
	"time"

	"carousel/internal/logging"
	"carousel/internal/memory"
	"carousel/internal/progress"
	"carousel/internal/services"
	"carousel/internal/task"
	"carousel/internal/worker"
)

// admissionWait tracks the head-of-line task waiting for memory budget.
// armed guards against stacking poll timers across schedule calls.
type admissionWait struct {
	taskID   string
	deadline time.Time
	armed    bool
}

// run is the queue's owner goroutine. Every field below the marker in the
// Queue struct is touched only here, so the loop needs no locks.
func (q *Queue) run() {
	for !q.destroying {
		select {
		case fn := <-q.commands:
			fn()
		case ev := <-q.workerEvents:
			q.handleWorkerEvent(ev)
		}
	}
	close(q.done)
	q.events.close()
}

// enqueue registers a validated task and kicks the scheduler.
func (q *Queue) enqueue(t *task.Task) error {
	t.Seq = q.nextSeq
	q.nextSeq++
	q.tasks[t.ID] = t
	q.tracker.CreateTask(t.ID, progress.Meta{Files: t.FileCount(), TotalBytes: t.TotalBytes()})
	q.pending.push(t)
	q.logger.Info("task submitted",
		logging.String(logging.FieldEventType, "task_submitted"),
		logging.String(logging.FieldTaskID, t.ID),
		logging.String(logging.FieldKind, string(t.Kind)),
		logging.Int("files", t.FileCount()),
		logging.Int64("bytes", t.TotalBytes()),
		logging.Int("priority", t.Priority),
	)
	q.schedule()
	return nil
}

type admitResult int

const (
	admissionGranted admitResult = iota
	admissionWaiting
	admissionTimedOut
)

// schedule assigns pending tasks to workers until something stops it:
// pause, the concurrency ceiling, an empty queue, a memory wait, or a
// worker pool at capacity.
func (q *Queue) schedule() {
	if q.paused || q.destroying {
		return
	}
	for q.activeCount() < q.maxConcurrent() {
		t := q.pending.peek()
		if t == nil {
			return
		}
		switch q.admit(t) {
		case admissionWaiting:
			return
		case admissionTimedOut:
			// admit already failed and removed the task; next head.
			continue
		}
		slot, err := q.pool.Acquire(t.Kind)
		if err != nil {
			// Spawn failure. The pool tracks degraded health; the task
			// itself goes through the retry path like any other
			// transport failure.
			q.pending.pop()
			q.failAttempt(t, err)
			continue
		}
		if slot == nil {
			// Kind at capacity. Head-of-line blocks until a release.
			return
		}
		q.pending.pop()
		q.dispatch(t, slot)
	}
}

// maxConcurrent floors the configured ceiling at one so an unset value
// cannot wedge the queue.
func (q *Queue) maxConcurrent() int {
	if q.cfg.Queue.MaxConcurrent < 1 {
		return 1
	}
	return q.cfg.Queue.MaxConcurrent
}

func (q *Queue) activeCount() int {
	n := 0
	for _, t := range q.tasks {
		if t.State == task.StateAssigned || t.State == task.StateRunning {
			n++
		}
	}
	return n
}

// admit reserves memory budget for the head-of-line task. While the
// governor has no room the task stays at the front and a bounded poll
// keeps re-trying; past the deadline the task fails with a resource
// exhausted error and scheduling moves on.
func (q *Queue) admit(t *task.Task) admitResult {
	estimate := memory.Estimate(t.TotalBytes())
	if q.governor.HasBudget(estimate) {
		q.governor.Track(t.ID, estimate)
		if q.admission != nil && q.admission.taskID == t.ID {
			q.admission = nil
		}
		return admissionGranted
	}
	now := time.Now()
	if q.admission == nil || q.admission.taskID != t.ID {
		q.admission = &admissionWait{taskID: t.ID, deadline: now.Add(q.cfg.AdmissionMaxWait())}
		q.logger.Info("task waiting for memory budget",
			logging.String(logging.FieldEventType, "admission_wait"),
			logging.String(logging.FieldTaskID, t.ID),
			logging.Int64("estimate_bytes", estimate),
			logging.Int64("budget_bytes", q.governor.Budget()),
		)
	}
	if !now.Before(q.admission.deadline) {
		q.admission = nil
		q.pending.remove(t.ID)
		q.failAdmission(t, estimate)
		return admissionTimedOut
	}
	q.armAdmissionPoll()
	return admissionWaiting
}

func (q *Queue) armAdmissionPoll() {
	if q.admission == nil || q.admission.armed {
		return
	}
	q.admission.armed = true
	taskID := q.admission.taskID
	time.AfterFunc(q.cfg.AdmissionPollInterval(), func() {
		q.post(func() {
			if q.admission != nil && q.admission.taskID == taskID {
				q.admission.armed = false
			}
			q.schedule()
		})
	})
}

// failAdmission finalizes a task the governor never admitted. Resource
// exhaustion is not retryable; waiting longer is the retry.
func (q *Queue) failAdmission(t *task.Task, estimate int64) {
	err := services.Wrap(services.ErrResourceExhausted, "queue", "admit",
		fmt.Sprintf("memory budget not available within %s (estimate %d bytes)", q.cfg.AdmissionMaxWait(), estimate), nil)
	t.LastError = err.Error()
	q.transition(t, task.StateFailed)
	q.tracker.FailTask(t.ID, t.LastError)
	logging.ErrorWithContext(q.logger, "task rejected by memory governor", "admission_timeout",
		logging.String(logging.FieldTaskID, t.ID),
		logging.Int64("estimate_bytes", estimate),
		logging.Error(err),
		logging.String(logging.FieldErrorHint, "reduce file size or raise the memory ceiling"),
	)
	ev := q.taskEvent(EventError, t)
	ev.Error = t.LastError
	ev.ErrorKind = services.Classify(err)
	q.retire(t, ev)
}

// dispatch hands a task to an idle slot and transitions it to Running.
func (q *Queue) dispatch(t *task.Task, slot *worker.Slot) {
	q.transition(t, task.StateAssigned)
	t.WorkerID = slot.ID
	if err := q.pool.Dispatch(context.Background(), slot, q.commandFor(t)); err != nil {
		t.WorkerID = ""
		q.failAttempt(t, err)
		return
	}
	q.transition(t, task.StateRunning)
	q.logger.Info("task dispatched",
		logging.String(logging.FieldEventType, "task_dispatched"),
		logging.String(logging.FieldTaskID, t.ID),
		logging.String(logging.FieldWorkerID, slot.ID),
		logging.String(logging.FieldKind, string(t.Kind)),
		logging.Int("attempt", t.RetryCount+1),
	)
}

func (q *Queue) commandFor(t *task.Task) worker.Command {
	if t.Kind == task.KindBatch {
		return worker.ConvertBatchCommand{TaskID: t.ID, Files: t.Payload, Options: t.Options}
	}
	return worker.ConvertCommand{TaskID: t.ID, File: t.Payload[0], Options: t.Options}
}

// handleWorkerEvent routes one session event. Late events from replaced
// workers or already finalized tasks are dropped.
func (q *Queue) handleWorkerEvent(ev worker.Event) {
	meta := ev.Meta()
	t := q.tasks[meta.TaskID]
	live := t != nil && t.State == task.StateRunning && t.WorkerID == meta.WorkerID

	switch e := ev.(type) {
	case worker.ProgressEvent:
		if !live {
			return
		}
		q.tracker.UpdateProgress(t.ID, string(e.Stage), e.Percent, e.Message)
		out := q.taskEvent(EventProgress, t)
		out.Percent = e.Percent
		out.Stage = string(e.Stage)
		out.Message = e.Message
		q.emit(out)

	case worker.BatchProgressEvent:
		if !live {
			return
		}
		filesDone := e.Details.CompletedFiles + e.Details.FailedFiles
		q.tracker.UpdateBatchProgress(t.ID, e.Percent, filesDone, e.CurrentFile, e.Message)
		out := q.taskEvent(EventProgress, t)
		out.Percent = e.Percent
		out.CurrentFile = e.CurrentFile
		out.Message = e.Message
		q.emit(out)

	case worker.SuccessEvent:
		if !q.settleWorker(t, meta) {
			return
		}
		q.transition(t, task.StateCompleted)
		q.tracker.CompleteTask(t.ID)
		q.logger.Info("task completed",
			logging.String(logging.FieldEventType, "task_completed"),
			logging.String(logging.FieldTaskID, t.ID),
			logging.String(logging.FieldWorkerID, meta.WorkerID),
			logging.Duration("elapsed", e.Elapsed),
			logging.Int64("output_bytes", e.Result.Metadata.OutputBytes),
		)
		out := q.taskEvent(EventComplete, t)
		result := e.Result
		out.Result = &result
		q.retire(t, out)
		q.schedule()

	case worker.ErrorEvent:
		if !q.settleWorker(t, meta) {
			return
		}
		if q.cancelling[t.ID] {
			// The conversion died while a cancel request was in flight.
			// The caller asked for a stop and got one.
			q.finishCancelled(t, "cancelled during conversion")
		} else {
			q.failAttempt(t, e.Err)
		}
		q.schedule()

	case worker.CancelledEvent:
		if !q.settleWorker(t, meta) {
			return
		}
		q.finishCancelled(t, e.Message)
		q.schedule()

	case worker.BatchCompleteEvent:
		if !q.settleWorker(t, meta) {
			return
		}
		q.transition(t, task.StateCompleted)
		q.tracker.CompleteTask(t.ID)
		q.logger.Info("batch completed",
			logging.String(logging.FieldEventType, "task_completed"),
			logging.String(logging.FieldTaskID, t.ID),
			logging.String(logging.FieldWorkerID, meta.WorkerID),
			logging.Int("succeeded", e.Summary.Succeeded),
			logging.Int("failed", e.Summary.Failed),
			logging.Duration("elapsed", e.Summary.Elapsed),
		)
		out := q.taskEvent(EventComplete, t)
		out.Batch = &BatchOutcome{Results: e.Results, Errors: e.Errors, Summary: e.Summary}
		q.retire(t, out)
		q.schedule()

	case worker.BatchCancelledEvent:
		if !q.settleWorker(t, meta) {
			return
		}
		outcome := &BatchOutcome{Results: e.Results, Errors: e.Errors}
		outcome.Summary.TotalFiles = t.FileCount()
		outcome.Summary.Succeeded = len(e.Results)
		outcome.Summary.Failed = len(e.Errors)
		q.finishCancelledBatch(t, e.Message, outcome)
		q.schedule()

	case worker.TransportErrorEvent:
		logging.ErrorWithContext(q.logger, "worker transport failure", "worker_transport_error",
			logging.String(logging.FieldWorkerID, meta.WorkerID),
			logging.Error(e.Err),
			logging.String(logging.FieldErrorHint, "worker replaced; task retried if attempts remain"),
		)
		if _, err := q.pool.Replace(meta.WorkerID); err != nil {
			q.logger.Debug("worker already removed", logging.String(logging.FieldWorkerID, meta.WorkerID))
		}
		if t == nil || t.WorkerID != meta.WorkerID {
			q.schedule()
			return
		}
		if q.cancelling[t.ID] {
			q.finishCancelled(t, "cancelled during conversion")
		} else {
			q.failAttempt(t, e.Err)
		}
		q.schedule()
	}
}

// settleWorker releases the slot behind a terminal event and reports
// whether the event still applies to a live task.
func (q *Queue) settleWorker(t *task.Task, meta worker.EventMeta) bool {
	if t == nil || t.State != task.StateRunning || t.WorkerID != meta.WorkerID {
		q.logger.Debug("dropping stale worker event",
			logging.String(logging.FieldEventType, "stale_worker_event"),
			logging.String(logging.FieldTaskID, meta.TaskID),
			logging.String(logging.FieldWorkerID, meta.WorkerID),
		)
		return false
	}
	q.pool.Release(meta.TaskID)
	return true
}

// failAttempt routes a failed attempt through the retry policy: linear
// backoff while retryable attempts remain, a terminal error event once
// they are spent.
func (q *Queue) failAttempt(t *task.Task, cause error) {
	attempts := t.RetryCount + 1
	t.LastError = cause.Error()
	t.WorkerID = ""
	if services.Retryable(cause) && t.CanRetry() && !q.destroying {
		t.RetryCount++
		q.transition(t, task.StateFailed)
		q.retryErrs[t.ID] = cause
		q.governor.Untrack(t.ID)
		delay := q.cfg.RetryDelay() * time.Duration(t.RetryCount)
		logging.WarnWithContext(q.logger, "conversion failed, retry scheduled", "task_retry_scheduled",
			logging.String(logging.FieldTaskID, t.ID),
			logging.Int("attempt", attempts),
			logging.Int("max_attempts", t.MaxRetries+1),
			logging.Duration("retry_delay", delay),
			logging.Error(cause),
			logging.String(logging.FieldImpact, "task delayed, not lost"),
		)
		id := t.ID
		q.retryTimers[id] = time.AfterFunc(delay, func() {
			q.post(func() { q.requeue(id) })
		})
		return
	}
	q.transition(t, task.StateFailed)
	q.tracker.FailTask(t.ID, t.LastError)
	logging.ErrorWithContext(q.logger, "task failed permanently", "task_failed",
		logging.String(logging.FieldTaskID, t.ID),
		logging.Int("attempts", attempts),
		logging.Error(cause),
	)
	ev := q.taskEvent(EventError, t)
	ev.Error = t.LastError
	ev.ErrorKind = services.Classify(cause)
	ev.Attempts = attempts
	q.retire(t, ev)
}

// requeue returns a retry-delayed task to the pending list with a fresh
// insertion order and reset progress.
func (q *Queue) requeue(taskID string) {
	delete(q.retryTimers, taskID)
	t := q.tasks[taskID]
	if t == nil || q.destroying || t.State != task.StateFailed {
		return
	}
	delete(q.retryErrs, taskID)
	q.transition(t, task.StateQueued)
	t.Seq = q.nextSeq
	q.nextSeq++
	q.tracker.CreateTask(t.ID, progress.Meta{Files: t.FileCount(), TotalBytes: t.TotalBytes()})
	q.pending.push(t)
	q.logger.Info("task requeued for retry",
		logging.String(logging.FieldEventType, "task_requeued"),
		logging.String(logging.FieldTaskID, t.ID),
		logging.Int("attempt", t.RetryCount+1),
	)
	q.schedule()
}

// cancelTask implements cancel for one task on the loop. Queued tasks
// finalize here; running tasks get a cancel request plus a grace timer.
func (q *Queue) cancelTask(taskID, message string) bool {
	t := q.tasks[taskID]
	if t == nil {
		return false
	}
	switch t.State {
	case task.StateQueued:
		q.cancelQueued(t, message)
		q.schedule()
		return true
	case task.StateAssigned, task.StateRunning:
		q.requestCancel(t)
		return true
	default:
		// Terminal, including failed-awaiting-retry.
		return false
	}
}

// cancelQueued finalizes a task that never reached a worker.
func (q *Queue) cancelQueued(t *task.Task, message string) {
	q.pending.remove(t.ID)
	if q.admission != nil && q.admission.taskID == t.ID {
		q.admission = nil
	}
	q.transition(t, task.StateCancelled)
	q.tracker.CancelTask(t.ID, message)
	q.logger.Info("queued task cancelled",
		logging.String(logging.FieldEventType, "task_cancelled"),
		logging.String(logging.FieldTaskID, t.ID),
	)
	ev := q.taskEvent(EventCancelled, t)
	ev.Message = message
	q.retire(t, ev)
}

// requestCancel asks the running worker to stop and arms the grace timer
// that replaces it if it never answers.
func (q *Queue) requestCancel(t *task.Task) {
	if q.cancelling[t.ID] {
		return
	}
	q.cancelling[t.ID] = true
	q.pool.CancelTask(t.ID)
	q.logger.Info("cancel requested",
		logging.String(logging.FieldEventType, "cancel_requested"),
		logging.String(logging.FieldTaskID, t.ID),
		logging.String(logging.FieldWorkerID, t.WorkerID),
	)
	id := t.ID
	q.graceTimers[id] = time.AfterFunc(q.cfg.CancelGraceTimeout(), func() {
		q.post(func() { q.graceExpired(id) })
	})
}

// graceExpired force-finalizes a cancel request the worker never
// answered: the slot is replaced and the queue emits the terminal
// cancelled event itself.
func (q *Queue) graceExpired(taskID string) {
	delete(q.graceTimers, taskID)
	t := q.tasks[taskID]
	if t == nil || !q.cancelling[taskID] || t.State != task.StateRunning {
		return
	}
	logging.WarnWithContext(q.logger, "cancel unanswered past grace period, replacing worker", "cancel_grace_expired",
		logging.String(logging.FieldTaskID, taskID),
		logging.String(logging.FieldWorkerID, t.WorkerID),
		logging.String(logging.FieldImpact, "worker terminated mid-task"),
	)
	if _, err := q.pool.Replace(t.WorkerID); err != nil {
		q.logger.Debug("worker already removed", logging.String(logging.FieldWorkerID, t.WorkerID))
	}
	q.finishCancelled(t, "cancelled after grace timeout")
	q.schedule()
}

// finishCancelled finalizes a running task as cancelled.
func (q *Queue) finishCancelled(t *task.Task, message string) {
	q.transition(t, task.StateCancelled)
	q.tracker.CancelTask(t.ID, message)
	q.logger.Info("task cancelled",
		logging.String(logging.FieldEventType, "task_cancelled"),
		logging.String(logging.FieldTaskID, t.ID),
	)
	ev := q.taskEvent(EventCancelled, t)
	ev.Message = message
	q.retire(t, ev)
}

// finishCancelledBatch is finishCancelled plus the partial results the
// batch gathered before stopping.
func (q *Queue) finishCancelledBatch(t *task.Task, message string, outcome *BatchOutcome) {
	q.transition(t, task.StateCancelled)
	q.tracker.CancelTask(t.ID, message)
	q.logger.Info("batch cancelled",
		logging.String(logging.FieldEventType, "task_cancelled"),
		logging.String(logging.FieldTaskID, t.ID),
		logging.Int("completed_before_stop", len(outcome.Results)),
	)
	ev := q.taskEvent(EventCancelled, t)
	ev.Message = message
	ev.Batch = outcome
	q.retire(t, ev)
}

// cancelAllTasks cancels every queued task and requests cancellation of
// every running one. Tasks waiting out a retry delay are left alone; they
// are already failed and will requeue later.
func (q *Queue) cancelAllTasks(message string) int {
	count := 0
	for _, t := range q.pending.drain() {
		q.cancelQueued(t, message)
		count++
	}
	q.admission = nil
	for _, t := range q.tasks {
		if t.State == task.StateRunning && !q.cancelling[t.ID] {
			q.requestCancel(t)
			count++
		}
	}
	return count
}

// taskEvent seeds a subscriber event from the task record.
func (q *Queue) taskEvent(kind EventKind, t *task.Task) Event {
	return Event{
		Kind:     kind,
		TaskID:   t.ID,
		TaskKind: t.Kind,
		State:    t.State,
		Extra:    t.Options.Extra,
	}
}

// retire settles a finalized task: releases its memory reservation, stops
// its timers, stores its summary in the recent ring, and emits the
// terminal event with the summary attached.
func (q *Queue) retire(t *task.Task, ev Event) {
	q.governor.Untrack(t.ID)
	if timer := q.retryTimers[t.ID]; timer != nil {
		timer.Stop()
		delete(q.retryTimers, t.ID)
	}
	if timer := q.graceTimers[t.ID]; timer != nil {
		timer.Stop()
		delete(q.graceTimers, t.ID)
	}
	delete(q.cancelling, t.ID)
	delete(q.retryErrs, t.ID)
	delete(q.tasks, t.ID)

	snap, tracked := q.tracker.Task(t.ID)
	summary := summarize(t, snap, tracked)
	ev.Task = &summary
	ev.Percent = summary.Percent
	q.pushRecent(summary)
	q.emit(ev)
}

// pushRecent prepends a terminal task summary, newest first.
func (q *Queue) pushRecent(s TaskSummary) {
	q.recent = append(q.recent, TaskSummary{})
	copy(q.recent[1:], q.recent)
	q.recent[0] = s
	if len(q.recent) > recentTaskLimit {
		q.recent = q.recent[:recentTaskLimit]
	}
}

func (q *Queue) transition(t *task.Task, next task.State) {
	if !t.Transition(next) {
		q.logger.Error("illegal task transition",
			logging.String(logging.FieldTaskID, t.ID),
			logging.String("from", string(t.State)),
			logging.String("to", string(next)),
		)
	}
}

// snapshotStatus builds the status view from loop-owned state.
func (q *Queue) snapshotStatus(state State) QueueStatus {
	if state == StateRunning && q.paused {
		state = StatePaused
	}
	snap := q.tracker.Snapshot()
	poolStats := q.pool.Stats()
	status := QueueStatus{
		State:             state,
		QueuedTasks:       q.pending.len(),
		ActiveTasks:       q.activeCount(),
		RetryWaiting:      len(q.retryTimers),
		MaxConcurrent:     q.maxConcurrent(),
		SuccessRate:       successRate(snap),
		WorkerUtilization: utilization(poolStats),
		StartedAt:         q.startedAt,
		Uptime:            time.Since(q.startedAt),
		Progress:          snap,
		Workers:           poolStats,
		Memory:            q.governor.Stats(),
		Tasks:             q.liveSummaries(),
		Recent:            append([]TaskSummary(nil), q.recent...),
	}
	return status
}

// liveSummaries lists running tasks first, then the pending list in
// scheduling order, then tasks waiting out a retry delay.
func (q *Queue) liveSummaries() []TaskSummary {
	var running, waiting []*task.Task
	for _, t := range q.tasks {
		switch t.State {
		case task.StateAssigned, task.StateRunning:
			running = append(running, t)
		case task.StateFailed:
			waiting = append(waiting, t)
		}
	}
	sortTasksBySeq(running)
	sortTasksBySeq(waiting)

	out := make([]TaskSummary, 0, len(running)+q.pending.len()+len(waiting))
	appendSummaries := func(tasks []*task.Task) {
		for _, t := range tasks {
			snap, tracked := q.tracker.Task(t.ID)
			out = append(out, summarize(t, snap, tracked))
		}
	}
	appendSummaries(running)
	appendSummaries(q.pending.tasks())
	appendSummaries(waiting)
	return out
}

// beginDestroy runs the teardown sequence on the loop; the run loop exits
// once it returns. Queued tasks are cancelled, running workers get a
// bounded window to report their cancellation, stragglers are finalized
// by the queue itself.
func (q *Queue) beginDestroy() {
	if q.destroying {
		return
	}
	q.destroying = true
	q.logger.Info("queue destroy started",
		logging.String(logging.FieldEventType, "queue_destroy_started"),
		logging.Int("queued", q.pending.len()),
		logging.Int("active", q.activeCount()),
	)

	// Tasks waiting out a retry delay will never run; finalize them as
	// failed with the error that put them there.
	for id, timer := range q.retryTimers {
		timer.Stop()
		delete(q.retryTimers, id)
		t := q.tasks[id]
		if t == nil || t.State != task.StateFailed {
			continue
		}
		cause := q.retryErrs[id]
		q.tracker.FailTask(id, t.LastError)
		ev := q.taskEvent(EventError, t)
		ev.Error = t.LastError
		ev.ErrorKind = services.Classify(cause)
		ev.Attempts = t.RetryCount
		q.retire(t, ev)
	}

	for _, t := range q.pending.drain() {
		q.cancelQueued(t, "queue destroyed")
	}
	q.admission = nil

	// Shut the pool down first: terminating a session cancels its
	// in-flight dispatch, so running tasks produce cancelled events
	// without a per-task request.
	q.pool.Shutdown()
	deadline := time.NewTimer(drainTimeout)
	defer deadline.Stop()
drain:
	for q.activeCount() > 0 {
		select {
		case ev := <-q.workerEvents:
			q.handleWorkerEvent(ev)
		case <-deadline.C:
			break drain
		}
	}

	// Anything still marked running never answered; finalize it here.
	for _, t := range q.tasks {
		if t.State == task.StateAssigned || t.State == task.StateRunning {
			q.finishCancelled(t, "queue destroyed")
		}
	}

	q.finalStatus = new(QueueStatus)
	*q.finalStatus = q.snapshotStatus(StateDestroyed)
	q.logger.Info("queue destroyed",
		logging.String(logging.FieldEventType, "queue_destroyed"),
		logging.Int("completed", q.finalStatus.Progress.CompletedTasks),
		logging.Int("failed", q.finalStatus.Progress.FailedTasks),
		logging.Int("cancelled", q.finalStatus.Progress.CancelledTasks),
	)
}
