package daemon

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"carousel/internal/history"
	"carousel/internal/logging"
	"carousel/internal/notifications"
	"carousel/internal/queue"
	"carousel/internal/services"
	"carousel/internal/task"
	"carousel/internal/textutil"
)

const (
	// journalTimeout bounds the history write for one terminal event.
	journalTimeout = 5 * time.Second
	// notifyTimeout bounds one notification publish end to end.
	notifyTimeout = 15 * time.Second
)

// subscribeBridges attaches the terminal-event handlers that mirror queue
// outcomes into the history journal and the notification service.
func (d *Daemon) subscribeBridges() {
	for _, kind := range []queue.EventKind{queue.EventComplete, queue.EventError, queue.EventCancelled} {
		sub, err := d.queue.Subscribe(kind, d.handleTerminalEvent)
		if err != nil {
			d.logger.Warn("event subscription failed",
				logging.Error(err),
				logging.String(logging.FieldKind, string(kind)),
			)
			continue
		}
		d.subs = append(d.subs, sub)
	}
}

func (d *Daemon) unsubscribeBridges() {
	for _, sub := range d.subs {
		sub.Unsubscribe()
	}
	d.subs = nil
}

// handleTerminalEvent runs on the queue dispatcher goroutine. The journal
// write is a quick local insert and stays inline; the notification is a
// network call and moves to its own goroutine so event delivery to other
// subscribers never waits on ntfy.
func (d *Daemon) handleTerminalEvent(ev queue.Event) {
	d.journalEvent(ev)
	if event, payload, ok := notificationFor(ev); ok {
		go d.publish(event, payload)
	}
	if ev.Kind == queue.EventError && ev.ErrorKind == services.KindWorkerTransport {
		d.notifyDegradedPools()
	}
}

func (d *Daemon) journalEvent(ev queue.Event) {
	if d.journal == nil {
		return
	}
	entry, ok := history.FromEvent(ev)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), journalTimeout)
	defer cancel()
	if _, err := d.journal.Record(ctx, entry); err != nil {
		d.logger.Warn("history record failed",
			logging.Error(err),
			logging.String(logging.FieldTaskID, ev.TaskID),
			logging.String(logging.FieldEventType, "history_record_failed"),
		)
	}
}

func (d *Daemon) publish(event notifications.Event, payload notifications.Payload) {
	ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
	defer cancel()
	if err := d.notifier.Publish(ctx, event, payload); err != nil {
		d.logger.Warn("notification publish failed",
			logging.Error(err),
			logging.String(logging.FieldEventType, string(event)),
		)
	}
}

func (d *Daemon) notifyQueuePaused(reason string) {
	payload := notifications.Payload{}
	if strings.TrimSpace(reason) != "" {
		payload["reason"] = strings.TrimSpace(reason)
	}
	go d.publish(notifications.EventQueuePaused, payload)
}

// notifyDegradedPools raises a push alert for every worker pool that has
// crossed its consecutive spawn-failure threshold.
func (d *Daemon) notifyDegradedPools() {
	workers := d.queue.Status().Workers
	if workers.Single.Degraded {
		go d.publish(notifications.EventPoolDegraded, notifications.Payload{"kind": string(task.KindSingle)})
	}
	if workers.Batch.Degraded {
		go d.publish(notifications.EventPoolDegraded, notifications.Payload{"kind": string(task.KindBatch)})
	}
}

// notificationFor maps a terminal queue event onto the notification it
// should raise. Cancellations are deliberate user actions and stay quiet.
func notificationFor(ev queue.Event) (notifications.Event, notifications.Payload, bool) {
	switch ev.Kind {
	case queue.EventComplete:
		if ev.TaskKind == task.KindBatch {
			return notifications.EventBatchCompleted, batchPayload(ev), true
		}
		return notifications.EventTaskCompleted, completePayload(ev), true
	case queue.EventError:
		return notifications.EventTaskFailed, failedPayload(ev), true
	default:
		return "", nil, false
	}
}

func completePayload(ev queue.Event) notifications.Payload {
	payload := notifications.Payload{"name": taskName(ev)}
	if ev.Result != nil {
		payload["output"] = ev.Result.OutputPath
		if ev.Result.Metadata.OriginalBytes > 0 {
			payload["saved"] = textutil.FormatSavings(ev.Result.Metadata.OriginalBytes, ev.Result.Metadata.OutputBytes)
		}
	}
	return payload
}

func batchPayload(ev queue.Event) notifications.Payload {
	payload := notifications.Payload{}
	if ev.Batch != nil {
		payload["succeeded"] = strconv.Itoa(ev.Batch.Summary.Succeeded)
		payload["failed"] = strconv.Itoa(ev.Batch.Summary.Failed)
		payload["duration"] = textutil.FormatDuration(ev.Batch.Summary.Elapsed)
	}
	return payload
}

func failedPayload(ev queue.Event) notifications.Payload {
	reason := ev.Error
	if reason == "" && ev.Task != nil {
		reason = ev.Task.LastError
	}
	return notifications.Payload{"name": taskName(ev), "error": reason}
}

func taskName(ev queue.Event) string {
	if ev.Task != nil && ev.Task.Kind == task.KindBatch {
		return fmt.Sprintf("batch of %d files", ev.Task.Files)
	}
	if ev.Result != nil && ev.Result.Name != "" {
		return ev.Result.Name
	}
	if ev.CurrentFile != "" {
		return filepath.Base(ev.CurrentFile)
	}
	if ev.Task != nil && ev.Task.CurrentFile != "" {
		return filepath.Base(ev.Task.CurrentFile)
	}
	return ev.TaskID
}
