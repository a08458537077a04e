package main

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"carousel/internal/history"
	"carousel/internal/queue"
	"carousel/internal/task"
	"carousel/internal/textutil"
)

func formatStateLabel(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	parts := strings.Split(value, "_")
	for i, part := range parts {
		lower := strings.ToLower(part)
		if lower == "" {
			continue
		}
		parts[i] = strings.ToUpper(lower[:1]) + lower[1:]
	}
	return strings.Join(parts, " ")
}

// shortID trims a task UUID to its first segment for table display.
func shortID(id string) string {
	id = strings.TrimSpace(id)
	if len(id) > 8 {
		return id[:8]
	}
	if id == "" {
		return "-"
	}
	return id
}

func formatClock(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format("2006-01-02 15:04")
}

func formatFileCount(processed, total int) string {
	if total <= 1 {
		return fmt.Sprintf("%d", total)
	}
	return fmt.Sprintf("%d/%d", processed, total)
}

func buildTaskRows(items []queue.TaskSummary) [][]string {
	if len(items) == 0 {
		return nil
	}
	sorted := make([]queue.TaskSummary, len(items))
	copy(sorted, items)

	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].SubmittedAt.Equal(sorted[j].SubmittedAt) {
			return sorted[i].ID > sorted[j].ID
		}
		return sorted[i].SubmittedAt.After(sorted[j].SubmittedAt)
	})

	rows := make([][]string, 0, len(sorted))
	for _, item := range sorted {
		rows = append(rows, []string{
			shortID(item.ID),
			string(item.Kind),
			formatStateLabel(string(item.State)),
			formatFileCount(item.ProcessedFiles, item.Files),
			textutil.FormatPercent(item.Percent),
			textutil.FormatBytes(item.TotalBytes),
			formatClock(item.SubmittedAt),
		})
	}
	return rows
}

var taskRowHeaders = []string{"ID", "Kind", "State", "Files", "Progress", "Size", "Submitted"}

var taskRowAligns = []columnAlignment{
	alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignRight, alignLeft,
}

// buildQueueCountRows summarizes a queue snapshot as state/count pairs,
// omitting zero counts so an idle queue renders as empty.
func buildQueueCountRows(status queue.QueueStatus) [][]string {
	counts := []struct {
		label string
		value int
	}{
		{"Queued", status.QueuedTasks},
		{"Active", status.ActiveTasks},
		{"Retry waiting", status.RetryWaiting},
		{"Completed", status.Progress.CompletedTasks},
		{"Failed", status.Progress.FailedTasks},
		{"Cancelled", status.Progress.CancelledTasks},
	}
	var rows [][]string
	for _, count := range counts {
		if count.value == 0 {
			continue
		}
		rows = append(rows, []string{count.label, fmt.Sprintf("%d", count.value)})
	}
	return rows
}

func buildHistoryRows(entries []history.Entry) [][]string {
	if len(entries) == 0 {
		return nil
	}
	rows := make([][]string, 0, len(entries))
	for _, entry := range entries {
		saved := "-"
		if entry.State == task.StateCompleted && entry.OutputBytes > 0 {
			saved = textutil.FormatSavings(entry.TotalBytes, entry.OutputBytes)
		}
		rows = append(rows, []string{
			fmt.Sprintf("%d", entry.ID),
			shortID(entry.TaskID),
			string(entry.Kind),
			formatStateLabel(string(entry.State)),
			formatFileCount(entry.ProcessedFiles, entry.Files),
			saved,
			formatClock(entry.CompletedAt),
		})
	}
	return rows
}

var historyRowHeaders = []string{"ID", "Task", "Kind", "State", "Files", "Saved", "Finished"}

var historyRowAligns = []columnAlignment{
	alignRight, alignLeft, alignLeft, alignLeft, alignRight, alignLeft, alignLeft,
}

// taskDetailLines renders one task as aligned key/value lines for
// `queue show`.
func taskDetailLines(item queue.TaskSummary) []string {
	lines := []string{
		detailLine("ID", item.ID),
		detailLine("Kind", string(item.Kind)),
		detailLine("State", formatStateLabel(string(item.State))),
		detailLine("Priority", fmt.Sprintf("%d", item.Priority)),
		detailLine("Files", formatFileCount(item.ProcessedFiles, item.Files)),
		detailLine("Size", textutil.FormatBytes(item.TotalBytes)),
		detailLine("Progress", textutil.FormatPercent(item.Percent)),
	}
	if item.Stage != "" {
		lines = append(lines, detailLine("Stage", item.Stage))
	}
	if item.CurrentFile != "" {
		lines = append(lines, detailLine("Current file", item.CurrentFile))
	}
	if item.WorkerID != "" {
		lines = append(lines, detailLine("Worker", item.WorkerID))
	}
	if item.RetryCount > 0 || item.LastError != "" {
		lines = append(lines, detailLine("Attempts", fmt.Sprintf("%d of %d", item.RetryCount+1, item.MaxRetries+1)))
	}
	if item.LastError != "" {
		lines = append(lines, detailLine("Last error", item.LastError))
	}
	lines = append(lines, detailLine("Submitted", formatClock(item.SubmittedAt)))
	if !item.StartedAt.IsZero() {
		lines = append(lines, detailLine("Started", formatClock(item.StartedAt)))
	}
	if !item.CompletedAt.IsZero() {
		lines = append(lines, detailLine("Finished", formatClock(item.CompletedAt)))
	}
	return lines
}

func detailLine(label, value string) string {
	return fmt.Sprintf("%-14s %s", label+":", value)
}
