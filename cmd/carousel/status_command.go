package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"carousel/internal/config"
	"carousel/internal/daemon"
	"carousel/internal/daemonctl"
	"carousel/internal/history"
	"carousel/internal/preflight"
	"carousel/internal/queue"
	"carousel/internal/textutil"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show system and queue status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := ctx.configValue()
			snapshot, err := daemonctl.BuildStatusSnapshot(cmd.Context(), ctx.socketPath(), cfg)
			if err != nil {
				return err
			}

			if jsonOut {
				return writeJSON(cmd, buildStatusDocument(snapshot, ctx.socketPath()))
			}

			stdout := cmd.OutOrStdout()
			colorize := shouldColorize(stdout)

			for _, line := range renderSectionHeader("System Status", colorize) {
				fmt.Fprintln(stdout, line)
			}
			for _, line := range systemStatusLines(cfg, snapshot, colorize) {
				fmt.Fprintln(stdout, line)
			}
			fmt.Fprintln(stdout)

			for _, line := range renderSectionHeader("Paths", colorize) {
				fmt.Fprintln(stdout, line)
			}
			for _, line := range pathStatusLines(cfg, colorize) {
				fmt.Fprintln(stdout, line)
			}

			fmt.Fprintln(stdout)
			for _, line := range renderSectionHeader("Queue Status", colorize) {
				fmt.Fprintln(stdout, line)
			}

			rows := buildQueueCountRows(snapshot.Queue)
			if len(rows) == 0 {
				fmt.Fprintln(stdout, "Queue is empty")
				return nil
			}

			table := renderTable([]string{"Status", "Count"}, rows, []columnAlignment{alignLeft, alignRight})
			fmt.Fprint(stdout, table)
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output status as JSON")
	return cmd
}

func systemStatusLines(cfg *config.Config, snapshot *daemonctl.Snapshot, colorize bool) []string {
	lines := make([]string, 0, 8)

	if snapshot.Running {
		detail := fmt.Sprintf("Running (pid %d)", snapshot.Daemon.PID)
		if !snapshot.Daemon.StartedAt.IsZero() {
			detail = fmt.Sprintf("Running (pid %d, up %s)",
				snapshot.Daemon.PID, textutil.FormatDuration(time.Since(snapshot.Daemon.StartedAt)))
		}
		lines = append(lines, renderStatusLine("Daemon", statusOK, detail, colorize))
	} else {
		lines = append(lines, renderStatusLine("Daemon", statusWarn, "Not running (start with 'carousel daemon start')", colorize))
	}

	if snapshot.Engine.Available {
		lines = append(lines, renderStatusLine("Engine", statusOK, snapshot.Engine.Command, colorize))
	} else {
		lines = append(lines, renderStatusLine("Engine", statusError, snapshot.Engine.Detail, colorize))
	}

	lines = append(lines, queueStateLine(snapshot, colorize))
	lines = append(lines, watchStatusLine(cfg, snapshot, colorize))
	lines = append(lines, mediaMonitorLine(cfg, snapshot, colorize))
	lines = append(lines, apiStatusLine(cfg, snapshot, colorize))
	lines = append(lines, notificationsLine(cfg, colorize))
	lines = append(lines, historyStatusLine(cfg, snapshot, colorize))

	return lines
}

func queueStateLine(snapshot *daemonctl.Snapshot, colorize bool) string {
	if !snapshot.Running {
		return renderStatusLine("Queue", statusInfo, "Unavailable (daemon not running)", colorize)
	}
	q := snapshot.Queue
	detail := fmt.Sprintf("%s (%d active, %d queued, max %d)",
		formatStateLabel(string(q.State)), q.ActiveTasks, q.QueuedTasks, q.MaxConcurrent)
	if q.State == queue.StatePaused {
		return renderStatusLine("Queue", statusWarn, detail, colorize)
	}
	return renderStatusLine("Queue", statusOK, detail, colorize)
}

func watchStatusLine(cfg *config.Config, snapshot *daemonctl.Snapshot, colorize bool) string {
	watchDir := strings.TrimSpace(cfg.Paths.WatchDir)
	if watchDir == "" {
		return renderStatusLine("Watcher", statusInfo, "Disabled (no watch directory configured)", colorize)
	}
	if snapshot.Daemon.Watching {
		detail := fmt.Sprintf("Watching %s", watchDir)
		if pending, err := daemon.CollectConvertibles(watchDir, 0); err == nil && len(pending) > 0 {
			detail = fmt.Sprintf("Watching %s (%d files pending)", watchDir, len(pending))
		}
		return renderStatusLine("Watcher", statusOK, detail, colorize)
	}
	if !snapshot.Running {
		return renderStatusLine("Watcher", statusInfo, "Inactive (daemon not running)", colorize)
	}
	return renderStatusLine("Watcher", statusWarn, "Configured but not active", colorize)
}

func mediaMonitorLine(cfg *config.Config, snapshot *daemonctl.Snapshot, colorize bool) string {
	if !cfg.Daemon.MediaMonitor {
		return renderStatusLine("Media Monitor", statusInfo, "Disabled", colorize)
	}
	if snapshot.Daemon.MediaMonitoring {
		return renderStatusLine("Media Monitor", statusOK, "Netlink monitoring active", colorize)
	}
	if !snapshot.Running {
		return renderStatusLine("Media Monitor", statusInfo, "Inactive (daemon not running)", colorize)
	}
	return renderStatusLine("Media Monitor", statusWarn, "Netlink unavailable (removable media will not be detected)", colorize)
}

func apiStatusLine(cfg *config.Config, snapshot *daemonctl.Snapshot, colorize bool) string {
	if snapshot.Running && strings.TrimSpace(snapshot.Daemon.APIAddr) != "" {
		return renderStatusLine("API", statusOK, fmt.Sprintf("Listening on %s", snapshot.Daemon.APIAddr), colorize)
	}
	bind := strings.TrimSpace(cfg.Paths.APIBind)
	if bind == "" {
		return renderStatusLine("API", statusInfo, "Disabled", colorize)
	}
	return renderStatusLine("API", statusInfo, fmt.Sprintf("Configured (%s)", bind), colorize)
}

func notificationsLine(cfg *config.Config, colorize bool) string {
	result := preflight.CheckNtfyFromConfig(cfg)
	switch {
	case result.Passed && result.Detail == "Disabled":
		return renderStatusLine("Notifications", statusInfo, result.Detail, colorize)
	case result.Passed:
		return renderStatusLine("Notifications", statusOK, result.Detail, colorize)
	default:
		return renderStatusLine("Notifications", statusWarn, result.Detail, colorize)
	}
}

func historyStatusLine(cfg *config.Config, snapshot *daemonctl.Snapshot, colorize bool) string {
	if !cfg.History.Enabled {
		return renderStatusLine("History", statusInfo, "Disabled", colorize)
	}
	if snapshot.History == nil {
		return renderStatusLine("History", statusWarn, "Journal unavailable", colorize)
	}
	stats := snapshot.History
	detail := fmt.Sprintf("%d entries", stats.Total)
	if stats.SavedBytes > 0 {
		detail = fmt.Sprintf("%d entries, %s saved", stats.Total, textutil.FormatBytes(stats.SavedBytes))
	}
	return renderStatusLine("History", statusOK, detail, colorize)
}

func pathStatusLines(cfg *config.Config, colorize bool) []string {
	lines := []string{
		directoryStatusLine("Output directory", cfg.Paths.OutputDir, colorize),
		directoryStatusLine("Data directory", cfg.Paths.DataDir, colorize),
		directoryStatusLine("Work directory", cfg.Paths.WorkDir, colorize),
	}
	if strings.TrimSpace(cfg.Paths.WatchDir) != "" {
		lines = append(lines, directoryStatusLine("Watch directory", cfg.Paths.WatchDir, colorize))
	}
	return lines
}

func directoryStatusLine(label, path string, colorize bool) string {
	result := preflight.CheckDirectoryAccess(label, path)
	if result.Passed {
		return renderStatusLine(label, statusOK, result.Detail, colorize)
	}
	return renderStatusLine(label, statusError, result.Detail, colorize)
}

type statusEngineDocument struct {
	Available bool   `json:"available"`
	Command   string `json:"command,omitempty"`
	Detail    string `json:"detail,omitempty"`
}

type statusDocument struct {
	Running bool                 `json:"running"`
	Socket  string               `json:"socket"`
	Daemon  daemon.Info          `json:"daemon"`
	Engine  statusEngineDocument `json:"engine"`
	Queue   queue.QueueStatus    `json:"queue"`
	History *history.Stats       `json:"history,omitempty"`
}

func buildStatusDocument(snapshot *daemonctl.Snapshot, socket string) statusDocument {
	return statusDocument{
		Running: snapshot.Running,
		Socket:  socket,
		Daemon:  snapshot.Daemon,
		Engine: statusEngineDocument{
			Available: snapshot.Engine.Available,
			Command:   snapshot.Engine.Command,
			Detail:    snapshot.Engine.Detail,
		},
		Queue:   snapshot.Queue,
		History: snapshot.History,
	}
}
