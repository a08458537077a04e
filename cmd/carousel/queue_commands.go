package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"carousel/internal/ipc"
	"carousel/internal/queue"
	"carousel/internal/textutil"
)

func newQueueCommand(ctx *commandContext) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and manage conversion tasks",
	}

	queueCmd.AddCommand(newQueueStatusCommand(ctx))
	queueCmd.AddCommand(newQueueListCommand(ctx))
	queueCmd.AddCommand(newQueueShowCommand(ctx))
	queueCmd.AddCommand(newQueueCancelCommand(ctx))
	queueCmd.AddCommand(newQueuePauseCommand(ctx))
	queueCmd.AddCommand(newQueueResumeCommand(ctx))

	return queueCmd
}

func newQueueStatusCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show queue status summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Status()
				if err != nil {
					return err
				}
				if jsonOut {
					return writeJSON(cmd, resp.Queue)
				}

				stdout := cmd.OutOrStdout()
				q := resp.Queue
				fmt.Fprintf(stdout, "State: %s\n", formatStateLabel(string(q.State)))
				fmt.Fprintf(stdout, "Workers: %d of %d busy (%s utilization)\n",
					q.ActiveTasks, q.MaxConcurrent, textutil.FormatPercent(q.WorkerUtilization))
				fmt.Fprintf(stdout, "Success rate: %s\n", textutil.FormatPercent(q.SuccessRate))

				rows := buildQueueCountRows(q)
				if len(rows) == 0 {
					fmt.Fprintln(stdout, "Queue is empty")
					return nil
				}
				table := renderTable([]string{"Status", "Count"}, rows, []columnAlignment{alignLeft, alignRight})
				fmt.Fprint(stdout, table)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")
	return cmd
}

func newQueueListCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool
	var recent bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List queued and running tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Status()
				if err != nil {
					return err
				}
				tasks := resp.Queue.Tasks
				if recent {
					tasks = resp.Queue.Recent
				}
				if jsonOut {
					return writeJSON(cmd, tasks)
				}
				if len(tasks) == 0 {
					if recent {
						fmt.Fprintln(cmd.OutOrStdout(), "No recent tasks")
					} else {
						fmt.Fprintln(cmd.OutOrStdout(), "Queue is empty")
					}
					return nil
				}
				table := renderTable(taskRowHeaders, buildTaskRows(tasks), taskRowAligns)
				fmt.Fprint(cmd.OutOrStdout(), table)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")
	cmd.Flags().BoolVar(&recent, "recent", false, "List recently finished tasks instead")
	return cmd
}

func newQueueShowCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "show <task-id>",
		Short: "Show one task in detail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				taskID, err := resolveTaskID(client, args[0])
				if err != nil {
					return err
				}
				resp, err := client.Task(taskID)
				if err != nil {
					return err
				}
				if jsonOut {
					return writeJSON(cmd, resp.Task)
				}
				for _, line := range taskDetailLines(resp.Task) {
					fmt.Fprintln(cmd.OutOrStdout(), line)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")
	return cmd
}

func newQueueCancelCommand(ctx *commandContext) *cobra.Command {
	var cancelAll bool

	cmd := &cobra.Command{
		Use:   "cancel [task-id]",
		Short: "Cancel one task, or everything with --all",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if cancelAll && len(args) > 0 {
				return errors.New("specify a task id or --all, not both")
			}
			if !cancelAll && len(args) == 0 {
				return errors.New("task id required (or --all)")
			}

			return ctx.withClient(func(client *ipc.Client) error {
				out := cmd.OutOrStdout()
				if cancelAll {
					resp, err := client.CancelAll()
					if err != nil {
						return err
					}
					fmt.Fprintf(out, "Cancelled %d tasks\n", resp.Cancelled)
					return nil
				}

				taskID, err := resolveTaskID(client, args[0])
				if err != nil {
					return err
				}
				resp, err := client.Cancel(taskID)
				if err != nil {
					return err
				}
				if !resp.Cancelled {
					return fmt.Errorf("task %s could not be cancelled (already finished or waiting on a retry)", shortID(taskID))
				}
				fmt.Fprintf(out, "Cancelled task %s\n", shortID(taskID))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&cancelAll, "all", false, "Cancel every queued and running task")
	return cmd
}

func newQueuePauseCommand(ctx *commandContext) *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "pause",
		Short: "Pause dispatch of queued tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Pause(strings.TrimSpace(reason))
				if err != nil {
					return err
				}
				if resp.State != queue.StatePaused {
					return fmt.Errorf("queue did not pause (state %s)", resp.State)
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Queue paused; running tasks finish, queued tasks wait")
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "Reason recorded with the pause notification")
	return cmd
}

func newQueueResumeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "resume",
		Short: "Resume dispatch of queued tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Resume()
				if err != nil {
					return err
				}
				if resp.State != queue.StateRunning {
					return fmt.Errorf("queue did not resume (state %s)", resp.State)
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Queue resumed")
				return nil
			})
		},
	}
}

// resolveTaskID expands a short id prefix to a full task id using the
// daemon's current and recent task set. Exact matches win; an ambiguous
// prefix is an error. Unmatched input passes through unchanged so the
// daemon can report it as unknown.
func resolveTaskID(client *ipc.Client, raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", errors.New("task id is required")
	}

	resp, err := client.Status()
	if err != nil {
		return "", err
	}

	var match string
	candidates := make([]ipc.TaskSummary, 0, len(resp.Queue.Tasks)+len(resp.Queue.Recent))
	candidates = append(candidates, resp.Queue.Tasks...)
	candidates = append(candidates, resp.Queue.Recent...)
	for _, summary := range candidates {
		if summary.ID == raw {
			return raw, nil
		}
		if strings.HasPrefix(summary.ID, raw) {
			if match != "" && match != summary.ID {
				return "", fmt.Errorf("task id %s is ambiguous", raw)
			}
			match = summary.ID
		}
	}
	if match == "" {
		return raw, nil
	}
	return match, nil
}
