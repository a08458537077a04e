package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"carousel/internal/history"
	"carousel/internal/ipc"
	"carousel/internal/task"
	"carousel/internal/textutil"
)

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var (
		jsonOut bool
		states  []string
		kind    string
		limit   int
		days    int
	)

	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "List finished tasks from the journal",
		RunE: func(cmd *cobra.Command, args []string) error {
			var since time.Time
			if days > 0 {
				since = time.Now().AddDate(0, 0, -days)
			}

			return withJournal(ctx, cmd.Context(),
				func(client *ipc.Client) error {
					resp, err := client.HistoryList(ipc.HistoryListRequest{
						States: states,
						Kind:   strings.TrimSpace(kind),
						Since:  since,
						Limit:  limit,
					})
					if err != nil {
						return err
					}
					return renderHistoryEntries(cmd, resp.Entries, jsonOut)
				},
				func(queryCtx context.Context, store *history.Store) error {
					filter := history.Filter{Since: since, Limit: limit}
					for _, state := range states {
						if trimmed := strings.TrimSpace(state); trimmed != "" {
							filter.States = append(filter.States, task.State(trimmed))
						}
					}
					if trimmed := strings.TrimSpace(kind); trimmed != "" {
						filter.Kind = task.Kind(trimmed)
					}
					entries, err := store.List(queryCtx, filter)
					if err != nil {
						return err
					}
					return renderHistoryEntries(cmd, entries, jsonOut)
				})
		},
	}

	historyCmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")
	historyCmd.Flags().StringSliceVarP(&states, "state", "s", nil, "Filter by final state (repeatable)")
	historyCmd.Flags().StringVar(&kind, "kind", "", "Filter by task kind (single, batch)")
	historyCmd.Flags().IntVarP(&limit, "limit", "n", 50, "Maximum entries to list, 0 for all")
	historyCmd.Flags().IntVar(&days, "days", 0, "Only entries from the last N days")

	historyCmd.AddCommand(newHistoryPruneCommand(ctx))
	historyCmd.AddCommand(newHistoryClearCommand(ctx))

	return historyCmd
}

func newHistoryPruneCommand(ctx *commandContext) *cobra.Command {
	var days int

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Remove journal entries older than a cutoff",
		RunE: func(cmd *cobra.Command, args []string) error {
			if days <= 0 {
				return errors.New("--older-than-days must be positive")
			}
			cutoff := time.Now().AddDate(0, 0, -days)

			return withJournal(ctx, cmd.Context(),
				func(client *ipc.Client) error {
					resp, err := client.HistoryPrune(cutoff)
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Pruned %d entries\n", resp.Removed)
					return nil
				},
				func(queryCtx context.Context, store *history.Store) error {
					removed, err := store.Prune(queryCtx, cutoff)
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Pruned %d entries\n", removed)
					return nil
				})
		},
	}
	cmd.Flags().IntVar(&days, "older-than-days", 0, "Remove entries recorded more than N days ago")
	return cmd
}

func newHistoryClearCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove all journal entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withJournal(ctx, cmd.Context(),
				func(client *ipc.Client) error {
					if _, err := client.HistoryClear(); err != nil {
						return err
					}
					fmt.Fprintln(cmd.OutOrStdout(), "History cleared")
					return nil
				},
				func(queryCtx context.Context, store *history.Store) error {
					if err := store.Clear(queryCtx); err != nil {
						return err
					}
					fmt.Fprintln(cmd.OutOrStdout(), "History cleared")
					return nil
				})
		},
	}
}

func newStatsCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show lifetime conversion statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withJournal(ctx, cmd.Context(),
				func(client *ipc.Client) error {
					resp, err := client.HistoryStats()
					if err != nil {
						return err
					}
					return renderStats(cmd, resp.Stats, jsonOut)
				},
				func(queryCtx context.Context, store *history.Store) error {
					stats, err := store.Stats(queryCtx)
					if err != nil {
						return err
					}
					return renderStats(cmd, stats, jsonOut)
				})
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")
	return cmd
}

func renderHistoryEntries(cmd *cobra.Command, entries []history.Entry, jsonOut bool) error {
	if jsonOut {
		return writeJSON(cmd, entries)
	}
	if len(entries) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No history entries")
		return nil
	}
	table := renderTable(historyRowHeaders, buildHistoryRows(entries), historyRowAligns)
	fmt.Fprint(cmd.OutOrStdout(), table)
	return nil
}

func renderStats(cmd *cobra.Command, stats history.Stats, jsonOut bool) error {
	if jsonOut {
		return writeJSON(cmd, stats)
	}

	stdout := cmd.OutOrStdout()
	if stats.Total == 0 {
		fmt.Fprintln(stdout, "No finished tasks recorded")
		return nil
	}

	fmt.Fprintln(stdout, detailLine("Tasks", fmt.Sprintf("%d (%d completed, %d failed, %d cancelled)",
		stats.Total, stats.Completed, stats.Failed, stats.Cancelled)))
	fmt.Fprintln(stdout, detailLine("Files", strconv.Itoa(stats.FilesConverted)))
	if stats.OriginalBytes > 0 {
		fmt.Fprintln(stdout, detailLine("Size", textutil.FormatSavings(stats.OriginalBytes, stats.OutputBytes)))
	}
	fmt.Fprintln(stdout, detailLine("Saved", textutil.FormatBytes(stats.SavedBytes)))
	if !stats.OldestEntry.IsZero() {
		fmt.Fprintln(stdout, detailLine("Oldest", formatClock(stats.OldestEntry)))
	}
	if !stats.NewestEntry.IsZero() {
		fmt.Fprintln(stdout, detailLine("Newest", formatClock(stats.NewestEntry)))
	}
	return nil
}

// withJournal runs the daemon branch when the control socket answers and
// falls back to opening the journal directly when no daemon is listening.
// The direct branch is safe with the daemon down since nothing else holds
// the database. Dial failures other than an absent daemon surface as-is.
func withJournal(ctx *commandContext, runCtx context.Context, viaDaemon func(*ipc.Client) error, direct func(context.Context, *history.Store) error) error {
	socket := ctx.socketPath()
	client, dialErr := ipc.Dial(socket)
	if dialErr == nil {
		defer client.Close()
		return viaDaemon(client)
	}
	if !daemonUnreachable(dialErr) {
		return wrapDialError(dialErr, socket)
	}

	cfg := ctx.configValue()
	if cfg == nil || !cfg.History.Enabled {
		return wrapDialError(dialErr, socket)
	}
	store, err := history.Open(cfg.HistoryPath())
	if err != nil {
		return fmt.Errorf("open history journal: %w", err)
	}
	defer store.Close()
	return direct(runCtx, store)
}
