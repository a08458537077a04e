package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"carousel/internal/config"
	"carousel/internal/convert"
	"carousel/internal/daemon"
	"carousel/internal/logging"
	"carousel/internal/queue"
	"carousel/internal/task"
	"carousel/internal/textutil"
)

// cancelDrainTimeout bounds how long an interrupted conversion waits for the
// queue to confirm the cancellation before giving up.
const cancelDrainTimeout = 10 * time.Second

func newConvertCommand(ctx *commandContext) *cobra.Command {
	var (
		format        string
		quality       int
		stripMetadata bool
		outputDir     string
		jsonOut       bool
	)

	cmd := &cobra.Command{
		Use:   "convert [path...]",
		Short: "Convert files immediately without the daemon",
		Long: `Convert runs a one-shot conversion in the current process. Directories
are expanded to their convertible files, multiple paths become a single
batch. The daemon is not involved; output lands in the configured output
directory unless --output overrides it.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := ctx.configValue()

			payloads, err := daemon.ResolveSources(args)
			if err != nil {
				return err
			}

			opts := task.Options{PreserveMetadata: cfg.Output.PreserveMetadata}
			if strings.TrimSpace(format) != "" {
				parsed, err := convert.ParseFormat(format)
				if err != nil {
					return err
				}
				opts.Format = parsed
			}
			if quality > 0 {
				opts.Quality = quality
			}
			if stripMetadata {
				opts.PreserveMetadata = false
			}

			runCfg := *cfg
			if dir := strings.TrimSpace(outputDir); dir != "" {
				expanded, err := config.ExpandPath(dir)
				if err != nil {
					return err
				}
				runCfg.Paths.OutputDir = expanded
			}
			if err := runCfg.EnsureDirectories(); err != nil {
				return err
			}

			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			q := queue.New(&runCfg, logging.NewNop())
			defer func() { _ = q.Destroy() }()

			terminal := make(chan queue.Event, 1)
			for _, kind := range []queue.EventKind{queue.EventComplete, queue.EventError, queue.EventCancelled} {
				sub, err := q.Subscribe(kind, func(ev queue.Event) {
					select {
					case terminal <- ev:
					default:
					}
				})
				if err != nil {
					return err
				}
				defer sub.Unsubscribe()
			}

			stdout := cmd.OutOrStdout()
			showProgress := !jsonOut && shouldColorize(stdout)
			if showProgress {
				sub, err := q.Subscribe(queue.EventProgress, func(ev queue.Event) {
					line := fmt.Sprintf("%s %s", textutil.FormatPercent(ev.Percent), ev.Stage)
					if ev.CurrentFile != "" {
						line += " " + ev.CurrentFile
					}
					fmt.Fprintf(stdout, "\r\x1b[2K%s", line)
				})
				if err != nil {
					return err
				}
				defer sub.Unsubscribe()
			}

			var taskID string
			if singleFileRequest(args, payloads) {
				taskID, err = q.Submit(payloads[0], opts, 0)
			} else {
				taskID, err = q.SubmitBatch(payloads, opts, 0)
			}
			if err != nil {
				return err
			}

			var outcome queue.Event
			select {
			case outcome = <-terminal:
			case <-runCtx.Done():
				_, _ = q.Cancel(taskID)
				select {
				case outcome = <-terminal:
				case <-time.After(cancelDrainTimeout):
					return runCtx.Err()
				}
			}

			if showProgress {
				fmt.Fprint(stdout, "\r\x1b[2K")
			}
			return renderConvertOutcome(cmd, outcome, jsonOut)
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "", "Output format (jpeg, png, webp)")
	cmd.Flags().IntVarP(&quality, "quality", "q", 0, "Encoding quality 1-100 for lossy formats")
	cmd.Flags().BoolVar(&stripMetadata, "strip-metadata", false, "Drop EXIF and XMP metadata from outputs")
	cmd.Flags().StringVarP(&outputDir, "output", "o", "", "Output directory override")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output the terminal event as JSON")
	return cmd
}

// singleFileRequest reports whether the invocation names exactly one regular
// file. Anything else, including a directory holding one file, converts as a
// batch so the output keeps batch accounting.
func singleFileRequest(args []string, payloads []task.FilePayload) bool {
	if len(args) != 1 || len(payloads) != 1 {
		return false
	}
	info, err := os.Stat(args[0])
	return err == nil && info.Mode().IsRegular()
}

func renderConvertOutcome(cmd *cobra.Command, ev queue.Event, jsonOut bool) error {
	if jsonOut {
		if err := writeJSON(cmd, ev); err != nil {
			return err
		}
		return convertExitError(ev)
	}

	stdout := cmd.OutOrStdout()
	switch ev.Kind {
	case queue.EventComplete:
		if ev.Batch != nil {
			return renderBatchOutcome(stdout, ev.Batch)
		}
		if ev.Result != nil {
			fmt.Fprintf(stdout, "Converted %s -> %s (%s)\n",
				ev.Result.Name,
				ev.Result.OutputPath,
				textutil.FormatSavings(ev.Result.Metadata.OriginalBytes, ev.Result.Metadata.OutputBytes))
			return nil
		}
		fmt.Fprintln(stdout, "Conversion complete")
		return nil
	case queue.EventCancelled:
		return errors.New("conversion cancelled")
	default:
		return convertExitError(ev)
	}
}

func renderBatchOutcome(stdout io.Writer, batch *queue.BatchOutcome) error {
	rows := make([][]string, 0, len(batch.Results)+len(batch.Errors))
	for _, res := range batch.Results {
		rows = append(rows, []string{
			res.Name,
			res.OutputPath,
			textutil.FormatSavings(res.Metadata.OriginalBytes, res.Metadata.OutputBytes),
		})
	}
	for _, fileErr := range batch.Errors {
		rows = append(rows, []string{fileErr.Name, "-", "failed: " + fileErr.Message})
	}
	if len(rows) > 0 {
		table := renderTable([]string{"File", "Output", "Result"}, rows, []columnAlignment{alignLeft, alignLeft, alignLeft})
		fmt.Fprint(stdout, table)
	}

	summary := batch.Summary
	fmt.Fprintf(stdout, "Converted %d of %d files in %s (%s)\n",
		summary.Succeeded,
		summary.TotalFiles,
		textutil.FormatDuration(summary.Elapsed),
		textutil.FormatSavings(summary.OriginalBytes, summary.OutputBytes))
	if summary.Failed > 0 {
		return fmt.Errorf("%d of %d files failed", summary.Failed, summary.TotalFiles)
	}
	return nil
}

// convertExitError maps a terminal event to the command's exit error so
// scripted callers see a non-zero status on failure.
func convertExitError(ev queue.Event) error {
	switch ev.Kind {
	case queue.EventComplete:
		if ev.Batch != nil && ev.Batch.Summary.Failed > 0 {
			return fmt.Errorf("%d of %d files failed", ev.Batch.Summary.Failed, ev.Batch.Summary.TotalFiles)
		}
		return nil
	case queue.EventCancelled:
		return errors.New("conversion cancelled")
	default:
		if strings.TrimSpace(ev.Error) != "" {
			return fmt.Errorf("conversion failed: %s", ev.Error)
		}
		return errors.New("conversion failed")
	}
}
