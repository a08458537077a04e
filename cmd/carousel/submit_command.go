package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"carousel/internal/daemon"
	"carousel/internal/ipc"
	"carousel/internal/textutil"
)

func newSubmitCommand(ctx *commandContext) *cobra.Command {
	var (
		format        string
		quality       int
		stripMetadata bool
		priority      int
		jsonOut       bool
	)

	cmd := &cobra.Command{
		Use:   "submit [path...]",
		Short: "Queue files for background conversion by the daemon",
		Long: `Submit hands files or directories to the running daemon. A single file
queues as a single task; multiple paths or a directory queue as one batch
so the files convert in order and finish with one summary.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			paths := make([]string, 0, len(args))
			for _, arg := range args {
				absPath, err := filepath.Abs(arg)
				if err != nil {
					return fmt.Errorf("resolve path: %w", err)
				}

				info, err := os.Stat(absPath)
				if err != nil {
					if errors.Is(err, os.ErrNotExist) {
						return fmt.Errorf("path does not exist: %s", absPath)
					}
					return fmt.Errorf("inspect path: %w", err)
				}
				if !info.IsDir() && !daemon.IsConvertible(info.Name()) {
					return fmt.Errorf("unsupported file extension %q", filepath.Ext(info.Name()))
				}
				paths = append(paths, absPath)
			}

			opts := ipc.ConvertOptions{Format: strings.TrimSpace(format), Quality: quality}
			if stripMetadata {
				preserve := false
				opts.PreserveMetadata = &preserve
			}

			return ctx.withClient(func(client *ipc.Client) error {
				var (
					taskID  string
					summary ipc.TaskSummary
				)
				if singleSubmitRequest(paths) {
					resp, err := client.Submit(ipc.SubmitRequest{Path: paths[0], Options: opts, Priority: priority})
					if err != nil {
						return err
					}
					if resp == nil {
						return errors.New("empty response from daemon")
					}
					taskID, summary = resp.TaskID, resp.Task
				} else {
					resp, err := client.SubmitBatch(ipc.SubmitBatchRequest{Paths: paths, Options: opts, Priority: priority})
					if err != nil {
						return err
					}
					if resp == nil {
						return errors.New("empty response from daemon")
					}
					taskID, summary = resp.TaskID, resp.Task
				}

				if jsonOut {
					return writeJSON(cmd, summary)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Queued task %s (%d files, %s)\n",
					shortID(taskID), summary.Files, textutil.FormatBytes(summary.TotalBytes))
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "", "Output format (jpeg, png, webp)")
	cmd.Flags().IntVarP(&quality, "quality", "q", 0, "Encoding quality 1-100 for lossy formats")
	cmd.Flags().BoolVar(&stripMetadata, "strip-metadata", false, "Drop EXIF and XMP metadata from outputs")
	cmd.Flags().IntVarP(&priority, "priority", "p", 0, "Scheduling priority, higher runs first")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output the queued task as JSON")
	return cmd
}

// singleSubmitRequest reports whether the submission is exactly one regular
// file, which queues as a single task instead of a batch.
func singleSubmitRequest(paths []string) bool {
	if len(paths) != 1 {
		return false
	}
	info, err := os.Stat(paths[0])
	return err == nil && info.Mode().IsRegular()
}
