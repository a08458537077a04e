package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"carousel/internal/api"
	"carousel/internal/ipc"
	"carousel/internal/queue"
	"carousel/internal/textutil"
)

func newEventsCommand(ctx *commandContext) *cobra.Command {
	var (
		follow  bool
		jsonOut bool
	)

	cmd := &cobra.Command{
		Use:   "events",
		Short: "Show recently finished tasks, or stream live events with --follow",
		RunE: func(cmd *cobra.Command, args []string) error {
			if follow {
				return followEvents(cmd, ctx, jsonOut)
			}

			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Status()
				if err != nil {
					return err
				}
				recent := resp.Queue.Recent
				if jsonOut {
					return writeJSON(cmd, recent)
				}
				if len(recent) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No recent events")
					return nil
				}
				table := renderTable(taskRowHeaders, buildTaskRows(recent), taskRowAligns)
				fmt.Fprint(cmd.OutOrStdout(), table)
				return nil
			})
		},
	}

	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Stream live events until interrupted")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")
	return cmd
}

// followEvents streams the daemon's websocket feed until the process is
// interrupted or the daemon shuts down.
func followEvents(cmd *cobra.Command, ctx *commandContext, jsonOut bool) error {
	addr, token, err := eventFeedAddress(ctx)
	if err != nil {
		return err
	}

	apiClient, err := api.NewClient(addr, token)
	if err != nil {
		return err
	}
	stream, err := apiClient.Events(cmd.Context())
	if err != nil {
		return err
	}
	defer stream.Close()

	stdout := cmd.OutOrStdout()
	encoder := json.NewEncoder(stdout)
	for {
		event, err := stream.Next()
		if err != nil {
			return fmt.Errorf("event stream closed: %w", err)
		}
		if jsonOut {
			if err := encoder.Encode(event); err != nil {
				return err
			}
			continue
		}
		fmt.Fprintln(stdout, renderEventLine(event))
	}
}

// eventFeedAddress prefers the bound address the daemon reports over IPC,
// which matters when api_bind requests an ephemeral port. The configured
// bind is the fallback for daemons started before the CLI could ask.
func eventFeedAddress(ctx *commandContext) (string, string, error) {
	var token string
	cfg := ctx.configValue()
	if cfg != nil {
		token = cfg.Paths.APIToken
	}

	socket := ctx.socketPath()
	client, dialErr := ipc.Dial(socket)
	if dialErr == nil {
		defer client.Close()
		if resp, statusErr := client.Status(); statusErr == nil && strings.TrimSpace(resp.Daemon.APIAddr) != "" {
			return resp.Daemon.APIAddr, token, nil
		}
	}

	if cfg != nil && strings.TrimSpace(cfg.Paths.APIBind) != "" {
		return cfg.Paths.APIBind, token, nil
	}
	if dialErr != nil {
		return "", "", wrapDialError(dialErr, socket)
	}
	return "", "", errors.New("daemon API address unavailable; set paths.api_bind")
}

func renderEventLine(event queue.Event) string {
	parts := []string{
		event.Timestamp.UTC().Format("15:04:05"),
		fmt.Sprintf("%-9s", string(event.Kind)),
		shortID(event.TaskID),
	}
	switch event.Kind {
	case queue.EventProgress:
		parts = append(parts, textutil.FormatPercent(event.Percent))
		if event.Stage != "" {
			parts = append(parts, event.Stage)
		}
		if event.CurrentFile != "" {
			parts = append(parts, event.CurrentFile)
		}
	case queue.EventError:
		if event.Error != "" {
			parts = append(parts, event.Error)
		}
	default:
		if event.Message != "" {
			parts = append(parts, event.Message)
		}
	}
	return strings.Join(parts, "  ")
}
