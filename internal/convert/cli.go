package convert

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strconv"
)

var commandContext = exec.CommandContext

// Option configures the CLI engine.
type Option func(*CLI)

// WithBinary overrides the default binary name.
func WithBinary(binary string) Option {
	return func(c *CLI) {
		if binary != "" {
			c.binary = binary
		}
	}
}

// WithExtraArgs appends fixed arguments to every invocation.
func WithExtraArgs(args []string) Option {
	return func(c *CLI) {
		c.extraArgs = append([]string(nil), args...)
	}
}

// CLI wraps an external HEIC conversion binary that emits JSON progress lines
// ({"percent":..,"stage":..,"message":..}) on stdout.
type CLI struct {
	binary    string
	extraArgs []string
}

// NewCLI constructs a CLI engine using defaults.
func NewCLI(opts ...Option) *CLI {
	cli := &CLI{binary: "heifcvt"}
	for _, opt := range opts {
		opt(cli)
	}
	return cli
}

// Convert launches the binary and streams its progress until exit. Metadata is
// derived from the source and output sizes observed on disk.
func (c *CLI) Convert(ctx context.Context, req Request, progress func(ProgressUpdate)) (Result, error) {
	if err := ValidateRequest(req); err != nil {
		return Result{}, err
	}

	sourceInfo, err := os.Stat(req.SourcePath)
	if err != nil {
		return Result{}, fmt.Errorf("stat source: %w", err)
	}

	args := []string{
		"convert",
		"--input", req.SourcePath,
		"--output", req.OutputPath,
		"--format", string(req.Format),
		"--progress-json",
	}
	if req.Format.LossyQuality() {
		args = append(args, "--quality", strconv.Itoa(req.Quality))
	}
	if req.PreserveMetadata {
		args = append(args, "--keep-metadata")
	}
	args = append(args, c.extraArgs...)

	cmd := commandContext(ctx, c.binary, args...) //nolint:gosec
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return Result{}, fmt.Errorf("stdout pipe: %w", err)
	}
	cmd.Stderr = cmd.Stdout
	if err := cmd.Start(); err != nil {
		return Result{}, fmt.Errorf("start %s: %w", c.binary, err)
	}

	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		line := scanner.Bytes()
		var payload struct {
			Percent float64 `json:"percent"`
			Stage   string  `json:"stage"`
			Message string  `json:"message"`
		}
		if err := json.Unmarshal(line, &payload); err != nil {
			continue
		}
		if progress != nil {
			progress(ProgressUpdate{Percent: payload.Percent, Stage: payload.Stage, Message: payload.Message})
		}
	}
	if err := scanner.Err(); err != nil {
		return Result{}, fmt.Errorf("read %s output: %w", c.binary, err)
	}

	if err := cmd.Wait(); err != nil {
		return Result{}, fmt.Errorf("%s convert failed: %w", c.binary, err)
	}

	outputInfo, err := os.Stat(req.OutputPath)
	if err != nil {
		return Result{}, fmt.Errorf("stat output: %w", err)
	}

	return Result{
		OutputPath: req.OutputPath,
		Metadata:   NewMetadata(sourceInfo.Size(), outputInfo.Size()),
	}, nil
}

var _ Engine = (*CLI)(nil)
