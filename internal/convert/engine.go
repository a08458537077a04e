package convert

import (
	"context"
	"errors"
	"math"
	"strings"
)

// ProgressUpdate reports engine progress. Percent is within-stage (0-100);
// callers map it onto the task-wide scale with GlobalPercent.
type ProgressUpdate struct {
	Percent float64
	Stage   string
	Message string
}

// Request describes one file conversion.
type Request struct {
	SourcePath       string
	OutputPath       string
	Format           Format
	Quality          int
	PreserveMetadata bool
}

// Metadata describes a finished conversion for events and the history journal.
type Metadata struct {
	OriginalBytes    int64   `json:"originalBytes"`
	OutputBytes      int64   `json:"outputBytes"`
	CompressionRatio float64 `json:"compressionRatio"`
}

// Result is returned by an engine on success.
type Result struct {
	OutputPath string
	Metadata   Metadata
}

// Engine converts a single HEIC/HEIF source into the requested target format.
// Implementations are expected to be slow and fallible; cancellation is
// honored via ctx between units of work, not mid-call.
type Engine interface {
	Convert(ctx context.Context, req Request, progress func(ProgressUpdate)) (Result, error)
}

// ValidateRequest checks the fields every engine needs before starting work.
func ValidateRequest(req Request) error {
	if strings.TrimSpace(req.SourcePath) == "" {
		return errors.New("source path required")
	}
	if strings.TrimSpace(req.OutputPath) == "" {
		return errors.New("output path required")
	}
	if !req.Format.Valid() {
		return errors.New("unsupported target format")
	}
	if req.Quality < 1 || req.Quality > 100 {
		return errors.New("quality out of range [1,100]")
	}
	return nil
}

// CompressionRatio derives the size-reduction percentage
// ((1 - output/original) * 100) rounded to two decimals. The value is
// deliberately unclamped: a grown output yields a negative ratio.
func CompressionRatio(originalBytes, outputBytes int64) float64 {
	if originalBytes <= 0 {
		return 0
	}
	ratio := (1 - float64(outputBytes)/float64(originalBytes)) * 100
	return math.Round(ratio*100) / 100
}

// NewMetadata assembles success metadata from the observed byte counts.
func NewMetadata(originalBytes, outputBytes int64) Metadata {
	return Metadata{
		OriginalBytes:    originalBytes,
		OutputBytes:      outputBytes,
		CompressionRatio: CompressionRatio(originalBytes, outputBytes),
	}
}
