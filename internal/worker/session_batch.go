package worker

import (
	"context"
	"fmt"
	"time"

	"carousel/internal/convert"
	"carousel/internal/logging"
	"carousel/internal/services"
	"carousel/internal/task"
	"carousel/pkg/backoff"
)

const (
	batchFileAttempts = 3
	batchRetryBase    = 500 * time.Millisecond
	batchRetryMax     = 5 * time.Second
)

func (s *session) runBatch(ctx context.Context, cmd ConvertBatchCommand) {
	start := time.Now()
	ctx = services.WithTaskID(services.WithWorker(ctx, s.id), cmd.TaskID)
	logger := logging.WithContext(ctx, s.logger)

	total := len(cmd.Files)
	chunkSize := ChunkSize(averageSize(cmd.Files))
	results := make([]FileResult, 0, total)
	var fileErrors []FileError

	batchProgress := func(index int, fraction float64, name, message string) {
		done := float64(len(results) + len(fileErrors))
		percent := (done + fraction) / float64(total) * 100
		if percent < s.lastPercent {
			percent = s.lastPercent
		}
		s.lastPercent = percent
		s.emit(BatchProgressEvent{
			EventMeta:   s.meta(cmd.TaskID),
			Percent:     percent,
			CurrentFile: name,
			Message:     message,
			Details: BatchDetails{
				TotalFiles:     total,
				CompletedFiles: len(results),
				FailedFiles:    len(fileErrors),
				CurrentIndex:   index,
				ChunkSize:      chunkSize,
			},
		})
	}

	logger.Debug("batch started",
		logging.Int(logging.FieldBatchCount, total),
		logging.Int("chunk_size", chunkSize),
	)

	cancelled := false
chunks:
	for _, chunk := range Chunks(cmd.Files, chunkSize) {
		for _, file := range chunk {
			if ctx.Err() != nil {
				cancelled = true
				break chunks
			}
			index := len(results) + len(fileErrors)
			batchProgress(index, 0, file.Name, "converting "+file.Name)
			result, err := s.convertBatchFile(ctx, file, cmd.Options, func(stage convert.Stage, percent float64, message string) {
				batchProgress(index, percent/100, file.Name, message)
			})
			if err != nil {
				if ctx.Err() != nil {
					cancelled = true
					break chunks
				}
				logger.Debug("batch file failed",
					logging.Int(logging.FieldBatchIndex, index+1),
					logging.String("file", file.Name),
					logging.Error(err),
				)
				fileErrors = append(fileErrors, FileError{Index: index, Name: file.Name, Message: err.Error()})
				batchProgress(index, 0, file.Name, "failed "+file.Name)
				continue
			}
			results = append(results, result)
			batchProgress(index, 0, file.Name, "converted "+file.Name)
		}
	}

	if cancelled {
		logger.Debug("batch cancelled",
			logging.Int("completed", len(results)),
			logging.Int("failed", len(fileErrors)),
		)
		s.emit(BatchCancelledEvent{
			EventMeta: s.meta(cmd.TaskID),
			Message:   fmt.Sprintf("batch cancelled after %d of %d files", len(results)+len(fileErrors), total),
			Results:   results,
			Errors:    fileErrors,
		})
		return
	}

	summary := BatchSummary{
		TotalFiles: total,
		Succeeded:  len(results),
		Failed:     len(fileErrors),
		Elapsed:    time.Since(start),
	}
	for _, r := range results {
		summary.OriginalBytes += r.Metadata.OriginalBytes
		summary.OutputBytes += r.Metadata.OutputBytes
	}
	logger.Debug("batch finished",
		logging.Int("succeeded", summary.Succeeded),
		logging.Int("failed", summary.Failed),
		logging.Duration("elapsed", summary.Elapsed),
	)
	s.emit(BatchCompleteEvent{
		EventMeta: s.meta(cmd.TaskID),
		Results:   results,
		Errors:    fileErrors,
		Summary:   summary,
	})
}

// convertBatchFile retries one file with jittered backoff before recording
// it as failed. Queue-level retries requeue the whole batch, so the
// per-file policy stays short.
func (s *session) convertBatchFile(ctx context.Context, file task.FilePayload, opts task.Options, onUpdate func(convert.Stage, float64, string)) (FileResult, error) {
	var lastErr error
	for attempt := 1; attempt <= batchFileAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return FileResult{}, err
		}
		result, err := s.convertFile(ctx, file, opts, onUpdate)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if attempt == batchFileAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return FileResult{}, ctx.Err()
		case <-time.After(backoff.ExponentialJitter(batchRetryBase, batchRetryMax, attempt)):
		}
	}
	return FileResult{}, lastErr
}
