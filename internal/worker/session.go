package worker

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"carousel/internal/convert"
	"carousel/internal/fileutil"
	"carousel/internal/logging"
	"carousel/internal/services"
	"carousel/internal/task"
)

// SessionConfig carries the pieces every spawned session needs.
type SessionConfig struct {
	// Engine constructs the conversion engine for a freshly spawned
	// session. A spawn fails when it returns an error.
	Engine func() (convert.Engine, error)

	OutputDir          string
	WorkDir            string
	OverwriteExisting  bool
	NormalizeFilenames bool

	// ConvertTimeout bounds a single engine call. Zero means no limit.
	// A timeout surfaces as a conversion error, not a cancellation.
	ConvertTimeout time.Duration

	Logger *slog.Logger
}

type session struct {
	id         string
	kind       task.Kind
	engine     convert.Engine
	events     chan<- Event
	dispatches <-chan dispatch

	outputDir string
	workDir   string
	overwrite bool
	normalize bool
	timeout   time.Duration

	logger  *slog.Logger
	sampler *logging.ProgressSampler

	currentTask string
	lastPercent float64
}

func newSession(id string, kind task.Kind, engine convert.Engine, cfg SessionConfig, dispatches <-chan dispatch, events chan<- Event) *session {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	return &session{
		id:         id,
		kind:       kind,
		engine:     engine,
		events:     events,
		dispatches: dispatches,
		outputDir:  cfg.OutputDir,
		workDir:    cfg.WorkDir,
		overwrite:  cfg.OverwriteExisting,
		normalize:  cfg.NormalizeFilenames,
		timeout:    cfg.ConvertTimeout,
		logger: logging.NewComponentLogger(logger, "worker").With(
			logging.String(logging.FieldWorkerID, id),
			logging.String(logging.FieldKind, string(kind)),
		),
		sampler: logging.NewProgressSampler(5),
	}
}

// run drains dispatches until the channel closes. A panic anywhere in the
// session surfaces as a transport error so the pool can replace it.
func (s *session) run() {
	defer func() {
		if r := recover(); r != nil {
			err := services.Wrap(services.ErrWorkerTransport, "worker", "run", fmt.Sprintf("session panicked: %v", r), nil)
			s.emit(TransportErrorEvent{EventMeta: s.meta(s.currentTask), Err: err})
		}
	}()
	for d := range s.dispatches {
		s.currentTask = d.cmd.CommandTaskID()
		s.lastPercent = 0
		s.sampler.Reset()
		switch cmd := d.cmd.(type) {
		case ConvertCommand:
			s.runSingle(d.ctx, cmd)
		case ConvertBatchCommand:
			s.runBatch(d.ctx, cmd)
		}
		s.currentTask = ""
	}
}

func (s *session) emit(event Event) {
	s.events <- event
}

func (s *session) meta(taskID string) EventMeta {
	return EventMeta{WorkerID: s.id, TaskID: taskID}
}

func (s *session) runSingle(ctx context.Context, cmd ConvertCommand) {
	start := time.Now()
	ctx = services.WithTaskID(services.WithWorker(ctx, s.id), cmd.TaskID)
	logger := logging.WithContext(ctx, s.logger)

	if s.emitIfCancelled(ctx, cmd.TaskID, "cancelled before start") {
		return
	}
	s.progress(cmd.TaskID, convert.StageLoading, 0, "preparing "+cmd.File.Name)

	result, err := s.convertFile(ctx, cmd.File, cmd.Options, func(stage convert.Stage, percent float64, message string) {
		s.progress(cmd.TaskID, stage, percent, message)
	})
	if err != nil {
		if ctx.Err() != nil {
			logger.Debug("conversion cancelled", logging.String("file", cmd.File.Name))
			s.emit(CancelledEvent{EventMeta: s.meta(cmd.TaskID), Message: "conversion cancelled"})
			return
		}
		logger.Debug("conversion failed", logging.Error(err), logging.String("file", cmd.File.Name))
		s.emit(ErrorEvent{EventMeta: s.meta(cmd.TaskID), Err: err})
		return
	}

	logger.Debug("conversion finished",
		logging.String("file", cmd.File.Name),
		logging.String("output", result.OutputPath),
		logging.Duration("elapsed", time.Since(start)),
	)
	s.emit(SuccessEvent{EventMeta: s.meta(cmd.TaskID), Result: result, Elapsed: time.Since(start)})
}

// progress emits a monotonic progress event and logs a sampled subset.
func (s *session) progress(taskID string, stage convert.Stage, percent float64, message string) {
	if percent < s.lastPercent {
		percent = s.lastPercent
	}
	s.lastPercent = percent
	s.emit(ProgressEvent{EventMeta: s.meta(taskID), Stage: stage, Percent: percent, Message: message})
	if s.sampler.ShouldLog(percent, string(stage), message) {
		s.logger.Debug("conversion progress",
			logging.String(logging.FieldTaskID, taskID),
			logging.String(logging.FieldStage, string(stage)),
			logging.Float64("percent", percent),
		)
	}
}

func (s *session) emitIfCancelled(ctx context.Context, taskID, message string) bool {
	select {
	case <-ctx.Done():
		s.emit(CancelledEvent{EventMeta: s.meta(taskID), Message: message})
		return true
	default:
		return false
	}
}

// convertFile runs the full stage sequence for one file: stat the source,
// convert into a work-dir scratch path, then move the output into place.
func (s *session) convertFile(ctx context.Context, file task.FilePayload, opts task.Options, onUpdate func(convert.Stage, float64, string)) (FileResult, error) {
	if _, err := os.Stat(file.Path); err != nil {
		return FileResult{}, services.Wrap(services.ErrConversion, "worker", "load", fmt.Sprintf("source not readable: %s", file.Name), err)
	}
	onUpdate(convert.StageLoading, convert.GlobalPercent(convert.StageLoading, 1), "loaded "+file.Name)

	finalPath, workPath, err := s.resolvePaths(file, opts)
	if err != nil {
		return FileResult{}, err
	}

	engineCtx := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		engineCtx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	stage := convert.StageDecoding
	result, err := s.engine.Convert(engineCtx, convert.Request{
		SourcePath:       file.Path,
		OutputPath:       workPath,
		Format:           opts.Format,
		Quality:          opts.Quality,
		PreserveMetadata: opts.PreserveMetadata,
	}, func(update convert.ProgressUpdate) {
		if parsed, ok := convert.ParseStage(update.Stage); ok {
			stage = parsed
		}
		onUpdate(stage, convert.GlobalPercent(stage, update.Percent/100), update.Message)
	})
	if err != nil {
		_ = os.Remove(workPath)
		return FileResult{}, err
	}
	if ctx.Err() != nil {
		_ = os.Remove(workPath)
		return FileResult{}, ctx.Err()
	}

	onUpdate(convert.StageFinalizing, convert.GlobalPercent(convert.StageFinalizing, 0.5), "writing "+filepath.Base(finalPath))
	if err := fileutil.MoveFile(workPath, finalPath); err != nil {
		_ = os.Remove(workPath)
		return FileResult{}, services.Wrap(services.ErrConversion, "worker", "finalize", "move output into place", err)
	}
	onUpdate(convert.StageComplete, 100, "complete")

	return FileResult{Name: file.Name, OutputPath: finalPath, Metadata: result.Metadata}, nil
}

func (s *session) resolvePaths(file task.FilePayload, opts task.Options) (finalPath, workPath string, err error) {
	if err := os.MkdirAll(s.outputDir, 0o755); err != nil {
		return "", "", services.Wrap(services.ErrConversion, "worker", "prepare", "create output directory", err)
	}
	if err := os.MkdirAll(s.workDir, 0o755); err != nil {
		return "", "", services.Wrap(services.ErrConversion, "worker", "prepare", "create work directory", err)
	}

	ext := opts.Format.Extension()
	finalPath = filepath.Join(s.outputDir, fileutil.OutputName(file.Name, ext, s.normalize))
	if !s.overwrite {
		finalPath, err = fileutil.UniquePath(finalPath)
		if err != nil {
			return "", "", services.Wrap(services.ErrConversion, "worker", "prepare", "resolve output path", err)
		}
	}
	workPath = filepath.Join(s.workDir, uuid.NewString()+ext)
	return finalPath, workPath, nil
}
