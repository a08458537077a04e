package ipc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"log/slog"

	"carousel/internal/config"
	"carousel/internal/convert"
	"carousel/internal/daemon"
	"carousel/internal/history"
	"carousel/internal/logging"
	"carousel/internal/logs"
	"carousel/internal/task"
)

// Server exposes daemon control via JSON-RPC over a Unix domain socket.
type Server struct {
	path      string
	daemon    *daemon.Daemon
	logger    *slog.Logger
	listener  net.Listener
	rpcServer *rpc.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer configures the IPC server on the config's socket path.
func NewServer(ctx context.Context, cfg *config.Config, d *daemon.Daemon, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("ipc server requires config")
	}
	if d == nil {
		return nil, errors.New("ipc server requires daemon")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	path := cfg.SocketPath()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create socket directory: %w", err)
	}
	if err := os.RemoveAll(path); err != nil {
		return nil, fmt.Errorf("remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on socket: %w", err)
	}

	rpcServer := rpc.NewServer()
	srv := &service{cfg: cfg, daemon: d, logger: logger, ctx: ctx}
	if err := rpcServer.RegisterName("Carousel", srv); err != nil {
		listener.Close()
		return nil, fmt.Errorf("register rpc service: %w", err)
	}

	serverCtx, cancel := context.WithCancel(ctx)
	return &Server{
		path:      path,
		daemon:    d,
		logger:    logger,
		listener:  listener,
		rpcServer: rpcServer,
		ctx:       serverCtx,
		cancel:    cancel,
	}, nil
}

// Path returns the socket path the server listens on.
func (s *Server) Path() string {
	return s.path
}

// Serve starts accepting RPC connections until the context is canceled.
func (s *Server) Serve() {
	s.logger.Debug("IPC server listening", logging.String("socket", s.path))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := s.listener.Accept()
			if err != nil {
				select {
				case <-s.ctx.Done():
					return
				default:
				}
				s.logger.Warn("accept failed",
					logging.Error(err),
					logging.String(logging.FieldEventType, "ipc_accept_failed"),
					logging.String("impact", "IPC clients may fail to connect"),
					logging.String(logging.FieldErrorHint, "Check socket permissions and restart the daemon if needed"))
				continue
			}
			s.wg.Add(1)
			go func(c net.Conn) {
				defer s.wg.Done()
				s.rpcServer.ServeCodec(jsonrpc.NewServerCodec(c))
			}(conn)
		}
	}()
}

// Close stops the server and removes the socket file.
func (s *Server) Close() {
	s.cancel()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.wg.Wait()
	if err := os.RemoveAll(s.path); err != nil {
		s.logger.Warn("failed to remove socket",
			logging.String("socket", s.path),
			logging.Error(err),
			logging.String(logging.FieldEventType, "ipc_socket_cleanup_failed"),
			logging.String("impact", "stale IPC socket may block future starts"),
			logging.String(logging.FieldErrorHint, "Remove the socket file manually or rerun carousel daemon stop"))
	}
}

type service struct {
	cfg    *config.Config
	daemon *daemon.Daemon
	logger *slog.Logger
	ctx    context.Context
}

func (s *service) log() *slog.Logger {
	if s.logger == nil {
		return logging.NewNop()
	}
	return s.logger.With(logging.String(logging.FieldComponent, "ipc"))
}

// taskOptions resolves wire options against configured defaults. Format and
// quality zero values are filled later by the queue; the metadata boolean
// has no zero sentinel, so the nil pointer falls back here.
func (s *service) taskOptions(o ConvertOptions) (task.Options, error) {
	opts := task.Options{Quality: o.Quality}
	if trimmed := strings.TrimSpace(o.Format); trimmed != "" {
		format, err := convert.ParseFormat(trimmed)
		if err != nil {
			return task.Options{}, err
		}
		opts.Format = format
	}
	if o.PreserveMetadata != nil {
		opts.PreserveMetadata = *o.PreserveMetadata
	} else {
		opts.PreserveMetadata = s.cfg.Output.PreserveMetadata
	}
	return opts, nil
}

func (s *service) Ping(_ PingRequest, resp *PingResponse) error {
	resp.PID = os.Getpid()
	return nil
}

func (s *service) Start(_ StartRequest, resp *StartResponse) error {
	s.log().Debug("daemon start requested")
	if err := s.daemon.Start(s.ctx); err != nil {
		resp.Started = false
		resp.Message = err.Error()
		return nil
	}
	resp.Started = true
	resp.Message = "daemon started"
	s.log().Info("daemon started via IPC",
		logging.String(logging.FieldEventType, "daemon_start"))
	return nil
}

func (s *service) Stop(_ StopRequest, resp *StopResponse) error {
	s.log().Debug("daemon stop requested")
	s.daemon.Stop()
	resp.Stopped = true
	s.log().Info("daemon stopped via IPC",
		logging.String(logging.FieldEventType, "daemon_stop"))
	return nil
}

func (s *service) Status(_ StatusRequest, resp *StatusResponse) error {
	resp.Daemon = s.daemon.Info()
	resp.Queue = s.daemon.QueueStatus()
	return nil
}

func (s *service) Submit(req SubmitRequest, resp *SubmitResponse) error {
	opts, err := s.taskOptions(req.Options)
	if err != nil {
		return err
	}
	id, err := s.daemon.Submit(req.Path, opts, req.Priority)
	if err != nil {
		return err
	}
	resp.TaskID = id
	if summary, ok := s.daemon.Task(id); ok {
		resp.Task = summary
	}
	return nil
}

func (s *service) SubmitBatch(req SubmitBatchRequest, resp *SubmitBatchResponse) error {
	opts, err := s.taskOptions(req.Options)
	if err != nil {
		return err
	}
	id, err := s.daemon.SubmitBatch(req.Paths, opts, req.Priority)
	if err != nil {
		return err
	}
	resp.TaskID = id
	if summary, ok := s.daemon.Task(id); ok {
		resp.Task = summary
	}
	return nil
}

func (s *service) Cancel(req CancelRequest, resp *CancelResponse) error {
	cancelled, err := s.daemon.Cancel(req.TaskID)
	if err != nil {
		return err
	}
	resp.Cancelled = cancelled
	s.log().Info("task cancel requested",
		logging.String(logging.FieldTaskID, req.TaskID),
		logging.Bool("cancelled", cancelled),
		logging.String(logging.FieldEventType, "task_cancel"))
	return nil
}

func (s *service) CancelAll(_ CancelAllRequest, resp *CancelAllResponse) error {
	cancelled, err := s.daemon.CancelAll()
	if err != nil {
		return err
	}
	resp.Cancelled = cancelled
	s.log().Info("all tasks cancelled",
		logging.Int("cancelled_count", cancelled),
		logging.String(logging.FieldEventType, "task_cancel_all"))
	return nil
}

func (s *service) Pause(req PauseRequest, resp *PauseResponse) error {
	if err := s.daemon.Pause(req.Reason); err != nil {
		return err
	}
	resp.State = s.daemon.QueueStatus().State
	s.log().Info("queue paused via IPC",
		logging.String("reason", req.Reason),
		logging.String(logging.FieldEventType, "queue_pause"))
	return nil
}

func (s *service) Resume(_ ResumeRequest, resp *ResumeResponse) error {
	if err := s.daemon.Resume(); err != nil {
		return err
	}
	resp.State = s.daemon.QueueStatus().State
	s.log().Info("queue resumed via IPC",
		logging.String(logging.FieldEventType, "queue_resume"))
	return nil
}

func (s *service) Task(req TaskRequest, resp *TaskResponse) error {
	id := strings.TrimSpace(req.TaskID)
	if id == "" {
		return errors.New("task id is required")
	}
	summary, ok := s.daemon.Task(id)
	if !ok {
		return fmt.Errorf("task %s not found", id)
	}
	resp.Task = summary
	return nil
}

func (s *service) HistoryList(req HistoryListRequest, resp *HistoryListResponse) error {
	filter := history.Filter{
		Since: req.Since,
		Limit: req.Limit,
	}
	for _, raw := range req.States {
		state := task.State(strings.ToLower(strings.TrimSpace(raw)))
		if !state.Valid() {
			continue
		}
		filter.States = append(filter.States, state)
	}
	if kind := strings.ToLower(strings.TrimSpace(req.Kind)); kind != "" {
		filter.Kind = task.Kind(kind)
	}
	entries, err := s.daemon.HistoryList(s.ctx, filter)
	if err != nil {
		return err
	}
	resp.Entries = entries
	return nil
}

func (s *service) HistoryStats(_ HistoryStatsRequest, resp *HistoryStatsResponse) error {
	stats, err := s.daemon.HistoryStats(s.ctx)
	if err != nil {
		return err
	}
	resp.Stats = stats
	return nil
}

func (s *service) HistoryPrune(req HistoryPruneRequest, resp *HistoryPruneResponse) error {
	if req.OlderThan.IsZero() {
		return errors.New("history prune requires a cutoff time")
	}
	removed, err := s.daemon.HistoryPrune(s.ctx, req.OlderThan)
	if err != nil {
		return err
	}
	resp.Removed = removed
	s.log().Info("history pruned",
		logging.Int64("removed_count", removed),
		logging.String(logging.FieldEventType, "history_prune"))
	return nil
}

func (s *service) HistoryClear(_ HistoryClearRequest, resp *HistoryClearResponse) error {
	if err := s.daemon.HistoryClear(s.ctx); err != nil {
		return err
	}
	resp.Cleared = true
	s.log().Info("history cleared",
		logging.String(logging.FieldEventType, "history_clear"))
	return nil
}

func (s *service) TestNotification(_ TestNotificationRequest, resp *TestNotificationResponse) error {
	sent, message, err := s.daemon.TestNotification(s.ctx)
	resp.Sent = sent
	resp.Message = message
	return err
}

func (s *service) LogTail(req LogTailRequest, resp *LogTailResponse) error {
	logPath := s.daemon.LogPath()
	if logPath == "" {
		resp.Offset = 0
		return nil
	}
	wait := time.Duration(req.WaitMillis) * time.Millisecond
	if wait <= 0 && req.Follow {
		wait = time.Second
	}
	options := logs.TailOptions{
		Offset: req.Offset,
		Limit:  req.Limit,
		Follow: req.Follow,
		Wait:   wait,
	}
	ctx := s.ctx
	if req.Follow && wait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(s.ctx, wait+500*time.Millisecond)
		defer cancel()
	}
	result, err := logs.Tail(ctx, logPath, options)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			resp.Offset = result.Offset
			return nil
		}
		return err
	}
	resp.Lines = result.Lines
	resp.Offset = result.Offset
	return nil
}
