package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"log/slog"

	"carousel/internal/api"
	"carousel/internal/config"
	"carousel/internal/history"
	"carousel/internal/logging"
	"carousel/internal/queue"
	"carousel/internal/task"
)

const historyDefaultLimit = 100

// apiServer exposes daemon state over HTTP on the configured bind address.
// All endpoints are read-only; mutations go through the IPC socket.
type apiServer struct {
	bind   string
	token  string
	logger *slog.Logger
	daemon *Daemon
	events *eventHub
	server *http.Server

	mu       sync.Mutex
	ctx      context.Context
	listener net.Listener
	addr     string
	subs     []*queue.Subscription
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) *apiServer {
	if cfg == nil || d == nil {
		return nil
	}
	bind := strings.TrimSpace(cfg.Paths.APIBind)
	if bind == "" {
		return nil
	}

	srv := &apiServer{
		bind:   bind,
		token:  strings.TrimSpace(cfg.Paths.APIToken),
		logger: logger,
		daemon: d,
		events: newEventHub(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", authMiddleware(srv.token, srv.handleStatus))
	mux.HandleFunc("/api/queue", authMiddleware(srv.token, srv.handleQueue))
	mux.HandleFunc("/api/queue/", authMiddleware(srv.token, srv.handleQueueItem))
	mux.HandleFunc("/api/history", authMiddleware(srv.token, srv.handleHistory))
	mux.HandleFunc("/api/events", authMiddleware(srv.token, srv.handleEvents))

	srv.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv
}

func (s *apiServer) start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}

	s.mu.Lock()
	s.ctx = ctx
	s.listener = listener
	s.addr = listener.Addr().String()
	s.mu.Unlock()

	s.subscribeQueue()

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log().Error("api server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.log().Info("api server listening",
		logging.String("address", s.Addr()),
		logging.String(logging.FieldEventType, "api_started"),
	)
	return nil
}

func (s *apiServer) stop() {
	if s == nil {
		return
	}

	s.mu.Lock()
	subs := s.subs
	s.subs = nil
	listener := s.listener
	s.listener = nil
	s.addr = ""
	s.mu.Unlock()

	for _, sub := range subs {
		sub.Unsubscribe()
	}
	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}
	if listener != nil {
		_ = listener.Close()
	}
}

// Addr reports the bound listen address, empty until the server starts.
func (s *apiServer) Addr() string {
	if s == nil {
		return ""
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

func (s *apiServer) runCtx() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx == nil {
		return context.Background()
	}
	return s.ctx
}

// subscribeQueue bridges queue events into the websocket hub. Handlers run
// on the queue dispatcher, so the hub must never block.
func (s *apiServer) subscribeQueue() {
	kinds := queue.Kinds()
	subs := make([]*queue.Subscription, 0, len(kinds))
	for _, kind := range kinds {
		sub, err := s.daemon.Subscribe(kind, s.events.publish)
		if err != nil {
			s.log().Warn("event stream subscription failed", logging.Error(err))
			continue
		}
		subs = append(subs, sub)
	}
	s.mu.Lock()
	s.subs = subs
	s.mu.Unlock()
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.writeJSON(w, http.StatusOK, api.StatusResponse{
		Daemon: daemonInfoPayload(s.daemon.Info()),
		Queue:  s.daemon.QueueStatus(),
	})
}

func (s *apiServer) handleQueue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	states := make(map[task.State]bool)
	for _, value := range r.URL.Query()["state"] {
		state := task.State(strings.ToLower(strings.TrimSpace(value)))
		if state.Valid() {
			states[state] = true
		}
	}

	status := s.daemon.QueueStatus()
	items := make([]queue.TaskSummary, 0, len(status.Tasks)+len(status.Recent))
	for _, summary := range status.Tasks {
		if len(states) == 0 || states[summary.State] {
			items = append(items, summary)
		}
	}
	for _, summary := range status.Recent {
		if len(states) == 0 || states[summary.State] {
			items = append(items, summary)
		}
	}
	s.writeJSON(w, http.StatusOK, api.QueueListResponse{Items: items})
}

func (s *apiServer) handleQueueItem(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/api/queue/")
	if id == "" || strings.Contains(id, "/") {
		s.writeError(w, http.StatusNotFound, "task not found")
		return
	}
	summary, ok := s.daemon.Task(id)
	if !ok {
		s.writeError(w, http.StatusNotFound, "task not found")
		return
	}
	s.writeJSON(w, http.StatusOK, api.QueueItemResponse{Item: summary})
}

func (s *apiServer) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	query := r.URL.Query()
	filter := history.Filter{Limit: historyDefaultLimit}
	for _, value := range query["state"] {
		state := task.State(strings.ToLower(strings.TrimSpace(value)))
		if state.Valid() {
			filter.States = append(filter.States, state)
		}
	}
	if kind := strings.TrimSpace(query.Get("kind")); kind != "" {
		filter.Kind = task.Kind(strings.ToLower(kind))
	}
	if raw := strings.TrimSpace(query.Get("since")); raw != "" {
		if since, err := time.Parse(time.RFC3339, raw); err == nil {
			filter.Since = since
		}
	}
	if limit, err := strconv.Atoi(query.Get("limit")); err == nil && limit > 0 {
		filter.Limit = limit
	}

	entries, err := s.daemon.HistoryList(r.Context(), filter)
	if err != nil {
		if errors.Is(err, ErrHistoryDisabled) {
			s.writeJSON(w, http.StatusOK, api.HistoryListResponse{Entries: nil})
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, api.HistoryListResponse{Entries: entries})
}

func daemonInfoPayload(info Info) api.DaemonInfo {
	return api.DaemonInfo{
		Running:         info.Running,
		PID:             info.PID,
		StartedAt:       info.StartedAt,
		LockPath:        info.LockPath,
		LogPath:         info.LogPath,
		HistoryPath:     info.HistoryPath,
		WatchDir:        info.WatchDir,
		Watching:        info.Watching,
		MediaMonitoring: info.MediaMonitoring,
		APIAddr:         info.APIAddr,
	}
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log().Error("failed to encode response", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, api.ErrorResponse{Error: message})
}

func (s *apiServer) log() *slog.Logger {
	if s.logger != nil {
		return logging.NewComponentLogger(s.logger, "api")
	}
	return logging.NewNop()
}
