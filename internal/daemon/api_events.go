package daemon

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"carousel/internal/logging"
	"carousel/internal/queue"
)

const (
	eventBuffer  = 64
	pingInterval = 30 * time.Second
	writeWait    = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// eventHub fans queue events out to connected websocket clients.
type eventHub struct {
	mu    sync.Mutex
	next  uint64
	conns map[uint64]chan queue.Event
}

func newEventHub() *eventHub {
	return &eventHub{conns: make(map[uint64]chan queue.Event)}
}

// publish queues the event for every attached connection without blocking;
// a connection that cannot keep up misses events rather than stalling the
// queue dispatcher.
func (h *eventHub) publish(event queue.Event) {
	h.mu.Lock()
	targets := make([]chan queue.Event, 0, len(h.conns))
	for _, ch := range h.conns {
		targets = append(targets, ch)
	}
	h.mu.Unlock()

	for _, ch := range targets {
		select {
		case ch <- event:
		default:
		}
	}
}

func (h *eventHub) attach() (uint64, chan queue.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.next++
	ch := make(chan queue.Event, eventBuffer)
	h.conns[h.next] = ch
	return h.next, ch
}

// detach leaves the channel open; a publish racing the detach may still
// deposit an event into it, which is harmless once nothing reads.
func (h *eventHub) detach(id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.conns, id)
}

func (h *eventHub) clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// handleEvents upgrades the request to a websocket and streams queue events
// as JSON frames until the client disconnects or the daemon stops.
func (s *apiServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log().Warn("websocket upgrade failed", logging.Error(err))
		return
	}
	defer conn.Close()

	id, events := s.events.attach()
	defer s.events.detach(id)
	s.log().Debug("event stream client connected", logging.Int("clients", s.events.clients()))

	// The read loop only exists to detect the client going away; inbound
	// frames are discarded.
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ctx := s.runCtx()
	ping := time.NewTicker(pingInterval)
	defer ping.Stop()
	for {
		select {
		case <-readDone:
			return
		case <-ctx.Done():
			deadline := time.Now().Add(writeWait)
			message := websocket.FormatCloseMessage(websocket.CloseGoingAway, "daemon stopping")
			_ = conn.WriteControl(websocket.CloseMessage, message, deadline)
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case event := <-events:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(event); err != nil {
				return
			}
		}
	}
}
