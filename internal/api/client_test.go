package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"carousel/internal/api"
	"carousel/internal/history"
	"carousel/internal/queue"
	"carousel/internal/task"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func writeJSON(t *testing.T, w http.ResponseWriter, status int, payload any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		t.Errorf("encode response: %v", err)
	}
}

func TestNewClientValidation(t *testing.T) {
	if _, err := api.NewClient("  ", ""); err == nil {
		t.Fatal("expected error for empty address")
	}
	if _, err := api.NewClient("ftp://somewhere", ""); err == nil {
		t.Fatal("expected error for unsupported scheme")
	}
	if _, err := api.NewClient("127.0.0.1:7485", ""); err != nil {
		t.Fatalf("bare host:port rejected: %v", err)
	}
	if _, err := api.NewClient("https://carousel.example/", "token"); err != nil {
		t.Fatalf("https address rejected: %v", err)
	}
}

func TestClientStatus(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			writeJSON(t, w, http.StatusUnauthorized, api.ErrorResponse{Error: "unauthorized"})
			return
		}
		writeJSON(t, w, http.StatusOK, api.StatusResponse{
			Daemon: api.DaemonInfo{Running: true, PID: 321},
			Queue:  queue.QueueStatus{State: queue.StateRunning},
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	// A bare host:port address defaults to plain HTTP.
	client, err := api.NewClient(strings.TrimPrefix(srv.URL, "http://"), "tok")
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	status, err := client.Status(context.Background())
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if !status.Daemon.Running || status.Daemon.PID != 321 {
		t.Fatalf("unexpected daemon payload: %+v", status.Daemon)
	}
	if status.Queue.State != queue.StateRunning {
		t.Fatalf("unexpected queue state: %s", status.Queue.State)
	}

	unauthorized, err := api.NewClient(srv.URL, "wrong")
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if _, err := unauthorized.Status(context.Background()); err == nil {
		t.Fatal("expected error for rejected token")
	} else if !strings.Contains(err.Error(), "401") || !strings.Contains(err.Error(), "unauthorized") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestClientQueue(t *testing.T) {
	var gotStates []string
	mux := http.NewServeMux()
	mux.HandleFunc("/api/queue", func(w http.ResponseWriter, r *http.Request) {
		gotStates = r.URL.Query()["state"]
		writeJSON(t, w, http.StatusOK, api.QueueListResponse{
			Items: []queue.TaskSummary{{ID: "t1", State: task.StateQueued}},
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client, err := api.NewClient(srv.URL, "")
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	resp, err := client.Queue(context.Background(), task.StateQueued, task.StateRunning)
	if err != nil {
		t.Fatalf("Queue failed: %v", err)
	}
	if len(resp.Items) != 1 || resp.Items[0].ID != "t1" {
		t.Fatalf("unexpected items: %+v", resp.Items)
	}
	if len(gotStates) != 2 || gotStates[0] != "queued" || gotStates[1] != "running" {
		t.Fatalf("unexpected state query: %v", gotStates)
	}
}

func TestClientTask(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/queue/", func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimPrefix(r.URL.Path, "/api/queue/")
		if id != "abc" {
			writeJSON(t, w, http.StatusNotFound, api.ErrorResponse{Error: "task not found"})
			return
		}
		writeJSON(t, w, http.StatusOK, api.QueueItemResponse{
			Item: queue.TaskSummary{ID: "abc", State: task.StateRunning},
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client, err := api.NewClient(srv.URL, "")
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	item, err := client.Task(context.Background(), " abc ")
	if err != nil {
		t.Fatalf("Task failed: %v", err)
	}
	if item.ID != "abc" || item.State != task.StateRunning {
		t.Fatalf("unexpected item: %+v", item)
	}

	if _, err := client.Task(context.Background(), "missing"); err == nil {
		t.Fatal("expected error for unknown task")
	} else if !strings.Contains(err.Error(), "task not found") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestClientHistory(t *testing.T) {
	var gotQuery url.Values
	mux := http.NewServeMux()
	mux.HandleFunc("/api/history", func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		writeJSON(t, w, http.StatusOK, api.HistoryListResponse{
			Entries: []history.Entry{{TaskID: "t1", Kind: task.KindBatch, State: task.StateCompleted}},
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client, err := api.NewClient(srv.URL, "")
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	since := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	resp, err := client.History(context.Background(), []string{"completed", "failed"}, "batch", since, 25)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(resp.Entries) != 1 || resp.Entries[0].TaskID != "t1" {
		t.Fatalf("unexpected entries: %+v", resp.Entries)
	}
	if states := gotQuery["state"]; len(states) != 2 || states[0] != "completed" {
		t.Fatalf("unexpected state query: %v", states)
	}
	if gotQuery.Get("kind") != "batch" {
		t.Fatalf("unexpected kind query: %q", gotQuery.Get("kind"))
	}
	if gotQuery.Get("since") != since.Format(time.RFC3339) {
		t.Fatalf("unexpected since query: %q", gotQuery.Get("since"))
	}
	if gotQuery.Get("limit") != "25" {
		t.Fatalf("unexpected limit query: %q", gotQuery.Get("limit"))
	}
}

func TestClientEvents(t *testing.T) {
	published := []queue.Event{
		{Kind: queue.EventProgress, TaskID: "t1", Percent: 50},
		{Kind: queue.EventComplete, TaskID: "t1", Percent: 100},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/events", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			writeJSON(t, w, http.StatusUnauthorized, api.ErrorResponse{Error: "unauthorized"})
			return
		}
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		defer conn.Close()
		for _, event := range published {
			if err := conn.WriteJSON(event); err != nil {
				t.Errorf("write event: %v", err)
				return
			}
		}
		deadline := time.Now().Add(time.Second)
		message := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = conn.WriteControl(websocket.CloseMessage, message, deadline)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	denied, err := api.NewClient(srv.URL, "wrong")
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if _, err := denied.Events(context.Background()); err == nil {
		t.Fatal("expected error for rejected token")
	} else if !strings.Contains(err.Error(), "401") {
		t.Fatalf("unexpected error: %v", err)
	}

	client, err := api.NewClient(srv.URL, "tok")
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	stream, err := client.Events(context.Background())
	if err != nil {
		t.Fatalf("Events failed: %v", err)
	}
	defer stream.Close()

	for _, want := range published {
		event, err := stream.Next()
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		if event.Kind != want.Kind || event.TaskID != want.TaskID {
			t.Fatalf("unexpected event: %+v", event)
		}
	}
	if _, err := stream.Next(); err == nil {
		t.Fatal("expected stream end after close frame")
	}
}
