package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"carousel/internal/queue"
	"carousel/internal/task"
)

// Client talks to a running daemon's HTTP API.
type Client struct {
	baseURL string
	token   string
	httpc   *http.Client
}

var dialer = websocket.Dialer{
	HandshakeTimeout: 5 * time.Second,
}

// NewClient builds a client for the given API address. A bare host:port is
// treated as plain HTTP. The token may be empty when the daemon runs without
// authentication.
func NewClient(addr, token string) (*Client, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, errors.New("api address is required")
	}
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	parsed, err := url.Parse(addr)
	if err != nil {
		return nil, fmt.Errorf("parse api address: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("unsupported api scheme %q", parsed.Scheme)
	}
	return &Client{
		baseURL: strings.TrimRight(parsed.String(), "/"),
		token:   strings.TrimSpace(token),
		httpc:   &http.Client{Timeout: 10 * time.Second},
	}, nil
}

// Status fetches daemon runtime state and the queue snapshot.
func (c *Client) Status(ctx context.Context) (StatusResponse, error) {
	var out StatusResponse
	err := c.get(ctx, "/api/status", nil, &out)
	return out, err
}

// Queue lists live and recently finished tasks, optionally filtered by state.
func (c *Client) Queue(ctx context.Context, states ...task.State) (QueueListResponse, error) {
	query := url.Values{}
	for _, state := range states {
		query.Add("state", string(state))
	}
	var out QueueListResponse
	err := c.get(ctx, "/api/queue", query, &out)
	return out, err
}

// Task fetches a single task summary by ID.
func (c *Client) Task(ctx context.Context, taskID string) (queue.TaskSummary, error) {
	var out QueueItemResponse
	err := c.get(ctx, "/api/queue/"+url.PathEscape(strings.TrimSpace(taskID)), nil, &out)
	return out.Item, err
}

// History lists journal entries. Zero values leave the matching filter unset.
func (c *Client) History(ctx context.Context, states []string, kind string, since time.Time, limit int) (HistoryListResponse, error) {
	query := url.Values{}
	for _, state := range states {
		query.Add("state", state)
	}
	if kind != "" {
		query.Set("kind", kind)
	}
	if !since.IsZero() {
		query.Set("since", since.UTC().Format(time.RFC3339))
	}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	var out HistoryListResponse
	err := c.get(ctx, "/api/history", query, &out)
	return out, err
}

// Events opens the websocket event feed. The stream stays open until Close is
// called or the daemon shuts down.
func (c *Client) Events(ctx context.Context) (*EventStream, error) {
	wsURL := "ws" + strings.TrimPrefix(c.baseURL, "http") + "/api/events"
	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}
	conn, resp, err := dialer.DialContext(ctx, wsURL, header)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			if len(body) > 0 {
				return nil, fmt.Errorf("event stream upgrade failed (%d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
			}
			return nil, fmt.Errorf("event stream upgrade failed (%d)", resp.StatusCode)
		}
		return nil, err
	}
	return &EventStream{conn: conn}, nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return decodeError(resp)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func decodeError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var apiErr ErrorResponse
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Error != "" {
		return fmt.Errorf("api request failed (%d): %s", resp.StatusCode, apiErr.Error)
	}
	return fmt.Errorf("api request failed (%d)", resp.StatusCode)
}

// EventStream is a live feed of queue events from the daemon.
type EventStream struct {
	conn *websocket.Conn
}

// Next blocks until the daemon publishes an event or the stream closes.
func (s *EventStream) Next() (queue.Event, error) {
	var event queue.Event
	if err := s.conn.ReadJSON(&event); err != nil {
		return queue.Event{}, err
	}
	return event, nil
}

// Close tears the stream down.
func (s *EventStream) Close() error {
	return s.conn.Close()
}
