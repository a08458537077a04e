package ipc

import (
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"time"
)

// Client provides RPC access to the daemon.
type Client struct {
	conn   net.Conn
	client *rpc.Client
}

// Dial connects to the IPC server at the given socket path.
func Dial(path string) (*Client, error) {
	conn, err := net.DialTimeout("unix", path, 2*time.Second)
	if err != nil {
		return nil, err
	}
	rpcClient := rpc.NewClientWithCodec(jsonrpc.NewClientCodec(conn))
	return &Client{conn: conn, client: rpcClient}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	if c.client != nil {
		_ = c.client.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// Ping checks that the daemon answers on the socket.
func (c *Client) Ping() (*PingResponse, error) {
	var resp PingResponse
	if err := c.client.Call("Carousel.Ping", PingRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Start requests the daemon to start its lifecycle.
func (c *Client) Start() (*StartResponse, error) {
	var resp StartResponse
	if err := c.client.Call("Carousel.Start", StartRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Stop requests the daemon to stop its lifecycle.
func (c *Client) Stop() (*StopResponse, error) {
	var resp StopResponse
	if err := c.client.Call("Carousel.Stop", StopRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Status retrieves combined daemon and queue status.
func (c *Client) Status() (*StatusResponse, error) {
	var resp StatusResponse
	if err := c.client.Call("Carousel.Status", StatusRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Submit enqueues a single file for conversion.
func (c *Client) Submit(req SubmitRequest) (*SubmitResponse, error) {
	var resp SubmitResponse
	if err := c.client.Call("Carousel.Submit", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SubmitBatch enqueues files and directories as one batch task.
func (c *Client) SubmitBatch(req SubmitBatchRequest) (*SubmitBatchResponse, error) {
	var resp SubmitBatchResponse
	if err := c.client.Call("Carousel.SubmitBatch", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Cancel requests cancellation of one task.
func (c *Client) Cancel(taskID string) (*CancelResponse, error) {
	var resp CancelResponse
	if err := c.client.Call("Carousel.Cancel", CancelRequest{TaskID: taskID}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CancelAll cancels every queued and running task.
func (c *Client) CancelAll() (*CancelAllResponse, error) {
	var resp CancelAllResponse
	if err := c.client.Call("Carousel.CancelAll", CancelAllRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Pause suspends dispatch of queued tasks.
func (c *Client) Pause(reason string) (*PauseResponse, error) {
	var resp PauseResponse
	if err := c.client.Call("Carousel.Pause", PauseRequest{Reason: reason}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Resume resumes dispatch of queued tasks.
func (c *Client) Resume() (*ResumeResponse, error) {
	var resp ResumeResponse
	if err := c.client.Call("Carousel.Resume", ResumeRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Task returns details for a single task.
func (c *Client) Task(taskID string) (*TaskResponse, error) {
	var resp TaskResponse
	if err := c.client.Call("Carousel.Task", TaskRequest{TaskID: taskID}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// HistoryList returns journal entries matching the filter.
func (c *Client) HistoryList(req HistoryListRequest) (*HistoryListResponse, error) {
	var resp HistoryListResponse
	if err := c.client.Call("Carousel.HistoryList", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// HistoryStats returns journal aggregates.
func (c *Client) HistoryStats() (*HistoryStatsResponse, error) {
	var resp HistoryStatsResponse
	if err := c.client.Call("Carousel.HistoryStats", HistoryStatsRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// HistoryPrune removes journal entries recorded before the cutoff.
func (c *Client) HistoryPrune(olderThan time.Time) (*HistoryPruneResponse, error) {
	var resp HistoryPruneResponse
	if err := c.client.Call("Carousel.HistoryPrune", HistoryPruneRequest{OlderThan: olderThan}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// HistoryClear removes all journal entries.
func (c *Client) HistoryClear() (*HistoryClearResponse, error) {
	var resp HistoryClearResponse
	if err := c.client.Call("Carousel.HistoryClear", HistoryClearRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// TestNotification triggers a notification test via the daemon.
func (c *Client) TestNotification() (*TestNotificationResponse, error) {
	var resp TestNotificationResponse
	if err := c.client.Call("Carousel.TestNotification", TestNotificationRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// LogTail returns log lines from the daemon.
func (c *Client) LogTail(req LogTailRequest) (*LogTailResponse, error) {
	var resp LogTailResponse
	if err := c.client.Call("Carousel.LogTail", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
