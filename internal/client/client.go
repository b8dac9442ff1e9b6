// Package client implements a remote Engine-equivalent facade over HTTP +
// SSE, so the CLI and the (out-of-scope) TUI can talk to a surged daemon
// exactly as they would an embedded engine. Grounded directly on
// teal33t-Surge's RemoteDownloadService (internal/core/remote_service.go):
// same doRequest/Bearer-token/reconnect-with-backoff shape, adapted to
// this module's routes and JSON schema instead of teal33t's /list,
// /history, events.*Msg types.
package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/surge-downloader/surge/internal/engine/model"
)

// Status mirrors the api package's statusView wire shape.
type Status struct {
	ID       string              `json:"id"`
	State    model.ObservedState `json:"state"`
	Segments []model.Segment     `json:"segments"`
}

// Event mirrors one SSE frame's decoded payload.
type Event struct {
	Type     string
	TaskID   string              `json:"taskId"`
	State    model.ObservedState `json:"state,omitempty"`
	Progress model.Progress      `json:"progress,omitempty"`
	Err      *model.ErrorRecord  `json:"error,omitempty"`
}

// Client talks to a surged daemon's REST + SSE surface.
type Client struct {
	BaseURL   string
	Token     string
	HTTP      *http.Client
	SSEClient *http.Client

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a Client against baseURL (no trailing slash), authenticating
// with token (empty disables the Authorization header).
func New(baseURL, token string) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		BaseURL:   strings.TrimSuffix(baseURL, "/"),
		Token:     token,
		HTTP:      &http.Client{Timeout: 30 * time.Second},
		SSEClient: &http.Client{},
		ctx:       ctx,
		cancel:    cancel,
	}
}

func (c *Client) doRequest(method, path string, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(c.ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return nil, err
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("api error %d: %s", resp.StatusCode, string(msg))
	}
	return resp, nil
}

// Add queues a new download and returns its taskId.
func (c *Client) Add(req model.DownloadRequest) (string, error) {
	resp, err := c.doRequest(http.MethodPost, "/download", req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	var out map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	return out["id"], nil
}

// List returns every task's status.
func (c *Client) List() ([]Status, error) {
	resp, err := c.doRequest(http.MethodGet, "/list", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	var out []Status
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

// History returns only terminal tasks.
func (c *Client) History() ([]Status, error) {
	resp, err := c.doRequest(http.MethodGet, "/history", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	var out []Status
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetStatus fetches one task's status by id.
func (c *Client) GetStatus(id string) (*Status, error) {
	resp, err := c.doRequest(http.MethodGet, "/tasks/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	var out Status
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Pause(id string) error  { return c.postID("/pause", id) }
func (c *Client) Resume(id string) error { return c.postID("/resume", id) }
func (c *Client) Cancel(id string) error { return c.postID("/cancel", id) }

func (c *Client) postID(path, id string) error {
	resp, err := c.doRequest(http.MethodPost, path+"?id="+url.QueryEscape(id), nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return nil
}

// Delete cancels and removes a task, optionally deleting its output file.
func (c *Client) Delete(id string, deleteFile bool) error {
	path := fmt.Sprintf("/download?id=%s&deleteFile=%t", url.QueryEscape(id), deleteFile)
	resp, err := c.doRequest(http.MethodDelete, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return nil
}

// SetSpeedLimit sets one task's own rate cap.
func (c *Client) SetSpeedLimit(id, spec string) error {
	resp, err := c.doRequest(http.MethodPost, "/tasks/"+url.PathEscape(id)+"/speed-limit", map[string]string{"speedLimit": spec})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return nil
}

// SetConnections requests a new segment count for a running task; takes
// effect after the next pause/resume cycle (see the engine's
// RequestConnections semantics).
func (c *Client) SetConnections(id string, n int) error {
	resp, err := c.doRequest(http.MethodPost, "/tasks/"+url.PathEscape(id)+"/connections", map[string]int{"connections": n})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return nil
}

// SetPriority changes a queued/scheduled task's priority (0=low, 1=normal,
// 2=high, 3=urgent).
func (c *Client) SetPriority(id string, priority int) error {
	resp, err := c.doRequest(http.MethodPost, "/tasks/"+url.PathEscape(id)+"/priority", map[string]int{"priority": priority})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return nil
}

// SetGlobalSpeedLimit sets the daemon-wide rate cap.
func (c *Client) SetGlobalSpeedLimit(bytesPerSec int64) error {
	resp, err := c.doRequest(http.MethodPost, "/global/speed-limit", map[string]int64{"bytesPerSecond": bytesPerSec})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return nil
}

// Shutdown cancels every in-flight request made through this client
// (including an active SSE stream).
func (c *Client) Shutdown() error {
	c.cancel()
	return nil
}

// StreamEvents connects to /events and relays decoded frames on the
// returned channel until ctx is done, reconnecting with exponential
// backoff (capped at 30s) on any stream error, exactly as teal33t's
// streamWithReconnect/connectSSE do.
func (c *Client) StreamEvents(ctx context.Context) (<-chan Event, func(), error) {
	ch := make(chan Event, 100)
	go c.streamWithReconnect(ctx, ch)
	return ch, func() {}, nil
}

func (c *Client) streamWithReconnect(ctx context.Context, ch chan Event) {
	defer close(ch)
	backoff := time.Second
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ctx.Done():
			return
		default:
		}

		err := c.connectSSE(ctx, ch)
		if err == nil {
			return
		}
		select {
		case <-c.ctx.Done():
			return
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

func (c *Client) connectSSE(ctx context.Context, ch chan Event) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/events", nil)
	if err != nil {
		return err
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Connection", "keep-alive")

	resp, err := c.SSEClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("events stream: %s", resp.Status)
	}

	reader := bufio.NewReader(resp.Body)
	for {
		eventType := ""
		var dataLines []string
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				return err
			}
			line = strings.TrimRight(line, "\r\n")
			if line == "" {
				break
			}
			if strings.HasPrefix(line, ":") {
				continue
			}
			if strings.HasPrefix(line, "event:") {
				eventType = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
				continue
			}
			if strings.HasPrefix(line, "data:") {
				dataLines = append(dataLines, strings.TrimSpace(strings.TrimPrefix(line, "data:")))
				continue
			}
		}
		if eventType == "" || len(dataLines) == 0 {
			continue
		}

		var ev Event
		if err := json.Unmarshal([]byte(strings.Join(dataLines, "\n")), &ev); err != nil {
			continue
		}
		ev.Type = eventType

		select {
		case ch <- ev:
		case <-ctx.Done():
			return nil
		}
	}
}
