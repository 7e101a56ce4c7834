// Package areascope provides a typed HTTP client SDK for the control API
// exposed by internal/api, for embedding areascope's task/schedule control
// plane as a library dependency rather than shelling out to cmd/areascope.
// Grounded on pkg/webstalk/sdk.go's Option-functions-over-a-config shape,
// re-pointed at an HTTP client instead of an in-process engine since the
// control plane is a long-lived server, not an embeddable crawl loop.
package areascope

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/areascope/areascope/internal/types"
)

// Client talks to a running areascope control-plane server.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the default http.Client (e.g. for custom
// timeouts or transports).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// New returns a Client pointed at baseURL (e.g. "http://localhost:8080").
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// StartRequest mirrors internal/control.StartRequest for the wire format.
type StartRequest struct {
	Scrapers           []string `json:"scrapers"`
	Areas              []string `json:"areas"`
	MaxProperties      int      `json:"max_properties"`
	ForceDetailFetch   bool     `json:"force_detail_fetch"`
	DetailRefetchHours *int     `json:"detail_refetch_hours,omitempty"`
	IgnoreErrorHistory bool     `json:"ignore_error_history"`
}

// StartSerial submits a task with the Serial worker topology.
func (c *Client) StartSerial(ctx context.Context, req StartRequest) (*types.Task, error) {
	var task types.Task
	err := c.do(ctx, http.MethodPost, "/api/tasks/serial", req, &task)
	return &task, err
}

// StartParallel submits a task with the Parallel worker topology.
func (c *Client) StartParallel(ctx context.Context, req StartRequest) (*types.Task, error) {
	var task types.Task
	err := c.do(ctx, http.MethodPost, "/api/tasks/parallel", req, &task)
	return &task, err
}

// GetStatus fetches one task's current snapshot.
func (c *Client) GetStatus(ctx context.Context, taskID string) (*types.Task, error) {
	var task types.Task
	err := c.do(ctx, http.MethodGet, "/api/tasks/"+url.PathEscape(taskID), nil, &task)
	return &task, err
}

// ListTasks returns up to 100 most-recently-created tasks, optionally
// filtered to active ones.
func (c *Client) ListTasks(ctx context.Context, activeOnly bool) ([]*types.Task, error) {
	path := "/api/tasks"
	if activeOnly {
		path += "?active_only=true"
	}
	var tasks []*types.Task
	err := c.do(ctx, http.MethodGet, path, nil, &tasks)
	return tasks, err
}

// Pause requests that a running task pause at its next checkpoint.
func (c *Client) Pause(ctx context.Context, taskID string) error {
	return c.do(ctx, http.MethodPost, "/api/tasks/"+url.PathEscape(taskID)+"/pause", nil, nil)
}

// Resume clears a paused task's pause flag.
func (c *Client) Resume(ctx context.Context, taskID string) error {
	return c.do(ctx, http.MethodPost, "/api/tasks/"+url.PathEscape(taskID)+"/resume", nil, nil)
}

// Cancel requests that a task abort at its next checkpoint.
func (c *Client) Cancel(ctx context.Context, taskID string) error {
	return c.do(ctx, http.MethodPost, "/api/tasks/"+url.PathEscape(taskID)+"/cancel", nil, nil)
}

// Delete removes a terminal task and its history.
func (c *Client) Delete(ctx context.Context, taskID string) error {
	return c.do(ctx, http.MethodDelete, "/api/tasks/"+url.PathEscape(taskID), nil, nil)
}

// LogDiff mirrors internal/store.LogDiff for the wire format.
type LogDiff struct {
	PropertyUpdates []types.LogEntry `json:"PropertyUpdates"`
	Errors          []types.LogEntry `json:"Errors"`
	Warnings        []types.LogEntry `json:"Warnings"`
}

// ReadLogDiff returns log entries newer than since, grouped by kind. A
// zero since fetches the full log.
func (c *Client) ReadLogDiff(ctx context.Context, taskID string, since sql.NullTime) (LogDiff, error) {
	path := "/api/tasks/" + url.PathEscape(taskID) + "/logs"
	if since.Valid {
		path += "?since=" + url.QueryEscape(since.Time.Format(time.RFC3339))
	}
	var diff LogDiff
	err := c.do(ctx, http.MethodGet, path, nil, &diff)
	return diff, err
}

// ForceCleanup triggers an immediate stall-detector sweep.
func (c *Client) ForceCleanup(ctx context.Context) (int, error) {
	var result struct {
		Promoted int `json:"promoted"`
	}
	err := c.do(ctx, http.MethodPost, "/api/cleanup", nil, &result)
	return result.Promoted, err
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		if apiErr.Error == "" {
			apiErr.Error = resp.Status
		}
		return fmt.Errorf("%s %s: %s", method, path, apiErr.Error)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
