package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Payload mirrors the engine's task payload: exactly one of Prompt or
// Command is set.
type Payload struct {
	Prompt           string `json:"prompt,omitempty"`
	Command          string `json:"command,omitempty"`
	WorkingDirectory string `json:"working_directory,omitempty"`
}

// Result mirrors a terminal task's recorded outcome.
type Result struct {
	Output   string        `json:"output,omitempty"`
	ExitCode int           `json:"exit_code,omitempty"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// CreateTaskRequest submits a single task.
type CreateTaskRequest struct {
	Name             string            `json:"name,omitempty"`
	Prompt           string            `json:"prompt,omitempty"`
	Command          string            `json:"command,omitempty"`
	WorkingDirectory string            `json:"working_directory,omitempty"`
	Priority         string            `json:"priority,omitempty"`
	DependsOn        []string          `json:"depends_on,omitempty"`
	PinnedInstance   string            `json:"pinned_instance,omitempty"`
	TimeoutSeconds   int               `json:"timeout_seconds,omitempty"`
	Metadata         map[string]string `json:"metadata,omitempty"`
}

// TaskResponse is the server's view of a task.
type TaskResponse struct {
	ID             string            `json:"id"`
	Name           string            `json:"name"`
	Payload        Payload           `json:"payload"`
	Priority       string            `json:"priority"`
	State          string            `json:"state"`
	DependsOn      []string          `json:"depends_on,omitempty"`
	PinnedInstance string            `json:"pinned_instance,omitempty"`
	Result         *Result           `json:"result,omitempty"`
	AssignedWorker string            `json:"assigned_worker,omitempty"`
	FailureReason  string            `json:"failure_reason,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// WorkerView is the server's view of a pool instance.
type WorkerView struct {
	ID               string `json:"id"`
	State            string `json:"state"`
	WorkingDirectory string `json:"working_directory,omitempty"`
}

// StatusResponse is the aggregate view returned by GET /status.
type StatusResponse struct {
	Instances map[string]int `json:"instances"`
	Tasks     map[string]int `json:"tasks"`
}

// errorResponse is the JSON shape the server returns for non-2xx responses.
type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// APIError is returned when the server responds with a non-2xx status.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("orchestrator API: %d: %s", e.StatusCode, e.Message)
}

// Client is a thin wrapper over the orchestration engine's REST and
// WebSocket surface.
type Client struct {
	baseURL string
	opts    *options
	ws      *WebSocketClient
}

// New constructs a Client bound to baseURL (e.g. "http://localhost:8080").
func New(baseURL string, optFns ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("client: base URL is required")
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	o := defaultOptions()
	for _, fn := range optFns {
		fn(o)
	}

	return &Client{baseURL: baseURL, opts: o}, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("client: encode request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return fmt.Errorf("client: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range c.opts.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.opts.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("client: request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("client: read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		var apiErr errorResponse
		msg := string(respBody)
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Message != "" {
			msg = apiErr.Message
		}
		return &APIError{StatusCode: resp.StatusCode, Message: msg}
	}

	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("client: decode response: %w", err)
		}
	}
	return nil
}

// CheckHealth calls GET /health.
func (c *Client) CheckHealth(ctx context.Context) (bool, error) {
	var out struct {
		OK bool `json:"ok"`
	}
	if err := c.do(ctx, http.MethodGet, "/health", nil, nil, &out); err != nil {
		return false, err
	}
	return out.OK, nil
}

// Status calls GET /status.
func (c *Client) Status(ctx context.Context) (*StatusResponse, error) {
	var out StatusResponse
	if err := c.do(ctx, http.MethodGet, "/status", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SpawnInstances calls POST /instances/spawn and returns the new worker IDs.
func (c *Client) SpawnInstances(ctx context.Context, count int, workingDirectory string) ([]string, error) {
	req := map[string]interface{}{"count": count}
	if workingDirectory != "" {
		req["working_directory"] = workingDirectory
	}
	var out struct {
		WorkerIDs []string `json:"worker_ids"`
	}
	if err := c.do(ctx, http.MethodPost, "/instances/spawn", nil, req, &out); err != nil {
		return nil, err
	}
	return out.WorkerIDs, nil
}

// ListInstances calls GET /instances.
func (c *Client) ListInstances(ctx context.Context) ([]WorkerView, error) {
	var out []WorkerView
	if err := c.do(ctx, http.MethodGet, "/instances", nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetInstance calls GET /instances/{id}.
func (c *Client) GetInstance(ctx context.Context, id string) (*WorkerView, error) {
	var out WorkerView
	if err := c.do(ctx, http.MethodGet, "/instances/"+url.PathEscape(id), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// TerminateInstance calls DELETE /instances/{id}.
func (c *Client) TerminateInstance(ctx context.Context, id string) (bool, error) {
	var out struct {
		Terminated bool `json:"terminated"`
	}
	if err := c.do(ctx, http.MethodDelete, "/instances/"+url.PathEscape(id), nil, nil, &out); err != nil {
		return false, err
	}
	return out.Terminated, nil
}

// ScalePool calls POST /instances/scale and returns the resulting pool size.
func (c *Client) ScalePool(ctx context.Context, target int) (int, error) {
	var out struct {
		Current int `json:"current"`
	}
	if err := c.do(ctx, http.MethodPost, "/instances/scale", nil, map[string]int{"target": target}, &out); err != nil {
		return 0, err
	}
	return out.Current, nil
}

// SubmitTask calls POST /tasks.
func (c *Client) SubmitTask(ctx context.Context, req CreateTaskRequest) (*TaskResponse, error) {
	var out TaskResponse
	if err := c.do(ctx, http.MethodPost, "/tasks", nil, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SubmitTaskBatch calls POST /tasks/batch and returns the created task IDs.
func (c *Client) SubmitTaskBatch(ctx context.Context, reqs []CreateTaskRequest) ([]string, error) {
	var out struct {
		TaskIDs []string `json:"task_ids"`
	}
	if err := c.do(ctx, http.MethodPost, "/tasks/batch", nil, reqs, &out); err != nil {
		return nil, err
	}
	return out.TaskIDs, nil
}

// ListTasks calls GET /tasks, optionally filtered by state.
func (c *Client) ListTasks(ctx context.Context, state string) ([]TaskResponse, error) {
	var q url.Values
	if state != "" {
		q = url.Values{"state": {state}}
	}
	var out []TaskResponse
	if err := c.do(ctx, http.MethodGet, "/tasks", q, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetTask calls GET /tasks/{id}.
func (c *Client) GetTask(ctx context.Context, id string) (*TaskResponse, error) {
	var out TaskResponse
	if err := c.do(ctx, http.MethodGet, "/tasks/"+url.PathEscape(id), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CancelTask calls DELETE /tasks/{id}.
func (c *Client) CancelTask(ctx context.Context, id string) (bool, error) {
	var out struct {
		Cancelled bool `json:"cancelled"`
	}
	if err := c.do(ctx, http.MethodDelete, "/tasks/"+url.PathEscape(id), nil, nil, &out); err != nil {
		return false, err
	}
	return out.Cancelled, nil
}

// ExecuteWorkflow calls POST /workflows/execute with a raw YAML document
// and returns the per-task outcomes keyed by task name.
func (c *Client) ExecuteWorkflow(ctx context.Context, yamlDoc []byte) (map[string]TaskResponse, error) {
	var reader io.Reader = bytes.NewReader(yamlDoc)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/workflows/execute", reader)
	if err != nil {
		return nil, fmt.Errorf("client: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-yaml")
	for k, v := range c.opts.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.opts.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("client: request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("client: read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		var apiErr errorResponse
		msg := string(body)
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Message != "" {
			msg = apiErr.Message
		}
		return nil, &APIError{StatusCode: resp.StatusCode, Message: msg}
	}

	var out struct {
		Workflow string                  `json:"workflow"`
		Tasks    map[string]TaskResponse `json:"tasks"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("client: decode response: %w", err)
	}
	return out.Tasks, nil
}

// ConnectWebSocket establishes the /ws/stream connection for real-time events.
func (c *Client) ConnectWebSocket(ctx context.Context) error {
	if c.ws != nil && c.ws.IsConnected() {
		return nil
	}
	c.ws = newWebSocketClient(c.baseURL, c.opts.headers)
	return c.ws.Connect(ctx)
}

// Events returns a channel of events received over the WebSocket stream.
// ConnectWebSocket must be called first.
func (c *Client) Events() <-chan *Event {
	if c.ws == nil {
		ch := make(chan *Event)
		close(ch)
		return ch
	}
	return c.ws.Events()
}

// CloseWebSocket closes the WebSocket connection, if any.
func (c *Client) CloseWebSocket() error {
	if c.ws == nil {
		return nil
	}
	return c.ws.Close()
}
