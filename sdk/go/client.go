package tracklinesdk

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

// Client is a minimal Trackline HTTP API client.
type Client struct {
	BaseURL     string
	ProjectID   string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, projectID string) *Client {
	return &Client{
		BaseURL:   baseURL,
		ProjectID: projectID,
		Timeout:   10 * time.Second,
	}
}

// Task represents the API task model (partial).
type Task struct {
	ID         string  `json:"id"`
	ProjectID  string  `json:"project_id"`
	TaskTypeID *string `json:"task_type_id,omitempty"`
	StateID    *string `json:"state_id,omitempty"`
	AssigneeID *string `json:"assignee_id,omitempty"`
	Title      string  `json:"title"`
}

// State represents a workflow state.
type State struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Position int    `json:"position"`
}

// Field represents a field definition.
type Field struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	InputType string   `json:"input_type"`
	Required  bool     `json:"required"`
	Options   []string `json:"options,omitempty"`
}

// FieldValue is one {field_id, value} pair. A nil value clears the stored
// one.
type FieldValue struct {
	FieldID string  `json:"field_id"`
	Value   *string `json:"value"`
}

// Event represents a log entry.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	ProjectID  string `json:"project_id"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id"`
	ActorID    string `json:"actor_id"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateTask creates a task of the given type.
func (c *Client) CreateTask(ctx context.Context, title string, taskTypeID *string, values []FieldValue) (Task, error) {
	body := map[string]any{
		"title": title,
	}
	if taskTypeID != nil {
		body["task_type_id"] = *taskTypeID
	}
	if len(values) > 0 {
		body["values"] = values
	}
	var resp Task
	err := c.do(ctx, http.MethodPost, c.projectPath("tasks"), body, &resp)
	return resp, err
}

// MoveTask transitions a task to a new state.
func (c *Client) MoveTask(ctx context.Context, taskID, toStateID string) (Task, error) {
	body := map[string]any{"to_state_id": toStateID}
	var resp Task
	endpoint := fmt.Sprintf("v0/tasks/%s/move", url.PathEscape(taskID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// NextStates returns the states a task may legally move to.
func (c *Client) NextStates(ctx context.Context, taskID string) ([]State, error) {
	var resp []State
	endpoint := fmt.Sprintf("v0/tasks/%s/next-states", url.PathEscape(taskID))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// SetValues writes field values on a task.
func (c *Client) SetValues(ctx context.Context, taskID string, values []FieldValue) (map[string]*string, error) {
	var resp map[string]*string
	endpoint := fmt.Sprintf("v0/tasks/%s/values", url.PathEscape(taskID))
	err := c.do(ctx, http.MethodPut, endpoint, values, &resp)
	return resp, err
}

// FormFields returns a task type's fields in display order.
func (c *Client) FormFields(ctx context.Context, taskTypeID string) ([]Field, error) {
	var resp []Field
	endpoint := fmt.Sprintf("v0/task-types/%s/form", url.PathEscape(taskTypeID))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Events returns recent project events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	endpoint := c.projectPath("events")
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp []Event
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) projectPath(p string) string {
	project := url.PathEscape(c.ProjectID)
	return fmt.Sprintf("v0/projects/%s/%s", project, strings.TrimLeft(p, "/"))
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
