package hostapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jgivc/modsync/internal/common"
)

const (
	apiPrefix = "/pulp/api/v2"

	TaskStateWaiting  = "waiting"
	TaskStateRunning  = "running"
	TaskStateFinished = "finished"
	TaskStateError    = "error"
	TaskStateCanceled = "canceled"
	TaskStateSkipped  = "skipped"

	maxErrorBody = 64 << 10
)

type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

type Criteria struct {
	TypeIDs []string       `json:"type_ids"`
	Filters map[string]any `json:"filters,omitempty"`
}

type AssociateRequest struct {
	SourceRepoID string   `json:"source_repo_id"`
	Criteria     Criteria `json:"criteria"`
}

type TaskRef struct {
	TaskID string `json:"task_id"`
	Href   string `json:"_href"`
}

type callReport struct {
	SpawnedTasks []TaskRef `json:"spawned_tasks"`
}

type Task struct {
	TaskID string         `json:"task_id"`
	State  string         `json:"state"`
	Error  map[string]any `json:"error,omitempty"`
	Result any            `json:"result,omitempty"`
}

func (t *Task) Terminal() bool {
	switch t.State {
	case TaskStateFinished, TaskStateError, TaskStateCanceled, TaskStateSkipped:
		return true
	}

	return false
}

// StatusError is a non-2xx answer that is not a validation failure.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Body)
}

type Config struct {
	URL      string
	Username string
	Password string
	Timeout  time.Duration
}

// Client talks to the REST API of the host platform.
type Client struct {
	baseURL  string
	username string
	password string
	client   Doer
	log      *slog.Logger
}

func NewClient(cfg Config, log *slog.Logger) *Client {
	return NewClientWithDoer(&http.Client{Timeout: cfg.Timeout}, cfg, log)
}

func NewClientWithDoer(client Doer, cfg Config, log *slog.Logger) *Client {
	return &Client{
		baseURL:  strings.TrimRight(cfg.URL, "/"),
		username: cfg.Username,
		password: cfg.Password,
		client:   client,
		log:      log.With(slog.String("item", "HostAPIClient")),
	}
}

// Associate asks the platform to copy the units matching req.Criteria into toRepoID.
func (c *Client) Associate(ctx context.Context, toRepoID string, req *AssociateRequest) ([]TaskRef, error) {
	path := fmt.Sprintf("%s/repositories/%s/actions/associate/", apiPrefix, url.PathEscape(toRepoID))

	var report callReport
	if err := c.do(ctx, http.MethodPost, path, req, &report, http.StatusAccepted, http.StatusOK); err != nil {
		return nil, err
	}

	return report.SpawnedTasks, nil
}

func (c *Client) GetTask(ctx context.Context, taskID string) (*Task, error) {
	path := fmt.Sprintf("%s/tasks/%s/", apiPrefix, url.PathEscape(taskID))

	var task Task
	if err := c.do(ctx, http.MethodGet, path, nil, &task, http.StatusOK); err != nil {
		return nil, err
	}

	return &task, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any, expected ...int) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("cannot encode request: %w", err)
		}

		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("cannot create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("cannot send request: %w", err)
	}
	defer resp.Body.Close()

	for _, code := range expected {
		if resp.StatusCode == code {
			if out == nil {
				return nil
			}

			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				return fmt.Errorf("cannot decode response: %w", err)
			}

			return nil
		}
	}

	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	if resp.StatusCode == http.StatusBadRequest {
		return validationError(resp.StatusCode, data)
	}

	c.log.Error("Unexpected response", slog.String("method", method), slog.String("path", path), slog.Int("status", resp.StatusCode))

	return &StatusError{StatusCode: resp.StatusCode, Body: string(data)}
}

func validationError(status int, data []byte) *common.ValidationError {
	verr := &common.ValidationError{StatusCode: status}

	var report map[string]any
	if err := json.Unmarshal(data, &report); err != nil {
		verr.Message = string(data)

		return verr
	}

	verr.Extra = report

	if msg, ok := report["error_message"].(string); ok {
		verr.Message = msg
	}

	if names, ok := report["property_names"].([]any); ok {
		for _, n := range names {
			if s, ok := n.(string); ok {
				verr.PropertyNames = append(verr.PropertyNames, s)
			}
		}
	}

	return verr
}
