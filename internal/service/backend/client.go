// Package backend is the client for the transcription backend proxy that
// starts and stops the real-time transcription job of a channel.
package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Operation names used in errors and metrics.
const (
	OpStart = "start"
	OpStop  = "stop"
)

// maxErrorBody caps how much of a failed response is kept in StatusError.
const maxErrorBody = 4096

// Task identifies a running transcription job. Both values are opaque and
// are required to stop the job.
type Task struct {
	TaskID       string `json:"taskId"`
	BuilderToken string `json:"builderToken"`
}

// StatusError is returned when the backend answers with a non-200 status.
type StatusError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("backend %s: unexpected status %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("backend %s: unexpected status %d: %s", e.Op, e.StatusCode, e.Body)
}

// Controller starts and stops transcription jobs.
type Controller interface {
	StartTranscribing(ctx context.Context, channel string) (Task, error)
	StopTranscribing(ctx context.Context, task Task) error
}

// Client calls the backend REST API.
// It never retries; retry policy is left to the caller.
type Client struct {
	baseURL string
	client  *http.Client
}

// NewClient creates a backend client for baseURL (for example
// "https://subtitles-backend.example.com").
func NewClient(baseURL string, timeout time.Duration) *Client {
	return NewClientWithHTTP(baseURL, &http.Client{Timeout: timeout})
}

// NewClientWithHTTP creates a backend client using hc.
func NewClientWithHTTP(baseURL string, hc *http.Client) *Client {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  hc,
	}
}

// StartTranscribing asks the backend to start transcribing channel.
// POST /start-transcribing/{channel} → 200 {taskId, builderToken}
func (c *Client) StartTranscribing(ctx context.Context, channel string) (Task, error) {
	if channel == "" {
		return Task{}, errors.New("backend start: empty channel name")
	}

	body, err := c.post(ctx, OpStart, "/start-transcribing/"+url.PathEscape(channel))
	if err != nil {
		return Task{}, err
	}

	var task Task
	if err := json.Unmarshal(body, &task); err != nil {
		return Task{}, fmt.Errorf("backend start: decode response: %w", err)
	}
	if task.TaskID == "" || task.BuilderToken == "" {
		return Task{}, errors.New("backend start: response missing taskId or builderToken")
	}
	return task, nil
}

// StopTranscribing asks the backend to stop the job identified by task.
// POST /stop-transcribing/{taskId}/{builderToken} → 200
func (c *Client) StopTranscribing(ctx context.Context, task Task) error {
	if task.TaskID == "" || task.BuilderToken == "" {
		return errors.New("backend stop: missing taskId or builderToken")
	}

	path := "/stop-transcribing/" + url.PathEscape(task.TaskID) + "/" + url.PathEscape(task.BuilderToken)
	_, err := c.post(ctx, OpStop, path)
	return err
}

func (c *Client) post(ctx context.Context, op, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("backend %s: create request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("backend %s: %w", op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("backend %s: read response: %w", op, err)
	}

	if resp.StatusCode != http.StatusOK {
		if len(body) > maxErrorBody {
			body = body[:maxErrorBody]
		}
		return nil, &StatusError{
			Op:         op,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(body)),
		}
	}
	return body, nil
}
