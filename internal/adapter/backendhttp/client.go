// Package backendhttp implements the backend port over the agent API's
// HTTP surface.
package backendhttp

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

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/agentwire/agentwire/internal/domain"
	"github.com/agentwire/agentwire/internal/domain/chat"
	"github.com/agentwire/agentwire/internal/port/backend"
	"github.com/agentwire/agentwire/internal/resilience"
)

// Client talks to the agent backend API. Streaming turns and unary calls
// use separate HTTP clients: a chat stream stays open for as long as the
// run executes, so only the unary client carries a request timeout.
type Client struct {
	baseURL string
	stream  *http.Client
	unary   *http.Client
	breaker *resilience.Breaker
}

// NewClient creates a backend API client. unaryTimeout bounds the
// non-streaming calls; zero falls back to 10 seconds.
func NewClient(baseURL string, unaryTimeout time.Duration) *Client {
	if unaryTimeout <= 0 {
		unaryTimeout = 10 * time.Second
	}
	transport := otelhttp.NewTransport(http.DefaultTransport)
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		stream:  &http.Client{Transport: transport},
		unary:   &http.Client{Transport: transport, Timeout: unaryTimeout},
	}
}

// SetBreaker attaches a circuit breaker to the unary calls. Stream opens
// are never routed through the breaker: a long-lived stream is not a probe
// of backend health.
func (c *Client) SetBreaker(b *resilience.Breaker) {
	c.breaker = b
}

// StartChat opens a new streaming turn and returns the raw event stream.
func (c *Client) StartChat(ctx context.Context, req backend.StartRequest) (io.ReadCloser, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal chat request: %w", err)
	}
	rc, err := c.openStream(ctx, "/api/chat", body)
	if err != nil {
		return nil, fmt.Errorf("start chat: %w", err)
	}
	return rc, nil
}

// ContinueChat resumes a paused run and returns the stream of the resumed
// execution.
func (c *Client) ContinueChat(ctx context.Context, req backend.ContinueRequest) (io.ReadCloser, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal continue request: %w", err)
	}
	rc, err := c.openStream(ctx, "/api/chat/continue", body)
	if err != nil {
		return nil, fmt.Errorf("continue chat: %w", err)
	}
	return rc, nil
}

// ListSessions returns the stored sessions of a project.
func (c *Client) ListSessions(ctx context.Context, projectPath string) ([]backend.SessionSummary, error) {
	q := url.Values{"project_path": {projectPath}}
	data, err := c.doRequest(ctx, http.MethodGet, "/api/sessions?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	var result struct {
		Sessions []backend.SessionSummary `json:"sessions"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("unmarshal sessions: %w", err)
	}
	return result.Sessions, nil
}

// SessionHistory replays a stored session as reduced chat messages.
func (c *Client) SessionHistory(ctx context.Context, sessionID, projectPath string) ([]chat.Message, error) {
	path := "/api/sessions/" + url.PathEscape(sessionID) + "/history"
	if projectPath != "" {
		path += "?" + url.Values{"project_path": {projectPath}}.Encode()
	}
	data, err := c.doRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, fmt.Errorf("session history: %w", err)
	}

	var result struct {
		Messages []chat.Message `json:"messages"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("unmarshal history: %w", err)
	}
	return result.Messages, nil
}

// DeleteSession removes a stored session.
func (c *Client) DeleteSession(ctx context.Context, sessionID, projectPath string) error {
	path := "/api/sessions/" + url.PathEscape(sessionID)
	if projectPath != "" {
		path += "?" + url.Values{"project_path": {projectPath}}.Encode()
	}
	if _, err := c.doRequest(ctx, http.MethodDelete, path, nil); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// Agents lists the agent identifiers the backend accepts.
func (c *Client) Agents(ctx context.Context) ([]string, error) {
	data, err := c.doRequest(ctx, http.MethodGet, "/api/agents", nil)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}

	var result struct {
		Agents []string `json:"agents"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("unmarshal agents: %w", err)
	}
	return result.Agents, nil
}

// Health probes backend liveness.
func (c *Client) Health(ctx context.Context) (backend.HealthStatus, error) {
	data, err := c.doRequest(ctx, http.MethodGet, "/api/health", nil)
	if err != nil {
		return backend.HealthStatus{}, fmt.Errorf("health: %w", err)
	}

	var status backend.HealthStatus
	if err := json.Unmarshal(data, &status); err != nil {
		return backend.HealthStatus{}, fmt.Errorf("unmarshal health: %w", err)
	}
	return status, nil
}

// openStream POSTs body and hands the response body to the caller unread.
// A non-2xx status consumes the body into the returned error instead.
func (c *Client) openStream(ctx context.Context, path string, body []byte) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.stream.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
		return nil, apiError(resp.StatusCode, data)
	}
	return resp.Body, nil
}

func (c *Client) doRequest(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	var result []byte
	call := func() error {
		var bodyReader io.Reader
		if body != nil {
			bodyReader = bytes.NewReader(body)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.unary.Do(req)
		if err != nil {
			return fmt.Errorf("http request: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read response: %w", err)
		}

		if resp.StatusCode >= 400 {
			return apiError(resp.StatusCode, data)
		}

		result = data
		return nil
	}

	if c.breaker != nil {
		if err := c.breaker.Execute(call); err != nil {
			return nil, err
		}
		return result, nil
	}

	if err := call(); err != nil {
		return nil, err
	}
	return result, nil
}

// apiError maps a backend status code to an error. 404 wraps ErrNotFound so
// callers can translate it back to their own surface.
func apiError(status int, body []byte) error {
	detail := strings.TrimSpace(string(body))
	if status == http.StatusNotFound {
		return fmt.Errorf("%w: backend API error %d: %s", domain.ErrNotFound, status, detail)
	}
	return fmt.Errorf("backend API error %d: %s", status, detail)
}
