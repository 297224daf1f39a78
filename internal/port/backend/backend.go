// Package backend defines the port for the remote agent execution API.
package backend

import (
	"context"
	"io"

	"github.com/agentwire/agentwire/internal/domain/chat"
	"github.com/agentwire/agentwire/internal/domain/run"
)

// LLMSettings selects the provider and model used for a turn. APIKey
// travels only on the wire to the backend; it is never stored in plaintext.
type LLMSettings struct {
	Provider             string  `json:"provider"`
	ModelID              string  `json:"model_id"`
	APIKey               string  `json:"api_key,omitempty"`
	Temperature          float64 `json:"temperature,omitempty"`
	CompressionThreshold int     `json:"compression_threshold,omitempty"`
	BaseURL              string  `json:"base_url,omitempty"`
}

// StartRequest is the payload for starting a new chat turn.
type StartRequest struct {
	Message      string       `json:"message"`
	ProjectPath  string       `json:"project_path"`
	AgentID      string       `json:"agent_id"`
	SessionID    string       `json:"session_id,omitempty"`
	AutoApproval bool         `json:"auto_approval"`
	LLMSettings  *LLMSettings `json:"llm_settings,omitempty"`
}

// ContinueRequest is the payload for resuming a paused run.
type ContinueRequest struct {
	RunID       string       `json:"run_id"`
	SessionID   string       `json:"session_id"`
	ProjectPath string       `json:"project_path"`
	Decision    run.Decision `json:"decision"`
	Feedback    string       `json:"feedback,omitempty"`
}

// SessionSummary describes one stored session of a project.
type SessionSummary struct {
	SessionID    string `json:"session_id"`
	CreatedAt    string `json:"created_at"`
	UpdatedAt    string `json:"updated_at"`
	Summary      string `json:"summary"`
	MessageCount int    `json:"message_count"`
}

// HealthStatus reports backend liveness.
type HealthStatus struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// Client is the port interface for the remote chat API.
type Client interface {
	// StartChat opens a new streaming turn. The returned body is the raw
	// event stream; the caller owns closing it.
	StartChat(ctx context.Context, req StartRequest) (io.ReadCloser, error)

	// ContinueChat resumes a paused run with a decision. Like StartChat,
	// the response body is the event stream of the resumed execution.
	ContinueChat(ctx context.Context, req ContinueRequest) (io.ReadCloser, error)

	// ListSessions returns the stored sessions of a project, newest first.
	ListSessions(ctx context.Context, projectPath string) ([]SessionSummary, error)

	// SessionHistory replays a stored session as reduced chat messages.
	SessionHistory(ctx context.Context, sessionID, projectPath string) ([]chat.Message, error)

	// DeleteSession removes a stored session.
	DeleteSession(ctx context.Context, sessionID, projectPath string) error

	// Agents lists the agent identifiers the backend accepts.
	Agents(ctx context.Context) ([]string, error)

	// Health probes backend liveness.
	Health(ctx context.Context) (HealthStatus, error)
}
