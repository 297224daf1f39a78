package http

import (
	"log/slog"
	"net/http"

	"github.com/agentwire/agentwire/internal/domain/run"
	"github.com/agentwire/agentwire/internal/port/backend"
	"github.com/agentwire/agentwire/internal/resilience"
	"github.com/agentwire/agentwire/internal/service"
)

// Handlers holds the HTTP handler dependencies.
type Handlers struct {
	Runner   *service.Runner
	Sessions *service.Sessions
	Backend  backend.Client
	Breaker  *resilience.Breaker // optional, surfaces the unary-call breaker in health
}

type chatRequest struct {
	Message      string               `json:"message"`
	ProjectPath  string               `json:"project_path"`
	AgentID      string               `json:"agent_id,omitempty"`
	SessionID    string               `json:"session_id,omitempty"`
	AutoApproval bool                 `json:"auto_approval,omitempty"`
	LLMSettings  *backend.LLMSettings `json:"llm_settings,omitempty"`
}

type chatAck struct {
	SessionID string    `json:"session_id"`
	State     run.State `json:"state"`
}

type continueRequest struct {
	Decision string `json:"decision"`
	Feedback string `json:"feedback,omitempty"`
}

type stateResponse struct {
	service.Snapshot
	StoredPause *run.PauseInfo `json:"stored_pause,omitempty"`
}

type agentsResponse struct {
	Agents []string `json:"agents"`
}

type healthResponse struct {
	Status       string                `json:"status"`
	Breaker      string                `json:"breaker,omitempty"`
	Backend      *backend.HealthStatus `json:"backend,omitempty"`
	BackendError string                `json:"backend_error,omitempty"`
}

// StartChat begins a new streaming turn. The response is an ack; timeline
// progress arrives over the WebSocket and the state endpoint.
func (h *Handlers) StartChat(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[chatRequest](w, r)
	if !ok {
		return
	}
	if !requireField(w, req.Message, "message") {
		return
	}
	if !requireField(w, req.ProjectPath, "project_path") {
		return
	}

	err := h.Runner.Start(r.Context(), req.ProjectPath, req.Message, service.StartOptions{
		AgentID:      req.AgentID,
		SessionID:    req.SessionID,
		AutoApproval: req.AutoApproval,
		LLMSettings:  req.LLMSettings,
	})
	if err != nil {
		writeDomainError(w, err, "could not start chat")
		return
	}

	snap := h.Runner.Snapshot()
	writeJSON(w, http.StatusAccepted, chatAck{SessionID: snap.SessionID, State: snap.State})
}

// ContinueChat submits a decision for the paused run.
func (h *Handlers) ContinueChat(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[continueRequest](w, r)
	if !ok {
		return
	}
	if !requireField(w, req.Decision, "decision") {
		return
	}

	if err := h.Runner.Continue(r.Context(), run.Decision(req.Decision), req.Feedback); err != nil {
		writeDomainError(w, err, "could not continue run")
		return
	}

	snap := h.Runner.Snapshot()
	writeJSON(w, http.StatusAccepted, chatAck{SessionID: snap.SessionID, State: snap.State})
}

// CancelChat aborts the active run. Cancelling with nothing running is
// still a success.
func (h *Handlers) CancelChat(w http.ResponseWriter, r *http.Request) {
	h.Runner.Cancel(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

// State returns a snapshot of the runner. With a project_path query the
// response also carries the stored pause descriptor for that project, so
// a restarted front-end can re-offer a pending decision.
func (h *Handlers) State(w http.ResponseWriter, r *http.Request) {
	resp := stateResponse{Snapshot: h.Runner.Snapshot()}

	if projectPath := r.URL.Query().Get("project_path"); projectPath != "" {
		info, err := h.Sessions.PausedFor(r.Context(), projectPath)
		if err != nil {
			slog.Warn("read stored pause", "error", err)
		} else {
			resp.StoredPause = info
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// ListSessions passes the backend's stored sessions through.
func (h *Handlers) ListSessions(w http.ResponseWriter, r *http.Request) {
	projectPath := r.URL.Query().Get("project_path")
	if !requireField(w, projectPath, "project_path") {
		return
	}

	sessions, err := h.Backend.ListSessions(r.Context(), projectPath)
	if err != nil {
		writeDomainError(w, err, "could not list sessions")
		return
	}
	if sessions == nil {
		sessions = []backend.SessionSummary{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

// SessionHistory replays a stored session as reduced messages.
func (h *Handlers) SessionHistory(w http.ResponseWriter, r *http.Request) {
	sessionID := urlParam(r, "id")
	projectPath := r.URL.Query().Get("project_path")
	if !requireField(w, projectPath, "project_path") {
		return
	}

	messages, err := h.Backend.SessionHistory(r.Context(), sessionID, projectPath)
	if err != nil {
		writeDomainError(w, err, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, messages)
}

// DeleteSession removes a stored session on the backend and, when the
// registry binding for the project points at it, clears the binding too.
func (h *Handlers) DeleteSession(w http.ResponseWriter, r *http.Request) {
	sessionID := urlParam(r, "id")
	projectPath := r.URL.Query().Get("project_path")
	if !requireField(w, projectPath, "project_path") {
		return
	}

	if err := h.Backend.DeleteSession(r.Context(), sessionID, projectPath); err != nil {
		writeDomainError(w, err, "session not found")
		return
	}

	bound, ok, err := h.Sessions.Lookup(r.Context(), projectPath)
	if err == nil && ok && bound == sessionID {
		if err := h.Sessions.Clear(r.Context(), projectPath); err != nil {
			slog.Warn("clear session binding", "session_id", sessionID, "error", err)
		}
	}

	w.WriteHeader(http.StatusNoContent)
}

// Agents lists the agent identifiers the backend accepts.
func (h *Handlers) Agents(w http.ResponseWriter, r *http.Request) {
	agents, err := h.Backend.Agents(r.Context())
	if err != nil {
		writeDomainError(w, err, "could not list agents")
		return
	}
	if agents == nil {
		agents = []string{}
	}
	writeJSON(w, http.StatusOK, agentsResponse{Agents: agents})
}

// Health reports engine liveness plus the backend probe result. The engine
// itself answers 200 even when the backend is down; front-ends read the
// status field.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok"}
	if h.Breaker != nil {
		resp.Breaker = h.Breaker.State()
	}

	status, err := h.Backend.Health(r.Context())
	if err != nil {
		resp.Status = "degraded"
		resp.BackendError = err.Error()
	} else {
		resp.Backend = &status
	}

	writeJSON(w, http.StatusOK, resp)
}
