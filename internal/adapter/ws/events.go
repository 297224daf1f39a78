package ws

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/agentwire/agentwire/internal/domain/chat"
)

// Event type constants for WebSocket messages.
const (
	EventRunState  = "run.state"
	EventTimeline  = "timeline.updated"
	EventRunPaused = "run.paused"
	EventRunMeta   = "run.meta"
)

// RunStateEvent is broadcast on every run state transition.
type RunStateEvent struct {
	SessionID string `json:"session_id"`
	RunID     string `json:"run_id,omitempty"`
	State     string `json:"state"`
	Error     string `json:"error,omitempty"`
}

// TimelineEvent carries the active assistant message after a reduction
// step. Front-ends replace their copy wholesale; items are small.
type TimelineEvent struct {
	SessionID string              `json:"session_id"`
	MessageID int64               `json:"message_id"`
	Timeline  []chat.TimelineItem `json:"timeline"`
}

// RunPausedEvent is broadcast when a run suspends for approval.
type RunPausedEvent struct {
	SessionID string `json:"session_id"`
	RunID     string `json:"run_id"`
	AgentName string `json:"agent_name"`
	Tool      string `json:"tool"`
}

// RunMetaEvent is broadcast when the backend announces a shadow run.
type RunMetaEvent struct {
	SessionID   string `json:"session_id"`
	ShadowRunID string `json:"shadow_run_id"`
	Agent       string `json:"agent,omitempty"`
}

// BroadcastEvent marshals a typed event and broadcasts it. It implements
// the broadcast port.
func (h *Hub) BroadcastEvent(ctx context.Context, eventType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("marshal ws event payload", "type", eventType, "error", err)
		return
	}

	h.Broadcast(ctx, Message{
		Type:    eventType,
		Payload: json.RawMessage(data),
	})
}
