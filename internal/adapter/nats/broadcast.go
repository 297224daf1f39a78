package nats

import (
	"context"
	"encoding/json"
	"log/slog"
)

// Broadcaster mirrors run lifecycle events onto the JetStream bus so other
// instances and external consumers can observe runs. It implements the
// broadcast port alongside the ws hub.
type Broadcaster struct {
	conn *Conn
}

// NewBroadcaster creates a JetStream-backed broadcaster.
func NewBroadcaster(conn *Conn) *Broadcaster {
	return &Broadcaster{conn: conn}
}

// envelope matches the ws wire envelope so bus consumers and WebSocket
// clients decode the same shape.
type envelope struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// BroadcastEvent publishes the event under chat.<eventType>. Publishing is
// best effort: a bus outage must never fail a run.
func (b *Broadcaster) BroadcastEvent(ctx context.Context, eventType string, payload any) {
	data, err := json.Marshal(envelope{Type: eventType, Payload: payload})
	if err != nil {
		slog.Error("marshal bus event", "type", eventType, "error", err)
		return
	}

	if _, err := b.conn.js.Publish(ctx, "chat."+eventType, data); err != nil {
		slog.Error("publish bus event", "type", eventType, "error", err)
	}
}
