package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/agentwire/agentwire/internal/adapter/ws"
)

// MountRoutes registers the API routes and the WebSocket upgrade on the
// given chi router.
func MountRoutes(r chi.Router, h *Handlers, hub *ws.Hub) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"version":"0.1.0"}`))
		})

		r.Post("/chat", h.StartChat)
		r.Post("/chat/continue", h.ContinueChat)
		r.Post("/chat/cancel", h.CancelChat)
		r.Get("/state", h.State)

		r.Get("/sessions", h.ListSessions)
		r.Get("/sessions/{id}/history", h.SessionHistory)
		r.Delete("/sessions/{id}", h.DeleteSession)

		r.Get("/agents", h.Agents)
		r.Get("/health", h.Health)
	})

	// Unversioned probe path used by infra health checks.
	r.Get("/api/health", h.Health)

	r.Get("/ws", hub.HandleWS)
}
