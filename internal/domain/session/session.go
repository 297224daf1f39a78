// Package session defines durable conversation identity scoped to a project
// path.
package session

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Session binds a project path to its durable conversation id. Sessions are
// created on first message and never deleted automatically; deletion is an
// explicit user action routed to the backend.
type Session struct {
	ID          string `json:"session_id"`
	ProjectPath string `json:"project_path"`
}

// NewID generates a locally-unique session id. The backend accepts
// client-supplied ids for brand-new sessions, so no round-trip is needed
// before the first message.
func NewID() string {
	return fmt.Sprintf("session_%d_%s", time.Now().Unix(), uuid.NewString()[:8])
}

// NormalizePath canonicalizes a project path for use as a registry key.
// Paths arrive from shells and drag-and-drop with stray whitespace and
// wrapping quotes; both forms must map to the same session.
func NormalizePath(path string) string {
	p := strings.TrimSpace(path)
	for len(p) >= 2 {
		first, last := p[0], p[len(p)-1]
		if (first == '"' && last == '"') || (first == '\'' && last == '\'') {
			p = strings.TrimSpace(p[1 : len(p)-1])
			continue
		}
		break
	}
	return p
}
