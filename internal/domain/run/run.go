// Package run defines the lifecycle model of one streaming exchange with the
// agent backend.
package run

// State represents where the active run sits in its lifecycle.
// Idle -> Streaming -> {Done | Paused | Error | Cancelled}; Paused returns
// to Streaming when a decision is submitted, and any terminal state returns
// to Streaming on the next start.
type State string

const (
	StateIdle      State = "idle"
	StateStreaming State = "streaming"
	StateDone      State = "done"
	StatePaused    State = "paused"
	StateError     State = "error"
	StateCancelled State = "cancelled"
)

// Terminal reports whether the state ends the current exchange. Paused is
// terminal for the underlying transport but the run itself stays resumable.
func (s State) Terminal() bool {
	switch s {
	case StateDone, StatePaused, StateError, StateCancelled:
		return true
	default:
		return false
	}
}

// Decision is the human answer to a paused run. The set is closed; anything
// else is a caller error, never a protocol event.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
	DecisionAllow   Decision = "allow"
	DecisionBlock   Decision = "block"
)

// Valid reports whether d is one of the four accepted decisions.
func (d Decision) Valid() bool {
	switch d {
	case DecisionApprove, DecisionReject, DecisionAllow, DecisionBlock:
		return true
	default:
		return false
	}
}

// Run identifies one streaming exchange, possibly spanning a pause/continue
// pair. RunID is assigned by the backend and arrives with the paused event;
// ShadowRunID is the auxiliary correlation id from the meta event, kept for
// external layers that reference the run afterwards (undo, diff).
type Run struct {
	RunID       string `json:"run_id,omitempty"`
	SessionID   string `json:"session_id"`
	AgentID     string `json:"agent_id"`
	ShadowRunID string `json:"shadow_run_id,omitempty"`
}

// PauseInfo captures what the backend reported when it suspended the run,
// so the human can be shown which agent wants to use which tool.
type PauseInfo struct {
	RunID     string `json:"run_id"`
	AgentName string `json:"agent_name"`
	Tool      string `json:"tool"`
}
