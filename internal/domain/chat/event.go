// Package chat defines the wire-level event vocabulary of the agent stream
// and the timeline model assistant messages are built from.
package chat

// EventKind discriminates the closed set of stream event variants.
type EventKind string

const (
	KindContent   EventKind = "content"
	KindToolStart EventKind = "tool_start"
	KindToolEnd   EventKind = "tool_end"
	KindError     EventKind = "error"
	KindPaused    EventKind = "paused"
	KindMeta      EventKind = "meta"
)

// Event is one decoded frame of the agent stream. The set of variants is
// closed: decoding rejects unknown kinds at the boundary, so consumers can
// switch exhaustively over the concrete types below.
type Event interface {
	Kind() EventKind
}

// ContentEvent carries an incremental text fragment from one agent.
type ContentEvent struct {
	Content string
	Agent   string
}

// ToolStartEvent announces a tool invocation by an agent.
type ToolStartEvent struct {
	Agent string
	Tool  string
	Args  any // object or plain string, backend-dependent
}

// ToolEndEvent carries the result of the most recent tool invocation.
type ToolEndEvent struct {
	Agent  string
	Tool   string
	Result string
}

// ErrorEvent is an in-band diagnostic. It is recoverable: the stream may
// continue after one.
type ErrorEvent struct {
	Message string
}

// PausedEvent suspends the run pending a human decision. No further events
// arrive until the decision is submitted on a continue request.
type PausedEvent struct {
	RunID     string
	AgentName string
	Tool      string
}

// MetaEvent carries the auxiliary shadow-run correlation id. It never
// mutates the timeline.
type MetaEvent struct {
	ShadowRunID string
	Agent       string
}

func (ContentEvent) Kind() EventKind   { return KindContent }
func (ToolStartEvent) Kind() EventKind { return KindToolStart }
func (ToolEndEvent) Kind() EventKind   { return KindToolEnd }
func (ErrorEvent) Kind() EventKind     { return KindError }
func (PausedEvent) Kind() EventKind    { return KindPaused }
func (MetaEvent) Kind() EventKind      { return KindMeta }
