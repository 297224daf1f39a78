package chat

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is one conversation entry. User and system messages carry plain
// content and are immutable once created. Assistant messages carry a
// timeline that is append-only except for coalescing and status promotion
// of the last item.
type Message struct {
	ID       int64          `json:"id"`
	Role     Role           `json:"role"`
	Content  string         `json:"content,omitempty"`
	Timeline []TimelineItem `json:"timeline,omitempty"`
}

// Clone returns a copy whose timeline does not share backing storage with
// the receiver, so snapshots stay stable while streaming appends continue.
func (m Message) Clone() Message {
	if m.Timeline != nil {
		m.Timeline = append([]TimelineItem(nil), m.Timeline...)
	}
	return m
}
