package chat

import "strings"

// ItemKind discriminates timeline item variants.
type ItemKind string

const (
	ItemText     ItemKind = "text"
	ItemTool     ItemKind = "tool"
	ItemTerminal ItemKind = "terminal"
)

// ToolStatus is the lifecycle state of a tool item. It only moves forward:
// running to completed, never back.
type ToolStatus string

const (
	ToolRunning   ToolStatus = "running"
	ToolCompleted ToolStatus = "completed"
)

// TimelineItem is one rendering unit of an assistant message. The Kind tag
// selects which fields are populated: text uses Content, tool uses
// Tool/Args/Status, terminal uses Command/Output. The JSON shape matches
// the backend history format, so hydrated and streamed timelines are
// interchangeable.
type TimelineItem struct {
	Kind    ItemKind   `json:"type"`
	Content string     `json:"content,omitempty"`
	Tool    string     `json:"tool,omitempty"`
	Args    any        `json:"args,omitempty"`
	Status  ToolStatus `json:"status,omitempty"`
	Command string     `json:"command,omitempty"`
	Output  string     `json:"output,omitempty"`
	Agent   string     `json:"agent,omitempty"`
}

// SystemAgent attributes reducer-synthesized items, such as in-band errors.
const SystemAgent = "System"

// errorPrefix marks error text appended to the timeline so rendering layers
// can tell it apart from agent prose.
const errorPrefix = "Error: "

// terminalMarkers drive the tool-to-terminal reclassification. A finished
// tool call whose name or result contains one of these (case-insensitive)
// renders as terminal output. Substring matching is inherited from the
// backend contract; results that merely mention these words are
// reclassified too.
var terminalMarkers = []string{"exit code", "shell", "build", "command", "error", "fail"}

// Reduce folds one event into a timeline and returns the new timeline. The
// input slice is never modified, so snapshots taken before the fold stay
// valid. Events that do not apply cleanly (a tool_end without its running
// tool, paused, meta) leave the timeline unchanged; Reduce never fails.
func Reduce(timeline []TimelineItem, ev Event) []TimelineItem {
	switch e := ev.(type) {
	case ContentEvent:
		return reduceContent(timeline, e)
	case ToolStartEvent:
		// Each invocation is a distinct unit, even for a repeated tool name.
		return append(cloneItems(timeline), TimelineItem{
			Kind:   ItemTool,
			Tool:   e.Tool,
			Args:   e.Args,
			Status: ToolRunning,
			Agent:  e.Agent,
		})
	case ToolEndEvent:
		return reduceToolEnd(timeline, e)
	case ErrorEvent:
		// Errors are never coalesced into prior agent text.
		return append(cloneItems(timeline), TimelineItem{
			Kind:    ItemText,
			Content: errorPrefix + e.Message,
			Agent:   SystemAgent,
		})
	default:
		return timeline
	}
}

// reduceContent appends text, coalescing into the last item when it is text
// from the same agent. Coalescing keeps token-by-token streaming from
// producing one item per network chunk.
func reduceContent(timeline []TimelineItem, e ContentEvent) []TimelineItem {
	if n := len(timeline); n > 0 {
		last := timeline[n-1]
		if last.Kind == ItemText && last.Agent == e.Agent {
			out := cloneItems(timeline)
			out[n-1].Content += e.Content
			return out
		}
	}
	return append(cloneItems(timeline), TimelineItem{
		Kind:    ItemText,
		Content: e.Content,
		Agent:   e.Agent,
	})
}

// reduceToolEnd resolves the last running tool item. Shell-like results
// replace the item with a terminal item; anything else promotes it to
// completed. A tool_end with no matching running tool is a no-op.
func reduceToolEnd(timeline []TimelineItem, e ToolEndEvent) []TimelineItem {
	n := len(timeline)
	if n == 0 {
		return timeline
	}
	last := timeline[n-1]
	if last.Kind != ItemTool || last.Status != ToolRunning || last.Tool != e.Tool {
		return timeline
	}

	out := cloneItems(timeline)
	if looksLikeTerminal(e.Tool, e.Result) {
		out[n-1] = TimelineItem{
			Kind:    ItemTerminal,
			Command: e.Tool,
			Output:  e.Result,
			Agent:   last.Agent,
		}
	} else {
		out[n-1].Status = ToolCompleted
	}
	return out
}

// looksLikeTerminal reports whether a finished tool call should render as
// terminal output.
func looksLikeTerminal(tool, result string) bool {
	s := strings.ToLower(tool) + " " + strings.ToLower(result)
	for _, marker := range terminalMarkers {
		if strings.Contains(s, marker) {
			return true
		}
	}
	return false
}

// cloneItems copies a timeline with room for one more item.
func cloneItems(items []TimelineItem) []TimelineItem {
	return append(make([]TimelineItem, 0, len(items)+1), items...)
}
