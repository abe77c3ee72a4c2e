package session

import (
	"encoding/json"
	"strings"
	"time"
)

// EventKind classifies a structured event emitted by the agent process.
type EventKind string

const (
	EventToolCall   EventKind = "tool_call"
	EventToolResult EventKind = "tool_result"
	EventMessage    EventKind = "message"
	EventResult     EventKind = "result"
	EventError      EventKind = "error"
)

// Event is one structured event from the agent's stdout stream. The agent
// emits newline-delimited JSON; unparseable lines are surfaced as plain
// messages so output is never silently dropped.
type Event struct {
	Kind     EventKind `json:"type"`
	Tool     string    `json:"tool,omitempty"`
	Resource string    `json:"resource,omitempty"`
	Text     string    `json:"text,omitempty"`
	Time     time.Time `json:"-"`
}

// readTools lists tool names treated as reads. Anything else with a tool
// name counts as a mutation (write/edit/command with side effects).
var readTools = map[string]bool{
	"read":      true,
	"read_file": true,
	"grep":      true,
	"search":    true,
	"glob":      true,
	"ls":        true,
	"list_dir":  true,
}

// IsRead reports whether the event is a read of a resource.
func (e Event) IsRead() bool {
	return e.Kind == EventToolCall && readTools[strings.ToLower(e.Tool)]
}

// IsMutation reports whether the event indicates forward progress
// (a write, edit, or command with side effects).
func (e Event) IsMutation() bool {
	return e.Kind == EventToolCall && e.Tool != "" && !readTools[strings.ToLower(e.Tool)]
}

// IsTerminal reports whether the event ends the stream.
func (e Event) IsTerminal() bool {
	return e.Kind == EventResult || e.Kind == EventError
}

// ParseEvent decodes one NDJSON line into an Event. Lines that are not
// valid event JSON are wrapped as message events with the raw text.
func ParseEvent(line []byte, now time.Time) Event {
	var ev Event
	if err := json.Unmarshal(line, &ev); err != nil || ev.Kind == "" {
		return Event{Kind: EventMessage, Text: strings.TrimRight(string(line), "\n"), Time: now}
	}
	ev.Time = now
	return ev
}
