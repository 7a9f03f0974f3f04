// Package emit provides observability event emission for workflow execution.
package emit

import "time"

// Kind identifies the category of an Event. The set is closed: vertex
// lifecycle transitions, LLM streaming deltas, tool-call brackets, progress
// reports, and bus-level back-pressure notices.
type Kind string

const (
	VertexStarted    Kind = "VertexStarted"
	VertexCompleted  Kind = "VertexCompleted"
	VertexFailed     Kind = "VertexFailed"
	Message          Kind = "Message"
	Reasoning        Kind = "Reasoning"
	ToolCall         Kind = "ToolCall"
	Progress         Kind = "Progress"
	Done             Kind = "Done"
	SubscriberLagged Kind = "SubscriberLagged"
)

// Event is a tagged record describing something that happened during a run.
// Data is kind-specific: Message/Reasoning carry "text", ToolCall carries
// "tool_name" plus "args" or "result" and "phase" (start|end), Progress
// carries "percent"/"stage", SubscriberLagged carries "count".
type Event struct {
	Kind      Kind
	VertexID  string
	RunID     string
	Data      map[string]interface{}
	Timestamp time.Time
}
