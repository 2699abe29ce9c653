package eventbus

import "time"

// Topic represents an event topic.
type Topic string

const (
	TopicTurnStarted    Topic = "turn_started"
	TopicTurnCompleted  Topic = "turn_completed"
	TopicSummaryUpdated Topic = "summary_updated"
	TopicToolCall       Topic = "tool_call"
	TopicToolResult     Topic = "tool_result"
	TopicInbound        Topic = "inbound_message"
	TopicOutbound       Topic = "outbound_message"
	TopicError          Topic = "error"
)

// Event is a message passed through the event bus.
type Event struct {
	Topic     Topic
	Payload   any
	Timestamp time.Time
}

// Handler processes an event.
type Handler func(Event)

// TurnStarted is published when a tutor turn begins.
type TurnStarted struct {
	Username string
	Channel  string
}

// TurnCompleted is published after both turn messages are stored.
type TurnCompleted struct {
	Username      string
	ContextType   int
	ContextTokens int
	ToolCalls     int
	Duration      time.Duration
}

// SummaryUpdated is published when a turn folded messages into the summary.
type SummaryUpdated struct {
	Username string
	Cursor   int64
	Runes    int
}

// ToolCall is published before a tool runs.
type ToolCall struct {
	Username string
	Name     string
	Args     string
}

// ToolResult is published after a tool runs.
type ToolResult struct {
	Username string
	Name     string
	IsError  bool
}

// ErrorEvent reports a failure in a turn stage.
type ErrorEvent struct {
	Username string
	Stage    string
	Err      error
}
