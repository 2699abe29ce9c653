package tool

import (
	"context"
	"encoding/json"
)

// Tool is a function the tutor model may call during a turn.
type Tool interface {
	Name() string
	Description() string
	Parameters() json.RawMessage // JSON Schema
	Execute(ctx context.Context, args json.RawMessage) (*Result, error)
}

// Result is the output of a tool execution. Failures the model should see
// are reported with IsError instead of a Go error.
type Result struct {
	Output  string `json:"output"`
	Error   string `json:"error,omitempty"`
	IsError bool   `json:"is_error"`
}

// Text renders the result as the content of a tool message.
func (r *Result) Text() string {
	if r.IsError {
		return "Error: " + r.Error
	}
	return r.Output
}

func errorResult(msg string) *Result {
	return &Result{Error: msg, IsError: true}
}
