package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/tainanafeng/math-coach/internal/llm"
	"github.com/tainanafeng/math-coach/internal/metrics"
)

// Registry manages available tools.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates a registry holding tools.
func NewRegistry(tools ...Tool) *Registry {
	r := &Registry{tools: make(map[string]Tool)}
	for _, t := range tools {
		r.Register(t)
	}
	return r
}

// Register adds a tool, replacing one with the same name.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	if !ok {
		return nil, fmt.Errorf("tool not found: %s", name)
	}
	return t, nil
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Definitions returns tool definitions for LLM requests, sorted by name.
func (r *Registry) Definitions() []llm.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]llm.ToolDefinition, 0, len(r.tools))
	for _, t := range r.tools {
		defs = append(defs, llm.ToolDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		})
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Execute runs the tool a call names. Unknown tools and tool errors become
// error results so the model can recover.
func (r *Registry) Execute(ctx context.Context, call llm.ToolCall) *Result {
	t, err := r.Get(call.Name)
	if err != nil {
		metrics.ToolCallsTotal.WithLabelValues("unknown").Inc()
		return errorResult(err.Error())
	}
	metrics.ToolCallsTotal.WithLabelValues(call.Name).Inc()

	args := call.Arguments
	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}
	res, err := t.Execute(ctx, args)
	if err != nil {
		return errorResult(err.Error())
	}
	if res == nil {
		return &Result{}
	}
	return res
}
