package tutor

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/tainanafeng/math-coach/internal/eventbus"
	"github.com/tainanafeng/math-coach/internal/llm"
)

// loop runs think → act → observe until the model answers without calling
// a tool. Once the tool budget is spent the model is asked once more with
// no tools offered, so the turn always ends with text.
func (t *Tutor) loop(ctx context.Context, username, system string, messages []llm.Message) (string, int, error) {
	var defs []llm.ToolDefinition
	if t.tools != nil && t.cfg.MaxToolCalls > 0 {
		defs = t.tools.Definitions()
	}

	toolCalls := 0
	for {
		req := &llm.ChatRequest{
			Model:        t.cfg.Model,
			Messages:     messages,
			Tools:        defs,
			MaxTokens:    t.cfg.MaxTokens,
			Temperature:  t.cfg.Temperature,
			SystemPrompt: system,
		}
		resp, err := t.provider.Chat(ctx, req)
		if err != nil {
			return "", toolCalls, fmt.Errorf("llm: %w", err)
		}

		if len(resp.ToolCalls) == 0 || len(defs) == 0 {
			return resp.Content, toolCalls, nil
		}

		toolCalls += len(resp.ToolCalls)
		messages = append(messages, llm.Message{
			Role:      llm.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})

		for _, tc := range resp.ToolCalls {
			t.bus.Publish(eventbus.TopicToolCall, eventbus.ToolCall{Username: username, Name: tc.Name, Args: string(tc.Arguments)})
			res := t.tools.Execute(ctx, tc)
			t.bus.Publish(eventbus.TopicToolResult, eventbus.ToolResult{Username: username, Name: tc.Name, IsError: res.IsError})
			t.log.Debug("tool executed",
				zap.String("username", username),
				zap.String("tool", tc.Name),
				zap.Bool("is_error", res.IsError),
			)
			messages = append(messages, llm.Message{
				Role:       llm.RoleTool,
				Content:    res.Text(),
				ToolCallID: tc.ID,
			})
		}

		if toolCalls >= t.cfg.MaxToolCalls {
			t.log.Info("tool budget spent", zap.String("username", username), zap.Int("tool_calls", toolCalls))
			defs = nil
		}
	}
}
