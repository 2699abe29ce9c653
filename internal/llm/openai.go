package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIProvider talks to the Chat Completions API. OpenRouter, Ollama and
// vLLM servers are reached through BaseURL.
type OpenAIProvider struct {
	client       openai.Client
	defaultModel string
}

// OpenAIConfig holds configuration for the OpenAI provider.
type OpenAIConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	MaxRetries int
	Timeout    time.Duration
}

// NewOpenAIProvider creates a provider for cfg. The model defaults to
// gpt-4o-mini.
func NewOpenAIProvider(cfg OpenAIConfig) *OpenAIProvider {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.MaxRetries > 0 {
		opts = append(opts, option.WithMaxRetries(cfg.MaxRetries))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}

	p := &OpenAIProvider{client: openai.NewClient(opts...), defaultModel: cfg.Model}
	if p.defaultModel == "" {
		p.defaultModel = "gpt-4o-mini"
	}
	return p
}

func (p *OpenAIProvider) Name() string        { return "openai" }
func (p *OpenAIProvider) DefaultModel() string { return p.defaultModel }

func (p *OpenAIProvider) Chat(ctx context.Context, req *ChatRequest) (*LLMResponse, error) {
	params := openai.ChatCompletionNewParams{
		Model:    p.defaultModel,
		Messages: openAIMessages(req),
		Tools:    openAITools(req.Tools),
	}
	if req.Model != "" {
		params.Model = req.Model
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(req.MaxTokens))
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}

	completion, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, classifyOpenAIError(err)
	}
	return openAIResponse(completion), nil
}

// openAIMessages lays out a request as one system message followed by the
// conversation. Inline system entries are merged into the leading one, and
// a history that opens with the assistant-authored summary gets a short
// user turn in front so strict chat templates of local servers accept it.
func openAIMessages(req *ChatRequest) []openai.ChatCompletionMessageParamUnion {
	var system []string
	if req.SystemPrompt != "" {
		system = append(system, req.SystemPrompt)
	}

	turns := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	for _, m := range req.Messages {
		switch m.Role {
		case RoleSystem:
			system = append(system, m.Content)
		case RoleUser:
			turns = append(turns, openai.UserMessage(m.Content))
		case RoleAssistant:
			if len(turns) == 0 {
				turns = append(turns, openai.UserMessage(resumeTurn))
			}
			turns = append(turns, openAIAssistant(m))
		case RoleTool:
			turns = append(turns, openai.ToolMessage(m.Content, m.ToolCallID))
		}
	}

	if len(system) == 0 {
		return turns
	}
	head := openai.SystemMessage(strings.Join(system, "\n\n"))
	return append([]openai.ChatCompletionMessageParamUnion{head}, turns...)
}

func openAIAssistant(m Message) openai.ChatCompletionMessageParamUnion {
	if len(m.ToolCalls) == 0 {
		return openai.AssistantMessage(m.Content)
	}

	asst := openai.ChatCompletionAssistantMessageParam{
		ToolCalls: make([]openai.ChatCompletionMessageToolCallParam, 0, len(m.ToolCalls)),
	}
	if m.Content != "" {
		asst.Content.OfString = openai.String(m.Content)
	}
	for _, tc := range m.ToolCalls {
		asst.ToolCalls = append(asst.ToolCalls, openai.ChatCompletionMessageToolCallParam{
			ID: tc.ID,
			Function: openai.ChatCompletionMessageToolCallFunctionParam{
				Name:      tc.Name,
				Arguments: string(tc.Arguments),
			},
		})
	}
	return openai.ChatCompletionMessageParamUnion{OfAssistant: &asst}
}

// openAITools converts tool definitions. A schema that does not decode is
// sent without parameters.
func openAITools(defs []ToolDefinition) []openai.ChatCompletionToolParam {
	if len(defs) == 0 {
		return nil
	}
	tools := make([]openai.ChatCompletionToolParam, 0, len(defs))
	for _, d := range defs {
		fn := openai.FunctionDefinitionParam{
			Name:        d.Name,
			Description: openai.String(d.Description),
		}
		var schema openai.FunctionParameters
		if len(d.Parameters) > 0 && json.Unmarshal(d.Parameters, &schema) == nil {
			fn.Parameters = schema
		}
		tools = append(tools, openai.ChatCompletionToolParam{Function: fn})
	}
	return tools
}

func openAIResponse(c *openai.ChatCompletion) *LLMResponse {
	out := &LLMResponse{
		Usage: Usage{
			InputTokens:  int(c.Usage.PromptTokens),
			OutputTokens: int(c.Usage.CompletionTokens),
		},
	}
	if len(c.Choices) == 0 {
		return out
	}

	choice := c.Choices[0]
	out.Content = choice.Message.Content
	out.StopReason = string(choice.FinishReason)
	for _, tc := range choice.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: json.RawMessage(tc.Function.Arguments),
		})
	}
	return out
}

// classifyOpenAIError maps the API status code when the SDK returned one
// and falls back to transport-level symptoms otherwise.
func classifyOpenAIError(err error) *LLMError {
	llmErr := &LLMError{Err: err, Message: "openai request failed", Type: ErrorUnknown}

	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		llmErr.Type = statusErrorType(apiErr.StatusCode)
		return llmErr
	}
	if errors.Is(err, context.DeadlineExceeded) {
		llmErr.Type = ErrorTimeout
		return llmErr
	}

	lower := strings.ToLower(err.Error())
	switch {
	case strings.Contains(lower, "timeout"):
		llmErr.Type = ErrorTimeout
	case strings.Contains(lower, "connection") || strings.Contains(lower, "no such host") || strings.Contains(lower, "refused"):
		llmErr.Type = ErrorNetwork
	}
	return llmErr
}

func statusErrorType(code int) ErrorType {
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return ErrorAuth
	case code == http.StatusTooManyRequests:
		return ErrorRateLimit
	case code == http.StatusRequestTimeout:
		return ErrorTimeout
	case code >= 500:
		return ErrorServerError
	case code >= 400:
		return ErrorInvalidInput
	default:
		return ErrorUnknown
	}
}
