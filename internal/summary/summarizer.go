package summary

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/tainanafeng/math-coach/internal/llm"
	"github.com/tainanafeng/math-coach/internal/memory"
)

// DefaultMaxRunes caps the length of a stored summary.
const DefaultMaxRunes = 800

// ErrEmptySummary is returned when the model produced no usable text.
var ErrEmptySummary = errors.New("summarizer returned empty text")

// Summarizer folds a prior summary and a batch of new messages into one
// consolidated summary.
type Summarizer interface {
	Summarize(ctx context.Context, prior string, batch []memory.Message) (string, error)
}

// LLMSummarizer implements Summarizer with a single text-generation call.
type LLMSummarizer struct {
	provider  llm.Provider
	model     string
	maxTokens int
	maxRunes  int
}

// LLMSummarizerConfig configures an LLMSummarizer.
type LLMSummarizerConfig struct {
	Model     string
	MaxTokens int
	MaxRunes  int
}

// NewLLMSummarizer creates a summarizer backed by provider.
func NewLLMSummarizer(provider llm.Provider, cfg LLMSummarizerConfig) *LLMSummarizer {
	if cfg.MaxRunes <= 0 {
		cfg.MaxRunes = DefaultMaxRunes
	}
	return &LLMSummarizer{
		provider:  provider,
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
		maxRunes:  cfg.MaxRunes,
	}
}

const systemPrompt = `You maintain the running summary of a math tutoring conversation between a student and a tutor.
Merge the existing summary (if one is given) and the new dialogue into ONE summary:
- Remove repetition. Keep the key points, the conclusions reached and the formulas used.
- Keep it under %d characters.
- If several topics were discussed, give each topic its own short section.
- Write every formula in LaTeX: $...$ inline, $$...$$ or \[...\] for display.
- Write in the same language the student uses.
Reply with the summary only.`

// Summarize builds the merge prompt and returns the new summary, truncated
// to the configured maximum length.
func (s *LLMSummarizer) Summarize(ctx context.Context, prior string, batch []memory.Message) (string, error) {
	req := &llm.ChatRequest{
		Model:        s.model,
		SystemPrompt: fmt.Sprintf(systemPrompt, s.maxRunes),
		Messages: []llm.Message{
			{Role: llm.RoleUser, Content: "Content to merge:\n\n" + renderBatch(prior, batch)},
		},
		MaxTokens: s.maxTokens,
	}

	text, err := llm.Complete(ctx, s.provider, req)
	if errors.Is(err, llm.ErrEmptyResponse) {
		return "", ErrEmptySummary
	}
	if err != nil {
		return "", fmt.Errorf("summarize: %w", err)
	}
	return truncateRunes(text, s.maxRunes), nil
}

// renderBatch joins the prior summary and the pending messages into the
// text the model merges. The prior summary goes first.
func renderBatch(prior string, batch []memory.Message) string {
	blocks := make([]string, 0, len(batch)+1)
	if prior != "" {
		blocks = append(blocks, "[Existing summary]\n"+prior)
	}
	for _, m := range batch {
		speaker := "Student"
		if m.Role == memory.RoleAssistant {
			speaker = "Tutor"
		}
		blocks = append(blocks, speaker+": "+m.Content)
	}
	return strings.Join(blocks, "\n\n")
}

func truncateRunes(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return strings.TrimSpace(string(runes[:max]))
}
