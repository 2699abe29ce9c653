package tokenutil

import (
	"strings"
	"sync/atomic"

	"github.com/pkoukk/tiktoken-go"

	"github.com/tainanafeng/math-coach/internal/llm"
)

// Per-message overhead for role and separators in chat formats.
const messageOverhead = 4

var enc atomic.Pointer[tiktoken.Tiktoken]

// Load fetches the cl100k_base BPE table. Until it succeeds, Count falls
// back to EstimateTokens.
func Load() error {
	e, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return err
	}
	enc.Store(e)
	return nil
}

// EstimateTokens approximates the token count without a tokenizer.
func EstimateTokens(content string) int {
	if content == "" {
		return 0
	}
	words := len(strings.Fields(content))
	wordEstimate := int(float64(words) * 1.33)
	charEstimate := len(content) / 4
	if wordEstimate > charEstimate {
		return wordEstimate
	}
	return charEstimate
}

// Count returns the token count of content.
func Count(content string) int {
	if content == "" {
		return 0
	}
	if e := enc.Load(); e != nil {
		return len(e.Encode(content, nil, nil))
	}
	return EstimateTokens(content)
}

// CountMessages returns the token count of a chat context, system prompt included.
func CountMessages(systemPrompt string, messages []llm.Message) int {
	total := 0
	if systemPrompt != "" {
		total += Count(systemPrompt) + messageOverhead
	}
	for _, m := range messages {
		total += Count(m.Content) + messageOverhead
	}
	return total
}
