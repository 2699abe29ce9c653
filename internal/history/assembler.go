// Package history composes the model context for a turn: the user's
// current summary followed by the most recent raw messages.
package history

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/tainanafeng/math-coach/internal/llm"
	"github.com/tainanafeng/math-coach/internal/memory"
	"github.com/tainanafeng/math-coach/internal/summary"
)

// DefaultRecent is the number of raw messages included after the summary.
const DefaultRecent = 20

// SummaryPrefix opens the synthetic entry that carries the prior summary.
const SummaryPrefix = "[Prior summary]\n"

// Summarizer is the trigger the assembler runs before reading.
type Summarizer interface {
	MaybeSummarize(ctx context.Context, username string) (summary.Result, error)
}

// MessageReader reads the newest messages of a user and the messages
// not yet folded into the summary.
type MessageReader interface {
	ReadRecent(ctx context.Context, username string, n int) ([]memory.Message, error)
	ReadAfter(ctx context.Context, username string, cursor int64) ([]memory.Message, error)
}

// SummaryReader reads the stored summary and cursor.
type SummaryReader interface {
	GetSummary(ctx context.Context, username string) (*memory.Summary, error)
	GetCursor(ctx context.Context, username string) (int64, error)
}

// History is the context assembled for one turn.
type History struct {
	Summary  string           `json:"summary,omitempty"`
	Cursor   int64            `json:"cursor"`
	Messages []memory.Message `json:"messages"`
	// Summarized is set when Build produced a new summary.
	Summarized bool `json:"summarized"`
	// TriggerErr holds a summarization failure that Build tolerated.
	TriggerErr error `json:"-"`
}

// LLMMessages renders the history as provider messages, the summary first
// as an assistant-authored entry.
func (h *History) LLMMessages() []llm.Message {
	out := make([]llm.Message, 0, len(h.Messages)+1)
	if h.Summary != "" {
		out = append(out, llm.Message{Role: llm.RoleAssistant, Content: SummaryPrefix + h.Summary})
	}
	for _, m := range h.Messages {
		role := llm.RoleUser
		if m.Role == memory.RoleAssistant {
			role = llm.RoleAssistant
		}
		out = append(out, llm.Message{Role: role, Content: m.Content})
	}
	return out
}

// Assembler builds History values.
type Assembler struct {
	trigger   Summarizer
	messages  MessageReader
	summaries SummaryReader
	recent    int
	log       *zap.Logger
}

// NewAssembler creates an assembler. recent <= 0 uses DefaultRecent.
func NewAssembler(trigger Summarizer, messages MessageReader, summaries SummaryReader, recent int, log *zap.Logger) *Assembler {
	if recent <= 0 {
		recent = DefaultRecent
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Assembler{
		trigger:   trigger,
		messages:  messages,
		summaries: summaries,
		recent:    recent,
		log:       log.Named("history"),
	}
}

// Build runs the summarization trigger and then reads the summary and the
// recent window. A trigger failure is logged and recorded on the result;
// the history falls back to whatever summary is stored. Read failures are
// returned.
func (a *Assembler) Build(ctx context.Context, username string) (*History, error) {
	res, triggerErr := a.trigger.MaybeSummarize(ctx, username)
	if triggerErr != nil {
		a.log.Warn("summarization skipped for this turn",
			zap.String("username", username),
			zap.Error(triggerErr),
		)
	}

	h, err := a.Read(ctx, username)
	if err != nil {
		return nil, err
	}
	h.Summarized = triggerErr == nil && res.Summarized
	h.TriggerErr = triggerErr
	return h, nil
}

// Read returns the stored summary and recent messages without running the
// trigger. Messages after the cursor are never dropped: when more of them
// are pending than the window holds, all of them are returned.
func (a *Assembler) Read(ctx context.Context, username string) (*History, error) {
	s, err := a.summaries.GetSummary(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("read summary: %w", err)
	}
	cursor, err := a.summaries.GetCursor(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("read cursor: %w", err)
	}
	msgs, err := a.messages.ReadAfter(ctx, username, cursor)
	if err != nil {
		return nil, fmt.Errorf("read pending messages: %w", err)
	}
	if len(msgs) < a.recent {
		msgs, err = a.messages.ReadRecent(ctx, username, a.recent)
		if err != nil {
			return nil, fmt.Errorf("read recent messages: %w", err)
		}
	}

	h := &History{Cursor: cursor, Messages: msgs}
	if s != nil {
		h.Summary = s.Text
	}
	return h, nil
}
