// Package tutor runs one tutoring turn end to end: context assembly with
// incremental summarization, situation classification, teaching-example
// retrieval, the tool-using model loop and persistence of the exchange.
package tutor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/tainanafeng/math-coach/internal/eventbus"
	"github.com/tainanafeng/math-coach/internal/history"
	"github.com/tainanafeng/math-coach/internal/latex"
	"github.com/tainanafeng/math-coach/internal/llm"
	"github.com/tainanafeng/math-coach/internal/memory"
	"github.com/tainanafeng/math-coach/internal/metrics"
	"github.com/tainanafeng/math-coach/internal/prompt"
	"github.com/tainanafeng/math-coach/internal/retrieval"
	"github.com/tainanafeng/math-coach/internal/tokenutil"
	"github.com/tainanafeng/math-coach/internal/tool"
)

var (
	// ErrTurnInProgress is returned when the user already has a turn running.
	ErrTurnInProgress = errors.New("a turn is already in progress for this user")
	// ErrEmptyInput is returned for blank questions.
	ErrEmptyInput = errors.New("input is empty")
)

// HistoryBuilder assembles the context of a turn, summarizing first when due.
type HistoryBuilder interface {
	Build(ctx context.Context, username string) (*history.History, error)
}

// MessageAppender persists the exchange of a finished turn.
type MessageAppender interface {
	Append(ctx context.Context, username string, role memory.Role, content string) (int64, error)
}

// TeachingSource returns the teaching-example block for a situation.
type TeachingSource interface {
	TeachingExamples(ctx context.Context, input string, ct retrieval.ContextType) (string, error)
}

// Config tunes the model loop.
type Config struct {
	Model        string
	MaxTokens    int
	Temperature  float64
	MaxToolCalls int
	// TurnTimeout bounds a whole turn; zero means no extra deadline.
	TurnTimeout time.Duration
}

// Deps are the collaborators of a Tutor. Classifier, Teaching, Tools and
// Bus are optional.
type Deps struct {
	Provider   llm.Provider
	History    HistoryBuilder
	Messages   MessageAppender
	Classifier retrieval.Classifier
	Teaching   TeachingSource
	Prompts    *prompt.Builder
	Tools      *tool.Registry
	Bus        *eventbus.Bus
	Logger     *zap.Logger
}

// Answer is the result of a successful turn.
type Answer struct {
	Text               string                `json:"answer"`
	ContextType        retrieval.ContextType `json:"context_type"`
	ContextName        string                `json:"context_name"`
	TeachingExamples   string                `json:"teaching_examples,omitempty"`
	Summary            string                `json:"summary,omitempty"`
	Summarized         bool                  `json:"summarized"`
	ContextTokens      int                   `json:"context_tokens"`
	ToolCalls          int                   `json:"tool_calls"`
	UserMessageID      int64                 `json:"user_message_id"`
	AssistantMessageID int64                 `json:"assistant_message_id"`
}

// Tutor answers student questions.
type Tutor struct {
	cfg        Config
	provider   llm.Provider
	history    HistoryBuilder
	messages   MessageAppender
	classifier retrieval.Classifier
	teaching   TeachingSource
	prompts    *prompt.Builder
	tools      *tool.Registry
	bus        *eventbus.Bus
	log        *zap.Logger

	active sync.Map // username -> struct{}
}

// New creates a tutor.
func New(cfg Config, deps Deps) *Tutor {
	if cfg.MaxToolCalls < 0 {
		cfg.MaxToolCalls = 0
	}
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}
	prompts := deps.Prompts
	if prompts == nil {
		prompts = prompt.Default()
	}
	bus := deps.Bus
	if bus == nil {
		bus = eventbus.New(log)
	}
	return &Tutor{
		cfg:        cfg,
		provider:   deps.Provider,
		history:    deps.History,
		messages:   deps.Messages,
		classifier: deps.Classifier,
		teaching:   deps.Teaching,
		prompts:    prompts,
		tools:      deps.Tools,
		bus:        bus,
		log:        log.Named("tutor"),
	}
}

// Busy reports whether username has a turn running.
func (t *Tutor) Busy(username string) bool {
	_, ok := t.active.Load(username)
	return ok
}

// Ask runs one turn for username. Nothing is written to the message store
// unless the model produced an answer; on error the caller shows
// FormatErrorMessage(err) to the student.
func (t *Tutor) Ask(ctx context.Context, username, input string) (*Answer, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return nil, ErrEmptyInput
	}
	if _, loaded := t.active.LoadOrStore(username, struct{}{}); loaded {
		metrics.ChatTurnsTotal.WithLabelValues("busy").Inc()
		return nil, ErrTurnInProgress
	}
	defer t.active.Delete(username)

	if t.cfg.TurnTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.cfg.TurnTimeout)
		defer cancel()
	}

	start := time.Now()
	log := t.log.With(zap.String("username", username))
	t.bus.Publish(eventbus.TopicTurnStarted, eventbus.TurnStarted{Username: username})

	ans, err := t.run(ctx, log, username, input)
	if err != nil {
		metrics.ChatTurnsTotal.WithLabelValues("error").Inc()
		log.Error("turn failed", zap.Error(err), zap.Duration("elapsed", time.Since(start)))
		return nil, err
	}

	elapsed := time.Since(start)
	metrics.ChatTurnsTotal.WithLabelValues("ok").Inc()
	metrics.ChatTurnDuration.WithLabelValues(ans.ContextName).Observe(elapsed.Seconds())
	metrics.ContextTokens.Observe(float64(ans.ContextTokens))
	t.bus.Publish(eventbus.TopicTurnCompleted, eventbus.TurnCompleted{
		Username:      username,
		ContextType:   int(ans.ContextType),
		ContextTokens: ans.ContextTokens,
		ToolCalls:     ans.ToolCalls,
		Duration:      elapsed,
	})
	log.Info("turn completed",
		zap.Stringer("context_type", ans.ContextType),
		zap.Int("context_tokens", ans.ContextTokens),
		zap.Int("tool_calls", ans.ToolCalls),
		zap.Bool("summarized", ans.Summarized),
		zap.Duration("elapsed", elapsed),
	)
	return ans, nil
}

func (t *Tutor) run(ctx context.Context, log *zap.Logger, username, input string) (*Answer, error) {
	h, err := t.history.Build(ctx, username)
	if err != nil {
		t.publishError(username, "history", err)
		return nil, fmt.Errorf("build history: %w", err)
	}
	if h.TriggerErr != nil {
		t.publishError(username, "summary", h.TriggerErr)
	}
	if h.Summarized {
		t.bus.Publish(eventbus.TopicSummaryUpdated, eventbus.SummaryUpdated{
			Username: username,
			Cursor:   h.Cursor,
			Runes:    utf8.RuneCountInString(h.Summary),
		})
	}
	past := h.LLMMessages()

	ct := retrieval.ContextUnknown
	if t.classifier != nil {
		ct, err = t.classifier.Classify(ctx, past, input)
		if err != nil {
			log.Warn("classification failed, using general rules", zap.Error(err))
			t.publishError(username, "classify", err)
			ct = retrieval.ContextUnknown
		}
	}

	teaching := ""
	if t.teaching != nil {
		teaching, err = t.teaching.TeachingExamples(ctx, input, ct)
		if err != nil {
			log.Warn("teaching examples unavailable", zap.Error(err))
			t.publishError(username, "retrieve", err)
			teaching = ""
		}
	}

	system := t.prompts.Build(ct, teaching)
	msgs := make([]llm.Message, 0, len(past)+1)
	msgs = append(msgs, past...)
	msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: input})
	tokens := tokenutil.CountMessages(system, msgs)

	reply, toolCalls, err := t.loop(ctx, username, system, msgs)
	if err != nil {
		t.publishError(username, "llm", err)
		return nil, err
	}
	reply = latex.Format(reply)
	if reply == "" {
		t.publishError(username, "llm", llm.ErrEmptyResponse)
		return nil, llm.ErrEmptyResponse
	}

	userID, err := t.messages.Append(ctx, username, memory.RoleUser, input)
	if err != nil {
		t.publishError(username, "store", err)
		return nil, fmt.Errorf("store question: %w", err)
	}
	assistantID, err := t.messages.Append(ctx, username, memory.RoleAssistant, reply)
	if err != nil {
		t.publishError(username, "store", err)
		return nil, fmt.Errorf("store answer: %w", err)
	}

	return &Answer{
		Text:               reply,
		ContextType:        ct,
		ContextName:        ct.String(),
		TeachingExamples:   teaching,
		Summary:            h.Summary,
		Summarized:         h.Summarized,
		ContextTokens:      tokens,
		ToolCalls:          toolCalls,
		UserMessageID:      userID,
		AssistantMessageID: assistantID,
	}, nil
}

func (t *Tutor) publishError(username, stage string, err error) {
	t.bus.Publish(eventbus.TopicError, eventbus.ErrorEvent{Username: username, Stage: stage, Err: err})
}
