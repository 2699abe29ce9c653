package tutor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tainanafeng/math-coach/internal/channel"
	"github.com/tainanafeng/math-coach/internal/eventbus"
	"github.com/tainanafeng/math-coach/internal/history"
	"github.com/tainanafeng/math-coach/internal/llm"
	"github.com/tainanafeng/math-coach/internal/memory"
	"github.com/tainanafeng/math-coach/internal/retrieval"
	"github.com/tainanafeng/math-coach/internal/summary"
	"github.com/tainanafeng/math-coach/internal/tool"
)

type scriptedProvider struct {
	mu       sync.Mutex
	replies  []*llm.LLMResponse
	err      error
	requests []*llm.ChatRequest
	entered  chan struct{}
	release  chan struct{}
}

func (p *scriptedProvider) Name() string         { return "scripted" }
func (p *scriptedProvider) DefaultModel() string { return "scripted" }
func (p *scriptedProvider) Chat(ctx context.Context, req *llm.ChatRequest) (*llm.LLMResponse, error) {
	p.mu.Lock()
	p.requests = append(p.requests, req)
	entered, release := p.entered, p.release
	p.mu.Unlock()

	if entered != nil {
		entered <- struct{}{}
	}
	if release != nil {
		<-release
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	if len(p.replies) == 0 {
		return &llm.LLMResponse{Content: "ok"}, nil
	}
	r := p.replies[0]
	p.replies = p.replies[1:]
	return r, nil
}

func (p *scriptedProvider) request(i int) *llm.ChatRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.requests[i]
}

type fakeClassifier struct {
	ct  retrieval.ContextType
	err error
}

func (c *fakeClassifier) Classify(ctx context.Context, history []llm.Message, input string) (retrieval.ContextType, error) {
	return c.ct, c.err
}

type fakeTeaching struct {
	text string
	got  retrieval.ContextType
}

func (f *fakeTeaching) TeachingExamples(ctx context.Context, input string, ct retrieval.ContextType) (string, error) {
	f.got = ct
	if !ct.Valid() {
		return "", nil
	}
	return f.text, nil
}

type countingSummarizer struct{}

func (countingSummarizer) Summarize(ctx context.Context, prior string, batch []memory.Message) (string, error) {
	return fmt.Sprintf("summary of %d", len(batch)), nil
}

type echoTool struct{}

func (echoTool) Name() string        { return "echo" }
func (echoTool) Description() string { return "echoes its input" }
func (echoTool) Parameters() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{"q":{"type":"string"}}}`)
}
func (echoTool) Execute(ctx context.Context, args json.RawMessage) (*tool.Result, error) {
	return &tool.Result{Output: "echo: " + string(args)}, nil
}

type fixture struct {
	tutor      *Tutor
	store      *memory.SQLiteStore
	provider   *scriptedProvider
	classifier *fakeClassifier
	teaching   *fakeTeaching

	mu     sync.Mutex
	events []eventbus.Event
}

func newFixture(t *testing.T, p *scriptedProvider) *fixture {
	t.Helper()
	store, err := memory.NewSQLiteStore(filepath.Join(t.TempDir(), "chat.db"), memory.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	f := &fixture{
		store:      store,
		provider:   p,
		classifier: &fakeClassifier{ct: retrieval.ContextStuckMidway},
		teaching:   &fakeTeaching{text: retrieval.TeachingHeader + "Student: stuck\nTutor: try this\n"},
	}
	bus := eventbus.New(nil)
	bus.SubscribeAll(func(e eventbus.Event) {
		f.mu.Lock()
		f.events = append(f.events, e)
		f.mu.Unlock()
	})

	trigger := summary.NewTrigger(store, store, countingSummarizer{}, nil)
	f.tutor = New(Config{MaxTokens: 256, MaxToolCalls: 2}, Deps{
		Provider:   p,
		History:    history.NewAssembler(trigger, store, store, history.DefaultRecent, nil),
		Messages:   store,
		Classifier: f.classifier,
		Teaching:   f.teaching,
		Tools:      tool.NewRegistry(echoTool{}),
		Bus:        bus,
	})
	return f
}

func (f *fixture) topics() []eventbus.Topic {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]eventbus.Topic, 0, len(f.events))
	for _, e := range f.events {
		out = append(out, e.Topic)
	}
	return out
}

func TestAskStoresExchange(t *testing.T) {
	p := &scriptedProvider{replies: []*llm.LLMResponse{{Content: `Try \(x = 2\) in the equation.`}}}
	f := newFixture(t, p)
	ctx := context.Background()

	ans, err := f.tutor.Ask(ctx, "alice", "  I am stuck at 2x = 4  ")
	require.NoError(t, err)
	assert.Equal(t, "Try $x = 2$ in the equation.", ans.Text)
	assert.Equal(t, retrieval.ContextStuckMidway, ans.ContextType)
	assert.Equal(t, "stuck_midway", ans.ContextName)
	assert.Positive(t, ans.ContextTokens)
	assert.False(t, ans.Summarized)

	msgs, err := f.store.ReadAll(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, memory.RoleUser, msgs[0].Role)
	assert.Equal(t, "I am stuck at 2x = 4", msgs[0].Content)
	assert.Equal(t, ans.UserMessageID, msgs[0].ID)
	assert.Equal(t, memory.RoleAssistant, msgs[1].Role)
	assert.Equal(t, ans.Text, msgs[1].Content)

	req := p.request(0)
	assert.Contains(t, req.SystemPrompt, "stuck midway")
	assert.Contains(t, req.SystemPrompt, "Tutor: try this")
	require.Len(t, req.Tools, 1)
	require.Len(t, req.Messages, 1)
	assert.Equal(t, "I am stuck at 2x = 4", req.Messages[0].Content)

	assert.Equal(t, []eventbus.Topic{eventbus.TopicTurnStarted, eventbus.TopicTurnCompleted}, f.topics())
}

func TestAskRunsToolLoop(t *testing.T) {
	call := llm.ToolCall{ID: "call-1", Name: "echo", Arguments: json.RawMessage(`{"q":"pythagoras"}`)}
	p := &scriptedProvider{replies: []*llm.LLMResponse{
		{ToolCalls: []llm.ToolCall{call}},
		{Content: "Found it."},
	}}
	f := newFixture(t, p)

	ans, err := f.tutor.Ask(context.Background(), "alice", "who proved it?")
	require.NoError(t, err)
	assert.Equal(t, "Found it.", ans.Text)
	assert.Equal(t, 1, ans.ToolCalls)

	second := p.request(1)
	require.Len(t, second.Messages, 3)
	assert.Equal(t, llm.RoleAssistant, second.Messages[1].Role)
	assert.Equal(t, llm.RoleTool, second.Messages[2].Role)
	assert.Equal(t, "call-1", second.Messages[2].ToolCallID)
	assert.Equal(t, `echo: {"q":"pythagoras"}`, second.Messages[2].Content)

	assert.Contains(t, f.topics(), eventbus.TopicToolCall)
	assert.Contains(t, f.topics(), eventbus.TopicToolResult)

	msgs, err := f.store.ReadAll(context.Background(), "alice")
	require.NoError(t, err)
	assert.Len(t, msgs, 2, "tool traffic is not persisted")
}

func TestAskToolBudget(t *testing.T) {
	call := llm.ToolCall{ID: "c", Name: "echo", Arguments: json.RawMessage(`{}`)}
	p := &scriptedProvider{replies: []*llm.LLMResponse{
		{ToolCalls: []llm.ToolCall{call}},
		{ToolCalls: []llm.ToolCall{call}},
		{Content: "Final answer.", ToolCalls: []llm.ToolCall{call}},
	}}
	f := newFixture(t, p)

	ans, err := f.tutor.Ask(context.Background(), "alice", "search a lot")
	require.NoError(t, err)
	assert.Equal(t, "Final answer.", ans.Text)
	assert.Equal(t, 2, ans.ToolCalls)
	assert.NotEmpty(t, p.request(1).Tools)
	assert.Empty(t, p.request(2).Tools)
}

func TestAskFailureWritesNothing(t *testing.T) {
	boom := &llm.LLMError{Type: llm.ErrorServerError, Message: "openai request failed", Err: errors.New("503")}
	p := &scriptedProvider{err: boom}
	f := newFixture(t, p)

	_, err := f.tutor.Ask(context.Background(), "alice", "hello")
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, FormatErrorMessage(err), "503")

	msgs, err := f.store.ReadAll(context.Background(), "alice")
	require.NoError(t, err)
	assert.Empty(t, msgs)
	assert.Contains(t, f.topics(), eventbus.TopicError)
	assert.NotContains(t, f.topics(), eventbus.TopicTurnCompleted)
}

func TestAskEmptyReply(t *testing.T) {
	p := &scriptedProvider{replies: []*llm.LLMResponse{{Content: "  \n"}}}
	f := newFixture(t, p)

	_, err := f.tutor.Ask(context.Background(), "alice", "hello")
	assert.ErrorIs(t, err, llm.ErrEmptyResponse)

	msgs, err := f.store.ReadAll(context.Background(), "alice")
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestAskEmptyInput(t *testing.T) {
	f := newFixture(t, &scriptedProvider{})
	_, err := f.tutor.Ask(context.Background(), "alice", " \n\t")
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestAskRejectsConcurrentTurn(t *testing.T) {
	p := &scriptedProvider{entered: make(chan struct{}, 1), release: make(chan struct{})}
	f := newFixture(t, p)

	done := make(chan error, 1)
	go func() {
		_, err := f.tutor.Ask(context.Background(), "alice", "first")
		done <- err
	}()

	select {
	case <-p.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("first turn never reached the model")
	}
	assert.True(t, f.tutor.Busy("alice"))

	_, err := f.tutor.Ask(context.Background(), "alice", "second")
	assert.ErrorIs(t, err, ErrTurnInProgress)

	close(p.release)
	require.NoError(t, <-done)
	assert.False(t, f.tutor.Busy("alice"))

	msgs, err := f.store.ReadAll(context.Background(), "alice")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "first", msgs[0].Content)
}

func TestAskClassifierFailureUsesGeneralRules(t *testing.T) {
	p := &scriptedProvider{}
	f := newFixture(t, p)
	f.classifier.err = errors.New("classifier down")

	ans, err := f.tutor.Ask(context.Background(), "alice", "hi")
	require.NoError(t, err)
	assert.Equal(t, retrieval.ContextUnknown, ans.ContextType)
	assert.Equal(t, retrieval.ContextUnknown, f.teaching.got)
	assert.Empty(t, ans.TeachingExamples)
	assert.Contains(t, p.request(0).SystemPrompt, "Work out what the student is trying to do")
	assert.Contains(t, f.topics(), eventbus.TopicError)
}

func TestAskSummarizesWhenDue(t *testing.T) {
	p := &scriptedProvider{}
	f := newFixture(t, p)
	ctx := context.Background()
	for i := 0; i < summary.Threshold; i++ {
		role := memory.RoleUser
		if i%2 == 1 {
			role = memory.RoleAssistant
		}
		_, err := f.store.Append(ctx, "alice", role, fmt.Sprintf("m%d", i))
		require.NoError(t, err)
	}

	ans, err := f.tutor.Ask(ctx, "alice", "next question")
	require.NoError(t, err)
	assert.True(t, ans.Summarized)
	assert.Equal(t, "summary of 20", ans.Summary)

	first := p.request(0).Messages[0]
	assert.Equal(t, llm.RoleAssistant, first.Role)
	assert.Equal(t, history.SummaryPrefix+"summary of 20", first.Content)
	assert.Contains(t, f.topics(), eventbus.TopicSummaryUpdated)

	cursor, err := f.store.GetCursor(ctx, "alice")
	require.NoError(t, err)
	assert.Less(t, cursor, ans.UserMessageID)
}

type recordingChannel struct {
	mu      sync.Mutex
	handler func(channel.InboundMessage)
	sent    []channel.OutboundMessage
}

func (c *recordingChannel) Name() string                    { return "recording" }
func (c *recordingChannel) Start(ctx context.Context) error { return nil }
func (c *recordingChannel) Stop(ctx context.Context) error  { return nil }
func (c *recordingChannel) IsRunning() bool                 { return true }
func (c *recordingChannel) OnMessage(h func(channel.InboundMessage)) {
	c.handler = h
}
func (c *recordingChannel) Send(ctx context.Context, msg channel.OutboundMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, msg)
	return nil
}

func TestServeRepliesOnChannel(t *testing.T) {
	p := &scriptedProvider{replies: []*llm.LLMResponse{{Content: "Hello!"}}}
	f := newFixture(t, p)
	ch := &recordingChannel{}
	mgr := channel.NewManager(nil)
	mgr.Register(ch)
	f.tutor.Serve(context.Background(), mgr)
	require.NotNil(t, ch.handler)

	ch.handler(channel.InboundMessage{ChannelName: "recording", Username: "telegram-7", ChatID: "7", Text: "hi"})
	p.err = errors.New("model offline")
	ch.handler(channel.InboundMessage{ChannelName: "recording", Username: "telegram-7", ChatID: "7", Text: "again"})

	require.Len(t, ch.sent, 2)
	assert.Equal(t, channel.OutboundMessage{ChatID: "7", Text: "Hello!"}, ch.sent[0])
	assert.True(t, strings.Contains(ch.sent[1].Text, "model offline"))

	msgs, err := f.store.ReadAll(context.Background(), "telegram-7")
	require.NoError(t, err)
	assert.Len(t, msgs, 2)
}

func TestFormatErrorMessage(t *testing.T) {
	assert.Contains(t, FormatErrorMessage(ErrTurnInProgress), "previous question")
	assert.Contains(t, FormatErrorMessage(fmt.Errorf("x: %w", context.DeadlineExceeded)), "too long")
	assert.Contains(t, FormatErrorMessage(fmt.Errorf("append: %w", memory.ErrStoreUnavailable)), "busy")
	assert.Contains(t, FormatErrorMessage(&llm.LLMError{Type: llm.ErrorRateLimit, Message: "429"}), "too many requests")
	assert.Contains(t, FormatErrorMessage(errors.New("weird")), "(error: weird)")
}
