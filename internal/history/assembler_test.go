package history

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tainanafeng/math-coach/internal/llm"
	"github.com/tainanafeng/math-coach/internal/memory"
	"github.com/tainanafeng/math-coach/internal/summary"
)

type stubSummarizer struct {
	err   error
	calls int
}

func (s *stubSummarizer) Summarize(ctx context.Context, prior string, batch []memory.Message) (string, error) {
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	return fmt.Sprintf("folded %d", len(batch)), nil
}

func newStore(t *testing.T) *memory.SQLiteStore {
	t.Helper()
	store, err := memory.NewSQLiteStore(filepath.Join(t.TempDir(), "chat.db"), memory.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func fill(t *testing.T, store *memory.SQLiteStore, username string, n int) []int64 {
	t.Helper()
	ids := make([]int64, 0, n)
	for i := 0; i < n; i++ {
		role := memory.RoleUser
		if i%2 == 1 {
			role = memory.RoleAssistant
		}
		id, err := store.Append(context.Background(), username, role, fmt.Sprintf("m%d", i+1))
		require.NoError(t, err)
		ids = append(ids, id)
	}
	return ids
}

func newAssembler(store *memory.SQLiteStore, s summary.Summarizer, recent int) *Assembler {
	trigger := summary.NewTrigger(store, store, s, nil)
	return NewAssembler(trigger, store, store, recent, nil)
}

func TestBuildWithoutSummary(t *testing.T) {
	store := newStore(t)
	fill(t, store, "alice", 4)
	a := newAssembler(store, &stubSummarizer{}, 0)

	h, err := a.Build(context.Background(), "alice")
	require.NoError(t, err)
	assert.Empty(t, h.Summary)
	assert.False(t, h.Summarized)
	require.Len(t, h.Messages, 4)

	msgs := h.LLMMessages()
	require.Len(t, msgs, 4)
	assert.Equal(t, llm.RoleUser, msgs[0].Role)
	assert.Equal(t, llm.RoleAssistant, msgs[1].Role)
	assert.Equal(t, "m1", msgs[0].Content)
}

func TestBuildRunsTriggerFirst(t *testing.T) {
	store := newStore(t)
	ids := fill(t, store, "alice", summary.Threshold)
	s := &stubSummarizer{}
	a := newAssembler(store, s, DefaultRecent)

	h, err := a.Build(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, s.calls)
	assert.True(t, h.Summarized)
	assert.Equal(t, "folded 20", h.Summary)
	assert.Equal(t, ids[len(ids)-1], h.Cursor)

	msgs := h.LLMMessages()
	require.Len(t, msgs, summary.Threshold+1)
	assert.Equal(t, llm.RoleAssistant, msgs[0].Role)
	assert.Equal(t, SummaryPrefix+"folded 20", msgs[0].Content)
}

func TestBuildRecentWindowOldestFirst(t *testing.T) {
	store := newStore(t)
	ids := fill(t, store, "alice", 40)
	require.NoError(t, store.CommitSummary(context.Background(), "alice", "first 38", ids[37]))
	a := newAssembler(store, &stubSummarizer{}, 5)

	h, err := a.Read(context.Background(), "alice")
	require.NoError(t, err)
	require.Len(t, h.Messages, 5)
	for i, m := range h.Messages {
		assert.Equal(t, ids[35+i], m.ID)
	}
}

func TestReadKeepsPendingBeyondWindow(t *testing.T) {
	store := newStore(t)
	ids := fill(t, store, "alice", 10)
	a := newAssembler(store, &stubSummarizer{}, 5)

	h, err := a.Read(context.Background(), "alice")
	require.NoError(t, err)
	require.Len(t, h.Messages, 10)
	assert.Equal(t, ids[0], h.Messages[0].ID)
	assert.Equal(t, ids[9], h.Messages[9].ID)
}

func TestReadKeepsPendingAfterCursor(t *testing.T) {
	store := newStore(t)
	ids := fill(t, store, "alice", 12)
	require.NoError(t, store.CommitSummary(context.Background(), "alice", "first 4", ids[3]))
	a := newAssembler(store, &stubSummarizer{}, 5)

	h, err := a.Read(context.Background(), "alice")
	require.NoError(t, err)
	require.Len(t, h.Messages, 8)
	assert.Equal(t, ids[4], h.Messages[0].ID)
	assert.Equal(t, "first 4", h.Summary)
}

func TestBuildKeepsPendingWhenSummarizerFails(t *testing.T) {
	store := newStore(t)
	ids := fill(t, store, "alice", summary.Threshold+4)
	a := newAssembler(store, &stubSummarizer{err: errors.New("llm down")}, DefaultRecent)

	h, err := a.Build(context.Background(), "alice")
	require.NoError(t, err)
	require.Error(t, h.TriggerErr)
	assert.Empty(t, h.Summary)
	assert.Zero(t, h.Cursor)
	require.Len(t, h.Messages, summary.Threshold+4)
	assert.Equal(t, ids[0], h.Messages[0].ID)
}

func TestBuildToleratesSummarizerFailure(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	fill(t, store, "alice", summary.Threshold)
	require.NoError(t, store.SetSummary(ctx, "alice", "older summary"))

	boom := errors.New("llm down")
	a := newAssembler(store, &stubSummarizer{err: boom}, DefaultRecent)

	h, err := a.Build(ctx, "alice")
	require.NoError(t, err)
	assert.ErrorIs(t, h.TriggerErr, boom)
	assert.False(t, h.Summarized)
	assert.Equal(t, "older summary", h.Summary)
	assert.Len(t, h.Messages, summary.Threshold)
}

func TestReadDoesNotSummarize(t *testing.T) {
	store := newStore(t)
	fill(t, store, "alice", summary.Threshold+5)
	s := &stubSummarizer{}
	a := newAssembler(store, s, DefaultRecent)

	h, err := a.Read(context.Background(), "alice")
	require.NoError(t, err)
	assert.Zero(t, s.calls)
	assert.Empty(t, h.Summary)
	assert.Zero(t, h.Cursor)
}

func TestBuildPropagatesReadFailure(t *testing.T) {
	store := newStore(t)
	a := newAssembler(store, &stubSummarizer{}, DefaultRecent)
	store.Close()

	_, err := a.Build(context.Background(), "alice")
	assert.Error(t, err)
}
