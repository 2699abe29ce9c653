package memory

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	store, err := NewSQLiteStore(dbPath, Options{Retry: RetryPolicy{Attempts: 3, Delay: time.Millisecond}})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func appendN(t *testing.T, s *SQLiteStore, username string, n int) []int64 {
	t.Helper()
	ids := make([]int64, 0, n)
	for i := 0; i < n; i++ {
		role := RoleUser
		if i%2 == 1 {
			role = RoleAssistant
		}
		id, err := s.Append(context.Background(), username, role, fmt.Sprintf("msg %d", i))
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, id)
	}
	return ids
}

func TestAppendAssignsIncreasingIDs(t *testing.T) {
	store := newTestStore(t)
	ids := appendN(t, store, "alice", 5)

	for i := 1; i < len(ids); i++ {
		if ids[i] <= ids[i-1] {
			t.Fatalf("ids not strictly increasing: %v", ids)
		}
	}
}

func TestAppendRejectsUnknownRole(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Append(context.Background(), "alice", Role("system"), "hi")
	if !errors.Is(err, ErrInvalidRole) {
		t.Fatalf("expected ErrInvalidRole, got %v", err)
	}
}

func TestAppendStoresTimestamp(t *testing.T) {
	fixed := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "ts.db"), Options{Now: func() time.Time { return fixed }})
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	if _, err := store.Append(context.Background(), "alice", RoleUser, "x^2"); err != nil {
		t.Fatal(err)
	}
	msgs, err := store.ReadAll(context.Background(), "alice")
	if err != nil {
		t.Fatal(err)
	}
	if !msgs[0].CreatedAt.Equal(fixed) {
		t.Fatalf("expected %v, got %v", fixed, msgs[0].CreatedAt)
	}
}

func TestTimestampDefaultsToNow(t *testing.T) {
	store := newTestStore(t)
	before := time.Now().Add(-time.Minute)

	if _, err := store.db.Exec(`INSERT INTO messages (username, role, content) VALUES ('alice', 'user', 'hi')`); err != nil {
		t.Fatal(err)
	}
	msgs, err := store.ReadAll(context.Background(), "alice")
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
	if got := msgs[0].CreatedAt; got.Before(before) || got.After(time.Now().Add(time.Minute)) {
		t.Fatalf("expected a current timestamp, got %v", got)
	}
}

func TestReadAllIsolatesUsers(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	appendN(t, store, "alice", 3)
	appendN(t, store, "bob", 2)

	alice, err := store.ReadAll(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if len(alice) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(alice))
	}
	for _, m := range alice {
		if m.Username != "alice" {
			t.Fatalf("unexpected owner %q", m.Username)
		}
	}
	if alice[0].Content != "msg 0" || alice[0].Role != RoleUser {
		t.Fatalf("unexpected first message %+v", alice[0])
	}
	if alice[1].Role != RoleAssistant {
		t.Fatalf("expected assistant, got %s", alice[1].Role)
	}
}

func TestReadRecent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	ids := appendN(t, store, "alice", 10)

	recent, err := store.ReadRecent(ctx, "alice", 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(recent) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(recent))
	}
	want := ids[7:]
	for i, m := range recent {
		if m.ID != want[i] {
			t.Fatalf("position %d: expected id %d, got %d", i, want[i], m.ID)
		}
	}
}

func TestReadRecentFewerThanN(t *testing.T) {
	store := newTestStore(t)
	appendN(t, store, "alice", 2)

	recent, err := store.ReadRecent(context.Background(), "alice", 20)
	if err != nil {
		t.Fatal(err)
	}
	if len(recent) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(recent))
	}

	none, err := store.ReadRecent(context.Background(), "alice", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(none) != 0 {
		t.Fatalf("expected no messages for n=0, got %d", len(none))
	}
}

func TestReadAfter(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	ids := appendN(t, store, "alice", 6)

	after, err := store.ReadAfter(ctx, "alice", ids[3])
	if err != nil {
		t.Fatal(err)
	}
	if len(after) != 2 || after[0].ID != ids[4] || after[1].ID != ids[5] {
		t.Fatalf("unexpected messages after cursor: %+v", after)
	}

	all, err := store.ReadAfter(ctx, "alice", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 6 {
		t.Fatalf("expected 6 messages, got %d", len(all))
	}
}

func TestSummaryUpsert(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	s, err := store.GetSummary(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if s != nil {
		t.Fatalf("expected no summary, got %+v", s)
	}

	if err := store.SetSummary(ctx, "alice", "first"); err != nil {
		t.Fatal(err)
	}
	if err := store.SetSummary(ctx, "alice", "second"); err != nil {
		t.Fatal(err)
	}

	s, err = store.GetSummary(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if s == nil || s.Text != "second" {
		t.Fatalf("expected 'second', got %+v", s)
	}
}

func TestCursorDefaultsToZero(t *testing.T) {
	store := newTestStore(t)
	cursor, err := store.GetCursor(context.Background(), "nobody")
	if err != nil {
		t.Fatal(err)
	}
	if cursor != 0 {
		t.Fatalf("expected 0, got %d", cursor)
	}
}

func TestCursorNeverMovesBackward(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.SetCursor(ctx, "alice", 40); err != nil {
		t.Fatal(err)
	}
	if err := store.SetCursor(ctx, "alice", 25); err != nil {
		t.Fatal(err)
	}
	cursor, err := store.GetCursor(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if cursor != 40 {
		t.Fatalf("expected cursor to stay at 40, got %d", cursor)
	}

	if err := store.SetCursor(ctx, "alice", 60); err != nil {
		t.Fatal(err)
	}
	cursor, _ = store.GetCursor(ctx, "alice")
	if cursor != 60 {
		t.Fatalf("expected 60, got %d", cursor)
	}

	if err := store.SetCursor(ctx, "alice", -1); !errors.Is(err, ErrInvalidCursor) {
		t.Fatalf("expected ErrInvalidCursor, got %v", err)
	}
}

func TestCommitSummaryWritesBoth(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.CommitSummary(ctx, "alice", "fractions and ratios", 20); err != nil {
		t.Fatal(err)
	}

	s, err := store.GetSummary(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if s == nil || s.Text != "fractions and ratios" {
		t.Fatalf("unexpected summary %+v", s)
	}
	cursor, err := store.GetCursor(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if cursor != 20 {
		t.Fatalf("expected cursor 20, got %d", cursor)
	}

	// A stale commit replaces the text but cannot rewind the cursor.
	if err := store.CommitSummary(ctx, "alice", "older view", 10); err != nil {
		t.Fatal(err)
	}
	cursor, _ = store.GetCursor(ctx, "alice")
	if cursor != 20 {
		t.Fatalf("expected cursor to stay 20, got %d", cursor)
	}
}

func TestConcurrentAppends(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 40)
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := store.Append(ctx, "alice", RoleUser, fmt.Sprintf("m%d", i)); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatal(err)
	}

	all, err := store.ReadAll(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 40 {
		t.Fatalf("expected 40 messages, got %d", len(all))
	}
}

func TestOperationsAfterCloseFail(t *testing.T) {
	store := newTestStore(t)
	store.Close()

	_, err := store.ReadAll(context.Background(), "alice")
	if err == nil {
		t.Fatal("expected error on closed store")
	}
	if errors.Is(err, ErrStoreUnavailable) {
		t.Fatal("closed database is not lock contention")
	}
}
