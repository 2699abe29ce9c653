package channel

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"
)

func TestConsoleChannelRoutesLines(t *testing.T) {
	var out strings.Builder
	in := strings.NewReader("what is 2+2?\n\n  factor x^2-1  \n")
	c := NewConsoleChannel("alice", in, &out)

	var mu sync.Mutex
	var got []InboundMessage
	c.OnMessage(func(m InboundMessage) {
		mu.Lock()
		got = append(got, m)
		mu.Unlock()
	})

	if err := c.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("console did not reach EOF")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(got))
	}
	if got[1].Text != "factor x^2-1" || got[1].Username != "alice" {
		t.Fatalf("unexpected message %+v", got[1])
	}
	if c.IsRunning() {
		t.Fatal("console should stop at EOF")
	}

	if err := c.Send(context.Background(), OutboundMessage{Text: "4"}); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "[Tutor]: 4") {
		t.Fatalf("answer not printed: %q", out.String())
	}
}

func TestManagerChannelsSorted(t *testing.T) {
	m := NewManager(nil)
	m.Register(NewTelegramChannel(TelegramConfig{Token: "x"}, nil))
	m.Register(NewConsoleChannel("bob", strings.NewReader(""), &strings.Builder{}))

	chs := m.Channels()
	if len(chs) != 2 || chs[0].Name() != "console" || chs[1].Name() != "telegram" {
		t.Fatalf("unexpected channels %v", m.List())
	}
	if _, ok := m.Get("telegram"); !ok {
		t.Fatal("telegram not registered")
	}
	for name, running := range m.List() {
		if running {
			t.Fatalf("%s should not be running", name)
		}
	}
}

func TestTelegramUsername(t *testing.T) {
	if got := TelegramUsername(-1001234); got != "telegram--1001234" {
		t.Fatalf("got %q", got)
	}
}

func TestSplitMessage(t *testing.T) {
	if chunks := splitMessage("short", 10); len(chunks) != 1 || chunks[0] != "short" {
		t.Fatalf("unexpected chunks %q", chunks)
	}

	text := strings.Repeat("數", 7) + "\n" + strings.Repeat("學", 7)
	chunks := splitMessage(text, 10)
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %q", chunks)
	}
	if chunks[0] != strings.Repeat("數", 7)+"\n" {
		t.Fatalf("first chunk should end at the line break, got %q", chunks[0])
	}
	if strings.Join(chunks, "") != text {
		t.Fatal("chunks lost text")
	}

	long := strings.Repeat("x", 25)
	for _, c := range splitMessage(long, 10) {
		if utf8.RuneCountInString(c) > 10 {
			t.Fatalf("chunk too long: %d", len(c))
		}
	}
}
