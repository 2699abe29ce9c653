package channel

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

// ConsoleChannel reads questions line by line and prints answers. All
// lines belong to one student.
type ConsoleChannel struct {
	mu       sync.Mutex
	username string
	in       io.Reader
	out      io.Writer
	handler  func(InboundMessage)
	running  bool
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewConsoleChannel creates a console channel for username.
func NewConsoleChannel(username string, in io.Reader, out io.Writer) *ConsoleChannel {
	return &ConsoleChannel{username: username, in: in, out: out}
}

func (c *ConsoleChannel) Name() string { return "console" }

func (c *ConsoleChannel) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.running = true
	c.done = make(chan struct{})

	go c.readLoop(ctx)
	return nil
}

func (c *ConsoleChannel) Stop(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cancel != nil {
		c.cancel()
	}
	c.running = false
	return nil
}

// Done is closed when input reaches EOF or the channel is stopped.
func (c *ConsoleChannel) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done
}

func (c *ConsoleChannel) Send(_ context.Context, msg OutboundMessage) error {
	_, err := fmt.Fprintf(c.out, "\n[Tutor]: %s\n\n> ", msg.Text)
	return err
}

func (c *ConsoleChannel) OnMessage(handler func(InboundMessage)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = handler
}

func (c *ConsoleChannel) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

func (c *ConsoleChannel) readLoop(ctx context.Context) {
	defer func() {
		c.mu.Lock()
		c.running = false
		close(c.done)
		c.mu.Unlock()
	}()

	scanner := bufio.NewScanner(c.in)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	fmt.Fprint(c.out, "> ")

	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			fmt.Fprint(c.out, "> ")
			continue
		}

		c.mu.Lock()
		handler := c.handler
		c.mu.Unlock()

		if handler != nil {
			handler(InboundMessage{
				ChannelName: "console",
				Username:    c.username,
				SenderName:  c.username,
				ChatID:      "console",
				Text:        text,
				Timestamp:   time.Now(),
			})
		}
	}
}
