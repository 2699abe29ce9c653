package channel

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
	tele "gopkg.in/telebot.v3"

	"github.com/tainanafeng/math-coach/internal/security"
)

// telegramChunk stays under Telegram's 4096-character message limit.
const telegramChunk = 4000

// TelegramChannel integrates with the Telegram Bot API. Each chat is a
// separate student, keyed as telegram-<chatID>.
type TelegramChannel struct {
	mu      sync.Mutex
	token   string
	auth    *security.Authorizer
	bot     *tele.Bot
	handler func(InboundMessage)
	running bool
	log     *zap.Logger
}

// TelegramConfig holds Telegram-specific configuration.
type TelegramConfig struct {
	Token      string
	AllowedIDs []int64
}

// NewTelegramChannel creates a new Telegram channel.
func NewTelegramChannel(cfg TelegramConfig, log *zap.Logger) *TelegramChannel {
	if log == nil {
		log = zap.NewNop()
	}
	return &TelegramChannel{
		token: cfg.Token,
		auth:  security.NewAuthorizer(cfg.AllowedIDs),
		log:   log.Named("telegram"),
	}
}

// TelegramUsername is the message-store key of a Telegram chat.
func TelegramUsername(chatID int64) string {
	return "telegram-" + strconv.FormatInt(chatID, 10)
}

func (t *TelegramChannel) Name() string { return "telegram" }

func (t *TelegramChannel) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.running {
		return nil
	}

	bot, err := tele.NewBot(tele.Settings{
		Token:  t.token,
		Poller: &tele.LongPoller{Timeout: 10 * time.Second},
	})
	if err != nil {
		return fmt.Errorf("telegram bot init: %w", err)
	}

	bot.Handle(tele.OnText, func(c tele.Context) error {
		chat := c.Chat()
		if !t.auth.IsAllowed(chat.ID) {
			t.log.Warn("unauthorized chat", zap.Int64("chat_id", chat.ID), zap.String("username", c.Sender().Username))
			return nil
		}

		t.mu.Lock()
		handler := t.handler
		t.mu.Unlock()

		if handler != nil {
			sender := c.Sender()
			handler(InboundMessage{
				ChannelName: "telegram",
				Username:    TelegramUsername(chat.ID),
				SenderName:  strings.TrimSpace(sender.FirstName + " " + sender.LastName),
				ChatID:      strconv.FormatInt(chat.ID, 10),
				Text:        c.Text(),
				Timestamp:   time.Now(),
			})
		}
		return nil
	})

	t.bot = bot
	t.running = true

	go bot.Start()
	go func() {
		<-ctx.Done()
		_ = t.Stop(context.Background())
	}()

	return nil
}

func (t *TelegramChannel) Stop(_ context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.bot != nil && t.running {
		t.bot.Stop()
	}
	t.running = false
	return nil
}

func (t *TelegramChannel) Send(_ context.Context, msg OutboundMessage) error {
	t.mu.Lock()
	bot := t.bot
	t.mu.Unlock()

	if bot == nil {
		return fmt.Errorf("telegram bot not started")
	}

	chatID, err := strconv.ParseInt(msg.ChatID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid chat ID: %w", err)
	}

	recipient := &tele.Chat{ID: chatID}
	for _, chunk := range splitMessage(msg.Text, telegramChunk) {
		if _, err := bot.Send(recipient, chunk); err != nil {
			return fmt.Errorf("telegram send: %w", err)
		}
	}
	return nil
}

func (t *TelegramChannel) OnMessage(handler func(InboundMessage)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handler = handler
}

func (t *TelegramChannel) IsRunning() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

// splitMessage cuts text into chunks of at most limit runes, preferring
// line breaks.
func splitMessage(text string, limit int) []string {
	var chunks []string
	for utf8.RuneCountInString(text) > limit {
		runes := []rune(text)
		cut := limit
		if nl := strings.LastIndex(string(runes[:limit]), "\n"); nl > 0 {
			cut = utf8.RuneCountInString(string(runes[:limit])[:nl]) + 1
		}
		chunks = append(chunks, string(runes[:cut]))
		text = string(runes[cut:])
	}
	if text != "" {
		chunks = append(chunks, text)
	}
	return chunks
}
