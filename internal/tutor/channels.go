package tutor

import (
	"context"

	"go.uber.org/zap"

	"github.com/tainanafeng/math-coach/internal/channel"
	"github.com/tainanafeng/math-coach/internal/eventbus"
)

// Serve routes inbound messages of every registered channel through Ask
// and sends the answer, or the formatted error, back on the same channel.
// Call it before mgr.StartAll.
func (t *Tutor) Serve(ctx context.Context, mgr *channel.Manager) {
	for _, ch := range mgr.Channels() {
		ch := ch
		ch.OnMessage(func(msg channel.InboundMessage) {
			t.handleInbound(ctx, ch, msg)
		})
	}
	t.log.Info("serving channels", zap.Int("channels", len(mgr.Channels())))
}

func (t *Tutor) handleInbound(ctx context.Context, ch channel.Channel, msg channel.InboundMessage) {
	t.bus.Publish(eventbus.TopicInbound, msg)

	text := ""
	ans, err := t.Ask(ctx, msg.Username, msg.Text)
	if err != nil {
		text = FormatErrorMessage(err)
	} else {
		text = ans.Text
	}

	out := channel.OutboundMessage{ChatID: msg.ChatID, Text: text}
	t.bus.Publish(eventbus.TopicOutbound, out)
	if err := ch.Send(ctx, out); err != nil {
		t.log.Error("send reply failed",
			zap.String("channel", ch.Name()),
			zap.String("chat_id", msg.ChatID),
			zap.Error(err),
		)
	}
}
