package eventbus

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tainanafeng/math-coach/internal/metrics"
)

// Bus is a simple in-process pub/sub event bus.
type Bus struct {
	mu       sync.RWMutex
	handlers map[Topic][]Handler
	all      []Handler
	log      *zap.Logger
}

// New creates a new event bus. log may be nil.
func New(log *zap.Logger) *Bus {
	if log == nil {
		log = zap.NewNop()
	}
	return &Bus{
		handlers: make(map[Topic][]Handler),
		log:      log.Named("eventbus"),
	}
}

// Subscribe registers a handler for a topic.
func (b *Bus) Subscribe(topic Topic, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[topic] = append(b.handlers[topic], handler)
}

// SubscribeAll registers a handler for every topic.
func (b *Bus) SubscribeAll(handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.all = append(b.all, handler)
}

func (b *Bus) snapshot(topic Topic) []Handler {
	b.mu.RLock()
	defer b.mu.RUnlock()
	handlers := make([]Handler, 0, len(b.handlers[topic])+len(b.all))
	handlers = append(handlers, b.handlers[topic]...)
	return append(handlers, b.all...)
}

// Publish sends an event to all subscribers of the topic.
// Handlers are called synchronously in the order they were registered,
// topic handlers first. A panicking handler is logged and skipped.
func (b *Bus) Publish(topic Topic, payload any) {
	metrics.EventsTotal.WithLabelValues(string(topic)).Inc()
	event := Event{Topic: topic, Payload: payload, Timestamp: time.Now()}
	for _, h := range b.snapshot(topic) {
		b.call(h, event)
	}
}

// PublishAsync sends an event to all subscribers asynchronously.
func (b *Bus) PublishAsync(topic Topic, payload any) {
	metrics.EventsTotal.WithLabelValues(string(topic)).Inc()
	event := Event{Topic: topic, Payload: payload, Timestamp: time.Now()}
	for _, h := range b.snapshot(topic) {
		go b.call(h, event)
	}
}

func (b *Bus) call(h Handler, e Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("event handler panicked", zap.String("topic", string(e.Topic)), zap.Any("panic", r))
		}
	}()
	h(e)
}
