package channel

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Manager manages the lifecycle of all channels.
type Manager struct {
	mu       sync.RWMutex
	channels map[string]Channel
	log      *zap.Logger
}

// NewManager creates a new channel manager.
func NewManager(log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{
		channels: make(map[string]Channel),
		log:      log.Named("channel"),
	}
}

// Register adds a channel to the manager.
func (m *Manager) Register(ch Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels[ch.Name()] = ch
}

// StartAll starts all registered channels, stopping at the first failure.
func (m *Manager) StartAll(ctx context.Context) error {
	for _, ch := range m.Channels() {
		if err := ch.Start(ctx); err != nil {
			m.log.Error("failed to start channel", zap.String("channel", ch.Name()), zap.Error(err))
			return fmt.Errorf("start %s: %w", ch.Name(), err)
		}
		m.log.Info("channel started", zap.String("channel", ch.Name()))
	}
	return nil
}

// StopAll stops all running channels.
func (m *Manager) StopAll(ctx context.Context) {
	for _, ch := range m.Channels() {
		if !ch.IsRunning() {
			continue
		}
		if err := ch.Stop(ctx); err != nil {
			m.log.Warn("failed to stop channel", zap.String("channel", ch.Name()), zap.Error(err))
			continue
		}
		m.log.Info("channel stopped", zap.String("channel", ch.Name()))
	}
}

// Get returns a channel by name.
func (m *Manager) Get(name string) (Channel, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ch, ok := m.channels[name]
	return ch, ok
}

// Channels returns the registered channels sorted by name.
func (m *Manager) Channels() []Channel {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Channel, 0, len(m.channels))
	for _, ch := range m.channels {
		out = append(out, ch)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// List returns all channel names and their running status.
func (m *Manager) List() map[string]bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make(map[string]bool, len(m.channels))
	for name, ch := range m.channels {
		result[name] = ch.IsRunning()
	}
	return result
}
