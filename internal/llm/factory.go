package llm

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/tainanafeng/math-coach/internal/config"
)

// NewProvider creates an LLM provider from config.
func NewProvider(cfg config.LLMConfig) (Provider, error) {
	timeout := time.Duration(cfg.TimeoutSecs) * time.Second
	switch cfg.Provider {
	case "openai", "openrouter", "local":
		return NewOpenAIProvider(OpenAIConfig{
			APIKey:     cfg.APIKey,
			BaseURL:    cfg.BaseURL,
			Model:      cfg.Model,
			MaxRetries: cfg.MaxRetries,
			Timeout:    timeout,
		}), nil
	case "anthropic":
		return NewAnthropicProvider(AnthropicConfig{
			APIKey:     cfg.APIKey,
			Model:      cfg.Model,
			MaxRetries: cfg.MaxRetries,
			Timeout:    timeout,
		}), nil
	default:
		return nil, fmt.Errorf("unknown LLM provider: %s", cfg.Provider)
	}
}

// NewFromConfig builds the primary provider and wraps it with the fallback
// provider when one is configured with a key.
func NewFromConfig(primary config.LLMConfig, fallback *config.LLMConfig, log *zap.Logger) (Provider, error) {
	p, err := NewProvider(primary)
	if err != nil {
		return nil, err
	}
	if fallback == nil || fallback.APIKey == "" {
		return p, nil
	}
	fb, err := NewProvider(*fallback)
	if err != nil {
		return nil, fmt.Errorf("fallback provider: %w", err)
	}
	return NewFallbackProvider(log, p, fb), nil
}
