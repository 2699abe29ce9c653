package llm

import (
	"context"

	"go.uber.org/zap"
)

// FallbackProvider tries providers in order, falling back on retryable errors.
type FallbackProvider struct {
	providers []Provider
	log       *zap.Logger
}

// NewFallbackProvider creates a provider chain. The first provider is primary.
func NewFallbackProvider(log *zap.Logger, providers ...Provider) *FallbackProvider {
	if log == nil {
		log = zap.NewNop()
	}
	return &FallbackProvider{providers: providers, log: log.Named("fallback")}
}

func (f *FallbackProvider) Name() string {
	if len(f.providers) > 0 {
		return f.providers[0].Name() + "+fallback"
	}
	return "fallback"
}

func (f *FallbackProvider) DefaultModel() string {
	if len(f.providers) > 0 {
		return f.providers[0].DefaultModel()
	}
	return ""
}

// Chat sends req to each provider in turn. The request model is cleared for
// secondary providers so each one uses its own default.
func (f *FallbackProvider) Chat(ctx context.Context, req *ChatRequest) (*LLMResponse, error) {
	var lastErr error
	for i, p := range f.providers {
		attempt := req
		if i > 0 && req.Model != "" {
			clone := *req
			clone.Model = ""
			attempt = &clone
		}

		resp, err := p.Chat(ctx, attempt)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !isRetryable(err) || ctx.Err() != nil {
			return nil, err
		}
		f.log.Warn("provider failed, trying next",
			zap.String("provider", p.Name()),
			zap.Stringer("error_type", ErrorTypeOf(err)),
			zap.Error(err),
		)
	}
	return nil, lastErr
}

// isRetryable returns true for errors that warrant trying a different provider.
func isRetryable(err error) bool {
	switch ErrorTypeOf(err) {
	case ErrorAuth, ErrorInvalidInput:
		return false
	default:
		return true
	}
}
