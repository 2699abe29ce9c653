package config

import (
	"errors"
	"fmt"
	"strings"
)

// KeyringPlaceholder marks a secret that lives in the OS keychain instead
// of the config file.
const KeyringPlaceholder = "[keyring]"

// MinRecentMessages is the smallest recent window allowed. It equals the
// summarization threshold, so the window always covers the messages that
// are still waiting to be summarized.
const MinRecentMessages = 20

// Config is the top-level application configuration.
type Config struct {
	Server      ServerConfig      `json:"server"`
	Storage     StorageConfig     `json:"storage"`
	LLM         LLMConfig         `json:"llm"`
	FallbackLLM *LLMConfig        `json:"fallback_llm,omitempty"`
	Tutor       TutorConfig       `json:"tutor"`
	Summary     SummaryConfig     `json:"summary"`
	Retrieval   RetrievalConfig   `json:"retrieval"`
	Channels    ChannelsConfig    `json:"channels"`
	Accounts    map[string]string `json:"accounts,omitempty"`
	Log         LogConfig         `json:"log"`
}

type ServerConfig struct {
	Addr           string `json:"addr"`
	SessionSecret  string `json:"session_secret,omitempty"`
	SessionTTLMins int    `json:"session_ttl_mins"`
	MaxUploadMB    int    `json:"max_upload_mb"`
	SecureCookies  bool   `json:"secure_cookies"`
}

type StorageConfig struct {
	DBPath           string `json:"db_path"`
	RetryAttempts    int    `json:"retry_attempts"`
	RetryDelayMillis int    `json:"retry_delay_millis"`
}

type LLMConfig struct {
	Provider    string `json:"provider"`
	Model       string `json:"model"`
	APIKey      string `json:"api_key,omitempty"`
	BaseURL     string `json:"base_url,omitempty"`
	MaxRetries  int    `json:"max_retries"`
	TimeoutSecs int    `json:"timeout_secs"`
}

type TutorConfig struct {
	MaxTokens      int     `json:"max_tokens"`
	Temperature    float64 `json:"temperature"`
	MaxToolCalls   int     `json:"max_tool_calls"`
	RecentMessages int     `json:"recent_messages"`
	WebSearch      bool    `json:"web_search"`
	PromptsPath    string  `json:"prompts_path,omitempty"`
	// TurnTimeoutSecs bounds one whole turn including tool calls.
	TurnTimeoutSecs int `json:"turn_timeout_secs"`
}

type SummaryConfig struct {
	// Model overrides the chat model for summarization; empty uses the provider default.
	Model     string `json:"model,omitempty"`
	MaxTokens int    `json:"max_tokens"`
	MaxRunes  int    `json:"max_runes"`
}

type RetrievalConfig struct {
	Enabled        bool    `json:"enabled"`
	IndexPath      string  `json:"index_path"`
	SeedPath       string  `json:"seed_path,omitempty"`
	EmbeddingModel string  `json:"embedding_model"`
	APIKey         string  `json:"api_key,omitempty"`
	BaseURL        string  `json:"base_url,omitempty"`
	TopK           int     `json:"top_k"`
	FetchK         int     `json:"fetch_k"`
	MMRLambda      float64 `json:"mmr_lambda"`
	// ClassifierModel overrides the chat model used to classify turns.
	ClassifierModel string `json:"classifier_model,omitempty"`
}

type ChannelsConfig struct {
	Telegram *TelegramConfig `json:"telegram,omitempty"`
}

type TelegramConfig struct {
	Token      string  `json:"token"`
	AllowedIDs []int64 `json:"allowed_ids,omitempty"`
}

type LogConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
	Output string `json:"output"`
}

// Validate checks the fields the service cannot start without.
func (c *Config) Validate() error {
	var errs []error

	switch c.LLM.Provider {
	case "openai", "openrouter", "local", "anthropic":
	default:
		errs = append(errs, fmt.Errorf("llm.provider: unknown provider %q", c.LLM.Provider))
	}
	if c.LLM.APIKey == "" && c.LLM.Provider != "local" {
		errs = append(errs, errors.New("llm.api_key is required"))
	}
	if strings.TrimSpace(c.Storage.DBPath) == "" {
		errs = append(errs, errors.New("storage.db_path is required"))
	}
	if c.Storage.RetryAttempts < 1 {
		errs = append(errs, errors.New("storage.retry_attempts must be at least 1"))
	}
	if c.Tutor.RecentMessages < MinRecentMessages {
		errs = append(errs, fmt.Errorf("tutor.recent_messages must be at least %d", MinRecentMessages))
	}
	if c.Summary.MaxRunes < 1 {
		errs = append(errs, errors.New("summary.max_runes must be at least 1"))
	}
	if c.Retrieval.MMRLambda < 0 || c.Retrieval.MMRLambda > 1 {
		errs = append(errs, errors.New("retrieval.mmr_lambda must be within [0, 1]"))
	}
	return errors.Join(errs...)
}

// ValidateServer checks the settings only the web server needs.
func (c *Config) ValidateServer() error {
	if len(c.Server.SessionSecret) < 16 {
		return errors.New("server.session_secret must be at least 16 characters")
	}
	if len(c.Accounts) == 0 {
		return errors.New("no accounts configured (set accounts or TEST_USERS_JSON)")
	}
	return nil
}
