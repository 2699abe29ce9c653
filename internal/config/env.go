package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// ApplyEnv overlays environment variables on cfg. Variables that are unset
// leave the file or default value in place.
func ApplyEnv(cfg *Config) error {
	if port, ok := os.LookupEnv("PORT"); ok && strings.TrimSpace(port) != "" {
		cfg.Server.Addr = ":" + strings.TrimPrefix(strings.TrimSpace(port), ":")
	}
	cfg.Server.SessionSecret = getEnv("SESSION_SECRET", cfg.Server.SessionSecret)
	cfg.Server.SecureCookies = getEnvBool("SECURE_COOKIES", cfg.Server.SecureCookies)
	cfg.Server.MaxUploadMB = getEnvInt("MAX_UPLOAD_MB", cfg.Server.MaxUploadMB)

	cfg.Storage.DBPath = getEnv("DB_PATH", cfg.Storage.DBPath)
	cfg.Storage.RetryAttempts = getEnvInt("DB_RETRY_ATTEMPTS", cfg.Storage.RetryAttempts)
	cfg.Storage.RetryDelayMillis = getEnvInt("DB_RETRY_DELAY_MS", cfg.Storage.RetryDelayMillis)

	cfg.LLM.Provider = getEnv("LLM_PROVIDER", cfg.LLM.Provider)
	cfg.LLM.Model = getEnv("LLM_MODEL", cfg.LLM.Model)
	cfg.LLM.BaseURL = getEnv("LLM_BASE_URL", cfg.LLM.BaseURL)
	switch cfg.LLM.Provider {
	case "anthropic":
		cfg.LLM.APIKey = getEnv("ANTHROPIC_API_KEY", cfg.LLM.APIKey)
	default:
		cfg.LLM.APIKey = getEnv("OPENAI_API_KEY", cfg.LLM.APIKey)
	}
	cfg.LLM.APIKey = getEnv("LLM_API_KEY", cfg.LLM.APIKey)

	cfg.Tutor.PromptsPath = getEnv("PROMPTS_PATH", cfg.Tutor.PromptsPath)

	cfg.Summary.Model = getEnv("SUMMARY_MODEL", cfg.Summary.Model)

	cfg.Retrieval.Enabled = getEnvBool("RETRIEVAL_ENABLED", cfg.Retrieval.Enabled)
	cfg.Retrieval.IndexPath = getEnv("RETRIEVAL_INDEX_PATH", cfg.Retrieval.IndexPath)
	cfg.Retrieval.SeedPath = getEnv("RETRIEVAL_SEED_PATH", cfg.Retrieval.SeedPath)
	cfg.Retrieval.APIKey = getEnv("OPENAI_API_KEY", cfg.Retrieval.APIKey)

	if token, ok := os.LookupEnv("TELEGRAM_TOKEN"); ok && token != "" {
		if cfg.Channels.Telegram == nil {
			cfg.Channels.Telegram = &TelegramConfig{}
		}
		cfg.Channels.Telegram.Token = token
	}

	if raw, ok := os.LookupEnv("TEST_USERS_JSON"); ok && strings.TrimSpace(raw) != "" {
		var users map[string]string
		if err := json.Unmarshal([]byte(raw), &users); err != nil {
			return fmt.Errorf("parse TEST_USERS_JSON: %w", err)
		}
		if cfg.Accounts == nil {
			cfg.Accounts = make(map[string]string, len(users))
		}
		for name, secret := range users {
			cfg.Accounts[name] = secret
		}
	}

	cfg.Log.Level = getEnv("LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = getEnv("LOG_FORMAT", cfg.Log.Format)
	cfg.Log.Output = getEnv("LOG_OUTPUT", cfg.Log.Output)
	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}
