package config

// Defaults returns a Config with sensible default values.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:           ":8080",
			SessionTTLMins: 12 * 60,
			MaxUploadMB:    10,
		},
		Storage: StorageConfig{
			DBPath:           "data/chat.db",
			RetryAttempts:    3,
			RetryDelayMillis: 100,
		},
		LLM: LLMConfig{
			Provider:    "openai",
			Model:       "gpt-4o-mini",
			MaxRetries:  2,
			TimeoutSecs: 120,
		},
		Tutor: TutorConfig{
			MaxTokens:       2048,
			Temperature:     0.3,
			MaxToolCalls:    4,
			RecentMessages:  20,
			WebSearch:       true,
			TurnTimeoutSecs: 180,
		},
		Summary: SummaryConfig{
			MaxTokens: 1024,
			MaxRunes:  800,
		},
		Retrieval: RetrievalConfig{
			Enabled:        true,
			IndexPath:      "data/examples.db",
			EmbeddingModel: "text-embedding-3-large",
			TopK:           3,
			FetchK:         20,
			MMRLambda:      0.5,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
			Output: "stdout",
		},
	}
}
