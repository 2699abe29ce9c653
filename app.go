package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/tainanafeng/math-coach/internal/channel"
	"github.com/tainanafeng/math-coach/internal/config"
	"github.com/tainanafeng/math-coach/internal/eventbus"
	"github.com/tainanafeng/math-coach/internal/history"
	"github.com/tainanafeng/math-coach/internal/llm"
	"github.com/tainanafeng/math-coach/internal/logger"
	"github.com/tainanafeng/math-coach/internal/memory"
	"github.com/tainanafeng/math-coach/internal/prompt"
	"github.com/tainanafeng/math-coach/internal/retrieval"
	"github.com/tainanafeng/math-coach/internal/security"
	"github.com/tainanafeng/math-coach/internal/summary"
	"github.com/tainanafeng/math-coach/internal/tokenutil"
	"github.com/tainanafeng/math-coach/internal/tool"
	"github.com/tainanafeng/math-coach/internal/tutor"
)

const (
	secretNameLLMKey         = "llm_api_key"
	secretNameFallbackLLMKey = "fallback_llm_api_key"
	secretNameEmbeddingKey   = "embedding_api_key"
	secretNameTelegramToken  = "telegram_token"
	secretNameSessionSecret  = "session_secret"

	// vaultPasswordEnv unlocks the encrypted vault used when no OS keychain
	// is reachable (headless servers).
	vaultPasswordEnv = "MATHCOACH_VAULT_PASSWORD"
)

// App holds the wired services of one process.
type App struct {
	cfg      *config.Config
	log      *zap.Logger
	keyStore *security.KeyStore

	store     *memory.SQLiteStore
	index     *retrieval.Store
	retriever *retrieval.Retriever
	bus       *eventbus.Bus
	tutor     *tutor.Tutor
	chanMgr   *channel.Manager
}

// newApp loads the configuration, installs the global logger and resolves
// keyring-backed secrets. Services are wired later by initCore.
func newApp(configPath string) (*App, error) {
	loader, err := config.NewLoader(configPath)
	if err != nil {
		return nil, fmt.Errorf("config loader: %w", err)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	log, err := logger.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.Output)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	log.Info("config loaded", zap.String("path", loader.FilePath()))
	a := &App{cfg: cfg, log: log}

	ks, err := security.NewKeyStore("", os.Getenv(vaultPasswordEnv))
	if err != nil {
		log.Warn("key store unavailable, secrets must be set in config or env", zap.Error(err))
	}
	a.keyStore = ks
	a.resolveSecrets()
	return a, nil
}

// resolveSecrets replaces "[keyring]" placeholders with the stored values.
func (a *App) resolveSecrets() {
	if a.keyStore == nil {
		return
	}
	resolve := func(name string, value *string) {
		v, err := a.keyStore.Resolve(name, *value)
		if err != nil {
			a.log.Warn("failed to read secret from keyring", zap.String("secret", name), zap.Error(err))
			*value = ""
			return
		}
		*value = v
	}

	resolve(secretNameLLMKey, &a.cfg.LLM.APIKey)
	if a.cfg.FallbackLLM != nil {
		resolve(secretNameFallbackLLMKey, &a.cfg.FallbackLLM.APIKey)
	}
	resolve(secretNameEmbeddingKey, &a.cfg.Retrieval.APIKey)
	resolve(secretNameSessionSecret, &a.cfg.Server.SessionSecret)
	if a.cfg.Channels.Telegram != nil {
		resolve(secretNameTelegramToken, &a.cfg.Channels.Telegram.Token)
	}
}

// initCore opens the stores and wires the tutoring pipeline.
func (a *App) initCore(ctx context.Context) error {
	if err := a.cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	store, err := memory.NewSQLiteStore(a.cfg.Storage.DBPath, memory.Options{
		Retry: memory.RetryPolicy{
			Attempts: a.cfg.Storage.RetryAttempts,
			Delay:    time.Duration(a.cfg.Storage.RetryDelayMillis) * time.Millisecond,
		},
		Logger: a.log,
	})
	if err != nil {
		return fmt.Errorf("open message store: %w", err)
	}
	a.store = store
	a.log.Info("message store ready", zap.String("path", a.cfg.Storage.DBPath))

	provider, err := llm.NewFromConfig(a.cfg.LLM, a.cfg.FallbackLLM, a.log)
	if err != nil {
		return fmt.Errorf("llm provider: %w", err)
	}

	summarizer := summary.NewLLMSummarizer(provider, summary.LLMSummarizerConfig{
		Model:     a.cfg.Summary.Model,
		MaxTokens: a.cfg.Summary.MaxTokens,
		MaxRunes:  a.cfg.Summary.MaxRunes,
	})
	trigger := summary.NewTrigger(store, store, summarizer, a.log)
	assembler := history.NewAssembler(trigger, store, store, a.cfg.Tutor.RecentMessages, a.log)

	a.initRetrieval(ctx)

	go func() {
		if err := tokenutil.Load(); err != nil {
			a.log.Warn("tokenizer unavailable, estimating context tokens", zap.Error(err))
		}
	}()

	prompts, err := prompt.Load(a.cfg.Tutor.PromptsPath)
	if err != nil {
		return fmt.Errorf("load prompts: %w", err)
	}

	tools := tool.NewRegistry()
	if a.cfg.Tutor.WebSearch {
		tools.Register(tool.NewWebSearchTool(""))
	}

	a.bus = eventbus.New(a.log)
	a.subscribeEvents()

	deps := tutor.Deps{
		Provider:   provider,
		History:    assembler,
		Messages:   store,
		Classifier: retrieval.NewLLMClassifier(provider, a.exampleSource(), a.cfg.Retrieval.ClassifierModel, a.log),
		Prompts:    prompts,
		Tools:      tools,
		Bus:        a.bus,
		Logger:     a.log,
	}
	if a.retriever != nil {
		deps.Teaching = a.retriever
	}
	a.tutor = tutor.New(tutor.Config{
		Model:        a.cfg.LLM.Model,
		MaxTokens:    a.cfg.Tutor.MaxTokens,
		Temperature:  a.cfg.Tutor.Temperature,
		MaxToolCalls: a.cfg.Tutor.MaxToolCalls,
		TurnTimeout:  time.Duration(a.cfg.Tutor.TurnTimeoutSecs) * time.Second,
	}, deps)

	a.chanMgr = channel.NewManager(a.log)
	a.log.Info("tutor ready",
		zap.String("provider", provider.Name()),
		zap.String("model", a.cfg.LLM.Model),
		zap.Bool("retrieval", a.retriever != nil),
		zap.Int("tools", tools.Len()),
	)
	return nil
}

func (a *App) exampleSource() retrieval.ExampleSource {
	if a.retriever == nil {
		return nil
	}
	return a.retriever
}

// initRetrieval opens the example index, seeding it on first use. Any
// failure leaves retrieval disabled; the tutor then works from the base
// prompt and dialogue rules alone.
func (a *App) initRetrieval(ctx context.Context) {
	rc := a.cfg.Retrieval
	if !rc.Enabled {
		a.log.Info("retrieval disabled by config")
		return
	}
	if rc.APIKey == "" {
		a.log.Warn("retrieval disabled: no embedding api key")
		return
	}

	embedder, err := retrieval.NewOpenAIEmbedder(rc.APIKey, rc.BaseURL, rc.EmbeddingModel)
	if err != nil {
		a.log.Warn("retrieval disabled", zap.Error(err))
		return
	}
	index, err := retrieval.OpenStore(rc.IndexPath)
	if err != nil {
		a.log.Warn("retrieval disabled", zap.Error(err))
		return
	}

	n, err := index.Count(ctx, retrieval.CollectionTeaching)
	if err == nil && n == 0 {
		stats, serr := seedIndex(ctx, index, embedder, rc.SeedPath)
		if serr != nil {
			err = serr
		} else {
			a.log.Info("example index seeded", zap.Int("context", stats.Context), zap.Int("teaching", stats.Teaching))
		}
	}
	if err != nil {
		index.Close()
		a.log.Warn("retrieval disabled", zap.Error(err))
		return
	}

	a.index = index
	a.retriever = retrieval.NewRetriever(index, embedder, retrieval.Options{
		K:      rc.TopK,
		FetchK: rc.FetchK,
		Lambda: rc.MMRLambda,
	}, a.log)
}

func seedIndex(ctx context.Context, index *retrieval.Store, embedder retrieval.Embedder, seedPath string) (retrieval.IndexStats, error) {
	seed, err := retrieval.LoadSeed(seedPath)
	if err != nil {
		return retrieval.IndexStats{}, err
	}
	return retrieval.Index(ctx, index, embedder, seed)
}

// subscribeEvents mirrors bus traffic into the log.
func (a *App) subscribeEvents() {
	events := a.log.Named("events")
	a.bus.Subscribe(eventbus.TopicError, func(e eventbus.Event) {
		if ev, ok := e.Payload.(eventbus.ErrorEvent); ok {
			events.Warn("pipeline error",
				zap.String("username", ev.Username),
				zap.String("stage", ev.Stage),
				zap.Error(ev.Err),
			)
		}
	})
	a.bus.Subscribe(eventbus.TopicSummaryUpdated, func(e eventbus.Event) {
		if ev, ok := e.Payload.(eventbus.SummaryUpdated); ok {
			events.Info("summary updated",
				zap.String("username", ev.Username),
				zap.Int64("cursor", ev.Cursor),
				zap.Int("runes", ev.Runes),
			)
		}
	})
	a.bus.Subscribe(eventbus.TopicToolCall, func(e eventbus.Event) {
		if ev, ok := e.Payload.(eventbus.ToolCall); ok {
			events.Debug("tool call", zap.String("username", ev.Username), zap.String("tool", ev.Name))
		}
	})
}

// Close releases every opened resource.
func (a *App) Close() {
	var errs []error
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if a.index != nil {
		errs = append(errs, a.index.Close())
	}
	if err := errors.Join(errs...); err != nil {
		a.log.Warn("close", zap.Error(err))
	}
	_ = logger.Sync()
}
