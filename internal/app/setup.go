package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/core/api"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/compat_oai/openai"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"github.com/firebase/genkit/go/plugins/ollama"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Abhi-Verma2005/oms-assistant/db"
	"github.com/Abhi-Verma2005/oms-assistant/internal/assistant"
	"github.com/Abhi-Verma2005/oms-assistant/internal/config"
	"github.com/Abhi-Verma2005/oms-assistant/internal/database"
	"github.com/Abhi-Verma2005/oms-assistant/internal/ingest"
	"github.com/Abhi-Verma2005/oms-assistant/internal/knowledge"
	"github.com/Abhi-Verma2005/oms-assistant/internal/observability"
	"github.com/Abhi-Verma2005/oms-assistant/internal/retrieval"
	"github.com/Abhi-Verma2005/oms-assistant/internal/semcache"
)

// Setup creates and initializes the application.
// Returns an App with embedded cleanup; call Close() to release.
func Setup(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *App, retErr error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{Config: cfg, Logger: logger}

	// On error, release everything already initialized.
	defer func() {
		if retErr != nil {
			if err := a.Close(); err != nil {
				logger.Warn("cleanup during setup failure", "error", err)
			}
		}
	}()

	// Tracing has to be registered before Genkit emits its first span.
	a.otelCleanup = provideOtelShutdown(ctx, cfg, logger)

	pool, err := provideDBPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.DBPool = pool

	g, err := provideGenkit(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.Genkit = g

	aiEmbedder := provideAIEmbedder(g, cfg)
	if aiEmbedder == nil {
		return nil, fmt.Errorf("embedder %q not found for provider %q", cfg.EmbedderModel, cfg.Provider)
	}

	embedder, err := knowledge.NewEmbedder(aiEmbedder, cfg.EmbedRPS, logger)
	if err != nil {
		return nil, fmt.Errorf("creating embedder: %w", err)
	}
	a.Embedder = embedder

	store, err := knowledge.NewStore(pool, logger)
	if err != nil {
		return nil, fmt.Errorf("creating knowledge store: %w", err)
	}
	a.Knowledge = store

	retriever, err := retrieval.NewRetriever(store, embedder, cfg.Retrieval, logger)
	if err != nil {
		return nil, fmt.Errorf("creating retriever: %w", err)
	}
	a.Retriever = retriever

	cache, err := provideCache(pool, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.Cache = cache

	generator, err := assistant.NewModelGenerator(g, cfg.FullModelName())
	if err != nil {
		return nil, fmt.Errorf("creating generator: %w", err)
	}

	coordinator, err := assistant.NewCoordinator(cache, retriever, generator, cfg.CacheTTL, logger)
	if err != nil {
		return nil, fmt.Errorf("creating coordinator: %w", err)
	}
	a.Coordinator = coordinator

	if cfg.IngestEnabled {
		if err := provideIngester(ctx, a, g); err != nil {
			return nil, err
		}
	}

	return a, nil
}

// provideOtelShutdown sets up Datadog tracing before Genkit initialization.
// Traces go to a local Datadog Agent via OTLP HTTP; the agent handles
// authentication, buffering, and forwarding.
func provideOtelShutdown(ctx context.Context, cfg *config.Config, logger *slog.Logger) func() {
	shutdown, err := observability.SetupDatadog(ctx, observability.Config{
		AgentHost:   cfg.Datadog.AgentHost,
		Environment: cfg.Datadog.Environment,
		ServiceName: cfg.Datadog.ServiceName,
	})
	if err != nil {
		logger.Warn("datadog setup failed, tracing disabled", "error", err)
		return func() {}
	}

	//nolint:contextcheck // Independent context: shutdown runs during teardown when parent is canceled
	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), observability.ShutdownTimeout)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			logger.Warn("shutting down tracer provider", "error", err)
		}
	}
}

// provideDBPool runs migrations and opens the connection pool.
func provideDBPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	if err := db.Migrate(cfg.PostgresURL()); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	pool, err := database.Open(ctx, cfg.PostgresConnectionString())
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	return pool, nil
}

// provideGenkit initializes Genkit with the configured AI provider.
// Supports gemini (default), ollama, and openai.
func provideGenkit(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*genkit.Genkit, error) {
	provider := cfg.Provider
	if provider == "" {
		provider = config.ProviderGemini
	}

	var g *genkit.Genkit

	switch provider {
	case config.ProviderOllama:
		ollamaPlugin := &ollama.Ollama{ServerAddress: cfg.OllamaHost}
		g = genkit.Init(ctx, genkit.WithPlugins(ollamaPlugin))
		if g == nil {
			return nil, errors.New("initializing genkit with ollama provider")
		}
		// Ollama requires explicit model registration (no auto-discovery).
		ollamaPlugin.DefineModel(g, ollama.ModelDefinition{
			Name: cfg.ModelName,
			Type: "chat",
		}, nil)
		ollamaPlugin.DefineEmbedder(g, cfg.OllamaHost, cfg.EmbedderModel, nil)
		logger.Info("initialized genkit with ollama provider",
			"model", cfg.ModelName, "host", cfg.OllamaHost)

	case config.ProviderOpenAI:
		g = genkit.Init(ctx, genkit.WithPlugins(&openai.OpenAI{}))
		if g == nil {
			return nil, errors.New("initializing genkit with openai provider")
		}
		logger.Info("initialized genkit with openai provider", "model", cfg.ModelName)

	default: // gemini / googleai
		g = genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}))
		if g == nil {
			return nil, errors.New("initializing genkit with gemini provider")
		}
		logger.Info("initialized genkit with gemini provider", "model", cfg.ModelName)
	}

	return g, nil
}

// provideAIEmbedder looks up the embedder registered by the provider plugin.
// Each provider registers embedders differently:
//   - gemini: GoogleAIEmbedder(g, modelName)
//   - ollama: registered in provideGenkit, keyed by server address
//   - openai: auto-registered in Init, looked up by model name
func provideAIEmbedder(g *genkit.Genkit, cfg *config.Config) ai.Embedder {
	switch cfg.Provider {
	case config.ProviderOllama:
		return ollama.Embedder(g, cfg.OllamaHost)
	case config.ProviderOpenAI:
		return genkit.LookupEmbedder(g, api.NewName("openai", cfg.EmbedderModel))
	default:
		return googlegenai.GoogleAIEmbedder(g, cfg.EmbedderModel)
	}
}

// provideCache creates the semantic cache, with the in-process read-through
// layer when enabled.
func provideCache(pool *pgxpool.Pool, cfg *config.Config, logger *slog.Logger) (*semcache.Cache, error) {
	var opts []semcache.Option
	if cfg.CacheMemoryLayer {
		opts = append(opts, semcache.WithMemoryLayer())
	}

	cache, err := semcache.New(pool, logger, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating semantic cache: %w", err)
	}
	return cache, nil
}

// provideIngester creates the background ingester and starts its worker.
// The worker is bound to an App-owned context so Close can drain it.
func provideIngester(ctx context.Context, a *App, g *genkit.Genkit) error {
	extractor, err := ingest.NewModelExtractor(g, a.Config.FullModelName())
	if err != nil {
		return fmt.Errorf("creating fact extractor: %w", err)
	}

	ingester, err := ingest.NewIngester(a.Knowledge, a.Embedder, extractor, a.Config.IngestQueueSize, a.Logger)
	if err != nil {
		return fmt.Errorf("creating ingester: %w", err)
	}
	a.Ingester = ingester

	workerCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	a.ingestCancel = cancel
	a.ingestDone.Add(1)
	go func() {
		defer a.ingestDone.Done()
		ingester.Run(workerCtx)
	}()

	return nil
}
