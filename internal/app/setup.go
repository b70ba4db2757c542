package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"github.com/firebase/genkit/go/plugins/ollama"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/quarrylabs/quarry/db"
	"github.com/quarrylabs/quarry/internal/answer"
	"github.com/quarrylabs/quarry/internal/config"
	"github.com/quarrylabs/quarry/internal/ingest"
	"github.com/quarrylabs/quarry/internal/store"
)

// Setup creates and initializes the application. Returns an App with
// embedded cleanup; call Close() to release.
func Setup(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *App, retErr error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{Config: cfg, Logger: logger}

	// On error, clean up everything already initialized.
	defer func() {
		if retErr != nil {
			if err := a.Close(); err != nil {
				logger.Warn("cleanup during setup failure", "error", err)
			}
		}
	}()

	g, err := provideGenkit(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.Genkit = g

	embedder := provideEmbedder(g, cfg)
	if embedder == nil {
		return nil, fmt.Errorf("embedder %q not found for provider %q", cfg.EmbedderModel, cfg.Provider)
	}
	a.Embedder = embedder

	st, pool, err := provideStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.Store = st
	a.pool = pool

	extractive := answer.NewExtractive(embedder, cfg.EmbeddingDim, logger.With("component", "extractive"))
	generator := answer.NewGenkitGenerator(g, cfg.ModelName, cfg.Temperature)
	generative := answer.NewGenerative(generator, extractive,
		time.Duration(cfg.GenerateTimeoutSeconds)*time.Second)

	a.Engine = answer.NewEngine(st, embedder, cfg.EmbeddingDim, extractive, generative,
		logger.With("component", "engine"))

	loader := ingest.NewLoader(logger.With("component", "loader"))
	a.Pipeline = ingest.NewPipeline(loader, embedder, cfg.EmbeddingDim, st,
		logger.With("component", "ingest"))

	return a, nil
}

// provideGenkit initializes Genkit with the configured AI provider.
// Supports ollama (default) and gemini/googleai providers.
func provideGenkit(ctx context.Context, cfg *config.Config) (*genkit.Genkit, error) {
	switch cfg.Provider {
	case config.ProviderOllama:
		ollamaPlugin := &ollama.Ollama{ServerAddress: cfg.OllamaHost}
		g := genkit.Init(ctx, genkit.WithPlugins(ollamaPlugin))
		if g == nil {
			return nil, errors.New("initializing genkit with ollama provider")
		}
		// Ollama requires explicit model registration (no auto-discovery).
		ollamaPlugin.DefineModel(g, ollama.ModelDefinition{
			Name: cfg.ModelName,
			Type: "chat",
		}, nil)
		ollamaPlugin.DefineEmbedder(g, cfg.OllamaHost, cfg.EmbedderModel, nil)
		slog.Info("initialized Genkit with ollama provider",
			"model", cfg.ModelName, "embedder", cfg.EmbedderModel, "host", cfg.OllamaHost)
		return g, nil

	case config.ProviderGemini, config.ProviderGoogleAI:
		g := genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}))
		if g == nil {
			return nil, errors.New("initializing genkit with gemini provider")
		}
		slog.Info("initialized Genkit with gemini provider", "model", cfg.ModelName)
		return g, nil

	default:
		return nil, fmt.Errorf("%w: %q", config.ErrInvalidProvider, cfg.Provider)
	}
}

// provideEmbedder looks up the embedder registered by the provider plugin.
func provideEmbedder(g *genkit.Genkit, cfg *config.Config) ai.Embedder {
	switch cfg.Provider {
	case config.ProviderOllama:
		// Ollama embedders are keyed by server address (registered in provideGenkit).
		return ollama.Embedder(g, cfg.OllamaHost)
	default: // gemini / googleai
		return googlegenai.GoogleAIEmbedder(g, cfg.EmbedderModel)
	}
}

// provideStore builds the configured store backend. For Postgres it runs
// migrations, creates the pool with pgvector types registered, and verifies
// connectivity before anything is served.
func provideStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (store.Store, *pgxpool.Pool, error) {
	switch cfg.StoreBackend {
	case config.BackendFlat:
		st, err := store.NewFlat(cfg.IndexDir, cfg.EmbeddingDim, cfg.Alpha,
			logger.With("component", "store"))
		if err != nil {
			return nil, nil, fmt.Errorf("opening flat index: %w", err)
		}
		return st, nil, nil

	case config.BackendPostgres:
		if err := db.Migrate(cfg.PostgresURL()); err != nil {
			return nil, nil, fmt.Errorf("running migrations: %w", err)
		}

		poolCfg, err := pgxpool.ParseConfig(cfg.PostgresConnectionString())
		if err != nil {
			return nil, nil, fmt.Errorf("parsing connection config: %w", err)
		}
		poolCfg.MaxConns = 10
		poolCfg.MinConns = 2
		poolCfg.MaxConnLifetime = 30 * time.Minute
		poolCfg.MaxConnIdleTime = 5 * time.Minute
		poolCfg.HealthCheckPeriod = 1 * time.Minute
		poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
			return pgxvec.RegisterTypes(ctx, conn)
		}

		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			return nil, nil, fmt.Errorf("creating connection pool: %w", err)
		}

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := pool.Ping(pingCtx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("pinging database: %w", err)
		}

		st := store.NewPostgres(pool, cfg.EmbeddingDim, cfg.Alpha,
			logger.With("component", "store"))
		return st, pool, nil

	default:
		return nil, nil, fmt.Errorf("%w: %q", config.ErrInvalidBackend, cfg.StoreBackend)
	}
}
