package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"code-query-agent/application"
	"code-query-agent/domain"
	"code-query-agent/infrastructure/artifact"
	"code-query-agent/infrastructure/config"
	"code-query-agent/infrastructure/embedding"
	"code-query-agent/infrastructure/llm"
	"code-query-agent/infrastructure/observability"
	"code-query-agent/infrastructure/tools"
	"code-query-agent/infrastructure/vectorstore"
)

// version is reported as the tracing service version.
var version = "dev"

// app holds the services built from configuration.
type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	store     domain.VectorStore
	ingestion *application.IngestionService
	queries   *application.QueryService
	agent     *application.AgentService
	tracing   *observability.TracerProvider
}

// withApp loads configuration, builds the services, runs fn and releases
// everything afterwards.
func withApp(ctx context.Context, configPath string, fn func(context.Context, *app) error) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()
	return fn(ctx, a)
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	logger := cfg.Log.NewLogger()
	slog.SetDefault(logger)

	tracing, err := observability.InitTracing(ctx, observability.TracingConfig{
		ServiceName:    cfg.Observability.Tracing.ServiceName,
		ServiceVersion: version,
		OTLPEndpoint:   cfg.Observability.Tracing.OTLPEndpoint,
	})
	if err != nil {
		return nil, err
	}

	embedder, err := newEmbedder(cfg.Embedding)
	if err != nil {
		tracing.Shutdown(ctx)
		return nil, err
	}

	store, err := newVectorStore(ctx, cfg, embedder.Dimension(), logger)
	if err != nil {
		tracing.Shutdown(ctx)
		return nil, err
	}

	// A generator that cannot be built disables answering only.
	var composer *application.AnswerComposer
	generator, err := newAnswerGenerator(cfg.LLM)
	switch {
	case err != nil:
		logger.Warn("answer composer disabled", slog.String("provider", cfg.LLM.Provider), slog.String("error", err.Error()))
		generator = nil
	case generator != nil:
		composer = application.NewAnswerComposer(generator)
	}

	var observer application.StageObserver
	if cfg.Observability.Metrics.Enabled {
		observer = observability.StageMetrics{}
	}

	artifacts := artifact.NewFileStore(cfg.Artifacts.Dir)
	loader := application.NewChunkLoader(cfg.Chunks.Dir, application.InvalidChunkPolicy(cfg.Chunks.InvalidPolicy), logger)
	embeddings := application.NewEmbeddingGenerator(loader, embedder, artifacts, application.GeneratorConfig{
		TextPolicy:    application.TextPolicy(cfg.Embedding.TextPolicy),
		TruncateChars: cfg.Embedding.TruncateChars,
		BatchSize:     cfg.Embedding.BatchSize,
	}, logger)

	queries := application.NewQueryService(embedder, store, composer, cfg.Query.NResults, observer, logger)
	agent := newCodeAgent(cfg.Agent, generator, queries, logger)

	logger.Debug("services configured",
		slog.String("embedding_provider", cfg.Embedding.Provider),
		slog.String("vector_store", cfg.VectorStore.Backend),
		slog.String("llm_provider", cfg.LLM.Provider),
		slog.Bool("agent", agent != nil),
		slog.Bool("tracing", tracing.Enabled()))

	return &app{
		cfg:       cfg,
		logger:    logger,
		store:     store,
		ingestion: application.NewIngestionService(embeddings, artifacts, store, observer, logger),
		queries:   queries,
		agent:     application.NewAgentService(agent, cfg.Agent.MaxThreads, observer, logger),
		tracing:   tracing,
	}, nil
}

// newCodeAgent returns nil unless the agent is enabled and the answer
// generator can drive tool use.
func newCodeAgent(cfg config.AgentConfig, generator domain.AnswerGenerator, queries *application.QueryService, logger *slog.Logger) *domain.Agent {
	if !cfg.Enabled || generator == nil {
		return nil
	}
	ai, ok := generator.(domain.AIClient)
	if !ok {
		logger.Info("code agent disabled, provider does not support tool use")
		return nil
	}
	return domain.NewAgent(ai, tools.NewCodeToolRepository(queries, logger), application.AgentSystemPrompt, cfg.MaxSteps)
}

func (a *app) metricsPath() string {
	if !a.cfg.Observability.Metrics.Enabled {
		return ""
	}
	return a.cfg.Observability.Metrics.Path
}

func (a *app) close() {
	if err := a.store.Close(); err != nil {
		a.logger.Warn("closing vector store", slog.String("error", err.Error()))
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.tracing.Shutdown(ctx); err != nil {
		a.logger.Warn("flushing traces", slog.String("error", err.Error()))
	}
}

func newEmbedder(cfg config.EmbeddingConfig) (domain.EmbeddingClient, error) {
	switch cfg.Provider {
	case "hash":
		return embedding.NewHashEmbeddingClient(cfg.Dimension), nil
	case "openai":
		return embedding.NewOpenAIEmbeddingClient(embedding.OpenAIConfig{
			APIKey:    cfg.APIKey,
			BaseURL:   cfg.BaseURL,
			Model:     cfg.Model,
			Dimension: cfg.Dimension,
			Timeout:   cfg.Timeout,
		})
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
}

func newVectorStore(ctx context.Context, cfg *config.Config, dimension int, logger *slog.Logger) (domain.VectorStore, error) {
	switch cfg.VectorStore.Backend {
	case "sqlite":
		return vectorstore.NewSQLiteStore(ctx, cfg.VectorStore.SQLite.Path)
	case "qdrant":
		return vectorstore.NewQdrantClient(cfg.VectorStore.Qdrant.Addr, dimension, logger)
	default:
		return nil, fmt.Errorf("unknown vector store backend %q", cfg.VectorStore.Backend)
	}
}

// newAnswerGenerator returns nil when answering is switched off.
func newAnswerGenerator(cfg config.LLMConfig) (domain.AnswerGenerator, error) {
	llmCfg := llm.Config{
		APIKey:     cfg.APIKey,
		BaseURL:    cfg.BaseURL,
		Model:      cfg.Model,
		MaxTokens:  cfg.MaxTokens,
		Timeout:    cfg.Timeout,
		MaxRetries: cfg.MaxRetries,
	}
	switch cfg.Provider {
	case "none":
		return nil, nil
	case "anthropic":
		return llm.NewAnthropicClient(llmCfg)
	case "openai":
		return llm.NewOpenAIChatClient(llmCfg)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}
