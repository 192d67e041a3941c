package application

import (
	"context"
	"fmt"
	"log/slog"

	"code-query-agent/domain"

	"go.opentelemetry.io/otel/attribute"
)

// TextPolicy selects which part of a chunk's text is embedded.
type TextPolicy string

const (
	// FullText embeds the whole chunk text.
	FullText TextPolicy = "full"
	// TruncateText embeds only the first TruncateChars characters.
	TruncateText TextPolicy = "truncate"
)

// GeneratorConfig configures the EmbeddingGenerator.
type GeneratorConfig struct {
	TextPolicy    TextPolicy
	TruncateChars int
	BatchSize     int
}

// EmbeddingGenerator turns the chunk file of a repository into embedding
// records and persists them as the intermediate artifact.
type EmbeddingGenerator struct {
	loader    *ChunkLoader
	embedder  domain.EmbeddingClient
	artifacts domain.RecordArtifactStore
	cfg       GeneratorConfig
	logger    *slog.Logger
}

// NewEmbeddingGenerator creates a new EmbeddingGenerator.
func NewEmbeddingGenerator(loader *ChunkLoader, embedder domain.EmbeddingClient, artifacts domain.RecordArtifactStore, cfg GeneratorConfig, logger *slog.Logger) *EmbeddingGenerator {
	if cfg.TextPolicy == "" {
		cfg.TextPolicy = FullText
	}
	if cfg.TruncateChars <= 0 {
		cfg.TruncateChars = 1000
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &EmbeddingGenerator{
		loader:    loader,
		embedder:  embedder,
		artifacts: artifacts,
		cfg:       cfg,
		logger:    logger,
	}
}

// Generate embeds every valid chunk of repoKey in input order and overwrites
// the artifact. Any embedding failure aborts the run before the artifact is
// touched.
func (g *EmbeddingGenerator) Generate(ctx context.Context, repoKey string) ([]domain.EmbeddingRecord, error) {
	ctx, span := tracer.Start(ctx, "embeddings.generate")
	defer span.End()
	span.SetAttributes(attribute.String("repo_key", repoKey))

	chunks, stats, err := g.loader.Load(ctx, repoKey)
	if err != nil {
		return nil, recordSpanError(span, err)
	}
	g.logger.Info("loaded chunks",
		slog.String("repo", repoKey),
		slog.Int("total", stats.Total),
		slog.Int("skipped", stats.Skipped))

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = g.embedText(c.Text)
	}

	// Process embeddings in batches to bound request size
	records := make([]domain.EmbeddingRecord, 0, len(chunks))
	batchSize := g.cfg.BatchSize
	for i := 0; i < len(chunks); i += batchSize {
		end := i + batchSize
		if end > len(chunks) {
			end = len(chunks)
		}

		g.logger.Debug("embedding batch",
			slog.String("repo", repoKey),
			slog.Int("batch", i/batchSize+1),
			slog.Int("from", i+1),
			slog.Int("to", end))

		batchEmbeddings, err := g.embedder.GenerateEmbeddings(ctx, texts[i:end])
		if err != nil {
			return nil, recordSpanError(span, fmt.Errorf("%w: chunks %d-%d: %w", domain.ErrEmbeddingGenerationFailure, i+1, end, err))
		}
		if len(batchEmbeddings) != end-i {
			return nil, recordSpanError(span, fmt.Errorf("%w: mismatch between number of batch texts (%d) and embeddings (%d)",
				domain.ErrEmbeddingGenerationFailure, end-i, len(batchEmbeddings)))
		}

		for j, emb := range batchEmbeddings {
			records = append(records, domain.NewEmbeddingRecord(chunks[i+j], emb))
		}
	}

	path, err := g.artifacts.Write(ctx, repoKey, records)
	if err != nil {
		return nil, recordSpanError(span, fmt.Errorf("saving embeddings: %w", err))
	}

	span.SetAttributes(attribute.Int("records", len(records)))
	g.logger.Info("saved embeddings",
		slog.String("repo", repoKey),
		slog.Int("records", len(records)),
		slog.String("path", path))

	return records, nil
}

// embedText applies the configured text policy.
func (g *EmbeddingGenerator) embedText(text string) string {
	if g.cfg.TextPolicy != TruncateText {
		return text
	}
	runes := []rune(text)
	if len(runes) <= g.cfg.TruncateChars {
		return text
	}
	return string(runes[:g.cfg.TruncateChars])
}
