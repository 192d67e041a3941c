package application

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"code-query-agent/domain"

	"go.opentelemetry.io/otel/attribute"
)

// StageObserver receives the outcome of every pipeline stage. The HTTP layer
// wires it to prometheus.
type StageObserver interface {
	ObserveStage(stage string, elapsed time.Duration, err error)
}

type nopObserver struct{}

func (nopObserver) ObserveStage(string, time.Duration, error) {}

// IngestResult describes one completed ingestion.
type IngestResult struct {
	RepoKey  string
	Count    int
	Added    int
	Duration time.Duration
}

// IngestionService handles regenerating embeddings for a repository and
// loading them into its vector collection.
type IngestionService struct {
	generator   *EmbeddingGenerator
	artifacts   domain.RecordArtifactStore
	vectorStore domain.VectorStore
	observer    StageObserver
	logger      *slog.Logger
	locks       *repoLocks
}

// NewIngestionService creates a new IngestionService. observer may be nil.
func NewIngestionService(generator *EmbeddingGenerator, artifacts domain.RecordArtifactStore, vectorStore domain.VectorStore, observer StageObserver, logger *slog.Logger) *IngestionService {
	if observer == nil {
		observer = nopObserver{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &IngestionService{
		generator:   generator,
		artifacts:   artifacts,
		vectorStore: vectorStore,
		observer:    observer,
		logger:      logger,
		locks:       newRepoLocks(),
	}
}

// Ingest regenerates the embeddings of user/repo and populates the collection
// named after its repoKey. Runs for the same repository are serialised.
func (s *IngestionService) Ingest(ctx context.Context, user, repo string) (IngestResult, error) {
	repoKey, err := domain.RepoKey(user, repo)
	if err != nil {
		return IngestResult{}, err
	}

	ctx, span := tracer.Start(ctx, "ingest")
	defer span.End()
	span.SetAttributes(attribute.String("repo_key", repoKey))

	unlock := s.locks.Lock(repoKey)
	defer unlock()

	start := time.Now()
	s.logger.Info("starting ingestion", slog.String("repo", repoKey))

	stageStart := time.Now()
	if _, err := s.generator.Generate(ctx, repoKey); err != nil {
		s.observer.ObserveStage("generate", time.Since(stageStart), err)
		return IngestResult{}, recordSpanError(span, err)
	}
	s.observer.ObserveStage("generate", time.Since(stageStart), nil)

	stageStart = time.Now()
	records, err := s.artifacts.Read(ctx, repoKey)
	s.observer.ObserveStage("load_artifact", time.Since(stageStart), err)
	if err != nil {
		return IngestResult{}, recordSpanError(span, fmt.Errorf("loading embeddings: %w", err))
	}
	s.logger.Info("loaded embeddings", slog.String("repo", repoKey), slog.Int("records", len(records)))

	stageStart = time.Now()
	count, err := s.populate(ctx, repoKey, records)
	s.observer.ObserveStage("populate", time.Since(stageStart), err)
	if err != nil {
		return IngestResult{}, recordSpanError(span, err)
	}

	result := IngestResult{
		RepoKey:  repoKey,
		Count:    count,
		Added:    len(records),
		Duration: time.Since(start),
	}
	span.SetAttributes(attribute.Int("count", count))
	s.logger.Info("ingestion complete",
		slog.String("repo", repoKey),
		slog.Int("added", result.Added),
		slog.Int("count", result.Count),
		slog.Duration("duration", result.Duration))

	return result, nil
}

func (s *IngestionService) populate(ctx context.Context, collection string, records []domain.EmbeddingRecord) (int, error) {
	ctx, span := tracer.Start(ctx, "vectorstore.populate")
	defer span.End()

	if err := s.vectorStore.GetOrCreateCollection(ctx, collection); err != nil {
		return 0, recordSpanError(span, err)
	}
	if err := s.vectorStore.Add(ctx, collection, records); err != nil {
		return 0, recordSpanError(span, fmt.Errorf("adding records to %s: %w", collection, err))
	}
	count, err := s.vectorStore.Count(ctx, collection)
	if err != nil {
		return 0, recordSpanError(span, err)
	}
	return count, nil
}
