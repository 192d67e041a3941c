package application

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"code-query-agent/domain"

	"go.opentelemetry.io/otel/attribute"
)

const (
	// DefaultResults is the number of neighbours returned when none is configured.
	DefaultResults = 5

	// MaxResults caps the per-call limit accepted by Search.
	MaxResults = 50

	snippetPreviewChars = 500
)

// RelevantSnippet is a shortened search hit returned next to a generated answer.
type RelevantSnippet struct {
	Text     string                 `json:"text"`
	Metadata map[string]interface{} `json:"metadata"`
}

// AnswerResult is the outcome of Answer.
type AnswerResult struct {
	Answer           string            `json:"answer"`
	RelevantSnippets []RelevantSnippet `json:"relevant_snippets"`
}

// QueryService embeds questions and searches a repository's collection.
type QueryService struct {
	embedder    domain.EmbeddingClient
	vectorStore domain.VectorStore
	composer    *AnswerComposer
	nResults    int
	observer    StageObserver
	logger      *slog.Logger
}

// NewQueryService creates a new QueryService. composer may be nil, in which
// case Answer returns domain.ErrComposerDisabled.
func NewQueryService(embedder domain.EmbeddingClient, vectorStore domain.VectorStore, composer *AnswerComposer, nResults int, observer StageObserver, logger *slog.Logger) *QueryService {
	if nResults <= 0 {
		nResults = DefaultResults
	}
	if observer == nil {
		observer = nopObserver{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &QueryService{
		embedder:    embedder,
		vectorStore: vectorStore,
		composer:    composer,
		nResults:    nResults,
		observer:    observer,
		logger:      logger,
	}
}

// Query returns the nearest chunks of user/repo to text, closest first.
func (s *QueryService) Query(ctx context.Context, user, repo, text string) (domain.QueryResult, error) {
	return s.Search(ctx, user, repo, text, s.nResults)
}

// Search is Query with an explicit result limit. A limit of zero or less
// uses the configured default; larger limits are capped at MaxResults.
func (s *QueryService) Search(ctx context.Context, user, repo, text string, limit int) (domain.QueryResult, error) {
	repoKey, err := domain.RepoKey(user, repo)
	if err != nil {
		return domain.QueryResult{}, err
	}
	if strings.TrimSpace(text) == "" {
		return domain.QueryResult{}, domain.ErrMissingQuery
	}
	if limit <= 0 {
		limit = s.nResults
	}
	limit = min(limit, MaxResults)

	ctx, span := tracer.Start(ctx, "query")
	defer span.End()
	span.SetAttributes(attribute.String("repo_key", repoKey), attribute.Int("n_results", limit))

	start := time.Now()
	result, err := s.search(ctx, repoKey, text, limit)
	s.observer.ObserveStage("query", time.Since(start), err)
	if err != nil {
		return domain.QueryResult{}, recordSpanError(span, err)
	}

	s.logger.Info("query complete",
		slog.String("repo", repoKey),
		slog.Int("results", result.Len()),
		slog.Duration("duration", time.Since(start)))
	return result, nil
}

func (s *QueryService) search(ctx context.Context, collection, text string, limit int) (domain.QueryResult, error) {
	if err := s.vectorStore.GetOrCreateCollection(ctx, collection); err != nil {
		return domain.QueryResult{}, fmt.Errorf("%w: %w", domain.ErrCollectionQueryFailure, err)
	}

	embeddings, err := s.embedder.GenerateEmbeddings(ctx, []string{text})
	if err != nil {
		return domain.QueryResult{}, err
	}
	if len(embeddings) != 1 {
		return domain.QueryResult{}, fmt.Errorf("%w: expected 1 embedding, got %d", domain.ErrEmbeddingFailure, len(embeddings))
	}

	return s.vectorStore.Query(ctx, collection, embeddings[0], limit)
}

// Answer runs Query and asks the composer to answer text from the hits.
func (s *QueryService) Answer(ctx context.Context, user, repo, text string) (AnswerResult, error) {
	if _, err := domain.RepoKey(user, repo); err != nil {
		return AnswerResult{}, err
	}
	if strings.TrimSpace(text) == "" {
		return AnswerResult{}, domain.ErrMissingQuery
	}
	if s.composer == nil {
		return AnswerResult{}, domain.ErrComposerDisabled
	}

	result, err := s.Query(ctx, user, repo, text)
	if err != nil {
		return AnswerResult{}, err
	}

	start := time.Now()
	answer, err := s.composer.Compose(ctx, result.Documents, text)
	s.observer.ObserveStage("compose", time.Since(start), err)
	if err != nil {
		return AnswerResult{}, err
	}

	snippets := make([]RelevantSnippet, result.Len())
	for i := range snippets {
		snippets[i] = RelevantSnippet{
			Text:     previewText(result.Documents[i]),
			Metadata: result.Metadatas[i],
		}
	}
	return AnswerResult{Answer: answer, RelevantSnippets: snippets}, nil
}

func previewText(text string) string {
	runes := []rune(text)
	if len(runes) <= snippetPreviewChars {
		return text
	}
	return string(runes[:snippetPreviewChars]) + "..."
}
