package embedding

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"code-query-agent/domain"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIConfig configures the OpenAI-compatible embedding client.
type OpenAIConfig struct {
	APIKey    string
	BaseURL   string // empty for api.openai.com; any OpenAI-compatible /v1 endpoint otherwise
	Model     string
	Dimension int
	Timeout   time.Duration
}

// OpenAIEmbeddingClient implements the domain.EmbeddingClient interface using the OpenAI API.
type OpenAIEmbeddingClient struct {
	client    *openai.Client
	model     openai.EmbeddingModel // e.g., text-embedding-3-small
	dimension int
	timeout   time.Duration
}

// NewOpenAIEmbeddingClient creates a new OpenAIEmbeddingClient.
// When no API key is configured it falls back to the OPENAI_API_KEY environment
// variable. A key is only mandatory when talking to the hosted OpenAI API.
func NewOpenAIEmbeddingClient(cfg OpenAIConfig) (*OpenAIEmbeddingClient, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" && cfg.BaseURL == "" {
		return nil, errors.New("OPENAI_API_KEY environment variable not set")
	}
	if cfg.Model == "" {
		cfg.Model = string(openai.SmallEmbedding3)
	}
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("invalid embedding dimension %d", cfg.Dimension)
	}

	clientCfg := openai.DefaultConfig(apiKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}

	return &OpenAIEmbeddingClient{
		client:    openai.NewClientWithConfig(clientCfg),
		model:     openai.EmbeddingModel(cfg.Model),
		dimension: cfg.Dimension,
		timeout:   cfg.Timeout,
	}, nil
}

// Dimension returns the configured vector length.
func (c *OpenAIEmbeddingClient) Dimension() int {
	return c.dimension
}

// GenerateEmbeddings generates embeddings for the given texts using the specified OpenAI model.
func (c *OpenAIEmbeddingClient) GenerateEmbeddings(ctx context.Context, texts []string) ([]domain.Embedding, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	// The API rejects empty inputs; a lone space still yields a vector.
	input := make([]string, len(texts))
	for i, t := range texts {
		if t == "" {
			t = " "
		}
		input[i] = t
	}

	req := openai.EmbeddingRequest{
		Input: input,
		Model: c.model,
	}
	if strings.HasPrefix(string(c.model), "text-embedding-3") {
		req.Dimensions = c.dimension
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	resp, err := c.client.CreateEmbeddings(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrEmbeddingFailure, err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("%w: got %d embeddings for %d texts", domain.ErrEmbeddingFailure, len(resp.Data), len(texts))
	}

	// Order results by index.
	embeddings := make([]domain.Embedding, len(texts))
	for _, data := range resp.Data {
		if data.Index < 0 || data.Index >= len(texts) {
			return nil, fmt.Errorf("%w: index %d out of range", domain.ErrEmbeddingFailure, data.Index)
		}
		embeddings[data.Index] = domain.Embedding(data.Embedding)
	}

	return embeddings, nil
}
