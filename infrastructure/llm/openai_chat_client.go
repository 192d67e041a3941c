package llm

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"code-query-agent/domain"
)

// OpenAIChatClient implements domain.AnswerGenerator with the chat
// completions API of any OpenAI-compatible server.
type OpenAIChatClient struct {
	client *openai.Client
	cfg    Config
}

// Compile-time check that OpenAIChatClient implements domain.AnswerGenerator.
var _ domain.AnswerGenerator = (*OpenAIChatClient)(nil)

// NewOpenAIChatClient creates a chat client. The API key falls back to OPENAI_API_KEY.
func NewOpenAIChatClient(cfg Config) (*OpenAIChatClient, error) {
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.APIKey == "" && cfg.BaseURL == "" {
		return nil, errors.New("OPENAI_API_KEY environment variable not set")
	}
	if cfg.Model == "" {
		cfg.Model = openai.GPT4oMini
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}

	return &OpenAIChatClient{
		client: openai.NewClientWithConfig(clientCfg),
		cfg:    cfg,
	}, nil
}

// Generate sends the prompt as one user message. Each attempt is bounded by
// the configured timeout; failed attempts are retried up to MaxRetries times.
func (c *OpenAIChatClient) Generate(ctx context.Context, prompt string) (string, error) {
	req := openai.ChatCompletionRequest{
		Model: c.cfg.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		MaxTokens: c.cfg.MaxTokens,
	}

	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		text, err := c.complete(ctx, req)
		if err == nil {
			return text, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	return "", fmt.Errorf("%w: %w", domain.ErrGenerationFailure, lastErr)
}

func (c *OpenAIChatClient) complete(ctx context.Context, req openai.ChatCompletionRequest) (string, error) {
	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("chat completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}
