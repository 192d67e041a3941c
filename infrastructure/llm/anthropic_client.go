package llm

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"code-query-agent/domain"
)

// Config holds the settings shared by the answer generators.
type Config struct {
	APIKey     string
	BaseURL    string
	Model      string
	MaxTokens  int
	Timeout    time.Duration
	MaxRetries int
}

// AnthropicClient is a wrapper around the Anthropic API client.
// It implements domain.AnswerGenerator with a single-turn Messages call and
// domain.AIClient with tool-enabled calls.
type AnthropicClient struct {
	client    *anthropic.Client
	model     string
	maxTokens int64
}

// Compile-time checks that AnthropicClient serves both answering and the agent.
var (
	_ domain.AnswerGenerator = (*AnthropicClient)(nil)
	_ domain.AIClient        = (*AnthropicClient)(nil)
)

// NewAnthropicClient creates a new Anthropic client.
//
// The API key comes from the config or, when empty, from the
// ANTHROPIC_API_KEY environment variable. Requests are bounded by
// cfg.Timeout and retried at most cfg.MaxRetries times by the SDK.
func NewAnthropicClient(cfg Config) (*AnthropicClient, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("anthropic api key is not set")
	}

	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(cfg.MaxRetries),
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	model := cfg.Model
	if model == "" {
		model = string(anthropic.ModelClaude3_7SonnetLatest)
	}
	maxTokens := int64(cfg.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 1024
	}

	client := anthropic.NewClient(opts...)

	return &AnthropicClient{
		client:    &client,
		model:     model,
		maxTokens: maxTokens,
	}, nil
}

// Generate sends the prompt as a single user message and returns the text
// blocks of the reply joined together.
func (a *AnthropicClient) Generate(ctx context.Context, prompt string) (string, error) {
	message, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: a.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", domain.ErrGenerationFailure, err)
	}

	var sb strings.Builder
	for _, content := range message.Content {
		if content.Type == "text" {
			sb.WriteString(content.Text)
		}
	}
	return sb.String(), nil
}

// RunInference sends the conversation and tool definitions to the Messages
// API and returns the model's reply, which may request tool calls.
func (a *AnthropicClient) RunInference(ctx context.Context, system string, conversation []anthropic.MessageParam, tools []domain.ToolDefinition) (*anthropic.Message, error) {
	anthropicTools := []anthropic.ToolUnionParam{}
	for _, tool := range tools {
		anthropicTools = append(anthropicTools, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        tool.Name,
				Description: anthropic.String(tool.Description),
				InputSchema: tool.InputSchema,
			},
		})
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: a.maxTokens,
		Messages:  conversation,
		Tools:     anthropicTools,
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	message, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrGenerationFailure, err)
	}
	return message, nil
}
