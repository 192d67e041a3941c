package domain

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
)

// DefaultAgentSteps bounds the inference calls made for one user turn.
const DefaultAgentSteps = 8

// AIClient defines the interface for interacting with an AI model.
// It provides a method to run inference on a given conversation and set of tools.
type AIClient interface {
	RunInference(ctx context.Context, system string, conversation []anthropic.MessageParam, tools []ToolDefinition) (*anthropic.Message, error)
}

// Agent orchestrates the interaction between the AI client and the
// available tools for one user turn at a time.
type Agent struct {
	AIClient       AIClient
	ToolRepository ToolRepository
	System         string
	MaxSteps       int
}

// NewAgent creates a new Agent with the provided dependencies.
func NewAgent(aiClient AIClient, toolRepository ToolRepository, system string, maxSteps int) *Agent {
	if maxSteps <= 0 {
		maxSteps = DefaultAgentSteps
	}
	return &Agent{
		AIClient:       aiClient,
		ToolRepository: toolRepository,
		System:         system,
		MaxSteps:       maxSteps,
	}
}

// AgentTurn is the outcome of Respond.
type AgentTurn struct {
	// Conversation is the input conversation extended with every assistant
	// message and tool result of this turn.
	Conversation []anthropic.MessageParam
	// Reply is the text of the final assistant message.
	Reply string
	// ToolCalls lists the names of the tools run, in call order.
	ToolCalls []string
}

// Respond runs the reason/act loop on a conversation whose last message is
// the user's. The model is called until it answers without requesting a
// tool, at most MaxSteps times. The input slice is never modified.
func (a *Agent) Respond(ctx context.Context, conversation []anthropic.MessageParam) (AgentTurn, error) {
	turn := AgentTurn{
		Conversation: append([]anthropic.MessageParam(nil), conversation...),
	}
	tools := a.ToolRepository.GetAllTools()

	for step := 0; step < a.MaxSteps; step++ {
		// Reason
		message, err := a.AIClient.RunInference(ctx, a.System, turn.Conversation, tools)
		if err != nil {
			return AgentTurn{}, err
		}
		turn.Conversation = append(turn.Conversation, assistantParam(message))

		// Act
		var text strings.Builder
		toolResults := []anthropic.ContentBlockParamUnion{}
		for _, content := range message.Content {
			switch content.Type {
			case "text":
				text.WriteString(content.Text)
			case "tool_use":
				turn.ToolCalls = append(turn.ToolCalls, content.Name)
				toolResults = append(toolResults, a.ToolRepository.ExecuteTool(ctx, content.ID, content.Name, content.Input))
			}
		}

		if len(toolResults) == 0 {
			turn.Reply = text.String()
			return turn, nil
		}

		// Observe
		turn.Conversation = append(turn.Conversation, anthropic.NewUserMessage(toolResults...))
	}

	return AgentTurn{}, fmt.Errorf("%w: no final answer after %d steps", ErrAgentStepLimit, a.MaxSteps)
}

// assistantParam converts a model reply into a conversation entry. Only text
// and tool_use blocks are carried over.
func assistantParam(message *anthropic.Message) anthropic.MessageParam {
	blocks := make([]anthropic.ContentBlockParamUnion, 0, len(message.Content))
	for _, content := range message.Content {
		switch content.Type {
		case "text":
			blocks = append(blocks, anthropic.NewTextBlock(content.Text))
		case "tool_use":
			input := content.Input
			if len(input) == 0 {
				input = json.RawMessage("{}")
			}
			blocks = append(blocks, anthropic.ContentBlockParamUnion{
				OfRequestToolUseBlock: &anthropic.ToolUseBlockParam{
					ID:    content.ID,
					Name:  content.Name,
					Input: input,
				},
			})
		}
	}
	return anthropic.NewAssistantMessage(blocks...)
}
