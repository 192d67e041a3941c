package application

import (
	"context"
	"fmt"
	"strings"

	"code-query-agent/domain"
)

const promptTemplate = `You are a helpful code assistant. Based on the following code snippets and the user's question, provide a clear and concise answer.
If the code snippets are not relevant to the question, say so and answer from general knowledge.

=== CODE SNIPPETS ===
%s

=== USER QUESTION ===
%s

Answer:`

// BuildPrompt joins the documents with a blank line and embeds them together
// with the question in the fixed prompt template.
func BuildPrompt(docs []string, query string) string {
	return fmt.Sprintf(promptTemplate, strings.Join(docs, "\n\n"), query)
}

// AnswerComposer turns retrieved snippets and a question into a generated answer.
type AnswerComposer struct {
	generator domain.AnswerGenerator
}

// NewAnswerComposer creates a new AnswerComposer.
func NewAnswerComposer(generator domain.AnswerGenerator) *AnswerComposer {
	return &AnswerComposer{generator: generator}
}

// Compose returns the model's answer verbatim.
func (c *AnswerComposer) Compose(ctx context.Context, docs []string, query string) (string, error) {
	ctx, span := tracer.Start(ctx, "answer.compose")
	defer span.End()

	answer, err := c.generator.Generate(ctx, BuildPrompt(docs, query))
	if err != nil {
		return "", recordSpanError(span, err)
	}
	return answer, nil
}
