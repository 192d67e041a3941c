package domain

import "context"

// AnswerGenerator defines the interface for the hosted language model that
// turns a prompt into a natural-language answer.
type AnswerGenerator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}
