package domain

import "errors"

// Pipeline error taxonomy. Callers wrap these with context using %w and
// classify them with errors.Is at the transport boundary.
var (
	ErrChunkSourceNotFound        = errors.New("chunk source not found")
	ErrEmptyChunkSet              = errors.New("no chunks found in input file")
	ErrInvalidChunkFormat         = errors.New("invalid chunk format")
	ErrEmbeddingFailure           = errors.New("embedding failed")
	ErrEmbeddingGenerationFailure = errors.New("embedding generation failed")
	ErrCollectionQueryFailure     = errors.New("collection query failed")
	ErrMissingQuery               = errors.New("no query provided")
	ErrMissingRepository          = errors.New("user and repo are required")
	ErrInvalidRepository          = errors.New("invalid user or repo")
	ErrGenerationFailure          = errors.New("answer generation failed")
	ErrComposerDisabled           = errors.New("answer composer is not configured")
	ErrAgentDisabled              = errors.New("code agent is not configured")
	ErrAgentStepLimit             = errors.New("agent step limit reached")
	ErrMissingThread              = errors.New("threadId is required")
	ErrMissingMessage             = errors.New("message is required")
)

// IsRequestError reports whether err was caused by invalid client input
// rather than a pipeline failure.
func IsRequestError(err error) bool {
	return errors.Is(err, ErrMissingQuery) ||
		errors.Is(err, ErrMissingRepository) ||
		errors.Is(err, ErrInvalidRepository) ||
		errors.Is(err, ErrMissingThread) ||
		errors.Is(err, ErrMissingMessage)
}
