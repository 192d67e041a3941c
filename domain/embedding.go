package domain

import "context"

// Embedding represents a numerical vector representation of text.
type Embedding []float32

// EmbeddingClient defines the interface for generating embeddings from text.
type EmbeddingClient interface {
	// GenerateEmbeddings generates embeddings for the given texts, one per
	// text and in the same order.
	GenerateEmbeddings(ctx context.Context, texts []string) ([]Embedding, error)
	// Dimension returns the fixed length of the produced vectors.
	Dimension() int
}
