package domain

import "context"

// QueryResult holds the nearest neighbours of a query. The three slices are
// co-indexed and ordered by ascending distance.
type QueryResult struct {
	Documents []string                 `json:"documents"`
	Metadatas []map[string]interface{} `json:"metadatas"`
	Distances []float64                `json:"distances"`
}

// NewQueryResult returns an empty result whose slices encode as [] rather
// than null.
func NewQueryResult(capacity int) QueryResult {
	return QueryResult{
		Documents: make([]string, 0, capacity),
		Metadatas: make([]map[string]interface{}, 0, capacity),
		Distances: make([]float64, 0, capacity),
	}
}

// Append adds one match to the result.
func (r *QueryResult) Append(document string, metadata map[string]interface{}, distance float64) {
	r.Documents = append(r.Documents, document)
	r.Metadatas = append(r.Metadatas, metadata)
	r.Distances = append(r.Distances, distance)
}

// Len returns the number of matches.
func (r QueryResult) Len() int {
	return len(r.Documents)
}

// VectorStore defines the interface for interacting with a vector database
// that keeps one named collection per repository.
type VectorStore interface {
	// GetOrCreateCollection makes sure the named collection exists. It is
	// safe to call repeatedly.
	GetOrCreateCollection(ctx context.Context, name string) error
	// Add stores records in the collection, replacing records with the same
	// key.
	Add(ctx context.Context, collection string, records []EmbeddingRecord) error
	// Query returns up to k records nearest to embedding.
	Query(ctx context.Context, collection string, embedding Embedding, k int) (QueryResult, error)
	// Count returns the number of records in the collection.
	Count(ctx context.Context, collection string) (int, error)
	// Close releases the underlying connection.
	Close() error
}
