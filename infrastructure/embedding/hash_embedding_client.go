package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	"code-query-agent/domain"
)

// HashEmbeddingClient is a deterministic, offline embedder. Each token is
// hashed into one of Dimension buckets and the vector is L2-normalised, so
// texts sharing identifiers end up close under cosine distance. Meant for
// local development and tests, not for semantic quality.
type HashEmbeddingClient struct {
	dim int
}

// NewHashEmbeddingClient creates a hash embedder producing vectors of the given dimension.
func NewHashEmbeddingClient(dimension int) *HashEmbeddingClient {
	if dimension <= 0 {
		dimension = 384
	}
	return &HashEmbeddingClient{dim: dimension}
}

// Dimension returns the vector length.
func (c *HashEmbeddingClient) Dimension() int {
	return c.dim
}

// GenerateEmbeddings embeds each text independently. Empty text maps to the zero vector.
func (c *HashEmbeddingClient) GenerateEmbeddings(ctx context.Context, texts []string) ([]domain.Embedding, error) {
	out := make([]domain.Embedding, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = c.embed(text)
	}
	return out, nil
}

func (c *HashEmbeddingClient) embed(text string) domain.Embedding {
	vec := make(domain.Embedding, c.dim)
	tokens := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})
	for _, tok := range tokens {
		h := fnv.New32a()
		_, _ = h.Write([]byte(tok))
		sum := h.Sum32()
		sign := float32(1)
		if sum&1 == 1 {
			sign = -1
		}
		vec[int(sum>>1)%c.dim] += sign
	}
	l2normalize(vec)
	return vec
}

// l2normalize normalizes a vector to unit length
func l2normalize(v domain.Embedding) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	inv := float32(1.0 / math.Sqrt(sum))
	for i := range v {
		v[i] *= inv
	}
}
