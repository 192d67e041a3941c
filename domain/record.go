package domain

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// RecordMetadata is the metadata stored alongside each embedded chunk.
type RecordMetadata struct {
	Type      string `json:"type"`
	StartLine int    `json:"startLine"`
	EndLine   int    `json:"endLine"`
	Imports   string `json:"imports"`
	Exports   string `json:"exports"`
}

// EmbeddingRecord is a chunk paired with its embedding, as written to the
// intermediate artifact and loaded into a collection.
type EmbeddingRecord struct {
	Text      string         `json:"text"`
	FilePath  string         `json:"filePath"`
	StartLine int            `json:"startLine"`
	EndLine   int            `json:"endLine"`
	Metadata  RecordMetadata `json:"metadata"`
	Embedding Embedding      `json:"embedding"`
}

// NewEmbeddingRecord builds the record for a chunk, flattening its file
// context into space-joined strings.
func NewEmbeddingRecord(chunk Chunk, embedding Embedding) EmbeddingRecord {
	return EmbeddingRecord{
		Text:      chunk.Text,
		FilePath:  chunk.FilePath,
		StartLine: chunk.StartLine,
		EndLine:   chunk.EndLine,
		Metadata: RecordMetadata{
			Type:      chunk.Type,
			StartLine: chunk.StartLine,
			EndLine:   chunk.EndLine,
			Imports:   chunk.FileContext.Imports.Flatten(),
			Exports:   chunk.FileContext.Exports.Flatten(),
		},
		Embedding: embedding,
	}
}

// RecordKey identifies a record inside a collection. ChunkID is the
// human-readable "<collection>-chunk-<index>" label; PointID is the stable
// storage key used for upserts.
type RecordKey struct {
	ChunkID string
	PointID string
}

// ChunkID returns the display id of the record at index within one Add call.
func ChunkID(collection string, index int) string {
	return fmt.Sprintf("%s-chunk-%d", collection, index)
}

var recordNamespace = uuid.MustParse("6f1c3c0e-5b8a-4a57-9f0e-0d7a2b1c9e44")

// AssignRecordKeys computes the keys for a batch of records. PointIDs are
// derived from the file path and line span, so re-adding the same chunks
// replaces them instead of duplicating them. Records sharing a span are told
// apart by their ordinal within the batch.
func AssignRecordKeys(collection string, records []EmbeddingRecord) []RecordKey {
	keys := make([]RecordKey, len(records))
	seen := make(map[string]int, len(records))
	for i, r := range records {
		span := fmt.Sprintf("%s|%s|%d|%d", collection, r.FilePath, r.StartLine, r.EndLine)
		ordinal := seen[span]
		seen[span]++
		keys[i] = RecordKey{
			ChunkID: ChunkID(collection, i),
			PointID: uuid.NewSHA1(recordNamespace, []byte(fmt.Sprintf("%s|%d", span, ordinal))).String(),
		}
	}
	return keys
}

// StoredMetadata returns the metadata map persisted with a record. It
// extends RecordMetadata with the file path and the chunk label.
func StoredMetadata(r EmbeddingRecord, key RecordKey) map[string]interface{} {
	return map[string]interface{}{
		"type":      r.Metadata.Type,
		"startLine": r.Metadata.StartLine,
		"endLine":   r.Metadata.EndLine,
		"imports":   r.Metadata.Imports,
		"exports":   r.Metadata.Exports,
		"filePath":  r.FilePath,
		"chunkId":   key.ChunkID,
	}
}

// RecordArtifactStore persists the embedding records of one generation run.
type RecordArtifactStore interface {
	// Write replaces the artifact for repoKey and returns its location.
	Write(ctx context.Context, repoKey string, records []EmbeddingRecord) (string, error)
	// Read loads the artifact previously written for repoKey.
	Read(ctx context.Context, repoKey string) ([]EmbeddingRecord, error)
}
