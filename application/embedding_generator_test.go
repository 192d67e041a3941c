package application

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"code-query-agent/domain"
)

func TestEmbeddingGeneratorBatchesInOrder(t *testing.T) {
	root := t.TempDir()
	var entries []map[string]interface{}
	for i := 0; i < 5; i++ {
		entries = append(entries, chunkEntry(fmt.Sprintf("chunk %d", i), "function", i*10+1, i*10+5))
	}
	writeChunks(t, root, "u_r", entries)

	embedder := &fakeEmbedder{}
	artifacts := newMemoryArtifacts()
	gen := NewEmbeddingGenerator(NewChunkLoader(root, "", nil), embedder, artifacts,
		GeneratorConfig{BatchSize: 2}, nil)

	records, err := gen.Generate(context.Background(), "u_r")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if embedder.callCount() != 3 {
		t.Errorf("embedder called %d times, want 3", embedder.callCount())
	}
	if len(records) != 5 {
		t.Fatalf("got %d records, want 5", len(records))
	}
	for i, r := range records {
		if r.Text != fmt.Sprintf("chunk %d", i) || r.StartLine != i*10+1 {
			t.Errorf("record %d out of order: %+v", i, r)
		}
		if len(r.Embedding) != 3 {
			t.Errorf("record %d has %d dims", i, len(r.Embedding))
		}
	}

	stored, err := artifacts.Read(context.Background(), "u_r")
	if err != nil || len(stored) != 5 {
		t.Fatalf("artifact: %d records, err %v", len(stored), err)
	}
}

func TestEmbeddingGeneratorTruncatePolicy(t *testing.T) {
	root := t.TempDir()
	writeChunks(t, root, "u_r", []map[string]interface{}{chunkEntry("abcdefgh", "function", 1, 1)})

	embedder := &fakeEmbedder{}
	gen := NewEmbeddingGenerator(NewChunkLoader(root, "", nil), embedder, newMemoryArtifacts(),
		GeneratorConfig{TextPolicy: TruncateText, TruncateChars: 3}, nil)

	records, err := gen.Generate(context.Background(), "u_r")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if got := embedder.calls[0][0]; got != "abc" {
		t.Errorf("embedded text = %q, want %q", got, "abc")
	}
	if records[0].Text != "abcdefgh" {
		t.Errorf("stored text = %q, want the full text", records[0].Text)
	}
}

func TestEmbeddingGeneratorFailureKeepsArtifact(t *testing.T) {
	root := t.TempDir()
	writeChunks(t, root, "u_r", []map[string]interface{}{
		chunkEntry("a", "function", 1, 1),
		chunkEntry("b", "function", 2, 2),
	})

	artifacts := newMemoryArtifacts()
	embedder := &fakeEmbedder{failOn: 2}
	gen := NewEmbeddingGenerator(NewChunkLoader(root, "", nil), embedder, artifacts,
		GeneratorConfig{BatchSize: 1}, nil)

	_, err := gen.Generate(context.Background(), "u_r")
	if !errors.Is(err, domain.ErrEmbeddingGenerationFailure) {
		t.Fatalf("err = %v, want ErrEmbeddingGenerationFailure", err)
	}
	if !errors.Is(err, domain.ErrEmbeddingFailure) {
		t.Errorf("err = %v should keep the embedding cause", err)
	}
	if artifacts.writes != 0 {
		t.Errorf("artifact written %d times after failure", artifacts.writes)
	}
}

func TestEmbeddingGeneratorMissingSource(t *testing.T) {
	gen := NewEmbeddingGenerator(NewChunkLoader(t.TempDir(), "", nil), &fakeEmbedder{}, newMemoryArtifacts(),
		GeneratorConfig{}, nil)
	_, err := gen.Generate(context.Background(), "u_r")
	if !errors.Is(err, domain.ErrChunkSourceNotFound) {
		t.Fatalf("err = %v, want ErrChunkSourceNotFound", err)
	}
}
