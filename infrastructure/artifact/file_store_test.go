package artifact

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"code-query-agent/domain"
)

func TestFileStore_WriteRead(t *testing.T) {
	store := NewFileStore(t.TempDir())
	ctx := context.Background()

	records := []domain.EmbeddingRecord{
		{
			Text:      "function foo(){}",
			FilePath:  "a.js",
			StartLine: 1,
			EndLine:   1,
			Metadata:  domain.RecordMetadata{Type: "function", StartLine: 1, EndLine: 1, Exports: "foo"},
			Embedding: domain.Embedding{0.5, -0.5},
		},
	}

	path, err := store.Write(ctx, "u_r", records)
	if err != nil {
		t.Fatalf("Write() error: %v", err)
	}
	if path != store.Path("u_r") {
		t.Errorf("Write() path = %s, want %s", path, store.Path("u_r"))
	}

	got, err := store.Read(ctx, "u_r")
	if err != nil {
		t.Fatalf("Read() error: %v", err)
	}
	if len(got) != 1 || got[0].Metadata.Exports != "foo" || got[0].Embedding[1] != -0.5 {
		t.Errorf("Read() = %+v", got)
	}
}

func TestFileStore_WriteOverwrites(t *testing.T) {
	dir := t.TempDir()
	store := NewFileStore(dir)
	ctx := context.Background()

	two := []domain.EmbeddingRecord{{Text: "a"}, {Text: "b"}}
	if _, err := store.Write(ctx, "u_r", two); err != nil {
		t.Fatalf("Write() error: %v", err)
	}
	if _, err := store.Write(ctx, "u_r", two[:1]); err != nil {
		t.Fatalf("Write() error: %v", err)
	}

	got, err := store.Read(ctx, "u_r")
	if err != nil {
		t.Fatalf("Read() error: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("expected overwrite to leave 1 record, got %d", len(got))
	}

	entries, _ := os.ReadDir(filepath.Join(dir, "u_r"))
	if len(entries) != 1 {
		t.Errorf("expected only the artifact in the directory, got %d entries", len(entries))
	}
}

func TestFileStore_ReadMissing(t *testing.T) {
	store := NewFileStore(t.TempDir())
	if _, err := store.Read(context.Background(), "nope"); err == nil {
		t.Fatal("expected error for missing artifact")
	}
}
