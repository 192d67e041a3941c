package application

import (
	"context"
	"errors"
	"strings"
	"testing"

	"code-query-agent/domain"
)

func TestChunkLoaderSingleChunk(t *testing.T) {
	root := t.TempDir()
	writeRawChunks(t, root, "alice_proj", `[{"text":"def f(): pass","type":"function","startLine":1,"endLine":1,
		"fileContext":{"imports":["os","sys"],"exports":"f"}}]`)

	loader := NewChunkLoader(root, SkipInvalidChunks, nil)
	chunks, stats, err := loader.Load(context.Background(), "alice_proj")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if stats.Total != 1 || stats.Skipped != 0 {
		t.Errorf("stats = %+v", stats)
	}
	if len(chunks) != 1 {
		t.Fatalf("got %d chunks, want 1", len(chunks))
	}
	c := chunks[0]
	if c.Text != "def f(): pass" || c.Type != "function" || c.StartLine != 1 || c.EndLine != 1 {
		t.Errorf("unexpected chunk %+v", c)
	}
	if got := c.FileContext.Imports.Flatten(); got != "os sys" {
		t.Errorf("imports = %q, want %q", got, "os sys")
	}
}

func TestChunkLoaderMissingFile(t *testing.T) {
	root := t.TempDir()
	loader := NewChunkLoader(root, SkipInvalidChunks, nil)

	_, _, err := loader.Load(context.Background(), "nobody_nothing")
	if !errors.Is(err, domain.ErrChunkSourceNotFound) {
		t.Fatalf("err = %v, want ErrChunkSourceNotFound", err)
	}
	if !strings.Contains(err.Error(), loader.Path("nobody_nothing")) {
		t.Errorf("error %q does not name the path", err)
	}
}

func TestChunkLoaderEmpty(t *testing.T) {
	for _, body := range []string{"[]", "null"} {
		root := t.TempDir()
		writeRawChunks(t, root, "a_b", body)
		_, _, err := NewChunkLoader(root, "", nil).Load(context.Background(), "a_b")
		if !errors.Is(err, domain.ErrEmptyChunkSet) {
			t.Errorf("%s: err = %v, want ErrEmptyChunkSet", body, err)
		}
	}
}

func TestChunkLoaderNotAnArray(t *testing.T) {
	root := t.TempDir()
	writeRawChunks(t, root, "a_b", `{"text":"x"}`)
	_, _, err := NewChunkLoader(root, "", nil).Load(context.Background(), "a_b")
	if !errors.Is(err, domain.ErrInvalidChunkFormat) {
		t.Fatalf("err = %v, want ErrInvalidChunkFormat", err)
	}
}

func TestChunkLoaderPolicies(t *testing.T) {
	root := t.TempDir()
	writeRawChunks(t, root, "a_b", `[
		{"text":"one","type":"function","startLine":1,"endLine":2},
		{"text":"no type","startLine":3,"endLine":4},
		{"text":"three","type":"class","startLine":5,"endLine":9}
	]`)

	chunks, stats, err := NewChunkLoader(root, SkipInvalidChunks, nil).Load(context.Background(), "a_b")
	if err != nil {
		t.Fatalf("skip policy: %v", err)
	}
	if len(chunks) != 2 || stats.Skipped != 1 || stats.Total != 3 {
		t.Fatalf("skip policy: chunks=%d stats=%+v", len(chunks), stats)
	}
	if chunks[0].Text != "one" || chunks[1].Text != "three" {
		t.Errorf("order not preserved: %q, %q", chunks[0].Text, chunks[1].Text)
	}

	_, _, err = NewChunkLoader(root, RejectInvalidChunks, nil).Load(context.Background(), "a_b")
	if !errors.Is(err, domain.ErrInvalidChunkFormat) {
		t.Fatalf("reject policy: err = %v, want ErrInvalidChunkFormat", err)
	}
}

func TestChunkLoaderCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := NewChunkLoader(t.TempDir(), "", nil).Load(ctx, "a_b")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}
