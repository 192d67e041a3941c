package application

import (
	"context"
	"errors"
	"strings"
	"testing"

	"code-query-agent/domain"
)

func populatedQueryService(t *testing.T, composer *AnswerComposer, nResults int) (*QueryService, *memoryStore) {
	t.Helper()
	f := newIngestFixture(t)
	writeChunks(t, f.root, "alice_proj", []interface{}{
		chunkEntry("aaaa", "function", 1, 2),
		chunkEntry("bbbb", "function", 3, 4),
		chunkEntry("aabb", "class", 5, 6),
		chunkEntry("cccc", "class", 7, 8),
	})
	if _, err := f.service.Ingest(context.Background(), "alice", "proj"); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	return NewQueryService(f.embedder, f.store, composer, nResults, nil, nil), f.store
}

func TestQueryOrdersByDistance(t *testing.T) {
	svc, _ := populatedQueryService(t, nil, 3)

	result, err := svc.Query(context.Background(), "alice", "proj", "a")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if result.Len() != 3 || len(result.Metadatas) != 3 || len(result.Distances) != 3 {
		t.Fatalf("result not co-indexed: %+v", result)
	}
	if result.Documents[0] != "aaaa" || result.Documents[1] != "aabb" {
		t.Errorf("documents = %v", result.Documents)
	}
	for i := 1; i < len(result.Distances); i++ {
		if result.Distances[i] < result.Distances[i-1] {
			t.Errorf("distances not ascending: %v", result.Distances)
		}
	}
	if result.Metadatas[0]["type"] != "function" {
		t.Errorf("metadata = %v", result.Metadatas[0])
	}
}

func TestQueryDefaultsToFiveResults(t *testing.T) {
	svc, _ := populatedQueryService(t, nil, 0)
	if svc.nResults != DefaultResults {
		t.Fatalf("nResults = %d, want %d", svc.nResults, DefaultResults)
	}
	result, err := svc.Query(context.Background(), "alice", "proj", "abc")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if result.Len() != 4 {
		t.Errorf("got %d results, want all 4", result.Len())
	}
}

func TestSearchLimit(t *testing.T) {
	svc, _ := populatedQueryService(t, nil, 2)
	tests := []struct {
		limit int
		want  int
	}{
		{limit: 1, want: 1},
		{limit: 0, want: 2},
		{limit: MaxResults + 10, want: 4},
	}
	for _, tt := range tests {
		result, err := svc.Search(context.Background(), "alice", "proj", "a", tt.limit)
		if err != nil {
			t.Fatalf("Search(limit=%d): %v", tt.limit, err)
		}
		if result.Len() != tt.want {
			t.Errorf("Search(limit=%d) returned %d results, want %d", tt.limit, result.Len(), tt.want)
		}
	}
}

func TestQueryMissingText(t *testing.T) {
	svc, _ := populatedQueryService(t, nil, 5)
	for _, text := range []string{"", "   "} {
		_, err := svc.Query(context.Background(), "alice", "proj", text)
		if !errors.Is(err, domain.ErrMissingQuery) {
			t.Errorf("Query(%q) err = %v, want ErrMissingQuery", text, err)
		}
	}
}

func TestQueryNeverPopulated(t *testing.T) {
	store := newMemoryStore()
	svc := NewQueryService(&fakeEmbedder{}, store, nil, 5, nil, nil)

	result, err := svc.Query(context.Background(), "nobody", "empty", "anything")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if result.Documents == nil || result.Metadatas == nil || result.Distances == nil {
		t.Fatalf("expected empty non-nil slices, got %+v", result)
	}
	if result.Len() != 0 {
		t.Errorf("got %d results, want 0", result.Len())
	}
	if !store.hasCollection("nobody_empty") {
		t.Error("collection was not created")
	}
}

func TestQueryEmbeddingFailure(t *testing.T) {
	svc := NewQueryService(&fakeEmbedder{failOn: 1}, newMemoryStore(), nil, 5, nil, nil)
	_, err := svc.Query(context.Background(), "a", "b", "question")
	if !errors.Is(err, domain.ErrEmbeddingFailure) {
		t.Fatalf("err = %v, want ErrEmbeddingFailure", err)
	}
}

func TestAnswer(t *testing.T) {
	gen := &fakeGenerator{answer: "It adds things."}
	svc, _ := populatedQueryService(t, NewAnswerComposer(gen), 2)

	result, err := svc.Answer(context.Background(), "alice", "proj", "b")
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if result.Answer != "It adds things." {
		t.Errorf("answer = %q", result.Answer)
	}
	if len(result.RelevantSnippets) != 2 || result.RelevantSnippets[0].Text != "bbbb" {
		t.Errorf("snippets = %+v", result.RelevantSnippets)
	}
	if len(gen.prompts) != 1 || !strings.Contains(gen.prompts[0], "bbbb\n\naabb") {
		t.Errorf("prompt = %q", gen.prompts)
	}
}

func TestAnswerComposerDisabled(t *testing.T) {
	svc := NewQueryService(&fakeEmbedder{}, newMemoryStore(), nil, 5, nil, nil)
	_, err := svc.Answer(context.Background(), "a", "b", "question")
	if !errors.Is(err, domain.ErrComposerDisabled) {
		t.Fatalf("err = %v, want ErrComposerDisabled", err)
	}
}

func TestAnswerValidatesInputBeforeComposer(t *testing.T) {
	svc := NewQueryService(&fakeEmbedder{}, newMemoryStore(), nil, 5, nil, nil)
	tests := []struct {
		name       string
		user, repo string
		text       string
		want       error
	}{
		{"blank query", "u", "r", "  ", domain.ErrMissingQuery},
		{"missing user", "", "r", "q", domain.ErrMissingRepository},
		{"path-like repo", "u", "..", "q", domain.ErrInvalidRepository},
		{"valid input", "u", "r", "q", domain.ErrComposerDisabled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Answer(context.Background(), tt.user, tt.repo, tt.text)
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestAnswerGenerationFailure(t *testing.T) {
	gen := &fakeGenerator{err: domain.ErrGenerationFailure}
	svc, _ := populatedQueryService(t, NewAnswerComposer(gen), 2)
	_, err := svc.Answer(context.Background(), "alice", "proj", "a")
	if !errors.Is(err, domain.ErrGenerationFailure) {
		t.Fatalf("err = %v, want ErrGenerationFailure", err)
	}
}

func TestPreviewText(t *testing.T) {
	short := strings.Repeat("x", 500)
	if got := previewText(short); got != short {
		t.Errorf("500 chars should not be truncated")
	}
	long := strings.Repeat("y", 501)
	got := previewText(long)
	if got != strings.Repeat("y", 500)+"..." {
		t.Errorf("preview has length %d", len(got))
	}
}

func TestBuildPrompt(t *testing.T) {
	prompt := BuildPrompt([]string{"func A() {}", "func B() {}"}, "what does A do?")
	for _, want := range []string{
		"You are a helpful code assistant",
		"=== CODE SNIPPETS ===\nfunc A() {}\n\nfunc B() {}",
		"=== USER QUESTION ===\nwhat does A do?",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q:\n%s", want, prompt)
		}
	}
}
