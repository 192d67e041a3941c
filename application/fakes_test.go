package application

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"

	"code-query-agent/domain"
)

// fakeEmbedder maps each text to a small vector derived from its letters.
type fakeEmbedder struct {
	mu      sync.Mutex
	calls   [][]string
	failOn  int // 1-based call number that fails; 0 never fails
	failErr error
}

func (f *fakeEmbedder) GenerateEmbeddings(_ context.Context, texts []string) ([]domain.Embedding, error) {
	f.mu.Lock()
	f.calls = append(f.calls, append([]string(nil), texts...))
	n := len(f.calls)
	f.mu.Unlock()

	if f.failOn != 0 && n == f.failOn {
		if f.failErr != nil {
			return nil, f.failErr
		}
		return nil, domain.ErrEmbeddingFailure
	}

	out := make([]domain.Embedding, len(texts))
	for i, t := range texts {
		out[i] = letterVector(t)
	}
	return out, nil
}

func (f *fakeEmbedder) Dimension() int { return 3 }

func (f *fakeEmbedder) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// letterVector counts a, b and c so texts with shared letters are close.
func letterVector(text string) domain.Embedding {
	v := make(domain.Embedding, 3)
	for _, r := range strings.ToLower(text) {
		switch r {
		case 'a':
			v[0]++
		case 'b':
			v[1]++
		case 'c':
			v[2]++
		}
	}
	return v
}

// memoryArtifacts is an in-memory domain.RecordArtifactStore.
type memoryArtifacts struct {
	mu      sync.Mutex
	records map[string][]domain.EmbeddingRecord
	writes  int
}

func newMemoryArtifacts() *memoryArtifacts {
	return &memoryArtifacts{records: make(map[string][]domain.EmbeddingRecord)}
}

func (m *memoryArtifacts) Write(_ context.Context, repoKey string, records []domain.EmbeddingRecord) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[repoKey] = append([]domain.EmbeddingRecord(nil), records...)
	m.writes++
	return "memory://" + repoKey, nil
}

func (m *memoryArtifacts) Read(_ context.Context, repoKey string) ([]domain.EmbeddingRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	records, ok := m.records[repoKey]
	if !ok {
		return nil, errors.New("artifact not found")
	}
	return records, nil
}

type memoryPoint struct {
	document string
	metadata map[string]interface{}
	vector   domain.Embedding
}

// memoryStore is an in-memory domain.VectorStore keyed by point id.
type memoryStore struct {
	mu          sync.Mutex
	collections map[string]map[string]memoryPoint
	order       map[string][]string
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		collections: make(map[string]map[string]memoryPoint),
		order:       make(map[string][]string),
	}
}

func (m *memoryStore) GetOrCreateCollection(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.collections[name]; !ok {
		m.collections[name] = make(map[string]memoryPoint)
	}
	return nil
}

func (m *memoryStore) Add(_ context.Context, collection string, records []domain.EmbeddingRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	points, ok := m.collections[collection]
	if !ok {
		points = make(map[string]memoryPoint)
		m.collections[collection] = points
	}
	keys := domain.AssignRecordKeys(collection, records)
	for i, r := range records {
		if _, exists := points[keys[i].PointID]; !exists {
			m.order[collection] = append(m.order[collection], keys[i].PointID)
		}
		points[keys[i].PointID] = memoryPoint{
			document: r.Text,
			metadata: domain.StoredMetadata(r, keys[i]),
			vector:   r.Embedding,
		}
	}
	return nil
}

func (m *memoryStore) Query(_ context.Context, collection string, embedding domain.Embedding, k int) (domain.QueryResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	type hit struct {
		p memoryPoint
		d float64
	}
	var hits []hit
	for _, id := range m.order[collection] {
		p := m.collections[collection][id]
		hits = append(hits, hit{p: p, d: distance(embedding, p.vector)})
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].d < hits[j].d })
	if len(hits) > k {
		hits = hits[:k]
	}
	result := domain.NewQueryResult(len(hits))
	for _, h := range hits {
		result.Append(h.p.document, h.p.metadata, h.d)
	}
	return result, nil
}

func (m *memoryStore) Count(_ context.Context, collection string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.collections[collection]), nil
}

func (m *memoryStore) Close() error { return nil }

func (m *memoryStore) hasCollection(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.collections[name]
	return ok
}

func distance(a, b domain.Embedding) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}

// fakeGenerator records prompts and returns a canned answer.
type fakeGenerator struct {
	answer  string
	err     error
	prompts []string
}

func (g *fakeGenerator) Generate(_ context.Context, prompt string) (string, error) {
	g.prompts = append(g.prompts, prompt)
	if g.err != nil {
		return "", g.err
	}
	return g.answer, nil
}

// writeChunks writes entries as <root>/<repoKey>/chunks.json.
func writeChunks(t *testing.T, root, repoKey string, entries interface{}) {
	t.Helper()
	data, err := json.Marshal(entries)
	if err != nil {
		t.Fatalf("marshal chunks: %v", err)
	}
	writeRawChunks(t, root, repoKey, string(data))
}

func writeRawChunks(t *testing.T, root, repoKey, data string) {
	t.Helper()
	dir := filepath.Join(root, repoKey)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, ChunkFileName), []byte(data), 0o644); err != nil {
		t.Fatalf("write chunks: %v", err)
	}
}

func chunkEntry(text, typ string, start, end int) map[string]interface{} {
	return map[string]interface{}{
		"text":      text,
		"type":      typ,
		"startLine": start,
		"endLine":   end,
	}
}
