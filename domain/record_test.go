package domain

import "testing"

func TestNewEmbeddingRecord(t *testing.T) {
	chunk, err := DecodeChunk([]byte(`{"text":"function foo(){}","type":"function","startLine":1,"endLine":1,"filePath":"a.js","fileContext":{"imports":[],"exports":["foo"]}}`))
	if err != nil {
		t.Fatalf("DecodeChunk() error: %v", err)
	}

	rec := NewEmbeddingRecord(chunk, Embedding{0.1, 0.2})

	if rec.Metadata.Exports != "foo" {
		t.Errorf("metadata.exports = %q, want foo", rec.Metadata.Exports)
	}
	if rec.Metadata.Imports != "" {
		t.Errorf("metadata.imports = %q, want empty", rec.Metadata.Imports)
	}
	if rec.Metadata.Type != "function" || rec.Metadata.StartLine != 1 || rec.Metadata.EndLine != 1 {
		t.Errorf("unexpected metadata: %+v", rec.Metadata)
	}
	if rec.FilePath != "a.js" || len(rec.Embedding) != 2 {
		t.Errorf("unexpected record: %+v", rec)
	}
}

func TestAssignRecordKeys(t *testing.T) {
	records := []EmbeddingRecord{
		{FilePath: "a.js", StartLine: 1, EndLine: 3},
		{FilePath: "a.js", StartLine: 5, EndLine: 9},
		{FilePath: "a.js", StartLine: 5, EndLine: 9},
	}

	keys := AssignRecordKeys("u_r", records)
	if len(keys) != 3 {
		t.Fatalf("got %d keys, want 3", len(keys))
	}
	if keys[0].ChunkID != "u_r-chunk-0" || keys[2].ChunkID != "u_r-chunk-2" {
		t.Errorf("unexpected chunk ids: %q, %q", keys[0].ChunkID, keys[2].ChunkID)
	}

	ids := map[string]bool{}
	for _, k := range keys {
		ids[k.PointID] = true
	}
	if len(ids) != 3 {
		t.Errorf("expected 3 distinct point ids, got %d", len(ids))
	}

	again := AssignRecordKeys("u_r", records)
	for i := range keys {
		if keys[i].PointID != again[i].PointID {
			t.Errorf("point id %d not stable: %s vs %s", i, keys[i].PointID, again[i].PointID)
		}
	}

	other := AssignRecordKeys("u_other", records[:1])
	if other[0].PointID == keys[0].PointID {
		t.Error("point ids must differ across collections")
	}
}

func TestQueryResult_EmptyEncodesAsArrays(t *testing.T) {
	r := NewQueryResult(0)
	if r.Documents == nil || r.Metadatas == nil || r.Distances == nil {
		t.Fatal("expected non-nil slices")
	}
	r.Append("doc", map[string]interface{}{"type": "function"}, 0.25)
	if r.Len() != 1 || r.Distances[0] != 0.25 {
		t.Errorf("unexpected result: %+v", r)
	}
}
