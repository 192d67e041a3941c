package artifact

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"code-query-agent/domain"
)

// FileName is the name of the embedding artifact inside a repository directory.
const FileName = "embeddings.json"

// FileStore keeps the intermediate embedding records of each repository as
// a JSON array under <dir>/<repoKey>/embeddings.json.
type FileStore struct {
	dir string
}

// Compile-time check that FileStore implements domain.RecordArtifactStore.
var _ domain.RecordArtifactStore = (*FileStore)(nil)

// NewFileStore creates a FileStore rooted at dir.
func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

// Path returns the artifact location for repoKey.
func (s *FileStore) Path(repoKey string) string {
	return filepath.Join(s.dir, repoKey, FileName)
}

// Write replaces the artifact for repoKey. The file is written to a temporary
// name first and renamed, so readers never see a half-written array.
func (s *FileStore) Write(ctx context.Context, repoKey string, records []domain.EmbeddingRecord) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if records == nil {
		records = []domain.EmbeddingRecord{}
	}

	path := s.Path(repoKey)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("creating artifact directory: %w", err)
	}

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshaling embedding records: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), FileName+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("creating temporary artifact: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("writing artifact %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("closing artifact %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("replacing artifact %s: %w", path, err)
	}
	return path, nil
}

// Read loads the artifact for repoKey.
func (s *FileStore) Read(ctx context.Context, repoKey string) ([]domain.EmbeddingRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path := s.Path(repoKey)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading artifact %s: %w", path, err)
	}

	var records []domain.EmbeddingRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("parsing artifact %s: %w", path, err)
	}
	return records, nil
}
