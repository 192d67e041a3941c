package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"code-query-agent/domain"
)

// ChunkFileName is the name of the chunker output inside a repository directory.
const ChunkFileName = "chunks.json"

// InvalidChunkPolicy decides what happens to entries missing required fields.
type InvalidChunkPolicy string

const (
	// SkipInvalidChunks drops invalid entries and keeps the rest of the batch.
	SkipInvalidChunks InvalidChunkPolicy = "skip"
	// RejectInvalidChunks fails the whole batch on the first invalid entry.
	RejectInvalidChunks InvalidChunkPolicy = "reject"
)

// LoadStats summarises one load.
type LoadStats struct {
	Total   int
	Skipped int
}

// ChunkLoader reads the chunk file of a repository from <rootDir>/<repoKey>/chunks.json.
type ChunkLoader struct {
	rootDir string
	policy  InvalidChunkPolicy
	logger  *slog.Logger
}

// NewChunkLoader creates a ChunkLoader. An empty policy means SkipInvalidChunks.
func NewChunkLoader(rootDir string, policy InvalidChunkPolicy, logger *slog.Logger) *ChunkLoader {
	if policy == "" {
		policy = SkipInvalidChunks
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ChunkLoader{rootDir: rootDir, policy: policy, logger: logger}
}

// Path returns the chunk file location for repoKey.
func (l *ChunkLoader) Path(repoKey string) string {
	return filepath.Join(l.rootDir, repoKey, ChunkFileName)
}

// Load reads and validates the chunks of repoKey, preserving file order.
func (l *ChunkLoader) Load(ctx context.Context, repoKey string) ([]domain.Chunk, LoadStats, error) {
	var stats LoadStats
	if err := ctx.Err(); err != nil {
		return nil, stats, err
	}

	path := l.Path(repoKey)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, stats, fmt.Errorf("%w: input file %s not found", domain.ErrChunkSourceNotFound, path)
		}
		return nil, stats, fmt.Errorf("reading chunk file %s: %w", path, err)
	}

	var entries []json.RawMessage
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, stats, fmt.Errorf("%w: %s is not a JSON array: %v", domain.ErrInvalidChunkFormat, path, err)
	}
	if len(entries) == 0 {
		return nil, stats, fmt.Errorf("%w: %s", domain.ErrEmptyChunkSet, path)
	}

	stats.Total = len(entries)
	chunks := make([]domain.Chunk, 0, len(entries))
	for i, entry := range entries {
		chunk, err := domain.DecodeChunk(entry)
		if err != nil {
			if l.policy == RejectInvalidChunks {
				return nil, stats, fmt.Errorf("chunk %d in %s: %w", i, path, err)
			}
			stats.Skipped++
			l.logger.Warn("skipping invalid chunk",
				slog.String("repo", repoKey),
				slog.Int("index", i),
				slog.String("error", err.Error()))
			continue
		}
		chunks = append(chunks, chunk)
	}

	return chunks, stats, nil
}
