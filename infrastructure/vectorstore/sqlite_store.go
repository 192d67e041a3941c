package vectorstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"

	"code-query-agent/domain"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements domain.VectorStore on a single SQLite file. Vectors
// are stored as JSON and searched by a full scan with cosine distance, which
// suits per-repository collections of a few thousand chunks.
type SQLiteStore struct {
	db *sql.DB
}

// Compile-time check that SQLiteStore implements domain.VectorStore.
var _ domain.VectorStore = (*SQLiteStore)(nil)

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS collections (
		name TEXT PRIMARY KEY,
		created_at TEXT NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS records (
		collection TEXT NOT NULL,
		id TEXT NOT NULL,
		chunk_id TEXT NOT NULL,
		document TEXT NOT NULL,
		metadata TEXT NOT NULL,
		dim INTEGER NOT NULL,
		embedding TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (collection, id)
	);`,
}

// NewSQLiteStore opens (and migrates) the store at path. Use ":memory:" for
// a throwaway store.
func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating vector store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite %s: %w", path, err)
	}
	// One connection serialises writers and keeps ":memory:" databases shared.
	db.SetMaxOpenConns(1)

	for _, stmt := range sqliteSchema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrating sqlite %s: %w", path, err)
		}
	}

	return &SQLiteStore{db: db}, nil
}

// GetOrCreateCollection registers the collection name if it is new.
func (s *SQLiteStore) GetOrCreateCollection(ctx context.Context, name string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO collections(name, created_at) VALUES(?, ?)`,
		name, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("creating collection %s: %w", name, err)
	}
	return nil
}

// Add upserts records into the collection inside one transaction.
func (s *SQLiteStore) Add(ctx context.Context, collection string, records []domain.EmbeddingRecord) error {
	if len(records) == 0 {
		return nil
	}
	if err := s.GetOrCreateCollection(ctx, collection); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO records(collection, id, chunk_id, document, metadata, dim, embedding, updated_at)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(collection, id) DO UPDATE SET
			chunk_id = excluded.chunk_id,
			document = excluded.document,
			metadata = excluded.metadata,
			dim = excluded.dim,
			embedding = excluded.embedding,
			updated_at = excluded.updated_at`)
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC().Format(time.RFC3339)
	keys := domain.AssignRecordKeys(collection, records)
	for i, r := range records {
		if len(r.Embedding) == 0 {
			return fmt.Errorf("record %s has no embedding", keys[i].ChunkID)
		}
		metaJSON, err := json.Marshal(domain.StoredMetadata(r, keys[i]))
		if err != nil {
			return fmt.Errorf("encoding metadata for %s: %w", keys[i].ChunkID, err)
		}
		vecJSON, err := json.Marshal(r.Embedding)
		if err != nil {
			return fmt.Errorf("encoding embedding for %s: %w", keys[i].ChunkID, err)
		}
		if _, err := stmt.ExecContext(ctx, collection, keys[i].PointID, keys[i].ChunkID, r.Text,
			string(metaJSON), len(r.Embedding), string(vecJSON), now); err != nil {
			return fmt.Errorf("inserting %s: %w", keys[i].ChunkID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing records: %w", err)
	}
	return nil
}

type scoredRow struct {
	document string
	metadata map[string]interface{}
	distance float64
}

// Query returns up to k records closest to embedding by cosine distance.
// Records whose dimension differs from the query are ignored.
func (s *SQLiteStore) Query(ctx context.Context, collection string, embedding domain.Embedding, k int) (domain.QueryResult, error) {
	if k <= 0 || len(embedding) == 0 {
		return domain.NewQueryResult(0), nil
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT document, metadata, embedding FROM records WHERE collection = ? AND dim = ?`,
		collection, len(embedding))
	if err != nil {
		return domain.QueryResult{}, fmt.Errorf("%w: %s: %w", domain.ErrCollectionQueryFailure, collection, err)
	}
	defer rows.Close()

	var scored []scoredRow
	for rows.Next() {
		var document, metaStr, vecStr string
		if err := rows.Scan(&document, &metaStr, &vecStr); err != nil {
			return domain.QueryResult{}, fmt.Errorf("%w: %s: %w", domain.ErrCollectionQueryFailure, collection, err)
		}
		var vec []float32
		if err := json.Unmarshal([]byte(vecStr), &vec); err != nil || len(vec) != len(embedding) {
			continue
		}
		metadata := map[string]interface{}{}
		if err := json.Unmarshal([]byte(metaStr), &metadata); err != nil {
			return domain.QueryResult{}, fmt.Errorf("%w: %s: decoding metadata: %w", domain.ErrCollectionQueryFailure, collection, err)
		}
		scored = append(scored, scoredRow{
			document: document,
			metadata: metadata,
			distance: cosineDistance(embedding, vec),
		})
	}
	if err := rows.Err(); err != nil {
		return domain.QueryResult{}, fmt.Errorf("%w: %s: %w", domain.ErrCollectionQueryFailure, collection, err)
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].distance < scored[j].distance
	})
	if len(scored) > k {
		scored = scored[:k]
	}

	result := domain.NewQueryResult(len(scored))
	for _, r := range scored {
		result.Append(r.document, r.metadata, r.distance)
	}
	return result, nil
}

// Count returns the number of records stored in the collection.
func (s *SQLiteStore) Count(ctx context.Context, collection string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM records WHERE collection = ?`, collection).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting records in %s: %w", collection, err)
	}
	return n, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// cosineDistance returns 1 - cosine similarity. A zero vector is at
// distance 1 from everything.
func cosineDistance(a, b []float32) float64 {
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
