package vector

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"sync"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore keeps code embeddings in a single SQLite table and answers
// searches with a brute-force cosine scan. Adequate below ~10k rows; no
// approximate-NN index is attempted.
type SQLiteStore struct {
	db        *sql.DB
	dimension int
	mu        sync.RWMutex
}

// NewSQLiteStore opens (or creates) the store at path. Use ":memory:" for an
// ephemeral store in tests.
func NewSQLiteStore(path string, dimension int) (*SQLiteStore, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("dimension must be positive, got %d", dimension)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open vector store: %w", err)
	}

	// A single connection sidesteps SQLite's multi-writer locking; the store
	// serializes writes itself.
	db.SetMaxOpenConns(1)

	schema := `
	CREATE TABLE IF NOT EXISTS code_embeddings (
		id     TEXT PRIMARY KEY,
		type   TEXT NOT NULL,
		name   TEXT NOT NULL,
		source TEXT NOT NULL,
		vector BLOB
	);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create code_embeddings table: %w", err)
	}

	return &SQLiteStore{db: db, dimension: dimension}, nil
}

func (s *SQLiteStore) Save(ctx context.Context, code IndexedCode) error {
	if len(code.Vector) == 0 {
		return fmt.Errorf("cannot save %q without a vector", code.ID)
	}
	if len(code.Vector) != s.dimension {
		return fmt.Errorf("vector dimension mismatch for %q: got %d, want %d",
			code.ID, len(code.Vector), s.dimension)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO code_embeddings (id, type, name, source, vector)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			type = excluded.type,
			name = excluded.name,
			source = excluded.source,
			vector = excluded.vector`,
		code.ID, string(code.Kind), code.Name, code.SourceCode, encodeVector(code.Vector))
	if err != nil {
		return fmt.Errorf("failed to upsert %q: %w", code.ID, err)
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM code_embeddings WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete %q: %w", id, err)
	}
	return nil
}

func (s *SQLiteStore) FindByID(ctx context.Context, id string) (*IndexedCode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		`SELECT id, type, name, source, vector FROM code_embeddings WHERE id = ?`, id)

	code, err := scanIndexedCode(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load %q: %w", id, err)
	}
	return code, nil
}

func (s *SQLiteStore) FindAll(ctx context.Context) ([]IndexedCode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, type, name, source, vector FROM code_embeddings ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list rows: %w", err)
	}
	defer rows.Close()

	var out []IndexedCode
	for rows.Next() {
		code, err := scanIndexedCode(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		out = append(out, *code)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) AllIDs(ctx context.Context) (map[string]struct{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT id FROM code_embeddings`)
	if err != nil {
		return nil, fmt.Errorf("failed to list ids: %w", err)
	}
	defer rows.Close()

	ids := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids[id] = struct{}{}
	}
	return ids, rows.Err()
}

func (s *SQLiteStore) IsEmpty(ctx context.Context) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM code_embeddings`).Scan(&count); err != nil {
		return false, fmt.Errorf("failed to count rows: %w", err)
	}
	return count == 0, nil
}

func (s *SQLiteStore) SearchSimilar(ctx context.Context, query []float32, topK int) ([]CodeSearchResult, error) {
	if topK <= 0 {
		return nil, nil
	}
	if len(query) != s.dimension {
		return nil, fmt.Errorf("query dimension mismatch: got %d, want %d", len(query), s.dimension)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, type, name, source, vector FROM code_embeddings WHERE vector IS NOT NULL`)
	if err != nil {
		return nil, fmt.Errorf("failed to scan for search: %w", err)
	}
	defer rows.Close()

	var results []CodeSearchResult
	for rows.Next() {
		code, err := scanIndexedCode(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		if len(code.Vector) == 0 {
			continue
		}
		score, err := Cosine(query, code.Vector)
		if err != nil {
			// Rows written before a dimension change are skipped, not fatal.
			continue
		}
		results = append(results, CodeSearchResult{
			ID:         code.ID,
			Kind:       code.Kind,
			Name:       code.Name,
			SourceCode: code.SourceCode,
			Similarity: ClampSimilarity(score),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Similarity > results[j].Similarity
	})
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanIndexedCode(row rowScanner) (*IndexedCode, error) {
	var (
		code IndexedCode
		kind string
		blob []byte
	)
	if err := row.Scan(&code.ID, &kind, &code.Name, &code.SourceCode, &blob); err != nil {
		return nil, err
	}
	code.Kind = Kind(kind)
	if len(blob) > 0 {
		code.Vector = decodeVector(blob)
	}
	return &code, nil
}

// encodeVector serializes float32 values little-endian, 4 bytes each.
func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(buf []byte) []float32 {
	v := make([]float32, len(buf)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return v
}
