package vector

import (
	"context"
	"fmt"
	"math"
)

// Kind classifies indexed code.
type Kind string

const (
	KindAutomation Kind = "automation"
	KindLibrary    Kind = "library"
)

// IndexedCode is one persisted row: a source file with its embedding.
// ID is "{kind}:{name}".
type IndexedCode struct {
	ID         string
	Kind       Kind
	Name       string
	SourceCode string
	Vector     []float32
}

// CodeID builds the canonical row id for a kind/name pair.
func CodeID(kind Kind, name string) string {
	return fmt.Sprintf("%s:%s", kind, name)
}

// CodeSearchResult is one similarity hit. Similarity is clamped to [0,1].
type CodeSearchResult struct {
	ID         string  `json:"id"`
	Kind       Kind    `json:"kind"`
	Name       string  `json:"name"`
	SourceCode string  `json:"source_code"`
	Similarity float64 `json:"similarity"`
}

// Store persists IndexedCode rows and answers top-K cosine searches.
// Implementations must be safe for concurrent readers with one writer.
type Store interface {
	// Save upserts by id. It fails when the vector is absent.
	Save(ctx context.Context, code IndexedCode) error

	// Delete removes a row by id. Deleting a missing id is not an error.
	Delete(ctx context.Context, id string) error

	FindByID(ctx context.Context, id string) (*IndexedCode, error)

	FindAll(ctx context.Context) ([]IndexedCode, error)

	// AllIDs returns the set of stored row ids.
	AllIDs(ctx context.Context) (map[string]struct{}, error)

	IsEmpty(ctx context.Context) (bool, error)

	// SearchSimilar returns up to topK rows ordered by descending cosine
	// similarity to the query. Rows without a vector are skipped.
	SearchSimilar(ctx context.Context, query []float32, topK int) ([]CodeSearchResult, error)

	Close() error
}

// Cosine computes the cosine similarity of two equal-length vectors.
// A zero vector yields similarity 0.
func Cosine(a, b []float32) (float64, error) {
	if len(a) == 0 || len(b) == 0 {
		return 0, fmt.Errorf("cannot compute cosine of an empty vector")
	}
	if len(a) != len(b) {
		return 0, fmt.Errorf("vector dimension mismatch: %d vs %d", len(a), len(b))
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB)), nil
}

// ClampSimilarity maps a raw cosine score into [0,1] for search results.
func ClampSimilarity(score float64) float64 {
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}
