package embedder

import (
	"context"
	"errors"
)

// QueryPrefix is prepended to search queries before embedding. The default
// model (nomic-embed-text) is asymmetric: documents and queries are embedded
// with different task prefixes.
const QueryPrefix = "Represent this query for searching relevant code: "

// ErrModelNotReady is returned by embed calls when the backing model is not
// loaded or not reachable.
var ErrModelNotReady = errors.New("embedding model is not ready")

// Client produces fixed-dimension vectors from text.
type Client interface {
	// EmbedDocument embeds indexed content as-is.
	EmbedDocument(ctx context.Context, text string) ([]float32, error)

	// EmbedQuery embeds a search query with the model's query prefix.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)

	// Ready reports whether the model can serve embeddings right now.
	Ready() bool

	// Dimension of produced vectors.
	Dimension() int

	Close() error
}
