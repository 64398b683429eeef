// Package vectorindex wraps the qdrant collection used for chunk
// embeddings (section 6): upsert by id, search by vector with an optional
// metadata filter, cosine distance, dimension fixed per embedder.
package vectorindex

import "context"

// Point is one vector plus its payload, keyed by a caller-chosen id.
type Point struct {
	ID      string
	Vector  []float32
	Payload map[string]any
}

// SearchResult is one nearest-neighbor hit.
type SearchResult struct {
	ID      string
	Score   float32
	Payload map[string]any
}

// Index is the interface stage handlers depend on; Qdrant is the only
// production implementation, but handlers never import the qdrant client
// directly.
type Index interface {
	Upsert(ctx context.Context, points []Point) error
	Search(ctx context.Context, vector []float32, topK int, filter map[string]string) ([]SearchResult, error)
	EnsureCollection(ctx context.Context, dims int) error
}
