// Package vector provides nearest-neighbour search over embedding vectors.
package vector

import "context"

// VectorIndex stores vectors by ID and answers nearest-neighbour queries.
type VectorIndex interface {
	// Upsert adds vectors, replacing any existing vector with the same ID.
	Upsert(ctx context.Context, ids []string, vectors [][]float32) error
	Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error)
	Remove(ctx context.Context, ids []string) error
	Reset()
	Size() int
	Close() error
}

// VectorResult is a single vector search hit.
type VectorResult struct {
	ID       string
	Distance float64 // squared L2; smaller is closer
}
