// Package embedding turns text into fixed-size vectors for nearest-neighbour search.
package embedding

import "context"

// Embedder produces vector embeddings for text. Implementations must be deterministic for a
// given model and safe for concurrent use.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	// Name identifies the embedding function. Collections record it so that vectors from
	// different functions are never compared.
	Name() string
	Close() error
}

// embedEach calls embed for each text, checking ctx between items.
func embedEach(ctx context.Context, texts []string, embed func(context.Context, string) ([]float32, error)) ([][]float32, error) {
	embeddings := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		emb, err := embed(ctx, text)
		if err != nil {
			return nil, err
		}
		embeddings[i] = emb
	}
	return embeddings, nil
}
