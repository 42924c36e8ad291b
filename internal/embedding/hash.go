package embedding

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"sort"

	"github.com/hyperjump/manabu/pkg/utils"
)

// HashEmbedder is a deterministic feature-hashing embedder. Each token and each adjacent
// token pair is hashed into one of Dimensions buckets with a hashed sign; counts are
// log-scaled and the vector is normalised to unit length. Texts sharing vocabulary land
// close together, which is enough for keyword-like semantic search without a model file.
type HashEmbedder struct {
	dimensions int
}

// NewHashEmbedder returns a hashing embedder with the given dimensions (default 384).
func NewHashEmbedder(dimensions int) *HashEmbedder {
	if dimensions <= 0 {
		dimensions = 384
	}
	return &HashEmbedder{dimensions: dimensions}
}

// Embed returns the hashed embedding of text. Text without tokens maps to the zero vector.
func (e *HashEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	tokens := Tokens(text)
	counts := make(map[string]int, len(tokens)*2)
	for i, tok := range tokens {
		counts[tok]++
		if i > 0 {
			counts[tokens[i-1]+"\x00"+tok]++
		}
	}
	features := make([]string, 0, len(counts))
	for feature := range counts {
		features = append(features, feature)
	}
	// Fixed summation order keeps the output bit-identical across runs.
	sort.Strings(features)
	vec := make([]float64, e.dimensions)
	for _, feature := range features {
		bucket, sign := e.bucket(feature)
		vec[bucket] += sign * (1 + math.Log(float64(counts[feature])))
	}
	emb := make([]float32, e.dimensions)
	for i, v := range vec {
		emb[i] = float32(v)
	}
	utils.NormalizeL2(emb)
	return emb, nil
}

func (e *HashEmbedder) bucket(feature string) (int, float64) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(feature))
	sum := h.Sum64()
	sign := 1.0
	if sum>>63 == 1 {
		sign = -1.0
	}
	return int(sum % uint64(e.dimensions)), sign
}

// EmbedBatch calls Embed for each text.
func (e *HashEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return embedEach(ctx, texts, e.Embed)
}

// Dimensions returns the embedding dimension.
func (e *HashEmbedder) Dimensions() int {
	return e.dimensions
}

// Name identifies the hashing scheme and dimension.
func (e *HashEmbedder) Name() string {
	return fmt.Sprintf("hash-v1-%d", e.dimensions)
}

// Close is a no-op.
func (e *HashEmbedder) Close() error {
	return nil
}
