package utils

import "math"

// NormalizeL2 scales an embedding in place to unit length so that squared Euclidean
// distance between two normalised embeddings is 2 - 2*cosine. The norm is accumulated in
// float64. A zero vector is left as is.
func NormalizeL2(vec []float32) {
	var sumSq float64
	for _, v := range vec {
		sumSq += float64(v) * float64(v)
	}
	if sumSq == 0 {
		return
	}
	inv := 1 / math.Sqrt(sumSq)
	for i, v := range vec {
		vec[i] = float32(float64(v) * inv)
	}
}
