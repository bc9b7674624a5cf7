// Package embedder produces unit-norm text embeddings. Passage and query
// embeddings differ only in that queries are prefixed with "query: ",
// which retrieval-tuned embedding models expect.
package embedder

import "math"

// queryPrefix is prepended to query text before embedding. Passages are
// embedded as-is.
const queryPrefix = "query: "

// normalize scales v to unit L2 norm in place and returns it. The zero
// vector is returned unchanged.
func normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	inv := 1.0 / math.Sqrt(sum)
	for i := range v {
		v[i] = float32(float64(v[i]) * inv)
	}
	return v
}
