package vector

import (
	"fmt"
	"math"
)

// CosineSimilarity returns the cosine similarity of two vectors. For
// normalized vectors this equals their inner product. A zero-magnitude
// operand yields similarity 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// CosineDistance returns 1 minus the cosine similarity as a float32, the
// distance function used by the graph index. Score convention throughout the
// engine: score = 1 - distance.
func CosineDistance(a, b []float32) (float32, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("vector sizes do not match: %d vs %d", len(a), len(b))
	}
	return float32(1 - CosineSimilarity(a, b)), nil
}
