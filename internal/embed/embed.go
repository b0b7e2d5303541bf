// Package embed defines the text embedding contract used for semantic
// matching, plus the decorators and offline backend built on it.
package embed

import (
	"context"
	"math"
)

// Embedder maps texts to fixed-length vectors. Implementations must return
// exactly one vector per input text, in order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Cosine returns the cosine similarity of a and b in [-1, 1]. Vectors of
// different length or zero norm have similarity 0.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return max(-1, min(1, dot/(math.Sqrt(na)*math.Sqrt(nb))))
}
