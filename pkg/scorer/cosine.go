// Package scorer produces the dual score for node pairs and classifies the
// result against the acceptance thresholds.
package scorer

import (
	"math"

	"github.com/bwl/forest/pkg/textproc"
)

// Cosine computes the cosine similarity of two vectors, clipped to [-1, 1].
// For L2-normalized embeddings this equals the dot product.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0.0
	}

	var dot, normA, normB float64
	for i := 0; i < len(a); i++ {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0.0
	}
	return clip(dot/(math.Sqrt(normA)*math.Sqrt(normB)), -1, 1)
}

// TokenCosine computes the cosine over two token-count maps with generic
// technical terms down-weighted. Used by the explain surface, not by edge
// classification.
func TokenCosine(a, b map[string]int) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0.0
	}

	var dot, normA, normB float64
	for token, countA := range a {
		w := textproc.TokenWeight(token)
		va := float64(countA) * w
		normA += va * va
		if countB, ok := b[token]; ok {
			dot += va * float64(countB) * w
		}
	}
	for token, countB := range b {
		vb := float64(countB) * textproc.TokenWeight(token)
		normB += vb * vb
	}
	if normA == 0 || normB == 0 {
		return 0.0
	}
	return clip(dot/(math.Sqrt(normA)*math.Sqrt(normB)), -1, 1)
}

func clip(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
