// Package hnsw - distance kernels.
package hnsw

import (
	"math"

	"github.com/helixdb/helix-go/pkg/storage"
)

// metric maps two equal-length vectors to a distance; smaller is closer.
type metric func(a, b []float64) float64

// metricFor resolves a label's declared distance. Unknown values fall back
// to cosine, the schema default.
func metricFor(d storage.Distance) metric {
	if d == storage.DistanceL2 {
		return l2Distance
	}
	return cosineDistance
}

// cosineDistance is 1 - cos(a, b), in [0, 2]. Zero-magnitude inputs have
// no direction to compare, so they are maximally distant.
func cosineDistance(a, b []float64) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 2
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}

// l2Distance is the Euclidean distance.
func l2Distance(a, b []float64) float64 {
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}

// CosineSimilarity exposes the similarity form used by the MMR reranker.
func CosineSimilarity(a, b []float64) float64 {
	return 1 - cosineDistance(a, b)
}
