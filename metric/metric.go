// Package metric supplies ready-made hnsw.DistanceFunc[float64]
// implementations. The core never imports this package — callers pick
// and pass one of these (or their own) as the δ collaborator to
// hnsw.New — grounded on gonum.org/v1/gonum/floats, the pack's only
// repo (sanonone-kektordb) that reaches for a numerical library to
// compute vector distances rather than hand-rolling one.
package metric

import "gonum.org/v1/gonum/floats"

// SquaredL2 returns the squared Euclidean distance between a and b. It
// is the metric the paper's recall benchmarks are run against, and the
// cheapest of the three: no square root, no normalization.
func SquaredL2(a, b []float64) float64 {
	d := floats.Distance(a, b, 2)
	return d * d
}

// Euclidean returns the (non-squared) Euclidean distance between a and
// b.
func Euclidean(a, b []float64) float64 {
	return floats.Distance(a, b, 2)
}

// Cosine returns 1 - cosine similarity between a and b, so that smaller
// values mean "more similar", matching the ascending-distance ordering
// every other metric here uses. A zero vector on either side yields the
// maximal distance of 1, rather than dividing by zero.
func Cosine(a, b []float64) float64 {
	dot := floats.Dot(a, b)
	na := floats.Norm(a, 2)
	nb := floats.Norm(b, 2)
	if na == 0 || nb == 0 {
		return 1
	}
	return 1 - dot/(na*nb)
}

// DotProduct returns the negated inner product of a and b, so that the
// index's ascending-distance ordering ranks the highest-similarity
// vectors first — a common metric for embeddings already normalized to
// unit length, where it coincides with Cosine up to a constant offset.
func DotProduct(a, b []float64) float64 {
	return -floats.Dot(a, b)
}
