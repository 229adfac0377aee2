package hnsw

import "math"

// euclideanSquared is the δ used throughout these tests: cheap, exact at
// zero, and sufficient for the scenarios spec.md §8 describes.
func euclideanSquared(a, b []float64) float64 {
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}

// sequentialSource is a test double returning a fixed sequence of
// Float64 values, used to force an exact level-sampling outcome per
// spec.md §8 scenario 5 without reverse-engineering math/rand's stream.
type sequentialSource struct {
	values []float64
	next   int
}

func (s *sequentialSource) Float64() float64 {
	v := s.values[s.next]
	s.next++
	return v
}

// uFor returns the uniform sample that makes sampleLevel's
// floor(-ln(u) * mL) formula land exactly on level, for the given mL.
func uFor(level int, mL float64) float64 {
	return math.Exp(-(float64(level) + 0.5) / mL)
}
