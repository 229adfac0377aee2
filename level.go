package hnsw

import "math"

// sampleLevel draws l_new = floor(-ln(u) * m_L) for u ~ Uniform(0, 1).
// Higher levels are exponentially rarer. u == 0 is rejected by clamping
// to the smallest positive float64, since ln(0) is -Inf.
func (idx *Index[T]) sampleLevel() int {
	u := idx.cfg.RNG.Float64()
	if u <= 0 {
		u = math.SmallestNonzeroFloat64
	}
	return int(math.Floor(-math.Log(u) * idx.cfg.MLNorm))
}
