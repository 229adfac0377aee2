// Package rng supplies ready-made hnsw.Source implementations. The core
// never imports this package; callers pass a Source to hnsw.New to
// control level-sampling determinism, per spec.md's "rng is a supplied
// collaborator" contract.
package rng

import "math/rand"

// Source wraps math/rand.Rand, grounded on the teacher's
// testutil.RNG — trimmed to the single Float64 method the core's
// Source interface requires, and dropping testutil.RNG's mutex since
// the core that consumes it is single-threaded and never calls a
// Source concurrently.
type Source struct {
	rnd *rand.Rand
}

// New wraps an existing *rand.Rand as a Source.
func New(rnd *rand.Rand) *Source {
	return &Source{rnd: rnd}
}

// NewSeeded creates a Source seeded deterministically, for tests and
// benchmarks that need a reproducible insertion sequence.
func NewSeeded(seed int64) *Source {
	return &Source{rnd: rand.New(rand.NewSource(seed))}
}

// Float64 returns a pseudo-random number in [0, 1), satisfying the
// core's Source interface.
func (s *Source) Float64() float64 {
	return s.rnd.Float64()
}

// Scripted is a test double that replays a fixed sequence of Float64
// values, then repeats its last value forever. It lets a test force an
// exact level-sampling sequence (spec.md §8 scenario 5) without
// reverse-engineering math/rand's internal stream.
type Scripted struct {
	values []float64
	next   int
}

// NewScripted creates a Scripted source replaying values in order.
func NewScripted(values ...float64) *Scripted {
	return &Scripted{values: values}
}

// Float64 returns the next scripted value, or the last one if the
// script has been exhausted.
func (s *Scripted) Float64() float64 {
	if s.next >= len(s.values) {
		return s.values[len(s.values)-1]
	}
	v := s.values[s.next]
	s.next++
	return v
}
