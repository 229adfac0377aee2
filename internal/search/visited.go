// Package search implements the two layer-graph search primitives the
// HNSW controller composes: a single-best-neighbor greedy descend for
// the upper layers, and a bounded beam search for the insertion layer
// and base-layer queries.
package search

import "github.com/bits-and-blooms/bitset"

// Visited is a reusable marker set for ids already enqueued during one
// beam search. It is built on a single long-lived bitset.BitSet (the
// same library the teacher's hnsw.searchLayer allocates fresh per call)
// cleared between calls instead of reallocated, so repeated searches
// amortize the cost of growing the underlying word slice.
type Visited struct {
	bs *bitset.BitSet
}

// NewVisited creates an empty Visited set.
func NewVisited() *Visited {
	return &Visited{bs: bitset.New(0)}
}

// Reset clears every mark, ready for the next search. This is O(words),
// not O(1), but it never allocates unless the bitset must grow to cover
// an id that wasn't present in any prior search.
func (v *Visited) Reset() {
	v.bs.ClearAll()
}

// MarkIfUnvisited marks id as visited and returns true if it was not
// already marked; returns false if id was already visited, leaving the
// set unchanged.
func (v *Visited) MarkIfUnvisited(id uint32) bool {
	if v.bs.Test(uint(id)) {
		return false
	}
	v.bs.Set(uint(id))
	return true
}
