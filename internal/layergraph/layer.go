// Package layergraph implements one level of the HNSW hierarchy: a
// mapping from node id to its ordered neighbor list at that level.
// Membership in the mapping means the node is present at this layer.
package layergraph

import (
	"fmt"

	"github.com/RoaringBitmap/roaring/v2"
)

// Layer holds the adjacency lists for every node present at one level of
// the hierarchy, plus a compact presence index for O(1) membership
// checks and fast member iteration.
type Layer struct {
	maxDegree int
	members   *roaring.Bitmap
	neighbors map[uint32][]uint32
}

// New creates an empty Layer whose SetNeighbors rejects any list longer
// than maxDegree (M_max0 at the base layer, M_max above it, per
// spec.md §3's degree-cap invariant — the controller passes whichever
// cap applies to the level this Layer represents).
func New(maxDegree int) *Layer {
	return &Layer{
		maxDegree: maxDegree,
		members:   roaring.New(),
		neighbors: make(map[uint32][]uint32),
	}
}

// InsertNode registers id with an empty neighbor list. Re-inserting an
// already-present id is a programming error and panics; the controller
// must never do this.
func (l *Layer) InsertNode(id uint32) {
	if l.members.Contains(id) {
		panic(fmt.Sprintf("layergraph: node %d already present", id))
	}

	l.members.Add(id)
	l.neighbors[id] = nil
}

// SetNeighbors replaces the neighbor list of id. ids must satisfy the
// layer's degree cap and the no-self-loop, no-duplicate invariants;
// violations panic rather than silently corrupting the graph, since they
// indicate a controller bug.
func (l *Layer) SetNeighbors(id uint32, ids []uint32) {
	if !l.members.Contains(id) {
		panic(fmt.Sprintf("layergraph: set neighbors of absent node %d", id))
	}

	if len(ids) > l.maxDegree {
		panic(fmt.Sprintf("layergraph: %d neighbors exceeds degree cap %d for node %d", len(ids), l.maxDegree, id))
	}

	seen := make(map[uint32]struct{}, len(ids))
	for _, n := range ids {
		if n == id {
			panic(fmt.Sprintf("layergraph: self-loop on node %d", id))
		}
		if _, dup := seen[n]; dup {
			panic(fmt.Sprintf("layergraph: duplicate neighbor %d for node %d", n, id))
		}
		seen[n] = struct{}{}
	}

	cp := make([]uint32, len(ids))
	copy(cp, ids)
	l.neighbors[id] = cp
}

// Neighbors returns the current neighbor list of id. The returned slice
// must not be mutated by the caller.
func (l *Layer) Neighbors(id uint32) []uint32 {
	return l.neighbors[id]
}

// Contains reports whether id is present at this layer.
func (l *Layer) Contains(id uint32) bool {
	return l.members.Contains(id)
}

// Len returns the number of nodes present at this layer.
func (l *Layer) Len() int {
	return int(l.members.GetCardinality())
}

// Members returns every id present at this layer, in ascending order.
func (l *Layer) Members() []uint32 {
	return l.members.ToArray()
}
