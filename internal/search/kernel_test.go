package search

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// a tiny fixed graph: a line 0-1-2-3-4, distances to query increase
// toward node 0 and decrease toward node 4 (query "near" node 4).
func lineGraph() (NeighborFunc, func(target float64) DistanceFunc) {
	adj := map[uint32][]uint32{
		0: {1},
		1: {0, 2},
		2: {1, 3},
		3: {2, 4},
		4: {3},
	}
	neighbors := func(id uint32) []uint32 { return adj[id] }
	distTo := func(target float64) DistanceFunc {
		return func(id uint32) float64 {
			return math.Abs(target - float64(id))
		}
	}
	return neighbors, distTo
}

func TestGreedyDescendFindsLocalMinimum(t *testing.T) {
	neighbors, distTo := lineGraph()
	d := distTo(4) // query coincides with node 4

	got, dist := GreedyDescend(0, d(0), d, neighbors)
	assert.Equal(t, uint32(4), got)
	assert.Equal(t, float64(0), dist)
}

func TestGreedyDescendStopsAtLocalOptimum(t *testing.T) {
	neighbors, distTo := lineGraph()
	d := distTo(2) // query coincides with node 2, start already there

	got, dist := GreedyDescend(2, d(2), d, neighbors)
	assert.Equal(t, uint32(2), got)
	assert.Equal(t, float64(0), dist)
}

func TestBeamSearchReturnsAscendingByDistance(t *testing.T) {
	neighbors, distTo := lineGraph()
	d := distTo(4)

	visited := NewVisited()
	results := BeamSearch([]uint32{0}, d, neighbors, 3, visited)

	require.Len(t, results, 3)
	assert.Equal(t, []uint32{4, 3, 2}, []uint32{results[0].ID, results[1].ID, results[2].ID})
	for i := 1; i < len(results); i++ {
		assert.LessOrEqual(t, results[i-1].Distance, results[i].Distance)
	}
}

func TestBeamSearchRespectsEFBound(t *testing.T) {
	neighbors, distTo := lineGraph()
	d := distTo(4)

	visited := NewVisited()
	results := BeamSearch([]uint32{0}, d, neighbors, 2, visited)
	assert.Len(t, results, 2)
}

func TestBeamSearchIsReusableAcrossCalls(t *testing.T) {
	neighbors, distTo := lineGraph()
	visited := NewVisited()

	first := BeamSearch([]uint32{0}, distTo(4), neighbors, 5, visited)
	second := BeamSearch([]uint32{4}, distTo(0), neighbors, 5, visited)

	assert.Len(t, first, 5)
	assert.Len(t, second, 5)
	assert.Equal(t, uint32(0), second[0].ID)
}

func TestBeamSearchTieBreaksOnID(t *testing.T) {
	// Two entry points equidistant from the query; node with lower id
	// must sort first.
	neighbors := func(id uint32) []uint32 { return nil }
	distTo := func(id uint32) float64 { return 1.0 }

	visited := NewVisited()
	results := BeamSearch([]uint32{7, 3}, distTo, neighbors, 5, visited)

	require.Len(t, results, 2)
	assert.Equal(t, uint32(3), results[0].ID)
	assert.Equal(t, uint32(7), results[1].ID)
}
