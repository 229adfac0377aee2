package search

import (
	"container/heap"
	"sort"

	"github.com/nnidx/hnsw/internal/queue"
)

// Candidate is a search result before it is resolved back to a stored
// vector: a node id and its distance to the query that produced it.
type Candidate struct {
	ID       uint32
	Distance float64
}

// Less reports whether a sorts strictly before b under the HNSW stable
// total order (ascending distance, ties broken by ascending id).
func Less(a, b Candidate) bool {
	return queue.Compare(
		queue.Item{ID: a.ID, Distance: a.Distance},
		queue.Item{ID: b.ID, Distance: b.Distance},
	) < 0
}

// DistanceFunc computes the distance from the fixed query of the current
// search to the vector stored under id.
type DistanceFunc func(id uint32) float64

// NeighborFunc returns the neighbor list of id at the layer currently
// being searched.
type NeighborFunc func(id uint32) []uint32

// GreedyDescend walks from start toward the single neighbor (including
// the current node itself) that minimizes distance to the query, until
// no neighbor improves on the current node. startDist must already equal
// distTo(start), letting callers reuse a distance computed one layer up.
// Ties break on the lower id, matching the queue's stable total order.
func GreedyDescend(start uint32, startDist float64, distTo DistanceFunc, neighbors NeighborFunc) (uint32, float64) {
	current := start
	currentDist := startDist

	for {
		best := current
		bestDist := currentDist

		for _, n := range neighbors(current) {
			d := distTo(n)
			if d < bestDist || (d == bestDist && n < best) {
				best = n
				bestDist = d
			}
		}

		if best == current {
			return current, currentDist
		}

		current = best
		currentDist = bestDist
	}
}

// BeamSearch maintains a candidate frontier and a bounded (size ef)
// result set, expanding the frontier through neighbors at the layer
// addressed by distTo/neighbors, until no unexpanded candidate can still
// improve the result set. It returns up to ef candidates in ascending
// distance order. visited is reset at the start of the call and left
// holding every id that was enqueued during it.
//
// entries seeds both the candidate frontier and the result set; it must
// be non-empty. visited is mutated in place (Reset, then repeated
// MarkIfUnvisited calls) over the whole call; passing the same Visited
// into two concurrently running BeamSearch calls races, since one
// call's Reset can wipe another's in-flight marks.
func BeamSearch(entries []uint32, distTo DistanceFunc, neighbors NeighborFunc, ef int, visited *Visited) []Candidate {
	visited.Reset()

	candidates := &queue.Queue{Max: false}
	results := &queue.Queue{Max: true}
	heap.Init(candidates)
	heap.Init(results)

	for _, id := range entries {
		if !visited.MarkIfUnvisited(id) {
			continue
		}
		item := queue.Item{ID: id, Distance: distTo(id)}
		heap.Push(candidates, item)
		heap.Push(results, item)
	}

	for candidates.Len() > 0 {
		c := heap.Pop(candidates).(queue.Item)

		if results.Len() >= ef {
			f := results.Top()
			if queue.Compare(c, f) > 0 {
				break
			}
		}

		for _, n := range neighbors(c.ID) {
			if !visited.MarkIfUnvisited(n) {
				continue
			}

			d := distTo(n)
			item := queue.Item{ID: n, Distance: d}

			if results.Len() < ef {
				heap.Push(candidates, item)
				heap.Push(results, item)
				continue
			}

			f := results.Top()
			if queue.Compare(item, f) < 0 {
				heap.Push(candidates, item)
				heap.Push(results, item)
				heap.Pop(results)
			}
		}
	}

	out := make([]Candidate, len(results.Items))
	for i, item := range results.Items {
		out[i] = Candidate{ID: item.ID, Distance: item.Distance}
	}
	sort.Slice(out, func(i, j int) bool { return Less(out[i], out[j]) })

	return out
}
