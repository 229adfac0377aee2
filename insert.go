package hnsw

import (
	"iter"
	"sort"

	"github.com/nnidx/hnsw/internal/search"
)

// Insert appends v to the index and returns its assigned id.
//
// Insert is not transactional: if it fails partway (only possible via a
// dimension mismatch, detected before any graph mutation, or a host
// allocator failure), the invariants of spec.md §3 hold for every vector
// already fully inserted, but v itself may be left in the vector store
// without being fully connected. This is a deliberate, documented design
// choice (spec.md §4.4.5), not a bug: the core never needs a checkpoint
// because the only failure path that matters (dimension mismatch) is
// checked before the vector store is touched.
func (idx *Index[T]) Insert(v []T) (VectorID, error) {
	if len(v) != idx.cfg.Dimension {
		err := &ErrDimensionMismatch{Expected: idx.cfg.Dimension, Actual: len(v)}
		idx.cfg.Logger.LogInsert(0, 0, err)
		return 0, err
	}

	id, err := idx.store.Push(v)
	if err != nil {
		wrapped := &ErrDimensionMismatch{Expected: idx.cfg.Dimension, Actual: len(v), cause: err}
		idx.cfg.Logger.LogInsert(0, 0, wrapped)
		return 0, wrapped
	}

	levelNew := idx.sampleLevel()
	distTo := idx.distanceToQuery(v)

	if !idx.hasEntryPoint {
		idx.ensureLevels(levelNew)
		for l := 0; l <= levelNew; l++ {
			idx.layers[l].InsertNode(id)
		}
		idx.entryPoint = id
		idx.hasEntryPoint = true
		idx.levelCurrent = levelNew

		idx.cfg.Logger.LogInsert(id, levelNew, nil)
		return id, nil
	}

	ep := idx.entryPoint
	epDist := distTo(ep)

	// Descend the layers strictly above this node's own top layer,
	// shortening the path to its eventual entry point without touching
	// the graph.
	for level := idx.levelCurrent; level > levelNew; level-- {
		ep, epDist = search.GreedyDescend(ep, epDist, distTo, idx.neighborsAt(level))
	}

	previousTop := idx.levelCurrent
	top := min(previousTop, levelNew)

	for level := top; level >= 0; level-- {
		w := search.BeamSearch([]uint32{ep}, distTo, idx.neighborsAt(level), idx.cfg.EFConstruction, idx.insertVisited)

		selected := idx.selectNeighbors(w, idx.cfg.M)

		idx.layers[level].InsertNode(id)
		idx.layers[level].SetNeighbors(id, idsOf(selected))

		maxDegree := idx.capForLevel(level)
		for _, n := range selected {
			idx.connect(level, n.ID, id, maxDegree)
		}

		if len(w) > 0 {
			ep = w[0].ID
			epDist = w[0].Distance
		}
	}
	_ = epDist // last descent distance isn't needed past this point

	if levelNew > previousTop {
		idx.ensureLevels(levelNew)
		for l := previousTop + 1; l <= levelNew; l++ {
			idx.layers[l].InsertNode(id)
		}
		idx.levelCurrent = levelNew
		idx.entryPoint = id
	}

	idx.cfg.Logger.LogInsert(id, levelNew, nil)
	return id, nil
}

// InsertBatch inserts every vector produced by seq, in order, semantically
// equivalent to calling Insert in a loop. It stops at the first error
// (there is no per-element failure mode beyond a dimension mismatch,
// since δ is infallible by contract) and returns the count successfully
// inserted before that point.
func (idx *Index[T]) InsertBatch(seq iter.Seq[[]T]) (int, error) {
	n := 0
	for v := range seq {
		if _, err := idx.Insert(v); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// distanceToQuery returns a search.DistanceFunc computing δ(q, store[id]).
func (idx *Index[T]) distanceToQuery(q []T) search.DistanceFunc {
	return func(id uint32) float64 {
		return idx.cfg.Distance(q, idx.store.Get(id))
	}
}

// neighborsAt returns a search.NeighborFunc reading layer's adjacency.
func (idx *Index[T]) neighborsAt(level int) search.NeighborFunc {
	layer := idx.layers[level]
	return func(id uint32) []uint32 {
		return layer.Neighbors(id)
	}
}

// selectNeighbors picks up to m candidates from w (already sorted
// ascending by distance), using either the simple closest-M rule or the
// diversity-preferring heuristic, per Config.Heuristic.
func (idx *Index[T]) selectNeighbors(w []search.Candidate, m int) []search.Candidate {
	if len(w) <= m {
		return w
	}
	if !idx.cfg.Heuristic {
		return w[:m]
	}
	return idx.selectNeighborsHeuristic(w, m)
}

// selectNeighborsHeuristic implements the paper's diversity-preferring
// selection: a candidate is kept only if it is closer to the query than
// it is to every candidate already selected, which favors spreading
// connections across distinct directions instead of clustering them
// around the single closest candidate. If fewer than m candidates pass
// that test, the remaining closest candidates fill out the quota.
func (idx *Index[T]) selectNeighborsHeuristic(candidates []search.Candidate, m int) []search.Candidate {
	selected := make([]search.Candidate, 0, m)

	for _, cand := range candidates {
		if len(selected) >= m {
			break
		}
		diverse := true
		for _, sel := range selected {
			if idx.distanceBetween(sel.ID, cand.ID) < cand.Distance {
				diverse = false
				break
			}
		}
		if diverse {
			selected = append(selected, cand)
		}
	}

	if len(selected) < m {
		have := make(map[uint32]struct{}, len(selected))
		for _, s := range selected {
			have[s.ID] = struct{}{}
		}
		for _, cand := range candidates {
			if len(selected) >= m {
				break
			}
			if _, ok := have[cand.ID]; ok {
				continue
			}
			selected = append(selected, cand)
		}
	}

	return selected
}

// connect adds x to n's neighbor list at level, pruning n's list back
// down to maxDegree (by distance from n, using the same selection
// strategy as fresh-node insertion) if the addition pushed it over cap.
func (idx *Index[T]) connect(level int, n, x VectorID, maxDegree int) {
	current := idx.layers[level].Neighbors(n)

	merged := make([]uint32, len(current), len(current)+1)
	copy(merged, current)
	merged = append(merged, x)

	if len(merged) <= maxDegree {
		idx.layers[level].SetNeighbors(n, merged)
		return
	}

	candidates := make([]search.Candidate, len(merged))
	for i, id := range merged {
		candidates[i] = search.Candidate{ID: id, Distance: idx.distanceBetween(n, id)}
	}
	sort.Slice(candidates, func(i, j int) bool { return search.Less(candidates[i], candidates[j]) })

	pruned := idx.selectNeighbors(candidates, maxDegree)
	idx.layers[level].SetNeighbors(n, idsOf(pruned))
}

func idsOf(cs []search.Candidate) []uint32 {
	ids := make([]uint32, len(cs))
	for i, c := range cs {
		ids[i] = c.ID
	}
	return ids
}
