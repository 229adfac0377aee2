package hnsw

import "github.com/nnidx/hnsw/internal/search"

// Search returns up to k indexed vectors closest to query under δ,
// ascending by distance. It returns ErrEmptyIndex if the index holds no
// vectors. efSearch is the beam width used at the base layer; it is
// clamped up to max(efSearch, k) so a caller can never ask for more
// results than the beam could possibly hold.
func (idx *Index[T]) Search(query []T, k int, efSearch int) ([]SearchResult[T], error) {
	if len(query) != idx.cfg.Dimension {
		err := &ErrDimensionMismatch{Expected: idx.cfg.Dimension, Actual: len(query)}
		idx.cfg.Logger.LogSearch(k, 0, err)
		return nil, err
	}

	if !idx.hasEntryPoint {
		idx.cfg.Logger.LogSearch(k, 0, ErrEmptyIndex)
		return nil, ErrEmptyIndex
	}

	if efSearch < k {
		efSearch = k
	}

	distTo := idx.distanceToQuery(query)

	ep := idx.entryPoint
	epDist := distTo(ep)

	for level := idx.levelCurrent; level >= 1; level-- {
		ep, epDist = search.GreedyDescend(ep, epDist, distTo, idx.neighborsAt(level))
	}

	visited := idx.searchVisited.Get().(*search.Visited)
	defer idx.searchVisited.Put(visited)

	candidates := search.BeamSearch([]uint32{ep}, distTo, idx.neighborsAt(0), efSearch, visited)

	if k > len(candidates) {
		k = len(candidates)
	}

	results := make([]SearchResult[T], k)
	for i := 0; i < k; i++ {
		stored := idx.store.Get(candidates[i].ID)
		cp := make([]T, len(stored))
		copy(cp, stored)
		results[i] = SearchResult[T]{Vector: cp, Distance: candidates[i].Distance}
	}

	idx.cfg.Logger.LogSearch(k, len(results), nil)
	return results, nil
}
