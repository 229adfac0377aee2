package hnsw

import (
	"sync"

	"github.com/nnidx/hnsw/internal/layergraph"
	"github.com/nnidx/hnsw/internal/search"
	"github.com/nnidx/hnsw/internal/vectorstore"
)

// Index is the top-level HNSW controller: it owns the vector store, the
// stack of per-level layer graphs, the current entry point, and the
// configuration every Insert/Search call honors.
//
// Index is not safe for concurrent use with Insert or Clear: every
// exported method must run to completion before another begins, because
// none of them take a lock — a caller needing concurrent mutation must
// serialize calls externally. Search is the one exception: once no
// further Insert/Clear will run, concurrent Search calls are safe,
// because each call draws its own *search.Visited from searchVisited
// instead of touching any state shared with another in-flight Search.
type Index[T Numeric] struct {
	cfg Config[T]

	store  *vectorstore.Store[T]
	layers []*layergraph.Layer

	entryPoint    VectorID
	hasEntryPoint bool
	levelCurrent  int // highest populated layer index; -1 when empty

	// insertVisited is reused sequentially across Insert's own per-layer
	// searches; Insert never runs concurrently with itself, so a single
	// long-lived instance is safe here per spec.md §9's reuse note.
	insertVisited *search.Visited

	// searchVisited pools *search.Visited instances for Search, so that
	// concurrent Search calls (safe once the graph is frozen, per the
	// type doc above) never share one Visited's Reset/mark state.
	searchVisited *sync.Pool
}

// New constructs an Index for vectors of the given dimension, using m as
// the target per-layer connectivity, efConstruction as the insertion
// beam width, distance as δ, and rng as the level-sampling source.
// Additional Config fields (MMax, MMax0, MLNorm, neighbor-selection
// strategy, logging) can be overridden via opts.
func New[T Numeric](dimension, m, efConstruction int, distance DistanceFunc[T], rng Source, opts ...Option[T]) (*Index[T], error) {
	cfg := defaultConfig(dimension, m, efConstruction, distance, rng)
	for _, opt := range opts {
		opt(&cfg)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &Index[T]{
		cfg:           cfg,
		store:         vectorstore.New[T](dimension),
		levelCurrent:  -1,
		insertVisited: search.NewVisited(),
		searchVisited: &sync.Pool{
			New: func() any { return search.NewVisited() },
		},
	}, nil
}

// Len returns the number of vectors currently indexed.
func (idx *Index[T]) Len() int {
	return idx.store.Len()
}

// Clear drops the entire layer hierarchy and vector store, releasing
// their backing capacity. EntryPoint becomes undefined and the next
// Insert starts a fresh graph from id 0.
func (idx *Index[T]) Clear() {
	previousLen := idx.store.Len()

	idx.store.Clear()
	idx.layers = nil
	idx.hasEntryPoint = false
	idx.levelCurrent = -1
	idx.entryPoint = 0

	idx.cfg.Logger.LogClear(previousLen)
}

// capForLevel returns the degree cap in effect at level.
func (idx *Index[T]) capForLevel(level int) int {
	if level == 0 {
		return idx.cfg.MMax0
	}
	return idx.cfg.MMax
}

// distanceBetween computes δ between two stored vectors by id.
func (idx *Index[T]) distanceBetween(a, b VectorID) float64 {
	return idx.cfg.Distance(idx.store.Get(a), idx.store.Get(b))
}

// ensureLevels grows the layer stack so that layers 0..level all exist,
// each constructed with the degree cap that applies at its own level.
func (idx *Index[T]) ensureLevels(level int) {
	for len(idx.layers) <= level {
		newLevel := len(idx.layers)
		idx.layers = append(idx.layers, layergraph.New(idx.capForLevel(newLevel)))
	}
}
