package hnsw

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nnidx/hnsw/rng"
)

// Concurrent Search calls against a frozen (no longer inserting) index
// must not race on shared visited-set state; each call draws its own
// *search.Visited from the index's pool. Run with -race to catch a
// regression back to a single shared Visited.
func TestConcurrentSearchDoesNotRace(t *testing.T) {
	idx, err := New[float64](4, 8, 60, euclideanSquared, rng.NewSeeded(5))
	require.NoError(t, err)

	src := rng.NewSeeded(31)
	for i := 0; i < 200; i++ {
		v := []float64{src.Float64(), src.Float64(), src.Float64(), src.Float64()}
		_, err := idx.Insert(v)
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	errs := make([]error, 32)
	counts := make([]int, 32)

	for w := 0; w < 32; w++ {
		w := w
		wg.Add(1)
		go func() {
			defer wg.Done()
			q := []float64{float64(w%7) / 7, 0.3, 0.6, 0.1}
			results, err := idx.Search(q, 5, 60)
			errs[w] = err
			counts[w] = len(results)
		}()
	}
	wg.Wait()

	for w := 0; w < 32; w++ {
		require.NoError(t, errs[w])
		assert.Equal(t, 5, counts[w])
	}
}
