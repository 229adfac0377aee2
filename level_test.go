package hnsw

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nnidx/hnsw/rng"
)

func TestSampleLevelFloorFormula(t *testing.T) {
	idx, err := New[float64](2, 16, 50, euclideanSquared, rng.NewSeeded(1))
	require.NoError(t, err)

	for _, level := range []int{0, 1, 2, 3, 5} {
		idx.cfg.RNG = rng.NewScripted(uFor(level, idx.cfg.MLNorm))
		assert.Equal(t, level, idx.sampleLevel())
	}
}

// spec.md §8 scenario 5: level monotonicity. A controlled rng forces the
// level sequence [0, 0, 2, 1, 0]; L_current after each insert must equal
// [0, 0, 2, 2, 2] and EntryPoint must equal [id0, id0, id2, id2, id2].
func TestLevelMonotonicityAndEntryPointTracking(t *testing.T) {
	idx, err := New[float64](2, 16, 50, euclideanSquared, rng.NewSeeded(1))
	require.NoError(t, err)

	levels := []int{0, 0, 2, 1, 0}
	values := make([]float64, len(levels))
	for i, l := range levels {
		values[i] = uFor(l, idx.cfg.MLNorm)
	}
	idx.cfg.RNG = &sequentialSource{values: values}

	wantLevelCurrent := []int{0, 0, 2, 2, 2}

	var id0, id2 VectorID
	for i := range levels {
		id, err := idx.Insert([]float64{float64(i), float64(i)})
		require.NoError(t, err)

		switch i {
		case 0:
			id0 = id
		case 2:
			id2 = id
		}

		assert.Equal(t, wantLevelCurrent[i], idx.levelCurrent, "levelCurrent after insert %d", i)

		switch {
		case i < 2:
			assert.Equal(t, id0, idx.entryPoint, "entryPoint after insert %d", i)
		default:
			assert.Equal(t, id2, idx.entryPoint, "entryPoint after insert %d", i)
		}
	}
}

func TestDeterminismWithIdenticalSeedsAndSequence(t *testing.T) {
	buildAndSearch := func() []SearchResult[float64] {
		idx, err := New[float64](4, 8, 60, euclideanSquared, rng.NewSeeded(42))
		require.NoError(t, err)

		src := rng.NewSeeded(7)
		for i := 0; i < 200; i++ {
			v := []float64{src.Float64(), src.Float64(), src.Float64(), src.Float64()}
			_, err := idx.Insert(v)
			require.NoError(t, err)
		}

		results, err := idx.Search([]float64{0.5, 0.5, 0.5, 0.5}, 5, 60)
		require.NoError(t, err)
		return results
	}

	first := buildAndSearch()
	second := buildAndSearch()

	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].Vector, second[i].Vector)
		assert.Equal(t, first[i].Distance, second[i].Distance)
	}
}
