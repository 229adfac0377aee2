package hnsw

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nnidx/hnsw/rng"
)

func TestStatsReportsPerLevelConnectivity(t *testing.T) {
	idx, err := New[float64](4, 6, 40, euclideanSquared, rng.NewSeeded(3))
	require.NoError(t, err)

	src := rng.NewSeeded(21)
	for i := 0; i < 60; i++ {
		v := []float64{src.Float64(), src.Float64(), src.Float64(), src.Float64()}
		_, err := idx.Insert(v)
		require.NoError(t, err)
	}

	stats := idx.Stats()
	assert.Equal(t, 60, stats.TotalVectors)
	assert.True(t, stats.HasEntryPoint)
	require.NotEmpty(t, stats.Levels)
	assert.Equal(t, 60, stats.Levels[0].Nodes, "base layer holds every vector")

	for i := 1; i < len(stats.Levels); i++ {
		assert.LessOrEqual(t, stats.Levels[i].Nodes, stats.Levels[i-1].Nodes, "presence monotonicity in stats")
	}
}

func TestStatsOnEmptyIndex(t *testing.T) {
	idx, err := New[float64](3, 8, 40, euclideanSquared, rng.NewSeeded(1))
	require.NoError(t, err)

	stats := idx.Stats()
	assert.Equal(t, 0, stats.TotalVectors)
	assert.False(t, stats.HasEntryPoint)
	assert.Empty(t, stats.Levels)
}
