package rng

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSeededIsDeterministic(t *testing.T) {
	a := NewSeeded(42)
	b := NewSeeded(42)

	for i := 0; i < 10; i++ {
		assert.Equal(t, a.Float64(), b.Float64())
	}
}

func TestNewWrapsExistingRand(t *testing.T) {
	s := New(rand.New(rand.NewSource(1)))
	v := s.Float64()
	assert.GreaterOrEqual(t, v, 0.0)
	assert.Less(t, v, 1.0)
}

func TestScriptedReplaysThenRepeatsLast(t *testing.T) {
	s := NewScripted(0.1, 0.2, 0.3)
	assert.Equal(t, 0.1, s.Float64())
	assert.Equal(t, 0.2, s.Float64())
	assert.Equal(t, 0.3, s.Float64())
	assert.Equal(t, 0.3, s.Float64())
	assert.Equal(t, 0.3, s.Float64())
}
