package testutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogUniformSize(t *testing.T) {
	rng := NewRNG(4711)

	small, large := 0, 0
	for i := 0; i < 2000; i++ {
		n := rng.LogUniformSize(1, 1<<20)
		require.GreaterOrEqual(t, n, 1)
		require.LessOrEqual(t, n, 1<<20)
		if n < 1<<10 {
			small++
		} else {
			large++
		}
	}
	// Half the log range lies below 1 KiB.
	assert.InDelta(t, 0.5, float64(small)/2000, 0.1)
	assert.Positive(t, large)

	assert.Equal(t, 8, rng.LogUniformSize(8, 8))
	assert.Equal(t, 1, rng.LogUniformSize(0, 0))
}

func TestZipfSize(t *testing.T) {
	rng := NewRNG(42)
	sizes := []int{64, 512, 4096, 65536}

	counts := map[int]int{}
	for i := 0; i < 5000; i++ {
		counts[rng.ZipfSize(sizes, 1.5)]++
	}
	assert.Greater(t, counts[64], counts[512])
	assert.Greater(t, counts[512], counts[65536])
}

func TestReset(t *testing.T) {
	rng := NewRNG(4711)
	v1 := rng.Sizes(10, 1, 1<<16)

	rng.Reset()
	v2 := rng.Sizes(10, 1, 1<<16)

	assert.Equal(t, v1, v2)
	assert.Equal(t, int64(4711), rng.Seed())
}

func TestRangeChecker(t *testing.T) {
	c := NewRangeChecker()

	require.NoError(t, c.Add(100, 50))
	require.NoError(t, c.Add(200, 10))
	require.NoError(t, c.Add(150, 50)) // touches both neighbours, overlaps neither

	assert.Error(t, c.Add(149, 2))
	assert.Error(t, c.Add(205, 100))
	assert.Error(t, c.Add(50, 51))
	assert.Error(t, c.Add(0, 0))
	assert.Equal(t, 3, c.Live())

	assert.True(t, c.Remove(150))
	assert.False(t, c.Remove(150))
	require.NoError(t, c.Add(160, 20))

	assert.Equal(t, 3, c.Live())
	assert.Equal(t, 3, c.Peak())
	assert.Equal(t, 4, c.Total())
}
