package testutil

import (
	"math"
	"math/rand"
	"sync"
)

// RNG struct encapsulates the random number generator and seed.
// It is thread-safe.
type RNG struct {
	rand *rand.Rand
	seed int64
	mu   sync.Mutex
}

// NewRNG creates a new RNG instance with the specified seed.
func NewRNG(seed int64) *RNG {
	return &RNG{
		rand: rand.New(rand.NewSource(seed)),
		seed: seed,
	}
}

// Reset resets the RNG to its initial seed.
func (r *RNG) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rand.Seed(r.seed)
}

// Seed returns the initial seed.
func (r *RNG) Seed() int64 {
	return r.seed
}

// Intn returns a non-negative pseudo-random number in [0,n).
func (r *RNG) Intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Intn(n)
}

// Float64 returns a pseudo-random number in [0.0,1.0).
func (r *RNG) Float64() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Float64()
}

// LogUniformSize returns a size in [minSize, maxSize] whose logarithm is
// uniformly distributed, so every power-of-two band is equally likely.
func (r *RNG) LogUniformSize(minSize, maxSize int) int {
	if minSize < 1 {
		minSize = 1
	}
	if maxSize <= minSize {
		return minSize
	}
	lo, hi := math.Log(float64(minSize)), math.Log(float64(maxSize)+1)
	n := int(math.Exp(lo + r.Float64()*(hi-lo)))
	return min(max(n, minSize), maxSize)
}

// Zipf returns an index in [0, n) with a Zipfian distribution of exponent s.
func (r *RNG) Zipf(n int, s float64) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.zipfLocked(n, s)
}

// zipfLocked is the internal implementation (caller must hold lock).
func (r *RNG) zipfLocked(n int, s float64) int {
	// Rejection-free inverse transform over the harmonic weights.
	if n <= 1 {
		return 0
	}

	var hns float64
	for i := 1; i <= n; i++ {
		hns += 1.0 / math.Pow(float64(i), s)
	}

	u := r.rand.Float64() * hns
	var cumulative float64
	for k := 1; k <= n; k++ {
		cumulative += 1.0 / math.Pow(float64(k), s)
		if u <= cumulative {
			return k - 1 // 0-indexed
		}
	}

	return n - 1
}

// ZipfSize picks one of sizes, favoring the first entries.
func (r *RNG) ZipfSize(sizes []int, s float64) int {
	return sizes[r.Zipf(len(sizes), s)]
}

// Sizes returns n log-uniform sizes in [minSize, maxSize].
func (r *RNG) Sizes(n, minSize, maxSize int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = r.LogUniformSize(minSize, maxSize)
	}
	return out
}
