package darena

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/darena/internal/mem"
	"github.com/hupe1980/darena/resource"
	"github.com/hupe1980/darena/testutil"
)

func newTestLinear(t *testing.T, chunkSize int, info Info, opts ...Option) *LinearArena {
	t.Helper()
	a, err := NewLinear(chunkSize, info, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func TestLinear_New(t *testing.T) {
	t.Run("default chunk size", func(t *testing.T) {
		a := newTestLinear(t, 0, DefaultInfo())
		assert.Equal(t, DefaultChunkSize, a.chunkSize)
		assert.Equal(t, mem.Alignment, a.alignment)
		assert.NotNil(t, a.current.Load())
	})

	t.Run("chunk size rounded to alignment", func(t *testing.T) {
		a := newTestLinear(t, 1000, DefaultInfo())
		assert.Equal(t, 1024, a.chunkSize)
		assert.Equal(t, uint64(1024), a.Stats().BytesReserved)
	})

	t.Run("invalid info", func(t *testing.T) {
		_, err := NewLinear(4096, Info{Alignment: 3})
		assert.ErrorIs(t, err, ErrInvalidConfig)
	})
}

func TestLinear_Alloc(t *testing.T) {
	a := newTestLinear(t, 4096, DefaultInfo())

	for _, n := range []int{1, 3, 5, 7, 9, 15, 17, 100} {
		p, err := a.Alloc(n)
		require.NoError(t, err)
		assert.True(t, mem.IsAligned(p, mem.Alignment), "size=%d", n)
	}

	p, err := a.Alloc(0)
	require.NoError(t, err)
	assert.Nil(t, p)

	_, err = a.Alloc(-1)
	assert.ErrorIs(t, err, ErrInvalidSize)

	s := a.Stats()
	assert.Equal(t, uint64(8), s.TotalAllocs)
	assert.Equal(t, uint64(1+3+5+7+9+15+17+100), s.BytesUsed)
	assert.Equal(t, uint64(7*64+128)-s.BytesUsed, s.BytesWasted)
}

func TestLinear_Sequential(t *testing.T) {
	a := newTestLinear(t, 4096, DefaultInfo())

	p1, err := a.Alloc(64)
	require.NoError(t, err)
	p2, err := a.Alloc(64)
	require.NoError(t, err)
	assert.Equal(t, unsafe.Add(p1, 64), p2)
}

func TestLinear_ChunkRollover(t *testing.T) {
	a := newTestLinear(t, 1024, DefaultInfo())

	for i := 0; i < 20; i++ {
		_, err := a.Alloc(200) // 256 aligned, four per chunk
		require.NoError(t, err)
	}
	s := a.Stats()
	assert.Equal(t, uint64(5), s.ActiveChunks)
	assert.Equal(t, uint64(5*1024), s.BytesReserved)
	assert.InDelta(t, 200.0/256*100, a.Usage(), 0.01)
}

func TestLinear_Dedicated(t *testing.T) {
	a := newTestLinear(t, 1024, DefaultInfo())

	p, err := a.Alloc(10 * 1024)
	require.NoError(t, err)
	b := unsafe.Slice((*byte)(p), 10*1024)
	b[len(b)-1] = 1

	s := a.Stats()
	assert.Equal(t, uint64(2), s.ActiveChunks)
	assert.Equal(t, uint64(1024+10*1024), s.BytesReserved)

	// The regular chunk is still current.
	q, err := a.Alloc(8)
	require.NoError(t, err)
	assert.Equal(t, unsafe.Pointer(&a.chunks[0].data[0]), q)
}

func TestLinear_ResetAndClose(t *testing.T) {
	rc := resource.NewController(resource.Config{MemoryLimitBytes: 64 * kib})
	a, err := NewLinear(4096, DefaultInfo(), WithResourceController(rc))
	require.NoError(t, err)

	first, err := a.Alloc(16)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		_, err := a.Alloc(1024)
		require.NoError(t, err)
	}
	assert.Equal(t, int64(3*4096), rc.MemoryUsage())

	require.NoError(t, a.Reset())
	assert.Equal(t, int64(4096), rc.MemoryUsage())
	s := a.Stats()
	assert.Equal(t, uint64(1), s.ActiveChunks)
	assert.Equal(t, uint64(3), s.ChunksAllocated)
	assert.Equal(t, uint64(0), s.BytesUsed)

	again, err := a.Alloc(16)
	require.NoError(t, err)
	assert.Equal(t, first, again, "reset reuses the first chunk")

	require.NoError(t, a.Close())
	require.NoError(t, a.Close())
	assert.Equal(t, int64(0), rc.MemoryUsage())

	_, err = a.Alloc(16)
	assert.ErrorIs(t, err, ErrClosed)
	_, err = a.Alloc(1 << 20)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, a.Reset(), ErrClosed)
}

func TestLinear_BudgetExhausted(t *testing.T) {
	rc := resource.NewController(resource.Config{MemoryLimitBytes: 8192})
	a := newTestLinear(t, 4096, DefaultInfo(), WithResourceController(rc))

	_, err := a.Alloc(4096)
	require.NoError(t, err)
	_, err = a.Alloc(4096)
	require.NoError(t, err)

	_, err = a.Alloc(1)
	assert.ErrorIs(t, err, ErrBackingExhausted)
	_, err = a.Alloc(64 * kib)
	assert.ErrorIs(t, err, ErrBackingExhausted)
}

func TestLinear_Mmap(t *testing.T) {
	a := newTestLinear(t, 64*kib, Info{Backing: BackingMmap})

	s, err := AllocSlice[uint32](a, 1000)
	require.NoError(t, err)
	for i := range s {
		s[i] = uint32(i)
	}
	assert.Equal(t, uint32(999), s[999])
	FreeSlice(a, s) // no-op

	b, err := a.AllocBytes(10)
	require.NoError(t, err)
	assert.Len(t, b, 10)
}

func TestLinear_Concurrent(t *testing.T) {
	a := newTestLinear(t, 16*kib, DefaultInfo())
	rc := testutil.NewRangeChecker()

	var g errgroup.Group
	for w := 0; w < 8; w++ {
		rng := testutil.NewRNG(int64(100 + w))
		g.Go(func() error {
			for i := 0; i < 500; i++ {
				n := rng.LogUniformSize(1, 20*kib)
				p, err := a.Alloc(n)
				if err != nil {
					return err
				}
				if err := rc.Add(uintptr(p), n); err != nil {
					return err
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, 4000, rc.Total())
	assert.Equal(t, uint64(4000), a.Stats().TotalAllocs)
}

func TestLinear_String(t *testing.T) {
	a := newTestLinear(t, 1024*1024, DefaultInfo())
	assert.Equal(t,
		"LinearArena{chunks: 1, reserved: 1.00 MB, used: 0.00 MB, wasted: 0.00 KB, usage: 0.0%, allocs: 0}",
		a.String())
}
