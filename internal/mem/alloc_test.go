package mem

import (
	"fmt"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
)

func TestAllocAlignedTo(t *testing.T) {
	for _, align := range []int{1, 8, 16, 512, 4096} {
		for _, size := range []int{1, 7, 100, 4097} {
			buf := AllocAlignedTo(size, align)
			assert.Len(t, buf, size)
			assert.True(t, IsAligned(unsafe.Pointer(&buf[0]), align), "size=%d align=%d", size, align)
		}
	}

	// Non-positive alignment falls back to the default
	buf := AllocAlignedTo(10, 0)
	assert.True(t, IsAligned(unsafe.Pointer(&buf[0]), Alignment))

	assert.Nil(t, AllocAlignedTo(0, Alignment))
	assert.Nil(t, AllocAlignedTo(-1, Alignment))
	assert.Equal(t, 100, cap(AllocAlignedTo(100, Alignment)))

	assert.Panics(t, func() { AllocAlignedTo(10, 24) })
}

func TestIsPowerOfTwo(t *testing.T) {
	assert.True(t, IsPowerOfTwo(1))
	assert.True(t, IsPowerOfTwo(512))
	assert.False(t, IsPowerOfTwo(0))
	assert.False(t, IsPowerOfTwo(-8))
	assert.False(t, IsPowerOfTwo(96))
}

func BenchmarkAllocAlignedTo(b *testing.B) {
	sizes := []int{64, 256, 1024, 4096}
	for _, size := range sizes {
		b.Run(fmt.Sprintf("size=%d", size), func(b *testing.B) {
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				_ = AllocAlignedTo(size, Alignment)
			}
		})
	}
}
