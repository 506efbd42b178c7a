package mem

import (
	"math/bits"
	"unsafe"
)

// Alignment is the default byte alignment (64 bytes).
const Alignment = 64

// IsPowerOfTwo reports whether n is a positive power of two.
func IsPowerOfTwo(n int) bool {
	return n > 0 && bits.OnesCount(uint(n)) == 1
}

// AllocAlignedTo allocates a byte slice of the given size whose first byte
// sits at an address divisible by align. align must be a power of two;
// values below 1 fall back to Alignment.
//
// Note: This function allocates up to align-1 extra bytes to ensure alignment.
// The underlying array is kept alive by the returned slice.
func AllocAlignedTo(size, align int) []byte {
	if size <= 0 {
		return nil
	}
	if align < 1 {
		align = Alignment
	}
	if !IsPowerOfTwo(align) {
		panic("mem: alignment must be a power of two")
	}
	if align == 1 {
		return make([]byte, size)
	}

	buf := make([]byte, size+align-1)

	addr := uintptr(unsafe.Pointer(&buf[0])) //nolint:gosec // unsafe is required for memory alignment
	mask := uintptr(align - 1)
	offset := (uintptr(align) - (addr & mask)) & mask

	return buf[offset : offset+uintptr(size) : offset+uintptr(size)]
}

// IsAligned reports whether p is aligned to align bytes.
func IsAligned(p unsafe.Pointer, align int) bool {
	return uintptr(p)&uintptr(align-1) == 0
}
