package darena

import (
	"unsafe"

	"github.com/hupe1980/darena/internal/conv"
)

// Arena is the allocation capability shared by every allocator variant.
//
// Alloc returns a pointer to at least nbytes usable bytes. A zero-byte request
// returns a nil pointer and no error. Free releases a pointer previously
// returned by the same arena; freeing nil is a no-op.
type Arena interface {
	Alloc(nbytes int) (unsafe.Pointer, error)
	Free(p unsafe.Pointer)
}

var (
	_ Arena = (*DArena)(nil)
	_ Arena = (*LinearArena)(nil)
)

// AllocSlice allocates a slice of n elements of T from a.
//
// The memory is not scanned by the garbage collector when the arena is
// mmap-backed, so T must not contain Go pointers.
func AllocSlice[T any](a Arena, n int) ([]T, error) {
	if n <= 0 {
		return nil, nil
	}
	var zero T
	size, ok := conv.MulInt(n, int(unsafe.Sizeof(zero)))
	if !ok {
		return nil, ErrInvalidSize
	}
	if size == 0 {
		return nil, nil
	}
	p, err := a.Alloc(size)
	if err != nil {
		return nil, err
	}
	return unsafe.Slice((*T)(p), n), nil
}

// FreeSlice releases a slice obtained from AllocSlice on the same arena.
func FreeSlice[T any](a Arena, s []T) {
	if cap(s) == 0 {
		return
	}
	a.Free(unsafe.Pointer(unsafe.SliceData(s)))
}
