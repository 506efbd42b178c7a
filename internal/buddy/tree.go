package buddy

import (
	"errors"
	"fmt"
	"math/bits"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/darena/internal/conv"
)

// MaxOrderLimit bounds the number of orders a tree can manage.
// It keeps the free-list table fixed in size and the split/merge recursion shallow.
const MaxOrderLimit = 30

var (
	// ErrInvalidGeometry is returned when block size, order count or pool size are unusable.
	ErrInvalidGeometry = errors.New("buddy: invalid geometry")
	// ErrCorrupt is returned by Check when the tree invariants are violated.
	ErrCorrupt = errors.New("buddy: corrupt tree")
)

// Tree is the free-list table of a buddy pool.
// It is not safe for concurrent use.
type Tree struct {
	blockSize  int
	blockShift int
	maxOrder   int
	leaves     int
	roots      int
	free       [MaxOrderLimit + 1]*roaring.Bitmap
}

// New creates a tree over a pool of size bytes, all free.
// blockSize must be a power of two and maxOrder must be in [0, MaxOrderLimit].
//
// The pool is seeded with size/(blockSize<<maxOrder) top-order roots. A
// remainder smaller than a root is covered by at most one free block per
// lower order, largest first; bytes past the last whole block are not managed.
func New(blockSize, maxOrder, size int) (*Tree, error) {
	if blockSize <= 0 || bits.OnesCount(uint(blockSize)) != 1 {
		return nil, fmt.Errorf("%w: block size %d is not a power of two", ErrInvalidGeometry, blockSize)
	}
	if maxOrder < 0 || maxOrder > MaxOrderLimit {
		return nil, fmt.Errorf("%w: max order %d outside [0, %d]", ErrInvalidGeometry, maxOrder, MaxOrderLimit)
	}
	if size < 0 {
		return nil, fmt.Errorf("%w: pool size %d is negative", ErrInvalidGeometry, size)
	}

	shift := bits.TrailingZeros(uint(blockSize))
	leaves := size >> shift
	// Every order-0 index must fit in a roaring key.
	if leaves > 0 {
		if _, err := conv.IntToUint32(leaves - 1); err != nil {
			return nil, fmt.Errorf("%w: %d leaf blocks exceed the index space: %w", ErrInvalidGeometry, leaves, err)
		}
	}

	t := &Tree{
		blockSize:  blockSize,
		blockShift: shift,
		maxOrder:   maxOrder,
		leaves:     leaves,
		roots:      leaves >> maxOrder,
	}
	for o := range t.free {
		t.free[o] = roaring.New()
	}
	t.free[maxOrder].AddRange(0, uint64(t.roots))

	// The tail blocks are all left children whose buddy reaches past the
	// pool, so they never merge upward.
	off := t.roots << (shift + maxOrder)
	for o := maxOrder - 1; o >= 0; o-- {
		if leaves&(1<<o) != 0 {
			t.free[o].Add(t.index(o, off))
			off += t.OrderSize(o)
		}
	}
	return t, nil
}

// BlockSize returns the size of an order-0 block.
func (t *Tree) BlockSize() int { return t.blockSize }

// MaxOrder returns the highest order managed by the tree.
func (t *Tree) MaxOrder() int { return t.maxOrder }

// Roots returns the number of whole top-order blocks.
func (t *Tree) Roots() int { return t.roots }

// Size returns the number of bytes covered by blocks.
func (t *Tree) Size() int { return t.leaves << t.blockShift }

// OrderSize returns the block size at the given order.
func (t *Tree) OrderSize(order int) int { return t.blockSize << order }

// OrderFor returns the smallest order whose block holds nbytes.
// The result may exceed MaxOrder; callers treat that as oversize.
func (t *Tree) OrderFor(nbytes int) int {
	if nbytes <= t.blockSize {
		return 0
	}
	nblocks := ((nbytes - 1) >> t.blockShift) + 1
	return bits.Len(uint(nblocks - 1))
}

func (t *Tree) index(order, offset int) uint32 {
	return uint32(offset >> (t.blockShift + order)) //nolint:gosec // bounded by New
}

func (t *Tree) offset(order int, idx uint32) int {
	return int(idx) << (t.blockShift + order)
}

// Allocate removes a free block of the given order and returns its offset.
// ok is false when neither the order nor any order above it has a free block.
func (t *Tree) Allocate(order int) (offset int, ok bool) {
	set := t.free[order]
	if !set.IsEmpty() {
		idx := set.Minimum()
		set.Remove(idx)
		return t.offset(order, idx), true
	}
	if order == t.maxOrder {
		return 0, false
	}

	parent, ok := t.Allocate(order + 1)
	if !ok {
		return 0, false
	}
	// Keep the lower half, free the upper half.
	t.free[order].Add(t.index(order, parent) + 1)
	return parent, true
}

// Deallocate returns the block at offset to the given order, merging it with
// its buddy as long as the buddy is free.
func (t *Tree) Deallocate(order, offset int) {
	idx := t.index(order, offset)
	if order < t.maxOrder && t.free[order].CheckedRemove(idx^1) {
		t.Deallocate(order+1, t.offset(order, idx&^1))
		return
	}
	if !t.free[order].CheckedAdd(idx) {
		panic(fmt.Sprintf("buddy: block at offset %d order %d is already free", offset, order))
	}
}

// IsFree reports whether the block at offset is free at exactly this order.
func (t *Tree) IsFree(order, offset int) bool {
	return t.free[order].Contains(t.index(order, offset))
}

// FreeCount returns the number of free blocks at the given order.
func (t *Tree) FreeCount(order int) int {
	return int(t.free[order].GetCardinality()) //nolint:gosec // bounded by New
}

// FreeBytes returns the total size of all free blocks.
func (t *Tree) FreeBytes() int {
	total := 0
	for o := 0; o <= t.maxOrder; o++ {
		total += t.FreeCount(o) * t.OrderSize(o)
	}
	return total
}

// LargestFree returns the highest order with a free block, or -1 if none.
func (t *Tree) LargestFree() int {
	for o := t.maxOrder; o >= 0; o-- {
		if !t.free[o].IsEmpty() {
			return o
		}
	}
	return -1
}

// ForEachFree calls fn with the offset of every free block at the given order,
// in ascending order.
func (t *Tree) ForEachFree(order int, fn func(offset int)) {
	it := t.free[order].Iterator()
	for it.HasNext() {
		fn(t.offset(order, it.Next()))
	}
}

// Bitmaps returns clones of the per-order free sets, indexed by order.
func (t *Tree) Bitmaps() []*roaring.Bitmap {
	out := make([]*roaring.Bitmap, t.maxOrder+1)
	for o := range out {
		out[o] = t.free[o].Clone()
	}
	return out
}

// Check verifies the tree invariants together with the caller's used table
// (offset -> order): every leaf block is covered exactly once and no two
// buddies are free at the same order.
func (t *Tree) Check(used map[int]int) error {
	covered := roaring.New()
	mark := func(order, offset int, what string) error {
		lo := uint64(offset >> t.blockShift)
		hi := lo + uint64(1)<<uint(order)
		if offset%t.OrderSize(order) != 0 {
			return fmt.Errorf("%w: %s block at %d misaligned for order %d", ErrCorrupt, what, offset, order)
		}
		if hi > uint64(t.Size()>>t.blockShift) {
			return fmt.Errorf("%w: %s block at %d order %d beyond pool", ErrCorrupt, what, offset, order)
		}
		if countRange(covered, lo, hi) != 0 {
			return fmt.Errorf("%w: %s block at %d order %d overlaps another block", ErrCorrupt, what, offset, order)
		}
		covered.AddRange(lo, hi)
		return nil
	}

	for o := 0; o <= t.maxOrder; o++ {
		var err error
		t.ForEachFree(o, func(off int) {
			if err != nil {
				return
			}
			if o < t.maxOrder && t.free[o].Contains(t.index(o, off)^1) {
				err = fmt.Errorf("%w: buddies at %d order %d are both free", ErrCorrupt, off, o)
				return
			}
			err = mark(o, off, "free")
		})
		if err != nil {
			return err
		}
	}
	for off, o := range used {
		if o < 0 || o > t.maxOrder {
			return fmt.Errorf("%w: used block at %d has order %d", ErrCorrupt, off, o)
		}
		if err := mark(o, off, "used"); err != nil {
			return err
		}
	}

	leaves := uint64(t.Size() >> t.blockShift)
	if covered.GetCardinality() != leaves {
		return fmt.Errorf("%w: %d of %d leaf blocks accounted for", ErrCorrupt, covered.GetCardinality(), leaves)
	}
	return nil
}

// countRange returns how many members of rb fall in [lo, hi).
func countRange(rb *roaring.Bitmap, lo, hi uint64) uint64 {
	if hi == 0 {
		return 0
	}
	n := rb.Rank(uint32(hi - 1)) //nolint:gosec // hi-1 is a leaf index
	if lo > 0 {
		n -= rb.Rank(uint32(lo - 1)) //nolint:gosec // lo-1 is a leaf index
	}
	return n
}
