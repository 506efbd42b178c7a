package profile

import (
	"fmt"
	"sort"
	"strings"

	"github.com/RoaringBitmap/roaring/v2"
)

// Snapshot is a point-in-time view of a buddy arena.
type Snapshot struct {
	BlockSize  int
	MaxOrder   int
	TotalBytes int
	Degraded   bool

	// Free holds one bitmap of free block indices per order.
	// The block at index i of order o starts at i*(BlockSize<<o).
	Free []*roaring.Bitmap

	// Used maps pool offsets of live allocations to their order.
	Used map[int]int

	// Overflow lists the sizes of live allocations served outside the pool.
	Overflow []int
}

// OrderSize returns the block size at the given order.
func (s *Snapshot) OrderSize(order int) int {
	return s.BlockSize << order
}

// FreeBytes returns the pool capacity still available.
func (s *Snapshot) FreeBytes() int {
	total := 0
	for o, bm := range s.Free {
		total += int(bm.GetCardinality()) * s.OrderSize(o) //nolint:gosec // bounded by pool size
	}
	return total
}

// FreeOffsets returns the offsets of the free blocks at order, ascending.
func (s *Snapshot) FreeOffsets(order int) []int {
	if order < 0 || order >= len(s.Free) {
		return nil
	}
	out := make([]int, 0, s.Free[order].GetCardinality())
	it := s.Free[order].Iterator()
	for it.HasNext() {
		out = append(out, int(it.Next())*s.OrderSize(order))
	}
	return out
}

// Report summarizes the fragmentation of a snapshot.
type Report struct {
	TotalBytes       int
	FreeBytes        int
	UsedBytes        int
	UsedBlocks       int
	LargestFreeBlock int
	// FreeBlocks counts free blocks per order.
	FreeBlocks    []int
	OverflowCount int
	OverflowBytes int
	// Fragmentation is 1 - LargestFreeBlock/FreeBytes (0 when nothing is free).
	Fragmentation float64
}

// Report computes the fragmentation summary.
func (s *Snapshot) Report() Report {
	r := Report{
		TotalBytes: s.TotalBytes,
		FreeBlocks: make([]int, len(s.Free)),
		UsedBlocks: len(s.Used),
	}
	for o, bm := range s.Free {
		n := int(bm.GetCardinality()) //nolint:gosec // bounded by pool size
		r.FreeBlocks[o] = n
		r.FreeBytes += n * s.OrderSize(o)
		if n > 0 {
			r.LargestFreeBlock = s.OrderSize(o)
		}
	}
	for _, o := range s.Used {
		r.UsedBytes += s.OrderSize(o)
	}
	for _, n := range s.Overflow {
		r.OverflowCount++
		r.OverflowBytes += n
	}
	if r.FreeBytes > 0 {
		r.Fragmentation = 1 - float64(r.LargestFreeBlock)/float64(r.FreeBytes)
	}
	return r
}

func (r Report) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "pool: %d/%d bytes free in %d used blocks, largest free %d, fragmentation %.1f%%\n",
		r.FreeBytes, r.TotalBytes, r.UsedBlocks, r.LargestFreeBlock, r.Fragmentation*100)
	for o, n := range r.FreeBlocks {
		if n > 0 {
			fmt.Fprintf(&sb, "  order %2d: %d free\n", o, n)
		}
	}
	if r.OverflowCount > 0 {
		fmt.Fprintf(&sb, "overflow: %d allocations, %d bytes\n", r.OverflowCount, r.OverflowBytes)
	}
	return sb.String()
}

// usedOffsets returns the used table keys in ascending order.
func (s *Snapshot) usedOffsets() []int {
	keys := make([]int, 0, len(s.Used))
	for off := range s.Used {
		keys = append(keys, off)
	}
	sort.Ints(keys)
	return keys
}
