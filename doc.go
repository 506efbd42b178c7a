// Package darena provides a buddy memory arena for block-structured
// simulation codes.
//
// A DArena owns one contiguous pool obtained once from a backing allocator.
// Requests are rounded up to the block size times a power of two (the order
// of the request) and served from the pool: a free block of the needed order
// is taken directly, or a larger block is split in halves until one of the
// right size exists. Freed blocks merge with their free buddy, recursively,
// so the pool returns to its initial state once everything is freed.
//
// # Quick Start
//
//	// 1 MiB pool, largest pool block 64 KiB, 512 B leaves (orders 0..7).
//	a, err := darena.New(1<<20, 64<<10, darena.DefaultInfo())
//	if err != nil {
//	    return err
//	}
//	defer a.Close()
//
//	p, err := a.Alloc(3000) // order 3, a 4 KiB block
//	...
//	a.Free(p)
//
// # Overflow
//
// A request larger than the largest block, or one the pool cannot satisfy,
// is served directly by the backing allocator and tracked in an overflow
// table. The first such request logs a warning and marks the arena as
// degraded (see DArena.Degraded). Overflow memory is not counted by FreeMem
// or TotalMem. When the backing allocator fails too, Alloc returns a
// *BackingExhaustedError.
//
// # Invalid Frees
//
// Freeing a pointer the arena did not hand out, or freeing one twice, is a
// programming error. Free panics with *InvalidFreeError and leaves the arena
// unchanged.
//
// # Backing Allocators
//
// Info selects the backing allocator:
//
//	darena.Info{Backing: darena.BackingHeap} // aligned Go heap slices (default)
//	darena.Info{Backing: darena.BackingMmap} // anonymous mappings, off the GC heap
//
// Both can be charged to a shared memory budget:
//
//	rc := resource.NewController(resource.Config{MemoryLimitBytes: 1 << 30})
//	a, _ := darena.New(256<<20, 1<<20, darena.DefaultInfo(), darena.WithResourceController(rc))
//
// # Linear Arenas
//
// LinearArena is a bump allocator implementing the same Arena interface for
// allocations that all die together. Its Free is a no-op; Reset and Close
// reclaim memory in bulk.
//
// # Profiles
//
// DArena.Snapshot captures the buddy tree; DArena.WriteProfile encodes it with
// the profile package for offline fragmentation analysis.
//
// # Thread Safety
//
// DArena is safe for concurrent use; one mutex guards all of its tables.
// LinearArena.Alloc is safe for concurrent use; Reset and Close are not.
package darena
