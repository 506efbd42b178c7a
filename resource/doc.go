// Package resource implements budgets shared by the allocators of one process.
//
// A Controller governs two resources:
//
//   - Memory: every chunk an allocator obtains from its backing allocator
//     (the buddy pool itself, overflow allocations, linear-arena chunks) is
//     charged here first. A refused charge surfaces as backing exhaustion.
//   - IO: a token bucket that throttles diagnostic dumps such as allocator
//     profiles so they do not compete with the simulation for bandwidth.
//
// # Memory
//
//	rc := resource.NewController(resource.Config{
//	    MemoryLimitBytes: 8 << 30, // 8 GiB for all arenas
//	})
//
//	if !rc.TryAcquireMemory(n) {
//	    // budget exhausted - no further fallback
//	}
//	defer rc.ReleaseMemory(n)
//
//	// Or wait for other holders to release memory.
//	if err := rc.AcquireMemory(ctx, n); err != nil { ... }
//
// # IO
//
//	w := resource.NewRateLimitedWriter(ctx, file, rc)
//
// # Nil Safety
//
// All methods handle a nil Controller gracefully: memory is unlimited and
// untracked, IO is unthrottled.
package resource
