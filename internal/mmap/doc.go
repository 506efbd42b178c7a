// Package mmap provides anonymous memory mappings for off-heap allocation.
//
// # Overview
//
// An anonymous mapping is a read-write region obtained directly from the
// kernel. It lives outside the Go garbage collector's control, which makes it
// suitable as the backing store of long-lived allocator pools.
//
// # Usage
//
//	m, err := mmap.MapAnon(1 << 20)
//	if err != nil { ... }
//	defer m.Close()
//
//	data := m.Bytes()
//
//	// Hand the pages of an unused range back to the kernel
//	m.Release(offset, size)
//
// # Platform Support
//
//   - Unix (Linux, macOS, BSD): mmap(2), Release uses madvise(MADV_DONTNEED)
//   - Windows: VirtualAlloc/VirtualFree, Release uses MEM_RESET
//
// # Thread Safety
//
// A Mapping is safe for concurrent access to Bytes and Release. The Close() method
// is idempotent and protected by atomic operations. However, callers must
// ensure no goroutines access Bytes() after Close() returns.
package mmap
