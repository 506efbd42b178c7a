package darena

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"unsafe"
)

// DefaultChunkSize is the default chunk size of a LinearArena (1 MiB).
const DefaultChunkSize = 1024 * 1024

// LinearStats tracks linear arena memory usage.
//
// Note on semantics:
//   - BytesReserved: total memory obtained from the backing allocator
//   - BytesUsed: bytes requested by allocations (before alignment)
//   - BytesWasted: padding added for alignment
//   - ActiveChunks: number of chunks currently held
//   - TotalAllocs: cumulative allocation count
type LinearStats struct {
	ChunksAllocated uint64 // Historical: total chunks ever created
	BytesReserved   uint64
	BytesUsed       uint64
	BytesWasted     uint64
	ActiveChunks    uint64
	TotalAllocs     uint64
}

type linearAtomicStats struct {
	ChunksAllocated atomic.Uint64
	BytesReserved   atomic.Uint64
	BytesUsed       atomic.Uint64
	BytesWasted     atomic.Uint64
	ActiveChunks    atomic.Uint64
	TotalAllocs     atomic.Uint64
}

type linearChunk struct {
	c      chunk
	data   []byte
	offset atomic.Int64 // MUST be atomic - accessed concurrently without locks
}

// LinearArena is a bump allocator: the Arena variant for allocations that all
// die together.
//
// # Concurrency Model
//
// Alloc is safe for concurrent use and lock-free within a chunk. Reset and
// Close must not run concurrently with Alloc.
//
// # Memory Management
//
// Memory is taken from the backing allocator in chunks. Free is a no-op;
// memory is reclaimed only by Reset or Close. Requests larger than a chunk get
// a dedicated chunk of their own.
type LinearArena struct {
	chunkSize int
	alignment int
	backing   *backing
	logger    *Logger

	mu      sync.Mutex
	chunks  []*linearChunk // protected by mu
	current atomic.Pointer[linearChunk]
	stats   linearAtomicStats
}

// NewLinear creates a LinearArena with the given chunk size.
// chunkSize <= 0 selects DefaultChunkSize.
func NewLinear(chunkSize int, info Info, optFns ...Option) (*LinearArena, error) {
	o := applyOptions(optFns)
	info = info.withDefaults()
	if err := info.validate(); err != nil {
		return nil, err
	}
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	// Keep chunk-sized requests aligned end to end.
	chunkSize = (chunkSize + info.Alignment - 1) &^ (info.Alignment - 1)

	a := &LinearArena{
		chunkSize: chunkSize,
		alignment: info.Alignment,
		backing:   &backing{info: info, rc: o.controller},
		logger:    o.logger,
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	c, err := a.newChunkLocked(chunkSize)
	if err != nil {
		return nil, err
	}
	a.current.Store(c)
	return a, nil
}

func (a *LinearArena) newChunkLocked(size int) (*linearChunk, error) {
	c, err := a.backing.allocate(size)
	if err != nil {
		e := &BackingExhaustedError{Requested: size, Backing: a.backing.info.Backing, Budget: a.backing.rc.MemoryLimit(), cause: err}
		a.logger.LogBackingExhausted(e)
		return nil, e
	}

	lc := &linearChunk{c: c, data: c.Bytes()}
	a.chunks = append(a.chunks, lc)

	a.stats.ChunksAllocated.Add(1)
	a.stats.BytesReserved.Add(uint64(size)) //nolint:gosec // size > 0
	a.stats.ActiveChunks.Add(1)

	a.logger.Debug("linear arena chunk mapped", "bytes", size, "chunks", len(a.chunks))
	return lc, nil
}

// Alloc allocates nbytes and returns a pointer aligned to the arena alignment.
func (a *LinearArena) Alloc(nbytes int) (unsafe.Pointer, error) {
	if nbytes < 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidSize, nbytes)
	}
	if nbytes == 0 {
		return nil, nil
	}

	mask := a.alignment - 1
	alignedSize := (nbytes + mask) &^ mask

	if alignedSize > a.chunkSize {
		return a.allocDedicated(nbytes, alignedSize)
	}

	for {
		curr := a.current.Load()
		if curr == nil {
			return nil, ErrClosed
		}

		if p, ok := a.tryAllocInChunk(curr, nbytes, alignedSize); ok {
			return p, nil
		}

		// Current chunk is full; only one goroutine maps the next one.
		if a.current.Load() != curr {
			continue
		}

		a.mu.Lock()
		// Double check under lock
		if a.current.Load() != curr {
			a.mu.Unlock()
			continue
		}
		next, err := a.newChunkLocked(a.chunkSize)
		if err != nil {
			a.mu.Unlock()
			return nil, err
		}
		a.current.Store(next)
		a.mu.Unlock()
	}
}

func (a *LinearArena) tryAllocInChunk(curr *linearChunk, size, alignedSize int) (unsafe.Pointer, bool) {
	oldOffset := curr.offset.Load()
	newOffset := oldOffset + int64(alignedSize)

	if newOffset > int64(len(curr.data)) {
		return nil, false
	}
	if !curr.offset.CompareAndSwap(oldOffset, newOffset) {
		return nil, false
	}

	a.stats.BytesUsed.Add(uint64(size))                //nolint:gosec // size > 0
	a.stats.BytesWasted.Add(uint64(alignedSize - size)) //nolint:gosec // alignedSize >= size
	a.stats.TotalAllocs.Add(1)

	return unsafe.Pointer(&curr.data[oldOffset]), true
}

func (a *LinearArena) allocDedicated(size, alignedSize int) (unsafe.Pointer, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.current.Load() == nil {
		return nil, ErrClosed
	}

	lc, err := a.newChunkLocked(alignedSize)
	if err != nil {
		return nil, err
	}
	lc.offset.Store(int64(alignedSize))

	a.stats.BytesUsed.Add(uint64(size))                //nolint:gosec // size > 0
	a.stats.BytesWasted.Add(uint64(alignedSize - size)) //nolint:gosec // alignedSize >= size
	a.stats.TotalAllocs.Add(1)

	return unsafe.Pointer(&lc.data[0]), nil
}

// Free is a no-op: linear arenas release memory only in bulk.
func (a *LinearArena) Free(unsafe.Pointer) {}

// AllocBytes allocates a byte slice of length n.
func (a *LinearArena) AllocBytes(n int) ([]byte, error) {
	return AllocSlice[byte](a, n)
}

// Reset invalidates every allocation, keeps the first chunk for reuse and
// releases the others.
//
// IMPORTANT: Do NOT call Reset concurrently with allocations.
func (a *LinearArena) Reset() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.chunks) == 0 {
		return ErrClosed
	}

	var errs []error
	for _, lc := range a.chunks[1:] {
		if err := a.backing.release(lc.c, len(lc.data)); err != nil {
			errs = append(errs, err)
		}
	}

	first := a.chunks[0]
	first.offset.Store(0)
	clear(a.chunks[1:])
	a.chunks = a.chunks[:1]
	a.current.Store(first)

	a.stats.ActiveChunks.Store(1)
	a.stats.BytesReserved.Store(uint64(len(first.data))) //nolint:gosec // len >= 0
	a.stats.BytesUsed.Store(0)
	a.stats.BytesWasted.Store(0)

	return errors.Join(errs...)
}

// Close releases all chunks. After Close, Alloc returns ErrClosed.
// Close is idempotent.
//
// IMPORTANT: Do NOT call Close concurrently with allocations.
func (a *LinearArena) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.current.Store(nil)
	var errs []error
	for _, lc := range a.chunks {
		if err := a.backing.release(lc.c, len(lc.data)); err != nil {
			errs = append(errs, err)
		}
	}
	a.chunks = nil

	a.stats.ActiveChunks.Store(0)
	a.stats.BytesReserved.Store(0)
	a.stats.BytesUsed.Store(0)
	a.stats.BytesWasted.Store(0)

	return errors.Join(errs...)
}

// Stats returns the current arena statistics.
func (a *LinearArena) Stats() LinearStats {
	return LinearStats{
		ChunksAllocated: a.stats.ChunksAllocated.Load(),
		BytesReserved:   a.stats.BytesReserved.Load(),
		BytesUsed:       a.stats.BytesUsed.Load(),
		BytesWasted:     a.stats.BytesWasted.Load(),
		ActiveChunks:    a.stats.ActiveChunks.Load(),
		TotalAllocs:     a.stats.TotalAllocs.Load(),
	}
}

// Usage returns the memory usage percentage.
func (a *LinearArena) Usage() float64 {
	stats := a.Stats()
	if stats.BytesReserved == 0 {
		return 0
	}
	return float64(stats.BytesUsed) / float64(stats.BytesReserved) * 100
}

func (a *LinearArena) String() string {
	stats := a.Stats()
	return fmt.Sprintf(
		"LinearArena{chunks: %d, reserved: %.2f MB, used: %.2f MB, wasted: %.2f KB, usage: %.1f%%, allocs: %d}",
		stats.ActiveChunks,
		float64(stats.BytesReserved)/(1024*1024),
		float64(stats.BytesUsed)/(1024*1024),
		float64(stats.BytesWasted)/1024,
		a.Usage(),
		stats.TotalAllocs,
	)
}
