package darena

import (
	"context"
	"errors"
	"fmt"
	"math/bits"
	"os"
	"sort"
	"sync"
	"time"
	"unsafe"

	"golang.org/x/time/rate"

	"github.com/hupe1980/darena/internal/buddy"
	"github.com/hupe1980/darena/internal/mem"
	"github.com/hupe1980/darena/profile"
	"github.com/hupe1980/darena/resource"
)

// MaxOrderLimit is the largest supported ratio exponent between the
// largest and the smallest block of a DArena.
const MaxOrderLimit = buddy.MaxOrderLimit

// overflowSummaryInterval throttles the debug summary of overflow activity
// that follows the one-time degraded warning.
const overflowSummaryInterval = 10 * time.Second

const (
	reasonOversize  = "request exceeds largest block"
	reasonExhausted = "pool exhausted"
)

type overflowRecord struct {
	chunk chunk
	size  int
}

// DArena is a buddy allocator over one contiguous pool.
//
// Requests up to the largest block size are rounded up to a power-of-two
// multiple of the block size and served from the pool, splitting larger
// blocks on demand and merging buddies on free. Larger requests, and requests
// the pool cannot satisfy, are served directly by the backing allocator and
// tracked in an overflow table.
//
// All methods are safe for concurrent use; a single mutex guards the tables.
type DArena struct {
	mu       sync.Mutex
	tree     *buddy.Tree
	used     map[int]int // pool offset -> order
	overflow map[uintptr]overflowRecord
	degraded bool
	closed   bool

	// Cumulative counters, guarded by mu.
	poolAllocs     uint64
	overflowAllocs uint64
	overflowBytes  int // live

	pool    chunk
	base    unsafe.Pointer
	maxSize int

	info    Info
	backing *backing
	rc      *resource.Controller
	logger  *Logger
	metrics MetricsCollector
	summary rate.Sometimes
}

// New creates a buddy arena.
//
// maxSize is the pool size, obtained once from the backing allocator.
// maxBlockSize is the largest request served from the pool: the pool's top
// order is log2(maxBlockSize/blockSize) rounded down and capped at
// MaxOrderLimit, where blockSize is the leaf size (WithBlockSize, default
// 512 B). The pool is seeded with as many top-order blocks as fit; a shorter
// remainder is split into smaller free blocks. info selects the backing
// allocator and alignment.
//
// If the backing allocator or the resource budget refuses the pool, New
// returns a *BackingExhaustedError.
func New(maxSize, maxBlockSize int, info Info, optFns ...Option) (*DArena, error) {
	return newDArena(context.Background(), false, maxSize, maxBlockSize, info, optFns)
}

// NewContext is like New but waits for the resource budget to admit the pool
// instead of failing at once. ctx bounds the wait.
func NewContext(ctx context.Context, maxSize, maxBlockSize int, info Info, optFns ...Option) (*DArena, error) {
	return newDArena(ctx, true, maxSize, maxBlockSize, info, optFns)
}

func newDArena(ctx context.Context, wait bool, maxSize, maxBlockSize int, info Info, optFns []Option) (*DArena, error) {
	o := applyOptions(optFns)
	info = info.withDefaults()
	if err := info.validate(); err != nil {
		return nil, err
	}

	blockSize := o.blockSize
	switch {
	case maxSize <= 0:
		return nil, &ConfigError{Field: "max size", Value: maxSize, Reason: "must be positive"}
	case maxBlockSize <= 0:
		return nil, &ConfigError{Field: "max block size", Value: maxBlockSize, Reason: "must be positive"}
	case maxBlockSize > maxSize:
		return nil, &ConfigError{Field: "max block size", Value: maxBlockSize, Reason: fmt.Sprintf("exceeds max size %d", maxSize)}
	case !mem.IsPowerOfTwo(blockSize):
		return nil, &ConfigError{Field: "block size", Value: blockSize, Reason: "must be a power of two"}
	case blockSize < info.Alignment:
		return nil, &ConfigError{Field: "block size", Value: blockSize, Reason: fmt.Sprintf("smaller than alignment %d", info.Alignment)}
	}

	tree, err := buddy.New(blockSize, topOrder(maxBlockSize, blockSize), maxSize)
	if err != nil {
		return nil, &ConfigError{Field: "max size", Value: maxSize, Reason: err.Error()}
	}

	b := &backing{info: info, rc: o.controller}
	var pool chunk
	if wait {
		pool, err = b.allocateWait(ctx, maxSize)
	} else {
		pool, err = b.allocate(maxSize)
	}
	if err != nil {
		e := &BackingExhaustedError{Requested: maxSize, Backing: info.Backing, Budget: o.controller.MemoryLimit(), cause: err}
		o.logger.LogBackingExhausted(e)
		return nil, e
	}

	a := &DArena{
		tree:     tree,
		used:     make(map[int]int),
		overflow: make(map[uintptr]overflowRecord),
		pool:     pool,
		base:     unsafe.Pointer(&pool.Bytes()[0]),
		maxSize:  maxSize,
		info:     info,
		backing:  b,
		rc:       o.controller,
		logger:   o.logger,
		metrics:  o.metricsCollector,
		summary:  rate.Sometimes{Interval: overflowSummaryInterval},
	}

	a.logger.Debug("arena created",
		"backing", info.Backing.String(),
		"pool_bytes", maxSize,
		"managed_bytes", tree.Size(),
		"block_size", blockSize,
		"max_order", tree.MaxOrder(),
		"roots", tree.Roots(),
	)
	return a, nil
}

// topOrder returns floor(log2(maxBlockSize/blockSize)), clamped to
// [0, MaxOrderLimit].
func topOrder(maxBlockSize, blockSize int) int {
	ratio := maxBlockSize / blockSize
	if ratio <= 1 {
		return 0
	}
	return min(bits.Len(uint(ratio))-1, MaxOrderLimit)
}

// Alloc returns a pointer to at least nbytes bytes.
//
// A request up to the largest block size is served from the pool. Larger
// requests, or requests the pool cannot satisfy, fall back to the backing
// allocator; the first such fallback logs a warning and marks the arena as
// degraded. A *BackingExhaustedError is returned when the fallback fails.
func (a *DArena) Alloc(nbytes int) (unsafe.Pointer, error) {
	if nbytes == 0 {
		return nil, nil
	}
	start := time.Now()
	p, order, err := a.alloc(nbytes)
	a.metrics.RecordAlloc(nbytes, order, time.Since(start), err)
	return p, err
}

func (a *DArena) alloc(nbytes int) (unsafe.Pointer, int, error) {
	if nbytes < 0 {
		return nil, 0, fmt.Errorf("%w: %d", ErrInvalidSize, nbytes)
	}

	// Geometry is immutable; no lock needed.
	order := a.tree.OrderFor(nbytes)

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil, 0, ErrClosed
	}
	if order > a.tree.MaxOrder() {
		a.mu.Unlock()
		p, err := a.allocOverflow(nbytes, reasonOversize)
		return p, -1, err
	}
	offset, ok := a.tree.Allocate(order)
	if !ok {
		a.mu.Unlock()
		p, err := a.allocOverflow(nbytes, reasonExhausted)
		return p, -1, err
	}
	a.used[offset] = order
	a.poolAllocs++
	a.mu.Unlock()

	return unsafe.Add(a.base, offset), order, nil
}

// allocOverflow serves nbytes from the backing allocator. The backing call is
// made without holding the lock.
func (a *DArena) allocOverflow(nbytes int, reason string) (unsafe.Pointer, error) {
	c, err := a.backing.allocate(nbytes)
	if err != nil {
		a.mu.Lock()
		e := &BackingExhaustedError{
			Requested:    nbytes,
			Backing:      a.info.Backing,
			PoolFree:     a.tree.FreeBytes(),
			OverflowLive: len(a.overflow),
			Budget:       a.rc.MemoryLimit(),
			cause:        err,
		}
		a.mu.Unlock()
		a.logger.LogBackingExhausted(e)
		return nil, e
	}

	p := unsafe.Pointer(&c.Bytes()[0])

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		_ = a.backing.release(c, nbytes)
		return nil, ErrClosed
	}
	a.overflow[uintptr(p)] = overflowRecord{chunk: c, size: nbytes}
	a.overflowAllocs++
	a.overflowBytes += nbytes
	first := !a.degraded
	a.degraded = true
	poolFree := a.tree.FreeBytes()
	live, liveBytes, total := len(a.overflow), a.overflowBytes, a.overflowAllocs
	a.mu.Unlock()

	if first {
		a.logger.LogOverflow(nbytes, reason, poolFree, a.maxSize)
	} else {
		a.summary.Do(func() {
			a.logger.LogOverflowSummary(live, liveBytes, total)
		})
	}
	return p, nil
}

// Free releases p, which must have been returned by Alloc on this arena.
//
// Freeing nil is a no-op. Freeing any other pointer the arena does not track,
// including a second free of the same pointer, panics with *InvalidFreeError
// and leaves the arena unchanged.
func (a *DArena) Free(p unsafe.Pointer) {
	if p == nil {
		return
	}
	start := time.Now()

	order, rec, invalid := a.free(p)
	if invalid != nil {
		a.logger.LogInvalidFree(invalid)
		panic(invalid)
	}
	if rec.chunk != nil {
		if err := a.backing.release(rec.chunk, rec.size); err != nil {
			a.logger.Error("release overflow chunk failed", "bytes", rec.size, "error", err)
		}
	}
	a.metrics.RecordFree(order, time.Since(start))
}

func (a *DArena) free(p unsafe.Pointer) (int, overflowRecord, *InvalidFreeError) {
	a.mu.Lock()
	defer a.mu.Unlock()

	addr := uintptr(p)
	if rec, ok := a.overflow[addr]; ok {
		delete(a.overflow, addr)
		a.overflowBytes -= rec.size
		return -1, rec, nil
	}
	if a.closed {
		return 0, overflowRecord{}, &InvalidFreeError{Pointer: addr, Reason: "arena is closed"}
	}

	base := uintptr(a.base)
	if addr < base || addr-base >= uintptr(a.maxSize) {
		return 0, overflowRecord{}, &InvalidFreeError{Pointer: addr, Reason: "pointer not owned by this arena"}
	}
	offset := int(addr - base) //nolint:gosec // bounded by maxSize
	order, ok := a.used[offset]
	if !ok {
		return 0, overflowRecord{}, &InvalidFreeError{Pointer: addr, Reason: "pointer not allocated or already freed"}
	}
	delete(a.used, offset)
	a.tree.Deallocate(order, offset)
	return order, overflowRecord{}, nil
}

// AllocBytes allocates a byte slice of length n.
func (a *DArena) AllocBytes(n int) ([]byte, error) {
	return AllocSlice[byte](a, n)
}

// FreeBytes releases a slice returned by AllocBytes.
func (a *DArena) FreeBytes(b []byte) {
	FreeSlice(a, b)
}

// TotalMem returns the configured pool size. It never changes.
func (a *DArena) TotalMem() int {
	return a.maxSize
}

// FreeMem returns the pool capacity currently free, excluding overflow memory.
// Bytes past the last whole block of the pool are never counted as free.
// It returns 0 once the arena is closed.
func (a *DArena) FreeMem() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return 0
	}
	return a.tree.FreeBytes()
}

// BlockSize returns the size of an order-0 block.
func (a *DArena) BlockSize() int { return a.tree.BlockSize() }

// MaxBlockSize returns the largest request served from the pool, the size of
// a top-order block.
func (a *DArena) MaxBlockSize() int { return a.tree.OrderSize(a.tree.MaxOrder()) }

// MaxOrder returns the order of the largest pool block.
func (a *DArena) MaxOrder() int { return a.tree.MaxOrder() }

// Info returns the backing selection of the arena.
func (a *DArena) Info() Info { return a.info }

// Degraded reports whether any request has been served outside the pool.
func (a *DArena) Degraded() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.degraded
}

// OrderOf returns the order of the pool block at p.
// ok is false for overflow and unknown pointers.
func (a *DArena) OrderOf(p unsafe.Pointer) (order int, ok bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	base := uintptr(a.base)
	addr := uintptr(p)
	if addr < base || addr-base >= uintptr(a.maxSize) {
		return 0, false
	}
	order, ok = a.used[int(addr-base)] //nolint:gosec // bounded by maxSize
	return order, ok
}

// Stats describes the arena at one instant.
type Stats struct {
	TotalBytes int
	FreeBytes  int
	BlockSize  int
	MaxOrder   int
	// Live allocations.
	PoolAllocs     int
	OverflowAllocs int
	OverflowBytes  int
	// Cumulative allocation counts.
	TotalPoolAllocs     uint64
	TotalOverflowAllocs uint64
	Degraded            bool
}

// Stats returns the current arena statistics.
func (a *DArena) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	s := Stats{
		TotalBytes:          a.maxSize,
		BlockSize:           a.tree.BlockSize(),
		MaxOrder:            a.tree.MaxOrder(),
		PoolAllocs:          len(a.used),
		OverflowAllocs:      len(a.overflow),
		OverflowBytes:       a.overflowBytes,
		TotalPoolAllocs:     a.poolAllocs,
		TotalOverflowAllocs: a.overflowAllocs,
		Degraded:            a.degraded,
	}
	if !a.closed {
		s.FreeBytes = a.tree.FreeBytes()
	}
	return s
}

func (a *DArena) String() string {
	s := a.Stats()
	return fmt.Sprintf(
		"DArena{backing: %s, pool: %.2f MB, free: %.2f MB, blocks: %d, overflow: %d (%.2f KB), degraded: %t}",
		a.info.Backing,
		float64(s.TotalBytes)/(1024*1024),
		float64(s.FreeBytes)/(1024*1024),
		s.PoolAllocs,
		s.OverflowAllocs,
		float64(s.OverflowBytes)/1024,
		s.Degraded,
	)
}

// Purge hands the pages of free pool blocks back to the kernel and returns
// the number of bytes advised. Only mmap-backed arenas can purge; blocks
// smaller than a page are skipped. Purged blocks read back as zero.
func (a *DArena) Purge() (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return 0, ErrClosed
	}

	page := os.Getpagesize()
	purged := 0
	var errs []error
	for o := a.tree.MaxOrder(); o >= 0 && a.tree.OrderSize(o) >= page; o-- {
		size := a.tree.OrderSize(o)
		a.tree.ForEachFree(o, func(off int) {
			n, err := a.backing.purge(a.pool, off, size)
			if err != nil {
				errs = append(errs, err)
				return
			}
			purged += n
		})
	}
	return purged, errors.Join(errs...)
}

// Snapshot captures the buddy tree, the used table and the overflow sizes.
func (a *DArena) Snapshot() *profile.Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	used := make(map[int]int, len(a.used))
	for off, o := range a.used {
		used[off] = o
	}
	overflow := make([]int, 0, len(a.overflow))
	for _, rec := range a.overflow {
		overflow = append(overflow, rec.size)
	}
	sort.Ints(overflow)

	return &profile.Snapshot{
		BlockSize:  a.tree.BlockSize(),
		MaxOrder:   a.tree.MaxOrder(),
		TotalBytes: a.maxSize,
		Degraded:   a.degraded,
		Free:       a.tree.Bitmaps(),
		Used:       used,
		Overflow:   overflow,
	}
}

// Close releases every overflow chunk and the pool, and returns their bytes
// to the resource budget. Allocations still live are reported as leaks.
// Close is idempotent; Alloc on a closed arena returns ErrClosed.
func (a *DArena) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	livePool := len(a.used)
	overflow := a.overflow
	liveOverflowBytes := a.overflowBytes
	a.overflow = make(map[uintptr]overflowRecord)
	a.overflowBytes = 0
	a.mu.Unlock()

	var errs []error
	for _, rec := range overflow {
		if err := a.backing.release(rec.chunk, rec.size); err != nil {
			errs = append(errs, err)
		}
	}
	if err := a.backing.release(a.pool, a.maxSize); err != nil {
		errs = append(errs, err)
	}

	err := errors.Join(errs...)
	a.logger.LogClose(livePool, len(overflow), liveOverflowBytes, err)
	return err
}
