package darena

import (
	"context"
	"fmt"
	"os"
	"unsafe"

	"github.com/hupe1980/darena/internal/mem"
	"github.com/hupe1980/darena/internal/mmap"
	"github.com/hupe1980/darena/resource"
)

// BackingKind selects where an arena obtains its memory.
// It only decides which backing allocator is plugged in; the arena algorithms
// are the same for every kind.
type BackingKind int

const (
	// BackingHeap allocates aligned byte slices on the Go heap.
	BackingHeap BackingKind = iota
	// BackingMmap maps anonymous private memory outside the Go heap.
	BackingMmap
)

func (k BackingKind) String() string {
	switch k {
	case BackingHeap:
		return "heap"
	case BackingMmap:
		return "mmap"
	default:
		return fmt.Sprintf("backing(%d)", int(k))
	}
}

// Info selects the backing allocator and the alignment policy of an arena.
type Info struct {
	Backing BackingKind
	// Alignment of every pointer the arena returns. Must be a power of two.
	// Zero selects 64 bytes.
	Alignment int
}

// DefaultInfo returns a heap-backed, 64-byte aligned Info.
func DefaultInfo() Info {
	return Info{Backing: BackingHeap, Alignment: mem.Alignment}
}

func (i Info) withDefaults() Info {
	if i.Alignment == 0 {
		i.Alignment = mem.Alignment
	}
	return i
}

func (i Info) validate() error {
	if !mem.IsPowerOfTwo(i.Alignment) {
		return &ConfigError{Field: "alignment", Value: i.Alignment, Reason: "must be a power of two"}
	}
	switch i.Backing {
	case BackingHeap:
	case BackingMmap:
		// Mappings are page aligned, nothing stronger.
		if i.Alignment > os.Getpagesize() {
			return &ConfigError{Field: "alignment", Value: i.Alignment, Reason: "exceeds the page size of mmap backing"}
		}
	default:
		return &ConfigError{Field: "backing", Value: int(i.Backing), Reason: "unknown backing kind"}
	}
	return nil
}

// chunk is one contiguous range owned by exactly one tracking record.
type chunk interface {
	Bytes() []byte
	Close() error
}

type heapChunk struct {
	buf []byte
}

func (c *heapChunk) Bytes() []byte { return c.buf }

func (c *heapChunk) Close() error {
	c.buf = nil
	return nil
}

// backing obtains and releases chunks, charging them to the resource budget.
type backing struct {
	info Info
	rc   *resource.Controller
}

func (b *backing) allocate(size int) (chunk, error) {
	if !b.rc.TryAcquireMemory(int64(size)) {
		return nil, resource.ErrMemoryLimitExceeded
	}
	return b.obtain(size)
}

// allocateWait is like allocate but waits for the budget until ctx is done.
func (b *backing) allocateWait(ctx context.Context, size int) (chunk, error) {
	if err := b.rc.AcquireMemory(ctx, int64(size)); err != nil {
		return nil, err
	}
	return b.obtain(size)
}

// obtain gets a chunk whose size is already charged to the budget.
func (b *backing) obtain(size int) (chunk, error) {
	var (
		c   chunk
		err error
	)
	switch b.info.Backing {
	case BackingMmap:
		c, err = mmap.MapAnon(size)
	default:
		c = &heapChunk{buf: mem.AllocAlignedTo(size, b.info.Alignment)}
	}
	if err != nil {
		b.rc.ReleaseMemory(int64(size))
		return nil, err
	}
	if !mem.IsAligned(unsafe.Pointer(&c.Bytes()[0]), b.info.Alignment) {
		_ = c.Close()
		b.rc.ReleaseMemory(int64(size))
		return nil, fmt.Errorf("%s chunk not aligned to %d bytes", b.info.Backing, b.info.Alignment)
	}
	return c, nil
}

func (b *backing) release(c chunk, size int) error {
	err := c.Close()
	b.rc.ReleaseMemory(int64(size))
	return err
}

// purge tells the kernel that [off, off+size) of c is not needed.
// Only mmap chunks can give pages back; heap chunks report zero.
func (b *backing) purge(c chunk, off, size int) (int, error) {
	m, ok := c.(*mmap.Mapping)
	if !ok {
		return 0, nil
	}
	if err := m.Release(off, size); err != nil {
		return 0, err
	}
	return size, nil
}
