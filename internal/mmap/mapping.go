package mmap

import (
	"sync/atomic"
)

// Mapping is an anonymous read-write memory mapping.
// It owns its pages until Close.
type Mapping struct {
	data   []byte
	closed atomic.Bool
	unmap  func([]byte) error
}

// MapAnon maps size bytes of zeroed, page-aligned private memory.
func MapAnon(size int) (*Mapping, error) {
	if size <= 0 {
		return nil, ErrInvalidSize
	}

	data, unmap, err := osMapAnon(size)
	if err != nil {
		return nil, err
	}
	return &Mapping{data: data, unmap: unmap}, nil
}

// Close unmaps the memory. It is idempotent.
func (m *Mapping) Close() error {
	if m.closed.Swap(true) {
		return nil
	}
	data := m.data
	m.data = nil
	return m.unmap(data)
}

// Bytes returns the mapped memory, or nil once the mapping is closed.
// The slice must not be used after Close.
func (m *Mapping) Bytes() []byte {
	if m.closed.Load() {
		return nil
	}
	return m.data
}

// Size returns the mapping length in bytes.
func (m *Mapping) Size() int {
	return len(m.data)
}

// Release tells the kernel that the pages of [off, off+size) are not needed.
// The range stays mapped; on Unix it reads back as zero, on Windows its
// content is undefined until written. Partial pages at either end are kept.
func (m *Mapping) Release(off, size int) error {
	if m.closed.Load() {
		return ErrClosed
	}
	if off < 0 || size < 0 || off+size > len(m.data) {
		return ErrOutOfBounds
	}
	if size == 0 {
		return nil
	}
	return osRelease(m.data[off : off+size])
}
