package testutil

import (
	"fmt"
	"sort"
	"sync"
)

type span struct {
	start uintptr
	end   uintptr // exclusive
}

// RangeChecker records live byte ranges and reports any overlap.
// It is safe for concurrent use.
type RangeChecker struct {
	mu    sync.Mutex
	spans []span // sorted by start, pairwise disjoint
	peak  int
	total int
}

// NewRangeChecker creates an empty checker.
func NewRangeChecker() *RangeChecker {
	return &RangeChecker{}
}

// Add records [start, start+size) as live. It fails if the range overlaps a
// live range; the range is not recorded in that case.
func (c *RangeChecker) Add(start uintptr, size int) error {
	if size <= 0 {
		return fmt.Errorf("range at %#x has size %d", start, size)
	}
	s := span{start: start, end: start + uintptr(size)}

	c.mu.Lock()
	defer c.mu.Unlock()

	i := sort.Search(len(c.spans), func(i int) bool { return c.spans[i].start >= s.start })
	if i < len(c.spans) && c.spans[i].start < s.end {
		return fmt.Errorf("range [%#x,%#x) overlaps [%#x,%#x)", s.start, s.end, c.spans[i].start, c.spans[i].end)
	}
	if i > 0 && c.spans[i-1].end > s.start {
		return fmt.Errorf("range [%#x,%#x) overlaps [%#x,%#x)", s.start, s.end, c.spans[i-1].start, c.spans[i-1].end)
	}

	c.spans = append(c.spans, span{})
	copy(c.spans[i+1:], c.spans[i:])
	c.spans[i] = s
	c.total++
	c.peak = max(c.peak, len(c.spans))
	return nil
}

// Remove forgets the live range starting at start.
// It reports whether such a range was live.
func (c *RangeChecker) Remove(start uintptr) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	i := sort.Search(len(c.spans), func(i int) bool { return c.spans[i].start >= start })
	if i == len(c.spans) || c.spans[i].start != start {
		return false
	}
	c.spans = append(c.spans[:i], c.spans[i+1:]...)
	return true
}

// Live returns the number of live ranges.
func (c *RangeChecker) Live() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.spans)
}

// Peak returns the highest number of simultaneously live ranges.
func (c *RangeChecker) Peak() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peak
}

// Total returns how many ranges were ever added.
func (c *RangeChecker) Total() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.total
}
