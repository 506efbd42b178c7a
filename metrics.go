package darena

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting allocator metrics.
// Implement this interface to integrate with monitoring systems like Prometheus.
//
// order is the buddy order of a pool allocation, or -1 when the request was
// served by the backing allocator.
type MetricsCollector interface {
	// RecordAlloc is called after each non-empty allocation request.
	// err is nil if successful.
	RecordAlloc(nbytes, order int, duration time.Duration, err error)

	// RecordFree is called after each free of a non-nil pointer.
	RecordFree(order int, duration time.Duration)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordAlloc(int, int, time.Duration, error) {}
func (NoopMetricsCollector) RecordFree(int, time.Duration)              {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	AllocCount      atomic.Int64
	AllocErrors     atomic.Int64
	AllocTotalNanos atomic.Int64
	BytesRequested  atomic.Int64
	OverflowAllocs  atomic.Int64
	FreeCount       atomic.Int64
	FreeTotalNanos  atomic.Int64
	OverflowFrees   atomic.Int64
}

// RecordAlloc implements MetricsCollector.
func (b *BasicMetricsCollector) RecordAlloc(nbytes, order int, duration time.Duration, err error) {
	b.AllocCount.Add(1)
	b.AllocTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.AllocErrors.Add(1)
		return
	}
	b.BytesRequested.Add(int64(nbytes))
	if order < 0 {
		b.OverflowAllocs.Add(1)
	}
}

// RecordFree implements MetricsCollector.
func (b *BasicMetricsCollector) RecordFree(order int, duration time.Duration) {
	b.FreeCount.Add(1)
	b.FreeTotalNanos.Add(duration.Nanoseconds())
	if order < 0 {
		b.OverflowFrees.Add(1)
	}
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		AllocCount:     b.AllocCount.Load(),
		AllocErrors:    b.AllocErrors.Load(),
		AllocAvgNanos:  avg(b.AllocTotalNanos.Load(), b.AllocCount.Load()),
		BytesRequested: b.BytesRequested.Load(),
		OverflowAllocs: b.OverflowAllocs.Load(),
		FreeCount:      b.FreeCount.Load(),
		FreeAvgNanos:   avg(b.FreeTotalNanos.Load(), b.FreeCount.Load()),
		OverflowFrees:  b.OverflowFrees.Load(),
	}
}

func avg(total, count int64) int64 {
	if count == 0 {
		return 0
	}
	return total / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	AllocCount     int64
	AllocErrors    int64
	AllocAvgNanos  int64
	BytesRequested int64
	OverflowAllocs int64
	FreeCount      int64
	FreeAvgNanos   int64
	OverflowFrees  int64
}
