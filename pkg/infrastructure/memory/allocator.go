// Package memory provides the Arrow allocator used for Flight streams.
package memory

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/TFMV/duckprof/pkg/infrastructure/metrics"
)

// TrackedAllocator wraps a memory.Allocator and tracks live and peak bytes.
type TrackedAllocator struct {
	underlying  memory.Allocator
	bytesUsed   atomic.Int64
	peak        atomic.Int64
	allocations atomic.Int64
}

// NewTrackedAllocator creates a new TrackedAllocator.
func NewTrackedAllocator(underlying memory.Allocator) *TrackedAllocator {
	if underlying == nil {
		underlying = memory.NewGoAllocator()
	}
	return &TrackedAllocator{underlying: underlying}
}

// Allocate implements memory.Allocator.
func (a *TrackedAllocator) Allocate(size int) []byte {
	a.allocations.Add(1)
	a.grow(int64(size))
	return a.underlying.Allocate(size)
}

// Reallocate implements memory.Allocator.
func (a *TrackedAllocator) Reallocate(size int, b []byte) []byte {
	a.grow(int64(size - len(b)))
	return a.underlying.Reallocate(size, b)
}

// Free implements memory.Allocator.
func (a *TrackedAllocator) Free(b []byte) {
	a.bytesUsed.Add(-int64(len(b)))
	a.underlying.Free(b)
}

func (a *TrackedAllocator) grow(delta int64) {
	used := a.bytesUsed.Add(delta)
	for {
		peak := a.peak.Load()
		if used <= peak || a.peak.CompareAndSwap(peak, used) {
			return
		}
	}
}

// BytesUsed returns the number of bytes currently allocated.
func (a *TrackedAllocator) BytesUsed() int64 {
	return a.bytesUsed.Load()
}

// PeakBytes returns the highest BytesUsed seen so far.
func (a *TrackedAllocator) PeakBytes() int64 {
	return a.peak.Load()
}

// Allocations returns the number of Allocate calls.
func (a *TrackedAllocator) Allocations() int64 {
	return a.allocations.Load()
}

// Report records the current and peak byte counts as gauges.
func (a *TrackedAllocator) Report(collector metrics.Collector) {
	collector.RecordGauge(metrics.ArrowBytesAllocated, float64(a.BytesUsed()))
	collector.RecordGauge(metrics.ArrowBytesPeak, float64(a.PeakBytes()))
}

// ReportEvery calls Report on every tick until ctx is done.
func (a *TrackedAllocator) ReportEvery(ctx context.Context, interval time.Duration, collector metrics.Collector) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.Report(collector)
			return
		case <-ticker.C:
			a.Report(collector)
		}
	}
}
