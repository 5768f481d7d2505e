package refstore

import (
	"sync/atomic"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems like Prometheus.
type MetricsCollector interface {
	// RecordAlloc is called after each entry allocation.
	// numElems is the entry size in elements; fromFreeList reports whether a
	// dead slot was reused.
	RecordAlloc(numElems int, fromFreeList bool)

	// RecordHold is called when an entry is marked dead and parked on the
	// hold list.
	RecordHold(numElems int)

	// RecordBufferSwitch is called when a type's active buffer is switched.
	RecordBufferSwitch(typeID TypeID, entries uint32)

	// RecordCompactionStart is called when buffers are selected for
	// compaction.
	RecordCompactionStart(numBuffers int)

	// RecordTrim is called after each hold-list trim with the number of
	// elements and buffers physically freed.
	RecordTrim(elemsFreed, buffersFreed int)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordAlloc(int, bool)                {}
func (NoopMetricsCollector) RecordHold(int)                       {}
func (NoopMetricsCollector) RecordBufferSwitch(TypeID, uint32)    {}
func (NoopMetricsCollector) RecordCompactionStart(int)            {}
func (NoopMetricsCollector) RecordTrim(int, int)                  {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	AllocCount         atomic.Int64
	AllocFromFreeList  atomic.Int64
	AllocElems         atomic.Int64
	HoldCount          atomic.Int64
	HoldElems          atomic.Int64
	BufferSwitchCount  atomic.Int64
	CompactionsStarted atomic.Int64
	CompactedBuffers   atomic.Int64
	TrimCount          atomic.Int64
	TrimmedElems       atomic.Int64
	TrimmedBuffers     atomic.Int64
}

// RecordAlloc implements MetricsCollector.
func (b *BasicMetricsCollector) RecordAlloc(numElems int, fromFreeList bool) {
	b.AllocCount.Add(1)
	b.AllocElems.Add(int64(numElems))
	if fromFreeList {
		b.AllocFromFreeList.Add(1)
	}
}

// RecordHold implements MetricsCollector.
func (b *BasicMetricsCollector) RecordHold(numElems int) {
	b.HoldCount.Add(1)
	b.HoldElems.Add(int64(numElems))
}

// RecordBufferSwitch implements MetricsCollector.
func (b *BasicMetricsCollector) RecordBufferSwitch(TypeID, uint32) {
	b.BufferSwitchCount.Add(1)
}

// RecordCompactionStart implements MetricsCollector.
func (b *BasicMetricsCollector) RecordCompactionStart(numBuffers int) {
	b.CompactionsStarted.Add(1)
	b.CompactedBuffers.Add(int64(numBuffers))
}

// RecordTrim implements MetricsCollector.
func (b *BasicMetricsCollector) RecordTrim(elemsFreed, buffersFreed int) {
	b.TrimCount.Add(1)
	b.TrimmedElems.Add(int64(elemsFreed))
	b.TrimmedBuffers.Add(int64(buffersFreed))
}
