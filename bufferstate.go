package refstore

import (
	"github.com/hupe1980/refstore/internal/mmap"
)

// BufferKind is the lifecycle state of a buffer slot.
type BufferKind uint8

const (
	// BufferFree marks a slot with no backing memory.
	BufferFree BufferKind = iota
	// BufferActive marks a buffer holding live data. Exactly one active
	// buffer per type is the current allocation target; older active buffers
	// only serve reads until they are compacted or held.
	BufferActive
	// BufferHold marks a retired buffer kept alive for readers until the
	// hold-list generation passes.
	BufferHold
)

func (k BufferKind) String() string {
	switch k {
	case BufferFree:
		return "free"
	case BufferActive:
		return "active"
	case BufferHold:
		return "hold"
	default:
		return "unknown"
	}
}

// BufferState tracks per-buffer bookkeeping: capacity and used/dead/hold
// element counts, the reusable-entry free list, and the compacting flag.
//
// Invariants: usedElems <= allocElems; deadElems <= usedElems; live elements
// are usedElems - deadElems. All counts are in elements, while allocation
// granularity is entries of arraySize elements.
type BufferState struct {
	kind      BufferKind
	typeID    TypeID
	arraySize int
	elemSize  int

	allocElems uint32
	usedElems  uint32
	deadElems  uint32
	holdElems  uint32

	// extraUsedBytes/extraHoldBytes account memory held outside the buffer
	// but owned by entries in it (e.g. promoted bitmap containers).
	extraUsedBytes uint64
	extraHoldBytes uint64

	compacting bool

	// freeList stacks entry refs available for O(1) reuse. Attached entries
	// are dead; the list is dropped when the buffer leaves the active state.
	freeList       []EntryRef
	freeListActive bool

	mapping *mmap.Mapping
	data    []byte
}

// The read accessors take value receivers so they work directly on the
// copies Store.State hands out.

// Kind returns the buffer lifecycle state.
func (s BufferState) Kind() BufferKind { return s.kind }

// TypeID returns the type this buffer stores.
func (s BufferState) TypeID() TypeID { return s.typeID }

// Capacity returns the buffer capacity in elements.
func (s BufferState) Capacity() uint32 { return s.allocElems }

// UsedElems returns the number of elements ever allocated in the buffer.
func (s BufferState) UsedElems() uint32 { return s.usedElems }

// DeadElems returns the number of elements logically removed.
func (s BufferState) DeadElems() uint32 { return s.deadElems }

// HoldElems returns the number of elements parked on hold lists.
func (s BufferState) HoldElems() uint32 { return s.holdElems }

// Remaining returns the number of unallocated elements.
func (s BufferState) Remaining() uint32 { return s.allocElems - s.usedElems }

// Compacting reports whether the buffer is marked for compaction.
func (s BufferState) Compacting() bool { return s.compacting }

// onActive installs backing memory and moves the slot Free -> Active.
func (s *BufferState) onActive(typeID TypeID, typ BufferType, mapping *mmap.Mapping, allocEntries uint32) {
	s.kind = BufferActive
	s.typeID = typeID
	s.arraySize = typ.ArraySize()
	s.elemSize = typ.ElemSize()
	s.allocElems = allocEntries * uint32(s.arraySize)
	s.usedElems = 0
	s.deadElems = 0
	s.holdElems = 0
	s.extraUsedBytes = 0
	s.extraHoldBytes = 0
	s.compacting = false
	s.freeList = nil
	s.freeListActive = false
	s.mapping = mapping
	s.data = mapping.Bytes()
}

// onHold moves the buffer Active -> Hold. The live elements are what keeps
// the buffer alive; they become the hold count. The free list dies with the
// active state.
func (s *BufferState) onHold() {
	s.kind = BufferHold
	s.holdElems = s.usedElems - s.deadElems
	s.extraHoldBytes = s.extraUsedBytes
	s.freeList = nil
	s.freeListActive = false
}

// onFree releases backing memory and moves the slot Hold -> Free.
// Returns the number of bytes released.
func (s *BufferState) onFree() int64 {
	released := int64(s.allocElems) * int64(s.elemSize)
	if s.mapping != nil {
		_ = s.mapping.Close()
	}
	*s = BufferState{}
	return released
}

// pushFree makes a dead entry available for reuse.
func (s *BufferState) pushFree(ref EntryRef) {
	s.freeList = append(s.freeList, ref)
}

// popFree takes the most recently freed entry, or an invalid ref if the
// list is empty.
func (s *BufferState) popFree() EntryRef {
	n := len(s.freeList)
	if n == 0 {
		return EntryRef(0)
	}
	ref := s.freeList[n-1]
	s.freeList = s.freeList[:n-1]
	return ref
}

// entryBytes returns the memory slice of the entry at the given entry
// offset. No validation; callers own correctness. The offset math is 64-bit:
// a buffer may exceed 4 GiB, so 32-bit byte offsets would wrap and alias low
// entries.
func (s *BufferState) entryBytes(offset uint32) []byte {
	entrySize := uint64(s.arraySize) * uint64(s.elemSize)
	start := uint64(offset) * entrySize
	return s.data[start : start+entrySize]
}
