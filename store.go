package refstore

import (
	"fmt"
	"unsafe"

	"github.com/hupe1980/refstore/generation"
	"github.com/hupe1980/refstore/internal/conv"
	"github.com/hupe1980/refstore/internal/mmap"
)

// registeredType is the per-type bookkeeping for one BufferType.
type registeredType struct {
	typ          BufferType
	activeBuffer BufferID
	lastEntries  uint32 // entry capacity of the most recently mapped buffer

	// freeListBuffers lists active buffers of this type with a non-empty
	// free list, newest last.
	freeListBuffers  []BufferID
	freeListsEnabled bool
}

// Store is the typed-buffer memory arena. It owns all buffers, hands out
// capacity addressed by EntryRefs, and mediates all reclamation through
// generation-stamped hold lists.
//
// # Concurrency Model
//
// One mutating goroutine owns all structural mutation: allocation, marking
// dead, compaction, and hold-list transfers. Any number of reader goroutines
// translate EntryRefs via EntryData/Get/GetArray with zero synchronization;
// published buffer memory is never mutated in place, structural changes only
// add buffers and defer frees behind the generation contract.
type Store struct {
	refType RefType

	logger   *Logger
	metrics  MetricsCollector
	acquirer MemoryAcquirer

	types  []registeredType
	states []BufferState

	freeBufferIDs []BufferID
	nextBufferID  uint32

	elemHold1 []elemHold1
	elemHold2 []elemHold2
	bufHold1  []BufferID
	bufHold2  []bufferHold2

	defaultFreeLists bool
	initialized      bool
}

// New creates an empty Store. Register types with AddType, then call
// InitActiveBuffers before the first allocation.
func New(opts ...Option) (*Store, error) {
	o := options{
		refType:          DefaultRefType,
		logger:           NoopLogger(),
		metricsCollector: NoopMetricsCollector{},
		enableFreeLists:  true,
	}
	for _, opt := range opts {
		opt(&o)
	}

	// Re-validate: WithOffsetBits constructs the RefType unchecked.
	refType, err := NewRefType(o.refType.offsetBits)
	if err != nil {
		return nil, err
	}

	return &Store{
		refType:          refType,
		logger:           o.logger,
		metrics:          o.metricsCollector,
		acquirer:         o.acquirer,
		states:           make([]BufferState, refType.NumBuffers()),
		defaultFreeLists: o.enableFreeLists,
	}, nil
}

// RefType returns the store's EntryRef encoding.
func (s *Store) RefType() RefType {
	return s.refType
}

// AddType registers a new logical data type and returns its TypeID.
// Must be called for every type before InitActiveBuffers.
func (s *Store) AddType(typ BufferType) (TypeID, error) {
	if s.initialized {
		return 0, ErrTypeRegistryClosed
	}
	if typ.ElemSize() < 1 {
		return 0, fmt.Errorf("refstore: element size %d must be positive", typ.ElemSize())
	}
	if typ.ArraySize() < 1 {
		return 0, fmt.Errorf("refstore: array size %d must be positive", typ.ArraySize())
	}
	if _, err := conv.IntToUint32(typ.ArraySize()); err != nil {
		return 0, fmt.Errorf("refstore: array size: %w", err)
	}
	if typ.MinEntries() < 1 || typ.MaxEntries() < typ.MinEntries() {
		return 0, fmt.Errorf("refstore: invalid entry bounds [%d, %d]", typ.MinEntries(), typ.MaxEntries())
	}
	if typ.MaxEntries() > s.refType.OffsetSize() {
		return 0, fmt.Errorf("refstore: max entries %d exceeds offset space %d", typ.MaxEntries(), s.refType.OffsetSize())
	}

	id := TypeID(len(s.types))
	s.types = append(s.types, registeredType{
		typ:              typ,
		freeListsEnabled: s.defaultFreeLists,
	})
	return id, nil
}

// NumTypes returns the number of registered types.
func (s *Store) NumTypes() int {
	return len(s.types)
}

// InitActiveBuffers establishes the first active buffer for every registered
// type. Called exactly once after all types are registered. Entry 0 of
// buffer 0 is reserved so the zero EntryRef is never handed out.
func (s *Store) InitActiveBuffers() error {
	if s.initialized {
		return fmt.Errorf("refstore: active buffers already initialized")
	}
	if len(s.types) == 0 {
		return fmt.Errorf("refstore: no types registered")
	}

	for id := range s.types {
		if _, err := s.allocActiveBuffer(TypeID(id), 0); err != nil {
			return err
		}
	}

	s.initialized = true
	return nil
}

// reserveBufferID returns a Free buffer slot, reusing retired ids first.
func (s *Store) reserveBufferID() (BufferID, error) {
	if n := len(s.freeBufferIDs); n > 0 {
		id := s.freeBufferIDs[n-1]
		s.freeBufferIDs = s.freeBufferIDs[:n-1]
		return id, nil
	}
	if s.nextBufferID < uint32(len(s.states)) {
		id := BufferID(s.nextBufferID)
		s.nextBufferID++
		return id, nil
	}
	return 0, fmt.Errorf("%w: no free buffer ids", ErrAddressSpaceExhausted)
}

// grownEntries applies the clamped-doubling growth policy and ensures the
// result fits entriesNeeded.
func (s *Store) grownEntries(t *registeredType, entriesNeeded uint32) (uint32, error) {
	typ := t.typ
	entries := typ.MinEntries()
	if t.lastEntries > 0 {
		entries = t.lastEntries * 2
		if entries < t.lastEntries { // overflow
			entries = typ.MaxEntries()
		}
	}
	if entries > typ.MaxEntries() {
		entries = typ.MaxEntries()
	}
	if entries < entriesNeeded {
		if entriesNeeded > typ.MaxEntries() {
			return 0, fmt.Errorf("%w: %d entries needed, type max is %d",
				ErrAddressSpaceExhausted, entriesNeeded, typ.MaxEntries())
		}
		entries = entriesNeeded
	}
	return entries, nil
}

// allocActiveBuffer maps a new buffer and installs it as the type's current
// active buffer. The previous active buffer (if any) is left untouched.
func (s *Store) allocActiveBuffer(typeID TypeID, entriesNeeded uint32) (BufferID, error) {
	t := &s.types[typeID]

	bufferID, err := s.reserveBufferID()
	if err != nil {
		return 0, err
	}
	if bufferID == 0 {
		entriesNeeded++ // the reserved null entry eats one
	}

	entries, err := s.grownEntries(t, entriesNeeded)
	if err != nil {
		s.freeBufferIDs = append(s.freeBufferIDs, bufferID)
		return 0, err
	}

	size, err := conv.Uint64ToInt(uint64(entries) * uint64(t.typ.ArraySize()) * uint64(t.typ.ElemSize()))
	if err != nil {
		s.freeBufferIDs = append(s.freeBufferIDs, bufferID)
		return 0, fmt.Errorf("refstore: buffer size: %w", err)
	}
	if s.acquirer != nil {
		if err := s.acquirer.AcquireMemory(int64(size)); err != nil {
			s.freeBufferIDs = append(s.freeBufferIDs, bufferID)
			return 0, err
		}
	}

	mapping, err := mmap.MapAnon(size)
	if err != nil {
		if s.acquirer != nil {
			s.acquirer.ReleaseMemory(int64(size))
		}
		s.freeBufferIDs = append(s.freeBufferIDs, bufferID)
		return 0, fmt.Errorf("refstore: mapping buffer memory: %w", err)
	}

	st := &s.states[bufferID]
	st.onActive(typeID, t.typ, mapping, entries)

	// Buffer slot 0 reserves its first entry so the zero EntryRef is never
	// handed out. Counted as used, never dead, never free-listed. This must
	// hold every time slot 0 is activated, not just at init, since retired
	// slots are reused.
	if bufferID == 0 {
		st.usedElems += uint32(st.arraySize)
	}

	t.activeBuffer = bufferID
	t.lastEntries = entries

	return bufferID, nil
}

// EnsureBufferCapacity guarantees the type's active buffer has at least
// elemsNeeded free elements, switching or growing the active buffer when it
// does not. An ErrAddressSpaceExhausted result is fatal by contract.
func (s *Store) EnsureBufferCapacity(typeID TypeID, elemsNeeded uint32) error {
	if !s.initialized {
		return ErrNotInitialized
	}
	if int(typeID) >= len(s.types) {
		return &ErrInvalidTypeID{TypeID: typeID}
	}

	t := &s.types[typeID]
	if s.states[t.activeBuffer].Remaining() >= elemsNeeded {
		return nil
	}
	return s.SwitchActiveBuffer(typeID, elemsNeeded)
}

// SwitchActiveBuffer retires the type's current active buffer and installs a
// fresh one with room for at least elemsNeeded elements. The old buffer is
// excluded from new writes; if it carries no live elements it goes on hold
// immediately, otherwise it stays readable until compaction retires it.
func (s *Store) SwitchActiveBuffer(typeID TypeID, elemsNeeded uint32) error {
	if !s.initialized {
		return ErrNotInitialized
	}
	if int(typeID) >= len(s.types) {
		return &ErrInvalidTypeID{TypeID: typeID}
	}

	t := &s.types[typeID]
	arraySize := uint32(t.typ.ArraySize())
	entriesNeeded := (elemsNeeded + arraySize - 1) / arraySize

	oldBuffer := t.activeBuffer
	newBuffer, err := s.allocActiveBuffer(typeID, entriesNeeded)
	if err != nil {
		return err
	}

	old := &s.states[oldBuffer]
	if old.usedElems == old.deadElems {
		s.HoldBuffer(oldBuffer)
	}

	s.logger.LogBufferSwitch(typeID, oldBuffer, newBuffer, t.lastEntries)
	s.metrics.RecordBufferSwitch(typeID, t.lastEntries)
	return nil
}

// ActiveBuffer returns the type's current allocation target.
func (s *Store) ActiveBuffer(typeID TypeID) BufferID {
	return s.types[typeID].activeBuffer
}

// TypeOf returns the TypeID of the buffer the ref points into.
func (s *Store) TypeOf(ref EntryRef) TypeID {
	return s.states[s.refType.BufferID(ref)].typeID
}

// State returns a copy of the buffer's bookkeeping for observability.
func (s *Store) State(bufferID BufferID) BufferState {
	st := s.states[bufferID]
	st.freeList = nil // internal; don't leak the backing slice
	return st
}

// allocEntry reserves one entry for the type and returns its ref and memory.
// Reuses a free-listed slot when one is available.
func (s *Store) allocEntry(typeID TypeID) (EntryRef, []byte, error) {
	if !s.initialized {
		return 0, nil, ErrNotInitialized
	}
	t := &s.types[typeID]
	arraySize := uint32(t.typ.ArraySize())

	if t.freeListsEnabled {
		if ref, data, ok := s.popFreeListEntry(t, arraySize); ok {
			return ref, data, nil
		}
	}

	if err := s.EnsureBufferCapacity(typeID, arraySize); err != nil {
		return 0, nil, err
	}

	bufferID := t.activeBuffer
	st := &s.states[bufferID]
	offset := st.usedElems / arraySize
	st.usedElems += arraySize

	s.metrics.RecordAlloc(int(arraySize), false)
	return s.refType.Make(bufferID, offset), st.entryBytes(offset), nil
}

// popFreeListEntry reuses the most recently freed entry of the type, if any.
// The reused memory is zeroed.
func (s *Store) popFreeListEntry(t *registeredType, arraySize uint32) (EntryRef, []byte, bool) {
	for n := len(t.freeListBuffers); n > 0; n = len(t.freeListBuffers) {
		bufferID := t.freeListBuffers[n-1]
		st := &s.states[bufferID]

		ref := st.popFree()
		if !ref.Valid() {
			st.freeListActive = false
			t.freeListBuffers = t.freeListBuffers[:n-1]
			continue
		}

		st.deadElems -= arraySize
		data := st.entryBytes(s.refType.Offset(ref))
		clear(data)

		s.metrics.RecordAlloc(int(arraySize), true)
		return ref, data, true
	}
	return 0, nil, false
}

// HoldEntry marks the entry dead and defers reclamation of its slot until a
// generation no live reader can observe. This is the safe removal path for
// published entries.
func (s *Store) HoldEntry(ref EntryRef) {
	st := &s.states[s.refType.BufferID(ref)]
	n := uint32(st.arraySize)
	st.deadElems += n
	st.holdElems += n
	s.elemHold1 = append(s.elemHold1, elemHold1{ref: ref, numElems: n})
	s.metrics.RecordHold(int(n))
}

// FreeEntry marks the entry dead and immediately recycles its slot through
// the free list. Only valid when no reader can hold the ref, e.g. for an
// entry that was never published.
func (s *Store) FreeEntry(ref EntryRef) {
	st := &s.states[s.refType.BufferID(ref)]
	st.deadElems += uint32(st.arraySize)
	s.pushFreeList(ref, st)
}

// pushFreeList makes a dead entry reusable when the buffer is eligible:
// active, not compacting, free lists on.
func (s *Store) pushFreeList(ref EntryRef, st *BufferState) {
	if st.kind != BufferActive || st.compacting {
		return
	}
	t := &s.types[st.typeID]
	if !t.freeListsEnabled {
		return
	}
	st.pushFree(ref)
	if !st.freeListActive {
		st.freeListActive = true
		t.freeListBuffers = append(t.freeListBuffers, s.refType.BufferID(ref))
	}
}

// HoldBuffer transitions an active buffer to Hold. The buffer stops serving
// new writes, its free list is dropped, and it stays readable until
// TrimHoldLists passes its retirement generation. The caller must have
// switched the type's active buffer away from it first.
func (s *Store) HoldBuffer(bufferID BufferID) {
	st := &s.states[bufferID]
	if st.kind != BufferActive {
		return
	}

	s.purgeElemHolds(bufferID)
	if st.freeListActive {
		s.detachFreeList(bufferID, st)
	}
	st.onHold()
	s.bufHold1 = append(s.bufHold1, bufferID)
}

// purgeElemHolds drops element hold records pointing into the buffer; their
// memory is reclaimed wholesale when the buffer itself is freed.
func (s *Store) purgeElemHolds(bufferID BufferID) {
	keep1 := s.elemHold1[:0]
	for _, h := range s.elemHold1 {
		if s.refType.BufferID(h.ref) != bufferID {
			keep1 = append(keep1, h)
		}
	}
	s.elemHold1 = keep1

	keep2 := s.elemHold2[:0]
	for _, h := range s.elemHold2 {
		if s.refType.BufferID(h.ref) != bufferID {
			keep2 = append(keep2, h)
		}
	}
	s.elemHold2 = keep2
}

func (s *Store) detachFreeList(bufferID BufferID, st *BufferState) {
	t := &s.types[st.typeID]
	for i, id := range t.freeListBuffers {
		if id == bufferID {
			t.freeListBuffers = append(t.freeListBuffers[:i], t.freeListBuffers[i+1:]...)
			break
		}
	}
	st.freeList = nil
	st.freeListActive = false
}

// TransferHoldLists promotes all hold1 records (entries and buffers freed
// since the last freeze point) to hold2, stamped with gen. Call once per
// logical freeze point, before advancing the generation observable to new
// readers, with nondecreasing generations.
func (s *Store) TransferHoldLists(gen generation.Generation) {
	for _, h := range s.elemHold1 {
		s.elemHold2 = append(s.elemHold2, elemHold2{ref: h.ref, numElems: h.numElems, gen: gen})
	}
	s.elemHold1 = s.elemHold1[:0]

	for _, id := range s.bufHold1 {
		s.bufHold2 = append(s.bufHold2, bufferHold2{bufferID: id, gen: gen})
	}
	s.bufHold1 = s.bufHold1[:0]
}

// TrimHoldLists frees every hold2 record whose stamped generation is older
// than usedGen: expired entries return to free lists, expired buffers are
// unmapped. usedGen must not exceed the oldest generation any live reader
// snapshot could have. This is the only place physical memory is reclaimed.
func (s *Store) TrimHoldLists(usedGen generation.Generation) {
	elemsFreed := 0
	i := 0
	for ; i < len(s.elemHold2); i++ {
		h := s.elemHold2[i]
		if !generation.InPast(h.gen, usedGen) {
			break
		}
		st := &s.states[s.refType.BufferID(h.ref)]
		st.holdElems -= h.numElems
		s.pushFreeList(h.ref, st)
		elemsFreed += int(h.numElems)
	}
	if i > 0 {
		s.elemHold2 = append(s.elemHold2[:0], s.elemHold2[i:]...)
	}

	buffersFreed := 0
	j := 0
	for ; j < len(s.bufHold2); j++ {
		h := s.bufHold2[j]
		if !generation.InPast(h.gen, usedGen) {
			break
		}
		s.freeBuffer(h.bufferID)
		buffersFreed++
	}
	if j > 0 {
		s.bufHold2 = append(s.bufHold2[:0], s.bufHold2[j:]...)
	}

	if elemsFreed > 0 || buffersFreed > 0 {
		s.metrics.RecordTrim(elemsFreed, buffersFreed)
		s.logger.LogTrim(elemsFreed, buffersFreed)
	}
}

// freeBuffer unmaps a held buffer and returns its slot for reuse.
func (s *Store) freeBuffer(bufferID BufferID) {
	released := s.states[bufferID].onFree()
	if s.acquirer != nil {
		s.acquirer.ReleaseMemory(released)
	}
	s.freeBufferIDs = append(s.freeBufferIDs, bufferID)
}

// EntryData translates an EntryRef to a pointer into the owning buffer.
// O(1), no validation beyond the buffer index in release builds; the caller
// must never pass a ref whose buffer has been fully freed (held is safe).
func (s *Store) EntryData(ref EntryRef) unsafe.Pointer {
	st := &s.states[s.refType.BufferID(ref)]
	offset := s.refType.Offset(ref)
	if debugGuards {
		s.checkRef(st, offset)
	}
	byteOff := uintptr(offset) * uintptr(st.arraySize) * uintptr(st.elemSize)
	return unsafe.Pointer(&st.data[byteOff])
}

func (s *Store) checkRef(st *BufferState, offset uint32) {
	if st.kind == BufferFree {
		panic("refstore: ref into freed buffer")
	}
	if uint64(offset)*uint64(st.arraySize) >= uint64(st.usedElems) {
		panic(fmt.Sprintf("refstore: entry offset %d beyond used elements %d", offset, st.usedElems))
	}
}

// EnableFreeLists turns on dead-slot reuse for all types.
func (s *Store) EnableFreeLists() {
	for i := range s.types {
		s.types[i].freeListsEnabled = true
	}
	s.defaultFreeLists = true
}

// DisableFreeLists turns off dead-slot reuse for all types and drops all
// accumulated free lists; the slots become reclaimable by compaction only.
func (s *Store) DisableFreeLists() {
	for i := range s.types {
		t := &s.types[i]
		t.freeListsEnabled = false
		for _, id := range t.freeListBuffers {
			st := &s.states[id]
			st.freeList = nil
			st.freeListActive = false
		}
		t.freeListBuffers = nil
	}
	s.defaultFreeLists = false
}

// MemStats aggregates element counts across all buffers.
type MemStats struct {
	AllocElems uint64
	UsedElems  uint64
	DeadElems  uint64
	HoldElems  uint64
}

// MemStats returns aggregate element counts for observability and tests.
func (s *Store) MemStats() MemStats {
	var m MemStats
	for i := range s.states {
		st := &s.states[i]
		if st.kind == BufferFree {
			continue
		}
		m.AllocElems += uint64(st.allocElems)
		m.UsedElems += uint64(st.usedElems)
		m.DeadElems += uint64(st.deadElems)
		m.HoldElems += uint64(st.holdElems)
	}
	return m
}

// MemoryUsage aggregates byte-level usage across all buffers.
func (s *Store) MemoryUsage() MemoryUsage {
	var u MemoryUsage
	for i := range s.states {
		st := &s.states[i]
		if st.kind == BufferFree {
			continue
		}
		elemSize := uint64(st.elemSize)
		u.AllocatedBytes += uint64(st.allocElems) * elemSize
		u.UsedBytes += uint64(st.usedElems)*elemSize + st.extraUsedBytes
		u.DeadBytes += uint64(st.deadElems) * elemSize
		u.HoldBytes += uint64(st.holdElems)*elemSize + st.extraHoldBytes
	}
	return u
}

// AddressSpaceUsage aggregates entry-address consumption across all buffers.
func (s *Store) AddressSpaceUsage() AddressSpaceUsage {
	u := AddressSpaceUsage{
		LimitEntries: uint64(s.refType.NumBuffers()) * uint64(s.refType.OffsetSize()),
	}
	for i := range s.states {
		st := &s.states[i]
		if st.kind == BufferFree || st.arraySize == 0 {
			continue
		}
		u.UsedEntries += uint64(st.usedElems) / uint64(st.arraySize)
		u.DeadEntries += uint64(st.deadElems) / uint64(st.arraySize)
	}
	return u
}

// IncExtraUsedBytes accounts memory owned by the entry but held outside the
// buffer (e.g. a promoted bitmap container).
func (s *Store) IncExtraUsedBytes(ref EntryRef, bytes uint64) {
	s.states[s.refType.BufferID(ref)].extraUsedBytes += bytes
}

// DecExtraUsedBytes reverses IncExtraUsedBytes when the external memory is
// released.
func (s *Store) DecExtraUsedBytes(ref EntryRef, bytes uint64) {
	s.states[s.refType.BufferID(ref)].extraUsedBytes -= bytes
}

// Close unmaps all buffer memory. The caller must guarantee no readers are
// active; typically preceded by a final TransferHoldLists/TrimHoldLists
// cycle. The store cannot be reused afterwards.
func (s *Store) Close() error {
	for i := range s.states {
		st := &s.states[i]
		if st.kind == BufferFree {
			continue
		}
		released := st.onFree()
		if s.acquirer != nil {
			s.acquirer.ReleaseMemory(released)
		}
	}
	s.elemHold1 = nil
	s.elemHold2 = nil
	s.bufHold1 = nil
	s.bufHold2 = nil
	s.initialized = false
	return nil
}

func (s *Store) String() string {
	m := s.MemStats()
	return fmt.Sprintf(
		"Store{types: %d, buffers: %d, used: %d, dead: %d, hold: %d}",
		len(s.types),
		int(s.nextBufferID)-len(s.freeBufferIDs),
		m.UsedElems,
		m.DeadElems,
		m.HoldElems,
	)
}
