package refstore

// CompactionStrategy holds the thresholds deciding when dead space is worth
// reclaiming by compaction rather than waiting for free-list reuse.
type CompactionStrategy struct {
	// MaxDeadBytesRatio is the tolerated dead-to-used byte ratio before
	// memory-pressure compaction kicks in.
	MaxDeadBytesRatio float64
	// MaxDeadAddressSpaceRatio is the tolerated dead-to-used entry-address
	// ratio before address-space-pressure compaction kicks in.
	MaxDeadAddressSpaceRatio float64
}

// DefaultCompactionStrategy mirrors the tolerances used by attribute and
// posting stores: memory is compacted eagerly, address space lazily.
var DefaultCompactionStrategy = CompactionStrategy{
	MaxDeadBytesRatio:        0.05,
	MaxDeadAddressSpaceRatio: 0.2,
}

// CompactionSpec says which pressures a compaction round should relieve.
type CompactionSpec struct {
	CompactMemory       bool
	CompactAddressSpace bool
}

// Compact reports whether any compaction is requested.
func (c CompactionSpec) Compact() bool {
	return c.CompactMemory || c.CompactAddressSpace
}

// ShouldCompact derives a CompactionSpec from current usage.
func (s CompactionStrategy) ShouldCompact(mem MemoryUsage, addr AddressSpaceUsage) CompactionSpec {
	var spec CompactionSpec
	if mem.UsedBytes > 0 && float64(mem.DeadBytes) > s.MaxDeadBytesRatio*float64(mem.UsedBytes) {
		spec.CompactMemory = true
	}
	if addr.DeadRatio() > s.MaxDeadAddressSpaceRatio {
		spec.CompactAddressSpace = true
	}
	return spec
}

// StartCompactWorstBuffer selects the type's buffer with the highest
// dead-to-used ratio, marks it compacting, and returns its id. When the
// worst buffer is the current active buffer, a fresh active buffer is
// installed first so migrated entries land elsewhere. Returns false when no
// buffer of the type carries dead space.
//
// The caller must migrate every live entry out of the returned buffer and
// remap its external references before calling FinishCompact.
func (s *Store) StartCompactWorstBuffer(typeID TypeID) (BufferID, bool, error) {
	if !s.initialized {
		return 0, false, ErrNotInitialized
	}
	if int(typeID) >= len(s.types) {
		return 0, false, &ErrInvalidTypeID{TypeID: typeID}
	}

	worst, ok := s.worstBuffer(func(st *BufferState) bool { return st.typeID == typeID })
	if !ok {
		return 0, false, nil
	}
	if err := s.markCompacting(worst); err != nil {
		return 0, false, err
	}

	ids := []BufferID{worst}
	s.metrics.RecordCompactionStart(1)
	s.logger.LogCompactionStart(ids)
	return worst, true, nil
}

// StartCompactWorstBuffers selects, per type, the worst buffer matching the
// spec's pressure filters and marks it compacting. Memory pressure weighs
// dead bytes; address-space pressure weighs dead entry addresses.
func (s *Store) StartCompactWorstBuffers(spec CompactionSpec, strategy CompactionStrategy) ([]BufferID, error) {
	if !s.initialized {
		return nil, ErrNotInitialized
	}
	if !spec.Compact() {
		return nil, nil
	}

	var toCompact []BufferID
	for typeID := range s.types {
		worst, ok := s.worstBuffer(func(st *BufferState) bool {
			if st.typeID != TypeID(typeID) {
				return false
			}
			deadRatio := float64(st.deadElems) / float64(st.usedElems)
			if spec.CompactMemory && deadRatio > strategy.MaxDeadBytesRatio {
				return true
			}
			if spec.CompactAddressSpace && deadRatio > strategy.MaxDeadAddressSpaceRatio {
				return true
			}
			return false
		})
		if !ok {
			continue
		}
		if err := s.markCompacting(worst); err != nil {
			return toCompact, err
		}
		toCompact = append(toCompact, worst)
	}

	if len(toCompact) > 0 {
		s.metrics.RecordCompactionStart(len(toCompact))
		s.logger.LogCompactionStart(toCompact)
	}
	return toCompact, nil
}

// worstBuffer returns the active, not-yet-compacting buffer with the highest
// dead-to-used ratio among those matching the filter.
func (s *Store) worstBuffer(match func(*BufferState) bool) (BufferID, bool) {
	var (
		worst      BufferID
		worstRatio float64
		found      bool
	)
	for i := range s.states {
		st := &s.states[i]
		if st.kind != BufferActive || st.compacting || st.usedElems == 0 || st.deadElems == 0 {
			continue
		}
		if !match(st) {
			continue
		}
		ratio := float64(st.deadElems) / float64(st.usedElems)
		if !found || ratio > worstRatio {
			worst = BufferID(i)
			worstRatio = ratio
			found = true
		}
	}
	return worst, found
}

// markCompacting flags the buffer, detaches its free list so its dead slots
// stop being reused, and moves the type's allocation target off it.
func (s *Store) markCompacting(bufferID BufferID) error {
	st := &s.states[bufferID]
	t := &s.types[st.typeID]

	if t.activeBuffer == bufferID {
		if _, err := s.allocActiveBuffer(st.typeID, 1); err != nil {
			return err
		}
	}

	if st.freeListActive {
		s.detachFreeList(bufferID, st)
	}
	st.compacting = true
	return nil
}

// Compacting reports whether the ref points into a buffer marked for
// compaction, i.e. whether the caller must migrate the entry.
func (s *Store) Compacting(ref EntryRef) bool {
	return s.states[s.refType.BufferID(ref)].compacting
}

// AbortCompact backs out of a compaction round before any migration
// happened: the buffers simply resume normal service. Entries already
// migrated out must have been marked dead individually; the buffer keeps
// serving the rest.
func (s *Store) AbortCompact(ids []BufferID) {
	for _, id := range ids {
		s.states[id].compacting = false
	}
}

// FinishCompact retires the migrated buffers through the standard hold-list
// path. Every live entry must have been moved out and every external
// reference remapped before this call.
func (s *Store) FinishCompact(toHold []BufferID) {
	for _, id := range toHold {
		st := &s.states[id]
		st.compacting = false
		s.HoldBuffer(id)
	}
}
