package postingstore

import (
	"context"

	"github.com/hupe1980/refstore"
)

// CompactWorst reclaims fragmented arena buffers. refs is the caller's full
// set of live posting refs (its dictionary); entries living in the selected
// buffers are migrated and their slots in refs updated in place. Returns the
// number of migrated entries.
//
// Migration throughput is throttled by the store's resource controller when
// one is configured. The old buffers retire through the hold lists, so a
// Commit/Reclaim cycle after CompactWorst returns their memory.
func (s *Store) CompactWorst(ctx context.Context, refs []refstore.EntryRef) (int, error) {
	spec := s.strategy.ShouldCompact(s.arena.MemoryUsage(), s.arena.AddressSpaceUsage())
	if !spec.Compact() {
		return 0, nil
	}
	return s.Compact(ctx, spec, refs)
}

// Compact runs one compaction round for the given pressures regardless of
// thresholds. See CompactWorst.
func (s *Store) Compact(ctx context.Context, spec refstore.CompactionSpec, refs []refstore.EntryRef) (int, error) {
	ids, err := s.arena.StartCompactWorstBuffers(spec, s.strategy)
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	// Reserve the migration budget up front so a canceled round can back out
	// before anything moved.
	var totalBytes int
	for _, ref := range refs {
		if ref.Valid() && s.arena.Compacting(ref) {
			totalBytes += s.entryBytes(ref)
		}
	}
	if s.controller != nil {
		if err := s.controller.ThrottleCompaction(ctx, totalBytes); err != nil {
			s.arena.AbortCompact(ids)
			return 0, err
		}
	}

	moved := 0
	for i, ref := range refs {
		if !ref.Valid() || !s.arena.Compacting(ref) {
			continue
		}
		newRef, err := s.move(ref)
		if err != nil {
			// Migrated entries are already marked dead, so the unfinished
			// buffers can keep serving the rest.
			s.arena.AbortCompact(ids)
			return moved, err
		}
		refs[i] = newRef
		moved++
	}

	s.arena.FinishCompact(ids)
	return moved, nil
}

// entryBytes returns the in-buffer size of the entry behind ref.
func (s *Store) entryBytes(ref refstore.EntryRef) int {
	if s.isBitmap(ref) {
		return 4
	}
	return classArraySizes[s.classOf(ref)] * 4
}

// move copies one entry out of its compacting buffer and marks the old slot
// dead. The new entry lands in the type's current active buffer.
func (s *Store) move(ref refstore.EntryRef) (refstore.EntryRef, error) {
	if s.isBitmap(ref) {
		slot := *refstore.Get[uint32](s.arena, ref)
		newRef, err := s.bitmaps.Alloc(slot)
		if err != nil {
			return 0, err
		}
		size := s.registry.bytes(slot)
		s.arena.DecExtraUsedBytes(ref, size)
		s.arena.IncExtraUsedBytes(newRef, size)
		s.arena.HoldEntry(ref)
		return newRef, nil
	}

	arraySize := classArraySizes[s.classOf(ref)]
	entry := refstore.GetArray[uint32](s.arena, ref, arraySize)
	newRef, err := s.classes[s.classOf(ref)].AllocArray(entry)
	if err != nil {
		return 0, err
	}
	s.arena.HoldEntry(ref)
	return newRef, nil
}
