package refstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompactionStrategy_ShouldCompact(t *testing.T) {
	strategy := DefaultCompactionStrategy

	t.Run("clean store", func(t *testing.T) {
		spec := strategy.ShouldCompact(
			MemoryUsage{UsedBytes: 1000, DeadBytes: 10},
			AddressSpaceUsage{UsedEntries: 100, DeadEntries: 1, LimitEntries: 1 << 32},
		)
		assert.False(t, spec.Compact())
	})

	t.Run("memory pressure", func(t *testing.T) {
		spec := strategy.ShouldCompact(
			MemoryUsage{UsedBytes: 1000, DeadBytes: 100},
			AddressSpaceUsage{UsedEntries: 100, DeadEntries: 1, LimitEntries: 1 << 32},
		)
		assert.True(t, spec.CompactMemory)
		assert.False(t, spec.CompactAddressSpace)
	})

	t.Run("address space pressure", func(t *testing.T) {
		spec := strategy.ShouldCompact(
			MemoryUsage{UsedBytes: 1000, DeadBytes: 10},
			AddressSpaceUsage{UsedEntries: 100, DeadEntries: 30, LimitEntries: 1 << 32},
		)
		assert.False(t, spec.CompactMemory)
		assert.True(t, spec.CompactAddressSpace)
	})
}

// compactionFixture: one uint64 type, free lists off so dead space can only
// be reclaimed by compaction.
func newCompactionFixture(t *testing.T) (*Store, TypeID, *Allocator[uint64]) {
	t.Helper()
	return newTestStore(t, 64, 256, WithFreeLists(false))
}

func TestStore_StartCompactWorstBuffer(t *testing.T) {
	t.Run("no dead space", func(t *testing.T) {
		s, typeID, alloc := newCompactionFixture(t)

		_, err := alloc.Alloc(1)
		require.NoError(t, err)

		_, ok, err := s.StartCompactWorstBuffer(typeID)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("invalid type id", func(t *testing.T) {
		s, _, _ := newCompactionFixture(t)
		_, _, err := s.StartCompactWorstBuffer(TypeID(9))
		var invalid *ErrInvalidTypeID
		assert.ErrorAs(t, err, &invalid)
	})

	t.Run("worst is the active buffer", func(t *testing.T) {
		s, typeID, alloc := newCompactionFixture(t)

		refs := make([]EntryRef, 0, 50)
		for i := 0; i < 50; i++ {
			ref, err := alloc.Alloc(uint64(i))
			require.NoError(t, err)
			refs = append(refs, ref)
		}
		for _, ref := range refs[:30] {
			alloc.Hold(ref)
		}
		s.TransferHoldLists(1)
		s.TrimHoldLists(2)

		active := s.ActiveBuffer(typeID)
		worst, ok, err := s.StartCompactWorstBuffer(typeID)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, active, worst)

		// Allocation must have moved off the compacting buffer so migrated
		// entries land elsewhere.
		assert.NotEqual(t, worst, s.ActiveBuffer(typeID))
		assert.True(t, s.State(worst).Compacting())
	})
}

func TestStore_CompactionCycle(t *testing.T) {
	s, typeID, alloc := newCompactionFixture(t)

	refs := make([]EntryRef, 0, 50)
	for i := 0; i < 50; i++ {
		ref, err := alloc.Alloc(uint64(i))
		require.NoError(t, err)
		refs = append(refs, ref)
	}
	for _, ref := range refs[:30] {
		alloc.Hold(ref)
	}
	s.TransferHoldLists(1)
	s.TrimHoldLists(2)

	deadBefore := s.MemStats().DeadElems
	require.EqualValues(t, 30, deadBefore)

	worst, ok, err := s.StartCompactWorstBuffer(typeID)
	require.NoError(t, err)
	require.True(t, ok)

	// Migrate the live entries and remap the external references.
	remap := make(map[EntryRef]EntryRef, 20)
	for _, ref := range refs[30:] {
		require.True(t, s.Compacting(ref))
		moved, err := alloc.Alloc(*alloc.Get(ref))
		require.NoError(t, err)
		require.False(t, s.Compacting(moved))
		remap[ref] = moved
	}
	s.FinishCompact([]BufferID{worst})
	require.Equal(t, BufferHold, s.State(worst).Kind())

	// Old refs stay readable until the retirement generation passes.
	for old, moved := range remap {
		assert.Equal(t, *alloc.Get(old), *alloc.Get(moved))
	}

	s.TransferHoldLists(2)
	s.TrimHoldLists(3)
	assert.Equal(t, BufferFree, s.State(worst).Kind())

	// All dead space lived in the compacted buffer.
	assert.Zero(t, s.MemStats().DeadElems)
	for i, ref := range refs[30:] {
		assert.Equal(t, uint64(30+i), *alloc.Get(remap[ref]))
	}
}

func TestStore_StartCompactWorstBuffers(t *testing.T) {
	s, typeID, alloc := newCompactionFixture(t)

	refs := make([]EntryRef, 0, 50)
	for i := 0; i < 50; i++ {
		ref, err := alloc.Alloc(uint64(i))
		require.NoError(t, err)
		refs = append(refs, ref)
	}
	for _, ref := range refs[:30] {
		alloc.Hold(ref)
	}
	s.TransferHoldLists(1)
	s.TrimHoldLists(2)

	t.Run("no pressure requested", func(t *testing.T) {
		ids, err := s.StartCompactWorstBuffers(CompactionSpec{}, DefaultCompactionStrategy)
		require.NoError(t, err)
		assert.Empty(t, ids)
	})

	spec := DefaultCompactionStrategy.ShouldCompact(s.MemoryUsage(), s.AddressSpaceUsage())
	require.True(t, spec.Compact())

	ids, err := s.StartCompactWorstBuffers(spec, DefaultCompactionStrategy)
	require.NoError(t, err)
	require.Len(t, ids, 1)
	assert.Equal(t, typeID, s.State(ids[0]).TypeID())
	assert.True(t, s.State(ids[0]).Compacting())

	// A second round skips buffers already being compacted.
	again, err := s.StartCompactWorstBuffers(spec, DefaultCompactionStrategy)
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestStore_CompactingBufferSkipsFreeList(t *testing.T) {
	s, typeID, alloc := newTestStore(t, 64, 256) // free lists ON

	refs := make([]EntryRef, 0, 50)
	for i := 0; i < 50; i++ {
		ref, err := alloc.Alloc(uint64(i))
		require.NoError(t, err)
		refs = append(refs, ref)
	}
	for _, ref := range refs[:30] {
		alloc.Hold(ref)
	}
	s.TransferHoldLists(1)
	s.TrimHoldLists(2) // 30 slots on the free list

	worst, ok, err := s.StartCompactWorstBuffer(typeID)
	require.NoError(t, err)
	require.True(t, ok)

	// Marking drops the free list: new allocations must not resurrect slots
	// inside the buffer being evacuated.
	ref, err := alloc.Alloc(999)
	require.NoError(t, err)
	assert.NotEqual(t, worst, s.RefType().BufferID(ref))
}
