package refstore

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/refstore/generation"
)

// newTestStore builds a store with a single uint64 scalar type.
func newTestStore(t *testing.T, minEntries, maxEntries uint32, opts ...Option) (*Store, TypeID, *Allocator[uint64]) {
	t.Helper()

	s, err := New(opts...)
	require.NoError(t, err)

	typeID, err := s.AddType(NewFixedType[uint64](1, minEntries, maxEntries))
	require.NoError(t, err)
	require.NoError(t, s.InitActiveBuffers())

	alloc, err := NewAllocator[uint64](s, typeID)
	require.NoError(t, err)

	t.Cleanup(func() { _ = s.Close() })
	return s, typeID, alloc
}

func TestStore_AddType(t *testing.T) {
	t.Run("after init fails", func(t *testing.T) {
		s, err := New()
		require.NoError(t, err)
		defer s.Close()

		_, err = s.AddType(NewFixedType[uint64](1, 16, 64))
		require.NoError(t, err)
		require.NoError(t, s.InitActiveBuffers())

		_, err = s.AddType(NewFixedType[uint32](1, 16, 64))
		assert.ErrorIs(t, err, ErrTypeRegistryClosed)
	})

	t.Run("max entries beyond offset space fails", func(t *testing.T) {
		s, err := New()
		require.NoError(t, err)
		defer s.Close()

		_, err = s.AddType(NewFixedType[uint64](1, 16, 1<<23))
		assert.Error(t, err)
	})

	t.Run("init without types fails", func(t *testing.T) {
		s, err := New()
		require.NoError(t, err)
		defer s.Close()

		assert.Error(t, s.InitActiveBuffers())
	})

	t.Run("alloc before init fails", func(t *testing.T) {
		s, err := New()
		require.NoError(t, err)
		defer s.Close()

		typeID, err := s.AddType(NewFixedType[uint64](1, 16, 64))
		require.NoError(t, err)

		_, _, err = s.allocEntry(typeID)
		assert.ErrorIs(t, err, ErrNotInitialized)
	})
}

func TestStore_AllocAndGet(t *testing.T) {
	s, _, alloc := newTestStore(t, 1024, 64*1024)

	refs := make([]EntryRef, 10)
	for i := range refs {
		ref, err := alloc.Alloc(uint64(100 + i))
		require.NoError(t, err)
		require.True(t, ref.Valid())
		refs[i] = ref
	}

	for i, ref := range refs {
		assert.Equal(t, uint64(100+i), *alloc.Get(ref))
	}

	// 10 allocated plus the reserved null entry.
	m := s.MemStats()
	assert.EqualValues(t, 11, m.UsedElems)
	assert.EqualValues(t, 0, m.DeadElems)
	assert.EqualValues(t, 0, m.HoldElems)
}

func TestStore_HoldAndTrim(t *testing.T) {
	s, _, alloc := newTestStore(t, 1024, 64*1024)

	refs := make([]EntryRef, 10)
	for i := range refs {
		ref, err := alloc.Alloc(uint64(i))
		require.NoError(t, err)
		refs[i] = ref
	}

	for _, ref := range refs[:5] {
		alloc.Hold(ref)
	}

	m := s.MemStats()
	assert.EqualValues(t, 5, m.DeadElems)
	assert.EqualValues(t, 5, m.HoldElems)

	// Held entries stay readable until the generation passes.
	assert.Equal(t, uint64(0), *alloc.Get(refs[0]))

	s.TransferHoldLists(1)
	s.TrimHoldLists(2)

	m = s.MemStats()
	assert.EqualValues(t, 5, m.DeadElems)
	assert.EqualValues(t, 0, m.HoldElems)

	// The freed slots come back through the free list.
	seen := map[EntryRef]bool{}
	for i := 0; i < 5; i++ {
		ref, err := alloc.Alloc(uint64(200 + i))
		require.NoError(t, err)
		assert.False(t, seen[ref], "slot handed out twice")
		seen[ref] = true
	}
	for _, ref := range refs[:5] {
		assert.True(t, seen[ref], "freed slot not reused")
	}
	assert.EqualValues(t, 0, s.MemStats().DeadElems)
}

func TestStore_TrimRespectsGeneration(t *testing.T) {
	s, _, alloc := newTestStore(t, 1024, 64*1024)

	ref, err := alloc.Alloc(42)
	require.NoError(t, err)

	alloc.Hold(ref)
	s.TransferHoldLists(5)

	// usedGen == stamp: not yet reclaimable.
	s.TrimHoldLists(5)
	assert.EqualValues(t, 1, s.MemStats().HoldElems)
	assert.Equal(t, uint64(42), *alloc.Get(ref))

	s.TrimHoldLists(6)
	assert.EqualValues(t, 0, s.MemStats().HoldElems)
}

func TestStore_GenerationHandlerIntegration(t *testing.T) {
	s, _, alloc := newTestStore(t, 1024, 64*1024)
	h := generation.NewHandler()

	ref, err := alloc.Alloc(7)
	require.NoError(t, err)

	// A reader takes a guard before the entry is removed.
	guard := h.TakeGuard()

	alloc.Hold(ref)
	s.TransferHoldLists(h.Current())
	h.IncGeneration()

	// The guard pins the old generation: nothing may be reclaimed.
	s.TrimHoldLists(h.FirstUsed())
	assert.EqualValues(t, 1, s.MemStats().HoldElems)
	assert.Equal(t, uint64(7), *alloc.Get(ref))

	guard.Release()
	h.UpdateFirstUsed()

	s.TrimHoldLists(h.FirstUsed())
	assert.EqualValues(t, 0, s.MemStats().HoldElems)
}

func TestStore_FreeEntry(t *testing.T) {
	s, _, alloc := newTestStore(t, 1024, 64*1024)

	ref, err := alloc.Alloc(1)
	require.NoError(t, err)

	// Immediate free recycles without a generation round trip.
	s.FreeEntry(ref)
	assert.EqualValues(t, 1, s.MemStats().DeadElems)

	ref2, err := alloc.Alloc(2)
	require.NoError(t, err)
	assert.Equal(t, ref, ref2)
	assert.EqualValues(t, 0, s.MemStats().DeadElems)
}

func TestStore_DisabledFreeLists(t *testing.T) {
	s, _, alloc := newTestStore(t, 1024, 64*1024, WithFreeLists(false))

	ref, err := alloc.Alloc(1)
	require.NoError(t, err)

	alloc.Hold(ref)
	s.TransferHoldLists(1)
	s.TrimHoldLists(2)

	// Without free lists the slot stays dead until compaction.
	ref2, err := alloc.Alloc(2)
	require.NoError(t, err)
	assert.NotEqual(t, ref, ref2)
	assert.EqualValues(t, 1, s.MemStats().DeadElems)
}

func TestStore_EnsureBufferCapacity(t *testing.T) {
	s, typeID, _ := newTestStore(t, 16, 64)

	require.NoError(t, s.EnsureBufferCapacity(typeID, 10))
	active := s.ActiveBuffer(typeID)
	assert.GreaterOrEqual(t, s.State(active).Remaining(), uint32(10))

	// Demand beyond the current buffer forces a switch.
	require.NoError(t, s.EnsureBufferCapacity(typeID, 32))
	switched := s.ActiveBuffer(typeID)
	assert.NotEqual(t, active, switched)
	assert.GreaterOrEqual(t, s.State(switched).Remaining(), uint32(32))

	t.Run("invalid type id", func(t *testing.T) {
		err := s.EnsureBufferCapacity(TypeID(99), 1)
		var invalid *ErrInvalidTypeID
		assert.ErrorAs(t, err, &invalid)
	})
}

func TestStore_BufferSwitchKeepsEntriesReadable(t *testing.T) {
	s, typeID, alloc := newTestStore(t, 16, 16)

	// Fill the first active buffer completely (15 usable + 1 reserved).
	refs := make([]EntryRef, 0, 40)
	for i := 0; i < 40; i++ {
		ref, err := alloc.Alloc(uint64(i))
		require.NoError(t, err)
		refs = append(refs, ref)
	}

	// Multiple switches happened; every entry must still be readable.
	for i, ref := range refs {
		assert.Equal(t, uint64(i), *alloc.Get(ref))
	}

	first := s.RefType().BufferID(refs[0])
	last := s.RefType().BufferID(refs[len(refs)-1])
	assert.NotEqual(t, first, last)

	// Old buffers still carry live entries, so they stay active (readable),
	// just excluded from new allocation.
	assert.Equal(t, BufferActive, s.State(first).Kind())
	assert.NotEqual(t, first, s.ActiveBuffer(typeID))
}

func TestStore_FullyDeadBufferHeldOnSwitch(t *testing.T) {
	s, typeID, alloc := newTestStore(t, 16, 16, WithFreeLists(false))

	// Fill buffer 0 (15 usable entries after the reserved null entry); the
	// reserved entry keeps buffer 0 live forever, so the fully dead case
	// needs a second buffer.
	for i := 0; i < 15; i++ {
		_, err := alloc.Alloc(uint64(i))
		require.NoError(t, err)
	}

	refs := make([]EntryRef, 0, 16)
	for i := 0; i < 16; i++ {
		ref, err := alloc.Alloc(uint64(100 + i))
		require.NoError(t, err)
		refs = append(refs, ref)
	}
	bufferID := s.RefType().BufferID(refs[0])
	require.Equal(t, bufferID, s.ActiveBuffer(typeID))
	for _, ref := range refs {
		alloc.Hold(ref)
	}

	// Next allocation switches away from the fully dead buffer, which goes
	// on hold and is freed once the generation passes.
	_, err := alloc.Alloc(99)
	require.NoError(t, err)
	require.Equal(t, BufferHold, s.State(bufferID).Kind())
	assert.NotEqual(t, bufferID, s.ActiveBuffer(typeID))

	s.TransferHoldLists(1)
	s.TrimHoldLists(2)
	assert.Equal(t, BufferFree, s.State(bufferID).Kind())
}

func TestStore_AddressSpaceExhausted(t *testing.T) {
	s, err := New(WithOffsetBits(30)) // 4 buffer slots
	require.NoError(t, err)
	defer s.Close()

	typeID, err := s.AddType(NewFixedType[uint64](1, 1, 1))
	require.NoError(t, err)
	require.NoError(t, s.InitActiveBuffers())

	alloc, err := NewAllocator[uint64](s, typeID)
	require.NoError(t, err)

	// Buffer 0 is consumed by the reserved entry; three single-entry
	// buffers remain.
	for i := 0; i < 3; i++ {
		_, err := alloc.Alloc(uint64(i))
		require.NoError(t, err)
	}

	_, err = alloc.Alloc(99)
	assert.ErrorIs(t, err, ErrAddressSpaceExhausted)
}

func TestStore_MemoryAcquirer(t *testing.T) {
	acq := &stubAcquirer{}
	s, _, alloc := newTestStore(t, 16, 16, WithMemoryAcquirer(acq))

	require.Positive(t, acq.held)
	before := acq.held

	// Force a second buffer.
	for i := 0; i < 20; i++ {
		_, err := alloc.Alloc(uint64(i))
		require.NoError(t, err)
	}
	assert.Greater(t, acq.held, before)

	require.NoError(t, s.Close())
	assert.Zero(t, acq.held)
}

func TestStore_MemoryAcquirerLimit(t *testing.T) {
	acq := &stubAcquirer{limit: 16 * 8}
	s, err := New(WithMemoryAcquirer(acq))
	require.NoError(t, err)
	defer s.Close()

	typeID, err := s.AddType(NewFixedType[uint64](1, 16, 16))
	require.NoError(t, err)
	require.NoError(t, s.InitActiveBuffers())

	alloc, err := NewAllocator[uint64](s, typeID)
	require.NoError(t, err)

	// First buffer fits the budget exactly; the switch for a second must
	// surface the acquirer's rejection.
	for i := 0; i < 15; i++ {
		_, err := alloc.Alloc(uint64(i))
		require.NoError(t, err)
	}
	_, err = alloc.Alloc(99)
	assert.ErrorIs(t, err, errStubLimit)
}

func TestStore_MemoryUsageMonotonic(t *testing.T) {
	s, _, alloc := newTestStore(t, 64, 256)

	var prevUsed uint64
	refs := make([]EntryRef, 0, 100)
	for i := 0; i < 100; i++ {
		ref, err := alloc.Alloc(uint64(i))
		require.NoError(t, err)
		refs = append(refs, ref)

		used := s.MemoryUsage().UsedBytes
		require.GreaterOrEqual(t, used, prevUsed)
		prevUsed = used
	}

	for _, ref := range refs {
		alloc.Hold(ref)
	}
	// Holding does not shrink usage.
	assert.GreaterOrEqual(t, s.MemoryUsage().UsedBytes, prevUsed)
}

func TestStore_AddressSpaceUsage(t *testing.T) {
	s, _, alloc := newTestStore(t, 1024, 64*1024)

	for i := 0; i < 10; i++ {
		ref, err := alloc.Alloc(uint64(i))
		require.NoError(t, err)
		if i < 4 {
			alloc.Hold(ref)
		}
	}

	u := s.AddressSpaceUsage()
	assert.EqualValues(t, 11, u.UsedEntries) // incl. reserved null entry
	assert.EqualValues(t, 4, u.DeadEntries)
	assert.EqualValues(t, uint64(1<<10)*uint64(1<<22), u.LimitEntries)
	assert.InDelta(t, 4.0/11.0, u.DeadRatio(), 1e-9)
}

func TestStore_MultipleTypes(t *testing.T) {
	s, err := New()
	require.NoError(t, err)
	defer s.Close()

	smallID, err := s.AddType(NewFixedType[uint32](1, 16, 64))
	require.NoError(t, err)
	arrayID, err := s.AddType(NewFixedType[uint64](4, 16, 64))
	require.NoError(t, err)
	require.NoError(t, s.InitActiveBuffers())

	small, err := NewAllocator[uint32](s, smallID)
	require.NoError(t, err)
	arrays, err := NewAllocator[uint64](s, arrayID)
	require.NoError(t, err)

	sref, err := small.Alloc(7)
	require.NoError(t, err)
	aref, err := arrays.AllocArray([]uint64{1, 2, 3})
	require.NoError(t, err)

	assert.Equal(t, uint32(7), *small.Get(sref))
	assert.Equal(t, []uint64{1, 2, 3, 0}, arrays.GetArray(aref))

	// Types get distinct buffers.
	rt := s.RefType()
	assert.NotEqual(t, rt.BufferID(sref), rt.BufferID(aref))
}

func TestStore_Metrics(t *testing.T) {
	mc := &BasicMetricsCollector{}
	s, _, alloc := newTestStore(t, 1024, 64*1024, WithMetricsCollector(mc))

	ref, err := alloc.Alloc(1)
	require.NoError(t, err)
	alloc.Hold(ref)
	s.TransferHoldLists(1)
	s.TrimHoldLists(2)

	_, err = alloc.Alloc(2) // reuses the freed slot
	require.NoError(t, err)

	assert.EqualValues(t, 2, mc.AllocCount.Load())
	assert.EqualValues(t, 1, mc.AllocFromFreeList.Load())
	assert.EqualValues(t, 1, mc.HoldCount.Load())
	assert.EqualValues(t, 1, mc.TrimCount.Load())
	assert.EqualValues(t, 1, mc.TrimmedElems.Load())
}

func TestStore_CheckRefWideOffsets(t *testing.T) {
	s, err := New()
	require.NoError(t, err)
	defer s.Close()

	// offset*arraySize is exactly 1<<32: truncated 32-bit math wraps to 0
	// and would accept a ref far beyond the used range.
	st := &BufferState{kind: BufferActive, arraySize: 256, usedElems: 512}
	assert.Panics(t, func() { s.checkRef(st, 1<<24) })
}

var errStubLimit = errors.New("stub: memory limit")

type stubAcquirer struct {
	held  int64
	limit int64
}

func (a *stubAcquirer) AcquireMemory(bytes int64) error {
	if a.limit > 0 && a.held+bytes > a.limit {
		return errStubLimit
	}
	a.held += bytes
	return nil
}

func (a *stubAcquirer) ReleaseMemory(bytes int64) {
	a.held -= bytes
}

func BenchmarkStore_Alloc(b *testing.B) {
	s, err := New()
	if err != nil {
		b.Fatal(err)
	}
	defer s.Close()

	typeID, err := s.AddType(NewFixedType[uint64](1, 1024, 1<<20))
	if err != nil {
		b.Fatal(err)
	}
	if err := s.InitActiveBuffers(); err != nil {
		b.Fatal(err)
	}
	alloc, err := NewAllocator[uint64](s, typeID)
	if err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		if _, err := alloc.Alloc(uint64(i)); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkStore_Get(b *testing.B) {
	s, err := New()
	if err != nil {
		b.Fatal(err)
	}
	defer s.Close()

	typeID, err := s.AddType(NewFixedType[uint64](1, 1024, 1<<20))
	if err != nil {
		b.Fatal(err)
	}
	if err := s.InitActiveBuffers(); err != nil {
		b.Fatal(err)
	}
	alloc, err := NewAllocator[uint64](s, typeID)
	if err != nil {
		b.Fatal(err)
	}

	refs := make([]EntryRef, 1024)
	for i := range refs {
		refs[i], _ = alloc.Alloc(uint64(i))
	}

	b.ResetTimer()
	b.ReportAllocs()

	var sum uint64
	for i := 0; i < b.N; i++ {
		sum += *alloc.Get(refs[i&1023])
	}
	_ = sum
}
