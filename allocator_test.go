package refstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAllocator(t *testing.T) {
	s, err := New()
	require.NoError(t, err)
	defer s.Close()

	typeID, err := s.AddType(NewFixedType[uint64](1, 16, 64))
	require.NoError(t, err)
	require.NoError(t, s.InitActiveBuffers())

	t.Run("elem size mismatch", func(t *testing.T) {
		_, err := NewAllocator[uint32](s, typeID)
		var mismatch *ErrElemSizeMismatch
		require.ErrorAs(t, err, &mismatch)
		assert.Equal(t, 8, mismatch.Expected)
		assert.Equal(t, 4, mismatch.Actual)
	})

	t.Run("invalid type id", func(t *testing.T) {
		_, err := NewAllocator[uint64](s, TypeID(5))
		var invalid *ErrInvalidTypeID
		assert.ErrorAs(t, err, &invalid)
	})

	t.Run("valid", func(t *testing.T) {
		alloc, err := NewAllocator[uint64](s, typeID)
		require.NoError(t, err)
		assert.Equal(t, typeID, alloc.TypeID())
		assert.Equal(t, 1, alloc.ArraySize())
	})
}

func TestAllocator_StructEntries(t *testing.T) {
	type posting struct {
		DocID  uint32
		Weight int32
	}

	s, err := New()
	require.NoError(t, err)
	defer s.Close()

	typeID, err := s.AddType(NewFixedType[posting](1, 16, 64))
	require.NoError(t, err)
	require.NoError(t, s.InitActiveBuffers())

	alloc, err := NewAllocator[posting](s, typeID)
	require.NoError(t, err)

	ref, err := alloc.Alloc(posting{DocID: 42, Weight: -7})
	require.NoError(t, err)

	got := alloc.Get(ref)
	assert.Equal(t, uint32(42), got.DocID)
	assert.Equal(t, int32(-7), got.Weight)
}

func TestAllocator_Arrays(t *testing.T) {
	s, err := New()
	require.NoError(t, err)
	defer s.Close()

	typeID, err := s.AddType(NewFixedType[uint32](4, 16, 64))
	require.NoError(t, err)
	require.NoError(t, s.InitActiveBuffers())

	alloc, err := NewAllocator[uint32](s, typeID)
	require.NoError(t, err)

	t.Run("partial fill zero pads", func(t *testing.T) {
		ref, err := alloc.AllocArray([]uint32{1, 2})
		require.NoError(t, err)
		assert.Equal(t, []uint32{1, 2, 0, 0}, alloc.GetArray(ref))
	})

	t.Run("overlong input truncates", func(t *testing.T) {
		ref, err := alloc.AllocArray([]uint32{1, 2, 3, 4, 5, 6})
		require.NoError(t, err)
		assert.Equal(t, []uint32{1, 2, 3, 4}, alloc.GetArray(ref))
	})

	t.Run("reused slot is zeroed", func(t *testing.T) {
		ref, err := alloc.AllocArray([]uint32{9, 9, 9, 9})
		require.NoError(t, err)

		alloc.Hold(ref)
		s.TransferHoldLists(1)
		s.TrimHoldLists(2)

		ref2, err := alloc.AllocArray([]uint32{5})
		require.NoError(t, err)
		require.Equal(t, ref, ref2)
		assert.Equal(t, []uint32{5, 0, 0, 0}, alloc.GetArray(ref2))
	})
}

func TestGetFreeFunctions(t *testing.T) {
	s, err := New()
	require.NoError(t, err)
	defer s.Close()

	typeID, err := s.AddType(NewFixedType[uint64](2, 16, 64))
	require.NoError(t, err)
	require.NoError(t, s.InitActiveBuffers())

	alloc, err := NewAllocator[uint64](s, typeID)
	require.NoError(t, err)

	ref, err := alloc.AllocArray([]uint64{10, 20})
	require.NoError(t, err)

	assert.Equal(t, uint64(10), *Get[uint64](s, ref))
	assert.Equal(t, []uint64{10, 20}, GetArray[uint64](s, ref, 2))
}
