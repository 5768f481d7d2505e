package refstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEntryRef_Valid(t *testing.T) {
	assert.False(t, EntryRef(0).Valid())
	assert.True(t, EntryRef(1).Valid())
}

func TestRefType_Roundtrip(t *testing.T) {
	rt := DefaultRefType

	refs := []struct {
		bufferID BufferID
		offset   uint32
	}{
		{0, 1},
		{1, 0},
		{3, 12345},
		{BufferID(rt.NumBuffers() - 1), rt.OffsetSize() - 1},
	}

	for _, tc := range refs {
		ref := rt.Make(tc.bufferID, tc.offset)
		assert.Equal(t, tc.bufferID, rt.BufferID(ref))
		assert.Equal(t, tc.offset, rt.Offset(ref))
	}
}

func TestRefType_DefaultSplit(t *testing.T) {
	assert.Equal(t, 1<<10, DefaultRefType.NumBuffers())
	assert.Equal(t, uint32(1<<22), DefaultRefType.OffsetSize())
}

func TestNewRefType(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		rt, err := NewRefType(20)
		require.NoError(t, err)
		assert.Equal(t, 1<<12, rt.NumBuffers())
		assert.Equal(t, uint32(1<<20), rt.OffsetSize())
	})

	t.Run("too small", func(t *testing.T) {
		_, err := NewRefType(17)
		assert.Error(t, err)
	})

	t.Run("too large", func(t *testing.T) {
		_, err := NewRefType(31)
		assert.Error(t, err)
	})
}
