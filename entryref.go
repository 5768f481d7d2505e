package refstore

import (
	"fmt"
)

// EntryRef is a compact 32-bit handle encoding buffer id + entry offset.
// It is the only externally visible identity for stored data and is only
// meaningful to the Store that issued it.
//
// The zero EntryRef is invalid: entry 0 of buffer slot 0 is always reserved
// so it is never handed out.
type EntryRef uint32

// Valid reports whether the ref refers to a stored entry.
func (r EntryRef) Valid() bool {
	return r != 0
}

// RefType describes how EntryRef bits are split between buffer id and
// entry offset. The default split is 10 buffer bits and 22 offset bits.
type RefType struct {
	offsetBits uint32
	bufferBits uint32
}

// DefaultOffsetBits is the default number of offset bits in an EntryRef.
const DefaultOffsetBits = 22

// DefaultRefType is the default 10/22 buffer/offset split.
var DefaultRefType = RefType{offsetBits: DefaultOffsetBits, bufferBits: 32 - DefaultOffsetBits}

// NewRefType creates a RefType with the given number of offset bits.
// The remaining bits address buffers. offsetBits must be in [18, 30]:
// buffer bookkeeping is preallocated per addressable buffer, so the buffer
// id space is kept small.
func NewRefType(offsetBits uint32) (RefType, error) {
	if offsetBits < 18 || offsetBits > 30 {
		return RefType{}, fmt.Errorf("refstore: offset bits %d out of range [18, 30]", offsetBits)
	}
	return RefType{offsetBits: offsetBits, bufferBits: 32 - offsetBits}, nil
}

// Make composes an EntryRef from a buffer id and an entry offset.
func (t RefType) Make(bufferID BufferID, offset uint32) EntryRef {
	return EntryRef(uint32(bufferID)<<t.offsetBits | offset)
}

// BufferID extracts the buffer id from a ref.
func (t RefType) BufferID(r EntryRef) BufferID {
	return BufferID(uint32(r) >> t.offsetBits)
}

// Offset extracts the entry offset from a ref.
func (t RefType) Offset(r EntryRef) uint32 {
	return uint32(r) & (1<<t.offsetBits - 1)
}

// NumBuffers returns the number of addressable buffers.
func (t RefType) NumBuffers() int {
	return 1 << t.bufferBits
}

// OffsetSize returns the number of addressable entries per buffer.
func (t RefType) OffsetSize() uint32 {
	return 1 << t.offsetBits
}

// BufferID identifies one buffer slot inside a Store.
type BufferID uint32

// TypeID identifies one registered buffer type inside a Store.
type TypeID uint32
