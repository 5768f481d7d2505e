package refstore

import (
	"unsafe"
)

// BufferType describes one logical data type stored in a Store: its element
// size, its entry shape, and the capacity bounds used by the buffer growth
// policy. Implementations must be immutable after registration.
type BufferType interface {
	// ElemSize returns the size in bytes of a single element.
	ElemSize() int

	// ArraySize returns the number of elements per entry; 1 for scalars.
	// Allocation, free-list reuse, and hold accounting all operate on whole
	// entries of this many elements.
	ArraySize() int

	// MinEntries returns the minimum entry capacity of a new buffer.
	MinEntries() uint32

	// MaxEntries returns the maximum entry capacity of a new buffer.
	MaxEntries() uint32
}

// FixedType is a BufferType for fixed-size entries of element type T.
// Entry capacity of new buffers grows by clamped doubling between
// MinEntries and MaxEntries.
type FixedType[T any] struct {
	arraySize  int
	minEntries uint32
	maxEntries uint32
}

// NewFixedType creates a FixedType for entries of arraySize elements of T.
func NewFixedType[T any](arraySize int, minEntries, maxEntries uint32) *FixedType[T] {
	if arraySize < 1 {
		arraySize = 1
	}
	if minEntries < 1 {
		minEntries = 1
	}
	if maxEntries < minEntries {
		maxEntries = minEntries
	}
	return &FixedType[T]{
		arraySize:  arraySize,
		minEntries: minEntries,
		maxEntries: maxEntries,
	}
}

// ElemSize implements BufferType.
func (t *FixedType[T]) ElemSize() int {
	var zero T
	return int(unsafe.Sizeof(zero))
}

// ArraySize implements BufferType.
func (t *FixedType[T]) ArraySize() int { return t.arraySize }

// MinEntries implements BufferType.
func (t *FixedType[T]) MinEntries() uint32 { return t.minEntries }

// MaxEntries implements BufferType.
func (t *FixedType[T]) MaxEntries() uint32 { return t.maxEntries }
