package refstore

import (
	"unsafe"
)

// Get translates an EntryRef to a typed pointer into the owning buffer.
// T must match the element type registered for the ref's buffer type.
func Get[T any](s *Store, ref EntryRef) *T {
	return (*T)(s.EntryData(ref)) //nolint:gosec // unsafe is required for arena access
}

// GetArray translates an EntryRef to a typed slice of n elements.
func GetArray[T any](s *Store, ref EntryRef, n int) []T {
	return unsafe.Slice((*T)(s.EntryData(ref)), n) //nolint:gosec // unsafe is required for arena access
}

// Allocator binds a Store and a registered TypeID for typed entry
// allocation. Writer-side only, like all structural Store operations.
type Allocator[T any] struct {
	s         *Store
	typeID    TypeID
	arraySize int
}

// NewAllocator creates an Allocator for the given type. The Go type T must
// have the exact element size the buffer type was registered with.
func NewAllocator[T any](s *Store, typeID TypeID) (*Allocator[T], error) {
	if int(typeID) >= len(s.types) {
		return nil, &ErrInvalidTypeID{TypeID: typeID}
	}
	typ := s.types[typeID].typ

	var zero T
	if int(unsafe.Sizeof(zero)) != typ.ElemSize() {
		return nil, &ErrElemSizeMismatch{Expected: typ.ElemSize(), Actual: int(unsafe.Sizeof(zero))}
	}

	return &Allocator[T]{
		s:         s,
		typeID:    typeID,
		arraySize: typ.ArraySize(),
	}, nil
}

// TypeID returns the bound type.
func (a *Allocator[T]) TypeID() TypeID {
	return a.typeID
}

// ArraySize returns the number of elements per entry.
func (a *Allocator[T]) ArraySize() int {
	return a.arraySize
}

// Alloc reserves one entry, stores value in its first element, and returns
// its ref.
func (a *Allocator[T]) Alloc(value T) (EntryRef, error) {
	ref, data, err := a.s.allocEntry(a.typeID)
	if err != nil {
		return 0, err
	}
	*(*T)(unsafe.Pointer(&data[0])) = value //nolint:gosec // unsafe is required for arena access
	return ref, nil
}

// AllocArray reserves one entry and copies values into it. len(values) must
// not exceed the type's array size; remaining elements stay zero.
func (a *Allocator[T]) AllocArray(values []T) (EntryRef, error) {
	ref, data, err := a.s.allocEntry(a.typeID)
	if err != nil {
		return 0, err
	}
	dst := unsafe.Slice((*T)(unsafe.Pointer(&data[0])), a.arraySize) //nolint:gosec // unsafe is required for arena access
	copy(dst, values)
	return ref, nil
}

// Get returns a typed pointer to the entry's first element.
func (a *Allocator[T]) Get(ref EntryRef) *T {
	return Get[T](a.s, ref)
}

// GetArray returns the entry's elements as a typed slice.
func (a *Allocator[T]) GetArray(ref EntryRef) []T {
	return GetArray[T](a.s, ref, a.arraySize)
}

// Hold marks the entry dead with reclamation deferred behind the hold-list
// generation.
func (a *Allocator[T]) Hold(ref EntryRef) {
	a.s.HoldEntry(ref)
}
