package refstore

import (
	"errors"
	"fmt"
)

var (
	// ErrTypeRegistryClosed is returned when AddType is called after
	// InitActiveBuffers.
	ErrTypeRegistryClosed = errors.New("refstore: type registry closed after init")

	// ErrNotInitialized is returned when an allocation is attempted before
	// InitActiveBuffers.
	ErrNotInitialized = errors.New("refstore: active buffers not initialized")

	// ErrAddressSpaceExhausted is returned when no buffer slot or entry
	// offset is left for an allocation. This signals a misconfigured sizing
	// policy upstream; callers should treat it as fatal.
	ErrAddressSpaceExhausted = errors.New("refstore: address space exhausted")
)

// ErrInvalidTypeID indicates a typeID outside the registered range.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type ErrInvalidTypeID struct {
	TypeID TypeID
	cause  error
}

func (e *ErrInvalidTypeID) Error() string {
	return fmt.Sprintf("invalid type id: %d", e.TypeID)
}

func (e *ErrInvalidTypeID) Unwrap() error { return e.cause }

// ErrElemSizeMismatch indicates a typed accessor bound to a buffer type
// whose element size does not match the Go type.
type ErrElemSizeMismatch struct {
	Expected int
	Actual   int
}

func (e *ErrElemSizeMismatch) Error() string {
	return fmt.Sprintf("element size mismatch: type stores %d bytes, Go type is %d bytes", e.Expected, e.Actual)
}
