// Package mmap provides anonymous memory mappings for off-heap buffer storage.
//
// # Overview
//
// Buffer backing memory is allocated outside the Go heap so that large,
// long-lived buffers do not contribute to garbage collector scan work. A
// mapping stays valid until Close, which makes it suitable for readers that
// dereference into retired buffers while those buffers sit on hold lists.
//
// # Platform Support
//
//   - Unix (Linux, macOS, BSD): mmap(2) with MAP_ANON|MAP_PRIVATE
//   - Windows: VirtualAlloc with MEM_RESERVE|MEM_COMMIT
//
// # Thread Safety
//
// Bytes is safe for concurrent read access. Close is idempotent and protected
// by atomic operations, but callers must ensure no goroutine touches the
// mapped memory after Close returns.
package mmap
