// Package refstore provides a generation-safe, lock-free-read data store for
// search-engine backends: a typed-buffer memory arena addressed by compact
// 32-bit handles, with free-list-backed reuse and online compaction.
//
// # Overview
//
// A Store owns one or more typed buffers backed by anonymous memory
// mappings. Producers register a BufferType per logical data type, allocate
// entries through an Allocator, and receive EntryRefs — the only externally
// visible identity for stored data. Readers translate refs back to memory
// with Get/GetArray in O(1) and with zero synchronization.
//
// # Reclamation
//
// Logical removal and physical reclamation are decoupled. Removed entries
// and retired buffers park on hold lists: TransferHoldLists stamps them with
// the freeze generation, and TrimHoldLists frees them only once no live
// reader snapshot can observe that generation. The generation package
// provides the reader-guard handler that supplies the used generation.
//
// # Compaction
//
// Dead space in fixed-size types is reused through per-type free lists.
// Fragmented buffers are reclaimed online: StartCompactWorstBuffer(s) picks
// the buffers with the highest dead ratio, the owning structure migrates
// live entries and remaps its references, and FinishCompact retires the old
// buffers through the same hold-list path as ordinary frees.
//
// # Concurrency Model
//
// One mutating goroutine owns all structural operations; any number of
// readers dereference EntryRefs lock-free. See Store for the full contract.
//
// # Quick Start
//
//	store, _ := refstore.New()
//	typeID, _ := store.AddType(refstore.NewFixedType[uint64](1, 1024, 64*1024))
//	_ = store.InitActiveBuffers()
//
//	alloc, _ := refstore.NewAllocator[uint64](store, typeID)
//	ref, _ := alloc.Alloc(42)
//	v := alloc.Get(ref) // *uint64
//
//	// removal: defer reclamation behind the generation handler
//	alloc.Hold(ref)
//	store.TransferHoldLists(handler.Current())
//	handler.IncGeneration()
//	store.TrimHoldLists(handler.FirstUsed())
package refstore
