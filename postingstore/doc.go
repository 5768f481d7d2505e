// Package postingstore stores posting lists (sorted sets of document ids)
// on top of a refstore arena.
//
// Short lists live directly in the arena as size-class arrays; lists that
// outgrow the largest class are promoted to roaring bitmap containers held
// in a side registry, with only a compact registry handle in the arena.
// Every mutation is copy-on-write: Insert and Remove return a new EntryRef
// and park the replaced representation on the hold lists, so readers holding
// a generation guard keep a consistent view for free.
//
// The writer drives reclamation explicitly:
//
//	ref, _ = store.Insert(ref, docID)
//	store.Commit()  // freeze point: stamp everything replaced so far
//	store.Reclaim() // free what no live guard can still observe
//
// Readers wrap access in a guard:
//
//	g := store.Guard()
//	store.Iterate(ref, func(docID uint32) bool { ... })
//	g.Release()
//
// Like the underlying arena, all mutating methods must be called from a
// single goroutine; read methods are safe from any number of goroutines as
// long as a guard is held.
package postingstore
