package refstore

// MemoryUsage aggregates byte-level usage across all buffers of a store.
//
// UsedBytes never decreases except immediately after a trim or a completed
// compaction cycle.
type MemoryUsage struct {
	// AllocatedBytes is the total backing memory mapped for buffers.
	AllocatedBytes uint64
	// UsedBytes is the memory covered by allocated elements, including dead
	// ones, plus extra bytes owned by entries.
	UsedBytes uint64
	// DeadBytes is the memory of logically removed elements awaiting reuse
	// or compaction.
	DeadBytes uint64
	// HoldBytes is the memory parked on hold lists for not-yet-retired
	// readers.
	HoldBytes uint64
}

// AddressSpaceUsage aggregates entry-address consumption across all buffers.
// Address space, unlike memory, is bounded by the EntryRef encoding: running
// out is fatal even when memory remains.
type AddressSpaceUsage struct {
	// UsedEntries is the number of entry addresses handed out.
	UsedEntries uint64
	// DeadEntries is the number of addresses covering dead entries.
	DeadEntries uint64
	// LimitEntries is the total addressable entries for the store's RefType.
	LimitEntries uint64
}

// UsedRatio returns used address space as a fraction of the limit.
func (u AddressSpaceUsage) UsedRatio() float64 {
	if u.LimitEntries == 0 {
		return 0
	}
	return float64(u.UsedEntries) / float64(u.LimitEntries)
}

// DeadRatio returns dead address space as a fraction of the used part.
func (u AddressSpaceUsage) DeadRatio() float64 {
	if u.UsedEntries == 0 {
		return 0
	}
	return float64(u.DeadEntries) / float64(u.UsedEntries)
}
