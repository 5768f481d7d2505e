package postingstore

import (
	"sync/atomic"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/refstore/generation"
)

type bitmapTable = []atomic.Pointer[roaring.Bitmap]

type bitmapHold struct {
	slot uint32
	gen  generation.Generation
}

// bitmapRegistry holds the roaring containers of promoted posting lists.
// The arena stores only a slot index per promoted list. Published bitmaps
// are immutable; replacement installs a new slot and retires the old one
// through the registry's own two-stage hold lists, in lockstep with the
// arena's.
//
// Slot lookups are lock-free: the table pointer and the per-slot pointers
// are atomic, and the writer only grows the table by swapping in a copy.
type bitmapRegistry struct {
	table atomic.Pointer[bitmapTable]

	// writer-side state
	next      uint32
	freeSlots []uint32
	slotBytes []uint64
	hold1     []uint32
	hold2     []bitmapHold
}

const initialBitmapSlots = 16

// get returns the bitmap at slot. Safe for concurrent readers.
func (r *bitmapRegistry) get(slot uint32) *roaring.Bitmap {
	tbl := r.table.Load()
	if tbl == nil {
		return nil
	}
	return (*tbl)[slot].Load()
}

// bytes returns the accounted size of the bitmap at slot. Writer-side only.
func (r *bitmapRegistry) bytes(slot uint32) uint64 {
	return r.slotBytes[slot]
}

// publish installs an immutable bitmap and returns its slot. Writer-side
// only; the bitmap must not be mutated afterwards.
func (r *bitmapRegistry) publish(bmp *roaring.Bitmap, size uint64) uint32 {
	var slot uint32
	if n := len(r.freeSlots); n > 0 {
		slot = r.freeSlots[n-1]
		r.freeSlots = r.freeSlots[:n-1]
	} else {
		r.grow(r.next + 1)
		slot = r.next
		r.next++
	}

	tbl := r.table.Load()
	(*tbl)[slot].Store(bmp)
	r.slotBytes[slot] = size
	return slot
}

// grow ensures the table has capacity for n slots, swapping in a larger copy
// when it does not. Readers keep working against the old table until the
// swap; slots are never moved between indices.
func (r *bitmapRegistry) grow(n uint32) {
	old := r.table.Load()
	if old != nil && uint32(len(*old)) >= n {
		return
	}

	capacity := uint32(initialBitmapSlots)
	if old != nil {
		capacity = uint32(len(*old))
	}
	for capacity < n {
		capacity *= 2
	}

	tbl := make(bitmapTable, capacity)
	if old != nil {
		for i := range *old {
			tbl[i].Store((*old)[i].Load())
		}
	}
	r.table.Store(&tbl)

	grown := make([]uint64, capacity)
	copy(grown, r.slotBytes)
	r.slotBytes = grown
}

// retire parks a slot for reclamation once the current freeze generation has
// passed. The bitmap stays readable until then.
func (r *bitmapRegistry) retire(slot uint32) {
	r.hold1 = append(r.hold1, slot)
}

// commit stamps retired slots with the freeze generation.
func (r *bitmapRegistry) commit(gen generation.Generation) {
	for _, slot := range r.hold1 {
		r.hold2 = append(r.hold2, bitmapHold{slot: slot, gen: gen})
	}
	r.hold1 = r.hold1[:0]
}

// reclaim frees every retired slot whose stamped generation is older than
// usedGen and returns the bytes released.
func (r *bitmapRegistry) reclaim(usedGen generation.Generation) uint64 {
	var released uint64
	i := 0
	for ; i < len(r.hold2); i++ {
		h := r.hold2[i]
		if !generation.InPast(h.gen, usedGen) {
			break
		}
		tbl := r.table.Load()
		(*tbl)[h.slot].Store(nil)
		released += r.slotBytes[h.slot]
		r.slotBytes[h.slot] = 0
		r.freeSlots = append(r.freeSlots, h.slot)
	}
	if i > 0 {
		r.hold2 = append(r.hold2[:0], r.hold2[i:]...)
	}
	return released
}

// totalBytes sums the accounted size of all live bitmaps. Writer-side only.
func (r *bitmapRegistry) totalBytes() uint64 {
	var total uint64
	for _, b := range r.slotBytes {
		total += b
	}
	return total
}
