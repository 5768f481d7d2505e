package refstore

import (
	"github.com/hupe1980/refstore/generation"
)

// Hold lists implement the two-stage deferred-free state machine:
//
//	Live -> Dead(hold1, no generation) -> Dead(hold2, generation=G) -> Freed
//
// Entries and buffers freed since the last freeze point accumulate on the
// hold1 lists. TransferHoldLists promotes them to hold2 stamped with the
// freeze generation. TrimHoldLists frees hold2 records once the given
// used-generation has passed their stamp.

// elemHold1 is a per-entry hold record before the reclaim generation is
// known.
type elemHold1 struct {
	ref      EntryRef
	numElems uint32
}

// elemHold2 is a per-entry hold record stamped with the generation after
// which no reader can observe it.
type elemHold2 struct {
	ref      EntryRef
	numElems uint32
	gen      generation.Generation
}

// bufferHold2 is a whole-buffer hold record stamped with its retirement
// generation.
type bufferHold2 struct {
	bufferID BufferID
	gen      generation.Generation
}
