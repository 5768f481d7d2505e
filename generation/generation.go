// Package generation tracks reader generations for deferred reclamation.
//
// # Concurrency Model
//
// A single writer advances the current generation; any number of readers take
// guards concurrently and lock-free. A guard pins its generation: memory that
// was logically removed at or after the guarded generation must not be
// physically reclaimed while the guard is held.
//
// The typical usage pattern is:
//   - Writer: mutate, TransferHoldLists(h.Current()), h.IncGeneration()
//   - Writer (maintenance): TrimHoldLists(h.FirstUsed())
//   - Readers: g := h.TakeGuard(); ... lock-free reads ...; g.Release()
package generation

// Generation is a monotonically increasing counter marking logical points
// after which retired buffer/element versions become reclaimable.
//
// Comparisons must tolerate wraparound; use InPast/AtOrAfter rather than
// plain operators.
type Generation uint64

// InPast reports whether generation a is strictly older than b.
// The comparison is wrapping-safe: the distance between any two live
// generations is assumed to be far smaller than half the counter range.
func InPast(a, b Generation) bool {
	return int64(a-b) < 0
}

// AtOrAfter reports whether generation a is b or newer, wrapping-safe.
func AtOrAfter(a, b Generation) bool {
	return !InPast(a, b)
}
