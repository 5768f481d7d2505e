package generation

import (
	"sync/atomic"
)

// node is one generation in the handler's list. Nodes are linked oldest to
// newest; a node is prunable once its guard count drops to zero and a newer
// node exists.
type node struct {
	gen  Generation
	refs atomic.Int64
	next atomic.Pointer[node]
}

// Handler hands out reader guards and tracks the oldest generation any live
// guard can still observe.
//
// TakeGuard is safe for concurrent use. IncGeneration, FirstUsed, and
// UpdateFirstUsed are writer-side operations and must be serialized onto the
// single mutating thread.
type Handler struct {
	first atomic.Pointer[node] // oldest node possibly guarded
	last  atomic.Pointer[node] // node holding the current generation
}

// NewHandler creates a Handler with the current generation set to 1,
// so the zero Generation can serve as "never".
func NewHandler() *Handler {
	h := &Handler{}
	n := &node{gen: 1}
	h.first.Store(n)
	h.last.Store(n)
	return h
}

// Current returns the current generation.
func (h *Handler) Current() Generation {
	return h.last.Load().gen
}

// FirstUsed returns the oldest generation a live guard may still observe.
// This is the value to feed into hold-list trimming.
func (h *Handler) FirstUsed() Generation {
	return h.first.Load().gen
}

// Guard pins a generation snapshot for a reader. The zero Guard is inert.
type Guard struct {
	n *node
}

// Generation returns the pinned generation.
func (g Guard) Generation() Generation {
	if g.n == nil {
		return 0
	}
	return g.n.gen
}

// Release drops the pin. Release must be called exactly once per guard.
func (g Guard) Release() {
	if g.n != nil {
		g.n.refs.Add(-1)
	}
}

// TakeGuard pins the current generation and returns a guard for it.
// Lock-free; safe to call from any number of reader goroutines.
func (h *Handler) TakeGuard() Guard {
	for {
		n := h.last.Load()
		n.refs.Add(1)
		// The writer never prunes the last node, so if last is unchanged the
		// reference is effective. If it advanced we may have pinned a node
		// the writer already considered unused; retry on the newer one.
		if h.last.Load() == n {
			return Guard{n: n}
		}
		n.refs.Add(-1)
	}
}

// IncGeneration advances the current generation by one and prunes leading
// unguarded generations. Writer-side only.
func (h *Handler) IncGeneration() {
	last := h.last.Load()
	n := &node{gen: last.gen + 1}
	last.next.Store(n)
	h.last.Store(n)
	h.UpdateFirstUsed()
}

// UpdateFirstUsed advances the first-used generation past nodes that no
// guard references anymore. Writer-side only.
func (h *Handler) UpdateFirstUsed() {
	first := h.first.Load()
	for first != h.last.Load() && first.refs.Load() == 0 {
		first = first.next.Load()
	}
	h.first.Store(first)
}

// GuardCount returns the number of live guards. Intended for observability
// and tests; the count is approximate under concurrent TakeGuard/Release.
func (h *Handler) GuardCount() int64 {
	var total int64
	for n := h.first.Load(); n != nil; n = n.next.Load() {
		total += n.refs.Load()
	}
	return total
}
