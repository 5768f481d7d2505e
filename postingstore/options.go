package postingstore

import (
	"github.com/hupe1980/refstore"
	"github.com/hupe1980/refstore/generation"
	"github.com/hupe1980/refstore/resource"
)

type options struct {
	logger     *refstore.Logger
	metrics    refstore.MetricsCollector
	controller *resource.Controller
	handler    *generation.Handler
	strategy   refstore.CompactionStrategy
	minEntries uint32
	maxEntries uint32
}

// Option configures a posting store.
type Option func(*options)

// WithLogger sets the logger for the store and its arena.
func WithLogger(logger *refstore.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithMetricsCollector sets the metrics collector passed to the arena.
func WithMetricsCollector(mc refstore.MetricsCollector) Option {
	return func(o *options) {
		o.metrics = mc
	}
}

// WithController wires a resource controller: buffer memory is acquired
// against its limit and compaction is throttled by its budget.
func WithController(c *resource.Controller) Option {
	return func(o *options) {
		o.controller = c
	}
}

// WithGenerationHandler shares an external generation handler instead of the
// store owning one. Use this when several stores must retire memory against
// the same reader population.
func WithGenerationHandler(h *generation.Handler) Option {
	return func(o *options) {
		o.handler = h
	}
}

// WithCompactionStrategy sets the thresholds used by CompactWorst.
func WithCompactionStrategy(s refstore.CompactionStrategy) Option {
	return func(o *options) {
		o.strategy = s
	}
}

// WithEntryBounds sets the per-buffer entry capacity bounds applied to every
// size class. Smaller bounds mean smaller buffers and earlier switches.
func WithEntryBounds(minEntries, maxEntries uint32) Option {
	return func(o *options) {
		o.minEntries = minEntries
		o.maxEntries = maxEntries
	}
}
