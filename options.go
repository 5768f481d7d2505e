package refstore

// MemoryAcquirer is an interface for acquiring buffer backing memory from a
// global resource budget. The resource package provides an implementation.
type MemoryAcquirer interface {
	AcquireMemory(bytes int64) error
	ReleaseMemory(bytes int64)
}

type options struct {
	refType          RefType
	logger           *Logger
	metricsCollector MetricsCollector
	acquirer         MemoryAcquirer
	enableFreeLists  bool
}

// Option configures Store construction behavior.
type Option func(*options)

// WithOffsetBits configures the EntryRef buffer/offset bit split.
// offsetBits must be in [18, 30]; the remaining bits address buffers.
// Invalid values surface as an error from New.
func WithOffsetBits(offsetBits uint32) Option {
	return func(o *options) {
		// Validation happens in New so the option can stay error-free.
		o.refType = RefType{offsetBits: offsetBits, bufferBits: 32 - offsetBits}
	}
}

// WithLogger configures structured logging. If nil is passed, logging is
// disabled.
func WithLogger(l *Logger) Option {
	return func(o *options) {
		if l == nil {
			l = NoopLogger()
		}
		o.logger = l
	}
}

// WithMetricsCollector configures operational metrics collection.
// If nil is passed, NoopMetricsCollector is used.
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		if mc == nil {
			mc = NoopMetricsCollector{}
		}
		o.metricsCollector = mc
	}
}

// WithMemoryAcquirer sets the memory acquirer used for buffer backing
// memory. Without one, memory is only tracked, never limited.
func WithMemoryAcquirer(acquirer MemoryAcquirer) Option {
	return func(o *options) {
		o.acquirer = acquirer
	}
}

// WithFreeLists enables or disables free lists for all types at
// construction time. Free lists can also be toggled later via
// EnableFreeLists/DisableFreeLists.
func WithFreeLists(enabled bool) Option {
	return func(o *options) {
		o.enableFreeLists = enabled
	}
}
