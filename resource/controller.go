// Package resource provides global resource governance for stores: a hard
// memory limit for buffer backing memory and a throughput throttle for
// background compaction.
package resource

import (
	"context"
	"errors"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// ErrMemoryLimitExceeded is returned when memory limit would be exceeded.
var ErrMemoryLimitExceeded = errors.New("resource: memory limit exceeded")

// Config holds resource limits.
type Config struct {
	// MemoryLimitBytes is the hard limit for managed buffer memory.
	// If 0, no hard limit is enforced (only tracking).
	MemoryLimitBytes int64

	// CompactionBytesPerSec is the maximum throughput for entry migration
	// during compaction. If 0, unlimited.
	CompactionBytesPerSec int64
}

// Controller manages global resources for one or more stores.
type Controller struct {
	cfg Config

	// Memory
	memSem  *semaphore.Weighted // nil if unlimited
	memUsed atomic.Int64

	// Compaction throughput
	compactLimiter *rate.Limiter
}

// NewController creates a new resource controller.
func NewController(cfg Config) *Controller {
	c := &Controller{cfg: cfg}

	if cfg.MemoryLimitBytes > 0 {
		c.memSem = semaphore.NewWeighted(cfg.MemoryLimitBytes)
	}

	if cfg.CompactionBytesPerSec > 0 {
		c.compactLimiter = rate.NewLimiter(rate.Limit(cfg.CompactionBytesPerSec), int(cfg.CompactionBytesPerSec))
	}

	return c
}

// AcquireMemory attempts to reserve memory for a buffer allocation.
// Returns ErrMemoryLimitExceeded if the limit would be exceeded.
// Non-blocking - callers control retry/backoff policy.
func (c *Controller) AcquireMemory(bytes int64) error {
	if c == nil {
		return nil
	}
	if bytes <= 0 {
		return nil
	}

	if c.memSem != nil {
		if !c.memSem.TryAcquire(bytes) {
			return ErrMemoryLimitExceeded
		}
	}

	c.memUsed.Add(bytes)
	return nil
}

// ReleaseMemory releases reserved memory.
func (c *Controller) ReleaseMemory(bytes int64) {
	if c == nil {
		return
	}
	if bytes <= 0 {
		return
	}

	if c.memSem != nil {
		c.memSem.Release(bytes)
	}
	c.memUsed.Add(-bytes)
}

// MemoryUsage returns the current memory usage in bytes.
func (c *Controller) MemoryUsage() int64 {
	if c == nil {
		return 0
	}
	return c.memUsed.Load()
}

// MemoryLimit returns the configured memory limit in bytes (0 if unlimited).
func (c *Controller) MemoryLimit() int64 {
	if c == nil {
		return 0
	}
	return c.cfg.MemoryLimitBytes
}

// ThrottleCompaction blocks until the compaction budget admits the given
// number of migrated bytes, or the context is canceled.
func (c *Controller) ThrottleCompaction(ctx context.Context, bytes int) error {
	if c == nil || c.compactLimiter == nil {
		return nil
	}
	if bytes <= 0 {
		return nil
	}
	burst := c.compactLimiter.Burst()
	// WaitN cannot exceed the burst; split large migrations into burst-sized
	// installments.
	for bytes > 0 {
		n := bytes
		if n > burst {
			n = burst
		}
		if err := c.compactLimiter.WaitN(ctx, n); err != nil {
			return err
		}
		bytes -= n
	}
	return nil
}
