// Package memory tracks bucket memory quota: max_size, mem_low_wat and
// mem_high_wat from the core configuration (spec.md §6). AllocateNewItem
// charges against it and surfaces ENOMEM when the quota is exhausted; the
// item pager consults BelowLowWatermark to decide whether to run and when
// to stop.
package memory

import (
	"sync/atomic"

	"github.com/couchbase/kvengine/errors"
)

// Quota tracks a single bucket's in-memory footprint against configured
// watermarks. All methods are safe for concurrent use.
type Quota struct {
	max     uint64
	lowWat  uint64
	highWat uint64
	current uint64
}

func NewQuota(maxSize, lowWat, highWat uint64) *Quota {
	return &Quota{max: maxSize, lowWat: lowWat, highWat: highWat}
}

// Allocate charges size bytes against the quota. Returns ENOMEM if doing
// so would exceed max (a max of 0 means unlimited, matching the core
// config convention for max_size/mem_low_wat/mem_high_wat).
func (q *Quota) Allocate(size uint64) error {
	top := atomic.AddUint64(&q.current, size)
	if q.max > 0 && top > q.max {
		atomic.AddUint64(&q.current, ^(size - 1))
		return errors.NewEnomem("quota exceeded: %d + %d > %d", top-size, size, q.max)
	}
	return nil
}

func (q *Quota) Release(size uint64) {
	if size == 0 {
		return
	}
	atomic.AddUint64(&q.current, ^(size - 1))
}

func (q *Quota) Used() uint64 {
	return atomic.LoadUint64(&q.current)
}

func (q *Quota) AboveHighWatermark() bool {
	return q.highWat > 0 && q.Used() > q.highWat
}

func (q *Quota) BelowLowWatermark() bool {
	return q.lowWat == 0 || q.Used() <= q.lowWat
}
