package event

import (
	"sync/atomic"
	"time"
)

// Clock hands out ingestion times that never go backwards, even when the
// wall clock is stepped back.
type Clock struct {
	now  func() time.Time
	last atomic.Int64 // unix nanoseconds of the latest instant handed out
}

// NewClock wraps now; a nil now uses time.Now.
func NewClock(now func() time.Time) *Clock {
	if now == nil {
		now = time.Now
	}
	return &Clock{now: now}
}

// Now returns the current UTC instant, clamped to be no earlier than any
// instant previously returned by this clock.
func (c *Clock) Now() time.Time {
	for {
		candidate := c.now().UTC().UnixNano()
		last := c.last.Load()
		if candidate < last {
			candidate = last
		}
		if c.last.CompareAndSwap(last, candidate) {
			return time.Unix(0, candidate).UTC()
		}
	}
}
