package security

import (
	"sync"
	"time"
)

const defaultRateCapacity = 10000

// RateLimiter admits at most limit requests per key in each fixed window.
// Expired windows are swept lazily, at most once per period, so the limiter
// runs no goroutine of its own.
type RateLimiter struct {
	windows   map[string]rateWindow
	now       func() time.Time
	nextSweep time.Time
	period    time.Duration
	limit     int
	capacity  int
	mu        sync.Mutex
}

type rateWindow struct {
	start time.Time
	used  int
}

// NewRateLimiter allows limit requests per key in each period. A
// non-positive limit disables limiting.
func NewRateLimiter(limit int, period time.Duration) *RateLimiter {
	if period <= 0 {
		period = time.Minute
	}
	return &RateLimiter{
		windows:  make(map[string]rateWindow),
		now:      time.Now,
		period:   period,
		limit:    limit,
		capacity: defaultRateCapacity,
	}
}

// Allow consumes one request for key and reports whether it was admitted.
func (rl *RateLimiter) Allow(key string) bool {
	ok, _ := rl.Take(key)
	return ok
}

// Take consumes one request for key. A refused request also gets the time
// left until the key's window resets.
func (rl *RateLimiter) Take(key string) (bool, time.Duration) {
	if rl == nil || rl.limit <= 0 {
		return true, 0
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if !now.Before(rl.nextSweep) {
		rl.sweep(now)
	}

	w, ok := rl.windows[key]
	if !ok || now.Sub(w.start) >= rl.period {
		if !ok && len(rl.windows) >= rl.capacity {
			rl.evictOldest()
		}
		rl.windows[key] = rateWindow{start: now, used: 1}
		return true, 0
	}
	if w.used >= rl.limit {
		return false, w.start.Add(rl.period).Sub(now)
	}
	w.used++
	rl.windows[key] = w
	return true, 0
}

// sweep drops windows that have ended. Called with mu held.
func (rl *RateLimiter) sweep(now time.Time) {
	for key, w := range rl.windows {
		if now.Sub(w.start) >= rl.period {
			delete(rl.windows, key)
		}
	}
	rl.nextSweep = now.Add(rl.period)
}

// evictOldest drops the window that started first. Called with mu held.
func (rl *RateLimiter) evictOldest() {
	var oldestKey string
	var oldest time.Time
	for key, w := range rl.windows {
		if oldestKey == "" || w.start.Before(oldest) {
			oldestKey, oldest = key, w.start
		}
	}
	delete(rl.windows, oldestKey)
}

// Tracked returns how many keys currently hold a window.
func (rl *RateLimiter) Tracked() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.windows)
}
