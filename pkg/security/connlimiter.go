package security

import (
	"errors"
	"sync"
)

// Connection limit errors returned by Check and Acquire.
var (
	ErrPerIPLimit = errors.New("too many connections from this address")
	ErrTotalLimit = errors.New("server connection limit reached")
)

// ConnectionLimiter caps live feed connections per source address and in
// total. Only addresses with at least one open connection are tracked, so
// the table never holds more than maxTotal entries.
type ConnectionLimiter struct {
	open     map[string]int
	total    int
	maxPerIP int
	maxTotal int
	mu       sync.Mutex
}

// Lease is one admitted connection. Release it when the connection closes.
type Lease struct {
	limiter *ConnectionLimiter
	ip      string
	once    sync.Once
}

// NewConnectionLimiter creates a limiter. A non-positive limit disables that
// cap.
func NewConnectionLimiter(maxPerIP, maxTotal int) *ConnectionLimiter {
	return &ConnectionLimiter{
		open:     make(map[string]int),
		maxPerIP: maxPerIP,
		maxTotal: maxTotal,
	}
}

// Check reports why ip could not open another connection right now, without
// reserving one.
func (cl *ConnectionLimiter) Check(ip string) error {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	return cl.admit(ip)
}

// Acquire reserves a connection slot for ip.
func (cl *ConnectionLimiter) Acquire(ip string) (*Lease, error) {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	if err := cl.admit(ip); err != nil {
		return nil, err
	}
	cl.open[ip]++
	cl.total++
	return &Lease{limiter: cl, ip: ip}, nil
}

// admit is called with mu held.
func (cl *ConnectionLimiter) admit(ip string) error {
	if cl.maxTotal > 0 && cl.total >= cl.maxTotal {
		return ErrTotalLimit
	}
	if cl.maxPerIP > 0 && cl.open[ip] >= cl.maxPerIP {
		return ErrPerIPLimit
	}
	return nil
}

// Release frees the slot. Calls after the first do nothing.
func (l *Lease) Release() {
	if l == nil {
		return
	}
	l.once.Do(func() { l.limiter.release(l.ip) })
}

func (cl *ConnectionLimiter) release(ip string) {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	switch n := cl.open[ip]; {
	case n <= 0:
		return
	case n == 1:
		delete(cl.open, ip)
	default:
		cl.open[ip] = n - 1
	}
	cl.total--
}

// Count returns the number of open connections in total and for ip.
func (cl *ConnectionLimiter) Count(ip string) (total, perIP int) {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	return cl.total, cl.open[ip]
}

// Addresses returns how many distinct addresses hold open connections.
func (cl *ConnectionLimiter) Addresses() int {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	return len(cl.open)
}
