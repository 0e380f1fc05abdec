package store

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/codeGROOVE-dev/hookfeed/pkg/event"
)

// Memory keeps records in process memory. It backs memory:// URIs and tests.
type Memory struct {
	records []event.Record
	mu      sync.RWMutex
	closed  bool
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{}
}

// Insert implements Store.
func (m *Memory) Insert(ctx context.Context, rec event.Record) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return "", fmt.Errorf("%w: store closed", ErrUnavailable)
	}

	rec.ID = uuid.NewString()
	m.records = append(m.records, rec)
	return rec.ID, nil
}

// ListRecent implements Store. Records sharing a timestamp come back newest
// insertion first.
func (m *Memory) ListRecent(ctx context.Context, limit int) ([]event.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	limit = ClampLimit(limit)

	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return nil, fmt.Errorf("%w: store closed", ErrUnavailable)
	}
	out := make([]event.Record, len(m.records))
	for i, rec := range m.records {
		out[len(out)-1-i] = rec
	}
	m.mu.RUnlock()

	slices.SortStableFunc(out, func(a, b event.Record) int {
		switch {
		case a.Timestamp > b.Timestamp:
			return -1
		case a.Timestamp < b.Timestamp:
			return 1
		default:
			return 0
		}
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Ping implements Store.
func (m *Memory) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return fmt.Errorf("%w: store closed", ErrUnavailable)
	}
	return nil
}

// Close implements Store. Later calls fail with ErrUnavailable.
func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

// Len returns the number of stored records.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}
