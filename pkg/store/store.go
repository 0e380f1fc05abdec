// Package store persists normalized event records and serves the most recent
// ones. Records are append-only: there is no update or delete path.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/hookfeed/pkg/event"
)

// MaxPageSize caps the number of records returned by ListRecent.
const MaxPageSize = 50

// ErrUnavailable wraps every failure of the underlying persistence engine,
// including timeouts.
var ErrUnavailable = errors.New("event store unavailable")

// Store is the append-only event store.
type Store interface {
	// Insert appends rec and returns its newly assigned id. Any ID already
	// set on rec is ignored.
	Insert(ctx context.Context, rec event.Record) (string, error)
	// ListRecent returns up to limit records ordered by timestamp, newest
	// first. A limit outside 1..MaxPageSize means MaxPageSize.
	ListRecent(ctx context.Context, limit int) ([]event.Record, error)
	// Ping performs a trivial read to confirm the store is reachable.
	Ping(ctx context.Context) error
	Close() error
}

// ClampLimit normalizes a requested page size.
func ClampLimit(limit int) int {
	if limit <= 0 || limit > MaxPageSize {
		return MaxPageSize
	}
	return limit
}

// Options configures Open.
type Options struct {
	URI             string        // memory://, sqlite://<path>, file:<dsn>, postgres://...
	Database        string        // sqlite file stem or postgres database when the URI has none
	Table           string        // table holding the records
	Debug           bool          // log SQL queries
	PingTimeout     time.Duration // bound for each startup connection attempt
	ConnectAttempts uint          // startup connection attempts before giving up
}

// Open returns the store selected by the URI scheme.
func Open(ctx context.Context, opts Options) (Store, error) {
	if IsMemoryURI(opts.URI) {
		return NewMemory(), nil
	}
	return OpenSQL(ctx, opts)
}

// IsMemoryURI reports whether uri selects the in-process store.
func IsMemoryURI(uri string) bool {
	return strings.HasPrefix(uri, "memory:")
}

// Timeout bounds every call of the wrapped store.
type Timeout struct {
	next    Store
	timeout time.Duration
}

// WithTimeout wraps s so that each call gets at most d. A non-positive d
// returns s unchanged.
func WithTimeout(s Store, d time.Duration) Store {
	if d <= 0 {
		return s
	}
	return &Timeout{next: s, timeout: d}
}

// Insert implements Store.
func (t *Timeout) Insert(ctx context.Context, rec event.Record) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	id, err := t.next.Insert(ctx, rec)
	return id, unavailable(ctx, err)
}

// ListRecent implements Store.
func (t *Timeout) ListRecent(ctx context.Context, limit int) ([]event.Record, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	recs, err := t.next.ListRecent(ctx, limit)
	return recs, unavailable(ctx, err)
}

// Ping implements Store.
func (t *Timeout) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return unavailable(ctx, t.next.Ping(ctx))
}

// Close implements Store.
func (t *Timeout) Close() error {
	return t.next.Close()
}

// unavailable makes sure a failure surfaces as ErrUnavailable, which the
// underlying store may not do when the deadline fires inside a driver.
func unavailable(ctx context.Context, err error) error {
	if err == nil || errors.Is(err, ErrUnavailable) {
		return err
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, ctxErr)
	}
	return fmt.Errorf("%w: %w", ErrUnavailable, err)
}
