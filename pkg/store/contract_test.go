package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/codeGROOVE-dev/hookfeed/pkg/event"
)

var baseTime = time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)

func recordAt(offset time.Duration, requestID string) event.Record {
	return event.Record{
		RequestID: requestID,
		Author:    "alice",
		Action:    event.ActionPush,
		ToBranch:  "main",
		Timestamp: event.FormatTimestamp(baseTime.Add(offset)),
	}
}

// runContract exercises the behavior every Store must share.
func runContract(t *testing.T, open func(t *testing.T) Store) {
	t.Helper()

	t.Run("empty store lists nothing", func(t *testing.T) {
		s := open(t)
		recs, err := s.ListRecent(context.Background(), 10)
		if err != nil {
			t.Fatalf("ListRecent: %v", err)
		}
		if len(recs) != 0 {
			t.Errorf("got %d records, want 0", len(recs))
		}
	})

	t.Run("insert assigns fresh ids and preserves fields", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		in := recordAt(0, "abcdef1")
		in.ID = "caller-supplied"
		in.FromBranch = "feature"

		id1, err := s.Insert(ctx, in)
		if err != nil {
			t.Fatalf("Insert: %v", err)
		}
		id2, err := s.Insert(ctx, in)
		if err != nil {
			t.Fatalf("Insert: %v", err)
		}
		if id1 == "" || id2 == "" || id1 == id2 || id1 == "caller-supplied" {
			t.Fatalf("ids not fresh and unique: %q, %q", id1, id2)
		}

		recs, err := s.ListRecent(ctx, 10)
		if err != nil {
			t.Fatalf("ListRecent: %v", err)
		}
		if len(recs) != 2 {
			t.Fatalf("got %d records, want 2", len(recs))
		}
		got := recs[0]
		want := in
		want.ID = got.ID
		if got != want {
			t.Errorf("stored record = %+v, want %+v", got, want)
		}
		if got.ID != id1 && got.ID != id2 {
			t.Errorf("listed id %q was never returned by Insert", got.ID)
		}
	})

	t.Run("newest first", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		for _, off := range []time.Duration{2 * time.Second, 0, 5 * time.Second, time.Second} {
			if _, err := s.Insert(ctx, recordAt(off, off.String())); err != nil {
				t.Fatalf("Insert: %v", err)
			}
		}
		recs, err := s.ListRecent(ctx, 0)
		if err != nil {
			t.Fatalf("ListRecent: %v", err)
		}
		wantOrder := []string{"5s", "2s", "1s", "0s"}
		if len(recs) != len(wantOrder) {
			t.Fatalf("got %d records, want %d", len(recs), len(wantOrder))
		}
		for i, rec := range recs {
			if rec.RequestID != wantOrder[i] {
				t.Errorf("position %d = %q, want %q", i, rec.RequestID, wantOrder[i])
			}
		}
	})

	t.Run("page size is capped", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		for i := range 60 {
			if _, err := s.Insert(ctx, recordAt(time.Duration(i)*time.Millisecond, fmt.Sprint(i))); err != nil {
				t.Fatalf("Insert %d: %v", i, err)
			}
		}

		for _, tc := range []struct {
			limit int
			want  int
		}{
			{limit: 0, want: MaxPageSize},
			{limit: -3, want: MaxPageSize},
			{limit: 1000, want: MaxPageSize},
			{limit: 7, want: 7},
			{limit: MaxPageSize, want: MaxPageSize},
		} {
			recs, err := s.ListRecent(ctx, tc.limit)
			if err != nil {
				t.Fatalf("ListRecent(%d): %v", tc.limit, err)
			}
			if len(recs) != tc.want {
				t.Errorf("ListRecent(%d) returned %d records, want %d", tc.limit, len(recs), tc.want)
			}
			if len(recs) > 0 && recs[0].RequestID != "59" {
				t.Errorf("ListRecent(%d) first = %q, want newest", tc.limit, recs[0].RequestID)
			}
		}
	})

	t.Run("ping", func(t *testing.T) {
		s := open(t)
		if err := s.Ping(context.Background()); err != nil {
			t.Errorf("Ping: %v", err)
		}
	})

	t.Run("cancelled context is unavailable", func(t *testing.T) {
		s := open(t)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if _, err := s.Insert(ctx, recordAt(0, "x")); !errors.Is(err, ErrUnavailable) {
			t.Errorf("Insert error = %v, want ErrUnavailable", err)
		}
		if _, err := s.ListRecent(ctx, 1); !errors.Is(err, ErrUnavailable) {
			t.Errorf("ListRecent error = %v, want ErrUnavailable", err)
		}
		if err := s.Ping(ctx); !errors.Is(err, ErrUnavailable) {
			t.Errorf("Ping error = %v, want ErrUnavailable", err)
		}
	})
}
