package store

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

var dbSeq atomic.Int64

func sqliteOptions(t *testing.T, table string) Options {
	t.Helper()
	return Options{
		URI:             fmt.Sprintf("file:hookfeed-test-%d-%d?mode=memory&cache=shared", time.Now().UnixNano(), dbSeq.Add(1)),
		Table:           table,
		PingTimeout:     time.Second,
		ConnectAttempts: 1,
	}
}

func openSQLite(t *testing.T) Store {
	t.Helper()
	s, err := OpenSQL(context.Background(), sqliteOptions(t, "github_events"))
	if err != nil {
		t.Fatalf("OpenSQL: %v", err)
	}
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return s
}

func TestSQLContract(t *testing.T) {
	runContract(t, openSQLite)
}

func TestSQLTiesOrderedByID(t *testing.T) {
	s := openSQLite(t)
	ctx := context.Background()

	ids := make([]string, 0, 3)
	for _, rid := range []string{"a", "b", "c"} {
		id, err := s.Insert(ctx, recordAt(0, rid))
		if err != nil {
			t.Fatalf("Insert: %v", err)
		}
		ids = append(ids, id)
	}
	recs, err := s.ListRecent(ctx, 10)
	if err != nil {
		t.Fatalf("ListRecent: %v", err)
	}
	for i := 1; i < len(recs); i++ {
		if recs[i-1].ID < recs[i].ID {
			t.Errorf("tie not ordered by id desc: %q before %q", recs[i-1].ID, recs[i].ID)
		}
	}
	if len(recs) != len(ids) {
		t.Errorf("got %d records, want %d", len(recs), len(ids))
	}
}

func TestSQLCustomTableAndReopen(t *testing.T) {
	ctx := context.Background()
	opts := sqliteOptions(t, "activity_log")

	first, err := OpenSQL(ctx, opts)
	if err != nil {
		t.Fatalf("OpenSQL: %v", err)
	}
	if _, err := first.Insert(ctx, recordAt(0, "kept")); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	// Schema creation is idempotent; the shared in-memory database survives
	// while the first handle is open.
	second, err := OpenSQL(ctx, opts)
	if err != nil {
		t.Fatalf("second OpenSQL: %v", err)
	}
	recs, err := second.ListRecent(ctx, 10)
	if err != nil {
		t.Fatalf("ListRecent: %v", err)
	}
	if len(recs) != 1 || recs[0].RequestID != "kept" {
		t.Errorf("records = %+v, want the one inserted through the first handle", recs)
	}

	var count int
	if err := second.db.NewRaw("SELECT COUNT(*) FROM activity_log").Scan(ctx, &count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Errorf("activity_log has %d rows, want 1", count)
	}

	if err := second.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}

func TestOpenSQLRejectsBadTableName(t *testing.T) {
	_, err := OpenSQL(context.Background(), sqliteOptions(t, "events; DROP TABLE x"))
	if err == nil || !strings.Contains(err.Error(), "invalid table name") {
		t.Fatalf("OpenSQL error = %v, want invalid table name", err)
	}
}

func TestNilSQLStore(t *testing.T) {
	var s *SQL
	if _, err := s.Insert(context.Background(), recordAt(0, "x")); err == nil {
		t.Error("Insert on nil store should fail")
	}
	if err := s.Close(); err != nil {
		t.Errorf("Close on nil store = %v", err)
	}
}

func TestParseURI(t *testing.T) {
	tests := []struct {
		uri        string
		database   string
		wantDriver string
		wantDSN    string
		wantErr    bool
	}{
		{uri: "", database: "hookfeed", wantDriver: driverSQLite, wantDSN: "hookfeed.db"},
		{uri: "sqlite://", database: "events", wantDriver: driverSQLite, wantDSN: "events.db"},
		{uri: "sqlite:///var/lib/hookfeed/events.db", wantDriver: driverSQLite, wantDSN: "/var/lib/hookfeed/events.db"},
		{uri: "sqlite://:memory:", database: "t", wantDriver: driverSQLite, wantDSN: "file:t?mode=memory&cache=shared"},
		{uri: "file:x.db?_busy_timeout=5000", wantDriver: driverSQLite, wantDSN: "file:x.db?_busy_timeout=5000"},
		{uri: "postgres://u:p@db:5432/prod?sslmode=disable", wantDriver: driverPostgres, wantDSN: "postgres://u:p@db:5432/prod?sslmode=disable"},
		{uri: "postgresql://db:5432", database: "techstax", wantDriver: driverPostgres, wantDSN: "postgresql://db:5432/techstax"},
		{uri: "mongodb://localhost:27017/", wantErr: true},
		{uri: "redis://x", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.uri, func(t *testing.T) {
			got, err := parseURI(tt.uri, tt.database)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseURI() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if got.driver != tt.wantDriver || got.dsn != tt.wantDSN {
				t.Errorf("parseURI() = %+v, want driver %q dsn %q", got, tt.wantDriver, tt.wantDSN)
			}
		})
	}
}

func TestCheckURI(t *testing.T) {
	for _, ok := range []string{"memory://", "sqlite://", "file:a.db", "postgres://h/db"} {
		if err := CheckURI(ok); err != nil {
			t.Errorf("CheckURI(%q) = %v", ok, err)
		}
	}
	if err := CheckURI("mongodb://localhost"); err == nil {
		t.Error("CheckURI(mongodb) should fail")
	}
}
