package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/retry"
	persistence "github.com/goliatone/go-persistence-bun"
	"github.com/google/uuid"
	_ "github.com/lib/pq" // postgres driver
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/schema"

	"github.com/codeGROOVE-dev/hookfeed/pkg/event"
	"github.com/codeGROOVE-dev/hookfeed/pkg/logger"
)

const (
	driverSQLite   = "sqlite3"
	driverPostgres = "postgres"

	defaultPingTimeout     = 5 * time.Second
	defaultConnectAttempts = 5
)

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

type eventRow struct {
	bun.BaseModel `bun:"table:github_events,alias:e"`

	ID         string `bun:"id,pk"`
	RequestID  string `bun:"request_id,notnull"`
	Author     string `bun:"author,notnull"`
	Action     string `bun:"action,notnull"`
	FromBranch string `bun:"from_branch,notnull"`
	ToBranch   string `bun:"to_branch,notnull"`
	Timestamp  string `bun:"timestamp,notnull"`
}

func rowFromRecord(rec event.Record) *eventRow {
	return &eventRow{
		ID:         rec.ID,
		RequestID:  rec.RequestID,
		Author:     rec.Author,
		Action:     string(rec.Action),
		FromBranch: rec.FromBranch,
		ToBranch:   rec.ToBranch,
		Timestamp:  rec.Timestamp,
	}
}

func (r eventRow) record() event.Record {
	return event.Record{
		ID:         r.ID,
		RequestID:  r.RequestID,
		Author:     r.Author,
		Action:     event.Action(r.Action),
		FromBranch: r.FromBranch,
		ToBranch:   r.ToBranch,
		Timestamp:  r.Timestamp,
	}
}

// persistenceConfig satisfies the configuration contract of go-persistence-bun.
type persistenceConfig struct {
	driver      string
	server      string
	debug       bool
	pingTimeout time.Duration
}

func (c persistenceConfig) GetDebug() bool { return c.debug }
func (c persistenceConfig) GetDriver() string { return c.driver }
func (c persistenceConfig) GetServer() string { return c.server }
func (c persistenceConfig) GetPingTimeout() time.Duration { return c.pingTimeout }
func (persistenceConfig) GetOtelIdentifier() string { return "" }

// target is a parsed store URI.
type target struct {
	driver string
	dsn    string
}

func (t target) dialect() schema.Dialect {
	if t.driver == driverPostgres {
		return pgdialect.New()
	}
	return sqlitedialect.New()
}

// CheckURI reports whether uri names a supported store.
func CheckURI(uri string) error {
	if IsMemoryURI(uri) {
		return nil
	}
	_, err := parseURI(uri, "hookfeed")
	return err
}

func parseURI(uri, database string) (target, error) {
	if database == "" {
		database = "hookfeed"
	}
	switch {
	case uri == "":
		return target{driver: driverSQLite, dsn: database + ".db"}, nil
	case strings.HasPrefix(uri, "sqlite://"):
		path := strings.TrimPrefix(uri, "sqlite://")
		switch path {
		case "":
			path = database + ".db"
		case ":memory:":
			path = "file:" + database + "?mode=memory&cache=shared"
		}
		return target{driver: driverSQLite, dsn: path}, nil
	case strings.HasPrefix(uri, "file:"):
		return target{driver: driverSQLite, dsn: uri}, nil
	case strings.HasPrefix(uri, "postgres://"), strings.HasPrefix(uri, "postgresql://"):
		u, err := url.Parse(uri)
		if err != nil {
			return target{}, fmt.Errorf("invalid postgres uri: %w", err)
		}
		if u.Path == "" || u.Path == "/" {
			u.Path = "/" + database
		}
		return target{driver: driverPostgres, dsn: u.String()}, nil
	default:
		scheme, _, _ := strings.Cut(uri, ":")
		return target{}, fmt.Errorf("unsupported store scheme %q", scheme)
	}
}

// SQL stores records in a relational table through bun.
type SQL struct {
	client *persistence.Client
	db     *bun.DB
	table  string
}

// OpenSQL connects to the database named by opts.URI, retrying the initial
// connection, and creates the records table if it does not exist.
func OpenSQL(ctx context.Context, opts Options) (*SQL, error) {
	tgt, err := parseURI(opts.URI, opts.Database)
	if err != nil {
		return nil, err
	}
	table := opts.Table
	if table == "" {
		table = "github_events"
	}
	if !tableNamePattern.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	pingTimeout := opts.PingTimeout
	if pingTimeout <= 0 {
		pingTimeout = defaultPingTimeout
	}
	attempts := opts.ConnectAttempts
	if attempts == 0 {
		attempts = defaultConnectAttempts
	}

	sqlDB, err := sql.Open(tgt.driver, tgt.dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", ErrUnavailable, tgt.driver, err)
	}
	if tgt.driver == driverSQLite {
		sqlDB.SetMaxOpenConns(1)
	}

	err = retry.Do(func() error {
		pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
		defer cancel()
		return sqlDB.PingContext(pingCtx)
	},
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.DelayType(retry.BackOffDelay),
		retry.MaxDelay(10*time.Second),
		retry.OnRetry(func(n uint, err error) {
			logger.Warn("store connection failed, retrying", logger.Fields{
				"driver":  tgt.driver,
				"attempt": n + 1,
				"error":   err.Error(),
			})
		}),
	)
	if err != nil {
		_ = sqlDB.Close() //nolint:errcheck // already failing
		return nil, fmt.Errorf("%w: connect %s: %w", ErrUnavailable, tgt.driver, err)
	}

	client, err := persistence.New(persistenceConfig{
		driver:      tgt.driver,
		server:      tgt.dsn,
		debug:       opts.Debug,
		pingTimeout: pingTimeout,
	}, sqlDB, tgt.dialect())
	if err != nil {
		_ = sqlDB.Close() //nolint:errcheck // already failing
		return nil, fmt.Errorf("%w: persistence client: %w", ErrUnavailable, err)
	}

	s := &SQL{client: client, db: client.DB(), table: table}
	if err := s.ensureSchema(ctx); err != nil {
		_ = client.Close() //nolint:errcheck // already failing
		return nil, err
	}

	logger.Info("event store ready", logger.Fields{
		"driver": tgt.driver,
		"table":  table,
	})
	return s, nil
}

func (s *SQL) ensureSchema(ctx context.Context) error {
	if _, err := s.db.NewCreateTable().
		Model((*eventRow)(nil)).
		ModelTableExpr("?", bun.Ident(s.table)).
		IfNotExists().
		Exec(ctx); err != nil {
		return fmt.Errorf("%w: create table %s: %w", ErrUnavailable, s.table, err)
	}
	if _, err := s.db.ExecContext(ctx,
		"CREATE INDEX IF NOT EXISTS ? ON ? (?)",
		bun.Ident(s.table+"_timestamp_idx"),
		bun.Ident(s.table),
		bun.Ident("timestamp"),
	); err != nil {
		return fmt.Errorf("%w: create index on %s: %w", ErrUnavailable, s.table, err)
	}
	return nil
}

func (s *SQL) configured() error {
	if s == nil || s.db == nil {
		return fmt.Errorf("%w: sql store is not configured", ErrUnavailable)
	}
	return nil
}

// Insert implements Store.
func (s *SQL) Insert(ctx context.Context, rec event.Record) (string, error) {
	if err := s.configured(); err != nil {
		return "", err
	}
	row := rowFromRecord(rec)
	row.ID = uuid.NewString()

	if _, err := s.db.NewInsert().
		Model(row).
		ModelTableExpr("?", bun.Ident(s.table)).
		Exec(ctx); err != nil {
		return "", fmt.Errorf("%w: insert: %w", ErrUnavailable, err)
	}
	return row.ID, nil
}

// ListRecent implements Store. Records sharing a timestamp are ordered by id
// descending.
func (s *SQL) ListRecent(ctx context.Context, limit int) ([]event.Record, error) {
	if err := s.configured(); err != nil {
		return nil, err
	}
	var rows []eventRow
	err := s.db.NewSelect().
		Model(&rows).
		ModelTableExpr("? AS ?", bun.Ident(s.table), bun.Ident("e")).
		OrderExpr("?TableAlias.? DESC, ?TableAlias.? DESC", bun.Ident("timestamp"), bun.Ident("id")).
		Limit(ClampLimit(limit)).
		Scan(ctx)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: list: %w", ErrUnavailable, err)
	}

	out := make([]event.Record, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.record())
	}
	return out, nil
}

// Ping implements Store.
func (s *SQL) Ping(ctx context.Context) error {
	if err := s.configured(); err != nil {
		return err
	}
	var one int
	if err := s.db.NewSelect().ColumnExpr("1").Scan(ctx, &one); err != nil {
		return fmt.Errorf("%w: ping: %w", ErrUnavailable, err)
	}
	return nil
}

// Close implements Store.
func (s *SQL) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}
