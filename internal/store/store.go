// Package store owns the per-(symbol, granularity) candle tables: creation,
// watermark queries, idempotent inserts, listing, and recent-row reads.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/zeromicro/go-zero/core/logx"
	"github.com/zeromicro/go-zero/core/stores/cache"
	"github.com/zeromicro/go-zero/core/stores/sqlx"

	"candlesync/pkg/market"
)

// DefaultSchema holds every candle table.
const DefaultSchema = "symbols"

const defaultRecentTTL = 30 * time.Second

// Symbols become SQL identifiers, so the accepted alphabet is closed:
// uppercase letters, digits, and the '&'/'-' that appear in NSE tickers
// such as M&M and BAJAJ-AUTO.
var symbolPattern = regexp.MustCompile(`^[A-Z0-9][A-Z0-9&-]{0,23}$`)

// Table identifies one persisted candle table.
type Table struct {
	Symbol      string
	Granularity market.Granularity
	Name        string // e.g. RELIANCE_5M
}

func (t Table) String() string { return t.Name }

// TableFor derives the deterministic table identity for a pair.
func TableFor(symbol string, g market.Granularity) (Table, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if !symbolPattern.MatchString(symbol) {
		return Table{}, fmt.Errorf("store: invalid symbol %q", symbol)
	}
	if !g.Valid() {
		return Table{}, fmt.Errorf("store: invalid granularity %q", g)
	}
	return Table{Symbol: symbol, Granularity: g, Name: symbol + g.Suffix()}, nil
}

// ParseTableName recovers the pair identity from a stored table name by
// stripping the known granularity suffix.
func ParseTableName(name string) (Table, bool) {
	for _, g := range market.Granularities {
		if strings.HasSuffix(name, g.Suffix()) {
			symbol := strings.TrimSuffix(name, g.Suffix())
			if symbolPattern.MatchString(symbol) {
				return Table{Symbol: symbol, Granularity: g, Name: name}, true
			}
		}
	}
	return Table{}, false
}

// Store executes candle table operations over a shared connection pool.
// The optional cache fronts recent-row reads only; correctness never depends
// on it.
type Store struct {
	conn      sqlx.SqlConn
	cache     cache.Cache
	schema    string
	recentTTL time.Duration
}

// Option configures a Store.
type Option func(*Store)

// WithCache attaches a redis-backed read cache for recent rows.
func WithCache(c cache.Cache, ttl time.Duration) Option {
	return func(s *Store) {
		s.cache = c
		if ttl > 0 {
			s.recentTTL = ttl
		}
	}
}

// WithSchema overrides the schema name.
func WithSchema(schema string) Option {
	return func(s *Store) {
		if schema != "" {
			s.schema = schema
		}
	}
}

// New constructs a Store on an explicitly passed connection pool. The pool is
// owned by the caller and injected here, never reached through globals.
func New(conn sqlx.SqlConn, opts ...Option) *Store {
	s := &Store{conn: conn, schema: DefaultSchema, recentTTL: defaultRecentTTL}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ping verifies database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	var one int
	if err := s.conn.QueryRowCtx(ctx, &one, "SELECT 1"); err != nil {
		return fmt.Errorf("store: ping: %w", err)
	}
	return nil
}

// EnsureTable creates the schema and the table if absent. Idempotent; a
// concurrent-creation race surfacing as "already exists" is success.
func (s *Store) EnsureTable(ctx context.Context, symbol string, g market.Granularity) (Table, error) {
	table, err := TableFor(symbol, g)
	if err != nil {
		return Table{}, err
	}

	schemaStmt := fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS %s`, s.schema)
	if _, err := s.conn.ExecCtx(ctx, schemaStmt); err != nil && !isAlreadyExists(err) {
		return Table{}, fmt.Errorf("store: ensure schema: %w", err)
	}

	tableStmt := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
    datetime TIMESTAMP WITH TIME ZONE PRIMARY KEY,
    open DOUBLE PRECISION,
    high DOUBLE PRECISION,
    low DOUBLE PRECISION,
    close DOUBLE PRECISION,
    volume DOUBLE PRECISION
)`, s.qualified(table))
	if _, err := s.conn.ExecCtx(ctx, tableStmt); err != nil && !isAlreadyExists(err) {
		return Table{}, fmt.Errorf("store: ensure table %s: %w", table.Name, err)
	}
	return table, nil
}

// Watermark returns max(datetime) for the table, or nil when empty. Always
// re-queried so it reflects true persisted state across restarts.
func (s *Store) Watermark(ctx context.Context, table Table) (*time.Time, error) {
	db, err := s.conn.RawDB()
	if err != nil {
		return nil, fmt.Errorf("store: watermark %s: %w", table.Name, err)
	}

	// Scanned through database/sql directly: MAX over an empty table yields
	// NULL, which NullTime models.
	var wm sql.NullTime
	query := fmt.Sprintf(`SELECT MAX(datetime) FROM %s`, s.qualified(table))
	if err := db.QueryRowContext(ctx, query).Scan(&wm); err != nil {
		return nil, fmt.Errorf("store: watermark %s: %w", table.Name, err)
	}
	if !wm.Valid {
		return nil, nil
	}
	t := wm.Time
	return &t, nil
}

// InsertRows persists rows with conflict-on-datetime resolved as "skip, keep
// existing". Returns the number of rows actually inserted, which may be less
// than len(rows) on overlapping fetch windows. Empty input is a no-op.
func (s *Store) InsertRows(ctx context.Context, table Table, rows []market.Candle) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	stmt := fmt.Sprintf(`
INSERT INTO %s (datetime, open, high, low, close, volume)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (datetime) DO NOTHING`, s.qualified(table))

	inserted := 0
	err := s.conn.TransactCtx(ctx, func(ctx context.Context, session sqlx.Session) error {
		for _, row := range rows {
			result, err := session.ExecCtx(ctx, stmt,
				row.Datetime, row.Open, row.High, row.Low, row.Close, row.Volume)
			if err != nil {
				return err
			}
			affected, err := result.RowsAffected()
			if err != nil {
				return err
			}
			inserted += int(affected)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("store: insert into %s: %w", table.Name, err)
	}

	if inserted > 0 {
		s.dropRecentCache(ctx, table)
	}
	return inserted, nil
}

// ListTables returns every persisted table for the granularity.
func (s *Store) ListTables(ctx context.Context, g market.Granularity) ([]Table, error) {
	var names []string
	query := `SELECT table_name FROM information_schema.tables WHERE table_schema = $1 ORDER BY table_name`
	if err := s.conn.QueryRowsCtx(ctx, &names, query, s.schema); err != nil {
		return nil, fmt.Errorf("store: list tables: %w", err)
	}

	tables := make([]Table, 0, len(names))
	for _, name := range names {
		name = strings.ToUpper(name)
		table, ok := ParseTableName(name)
		if !ok || table.Granularity != g {
			continue
		}
		tables = append(tables, table)
	}
	return tables, nil
}

// RecentRows returns up to limit rows, most recent first. Display path only;
// served from cache when one is attached.
func (s *Store) RecentRows(ctx context.Context, table Table, limit int) ([]market.Candle, error) {
	if limit <= 0 {
		return nil, nil
	}

	key := s.recentCacheKey(table, limit)
	if s.cache != nil {
		var cached []market.Candle
		if err := s.cache.GetCtx(ctx, key, &cached); err == nil {
			return cached, nil
		} else if !s.cache.IsNotFound(err) {
			logx.WithContext(ctx).Errorf("store: cache get %s: %v", key, err)
		}
	}

	var rows []market.Candle
	query := fmt.Sprintf(`
SELECT datetime, open, high, low, close, volume
FROM %s
ORDER BY datetime DESC
LIMIT $1`, s.qualified(table))
	if err := s.conn.QueryRowsCtx(ctx, &rows, query, limit); err != nil {
		return nil, fmt.Errorf("store: recent rows %s: %w", table.Name, err)
	}

	if s.cache != nil {
		if err := s.cache.SetWithExpireCtx(ctx, key, rows, s.recentTTL); err != nil {
			logx.WithContext(ctx).Errorf("store: cache set %s: %v", key, err)
		}
	}
	return rows, nil
}

func (s *Store) qualified(table Table) string {
	return fmt.Sprintf(`%s."%s"`, s.schema, table.Name)
}

func (s *Store) recentCacheKey(table Table, limit int) string {
	return fmt.Sprintf("candlesync:recent:%s:%d", table.Name, limit)
}

func (s *Store) dropRecentCache(ctx context.Context, table Table) {
	if s.cache == nil {
		return
	}
	// Display limits in use are small and few; drop the common ones.
	keys := make([]string, 0, 4)
	for _, limit := range []int{3, 5, 10} {
		keys = append(keys, s.recentCacheKey(table, limit))
	}
	if err := s.cache.DelCtx(ctx, keys...); err != nil {
		logx.WithContext(ctx).Errorf("store: cache del %s: %v", table.Name, err)
	}
}

func isAlreadyExists(err error) bool {
	return err != nil && strings.Contains(err.Error(), "already exists")
}
