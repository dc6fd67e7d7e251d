package sqlite

import (
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/bnema/bidbot/internal/ports"
)

//go:embed schema.sql
var schemaSQL string

// openDB is a package-level var to allow test injection.
var openDB = sql.Open

const (
	dataDirMode = 0o700
	// DefaultFileName is the database file created below the data directory.
	DefaultFileName = "history.db"
)

// Store persists run records, bid records, the activity log and the
// processed-project history in one SQLite database. The port views are
// exposed through Runs, Bids, Activity and Seen.
type Store struct {
	db            *sql.DB
	clock         ports.Clock
	seenRetention time.Duration
}

type Option func(*Store)

func WithClock(clock ports.Clock) Option {
	return func(s *Store) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithSeenRetention makes project ids older than d count as unseen again.
// Zero keeps them forever.
func WithSeenRetention(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.seenRetention = d
		}
	}
}

// Open creates the parent directory, opens the database with WAL enabled
// and applies the schema.
func Open(path string, opts ...Option) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path = filepath.Clean(path)
	if err := os.MkdirAll(filepath.Dir(path), dataDirMode); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	db, err := openDB("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// One connection keeps the pragmas and serializes writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("pragma %q: %w", p, err)
		}
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	s := &Store{db: db, clock: ports.SystemClock{}}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) Runs() *RunStore {
	return &RunStore{db: s.db}
}

func (s *Store) Bids() *BidStore {
	return &BidStore{db: s.db}
}

func (s *Store) Activity() *ActivityStore {
	return &ActivityStore{db: s.db}
}

func (s *Store) Seen() *SeenStore {
	return &SeenStore{db: s.db, clock: s.clock, retention: s.seenRetention}
}

func isConstraintError(err error) bool {
	var sqliteErr *msqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	code := sqliteErr.Code()
	return code == sqlite3lib.SQLITE_CONSTRAINT || code == sqlite3lib.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY
}

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// rangeClause appends the time range predicate for column to where/args.
func rangeClause(where []string, args []any, column string, r ports.TimeRange) ([]string, []any) {
	if !r.Since.IsZero() {
		where = append(where, column+" >= ?")
		args = append(args, toMillis(r.Since))
	}
	if !r.Until.IsZero() {
		where = append(where, column+" < ?")
		args = append(args, toMillis(r.Until))
	}
	return where, args
}

// windowed builds a select where a positive limit keeps the newest rows while
// the result stays in chronological order.
func windowed(columns, table string, where []string, order string, limit int) string {
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}
	if limit <= 0 {
		return fmt.Sprintf("SELECT %s FROM %s%s ORDER BY %s ASC, rowid ASC", columns, table, clause, order)
	}
	return fmt.Sprintf(
		"SELECT %[1]s FROM (SELECT rowid AS rid, %[1]s FROM %[2]s%[3]s ORDER BY %[4]s DESC, rowid DESC LIMIT %[5]d) ORDER BY %[4]s ASC, rid ASC",
		columns, table, clause, order, limit,
	)
}
