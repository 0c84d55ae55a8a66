package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/pressly/goose/v3"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// busyTimeout is how long SQLite waits on a locked database before failing.
const busyTimeout = 5 * time.Second

var sqliteDialect = dialect{
	name:     "sqlite",
	goose:    goose.DialectSQLite3,
	classify: classifySQLite,
	timeArg: func(t time.Time) any {
		return t.UTC().Format(time.RFC3339Nano)
	},
}

// SQLiteStore is the Feature Ledger on SQLite.
type SQLiteStore struct {
	*store
}

// OpenSQLite opens (creating if needed) a SQLite ledger at path.
// Use ":memory:" for a private in-memory database.
func OpenSQLite(ctx context.Context, path string, logger *slog.Logger) (*SQLiteStore, error) {
	if path == "" {
		path = ":memory:"
	}
	pragmas := fmt.Sprintf("_pragma=foreign_keys(1)&_pragma=busy_timeout(%d)", busyTimeout.Milliseconds())
	dsn := fmt.Sprintf("%s?%s&_pragma=journal_mode(WAL)", path, pragmas)
	if path == ":memory:" {
		dsn = ":memory:?" + pragmas
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	if path == ":memory:" || strings.HasPrefix(path, "file::memory:") {
		// every connection to :memory: is a separate database
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping sqlite database: %w", err)
	}

	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &SQLiteStore{store: &store{db: db, dialect: sqliteDialect, logger: logger}}, nil
}

func classifySQLite(err error) error {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return nil
	}
	switch se.Code() {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return errUnique
	}
	switch se.Code() & 0xff {
	case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED, sqlite3.SQLITE_CANTOPEN, sqlite3.SQLITE_IOERR:
		return unavailable(err)
	}
	return nil
}

var _ Ledger = (*SQLiteStore)(nil)
