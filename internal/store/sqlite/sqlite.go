// Package sqlite opens the embedded SQLite backend.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"inventario/backend/internal/schema"
	"inventario/backend/internal/store/sqlstore"
)

type dialect struct{}

func (dialect) Driver() schema.Driver { return schema.DriverSQLite }

func (dialect) Rebind(query string) string { return query }

func (dialect) ColumnQuery() string {
	return `SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?`
}

func (dialect) IsUndefinedColumn(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "no such column") || strings.Contains(msg, "has no column named")
}

func (dialect) IsUnavailable(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	switch sqliteErr.Code() & 0xff {
	case sqlite3.SQLITE_CANTOPEN, sqlite3.SQLITE_NOTADB, sqlite3.SQLITE_IOERR:
		return true
	}
	return false
}

func (dialect) TxOptions() *sql.TxOptions { return nil }

// Dialect returns the SQLite flavour of sqlstore.Dialect.
func Dialect() sqlstore.Dialect { return dialect{} }

// DSN builds a modernc connection string for path with the pragmas every
// connection needs.
func DSN(path string) string {
	q := url.Values{}
	q.Add("_pragma", "foreign_keys(1)")
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "busy_timeout(5000)")
	return path + "?" + q.Encode()
}

// Open connects to the database file at path. SQLite allows a single
// writer, so the pool holds one connection and units of work queue on it.
func Open(ctx context.Context, path string, opts ...sqlstore.Option) (*sqlstore.Store, error) {
	db, err := sql.Open("sqlite", DSN(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := sqlstore.New(db, dialect{}, opts...)
	if err := s.Ping(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}
