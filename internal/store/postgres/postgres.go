package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"inventario/backend/internal/schema"
	"inventario/backend/internal/store"
	"inventario/backend/internal/store/sqlstore"
)

type dialect struct{}

func (dialect) Driver() schema.Driver { return schema.DriverPostgres }

func (dialect) Rebind(query string) string { return sqlstore.Dollar(query) }

func (dialect) ColumnQuery() string {
	return `
		SELECT COUNT(*)
		FROM information_schema.columns
		WHERE table_schema = current_schema() AND table_name = ? AND column_name = ?
	`
}

func (dialect) IsUndefinedColumn(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.UndefinedColumn
	}
	return false
}

func (dialect) IsUnavailable(err error) bool {
	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgerrcode.AdminShutdown, pgerrcode.CrashShutdown, pgerrcode.CannotConnectNow:
			return true
		}
		return pgerrcode.IsConnectionException(pgErr.Code)
	}
	return false
}

// TxOptions runs units of work at READ COMMITTED. The conditional stock
// update takes a row lock and re-evaluates its predicate after waiting on a
// concurrent writer, so it cannot oversell at this level.
func (dialect) TxOptions() *sql.TxOptions {
	return &sql.TxOptions{Isolation: sql.LevelReadCommitted}
}

func Dialect() sqlstore.Dialect { return dialect{} }

func New(ctx context.Context, databaseURL string, opts ...sqlstore.Option) (*sqlstore.Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, store.Unavailable(err)
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	s := sqlstore.New(db, dialect{}, opts...)
	if err := s.Ping(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}
