// Package sqlstore implements the repository on database/sql. The SQLite and
// Postgres backends differ only in the Dialect they plug in.
package sqlstore

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"inventario/backend/internal/domain"
	"inventario/backend/internal/schema"
	"inventario/backend/internal/stock"
	"inventario/backend/internal/store"
)

// Dialect captures what differs between SQL engines.
type Dialect interface {
	Driver() schema.Driver
	// Rebind rewrites ? placeholders into the engine's native form.
	Rebind(query string) string
	// ColumnQuery counts columns named by the second argument on the table
	// named by the first.
	ColumnQuery() string
	IsUndefinedColumn(err error) bool
	IsUnavailable(err error) bool
	TxOptions() *sql.TxOptions
}

type Store struct {
	db      *sql.DB
	dialect Dialect
	engine  *stock.Engine
	log     logrus.FieldLogger

	mu      sync.Mutex
	variant domain.SchemaVariant
}

var _ store.Repository = (*Store)(nil)

type Option func(*Store)

func WithEngine(engine *stock.Engine) Option {
	return func(s *Store) {
		if engine != nil {
			s.engine = engine
		}
	}
}

func WithLogger(logger logrus.FieldLogger) Option {
	return func(s *Store) {
		if logger != nil {
			s.log = logger
		}
	}
}

// WithVariant pins the schema variant and skips the column probe.
func WithVariant(variant domain.SchemaVariant) Option {
	return func(s *Store) {
		s.variant = variant
	}
}

func New(db *sql.DB, dialect Dialect, opts ...Option) *Store {
	s := &Store{
		db:      db,
		dialect: dialect,
		log:     logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.WithFields(logrus.Fields{"component": "sqlstore", "driver": string(dialect.Driver())})
	if s.engine == nil {
		s.engine = stock.NewEngine(stock.PolicyLenient, s.log)
	}
	return s
}

func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) Driver() schema.Driver {
	return s.dialect.Driver()
}

func (s *Store) Ping(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := s.db.PingContext(pingCtx); err != nil {
		return store.Unavailable(err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// SchemaVariant probes the transaction tables once and caches the answer.
func (s *Store) SchemaVariant(ctx context.Context) (domain.SchemaVariant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.variant != domain.SchemaUnknown {
		return s.variant, nil
	}

	var count int
	if err := s.db.QueryRowContext(ctx, s.q(s.dialect.ColumnQuery()), "sales", "items_text").Scan(&count); err != nil {
		return domain.SchemaUnknown, store.Unavailable(err)
	}
	s.variant = domain.SchemaNormalized
	if count > 0 {
		s.variant = domain.SchemaLegacy
	}
	s.log.WithField("variant", s.variant).Info("detected transaction schema")
	return s.variant, nil
}

// demote records that a legacy statement hit missing columns. Every later
// call goes straight to the normalized path.
func (s *Store) demote(kind domain.Kind, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.variant == domain.SchemaNormalized {
		return
	}
	s.variant = domain.SchemaNormalized
	s.log.WithFields(logrus.Fields{"kind": kind, "cause": err.Error()}).Warn("legacy columns missing, switching to normalized schema")
}

func (s *Store) q(query string) string {
	return s.dialect.Rebind(query)
}

// classify maps driver failures onto the store sentinels.
func (s *Store) classify(err error) error {
	if err == nil {
		return nil
	}
	if s.dialect.IsUndefinedColumn(err) {
		return fmt.Errorf("%w: %v", store.ErrSchemaMismatch, err)
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) || s.dialect.IsUnavailable(err) {
		return store.Unavailable(err)
	}
	return err
}

func (s *Store) begin(ctx context.Context) (*sql.Tx, error) {
	unit, err := s.db.BeginTx(ctx, s.dialect.TxOptions())
	if err != nil {
		return nil, store.Unavailable(err)
	}
	return unit, nil
}

// Dollar rewrites ? placeholders as $1, $2, ... for Postgres.
func Dollar(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func nullID(id int64) any {
	if id == 0 {
		return nil
	}
	return id
}

func affected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

var timeLayouts = []string{
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999 -0700 MST",
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02",
}

// timestamp scans native time values as well as the text form SQLite keeps.
type timestamp struct {
	dst *time.Time
}

func (ts timestamp) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*ts.dst = time.Time{}
		return nil
	case time.Time:
		*ts.dst = v.UTC()
		return nil
	case []byte:
		return ts.parse(string(v))
	case string:
		return ts.parse(v)
	}
	return fmt.Errorf("unsupported timestamp type %T", src)
}

func (ts timestamp) parse(raw string) error {
	raw = strings.TrimSpace(raw)
	for _, layout := range timeLayouts {
		if parsed, err := time.Parse(layout, raw); err == nil {
			*ts.dst = parsed.UTC()
			return nil
		}
	}
	return fmt.Errorf("parse timestamp %q", raw)
}
