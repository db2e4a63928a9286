// Package bootstrap wires configuration into a repository, shared by the
// server and the operator CLI.
package bootstrap

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"inventario/backend/internal/config"
	"inventario/backend/internal/domain"
	"inventario/backend/internal/schema"
	"inventario/backend/internal/stock"
	"inventario/backend/internal/store"
	"inventario/backend/internal/store/memory"
	pgstore "inventario/backend/internal/store/postgres"
	"inventario/backend/internal/store/sqlite"
	"inventario/backend/internal/store/sqlstore"
)

// Backend is the opened repository plus whatever must be closed with it.
type Backend struct {
	Repo store.Repository
	Name string

	closers []func() error
}

func (b *Backend) Ping(ctx context.Context) error {
	if p, ok := b.Repo.(interface{ Ping(context.Context) error }); ok {
		return p.Ping(ctx)
	}
	return nil
}

func (b *Backend) Close() error {
	var errs []error
	for _, closeFn := range b.closers {
		if err := closeFn(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func Engine(cfg config.Config, logger logrus.FieldLogger) *stock.Engine {
	policy := stock.PolicyLenient
	if cfg.StrictProducts {
		policy = stock.PolicyStrict
	}
	return stock.NewEngine(policy, logger)
}

// MigrationVariant is the schema variant new databases are created with.
func MigrationVariant(cfg config.Config) (domain.SchemaVariant, error) {
	variant, ok := domain.ParseSchemaVariant(cfg.SchemaVariant)
	if !ok {
		return domain.SchemaUnknown, fmt.Errorf("SCHEMA_VARIANT must be legacy or normalized, got %q", cfg.SchemaVariant)
	}
	return variant, nil
}

// Migrate applies the configured variant's migrations to the configured SQL
// backend. It is a no-op for the in-memory store.
func Migrate(cfg config.Config) error {
	variant, err := MigrationVariant(cfg)
	if err != nil {
		return err
	}
	switch {
	case cfg.DatabaseURL != "":
		return schema.Migrate(cfg.DatabaseURL, schema.DriverPostgres, variant)
	case cfg.SQLitePath != "":
		return schema.Migrate(cfg.SQLitePath, schema.DriverSQLite, variant)
	}
	return nil
}

// Open picks postgres when DATABASE_URL is set, then SQLite when SQLITE_PATH
// is set, and falls back to the seeded in-memory store.
func Open(ctx context.Context, cfg config.Config, logger *logrus.Logger) (*Backend, error) {
	engine := Engine(cfg, logger)

	if cfg.RunMigrations {
		if err := Migrate(cfg); err != nil {
			return nil, fmt.Errorf("run migrations: %w", err)
		}
	}

	opts := []sqlstore.Option{sqlstore.WithEngine(engine), sqlstore.WithLogger(logger)}
	switch {
	case cfg.DatabaseURL != "":
		pg, err := pgstore.New(ctx, cfg.DatabaseURL, opts...)
		if err != nil {
			return nil, fmt.Errorf("postgres unavailable and DATABASE_URL is set: %w", err)
		}
		return &Backend{Repo: pg, Name: "postgres", closers: []func() error{pg.Close}}, nil
	case cfg.SQLitePath != "":
		db, err := sqlite.Open(ctx, cfg.SQLitePath, opts...)
		if err != nil {
			return nil, fmt.Errorf("sqlite unavailable at %s: %w", cfg.SQLitePath, err)
		}
		return &Backend{Repo: db, Name: "sqlite", closers: []func() error{db.Close}}, nil
	}
	return &Backend{Repo: memory.NewSeeded(engine), Name: "memory"}, nil
}
