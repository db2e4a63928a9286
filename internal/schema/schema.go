// Package schema carries the table layouts for both transaction schema
// variants and both SQL dialects.
package schema

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"strings"

	migrate "github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"inventario/backend/internal/domain"
)

//go:embed migrations
var migrations embed.FS

type Driver string

const (
	DriverSQLite   Driver = "sqlite"
	DriverPostgres Driver = "postgres"
)

func dir(driver Driver, variant domain.SchemaVariant) (string, error) {
	if driver != DriverSQLite && driver != DriverPostgres {
		return "", fmt.Errorf("unsupported driver %q", driver)
	}
	if variant != domain.SchemaLegacy && variant != domain.SchemaNormalized {
		return "", fmt.Errorf("unsupported schema variant %q", variant)
	}
	return path.Join("migrations", string(driver), string(variant)), nil
}

// Apply runs every up migration for the variant directly on db. It is meant
// for tests and throwaway databases; it keeps no version table.
func Apply(ctx context.Context, db *sql.DB, driver Driver, variant domain.SchemaVariant) error {
	root, err := dir(driver, variant)
	if err != nil {
		return err
	}
	names, err := fs.Glob(migrations, root+"/*.up.sql")
	if err != nil {
		return err
	}
	for _, name := range names {
		body, err := migrations.ReadFile(name)
		if err != nil {
			return err
		}
		if _, err := db.ExecContext(ctx, string(body)); err != nil {
			return fmt.Errorf("apply %s: %w", path.Base(name), err)
		}
	}
	return nil
}

// Migrate brings the database at databaseURL up to date through
// golang-migrate. databaseURL is a postgres URL or a sqlite file path.
func Migrate(databaseURL string, driver Driver, variant domain.SchemaVariant) error {
	root, err := dir(driver, variant)
	if err != nil {
		return err
	}
	src, err := iofs.New(migrations, root)
	if err != nil {
		return err
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, MigrateURL(databaseURL, driver))
	if err != nil {
		return fmt.Errorf("init migrate: %w", err)
	}
	defer func() { _, _ = m.Close() }()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate up: %w", err)
	}
	return nil
}

// MigrateURL rewrites a connection string into the scheme golang-migrate
// registers for the driver.
func MigrateURL(databaseURL string, driver Driver) string {
	if driver == DriverSQLite {
		return "sqlite://" + strings.TrimPrefix(databaseURL, "sqlite://")
	}
	for _, prefix := range []string{"postgresql://", "postgres://"} {
		if strings.HasPrefix(databaseURL, prefix) {
			return "pgx5://" + strings.TrimPrefix(databaseURL, prefix)
		}
	}
	return databaseURL
}
