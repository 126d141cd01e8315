// Package schema holds the versioned migrations of the eventual tables for every
// supported database. Nothing in this module applies them implicitly; see the
// migrate command.
package schema

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/database/spanner" // spanner:// database driver
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations
var migrations embed.FS

// The first migration of each dialect, for tests that build the tables by hand.
var (
	//go:embed migrations/postgres/000001_create_eventual_tables.up.sql
	Postgres string

	//go:embed migrations/mysql/000001_create_eventual_tables.up.sql
	MySQL string

	//go:embed migrations/spanner/000001_create_eventual_tables.up.sql
	Spanner string
)

// dialect maps a database type as accepted by the store factory to its migrations
// directory.
func dialect(dbType string) (string, error) {
	switch dbType {
	case "postgres", "pgx":
		return "postgres", nil
	case "mysql":
		return "mysql", nil
	case "spanner":
		return "spanner", nil
	default:
		return "", fmt.Errorf("unsupported DB type: %s", dbType)
	}
}

// Source returns the embedded migrations of dbType.
func Source(dbType string) (source.Driver, error) {
	dir, err := dialect(dbType)
	if err != nil {
		return nil, err
	}
	return iofs.New(migrations, "migrations/"+dir)
}

// NewSQLMigrator binds the migrations of dbType to an open database. Closing the
// migrator closes db. MySQL connections must allow multiple statements.
func NewSQLMigrator(db *sql.DB, dbType string) (*migrate.Migrate, error) {
	src, err := Source(dbType)
	if err != nil {
		return nil, err
	}

	var driver database.Driver
	switch dbType {
	case "postgres", "pgx":
		driver, err = postgres.WithInstance(db, &postgres.Config{})
	case "mysql":
		driver, err = mysql.WithInstance(db, &mysql.Config{})
	default:
		return nil, fmt.Errorf("unsupported SQL database type: %s", dbType)
	}
	if err != nil {
		return nil, fmt.Errorf("create %s migration driver: %w", dbType, err)
	}

	return migrate.NewWithInstance("iofs", src, dbType, driver)
}

// NewSpannerMigrator opens the Spanner database at uri
// (projects/<p>/instances/<i>/databases/<d>) for migration.
func NewSpannerMigrator(uri string) (*migrate.Migrate, error) {
	src, err := Source("spanner")
	if err != nil {
		return nil, err
	}
	// clean statements lets a migration file hold several DDL statements
	return migrate.NewWithSourceInstance("iofs", src, "spanner://"+uri+"?x-clean-statements=true")
}

// Up applies every pending migration and reports whether any ran. An up-to-date
// database is not an error.
func Up(m *migrate.Migrate) (bool, error) {
	err := m.Up()
	if err == nil {
		return true, nil
	}
	if errors.Is(err, migrate.ErrNoChange) {
		return false, nil
	}

	var dirtyErr migrate.ErrDirty
	if errors.As(err, &dirtyErr) {
		return false, fmt.Errorf("migration failed: dirty database version %d", dirtyErr.Version)
	}
	return false, fmt.Errorf("migration failed: %w", err)
}
