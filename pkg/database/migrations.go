package database

import (
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	migratedb "github.com/golang-migrate/migrate/v4/database"
	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// MigrationManager applies the embedded schema migrations to a SQL database
type MigrationManager struct {
	db     *sqlx.DB
	driver string
}

// NewMigrationManager creates a migration manager for db opened with driver
func NewMigrationManager(db *sqlx.DB, driver string) *MigrationManager {
	return &MigrationManager{
		db:     db,
		driver: driver,
	}
}

// ApplyMigrations applies all pending migrations. Already applied
// migrations are skipped.
func (m *MigrationManager) ApplyMigrations() error {
	mig, err := m.migrator()
	if err != nil {
		return err
	}

	// Close is not called on mig: it would close the shared *sql.DB.
	if err := mig.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}

// Rollback reverts every applied migration
func (m *MigrationManager) Rollback() error {
	mig, err := m.migrator()
	if err != nil {
		return err
	}
	if err := mig.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to roll back migrations: %w", err)
	}
	return nil
}

// Version returns the current schema version and whether it is dirty.
// A database with no applied migration reports version 0.
func (m *MigrationManager) Version() (uint, bool, error) {
	mig, err := m.migrator()
	if err != nil {
		return 0, false, err
	}
	version, dirty, err := mig.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to read schema version: %w", err)
	}
	return version, dirty, nil
}

// ValidateSchema ensures the database carries the tables, columns and
// indexes the stores rely on
func (m *MigrationManager) ValidateSchema() error {
	validator := NewSchemaValidator(m.db, m.driver)
	if err := validator.ValidateTablesExist(); err != nil {
		return err
	}
	if err := validator.ValidateTableStructure(); err != nil {
		return err
	}
	return validator.ValidateIndexes()
}

func (m *MigrationManager) migrator() (*migrate.Migrate, error) {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to load migrations: %w", err)
	}

	var driver migratedb.Driver
	switch m.driver {
	case DriverSQLite:
		driver, err = migratesqlite.WithInstance(m.db.DB, &migratesqlite.Config{})
	case DriverPostgres:
		driver, err = migratepgx.WithInstance(m.db.DB, &migratepgx.Config{})
	default:
		return nil, fmt.Errorf("unsupported sql driver %q", m.driver)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create migration driver: %w", err)
	}

	mig, err := migrate.NewWithInstance("iofs", source, m.driver, driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrator: %w", err)
	}
	return mig, nil
}
