package app

import (
	"errors"
	"fmt"
	"time"

	"classhub/internal/config"
	pkgdatabase "classhub/pkg/database"
)

// Migration actions accepted by RunMigrations
const (
	MigrateUp      = "up"
	MigrateDown    = "down"
	MigrateVersion = "version"
)

var (
	ErrNoSQLStore       = errors.New("migrations only apply to the sqlite3 and pgx drivers")
	ErrUnknownMigrateOp = errors.New("unknown migration action")
)

// RunMigrations applies or reverts the embedded schema on the configured SQL
// database and returns the resulting version
func RunMigrations(cfg config.DatabaseConfig, action string) (uint, bool, error) {
	switch action {
	case MigrateUp, MigrateDown, MigrateVersion:
	default:
		return 0, false, fmt.Errorf("%w: %q", ErrUnknownMigrateOp, action)
	}
	if cfg.Driver != config.DriverSQLite && cfg.Driver != config.DriverPostgres {
		return 0, false, ErrNoSQLStore
	}

	db, err := pkgdatabase.Open(&pkgdatabase.Config{
		Driver:          cfg.Driver,
		DSN:             cfg.DSN,
		MaxConnections:  1,
		ConnMaxLifetime: time.Minute,
		ConnMaxIdleTime: time.Minute,
	})
	if err != nil {
		return 0, false, err
	}
	defer db.Close()

	migrations := pkgdatabase.NewMigrationManager(db, cfg.Driver)
	switch action {
	case MigrateUp:
		err = migrations.ApplyMigrations()
	case MigrateDown:
		err = migrations.Rollback()
	}
	if err != nil {
		return 0, false, err
	}
	return migrations.Version()
}
