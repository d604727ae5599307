package database

import (
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

// Supported SQL drivers, by database/sql registration name
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "pgx"
)

// Config holds SQL database configuration
type Config struct {
	Driver          string        `json:"driver"`
	DSN             string        `json:"dsn"`
	MaxConnections  int           `json:"max_connections"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `json:"conn_max_idle_time"`
}

// DefaultConfig returns configuration for a local SQLite file
func DefaultConfig() *Config {
	return &Config{
		Driver:          DriverSQLite,
		DSN:             "./data/classhub.db",
		MaxConnections:  10,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: time.Minute * 10,
	}
}

// Validate ensures the configuration is valid
func (c *Config) Validate() error {
	if c.Driver != DriverSQLite && c.Driver != DriverPostgres {
		return fmt.Errorf("unsupported sql driver %q", c.Driver)
	}
	if c.DSN == "" {
		return errors.New("database dsn cannot be empty")
	}
	if c.MaxConnections <= 0 {
		return errors.New("max connections must be greater than 0")
	}
	if c.ConnMaxLifetime <= 0 {
		return errors.New("connection max lifetime must be greater than 0")
	}
	if c.ConnMaxIdleTime <= 0 {
		return errors.New("connection max idle time must be greater than 0")
	}
	return nil
}

// SQLite pragmas applied on open. WAL keeps readers unblocked while the
// store's single writer goroutine commits.
const sqliteOptimizations = `
	PRAGMA journal_mode = WAL;
	PRAGMA synchronous = NORMAL;
	PRAGMA cache_size = -64000;
	PRAGMA temp_store = MEMORY;
	PRAGMA foreign_keys = ON;
	PRAGMA busy_timeout = 5000;
`

// Open connects to the configured database and applies pool settings
func Open(cfg *Config) (*sqlx.DB, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid database config: %w", err)
	}

	dsn := cfg.DSN
	if cfg.Driver == DriverSQLite {
		dsn = sqliteDSN(dsn)
	}

	db, err := sqlx.Open(cfg.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetMaxIdleConns(cfg.MaxConnections / 2)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if cfg.Driver == DriverSQLite {
		if err := applySQLiteOptimizations(db); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply sqlite optimizations: %w", err)
		}
	}

	return db, nil
}

// applySQLiteOptimizations applies the pragma set to the pool
func applySQLiteOptimizations(db *sqlx.DB) error {
	_, err := db.Exec(sqliteOptimizations)
	return err
}

// sqliteDSN adds per-connection options that PRAGMA on a pooled handle
// would only set for one connection.
func sqliteDSN(dsn string) string {
	if strings.Contains(dsn, "_foreign_keys") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_foreign_keys=on&_busy_timeout=5000"
}
