package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/nerrad567/gray-logic-irrigation/internal/infrastructure/config"
)

// Connection settings for the state database.
const (
	// dirPermissions for the database directory (owner rwx, group rx).
	dirPermissions = 0750

	// filePermissions for the database file; it carries operator data.
	filePermissions = 0600

	// msPerSecond converts the busy timeout to the driver's milliseconds.
	msPerSecond = 1000

	// connectionTimeout bounds the initial ping in Open.
	connectionTimeout = 5 * time.Second

	// connMaxIdleTime recycles an idle file connection.
	connMaxIdleTime = 30 * time.Minute

	// MemoryPath opens a private in-memory database. Used by tests.
	MemoryPath = ":memory:"
)

// DB wraps a sql.DB connection to the irrigation state database.
type DB struct {
	*sql.DB
	path string
}

// Open creates the database directory if needed, opens the SQLite file with
// the configured pragmas and verifies the connection.
//
// It performs the following setup:
//  1. Creates the database directory unless cfg.Path is MemoryPath
//  2. Opens the file with the busy timeout and foreign keys enabled
//  3. Enables WAL journalling when cfg.WALMode is set
//  4. Pins the pool to a single connection
//  5. Pings, then restricts the file to 0600
//
// SQLite allows a single writer, so the pool is pinned to one connection.
// This also keeps an in-memory database alive for the lifetime of the DB.
//
// Parameters:
//   - cfg: Database section of the service configuration
//
// Returns:
//   - *DB: Connected database wrapper
//   - error: If the directory, driver or ping fails
func Open(cfg config.DatabaseConfig) (*DB, error) {
	if cfg.Path != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), dirPermissions); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	// See: https://github.com/mattn/go-sqlite3#connection-string
	connStr := fmt.Sprintf("file:%s?_busy_timeout=%d&_foreign_keys=on",
		cfg.Path,
		cfg.BusyTimeout*msPerSecond,
	)
	if cfg.WALMode && cfg.Path != MemoryPath {
		connStr += "&_journal_mode=WAL&_synchronous=NORMAL"
	}

	sqlDB, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	if cfg.Path != MemoryPath {
		sqlDB.SetConnMaxLifetime(time.Hour)
		sqlDB.SetConnMaxIdleTime(connMaxIdleTime)
	}

	db := &DB{
		DB:   sqlDB,
		path: cfg.Path,
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectionTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		sqlDB.Close() //nolint:errcheck // Best effort cleanup on error path
		return nil, fmt.Errorf("verifying database connection: %w", err)
	}

	if cfg.Path != MemoryPath {
		_ = os.Chmod(cfg.Path, filePermissions) //nolint:errcheck // File may not exist until first write
	}

	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	if db.DB == nil {
		return nil
	}
	if err := db.DB.Close(); err != nil {
		return fmt.Errorf("closing database: %w", err)
	}
	return nil
}

// Path returns the filesystem path to the database file.
func (db *DB) Path() string {
	return db.path
}

// HealthCheck verifies the database answers a trivial query.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//
// Returns:
//   - error: nil if healthy, error describing the issue otherwise
func (db *DB) HealthCheck(ctx context.Context) error {
	var result int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}
	return nil
}

// BeginTx starts a new transaction. Repositories that touch more than one
// table (rule plus history, Q-table plus learning log) go through here.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - opts: Isolation options, nil for the driver default
//
//	tx, err := db.BeginTx(ctx, nil)
//	if err != nil {
//	    return err
//	}
//	defer tx.Rollback() // No-op if committed
//	// ... execute queries on tx ...
//	return tx.Commit()
func (db *DB) BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error) {
	tx, err := db.DB.BeginTx(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("starting transaction: %w", err)
	}
	return tx, nil
}
