package database

import (
	"context"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"
)

const (
	// Format: YYYYMMDD_HHMMSS_description.up.sql (3 parts when split by "_")
	migrationFilenameParts = 3
	minVersionParts        = 2
)

// Migration represents a single schema migration.
type Migration struct {
	Version string // YYYYMMDD_HHMMSS
	Name    string
	UpSQL   string
	DownSQL string
}

// MigrationRecord represents a row in the schema_migrations table.
type MigrationRecord struct {
	Version   string
	AppliedAt time.Time
}

// Migrate applies every pending migration found at the root of source, oldest
// first. Each migration runs in its own transaction, so a failure leaves the
// earlier ones committed and re-running continues from the failed one.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - source: Filesystem holding *.up.sql and *.down.sql, normally migrations.FS
//
// Returns:
//   - error: The first migration that failed, wrapped with its version
func (db *DB) Migrate(ctx context.Context, source fs.FS) error {
	if err := db.createMigrationsTable(ctx); err != nil {
		return fmt.Errorf("creating migrations table: %w", err)
	}

	_, pending, err := db.MigrationStatus(ctx, source)
	if err != nil {
		return err
	}

	for _, m := range pending {
		if err := db.applyMigration(ctx, m); err != nil {
			return fmt.Errorf("applying migration %s (%s): %w", m.Version, m.Name, err)
		}
	}
	return nil
}

// MigrateDown rolls back the most recently applied migration.
// It is a no-op on a database with nothing applied, and fails when the
// latest migration has no down script in source.
func (db *DB) MigrateDown(ctx context.Context, source fs.FS) error {
	applied, err := db.appliedMigrations(ctx)
	if err != nil {
		return fmt.Errorf("getting applied migrations: %w", err)
	}
	if len(applied) == 0 {
		return nil
	}
	latest := applied[len(applied)-1]

	migrations, err := loadMigrations(source)
	if err != nil {
		return fmt.Errorf("loading migrations: %w", err)
	}

	var migration *Migration
	for i := range migrations {
		if migrations[i].Version == latest.Version {
			migration = &migrations[i]
			break
		}
	}
	if migration == nil {
		return fmt.Errorf("migration %s not found in source", latest.Version)
	}
	if migration.DownSQL == "" {
		return fmt.Errorf("migration %s has no down SQL", latest.Version)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck // Rollback is no-op after commit

	if _, err := tx.ExecContext(ctx, migration.DownSQL); err != nil {
		return fmt.Errorf("executing down SQL: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		"DELETE FROM schema_migrations WHERE version = ?",
		migration.Version,
	); err != nil {
		return fmt.Errorf("removing migration record: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing rollback: %w", err)
	}
	return nil
}

// MigrationStatus reports applied and pending migrations for source.
//
// Returns:
//   - applied: Rows of schema_migrations, oldest first
//   - pending: Migrations in source not yet applied, oldest first
//   - error: If the table or source cannot be read
func (db *DB) MigrationStatus(ctx context.Context, source fs.FS) (applied []MigrationRecord, pending []Migration, err error) {
	if err := db.createMigrationsTable(ctx); err != nil {
		return nil, nil, fmt.Errorf("creating migrations table: %w", err)
	}

	applied, err = db.appliedMigrations(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("getting applied migrations: %w", err)
	}

	migrations, err := loadMigrations(source)
	if err != nil {
		return nil, nil, fmt.Errorf("loading migrations: %w", err)
	}

	done := make(map[string]bool, len(applied))
	for _, m := range applied {
		done[m.Version] = true
	}
	for _, m := range migrations {
		if !done[m.Version] {
			pending = append(pending, m)
		}
	}
	return applied, pending, nil
}

func (db *DB) createMigrationsTable(ctx context.Context) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TEXT NOT NULL
		)
	`)
	return err
}

func (db *DB) appliedMigrations(ctx context.Context) ([]MigrationRecord, error) {
	rows, err := db.QueryContext(ctx,
		"SELECT version, applied_at FROM schema_migrations ORDER BY version",
	)
	if err != nil {
		return nil, fmt.Errorf("querying migrations: %w", err)
	}
	defer rows.Close()

	var records []MigrationRecord
	for rows.Next() {
		var r MigrationRecord
		var appliedAt string
		if err := rows.Scan(&r.Version, &appliedAt); err != nil {
			return nil, fmt.Errorf("scanning migration row: %w", err)
		}
		r.AppliedAt, _ = time.Parse(time.RFC3339, appliedAt) //nolint:errcheck // Format is controlled
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating migrations: %w", err)
	}
	return records, nil
}

func (db *DB) applyMigration(ctx context.Context, m Migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck // Rollback is no-op after commit

	if _, err := tx.ExecContext(ctx, m.UpSQL); err != nil {
		return fmt.Errorf("executing SQL: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)",
		m.Version,
		time.Now().UTC().Format(time.RFC3339),
	); err != nil {
		return fmt.Errorf("recording migration: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing migration: %w", err)
	}
	return nil
}

// loadMigrations reads *.up.sql / *.down.sql pairs from the root of source.
// A nil source yields no migrations.
func loadMigrations(source fs.FS) ([]Migration, error) {
	if source == nil {
		return nil, nil
	}

	entries, err := fs.ReadDir(source, ".")
	if err != nil {
		return nil, fmt.Errorf("reading migration directory: %w", err)
	}

	upFiles := make(map[string]string)
	downFiles := make(map[string]string)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		version, isUp, ok := parseMigrationFilename(entry.Name())
		if !ok {
			continue
		}
		if isUp {
			upFiles[version] = entry.Name()
		} else {
			downFiles[version] = entry.Name()
		}
	}

	migrations := make([]Migration, 0, len(upFiles))
	for version, upFile := range upFiles {
		upSQL, err := fs.ReadFile(source, upFile)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", upFile, err)
		}
		m := Migration{
			Version: version,
			Name:    extractMigrationName(upFile),
			UpSQL:   string(upSQL),
		}
		if downFile, ok := downFiles[version]; ok {
			downSQL, err := fs.ReadFile(source, downFile)
			if err != nil {
				return nil, fmt.Errorf("reading %s: %w", downFile, err)
			}
			m.DownSQL = string(downSQL)
		}
		migrations = append(migrations, m)
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})
	return migrations, nil
}

// parseMigrationFilename extracts version and direction from a migration filename.
func parseMigrationFilename(name string) (version string, isUp bool, ok bool) {
	if !strings.HasSuffix(name, ".sql") {
		return "", false, false
	}

	base := strings.TrimSuffix(name, ".sql")
	switch {
	case strings.HasSuffix(base, ".up"):
		isUp = true
		base = strings.TrimSuffix(base, ".up")
	case strings.HasSuffix(base, ".down"):
		base = strings.TrimSuffix(base, ".down")
	default:
		return "", false, false
	}

	parts := strings.SplitN(base, "_", migrationFilenameParts)
	if len(parts) < minVersionParts {
		return "", false, false
	}
	return parts[0] + "_" + parts[1], isUp, true
}

// extractMigrationName turns "20260118_120000_initial_schema.up.sql" into "initial_schema".
func extractMigrationName(filename string) string {
	base := strings.TrimSuffix(filename, ".sql")
	base = strings.TrimSuffix(base, ".up")
	base = strings.TrimSuffix(base, ".down")

	parts := strings.SplitN(base, "_", migrationFilenameParts)
	if len(parts) >= migrationFilenameParts {
		return parts[minVersionParts]
	}
	return base
}
