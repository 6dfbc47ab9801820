// Package database provides SQLite connectivity and schema migrations for
// the irrigation state database (rules, execution history, plant profiles,
// Q-tables and the optimizer learning log).
//
// Usage:
//
//	db, err := database.Open(cfg.Database)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    log.Fatal(err)
//	}
//
// Migrations are additive-only; each version ships an .up.sql and a .down.sql.
package database
