// Package database provides the SQLite connection used by the message store.
//
// It manages:
//   - Opening the database file with WAL mode and a busy timeout
//   - Embedded, additive-only schema migrations
//   - Transaction helpers for all-or-nothing writes
//
// Usage:
//
//	db, err := database.Open(ctx, database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
//
// Migration files are named YYYYMMDD_HHMMSS_description.up.sql with a
// matching .down.sql, and live in the top-level migrations package.
package database
