// Package database provides SQLite connectivity and schema migrations for
// graycast.
//
// The database holds the paired Chromecast list and per-device playback
// preferences. It is small and single-writer, so the pool is pinned to one
// connection and WAL mode keeps readers unblocked.
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
// Migrations are registered by the migrations package (RegisterMigrations)
// and named YYYYMMDD_HHMMSS_description.{up,down}.sql. Each one runs in its
// own transaction and is recorded in schema_migrations.
package database
