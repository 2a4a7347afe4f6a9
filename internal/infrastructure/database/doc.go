// Package database provides SQLite storage for the HomematicIP bridge.
//
// The bridge keeps the last published state of every light entity and a
// bounded state history so that Core and the HTTP API can read current
// state without waiting for the next cloud push.
//
// Usage:
//
//	db, err := database.Open(cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
//
// Migration files are named YYYYMMDD_HHMMSS_description.up.sql with a
// matching .down.sql and are applied in version order, each in its own
// transaction.
package database
