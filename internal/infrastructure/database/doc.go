// Package database opens the SQLite credential store and keeps its schema
// current.
//
// The store holds users, refresh token hashes, friendships and the audit
// trail. Foreign keys are always enforced because deleting a user must
// cascade to that user's session and friendships.
//
// Schema changes ship as pairs of files in the migrations package:
//
//	20260301_120000_users.up.sql
//	20260301_120000_users.down.sql
//
// Migrate applies pending .up.sql files and records a SHA-256 checksum for
// each. Editing a file after release, or starting an older binary against
// a newer database, stops startup instead of guessing. Down files are not
// run by the service; operators apply them by hand when rolling back.
//
// Usage:
//
//	db, err := database.Open(ctx, database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	report, err := db.Migrate(ctx, migrations.FS)
package database
