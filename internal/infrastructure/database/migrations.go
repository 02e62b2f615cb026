package database

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"slices"
	"strings"
	"time"
)

var (
	// ErrSchemaModified means an applied migration file was edited after it ran.
	ErrSchemaModified = errors.New("applied migration has been modified")

	// ErrSchemaAhead means the database carries a migration this binary does not ship.
	ErrSchemaAhead = errors.New("database schema is newer than this build")

	// ErrMissingDown means an .up.sql file has no .down.sql partner.
	ErrMissingDown = errors.New("migration has no down file")
)

// schemaFile is one versioned change to the credential store.
// Files are named YYYYMMDD_HHMMSS_name.up.sql with a matching .down.sql,
// which operators run by hand when rolling back a release.
type schemaFile struct {
	version  string
	name     string
	upSQL    string
	checksum string
}

// MigrationReport summarises one Migrate call.
type MigrationReport struct {
	// Applied lists the names of migrations run by this call, oldest first.
	Applied []string

	// Version is the newest version now recorded in the database.
	Version string
}

// Migrate brings the schema up to date with the .sql files in schema.
//
// Every applied version is checked against its file: an edited file returns
// ErrSchemaModified, and a recorded version with no file returns
// ErrSchemaAhead. Either way nothing is applied, so a credential store is
// never run against a schema the binary does not understand.
//
// Each pending migration runs in its own transaction.
func (db *DB) Migrate(ctx context.Context, schema fs.FS) (MigrationReport, error) {
	var report MigrationReport

	files, err := readSchema(schema)
	if err != nil {
		return report, fmt.Errorf("loading migrations: %w", err)
	}

	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    TEXT PRIMARY KEY,
			name       TEXT NOT NULL,
			checksum   TEXT NOT NULL,
			applied_at TEXT NOT NULL
		) STRICT
	`); err != nil {
		return report, fmt.Errorf("creating schema_migrations: %w", err)
	}

	recorded, err := db.recordedChecksums(ctx)
	if err != nil {
		return report, err
	}

	known := make(map[string]bool, len(files))
	for _, f := range files {
		known[f.version] = true
		if sum, ok := recorded[f.version]; ok && sum != f.checksum {
			return report, fmt.Errorf("%w: %s_%s", ErrSchemaModified, f.version, f.name)
		}
	}
	for version := range recorded {
		if !known[version] {
			return report, fmt.Errorf("%w: %s", ErrSchemaAhead, version)
		}
	}

	for _, f := range files {
		if _, ok := recorded[f.version]; ok {
			report.Version = f.version
			continue
		}
		if err := db.apply(ctx, f); err != nil {
			return report, fmt.Errorf("applying migration %s (%s): %w", f.version, f.name, err)
		}
		report.Applied = append(report.Applied, f.name)
		report.Version = f.version
	}
	return report, nil
}

func (db *DB) recordedChecksums(ctx context.Context) (map[string]string, error) {
	rows, err := db.QueryContext(ctx, "SELECT version, checksum FROM schema_migrations")
	if err != nil {
		return nil, fmt.Errorf("querying schema_migrations: %w", err)
	}
	defer rows.Close()

	sums := make(map[string]string)
	for rows.Next() {
		var version, sum string
		if err := rows.Scan(&version, &sum); err != nil {
			return nil, fmt.Errorf("scanning schema_migrations: %w", err)
		}
		sums[version] = sum
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating schema_migrations: %w", err)
	}
	return sums, nil
}

func (db *DB) apply(ctx context.Context, f schemaFile) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.ExecContext(ctx, f.upSQL); err != nil {
		return fmt.Errorf("executing SQL: %w", err)
	}
	if err := recordMigration(ctx, tx, f); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing migration: %w", err)
	}
	return nil
}

func recordMigration(ctx context.Context, tx *sql.Tx, f schemaFile) error {
	_, err := tx.ExecContext(ctx,
		"INSERT INTO schema_migrations (version, name, checksum, applied_at) VALUES (?, ?, ?, ?)",
		f.version, f.name, f.checksum, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("recording migration: %w", err)
	}
	return nil
}

// readSchema loads the .up.sql files at the root of schema, oldest first.
// Files that do not follow the naming scheme are ignored.
func readSchema(schema fs.FS) ([]schemaFile, error) {
	entries, err := fs.ReadDir(schema, ".")
	if err != nil {
		return nil, err
	}

	downs := make(map[string]bool)
	var files []schemaFile
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		version, name, up, ok := splitMigrationName(e.Name())
		if !ok {
			continue
		}
		if !up {
			downs[version] = true
			continue
		}

		body, err := fs.ReadFile(schema, e.Name())
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", e.Name(), err)
		}
		sum := sha256.Sum256(body)
		files = append(files, schemaFile{
			version:  version,
			name:     name,
			upSQL:    string(body),
			checksum: hex.EncodeToString(sum[:]),
		})
	}

	for _, f := range files {
		if !downs[f.version] {
			return nil, fmt.Errorf("%w: %s_%s", ErrMissingDown, f.version, f.name)
		}
	}

	slices.SortFunc(files, func(a, b schemaFile) int { return strings.Compare(a.version, b.version) })
	return files, nil
}

// splitMigrationName parses "20260301_120000_users.up.sql" into its version
// ("20260301_120000"), name ("users") and direction.
func splitMigrationName(filename string) (version, name string, up, ok bool) {
	base, found := strings.CutSuffix(filename, ".sql")
	if !found {
		return "", "", false, false
	}
	if b, isUp := strings.CutSuffix(base, ".up"); isUp {
		base, up = b, true
	} else if b, isDown := strings.CutSuffix(base, ".down"); isDown {
		base = b
	} else {
		return "", "", false, false
	}

	date, rest, found := strings.Cut(base, "_")
	if !found || len(date) != len("20060102") {
		return "", "", false, false
	}
	clock, name, found := strings.Cut(rest, "_")
	if !found || len(clock) != len("150405") || name == "" {
		return "", "", false, false
	}
	if _, err := time.Parse("20060102_150405", date+"_"+clock); err != nil {
		return "", "", false, false
	}
	return date + "_" + clock, name, up, true
}
