// Package migrations holds the credential store schema as embedded SQL.
package migrations

import "embed"

// FS contains every YYYYMMDD_HHMMSS_name.{up,down}.sql file in this
// directory. Pass it to database.DB.Migrate.
//
//go:embed *.sql
var FS embed.FS
