// Package db embeds the SQL schema migrations.
package db

import "embed"

// MigrationFS holds the migration files applied by the migrate runner.
//
//go:embed migrations/*.sql
var MigrationFS embed.FS
