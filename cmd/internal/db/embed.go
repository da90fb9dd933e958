// Package db holds the embedded schema migrations for the session tables.
package db

import "embed"

// MigrationFS embeds SQL migration files from cmd/internal/db/migrations.
// Used by the migrate runner (cmd/migrate).
//
//go:embed migrations/*.sql
var MigrationFS embed.FS
