// Package migrations holds the bun/migrate migration set applied by
// sqlitestore.Open. New migrations register themselves in Migrations'
// init() the same way the teacher's internal/sqlite/migrations package
// does; this file only declares the shared registry.
package migrations

import "github.com/uptrace/bun/migrate"

// Migrations is the registry every migration file in this package
// appends to via its own init().
var Migrations = migrate.NewMigrations()
