package migrations

import "github.com/uptrace/bun/migrate"

// Migrations holds every registered migration. Each file in this package
// registers one from init.
var Migrations = migrate.NewMigrations()
