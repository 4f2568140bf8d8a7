// Package database bootstraps the authority engine's Postgres schema.
// Adapted from r3e-network-service_layer's system/platform/migrations
// (embed.FS + idempotent raw-SQL runner), swapped for golang-migrate's
// versioned up/down file source: the authority schema needs down-migrations
// for partition maintenance, which a one-shot idempotent-exec runner can't
// express.
package database

import (
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

// MigrationsDir is the on-disk path to the store's versioned migration
// files, relative to the process's working directory in the shipped
// container image.
const MigrationsDir = "internal/authority/store/migrations"

// Migrate applies every pending up migration against dsn. It is safe to
// call on every process start: golang-migrate tracks the applied version in
// a schema_migrations table and no-ops once current.
func Migrate(dsn string) error {
	m, err := migrate.New("file://"+MigrationsDir, dsn)
	if err != nil {
		return fmt.Errorf("database: open migrator: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("database: apply migrations: %w", err)
	}
	return nil
}
