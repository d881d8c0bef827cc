package persistence

import (
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres" // postgres target
	_ "github.com/golang-migrate/migrate/v4/source/file"       // file:// source
)

// RunMigrations brings the schema up to the newest version. The path is a
// plain directory (e.g. migrations/postgres); the file:// scheme is added
// here. An already-current schema is not an error.
func RunMigrations(databaseURL string, migrationsPath string) error {
	if migrationsPath == "" {
		return errors.New("migrations path cannot be empty")
	}
	if databaseURL == "" {
		return errors.New("database URL cannot be empty")
	}

	m, err := migrate.New("file://"+migrationsPath, databaseURL)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	sourceErr, dbErr := m.Close()
	if sourceErr != nil {
		return fmt.Errorf("migration source error: %w", sourceErr)
	}
	if dbErr != nil {
		return fmt.Errorf("migration database error: %w", dbErr)
	}
	return nil
}
