// Package migrations applies the embedded database schema.
package migrations

import (
	"embed"
	"errors"
	"fmt"

	"github.com/OFFIS-RIT/deepresearch/pkg/logger"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed sql/*.sql
var files embed.FS

// Source returns the embedded migrations as a migrate source driver.
func Source() (source.Driver, error) {
	return iofs.New(files, "sql")
}

// Up migrates the database at databaseURL to the latest version.
func Up(databaseURL string) error {
	src, err := Source()
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", src, databaseURL)
	if err != nil {
		return fmt.Errorf("init migrations: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			logger.Debug("[Migrations] Schema is up to date")
			return nil
		}
		return fmt.Errorf("apply migrations: %w", err)
	}

	version, dirty, _ := m.Version()
	logger.Info("[Migrations] Schema migrated", "version", version, "dirty", dirty)
	return nil
}
