// Package migrate runs database migrations from embedded SQL files using golang-migrate.
package migrate

import (
	"errors"
	"fmt"

	"estatedesk/cmd/internal/db"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

// ErrNoChange is returned when Up/Down has nothing to do (already at target version).
var ErrNoChange = migrate.ErrNoChange

// Options selects what Run does.
type Options struct {
	// Direction is "up" or "down".
	Direction string

	// Steps limits the number of migrations applied. 0 means all.
	Steps int
}

// Run applies migrations using the provided DSN.
//
// Applying only step 1 (profiles pointer) leaves an environment in pointer
// mode, which is how the degraded path is exercised against a real database.
func Run(dsn string, opts Options) error {
	if dsn == "" {
		return errors.New("ESTATE_DATABASE_URL is not set")
	}
	if opts.Direction != "up" && opts.Direction != "down" {
		return fmt.Errorf("direction must be up or down, got %q", opts.Direction)
	}
	if opts.Steps < 0 {
		return fmt.Errorf("steps must be >= 0, got %d", opts.Steps)
	}

	m, err := newMigrate(dsn)
	if err != nil {
		return err
	}
	defer func() { _, _ = m.Close() }()

	switch {
	case opts.Steps > 0 && opts.Direction == "up":
		err = m.Steps(opts.Steps)
	case opts.Steps > 0:
		err = m.Steps(-opts.Steps)
	case opts.Direction == "up":
		err = m.Up()
	default:
		err = m.Down()
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

// Version reports the applied schema version and whether it is dirty.
// A database with no migrations applied returns migrate.ErrNilVersion.
func Version(dsn string) (uint, bool, error) {
	if dsn == "" {
		return 0, false, errors.New("ESTATE_DATABASE_URL is not set")
	}
	m, err := newMigrate(dsn)
	if err != nil {
		return 0, false, err
	}
	defer func() { _, _ = m.Close() }()
	return m.Version()
}

func newMigrate(dsn string) (*migrate.Migrate, error) {
	sourceDriver, err := iofs.New(db.MigrationFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("migrate source: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", sourceDriver, dsn)
	if err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return m, nil
}
