// Package migrate runs database migrations from embedded SQL files using golang-migrate.
package migrate

import (
	"errors"
	"fmt"

	"push-authenticator/sdk/internal/db"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

// Target is the schema version this build of the SDK expects.
const Target uint = 2

// ErrStorageAhead is returned when the database schema version is newer than
// Target. The on-disk state was written by a newer build; running older code
// against it is refused rather than silently ignored.
var ErrStorageAhead = errors.New("storage schema is ahead of this build")

// Run migrates the sqlite database at path up to target, one version at a
// time, starting from the version recorded in storage. A fresh database walks
// from zero. Returns ErrStorageAhead when the recorded version exceeds target.
func Run(path string, target uint) error {
	if path == "" {
		return errors.New("migrate: database path is empty")
	}

	sourceDriver, err := iofs.New(db.MigrationFS, "migrations")
	if err != nil {
		return fmt.Errorf("migrate source: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", sourceDriver, "sqlite://file:"+path)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	defer func() { _, _ = m.Close() }()

	current, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("migrate: read version: %w", err)
	}
	if dirty {
		return fmt.Errorf("migrate: storage is dirty at version %d", current)
	}
	if errors.Is(err, migrate.ErrNilVersion) {
		current = 0
	}
	if current > target {
		return fmt.Errorf("%w: storage at %d, build expects %d", ErrStorageAhead, current, target)
	}

	// Never skip a version: each step runs its own migration so a failure
	// leaves a well-defined last-known version behind.
	for next := current + 1; next <= target; next++ {
		if err := m.Migrate(next); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("migrate: step to %d: %w", next, err)
		}
	}
	return nil
}
