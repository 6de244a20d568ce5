package app

import (
	"errors"
	"fmt"

	"nexora-analytics/internal/storage"
)

// Migration directions accepted by Migrate.
const (
	MigrateUp      = "up"
	MigrateDown    = "down"
	MigrateVersion = "version"
)

// Migrate applies, rolls back or reports the embedded schema migrations.
func (a *App) Migrate(direction string) error {
	if a.Config.Database.DSN == "" {
		return errors.New("database.dsn not configured; cannot migrate")
	}

	migrator, err := storage.NewMigrator(a.Config.Database.DSN)
	if err != nil {
		return err
	}
	defer migrator.Close()

	switch direction {
	case MigrateUp:
		err = migrator.Up()
	case MigrateDown:
		err = migrator.Down()
	case MigrateVersion:
	default:
		return fmt.Errorf("unknown migration direction %q", direction)
	}
	if err != nil {
		return err
	}

	version, dirty, err := migrator.Version()
	if err != nil {
		return err
	}
	a.Logger.Info().Str("direction", direction).Uint("version", version).Bool("dirty", dirty).Msg("schema migrations")
	fmt.Fprintf(a.Out, "schema version: %d (dirty: %t)\n", version, dirty)
	return nil
}
