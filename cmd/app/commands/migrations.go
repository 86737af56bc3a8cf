package commands

import (
	"fmt"
	"log/slog"

	"github.com/allisson/offline-sync/internal/database"
)

// RunMigrations applies the embedded migrations for driver. Returns nil when the
// schema is already current.
func RunMigrations(logger *slog.Logger, driver, connectionString string) error {
	if _, err := database.DialectFor(driver); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return database.Migrate(database.Config{
		Driver:             driver,
		ConnectionString:   connectionString,
		MaxOpenConnections: 1,
		MaxIdleConnections: 1,
	}, logger)
}
