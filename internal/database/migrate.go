package database

import (
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/mysql"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/mysql/*.sql migrations/postgres/*.sql
var migrationsFS embed.FS

// Migrate applies (up) or reverts one step (down) of the embedded schema.
func Migrate(driver, dsn, direction string, logger *slog.Logger) error {
	src, err := iofs.New(migrationsFS, "migrations/"+driver)
	if err != nil {
		return fmt.Errorf("migrate: source: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", src, migrationURL(driver, dsn))
	if err != nil {
		return fmt.Errorf("migrate: init: %w", err)
	}
	defer m.Close()

	switch direction {
	case "up":
		err = m.Up()
	case "down":
		err = m.Steps(-1)
	default:
		return fmt.Errorf("migrate: unknown direction %q", direction)
	}
	if errors.Is(err, migrate.ErrNoChange) {
		logger.Info("migrations: nothing to apply", "driver", driver)
		return nil
	}
	if err != nil {
		return fmt.Errorf("migrate: %s: %w", direction, err)
	}

	v, dirty, _ := m.Version()
	logger.Info("migrations applied", "driver", driver, "direction", direction, "version", v, "dirty", dirty)
	return nil
}

func migrationURL(driver, dsn string) string {
	if strings.Contains(dsn, "://") {
		return dsn
	}
	if driver == "mysql" && !strings.Contains(dsn, "multiStatements") {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn += sep + "multiStatements=true"
	}
	return driver + "://" + dsn
}
