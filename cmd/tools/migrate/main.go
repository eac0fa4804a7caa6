// Command migrate applies or reverts the embedded schema migrations.
//
//	go run ./cmd/tools/migrate -direction up
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"globlept.co.uk/app/internal/database"
	"globlept.co.uk/app/internal/logging"
)

func main() {
	_ = godotenv.Load()

	driver := flag.String("driver", envOr("DB_DRIVER", "mysql"), "Database driver (mysql, postgres)")
	dsn := flag.String("dsn", os.Getenv("DB_DSN"), "Database DSN")
	direction := flag.String("direction", "up", "up applies everything, down reverts one step")
	flag.Parse()

	logger, syncLogs, err := logging.New(envOr("APP_ENV", "development"), envOr("LOG_LEVEL", "info"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer syncLogs()

	if *dsn == "" {
		logger.Error("DB_DSN environment variable or -dsn flag is required")
		os.Exit(1)
	}

	if err := database.Migrate(*driver, *dsn, *direction, logger); err != nil {
		logger.Error("migration failed", "err", err)
		syncLogs()
		os.Exit(1)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
