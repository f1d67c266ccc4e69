package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/lib/pq"
	"github.com/opsboard/opsboard-api/internal/config"
	"github.com/opsboard/opsboard-api/internal/database"
	"github.com/opsboard/opsboard-api/internal/logger"
	"github.com/opsboard/opsboard-api/migrations"
	"github.com/pressly/goose/v3"
	"go.uber.org/zap"
)

const usage = "usage: migrate [up|down|redo|status|version|create <name>]"

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Migration error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) == 0 {
		return errors.New(usage)
	}
	command := args[0]

	// create writes a new file into the source tree and needs no database
	if command == "create" {
		if len(args) < 2 {
			return fmt.Errorf("create requires a migration name")
		}
		return goose.Create(nil, "migrations", args[1], "sql")
	}
	if err := database.ValidateMigrationCommand(command); err != nil {
		return fmt.Errorf("%w\n%s", err, usage)
	}

	// config.Load reads .env through godotenv before binding the environment
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log, err := logger.NewLogger(&cfg.Logging, &cfg.App)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := sql.Open("postgres", cfg.Database.ConnectionString())
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info("Running migrations",
		zap.String("command", command),
		zap.String("host", cfg.Database.Host),
		zap.String("database", cfg.Database.Name),
	)

	migrator, err := database.NewMigrator(db, migrations.FS, log)
	if err != nil {
		return err
	}
	return migrator.Run(ctx, command)
}
