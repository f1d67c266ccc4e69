package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"

	"github.com/pressly/goose/v3"
	"go.uber.org/zap"
)

// ErrUnknownMigrationCommand is returned for commands the migrator does not run
var ErrUnknownMigrationCommand = errors.New("unknown migration command")

// MigrationCommands are the goose commands Migrator.Run accepts
var MigrationCommands = []string{"up", "down", "redo", "status", "version"}

// Migrator runs goose migrations read from fsys, typically the embedded migrations package
type Migrator struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewMigrator points goose at fsys. goose keeps this in package state, so one migrator per process.
func NewMigrator(db *sql.DB, fsys fs.FS, logger *zap.Logger) (*Migrator, error) {
	goose.SetBaseFS(fsys)
	goose.SetLogger(&gooseLogger{sugar: logger.Named("goose").Sugar()})
	if err := goose.SetDialect(DriverPostgres); err != nil {
		return nil, fmt.Errorf("failed to set dialect: %w", err)
	}
	return &Migrator{db: db, logger: logger}, nil
}

// ValidateMigrationCommand fails fast before a database connection is opened
func ValidateMigrationCommand(command string) error {
	for _, c := range MigrationCommands {
		if c == command {
			return nil
		}
	}
	return fmt.Errorf("%w: %q", ErrUnknownMigrationCommand, command)
}

// Run executes one goose command against the embedded migrations
func (m *Migrator) Run(ctx context.Context, command string) error {
	if err := ValidateMigrationCommand(command); err != nil {
		return err
	}

	var err error
	switch command {
	case "up":
		err = goose.UpContext(ctx, m.db, ".")
	case "down":
		err = goose.DownContext(ctx, m.db, ".")
	case "redo":
		err = goose.RedoContext(ctx, m.db, ".")
	case "status":
		err = goose.StatusContext(ctx, m.db, ".")
	case "version":
		err = goose.VersionContext(ctx, m.db, ".")
	}
	if err != nil {
		return fmt.Errorf("migrate %s: %w", command, err)
	}

	m.logger.Info("Migration command finished", zap.String("command", command))
	return nil
}

// gooseLogger routes goose output through zap
type gooseLogger struct {
	sugar *zap.SugaredLogger
}

func (l *gooseLogger) Printf(format string, v ...interface{}) {
	l.sugar.Infof(format, v...)
}

func (l *gooseLogger) Fatalf(format string, v ...interface{}) {
	l.sugar.Fatalf(format, v...)
}
