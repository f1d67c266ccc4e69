package database_test

import (
	"context"
	"io/fs"
	"testing"

	"github.com/opsboard/opsboard-api/internal/database"
	"github.com/opsboard/opsboard-api/migrations"
	"github.com/pressly/goose/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestEmbeddedMigrations(t *testing.T) {
	files, err := fs.Glob(migrations.FS, "*.sql")
	require.NoError(t, err)
	assert.Equal(t, []string{"00001_init.sql", "00002_invoice_due_date.sql"}, files)

	for _, name := range files {
		body, err := fs.ReadFile(migrations.FS, name)
		require.NoError(t, err)
		assert.Contains(t, string(body), "-- +goose Up", name)
		assert.Contains(t, string(body), "-- +goose Down", name)
	}
}

func TestNewMigrator_ReadsEmbeddedFS(t *testing.T) {
	_, err := database.NewMigrator(nil, migrations.FS, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { goose.SetBaseFS(nil) })

	collected, err := goose.CollectMigrations(".", 0, goose.MaxVersion)
	require.NoError(t, err)
	require.Len(t, collected, 2)
	assert.Equal(t, int64(1), collected[0].Version)
	assert.Equal(t, int64(2), collected[1].Version)
}

func TestMigrator_RejectsUnknownCommand(t *testing.T) {
	assert.NoError(t, database.ValidateMigrationCommand("up"))
	assert.ErrorIs(t, database.ValidateMigrationCommand("drop-everything"), database.ErrUnknownMigrationCommand)

	m, err := database.NewMigrator(nil, migrations.FS, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { goose.SetBaseFS(nil) })

	// Rejected before the nil connection is touched
	err = m.Run(context.Background(), "create")
	assert.ErrorIs(t, err, database.ErrUnknownMigrationCommand)
}
