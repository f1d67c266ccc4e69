package repository_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/opsboard/opsboard-api/internal/domain"
	"github.com/opsboard/opsboard-api/internal/repository"
	"github.com/opsboard/opsboard-api/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestAuditLogRepository_AppendInTransaction(t *testing.T) {
	db := testutil.SetupTestDB(t)
	repo := repository.NewAuditLogRepository(db)
	ctx := context.Background()
	errRollback := errors.New("rollback")

	err := db.Transaction(func(tx *gorm.DB) error {
		require.NoError(t, repo.Append(ctx, tx, &domain.AuditLog{Action: domain.AuditActionUpdate, EntityType: "Invoice"}))
		return errRollback
	})
	require.ErrorIs(t, err, errRollback)

	entries, total, err := repo.List(ctx, nil, 1, 20)
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, entries)

	entry := &domain.AuditLog{Action: domain.AuditActionCreate, EntityType: "Quote"}
	require.NoError(t, repo.Append(ctx, nil, entry))
	assert.NotEqual(t, uuid.Nil, entry.ID)
	assert.False(t, entry.PerformedAt.IsZero())
}

func TestAuditLogRepository_List(t *testing.T) {
	db := testutil.SetupTestDB(t)
	repo := repository.NewAuditLogRepository(db)
	ctx := context.Background()

	at := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	for i, kind := range []string{"Client", "Quote", "Invoice"} {
		require.NoError(t, repo.Append(ctx, nil, &domain.AuditLog{
			Action:      domain.AuditActionCreate,
			EntityType:  kind,
			UserID:      "alice",
			PerformedAt: at.Add(time.Duration(i) * time.Hour),
		}))
	}

	t.Run("window", func(t *testing.T) {
		from, to := at.Add(30*time.Minute), at.Add(90*time.Minute)
		entries, total, err := repo.List(ctx, &repository.AuditLogFilter{From: &from, To: &to}, 1, 20)
		require.NoError(t, err)
		assert.Equal(t, int64(1), total)
		require.Len(t, entries, 1)
		assert.Equal(t, "Quote", entries[0].EntityType)
	})

	t.Run("page keeps total", func(t *testing.T) {
		entries, total, err := repo.List(ctx, &repository.AuditLogFilter{UserID: "alice"}, 2, 2)
		require.NoError(t, err)
		assert.Equal(t, int64(3), total)
		require.Len(t, entries, 1)
		assert.Equal(t, "Client", entries[0].EntityType)
	})

	t.Run("no match", func(t *testing.T) {
		entries, total, err := repo.List(ctx, &repository.AuditLogFilter{UserID: "bob"}, 1, 20)
		require.NoError(t, err)
		assert.Zero(t, total)
		assert.NotNil(t, entries)
	})
}
