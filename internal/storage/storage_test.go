package storage_test

import (
	"context"
	"testing"

	"github.com/opsboard/opsboard-api/internal/config"
	"github.com/opsboard/opsboard-api/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLocalStorage_PutGetDelete(t *testing.T) {
	s, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	key := storage.InvoiceEmailKey("7f1c0f0e")
	assert.Equal(t, "invoices/7f1c0f0e/email.html", key)

	require.NoError(t, s.Put(ctx, key, "text/html", []byte("<p>hi</p>")))
	data, err := s.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "<p>hi</p>", string(data))

	// overwrite keeps the latest body
	require.NoError(t, s.Put(ctx, key, "text/html", []byte("<p>v2</p>")))
	data, err = s.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "<p>v2</p>", string(data))

	require.NoError(t, s.Delete(ctx, key))
	_, err = s.Get(ctx, key)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	// deleting twice is fine
	assert.NoError(t, s.Delete(ctx, key))
}

func TestLocalStorage_RejectsEscapingKeys(t *testing.T) {
	s, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	err = s.Put(context.Background(), "../../etc/passwd", "text/plain", []byte("x"))
	assert.NoError(t, err, "leading traversal is clamped to the root")

	err = s.Put(context.Background(), "", "text/plain", []byte("x"))
	assert.Error(t, err)
}

func TestNewStorage_UnsupportedMode(t *testing.T) {
	_, err := storage.NewStorage(&config.StorageConfig{Mode: "ftp"}, zap.NewNop())
	assert.Error(t, err)

	_, err = storage.NewStorage(&config.StorageConfig{Mode: "azure"}, zap.NewNop())
	assert.Error(t, err)
}
