package handler_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/opsboard/opsboard-api/internal/http/handler"
	"github.com/opsboard/opsboard-api/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestHealthHandler(t *testing.T) {
	db := testutil.SetupTestDB(t)
	h := handler.NewHealthHandler(db, zap.NewNop())

	t.Run("live", func(t *testing.T) {
		rr := httptest.NewRecorder()
		h.Live(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "OK", rr.Body.String())
	})

	t.Run("database", func(t *testing.T) {
		rr := httptest.NewRecorder()
		h.Database(rr, httptest.NewRequest(http.MethodGet, "/health/db", nil))
		require.Equal(t, http.StatusOK, rr.Code)

		var body map[string]interface{}
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
		assert.Equal(t, "healthy", body["status"])
		assert.Contains(t, body, "stats")
	})

	t.Run("ready", func(t *testing.T) {
		rr := httptest.NewRecorder()
		h.Ready(rr, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
		require.Equal(t, http.StatusOK, rr.Code)

		var body map[string]interface{}
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
		assert.Equal(t, "healthy", body["status"])
	})

	t.Run("ready reports a closed database", func(t *testing.T) {
		closed := testutil.SetupTestDB(t)
		sqlDB, err := closed.DB()
		require.NoError(t, err)
		require.NoError(t, sqlDB.Close())

		rr := httptest.NewRecorder()
		handler.NewHealthHandler(closed, zap.NewNop()).Ready(rr, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
		assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	})
}
