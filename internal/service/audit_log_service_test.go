package service_test

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/opsboard/opsboard-api/internal/auth"
	"github.com/opsboard/opsboard-api/internal/domain"
	"github.com/opsboard/opsboard-api/internal/repository"
	"github.com/opsboard/opsboard-api/internal/service"
	"github.com/opsboard/opsboard-api/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func createTestAuditLogService(t *testing.T) (*service.AuditLogService, *gorm.DB) {
	db := testutil.SetupTestDB(t)
	repo := repository.NewAuditLogRepository(db)
	return service.NewAuditLogService(repo, zap.NewNop()), db
}

func TestAuditLogService_Log(t *testing.T) {
	svc, db := createTestAuditLogService(t)
	entityID := uuid.New()

	req := httptest.NewRequest("POST", "/api/v1/quotes", nil)
	req.RemoteAddr = "192.168.1.1:12345"
	req.Header.Set("X-Request-ID", "req-42")

	ctx := auth.WithUserContext(context.Background(), &auth.UserContext{
		UserID:      "user-7",
		DisplayName: "Test User",
		Method:      auth.AuthMethodJWT,
	})

	err := svc.Log(ctx, req, service.LogEntry{
		Action:     domain.AuditActionCreate,
		EntityType: "Quote",
		EntityID:   &entityID,
		StatusCode: 201,
		NewValues:  map[string]interface{}{"clientId": "abc", "botToken": "should-not-be-stored"},
	})
	require.NoError(t, err)

	var log domain.AuditLog
	require.NoError(t, db.First(&log).Error)
	assert.Equal(t, domain.AuditActionCreate, log.Action)
	assert.Equal(t, "Quote", log.EntityType)
	require.NotNil(t, log.EntityID)
	assert.Equal(t, entityID, *log.EntityID)
	assert.Equal(t, "user-7", log.UserID)
	assert.Equal(t, "Test User", log.UserName)
	assert.Equal(t, "/api/v1/quotes", log.Path)
	assert.Equal(t, "POST", log.Method)
	assert.Equal(t, 201, log.StatusCode)
	assert.Equal(t, "req-42", log.RequestID)
	assert.Equal(t, "192.168.1.1", log.IPAddress)

	var values map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(log.NewValues), &values))
	assert.Equal(t, "abc", values["clientId"])
	assert.NotContains(t, values, "botToken")
}

func TestAuditLogService_LogWithoutUser(t *testing.T) {
	svc, db := createTestAuditLogService(t)

	err := svc.Log(context.Background(), nil, service.LogEntry{Action: domain.AuditActionDelete, EntityType: "Client"})
	require.NoError(t, err)

	var log domain.AuditLog
	require.NoError(t, db.First(&log).Error)
	assert.Empty(t, log.UserID)
	assert.Equal(t, "null", log.NewValues)
}

func TestAuditLogService_List(t *testing.T) {
	svc, db := createTestAuditLogService(t)
	ctx := context.Background()
	quoteID := uuid.New()
	now := time.Now().UTC()

	entries := []domain.AuditLog{
		{UserID: "alice", Action: domain.AuditActionCreate, EntityType: "Quote", EntityID: &quoteID, PerformedAt: now.Add(-3 * time.Hour)},
		{UserID: "alice", Action: domain.AuditActionUpdate, EntityType: "Quote", EntityID: &quoteID, PerformedAt: now.Add(-2 * time.Hour)},
		{UserID: "bob", Action: domain.AuditActionCreate, EntityType: "Invoice", PerformedAt: now.Add(-time.Hour)},
		{UserID: "telegram:1001", Action: domain.AuditActionDelete, EntityType: "Expense", PerformedAt: now.Add(-48 * time.Hour)},
	}
	for i := range entries {
		entries[i].NewValues = "null"
		require.NoError(t, db.Create(&entries[i]).Error)
	}

	t.Run("newest first", func(t *testing.T) {
		result, err := svc.List(ctx, nil, 1, 20)
		require.NoError(t, err)
		assert.Equal(t, int64(4), result.Total)
		logs := result.Data.([]domain.AuditLogDTO)
		require.Len(t, logs, 4)
		assert.Equal(t, "Invoice", logs[0].EntityType)
		assert.Equal(t, "Expense", logs[3].EntityType)
	})

	t.Run("filters", func(t *testing.T) {
		create := domain.AuditActionCreate
		start := now.Add(-24 * time.Hour)

		tests := []struct {
			name   string
			filter *repository.AuditLogFilter
			want   int64
		}{
			{"by user", &repository.AuditLogFilter{UserID: "alice"}, 2},
			{"by action", &repository.AuditLogFilter{Action: &create}, 2},
			{"by entity", &repository.AuditLogFilter{EntityType: "Quote", EntityID: &quoteID}, 2},
			{"by time", &repository.AuditLogFilter{From: &start}, 3},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				result, err := svc.List(ctx, tt.filter, 1, 20)
				require.NoError(t, err)
				assert.Equal(t, tt.want, result.Total)
			})
		}
	})

	t.Run("pagination", func(t *testing.T) {
		result, err := svc.List(ctx, nil, 2, 3)
		require.NoError(t, err)
		assert.Equal(t, 2, result.TotalPages)
		assert.Len(t, result.Data.([]domain.AuditLogDTO), 1)
	})
}

func TestAuditLogService_ClientIP(t *testing.T) {
	tests := []struct {
		name          string
		remoteAddr    string
		xForwardedFor string
		xRealIP       string
		expectedIP    string
	}{
		{name: "direct connection", remoteAddr: "192.168.1.100:12345", expectedIP: "192.168.1.100"},
		{name: "X-Forwarded-For", remoteAddr: "10.0.0.1:12345", xForwardedFor: "203.0.113.50", expectedIP: "203.0.113.50"},
		{name: "X-Forwarded-For with multiple IPs", remoteAddr: "10.0.0.1:12345", xForwardedFor: "203.0.113.50, 10.0.0.2", expectedIP: "203.0.113.50"},
		{name: "X-Real-IP", remoteAddr: "10.0.0.1:12345", xRealIP: "198.51.100.25", expectedIP: "198.51.100.25"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, db := createTestAuditLogService(t)

			req := httptest.NewRequest("PUT", "/api/v1/projects", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.xForwardedFor != "" {
				req.Header.Set("X-Forwarded-For", tt.xForwardedFor)
			}
			if tt.xRealIP != "" {
				req.Header.Set("X-Real-IP", tt.xRealIP)
			}

			require.NoError(t, svc.Log(context.Background(), req, service.LogEntry{Action: domain.AuditActionUpdate, EntityType: "Project"}))

			var log domain.AuditLog
			require.NoError(t, db.First(&log).Error)
			assert.Equal(t, tt.expectedIP, log.IPAddress)
		})
	}
}
