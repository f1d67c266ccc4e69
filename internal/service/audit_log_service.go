package service

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/opsboard/opsboard-api/internal/auth"
	"github.com/opsboard/opsboard-api/internal/domain"
	"github.com/opsboard/opsboard-api/internal/mapper"
	"github.com/opsboard/opsboard-api/internal/repository"
	"go.uber.org/zap"
)

// sensitiveKeys are dropped from recorded request bodies
var sensitiveKeys = []string{"password", "secret", "token", "apiKey", "botToken"}

// AuditLogService handles audit logging operations
type AuditLogService struct {
	auditRepo *repository.AuditLogRepository
	logger    *zap.Logger
}

// NewAuditLogService creates a new audit log service
func NewAuditLogService(auditRepo *repository.AuditLogRepository, logger *zap.Logger) *AuditLogService {
	return &AuditLogService{
		auditRepo: auditRepo,
		logger:    logger,
	}
}

// LogEntry represents the input for creating an audit log entry
type LogEntry struct {
	Action     domain.AuditAction
	EntityType string
	EntityID   *uuid.UUID
	StatusCode int
	NewValues  map[string]interface{}
}

// Log creates an audit log entry from context and request
func (s *AuditLogService) Log(ctx context.Context, r *http.Request, entry LogEntry) error {
	auditLog := &domain.AuditLog{
		Action:      entry.Action,
		EntityType:  entry.EntityType,
		EntityID:    entry.EntityID,
		StatusCode:  entry.StatusCode,
		NewValues:   "null",
		PerformedAt: time.Now().UTC(),
	}

	if userCtx, ok := auth.FromContext(ctx); ok && userCtx != nil {
		auditLog.UserID = userCtx.UserID
		auditLog.UserName = userCtx.DisplayName
	}

	if r != nil {
		auditLog.Path = r.URL.Path
		auditLog.Method = r.Method
		auditLog.IPAddress = clientIP(r)
		auditLog.RequestID = r.Header.Get("X-Request-ID")
	}

	if entry.NewValues != nil {
		for _, key := range sensitiveKeys {
			delete(entry.NewValues, key)
		}
		if raw, err := json.Marshal(entry.NewValues); err == nil {
			auditLog.NewValues = string(raw)
		}
	}

	if err := s.auditRepo.Append(ctx, nil, auditLog); err != nil {
		s.logger.Error("failed to create audit log",
			zap.String("action", string(entry.Action)),
			zap.String("entity_type", entry.EntityType),
			zap.Error(err))
		return err
	}
	return nil
}

// List returns audit entries, newest first
func (s *AuditLogService) List(ctx context.Context, filter *repository.AuditLogFilter, page, pageSize int) (*domain.PaginatedResponse, error) {
	logs, total, err := s.auditRepo.List(ctx, filter, page, pageSize)
	if err != nil {
		return nil, err
	}

	dtos := make([]domain.AuditLogDTO, len(logs))
	for i := range logs {
		dtos[i] = mapper.ToAuditLogDTO(&logs[i])
	}
	return paginated(dtos, total, page, pageSize), nil
}

func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		return strings.TrimSpace(strings.Split(forwarded, ",")[0])
	}
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
