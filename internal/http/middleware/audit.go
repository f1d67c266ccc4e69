package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/opsboard/opsboard-api/internal/domain"
	"github.com/opsboard/opsboard-api/internal/service"
	"go.uber.org/zap"
)

// AuditConfig holds configuration for audit middleware
type AuditConfig struct {
	// SkipPaths contains paths that should not be audited
	SkipPaths []string
	// SkipMethods contains HTTP methods that should not be audited
	SkipMethods []string
	// AuditReads enables auditing of GET requests
	AuditReads bool
}

// DefaultAuditConfig returns default audit configuration
func DefaultAuditConfig() *AuditConfig {
	return &AuditConfig{
		SkipPaths: []string{
			"/health",
			"/swagger",
		},
		SkipMethods: []string{
			http.MethodOptions,
			http.MethodHead,
		},
	}
}

// AuditRecorder persists one audit entry
type AuditRecorder interface {
	Log(ctx context.Context, r *http.Request, entry service.LogEntry) error
}

// AuditMiddleware records successful modifications
type AuditMiddleware struct {
	recorder AuditRecorder
	config   *AuditConfig
	logger   *zap.Logger
}

// NewAuditMiddleware creates a new audit middleware
func NewAuditMiddleware(recorder AuditRecorder, config *AuditConfig, logger *zap.Logger) *AuditMiddleware {
	if config == nil {
		config = DefaultAuditConfig()
	}
	return &AuditMiddleware{
		recorder: recorder,
		config:   config,
		logger:   logger,
	}
}

// entityTypes maps route segments to audited entity names. The last match in a path wins,
// so /clients/{id}/billables is recorded against the client while /invoices/{id}/email
// stays an invoice.
var entityTypes = map[string]string{
	"clients":  "Client",
	"projects": "Project",
	"tasks":    "Task",
	"expenses": "Expense",
	"quotes":   "Quote",
	"invoices": "Invoice",
}

// Audit returns middleware that logs modifications to the audit log
func (m *AuditMiddleware) Audit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !m.shouldAudit(r) {
			next.ServeHTTP(w, r)
			return
		}

		var requestBody []byte
		if r.Body != nil && (r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodPatch) {
			requestBody, _ = io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewBuffer(requestBody))
		}

		rw := &responseCapture{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)

		// Route params are only resolved after routing, so read them here
		entityType, entityID := m.extractEntityInfo(r)
		ctx := context.WithoutCancel(r.Context())
		go m.logAudit(ctx, r, rw.statusCode, entityType, entityID, requestBody)
	})
}

func (m *AuditMiddleware) shouldAudit(r *http.Request) bool {
	for _, method := range m.config.SkipMethods {
		if r.Method == method {
			return false
		}
	}

	if r.Method == http.MethodGet && !m.config.AuditReads {
		return false
	}

	for _, skipPath := range m.config.SkipPaths {
		if strings.HasPrefix(r.URL.Path, skipPath) {
			return false
		}
	}
	return true
}

func (m *AuditMiddleware) logAudit(ctx context.Context, r *http.Request, statusCode int, entityType string, entityID *uuid.UUID, requestBody []byte) {
	if m.recorder == nil {
		return
	}

	// Only log successful modifications
	if statusCode < 200 || statusCode >= 300 {
		return
	}

	action := methodToAction(r.Method)
	if action == "" {
		return
	}

	var values map[string]interface{}
	if len(requestBody) > 0 {
		var parsed map[string]interface{}
		if json.Unmarshal(requestBody, &parsed) == nil {
			values = parsed
		}
	}

	entry := service.LogEntry{
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		StatusCode: statusCode,
		NewValues:  values,
	}

	if err := m.recorder.Log(ctx, r, entry); err != nil {
		m.logger.Warn("failed to create audit log entry",
			zap.String("path", r.URL.Path),
			zap.String("method", r.Method),
			zap.Error(err))
	}
}

func methodToAction(method string) domain.AuditAction {
	switch method {
	case http.MethodPost:
		return domain.AuditActionCreate
	case http.MethodPut, http.MethodPatch:
		return domain.AuditActionUpdate
	case http.MethodDelete:
		return domain.AuditActionDelete
	default:
		return ""
	}
}

func (m *AuditMiddleware) extractEntityInfo(r *http.Request) (string, *uuid.UUID) {
	routeCtx := chi.RouteContext(r.Context())
	if routeCtx == nil {
		return entityFromPath(r.URL.Path), nil
	}

	var entityID *uuid.UUID
	if idStr := routeCtx.URLParam("id"); idStr != "" {
		if id, err := uuid.Parse(idStr); err == nil {
			entityID = &id
		}
	}

	pattern := routeCtx.RoutePattern()
	if pattern == "" {
		pattern = r.URL.Path
	}
	return entityFromPath(pattern), entityID
}

func entityFromPath(path string) string {
	entityType := "Unknown"
	for _, part := range strings.Split(strings.Trim(path, "/"), "/") {
		if name, ok := entityTypes[part]; ok {
			entityType = name
		}
	}
	return entityType
}

// responseCapture wraps ResponseWriter to capture the status code
type responseCapture struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseCapture) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
