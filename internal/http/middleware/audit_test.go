package middleware_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/opsboard/opsboard-api/internal/domain"
	"github.com/opsboard/opsboard-api/internal/http/middleware"
	"github.com/opsboard/opsboard-api/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type channelRecorder struct {
	entries chan service.LogEntry
}

func newChannelRecorder() *channelRecorder {
	return &channelRecorder{entries: make(chan service.LogEntry, 8)}
}

func (c *channelRecorder) Log(_ context.Context, _ *http.Request, entry service.LogEntry) error {
	c.entries <- entry
	return nil
}

func (c *channelRecorder) next(t *testing.T) service.LogEntry {
	t.Helper()
	select {
	case entry := <-c.entries:
		return entry
	case <-time.After(2 * time.Second):
		t.Fatal("no audit entry recorded")
		return service.LogEntry{}
	}
}

func (c *channelRecorder) assertNone(t *testing.T) {
	t.Helper()
	select {
	case entry := <-c.entries:
		t.Fatalf("unexpected audit entry: %+v", entry)
	case <-time.After(100 * time.Millisecond):
	}
}

func auditedRouter(recorder middleware.AuditRecorder, status int) http.Handler {
	am := middleware.NewAuditMiddleware(recorder, nil, zap.NewNop())
	ok := func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(status) }

	r := chi.NewRouter()
	r.Use(am.Audit)
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/quotes", ok)
		r.Put("/quotes/{id}", ok)
		r.Post("/invoices/{id}/email", ok)
		r.Delete("/clients/{id}", ok)
		r.Get("/clients/{id}", ok)
	})
	r.Post("/health", ok)
	return r
}

func TestAuditMiddleware_RecordsEntity(t *testing.T) {
	id := uuid.New()

	tests := []struct {
		name       string
		method     string
		path       string
		wantAction domain.AuditAction
		wantEntity string
		wantID     *uuid.UUID
	}{
		{"create quote", http.MethodPost, "/api/v1/quotes", domain.AuditActionCreate, "Quote", nil},
		{"update quote", http.MethodPut, "/api/v1/quotes/" + id.String(), domain.AuditActionUpdate, "Quote", &id},
		{"send invoice email", http.MethodPost, "/api/v1/invoices/" + id.String() + "/email", domain.AuditActionCreate, "Invoice", &id},
		{"delete client", http.MethodDelete, "/api/v1/clients/" + id.String(), domain.AuditActionDelete, "Client", &id},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recorder := newChannelRecorder()
			h := auditedRouter(recorder, http.StatusOK)

			req := httptest.NewRequest(tt.method, tt.path, strings.NewReader(`{"status":"locked"}`))
			h.ServeHTTP(httptest.NewRecorder(), req)

			entry := recorder.next(t)
			assert.Equal(t, tt.wantAction, entry.Action)
			assert.Equal(t, tt.wantEntity, entry.EntityType)
			assert.Equal(t, tt.wantID, entry.EntityID)
			assert.Equal(t, http.StatusOK, entry.StatusCode)
		})
	}
}

func TestAuditMiddleware_CapturesRequestBody(t *testing.T) {
	recorder := newChannelRecorder()
	h := auditedRouter(recorder, http.StatusCreated)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/quotes", strings.NewReader(`{"clientId":"abc","netTermsDays":14}`))
	h.ServeHTTP(httptest.NewRecorder(), req)

	entry := recorder.next(t)
	require.NotNil(t, entry.NewValues)
	assert.Equal(t, "abc", entry.NewValues["clientId"])
	assert.Equal(t, float64(14), entry.NewValues["netTermsDays"])
}

func TestAuditMiddleware_SkipsFailuresAndReads(t *testing.T) {
	t.Run("failed modification", func(t *testing.T) {
		recorder := newChannelRecorder()
		h := auditedRouter(recorder, http.StatusConflict)

		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodDelete, "/api/v1/clients/"+uuid.NewString(), nil))
		recorder.assertNone(t)
	})

	t.Run("read", func(t *testing.T) {
		recorder := newChannelRecorder()
		h := auditedRouter(recorder, http.StatusOK)

		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/clients/"+uuid.NewString(), nil))
		recorder.assertNone(t)
	})

	t.Run("health path", func(t *testing.T) {
		recorder := newChannelRecorder()
		h := auditedRouter(recorder, http.StatusOK)

		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/health", nil))
		recorder.assertNone(t)
	})
}

func TestAuditMiddleware_NilRecorder(t *testing.T) {
	am := middleware.NewAuditMiddleware(nil, nil, zap.NewNop())

	called := false
	h := am.Audit(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusCreated)
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/quotes", nil))

	assert.True(t, called)
	assert.Equal(t, http.StatusCreated, w.Code)
}
