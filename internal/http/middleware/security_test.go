package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/opsboard/opsboard-api/internal/config"
	"github.com/opsboard/opsboard-api/internal/http/middleware"
	"github.com/stretchr/testify/assert"
)

func serveWithSecurity(cfg *config.SecurityConfig, path string) *httptest.ResponseRecorder {
	handler := middleware.SecurityHeaders(cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestSecurityHeaders_DefaultConfig(t *testing.T) {
	cfg := &config.SecurityConfig{
		ContentTypeNosniff:    true,
		FrameOptions:          "DENY",
		ContentSecurityPolicy: "default-src 'self'",
		ReferrerPolicy:        "strict-origin-when-cross-origin",
	}

	w := serveWithSecurity(cfg, "/api/v1/quotes")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Equal(t, "default-src 'self'", w.Header().Get("Content-Security-Policy"))
	assert.Equal(t, "strict-origin-when-cross-origin", w.Header().Get("Referrer-Policy"))
	assert.Empty(t, w.Header().Get("Strict-Transport-Security"), "HSTS should not be set when disabled")
}

func TestSecurityHeaders_SwaggerSkipsCSP(t *testing.T) {
	cfg := &config.SecurityConfig{ContentSecurityPolicy: "default-src 'self'"}

	w := serveWithSecurity(cfg, "/swagger/index.html")
	assert.Empty(t, w.Header().Get("Content-Security-Policy"))
}

func TestSecurityHeaders_HSTS(t *testing.T) {
	w := serveWithSecurity(&config.SecurityConfig{EnableHSTS: true, HSTSMaxAge: 31536000}, "/")
	assert.Equal(t, "max-age=31536000", w.Header().Get("Strict-Transport-Security"))

	w = serveWithSecurity(&config.SecurityConfig{EnableHSTS: true, HSTSMaxAge: 31536000, HSTSIncludeSubdomains: true}, "/")
	assert.Equal(t, "max-age=31536000; includeSubDomains", w.Header().Get("Strict-Transport-Security"))
}
