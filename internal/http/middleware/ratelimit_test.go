package middleware_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/opsboard/opsboard-api/internal/auth"
	"github.com/opsboard/opsboard-api/internal/config"
	"github.com/opsboard/opsboard-api/internal/domain"
	"github.com/opsboard/opsboard-api/internal/http/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func countingHandler(calls *int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*calls++
		w.WriteHeader(http.StatusOK)
	})
}

func requestFrom(remoteAddr, path string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.RemoteAddr = remoteAddr
	return req
}

func asCaller(req *http.Request, userID string, method auth.AuthMethod) *http.Request {
	return req.WithContext(auth.WithUserContext(context.Background(), &auth.UserContext{UserID: userID, Method: method}))
}

func TestRateLimiter_Disabled(t *testing.T) {
	rl := middleware.NewRateLimiter(&config.RateLimitConfig{Enabled: false, RequestsPerMinute: 5}, zap.NewNop())

	calls := 0
	handler := rl.ByAddress(rl.ByCaller(countingHandler(&calls)))
	for i := 0; i < 50; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, requestFrom("192.168.1.1:12345", "/api/v1/quotes"))
		assert.Equal(t, http.StatusOK, w.Code)
	}
	assert.Equal(t, 50, calls)
}

func TestRateLimiter_ByAddress(t *testing.T) {
	rl := middleware.NewRateLimiter(&config.RateLimitConfig{Enabled: true, RequestsPerMinute: 2}, zap.NewNop())

	calls := 0
	handler := rl.ByAddress(countingHandler(&calls))

	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, requestFrom("10.0.0.1:1000", "/api/v1/quotes"))
		assert.Equal(t, http.StatusOK, w.Code)
	}

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, requestFrom("10.0.0.1:1000", "/api/v1/quotes"))
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "60", w.Header().Get("Retry-After"))

	var apiErr domain.APIError
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &apiErr))
	assert.Equal(t, "rate_limited", apiErr.Type)
	assert.Equal(t, http.StatusTooManyRequests, apiErr.Status)

	// Another address has its own budget
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, requestFrom("10.0.0.2:1000", "/api/v1/quotes"))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 3, calls)
}

func TestRateLimiter_ByCallerSeparatesAPIKeysFromUsers(t *testing.T) {
	rl := middleware.NewRateLimiter(&config.RateLimitConfig{
		Enabled:                 true,
		RequestsPerMinute:       1,
		RequestsPerMinuteUser:   3,
		RequestsPerMinuteAPIKey: 2,
	}, zap.NewNop())

	handler := rl.ByCaller(countingHandler(new(int)))
	status := func(req *http.Request) int {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		return w.Code
	}

	for i := 0; i < 2; i++ {
		assert.Equal(t, http.StatusOK, status(asCaller(requestFrom("10.0.0.1:1000", "/api/v1/invoices"), auth.SystemUserID, auth.AuthMethodAPIKey)))
	}
	assert.Equal(t, http.StatusTooManyRequests, status(asCaller(requestFrom("10.0.0.1:1000", "/api/v1/invoices"), auth.SystemUserID, auth.AuthMethodAPIKey)))

	// A signed-in user behind the same address is unaffected by the exhausted key budget
	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusOK, status(asCaller(requestFrom("10.0.0.1:1000", "/api/v1/invoices"), "alice", auth.AuthMethodJWT)))
	}
	assert.Equal(t, http.StatusTooManyRequests, status(asCaller(requestFrom("10.0.0.1:1000", "/api/v1/invoices"), "alice", auth.AuthMethodJWT)))
	assert.Equal(t, http.StatusOK, status(asCaller(requestFrom("10.0.0.1:1000", "/api/v1/invoices"), "bob", auth.AuthMethodJWT)))

	// A user whose id collides with the key caller's id still draws from the user budget
	assert.Equal(t, http.StatusOK, status(asCaller(requestFrom("10.0.0.1:1000", "/api/v1/invoices"), auth.SystemUserID, auth.AuthMethodJWT)))
}

func TestRateLimiter_ProxyHeaders(t *testing.T) {
	forwarded := func() *http.Request {
		req := requestFrom("10.0.0.1:1000", "/api/v1/quotes")
		req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
		return req
	}
	status := func(h http.Handler, req *http.Request) int {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		return w.Code
	}

	t.Run("ignored by default", func(t *testing.T) {
		rl := middleware.NewRateLimiter(&config.RateLimitConfig{Enabled: true, RequestsPerMinute: 1}, zap.NewNop())
		h := rl.ByAddress(countingHandler(new(int)))

		assert.Equal(t, http.StatusOK, status(h, forwarded()))
		// The forwarded address is spoofable, so the proxy's own address is what counts
		assert.Equal(t, http.StatusTooManyRequests, status(h, requestFrom("10.0.0.1:1000", "/api/v1/quotes")))
	})

	t.Run("trusted", func(t *testing.T) {
		rl := middleware.NewRateLimiter(&config.RateLimitConfig{Enabled: true, RequestsPerMinute: 1, TrustProxyHeaders: true}, zap.NewNop())
		h := rl.ByAddress(countingHandler(new(int)))

		assert.Equal(t, http.StatusOK, status(h, forwarded()))
		assert.Equal(t, http.StatusTooManyRequests, status(h, forwarded()))
		assert.Equal(t, http.StatusOK, status(h, requestFrom("10.0.0.1:1000", "/api/v1/quotes")))
	})
}
