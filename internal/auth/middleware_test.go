package auth_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/opsboard/opsboard-api/internal/auth"
	"github.com/opsboard/opsboard-api/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testSecret = "test-signing-secret"

func testConfig() *config.Config {
	return &config.Config{
		ApiKey: config.ApiKeyConfig{Value: "admin-key"},
		JWT: config.JWTConfig{
			Secret:   testSecret,
			Issuer:   "opsboard",
			Audience: "opsboard-api",
		},
	}
}

func signToken(t *testing.T, claims auth.Claims, secret string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func validClaims() auth.Claims {
	return auth.Claims{
		Name:  "Dana",
		Email: "dana@example.test",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-123",
			Issuer:    "opsboard",
			Audience:  jwt.ClaimStrings{"opsboard-api"},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
}

func serve(t *testing.T, req *http.Request) (*httptest.ResponseRecorder, *auth.UserContext) {
	t.Helper()
	var seen *auth.UserContext
	mw := auth.NewMiddleware(testConfig(), zap.NewNop())
	h := mw.Authenticate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = auth.FromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec, seen
}

func TestAuthenticate_APIKey(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/clients", nil)
	req.Header.Set("x-api-key", "admin-key")

	rec, user := serve(t, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	require.NotNil(t, user)
	assert.Equal(t, auth.SystemUserID, user.UserID)
	assert.Equal(t, auth.AuthMethodAPIKey, user.Method)
}

func TestAuthenticate_WrongAPIKey(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/clients", nil)
	req.Header.Set("x-api-key", "nope")

	rec, user := serve(t, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Nil(t, user)
	assert.Contains(t, rec.Body.String(), "unauthorized")
}

func TestAuthenticate_BearerToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/clients", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, validClaims(), testSecret))

	rec, user := serve(t, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	require.NotNil(t, user)
	assert.Equal(t, "user-123", user.UserID)
	assert.Equal(t, "Dana", user.DisplayName)
	assert.Equal(t, auth.AuthMethodJWT, user.Method)
}

func TestAuthenticate_RejectsBadTokens(t *testing.T) {
	expired := validClaims()
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Hour))

	wrongAudience := validClaims()
	wrongAudience.Audience = jwt.ClaimStrings{"someone-else"}

	noSubject := validClaims()
	noSubject.Subject = ""

	tests := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"not bearer", "Basic abc"},
		{"wrong secret", "Bearer " + signToken(t, validClaims(), "other-secret")},
		{"expired", "Bearer " + signToken(t, expired, testSecret)},
		{"wrong audience", "Bearer " + signToken(t, wrongAudience, testSecret)},
		{"no subject", "Bearer " + signToken(t, noSubject, testSecret)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/clients", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec, user := serve(t, req)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Nil(t, user)
		})
	}
}

func TestValidateToken_NotConfigured(t *testing.T) {
	v := auth.NewJWTValidator(&config.JWTConfig{})
	_, err := v.ValidateToken("anything")
	assert.ErrorIs(t, err, auth.ErrNotConfigured)
}
