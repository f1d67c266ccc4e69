package auth

import (
	"context"
)

// AuthMethod records how a request was authenticated
type AuthMethod string

const (
	AuthMethodAPIKey AuthMethod = "api_key"
	AuthMethodJWT    AuthMethod = "jwt"
)

// SystemUserID is used for requests authenticated with the admin API key
const SystemUserID = "system"

// UserContext holds authenticated user information
type UserContext struct {
	UserID      string
	DisplayName string
	Email       string
	Method      AuthMethod
}

type contextKey string

const userContextKey contextKey = "userContext"

// WithUserContext adds user context to the context
func WithUserContext(ctx context.Context, user *UserContext) context.Context {
	return context.WithValue(ctx, userContextKey, user)
}

// FromContext extracts user context from the context
func FromContext(ctx context.Context) (*UserContext, bool) {
	user, ok := ctx.Value(userContextKey).(*UserContext)
	return user, ok
}

// UserIDFromContext returns the caller's id, or an empty string for anonymous contexts
func UserIDFromContext(ctx context.Context) string {
	if user, ok := FromContext(ctx); ok {
		return user.UserID
	}
	return ""
}
