package handler

import (
	"net/http"

	"github.com/opsboard/opsboard-api/internal/auth"
	"go.uber.org/zap"
)

type AuthHandler struct {
	logger *zap.Logger
}

func NewAuthHandler(logger *zap.Logger) *AuthHandler {
	return &AuthHandler{logger: logger}
}

// MeDTO describes the authenticated caller
type MeDTO struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName,omitempty"`
	Email       string `json:"email,omitempty"`
	Method      string `json:"method"`
}

// Me godoc
// @Summary Get current authenticated user
// @Tags Auth
// @Produce json
// @Success 200 {object} MeDTO
// @Failure 401 {object} domain.APIError
// @Security BearerAuth
// @Security ApiKeyAuth
// @Router /auth/me [get]
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	userCtx, ok := auth.FromContext(r.Context())
	if !ok || userCtx == nil {
		respondWithError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	respondJSON(w, http.StatusOK, MeDTO{
		UserID:      userCtx.UserID,
		DisplayName: userCtx.DisplayName,
		Email:       userCtx.Email,
		Method:      string(userCtx.Method),
	})
}
