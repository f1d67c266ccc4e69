package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/opsboard/opsboard-api/internal/domain"
	"github.com/opsboard/opsboard-api/internal/service"
	"go.uber.org/zap"
)

var validate = validator.New()

// maxBodyBytes caps JSON request bodies
const maxBodyBytes = 1 << 20

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// respondValidationError sends a standardized validation error response with specific field messages
func respondValidationError(w http.ResponseWriter, err error) {
	errors := make(map[string]string)
	if ve, ok := err.(validator.ValidationErrors); ok {
		for _, fe := range ve {
			fieldName := toJSONFieldName(fe.Field())
			errors[fieldName] = formatValidationError(fe)
		}
	}

	respondJSON(w, http.StatusBadRequest, domain.APIError{
		Type:   domain.ErrorTypeValidation,
		Title:  "Validation Error",
		Status: http.StatusBadRequest,
		Detail: "One or more fields failed validation",
		Errors: errors,
	})
}

// formatValidationError creates a human-readable validation error message
func formatValidationError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", toJSONFieldName(fe.Field()))
	case "email":
		return "Must be a valid email address"
	case "max":
		return fmt.Sprintf("Must be at most %s characters", fe.Param())
	case "min":
		return fmt.Sprintf("Must be at least %s characters", fe.Param())
	case "gte":
		return fmt.Sprintf("Must be greater than or equal to %s", fe.Param())
	case "gt":
		return fmt.Sprintf("Must be greater than %s", fe.Param())
	case "lte":
		return fmt.Sprintf("Must be less than or equal to %s", fe.Param())
	case "lt":
		return fmt.Sprintf("Must be less than %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("Must be one of: %s", fe.Param())
	default:
		return domain.GetValidationMessage(fe.Tag())
	}
}

// toJSONFieldName converts a Go struct field name to its JSON equivalent (camelCase)
func toJSONFieldName(field string) string {
	if len(field) == 0 {
		return field
	}
	return strings.ToLower(field[:1]) + field[1:]
}

// respondWithError sends a standardized JSON error response
func respondWithError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, domain.APIError{
		Type:   getErrorType(status),
		Title:  http.StatusText(status),
		Status: status,
		Detail: message,
	})
}

// getErrorType returns the appropriate error type for an HTTP status code
func getErrorType(status int) string {
	switch status {
	case http.StatusBadRequest:
		return domain.ErrorTypeBadRequest
	case http.StatusUnauthorized:
		return domain.ErrorTypeUnauthorized
	case http.StatusForbidden:
		return domain.ErrorTypeForbidden
	case http.StatusNotFound:
		return domain.ErrorTypeNotFound
	case http.StatusConflict:
		return domain.ErrorTypeConflict
	case http.StatusBadGateway:
		return domain.ErrorTypeExternalService
	case http.StatusGatewayTimeout:
		return domain.ErrorTypeExternalTimeout
	default:
		return domain.ErrorTypeInternal
	}
}

// handleServiceError maps service errors onto problem responses. Unknown errors are logged and hidden.
func handleServiceError(w http.ResponseWriter, logger *zap.Logger, err error) {
	var validationErr *service.ValidationError
	var conflictErr *service.BillingConflictError
	var existsErr *service.InvoiceExistsError

	switch {
	case errors.As(err, &validationErr):
		respondJSON(w, http.StatusBadRequest, domain.APIError{
			Type:   domain.ErrorTypeValidation,
			Title:  "Validation Error",
			Status: http.StatusBadRequest,
			Detail: "One or more fields failed validation",
			Errors: validationErr.Fields,
		})
	case errors.As(err, &conflictErr):
		respondJSON(w, http.StatusConflict, domain.APIError{
			Type:      domain.ErrorTypeConflict,
			Title:     http.StatusText(http.StatusConflict),
			Status:    http.StatusConflict,
			Detail:    "One or more work items are already billed",
			Conflicts: conflictErr.Conflicts,
		})
	case errors.As(err, &existsErr):
		respondWithError(w, http.StatusConflict,
			fmt.Sprintf("Quote already has invoice %s", existsErr.InvoiceID))
	case errors.Is(err, service.ErrNotFound):
		respondWithError(w, http.StatusNotFound, capitalize(err.Error()))
	case errors.Is(err, service.ErrConflict):
		respondWithError(w, http.StatusConflict, detailAfterSentinel(err, service.ErrConflict))
	case errors.Is(err, service.ErrInvalidInput):
		respondWithError(w, http.StatusBadRequest, detailAfterSentinel(err, service.ErrInvalidInput))
	case errors.Is(err, service.ErrExternalTimeout):
		logger.Warn("external service timed out", zap.Error(err))
		respondWithError(w, http.StatusGatewayTimeout, "An external service did not respond in time; retrying is safe")
	case errors.Is(err, service.ErrExternalService):
		logger.Error("external service failed", zap.Error(err))
		respondWithError(w, http.StatusBadGateway, "An external service failed; retrying is safe")
	case errors.Is(err, service.ErrUnauthorized):
		respondWithError(w, http.StatusUnauthorized, "Unauthorized")
	default:
		logger.Error("unhandled service error", zap.Error(err))
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
	}
}

// detailAfterSentinel strips the "invalid input: " style prefix a sentinel adds to messages
func detailAfterSentinel(err, sentinel error) string {
	msg := strings.TrimPrefix(err.Error(), sentinel.Error()+": ")
	return capitalize(msg)
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// decodeJSON reads a size-limited JSON body into target
func decodeJSON(w http.ResponseWriter, r *http.Request, target interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(target); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

// parseIDParam reads a UUID route parameter, answering 400 when it is malformed
func parseIDParam(w http.ResponseWriter, r *http.Request, name, label string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Invalid %s ID: must be a valid UUID", label))
		return uuid.Nil, false
	}
	return id, true
}

func parseIntQuery(r *http.Request, key string, defaultVal int) int {
	val := r.URL.Query().Get(key)
	if val == "" {
		return defaultVal
	}
	intVal, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return intVal
}

// parseUUIDQuery returns nil for a missing parameter and false for a malformed one
func parseUUIDQuery(w http.ResponseWriter, r *http.Request, key string) (*uuid.UUID, bool) {
	val := r.URL.Query().Get(key)
	if val == "" {
		return nil, true
	}
	id, err := uuid.Parse(val)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Invalid %s: must be a valid UUID", key))
		return nil, false
	}
	return &id, true
}
