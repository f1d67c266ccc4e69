package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/opsboard/opsboard-api/internal/auth"
	"github.com/opsboard/opsboard-api/internal/config"
	"github.com/opsboard/opsboard-api/internal/domain"
	"github.com/opsboard/opsboard-api/internal/http/handler"
	"github.com/opsboard/opsboard-api/internal/repository"
	"github.com/opsboard/opsboard-api/internal/service"
	"github.com/opsboard/opsboard-api/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func createClientRouter(t *testing.T, db *gorm.DB) http.Handler {
	t.Helper()
	logger := zap.NewNop()
	clientRepo := repository.NewClientRepository(db)
	projectRepo := repository.NewProjectRepository(db)
	expenseRepo := repository.NewExpenseRepository(db)

	h := handler.NewClientHandler(
		service.NewClientService(clientRepo, logger),
		service.NewBillableService(clientRepo, projectRepo, expenseRepo),
		service.NewPricingSuggestionService(nil, clientRepo, projectRepo, repository.NewTaskRepository(db), expenseRepo, &config.Config{}, logger),
		logger,
	)

	r := chi.NewRouter()
	r.Get("/clients", h.List)
	r.Post("/clients", h.Create)
	r.Get("/clients/{id}", h.GetByID)
	r.Put("/clients/{id}", h.Update)
	r.Delete("/clients/{id}", h.Delete)
	r.Get("/clients/{id}/billables", h.Billables)
	return r
}

func createTestContext() context.Context {
	return auth.WithUserContext(context.Background(), &auth.UserContext{
		UserID:      "user-1",
		DisplayName: "Test User",
		Email:       "test@example.com",
		Method:      auth.AuthMethodAPIKey,
	})
}

func doRequest(t *testing.T, h http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req = req.WithContext(createTestContext())

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decodeAPIError(t *testing.T, rr *httptest.ResponseRecorder) domain.APIError {
	t.Helper()
	var apiErr domain.APIError
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &apiErr))
	return apiErr
}

func TestClientHandler_Create(t *testing.T) {
	db := testutil.SetupTestDB(t)
	r := createClientRouter(t, db)

	t.Run("valid client", func(t *testing.T) {
		rr := doRequest(t, r, http.MethodPost, "/clients", domain.CreateClientRequest{
			Name:         "Acme",
			BillingEmail: "ap@acme.test",
		})

		assert.Equal(t, http.StatusCreated, rr.Code)
		var client domain.ClientDTO
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &client))
		assert.Equal(t, "Acme", client.Name)
		assert.Equal(t, "/api/v1/clients/"+client.ID.String(), rr.Header().Get("Location"))
	})

	t.Run("field errors are reported by json name", func(t *testing.T) {
		rr := doRequest(t, r, http.MethodPost, "/clients", domain.CreateClientRequest{
			Email: "not-an-email",
		})

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		apiErr := decodeAPIError(t, rr)
		assert.Equal(t, domain.ErrorTypeValidation, apiErr.Type)
		assert.Contains(t, apiErr.Errors, "name")
		assert.Equal(t, "Must be a valid email address", apiErr.Errors["email"])
	})

	t.Run("malformed body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/clients", bytes.NewBufferString("{not json"))
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Equal(t, "Invalid request body", decodeAPIError(t, rr).Detail)
	})
}

func TestClientHandler_GetByID(t *testing.T) {
	db := testutil.SetupTestDB(t)
	r := createClientRouter(t, db)
	client := testutil.CreateTestClient(t, db, "Globex")

	t.Run("existing client", func(t *testing.T) {
		rr := doRequest(t, r, http.MethodGet, "/clients/"+client.ID.String(), nil)
		assert.Equal(t, http.StatusOK, rr.Code)
	})

	t.Run("unknown client", func(t *testing.T) {
		rr := doRequest(t, r, http.MethodGet, "/clients/"+uuid.NewString(), nil)
		assert.Equal(t, http.StatusNotFound, rr.Code)
		apiErr := decodeAPIError(t, rr)
		assert.Equal(t, domain.ErrorTypeNotFound, apiErr.Type)
		assert.Equal(t, "Client resource not found", apiErr.Detail)
	})

	t.Run("malformed id", func(t *testing.T) {
		rr := doRequest(t, r, http.MethodGet, "/clients/not-a-uuid", nil)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Equal(t, "Invalid client ID: must be a valid UUID", decodeAPIError(t, rr).Detail)
	})
}

func TestClientHandler_Delete(t *testing.T) {
	db := testutil.SetupTestDB(t)
	r := createClientRouter(t, db)

	t.Run("client without history", func(t *testing.T) {
		client := testutil.CreateTestClient(t, db, "Initech")
		rr := doRequest(t, r, http.MethodDelete, "/clients/"+client.ID.String(), nil)
		assert.Equal(t, http.StatusNoContent, rr.Code)
	})

	t.Run("client with projects is kept", func(t *testing.T) {
		client := testutil.CreateTestClient(t, db, "Umbrella")
		testutil.CreateTestProject(t, db, client.ID, "Site", domain.ProjectStatusActive)

		rr := doRequest(t, r, http.MethodDelete, "/clients/"+client.ID.String(), nil)
		assert.Equal(t, http.StatusConflict, rr.Code)
		assert.Equal(t, "Client has projects, expenses or quotes", decodeAPIError(t, rr).Detail)

		rr = doRequest(t, r, http.MethodGet, "/clients/"+client.ID.String(), nil)
		assert.Equal(t, http.StatusOK, rr.Code)
	})
}

func TestClientHandler_Billables(t *testing.T) {
	db := testutil.SetupTestDB(t)
	r := createClientRouter(t, db)
	client := testutil.CreateTestClient(t, db, "Hooli")
	testutil.CreateTestProject(t, db, client.ID, "Landing page", domain.ProjectStatusCompleted)
	testutil.CreateTestExpense(t, db, client.ID, "Domain renewal", "15.00")

	rr := doRequest(t, r, http.MethodGet, "/clients/"+client.ID.String()+"/billables", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var billables domain.BillablesDTO
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &billables))
	assert.Len(t, billables.Projects, 1)
	assert.Len(t, billables.Expenses, 1)
}
