package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
)

// StripeRequest is one call received by StripeServer
type StripeRequest struct {
	Method         string
	Path           string
	IdempotencyKey string
	Form           url.Values
}

// StripeServer stands in for the Stripe API over HTTP. It answers the customer and
// invoice endpoints the gateway uses and records every request it receives.
type StripeServer struct {
	*httptest.Server

	mu       sync.Mutex
	requests []StripeRequest
	delay    time.Duration
	seq      int
}

// Customer ids the server treats specially
const (
	StripeMissingCustomer = "cus_missing"
	StripeFailingCustomer = "cus_failing"
)

// NewStripeServer starts the server and closes it when the test ends
func NewStripeServer(t *testing.T) *StripeServer {
	t.Helper()
	s := &StripeServer{}

	r := chi.NewRouter()
	r.Use(s.record)
	r.Post("/v1/customers", func(w http.ResponseWriter, r *http.Request) {
		writeStripeJSON(w, http.StatusOK, map[string]interface{}{
			"id":     s.nextID("cus"),
			"object": "customer",
			"email":  r.Form.Get("email"),
		})
	})
	r.Get("/v1/customers/{id}", func(w http.ResponseWriter, r *http.Request) {
		switch id := chi.URLParam(r, "id"); id {
		case StripeMissingCustomer:
			writeStripeError(w, http.StatusNotFound, "invalid_request_error", "resource_missing", "No such customer: "+id)
		case StripeFailingCustomer:
			writeStripeError(w, http.StatusInternalServerError, "api_error", "", "Something went wrong")
		default:
			writeStripeJSON(w, http.StatusOK, map[string]interface{}{"id": id, "object": "customer"})
		}
	})
	r.Post("/v1/invoices", func(w http.ResponseWriter, r *http.Request) {
		writeStripeJSON(w, http.StatusOK, map[string]interface{}{
			"id":       s.nextID("in"),
			"object":   "invoice",
			"status":   "draft",
			"customer": r.Form.Get("customer"),
		})
	})
	r.Post("/v1/invoiceitems", func(w http.ResponseWriter, r *http.Request) {
		writeStripeJSON(w, http.StatusOK, map[string]interface{}{
			"id":     s.nextID("ii"),
			"object": "invoiceitem",
		})
	})
	r.Post("/v1/invoices/{id}/finalize", func(w http.ResponseWriter, r *http.Request) {
		writeStripeJSON(w, http.StatusOK, finalizedInvoice(chi.URLParam(r, "id")))
	})
	r.Get("/v1/invoices/{id}", func(w http.ResponseWriter, r *http.Request) {
		writeStripeJSON(w, http.StatusOK, finalizedInvoice(chi.URLParam(r, "id")))
	})

	s.Server = httptest.NewServer(r)
	t.Cleanup(s.Close)
	return s
}

// StripeFinalizedAt and StripeDueDate are the times reported for every finalized invoice
var (
	StripeFinalizedAt = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	StripeDueDate     = time.Date(2024, 3, 31, 12, 0, 0, 0, time.UTC)
)

func finalizedInvoice(id string) map[string]interface{} {
	return map[string]interface{}{
		"id":                 id,
		"object":             "invoice",
		"status":             "open",
		"hosted_invoice_url": "https://invoice.stripe.test/i/" + id,
		"due_date":           StripeDueDate.Unix(),
		"status_transitions": map[string]interface{}{"finalized_at": StripeFinalizedAt.Unix()},
	}
}

// SetDelay makes every response wait d, or until the client gives up
func (s *StripeServer) SetDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delay = d
}

// Requests returns the calls received so far, in order
func (s *StripeServer) Requests() []StripeRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]StripeRequest(nil), s.requests...)
}

// RequestsTo returns the calls made with method to path
func (s *StripeServer) RequestsTo(method, path string) []StripeRequest {
	var out []StripeRequest
	for _, req := range s.Requests() {
		if req.Method == method && req.Path == path {
			out = append(out, req)
		}
	}
	return out
}

func (s *StripeServer) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			writeStripeError(w, http.StatusBadRequest, "invalid_request_error", "", err.Error())
			return
		}

		s.mu.Lock()
		s.requests = append(s.requests, StripeRequest{
			Method:         r.Method,
			Path:           r.URL.Path,
			IdempotencyKey: r.Header.Get("Idempotency-Key"),
			Form:           r.Form,
		})
		delay := s.delay
		s.mu.Unlock()

		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-r.Context().Done():
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *StripeServer) nextID(prefix string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	return fmt.Sprintf("%s_test%04d", prefix, s.seq)
}

func writeStripeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Request-Id", "req_test")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeStripeError(w http.ResponseWriter, status int, errType, code, message string) {
	writeStripeJSON(w, status, map[string]interface{}{
		"error": map[string]interface{}{
			"type":    errType,
			"code":    code,
			"message": message,
		},
	})
}
