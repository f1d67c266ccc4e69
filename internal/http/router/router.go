package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/opsboard/opsboard-api/internal/auth"
	"github.com/opsboard/opsboard-api/internal/config"
	"github.com/opsboard/opsboard-api/internal/http/handler"
	"github.com/opsboard/opsboard-api/internal/http/middleware"
	httpSwagger "github.com/swaggo/http-swagger/v2"
	"go.uber.org/zap"

	_ "github.com/opsboard/opsboard-api/docs" // Import generated swagger docs
)

// Handlers groups the HTTP handlers the router mounts
type Handlers struct {
	Health   *handler.HealthHandler
	Auth     *handler.AuthHandler
	Audit    *handler.AuditHandler
	Client   *handler.ClientHandler
	Project  *handler.ProjectHandler
	Task     *handler.TaskHandler
	Expense  *handler.ExpenseHandler
	Quote    *handler.QuoteHandler
	Invoice  *handler.InvoiceHandler
	Webhooks *handler.WebhookHandler
}

type Router struct {
	cfg             *config.Config
	logger          *zap.Logger
	authMiddleware  *auth.Middleware
	rateLimiter     *middleware.RateLimiter
	auditMiddleware *middleware.AuditMiddleware
	handlers        Handlers
}

func NewRouter(
	cfg *config.Config,
	logger *zap.Logger,
	authMiddleware *auth.Middleware,
	rateLimiter *middleware.RateLimiter,
	auditMiddleware *middleware.AuditMiddleware,
	handlers Handlers,
) *Router {
	return &Router{
		cfg:             cfg,
		logger:          logger,
		authMiddleware:  authMiddleware,
		rateLimiter:     rateLimiter,
		auditMiddleware: auditMiddleware,
		handlers:        handlers,
	}
}

func (rt *Router) Setup() http.Handler {
	r := chi.NewRouter()
	h := rt.handlers

	// Global middleware
	r.Use(middleware.Recovery(rt.logger))
	r.Use(middleware.Logging(rt.logger))
	r.Use(middleware.SecurityHeaders(&rt.cfg.Security))
	r.Use(middleware.CORS(&rt.cfg.CORS, rt.cfg.App.Environment, rt.logger))

	// Probes and webhooks are mounted outside the rate limited group
	r.Get("/health", h.Health.Live)
	r.Get("/health/db", h.Health.Database)
	r.Get("/health/ready", h.Health.Ready)

	if rt.cfg.Server.EnableSwagger {
		r.Get("/swagger/*", httpSwagger.Handler(
			httpSwagger.URL("/swagger/doc.json"),
		))
	}

	// Webhooks authenticate with their own signatures
	r.Post("/webhooks/stripe", h.Webhooks.Stripe)
	r.Post("/webhooks/telegram", h.Webhooks.Telegram)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(rt.rateLimiter.ByAddress)

		r.Group(func(r chi.Router) {
			r.Use(rt.authMiddleware.Authenticate)
			r.Use(rt.rateLimiter.ByCaller)
			r.Use(rt.auditMiddleware.Audit)

			r.Get("/auth/me", h.Auth.Me)
			r.Get("/audit", h.Audit.List)

			r.Route("/clients", func(r chi.Router) {
				r.Get("/", h.Client.List)
				r.Post("/", h.Client.Create)
				r.Get("/{id}", h.Client.GetByID)
				r.Put("/{id}", h.Client.Update)
				r.Delete("/{id}", h.Client.Delete)
				r.Get("/{id}/billables", h.Client.Billables)
				r.Post("/{id}/pricing-suggestions", h.Client.SuggestPricing)
				r.Post("/{id}/quote-draft", h.Client.DraftQuote)
			})

			r.Route("/projects", func(r chi.Router) {
				r.Get("/", h.Project.List)
				r.Post("/", h.Project.Create)
				r.Get("/{id}", h.Project.GetByID)
				r.Put("/{id}", h.Project.Update)
				r.Delete("/{id}", h.Project.Delete)
				r.Get("/{id}/tasks", h.Project.ListTasks)
			})

			r.Route("/tasks", func(r chi.Router) {
				r.Post("/", h.Task.Create)
				r.Get("/{id}", h.Task.GetByID)
				r.Put("/{id}", h.Task.Update)
				r.Delete("/{id}", h.Task.Delete)
			})

			r.Route("/expenses", func(r chi.Router) {
				r.Get("/", h.Expense.List)
				r.Post("/", h.Expense.Create)
				r.Get("/{id}", h.Expense.GetByID)
				r.Put("/{id}", h.Expense.Update)
				r.Delete("/{id}", h.Expense.Delete)
			})

			r.Route("/quotes", func(r chi.Router) {
				r.Get("/", h.Quote.List)
				r.Post("/", h.Quote.Create)
				r.Get("/{id}", h.Quote.GetByID)
				r.Put("/{id}", h.Quote.Update)
				r.Post("/{id}/lock", h.Quote.Lock)
				r.Get("/{id}/grouped", h.Quote.Grouped)
				r.Get("/{id}/invoice", h.Invoice.GetByQuote)
			})

			r.Route("/invoices", func(r chi.Router) {
				r.Get("/", h.Invoice.List)
				r.Post("/", h.Invoice.Create)
				r.Get("/{id}", h.Invoice.GetByID)
				r.Post("/{id}/finalize", h.Invoice.Finalize)
				r.Get("/{id}/email/preview", h.Invoice.PreviewEmail)
				r.Post("/{id}/email", h.Invoice.SendEmail)
			})
		})
	})

	return r
}
