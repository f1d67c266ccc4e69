package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/opsboard/opsboard-api/docs"
	"github.com/opsboard/opsboard-api/internal/auth"
	"github.com/opsboard/opsboard-api/internal/config"
	"github.com/opsboard/opsboard-api/internal/database"
	"github.com/opsboard/opsboard-api/internal/email"
	"github.com/opsboard/opsboard-api/internal/events"
	"github.com/opsboard/opsboard-api/internal/http/handler"
	"github.com/opsboard/opsboard-api/internal/http/middleware"
	"github.com/opsboard/opsboard-api/internal/http/router"
	"github.com/opsboard/opsboard-api/internal/jobs"
	"github.com/opsboard/opsboard-api/internal/llm"
	"github.com/opsboard/opsboard-api/internal/logger"
	"github.com/opsboard/opsboard-api/internal/payments"
	"github.com/opsboard/opsboard-api/internal/repository"
	"github.com/opsboard/opsboard-api/internal/service"
	"github.com/opsboard/opsboard-api/internal/storage"
	"github.com/opsboard/opsboard-api/internal/telegram"
	"go.uber.org/zap"
)

// @title Opsboard API
// @version 1.0
// @description Operations dashboard API: clients, projects, expenses, quotes and Stripe invoicing

// @host localhost:8080
// @BasePath /api/v1

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description JWT Bearer token

// @securityDefinitions.apikey ApiKeyAuth
// @in header
// @name x-api-key
// @description API Key for system operations
// @Security BearerAuth
// @Security ApiKeyAuth

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx := context.Background()

	// Load basic configuration first (for logging setup)
	basicCfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log, err := logger.NewLogger(&basicCfg.Logging, &basicCfg.App)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	log.Info("Starting application",
		zap.String("app", basicCfg.App.Name),
		zap.String("env", basicCfg.App.Environment),
		zap.Int("port", basicCfg.App.Port),
	)

	docs.SwaggerInfo.Host = fmt.Sprintf("localhost:%d", basicCfg.App.Port)

	// In staging/production secrets may come from Azure Key Vault
	cfg, err := config.LoadWithSecrets(ctx, log)
	if err != nil {
		return fmt.Errorf("failed to load secrets: %w", err)
	}

	db, err := database.NewDatabase(&cfg.Database, log)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	if cfg.Database.Driver == database.DriverSQLite {
		if err := database.AutoMigrate(db); err != nil {
			return fmt.Errorf("failed to migrate sqlite schema: %w", err)
		}
	}

	gateway, err := payments.NewStripeGateway(&cfg.Stripe, log)
	if err != nil {
		return fmt.Errorf("failed to initialize payment gateway: %w", err)
	}
	if cfg.Stripe.WebhookSecret == "" {
		log.Warn("Stripe webhook secret not configured; all webhook deliveries will be rejected")
	}

	var mailer email.Mailer = email.DisabledMailer{}
	if cfg.Email.Enabled {
		smtpMailer, err := email.NewSMTPMailer(&cfg.Email, log)
		if err != nil {
			return fmt.Errorf("failed to initialize mailer: %w", err)
		}
		mailer = smtpMailer
	} else {
		log.Info("Email delivery disabled")
	}

	archive, err := storage.NewStorage(&cfg.Storage, log)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	log.Info("Storage initialized", zap.String("mode", cfg.Storage.Mode))

	var publisher events.Publisher = events.NoopPublisher{}
	if cfg.Events.Enabled {
		kafkaPublisher, err := events.NewKafkaPublisher(&cfg.Events, log)
		if err != nil {
			return fmt.Errorf("failed to initialize event publisher: %w", err)
		}
		publisher = kafkaPublisher
		log.Info("Billing events enabled", zap.Strings("brokers", cfg.Events.Brokers), zap.String("topic", cfg.Events.Topic))
	}
	defer func() {
		if err := publisher.Close(); err != nil {
			log.Warn("Error closing event publisher", zap.Error(err))
		}
	}()

	// The language model is optional; suggestions answer 502 and the bot stays off without it
	var completer llm.Completer
	openAI, err := llm.NewOpenAICompleter(&cfg.LLM, log)
	switch {
	case err == nil:
		completer = openAI
	case errors.Is(err, llm.ErrNotConfigured):
		log.Info("LLM not configured, pricing suggestions disabled")
	default:
		return fmt.Errorf("failed to initialize llm: %w", err)
	}

	// Repositories
	clientRepo := repository.NewClientRepository(db)
	projectRepo := repository.NewProjectRepository(db)
	taskRepo := repository.NewTaskRepository(db)
	expenseRepo := repository.NewExpenseRepository(db)
	quoteRepo := repository.NewQuoteRepository(db)
	invoiceRepo := repository.NewInvoiceRepository(db)
	auditLogRepo := repository.NewAuditLogRepository(db)

	// Services
	clientService := service.NewClientService(clientRepo, log)
	projectService := service.NewProjectService(projectRepo, clientRepo, log)
	taskService := service.NewTaskService(taskRepo, projectRepo, log)
	expenseService := service.NewExpenseService(expenseRepo, clientRepo, projectRepo, log)
	billableService := service.NewBillableService(clientRepo, projectRepo, expenseRepo)
	quoteService := service.NewQuoteService(quoteRepo, clientRepo, projectRepo, expenseRepo, publisher, log, db)
	invoiceService := service.NewInvoiceService(invoiceRepo, quoteRepo, clientRepo, projectRepo, expenseRepo, gateway, publisher, &cfg.Stripe, log, db)
	invoiceEmailService := service.NewInvoiceEmailService(invoiceRepo, quoteRepo, clientRepo, mailer, archive, publisher, cfg, log)
	suggestionService := service.NewPricingSuggestionService(completer, clientRepo, projectRepo, taskRepo, expenseRepo, cfg, log)
	auditLogService := service.NewAuditLogService(auditLogRepo, log)

	var executor *telegram.Executor
	if cfg.Telegram.Enabled {
		if completer == nil {
			return fmt.Errorf("telegram.enabled requires an LLM for intent parsing")
		}
		sender, err := telegram.NewBotSender(&cfg.Telegram, log)
		if err != nil {
			return fmt.Errorf("failed to initialize telegram bot: %w", err)
		}
		executor = telegram.NewExecutor(telegram.NewLLMParser(completer, log), telegram.Services{
			Clients:   clientService,
			Billables: billableService,
			Quotes:    quoteService,
			Invoices:  invoiceService,
			Projects:  projectService,
			Expenses:  expenseService,
			Tasks:     taskService,
		}, sender, cfg, log)
		log.Info("Telegram bot enabled", zap.Int("allowed_chats", len(cfg.Telegram.AllowedChatIDs)))
	}

	// Middleware
	authMiddleware := auth.NewMiddleware(cfg, log)
	rateLimiter := middleware.NewRateLimiter(&cfg.RateLimit, log)
	auditMiddleware := middleware.NewAuditMiddleware(auditLogService, nil, log)

	var updates handler.UpdateHandler
	if executor != nil {
		updates = executor
	}

	rt := router.NewRouter(cfg, log, authMiddleware, rateLimiter, auditMiddleware, router.Handlers{
		Health:   handler.NewHealthHandler(db, log),
		Auth:     handler.NewAuthHandler(log),
		Audit:    handler.NewAuditHandler(auditLogService, log),
		Client:   handler.NewClientHandler(clientService, billableService, suggestionService, log),
		Project:  handler.NewProjectHandler(projectService, taskService, log),
		Task:     handler.NewTaskHandler(taskService, log),
		Expense:  handler.NewExpenseHandler(expenseService, log),
		Quote:    handler.NewQuoteHandler(quoteService, log),
		Invoice:  handler.NewInvoiceHandler(invoiceService, invoiceEmailService, log),
		Webhooks: handler.NewWebhookHandler(payments.NewWebhookVerifier(cfg.Stripe.WebhookSecret), invoiceService, updates, cfg.Telegram.WebhookSecret, log),
	})

	var scheduler *jobs.Scheduler
	if cfg.Jobs.ReconcileEnabled {
		scheduler = jobs.NewScheduler(log)
		if err := jobs.RegisterInvoiceReconcileJob(
			scheduler,
			invoiceService,
			log,
			cfg.Jobs.ReconcileCron,
			cfg.Jobs.ReconcileTimeoutDuration(),
		); err != nil {
			log.Error("Failed to register invoice reconcile job", zap.Error(err))
			scheduler = nil
		} else {
			scheduler.Start()
			log.Info("Scheduler started with invoice reconcile job",
				zap.String("cron_expr", cfg.Jobs.ReconcileCron),
				zap.Duration("timeout", cfg.Jobs.ReconcileTimeoutDuration()),
			)
		}
	} else {
		log.Info("Invoice reconcile job disabled")
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.App.Port),
		Handler:      rt.Setup(),
		ReadTimeout:  cfg.Server.ReadTimeoutDuration(),
		WriteTimeout: cfg.Server.WriteTimeoutDuration(),
	}

	serverErrors := make(chan error, 1)
	go func() {
		log.Info("Server starting", zap.String("addr", srv.Addr))
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case sig := <-shutdown:
		log.Info("Shutdown signal received", zap.String("signal", sig.String()))

		if scheduler != nil {
			ctx := scheduler.Stop()
			<-ctx.Done()
			log.Info("Scheduler stopped")
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			log.Error("Failed to shutdown gracefully", zap.Error(err))
			return err
		}

		log.Info("Server stopped gracefully")
	}

	return nil
}
