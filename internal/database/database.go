package database

import (
	"context"
	"fmt"
	"time"

	"github.com/opsboard/opsboard-api/internal/config"
	"github.com/opsboard/opsboard-api/internal/domain"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// NewDatabase opens the configured database and verifies the connection
func NewDatabase(cfg *config.DatabaseConfig, log *zap.Logger) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case DriverPostgres, "":
		dialector = postgres.Open(cfg.ConnectionString())
	case DriverSQLite:
		dialector = sqlite.Open(cfg.SQLitePath)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}

	if cfg.Driver == DriverSQLite {
		// sqlite allows a single writer
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetimeDuration())
	}

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info("Database connection established",
		zap.String("driver", db.Dialector.Name()),
		zap.String("database", cfg.Name),
	)

	return db, nil
}

// AutoMigrate creates or updates tables from the models. Used for sqlite and local development;
// postgres deployments run goose migrations instead.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&domain.Client{},
		&domain.Project{},
		&domain.Task{},
		&domain.Expense{},
		&domain.Quote{},
		&domain.InvoiceMirror{},
		&domain.AuditLog{},
	)
}

// SupportsRowLocks reports whether SELECT ... FOR UPDATE is available
func SupportsRowLocks(db *gorm.DB) bool {
	return db.Dialector.Name() == DriverPostgres
}

// ForUpdate adds a row lock to the query on dialects that support it
func ForUpdate(db *gorm.DB) *gorm.DB {
	if SupportsRowLocks(db) {
		return db.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return db
}

// HealthStats is the payload of the database health endpoint
type HealthStats struct {
	Driver          string `json:"driver"`
	OpenConnections int    `json:"openConnections"`
	InUse           int    `json:"inUse"`
	Idle            int    `json:"idle"`
	WaitCount       int64  `json:"waitCount"`
	LatencyMs       int64  `json:"latencyMs"`
}

// HealthCheck pings the database within ctx
func HealthCheck(ctx context.Context, db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get database instance: %w", err)
	}
	return sqlDB.PingContext(ctx)
}

// HealthCheckWithStats pings the database and reports pool statistics
func HealthCheckWithStats(ctx context.Context, db *gorm.DB) (*HealthStats, error) {
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}

	start := time.Now()
	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("database ping failed: %w", err)
	}
	latency := time.Since(start)

	stats := sqlDB.Stats()
	return &HealthStats{
		Driver:          db.Dialector.Name(),
		OpenConnections: stats.OpenConnections,
		InUse:           stats.InUse,
		Idle:            stats.Idle,
		WaitCount:       stats.WaitCount,
		LatencyMs:       latency.Milliseconds(),
	}, nil
}
