package testutil

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/opsboard/opsboard-api/internal/database"
	"github.com/opsboard/opsboard-api/internal/domain"
	"github.com/opsboard/opsboard-api/internal/pricing"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// SetupTestDB opens an isolated in-memory sqlite database with all tables migrated
func SetupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s_%s?mode=memory&cache=shared&_busy_timeout=5000", name, uuid.NewString()[:8])

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	require.NoError(t, err, "failed to open sqlite test database")

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, database.AutoMigrate(db))

	t.Cleanup(func() {
		_ = sqlDB.Close()
	})
	return db
}

// CreateTestClient creates a client with both general and billing email set
func CreateTestClient(t *testing.T, db *gorm.DB, name string) *domain.Client {
	t.Helper()
	slug := strings.ToLower(strings.ReplaceAll(name, " ", ""))
	client := &domain.Client{
		Name:         name,
		Email:        fmt.Sprintf("hello@%s.test", slug),
		BillingEmail: fmt.Sprintf("billing@%s.test", slug),
		Company:      name,
	}
	require.NoError(t, db.Create(client).Error)
	return client
}

// CreateTestProject creates an unbilled project for the client
func CreateTestProject(t *testing.T, db *gorm.DB, clientID uuid.UUID, name string, status domain.ProjectStatus) *domain.Project {
	t.Helper()
	project := &domain.Project{
		ClientID:      clientID,
		Name:          name,
		ProjectType:   "website",
		Status:        status,
		BillingStatus: domain.BillingStatusUnbilled,
	}
	if status == domain.ProjectStatusCompleted {
		now := time.Now().UTC()
		project.CompletedAt = &now
	}
	require.NoError(t, db.Create(project).Error)
	return project
}

// CreateTestExpense creates an unbilled at-cost expense for the client
func CreateTestExpense(t *testing.T, db *gorm.DB, clientID uuid.UUID, description string, amount string) *domain.Expense {
	t.Helper()
	expense := &domain.Expense{
		ClientID:      clientID,
		Description:   description,
		Vendor:        "Vendor",
		Category:      "hosting",
		Amount:        decimal.RequireFromString(amount),
		IncurredOn:    time.Now().UTC(),
		PassThrough:   domain.PassThroughAtCost,
		MarkupPercent: decimal.Zero,
		BillingStatus: domain.BillingStatusUnbilled,
	}
	require.NoError(t, db.Create(expense).Error)
	return expense
}

// CreateTestQuote stores a quote in the given status without going through the service
func CreateTestQuote(t *testing.T, db *gorm.DB, clientID uuid.UUID, status domain.QuoteStatus, lines []domain.QuoteLine) *domain.Quote {
	t.Helper()
	if lines == nil {
		lines = []domain.QuoteLine{}
	}
	totals := pricing.ComputeTotals(lines)
	quote := &domain.Quote{
		ClientID:           clientID,
		CreatedByID:        "test-user",
		Lines:              datatypes.NewJSONSlice(lines),
		Subtotal:           totals.Subtotal(),
		Discount:           totals.Discount(),
		Total:              totals.Total(),
		Status:             status,
		BillableProjectIDs: datatypes.NewJSONSlice([]uuid.UUID{}),
		BillableExpenseIDs: datatypes.NewJSONSlice([]uuid.UUID{}),
	}
	require.NoError(t, db.Create(quote).Error)
	return quote
}

// ProjectLine returns a single fixed-price project line
func ProjectLine(title string, cents int64) domain.QuoteLine {
	return domain.QuoteLine{
		Kind:            domain.LineKindProject,
		Title:           title,
		Quantity:        1,
		UnitLabel:       "fixed",
		UnitAmountCents: cents,
		GroupKey:        "Projects",
	}
}
