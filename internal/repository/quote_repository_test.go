package repository_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/opsboard/opsboard-api/internal/domain"
	"github.com/opsboard/opsboard-api/internal/repository"
	"github.com/opsboard/opsboard-api/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

func TestQuoteRepository_LinesRoundTrip(t *testing.T) {
	db := testutil.SetupTestDB(t)
	repo := repository.NewQuoteRepository(db)
	ctx := context.Background()
	client := testutil.CreateTestClient(t, db, "Acme")

	sourceID := uuid.New()
	description := "Five page marketing site"
	internal := "agreed on call"
	lines := []domain.QuoteLine{
		{
			Kind:            domain.LineKindProject,
			SourceID:        &sourceID,
			Title:           "Website build",
			Description:     &description,
			Quantity:        1,
			UnitLabel:       "fixed",
			UnitAmountCents: 500000,
			GroupKey:        "Build",
			NotesInternal:   &internal,
		},
		{Kind: domain.LineKindRetainer, Title: "Care plan", Quantity: 2.5, UnitLabel: "months", UnitAmountCents: 15000, GroupKey: "Care"},
		{Kind: domain.LineKindDiscount, Title: "Loyalty", Quantity: 1, UnitLabel: "fixed", UnitAmountCents: 2500, GroupKey: "Build"},
	}
	projectIDs := []uuid.UUID{uuid.New(), uuid.New()}

	quote := &domain.Quote{
		ClientID:           client.ID,
		CreatedByID:        "user-1",
		Lines:              datatypes.NewJSONSlice(lines),
		Status:             domain.QuoteStatusProposed,
		BillableProjectIDs: datatypes.NewJSONSlice(projectIDs),
		BillableExpenseIDs: datatypes.NewJSONSlice([]uuid.UUID{}),
	}
	require.NoError(t, repo.Create(ctx, nil, quote))

	loaded, err := repo.GetByID(ctx, quote.ID)
	require.NoError(t, err)

	assert.Equal(t, lines, []domain.QuoteLine(loaded.Lines))
	assert.Equal(t, projectIDs, []uuid.UUID(loaded.BillableProjectIDs))
	assert.Empty(t, loaded.BillableExpenseIDs)
}

func TestQuoteRepository_TransitionStatus(t *testing.T) {
	db := testutil.SetupTestDB(t)
	repo := repository.NewQuoteRepository(db)
	ctx := context.Background()
	client := testutil.CreateTestClient(t, db, "Acme")
	quote := testutil.CreateTestQuote(t, db, client.ID, domain.QuoteStatusProposed, nil)

	ok, err := repo.TransitionStatus(ctx, nil, quote.ID, domain.QuoteStatusProposed, domain.QuoteStatusLocked)
	require.NoError(t, err)
	assert.True(t, ok)

	// already moved on
	ok, err = repo.TransitionStatus(ctx, nil, quote.ID, domain.QuoteStatusProposed, domain.QuoteStatusLocked)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestQuoteRepository_UpdateProposedRejectsLocked(t *testing.T) {
	db := testutil.SetupTestDB(t)
	repo := repository.NewQuoteRepository(db)
	ctx := context.Background()
	client := testutil.CreateTestClient(t, db, "Acme")
	quote := testutil.CreateTestQuote(t, db, client.ID, domain.QuoteStatusLocked, []domain.QuoteLine{testutil.ProjectLine("Build", 1000)})

	quote.Lines = datatypes.NewJSONSlice([]domain.QuoteLine{testutil.ProjectLine("Changed", 2000)})
	err := repo.UpdateProposed(ctx, nil, quote)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)

	loaded, err := repo.GetByID(ctx, quote.ID)
	require.NoError(t, err)
	assert.Equal(t, "Build", loaded.Lines[0].Title)
}
