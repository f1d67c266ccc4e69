package service

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/google/uuid"
	"github.com/opsboard/opsboard-api/internal/auth"
	"github.com/opsboard/opsboard-api/internal/domain"
	"github.com/opsboard/opsboard-api/internal/events"
	"github.com/opsboard/opsboard-api/internal/logger"
	"github.com/opsboard/opsboard-api/internal/mapper"
	"github.com/opsboard/opsboard-api/internal/pricing"
	"github.com/opsboard/opsboard-api/internal/repository"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// QuoteService owns the quote lifecycle: proposed -> locked -> invoiced
type QuoteService struct {
	quoteRepo   *repository.QuoteRepository
	clientRepo  *repository.ClientRepository
	projectRepo *repository.ProjectRepository
	expenseRepo *repository.ExpenseRepository
	publisher   events.Publisher
	logger      *zap.Logger
	db          *gorm.DB
}

func NewQuoteService(
	quoteRepo *repository.QuoteRepository,
	clientRepo *repository.ClientRepository,
	projectRepo *repository.ProjectRepository,
	expenseRepo *repository.ExpenseRepository,
	publisher events.Publisher,
	logger *zap.Logger,
	db *gorm.DB,
) *QuoteService {
	return &QuoteService{
		quoteRepo:   quoteRepo,
		clientRepo:  clientRepo,
		projectRepo: projectRepo,
		expenseRepo: expenseRepo,
		publisher:   publisher,
		logger:      logger,
		db:          db,
	}
}

// Create stores a proposed quote. The selected work items are checked inside the
// same transaction that inserts the quote; any item already billed fails the whole request.
func (s *QuoteService) Create(ctx context.Context, req *domain.CreateQuoteRequest) (*domain.QuoteDTO, error) {
	if err := validateLines(req.Lines); err != nil {
		return nil, err
	}
	if _, err := s.clientRepo.GetByID(ctx, req.ClientID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrClientNotFound
		}
		return nil, fmt.Errorf("failed to verify client: %w", err)
	}

	lines := req.Lines
	if lines == nil {
		lines = []domain.QuoteLine{}
	}
	projectIDs := uniqueIDs(req.BillableProjectIDs)
	expenseIDs := uniqueIDs(req.BillableExpenseIDs)
	totals := pricing.ComputeTotals(lines)

	quote := &domain.Quote{
		ClientID:           req.ClientID,
		CreatedByID:        auth.UserIDFromContext(ctx),
		Lines:              datatypes.NewJSONSlice(lines),
		Subtotal:           totals.Subtotal(),
		Discount:           totals.Discount(),
		Total:              totals.Total(),
		Status:             domain.QuoteStatusProposed,
		DueDate:            req.DueDate,
		NetTermsDays:       req.NetTermsDays,
		ClientMemo:         req.ClientMemo,
		InternalMemo:       req.InternalMemo,
		BillableProjectIDs: datatypes.NewJSONSlice(projectIDs),
		BillableExpenseIDs: datatypes.NewJSONSlice(expenseIDs),
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.checkBillables(ctx, tx, req.ClientID, projectIDs, expenseIDs); err != nil {
			return err
		}
		return s.quoteRepo.Create(ctx, tx, quote)
	})
	if err != nil {
		return nil, s.txError("create quote", err)
	}

	logger.WithQuote(s.logger, quote.ID.String()).Info("quote created",
		zap.String("client_id", quote.ClientID.String()),
		zap.Int("lines", len(lines)),
		zap.Int64("total_cents", totals.TotalCents))
	publish(ctx, s.publisher, s.logger, quote.ID.String(), quoteEvent(events.QuoteCreated, quote))

	dto := mapper.ToQuoteDTO(quote)
	return &dto, nil
}

// Update replaces the lines of a proposed quote and recomputes its totals.
// Terms, memos and billable selections keep their value unless supplied.
func (s *QuoteService) Update(ctx context.Context, id uuid.UUID, req *domain.UpdateQuoteRequest) (*domain.QuoteDTO, error) {
	if err := validateLines(req.Lines); err != nil {
		return nil, err
	}

	var quote *domain.Quote
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		quote, err = s.quoteRepo.GetForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if !quote.Status.IsEditable() {
			return ErrQuoteNotEditable
		}

		lines := req.Lines
		if lines == nil {
			lines = []domain.QuoteLine{}
		}
		totals := pricing.ComputeTotals(lines)
		quote.Lines = datatypes.NewJSONSlice(lines)
		quote.Subtotal = totals.Subtotal()
		quote.Discount = totals.Discount()
		quote.Total = totals.Total()

		if req.DueDate != nil {
			quote.DueDate = req.DueDate
		}
		if req.NetTermsDays != nil {
			quote.NetTermsDays = req.NetTermsDays
		}
		if req.ClientMemo != nil {
			quote.ClientMemo = req.ClientMemo
		}
		if req.InternalMemo != nil {
			quote.InternalMemo = req.InternalMemo
		}

		selectionChanged := false
		if req.BillableProjectIDs != nil {
			quote.BillableProjectIDs = datatypes.NewJSONSlice(uniqueIDs(*req.BillableProjectIDs))
			selectionChanged = true
		}
		if req.BillableExpenseIDs != nil {
			quote.BillableExpenseIDs = datatypes.NewJSONSlice(uniqueIDs(*req.BillableExpenseIDs))
			selectionChanged = true
		}
		if selectionChanged {
			if err := s.checkBillables(ctx, tx, quote.ClientID, quote.BillableProjectIDs, quote.BillableExpenseIDs); err != nil {
				return err
			}
		}

		if err := s.quoteRepo.UpdateProposed(ctx, tx, quote); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrQuoteNotEditable
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, s.txError("update quote", err)
	}

	dto := mapper.ToQuoteDTO(quote)
	return &dto, nil
}

// Lock freezes a proposed quote. It needs at least one line and a positive total,
// and every selected work item must still be unbilled.
func (s *QuoteService) Lock(ctx context.Context, id uuid.UUID) (*domain.QuoteDTO, error) {
	var quote *domain.Quote
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		quote, err = s.quoteRepo.GetForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if !quote.Status.CanTransitionTo(domain.QuoteStatusLocked) {
			return ErrQuoteNotEditable
		}
		if len(quote.Lines) == 0 {
			return ErrQuoteEmpty
		}
		if pricing.ComputeTotals(quote.Lines).TotalCents <= 0 {
			return ErrQuoteZeroTotal
		}
		if err := s.checkBillables(ctx, tx, quote.ClientID, quote.BillableProjectIDs, quote.BillableExpenseIDs); err != nil {
			return err
		}

		ok, err := s.quoteRepo.TransitionStatus(ctx, tx, id, domain.QuoteStatusProposed, domain.QuoteStatusLocked)
		if err != nil {
			return err
		}
		if !ok {
			return ErrQuoteNotEditable
		}
		quote.Status = domain.QuoteStatusLocked
		return nil
	})
	if err != nil {
		return nil, s.txError("lock quote", err)
	}

	logger.WithQuote(s.logger, quote.ID.String()).Info("quote locked",
		zap.String("client_id", quote.ClientID.String()),
		zap.String("total", quote.Total.StringFixed(2)))
	publish(ctx, s.publisher, s.logger, quote.ID.String(), quoteEvent(events.QuoteLocked, quote))

	dto := mapper.ToQuoteDTO(quote)
	return &dto, nil
}

func (s *QuoteService) GetByID(ctx context.Context, id uuid.UUID) (*domain.QuoteDTO, error) {
	quote, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	dto := mapper.ToQuoteDTO(quote)
	return &dto, nil
}

// Grouped returns the quote's lines grouped by group key for review
func (s *QuoteService) Grouped(ctx context.Context, id uuid.UUID) (*domain.GroupedQuoteDTO, error) {
	quote, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	dto := mapper.ToGroupedQuoteDTO(quote)
	return &dto, nil
}

func (s *QuoteService) List(ctx context.Context, page, pageSize int, filter *repository.QuoteFilter) (*domain.PaginatedResponse, error) {
	page, pageSize = normalizePage(page, pageSize)
	quotes, total, err := s.quoteRepo.List(ctx, page, pageSize, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list quotes: %w", err)
	}
	dtos := make([]domain.QuoteDTO, len(quotes))
	for i := range quotes {
		dtos[i] = mapper.ToQuoteDTO(&quotes[i])
	}
	return paginated(dtos, total, page, pageSize), nil
}

// LatestForClient returns the newest quote of a client
func (s *QuoteService) LatestForClient(ctx context.Context, clientID uuid.UUID) (*domain.QuoteDTO, error) {
	quote, err := s.quoteRepo.LatestForClient(ctx, clientID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrQuoteNotFound
		}
		return nil, fmt.Errorf("failed to get latest quote: %w", err)
	}
	dto := mapper.ToQuoteDTO(quote)
	return &dto, nil
}

func (s *QuoteService) get(ctx context.Context, id uuid.UUID) (*domain.Quote, error) {
	quote, err := s.quoteRepo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrQuoteNotFound
		}
		return nil, fmt.Errorf("failed to get quote: %w", err)
	}
	return quote, nil
}

// checkBillables is the double-billing guard. Already billed items are reported by
// name whichever client owns them; unknown items and items of another client are
// validation errors.
func (s *QuoteService) checkBillables(ctx context.Context, tx *gorm.DB, clientID uuid.UUID, projectIDs, expenseIDs []uuid.UUID) error {
	projects, err := s.projectRepo.GetByIDs(ctx, tx, projectIDs)
	if err != nil {
		return fmt.Errorf("failed to load projects: %w", err)
	}
	expenses, err := s.expenseRepo.GetByIDs(ctx, tx, expenseIDs)
	if err != nil {
		return fmt.Errorf("failed to load expenses: %w", err)
	}

	var conflicts []string
	foreign := map[string]string{}
	found := make(map[uuid.UUID]bool, len(projects)+len(expenses))

	for _, p := range projects {
		found[p.ID] = true
		if p.BillingStatus != domain.BillingStatusUnbilled {
			conflicts = append(conflicts, fmt.Sprintf("Project %q", p.Name))
		} else if p.ClientID != clientID {
			foreign["billableProjectIds"] = fmt.Sprintf("Project %q belongs to another client", p.Name)
		}
	}
	for _, e := range expenses {
		found[e.ID] = true
		if e.BillingStatus != domain.BillingStatusUnbilled {
			conflicts = append(conflicts, fmt.Sprintf("Expense %q", e.Description))
		} else if e.ClientID != clientID {
			foreign["billableExpenseIds"] = fmt.Sprintf("Expense %q belongs to another client", e.Description)
		}
	}

	if len(conflicts) > 0 {
		return &BillingConflictError{Conflicts: conflicts}
	}
	for _, id := range projectIDs {
		if !found[id] {
			foreign["billableProjectIds"] = fmt.Sprintf("Unknown project %s", id)
		}
	}
	for _, id := range expenseIDs {
		if !found[id] {
			foreign["billableExpenseIds"] = fmt.Sprintf("Unknown expense %s", id)
		}
	}
	if len(foreign) > 0 {
		return &ValidationError{Fields: foreign}
	}
	return nil
}

// txError maps errors returned from a quote transaction
func (s *QuoteService) txError(op string, err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrQuoteNotFound
	}
	var conflict *BillingConflictError
	if errors.As(err, &conflict) {
		s.logger.Warn("quote rejected by double-billing guard",
			zap.String("op", op),
			zap.Strings("conflicts", conflict.Conflicts))
		return err
	}
	if errors.Is(err, ErrConflict) || errors.Is(err, ErrInvalidInput) {
		return err
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}

// validateLines checks what struct tags cannot express for callers that bypass the handler
func validateLines(lines []domain.QuoteLine) error {
	fields := map[string]string{}
	if len(lines) > domain.MaxQuoteLines {
		fields["lines"] = domain.GetValidationMessage("max")
	}
	for i, line := range lines {
		prefix := fmt.Sprintf("lines[%d]", i)
		if !line.Kind.IsValid() {
			fields[prefix+".kind"] = domain.GetValidationMessage("oneof")
		}
		if line.Title == "" {
			fields[prefix+".title"] = domain.GetValidationMessage("required")
		}
		switch {
		case line.Quantity < 0:
			fields[prefix+".quantity"] = domain.GetValidationMessage("gte")
		case line.Quantity > domain.MaxLineQuantity, math.IsNaN(line.Quantity):
			fields[prefix+".quantity"] = domain.GetValidationMessage("lte")
		}
		switch {
		case line.UnitAmountCents < 0:
			fields[prefix+".unitAmountCents"] = domain.GetValidationMessage("gte")
		case line.UnitAmountCents > domain.MaxUnitAmountCents:
			fields[prefix+".unitAmountCents"] = domain.GetValidationMessage("lte")
		}
	}
	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}

	totals := pricing.ComputeTotals(lines)
	if totals.SubtotalCents > domain.MaxQuoteAmountCents || totals.DiscountCents > domain.MaxQuoteAmountCents {
		return &ValidationError{Fields: map[string]string{"lines": "Quote amount exceeds the supported maximum"}}
	}
	return nil
}

func uniqueIDs(ids []uuid.UUID) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(ids))
	seen := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		if id == uuid.Nil || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
