package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/opsboard/opsboard-api/internal/domain"
	"github.com/opsboard/opsboard-api/internal/mapper"
	"github.com/opsboard/opsboard-api/internal/repository"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ExpenseService struct {
	expenseRepo *repository.ExpenseRepository
	clientRepo  *repository.ClientRepository
	projectRepo *repository.ProjectRepository
	logger      *zap.Logger
}

func NewExpenseService(
	expenseRepo *repository.ExpenseRepository,
	clientRepo *repository.ClientRepository,
	projectRepo *repository.ProjectRepository,
	logger *zap.Logger,
) *ExpenseService {
	return &ExpenseService{
		expenseRepo: expenseRepo,
		clientRepo:  clientRepo,
		projectRepo: projectRepo,
		logger:      logger,
	}
}

func (s *ExpenseService) Create(ctx context.Context, req *domain.CreateExpenseRequest) (*domain.ExpenseDTO, error) {
	if _, err := s.clientRepo.GetByID(ctx, req.ClientID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrClientNotFound
		}
		return nil, fmt.Errorf("failed to verify client: %w", err)
	}
	if err := s.checkProject(ctx, req.ClientID, req.ProjectID); err != nil {
		return nil, err
	}

	incurredOn := time.Now().UTC()
	if req.IncurredOn != nil {
		incurredOn = req.IncurredOn.UTC()
	}
	policy := req.PassThrough
	if policy == "" {
		policy = domain.PassThroughAtCost
	}

	expense := &domain.Expense{
		ClientID:      req.ClientID,
		ProjectID:     req.ProjectID,
		Description:   req.Description,
		Vendor:        req.Vendor,
		Category:      req.Category,
		Amount:        decimal.NewFromFloat(req.Amount).Round(2),
		IncurredOn:    incurredOn,
		PassThrough:   policy,
		MarkupPercent: decimal.NewFromFloat(req.MarkupPercent).Round(2),
		BillingStatus: domain.BillingStatusUnbilled,
	}

	if err := s.expenseRepo.Create(ctx, expense); err != nil {
		return nil, fmt.Errorf("failed to create expense: %w", err)
	}

	dto := mapper.ToExpenseDTO(expense)
	return &dto, nil
}

// checkProject verifies an optional project belongs to the expense's client
func (s *ExpenseService) checkProject(ctx context.Context, clientID uuid.UUID, projectID *uuid.UUID) error {
	if projectID == nil {
		return nil
	}
	project, err := s.projectRepo.GetByID(ctx, *projectID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrProjectNotFound
		}
		return fmt.Errorf("failed to verify project: %w", err)
	}
	if project.ClientID != clientID {
		return newValidationError("projectId", "Project belongs to a different client")
	}
	return nil
}

func (s *ExpenseService) GetByID(ctx context.Context, id uuid.UUID) (*domain.ExpenseDTO, error) {
	expense, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	dto := mapper.ToExpenseDTO(expense)
	return &dto, nil
}

func (s *ExpenseService) get(ctx context.Context, id uuid.UUID) (*domain.Expense, error) {
	expense, err := s.expenseRepo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrExpenseNotFound
		}
		return nil, fmt.Errorf("failed to get expense: %w", err)
	}
	return expense, nil
}

// Update edits an unbilled expense. Billed expenses are frozen until their invoice is voided.
func (s *ExpenseService) Update(ctx context.Context, id uuid.UUID, req *domain.UpdateExpenseRequest) (*domain.ExpenseDTO, error) {
	expense, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if expense.BillingStatus != domain.BillingStatusUnbilled {
		return nil, ErrAlreadyBilled
	}
	if err := s.checkProject(ctx, expense.ClientID, req.ProjectID); err != nil {
		return nil, err
	}

	expense.ProjectID = req.ProjectID
	expense.Description = req.Description
	expense.Vendor = req.Vendor
	expense.Category = req.Category
	expense.Amount = decimal.NewFromFloat(req.Amount).Round(2)
	if req.IncurredOn != nil {
		expense.IncurredOn = req.IncurredOn.UTC()
	}
	expense.PassThrough = req.PassThrough
	expense.MarkupPercent = decimal.NewFromFloat(req.MarkupPercent).Round(2)

	if err := s.expenseRepo.Update(ctx, expense); err != nil {
		return nil, fmt.Errorf("failed to update expense: %w", err)
	}

	dto := mapper.ToExpenseDTO(expense)
	return &dto, nil
}

func (s *ExpenseService) Delete(ctx context.Context, id uuid.UUID) error {
	expense, err := s.get(ctx, id)
	if err != nil {
		return err
	}
	if expense.BillingStatus != domain.BillingStatusUnbilled {
		return ErrAlreadyBilled
	}
	return s.expenseRepo.Delete(ctx, id)
}

func (s *ExpenseService) List(ctx context.Context, page, pageSize int, filter *repository.ExpenseFilter) (*domain.PaginatedResponse, error) {
	page, pageSize = normalizePage(page, pageSize)
	expenses, total, err := s.expenseRepo.List(ctx, page, pageSize, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list expenses: %w", err)
	}

	dtos := make([]domain.ExpenseDTO, len(expenses))
	for i := range expenses {
		dtos[i] = mapper.ToExpenseDTO(&expenses[i])
	}
	return paginated(dtos, total, page, pageSize), nil
}
