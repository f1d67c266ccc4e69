package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/opsboard/opsboard-api/internal/domain"
	"github.com/opsboard/opsboard-api/internal/mapper"
	"github.com/opsboard/opsboard-api/internal/repository"
	"gorm.io/gorm"
)

// BillableService lists the work that can still be put on a quote. It never writes.
type BillableService struct {
	clientRepo  *repository.ClientRepository
	projectRepo *repository.ProjectRepository
	expenseRepo *repository.ExpenseRepository
}

func NewBillableService(
	clientRepo *repository.ClientRepository,
	projectRepo *repository.ProjectRepository,
	expenseRepo *repository.ExpenseRepository,
) *BillableService {
	return &BillableService{
		clientRepo:  clientRepo,
		projectRepo: projectRepo,
		expenseRepo: expenseRepo,
	}
}

// ForClient returns completed unbilled projects and all unbilled expenses of a client
func (s *BillableService) ForClient(ctx context.Context, clientID uuid.UUID) (*domain.BillablesDTO, error) {
	if _, err := s.clientRepo.GetByID(ctx, clientID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrClientNotFound
		}
		return nil, fmt.Errorf("failed to verify client: %w", err)
	}

	projects, err := s.projectRepo.ListBillable(ctx, clientID)
	if err != nil {
		return nil, fmt.Errorf("failed to list billable projects: %w", err)
	}
	expenses, err := s.expenseRepo.ListBillable(ctx, clientID)
	if err != nil {
		return nil, fmt.Errorf("failed to list billable expenses: %w", err)
	}

	dto := &domain.BillablesDTO{
		ClientID: clientID,
		Projects: make([]domain.ProjectDTO, len(projects)),
		Expenses: make([]domain.ExpenseDTO, len(expenses)),
	}
	for i := range projects {
		dto.Projects[i] = mapper.ToProjectDTO(&projects[i])
	}
	for i := range expenses {
		dto.Expenses[i] = mapper.ToExpenseDTO(&expenses[i])
	}
	return dto, nil
}
