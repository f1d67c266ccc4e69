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
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ProjectService struct {
	projectRepo *repository.ProjectRepository
	clientRepo  *repository.ClientRepository
	logger      *zap.Logger
}

func NewProjectService(
	projectRepo *repository.ProjectRepository,
	clientRepo *repository.ClientRepository,
	logger *zap.Logger,
) *ProjectService {
	return &ProjectService{
		projectRepo: projectRepo,
		clientRepo:  clientRepo,
		logger:      logger,
	}
}

func (s *ProjectService) Create(ctx context.Context, req *domain.CreateProjectRequest) (*domain.ProjectDTO, error) {
	if _, err := s.clientRepo.GetByID(ctx, req.ClientID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrClientNotFound
		}
		return nil, fmt.Errorf("failed to verify client: %w", err)
	}

	status := req.Status
	if status == "" {
		status = domain.ProjectStatusPlanning
	}

	project := &domain.Project{
		ClientID:      req.ClientID,
		Name:          req.Name,
		Description:   req.Description,
		ProjectType:   req.ProjectType,
		Status:        status,
		Budget:        mapper.FloatToDecimalPtr(req.Budget),
		BillingStatus: domain.BillingStatusUnbilled,
	}
	if status == domain.ProjectStatusCompleted {
		now := time.Now().UTC()
		project.CompletedAt = &now
	}

	if err := s.projectRepo.Create(ctx, project); err != nil {
		return nil, fmt.Errorf("failed to create project: %w", err)
	}

	dto := mapper.ToProjectDTO(project)
	return &dto, nil
}

func (s *ProjectService) GetByID(ctx context.Context, id uuid.UUID) (*domain.ProjectDTO, error) {
	project, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	dto := mapper.ToProjectDTO(project)
	return &dto, nil
}

func (s *ProjectService) get(ctx context.Context, id uuid.UUID) (*domain.Project, error) {
	project, err := s.projectRepo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrProjectNotFound
		}
		return nil, fmt.Errorf("failed to get project: %w", err)
	}
	return project, nil
}

// Update changes delivery details. Completing a project stamps CompletedAt, which makes it billable.
func (s *ProjectService) Update(ctx context.Context, id uuid.UUID, req *domain.UpdateProjectRequest) (*domain.ProjectDTO, error) {
	project, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}

	if project.BillingStatus == domain.BillingStatusBilled && req.Status != domain.ProjectStatusCompleted {
		return nil, fmt.Errorf("%w: billed projects stay completed", ErrAlreadyBilled)
	}

	if req.Status == domain.ProjectStatusCompleted && project.CompletedAt == nil {
		now := time.Now().UTC()
		project.CompletedAt = &now
	}
	if req.Status != domain.ProjectStatusCompleted {
		project.CompletedAt = nil
	}

	project.Name = req.Name
	project.Description = req.Description
	project.ProjectType = req.ProjectType
	project.Status = req.Status
	project.Budget = mapper.FloatToDecimalPtr(req.Budget)

	if err := s.projectRepo.Update(ctx, project); err != nil {
		return nil, fmt.Errorf("failed to update project: %w", err)
	}

	dto := mapper.ToProjectDTO(project)
	return &dto, nil
}

func (s *ProjectService) Delete(ctx context.Context, id uuid.UUID) error {
	project, err := s.get(ctx, id)
	if err != nil {
		return err
	}
	if project.BillingStatus != domain.BillingStatusUnbilled {
		return ErrAlreadyBilled
	}
	if err := s.projectRepo.Delete(ctx, id); err != nil {
		return fmt.Errorf("failed to delete project: %w", err)
	}
	return nil
}

func (s *ProjectService) List(ctx context.Context, page, pageSize int, filter *repository.ProjectFilter) (*domain.PaginatedResponse, error) {
	page, pageSize = normalizePage(page, pageSize)
	projects, total, err := s.projectRepo.List(ctx, page, pageSize, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}

	dtos := make([]domain.ProjectDTO, len(projects))
	for i := range projects {
		dtos[i] = mapper.ToProjectDTO(&projects[i])
	}
	return paginated(dtos, total, page, pageSize), nil
}
