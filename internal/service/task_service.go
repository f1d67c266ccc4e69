package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/opsboard/opsboard-api/internal/domain"
	"github.com/opsboard/opsboard-api/internal/mapper"
	"github.com/opsboard/opsboard-api/internal/repository"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type TaskService struct {
	taskRepo    *repository.TaskRepository
	projectRepo *repository.ProjectRepository
	logger      *zap.Logger
}

func NewTaskService(taskRepo *repository.TaskRepository, projectRepo *repository.ProjectRepository, logger *zap.Logger) *TaskService {
	return &TaskService{
		taskRepo:    taskRepo,
		projectRepo: projectRepo,
		logger:      logger,
	}
}

func (s *TaskService) Create(ctx context.Context, req *domain.CreateTaskRequest) (*domain.TaskDTO, error) {
	if _, err := s.projectRepo.GetByID(ctx, req.ProjectID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrProjectNotFound
		}
		return nil, fmt.Errorf("failed to verify project: %w", err)
	}

	status := req.Status
	if status == "" {
		status = domain.TaskStatusTodo
	}

	task := &domain.Task{
		ProjectID:      req.ProjectID,
		Title:          req.Title,
		Description:    req.Description,
		Status:         status,
		EstimatedHours: mapper.FloatToDecimalPtr(req.EstimatedHours),
		DueDate:        req.DueDate,
	}

	if err := s.taskRepo.Create(ctx, task); err != nil {
		return nil, fmt.Errorf("failed to create task: %w", err)
	}

	dto := mapper.ToTaskDTO(task)
	return &dto, nil
}

func (s *TaskService) GetByID(ctx context.Context, id uuid.UUID) (*domain.TaskDTO, error) {
	task, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	dto := mapper.ToTaskDTO(task)
	return &dto, nil
}

func (s *TaskService) get(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	task, err := s.taskRepo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTaskNotFound
		}
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	return task, nil
}

func (s *TaskService) Update(ctx context.Context, id uuid.UUID, req *domain.UpdateTaskRequest) (*domain.TaskDTO, error) {
	task, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}

	task.Title = req.Title
	task.Description = req.Description
	task.Status = req.Status
	task.EstimatedHours = mapper.FloatToDecimalPtr(req.EstimatedHours)
	task.DueDate = req.DueDate

	if err := s.taskRepo.Update(ctx, task); err != nil {
		return nil, fmt.Errorf("failed to update task: %w", err)
	}

	dto := mapper.ToTaskDTO(task)
	return &dto, nil
}

func (s *TaskService) Delete(ctx context.Context, id uuid.UUID) error {
	if _, err := s.get(ctx, id); err != nil {
		return err
	}
	return s.taskRepo.Delete(ctx, id)
}

func (s *TaskService) ListByProject(ctx context.Context, projectID uuid.UUID) ([]domain.TaskDTO, error) {
	if _, err := s.projectRepo.GetByID(ctx, projectID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrProjectNotFound
		}
		return nil, fmt.Errorf("failed to verify project: %w", err)
	}

	tasks, err := s.taskRepo.ListByProject(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	dtos := make([]domain.TaskDTO, len(tasks))
	for i := range tasks {
		dtos[i] = mapper.ToTaskDTO(&tasks[i])
	}
	return dtos, nil
}
