package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/opsboard/opsboard-api/internal/domain"
	"gorm.io/gorm"
)

type TaskRepository struct {
	db *gorm.DB
}

func NewTaskRepository(db *gorm.DB) *TaskRepository {
	return &TaskRepository{db: db}
}

func (r *TaskRepository) Create(ctx context.Context, task *domain.Task) error {
	return r.db.WithContext(ctx).Create(task).Error
}

func (r *TaskRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	var task domain.Task
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&task).Error
	if err != nil {
		return nil, err
	}
	return &task, nil
}

func (r *TaskRepository) Update(ctx context.Context, task *domain.Task) error {
	return r.db.WithContext(ctx).Save(task).Error
}

func (r *TaskRepository) Delete(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).Delete(&domain.Task{}, "id = ?", id).Error
}

// ListByProject returns a project's tasks, oldest first
func (r *TaskRepository) ListByProject(ctx context.Context, projectID uuid.UUID) ([]domain.Task, error) {
	var tasks []domain.Task
	err := r.db.WithContext(ctx).
		Where("project_id = ?", projectID).
		Order("created_at ASC").
		Find(&tasks).Error
	return tasks, err
}

// ListByProjects returns tasks for several projects grouped by project id
func (r *TaskRepository) ListByProjects(ctx context.Context, projectIDs []uuid.UUID) (map[uuid.UUID][]domain.Task, error) {
	grouped := make(map[uuid.UUID][]domain.Task)
	if len(projectIDs) == 0 {
		return grouped, nil
	}
	var tasks []domain.Task
	err := r.db.WithContext(ctx).
		Where("project_id IN ?", projectIDs).
		Order("created_at ASC").
		Find(&tasks).Error
	if err != nil {
		return nil, err
	}
	for _, t := range tasks {
		grouped[t.ProjectID] = append(grouped[t.ProjectID], t)
	}
	return grouped, nil
}
