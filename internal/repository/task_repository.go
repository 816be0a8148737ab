package repository

import (
	"context"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"daily-tasks/internal/model"
)

// TaskFilter narrows task listings by completion state.
type TaskFilter string

const (
	FilterAll       TaskFilter = "all"
	FilterActive    TaskFilter = "active"
	FilterCompleted TaskFilter = "completed"
)

// ParseTaskFilter maps user input to a filter, defaulting to all.
func ParseTaskFilter(raw string) TaskFilter {
	switch TaskFilter(strings.ToLower(strings.TrimSpace(raw))) {
	case FilterActive:
		return FilterActive
	case FilterCompleted:
		return FilterCompleted
	default:
		return FilterAll
	}
}

// TaskRepository handles CRUD for tasks.
type TaskRepository struct {
	db *gorm.DB
}

func NewTaskRepository(db *gorm.DB) *TaskRepository {
	return &TaskRepository{db: db}
}

func (r *TaskRepository) Create(ctx context.Context, task *model.Task) error {
	if err := r.db.WithContext(ctx).Create(task).Error; err != nil {
		return fmt.Errorf("create task: %w", err)
	}
	return nil
}

func (r *TaskRepository) Save(ctx context.Context, task *model.Task) error {
	if err := r.db.WithContext(ctx).Save(task).Error; err != nil {
		return fmt.Errorf("save task: %w", err)
	}
	return nil
}

// FindByID returns gorm.ErrRecordNotFound (wrapped) when the task does not exist.
func (r *TaskRepository) FindByID(ctx context.Context, taskID string) (*model.Task, error) {
	var task model.Task
	if err := r.db.WithContext(ctx).Where("id = ?", taskID).First(&task).Error; err != nil {
		return nil, fmt.Errorf("find task %s: %w", taskID, err)
	}
	return &task, nil
}

// List returns tasks ordered by reminder time, earliest first.
func (r *TaskRepository) List(ctx context.Context, filter TaskFilter) ([]model.Task, error) {
	q := r.db.WithContext(ctx).Model(&model.Task{})
	switch filter {
	case FilterActive:
		q = q.Where("completed = ?", false)
	case FilterCompleted:
		q = q.Where("completed = ?", true)
	}
	var tasks []model.Task
	if err := q.Order("reminder_time ASC, created_at ASC").Find(&tasks).Error; err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return tasks, nil
}

// ToggleCompleted flips the completion flag and returns the updated task.
func (r *TaskRepository) ToggleCompleted(ctx context.Context, taskID string) (*model.Task, error) {
	var task model.Task
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ?", taskID).First(&task).Error; err != nil {
			return err
		}
		task.Completed = !task.Completed
		return tx.Model(&task).Update("completed", task.Completed).Error
	})
	if err != nil {
		return nil, fmt.Errorf("toggle task %s: %w", taskID, err)
	}
	return &task, nil
}

// Delete removes a task. Deleting a missing task is not an error.
func (r *TaskRepository) Delete(ctx context.Context, taskID string) error {
	if err := r.db.WithContext(ctx).Where("id = ?", taskID).Delete(&model.Task{}).Error; err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	return nil
}
