package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"daily-tasks/internal/model"
	"daily-tasks/internal/repository"
)

var (
	ErrTitleRequired = errors.New("title is required")
	ErrTaskNotFound  = errors.New("task not found")
)

// TaskInput represents data required to create a task.
type TaskInput struct {
	Title        string
	Description  string
	Category     string
	ReminderTime time.Time
	ReminderType string
}

// TaskUpdate carries the fields to change; nil fields are left alone.
type TaskUpdate struct {
	Title        *string
	Description  *string
	Category     *string
	ReminderTime *time.Time
	ReminderType *string
	Completed    *bool
}

// TaskStats counts tasks by completion state.
type TaskStats struct {
	Total     int `json:"total"`
	Active    int `json:"active"`
	Completed int `json:"completed"`
}

// TaskService wraps task mutations and keeps their reminders in step.
// Task persistence never depends on notification success.
type TaskService struct {
	taskRepo  *repository.TaskRepository
	reminders *ReminderScheduler
}

func NewTaskService(taskRepo *repository.TaskRepository, reminders *ReminderScheduler) *TaskService {
	return &TaskService{taskRepo: taskRepo, reminders: reminders}
}

func (s *TaskService) CreateTask(ctx context.Context, input TaskInput) (*model.Task, Decision, error) {
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return nil, Decision{}, ErrTitleRequired
	}

	task := model.Task{
		ID:           uuid.NewString(),
		Title:        title,
		Description:  strings.TrimSpace(input.Description),
		Category:     strings.TrimSpace(input.Category),
		ReminderTime: input.ReminderTime,
		ReminderType: model.ParseReminderType(input.ReminderType),
	}
	if err := s.taskRepo.Create(ctx, &task); err != nil {
		return nil, Decision{}, err
	}

	return &task, s.reminders.Reschedule(ctx, task), nil
}

func (s *TaskService) UpdateTask(ctx context.Context, taskID string, update TaskUpdate) (*model.Task, Decision, error) {
	task, err := s.GetTask(ctx, taskID)
	if err != nil {
		return nil, Decision{}, err
	}

	if update.Title != nil {
		title := strings.TrimSpace(*update.Title)
		if title == "" {
			return nil, Decision{}, ErrTitleRequired
		}
		task.Title = title
	}
	if update.Description != nil {
		task.Description = strings.TrimSpace(*update.Description)
	}
	if update.Category != nil {
		task.Category = strings.TrimSpace(*update.Category)
	}
	if update.ReminderTime != nil {
		task.ReminderTime = *update.ReminderTime
	}
	if update.ReminderType != nil {
		task.ReminderType = model.ParseReminderType(*update.ReminderType)
	}
	if update.Completed != nil {
		task.Completed = *update.Completed
	}

	if err := s.taskRepo.Save(ctx, task); err != nil {
		return nil, Decision{}, err
	}
	return task, s.reminders.Reschedule(ctx, *task), nil
}

// ToggleCompletion flips completion; completing cancels the reminder and
// reopening schedules it again.
func (s *TaskService) ToggleCompletion(ctx context.Context, taskID string) (*model.Task, Decision, error) {
	task, err := s.taskRepo.ToggleCompleted(ctx, taskID)
	if err != nil {
		return nil, Decision{}, notFound(err)
	}
	return task, s.reminders.Reschedule(ctx, *task), nil
}

func (s *TaskService) DeleteTask(ctx context.Context, taskID string) error {
	if _, err := s.GetTask(ctx, taskID); err != nil {
		return err
	}
	s.reminders.Cancel(ctx, taskID)
	return s.taskRepo.Delete(ctx, taskID)
}

func (s *TaskService) GetTask(ctx context.Context, taskID string) (*model.Task, error) {
	task, err := s.taskRepo.FindByID(ctx, taskID)
	if err != nil {
		return nil, notFound(err)
	}
	return task, nil
}

func (s *TaskService) ListTasks(ctx context.Context, filter repository.TaskFilter) ([]model.Task, error) {
	return s.taskRepo.List(ctx, filter)
}

func (s *TaskService) Stats(ctx context.Context) (TaskStats, error) {
	tasks, err := s.taskRepo.List(ctx, repository.FilterAll)
	if err != nil {
		return TaskStats{}, err
	}
	stats := TaskStats{Total: len(tasks)}
	for _, task := range tasks {
		if task.Completed {
			stats.Completed++
		}
	}
	stats.Active = stats.Total - stats.Completed
	return stats, nil
}

// ResyncReminders re-registers reminders for every stored task.
func (s *TaskService) ResyncReminders(ctx context.Context) (int, error) {
	tasks, err := s.taskRepo.List(ctx, repository.FilterAll)
	if err != nil {
		return 0, fmt.Errorf("resync reminders: %w", err)
	}
	return s.reminders.Resync(ctx, tasks), nil
}

// RearmReminder registers the next occurrence of a task whose notification
// just fired. A deleted task only loses its stale binding.
func (s *TaskService) RearmReminder(ctx context.Context, taskID string) (Decision, error) {
	task, err := s.GetTask(ctx, taskID)
	if err != nil {
		if errors.Is(err, ErrTaskNotFound) {
			s.reminders.Cancel(ctx, taskID)
		}
		return Decision{TaskID: taskID}, err
	}
	return s.reminders.Reschedule(ctx, *task), nil
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: %v", ErrTaskNotFound, err)
	}
	return err
}
