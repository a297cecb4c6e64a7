package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"
	"unicode/utf8"

	"task-tracker/internal/config"
	"task-tracker/internal/models"
	"task-tracker/internal/repositories"

	"github.com/gofrs/uuid"
)

const maxTitleLength = 100

// TaskFields carries the writable task attributes. Nil fields are left
// untouched on update.
type TaskFields struct {
	Title       *string            `json:"title"`
	Description *string            `json:"description"`
	Status      *models.TaskStatus `json:"status"`
	Priority    *int               `json:"priority"`
	Completed   *bool              `json:"completed"`
}

type TaskList struct {
	Tasks          []models.Task `json:"tasks"`
	TotalCount     int64         `json:"total_count"`
	CompletedCount int64         `json:"completed_count"`
}

type TaskService interface {
	CreateTask(ctx context.Context, owner uuid.UUID, fields TaskFields) (*models.Task, error)
	UpdateTask(ctx context.Context, id, owner uuid.UUID, fields TaskFields) (*models.Task, error)
	DeleteTask(ctx context.Context, id, owner uuid.UUID) error
	GetTask(ctx context.Context, id, owner uuid.UUID) (*models.Task, error)
	ListTasks(ctx context.Context, owner uuid.UUID, view repositories.TaskView) (*TaskList, error)
	TaskHistory(ctx context.Context, id, owner uuid.UUID) ([]models.TaskHistory, error)
}

type TaskServiceImpl struct {
	repo    repositories.TaskRepository
	cascade *CascadeEngine
	history *HistoryRecorder
	retries int
	backoff time.Duration
}

func NewTaskService(repo repositories.TaskRepository, cfg config.TasksConfig) *TaskServiceImpl {
	return &TaskServiceImpl{
		repo:    repo,
		cascade: NewCascadeEngine(),
		history: NewHistoryRecorder(),
		retries: cfg.MaxRetries,
		backoff: cfg.RetryBackoff,
	}
}

func (s *TaskServiceImpl) CreateTask(ctx context.Context, owner uuid.UUID, fields TaskFields) (*models.Task, error) {
	if err := validateCreate(fields); err != nil {
		return nil, err
	}

	var created *models.Task
	err := s.inTx(ctx, func(tx repositories.TaskRepository) error {
		task := &models.Task{UserID: owner}
		applyFields(task, fields)

		if task.IsActive() {
			if _, err := s.cascade.ResolveCollision(ctx, tx, owner, task.Priority, nil); err != nil {
				return err
			}
		}
		if err := tx.Create(ctx, task); err != nil {
			return err
		}
		created = task
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Printf("Task %s created for user %s at priority %d", created.ID, owner, created.Priority)
	return created, nil
}

func (s *TaskServiceImpl) UpdateTask(ctx context.Context, id, owner uuid.UUID, fields TaskFields) (*models.Task, error) {
	if err := validateUpdate(fields); err != nil {
		return nil, err
	}

	var updated *models.Task
	err := s.inTx(ctx, func(tx repositories.TaskRepository) error {
		// owner lock first, then the row; ResolveCollision locks in the same order
		if err := tx.LockOwner(ctx, owner); err != nil {
			return err
		}

		current, err := s.loadOwned(ctx, tx, id, owner, true)
		if err != nil {
			return err
		}

		prev := *current
		next := *current
		applyFields(&next, fields)

		if next.IsActive() && (next.Priority != prev.Priority || !prev.IsActive()) {
			if _, err := s.cascade.ResolveCollision(ctx, tx, owner, next.Priority, &next.ID); err != nil {
				return err
			}
		}

		if _, err := s.history.Record(ctx, tx, &prev, &next); err != nil {
			return err
		}
		if err := tx.Save(ctx, &next); err != nil {
			return err
		}
		updated = &next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// DeleteTask soft-deletes the task. Remaining priorities are not compacted.
func (s *TaskServiceImpl) DeleteTask(ctx context.Context, id, owner uuid.UUID) error {
	return s.inTx(ctx, func(tx repositories.TaskRepository) error {
		task, err := s.loadOwned(ctx, tx, id, owner, true)
		if err != nil {
			return err
		}
		task.Deleted = true
		return tx.Save(ctx, task)
	})
}

func (s *TaskServiceImpl) GetTask(ctx context.Context, id, owner uuid.UUID) (*models.Task, error) {
	return s.loadOwned(ctx, s.repo, id, owner, false)
}

func (s *TaskServiceImpl) ListTasks(ctx context.Context, owner uuid.UUID, view repositories.TaskView) (*TaskList, error) {
	tasks, err := s.repo.List(ctx, repositories.TaskFilter{UserID: owner, View: view})
	if err != nil {
		return nil, err
	}
	total, err := s.repo.Count(ctx, repositories.TaskFilter{UserID: owner, View: repositories.ViewAll})
	if err != nil {
		return nil, err
	}
	completed, err := s.repo.Count(ctx, repositories.TaskFilter{UserID: owner, View: repositories.ViewCompleted})
	if err != nil {
		return nil, err
	}

	if tasks == nil {
		tasks = []models.Task{}
	}
	return &TaskList{Tasks: tasks, TotalCount: total, CompletedCount: completed}, nil
}

// TaskHistory returns the task's status transitions, oldest first.
func (s *TaskServiceImpl) TaskHistory(ctx context.Context, id, owner uuid.UUID) ([]models.TaskHistory, error) {
	if _, err := s.loadOwned(ctx, s.repo, id, owner, false); err != nil {
		return nil, err
	}
	return s.repo.ListHistory(ctx, id)
}

func (s *TaskServiceImpl) loadOwned(ctx context.Context, repo repositories.TaskRepository, id, owner uuid.UUID, lock bool) (*models.Task, error) {
	var (
		task *models.Task
		err  error
	)
	if lock {
		task, err = repo.FindByIDForUpdate(ctx, id)
	} else {
		task, err = repo.FindByID(ctx, id)
	}
	if errors.Is(err, repositories.ErrNotFound) {
		return nil, fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	if task.UserID != owner {
		return nil, fmt.Errorf("task %s: %w", id, ErrForbidden)
	}
	if task.Deleted {
		return nil, fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	return task, nil
}

// inTx runs fn in a transaction, retrying the whole unit when the store
// reports a concurrent-modification failure.
func (s *TaskServiceImpl) inTx(ctx context.Context, fn func(tx repositories.TaskRepository) error) error {
	var err error
	for attempt := 0; attempt <= s.retries; attempt++ {
		if attempt > 0 {
			log.Printf("Retrying task transaction (attempt %d/%d): %v", attempt, s.retries, err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.backoff * time.Duration(attempt)):
			}
		}

		err = s.repo.WithTx(ctx, fn)
		if !repositories.IsConflict(err) {
			return err
		}
	}
	return fmt.Errorf("%w: %v", ErrConflict, err)
}

func applyFields(task *models.Task, fields TaskFields) {
	if fields.Title != nil {
		task.Title = strings.TrimSpace(*fields.Title)
	}
	if fields.Description != nil {
		task.Description = *fields.Description
	}
	if fields.Status != nil {
		task.Status = *fields.Status
	}
	if fields.Priority != nil {
		task.Priority = *fields.Priority
	}
	if fields.Completed != nil {
		task.Completed = *fields.Completed
	}
}

func validateCreate(fields TaskFields) error {
	if fields.Title == nil {
		return newValidationError("title", "is required")
	}
	if fields.Description == nil {
		return newValidationError("description", "is required")
	}
	if fields.Priority == nil {
		return newValidationError("priority", "is required")
	}
	return validateUpdate(fields)
}

func validateUpdate(fields TaskFields) error {
	if fields.Title != nil {
		title := strings.TrimSpace(*fields.Title)
		if title == "" {
			return newValidationError("title", "must not be empty")
		}
		if utf8.RuneCountInString(title) > maxTitleLength {
			return newValidationError("title", fmt.Sprintf("must be at most %d characters", maxTitleLength))
		}
	}
	if fields.Status != nil && !fields.Status.Valid() {
		return newValidationError("status", fmt.Sprintf("must be one of %v", models.TaskStatuses))
	}
	return nil
}
