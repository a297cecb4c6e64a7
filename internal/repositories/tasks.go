package repositories

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"

	"task-tracker/internal/models"

	"github.com/gofrs/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrNotFound = errors.New("record not found")

type TaskView string

const (
	ViewCurrent   TaskView = "current"
	ViewCompleted TaskView = "completed"
	ViewAll       TaskView = "all"
)

func ParseTaskView(value string) (TaskView, error) {
	switch TaskView(value) {
	case "", ViewCurrent:
		return ViewCurrent, nil
	case ViewCompleted:
		return ViewCompleted, nil
	case ViewAll:
		return ViewAll, nil
	}
	return "", fmt.Errorf("unknown task view %q", value)
}

type TaskFilter struct {
	UserID uuid.UUID
	View   TaskView
}

// TaskRepository is the Task Store. Every method runs against the handle it
// was obtained from; inside WithTx that handle is the open transaction.
type TaskRepository interface {
	WithTx(ctx context.Context, fn func(tx TaskRepository) error) error

	// LockOwner serialises priority changes for one owner until the
	// surrounding transaction ends. Other owners are not blocked.
	LockOwner(ctx context.Context, owner uuid.UUID) error
	HasActiveAt(ctx context.Context, owner uuid.UUID, priority int, exclude *uuid.UUID) (bool, error)
	LockActiveFrom(ctx context.Context, owner uuid.UUID, priority int, exclude *uuid.UUID) ([]models.Task, error)
	ShiftPriorities(ctx context.Context, ids []uuid.UUID) error

	Create(ctx context.Context, task *models.Task) error
	Save(ctx context.Context, task *models.Task) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Task, error)
	FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Task, error)
	List(ctx context.Context, filter TaskFilter) ([]models.Task, error)
	Count(ctx context.Context, filter TaskFilter) (int64, error)
	CountByStatus(ctx context.Context, owner uuid.UUID) (map[models.TaskStatus]int64, error)

	CreateHistory(ctx context.Context, history *models.TaskHistory) error
	ListHistory(ctx context.Context, taskID uuid.UUID) ([]models.TaskHistory, error)
}

type GormTaskRepository struct {
	db *gorm.DB
}

func NewTaskRepository(db *gorm.DB) *GormTaskRepository {
	return &GormTaskRepository{db: db}
}

func (r *GormTaskRepository) WithTx(ctx context.Context, fn func(tx TaskRepository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&GormTaskRepository{db: tx})
	})
}

func (r *GormTaskRepository) LockOwner(ctx context.Context, owner uuid.UUID) error {
	// sqlite has a single writer, so the transaction itself is the lock there
	if r.db.Dialector.Name() != "postgres" {
		return nil
	}
	if err := r.db.WithContext(ctx).Exec("SELECT pg_advisory_xact_lock(?)", ownerLockKey(owner)).Error; err != nil {
		return fmt.Errorf("lock owner %s: %w", owner, err)
	}
	return nil
}

func ownerLockKey(owner uuid.UUID) int64 {
	h := fnv.New64a()
	h.Write(owner.Bytes())
	return int64(h.Sum64())
}

func (r *GormTaskRepository) active(ctx context.Context, owner uuid.UUID) *gorm.DB {
	return r.db.WithContext(ctx).Model(&models.Task{}).
		Where("user_id = ? AND deleted = ? AND completed = ?", owner, false, false)
}

func (r *GormTaskRepository) HasActiveAt(ctx context.Context, owner uuid.UUID, priority int, exclude *uuid.UUID) (bool, error) {
	q := r.active(ctx, owner).Where("priority = ?", priority)
	if exclude != nil {
		q = q.Where("id <> ?", *exclude)
	}

	var count int64
	if err := q.Count(&count).Error; err != nil {
		return false, fmt.Errorf("check priority %d: %w", priority, err)
	}
	return count > 0, nil
}

func (r *GormTaskRepository) LockActiveFrom(ctx context.Context, owner uuid.UUID, priority int, exclude *uuid.UUID) ([]models.Task, error) {
	q := r.active(ctx, owner).Where("priority >= ?", priority)
	if exclude != nil {
		q = q.Where("id <> ?", *exclude)
	}

	var tasks []models.Task
	err := q.Clauses(clause.Locking{Strength: "UPDATE"}).
		Order("priority ASC").
		Order("created_at ASC").
		Order("id ASC").
		Find(&tasks).Error
	if err != nil {
		return nil, fmt.Errorf("lock tasks from priority %d: %w", priority, err)
	}
	return tasks, nil
}

func (r *GormTaskRepository) ShiftPriorities(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}

	result := r.db.WithContext(ctx).Model(&models.Task{}).
		Where("id IN ?", ids).
		UpdateColumn("priority", gorm.Expr("priority + ?", 1))
	if result.Error != nil {
		return fmt.Errorf("shift priorities: %w", result.Error)
	}
	if result.RowsAffected != int64(len(ids)) {
		return fmt.Errorf("shift priorities: updated %d of %d tasks", result.RowsAffected, len(ids))
	}
	return nil
}

func (r *GormTaskRepository) Create(ctx context.Context, task *models.Task) error {
	if err := r.db.WithContext(ctx).Create(task).Error; err != nil {
		return fmt.Errorf("create task: %w", err)
	}
	return nil
}

func (r *GormTaskRepository) Save(ctx context.Context, task *models.Task) error {
	if err := r.db.WithContext(ctx).Save(task).Error; err != nil {
		return fmt.Errorf("save task %s: %w", task.ID, err)
	}
	return nil
}

func (r *GormTaskRepository) FindByID(ctx context.Context, id uuid.UUID) (*models.Task, error) {
	return r.find(r.db.WithContext(ctx), id)
}

func (r *GormTaskRepository) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Task, error) {
	return r.find(r.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}), id)
}

func (r *GormTaskRepository) find(db *gorm.DB, id uuid.UUID) (*models.Task, error) {
	var task models.Task
	if err := db.Where("id = ?", id).First(&task).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find task %s: %w", id, err)
	}
	return &task, nil
}

func (r *GormTaskRepository) filtered(ctx context.Context, filter TaskFilter) *gorm.DB {
	q := r.db.WithContext(ctx).Model(&models.Task{}).
		Where("user_id = ? AND deleted = ?", filter.UserID, false)

	switch filter.View {
	case ViewCompleted:
		q = q.Where("completed = ?", true)
	case ViewAll:
	default:
		q = q.Where("completed = ?", false)
	}
	return q
}

func (r *GormTaskRepository) List(ctx context.Context, filter TaskFilter) ([]models.Task, error) {
	q := r.filtered(ctx, filter)
	if filter.View == ViewAll {
		q = q.Order("completed ASC")
	}

	var tasks []models.Task
	if err := q.Order("priority ASC").Order("created_at ASC").Find(&tasks).Error; err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return tasks, nil
}

func (r *GormTaskRepository) Count(ctx context.Context, filter TaskFilter) (int64, error) {
	var count int64
	if err := r.filtered(ctx, filter).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("count tasks: %w", err)
	}
	return count, nil
}

func (r *GormTaskRepository) CountByStatus(ctx context.Context, owner uuid.UUID) (map[models.TaskStatus]int64, error) {
	var rows []struct {
		Status models.TaskStatus
		Total  int64
	}
	err := r.active(ctx, owner).
		Select("status, COUNT(*) AS total").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("count tasks by status: %w", err)
	}

	counts := make(map[models.TaskStatus]int64, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Total
	}
	return counts, nil
}

// CreateHistory must run in the transaction that holds the task's row lock,
// which makes the per-task sequence safe to take from MAX(seq).
func (r *GormTaskRepository) CreateHistory(ctx context.Context, history *models.TaskHistory) error {
	var last int64
	err := r.db.WithContext(ctx).Model(&models.TaskHistory{}).
		Where("task_id = ?", history.TaskID).
		Select("COALESCE(MAX(seq), 0)").
		Scan(&last).Error
	if err != nil {
		return fmt.Errorf("next history seq for task %s: %w", history.TaskID, err)
	}
	history.Seq = last + 1

	if err := r.db.WithContext(ctx).Create(history).Error; err != nil {
		return fmt.Errorf("record history for task %s: %w", history.TaskID, err)
	}
	return nil
}

func (r *GormTaskRepository) ListHistory(ctx context.Context, taskID uuid.UUID) ([]models.TaskHistory, error) {
	var history []models.TaskHistory
	err := r.db.WithContext(ctx).
		Where("task_id = ?", taskID).
		Order("seq ASC").
		Order("timestamp ASC").
		Find(&history).Error
	if err != nil {
		return nil, fmt.Errorf("list history for task %s: %w", taskID, err)
	}
	return history, nil
}
