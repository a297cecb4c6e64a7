package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/gofrs/uuid"
	"gorm.io/gorm"
)

type TaskStatus string

const (
	StatusPending    TaskStatus = "PENDING"
	StatusInProgress TaskStatus = "IN_PROGRESS"
	StatusCompleted  TaskStatus = "COMPLETED"
	StatusCancelled  TaskStatus = "CANCELLED"
)

var TaskStatuses = []TaskStatus{StatusPending, StatusInProgress, StatusCompleted, StatusCancelled}

func (s TaskStatus) Valid() bool {
	for _, status := range TaskStatuses {
		if s == status {
			return true
		}
	}
	return false
}

func ParseTaskStatus(value string) (TaskStatus, error) {
	status := TaskStatus(strings.ToUpper(strings.TrimSpace(value)))
	if !status.Valid() {
		return "", fmt.Errorf("invalid task status %q", value)
	}
	return status, nil
}

type Task struct {
	ID          uuid.UUID  `json:"id" gorm:"primaryKey;type:uuid"`
	UserID      uuid.UUID  `json:"user_id" gorm:"type:uuid;not null;index:idx_tasks_owner_priority,priority:1"`
	Title       string     `json:"title" gorm:"size:100;not null"`
	Description string     `json:"description" gorm:"type:text;not null"`
	Status      TaskStatus `json:"status" gorm:"size:20;not null;default:'PENDING'"`
	Priority    int        `json:"priority" gorm:"not null;index:idx_tasks_owner_priority,priority:2"`
	Completed   bool       `json:"completed" gorm:"not null"`
	Deleted     bool       `json:"deleted" gorm:"not null"`
	CreatedAt   time.Time  `json:"created_date" gorm:"autoCreateTime"`
	UpdatedAt   time.Time  `json:"updated_at" gorm:"autoUpdateTime"`
}

func (t *Task) BeforeCreate(tx *gorm.DB) error {
	if t.ID == uuid.Nil {
		id, err := uuid.NewV4()
		if err != nil {
			return fmt.Errorf("generate task id: %w", err)
		}
		t.ID = id
	}
	if t.Status == "" {
		t.Status = StatusPending
	}
	return nil
}

// IsActive reports whether the task takes part in its owner's priority ordering.
func (t *Task) IsActive() bool {
	return !t.Deleted && !t.Completed
}

func (t Task) String() string {
	return fmt.Sprintf("%s: %d | %s", t.Title, t.Priority, t.UserID)
}

type TaskHistory struct {
	ID         uuid.UUID   `json:"id" gorm:"primaryKey;type:uuid"`
	TaskID     uuid.UUID   `json:"task_id" gorm:"type:uuid;not null;index"`
	Task       *Task       `json:"-" gorm:"foreignKey:TaskID;constraint:OnDelete:CASCADE"`
	FromStatus *TaskStatus `json:"from_status" gorm:"size:20"`
	ToStatus   TaskStatus  `json:"to_status" gorm:"size:20;not null"`
	Timestamp  time.Time   `json:"timestamp" gorm:"not null;index"`
	// Seq numbers a task's transitions 1, 2, ... in write order.
	Seq        int64       `json:"seq" gorm:"not null;default:0"`
}

func (TaskHistory) TableName() string {
	return "task_histories"
}

func (h *TaskHistory) BeforeCreate(tx *gorm.DB) error {
	if h.ID == uuid.Nil {
		id, err := uuid.NewV4()
		if err != nil {
			return fmt.Errorf("generate history id: %w", err)
		}
		h.ID = id
	}
	if h.Timestamp.IsZero() {
		h.Timestamp = time.Now()
	}
	return nil
}

// Report holds a user's daily digest settings. TimeOfDay is "HH:MM" in UTC.
type Report struct {
	ID          uuid.UUID  `json:"id" gorm:"primaryKey;type:uuid"`
	UserID      uuid.UUID  `json:"user_id" gorm:"type:uuid;not null;uniqueIndex"`
	User        *User      `json:"-" gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE"`
	TimeOfDay   string     `json:"time" gorm:"size:5"`
	LastUpdated *time.Time `json:"last_updated"`
	Disabled    bool       `json:"disabled" gorm:"not null"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

func (r *Report) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		id, err := uuid.NewV4()
		if err != nil {
			return fmt.Errorf("generate report id: %w", err)
		}
		r.ID = id
	}
	return nil
}

func ParseTimeOfDay(value string) (hour, minute int, err error) {
	t, err := time.Parse("15:04", value)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid time of day %q: %w", value, err)
	}
	return t.Hour(), t.Minute(), nil
}

// NextStamp returns the last_updated value written after a digest goes out:
// today's date at the report's time of day.
func (r *Report) NextStamp(now time.Time) time.Time {
	now = now.UTC()
	hour, minute, err := ParseTimeOfDay(r.TimeOfDay)
	if err != nil {
		return now
	}
	return time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, time.UTC)
}

// IsDue reports whether today's digest has not gone out yet and its time has passed.
func (r *Report) IsDue(now time.Time) bool {
	if r.Disabled {
		return false
	}
	if _, _, err := ParseTimeOfDay(r.TimeOfDay); err != nil {
		return false
	}
	stamp := r.NextStamp(now)
	if now.UTC().Before(stamp) {
		return false
	}
	return r.LastUpdated == nil || r.LastUpdated.UTC().Before(stamp)
}
