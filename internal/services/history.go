package services

import (
	"context"
	"time"

	"task-tracker/internal/models"
	"task-tracker/internal/repositories"
)

type HistoryRecorder struct {
	now func() time.Time
}

func NewHistoryRecorder() *HistoryRecorder {
	return &HistoryRecorder{now: time.Now}
}

// Record appends a transition row when next carries a different status than
// prev. A nil prev is a new task and produces nothing. It reports whether a
// row was written.
func (h *HistoryRecorder) Record(ctx context.Context, tx repositories.TaskRepository, prev, next *models.Task) (bool, error) {
	if prev == nil || next == nil || prev.Status == next.Status {
		return false, nil
	}

	from := prev.Status
	entry := &models.TaskHistory{
		TaskID:     next.ID,
		FromStatus: &from,
		ToStatus:   next.Status,
		Timestamp:  h.now(),
	}
	if err := tx.CreateHistory(ctx, entry); err != nil {
		return false, err
	}
	return true, nil
}
