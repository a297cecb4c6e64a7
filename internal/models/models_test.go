package models_test

import (
	"testing"
	"time"

	"task-tracker/internal/models"

	"github.com/gofrs/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskStatus_Valid(t *testing.T) {
	for _, status := range models.TaskStatuses {
		assert.True(t, status.Valid(), "status %s should be valid", status)
	}

	assert.False(t, models.TaskStatus("pending").Valid())
	assert.False(t, models.TaskStatus("").Valid())
	assert.False(t, models.TaskStatus("DONE").Valid())
}

func TestParseTaskStatus(t *testing.T) {
	status, err := models.ParseTaskStatus(" in_progress ")
	require.NoError(t, err)
	assert.Equal(t, models.StatusInProgress, status)

	_, err = models.ParseTaskStatus("archived")
	assert.Error(t, err)
}

func TestTask_BeforeCreateAssignsDefaults(t *testing.T) {
	task := models.Task{Title: "Write report", Priority: 1}

	require.NoError(t, task.BeforeCreate(nil))
	assert.NotEqual(t, uuid.Nil, task.ID)
	assert.Equal(t, models.StatusPending, task.Status)

	id := task.ID
	require.NoError(t, task.BeforeCreate(nil))
	assert.Equal(t, id, task.ID, "existing ids must not be replaced")
}

func TestTask_IsActive(t *testing.T) {
	tests := []struct {
		name      string
		completed bool
		deleted   bool
		expected  bool
	}{
		{"open", false, false, true},
		{"completed", true, false, false},
		{"deleted", false, true, false},
		{"completed and deleted", true, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			task := models.Task{Completed: tt.completed, Deleted: tt.deleted}
			assert.Equal(t, tt.expected, task.IsActive())
		})
	}
}

func TestTask_String(t *testing.T) {
	owner := uuid.Must(uuid.NewV4())
	task := models.Task{Title: "A", Priority: 3, UserID: owner}

	assert.Equal(t, "A: 3 | "+owner.String(), task.String())
}

func TestTaskHistory_BeforeCreateStampsTime(t *testing.T) {
	history := models.TaskHistory{TaskID: uuid.Must(uuid.NewV4()), ToStatus: models.StatusCompleted}

	require.NoError(t, history.BeforeCreate(nil))
	assert.NotEqual(t, uuid.Nil, history.ID)
	assert.False(t, history.Timestamp.IsZero())
}

func TestUser_DisplayName(t *testing.T) {
	assert.Equal(t, "Alice", (&models.User{Username: "aLICE"}).DisplayName())
	assert.Equal(t, "", (&models.User{}).DisplayName())
}

func TestToken_IsExpired(t *testing.T) {
	assert.True(t, (&models.Token{ExpiresAt: time.Now().Add(-time.Minute)}).IsExpired())
	assert.False(t, (&models.Token{ExpiresAt: time.Now().Add(time.Hour)}).IsExpired())
}

func TestParseTimeOfDay(t *testing.T) {
	hour, minute, err := models.ParseTimeOfDay("08:30")
	require.NoError(t, err)
	assert.Equal(t, 8, hour)
	assert.Equal(t, 30, minute)

	_, _, err = models.ParseTimeOfDay("25:00")
	assert.Error(t, err)
}

func TestReport_NextStamp(t *testing.T) {
	now := time.Date(2024, 5, 10, 17, 45, 12, 0, time.UTC)

	report := models.Report{TimeOfDay: "09:15"}
	assert.Equal(t, time.Date(2024, 5, 10, 9, 15, 0, 0, time.UTC), report.NextStamp(now))

	broken := models.Report{TimeOfDay: "soon"}
	assert.Equal(t, now, broken.NextStamp(now))
}

func TestReport_IsDue(t *testing.T) {
	now := time.Date(2024, 5, 10, 9, 30, 0, 0, time.UTC)
	yesterday := time.Date(2024, 5, 9, 9, 0, 0, 0, time.UTC)
	sentToday := time.Date(2024, 5, 10, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		report   models.Report
		expected bool
	}{
		{"never sent", models.Report{TimeOfDay: "09:00"}, true},
		{"sent yesterday", models.Report{TimeOfDay: "09:00", LastUpdated: &yesterday}, true},
		{"already sent today", models.Report{TimeOfDay: "09:00", LastUpdated: &sentToday}, false},
		{"later today", models.Report{TimeOfDay: "18:00"}, false},
		{"disabled", models.Report{TimeOfDay: "09:00", Disabled: true}, false},
		{"no time set", models.Report{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.report.IsDue(now))
		})
	}
}
