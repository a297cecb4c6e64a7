package repositories_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"task-tracker/internal/database"
	"task-tracker/internal/models"
	"task-tracker/internal/repositories"

	"github.com/gofrs/uuid"
	"github.com/stretchr/testify/suite"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("Failed to get underlying sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	if err := database.AutoMigrate(db); err != nil {
		t.Fatalf("Failed to migrate test database: %v", err)
	}
	return db
}

type TaskRepositoryTestSuite struct {
	suite.Suite
	db    *gorm.DB
	repo  *repositories.GormTaskRepository
	ctx   context.Context
	alice uuid.UUID
	bob   uuid.UUID
}

func (s *TaskRepositoryTestSuite) SetupTest() {
	s.db = setupTestDB(s.T())
	s.repo = repositories.NewTaskRepository(s.db)
	s.ctx = context.Background()
	s.alice = uuid.Must(uuid.NewV4())
	s.bob = uuid.Must(uuid.NewV4())
}

func (s *TaskRepositoryTestSuite) createTask(owner uuid.UUID, title string, priority int, mutate ...func(*models.Task)) *models.Task {
	task := &models.Task{UserID: owner, Title: title, Description: title, Priority: priority}
	for _, m := range mutate {
		m(task)
	}
	s.Require().NoError(s.repo.Create(s.ctx, task))
	return task
}

func completed(t *models.Task) { t.Completed = true }
func deleted(t *models.Task)   { t.Deleted = true }

func (s *TaskRepositoryTestSuite) TestCreateAndFind() {
	created := s.createTask(s.alice, "A", 1)

	s.NotEqual(uuid.Nil, created.ID)
	s.Equal(models.StatusPending, created.Status)
	s.False(created.CreatedAt.IsZero())

	found, err := s.repo.FindByID(s.ctx, created.ID)
	s.Require().NoError(err)
	s.Equal("A", found.Title)
	s.Equal(1, found.Priority)
	s.Equal(s.alice, found.UserID)

	locked, err := s.repo.FindByIDForUpdate(s.ctx, created.ID)
	s.Require().NoError(err)
	s.Equal(created.ID, locked.ID)
}

func (s *TaskRepositoryTestSuite) TestFindByID_NotFound() {
	_, err := s.repo.FindByID(s.ctx, uuid.Must(uuid.NewV4()))
	s.ErrorIs(err, repositories.ErrNotFound)
}

func (s *TaskRepositoryTestSuite) TestSave() {
	task := s.createTask(s.alice, "A", 1)
	createdAt := task.CreatedAt

	task.Title = "A2"
	task.Status = models.StatusInProgress
	s.Require().NoError(s.repo.Save(s.ctx, task))

	found, err := s.repo.FindByID(s.ctx, task.ID)
	s.Require().NoError(err)
	s.Equal("A2", found.Title)
	s.Equal(models.StatusInProgress, found.Status)
	s.True(createdAt.Equal(found.CreatedAt), "created date must not move on save")
}

func (s *TaskRepositoryTestSuite) TestHasActiveAt() {
	target := s.createTask(s.alice, "A", 1)
	s.createTask(s.alice, "done", 2, completed)
	s.createTask(s.alice, "gone", 3, deleted)
	s.createTask(s.bob, "other", 4)

	tests := []struct {
		name     string
		priority int
		exclude  *uuid.UUID
		expected bool
	}{
		{"active task", 1, nil, true},
		{"excluded task", 1, &target.ID, false},
		{"completed task", 2, nil, false},
		{"deleted task", 3, nil, false},
		{"other owner", 4, nil, false},
		{"empty slot", 5, nil, false},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			taken, err := s.repo.HasActiveAt(s.ctx, s.alice, tt.priority, tt.exclude)
			s.Require().NoError(err)
			s.Equal(tt.expected, taken)
		})
	}
}

func (s *TaskRepositoryTestSuite) TestLockActiveFrom_OrdersAndFilters() {
	s.createTask(s.alice, "low", 1)
	third := s.createTask(s.alice, "C", 4)
	first := s.createTask(s.alice, "A", 2)
	second := s.createTask(s.alice, "B", 3)
	s.createTask(s.alice, "done", 2, completed)
	s.createTask(s.alice, "gone", 3, deleted)
	s.createTask(s.bob, "other", 2)

	tasks, err := s.repo.LockActiveFrom(s.ctx, s.alice, 2, nil)
	s.Require().NoError(err)
	s.Require().Len(tasks, 3)
	s.Equal(first.ID, tasks[0].ID)
	s.Equal(second.ID, tasks[1].ID)
	s.Equal(third.ID, tasks[2].ID)

	tasks, err = s.repo.LockActiveFrom(s.ctx, s.alice, 2, &second.ID)
	s.Require().NoError(err)
	s.Require().Len(tasks, 2)
	s.Equal(first.ID, tasks[0].ID)
	s.Equal(third.ID, tasks[1].ID)
}

func (s *TaskRepositoryTestSuite) TestShiftPriorities() {
	a := s.createTask(s.alice, "A", 1)
	b := s.createTask(s.alice, "B", 2)
	c := s.createTask(s.alice, "C", 5)

	s.Require().NoError(s.repo.ShiftPriorities(s.ctx, []uuid.UUID{a.ID, b.ID}))

	for id, expected := range map[uuid.UUID]int{a.ID: 2, b.ID: 3, c.ID: 5} {
		found, err := s.repo.FindByID(s.ctx, id)
		s.Require().NoError(err)
		s.Equal(expected, found.Priority)
	}

	s.NoError(s.repo.ShiftPriorities(s.ctx, nil))
}

func (s *TaskRepositoryTestSuite) TestShiftPriorities_MissingTask() {
	a := s.createTask(s.alice, "A", 1)

	err := s.repo.ShiftPriorities(s.ctx, []uuid.UUID{a.ID, uuid.Must(uuid.NewV4())})
	s.Error(err)
}

func (s *TaskRepositoryTestSuite) TestListViews() {
	open2 := s.createTask(s.alice, "open2", 2)
	open1 := s.createTask(s.alice, "open1", 1)
	done := s.createTask(s.alice, "done", 1, completed)
	s.createTask(s.alice, "gone", 3, deleted)
	s.createTask(s.bob, "other", 1)

	current, err := s.repo.List(s.ctx, repositories.TaskFilter{UserID: s.alice, View: repositories.ViewCurrent})
	s.Require().NoError(err)
	s.Require().Len(current, 2)
	s.Equal(open1.ID, current[0].ID)
	s.Equal(open2.ID, current[1].ID)

	completedTasks, err := s.repo.List(s.ctx, repositories.TaskFilter{UserID: s.alice, View: repositories.ViewCompleted})
	s.Require().NoError(err)
	s.Require().Len(completedTasks, 1)
	s.Equal(done.ID, completedTasks[0].ID)

	all, err := s.repo.List(s.ctx, repositories.TaskFilter{UserID: s.alice, View: repositories.ViewAll})
	s.Require().NoError(err)
	s.Require().Len(all, 3)
	s.Equal(done.ID, all[2].ID, "completed tasks are listed after open ones")

	count, err := s.repo.Count(s.ctx, repositories.TaskFilter{UserID: s.alice, View: repositories.ViewAll})
	s.Require().NoError(err)
	s.Equal(int64(3), count)
}

func (s *TaskRepositoryTestSuite) TestCountByStatus() {
	s.createTask(s.alice, "A", 1)
	s.createTask(s.alice, "B", 2)
	s.createTask(s.alice, "C", 3, func(t *models.Task) { t.Status = models.StatusInProgress })
	s.createTask(s.alice, "D", 4, completed)
	s.createTask(s.alice, "E", 5, deleted)
	s.createTask(s.bob, "F", 1)

	counts, err := s.repo.CountByStatus(s.ctx, s.alice)
	s.Require().NoError(err)
	s.Equal(map[models.TaskStatus]int64{
		models.StatusPending:    2,
		models.StatusInProgress: 1,
	}, counts)
}

func (s *TaskRepositoryTestSuite) TestHistory() {
	task := s.createTask(s.alice, "A", 1)
	from := models.StatusPending

	s.Require().NoError(s.repo.CreateHistory(s.ctx, &models.TaskHistory{TaskID: task.ID, FromStatus: &from, ToStatus: models.StatusInProgress}))
	s.Require().NoError(s.repo.CreateHistory(s.ctx, &models.TaskHistory{TaskID: task.ID, ToStatus: models.StatusCompleted}))

	history, err := s.repo.ListHistory(s.ctx, task.ID)
	s.Require().NoError(err)
	s.Require().Len(history, 2)
	s.Equal(models.StatusInProgress, history[0].ToStatus)
	s.Require().NotNil(history[0].FromStatus)
	s.Equal(models.StatusPending, *history[0].FromStatus)
	s.Nil(history[1].FromStatus)
	s.Equal(int64(1), history[0].Seq)
	s.Equal(int64(2), history[1].Seq)
}

func (s *TaskRepositoryTestSuite) TestHistory_SameTimestampKeepsWriteOrder() {
	task := s.createTask(s.alice, "A", 1)
	stamp := time.Date(2024, 5, 10, 9, 0, 0, 0, time.UTC)

	statuses := []models.TaskStatus{models.StatusInProgress, models.StatusPending, models.StatusCompleted, models.StatusCancelled}
	for _, status := range statuses {
		s.Require().NoError(s.repo.CreateHistory(s.ctx, &models.TaskHistory{TaskID: task.ID, ToStatus: status, Timestamp: stamp}))
	}

	other := s.createTask(s.alice, "B", 2)
	s.Require().NoError(s.repo.CreateHistory(s.ctx, &models.TaskHistory{TaskID: other.ID, ToStatus: models.StatusCompleted, Timestamp: stamp}))

	history, err := s.repo.ListHistory(s.ctx, task.ID)
	s.Require().NoError(err)
	s.Require().Len(history, len(statuses))
	for i, entry := range history {
		s.Equal(statuses[i], entry.ToStatus)
		s.Equal(int64(i+1), entry.Seq)
	}

	history, err = s.repo.ListHistory(s.ctx, other.ID)
	s.Require().NoError(err)
	s.Require().Len(history, 1)
	s.Equal(int64(1), history[0].Seq, "sequence is per task")
}

func (s *TaskRepositoryTestSuite) TestWithTx_RollsBackOnError() {
	boom := errors.New("boom")

	err := s.repo.WithTx(s.ctx, func(tx repositories.TaskRepository) error {
		s.Require().NoError(tx.LockOwner(s.ctx, s.alice))
		s.Require().NoError(tx.Create(s.ctx, &models.Task{UserID: s.alice, Title: "A", Priority: 1}))
		return boom
	})
	s.ErrorIs(err, boom)

	count, err := s.repo.Count(s.ctx, repositories.TaskFilter{UserID: s.alice, View: repositories.ViewAll})
	s.Require().NoError(err)
	s.Zero(count)
}

func (s *TaskRepositoryTestSuite) TestWithTx_Commits() {
	err := s.repo.WithTx(s.ctx, func(tx repositories.TaskRepository) error {
		return tx.Create(s.ctx, &models.Task{UserID: s.alice, Title: "A", Priority: 1})
	})
	s.Require().NoError(err)

	taken, err := s.repo.HasActiveAt(s.ctx, s.alice, 1, nil)
	s.Require().NoError(err)
	s.True(taken)
}

func TestTaskRepositoryTestSuite(t *testing.T) {
	suite.Run(t, new(TaskRepositoryTestSuite))
}

func TestParseTaskView(t *testing.T) {
	tests := []struct {
		input    string
		expected repositories.TaskView
		wantErr  bool
	}{
		{"", repositories.ViewCurrent, false},
		{"current", repositories.ViewCurrent, false},
		{"completed", repositories.ViewCompleted, false},
		{"all", repositories.ViewAll, false},
		{"archived", "", true},
	}

	for _, tt := range tests {
		view, err := repositories.ParseTaskView(tt.input)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseTaskView(%q) expected error", tt.input)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseTaskView(%q) unexpected error: %v", tt.input, err)
		}
		if view != tt.expected {
			t.Errorf("ParseTaskView(%q) = %q, want %q", tt.input, view, tt.expected)
		}
	}
}
