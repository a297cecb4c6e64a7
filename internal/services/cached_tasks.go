package services

import (
	"context"
	"fmt"
	"log"
	"time"

	"task-tracker/internal/cache"
	"task-tracker/internal/models"
	"task-tracker/internal/repositories"

	"github.com/gofrs/uuid"
)

// CachedTaskService serves reads from the cache and drops every cached
// entry of an owner whenever one of their tasks changes. A cascade moves
// many tasks at once, so per-task invalidation would leave stale priorities.
type CachedTaskService struct {
	taskService TaskService
	cache       cache.Cache
	ttl         time.Duration
}

func NewCachedTaskService(taskService TaskService, cacheInstance cache.Cache, ttl time.Duration) *CachedTaskService {
	return &CachedTaskService{
		taskService: taskService,
		cache:       cacheInstance,
		ttl:         ttl,
	}
}

func ownerPattern(owner uuid.UUID) string {
	return fmt.Sprintf("tasks:%s:*", owner)
}

func listKey(owner uuid.UUID, view repositories.TaskView) string {
	return fmt.Sprintf("tasks:%s:list:%s", owner, view)
}

func taskKey(owner, id uuid.UUID) string {
	return fmt.Sprintf("tasks:%s:task:%s", owner, id)
}

func historyKey(owner, id uuid.UUID) string {
	return fmt.Sprintf("tasks:%s:history:%s", owner, id)
}

func (s *CachedTaskService) invalidate(ctx context.Context, owner uuid.UUID) {
	if err := s.cache.DeletePattern(ctx, ownerPattern(owner)); err != nil {
		log.Printf("Failed to invalidate task cache for user %s: %v", owner, err)
	}
}

func (s *CachedTaskService) store(ctx context.Context, key string, value interface{}) {
	if err := s.cache.Set(ctx, key, value, s.ttl); err != nil {
		log.Printf("Failed to cache %s: %v", key, err)
	}
}

func (s *CachedTaskService) CreateTask(ctx context.Context, owner uuid.UUID, fields TaskFields) (*models.Task, error) {
	task, err := s.taskService.CreateTask(ctx, owner, fields)
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, owner)
	return task, nil
}

func (s *CachedTaskService) UpdateTask(ctx context.Context, id, owner uuid.UUID, fields TaskFields) (*models.Task, error) {
	task, err := s.taskService.UpdateTask(ctx, id, owner, fields)
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, owner)
	return task, nil
}

func (s *CachedTaskService) DeleteTask(ctx context.Context, id, owner uuid.UUID) error {
	if err := s.taskService.DeleteTask(ctx, id, owner); err != nil {
		return err
	}
	s.invalidate(ctx, owner)
	return nil
}

func (s *CachedTaskService) GetTask(ctx context.Context, id, owner uuid.UUID) (*models.Task, error) {
	key := taskKey(owner, id)

	var cached models.Task
	if err := s.cache.Get(ctx, key, &cached); err == nil {
		return &cached, nil
	}

	task, err := s.taskService.GetTask(ctx, id, owner)
	if err != nil {
		return nil, err
	}
	s.store(ctx, key, task)
	return task, nil
}

func (s *CachedTaskService) ListTasks(ctx context.Context, owner uuid.UUID, view repositories.TaskView) (*TaskList, error) {
	key := listKey(owner, view)

	var cached TaskList
	if err := s.cache.Get(ctx, key, &cached); err == nil {
		return &cached, nil
	}

	list, err := s.taskService.ListTasks(ctx, owner, view)
	if err != nil {
		return nil, err
	}
	s.store(ctx, key, list)
	return list, nil
}

func (s *CachedTaskService) TaskHistory(ctx context.Context, id, owner uuid.UUID) ([]models.TaskHistory, error) {
	key := historyKey(owner, id)

	var cached []models.TaskHistory
	if err := s.cache.Get(ctx, key, &cached); err == nil {
		return cached, nil
	}

	history, err := s.taskService.TaskHistory(ctx, id, owner)
	if err != nil {
		return nil, err
	}
	s.store(ctx, key, history)
	return history, nil
}

func (s *CachedTaskService) GetCacheStats() map[string]interface{} {
	return s.cache.Stats()
}
