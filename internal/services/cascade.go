package services

import (
	"context"
	"log"

	"task-tracker/internal/models"
	"task-tracker/internal/repositories"

	"github.com/gofrs/uuid"
)

// CascadeEngine makes room for a task at a target priority by pushing the
// contiguous run of the owner's active tasks that starts there up by one.
type CascadeEngine struct{}

func NewCascadeEngine() *CascadeEngine {
	return &CascadeEngine{}
}

// ResolveCollision must be called with the repository of an open
// transaction. moving is the task being re-prioritised, if any: it never
// bumps itself and its current slot counts as free. It returns how many
// tasks were shifted.
func (e *CascadeEngine) ResolveCollision(ctx context.Context, tx repositories.TaskRepository, owner uuid.UUID, target int, moving *uuid.UUID) (int, error) {
	if err := tx.LockOwner(ctx, owner); err != nil {
		return 0, err
	}

	taken, err := tx.HasActiveAt(ctx, owner, target, moving)
	if err != nil {
		return 0, err
	}
	if !taken {
		return 0, nil
	}

	tasks, err := tx.LockActiveFrom(ctx, owner, target, moving)
	if err != nil {
		return 0, err
	}

	ids := contiguousRun(tasks, target)
	if err := tx.ShiftPriorities(ctx, ids); err != nil {
		return 0, err
	}

	log.Printf("Shifted %d tasks for user %s from priority %d", len(ids), owner, target)
	return len(ids), nil
}

// contiguousRun returns the ids of tasks, sorted by priority, that sit on
// target, target+1, ... without a gap. The walk ends at the first task whose
// priority is not the next expected slot, so of two tasks already sharing a
// slot only the first one moves.
func contiguousRun(tasks []models.Task, target int) []uuid.UUID {
	var ids []uuid.UUID
	counter := target
	for _, task := range tasks {
		if task.Priority != counter {
			break
		}
		ids = append(ids, task.ID)
		counter++
	}
	return ids
}
