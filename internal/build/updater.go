package build

import (
	"context"
	"fmt"
)

// TaskUpdater applies status changes reported by workers.
type TaskUpdater struct {
	database Database // required
}

func NewTaskUpdater(database Database) *TaskUpdater {
	return &TaskUpdater{database: database}
}

type TaskUpdaterUpdateStatusParams struct {
	ID     int64
	Status TaskStatus
}

// UpdateStatus moves a task to a new status if the transition is allowed.
// The update is guarded by the status it was read with and returns
// ErrConflict if someone else changed the task in between.
func (u *TaskUpdater) UpdateStatus(ctx context.Context, params *TaskUpdaterUpdateStatusParams) (*Task, error) {
	t, err := u.database.GetTask(ctx, &DatabaseGetTaskParams{ID: params.ID})
	if err != nil {
		return nil, fmt.Errorf("build.TaskUpdater: %w", err)
	}

	if t.Status == params.Status {
		return t, nil
	}
	if !CanTransitionTask(t.Status, params.Status) {
		return nil, fmt.Errorf("build.TaskUpdater: %w: %s to %s", ErrInvalidTransition, t.Status, params.Status)
	}

	t, err = u.database.UpdateTaskStatus(ctx, &DatabaseUpdateTaskStatusParams{
		ID:   params.ID,
		From: t.Status,
		To:   params.Status,
	})
	if err != nil {
		return nil, fmt.Errorf("build.TaskUpdater: %w", err)
	}
	return t, nil
}
