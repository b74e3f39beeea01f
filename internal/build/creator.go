package build

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/k11v/pages/internal/logfields"
)

// TaskCreator materializes the tasks of a build from the configured task types.
type TaskCreator struct {
	database Database     // required
	log      *slog.Logger // required
}

func NewTaskCreator(database Database, log *slog.Logger) *TaskCreator {
	if log == nil {
		log = slog.Default()
	}
	return &TaskCreator{database: database, log: log.With("component", "task_creator")}
}

type TaskCreatorCreateParams struct {
	BuildID int64
}

// Create inserts one created task per task type. Task types that already
// have a task for the build are skipped, so Create can be retried.
func (c *TaskCreator) Create(ctx context.Context, params *TaskCreatorCreateParams) ([]*Task, error) {
	tx, err := c.database.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("build.TaskCreator: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	b, err := tx.GetBuild(ctx, &DatabaseGetBuildParams{ID: params.BuildID})
	if err != nil {
		return nil, fmt.Errorf("build.TaskCreator: %w", err)
	}

	taskTypes, err := tx.ListTaskTypes(ctx)
	if err != nil {
		return nil, fmt.Errorf("build.TaskCreator: %w", err)
	}
	if len(taskTypes) == 0 {
		return nil, fmt.Errorf("build.TaskCreator: %w", ErrNoTaskTypes)
	}

	tasks := make([]*Task, 0, len(taskTypes))
	for _, tt := range taskTypes {
		t, err := tx.CreateTask(ctx, &DatabaseCreateTaskParams{BuildID: b.ID, TypeID: tt.ID})
		if errors.Is(err, ErrTaskAlreadyExists) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("build.TaskCreator: %w", err)
		}
		tasks = append(tasks, t)
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("build.TaskCreator: %w", err)
	}

	c.log.Info("created tasks", logfields.BuildID(b.ID), "count", len(tasks))
	return tasks, nil
}
