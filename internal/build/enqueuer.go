package build

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/k11v/pages/internal/logfields"
	"github.com/k11v/pages/internal/metrics"
)

// Queue hands queued tasks to workers.
type Queue interface {
	// SendTaskMessage returns nil only after the broker confirmed the message.
	SendTaskMessage(ctx context.Context, t *QueuedTask, priority int) error
}

type Enqueuer struct {
	database Database          // required
	queue    Queue             // required
	log      *slog.Logger      // required
	metrics  *metrics.Recorder // optional
}

func NewEnqueuer(database Database, queue Queue, log *slog.Logger, recorder *metrics.Recorder) *Enqueuer {
	if log == nil {
		log = slog.Default()
	}
	return &Enqueuer{
		database: database,
		queue:    queue,
		log:      log.With("component", "enqueuer"),
		metrics:  recorder,
	}
}

type EnqueuerEnqueueParams struct {
	TaskID int64
}

type EnqueuerEnqueueResult struct {
	Task     *QueuedTask
	Priority int
}

// Enqueue publishes a created task and moves it to queued.
//
// The task row stays locked from the status check until commit, so a second
// Enqueue of the same task waits and then fails with ErrTaskNotCreated instead
// of publishing twice. If publishing fails the task stays created.
func (e *Enqueuer) Enqueue(ctx context.Context, params *EnqueuerEnqueueParams) (*EnqueuerEnqueueResult, error) {
	result, err := e.enqueue(ctx, params.TaskID)
	e.metrics.IncTaskEnqueued(err)
	if err != nil {
		return nil, fmt.Errorf("build.Enqueuer: %w", err)
	}
	return result, nil
}

func (e *Enqueuer) enqueue(ctx context.Context, taskID int64) (*EnqueuerEnqueueResult, error) {
	tx, err := e.database.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	t, err := tx.GetTask(ctx, &DatabaseGetTaskParams{ID: taskID, ForUpdate: true})
	if err != nil {
		return nil, err
	}
	if t.Status != TaskStatusCreated {
		return nil, ErrTaskNotCreated
	}

	qt, err := tx.GetQueuedTask(ctx, &DatabaseGetTaskParams{ID: taskID})
	if err != nil {
		return nil, err
	}

	// Priority is a snapshot. Concurrent enqueues of sibling tasks
	// may compute the same value.
	ahead, err := tx.GetTaskCountAhead(ctx, &DatabaseGetTaskCountAheadParams{
		SiteID:   qt.Site.ID,
		TaskID:   qt.Task.ID,
		Statuses: PendingTaskStatuses,
	})
	if err != nil {
		return nil, err
	}
	priority := ahead + 1

	if err = e.queue.SendTaskMessage(ctx, qt, priority); err != nil {
		return nil, fmt.Errorf("send task message: %w", err)
	}

	// From here on the message is out and the store must follow.
	updated, err := tx.UpdateTaskStatus(ctx, &DatabaseUpdateTaskStatusParams{
		ID:   taskID,
		From: TaskStatusCreated,
		To:   TaskStatusQueued,
	})
	if err != nil {
		return nil, e.inconsistent(taskID, "update", err)
	}
	if err = tx.Commit(ctx); err != nil {
		return nil, e.inconsistent(taskID, "commit", err)
	}

	qt.Task = updated
	e.log.Info("enqueued task", logfields.TaskID(taskID), logfields.SiteID(qt.Site.ID), logfields.Priority(priority))
	return &EnqueuerEnqueueResult{Task: qt, Priority: priority}, nil
}

func (e *Enqueuer) inconsistent(taskID int64, op string, err error) error {
	e.metrics.IncInconsistency()
	e.log.Error(
		"task published but not marked queued",
		logfields.TaskID(taskID),
		"op", op,
		"severity", "inconsistent",
		logfields.Error(err),
	)
	return &InconsistencyError{TaskID: taskID, Op: op, Err: err}
}

// EnqueueOutcome is the settled result of enqueuing one task.
type EnqueueOutcome struct {
	TaskID   int64
	Priority int
	Err      error
}

// EnqueueAll enqueues tasks one by one in the given order and reports every
// outcome. Order matters because earlier tasks count towards the priority
// of later ones.
func (e *Enqueuer) EnqueueAll(ctx context.Context, taskIDs []int64) []EnqueueOutcome {
	outcomes := make([]EnqueueOutcome, 0, len(taskIDs))
	for _, id := range taskIDs {
		outcome := EnqueueOutcome{TaskID: id}
		result, err := e.Enqueue(ctx, &EnqueuerEnqueueParams{TaskID: id})
		if err != nil {
			outcome.Err = err
			if inconsistency := (*InconsistencyError)(nil); !errors.As(err, &inconsistency) {
				e.log.Warn("didn't enqueue task", logfields.TaskID(id), logfields.Error(err))
			}
		} else {
			outcome.Priority = result.Priority
		}
		outcomes = append(outcomes, outcome)
	}
	return outcomes
}
