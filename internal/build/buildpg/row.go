package buildpg

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/k11v/pages/internal/build"
	"github.com/k11v/pages/internal/logfields"
)

type buildRow struct {
	ID          int64      `db:"id"`
	SiteID      int64      `db:"site_id"`
	Branch      string     `db:"branch"`
	State       string     `db:"state"`
	Error       string     `db:"error"`
	StartedAt   *time.Time `db:"started_at"`
	CompletedAt *time.Time `db:"completed_at"`
	CreatedAt   time.Time  `db:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at"`
}

func rowToBuild(collectableRow pgx.CollectableRow) (*build.Build, error) {
	r, err := pgx.RowToStructByName[buildRow](collectableRow)
	if err != nil {
		return nil, fmt.Errorf("row to build: %w", err)
	}
	return r.build(), nil
}

func (r *buildRow) build() *build.Build {
	state, known := build.ParseState(r.State)
	if !known {
		slog.Default().Warn("unknown state encountered while reading build", "state", r.State, logfields.BuildID(r.ID))
	}

	b := &build.Build{
		ID:          r.ID,
		SiteID:      r.SiteID,
		Branch:      r.Branch,
		State:       state,
		Error:       r.Error,
		StartedAt:   r.StartedAt,
		CompletedAt: r.CompletedAt,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
	if err := b.Validate(); err != nil {
		slog.Default().Warn("invalid build encountered", logfields.BuildID(r.ID), logfields.Error(err))
	}
	return b
}

type taskRow struct {
	ID        int64     `db:"id"`
	BuildID   int64     `db:"build_id"`
	TypeID    int64     `db:"build_task_type_id"`
	Status    string    `db:"status"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

func rowToTask(collectableRow pgx.CollectableRow) (*build.Task, error) {
	r, err := pgx.RowToStructByName[taskRow](collectableRow)
	if err != nil {
		return nil, fmt.Errorf("row to task: %w", err)
	}
	return r.task(), nil
}

func (r *taskRow) task() *build.Task {
	status, known := build.ParseTaskStatus(r.Status)
	if !known {
		slog.Default().Warn("unknown status encountered while reading task", "status", r.Status, logfields.TaskID(r.ID))
	}

	return &build.Task{
		ID:        r.ID,
		BuildID:   r.BuildID,
		TypeID:    r.TypeID,
		Status:    status,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

type queuedTaskRow struct {
	taskRow
	SiteID            int64      `db:"site_id"`
	Branch            string     `db:"branch"`
	BuildState        string     `db:"build_state"`
	BuildError        string     `db:"build_error"`
	BuildStartedAt    *time.Time `db:"build_started_at"`
	BuildCompletedAt  *time.Time `db:"build_completed_at"`
	BuildCreatedAt    time.Time  `db:"build_created_at"`
	BuildUpdatedAt    time.Time  `db:"build_updated_at"`
	SiteOwner         string     `db:"site_owner"`
	SiteRepository    string     `db:"site_repository"`
	SiteDefaultBranch string     `db:"site_default_branch"`
}

func rowToQueuedTask(collectableRow pgx.CollectableRow) (*build.QueuedTask, error) {
	r, err := pgx.RowToStructByName[queuedTaskRow](collectableRow)
	if err != nil {
		return nil, fmt.Errorf("row to queued task: %w", err)
	}

	b := (&buildRow{
		ID:          r.BuildID,
		SiteID:      r.SiteID,
		Branch:      r.Branch,
		State:       r.BuildState,
		Error:       r.BuildError,
		StartedAt:   r.BuildStartedAt,
		CompletedAt: r.BuildCompletedAt,
		CreatedAt:   r.BuildCreatedAt,
		UpdatedAt:   r.BuildUpdatedAt,
	}).build()

	return &build.QueuedTask{
		Task:  r.task(),
		Build: b,
		Site: &build.Site{
			ID:            r.SiteID,
			Owner:         r.SiteOwner,
			Repository:    r.SiteRepository,
			DefaultBranch: r.SiteDefaultBranch,
		},
	}, nil
}

type taskTypeRow struct {
	ID          int64  `db:"id"`
	Name        string `db:"name"`
	Description string `db:"description"`
	Runner      string `db:"runner"`
}

func rowToTaskType(collectableRow pgx.CollectableRow) (*build.TaskType, error) {
	r, err := pgx.RowToStructByName[taskTypeRow](collectableRow)
	if err != nil {
		return nil, fmt.Errorf("row to task type: %w", err)
	}
	return &build.TaskType{ID: r.ID, Name: r.Name, Description: r.Description, Runner: r.Runner}, nil
}
