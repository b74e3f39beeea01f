package build

import (
	"context"
	"time"
)

type Database interface {
	Begin(ctx context.Context) (DatabaseTx, error)
	GetBuild(ctx context.Context, params *DatabaseGetBuildParams) (*Build, error)
	GetTask(ctx context.Context, params *DatabaseGetTaskParams) (*Task, error)
	GetQueuedTask(ctx context.Context, params *DatabaseGetTaskParams) (*QueuedTask, error)
	GetTaskCountAhead(ctx context.Context, params *DatabaseGetTaskCountAheadParams) (int, error)
	ListTaskTypes(ctx context.Context) ([]*TaskType, error)
	CreateTask(ctx context.Context, params *DatabaseCreateTaskParams) (*Task, error)
	UpdateTaskStatus(ctx context.Context, params *DatabaseUpdateTaskStatusParams) (*Task, error)
	TimeoutBuilds(ctx context.Context, params *DatabaseTimeoutBuildsParams) ([]*Build, error)
}

type DatabaseTx interface {
	Database

	// Commit returns ErrTxAlreadyClosed if the transaction is already closed.
	Commit(ctx context.Context) error

	// Rollback returns ErrTxAlreadyClosed if the transaction is already closed.
	// It is safe to defer right after Begin.
	Rollback(ctx context.Context) error
}

type DatabaseGetBuildParams struct {
	ID int64
}

type DatabaseGetTaskParams struct {
	ID        int64
	ForUpdate bool // lock the task row until the transaction ends
}

type DatabaseGetTaskCountAheadParams struct {
	SiteID   int64
	TaskID   int64 // count tasks with a smaller ID
	Statuses []TaskStatus
}

type DatabaseCreateTaskParams struct {
	BuildID int64
	TypeID  int64
}

// DatabaseUpdateTaskStatusParams describes a status-guarded update.
// It returns ErrConflict if the task isn't in From status.
type DatabaseUpdateTaskStatusParams struct {
	ID   int64
	From TaskStatus
	To   TaskStatus
}

// DatabaseTimeoutBuildsParams describes the timeout bulk update.
// Builds matching either rule move to StateError in one statement.
type DatabaseTimeoutBuildsParams struct {
	Now                     time.Time
	ProcessingStartedBefore time.Time
	TaskedUpdatedBefore     time.Time
	Error                   string
}
