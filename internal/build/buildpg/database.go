package buildpg

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/k11v/pages/internal/build"
)

// Querier is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type Querier interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

var _ build.Database = (*Database)(nil)

type Database struct {
	db Querier // required
}

func NewDatabase(db Querier) *Database {
	return &Database{db: db}
}

// Begin implements build.Database.
func (d *Database) Begin(ctx context.Context) (build.DatabaseTx, error) {
	pgxTx, err := d.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	return newDatabaseTx(pgxTx), nil
}

const buildColumns = `
	b.id, b.site_id, b.branch, b.state, b.error,
	b.started_at, b.completed_at, b.created_at, b.updated_at
`

const taskColumns = `
	t.id, t.build_id, t.build_task_type_id, t.status, t.created_at, t.updated_at
`

// GetBuild implements build.Database.
func (d *Database) GetBuild(ctx context.Context, params *build.DatabaseGetBuildParams) (*build.Build, error) {
	query := `SELECT ` + buildColumns + ` FROM builds b WHERE b.id = $1`
	args := []any{params.ID}

	rows, _ := d.db.Query(ctx, query, args...)
	b, err := pgx.CollectExactlyOneRow(rows, rowToBuild)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, build.ErrNotFound
	} else if err != nil {
		return nil, fmt.Errorf("get build: %w", err)
	}

	return b, nil
}

// GetTask implements build.Database.
func (d *Database) GetTask(ctx context.Context, params *build.DatabaseGetTaskParams) (*build.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM build_tasks t WHERE t.id = $1`
	if params.ForUpdate {
		query += ` FOR UPDATE`
	}
	args := []any{params.ID}

	rows, _ := d.db.Query(ctx, query, args...)
	t, err := pgx.CollectExactlyOneRow(rows, rowToTask)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, build.ErrNotFound
	} else if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}

	return t, nil
}

// GetQueuedTask implements build.Database.
func (d *Database) GetQueuedTask(ctx context.Context, params *build.DatabaseGetTaskParams) (*build.QueuedTask, error) {
	query := `
		SELECT
			t.id, t.build_id, t.build_task_type_id, t.status, t.created_at, t.updated_at,
			b.site_id, b.branch, b.state AS build_state, b.error AS build_error,
			b.started_at AS build_started_at, b.completed_at AS build_completed_at,
			b.created_at AS build_created_at, b.updated_at AS build_updated_at,
			s.owner AS site_owner, s.repository AS site_repository, s.default_branch AS site_default_branch
		FROM build_tasks t
		JOIN builds b ON b.id = t.build_id
		JOIN sites s ON s.id = b.site_id
		WHERE t.id = $1
	`
	if params.ForUpdate {
		query += ` FOR UPDATE OF t`
	}
	args := []any{params.ID}

	rows, _ := d.db.Query(ctx, query, args...)
	qt, err := pgx.CollectExactlyOneRow(rows, rowToQueuedTask)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, build.ErrNotFound
	} else if err != nil {
		return nil, fmt.Errorf("get queued task: %w", err)
	}

	return qt, nil
}

// GetTaskCountAhead implements build.Database.
func (d *Database) GetTaskCountAhead(ctx context.Context, params *build.DatabaseGetTaskCountAheadParams) (int, error) {
	query := `
		SELECT count(*)
		FROM build_tasks t
		JOIN builds b ON b.id = t.build_id
		WHERE b.site_id = $1 AND t.id < $2 AND t.status = ANY($3)
	`
	statuses := make([]string, len(params.Statuses))
	for i, s := range params.Statuses {
		statuses[i] = string(s)
	}
	args := []any{params.SiteID, params.TaskID, statuses}

	rows, _ := d.db.Query(ctx, query, args...)
	count, err := pgx.CollectExactlyOneRow(rows, pgx.RowTo[int])
	if err != nil {
		return 0, fmt.Errorf("get task count ahead: %w", err)
	}

	return count, nil
}

// ListTaskTypes implements build.Database.
func (d *Database) ListTaskTypes(ctx context.Context) ([]*build.TaskType, error) {
	query := `
		SELECT id, name, description, runner
		FROM build_task_types
		ORDER BY id
	`

	rows, _ := d.db.Query(ctx, query)
	taskTypes, err := pgx.CollectRows(rows, rowToTaskType)
	if err != nil {
		return nil, fmt.Errorf("list task types: %w", err)
	}

	return taskTypes, nil
}

// CreateTask implements build.Database.
// It returns build.ErrTaskAlreadyExists without aborting the surrounding
// transaction if the build already has a task of that type.
func (d *Database) CreateTask(ctx context.Context, params *build.DatabaseCreateTaskParams) (*build.Task, error) {
	query := `
		INSERT INTO build_tasks AS t (build_id, build_task_type_id, status)
		VALUES ($1, $2, $3)
		ON CONFLICT (build_id, build_task_type_id) DO NOTHING
		RETURNING ` + taskColumns
	args := []any{params.BuildID, params.TypeID, string(build.TaskStatusCreated)}

	rows, _ := d.db.Query(ctx, query, args...)
	t, err := pgx.CollectExactlyOneRow(rows, rowToTask)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, build.ErrTaskAlreadyExists
	}
	if pgErr := (*pgconn.PgError)(nil); errors.As(err, &pgErr) && pgErr.Code == pgerrcode.ForeignKeyViolation {
		return nil, build.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}

	return t, nil
}

// UpdateTaskStatus implements build.Database.
func (d *Database) UpdateTaskStatus(ctx context.Context, params *build.DatabaseUpdateTaskStatusParams) (*build.Task, error) {
	query := `
		UPDATE build_tasks AS t
		SET status = $3, updated_at = now()
		WHERE t.id = $1 AND t.status = $2
		RETURNING ` + taskColumns
	args := []any{params.ID, string(params.From), string(params.To)}

	rows, _ := d.db.Query(ctx, query, args...)
	t, err := pgx.CollectExactlyOneRow(rows, rowToTask)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, build.ErrConflict
	} else if err != nil {
		return nil, fmt.Errorf("update task status: %w", err)
	}

	return t, nil
}

// TimeoutBuilds implements build.Database.
//
// Both rules are evaluated by a single statement so that a build can't be
// picked up by one rule and changed by a worker before the other runs.
func (d *Database) TimeoutBuilds(ctx context.Context, params *build.DatabaseTimeoutBuildsParams) ([]*build.Build, error) {
	query := `
		UPDATE builds AS b
		SET state = $1, error = $2, completed_at = $3, updated_at = $3
		WHERE (b.state = $4 AND b.started_at < $5)
			OR (b.state = $6 AND b.updated_at < $7)
		RETURNING ` + buildColumns
	args := []any{
		string(build.StateError), params.Error, params.Now,
		string(build.StateProcessing), params.ProcessingStartedBefore,
		string(build.StateTasked), params.TaskedUpdatedBefore,
	}

	rows, _ := d.db.Query(ctx, query, args...)
	builds, err := pgx.CollectRows(rows, rowToBuild)
	if err != nil {
		return nil, fmt.Errorf("timeout builds: %w", err)
	}

	return builds, nil
}
