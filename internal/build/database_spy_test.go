package build

import (
	"context"
	"slices"
	"sync"
)

const (
	callBegin             = "Begin"
	callCommit            = "Commit"
	callRollback          = "Rollback"
	callGetBuild          = "GetBuild"
	callGetTask           = "GetTask"
	callGetQueuedTask     = "GetQueuedTask"
	callGetTaskCountAhead = "GetTaskCountAhead"
	callListTaskTypes     = "ListTaskTypes"
	callCreateTask        = "CreateTask"
	callUpdateTaskStatus  = "UpdateTaskStatus"
	callTimeoutBuilds     = "TimeoutBuilds"
)

var _ Database = (*SpyDatabase)(nil)

// SpyDatabase keeps entities in memory and records calls.
// Writes made through a transaction are applied on commit.
type SpyDatabase struct {
	Builds    map[int64]*Build
	Sites     map[int64]*Site
	Tasks     map[int64]*Task
	TaskTypes []*TaskType

	UpdateTaskStatusErr error
	CommitErr           error
	TimeoutBuildsErr    error

	mu    sync.Mutex
	calls []string
}

func NewSpyDatabase() *SpyDatabase {
	return &SpyDatabase{
		Builds: make(map[int64]*Build),
		Sites:  make(map[int64]*Site),
		Tasks:  make(map[int64]*Task),
	}
}

func (d *SpyDatabase) Calls() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.calls)
}

func (d *SpyDatabase) appendCalls(c ...string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, c...)
}

func (d *SpyDatabase) Begin(ctx context.Context) (DatabaseTx, error) {
	d.appendCalls(callBegin)
	return &SpyDatabaseTx{SpyDatabase: d}, nil
}

func (d *SpyDatabase) GetBuild(ctx context.Context, params *DatabaseGetBuildParams) (*Build, error) {
	d.appendCalls(callGetBuild)
	b, ok := d.Builds[params.ID]
	if !ok {
		return nil, ErrNotFound
	}
	c := *b
	return &c, nil
}

func (d *SpyDatabase) GetTask(ctx context.Context, params *DatabaseGetTaskParams) (*Task, error) {
	d.appendCalls(callGetTask)
	t, ok := d.Tasks[params.ID]
	if !ok {
		return nil, ErrNotFound
	}
	c := *t
	return &c, nil
}

func (d *SpyDatabase) GetQueuedTask(ctx context.Context, params *DatabaseGetTaskParams) (*QueuedTask, error) {
	d.appendCalls(callGetQueuedTask)
	t, ok := d.Tasks[params.ID]
	if !ok {
		return nil, ErrNotFound
	}
	b := d.Builds[t.BuildID]
	s := d.Sites[b.SiteID]
	tc, bc, sc := *t, *b, *s
	return &QueuedTask{Task: &tc, Build: &bc, Site: &sc}, nil
}

func (d *SpyDatabase) GetTaskCountAhead(ctx context.Context, params *DatabaseGetTaskCountAheadParams) (int, error) {
	d.appendCalls(callGetTaskCountAhead)
	count := 0
	for _, t := range d.Tasks {
		b := d.Builds[t.BuildID]
		if b.SiteID == params.SiteID && t.ID < params.TaskID && slices.Contains(params.Statuses, t.Status) {
			count++
		}
	}
	return count, nil
}

func (d *SpyDatabase) ListTaskTypes(ctx context.Context) ([]*TaskType, error) {
	d.appendCalls(callListTaskTypes)
	return d.TaskTypes, nil
}

func (d *SpyDatabase) CreateTask(ctx context.Context, params *DatabaseCreateTaskParams) (*Task, error) {
	d.appendCalls(callCreateTask)
	return d.createTask(params)
}

func (d *SpyDatabase) createTask(params *DatabaseCreateTaskParams) (*Task, error) {
	var maxID int64
	for _, t := range d.Tasks {
		if t.BuildID == params.BuildID && t.TypeID == params.TypeID {
			return nil, ErrTaskAlreadyExists
		}
		maxID = max(maxID, t.ID)
	}
	t := &Task{ID: maxID + 1, BuildID: params.BuildID, TypeID: params.TypeID, Status: TaskStatusCreated}
	d.Tasks[t.ID] = t
	c := *t
	return &c, nil
}

func (d *SpyDatabase) UpdateTaskStatus(ctx context.Context, params *DatabaseUpdateTaskStatusParams) (*Task, error) {
	d.appendCalls(callUpdateTaskStatus)
	return d.updateTaskStatus(params)
}

func (d *SpyDatabase) updateTaskStatus(params *DatabaseUpdateTaskStatusParams) (*Task, error) {
	if d.UpdateTaskStatusErr != nil {
		return nil, d.UpdateTaskStatusErr
	}
	t, ok := d.Tasks[params.ID]
	if !ok || t.Status != params.From {
		return nil, ErrConflict
	}
	t.Status = params.To
	c := *t
	return &c, nil
}

func (d *SpyDatabase) TimeoutBuilds(ctx context.Context, params *DatabaseTimeoutBuildsParams) ([]*Build, error) {
	d.appendCalls(callTimeoutBuilds)
	if d.TimeoutBuildsErr != nil {
		return nil, d.TimeoutBuildsErr
	}
	var builds []*Build
	for _, b := range d.Builds {
		processingExpired := b.State == StateProcessing && b.StartedAt != nil && b.StartedAt.Before(params.ProcessingStartedBefore)
		taskedExpired := b.State == StateTasked && b.UpdatedAt.Before(params.TaskedUpdatedBefore)
		if !processingExpired && !taskedExpired {
			continue
		}
		now := params.Now
		b.State = StateError
		b.Error = params.Error
		b.CompletedAt = &now
		b.UpdatedAt = now
		c := *b
		builds = append(builds, &c)
	}
	return builds, nil
}

// SpyDatabaseTx reads committed state and buffers writes until Commit.
type SpyDatabaseTx struct {
	*SpyDatabase
	writes []func()
	closed bool
}

func (tx *SpyDatabaseTx) CreateTask(ctx context.Context, params *DatabaseCreateTaskParams) (*Task, error) {
	tx.appendCalls(callCreateTask)
	return tx.createTask(params)
}

func (tx *SpyDatabaseTx) UpdateTaskStatus(ctx context.Context, params *DatabaseUpdateTaskStatusParams) (*Task, error) {
	tx.appendCalls(callUpdateTaskStatus)
	if tx.UpdateTaskStatusErr != nil {
		return nil, tx.UpdateTaskStatusErr
	}
	t, ok := tx.Tasks[params.ID]
	if !ok || t.Status != params.From {
		return nil, ErrConflict
	}
	tx.writes = append(tx.writes, func() {
		_, _ = tx.updateTaskStatus(params)
	})
	c := *t
	c.Status = params.To
	return &c, nil
}

func (tx *SpyDatabaseTx) Commit(ctx context.Context) error {
	if tx.closed {
		return ErrTxAlreadyClosed
	}
	tx.closed = true
	if tx.CommitErr != nil {
		return tx.CommitErr
	}
	for _, w := range tx.writes {
		w()
	}
	tx.appendCalls(callCommit)
	return nil
}

func (tx *SpyDatabaseTx) Rollback(ctx context.Context) error {
	if tx.closed {
		return ErrTxAlreadyClosed
	}
	tx.closed = true
	tx.appendCalls(callRollback)
	return nil
}
