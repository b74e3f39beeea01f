package build

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func newTestDatabase() *SpyDatabase {
	d := NewSpyDatabase()
	d.Sites[1] = &Site{ID: 1, Owner: "octo", Repository: "pages"}
	d.Sites[2] = &Site{ID: 2, Owner: "octo", Repository: "other"}
	d.Builds[1] = &Build{ID: 1, SiteID: 1, Branch: "main", State: StateCreated}
	d.Builds[2] = &Build{ID: 2, SiteID: 2, Branch: "main", State: StateCreated}
	return d
}

func addTask(d *SpyDatabase, id, buildID int64, status TaskStatus) {
	d.Tasks[id] = &Task{ID: id, BuildID: buildID, TypeID: id, Status: status}
}

func TestEnqueuerEnqueue(t *testing.T) {
	ctx := context.Background()
	log := slog.New(slog.DiscardHandler)

	t.Run("enqueues a created task", func(t *testing.T) {
		d := newTestDatabase()
		addTask(d, 1, 1, TaskStatusCreated)
		q := &StubQueue{}

		result, err := NewEnqueuer(d, q, log, nil).Enqueue(ctx, &EnqueuerEnqueueParams{TaskID: 1})
		if err != nil {
			t.Fatalf("didn't want %q", err)
		}

		if got, want := result.Priority, 1; got != want {
			t.Errorf("got priority %d, want %d", got, want)
		}
		if got, want := result.Task.Task.Status, TaskStatusQueued; got != want {
			t.Errorf("got result status %s, want %s", got, want)
		}
		if got, want := d.Tasks[1].Status, TaskStatusQueued; got != want {
			t.Errorf("got stored status %s, want %s", got, want)
		}

		sent := q.Sent()
		if len(sent) != 1 {
			t.Fatalf("got %d messages, want 1", len(sent))
		}
		if got, want := sent[0].Task.Site.ID, int64(1); got != want {
			t.Errorf("got site id %d, want %d", got, want)
		}
		if got, want := sent[0].Task.Build.Branch, "main"; got != want {
			t.Errorf("got branch %q, want %q", got, want)
		}
	})

	t.Run("counts pending tasks ahead on the same site", func(t *testing.T) {
		d := newTestDatabase()
		addTask(d, 1, 1, TaskStatusCreated)
		addTask(d, 2, 1, TaskStatusQueued)
		addTask(d, 3, 1, TaskStatusProcessing)
		addTask(d, 4, 1, TaskStatusSuccess)
		addTask(d, 5, 1, TaskStatusError)
		addTask(d, 6, 2, TaskStatusCreated)
		addTask(d, 7, 1, TaskStatusCreated)
		addTask(d, 8, 1, TaskStatusCreated)
		q := &StubQueue{}

		result, err := NewEnqueuer(d, q, log, nil).Enqueue(ctx, &EnqueuerEnqueueParams{TaskID: 7})
		if err != nil {
			t.Fatalf("didn't want %q", err)
		}

		if got, want := result.Priority, 4; got != want {
			t.Errorf("got priority %d, want %d", got, want)
		}
		if got, want := q.Sent()[0].Priority, 4; got != want {
			t.Errorf("got message priority %d, want %d", got, want)
		}
	})

	t.Run("doesn't enqueue a task that isn't created", func(t *testing.T) {
		for _, status := range []TaskStatus{TaskStatusQueued, TaskStatusProcessing, TaskStatusSuccess, TaskStatusError} {
			t.Run(string(status), func(t *testing.T) {
				d := newTestDatabase()
				addTask(d, 1, 1, status)
				q := &StubQueue{}

				_, err := NewEnqueuer(d, q, log, nil).Enqueue(ctx, &EnqueuerEnqueueParams{TaskID: 1})
				if !errors.Is(err, ErrTaskNotCreated) {
					t.Fatalf("got %v, want %v", err, ErrTaskNotCreated)
				}
				if got := len(q.Sent()); got != 0 {
					t.Errorf("got %d messages, want 0", got)
				}
				if got := d.Tasks[1].Status; got != status {
					t.Errorf("got status %s, want %s", got, status)
				}
			})
		}
	})

	t.Run("doesn't publish twice", func(t *testing.T) {
		d := newTestDatabase()
		addTask(d, 1, 1, TaskStatusCreated)
		q := &StubQueue{}
		e := NewEnqueuer(d, q, log, nil)

		if _, err := e.Enqueue(ctx, &EnqueuerEnqueueParams{TaskID: 1}); err != nil {
			t.Fatalf("didn't want %q", err)
		}
		_, err := e.Enqueue(ctx, &EnqueuerEnqueueParams{TaskID: 1})
		if !errors.Is(err, ErrTaskNotCreated) {
			t.Fatalf("got %v, want %v", err, ErrTaskNotCreated)
		}
		if got := len(q.Sent()); got != 1 {
			t.Errorf("got %d messages, want 1", got)
		}
	})

	t.Run("returns not found for an unknown task", func(t *testing.T) {
		d := newTestDatabase()
		q := &StubQueue{}

		_, err := NewEnqueuer(d, q, log, nil).Enqueue(ctx, &EnqueuerEnqueueParams{TaskID: 42})
		if !errors.Is(err, ErrNotFound) {
			t.Fatalf("got %v, want %v", err, ErrNotFound)
		}
	})

	t.Run("leaves the task created when publishing fails", func(t *testing.T) {
		d := newTestDatabase()
		addTask(d, 1, 1, TaskStatusCreated)
		errBroker := errors.New("broker unavailable")
		q := &StubQueue{Err: errBroker}

		_, err := NewEnqueuer(d, q, log, nil).Enqueue(ctx, &EnqueuerEnqueueParams{TaskID: 1})
		if !errors.Is(err, errBroker) {
			t.Fatalf("got %v, want %v", err, errBroker)
		}
		var inconsistency *InconsistencyError
		if errors.As(err, &inconsistency) {
			t.Errorf("didn't want inconsistency %q", inconsistency)
		}
		if got, want := d.Tasks[1].Status, TaskStatusCreated; got != want {
			t.Errorf("got status %s, want %s", got, want)
		}

		wantCalls := []string{callBegin, callGetTask, callGetQueuedTask, callGetTaskCountAhead, callRollback}
		if diff := cmp.Diff(wantCalls, d.Calls()); diff != "" {
			t.Errorf("calls mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("reports an inconsistency when the update fails after publishing", func(t *testing.T) {
		d := newTestDatabase()
		addTask(d, 1, 1, TaskStatusCreated)
		errUpdate := errors.New("connection reset")
		d.UpdateTaskStatusErr = errUpdate
		q := &StubQueue{}

		_, err := NewEnqueuer(d, q, log, nil).Enqueue(ctx, &EnqueuerEnqueueParams{TaskID: 1})
		var inconsistency *InconsistencyError
		if !errors.As(err, &inconsistency) {
			t.Fatalf("got %v, want inconsistency", err)
		}
		if got, want := inconsistency.TaskID, int64(1); got != want {
			t.Errorf("got task id %d, want %d", got, want)
		}
		if got, want := inconsistency.Op, "update"; got != want {
			t.Errorf("got op %q, want %q", got, want)
		}
		if !errors.Is(err, errUpdate) {
			t.Errorf("got %v, want it to wrap %v", err, errUpdate)
		}
		if got := len(q.Sent()); got != 1 {
			t.Errorf("got %d messages, want 1", got)
		}
	})

	t.Run("reports an inconsistency when the commit fails after publishing", func(t *testing.T) {
		d := newTestDatabase()
		addTask(d, 1, 1, TaskStatusCreated)
		d.CommitErr = errors.New("connection reset")
		q := &StubQueue{}

		_, err := NewEnqueuer(d, q, log, nil).Enqueue(ctx, &EnqueuerEnqueueParams{TaskID: 1})
		var inconsistency *InconsistencyError
		if !errors.As(err, &inconsistency) {
			t.Fatalf("got %v, want inconsistency", err)
		}
		if got, want := inconsistency.Op, "commit"; got != want {
			t.Errorf("got op %q, want %q", got, want)
		}
	})
}

func TestEnqueuerEnqueueAll(t *testing.T) {
	ctx := context.Background()
	log := slog.New(slog.DiscardHandler)

	d := newTestDatabase()
	addTask(d, 1, 1, TaskStatusCreated)
	addTask(d, 2, 1, TaskStatusCreated)
	addTask(d, 3, 1, TaskStatusSuccess)
	addTask(d, 4, 1, TaskStatusCreated)
	q := &StubQueue{}

	outcomes := NewEnqueuer(d, q, log, nil).EnqueueAll(ctx, []int64{1, 2, 3, 4})

	if len(outcomes) != 4 {
		t.Fatalf("got %d outcomes, want 4", len(outcomes))
	}
	for i, want := range []int{1, 2, 0, 3} {
		if got := outcomes[i].Priority; got != want {
			t.Errorf("got outcomes[%d].Priority %d, want %d", i, got, want)
		}
	}
	if !errors.Is(outcomes[2].Err, ErrTaskNotCreated) {
		t.Errorf("got outcomes[2].Err %v, want %v", outcomes[2].Err, ErrTaskNotCreated)
	}
	for _, i := range []int{0, 1, 3} {
		if outcomes[i].Err != nil {
			t.Errorf("didn't want outcomes[%d].Err %q", i, outcomes[i].Err)
		}
	}
	if got := len(q.Sent()); got != 3 {
		t.Errorf("got %d messages, want 3", got)
	}
}
