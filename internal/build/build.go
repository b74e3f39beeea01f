package build

import (
	"fmt"
	"time"
)

// Build is one attempt to publish a site from a branch.
type Build struct {
	ID          int64
	SiteID      int64
	Branch      string
	State       State
	Error       string
	StartedAt   *time.Time
	CompletedAt *time.Time // set iff State is terminal
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Validate checks that CompletedAt is set exactly when the state is terminal.
func (b *Build) Validate() error {
	if b.State.Terminal() && b.CompletedAt == nil {
		return fmt.Errorf("build %d: %s state without completed at", b.ID, b.State)
	}
	if !b.State.Terminal() && b.CompletedAt != nil {
		return fmt.Errorf("build %d: %s state with completed at", b.ID, b.State)
	}
	return nil
}

// Task is a post-build job attached to a build.
type Task struct {
	ID        int64
	BuildID   int64
	TypeID    int64
	Status    TaskStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TaskType configures a kind of task created for every build.
type TaskType struct {
	ID          int64
	Name        string
	Description string
	Runner      string
}

type Site struct {
	ID            int64
	Owner         string
	Repository    string
	DefaultBranch string
}

// QueuedTask is a task joined with its build and site.
// Workers need the site to run a task, so this is what gets dispatched.
type QueuedTask struct {
	Task  *Task
	Build *Build
	Site  *Site
}
