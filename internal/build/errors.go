package build

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrTaskNotCreated    = errors.New("task is not in created status")
	ErrTaskAlreadyExists = errors.New("task already exists")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrConflict          = errors.New("conflict")
	ErrTxAlreadyClosed   = errors.New("tx already closed")
	ErrNoTaskTypes       = errors.New("no task types configured")
)

// InconsistencyError reports that a side effect happened but the store
// doesn't reflect it. It needs an operator, retrying isn't safe.
type InconsistencyError struct {
	TaskID int64
	Op     string
	Err    error
}

func (e *InconsistencyError) Error() string {
	return fmt.Sprintf("task %d published but %s failed: %v", e.TaskID, e.Op, e.Err)
}

func (e *InconsistencyError) Unwrap() error {
	return e.Err
}
