package build

// State represents the build state as a string.
type State string

const (
	StateCreated    State = "created"
	StateQueued     State = "queued"
	StateTasked     State = "tasked"
	StateProcessing State = "processing"
	StateSuccess    State = "success"
	StateError      State = "error"
)

// ParseState converts a string to a State and reports whether it is known.
func ParseState(s string) (state State, known bool) {
	state = State(s)
	_, known = stateTransitions[state]
	return state, known
}

// Terminal reports whether no further transitions are allowed.
func (s State) Terminal() bool {
	return s == StateSuccess || s == StateError
}

// Any non-terminal build may fail: the timeout sweep relies on that.
var stateTransitions = map[State][]State{
	StateCreated:    {StateQueued, StateError},
	StateQueued:     {StateTasked, StateError},
	StateTasked:     {StateProcessing, StateError},
	StateProcessing: {StateSuccess, StateError},
	StateSuccess:    {},
	StateError:      {},
}

// CanTransition reports whether a build may move from one state to another.
func CanTransition(from, to State) bool {
	for _, s := range stateTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// TaskStatus represents the build task status as a string.
type TaskStatus string

const (
	TaskStatusCreated    TaskStatus = "created"
	TaskStatusQueued     TaskStatus = "queued"
	TaskStatusProcessing TaskStatus = "processing"
	TaskStatusSuccess    TaskStatus = "success"
	TaskStatusError      TaskStatus = "error"
)

// PendingTaskStatuses are the statuses of tasks still in the pipeline.
var PendingTaskStatuses = []TaskStatus{TaskStatusCreated, TaskStatusQueued, TaskStatusProcessing}

// ParseTaskStatus converts a string to a TaskStatus and reports whether it is known.
func ParseTaskStatus(s string) (status TaskStatus, known bool) {
	status = TaskStatus(s)
	_, known = taskStatusTransitions[status]
	return status, known
}

func (s TaskStatus) Terminal() bool {
	return s == TaskStatusSuccess || s == TaskStatusError
}

var taskStatusTransitions = map[TaskStatus][]TaskStatus{
	TaskStatusCreated:    {TaskStatusQueued, TaskStatusError},
	TaskStatusQueued:     {TaskStatusProcessing, TaskStatusError},
	TaskStatusProcessing: {TaskStatusSuccess, TaskStatusError},
	TaskStatusSuccess:    {},
	TaskStatusError:      {},
}

// CanTransitionTask reports whether a task may move from one status to another.
func CanTransitionTask(from, to TaskStatus) bool {
	for _, s := range taskStatusTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
