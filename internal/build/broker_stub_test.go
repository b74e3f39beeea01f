package build

import (
	"context"
	"sync"
)

var _ Queue = (*StubQueue)(nil)

type sentMessage struct {
	Task     *QueuedTask
	Priority int
}

type StubQueue struct {
	Err error

	mu   sync.Mutex
	sent []sentMessage
}

func (q *StubQueue) SendTaskMessage(ctx context.Context, t *QueuedTask, priority int) error {
	if q.Err != nil {
		return q.Err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.sent = append(q.sent, sentMessage{Task: t, Priority: priority})
	return nil
}

func (q *StubQueue) Sent() []sentMessage {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]sentMessage(nil), q.sent...)
}

var _ Canceler = (*StubCanceler)(nil)

type StubCanceler struct {
	Errs map[int64]error

	mu    sync.Mutex
	calls []int64
}

func (c *StubCanceler) CancelBuildTask(ctx context.Context, buildID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, buildID)
	return c.Errs[buildID]
}

func (c *StubCanceler) Calls() []int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]int64(nil), c.calls...)
}
