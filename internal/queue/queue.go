// Package queue carries indexing tasks from the event intake to the worker.
// Delivery is at least once; handlers must tolerate duplicates and reordering.
package queue

import (
	"context"
	"sync"
)

// Op names the indexing operation a task requests.
type Op string

// Task operations.
const (
	OpUpsert  Op = "upsert"
	OpDelete  Op = "delete"
	OpImport  Op = "import"
	OpFlush   Op = "flush"
	OpRefresh Op = "refresh"
)

// Task is one unit of deferred indexing work. It names the operation, the
// target index, and for item-level ops the item; it never carries resolved
// document data, so stale payloads cannot be replayed.
type Task struct {
	Op     Op     `json:"op"`
	Index  string `json:"index"`
	ItemID int64  `json:"itemId,omitempty"`
}

// Handler processes one task. A returned error requeues the task.
type Handler func(ctx context.Context, task Task) error

// Queue is the transport between event intake and the indexing worker.
type Queue interface {
	Enqueue(ctx context.Context, task Task) error
	Subscribe(handler Handler) (func() error, error)
	Close() error
}

// Memory is an unbuffered in-process queue. Tasks enqueued before any
// subscriber exists are held and delivered on subscription. Used in tests
// and single-process deployments.
type Memory struct {
	mu      sync.Mutex
	pending []Task
	handler Handler
	closed  bool
}

// NewMemory creates an in-process queue.
func NewMemory() *Memory {
	return &Memory{}
}

// Enqueue delivers the task synchronously when a handler is attached,
// otherwise holds it. A failing handler puts the task back.
func (q *Memory) Enqueue(ctx context.Context, task Task) error {
	q.mu.Lock()
	handler := q.handler
	if handler == nil || q.closed {
		q.pending = append(q.pending, task)
		q.mu.Unlock()
		return nil
	}
	q.mu.Unlock()

	if err := handler(ctx, task); err != nil {
		q.mu.Lock()
		q.pending = append(q.pending, task)
		q.mu.Unlock()
	}
	return nil
}

// Subscribe attaches the handler and drains held tasks.
func (q *Memory) Subscribe(handler Handler) (func() error, error) {
	q.mu.Lock()
	q.handler = handler
	held := q.pending
	q.pending = nil
	q.mu.Unlock()

	for _, task := range held {
		if err := handler(context.Background(), task); err != nil {
			q.mu.Lock()
			q.pending = append(q.pending, task)
			q.mu.Unlock()
		}
	}

	unsubscribe := func() error {
		q.mu.Lock()
		q.handler = nil
		q.mu.Unlock()
		return nil
	}
	return unsubscribe, nil
}

// Pending returns a copy of the held tasks.
func (q *Memory) Pending() []Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Task, len(q.pending))
	copy(out, q.pending)
	return out
}

// Close detaches the handler; held tasks stay held.
func (q *Memory) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.handler = nil
	return nil
}
