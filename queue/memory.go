package queue

import (
	"context"
	"log/slog"
	"sync"
)

type memoryItem struct {
	job      Job
	attempts int
}

// Memory is an unbounded in-process FIFO with bounded redelivery.
// Jobs do not survive a restart.
type Memory struct {
	mu         sync.Mutex
	items      []memoryItem
	closed     bool
	signal     chan struct{}
	maxDeliver int
	logger     *slog.Logger
}

// MemoryOption customizes a Memory queue.
type MemoryOption func(*Memory)

// WithMaxDeliver bounds how many times a failing job is delivered
// before it is dropped.
func WithMaxDeliver(n int) MemoryOption {
	return func(q *Memory) {
		if n > 0 {
			q.maxDeliver = n
		}
	}
}

// WithMemoryLogger sets the logger.
func WithMemoryLogger(logger *slog.Logger) MemoryOption {
	return func(q *Memory) {
		if logger != nil {
			q.logger = logger
		}
	}
}

// NewMemory creates an in-process queue.
func NewMemory(opts ...MemoryOption) *Memory {
	q := &Memory{
		items:      make([]memoryItem, 0, 64),
		signal:     make(chan struct{}, 1),
		maxDeliver: 3,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue appends a job and wakes one waiting consumer.
func (q *Memory) Enqueue(_ context.Context, job Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	q.items = append(q.items, memoryItem{job: job})
	q.wake()
	return nil
}

// Consume delivers jobs to fn in FIFO order. A failing job moves to
// the back of the queue until its delivery bound is spent. After Close
// the remaining jobs are drained before Consume returns nil.
func (q *Memory) Consume(ctx context.Context, fn Handler) error {
	for {
		item, ok := q.tryDequeue()
		if ok {
			if err := fn(ctx, item.job); err != nil {
				q.redeliver(item, err)
			}
			continue
		}

		q.mu.Lock()
		done := q.closed && len(q.items) == 0
		q.mu.Unlock()
		if done {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-q.signal:
		}
	}
}

// Close stops the queue and wakes all consumers. Pending jobs are
// still drained by running consumers; new enqueues fail with
// ErrClosed.
func (q *Memory) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	close(q.signal)
	return nil
}

// Len reports the number of queued jobs.
func (q *Memory) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *Memory) tryDequeue() (memoryItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return memoryItem{}, false
	}
	item := q.items[0]
	q.items[0] = memoryItem{}
	q.items = q.items[1:]
	if len(q.items) == 0 {
		q.items = nil
	}
	return item, true
}

func (q *Memory) redeliver(item memoryItem, cause error) {
	item.attempts++
	if item.attempts >= q.maxDeliver {
		q.logger.Warn("job dropped after delivery limit",
			"notification", item.job.NotificationID,
			"attempts", item.attempts,
			"error", cause)
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		q.logger.Warn("job lost on closed queue",
			"notification", item.job.NotificationID,
			"error", cause)
		return
	}
	q.items = append(q.items, item)
	q.wake()
}

// wake coalesces signals through the buffered channel so an idle
// consumer sees at most one pending wakeup. Callers hold q.mu.
func (q *Memory) wake() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}
