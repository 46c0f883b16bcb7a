// Package queue hands notification work from the receiving boundary to
// the processing workers. Two implementations: an in-process FIFO for
// tests and single-process runs, and a JetStream-backed durable queue
// that survives restarts.
package queue

import (
	"context"
	"errors"
)

// ErrClosed reports an enqueue on a closed queue.
var ErrClosed = errors.New("queue closed")

// Job is one unit of work: process one stored notification.
type Job struct {
	NotificationID string `json:"notification_id"`
}

// Handler processes one job. A returned error leaves the job eligible
// for redelivery, up to the implementation's delivery bound.
type Handler func(ctx context.Context, job Job) error

// Queue is the boundary-to-worker hand-off.
type Queue interface {
	// Enqueue records a job for processing.
	Enqueue(ctx context.Context, job Job) error

	// Consume delivers jobs to fn until ctx is canceled or the queue
	// closes. It returns ctx.Err() on cancellation and nil on close.
	Consume(ctx context.Context, fn Handler) error

	// Close stops the queue. A durable implementation keeps pending
	// jobs for the next run.
	Close() error
}
