package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

const (
	// DefaultStream is the JetStream stream holding notification jobs.
	DefaultStream = "NOTIFS"
	// DefaultConsumer is the durable consumer shared by the workers.
	DefaultConsumer = "semfed-workers"
	// subjectPrefix scopes job subjects; one token per notification ID.
	subjectPrefix = "notif.process."
)

// JetStreamConfig configures the durable queue.
type JetStreamConfig struct {
	// Stream is the stream name. Empty uses DefaultStream.
	Stream string
	// Consumer is the durable consumer name. Empty uses DefaultConsumer.
	Consumer string
	// MaxDeliver bounds redelivery of a failing job. Zero means 3.
	MaxDeliver int
	// AckWait is how long a worker may hold a job before redelivery.
	// Zero means 60s.
	AckWait time.Duration
}

func (c *JetStreamConfig) applyDefaults() {
	if c.Stream == "" {
		c.Stream = DefaultStream
	}
	if c.Consumer == "" {
		c.Consumer = DefaultConsumer
	}
	if c.MaxDeliver <= 0 {
		c.MaxDeliver = 3
	}
	if c.AckWait <= 0 {
		c.AckWait = 60 * time.Second
	}
}

// JetStream is a durable work queue on a NATS JetStream stream. Jobs
// survive restarts; a shared durable consumer hands each job to exactly
// one worker.
type JetStream struct {
	js     jetstream.JetStream
	cfg    JetStreamConfig
	logger *slog.Logger

	mu     sync.Mutex
	done   chan struct{}
	closed bool
}

// JetStreamOption customizes a JetStream queue.
type JetStreamOption func(*JetStream)

// WithJetStreamLogger sets the logger.
func WithJetStreamLogger(logger *slog.Logger) JetStreamOption {
	return func(q *JetStream) {
		if logger != nil {
			q.logger = logger
		}
	}
}

// NewJetStream creates the durable queue, creating the stream if it
// does not exist yet.
func NewJetStream(ctx context.Context, js jetstream.JetStream, cfg JetStreamConfig, opts ...JetStreamOption) (*JetStream, error) {
	cfg.applyDefaults()

	q := &JetStream{
		js:     js,
		cfg:    cfg,
		logger: slog.Default(),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(q)
	}

	if _, err := getOrCreateStream(ctx, js, cfg.Stream); err != nil {
		return nil, fmt.Errorf("ensure stream %s: %w", cfg.Stream, err)
	}
	return q, nil
}

func getOrCreateStream(ctx context.Context, js jetstream.JetStream, name string) (jetstream.Stream, error) {
	stream, err := js.Stream(ctx, name)
	if err == nil {
		return stream, nil
	}
	// Stream doesn't exist, create it. Work-queue retention removes a
	// job once it is acknowledged.
	return js.CreateStream(ctx, jetstream.StreamConfig{
		Name:      name,
		Subjects:  []string{subjectPrefix + "*"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.WorkQueuePolicy,
	})
}

// Enqueue publishes the job. The notification ID doubles as the
// message ID so a duplicate enqueue inside the dedupe window is
// discarded by the server.
func (q *JetStream) Enqueue(ctx context.Context, job Job) error {
	q.mu.Lock()
	closed := q.closed
	q.mu.Unlock()
	if closed {
		return ErrClosed
	}

	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}

	subject := subjectPrefix + job.NotificationID
	if _, err := q.js.Publish(ctx, subject, data, jetstream.WithMsgID(job.NotificationID)); err != nil {
		return fmt.Errorf("publish job: %w", err)
	}
	return nil
}

// Consume delivers jobs to fn until ctx is canceled or the queue is
// closed. Every worker calls Consume with the same durable consumer, so
// each job reaches exactly one of them.
func (q *JetStream) Consume(ctx context.Context, fn Handler) error {
	stream, err := q.js.Stream(ctx, q.cfg.Stream)
	if err != nil {
		return fmt.Errorf("get stream: %w", err)
	}

	consumer, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Durable:       q.cfg.Consumer,
		FilterSubject: subjectPrefix + "*",
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       q.cfg.AckWait,
		MaxDeliver:    q.cfg.MaxDeliver,
	})
	if err != nil {
		return fmt.Errorf("create consumer: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-q.done:
			return nil
		default:
		}

		// Fetch next message with timeout
		msgs, err := consumer.Fetch(1, jetstream.FetchMaxWait(5*time.Second))
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			continue // Timeout, try again
		}

		for msg := range msgs.Messages() {
			select {
			case <-ctx.Done():
				// NAK the message so it can be redelivered
				_ = msg.Nak()
				return ctx.Err()
			case <-q.done:
				_ = msg.Nak()
				return nil
			default:
				q.handleMessage(ctx, msg, fn)
			}
		}
	}
}

func (q *JetStream) handleMessage(ctx context.Context, msg jetstream.Msg, fn Handler) {
	var job Job
	if err := json.Unmarshal(msg.Data(), &job); err != nil {
		// A payload that never parses cannot succeed on redelivery.
		q.logger.Warn("discarding malformed job", "subject", msg.Subject(), "error", err)
		_ = msg.Term()
		return
	}

	if err := fn(ctx, job); err != nil {
		q.logger.Warn("job failed, requesting redelivery",
			"notification", job.NotificationID,
			"error", err)
		_ = msg.Nak()
		return
	}

	_ = msg.Ack()
}

// Close stops delivery to consumers. Unacknowledged jobs stay on the
// stream for the next run.
func (q *JetStream) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	close(q.done)
	return nil
}
