// Package events carries in-process checkpoints between the pipeline and
// interested listeners: metrics, audit logging, anything wired at boot.
// Dispatch is synchronous and in registration order so listeners observe
// state the moment it settles; a handler's panic or error is logged and
// never blocks its siblings.
package events

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/c360studio/semfed/store"
)

// Checkpoint names a point in notification processing listeners can
// observe.
type Checkpoint string

const (
	// NotificationReceived fires once a notification is durably recorded.
	NotificationReceived Checkpoint = "notification.received"

	// NotificationAuthorized fires after proof evaluation settles the
	// sender's authorization, either way.
	NotificationAuthorized Checkpoint = "notification.authorized"

	// ActivityProcessed fires after the state machine applied an
	// activity's side effects.
	ActivityProcessed Checkpoint = "activity.processed"

	// NotificationSettled fires when a notification reaches a terminal
	// status.
	NotificationSettled Checkpoint = "notification.settled"
)

// Event is the payload delivered at a checkpoint. Fields beyond the
// checkpoint are filled as far as processing got.
type Event struct {
	Checkpoint   Checkpoint
	Notification *store.Notification
	Activity     *store.Activity
}

// Handler consumes one event. A returned error is logged; it does not
// stop sibling handlers.
type Handler func(ctx context.Context, ev Event) error

// Bus dispatches events to subscribed handlers, synchronously and in
// registration order per checkpoint.
type Bus struct {
	mu       sync.RWMutex
	handlers map[Checkpoint][]Handler
	logger   *slog.Logger
}

// Option configures a Bus.
type Option func(*Bus)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bus) { b.logger = l }
}

// NewBus builds an empty bus.
func NewBus(opts ...Option) *Bus {
	b := &Bus{
		handlers: make(map[Checkpoint][]Handler),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe appends a handler for a checkpoint. Handlers run in the
// order they were subscribed.
func (b *Bus) Subscribe(cp Checkpoint, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[cp] = append(b.handlers[cp], h)
}

// Publish delivers the event to every handler subscribed to its
// checkpoint and returns when all have run.
func (b *Bus) Publish(ctx context.Context, ev Event) {
	b.mu.RLock()
	handlers := make([]Handler, len(b.handlers[ev.Checkpoint]))
	copy(handlers, b.handlers[ev.Checkpoint])
	b.mu.RUnlock()

	for i, h := range handlers {
		b.dispatch(ctx, i, h, ev)
	}
}

func (b *Bus) dispatch(ctx context.Context, i int, h Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				"checkpoint", ev.Checkpoint,
				"handler", i,
				"panic", fmt.Sprint(r))
		}
	}()
	if err := h(ctx, ev); err != nil {
		b.logger.Warn("event handler failed",
			"checkpoint", ev.Checkpoint,
			"handler", i,
			"error", err)
	}
}
