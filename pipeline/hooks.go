package pipeline

import (
	"context"
	"errors"

	"github.com/c360studio/semfed/graph"
	"github.com/c360studio/semfed/store"
)

// ErrDrop is returned by a hook to veto a notification before its
// activity is applied. The notification settles as dropped with the
// hook's name recorded. A drop is a policy outcome, not a failure.
var ErrDrop = errors.New("dropped by hook")

// Hook inspects an authorized notification after extraction and before
// the activity state machine runs. Returning ErrDrop, or an error
// wrapping it, vetoes the notification. Any other error is logged and
// the remaining hooks still run.
type Hook interface {
	// Name identifies the hook in logs and recorded drop reasons.
	Name() string

	// Inspect examines the notification and its sanitized graph.
	Inspect(ctx context.Context, n *store.Notification, g *graph.Graph) error
}

// HookFunc adapts a function to the Hook interface.
type HookFunc struct {
	HookName string
	Fn       func(ctx context.Context, n *store.Notification, g *graph.Graph) error
}

// Name implements Hook.
func (h HookFunc) Name() string { return h.HookName }

// Inspect implements Hook.
func (h HookFunc) Inspect(ctx context.Context, n *store.Notification, g *graph.Graph) error {
	return h.Fn(ctx, n, g)
}
