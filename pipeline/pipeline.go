// Package pipeline sequences the processing stages for notifications:
// authenticate, load, sanitize, extract, veto, apply. Boundary code
// hands work in through Receive; a pond worker pool pulls it back out
// of the queue and runs the stages. Every status transition lands in
// the store before the next stage runs, so a crash resumes cleanly
// from the recorded state.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/jonboulle/clockwork"

	"github.com/c360studio/semfed/activity"
	"github.com/c360studio/semfed/authority"
	"github.com/c360studio/semfed/events"
	"github.com/c360studio/semfed/extract"
	"github.com/c360studio/semfed/graph"
	"github.com/c360studio/semfed/metrics"
	"github.com/c360studio/semfed/proof"
	"github.com/c360studio/semfed/queue"
	"github.com/c360studio/semfed/store"
)

// Pipeline owns the worker pool and the stage sequence.
type Pipeline struct {
	store    *store.Store
	queue    queue.Queue
	verifier *proof.Verifier
	filter   *authority.Filter
	registry *extract.Registry
	machine  *activity.Machine
	bus      *events.Bus
	clock    clockwork.Clock
	logger   *slog.Logger

	workers          int
	fetchMissingKeys bool
	hooks            []Hook

	pool   pond.Pool
	cancel context.CancelFunc
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithWorkers sets the number of concurrent notification processors.
func WithWorkers(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.workers = n
		}
	}
}

// WithFetchMissingKeys lets proof verification dereference unknown
// signing keys over the network.
func WithFetchMissingKeys(fetch bool) Option {
	return func(p *Pipeline) { p.fetchMissingKeys = fetch }
}

// WithHook appends a veto hook. Hooks run in registration order.
func WithHook(h Hook) Option {
	return func(p *Pipeline) { p.hooks = append(p.hooks, h) }
}

// WithBus sets the checkpoint bus.
func WithBus(b *events.Bus) Option {
	return func(p *Pipeline) {
		if b != nil {
			p.bus = b
		}
	}
}

// WithClock substitutes the clock used to stamp minted documents.
func WithClock(c clockwork.Clock) Option {
	return func(p *Pipeline) { p.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

// New assembles the pipeline over its collaborators.
func New(st *store.Store, q queue.Queue, verifier *proof.Verifier, filter *authority.Filter, registry *extract.Registry, machine *activity.Machine, opts ...Option) *Pipeline {
	p := &Pipeline{
		store:            st,
		queue:            q,
		verifier:         verifier,
		filter:           filter,
		registry:         registry,
		machine:          machine,
		bus:              events.NewBus(),
		clock:            clockwork.NewRealClock(),
		logger:           slog.Default(),
		workers:          4,
		fetchMissingKeys: true,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Received is what the boundary hands over: the raw document plus the
// envelope identities and any transport proofs captured with it.
type Received struct {
	Sender      string
	Target      string
	Resource    string
	Body        []byte
	ContentType string
	Origin      string
	Signatures  []*store.SignatureProof
	Digests     []*store.DigestProof
}

// Receive durably records a delivery: references for the envelope
// identities, the raw document, the notification in `received`, and the
// captured proofs. The job is enqueued last; if enqueueing fails the
// notification is still on disk and startup recovery will pick it up.
func (p *Pipeline) Receive(ctx context.Context, rcv Received) (*store.Notification, error) {
	sender, err := p.store.GetOrCreateReference(ctx, rcv.Sender)
	if err != nil {
		return nil, fmt.Errorf("sender reference: %w", err)
	}
	target, err := p.store.GetOrCreateReference(ctx, rcv.Target)
	if err != nil {
		return nil, fmt.Errorf("target reference: %w", err)
	}
	resource, err := p.store.GetOrCreateReference(ctx, rcv.Resource)
	if err != nil {
		return nil, fmt.Errorf("resource reference: %w", err)
	}

	origin := rcv.Origin
	if origin == "" {
		origin = store.OriginInbound
	}
	if err := p.store.UpsertDocument(ctx, resource.ID, rcv.Body, rcv.ContentType, origin); err != nil {
		return nil, err
	}

	n := &store.Notification{
		Direction:  store.DirectionInbound,
		SenderID:   sender.ID,
		TargetID:   target.ID,
		ResourceID: resource.ID,
	}
	if err := p.store.CreateNotification(ctx, n); err != nil {
		return nil, err
	}

	for _, sp := range rcv.Signatures {
		sp.NotificationID = n.ID
		if _, err := p.store.InsertSignatureProof(ctx, sp); err != nil {
			return nil, err
		}
	}
	for _, dp := range rcv.Digests {
		dp.NotificationID = n.ID
		if _, err := p.store.InsertDigestProof(ctx, dp); err != nil {
			return nil, err
		}
	}

	metrics.NotificationsReceived.WithLabelValues(origin).Inc()
	p.bus.Publish(ctx, events.Event{Checkpoint: events.NotificationReceived, Notification: n})

	if err := p.queue.Enqueue(ctx, queue.Job{NotificationID: n.ID}); err != nil {
		p.logger.Warn("enqueue failed, notification awaits recovery",
			"notification", n.ID,
			"error", err)
	}
	return n, nil
}

// Process runs the stage sequence for one stored notification. A nil
// return acknowledges the job; an error requests redelivery, so only
// retryable failures (storage, transient infrastructure) may surface.
// Terminal outcomes, including drops, return nil.
func (p *Pipeline) Process(ctx context.Context, id string) error {
	n, err := p.store.NotificationByID(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		p.logger.Warn("job for unknown notification", "notification", id)
		return nil
	}
	if err != nil {
		return err
	}
	if store.TerminalStatus(n.Status) {
		// Redelivery of settled work.
		return nil
	}

	metrics.JobsInflight.Inc()
	defer metrics.JobsInflight.Dec()

	sender, err := p.store.ReferenceByID(ctx, n.SenderID)
	if err != nil {
		return err
	}

	if n.Status == store.StatusReceived {
		if err := p.advance(ctx, n, store.StatusAuthenticating, ""); err != nil {
			return err
		}
	}

	if n.Status == store.StatusAuthenticating {
		authorized, err := p.authenticate(ctx, n, sender)
		if err != nil {
			return err
		}
		if !authorized {
			return nil
		}
	}

	if n.Status != store.StatusAuthorized {
		// An unauthorized notification stays where it is.
		return nil
	}

	return p.apply(ctx, n, sender)
}

// authenticate evaluates the stored proofs and settles authorization.
// Local senders are authorized without proof. Returns whether the
// pipeline should continue.
func (p *Pipeline) authenticate(ctx context.Context, n *store.Notification, sender *store.Reference) (bool, error) {
	start := time.Now()
	verified, err := p.verifier.Evaluate(ctx, n.ID, p.fetchMissingKeys)
	if err != nil {
		return false, fmt.Errorf("evaluate proofs: %w", err)
	}
	metrics.StageDuration.WithLabelValues("authenticate").Observe(time.Since(start).Seconds())

	authorized := verified || sender.Local

	status := store.StatusAuthorized
	if !authorized {
		status = store.StatusUnauthorized
	}
	if err := p.advance(ctx, n, status, ""); err != nil {
		return false, err
	}
	p.bus.Publish(ctx, events.Event{Checkpoint: events.NotificationAuthorized, Notification: n})

	if !authorized {
		metrics.NotificationsSettled.WithLabelValues(store.StatusUnauthorized).Inc()
		p.logger.Info("notification unauthorized",
			"notification", n.ID,
			"sender", sender.URI)
	}
	return authorized, nil
}

// apply runs load, sanitize, extract, veto, and the activity machine
// for an authorized notification.
func (p *Pipeline) apply(ctx context.Context, n *store.Notification, sender *store.Reference) error {
	doc, err := p.store.DocumentByReference(ctx, n.ResourceID)
	if errors.Is(err, store.ErrNotFound) {
		return p.drop(ctx, n, "linked document missing")
	}
	if err != nil {
		return err
	}

	start := time.Now()
	g, err := graph.Load(doc.Body)
	if err != nil {
		metrics.GraphParseErrs.Inc()
		return p.drop(ctx, n, fmt.Sprintf("parse: %v", err))
	}
	metrics.StageDuration.WithLabelValues("load").Observe(time.Since(start).Seconds())

	start = time.Now()
	removed := p.filter.Sanitize(g, sender.URI)
	if len(removed) > 0 {
		metrics.TriplesStripped.Add(float64(len(removed)))
	}
	metrics.StageDuration.WithLabelValues("sanitize").Observe(time.Since(start).Seconds())

	start = time.Now()
	if _, err := p.registry.ExtractAll(ctx, g, sender.URI); err != nil {
		return fmt.Errorf("extract: %w", err)
	}
	metrics.StageDuration.WithLabelValues("extract").Observe(time.Since(start).Seconds())

	for _, h := range p.hooks {
		hookErr := h.Inspect(ctx, n, g)
		if hookErr == nil {
			continue
		}
		if errors.Is(hookErr, ErrDrop) {
			return p.drop(ctx, n, "veto:"+h.Name())
		}
		p.logger.Warn("hook failed",
			"hook", h.Name(),
			"notification", n.ID,
			"error", hookErr)
	}

	act, err := p.store.ActivityByReference(ctx, n.ResourceID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		// The resource is not an activity; its facts are stored and
		// that is the whole job.
	case err != nil:
		return err
	default:
		start = time.Now()
		if err := p.machine.Do(ctx, act); err != nil {
			return fmt.Errorf("apply activity: %w", err)
		}
		metrics.StageDuration.WithLabelValues("apply").Observe(time.Since(start).Seconds())
		metrics.ActivitiesApplied.WithLabelValues(act.Type).Inc()
		p.bus.Publish(ctx, events.Event{Checkpoint: events.ActivityProcessed, Notification: n, Activity: act})
	}

	if err := p.advance(ctx, n, store.StatusProcessed, ""); err != nil {
		return err
	}
	metrics.NotificationsSettled.WithLabelValues(store.StatusProcessed).Inc()
	p.bus.Publish(ctx, events.Event{Checkpoint: events.NotificationSettled, Notification: n})
	p.logger.Info("notification processed", "notification", n.ID)
	return nil
}

// drop settles the notification as dropped with the reason recorded.
func (p *Pipeline) drop(ctx context.Context, n *store.Notification, reason string) error {
	if err := p.advance(ctx, n, store.StatusDropped, reason); err != nil {
		return err
	}
	metrics.NotificationsSettled.WithLabelValues(store.StatusDropped).Inc()
	p.bus.Publish(ctx, events.Event{Checkpoint: events.NotificationSettled, Notification: n})
	p.logger.Info("notification dropped",
		"notification", n.ID,
		"reason", reason)
	return nil
}

// advance moves the stored status forward and mirrors it on n.
func (p *Pipeline) advance(ctx context.Context, n *store.Notification, status, errMsg string) error {
	if err := p.store.SetNotificationStatus(ctx, n.ID, status, errMsg); err != nil {
		return err
	}
	n.Status = status
	n.Error = errMsg
	return nil
}

// Start launches the worker pool and re-enqueues notifications left
// unsettled by a previous run.
func (p *Pipeline) Start(ctx context.Context) error {
	if p.pool != nil {
		return fmt.Errorf("pipeline already started")
	}

	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.pool = pond.NewPool(p.workers)
	for i := 0; i < p.workers; i++ {
		p.pool.Submit(func() {
			metrics.WorkersRunning.Inc()
			defer metrics.WorkersRunning.Dec()
			err := p.queue.Consume(runCtx, func(ctx context.Context, job queue.Job) error {
				return p.Process(ctx, job.NotificationID)
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				p.logger.Error("worker stopped", "error", err)
			}
		})
	}

	if err := p.recoverPending(runCtx); err != nil {
		p.Stop()
		return err
	}

	p.logger.Info("pipeline started", "workers", p.workers)
	return nil
}

// recoverPending re-enqueues inbound notifications that never reached a
// terminal status. Processing is idempotent, so a duplicate of a job
// the durable queue still holds is acknowledged harmlessly.
func (p *Pipeline) recoverPending(ctx context.Context) error {
	pending, err := p.store.PendingNotifications(ctx)
	if err != nil {
		return fmt.Errorf("scan pending notifications: %w", err)
	}
	for _, n := range pending {
		if err := p.queue.Enqueue(ctx, queue.Job{NotificationID: n.ID}); err != nil {
			return fmt.Errorf("re-enqueue %s: %w", n.ID, err)
		}
	}
	if len(pending) > 0 {
		p.logger.Info("re-enqueued pending notifications", "count", len(pending))
	}
	return nil
}

// Stop closes the queue, lets the workers drain, and waits for them.
func (p *Pipeline) Stop() {
	if p.pool == nil {
		return
	}
	if err := p.queue.Close(); err != nil {
		p.logger.Warn("close queue", "error", err)
	}
	p.pool.StopAndWait()
	p.cancel()
	p.pool = nil
	p.logger.Info("pipeline stopped")
}

// LoggedOutbound satisfies activity.Outbound by recording minted
// responses. The durable notification row is the handoff point;
// federation delivery mechanics live outside this node.
type LoggedOutbound struct {
	logger *slog.Logger
}

// NewLoggedOutbound builds the default outbound sink.
func NewLoggedOutbound(logger *slog.Logger) *LoggedOutbound {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggedOutbound{logger: logger}
}

// Deliver implements activity.Outbound.
func (o *LoggedOutbound) Deliver(_ context.Context, n *store.Notification) error {
	metrics.OutboundQueued.Inc()
	o.logger.Info("outbound response queued",
		"notification", n.ID,
		"sender", n.SenderID,
		"target", n.TargetID)
	return nil
}
