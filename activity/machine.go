// Package activity applies the side effects of processed activities:
// follow handshakes, collection membership, reversals. Every transition
// is idempotent so redelivered notifications re-apply cleanly.
package activity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/c360studio/semfed/authority"
	"github.com/c360studio/semfed/store"
)

// Outbound receives locally minted response activities for delivery.
// Delivery itself happens elsewhere; the machine only enqueues.
type Outbound interface {
	Deliver(ctx context.Context, n *store.Notification) error
}

// Machine turns stored activity facts into state transitions.
type Machine struct {
	store    *store.Store
	checker  *authority.Checker
	outbound Outbound
	clock    clockwork.Clock
	logger   *slog.Logger
}

// Option configures a Machine.
type Option func(*Machine)

// WithOutbound sets the queue for locally minted responses. Without one,
// responses are recorded as facts but not delivered.
func WithOutbound(o Outbound) Option {
	return func(m *Machine) { m.outbound = o }
}

// WithClock substitutes the clock used to stamp minted activities.
func WithClock(c clockwork.Clock) Option {
	return func(m *Machine) { m.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Machine) { m.logger = l }
}

// New builds a Machine.
func New(st *store.Store, checker *authority.Checker, opts ...Option) *Machine {
	m := &Machine{
		store:   st,
		checker: checker,
		clock:   clockwork.NewRealClock(),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Do applies the transition for one stored activity. Types without a
// transition are facts with no side effects, not errors. Re-invocation
// with the same activity never double-applies.
func (m *Machine) Do(ctx context.Context, act *store.Activity) error {
	switch act.Type {
	case "Follow":
		return m.doFollow(ctx, act)
	case "Accept":
		return m.doAccept(ctx, act)
	case "Reject":
		return m.doReject(ctx, act)
	case "Like":
		return m.doLike(ctx, act)
	case "Announce":
		return m.doAnnounce(ctx, act)
	case "Add":
		return m.doAdd(ctx, act)
	case "Remove":
		return m.doRemove(ctx, act)
	case "Undo":
		return m.doUndo(ctx, act)
	case "Create":
		return m.doCreate(ctx, act)
	case "Delete":
		return m.doDelete(ctx, act)
	default:
		m.logger.Debug("activity type has no transition", "type", act.Type, "activity", act.ReferenceID)
		return nil
	}
}

// doFollow records the request and, when the target is a local actor that
// does not screen followers, answers it immediately.
func (m *Machine) doFollow(ctx context.Context, act *store.Activity) error {
	if act.ActorID == nil || act.ObjectID == nil {
		m.logger.Debug("follow without actor or object", "activity", act.ReferenceID)
		return nil
	}
	fr, err := m.store.UpsertFollowRequest(ctx, *act.ActorID, *act.ObjectID, &act.ReferenceID)
	if err != nil {
		return err
	}
	// Redelivery of an already-accepted Follow re-asserts the membership
	// rows and stops.
	if err := m.ensureAccepted(ctx, fr); err != nil {
		return err
	}
	if fr.Status != store.FollowPending {
		return nil
	}

	target, err := m.store.ReferenceByID(ctx, *act.ObjectID)
	if err != nil {
		return err
	}
	if !target.Local || target.Tombstoned() {
		return nil
	}
	targetActor, err := m.store.ActorByReference(ctx, target.ID)
	if errors.Is(err, store.ErrNotFound) {
		// Target not provisioned yet; the request stays pending.
		return nil
	}
	if err != nil {
		return err
	}
	if targetActor.ManuallyApprovesFollowers {
		return nil
	}
	return m.acceptFollow(ctx, fr, target)
}

// acceptFollow settles the request, mints the Accept fact, and enqueues
// its delivery. The pending-to-accepted transition is the claim that
// keeps minting at-most-once under concurrent redelivery.
func (m *Machine) acceptFollow(ctx context.Context, fr *store.FollowRequest, target *store.Reference) error {
	settled, err := m.store.ResolveFollowRequest(ctx, fr.ID, store.FollowAccepted, nil)
	if err != nil {
		return err
	}
	fr.Status = store.FollowAccepted
	if err := m.ensureAccepted(ctx, fr); err != nil {
		return err
	}
	if !settled {
		return nil
	}

	acceptURI := fmt.Sprintf("https://%s/activities/%s", store.DomainOf(target.URI), uuid.NewString())
	acceptRef, err := m.store.GetOrCreateReference(ctx, acceptURI)
	if err != nil {
		return err
	}
	published := m.clock.Now().UTC()
	accept := &store.Activity{
		ReferenceID: acceptRef.ID,
		Type:        "Accept",
		ActorID:     &fr.ObjectID,
		ObjectID:    fr.ActivityID,
		PublishedAt: &published,
	}
	if err := m.store.UpsertActivity(ctx, accept); err != nil {
		return err
	}
	if err := m.store.SetFollowResponse(ctx, fr.ID, acceptRef.ID); err != nil {
		return err
	}

	n := &store.Notification{
		Direction:  store.DirectionOutbound,
		SenderID:   fr.ObjectID,
		TargetID:   fr.ActorID,
		ResourceID: acceptRef.ID,
	}
	if err := m.store.CreateNotification(ctx, n); err != nil {
		return err
	}
	m.logger.Info("follow accepted",
		"follower", fr.ActorID,
		"followed", fr.ObjectID,
		"accept", acceptURI)
	if m.outbound == nil {
		return nil
	}
	return m.outbound.Deliver(ctx, n)
}

// ensureAccepted re-asserts the membership rows of an accepted request.
// Safe to call on any request; only accepted ones mutate.
func (m *Machine) ensureAccepted(ctx context.Context, fr *store.FollowRequest) error {
	if fr.Status != store.FollowAccepted {
		return nil
	}
	if err := m.store.AddToCollection(ctx, fr.ObjectID, store.CollectionFollowers, fr.ActorID, nil); err != nil {
		return err
	}
	return m.store.AddToCollection(ctx, fr.ActorID, store.CollectionFollowing, fr.ObjectID, nil)
}

// doAccept settles our outstanding Follow when its target answers. Only
// the followed actor may accept.
func (m *Machine) doAccept(ctx context.Context, act *store.Activity) error {
	fr, ok, err := m.answeredRequest(ctx, act)
	if err != nil || !ok {
		return err
	}
	if _, err := m.store.ResolveFollowRequest(ctx, fr.ID, store.FollowAccepted, &act.ReferenceID); err != nil {
		return err
	}
	fr, err = m.store.FollowRequestByPair(ctx, fr.ActorID, fr.ObjectID)
	if err != nil {
		return err
	}
	return m.ensureAccepted(ctx, fr)
}

// doReject settles our outstanding Follow negatively. No collection
// mutation; the fact is enough.
func (m *Machine) doReject(ctx context.Context, act *store.Activity) error {
	fr, ok, err := m.answeredRequest(ctx, act)
	if err != nil || !ok {
		return err
	}
	_, err = m.store.ResolveFollowRequest(ctx, fr.ID, store.FollowRejected, &act.ReferenceID)
	return err
}

// answeredRequest locates the follow request an Accept or Reject answers
// and checks that the answer comes from the followed actor.
func (m *Machine) answeredRequest(ctx context.Context, act *store.Activity) (*store.FollowRequest, bool, error) {
	if act.ActorID == nil || act.ObjectID == nil {
		return nil, false, nil
	}
	fr, err := m.store.FollowRequestByActivity(ctx, *act.ObjectID)
	if errors.Is(err, store.ErrNotFound) {
		m.logger.Debug("response answers no known follow", "activity", act.ReferenceID)
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if fr.ObjectID != *act.ActorID {
		m.logger.Warn("follow response from an actor other than the followed",
			"activity", act.ReferenceID,
			"responder", *act.ActorID,
			"followed", fr.ObjectID)
		return nil, false, nil
	}
	return fr, true, nil
}

func (m *Machine) doLike(ctx context.Context, act *store.Activity) error {
	if act.ObjectID == nil {
		return nil
	}
	if err := m.store.AddToCollection(ctx, *act.ObjectID, store.CollectionLikes, act.ReferenceID, act.PublishedAt); err != nil {
		return err
	}
	if act.ActorID == nil {
		return nil
	}
	return m.store.AddToCollection(ctx, *act.ActorID, store.CollectionLiked, act.ReferenceID, act.PublishedAt)
}

func (m *Machine) doAnnounce(ctx context.Context, act *store.Activity) error {
	if act.ObjectID == nil {
		return nil
	}
	return m.store.AddToCollection(ctx, *act.ObjectID, store.CollectionShares, act.ReferenceID, act.PublishedAt)
}

func (m *Machine) doAdd(ctx context.Context, act *store.Activity) error {
	target, ok, err := m.authorizedTarget(ctx, act)
	if err != nil || !ok {
		return err
	}
	return m.store.AddToCollection(ctx, target.ID, store.CollectionItems, *act.ObjectID, act.PublishedAt)
}

func (m *Machine) doRemove(ctx context.Context, act *store.Activity) error {
	target, ok, err := m.authorizedTarget(ctx, act)
	if err != nil || !ok {
		return err
	}
	return m.store.RemoveFromCollection(ctx, target.ID, store.CollectionItems, *act.ObjectID)
}

// authorizedTarget resolves the collection an Add or Remove names and
// checks the actor's authority over it. A denied or incomplete mutation
// is dropped silently; the activity itself stays recorded.
func (m *Machine) authorizedTarget(ctx context.Context, act *store.Activity) (*store.Reference, bool, error) {
	if act.ActorID == nil || act.ObjectID == nil || act.TargetID == nil {
		return nil, false, nil
	}
	actor, err := m.store.ReferenceByID(ctx, *act.ActorID)
	if err != nil {
		return nil, false, err
	}
	target, err := m.store.ReferenceByID(ctx, *act.TargetID)
	if err != nil {
		return nil, false, err
	}
	if !m.checker.Check(actor.URI, target.URI, nil) {
		m.logger.Debug("collection mutation denied",
			"actor", actor.URI,
			"collection", target.URI)
		return nil, false, nil
	}
	return target, true, nil
}

// doUndo reverses the effect of a prior activity by the same actor.
// Reversing an effect that was never applied is a no-op.
func (m *Machine) doUndo(ctx context.Context, act *store.Activity) error {
	if act.ActorID == nil || act.ObjectID == nil {
		return nil
	}
	prior, err := m.store.ActivityByReference(ctx, *act.ObjectID)
	if errors.Is(err, store.ErrNotFound) {
		m.logger.Debug("undo of unknown activity", "activity", act.ReferenceID)
		return nil
	}
	if err != nil {
		return err
	}
	if prior.ActorID == nil || *prior.ActorID != *act.ActorID {
		m.logger.Warn("undo by a different actor",
			"activity", act.ReferenceID,
			"undoer", *act.ActorID)
		return nil
	}

	switch prior.Type {
	case "Follow":
		if prior.ObjectID == nil {
			return nil
		}
		if err := m.store.RemoveFromCollection(ctx, *prior.ObjectID, store.CollectionFollowers, *prior.ActorID); err != nil {
			return err
		}
		if err := m.store.RemoveFromCollection(ctx, *prior.ActorID, store.CollectionFollowing, *prior.ObjectID); err != nil {
			return err
		}
		return m.store.DeleteFollowRequest(ctx, *prior.ActorID, *prior.ObjectID)
	case "Like":
		if prior.ObjectID != nil {
			if err := m.store.RemoveFromCollection(ctx, *prior.ObjectID, store.CollectionLikes, prior.ReferenceID); err != nil {
				return err
			}
		}
		return m.store.RemoveFromCollection(ctx, *prior.ActorID, store.CollectionLiked, prior.ReferenceID)
	case "Announce":
		if prior.ObjectID == nil {
			return nil
		}
		return m.store.RemoveFromCollection(ctx, *prior.ObjectID, store.CollectionShares, prior.ReferenceID)
	default:
		m.logger.Debug("undo has no reversal for type", "type", prior.Type)
		return nil
	}
}

// doCreate threads a reply into its parent's replies collection. The
// parent needs only identity; replies to never-resolved parents still
// register.
func (m *Machine) doCreate(ctx context.Context, act *store.Activity) error {
	if act.ObjectID == nil {
		return nil
	}
	obj, err := m.store.ObjectByReference(ctx, *act.ObjectID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if obj.InReplyTo == nil {
		return nil
	}
	return m.store.AddToCollection(ctx, *obj.InReplyTo, store.CollectionReplies, obj.ReferenceID, obj.PublishedAt)
}

// doDelete tombstones the object when the sender holds authority over it.
func (m *Machine) doDelete(ctx context.Context, act *store.Activity) error {
	if act.ActorID == nil || act.ObjectID == nil {
		return nil
	}
	actor, err := m.store.ReferenceByID(ctx, *act.ActorID)
	if err != nil {
		return err
	}
	object, err := m.store.ReferenceByID(ctx, *act.ObjectID)
	if err != nil {
		return err
	}
	if !m.checker.Check(actor.URI, object.URI, nil) {
		m.logger.Debug("delete denied", "actor", actor.URI, "object", object.URI)
		return nil
	}
	return m.store.TombstoneReference(ctx, object.ID)
}
