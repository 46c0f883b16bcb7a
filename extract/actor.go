package extract

import (
	"context"

	"github.com/c360studio/semfed/graph"
	"github.com/c360studio/semfed/store"
	"github.com/c360studio/semfed/vocabulary/as"
	"github.com/c360studio/semfed/vocabulary/sec"
)

// ActorExtractor persists the ActivityStreams actor fields of a subject.
type ActorExtractor struct {
	store *store.Store
}

// NewActorExtractor builds the actor extractor.
func NewActorExtractor(st *store.Store) *ActorExtractor {
	return &ActorExtractor{store: st}
}

// Type implements Extractor.
func (e *ActorExtractor) Type() string { return "actor" }

// ShouldHandle claims subjects declaring an actor class.
func (e *ActorExtractor) ShouldHandle(g *graph.Graph, subject, source string) bool {
	for _, t := range g.Types(subject) {
		if as.IsActor(t) {
			return true
		}
	}
	return false
}

// Extract implements Extractor.
func (e *ActorExtractor) Extract(ctx context.Context, g *graph.Graph, ref *store.Reference) error {
	subject := ref.URI
	a := &store.Actor{ReferenceID: ref.ID}

	for _, t := range g.Types(subject) {
		if as.IsActor(t) {
			a.Type = as.TypeName(t)
			break
		}
	}
	a.PreferredUsername, _ = g.FirstLiteral(subject, as.PropPreferredUsername)
	a.Name, _ = g.FirstLiteral(subject, as.PropName)
	a.Summary, _ = g.FirstLiteral(subject, as.PropSummary)
	a.ManuallyApprovesFollowers, _ = g.Bool(subject, as.PropManuallyApprovesFollowers)

	var err error
	if a.InboxID, err = referenceID(ctx, e.store, g, subject, as.PropInbox); err != nil {
		return err
	}
	if a.OutboxID, err = referenceID(ctx, e.store, g, subject, as.PropOutbox); err != nil {
		return err
	}
	if a.FollowersID, err = referenceID(ctx, e.store, g, subject, as.PropFollowers); err != nil {
		return err
	}
	if a.FollowingID, err = referenceID(ctx, e.store, g, subject, as.PropFollowing); err != nil {
		return err
	}
	if a.SharedInboxID, err = referenceID(ctx, e.store, g, subject, as.PropSharedInbox); err != nil {
		return err
	}

	// Adopt the published key only when its declared owner is the actor
	// itself; a key pointing at someone else is not this actor's key.
	if keyIRI, ok := g.FirstIRI(subject, sec.PropPublicKey); ok {
		owner, hasOwner := g.FirstIRI(keyIRI, sec.PropOwner)
		if !hasOwner || owner == subject {
			a.PublicKeyID = keyIRI
			a.PublicKeyPEM, _ = g.FirstLiteral(keyIRI, sec.PropPublicKeyPem)
		}
	}

	return e.store.UpsertActor(ctx, a)
}
