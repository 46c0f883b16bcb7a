package extract

import (
	"context"

	"github.com/c360studio/semfed/graph"
	"github.com/c360studio/semfed/store"
	"github.com/c360studio/semfed/vocabulary/as"
	"github.com/c360studio/semfed/vocabulary/toot"
)

// tootActorPredicates are the extension fields this extractor owns.
var tootActorPredicates = []string{
	toot.PropFeatured,
	toot.PropDiscoverable,
	toot.PropIndexable,
	toot.PropSuspended,
}

// TootActorExtractor persists Mastodon actor extension fields. It
// composes with the plain actor extractor on the same subject.
type TootActorExtractor struct {
	store *store.Store
}

// NewTootActorExtractor builds the extension extractor.
func NewTootActorExtractor(st *store.Store) *TootActorExtractor {
	return &TootActorExtractor{store: st}
}

// Type implements Extractor.
func (e *TootActorExtractor) Type() string { return "toot-actor" }

// ShouldHandle claims actor subjects that carry at least one extension
// predicate. Actor type alone is not enough; the plain actor extractor
// owns those.
func (e *TootActorExtractor) ShouldHandle(g *graph.Graph, subject, source string) bool {
	isActor := false
	for _, t := range g.Types(subject) {
		if as.IsActor(t) {
			isActor = true
			break
		}
	}
	if !isActor {
		return false
	}
	for _, p := range tootActorPredicates {
		if len(g.Objects(subject, p)) > 0 {
			return true
		}
	}
	return false
}

// Extract implements Extractor.
func (e *TootActorExtractor) Extract(ctx context.Context, g *graph.Graph, ref *store.Reference) error {
	subject := ref.URI
	t := &store.TootActor{ReferenceID: ref.ID}

	t.Discoverable, _ = g.Bool(subject, toot.PropDiscoverable)
	t.Indexable, _ = g.Bool(subject, toot.PropIndexable)
	t.Suspended, _ = g.Bool(subject, toot.PropSuspended)

	var err error
	if t.FeaturedID, err = referenceID(ctx, e.store, g, subject, toot.PropFeatured); err != nil {
		return err
	}

	return e.store.UpsertTootActor(ctx, t)
}
