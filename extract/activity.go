package extract

import (
	"context"

	"github.com/c360studio/semfed/graph"
	"github.com/c360studio/semfed/store"
	"github.com/c360studio/semfed/vocabulary/as"
)

// ActivityExtractor persists the activity fields of a subject.
type ActivityExtractor struct {
	store *store.Store
}

// NewActivityExtractor builds the activity extractor.
func NewActivityExtractor(st *store.Store) *ActivityExtractor {
	return &ActivityExtractor{store: st}
}

// Type implements Extractor.
func (e *ActivityExtractor) Type() string { return "activity" }

// ShouldHandle claims subjects declaring an activity class.
func (e *ActivityExtractor) ShouldHandle(g *graph.Graph, subject, source string) bool {
	for _, t := range g.Types(subject) {
		if as.IsActivity(t) {
			return true
		}
	}
	return false
}

// Extract implements Extractor.
func (e *ActivityExtractor) Extract(ctx context.Context, g *graph.Graph, ref *store.Reference) error {
	subject := ref.URI
	a := &store.Activity{ReferenceID: ref.ID}

	for _, t := range g.Types(subject) {
		if as.IsActivity(t) {
			a.Type = as.TypeName(t)
			break
		}
	}
	if published, ok := g.Time(subject, as.PropPublished); ok {
		a.PublishedAt = &published
	}

	var err error
	if a.ActorID, err = referenceID(ctx, e.store, g, subject, as.PropActor); err != nil {
		return err
	}
	if a.ObjectID, err = referenceID(ctx, e.store, g, subject, as.PropObject); err != nil {
		return err
	}
	if a.TargetID, err = referenceID(ctx, e.store, g, subject, as.PropTarget); err != nil {
		return err
	}

	return e.store.UpsertActivity(ctx, a)
}
