package extract

import (
	"context"

	"github.com/c360studio/semfed/graph"
	"github.com/c360studio/semfed/store"
	"github.com/c360studio/semfed/vocabulary/as"
)

// ObjectExtractor persists the content object fields of a subject.
type ObjectExtractor struct {
	store *store.Store
}

// NewObjectExtractor builds the object extractor.
func NewObjectExtractor(st *store.Store) *ObjectExtractor {
	return &ObjectExtractor{store: st}
}

// Type implements Extractor.
func (e *ObjectExtractor) Type() string { return "object" }

// ShouldHandle claims subjects declaring a content object class.
func (e *ObjectExtractor) ShouldHandle(g *graph.Graph, subject, source string) bool {
	for _, t := range g.Types(subject) {
		if as.IsObject(t) {
			return true
		}
	}
	return false
}

// Extract implements Extractor.
func (e *ObjectExtractor) Extract(ctx context.Context, g *graph.Graph, ref *store.Reference) error {
	subject := ref.URI
	o := &store.Object{ReferenceID: ref.ID}

	for _, t := range g.Types(subject) {
		if as.IsObject(t) {
			o.Type = as.TypeName(t)
			break
		}
	}
	o.Content, _ = g.FirstLiteral(subject, as.PropContent)
	o.MediaType, _ = g.FirstLiteral(subject, as.PropMediaType)
	o.Name, _ = g.FirstLiteral(subject, as.PropName)
	o.Summary, _ = g.FirstLiteral(subject, as.PropSummary)
	o.Sensitive, _ = g.Bool(subject, as.PropSensitive)

	// url is an IRI in well-formed documents but shows up as a bare
	// literal often enough to tolerate.
	if iri, ok := g.FirstIRI(subject, as.PropURL); ok {
		o.URL = iri
	} else {
		o.URL, _ = g.FirstLiteral(subject, as.PropURL)
	}

	if published, ok := g.Time(subject, as.PropPublished); ok {
		o.PublishedAt = &published
	}

	var err error
	if o.AttributedTo, err = referenceID(ctx, e.store, g, subject, as.PropAttributedTo); err != nil {
		return err
	}
	if o.InReplyTo, err = referenceID(ctx, e.store, g, subject, as.PropInReplyTo); err != nil {
		return err
	}

	return e.store.UpsertObject(ctx, o)
}
