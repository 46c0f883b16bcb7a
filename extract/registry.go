// Package extract turns sanitized graphs into relational rows. Each
// extractor owns one vocabulary slice of a subject; several extractors may
// fire on the same subject.
package extract

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/c360studio/semfed/authority"
	"github.com/c360studio/semfed/graph"
	"github.com/c360studio/semfed/store"
)

// Extractor persists one vocabulary's fields for a subject.
type Extractor interface {
	// Type is the extractor's stable name. Together with the subject
	// reference it keys the stored instance, so re-extraction upserts.
	Type() string

	// ShouldHandle reports whether this extractor claims the subject.
	// Detection discriminates by declared type plus the presence of
	// type-specific predicates, never by a predicate existing anywhere
	// in the graph.
	ShouldHandle(g *graph.Graph, subject, source string) bool

	// Extract persists the subject's slice. Re-running over the same
	// graph must leave the same stored state.
	Extract(ctx context.Context, g *graph.Graph, ref *store.Reference) error
}

// Registry holds the ordered extractor list and drives extraction over a
// graph's subjects.
type Registry struct {
	mu         sync.RWMutex
	extractors []Extractor
	store      *store.Store
	checker    *authority.Checker
	logger     *slog.Logger
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) RegistryOption {
	return func(r *Registry) { r.logger = l }
}

// WithoutDefaults builds a registry with no built-in extractors.
func WithoutDefaults() RegistryOption {
	return func(r *Registry) { r.extractors = r.extractors[:0] }
}

// NewRegistry builds a registry with the built-in extractors registered in
// order: actor, object, activity, mastodon actor extensions.
func NewRegistry(st *store.Store, checker *authority.Checker, opts ...RegistryOption) *Registry {
	r := &Registry{
		store:   st,
		checker: checker,
		logger:  slog.Default(),
	}
	r.extractors = []Extractor{
		NewActorExtractor(st),
		NewObjectExtractor(st),
		NewActivityExtractor(st),
		NewTootActorExtractor(st),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register appends an extractor to the evaluation order.
func (r *Registry) Register(e Extractor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.extractors = append(r.extractors, e)
}

// Types lists the registered extractor names in evaluation order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, len(r.extractors))
	for i, e := range r.extractors {
		names[i] = e.Type()
	}
	return names
}

// ExtractAll walks every subject of the graph. Each subject gets a
// reference regardless of authority; extraction itself only runs for
// subjects the source holds authority over, so a denied subject keeps its
// identity but gains no instance rows. A failing extractor is logged and
// skipped; siblings on the same subject still run. Returns the references
// of all discovered subjects.
func (r *Registry) ExtractAll(ctx context.Context, g *graph.Graph, source string) ([]*store.Reference, error) {
	r.mu.RLock()
	extractors := make([]Extractor, len(r.extractors))
	copy(extractors, r.extractors)
	r.mu.RUnlock()

	var refs []*store.Reference
	for _, subject := range g.Subjects() {
		ref, err := r.store.GetOrCreateReference(ctx, subject)
		if err != nil {
			return nil, fmt.Errorf("reference for subject %s: %w", subject, err)
		}
		refs = append(refs, ref)

		if !r.checker.Check(source, subject, g) {
			r.logger.Debug("subject not admitted for extraction",
				"subject", subject, "source", source)
			continue
		}

		for _, e := range extractors {
			if !e.ShouldHandle(g, subject, source) {
				continue
			}
			if err := r.runExtractor(ctx, e, g, ref); err != nil {
				r.logger.Warn("extractor failed",
					"extractor", e.Type(),
					"subject", subject,
					"error", err)
			}
		}
	}
	return refs, nil
}

// runExtractor runs one extractor with panic containment, so a
// misbehaving extractor cannot take down its siblings or the worker.
func (r *Registry) runExtractor(ctx context.Context, e Extractor, g *graph.Graph, ref *store.Reference) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("extractor panicked: %v", rec)
		}
	}()
	return e.Extract(ctx, g, ref)
}

// referenceID resolves an IRI-valued predicate into a reference id,
// creating the reference if needed. Absent predicates yield nil.
func referenceID(ctx context.Context, st *store.Store, g *graph.Graph, subject, predicate string) (*store.ReferenceID, error) {
	iri, ok := g.FirstIRI(subject, predicate)
	if !ok {
		return nil, nil
	}
	ref, err := st.GetOrCreateReference(ctx, iri)
	if err != nil {
		return nil, err
	}
	return &ref.ID, nil
}
