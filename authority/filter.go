package authority

import (
	"fmt"
	"log/slog"

	"github.com/c360studio/semfed/graph"
	"github.com/c360studio/semfed/vocabulary/as"
	"github.com/c360studio/semfed/vocabulary/sec"
)

// Violation reports the first triple a submission had no authority to
// assert. Only the synchronous client path surfaces it; the inbound path
// strips silently.
type Violation struct {
	Source    string
	Subject   string
	Predicate string
}

func (v *Violation) Error() string {
	return fmt.Sprintf("%s has no authority to assert %s about %s", v.Source, v.Predicate, v.Subject)
}

// DefaultSensitivePredicates lists the predicates that assert ownership or
// administrative control and therefore require an authority check.
func DefaultSensitivePredicates() []string {
	return []string{
		as.PropAttributedTo,
		sec.PropPublicKey,
		sec.PropOwner,
		as.PropInbox,
		as.PropOutbox,
		as.PropFollowers,
		as.PropFollowing,
	}
}

// Filter strips or rejects sensitive triples the sender cannot back with
// authority. Non-sensitive triples always pass.
type Filter struct {
	checker   *Checker
	sensitive map[string]bool
	logger    *slog.Logger
}

// FilterOption configures a Filter.
type FilterOption func(*Filter)

// WithSensitivePredicates replaces the default sensitive set.
func WithSensitivePredicates(predicates []string) FilterOption {
	return func(f *Filter) {
		f.sensitive = make(map[string]bool, len(predicates))
		for _, p := range predicates {
			f.sensitive[p] = true
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) FilterOption {
	return func(f *Filter) { f.logger = l }
}

// NewFilter builds a filter over the given checker.
func NewFilter(checker *Checker, opts ...FilterOption) *Filter {
	f := &Filter{checker: checker, logger: slog.Default()}
	WithSensitivePredicates(DefaultSensitivePredicates())(f)
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Checker returns the underlying authority checker.
func (f *Filter) Checker() *Checker { return f.checker }

// Sanitize drops every sensitive triple the source has no authority over
// and returns the removed set. The caller continues with the reduced
// graph; removed triples are never stored in any form.
func (f *Filter) Sanitize(g *graph.Graph, source string) []graph.Triple {
	removed := g.Remove(func(t graph.Triple) bool {
		return f.sensitive[t.Predicate] && !f.checker.Check(source, t.Subject, g)
	})
	for _, t := range removed {
		f.logger.Debug("stripped unauthorized triple",
			"source", source,
			"subject", t.Subject,
			"predicate", t.Predicate)
	}
	return removed
}

// Enforce rejects the graph on the first sensitive triple the source has
// no authority over. The graph is left untouched.
func (f *Filter) Enforce(g *graph.Graph, source string) error {
	for _, t := range g.Triples() {
		if f.sensitive[t.Predicate] && !f.checker.Check(source, t.Subject, g) {
			return &Violation{Source: source, Subject: t.Subject, Predicate: t.Predicate}
		}
	}
	return nil
}
