package graph

import (
	"sort"
	"time"
)

// Graph is the parsed, skolemized triple set of one document. The primary
// subject is the document's own identifier; every other subject was embedded
// in it.
type Graph struct {
	// Primary is the document's top-level subject IRI.
	Primary string

	triples  []Triple
	subjects []string          // deduped, primary first, rest sorted
	skolems  map[string]string // skolem IRI -> minting document IRI
}

// New builds a graph from already-skolemized triples. Used by tests and by
// callers that synthesize graphs; Load is the normal constructor.
func New(primary string, triples []Triple) *Graph {
	g := &Graph{Primary: primary, triples: triples, skolems: map[string]string{}}
	g.indexSubjects()
	return g
}

func (g *Graph) indexSubjects() {
	seen := map[string]bool{}
	var rest []string
	for _, tr := range g.triples {
		if seen[tr.Subject] {
			continue
		}
		seen[tr.Subject] = true
		if tr.Subject != g.Primary {
			rest = append(rest, tr.Subject)
		}
	}
	sort.Strings(rest)
	g.subjects = g.subjects[:0]
	if seen[g.Primary] {
		g.subjects = append(g.subjects, g.Primary)
	}
	g.subjects = append(g.subjects, rest...)
}

// Subjects returns every subject in the graph, primary first, embedded
// subjects after in lexicographic order.
func (g *Graph) Subjects() []string {
	out := make([]string, len(g.subjects))
	copy(out, g.subjects)
	return out
}

// Len returns the number of triples.
func (g *Graph) Len() int { return len(g.triples) }

// Triples returns a copy of all triples.
func (g *Graph) Triples() []Triple {
	out := make([]Triple, len(g.triples))
	copy(out, g.triples)
	return out
}

// TriplesOf returns all triples with the given subject.
func (g *Graph) TriplesOf(subject string) []Triple {
	var out []Triple
	for _, tr := range g.triples {
		if tr.Subject == subject {
			out = append(out, tr)
		}
	}
	return out
}

// Objects returns every object term for (subject, predicate).
func (g *Graph) Objects(subject, predicate string) []Term {
	var out []Term
	for _, tr := range g.triples {
		if tr.Subject == subject && tr.Predicate == predicate {
			out = append(out, tr.Object)
		}
	}
	return out
}

// IRIs returns the IRI-valued objects for (subject, predicate).
func (g *Graph) IRIs(subject, predicate string) []string {
	var out []string
	for _, t := range g.Objects(subject, predicate) {
		if t.IsIRI() {
			out = append(out, t.Value)
		}
	}
	return out
}

// FirstIRI returns the first IRI-valued object for (subject, predicate).
func (g *Graph) FirstIRI(subject, predicate string) (string, bool) {
	for _, t := range g.Objects(subject, predicate) {
		if t.IsIRI() {
			return t.Value, true
		}
	}
	return "", false
}

// FirstLiteral returns the first literal object for (subject, predicate).
func (g *Graph) FirstLiteral(subject, predicate string) (string, bool) {
	for _, t := range g.Objects(subject, predicate) {
		if t.Kind == TermLiteral {
			return t.Value, true
		}
	}
	return "", false
}

// Bool interprets the first literal for (subject, predicate) as a boolean.
func (g *Graph) Bool(subject, predicate string) (bool, bool) {
	v, ok := g.FirstLiteral(subject, predicate)
	if !ok {
		return false, false
	}
	return v == "true" || v == "1", true
}

// Time parses the first literal for (subject, predicate) as RFC3339,
// normalized to UTC.
func (g *Graph) Time(subject, predicate string) (time.Time, bool) {
	v, ok := g.FirstLiteral(subject, predicate)
	if !ok {
		return time.Time{}, false
	}
	ts, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, false
	}
	return ts.UTC(), true
}

// Types returns the rdf:type IRIs of the subject.
func (g *Graph) Types(subject string) []string {
	return g.IRIs(subject, rdfType)
}

// HasType reports whether the subject carries the class IRI.
func (g *Graph) HasType(subject, classIRI string) bool {
	for _, t := range g.Types(subject) {
		if t == classIRI {
			return true
		}
	}
	return false
}

// SkolemOrigin reports which document minted a skolem IRI, if this graph
// minted it.
func (g *Graph) SkolemOrigin(iri string) (string, bool) {
	doc, ok := g.skolems[iri]
	return doc, ok
}

// MarkSkolem records the given IRI as minted by this graph's document.
// Load does this automatically; graphs built with New use it directly.
func (g *Graph) MarkSkolem(iri string) {
	g.skolems[iri] = g.Primary
}

// Remove deletes every triple the filter matches and returns the removed
// set. Subject indexes are rebuilt.
func (g *Graph) Remove(match func(Triple) bool) []Triple {
	var kept, removed []Triple
	for _, tr := range g.triples {
		if match(tr) {
			removed = append(removed, tr)
		} else {
			kept = append(kept, tr)
		}
	}
	g.triples = kept
	g.indexSubjects()
	return removed
}

const rdfType = "http://www.w3.org/1999/02/22-rdf-syntax-ns#type"
