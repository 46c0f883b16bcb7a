package graph

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/piprate/json-gold/ld"
)

// ErrMissingIdentifier reports a top-level document without a resolvable
// subject URI. Embedded anonymous objects are fine (they skolemize); the
// document itself must be addressable.
var ErrMissingIdentifier = errors.New("document has no primary subject identifier")

// ParseError reports malformed JSON or JSON-LD input. Callers persist the
// raw document regardless; only extraction is abandoned.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse document graph: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Load parses one JSON-LD document into a skolemized triple graph. The
// primary subject is the top-level node's @id; every blank node is replaced
// by a skolem IRI scoped to that primary. @context references resolve only
// against the embedded context set, never the network.
func Load(body []byte) (*Graph, error) {
	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, &ParseError{Err: err}
	}

	proc := ld.NewJsonLdProcessor()
	opts := ld.NewJsonLdOptions("")
	opts.DocumentLoader = Contexts()

	expanded, err := proc.Expand(doc, opts)
	if err != nil {
		return nil, &ParseError{Err: err}
	}
	if len(expanded) == 0 {
		return nil, ErrMissingIdentifier
	}

	primary := nodeID(expanded[0])
	if primary == "" || strings.HasPrefix(primary, "_:") {
		return nil, ErrMissingIdentifier
	}

	raw, err := proc.ToRDF(expanded, opts)
	if err != nil {
		return nil, &ParseError{Err: err}
	}
	dataset, ok := raw.(*ld.RDFDataset)
	if !ok {
		return nil, &ParseError{Err: fmt.Errorf("unexpected RDF dataset type %T", raw)}
	}

	g := &Graph{Primary: primary, skolems: map[string]string{}}
	for _, name := range sortedGraphNames(dataset) {
		for _, quad := range dataset.Graphs[name] {
			tr, ok := g.quadTriple(quad)
			if !ok {
				continue
			}
			g.triples = append(g.triples, tr)
		}
	}
	g.indexSubjects()
	return g, nil
}

// quadTriple converts one RDF quad, skolemizing blank nodes. Generalized
// RDF quads (blank-node predicates, from unknown vocabulary terms) are
// dropped: unrecognized predicates are ignored by policy.
func (g *Graph) quadTriple(q *ld.Quad) (Triple, bool) {
	pred, ok := q.Predicate.(*ld.IRI)
	if !ok {
		return Triple{}, false
	}
	subject := g.nodeIRI(q.Subject)
	if subject == "" {
		return Triple{}, false
	}

	var obj Term
	switch o := q.Object.(type) {
	case *ld.Literal:
		obj = LiteralTerm(o.Value, o.Datatype, o.Language)
	default:
		v := g.nodeIRI(q.Object)
		if v == "" {
			return Triple{}, false
		}
		obj = IRITerm(v)
	}
	return Triple{Subject: subject, Predicate: pred.Value, Object: obj}, true
}

func (g *Graph) nodeIRI(n ld.Node) string {
	switch v := n.(type) {
	case *ld.IRI:
		return v.Value
	case *ld.BlankNode:
		iri := SkolemIRI(g.Primary, v.Attribute)
		g.skolems[iri] = g.Primary
		return iri
	default:
		return ""
	}
}

func nodeID(node any) string {
	m, ok := node.(map[string]any)
	if !ok {
		return ""
	}
	id, _ := m["@id"].(string)
	return id
}

func sortedGraphNames(ds *ld.RDFDataset) []string {
	names := make([]string, 0, len(ds.Graphs))
	for name := range ds.Graphs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
