// Package graph parses JSON-LD documents into RDF triple graphs, replacing
// blank nodes with stable skolem identifiers scoped to the source document.
package graph

import (
	"fmt"
	"strings"
)

// TermKind discriminates the object position of a triple.
type TermKind int

const (
	// TermIRI is a node identified by IRI (including skolem URNs).
	TermIRI TermKind = iota

	// TermLiteral is a literal value with optional datatype or language.
	TermLiteral
)

// Term is one object-position value in a triple. Blank nodes never appear
// here: loading skolemizes them before the graph is returned.
type Term struct {
	Kind     TermKind
	Value    string
	Datatype string
	Language string
}

// IRITerm returns an IRI-kind term.
func IRITerm(iri string) Term {
	return Term{Kind: TermIRI, Value: iri}
}

// LiteralTerm returns a literal-kind term.
func LiteralTerm(value, datatype, language string) Term {
	return Term{Kind: TermLiteral, Value: value, Datatype: datatype, Language: language}
}

// IsIRI reports whether the term is an IRI.
func (t Term) IsIRI() bool { return t.Kind == TermIRI }

// String renders the term in N-Triples form.
func (t Term) String() string {
	if t.Kind == TermIRI {
		return fmt.Sprintf("<%s>", t.Value)
	}
	s := fmt.Sprintf("\"%s\"", escapeString(t.Value))
	switch {
	case t.Language != "":
		return s + "@" + t.Language
	case t.Datatype != "" && t.Datatype != xsdString:
		return fmt.Sprintf("%s^^<%s>", s, t.Datatype)
	default:
		return s
	}
}

// Triple is one subject-predicate-object statement.
type Triple struct {
	Subject   string
	Predicate string
	Object    Term
}

// String renders the triple in N-Triples form.
func (tr Triple) String() string {
	return fmt.Sprintf("<%s> <%s> %s .", tr.Subject, tr.Predicate, tr.Object)
}

const xsdString = "http://www.w3.org/2001/XMLSchema#string"

// escapeString escapes special characters for RDF serialization.
func escapeString(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, "\"", "\\\"")
	s = strings.ReplaceAll(s, "\n", "\\n")
	s = strings.ReplaceAll(s, "\r", "\\r")
	s = strings.ReplaceAll(s, "\t", "\\t")
	return s
}
