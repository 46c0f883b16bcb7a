package graph

import (
	"crypto/sha256"
	"fmt"
	"strings"
)

// SkolemScheme prefixes every synthesized blank-node identifier. URNs carry
// no authority component, so domain-derived authority rules can never match
// a skolem; ownership flows only through the minting document.
const SkolemScheme = "urn:skolem:"

// SkolemIRI returns the stable identifier for a blank node label within the
// document identified by docURI. The same label within one document always
// yields the same IRI; the same label across two documents never collides.
func SkolemIRI(docURI, label string) string {
	sum := sha256.Sum256([]byte(docURI))
	return fmt.Sprintf("%s%x:%s", SkolemScheme, sum[:8], strings.TrimPrefix(label, "_:"))
}

// IsSkolem reports whether the IRI was minted by SkolemIRI.
func IsSkolem(iri string) bool {
	return strings.HasPrefix(iri, SkolemScheme)
}
