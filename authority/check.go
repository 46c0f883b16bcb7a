// Package authority decides which facts a sender may assert. It carries
// most of the federation security model: a graph arriving over the wire is
// only as trustworthy as the authority its sender holds over each subject
// it describes.
package authority

import (
	"net/url"
	"strings"

	"github.com/c360studio/semfed/graph"
)

// Checker evaluates hasAuthorityOver(source, target) against the node's
// configured local domains.
type Checker struct {
	localDomains map[string]bool
}

// NewChecker builds a checker. Domains are matched case-insensitively.
func NewChecker(localDomains []string) *Checker {
	domains := make(map[string]bool, len(localDomains))
	for _, d := range localDomains {
		domains[strings.ToLower(d)] = true
	}
	return &Checker{localDomains: domains}
}

// IsLocal reports whether a URI's authority belongs to this node.
func (c *Checker) IsLocal(uri string) bool {
	return c.localDomains[domainOf(uri)]
}

// Check reports whether source may assert facts about target. The rules
// are evaluated in order; the first match decides.
//
//  1. Skolem minted while parsing a document owned by the source: granted.
//  2. Self-description: granted.
//  3. Local source about a local target: granted.
//  4. Remote source about a local target: denied.
//  5. Remote source about a remote target on the same domain: granted.
//  6. Anything else: denied.
//
// Skolem URIs carry no authority component, so a skolem minted by another
// document can never sneak through the domain rules.
func (c *Checker) Check(source, target string, g *graph.Graph) bool {
	if g != nil {
		if origin, ok := g.SkolemOrigin(target); ok {
			return c.Check(source, origin, g)
		}
	}
	if target == source {
		return true
	}

	targetLocal := c.IsLocal(target)
	sourceLocal := c.IsLocal(source)

	switch {
	case targetLocal && sourceLocal:
		return true
	case targetLocal:
		return false
	case !sourceLocal:
		targetDomain := domainOf(target)
		return targetDomain != "" && targetDomain == domainOf(source)
	default:
		return false
	}
}

func domainOf(uri string) string {
	u, err := url.Parse(uri)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Host)
}
