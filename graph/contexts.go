package graph

import (
	"embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/piprate/json-gold/ld"
)

//go:embed contexts/*.json
var contextFS embed.FS

// contextSources maps the @context IRIs this node understands to embedded
// documents. Both scheme variants are registered because remote servers are
// inconsistent about them.
var contextSources = map[string]string{
	"https://www.w3.org/ns/activitystreams": "contexts/activitystreams.json",
	"http://www.w3.org/ns/activitystreams":  "contexts/activitystreams.json",
	"https://w3id.org/security/v1":          "contexts/security-v1.json",
	"http://w3id.org/security/v1":           "contexts/security-v1.json",
}

// ContextLoader resolves JSON-LD @context references against documents
// embedded in the binary. Remote fetches are refused so parsing stays
// deterministic and offline; a document citing an unknown remote context
// fails with a ParseError instead of a network call.
type ContextLoader struct {
	docs map[string]*ld.RemoteDocument
}

var (
	contextsOnce sync.Once
	sharedLoader *ContextLoader
)

// Contexts returns the process-wide embedded context loader.
func Contexts() *ContextLoader {
	contextsOnce.Do(func() {
		loader, err := newContextLoader()
		if err != nil {
			panic(fmt.Sprintf("graph: embedded contexts corrupt: %v", err))
		}
		sharedLoader = loader
	})
	return sharedLoader
}

func newContextLoader() (*ContextLoader, error) {
	l := &ContextLoader{docs: make(map[string]*ld.RemoteDocument, len(contextSources))}
	for iri, path := range contextSources {
		raw, err := contextFS.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		var doc any
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
		l.docs[iri] = &ld.RemoteDocument{DocumentURL: iri, Document: doc}
	}
	return l, nil
}

// LoadDocument implements ld.DocumentLoader.
func (l *ContextLoader) LoadDocument(u string) (*ld.RemoteDocument, error) {
	if doc, ok := l.docs[u]; ok {
		return doc, nil
	}
	return nil, fmt.Errorf("refusing to fetch remote context %s", u)
}
