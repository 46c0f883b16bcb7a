package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/c360studio/semfed/store"
	"github.com/c360studio/semfed/vocabulary/as"
)

// handleResource serves the JSON-LD document for any local reference. The
// path is the reference URI's path; whatever instances the mapper attached
// decide the document's shape.
func (s *Server) handleResource(w http.ResponseWriter, r *http.Request) {
	contentType, ok := negotiate(r.Header.Get("Accept"))
	if !ok {
		http.Error(w, "not acceptable", http.StatusNotAcceptable)
		return
	}

	ref, err := s.store.ReferenceByURI(r.Context(), requestURI(r, r.URL.Path))
	if errors.Is(err, store.ErrNotFound) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		s.logger.Error("reference lookup failed", "path", r.URL.Path, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if !ref.Local {
		// Remote documents are cached for mapping, not re-served.
		http.NotFound(w, r)
		return
	}
	if ref.Tombstoned() {
		writeDocument(w, contentType, http.StatusGone, s.render.Tombstone(ref))
		return
	}

	doc, err := s.render.Document(r.Context(), ref)
	if errors.Is(err, store.ErrNotFound) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		s.logger.Error("render failed", "uri", ref.URI, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	writeDocument(w, contentType, http.StatusOK, doc)
}

func writeDocument(w http.ResponseWriter, contentType string, status int, doc map[string]any) {
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(doc)
}

// negotiate picks the response media type for an Accept header. Absent and
// wildcard headers get the dedicated ActivityStreams type; explicit ld+json
// requests are honored. Anything else, text/html above all, is refused.
func negotiate(accept string) (string, bool) {
	if strings.TrimSpace(accept) == "" {
		return as.ContentType, true
	}
	for _, part := range strings.Split(accept, ",") {
		media, _, _ := strings.Cut(part, ";")
		switch strings.ToLower(strings.TrimSpace(media)) {
		case "*/*", "application/*", "application/json", "application/activity+json":
			return as.ContentType, true
		case "application/ld+json":
			return as.ContentTypeLD, true
		}
	}
	return "", false
}
