package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"strings"

	"github.com/c360studio/semfed/store"
	"github.com/c360studio/semfed/vocabulary/as"
)

// handleWebfinger answers acct: lookups with a JRD document pointing at the
// actor's ActivityPub representation.
func (s *Server) handleWebfinger(w http.ResponseWriter, r *http.Request) {
	resource := r.URL.Query().Get("resource")
	username, domain, ok := parseAcct(resource)
	if !ok {
		http.Error(w, "resource must be acct:user@domain", http.StatusBadRequest)
		return
	}
	if len(s.domains) > 0 && !slices.Contains(s.domains, domain) {
		http.NotFound(w, r)
		return
	}

	_, ref, err := s.store.ActorByUsername(r.Context(), username)
	if errors.Is(err, store.ErrNotFound) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		s.logger.Error("webfinger lookup failed", "resource", resource, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/jrd+json")
	json.NewEncoder(w).Encode(map[string]any{
		"subject": "acct:" + username + "@" + domain,
		"aliases": []string{ref.URI},
		"links": []map[string]any{{
			"rel":  "self",
			"type": as.ContentType,
			"href": ref.URI,
		}},
	})
}

// parseAcct splits an acct: resource into username and domain. The leading
// @ some clients prepend to the username is tolerated.
func parseAcct(resource string) (username, domain string, ok bool) {
	rest, found := strings.CutPrefix(strings.TrimSpace(resource), "acct:")
	if !found {
		return "", "", false
	}
	rest = strings.TrimPrefix(rest, "@")
	username, domain, found = strings.Cut(rest, "@")
	if !found || username == "" || domain == "" {
		return "", "", false
	}
	return username, strings.ToLower(domain), true
}
