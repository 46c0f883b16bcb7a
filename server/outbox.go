package server

import (
	"errors"
	"io"
	"net/http"

	"github.com/c360studio/semfed/authority"
	"github.com/c360studio/semfed/pipeline"
	"github.com/c360studio/semfed/store"
)

// Authenticator establishes which local actor a request speaks for.
// Credential formats and token issuance are deployment concerns; the
// server only needs the resolved actor URI.
type Authenticator interface {
	// Authenticate returns the actor URI the request may act as, or an
	// error when the request carries no valid credential.
	Authenticate(r *http.Request) (string, error)
}

// handleOutbox runs a local submission synchronously: the activity is
// validated, applied, and answered with its minted location in one
// round trip.
func (s *Server) handleOutbox(w http.ResponseWriter, r *http.Request) {
	if s.auth == nil {
		http.Error(w, "outbox disabled", http.StatusUnauthorized)
		return
	}
	actorURI, err := s.auth.Authenticate(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	username := r.PathValue("username")
	_, ownerRef, err := s.store.ActorByUsername(r.Context(), username)
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "no such actor", http.StatusNotFound)
		return
	}
	if err != nil {
		s.logger.Error("actor lookup failed", "username", username, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if ownerRef.URI != actorURI {
		http.Error(w, "not your outbox", http.StatusForbidden)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBody))
	if err != nil {
		http.Error(w, "unreadable body", http.StatusBadRequest)
		return
	}

	_, location, err := s.pipeline.Submit(r.Context(), pipeline.Submission{
		Actor:       actorURI,
		Outbox:      requestURI(r, r.URL.Path),
		Body:        body,
		ContentType: r.Header.Get("Content-Type"),
	})
	var violation *authority.Violation
	switch {
	case errors.Is(err, pipeline.ErrBadSubmission):
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	case errors.Is(err, pipeline.ErrNotAuthor):
		http.Error(w, err.Error(), http.StatusForbidden)
		return
	case errors.As(err, &violation):
		http.Error(w, violation.Error(), http.StatusForbidden)
		return
	case err != nil:
		s.logger.Error("submission failed", "actor", actorURI, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Location", location)
	w.WriteHeader(http.StatusCreated)
}
