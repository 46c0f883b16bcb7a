package server

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/c360studio/semfed/pipeline"
	"github.com/c360studio/semfed/proof"
	"github.com/c360studio/semfed/store"
	"github.com/c360studio/semfed/vocabulary/as"
)

// handleActorInbox accepts a delivery addressed to one local actor.
func (s *Server) handleActorInbox(w http.ResponseWriter, r *http.Request) {
	s.receive(w, r, requestURI(r, "/users/"+r.PathValue("username")+"/inbox"))
}

// handleSharedInbox accepts a delivery addressed to the whole node.
func (s *Server) handleSharedInbox(w http.ResponseWriter, r *http.Request) {
	s.receive(w, r, requestURI(r, "/inbox"))
}

// receive records an inbound delivery and answers 202. The contract with
// remote servers is deliberately opaque: 400 only when the body cannot be
// read or yields no envelope, 202 for everything else. Whether the
// delivery later authenticates or applies is never visible here.
func (s *Server) receive(w http.ResponseWriter, r *http.Request, target string) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBody))
	if err != nil {
		http.Error(w, "unreadable body", http.StatusBadRequest)
		return
	}

	sender, resource, err := decodeEnvelope(body)
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	rcv := pipeline.Received{
		Sender:      sender,
		Target:      target,
		Resource:    resource,
		Body:        body,
		ContentType: r.Header.Get("Content-Type"),
		Origin:      store.OriginInbound,
	}
	if sig, err := proof.CaptureSignature(r); err != nil {
		// A malformed header is recorded as absence; the pipeline settles
		// the notification unauthorized.
		s.logger.Warn("unparsable signature header", "error", err)
	} else if sig != nil {
		rcv.Signatures = append(rcv.Signatures, sig)
	}
	if dig, err := proof.CaptureDigest(r, body); err != nil {
		s.logger.Warn("unparsable digest header", "error", err)
	} else if dig != nil {
		rcv.Digests = append(rcv.Digests, dig)
	}
	if rcv.ContentType == "" {
		rcv.ContentType = as.ContentType
	}

	if _, err := s.pipeline.Receive(r.Context(), rcv); err != nil {
		s.logger.Error("delivery not recorded", "target", target, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// decodeEnvelope pulls the sender and resource identifiers out of a raw
// delivery without interpreting the rest. Full parsing happens later in
// the pipeline; the boundary only needs enough to address the record.
func decodeEnvelope(body []byte) (sender, resource string, err error) {
	var doc map[string]any
	if err := json.Unmarshal(body, &doc); err != nil {
		return "", "", err
	}

	resource = stringField(doc, "id", "@id")
	sender = iriField(doc, "actor")
	if sender == "" {
		sender = iriField(doc, "attributedTo")
	}

	if resource == "" {
		return "", "", errEnvelope("missing id")
	}
	if sender == "" {
		return "", "", errEnvelope("missing actor")
	}
	return sender, resource, nil
}

type errEnvelope string

func (e errEnvelope) Error() string { return string(e) }

// stringField returns the first of the named keys holding a string.
func stringField(doc map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := doc[k].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

// iriField reads a key that compacts to either a bare IRI or an embedded
// object carrying one.
func iriField(doc map[string]any, key string) string {
	switch v := doc[key].(type) {
	case string:
		return v
	case map[string]any:
		return stringField(v, "id", "@id")
	case []any:
		if len(v) > 0 {
			if iri, ok := v[0].(string); ok {
				return iri
			}
			if obj, ok := v[0].(map[string]any); ok {
				return stringField(obj, "id", "@id")
			}
		}
	}
	return ""
}
