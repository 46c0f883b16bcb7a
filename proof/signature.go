package proof

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-fed/httpsig"

	"github.com/c360studio/semfed/store"
)

// requestMeta is the slice of the request a signature covers, persisted
// alongside the proof so it can be re-verified after the request is gone.
type requestMeta struct {
	Method  string      `json:"method"`
	Target  string      `json:"target"`
	Host    string      `json:"host"`
	Headers http.Header `json:"headers"`
}

// sigParams are the fields of a Signature header.
type sigParams struct {
	keyID     string
	algorithm string
	headers   []string
	signature []byte
	created   string
	expires   string
}

// CaptureSignature extracts the HTTP signature from a request, if any.
// Returns nil with no error when the request carries none. Capture never
// verifies; a malformed header is an error so the caller can record it.
func CaptureSignature(r *http.Request) (*store.SignatureProof, error) {
	raw := rawSignatureHeader(r)
	if raw == "" {
		return nil, nil
	}

	params, err := parseSignatureHeader(raw)
	if err != nil {
		return nil, fmt.Errorf("signature header: %w", err)
	}

	meta := metaFromRequest(r, params.headers)
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("encode request meta: %w", err)
	}

	return &store.SignatureProof{
		KeyID:         params.keyID,
		Algorithm:     params.algorithm,
		Headers:       strings.Join(params.headers, " "),
		Signature:     params.signature,
		SigningString: buildSigningString(meta, params),
		RequestMeta:   metaJSON,
	}, nil
}

// rawSignatureHeader returns the signature parameters from whichever of
// the two defined carriers holds them.
func rawSignatureHeader(r *http.Request) string {
	if raw := r.Header.Get("Signature"); raw != "" {
		return raw
	}
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Signature ") {
		return strings.TrimPrefix(auth, "Signature ")
	}
	return ""
}

// parseSignatureHeader splits a draft-cavage Signature header into its
// parameters. Values are quoted strings; commas inside quotes are data.
func parseSignatureHeader(raw string) (sigParams, error) {
	var p sigParams
	for _, part := range splitParams(raw) {
		key, value, found := strings.Cut(part, "=")
		if !found {
			return p, fmt.Errorf("malformed parameter %q", part)
		}
		key = strings.TrimSpace(key)
		value = strings.Trim(strings.TrimSpace(value), `"`)
		switch key {
		case "keyId":
			p.keyID = value
		case "algorithm":
			p.algorithm = value
		case "headers":
			p.headers = strings.Fields(strings.ToLower(value))
		case "signature":
			sig, err := base64.StdEncoding.DecodeString(value)
			if err != nil {
				return p, fmt.Errorf("signature value: %w", err)
			}
			p.signature = sig
		case "created":
			p.created = value
		case "expires":
			p.expires = value
		}
	}
	if p.keyID == "" {
		return p, fmt.Errorf("missing keyId")
	}
	if len(p.signature) == 0 {
		return p, fmt.Errorf("missing signature")
	}
	if len(p.headers) == 0 {
		// The draft covers only Date when headers is absent.
		p.headers = []string{"date"}
	}
	return p, nil
}

// splitParams splits on commas outside double quotes.
func splitParams(raw string) []string {
	var parts []string
	var b strings.Builder
	inQuote := false
	for _, r := range raw {
		switch {
		case r == '"':
			inQuote = !inQuote
			b.WriteRune(r)
		case r == ',' && !inQuote:
			parts = append(parts, strings.TrimSpace(b.String()))
			b.Reset()
		default:
			b.WriteRune(r)
		}
	}
	if s := strings.TrimSpace(b.String()); s != "" {
		parts = append(parts, s)
	}
	return parts
}

// metaFromRequest copies the covered headers plus the signature itself.
func metaFromRequest(r *http.Request, covered []string) requestMeta {
	headers := http.Header{}
	for _, h := range covered {
		if strings.HasPrefix(h, "(") {
			continue
		}
		if vs := r.Header.Values(h); len(vs) > 0 {
			headers[http.CanonicalHeaderKey(h)] = append([]string(nil), vs...)
		}
	}
	for _, h := range []string{"Signature", "Authorization", "Digest", "Date"} {
		if vs := r.Header.Values(h); len(vs) > 0 {
			headers[h] = append([]string(nil), vs...)
		}
	}
	target := r.URL.Path
	if r.URL.RawQuery != "" {
		target += "?" + r.URL.RawQuery
	}
	return requestMeta{
		Method:  r.Method,
		Target:  target,
		Host:    r.Host,
		Headers: headers,
	}
}

// buildSigningString reconstructs the string the sender signed, kept as
// human-readable evidence next to the raw signature bytes.
func buildSigningString(meta requestMeta, params sigParams) string {
	lines := make([]string, 0, len(params.headers))
	for _, h := range params.headers {
		switch h {
		case "(request-target)":
			lines = append(lines, fmt.Sprintf("(request-target): %s %s", strings.ToLower(meta.Method), meta.Target))
		case "(created)":
			lines = append(lines, "(created): "+params.created)
		case "(expires)":
			lines = append(lines, "(expires): "+params.expires)
		case "host":
			lines = append(lines, "host: "+meta.Host)
		default:
			values := meta.Headers.Values(h)
			lines = append(lines, h+": "+strings.Join(values, ", "))
		}
	}
	return strings.Join(lines, "\n")
}

// rebuildRequest turns persisted request meta back into a request the
// signature library can verify.
func rebuildRequest(metaJSON []byte) (*http.Request, error) {
	var meta requestMeta
	if err := json.Unmarshal(metaJSON, &meta); err != nil {
		return nil, fmt.Errorf("decode request meta: %w", err)
	}
	req, err := http.NewRequest(meta.Method, "http://"+meta.Host+meta.Target, nil)
	if err != nil {
		return nil, fmt.Errorf("rebuild request: %w", err)
	}
	req.Host = meta.Host
	for key, values := range meta.Headers {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	return req, nil
}

// signatureAlgorithm maps a declared algorithm name onto the verifier's
// constant. hs2019 hides the real algorithm; rsa-sha256 is what federated
// servers ship under that label.
func signatureAlgorithm(name string) httpsig.Algorithm {
	switch strings.ToLower(name) {
	case "rsa-sha512":
		return httpsig.RSA_SHA512
	case "ed25519":
		return httpsig.ED25519
	default:
		return httpsig.RSA_SHA256
	}
}
