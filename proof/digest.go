package proof

import (
	"bytes"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"

	"github.com/c360studio/semfed/store"
)

// CaptureDigest extracts the body digest claim from a request, if any,
// and computes the actual digest of the delivered body next to it.
// Returns nil with no error when the request carries no Digest header.
func CaptureDigest(r *http.Request, body []byte) (*store.DigestProof, error) {
	raw := r.Header.Get("Digest")
	if raw == "" {
		return nil, nil
	}

	algo, encoded, found := strings.Cut(raw, "=")
	if !found {
		return nil, fmt.Errorf("digest header: malformed value %q", raw)
	}
	expected, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("digest header: %w", err)
	}

	actual, err := digestBody(algo, body)
	if err != nil {
		return nil, err
	}

	return &store.DigestProof{
		Header:    raw,
		Algorithm: strings.ToUpper(strings.TrimSpace(algo)),
		Expected:  expected,
		Actual:    actual,
	}, nil
}

// VerifyDigest checks a stored digest proof. A match is integrity
// evidence only; digests carry no key and never authorize a delivery.
func VerifyDigest(p *store.DigestProof) (*store.ProofVerification, error) {
	if len(p.Expected) == 0 {
		return nil, fmt.Errorf("digest %d: no expected value", p.ID)
	}
	if !bytes.Equal(p.Expected, p.Actual) {
		return nil, fmt.Errorf("digest %d: body does not match %s claim", p.ID, p.Algorithm)
	}
	return &store.ProofVerification{
		NotificationID: p.NotificationID,
		ProofKind:      store.ProofKindDigest,
		ProofID:        p.ID,
	}, nil
}

func digestBody(algo string, body []byte) ([]byte, error) {
	switch strings.ToUpper(strings.TrimSpace(algo)) {
	case "SHA-256":
		sum := sha256.Sum256(body)
		return sum[:], nil
	case "SHA-512":
		sum := sha512.Sum512(body)
		return sum[:], nil
	default:
		return nil, fmt.Errorf("digest header: unsupported algorithm %q", algo)
	}
}
