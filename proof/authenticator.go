package proof

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-fed/httpsig"

	"github.com/c360studio/semfed/store"
)

// Authenticator identifies the local actor behind a signed client
// request. Only locally held keypairs count: a valid signature from a
// remote actor's key proves nothing about who may submit here.
type Authenticator struct {
	store *store.Store
}

// NewAuthenticator builds an authenticator over locally held keys.
func NewAuthenticator(st *store.Store) *Authenticator {
	return &Authenticator{store: st}
}

// Authenticate verifies the request's HTTP signature against a local
// keypair and returns the owning actor's URI.
func (a *Authenticator) Authenticate(r *http.Request) (string, error) {
	verifier, err := httpsig.NewVerifier(r)
	if err != nil {
		return "", fmt.Errorf("read signature: %w", err)
	}
	keyID := verifier.KeyId()

	lk, err := a.store.LocalKeyByKeyID(r.Context(), keyID)
	if errors.Is(err, store.ErrNotFound) {
		return "", fmt.Errorf("key %s is not held here", keyID)
	}
	if err != nil {
		return "", err
	}
	key, err := ParsePublicKeyPEM(lk.PublicPEM)
	if err != nil {
		return "", fmt.Errorf("key %s: %w", keyID, err)
	}

	var algorithm string
	if params, perr := parseSignatureHeader(rawSignatureHeader(r)); perr == nil {
		algorithm = params.algorithm
	}
	if err := verifier.Verify(key, signatureAlgorithm(algorithm)); err != nil {
		return "", fmt.Errorf("signature invalid: %w", err)
	}

	ref, err := a.store.ReferenceByID(r.Context(), lk.ReferenceID)
	if err != nil {
		return "", err
	}
	return ref.URI, nil
}
