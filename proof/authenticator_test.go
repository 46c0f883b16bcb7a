package proof

import (
	"bytes"
	"context"
	"crypto"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/semfed/store"
)

func seedLocalKey(t *testing.T, st *store.Store, actorURI string) (crypto.PrivateKey, string) {
	t.Helper()
	ctx := context.Background()
	ref, err := st.GetOrCreateReference(ctx, actorURI)
	require.NoError(t, err)
	publicPEM, privatePEM, err := GenerateKeyPEM(2048)
	require.NoError(t, err)
	keyID := actorURI + "#main-key"
	require.NoError(t, st.CreateLocalKey(ctx, &store.LocalKey{
		ReferenceID: ref.ID,
		KeyID:       keyID,
		PublicPEM:   publicPEM,
		PrivatePEM:  privatePEM,
	}))
	key, err := ParsePrivateKeyPEM(privatePEM)
	require.NoError(t, err)
	return key, keyID
}

func signedOutboxRequest(t *testing.T, key crypto.PrivateKey, keyID string, body []byte) *http.Request {
	t.Helper()
	r := httptest.NewRequest(http.MethodPost, "https://example.local/users/bob/outbox", bytes.NewReader(body))
	r.Host = "example.local"
	require.NoError(t, SignRequest(key, keyID, r, body))
	return r
}

func TestAuthenticator_ResolvesSigner(t *testing.T) {
	st := newTestStore(t)
	actorURI := "https://example.local/users/bob"
	key, keyID := seedLocalKey(t, st, actorURI)

	a := NewAuthenticator(st)
	got, err := a.Authenticate(signedOutboxRequest(t, key, keyID, []byte(`{"type":"Note"}`)))
	require.NoError(t, err)
	assert.Equal(t, actorURI, got)
}

func TestAuthenticator_UnsignedRequest(t *testing.T) {
	st := newTestStore(t)

	a := NewAuthenticator(st)
	r := httptest.NewRequest(http.MethodPost, "https://example.local/users/bob/outbox", nil)
	_, err := a.Authenticate(r)
	assert.Error(t, err)
}

func TestAuthenticator_ForeignKeyRefused(t *testing.T) {
	st := newTestStore(t)

	// The signature itself is sound, but the key lives on another
	// server, so it carries no authority over this outbox.
	key, _ := testKey(t)
	keyID := "https://remote.example/users/alice#main-key"

	a := NewAuthenticator(st)
	_, err := a.Authenticate(signedOutboxRequest(t, key, keyID, []byte(`{}`)))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not held here")
}

func TestAuthenticator_WrongKeySigned(t *testing.T) {
	st := newTestStore(t)
	actorURI := "https://example.local/users/bob"
	_, keyID := seedLocalKey(t, st, actorURI)

	// Signed with a different key under the stored key's id.
	impostor, _ := testKey(t)

	a := NewAuthenticator(st)
	_, err := a.Authenticate(signedOutboxRequest(t, impostor, keyID, []byte(`{}`)))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "signature invalid")
}
