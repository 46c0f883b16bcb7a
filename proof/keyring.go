// Package proof captures and verifies the integrity proofs attached to a
// delivery: HTTP signatures and body digests. Verification failure is
// evidence, not an error; one bad proof never blocks its siblings.
package proof

import (
	"context"
	"crypto"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/c360studio/semfed/graph"
	"github.com/c360studio/semfed/resolve"
	"github.com/c360studio/semfed/store"
	"github.com/c360studio/semfed/vocabulary/sec"
)

// ErrKeyNotFound is returned when a key id cannot be resolved to a public
// key from local storage, and fetching is disabled or failed to help.
var ErrKeyNotFound = errors.New("public key not found")

const defaultKeyTTL = time.Hour

// Keyring resolves signing key ids to public keys. Lookup order: cache,
// local keypairs, stored remote actors, then a network fetch of the key
// document when permitted.
type Keyring struct {
	store    *store.Store
	resolver *resolve.Resolver
	cache    *ttlcache.Cache[string, crypto.PublicKey]
	logger   *slog.Logger
}

// KeyringOption configures a Keyring.
type KeyringOption func(*Keyring)

// WithKeyTTL sets how long fetched keys stay cached.
func WithKeyTTL(ttl time.Duration) KeyringOption {
	return func(k *Keyring) {
		k.cache = ttlcache.New(
			ttlcache.WithTTL[string, crypto.PublicKey](ttl),
		)
	}
}

// WithKeyringLogger sets the logger.
func WithKeyringLogger(l *slog.Logger) KeyringOption {
	return func(k *Keyring) { k.logger = l }
}

// NewKeyring builds a keyring. The resolver may be nil, in which case
// missing keys are never fetched.
func NewKeyring(st *store.Store, r *resolve.Resolver, opts ...KeyringOption) *Keyring {
	k := &Keyring{
		store:    st,
		resolver: r,
		cache: ttlcache.New(
			ttlcache.WithTTL[string, crypto.PublicKey](defaultKeyTTL),
		),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(k)
	}
	return k
}

// PublicKey resolves a key id to its public key.
func (k *Keyring) PublicKey(ctx context.Context, keyID string, fetchMissing bool) (crypto.PublicKey, error) {
	if item := k.cache.Get(keyID); item != nil {
		return item.Value(), nil
	}

	if lk, err := k.store.LocalKeyByKeyID(ctx, keyID); err == nil {
		return k.parseAndCache(keyID, lk.PublicPEM)
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	if actor, err := k.store.ActorByKeyID(ctx, keyID); err == nil {
		if actor.PublicKeyPEM != "" {
			return k.parseAndCache(keyID, actor.PublicKeyPEM)
		}
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	if !fetchMissing || k.resolver == nil {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, keyID)
	}
	return k.fetchKey(ctx, keyID)
}

// fetchKey dereferences the key document and pulls the PEM out of it. Key
// ids are usually fragments of the owning actor's document.
func (k *Keyring) fetchKey(ctx context.Context, keyID string) (crypto.PublicKey, error) {
	ref, err := k.store.GetOrCreateReference(ctx, keyDocumentURI(keyID))
	if err != nil {
		return nil, err
	}
	doc, err := k.resolver.Resolve(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrKeyNotFound, keyID, err)
	}

	g, err := graph.Load(doc.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: key document unparsable: %v", ErrKeyNotFound, keyID, err)
	}

	pemStr, ok := g.FirstLiteral(keyID, sec.PropPublicKeyPem)
	if !ok {
		// Some servers publish the key under a node the actor links to
		// rather than directly under the requested id.
		if keyIRI, linked := g.FirstIRI(g.Primary, sec.PropPublicKey); linked {
			pemStr, ok = g.FirstLiteral(keyIRI, sec.PropPublicKeyPem)
		}
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s: document carries no key", ErrKeyNotFound, keyID)
	}
	return k.parseAndCache(keyID, pemStr)
}

func (k *Keyring) parseAndCache(keyID, pemStr string) (crypto.PublicKey, error) {
	key, err := ParsePublicKeyPEM(pemStr)
	if err != nil {
		return nil, fmt.Errorf("key %s: %w", keyID, err)
	}
	k.cache.Set(keyID, key, ttlcache.DefaultTTL)
	return key, nil
}

// ParsePublicKeyPEM decodes a PEM-encoded public key in either PKIX or
// PKCS#1 form.
func ParsePublicKeyPEM(pemStr string) (crypto.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemStr))
	if block == nil {
		return nil, errors.New("no PEM block found")
	}
	if key, err := x509.ParsePKIXPublicKey(block.Bytes); err == nil {
		return key, nil
	}
	key, err := x509.ParsePKCS1PublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	return key, nil
}

// keyDocumentURI strips the fragment from a key id, yielding the document
// to fetch.
func keyDocumentURI(keyID string) string {
	u, err := url.Parse(keyID)
	if err != nil {
		return keyID
	}
	u.Fragment = ""
	return u.String()
}
