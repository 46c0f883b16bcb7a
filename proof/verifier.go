package proof

import (
	"context"
	"crypto"
	"fmt"
	"log/slog"

	"github.com/go-fed/httpsig"

	"github.com/c360studio/semfed/metrics"
	"github.com/c360studio/semfed/store"
)

// Verifier checks the proofs attached to a notification against resolved
// public keys. A proof that fails to verify yields a nil result, never an
// error the caller must branch on; errors surface only in logs and in the
// notification's own record.
type Verifier struct {
	store  *store.Store
	keys   *Keyring
	logger *slog.Logger
}

// VerifierOption configures a Verifier.
type VerifierOption func(*Verifier)

// WithVerifierLogger sets the logger.
func WithVerifierLogger(l *slog.Logger) VerifierOption {
	return func(v *Verifier) { v.logger = l }
}

// NewVerifier builds a proof verifier over the given keyring.
func NewVerifier(st *store.Store, keys *Keyring, opts ...VerifierOption) *Verifier {
	v := &Verifier{
		store:  st,
		keys:   keys,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// VerifySignature checks one stored signature proof. The result is nil
// when the proof does not verify; the returned error explains why and is
// for the log, not for control flow.
func (v *Verifier) VerifySignature(ctx context.Context, p *store.SignatureProof, fetchMissingKeys bool) (*store.ProofVerification, error) {
	key, err := v.keys.PublicKey(ctx, p.KeyID, fetchMissingKeys)
	if err != nil {
		return nil, fmt.Errorf("resolve key: %w", err)
	}
	return verifySignatureWithKey(p, key)
}

func verifySignatureWithKey(p *store.SignatureProof, key crypto.PublicKey) (*store.ProofVerification, error) {
	req, err := rebuildRequest(p.RequestMeta)
	if err != nil {
		return nil, err
	}
	verifier, err := httpsig.NewVerifier(req)
	if err != nil {
		return nil, fmt.Errorf("read signature: %w", err)
	}
	if verifier.KeyId() != p.KeyID {
		return nil, fmt.Errorf("key id drifted from %s to %s", p.KeyID, verifier.KeyId())
	}
	if err := verifier.Verify(key, signatureAlgorithm(p.Algorithm)); err != nil {
		return nil, fmt.Errorf("signature invalid: %w", err)
	}
	return &store.ProofVerification{
		NotificationID: p.NotificationID,
		ProofKind:      store.ProofKindSignature,
		ProofID:        p.ID,
		KeyID:          p.KeyID,
	}, nil
}

// Evaluate verifies every proof attached to the notification
// independently and appends a verification row for each success. It
// reports whether the notification is authorized: at least one signature
// proof verified. Digest proofs are recorded but never authorize.
// The error return is reserved for storage failures.
func (v *Verifier) Evaluate(ctx context.Context, notificationID string, fetchMissingKeys bool) (bool, error) {
	sigs, err := v.store.SignatureProofs(ctx, notificationID)
	if err != nil {
		return false, err
	}
	digests, err := v.store.DigestProofs(ctx, notificationID)
	if err != nil {
		return false, err
	}

	authorized := false
	for _, p := range sigs {
		rec, verr := v.VerifySignature(ctx, p, fetchMissingKeys)
		if rec == nil {
			metrics.ProofVerifications.WithLabelValues(store.ProofKindSignature, "fail").Inc()
			v.logger.Debug("signature proof did not verify",
				"notification", notificationID,
				"key_id", p.KeyID,
				"reason", verr)
			continue
		}
		if err := v.store.AppendVerification(ctx, rec); err != nil {
			return false, err
		}
		metrics.ProofVerifications.WithLabelValues(store.ProofKindSignature, "ok").Inc()
		authorized = true
	}

	for _, p := range digests {
		rec, verr := VerifyDigest(p)
		if rec == nil {
			metrics.ProofVerifications.WithLabelValues(store.ProofKindDigest, "fail").Inc()
			v.logger.Debug("digest proof did not verify",
				"notification", notificationID,
				"reason", verr)
			continue
		}
		if err := v.store.AppendVerification(ctx, rec); err != nil {
			return false, err
		}
		metrics.ProofVerifications.WithLabelValues(store.ProofKindDigest, "ok").Inc()
	}

	return authorized, nil
}
