package store

import (
	"context"
	"fmt"
	"time"
)

// Proof kinds recorded against a notification.
const (
	ProofKindSignature = "signature"
	ProofKindDigest    = "digest"
)

// SignatureProof is an HTTP signature captured from a delivery, stored
// with enough of the original request to re-verify it later.
type SignatureProof struct {
	ID             int64
	NotificationID string
	KeyID          string
	Algorithm      string
	Headers        string
	Signature      []byte
	SigningString  string
	RequestMeta    []byte
	CreatedAt      time.Time
}

// DigestProof is a body digest captured from a delivery. Digests attest
// integrity only and never authorize on their own.
type DigestProof struct {
	ID             int64
	NotificationID string
	Header         string
	Algorithm      string
	Expected       []byte
	Actual         []byte
	CreatedAt      time.Time
}

// ProofVerification is one successful check of a stored proof. The table
// is append-only; re-verification adds a row rather than updating one.
type ProofVerification struct {
	ID             int64
	NotificationID string
	ProofKind      string
	ProofID        int64
	KeyID          string
	VerifiedAt     time.Time
}

// InsertSignatureProof stores a signature proof and returns its row id.
func (s *Store) InsertSignatureProof(ctx context.Context, p *SignatureProof) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO signature_proofs (notification_id, key_id, algorithm, headers, signature, signing_string, request_meta, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, p.NotificationID, p.KeyID, p.Algorithm, p.Headers, p.Signature, p.SigningString, p.RequestMeta, unix(s.now()))
	if err != nil {
		return 0, fmt.Errorf("insert signature proof: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert signature proof: %w", err)
	}
	p.ID = id
	return id, nil
}

// InsertDigestProof stores a digest proof and returns its row id.
func (s *Store) InsertDigestProof(ctx context.Context, p *DigestProof) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO digest_proofs (notification_id, header, algorithm, expected, actual, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, p.NotificationID, p.Header, p.Algorithm, p.Expected, p.Actual, unix(s.now()))
	if err != nil {
		return 0, fmt.Errorf("insert digest proof: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert digest proof: %w", err)
	}
	p.ID = id
	return id, nil
}

// SignatureProofs lists the signature proofs attached to a notification.
func (s *Store) SignatureProofs(ctx context.Context, notificationID string) ([]*SignatureProof, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, notification_id, key_id, algorithm, headers, signature, signing_string, request_meta, created_at
		FROM signature_proofs WHERE notification_id = ? ORDER BY id
	`, notificationID)
	if err != nil {
		return nil, fmt.Errorf("signature proofs: %w", err)
	}
	defer rows.Close()

	var out []*SignatureProof
	for rows.Next() {
		var (
			p       SignatureProof
			created int64
		)
		err := rows.Scan(&p.ID, &p.NotificationID, &p.KeyID, &p.Algorithm, &p.Headers, &p.Signature, &p.SigningString, &p.RequestMeta, &created)
		if err != nil {
			return nil, fmt.Errorf("signature proofs: %w", err)
		}
		p.CreatedAt = timeAt(created)
		out = append(out, &p)
	}
	return out, rows.Err()
}

// DigestProofs lists the digest proofs attached to a notification.
func (s *Store) DigestProofs(ctx context.Context, notificationID string) ([]*DigestProof, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, notification_id, header, algorithm, expected, actual, created_at
		FROM digest_proofs WHERE notification_id = ? ORDER BY id
	`, notificationID)
	if err != nil {
		return nil, fmt.Errorf("digest proofs: %w", err)
	}
	defer rows.Close()

	var out []*DigestProof
	for rows.Next() {
		var (
			p       DigestProof
			created int64
		)
		err := rows.Scan(&p.ID, &p.NotificationID, &p.Header, &p.Algorithm, &p.Expected, &p.Actual, &created)
		if err != nil {
			return nil, fmt.Errorf("digest proofs: %w", err)
		}
		p.CreatedAt = timeAt(created)
		out = append(out, &p)
	}
	return out, rows.Err()
}

// AppendVerification records a successful proof check.
func (s *Store) AppendVerification(ctx context.Context, v *ProofVerification) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO proof_verifications (notification_id, proof_kind, proof_id, key_id, verified_at)
		VALUES (?, ?, ?, ?, ?)
	`, v.NotificationID, v.ProofKind, v.ProofID, v.KeyID, unix(s.now()))
	if err != nil {
		return fmt.Errorf("append verification: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("append verification: %w", err)
	}
	v.ID = id
	return nil
}

// VerificationsFor lists the recorded verifications for a notification.
func (s *Store) VerificationsFor(ctx context.Context, notificationID string) ([]*ProofVerification, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, notification_id, proof_kind, proof_id, key_id, verified_at
		FROM proof_verifications WHERE notification_id = ? ORDER BY id
	`, notificationID)
	if err != nil {
		return nil, fmt.Errorf("verifications for: %w", err)
	}
	defer rows.Close()

	var out []*ProofVerification
	for rows.Next() {
		var (
			v        ProofVerification
			verified int64
		)
		err := rows.Scan(&v.ID, &v.NotificationID, &v.ProofKind, &v.ProofID, &v.KeyID, &verified)
		if err != nil {
			return nil, fmt.Errorf("verifications for: %w", err)
		}
		v.VerifiedAt = timeAt(verified)
		out = append(out, &v)
	}
	return out, rows.Err()
}
