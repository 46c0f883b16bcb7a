package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// LocalKey is the RSA keypair of a local actor. The private PEM is only
// ever read for signing outbound requests.
type LocalKey struct {
	ReferenceID ReferenceID
	KeyID       string
	PublicPEM   string
	PrivatePEM  string
	CreatedAt   time.Time
}

// CreateLocalKey stores a freshly generated keypair for a local actor.
func (s *Store) CreateLocalKey(ctx context.Context, k *LocalKey) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO local_keys (reference_id, key_id, public_pem, private_pem, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, k.ReferenceID, k.KeyID, k.PublicPEM, k.PrivatePEM, unix(s.now()))
	if err != nil {
		return fmt.Errorf("create local key: %w", err)
	}
	return nil
}

// LocalKeyByReference returns the keypair owned by a local actor.
func (s *Store) LocalKeyByReference(ctx context.Context, refID ReferenceID) (*LocalKey, error) {
	return s.scanLocalKey(s.db.QueryRowContext(ctx, `
		SELECT reference_id, key_id, public_pem, private_pem, created_at
		FROM local_keys WHERE reference_id = ?
	`, refID))
}

// LocalKeyByKeyID returns the keypair published under the given key id.
func (s *Store) LocalKeyByKeyID(ctx context.Context, keyID string) (*LocalKey, error) {
	return s.scanLocalKey(s.db.QueryRowContext(ctx, `
		SELECT reference_id, key_id, public_pem, private_pem, created_at
		FROM local_keys WHERE key_id = ?
	`, keyID))
}

func (s *Store) scanLocalKey(row *sql.Row) (*LocalKey, error) {
	var (
		k       LocalKey
		created int64
	)
	err := row.Scan(&k.ReferenceID, &k.KeyID, &k.PublicPEM, &k.PrivatePEM, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan local key: %w", err)
	}
	k.CreatedAt = timeAt(created)
	return &k, nil
}
