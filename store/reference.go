package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// ReferenceID identifies a reference row.
type ReferenceID int64

// Fetch status values for a reference.
const (
	FetchStatusNone        = ""
	FetchStatusOK          = "ok"
	FetchStatusUnreachable = "unreachable"
	FetchStatusInvalid     = "invalid"
)

// Reference is a URI-identified node in the federated graph. Identity is
// created lazily and never implies trust in the node's data.
type Reference struct {
	ID            ReferenceID
	URI           string
	Domain        string
	Local         bool
	FetchStatus   string
	FetchedAt     *time.Time
	LastAttemptAt *time.Time
	DeletedAt     *time.Time
	CreatedAt     time.Time
}

// Tombstoned reports whether the reference was deleted.
func (r *Reference) Tombstoned() bool { return r.DeletedAt != nil }

// GetOrCreateReference returns the reference for uri, creating it if absent.
// Safe under concurrent creation: the UNIQUE constraint absorbs the race and
// the follow-up select observes whichever insert won.
func (s *Store) GetOrCreateReference(ctx context.Context, uri string) (*Reference, error) {
	uri = strings.TrimSpace(uri)
	if uri == "" {
		return nil, fmt.Errorf("get or create reference: %w", ErrEmptyURI)
	}
	domain := DomainOf(uri)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refs (uri, domain, local, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(uri) DO NOTHING
	`, uri, domain, boolInt(s.localDomains[domain]), unix(s.now()))
	if err != nil {
		return nil, fmt.Errorf("get or create reference: %w", err)
	}
	return s.ReferenceByURI(ctx, uri)
}

// ReferenceByURI looks up a reference by canonical URI.
func (s *Store) ReferenceByURI(ctx context.Context, uri string) (*Reference, error) {
	return s.scanReference(s.db.QueryRowContext(ctx, `
		SELECT id, uri, domain, local, fetch_status, fetched_at, last_attempt_at, deleted_at, created_at
		FROM refs WHERE uri = ?
	`, uri))
}

// ReferenceByID looks up a reference by row id.
func (s *Store) ReferenceByID(ctx context.Context, id ReferenceID) (*Reference, error) {
	return s.scanReference(s.db.QueryRowContext(ctx, `
		SELECT id, uri, domain, local, fetch_status, fetched_at, last_attempt_at, deleted_at, created_at
		FROM refs WHERE id = ?
	`, id))
}

func (s *Store) scanReference(row *sql.Row) (*Reference, error) {
	var (
		r         Reference
		local     int
		fetchedAt sql.NullInt64
		attempt   sql.NullInt64
		deletedAt sql.NullInt64
		createdAt int64
	)
	err := row.Scan(&r.ID, &r.URI, &r.Domain, &local, &r.FetchStatus, &fetchedAt, &attempt, &deletedAt, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan reference: %w", err)
	}
	r.Local = local != 0
	r.FetchedAt = timePtr(fetchedAt)
	r.LastAttemptAt = timePtr(attempt)
	r.DeletedAt = timePtr(deletedAt)
	r.CreatedAt = timeAt(createdAt)
	return &r, nil
}

// TryFetchAttempt atomically claims a fetch slot for the reference. It
// reports false when the minimum re-fetch interval has not elapsed since
// the previous attempt; on true the attempt clock is already advanced, so
// concurrent callers cannot both win.
func (s *Store) TryFetchAttempt(ctx context.Context, id ReferenceID, minInterval time.Duration) (bool, error) {
	now := s.now()
	cutoff := now.Add(-minInterval)
	res, err := s.db.ExecContext(ctx, `
		UPDATE refs SET last_attempt_at = ?
		WHERE id = ? AND (last_attempt_at IS NULL OR last_attempt_at <= ?)
	`, unix(now), id, unix(cutoff))
	if err != nil {
		return false, fmt.Errorf("claim fetch attempt: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim fetch attempt: %w", err)
	}
	return n > 0, nil
}

// MarkFetched records a successful resolution.
func (s *Store) MarkFetched(ctx context.Context, id ReferenceID) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE refs SET fetch_status = ?, fetched_at = ? WHERE id = ?
	`, FetchStatusOK, unix(s.now()), id)
	if err != nil {
		return fmt.Errorf("mark fetched: %w", err)
	}
	return nil
}

// MarkFetchFailed records a failed resolution with its classification.
func (s *Store) MarkFetchFailed(ctx context.Context, id ReferenceID, status string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE refs SET fetch_status = ? WHERE id = ?
	`, status, id)
	if err != nil {
		return fmt.Errorf("mark fetch failed: %w", err)
	}
	return nil
}

// TombstoneReference soft-deletes a reference. Idempotent; the first
// deletion instant wins.
func (s *Store) TombstoneReference(ctx context.Context, id ReferenceID) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE refs SET deleted_at = ? WHERE id = ? AND deleted_at IS NULL
	`, unix(s.now()), id)
	if err != nil {
		return fmt.Errorf("tombstone reference: %w", err)
	}
	return nil
}

// DomainOf extracts the lowercased authority from a URI. URNs and other
// authority-less URIs yield the empty string.
func DomainOf(uri string) string {
	u, err := url.Parse(uri)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Host)
}
