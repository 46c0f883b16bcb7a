package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Document origins. Spool documents arrive through the re-ingestion
// directory rather than the network.
const (
	OriginInbound  = "inbound"
	OriginOutbound = "outbound"
	OriginFetch    = "fetch"
	OriginSpool    = "spool"
)

// Document is the raw body most recently seen for a reference. Bodies are
// retained even when graph parsing fails so they can be re-ingested later.
type Document struct {
	ID          int64
	ReferenceID ReferenceID
	Body        []byte
	ContentType string
	Origin      string
	ReceivedAt  time.Time
}

// UpsertDocument stores the raw document for a reference, replacing any
// previous body. Last write wins.
func (s *Store) UpsertDocument(ctx context.Context, refID ReferenceID, body []byte, contentType, origin string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (reference_id, body, content_type, origin, received_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(reference_id) DO UPDATE SET
			body = excluded.body,
			content_type = excluded.content_type,
			origin = excluded.origin,
			received_at = excluded.received_at
	`, refID, body, contentType, origin, unix(s.now()))
	if err != nil {
		return fmt.Errorf("upsert document: %w", err)
	}
	return nil
}

// DocumentByReference returns the stored raw document for a reference.
func (s *Store) DocumentByReference(ctx context.Context, refID ReferenceID) (*Document, error) {
	var (
		d        Document
		received int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, reference_id, body, content_type, origin, received_at
		FROM documents WHERE reference_id = ?
	`, refID).Scan(&d.ID, &d.ReferenceID, &d.Body, &d.ContentType, &d.Origin, &received)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("document by reference: %w", err)
	}
	d.ReceivedAt = timeAt(received)
	return &d, nil
}

// EachDocument streams every stored document to fn in insertion order.
// Used by re-ingestion to replay the corpus through the pipeline.
func (s *Store) EachDocument(ctx context.Context, fn func(*Document, *Reference) error) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT d.id, d.reference_id, d.body, d.content_type, d.origin, d.received_at,
		       r.id, r.uri, r.domain, r.local, r.fetch_status, r.fetched_at, r.last_attempt_at, r.deleted_at, r.created_at
		FROM documents d
		JOIN refs r ON r.id = d.reference_id
		ORDER BY d.id
	`)
	if err != nil {
		return fmt.Errorf("each document: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			d         Document
			received  int64
			r         Reference
			local     int
			fetchedAt sql.NullInt64
			attempt   sql.NullInt64
			deletedAt sql.NullInt64
			created   int64
		)
		err := rows.Scan(
			&d.ID, &d.ReferenceID, &d.Body, &d.ContentType, &d.Origin, &received,
			&r.ID, &r.URI, &r.Domain, &local, &r.FetchStatus, &fetchedAt, &attempt, &deletedAt, &created,
		)
		if err != nil {
			return fmt.Errorf("each document: %w", err)
		}
		d.ReceivedAt = timeAt(received)
		r.Local = local != 0
		r.FetchedAt = timePtr(fetchedAt)
		r.LastAttemptAt = timePtr(attempt)
		r.DeletedAt = timePtr(deletedAt)
		r.CreatedAt = timeAt(created)
		if err := fn(&d, &r); err != nil {
			return err
		}
	}
	return rows.Err()
}
