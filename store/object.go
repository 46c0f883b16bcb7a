package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Object is the relational projection of a content node such as a Note or
// Article.
type Object struct {
	ReferenceID  ReferenceID
	Type         string
	Content      string
	MediaType    string
	Name         string
	Summary      string
	URL          string
	Sensitive    bool
	AttributedTo *ReferenceID
	InReplyTo    *ReferenceID
	PublishedAt  *time.Time
	UpdatedAt    time.Time
}

// UpsertObject writes the object projection for its reference.
func (s *Store) UpsertObject(ctx context.Context, o *Object) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO objects (
			reference_id, type, content, media_type, name, summary, url,
			sensitive, attributed_to_id, in_reply_to_id, published_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(reference_id) DO UPDATE SET
			type = excluded.type,
			content = excluded.content,
			media_type = excluded.media_type,
			name = excluded.name,
			summary = excluded.summary,
			url = excluded.url,
			sensitive = excluded.sensitive,
			attributed_to_id = excluded.attributed_to_id,
			in_reply_to_id = excluded.in_reply_to_id,
			published_at = excluded.published_at,
			updated_at = excluded.updated_at
	`,
		o.ReferenceID, o.Type, o.Content, o.MediaType, o.Name, o.Summary, o.URL,
		boolInt(o.Sensitive), nullableRefID(o.AttributedTo), nullableRefID(o.InReplyTo),
		unixPtr(o.PublishedAt), unix(s.now()),
	)
	if err != nil {
		return fmt.Errorf("upsert object: %w", err)
	}
	return nil
}

// ObjectByReference returns the object projection for a reference.
func (s *Store) ObjectByReference(ctx context.Context, refID ReferenceID) (*Object, error) {
	var (
		o         Object
		sensitive int
		attrTo    sql.NullInt64
		inReplyTo sql.NullInt64
		published sql.NullInt64
		updated   int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT reference_id, type, content, media_type, name, summary, url,
		       sensitive, attributed_to_id, in_reply_to_id, published_at, updated_at
		FROM objects WHERE reference_id = ?
	`, refID).Scan(
		&o.ReferenceID, &o.Type, &o.Content, &o.MediaType, &o.Name, &o.Summary, &o.URL,
		&sensitive, &attrTo, &inReplyTo, &published, &updated,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("object by reference: %w", err)
	}
	o.Sensitive = sensitive != 0
	o.AttributedTo = refIDPtr(attrTo)
	o.InReplyTo = refIDPtr(inReplyTo)
	o.PublishedAt = timePtr(published)
	o.UpdatedAt = timeAt(updated)
	return &o, nil
}

// RepliesTo lists the references of stored objects replying to the given
// reference, oldest first.
func (s *Store) RepliesTo(ctx context.Context, refID ReferenceID) ([]ReferenceID, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT reference_id FROM objects
		WHERE in_reply_to_id = ?
		ORDER BY COALESCE(published_at, updated_at), reference_id
	`, refID)
	if err != nil {
		return nil, fmt.Errorf("replies to: %w", err)
	}
	defer rows.Close()

	var ids []ReferenceID
	for rows.Next() {
		var id ReferenceID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("replies to: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
