package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Collection names owned by a reference.
const (
	CollectionFollowers = "followers"
	CollectionFollowing = "following"
	CollectionLiked     = "liked"
	CollectionLikes     = "likes"
	CollectionShares    = "shares"
	CollectionReplies   = "replies"
	CollectionOutbox    = "outbox"
	CollectionInbox     = "inbox"
	CollectionFeatured  = "featured"

	// CollectionItems holds members of a collection addressed by its own
	// reference, as mutated by Add and Remove activities.
	CollectionItems = "items"
)

// CollectionMember is one row of a set-semantics collection.
type CollectionMember struct {
	ID          int64
	OwnerID     ReferenceID
	Collection  string
	MemberID    ReferenceID
	PublishedAt *time.Time
	AddedAt     time.Time
}

// AddToCollection inserts a member into an owner's collection. Adding an
// existing member is a no-op; the UNIQUE constraint collapses concurrent
// duplicate adds to a single row.
func (s *Store) AddToCollection(ctx context.Context, owner ReferenceID, collection string, member ReferenceID, published *time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO collection_members (owner_id, collection, member_id, published_at, added_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(owner_id, collection, member_id) DO NOTHING
	`, owner, collection, member, unixPtr(published), unix(s.now()))
	if err != nil {
		return fmt.Errorf("add to collection: %w", err)
	}
	return nil
}

// RemoveFromCollection deletes a member from an owner's collection.
// Removing an absent member is a no-op.
func (s *Store) RemoveFromCollection(ctx context.Context, owner ReferenceID, collection string, member ReferenceID) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM collection_members WHERE owner_id = ? AND collection = ? AND member_id = ?
	`, owner, collection, member)
	if err != nil {
		return fmt.Errorf("remove from collection: %w", err)
	}
	return nil
}

// InCollection reports whether member belongs to the owner's collection.
func (s *Store) InCollection(ctx context.Context, owner ReferenceID, collection string, member ReferenceID) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(1) FROM collection_members WHERE owner_id = ? AND collection = ? AND member_id = ?
	`, owner, collection, member).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("in collection: %w", err)
	}
	return n > 0, nil
}

// CollectionMembers lists a collection's members newest first, ordered by
// member publication time with insertion order as tie-break.
func (s *Store) CollectionMembers(ctx context.Context, owner ReferenceID, collection string, limit int) ([]*CollectionMember, error) {
	query := `
		SELECT id, owner_id, collection, member_id, published_at, added_at
		FROM collection_members
		WHERE owner_id = ? AND collection = ?
		ORDER BY COALESCE(published_at, added_at) DESC, id DESC
	`
	args := []any{owner, collection}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("collection members: %w", err)
	}
	defer rows.Close()

	var out []*CollectionMember
	for rows.Next() {
		var (
			m         CollectionMember
			published sql.NullInt64
			added     int64
		)
		err := rows.Scan(&m.ID, &m.OwnerID, &m.Collection, &m.MemberID, &published, &added)
		if err != nil {
			return nil, fmt.Errorf("collection members: %w", err)
		}
		m.PublishedAt = timePtr(published)
		m.AddedAt = timeAt(added)
		out = append(out, &m)
	}
	return out, rows.Err()
}

// CollectionCount returns the number of members in an owner's collection.
func (s *Store) CollectionCount(ctx context.Context, owner ReferenceID, collection string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(1) FROM collection_members WHERE owner_id = ? AND collection = ?
	`, owner, collection).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("collection count: %w", err)
	}
	return n, nil
}
