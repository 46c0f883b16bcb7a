package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Activity is the relational projection of an activity node.
type Activity struct {
	ReferenceID ReferenceID
	Type        string
	ActorID     *ReferenceID
	ObjectID    *ReferenceID
	TargetID    *ReferenceID
	PublishedAt *time.Time
	UpdatedAt   time.Time
}

// UpsertActivity writes the activity projection for its reference.
func (s *Store) UpsertActivity(ctx context.Context, a *Activity) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO activities (reference_id, type, actor_id, object_id, target_id, published_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(reference_id) DO UPDATE SET
			type = excluded.type,
			actor_id = excluded.actor_id,
			object_id = excluded.object_id,
			target_id = excluded.target_id,
			published_at = excluded.published_at,
			updated_at = excluded.updated_at
	`,
		a.ReferenceID, a.Type, nullableRefID(a.ActorID), nullableRefID(a.ObjectID),
		nullableRefID(a.TargetID), unixPtr(a.PublishedAt), unix(s.now()),
	)
	if err != nil {
		return fmt.Errorf("upsert activity: %w", err)
	}
	return nil
}

// ActivityByReference returns the activity projection for a reference.
func (s *Store) ActivityByReference(ctx context.Context, refID ReferenceID) (*Activity, error) {
	var (
		a         Activity
		actor     sql.NullInt64
		object    sql.NullInt64
		target    sql.NullInt64
		published sql.NullInt64
		updated   int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT reference_id, type, actor_id, object_id, target_id, published_at, updated_at
		FROM activities WHERE reference_id = ?
	`, refID).Scan(&a.ReferenceID, &a.Type, &actor, &object, &target, &published, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("activity by reference: %w", err)
	}
	a.ActorID = refIDPtr(actor)
	a.ObjectID = refIDPtr(object)
	a.TargetID = refIDPtr(target)
	a.PublishedAt = timePtr(published)
	a.UpdatedAt = timeAt(updated)
	return &a, nil
}

// ActivitiesByObject lists activities whose object is the given reference,
// optionally narrowed to a type. Undo handling uses this to locate the
// activity being retracted.
func (s *Store) ActivitiesByObject(ctx context.Context, objectID ReferenceID, activityType string) ([]*Activity, error) {
	query := `
		SELECT reference_id, type, actor_id, object_id, target_id, published_at, updated_at
		FROM activities WHERE object_id = ?
	`
	args := []any{objectID}
	if activityType != "" {
		query += ` AND type = ?`
		args = append(args, activityType)
	}
	query += ` ORDER BY reference_id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("activities by object: %w", err)
	}
	defer rows.Close()

	var out []*Activity
	for rows.Next() {
		var (
			a         Activity
			actor     sql.NullInt64
			object    sql.NullInt64
			target    sql.NullInt64
			published sql.NullInt64
			updated   int64
		)
		err := rows.Scan(&a.ReferenceID, &a.Type, &actor, &object, &target, &published, &updated)
		if err != nil {
			return nil, fmt.Errorf("activities by object: %w", err)
		}
		a.ActorID = refIDPtr(actor)
		a.ObjectID = refIDPtr(object)
		a.TargetID = refIDPtr(target)
		a.PublishedAt = timePtr(published)
		a.UpdatedAt = timeAt(updated)
		out = append(out, &a)
	}
	return out, rows.Err()
}
