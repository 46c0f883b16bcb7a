package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Follow request statuses.
const (
	FollowPending  = "pending"
	FollowAccepted = "accepted"
	FollowRejected = "rejected"
)

// FollowRequest tracks the follow relationship between two actors across
// the Follow / Accept / Reject exchange. One row per (actor, object) pair.
type FollowRequest struct {
	ID         int64
	ActorID    ReferenceID
	ObjectID   ReferenceID
	ActivityID *ReferenceID
	Status     string
	ResponseID *ReferenceID
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// UpsertFollowRequest records a Follow from actor to object. A repeated
// Follow refreshes the activity reference but keeps the existing status,
// so replaying an already-accepted Follow does not reopen it.
func (s *Store) UpsertFollowRequest(ctx context.Context, actor, object ReferenceID, activity *ReferenceID) (*FollowRequest, error) {
	now := unix(s.now())
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO follow_requests (actor_id, object_id, activity_id, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(actor_id, object_id) DO UPDATE SET
			activity_id = excluded.activity_id,
			updated_at = excluded.updated_at
	`, actor, object, nullableRefID(activity), FollowPending, now, now)
	if err != nil {
		return nil, fmt.Errorf("upsert follow request: %w", err)
	}
	return s.FollowRequestByPair(ctx, actor, object)
}

// FollowRequestByPair returns the follow request between two actors.
func (s *Store) FollowRequestByPair(ctx context.Context, actor, object ReferenceID) (*FollowRequest, error) {
	return s.scanFollowRequest(s.db.QueryRowContext(ctx, `
		SELECT id, actor_id, object_id, activity_id, status, response_id, created_at, updated_at
		FROM follow_requests WHERE actor_id = ? AND object_id = ?
	`, actor, object))
}

// FollowRequestByActivity returns the follow request created by the given
// Follow activity. Accept and Reject handlers use this to find what is
// being answered.
func (s *Store) FollowRequestByActivity(ctx context.Context, activity ReferenceID) (*FollowRequest, error) {
	return s.scanFollowRequest(s.db.QueryRowContext(ctx, `
		SELECT id, actor_id, object_id, activity_id, status, response_id, created_at, updated_at
		FROM follow_requests WHERE activity_id = ?
	`, activity))
}

func (s *Store) scanFollowRequest(row *sql.Row) (*FollowRequest, error) {
	var (
		fr       FollowRequest
		activity sql.NullInt64
		response sql.NullInt64
		created  int64
		updated  int64
	)
	err := row.Scan(&fr.ID, &fr.ActorID, &fr.ObjectID, &activity, &fr.Status, &response, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan follow request: %w", err)
	}
	fr.ActivityID = refIDPtr(activity)
	fr.ResponseID = refIDPtr(response)
	fr.CreatedAt = timeAt(created)
	fr.UpdatedAt = timeAt(updated)
	return &fr, nil
}

// ResolveFollowRequest settles a pending follow request and records the
// responding activity. Only a pending request moves; settling an already
// settled request reports false so the caller can skip minting a second
// response.
func (s *Store) ResolveFollowRequest(ctx context.Context, id int64, status string, response *ReferenceID) (bool, error) {
	if status != FollowAccepted && status != FollowRejected {
		return false, fmt.Errorf("resolve follow request: %w: %s", ErrInvalidTransition, status)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE follow_requests SET status = ?, response_id = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`, status, nullableRefID(response), unix(s.now()), id, FollowPending)
	if err != nil {
		return false, fmt.Errorf("resolve follow request: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("resolve follow request: %w", err)
	}
	return n > 0, nil
}

// SetFollowResponse records the response activity on a follow request
// after the fact. Used when the request is settled first to claim it and
// the response activity is minted second.
func (s *Store) SetFollowResponse(ctx context.Context, id int64, response ReferenceID) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE follow_requests SET response_id = ?, updated_at = ? WHERE id = ?
	`, response, unix(s.now()), id)
	if err != nil {
		return fmt.Errorf("set follow response: %w", err)
	}
	return nil
}

// DeleteFollowRequest withdraws the follow relationship between two
// actors. Undo of a Follow uses this after removing the membership rows;
// a later re-Follow starts a fresh pending request. Deleting an absent
// request is a no-op.
func (s *Store) DeleteFollowRequest(ctx context.Context, actor, object ReferenceID) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM follow_requests WHERE actor_id = ? AND object_id = ?
	`, actor, object)
	if err != nil {
		return fmt.Errorf("delete follow request: %w", err)
	}
	return nil
}
