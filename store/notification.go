package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Notification directions.
const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

// Notification statuses. A notification only ever moves forward through
// these; terminal statuses never change.
const (
	StatusReceived       = "received"
	StatusAuthenticating = "authenticating"
	StatusAuthorized     = "authorized"
	StatusUnauthorized   = "unauthorized"
	StatusProcessed      = "processed"
	StatusDropped        = "dropped"
	StatusRejected       = "rejected"
)

// validNext encodes the allowed forward transitions. Repeating the current
// status is treated as an idempotent no-op, which keeps at-least-once
// delivery safe.
var validNext = map[string]map[string]bool{
	StatusReceived:       {StatusAuthenticating: true, StatusDropped: true},
	StatusAuthenticating: {StatusAuthorized: true, StatusUnauthorized: true, StatusDropped: true},
	StatusAuthorized:     {StatusProcessed: true, StatusDropped: true, StatusRejected: true},
	StatusUnauthorized:   {StatusDropped: true, StatusRejected: true},
	StatusProcessed:      {},
	StatusDropped:        {},
	StatusRejected:       {},
}

// TerminalStatus reports whether a status admits no further transitions.
func TerminalStatus(status string) bool {
	next, ok := validNext[status]
	return ok && len(next) == 0
}

// Notification records one delivery attempt of a resource from a sender to
// a target, plus the lifecycle of checking and applying it.
type Notification struct {
	ID         string
	Direction  string
	SenderID   ReferenceID
	TargetID   ReferenceID
	ResourceID ReferenceID
	Status     string
	Error      string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// CreateNotification persists a new notification in the received state. A
// blank ID is filled with a fresh UUID.
func (s *Store) CreateNotification(ctx context.Context, n *Notification) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.Status == "" {
		n.Status = StatusReceived
	}
	now := unix(s.now())
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notifications (id, direction, sender_id, target_id, resource_id, status, error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, n.ID, n.Direction, n.SenderID, n.TargetID, n.ResourceID, n.Status, n.Error, now, now)
	if err != nil {
		return fmt.Errorf("create notification: %w", err)
	}
	n.CreatedAt = timeAt(now)
	n.UpdatedAt = timeAt(now)
	return nil
}

// NotificationByID returns a notification by its UUID.
func (s *Store) NotificationByID(ctx context.Context, id string) (*Notification, error) {
	return s.scanNotification(s.db.QueryRowContext(ctx, `
		SELECT id, direction, sender_id, target_id, resource_id, status, error, created_at, updated_at
		FROM notifications WHERE id = ?
	`, id))
}

func (s *Store) scanNotification(row *sql.Row) (*Notification, error) {
	var (
		n       Notification
		created int64
		updated int64
	)
	err := row.Scan(&n.ID, &n.Direction, &n.SenderID, &n.TargetID, &n.ResourceID, &n.Status, &n.Error, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan notification: %w", err)
	}
	n.CreatedAt = timeAt(created)
	n.UpdatedAt = timeAt(updated)
	return &n, nil
}

// SetNotificationStatus advances a notification's status. The transition
// is checked and applied in one transaction so concurrent workers cannot
// move a notification backward. Setting the current status again is a
// no-op; any other disallowed move returns ErrInvalidTransition.
func (s *Store) SetNotificationStatus(ctx context.Context, id, status, errMsg string) error {
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var current string
		err := tx.QueryRowContext(ctx, `SELECT status FROM notifications WHERE id = ?`, id).Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		if current == status {
			return nil
		}
		if !validNext[current][status] {
			return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, current, status)
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE notifications SET status = ?, error = ?, updated_at = ? WHERE id = ?
		`, status, errMsg, unix(s.now()), id)
		return err
	})
	if err != nil {
		return fmt.Errorf("set notification status: %w", err)
	}
	return nil
}

// PendingNotifications lists inbound notifications that have not reached a
// terminal status, oldest first. Startup recovery re-enqueues these.
func (s *Store) PendingNotifications(ctx context.Context) ([]*Notification, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, direction, sender_id, target_id, resource_id, status, error, created_at, updated_at
		FROM notifications
		WHERE direction = ? AND status IN (?, ?, ?)
		ORDER BY created_at, id
	`, DirectionInbound, StatusReceived, StatusAuthenticating, StatusAuthorized)
	if err != nil {
		return nil, fmt.Errorf("pending notifications: %w", err)
	}
	defer rows.Close()

	var out []*Notification
	for rows.Next() {
		var (
			n       Notification
			created int64
			updated int64
		)
		err := rows.Scan(&n.ID, &n.Direction, &n.SenderID, &n.TargetID, &n.ResourceID, &n.Status, &n.Error, &created, &updated)
		if err != nil {
			return nil, fmt.Errorf("pending notifications: %w", err)
		}
		n.CreatedAt = timeAt(created)
		n.UpdatedAt = timeAt(updated)
		out = append(out, &n)
	}
	return out, rows.Err()
}
