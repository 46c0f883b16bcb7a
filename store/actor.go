package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Actor is the relational projection of an actor node. Linked collections
// and keys are held as references so sanitized documents can drop them
// without breaking the row.
type Actor struct {
	ReferenceID               ReferenceID
	Type                      string
	PreferredUsername         string
	Name                      string
	Summary                   string
	InboxID                   *ReferenceID
	OutboxID                  *ReferenceID
	FollowersID               *ReferenceID
	FollowingID               *ReferenceID
	SharedInboxID             *ReferenceID
	PublicKeyID               string
	PublicKeyPEM              string
	ManuallyApprovesFollowers bool
	UpdatedAt                 time.Time
}

// UpsertActor writes the actor projection for its reference, replacing the
// previous projection. Re-processing the same document is a no-op apart
// from the updated_at stamp.
func (s *Store) UpsertActor(ctx context.Context, a *Actor) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO actors (
			reference_id, type, preferred_username, name, summary,
			inbox_id, outbox_id, followers_id, following_id, shared_inbox_id,
			public_key_id, public_key_pem, manually_approves_followers, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(reference_id) DO UPDATE SET
			type = excluded.type,
			preferred_username = excluded.preferred_username,
			name = excluded.name,
			summary = excluded.summary,
			inbox_id = excluded.inbox_id,
			outbox_id = excluded.outbox_id,
			followers_id = excluded.followers_id,
			following_id = excluded.following_id,
			shared_inbox_id = excluded.shared_inbox_id,
			public_key_id = excluded.public_key_id,
			public_key_pem = excluded.public_key_pem,
			manually_approves_followers = excluded.manually_approves_followers,
			updated_at = excluded.updated_at
	`,
		a.ReferenceID, a.Type, a.PreferredUsername, a.Name, a.Summary,
		nullableRefID(a.InboxID), nullableRefID(a.OutboxID), nullableRefID(a.FollowersID),
		nullableRefID(a.FollowingID), nullableRefID(a.SharedInboxID),
		a.PublicKeyID, a.PublicKeyPEM, boolInt(a.ManuallyApprovesFollowers), unix(s.now()),
	)
	if err != nil {
		return fmt.Errorf("upsert actor: %w", err)
	}
	return nil
}

// ActorByReference returns the actor projection for a reference.
func (s *Store) ActorByReference(ctx context.Context, refID ReferenceID) (*Actor, error) {
	var (
		a       Actor
		inbox   sql.NullInt64
		outbox  sql.NullInt64
		flwrs   sql.NullInt64
		flwng   sql.NullInt64
		shared  sql.NullInt64
		manual  int
		updated int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT reference_id, type, preferred_username, name, summary,
		       inbox_id, outbox_id, followers_id, following_id, shared_inbox_id,
		       public_key_id, public_key_pem, manually_approves_followers, updated_at
		FROM actors WHERE reference_id = ?
	`, refID).Scan(
		&a.ReferenceID, &a.Type, &a.PreferredUsername, &a.Name, &a.Summary,
		&inbox, &outbox, &flwrs, &flwng, &shared,
		&a.PublicKeyID, &a.PublicKeyPEM, &manual, &updated,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("actor by reference: %w", err)
	}
	a.InboxID = refIDPtr(inbox)
	a.OutboxID = refIDPtr(outbox)
	a.FollowersID = refIDPtr(flwrs)
	a.FollowingID = refIDPtr(flwng)
	a.SharedInboxID = refIDPtr(shared)
	a.ManuallyApprovesFollowers = manual != 0
	a.UpdatedAt = timeAt(updated)
	return &a, nil
}

// ActorByKeyID finds the actor whose published key carries the given key
// id. Used to map a signature back to its signer.
func (s *Store) ActorByKeyID(ctx context.Context, keyID string) (*Actor, error) {
	var refID ReferenceID
	err := s.db.QueryRowContext(ctx, `
		SELECT reference_id FROM actors WHERE public_key_id = ?
	`, keyID).Scan(&refID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("actor by key id: %w", err)
	}
	return s.ActorByReference(ctx, refID)
}

// ActorByUsername finds a local actor by preferred username. Used by
// webfinger lookup.
func (s *Store) ActorByUsername(ctx context.Context, username string) (*Actor, *Reference, error) {
	var refID ReferenceID
	err := s.db.QueryRowContext(ctx, `
		SELECT a.reference_id FROM actors a
		JOIN refs r ON r.id = a.reference_id
		WHERE a.preferred_username = ? AND r.local = 1 AND r.deleted_at IS NULL
	`, username).Scan(&refID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, ErrNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("actor by username: %w", err)
	}
	actor, err := s.ActorByReference(ctx, refID)
	if err != nil {
		return nil, nil, err
	}
	ref, err := s.ReferenceByID(ctx, refID)
	if err != nil {
		return nil, nil, err
	}
	return actor, ref, nil
}

// CollectionOwner resolves a collection reference back to the actor that
// advertises it, returning the owner's reference and the collection name.
// Used when serving a GET of a followers/following/outbox URI.
func (s *Store) CollectionOwner(ctx context.Context, refID ReferenceID) (ReferenceID, string, error) {
	var (
		owner  ReferenceID
		inbox  sql.NullInt64
		outbox sql.NullInt64
		flwrs  sql.NullInt64
		flwng  sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT reference_id, inbox_id, outbox_id, followers_id, following_id
		FROM actors
		WHERE inbox_id = ? OR outbox_id = ? OR followers_id = ? OR following_id = ?
	`, refID, refID, refID, refID).Scan(&owner, &inbox, &outbox, &flwrs, &flwng)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, "", ErrNotFound
	}
	if err != nil {
		return 0, "", fmt.Errorf("collection owner: %w", err)
	}
	switch {
	case flwrs.Valid && ReferenceID(flwrs.Int64) == refID:
		return owner, CollectionFollowers, nil
	case flwng.Valid && ReferenceID(flwng.Int64) == refID:
		return owner, CollectionFollowing, nil
	case outbox.Valid && ReferenceID(outbox.Int64) == refID:
		return owner, CollectionOutbox, nil
	default:
		return owner, CollectionInbox, nil
	}
}

// TootActor carries the Mastodon vocabulary extension fields for an actor.
type TootActor struct {
	ReferenceID  ReferenceID
	FeaturedID   *ReferenceID
	Discoverable bool
	Indexable    bool
	Suspended    bool
	UpdatedAt    time.Time
}

// UpsertTootActor writes the extension projection for an actor reference.
func (s *Store) UpsertTootActor(ctx context.Context, t *TootActor) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO toot_actors (reference_id, featured_id, discoverable, indexable, suspended, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(reference_id) DO UPDATE SET
			featured_id = excluded.featured_id,
			discoverable = excluded.discoverable,
			indexable = excluded.indexable,
			suspended = excluded.suspended,
			updated_at = excluded.updated_at
	`, t.ReferenceID, nullableRefID(t.FeaturedID), boolInt(t.Discoverable), boolInt(t.Indexable), boolInt(t.Suspended), unix(s.now()))
	if err != nil {
		return fmt.Errorf("upsert toot actor: %w", err)
	}
	return nil
}

// TootActorByReference returns the extension projection for an actor.
func (s *Store) TootActorByReference(ctx context.Context, refID ReferenceID) (*TootActor, error) {
	var (
		t        TootActor
		featured sql.NullInt64
		disc     int
		idx      int
		susp     int
		updated  int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT reference_id, featured_id, discoverable, indexable, suspended, updated_at
		FROM toot_actors WHERE reference_id = ?
	`, refID).Scan(&t.ReferenceID, &featured, &disc, &idx, &susp, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("toot actor by reference: %w", err)
	}
	t.FeaturedID = refIDPtr(featured)
	t.Discoverable = disc != 0
	t.Indexable = idx != 0
	t.Suspended = susp != 0
	t.UpdatedAt = timeAt(updated)
	return &t, nil
}
