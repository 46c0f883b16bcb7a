package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectionSetSemantics(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	owner, err := s.GetOrCreateReference(ctx, "https://example.local/users/bob")
	require.NoError(t, err)
	member, err := s.GetOrCreateReference(ctx, "https://remote.example/users/alice")
	require.NoError(t, err)

	require.NoError(t, s.AddToCollection(ctx, owner.ID, CollectionFollowers, member.ID, nil))
	require.NoError(t, s.AddToCollection(ctx, owner.ID, CollectionFollowers, member.ID, nil))

	count, err := s.CollectionCount(ctx, owner.ID, CollectionFollowers)
	require.NoError(t, err)
	assert.Equal(t, 1, count, "duplicate adds collapse to one membership")

	in, err := s.InCollection(ctx, owner.ID, CollectionFollowers, member.ID)
	require.NoError(t, err)
	assert.True(t, in)

	require.NoError(t, s.RemoveFromCollection(ctx, owner.ID, CollectionFollowers, member.ID))
	require.NoError(t, s.RemoveFromCollection(ctx, owner.ID, CollectionFollowers, member.ID))

	in, err = s.InCollection(ctx, owner.ID, CollectionFollowers, member.ID)
	require.NoError(t, err)
	assert.False(t, in, "removal is idempotent")
}

// Concurrent duplicate adds must leave exactly one membership row.
func TestAddToCollection_Concurrent(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	owner, err := s.GetOrCreateReference(ctx, "https://remote.example/notes/1")
	require.NoError(t, err)
	member, err := s.GetOrCreateReference(ctx, "https://remote.example/users/alice")
	require.NoError(t, err)

	const workers = 12
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.AddToCollection(ctx, owner.ID, CollectionLikes, member.ID, nil); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	count, err := s.CollectionCount(ctx, owner.ID, CollectionLikes)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestCollectionMembers_OrderedByPublication(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()

	owner, err := s.GetOrCreateReference(ctx, "https://example.local/users/bob")
	require.NoError(t, err)

	older := testEpoch.Add(-2 * time.Hour)
	newer := testEpoch.Add(-time.Hour)

	first, err := s.GetOrCreateReference(ctx, "https://example.local/notes/1")
	require.NoError(t, err)
	second, err := s.GetOrCreateReference(ctx, "https://example.local/notes/2")
	require.NoError(t, err)
	third, err := s.GetOrCreateReference(ctx, "https://example.local/notes/3")
	require.NoError(t, err)

	// Insert out of publication order; listing must sort by published time.
	require.NoError(t, s.AddToCollection(ctx, owner.ID, CollectionOutbox, first.ID, &older))
	clock.Advance(time.Second)
	require.NoError(t, s.AddToCollection(ctx, owner.ID, CollectionOutbox, second.ID, &newer))
	clock.Advance(time.Second)
	require.NoError(t, s.AddToCollection(ctx, owner.ID, CollectionOutbox, third.ID, nil))

	members, err := s.CollectionMembers(ctx, owner.ID, CollectionOutbox, 0)
	require.NoError(t, err)
	require.Len(t, members, 3)
	assert.Equal(t, third.ID, members[0].MemberID, "unpublished member sorts by insertion time")
	assert.Equal(t, second.ID, members[1].MemberID)
	assert.Equal(t, first.ID, members[2].MemberID)

	limited, err := s.CollectionMembers(ctx, owner.ID, CollectionOutbox, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestCollectionsAreIndependent(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	owner, err := s.GetOrCreateReference(ctx, "https://example.local/users/bob")
	require.NoError(t, err)
	member, err := s.GetOrCreateReference(ctx, "https://remote.example/users/alice")
	require.NoError(t, err)

	require.NoError(t, s.AddToCollection(ctx, owner.ID, CollectionFollowers, member.ID, nil))

	in, err := s.InCollection(ctx, owner.ID, CollectionFollowing, member.ID)
	require.NoError(t, err)
	assert.False(t, in)
}

func TestFollowRequestLifecycle(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	actor, err := s.GetOrCreateReference(ctx, "https://remote.example/users/alice")
	require.NoError(t, err)
	object, err := s.GetOrCreateReference(ctx, "https://example.local/users/bob")
	require.NoError(t, err)
	follow, err := s.GetOrCreateReference(ctx, "https://remote.example/activities/follow-1")
	require.NoError(t, err)

	fr, err := s.UpsertFollowRequest(ctx, actor.ID, object.ID, &follow.ID)
	require.NoError(t, err)
	assert.Equal(t, FollowPending, fr.Status)
	require.NotNil(t, fr.ActivityID)
	assert.Equal(t, follow.ID, *fr.ActivityID)

	accept, err := s.GetOrCreateReference(ctx, "https://example.local/activities/accept-1")
	require.NoError(t, err)

	settled, err := s.ResolveFollowRequest(ctx, fr.ID, FollowAccepted, &accept.ID)
	require.NoError(t, err)
	assert.True(t, settled)

	// A second resolution reports false so only one response is minted.
	settled, err = s.ResolveFollowRequest(ctx, fr.ID, FollowAccepted, &accept.ID)
	require.NoError(t, err)
	assert.False(t, settled)

	got, err := s.FollowRequestByPair(ctx, actor.ID, object.ID)
	require.NoError(t, err)
	assert.Equal(t, FollowAccepted, got.Status)
	require.NotNil(t, got.ResponseID)
	assert.Equal(t, accept.ID, *got.ResponseID)

	byActivity, err := s.FollowRequestByActivity(ctx, follow.ID)
	require.NoError(t, err)
	assert.Equal(t, got.ID, byActivity.ID)
}

func TestUpsertFollowRequest_ReplayKeepsStatus(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	actor, err := s.GetOrCreateReference(ctx, "https://remote.example/users/alice")
	require.NoError(t, err)
	object, err := s.GetOrCreateReference(ctx, "https://example.local/users/bob")
	require.NoError(t, err)
	follow, err := s.GetOrCreateReference(ctx, "https://remote.example/activities/follow-1")
	require.NoError(t, err)

	fr, err := s.UpsertFollowRequest(ctx, actor.ID, object.ID, &follow.ID)
	require.NoError(t, err)
	_, err = s.ResolveFollowRequest(ctx, fr.ID, FollowAccepted, nil)
	require.NoError(t, err)

	replayed, err := s.UpsertFollowRequest(ctx, actor.ID, object.ID, &follow.ID)
	require.NoError(t, err)
	assert.Equal(t, fr.ID, replayed.ID)
	assert.Equal(t, FollowAccepted, replayed.Status, "replaying a Follow does not reopen a settled request")
}

func TestDeleteFollowRequest(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	actor, err := s.GetOrCreateReference(ctx, "https://remote.example/users/alice")
	require.NoError(t, err)
	object, err := s.GetOrCreateReference(ctx, "https://example.local/users/bob")
	require.NoError(t, err)

	fr, err := s.UpsertFollowRequest(ctx, actor.ID, object.ID, nil)
	require.NoError(t, err)
	_, err = s.ResolveFollowRequest(ctx, fr.ID, FollowAccepted, nil)
	require.NoError(t, err)

	require.NoError(t, s.DeleteFollowRequest(ctx, actor.ID, object.ID))

	_, err = s.FollowRequestByPair(ctx, actor.ID, object.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	// Withdrawing an absent request stays quiet.
	require.NoError(t, s.DeleteFollowRequest(ctx, actor.ID, object.ID))

	// A later re-Follow starts over as pending.
	fresh, err := s.UpsertFollowRequest(ctx, actor.ID, object.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, FollowPending, fresh.Status)
}

func TestResolveFollowRequest_InvalidStatus(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	actor, err := s.GetOrCreateReference(ctx, "https://remote.example/users/alice")
	require.NoError(t, err)
	object, err := s.GetOrCreateReference(ctx, "https://example.local/users/bob")
	require.NoError(t, err)
	fr, err := s.UpsertFollowRequest(ctx, actor.ID, object.ID, nil)
	require.NoError(t, err)

	_, err = s.ResolveFollowRequest(ctx, fr.ID, "pending", nil)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}
