package activity

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/semfed/authority"
	"github.com/c360studio/semfed/store"
)

var testEpoch = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type captureOutbound struct {
	delivered []*store.Notification
}

func (c *captureOutbound) Deliver(_ context.Context, n *store.Notification) error {
	c.delivered = append(c.delivered, n)
	return nil
}

func newTestMachine(t *testing.T) (*Machine, *store.Store, *captureOutbound) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "semfed.db"),
		store.WithClock(clockwork.NewFakeClockAt(testEpoch)),
		store.WithLocalDomains([]string{"example.local"}))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	out := &captureOutbound{}
	m := New(st, authority.NewChecker([]string{"example.local"}),
		WithOutbound(out),
		WithClock(clockwork.NewFakeClockAt(testEpoch)))
	return m, st, out
}

func mkRef(t *testing.T, st *store.Store, uri string) *store.Reference {
	t.Helper()
	ref, err := st.GetOrCreateReference(context.Background(), uri)
	require.NoError(t, err)
	return ref
}

func mkActivity(t *testing.T, st *store.Store, uri, typ string, actor, object, target *store.Reference) *store.Activity {
	t.Helper()
	ref := mkRef(t, st, uri)
	act := &store.Activity{ReferenceID: ref.ID, Type: typ}
	if actor != nil {
		act.ActorID = &actor.ID
	}
	if object != nil {
		act.ObjectID = &object.ID
	}
	if target != nil {
		act.TargetID = &target.ID
	}
	require.NoError(t, st.UpsertActivity(context.Background(), act))
	return act
}

func mkLocalActor(t *testing.T, st *store.Store, uri string, manual bool) *store.Reference {
	t.Helper()
	ref := mkRef(t, st, uri)
	require.NoError(t, st.UpsertActor(context.Background(), &store.Actor{
		ReferenceID:               ref.ID,
		Type:                      "Person",
		ManuallyApprovesFollowers: manual,
	}))
	return ref
}

func TestFollow_AutoAccept(t *testing.T) {
	m, st, out := newTestMachine(t)
	ctx := context.Background()

	alice := mkRef(t, st, "https://remote.example/users/alice")
	bob := mkLocalActor(t, st, "https://example.local/users/bob", false)
	follow := mkActivity(t, st, "https://remote.example/activities/follow-1", "Follow",
		alice, bob, nil)

	require.NoError(t, m.Do(ctx, follow))

	fr, err := st.FollowRequestByPair(ctx, alice.ID, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, store.FollowAccepted, fr.Status)
	require.NotNil(t, fr.ResponseID)

	accept, err := st.ActivityByReference(ctx, *fr.ResponseID)
	require.NoError(t, err)
	assert.Equal(t, "Accept", accept.Type)
	require.NotNil(t, accept.ActorID)
	assert.Equal(t, bob.ID, *accept.ActorID)

	inFollowers, err := st.InCollection(ctx, bob.ID, store.CollectionFollowers, alice.ID)
	require.NoError(t, err)
	assert.True(t, inFollowers)
	inFollowing, err := st.InCollection(ctx, alice.ID, store.CollectionFollowing, bob.ID)
	require.NoError(t, err)
	assert.True(t, inFollowing)

	require.Len(t, out.delivered, 1)
	assert.Equal(t, store.DirectionOutbound, out.delivered[0].Direction)
	assert.Equal(t, bob.ID, out.delivered[0].SenderID)
	assert.Equal(t, alice.ID, out.delivered[0].TargetID)
}

func TestFollow_AutoAcceptIdempotent(t *testing.T) {
	m, st, out := newTestMachine(t)
	ctx := context.Background()

	alice := mkRef(t, st, "https://remote.example/users/alice")
	bob := mkLocalActor(t, st, "https://example.local/users/bob", false)
	follow := mkActivity(t, st, "https://remote.example/activities/follow-1", "Follow",
		alice, bob, nil)

	require.NoError(t, m.Do(ctx, follow))
	fr, err := st.FollowRequestByPair(ctx, alice.ID, bob.ID)
	require.NoError(t, err)
	first := fr.ResponseID

	require.NoError(t, m.Do(ctx, follow))

	fr, err = st.FollowRequestByPair(ctx, alice.ID, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, *first, *fr.ResponseID, "redelivery must not mint a second response")
	assert.Len(t, out.delivered, 1)

	n, err := st.CollectionCount(ctx, bob.ID, store.CollectionFollowers)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestFollow_ManualApprovalStaysPending(t *testing.T) {
	m, st, out := newTestMachine(t)
	ctx := context.Background()

	alice := mkRef(t, st, "https://remote.example/users/alice")
	bob := mkLocalActor(t, st, "https://example.local/users/bob", true)
	follow := mkActivity(t, st, "https://remote.example/activities/follow-1", "Follow",
		alice, bob, nil)

	require.NoError(t, m.Do(ctx, follow))

	fr, err := st.FollowRequestByPair(ctx, alice.ID, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, store.FollowPending, fr.Status)

	inFollowers, err := st.InCollection(ctx, bob.ID, store.CollectionFollowers, alice.ID)
	require.NoError(t, err)
	assert.False(t, inFollowers)
	assert.Empty(t, out.delivered)
}

func TestFollow_RemoteTargetStaysPending(t *testing.T) {
	m, st, out := newTestMachine(t)
	ctx := context.Background()

	alice := mkRef(t, st, "https://remote.example/users/alice")
	carol := mkRef(t, st, "https://other.example/users/carol")
	follow := mkActivity(t, st, "https://remote.example/activities/follow-1", "Follow",
		alice, carol, nil)

	require.NoError(t, m.Do(ctx, follow))

	fr, err := st.FollowRequestByPair(ctx, alice.ID, carol.ID)
	require.NoError(t, err)
	assert.Equal(t, store.FollowPending, fr.Status)
	assert.Empty(t, out.delivered)
}

func TestAccept_SettlesFollow(t *testing.T) {
	m, st, _ := newTestMachine(t)
	ctx := context.Background()

	alice := mkLocalActor(t, st, "https://example.local/users/alice", false)
	carol := mkRef(t, st, "https://remote.example/users/carol")
	follow := mkActivity(t, st, "https://example.local/activities/follow-1", "Follow",
		alice, carol, nil)
	require.NoError(t, m.Do(ctx, follow))

	followRef := mkRef(t, st, "https://example.local/activities/follow-1")
	accept := mkActivity(t, st, "https://remote.example/activities/accept-1", "Accept",
		carol, followRef, nil)
	require.NoError(t, m.Do(ctx, accept))

	fr, err := st.FollowRequestByPair(ctx, alice.ID, carol.ID)
	require.NoError(t, err)
	assert.Equal(t, store.FollowAccepted, fr.Status)

	inFollowers, err := st.InCollection(ctx, carol.ID, store.CollectionFollowers, alice.ID)
	require.NoError(t, err)
	assert.True(t, inFollowers)
	inFollowing, err := st.InCollection(ctx, alice.ID, store.CollectionFollowing, carol.ID)
	require.NoError(t, err)
	assert.True(t, inFollowing)
}

func TestAccept_FromWrongActorIgnored(t *testing.T) {
	m, st, _ := newTestMachine(t)
	ctx := context.Background()

	alice := mkLocalActor(t, st, "https://example.local/users/alice", false)
	carol := mkRef(t, st, "https://remote.example/users/carol")
	mallory := mkRef(t, st, "https://remote.example/users/mallory")
	follow := mkActivity(t, st, "https://example.local/activities/follow-1", "Follow",
		alice, carol, nil)
	require.NoError(t, m.Do(ctx, follow))

	followRef := mkRef(t, st, "https://example.local/activities/follow-1")
	forged := mkActivity(t, st, "https://remote.example/activities/accept-1", "Accept",
		mallory, followRef, nil)
	require.NoError(t, m.Do(ctx, forged))

	fr, err := st.FollowRequestByPair(ctx, alice.ID, carol.ID)
	require.NoError(t, err)
	assert.Equal(t, store.FollowPending, fr.Status)
}

func TestReject_SettlesWithoutMembership(t *testing.T) {
	m, st, _ := newTestMachine(t)
	ctx := context.Background()

	alice := mkLocalActor(t, st, "https://example.local/users/alice", false)
	carol := mkRef(t, st, "https://remote.example/users/carol")
	follow := mkActivity(t, st, "https://example.local/activities/follow-1", "Follow",
		alice, carol, nil)
	require.NoError(t, m.Do(ctx, follow))

	followRef := mkRef(t, st, "https://example.local/activities/follow-1")
	reject := mkActivity(t, st, "https://remote.example/activities/reject-1", "Reject",
		carol, followRef, nil)
	require.NoError(t, m.Do(ctx, reject))

	fr, err := st.FollowRequestByPair(ctx, alice.ID, carol.ID)
	require.NoError(t, err)
	assert.Equal(t, store.FollowRejected, fr.Status)

	inFollowers, err := st.InCollection(ctx, carol.ID, store.CollectionFollowers, alice.ID)
	require.NoError(t, err)
	assert.False(t, inFollowers)
}

func TestLike_ThenUndo(t *testing.T) {
	m, st, _ := newTestMachine(t)
	ctx := context.Background()

	alice := mkRef(t, st, "https://remote.example/users/alice")
	note := mkRef(t, st, "https://remote.example/notes/1")
	like := mkActivity(t, st, "https://remote.example/activities/like-1", "Like",
		alice, note, nil)

	require.NoError(t, m.Do(ctx, like))

	inLikes, err := st.InCollection(ctx, note.ID, store.CollectionLikes, like.ReferenceID)
	require.NoError(t, err)
	assert.True(t, inLikes)
	inLiked, err := st.InCollection(ctx, alice.ID, store.CollectionLiked, like.ReferenceID)
	require.NoError(t, err)
	assert.True(t, inLiked)

	likeRef := mkRef(t, st, "https://remote.example/activities/like-1")
	undo := mkActivity(t, st, "https://remote.example/activities/undo-1", "Undo",
		alice, likeRef, nil)
	require.NoError(t, m.Do(ctx, undo))

	inLikes, err = st.InCollection(ctx, note.ID, store.CollectionLikes, like.ReferenceID)
	require.NoError(t, err)
	assert.False(t, inLikes)
	inLiked, err = st.InCollection(ctx, alice.ID, store.CollectionLiked, like.ReferenceID)
	require.NoError(t, err)
	assert.False(t, inLiked)

	// Reversing again changes nothing and reports no error.
	require.NoError(t, m.Do(ctx, undo))
}

func TestLike_DeliveredTwice(t *testing.T) {
	m, st, _ := newTestMachine(t)
	ctx := context.Background()

	alice := mkRef(t, st, "https://remote.example/users/alice")
	note := mkRef(t, st, "https://remote.example/notes/1")
	like := mkActivity(t, st, "https://remote.example/activities/like-1", "Like",
		alice, note, nil)

	require.NoError(t, m.Do(ctx, like))
	require.NoError(t, m.Do(ctx, like))

	n, err := st.CollectionCount(ctx, note.ID, store.CollectionLikes)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "redelivery must not duplicate the membership")

	n, err = st.CollectionCount(ctx, alice.ID, store.CollectionLiked)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestUndo_WithoutPriorIsNoOp(t *testing.T) {
	m, st, _ := newTestMachine(t)
	ctx := context.Background()

	alice := mkRef(t, st, "https://remote.example/users/alice")
	ghost := mkRef(t, st, "https://remote.example/activities/never-seen")
	undo := mkActivity(t, st, "https://remote.example/activities/undo-1", "Undo",
		alice, ghost, nil)

	require.NoError(t, m.Do(ctx, undo))
}

func TestUndo_ByDifferentActorIgnored(t *testing.T) {
	m, st, _ := newTestMachine(t)
	ctx := context.Background()

	alice := mkRef(t, st, "https://remote.example/users/alice")
	mallory := mkRef(t, st, "https://remote.example/users/mallory")
	note := mkRef(t, st, "https://remote.example/notes/1")
	like := mkActivity(t, st, "https://remote.example/activities/like-1", "Like",
		alice, note, nil)
	require.NoError(t, m.Do(ctx, like))

	likeRef := mkRef(t, st, "https://remote.example/activities/like-1")
	undo := mkActivity(t, st, "https://remote.example/activities/undo-1", "Undo",
		mallory, likeRef, nil)
	require.NoError(t, m.Do(ctx, undo))

	inLikes, err := st.InCollection(ctx, note.ID, store.CollectionLikes, like.ReferenceID)
	require.NoError(t, err)
	assert.True(t, inLikes, "another actor's undo must not strip the membership")
}

func TestAnnounce_ThenUndo(t *testing.T) {
	m, st, _ := newTestMachine(t)
	ctx := context.Background()

	alice := mkRef(t, st, "https://remote.example/users/alice")
	note := mkRef(t, st, "https://remote.example/notes/1")
	announce := mkActivity(t, st, "https://remote.example/activities/boost-1", "Announce",
		alice, note, nil)

	require.NoError(t, m.Do(ctx, announce))
	inShares, err := st.InCollection(ctx, note.ID, store.CollectionShares, announce.ReferenceID)
	require.NoError(t, err)
	assert.True(t, inShares)

	boostRef := mkRef(t, st, "https://remote.example/activities/boost-1")
	undo := mkActivity(t, st, "https://remote.example/activities/undo-1", "Undo",
		alice, boostRef, nil)
	require.NoError(t, m.Do(ctx, undo))

	inShares, err = st.InCollection(ctx, note.ID, store.CollectionShares, announce.ReferenceID)
	require.NoError(t, err)
	assert.False(t, inShares)
}

func TestUndoFollow_WithdrawsRequest(t *testing.T) {
	m, st, _ := newTestMachine(t)
	ctx := context.Background()

	alice := mkRef(t, st, "https://remote.example/users/alice")
	bob := mkLocalActor(t, st, "https://example.local/users/bob", false)
	follow := mkActivity(t, st, "https://remote.example/activities/follow-1", "Follow",
		alice, bob, nil)
	require.NoError(t, m.Do(ctx, follow))

	followRef := mkRef(t, st, "https://remote.example/activities/follow-1")
	undo := mkActivity(t, st, "https://remote.example/activities/undo-1", "Undo",
		alice, followRef, nil)
	require.NoError(t, m.Do(ctx, undo))

	_, err := st.FollowRequestByPair(ctx, alice.ID, bob.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	inFollowers, err := st.InCollection(ctx, bob.ID, store.CollectionFollowers, alice.ID)
	require.NoError(t, err)
	assert.False(t, inFollowers)
	inFollowing, err := st.InCollection(ctx, alice.ID, store.CollectionFollowing, bob.ID)
	require.NoError(t, err)
	assert.False(t, inFollowing)
}

func TestAdd_SameDomainGranted(t *testing.T) {
	m, st, _ := newTestMachine(t)
	ctx := context.Background()

	alice := mkRef(t, st, "https://remote.example/users/alice")
	note := mkRef(t, st, "https://remote.example/notes/1")
	featured := mkRef(t, st, "https://remote.example/users/alice/collections/featured")
	add := mkActivity(t, st, "https://remote.example/activities/add-1", "Add",
		alice, note, featured)

	require.NoError(t, m.Do(ctx, add))

	in, err := st.InCollection(ctx, featured.ID, store.CollectionItems, note.ID)
	require.NoError(t, err)
	assert.True(t, in)

	remove := mkActivity(t, st, "https://remote.example/activities/remove-1", "Remove",
		alice, note, featured)
	require.NoError(t, m.Do(ctx, remove))

	in, err = st.InCollection(ctx, featured.ID, store.CollectionItems, note.ID)
	require.NoError(t, err)
	assert.False(t, in)
}

func TestAdd_RemoteOverLocalDenied(t *testing.T) {
	m, st, _ := newTestMachine(t)
	ctx := context.Background()

	alice := mkRef(t, st, "https://remote.example/users/alice")
	note := mkRef(t, st, "https://remote.example/notes/1")
	featured := mkRef(t, st, "https://example.local/users/bob/collections/featured")
	add := mkActivity(t, st, "https://remote.example/activities/add-1", "Add",
		alice, note, featured)

	require.NoError(t, m.Do(ctx, add))

	in, err := st.InCollection(ctx, featured.ID, store.CollectionItems, note.ID)
	require.NoError(t, err)
	assert.False(t, in, "a remote actor cannot curate a local collection")
}

func TestCreate_ThreadsReply(t *testing.T) {
	m, st, _ := newTestMachine(t)
	ctx := context.Background()

	alice := mkRef(t, st, "https://remote.example/users/alice")
	parent := mkRef(t, st, "https://example.local/notes/parent")
	reply := mkRef(t, st, "https://remote.example/notes/reply")
	require.NoError(t, st.UpsertObject(ctx, &store.Object{
		ReferenceID: reply.ID,
		Type:        "Note",
		InReplyTo:   &parent.ID,
	}))
	create := mkActivity(t, st, "https://remote.example/activities/create-1", "Create",
		alice, reply, nil)

	require.NoError(t, m.Do(ctx, create))

	in, err := st.InCollection(ctx, parent.ID, store.CollectionReplies, reply.ID)
	require.NoError(t, err)
	assert.True(t, in, "replies register even when the parent is identity only")

	// Redelivery leaves a single membership row.
	require.NoError(t, m.Do(ctx, create))
	n, err := st.CollectionCount(ctx, parent.ID, store.CollectionReplies)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestCreate_WithoutReplyIsNoOp(t *testing.T) {
	m, st, _ := newTestMachine(t)
	ctx := context.Background()

	alice := mkRef(t, st, "https://remote.example/users/alice")
	note := mkRef(t, st, "https://remote.example/notes/1")
	require.NoError(t, st.UpsertObject(ctx, &store.Object{
		ReferenceID: note.ID,
		Type:        "Note",
	}))
	create := mkActivity(t, st, "https://remote.example/activities/create-1", "Create",
		alice, note, nil)

	require.NoError(t, m.Do(ctx, create))
}

func TestDelete_TombstonesOwnObject(t *testing.T) {
	m, st, _ := newTestMachine(t)
	ctx := context.Background()

	alice := mkRef(t, st, "https://remote.example/users/alice")
	note := mkRef(t, st, "https://remote.example/notes/1")
	del := mkActivity(t, st, "https://remote.example/activities/delete-1", "Delete",
		alice, note, nil)

	require.NoError(t, m.Do(ctx, del))

	got, err := st.ReferenceByID(ctx, note.ID)
	require.NoError(t, err)
	assert.True(t, got.Tombstoned())
}

func TestDelete_ForeignObjectDenied(t *testing.T) {
	m, st, _ := newTestMachine(t)
	ctx := context.Background()

	alice := mkRef(t, st, "https://remote.example/users/alice")
	localNote := mkRef(t, st, "https://example.local/notes/1")
	del := mkActivity(t, st, "https://remote.example/activities/delete-1", "Delete",
		alice, localNote, nil)

	require.NoError(t, m.Do(ctx, del))

	got, err := st.ReferenceByID(ctx, localNote.ID)
	require.NoError(t, err)
	assert.False(t, got.Tombstoned(), "a remote sender cannot delete a local object")
}

func TestUnknownType_NoOp(t *testing.T) {
	m, st, _ := newTestMachine(t)
	ctx := context.Background()

	alice := mkRef(t, st, "https://remote.example/users/alice")
	note := mkRef(t, st, "https://remote.example/notes/1")
	block := mkActivity(t, st, "https://remote.example/activities/block-1", "Block",
		alice, note, nil)

	require.NoError(t, m.Do(ctx, block))
}

