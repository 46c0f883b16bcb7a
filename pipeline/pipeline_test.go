package pipeline

import (
	"bytes"
	"context"
	"crypto"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/semfed/activity"
	"github.com/c360studio/semfed/authority"
	"github.com/c360studio/semfed/events"
	"github.com/c360studio/semfed/extract"
	"github.com/c360studio/semfed/graph"
	"github.com/c360studio/semfed/proof"
	"github.com/c360studio/semfed/queue"
	"github.com/c360studio/semfed/store"
)

var testEpoch = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type recordedOutbound struct {
	delivered []*store.Notification
}

func (r *recordedOutbound) Deliver(_ context.Context, n *store.Notification) error {
	r.delivered = append(r.delivered, n)
	return nil
}

func newFixture(t *testing.T, opts ...Option) (*Pipeline, *store.Store, *queue.Memory, *recordedOutbound) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "semfed.db"),
		store.WithClock(clockwork.NewFakeClockAt(testEpoch)),
		store.WithLocalDomains([]string{"example.local"}))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	checker := authority.NewChecker([]string{"example.local"})
	out := &recordedOutbound{}
	q := queue.NewMemory()
	machine := activity.New(st, checker,
		activity.WithOutbound(out),
		activity.WithClock(clockwork.NewFakeClockAt(testEpoch)))

	base := []Option{
		WithClock(clockwork.NewFakeClockAt(testEpoch)),
		WithFetchMissingKeys(false),
	}
	p := New(st, q,
		proof.NewVerifier(st, proof.NewKeyring(st, nil)),
		authority.NewFilter(checker),
		extract.NewRegistry(st, checker),
		machine,
		append(base, opts...)...)
	return p, st, q, out
}

func mkRef(t *testing.T, st *store.Store, uri string) *store.Reference {
	t.Helper()
	ref, err := st.GetOrCreateReference(context.Background(), uri)
	require.NoError(t, err)
	return ref
}

func mkLocalActor(t *testing.T, st *store.Store, uri string) *store.Reference {
	t.Helper()
	ref := mkRef(t, st, uri)
	require.NoError(t, st.UpsertActor(context.Background(), &store.Actor{
		ReferenceID: ref.ID,
		Type:        "Person",
	}))
	return ref
}

// mkRemoteActor stores a remote actor with a known public key and
// returns its reference plus the matching private key.
func mkRemoteActor(t *testing.T, st *store.Store, uri string) (*store.Reference, crypto.PrivateKey, string) {
	t.Helper()
	publicPEM, privatePEM, err := proof.GenerateKeyPEM(2048)
	require.NoError(t, err)
	key, err := proof.ParsePrivateKeyPEM(privatePEM)
	require.NoError(t, err)

	keyID := uri + "#main-key"
	ref := mkRef(t, st, uri)
	require.NoError(t, st.UpsertActor(context.Background(), &store.Actor{
		ReferenceID:  ref.ID,
		Type:         "Person",
		PublicKeyID:  keyID,
		PublicKeyPEM: publicPEM,
	}))
	return ref, key, keyID
}

// signedReceived builds the Received envelope a signed inbox POST
// produces: the body plus captured signature and digest proofs.
func signedReceived(t *testing.T, key crypto.PrivateKey, keyID, sender, target, resource string, body []byte) Received {
	t.Helper()
	r := httptest.NewRequest(http.MethodPost, target, bytes.NewReader(body))
	r.Host = "example.local"
	require.NoError(t, proof.SignRequest(key, keyID, r, body))

	sig, err := proof.CaptureSignature(r)
	require.NoError(t, err)
	require.NotNil(t, sig)
	dig, err := proof.CaptureDigest(r, body)
	require.NoError(t, err)
	require.NotNil(t, dig)

	return Received{
		Sender:      sender,
		Target:      target,
		Resource:    resource,
		Body:        body,
		ContentType: "application/activity+json",
		Signatures:  []*store.SignatureProof{sig},
		Digests:     []*store.DigestProof{dig},
	}
}

func TestProcess_FollowAutoAccept(t *testing.T) {
	p, st, _, out := newFixture(t)
	ctx := context.Background()

	alice, key, keyID := mkRemoteActor(t, st, "https://remote.example/users/alice")
	bob := mkLocalActor(t, st, "https://example.local/users/bob")

	body := []byte(`{
	  "@context": "https://www.w3.org/ns/activitystreams",
	  "id": "https://remote.example/activities/follow-1",
	  "type": "Follow",
	  "actor": "https://remote.example/users/alice",
	  "object": "https://example.local/users/bob"
	}`)
	rcv := signedReceived(t, key, keyID,
		"https://remote.example/users/alice",
		"https://example.local/users/bob/inbox",
		"https://remote.example/activities/follow-1",
		body)

	n, err := p.Receive(ctx, rcv)
	require.NoError(t, err)
	assert.Equal(t, store.StatusReceived, n.Status)

	require.NoError(t, p.Process(ctx, n.ID))

	got, err := st.NotificationByID(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusProcessed, got.Status)

	fr, err := st.FollowRequestByPair(ctx, alice.ID, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, store.FollowAccepted, fr.Status)

	inFollowers, err := st.InCollection(ctx, bob.ID, store.CollectionFollowers, alice.ID)
	require.NoError(t, err)
	assert.True(t, inFollowers)

	require.Len(t, out.delivered, 1, "the minted accept must reach the outbound sink")
	assert.Equal(t, store.DirectionOutbound, out.delivered[0].Direction)
	assert.Equal(t, bob.ID, out.delivered[0].SenderID)
	assert.Equal(t, alice.ID, out.delivered[0].TargetID)
}

func TestProcess_UnsignedRemoteStaysUnauthorized(t *testing.T) {
	p, st, _, _ := newFixture(t)
	ctx := context.Background()

	alice, _, _ := mkRemoteActor(t, st, "https://remote.example/users/alice")
	bob := mkLocalActor(t, st, "https://example.local/users/bob")

	body := []byte(`{
	  "@context": "https://www.w3.org/ns/activitystreams",
	  "id": "https://remote.example/activities/follow-1",
	  "type": "Follow",
	  "actor": "https://remote.example/users/alice",
	  "object": "https://example.local/users/bob"
	}`)
	n, err := p.Receive(ctx, Received{
		Sender:      "https://remote.example/users/alice",
		Target:      "https://example.local/users/bob/inbox",
		Resource:    "https://remote.example/activities/follow-1",
		Body:        body,
		ContentType: "application/activity+json",
	})
	require.NoError(t, err)

	require.NoError(t, p.Process(ctx, n.ID), "an unauthorized delivery is settled, not retried")

	got, err := st.NotificationByID(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusUnauthorized, got.Status)

	_, err = st.FollowRequestByPair(ctx, alice.ID, bob.ID)
	assert.ErrorIs(t, err, store.ErrNotFound, "no side effects without authorization")
}

func TestProcess_TamperedSignatureStaysUnauthorized(t *testing.T) {
	p, st, _, _ := newFixture(t)
	ctx := context.Background()

	alice, key, keyID := mkRemoteActor(t, st, "https://remote.example/users/alice")
	bob := mkLocalActor(t, st, "https://example.local/users/bob")

	body := []byte(`{
	  "@context": "https://www.w3.org/ns/activitystreams",
	  "id": "https://remote.example/activities/follow-1",
	  "type": "Follow",
	  "actor": "https://remote.example/users/alice",
	  "object": "https://example.local/users/bob"
	}`)
	rcv := signedReceived(t, key, keyID,
		"https://remote.example/users/alice",
		"https://example.local/users/bob/inbox",
		"https://remote.example/activities/follow-1",
		body)
	rcv.Signatures[0].Signature[0] ^= 0xff

	n, err := p.Receive(ctx, rcv)
	require.NoError(t, err)
	require.NoError(t, p.Process(ctx, n.ID))

	got, err := st.NotificationByID(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusUnauthorized, got.Status)

	_, err = st.FollowRequestByPair(ctx, alice.ID, bob.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestProcess_LocalSenderNeedsNoProof(t *testing.T) {
	p, st, _, _ := newFixture(t)
	ctx := context.Background()

	carol := mkLocalActor(t, st, "https://example.local/users/carol")
	note := mkRef(t, st, "https://example.local/notes/1")

	body := []byte(`{
	  "@context": "https://www.w3.org/ns/activitystreams",
	  "id": "https://example.local/activities/like-1",
	  "type": "Like",
	  "actor": "https://example.local/users/carol",
	  "object": "https://example.local/notes/1"
	}`)
	n, err := p.Receive(ctx, Received{
		Sender:      carol.URI,
		Target:      "https://example.local/inbox",
		Resource:    "https://example.local/activities/like-1",
		Body:        body,
		ContentType: "application/activity+json",
	})
	require.NoError(t, err)
	require.NoError(t, p.Process(ctx, n.ID))

	got, err := st.NotificationByID(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusProcessed, got.Status)

	likeRef, err := st.ReferenceByURI(ctx, "https://example.local/activities/like-1")
	require.NoError(t, err)
	inLikes, err := st.InCollection(ctx, note.ID, store.CollectionLikes, likeRef.ID)
	require.NoError(t, err)
	assert.True(t, inLikes)
}

func TestProcess_DuplicateDeliveryIdempotent(t *testing.T) {
	p, st, _, _ := newFixture(t)
	ctx := context.Background()

	carol := mkLocalActor(t, st, "https://example.local/users/carol")
	note := mkRef(t, st, "https://example.local/notes/1")

	body := []byte(`{
	  "@context": "https://www.w3.org/ns/activitystreams",
	  "id": "https://example.local/activities/like-1",
	  "type": "Like",
	  "actor": "https://example.local/users/carol",
	  "object": "https://example.local/notes/1"
	}`)
	rcv := Received{
		Sender:      carol.URI,
		Target:      "https://example.local/inbox",
		Resource:    "https://example.local/activities/like-1",
		Body:        body,
		ContentType: "application/activity+json",
	}

	first, err := p.Receive(ctx, rcv)
	require.NoError(t, err)
	second, err := p.Receive(ctx, rcv)
	require.NoError(t, err)
	require.NotEqual(t, first.ID, second.ID, "each delivery gets its own notification")

	require.NoError(t, p.Process(ctx, first.ID))
	require.NoError(t, p.Process(ctx, second.ID))

	count, err := st.CollectionCount(ctx, note.ID, store.CollectionLikes)
	require.NoError(t, err)
	assert.Equal(t, 1, count, "redelivery must not duplicate the membership")

	// A redelivered job for settled work is acknowledged untouched.
	require.NoError(t, p.Process(ctx, first.ID))
	got, err := st.NotificationByID(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusProcessed, got.Status)
}

func TestProcess_VetoHookDrops(t *testing.T) {
	veto := HookFunc{
		HookName: "quarantine",
		Fn: func(context.Context, *store.Notification, *graph.Graph) error {
			return ErrDrop
		},
	}
	p, st, _, _ := newFixture(t, WithHook(veto))
	ctx := context.Background()

	carol := mkLocalActor(t, st, "https://example.local/users/carol")
	bob := mkLocalActor(t, st, "https://example.local/users/bob")

	body := []byte(`{
	  "@context": "https://www.w3.org/ns/activitystreams",
	  "id": "https://example.local/activities/follow-1",
	  "type": "Follow",
	  "actor": "https://example.local/users/carol",
	  "object": "https://example.local/users/bob"
	}`)
	n, err := p.Receive(ctx, Received{
		Sender:      carol.URI,
		Target:      "https://example.local/inbox",
		Resource:    "https://example.local/activities/follow-1",
		Body:        body,
		ContentType: "application/activity+json",
	})
	require.NoError(t, err)
	require.NoError(t, p.Process(ctx, n.ID))

	got, err := st.NotificationByID(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusDropped, got.Status)
	assert.Equal(t, "veto:quarantine", got.Error)

	_, err = st.FollowRequestByPair(ctx, carol.ID, bob.ID)
	assert.ErrorIs(t, err, store.ErrNotFound, "a vetoed activity is never applied")
}

func TestProcess_FailingHookDoesNotVeto(t *testing.T) {
	flaky := HookFunc{
		HookName: "flaky",
		Fn: func(context.Context, *store.Notification, *graph.Graph) error {
			return errors.New("hook infrastructure down")
		},
	}
	p, st, _, _ := newFixture(t, WithHook(flaky))
	ctx := context.Background()

	carol := mkLocalActor(t, st, "https://example.local/users/carol")

	body := []byte(`{
	  "@context": "https://www.w3.org/ns/activitystreams",
	  "id": "https://example.local/activities/like-1",
	  "type": "Like",
	  "actor": "https://example.local/users/carol",
	  "object": "https://example.local/notes/1"
	}`)
	n, err := p.Receive(ctx, Received{
		Sender:      carol.URI,
		Target:      "https://example.local/inbox",
		Resource:    "https://example.local/activities/like-1",
		Body:        body,
		ContentType: "application/activity+json",
	})
	require.NoError(t, err)
	require.NoError(t, p.Process(ctx, n.ID))

	got, err := st.NotificationByID(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusProcessed, got.Status)
}

func TestProcess_MalformedDocumentDropped(t *testing.T) {
	p, st, _, _ := newFixture(t)
	ctx := context.Background()

	carol := mkLocalActor(t, st, "https://example.local/users/carol")

	n, err := p.Receive(ctx, Received{
		Sender:      carol.URI,
		Target:      "https://example.local/inbox",
		Resource:    "https://example.local/activities/broken-1",
		Body:        []byte(`{"id": "https://example.local/activities/broken-1"`),
		ContentType: "application/activity+json",
	})
	require.NoError(t, err)

	require.NoError(t, p.Process(ctx, n.ID), "a parse failure settles the notification")

	got, err := st.NotificationByID(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusDropped, got.Status)
	assert.Contains(t, got.Error, "parse")
}

func TestProcess_NonActivityResourceStillProcessed(t *testing.T) {
	p, st, _, _ := newFixture(t)
	ctx := context.Background()

	carol := mkLocalActor(t, st, "https://example.local/users/carol")

	body := []byte(`{
	  "@context": "https://www.w3.org/ns/activitystreams",
	  "id": "https://example.local/notes/plain-1",
	  "type": "Note",
	  "content": "just a note, no activity",
	  "attributedTo": "https://example.local/users/carol"
	}`)
	n, err := p.Receive(ctx, Received{
		Sender:      carol.URI,
		Target:      "https://example.local/inbox",
		Resource:    "https://example.local/notes/plain-1",
		Body:        body,
		ContentType: "application/activity+json",
	})
	require.NoError(t, err)
	require.NoError(t, p.Process(ctx, n.ID))

	got, err := st.NotificationByID(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusProcessed, got.Status)

	noteRef, err := st.ReferenceByURI(ctx, "https://example.local/notes/plain-1")
	require.NoError(t, err)
	obj, err := st.ObjectByReference(ctx, noteRef.ID)
	require.NoError(t, err)
	assert.Equal(t, "Note", obj.Type)
	assert.Equal(t, "just a note, no activity", obj.Content)
}

func TestProcess_UnknownNotificationAcknowledged(t *testing.T) {
	p, _, _, _ := newFixture(t)
	require.NoError(t, p.Process(context.Background(), "no-such-id"))
}

func TestProcess_PublishesCheckpoints(t *testing.T) {
	bus := events.NewBus()
	var seen []events.Checkpoint
	for _, cp := range []events.Checkpoint{
		events.NotificationReceived,
		events.NotificationAuthorized,
		events.ActivityProcessed,
		events.NotificationSettled,
	} {
		bus.Subscribe(cp, func(context.Context, events.Event) error {
			seen = append(seen, cp)
			return nil
		})
	}

	p, st, _, _ := newFixture(t, WithBus(bus))
	ctx := context.Background()

	carol := mkLocalActor(t, st, "https://example.local/users/carol")
	body := []byte(`{
	  "@context": "https://www.w3.org/ns/activitystreams",
	  "id": "https://example.local/activities/like-1",
	  "type": "Like",
	  "actor": "https://example.local/users/carol",
	  "object": "https://example.local/notes/1"
	}`)
	n, err := p.Receive(ctx, Received{
		Sender:      carol.URI,
		Target:      "https://example.local/inbox",
		Resource:    "https://example.local/activities/like-1",
		Body:        body,
		ContentType: "application/activity+json",
	})
	require.NoError(t, err)
	require.NoError(t, p.Process(ctx, n.ID))

	assert.Equal(t, []events.Checkpoint{
		events.NotificationReceived,
		events.NotificationAuthorized,
		events.ActivityProcessed,
		events.NotificationSettled,
	}, seen)
}

func TestReceive_EnqueueFailureStillDurable(t *testing.T) {
	p, st, q, _ := newFixture(t)
	ctx := context.Background()

	carol := mkLocalActor(t, st, "https://example.local/users/carol")
	require.NoError(t, q.Close())

	n, err := p.Receive(ctx, Received{
		Sender:      carol.URI,
		Target:      "https://example.local/inbox",
		Resource:    "https://example.local/activities/like-1",
		Body:        []byte(`{}`),
		ContentType: "application/activity+json",
	})
	require.NoError(t, err, "a dead queue must not lose the delivery")

	got, err := st.NotificationByID(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusReceived, got.Status)
}

func TestStart_RecoversPendingInboundOnly(t *testing.T) {
	p, st, _, _ := newFixture(t, WithWorkers(2))
	ctx := context.Background()

	carol := mkLocalActor(t, st, "https://example.local/users/carol")
	target := mkRef(t, st, "https://example.local/inbox")
	// No stored document, so processing settles this as dropped.
	resource := mkRef(t, st, "https://example.local/activities/lost-1")

	pending := &store.Notification{
		Direction:  store.DirectionInbound,
		SenderID:   carol.ID,
		TargetID:   target.ID,
		ResourceID: resource.ID,
	}
	require.NoError(t, st.CreateNotification(ctx, pending))

	outbound := &store.Notification{
		Direction:  store.DirectionOutbound,
		SenderID:   carol.ID,
		TargetID:   target.ID,
		ResourceID: resource.ID,
	}
	require.NoError(t, st.CreateNotification(ctx, outbound))

	require.NoError(t, p.Start(ctx))
	defer p.Stop()

	require.Eventually(t, func() bool {
		got, err := st.NotificationByID(ctx, pending.ID)
		return err == nil && got.Status == store.StatusDropped
	}, 2*time.Second, 10*time.Millisecond, "recovery must finish the abandoned notification")

	got, err := st.NotificationByID(ctx, outbound.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusReceived, got.Status,
		"outbound handoffs are not inbox work and stay untouched")
}

func TestStartStop_WorkersDrain(t *testing.T) {
	p, st, _, _ := newFixture(t, WithWorkers(2))
	ctx := context.Background()

	carol := mkLocalActor(t, st, "https://example.local/users/carol")
	body := []byte(`{
	  "@context": "https://www.w3.org/ns/activitystreams",
	  "id": "https://example.local/activities/like-9",
	  "type": "Like",
	  "actor": "https://example.local/users/carol",
	  "object": "https://example.local/notes/9"
	}`)

	require.NoError(t, p.Start(ctx))

	n, err := p.Receive(ctx, Received{
		Sender:      carol.URI,
		Target:      "https://example.local/inbox",
		Resource:    "https://example.local/activities/like-9",
		Body:        body,
		ContentType: "application/activity+json",
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, err := st.NotificationByID(ctx, n.ID)
		return err == nil && got.Status == store.StatusProcessed
	}, 2*time.Second, 10*time.Millisecond)

	p.Stop()
	// A second stop is a no-op.
	p.Stop()
}
