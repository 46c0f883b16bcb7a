package pipeline

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/semfed/authority"
	"github.com/c360studio/semfed/store"
)

func TestSubmit_WrapsBareObjectInCreate(t *testing.T) {
	p, st, _, _ := newFixture(t)
	ctx := context.Background()

	carol := mkLocalActor(t, st, "https://example.local/users/carol")

	n, activityURI, err := p.Submit(ctx, Submission{
		Actor:  carol.URI,
		Outbox: "https://example.local/users/carol/outbox",
		Body:   []byte(`{"type": "Note", "content": "hello from the outbox"}`),
	})
	require.NoError(t, err)
	assert.Equal(t, store.StatusProcessed, n.Status)
	assert.True(t, strings.HasPrefix(activityURI, "https://example.local/activities/"),
		"activity id is minted under the author's domain, got %s", activityURI)

	actRef, err := st.ReferenceByURI(ctx, activityURI)
	require.NoError(t, err)
	act, err := st.ActivityByReference(ctx, actRef.ID)
	require.NoError(t, err)
	assert.Equal(t, "Create", act.Type)
	require.NotNil(t, act.ActorID)
	assert.Equal(t, carol.ID, *act.ActorID)

	require.NotNil(t, act.ObjectID)
	obj, err := st.ObjectByReference(ctx, *act.ObjectID)
	require.NoError(t, err)
	assert.Equal(t, "Note", obj.Type)
	assert.Equal(t, "hello from the outbox", obj.Content)
	require.NotNil(t, obj.AttributedTo)
	assert.Equal(t, carol.ID, *obj.AttributedTo)

	objRef, err := st.ReferenceByID(ctx, *act.ObjectID)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(objRef.URI, "https://example.local/objects/"),
		"object id is minted under the author's domain, got %s", objRef.URI)
}

func TestSubmit_ExplicitActivityApplied(t *testing.T) {
	p, st, _, _ := newFixture(t)
	ctx := context.Background()

	carol := mkLocalActor(t, st, "https://example.local/users/carol")
	note := mkRef(t, st, "https://example.local/notes/1")

	_, activityURI, err := p.Submit(ctx, Submission{
		Actor:  carol.URI,
		Outbox: "https://example.local/users/carol/outbox",
		Body: []byte(`{
		  "@context": "https://www.w3.org/ns/activitystreams",
		  "id": "https://example.local/activities/like-1",
		  "type": "Like",
		  "actor": "https://example.local/users/carol",
		  "object": "https://example.local/notes/1"
		}`),
	})
	require.NoError(t, err)
	assert.Equal(t, "https://example.local/activities/like-1", activityURI,
		"a client-supplied id under the author's domain survives")

	likeRef, err := st.ReferenceByURI(ctx, activityURI)
	require.NoError(t, err)
	inLikes, err := st.InCollection(ctx, note.ID, store.CollectionLikes, likeRef.ID)
	require.NoError(t, err)
	assert.True(t, inLikes, "the machine applies outbox activities synchronously")
}

func TestSubmit_WrongActorRejected(t *testing.T) {
	p, st, _, _ := newFixture(t)
	ctx := context.Background()

	carol := mkLocalActor(t, st, "https://example.local/users/carol")

	_, _, err := p.Submit(ctx, Submission{
		Actor:  carol.URI,
		Outbox: "https://example.local/users/carol/outbox",
		Body: []byte(`{
		  "@context": "https://www.w3.org/ns/activitystreams",
		  "id": "https://example.local/activities/forged-1",
		  "type": "Like",
		  "actor": "https://example.local/users/mallory",
		  "object": "https://example.local/notes/1"
		}`),
	})
	require.ErrorIs(t, err, ErrNotAuthor)

	_, err = st.ReferenceByURI(ctx, "https://example.local/activities/forged-1")
	assert.ErrorIs(t, err, store.ErrNotFound, "a rejected submission leaves no trace")
}

func TestSubmit_AuthorityViolationRejected(t *testing.T) {
	p, st, _, _ := newFixture(t)
	ctx := context.Background()

	carol := mkLocalActor(t, st, "https://example.local/users/carol")

	_, _, err := p.Submit(ctx, Submission{
		Actor:  carol.URI,
		Outbox: "https://example.local/users/carol/outbox",
		Body: []byte(`{
		  "@context": "https://www.w3.org/ns/activitystreams",
		  "type": "Create",
		  "actor": "https://example.local/users/carol",
		  "object": {
		    "id": "https://remote.example/notes/999",
		    "type": "Note",
		    "attributedTo": "https://example.local/users/carol"
		  }
		}`),
	})
	var violation *authority.Violation
	require.ErrorAs(t, err, &violation)
	assert.Equal(t, "https://remote.example/notes/999", violation.Subject)

	_, err = st.ReferenceByURI(ctx, "https://remote.example/notes/999")
	assert.ErrorIs(t, err, store.ErrNotFound, "a rejected submission leaves no trace")
}

func TestSubmit_MalformedBody(t *testing.T) {
	p, st, _, _ := newFixture(t)
	ctx := context.Background()

	carol := mkLocalActor(t, st, "https://example.local/users/carol")

	_, _, err := p.Submit(ctx, Submission{
		Actor:  carol.URI,
		Outbox: "https://example.local/users/carol/outbox",
		Body:   []byte(`not a document`),
	})
	assert.ErrorIs(t, err, ErrBadSubmission)
}

func TestSubmit_StampsPublished(t *testing.T) {
	p, st, _, _ := newFixture(t)
	ctx := context.Background()

	carol := mkLocalActor(t, st, "https://example.local/users/carol")

	_, activityURI, err := p.Submit(ctx, Submission{
		Actor:  carol.URI,
		Outbox: "https://example.local/users/carol/outbox",
		Body:   []byte(`{"type": "Note", "content": "timestamped"}`),
	})
	require.NoError(t, err)

	actRef, err := st.ReferenceByURI(ctx, activityURI)
	require.NoError(t, err)
	act, err := st.ActivityByReference(ctx, actRef.ID)
	require.NoError(t, err)
	require.NotNil(t, act.PublishedAt)
	assert.WithinDuration(t, testEpoch, *act.PublishedAt, time.Second)
}
