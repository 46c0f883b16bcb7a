package server

import (
	"context"
	"errors"
	"time"

	"github.com/c360studio/semfed/store"
	"github.com/c360studio/semfed/vocabulary/as"
	"github.com/c360studio/semfed/vocabulary/sec"
	"github.com/c360studio/semfed/vocabulary/toot"
)

// collectionPageSize caps how many members a rendered collection inlines.
const collectionPageSize = 50

// tootContext compacts Mastodon extension terms in rendered documents.
var tootContext = map[string]any{
	"toot":         toot.Namespace,
	"discoverable": "toot:discoverable",
	"indexable":    "toot:indexable",
	"suspended":    "toot:suspended",
	"featured":     map[string]any{"@id": "toot:featured", "@type": "@id"},
}

// Renderer assembles compact JSON-LD documents from the relational
// instances attached to a reference. It is the inverse of extraction:
// rows back out, one document per reference.
type Renderer struct {
	store *store.Store
}

// NewRenderer builds a renderer over the given store.
func NewRenderer(st *store.Store) *Renderer {
	return &Renderer{store: st}
}

// Document renders the reference as one compact JSON-LD document, merging
// every instance row attached to it. store.ErrNotFound means nothing is
// known about the reference beyond its URI.
func (r *Renderer) Document(ctx context.Context, ref *store.Reference) (map[string]any, error) {
	if owner, name, err := r.store.CollectionOwner(ctx, ref.ID); err == nil {
		return r.collection(ctx, ref.URI, owner, name)
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	doc := map[string]any{"id": ref.URI}
	var extra []any
	found := false

	if a, err := r.store.ActorByReference(ctx, ref.ID); err == nil {
		found = true
		if err := r.actorInto(ctx, doc, &extra, ref, a); err != nil {
			return nil, err
		}
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	if o, err := r.store.ObjectByReference(ctx, ref.ID); err == nil {
		found = true
		r.objectInto(ctx, doc, o)
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	if a, err := r.store.ActivityByReference(ctx, ref.ID); err == nil {
		found = true
		r.activityInto(ctx, doc, a)
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	if !found {
		// A reference with no instance rows may still be a collection
		// populated by Add and Remove.
		n, err := r.store.CollectionCount(ctx, ref.ID, store.CollectionItems)
		if err != nil {
			return nil, err
		}
		if n == 0 {
			return nil, store.ErrNotFound
		}
		return r.collection(ctx, ref.URI, ref.ID, store.CollectionItems)
	}

	doc["@context"] = ldContext(extra)
	return doc, nil
}

// Tombstone renders the deletion marker for a tombstoned reference.
func (r *Renderer) Tombstone(ref *store.Reference) map[string]any {
	doc := map[string]any{
		"@context": as.ContextURI,
		"id":       ref.URI,
		"type":     "Tombstone",
	}
	if ref.DeletedAt != nil {
		doc["deleted"] = ref.DeletedAt.UTC().Format(time.RFC3339)
	}
	return doc
}

func (r *Renderer) actorInto(ctx context.Context, doc map[string]any, extra *[]any, ref *store.Reference, a *store.Actor) error {
	doc["type"] = a.Type
	if a.PreferredUsername != "" {
		doc["preferredUsername"] = a.PreferredUsername
	}
	if a.Name != "" {
		doc["name"] = a.Name
	}
	if a.Summary != "" {
		doc["summary"] = a.Summary
	}
	doc["manuallyApprovesFollowers"] = a.ManuallyApprovesFollowers
	r.linkInto(ctx, doc, "inbox", a.InboxID)
	r.linkInto(ctx, doc, "outbox", a.OutboxID)
	r.linkInto(ctx, doc, "followers", a.FollowersID)
	r.linkInto(ctx, doc, "following", a.FollowingID)
	if uri, ok := r.uri(ctx, a.SharedInboxID); ok {
		doc["endpoints"] = map[string]any{"sharedInbox": uri}
	}

	// A locally held key pair outranks whatever key the actor document
	// last asserted; for local actors they are the same key.
	keyID, pem := a.PublicKeyID, a.PublicKeyPEM
	if k, err := r.store.LocalKeyByReference(ctx, ref.ID); err == nil {
		keyID, pem = k.KeyID, k.PublicPEM
	} else if !errors.Is(err, store.ErrNotFound) {
		return err
	}
	if keyID != "" && pem != "" {
		doc["publicKey"] = map[string]any{
			"id":           keyID,
			"owner":        ref.URI,
			"publicKeyPem": pem,
		}
		*extra = append(*extra, sec.ContextURI)
	}

	if t, err := r.store.TootActorByReference(ctx, ref.ID); err == nil {
		doc["discoverable"] = t.Discoverable
		doc["indexable"] = t.Indexable
		if t.Suspended {
			doc["suspended"] = true
		}
		if uri, ok := r.uri(ctx, t.FeaturedID); ok {
			doc["featured"] = uri
		}
		*extra = append(*extra, tootContext)
	} else if !errors.Is(err, store.ErrNotFound) {
		return err
	}
	return nil
}

func (r *Renderer) objectInto(ctx context.Context, doc map[string]any, o *store.Object) {
	doc["type"] = o.Type
	if o.Content != "" {
		doc["content"] = o.Content
	}
	if o.MediaType != "" {
		doc["mediaType"] = o.MediaType
	}
	if o.Name != "" {
		doc["name"] = o.Name
	}
	if o.Summary != "" {
		doc["summary"] = o.Summary
	}
	if o.URL != "" {
		doc["url"] = o.URL
	}
	if o.Sensitive {
		doc["sensitive"] = true
	}
	r.linkInto(ctx, doc, "attributedTo", o.AttributedTo)
	r.linkInto(ctx, doc, "inReplyTo", o.InReplyTo)
	if o.PublishedAt != nil {
		doc["published"] = o.PublishedAt.UTC().Format(time.RFC3339)
	}
}

func (r *Renderer) activityInto(ctx context.Context, doc map[string]any, a *store.Activity) {
	doc["type"] = a.Type
	r.linkInto(ctx, doc, "actor", a.ActorID)
	r.linkInto(ctx, doc, "object", a.ObjectID)
	r.linkInto(ctx, doc, "target", a.TargetID)
	if a.PublishedAt != nil {
		doc["published"] = a.PublishedAt.UTC().Format(time.RFC3339)
	}
}

// collection renders an owner's named collection as an OrderedCollection
// with its newest members inlined.
func (r *Renderer) collection(ctx context.Context, uri string, owner store.ReferenceID, name string) (map[string]any, error) {
	total, err := r.store.CollectionCount(ctx, owner, name)
	if err != nil {
		return nil, err
	}
	members, err := r.store.CollectionMembers(ctx, owner, name, collectionPageSize)
	if err != nil {
		return nil, err
	}
	items := make([]any, 0, len(members))
	for _, m := range members {
		if u, ok := r.uri(ctx, &m.MemberID); ok {
			items = append(items, u)
		}
	}
	return map[string]any{
		"@context":     as.ContextURI,
		"id":           uri,
		"type":         "OrderedCollection",
		"totalItems":   total,
		"orderedItems": items,
	}, nil
}

func (r *Renderer) linkInto(ctx context.Context, doc map[string]any, key string, id *store.ReferenceID) {
	if uri, ok := r.uri(ctx, id); ok {
		doc[key] = uri
	}
}

// uri resolves a reference id to its URI. Dangling ids render as absence
// rather than failing the whole document.
func (r *Renderer) uri(ctx context.Context, id *store.ReferenceID) (string, bool) {
	if id == nil {
		return "", false
	}
	ref, err := r.store.ReferenceByID(ctx, *id)
	if err != nil {
		return "", false
	}
	return ref.URI, true
}

// ldContext builds the @context value: the bare AS2 context when no
// extension terms are in play, an array otherwise.
func ldContext(extra []any) any {
	if len(extra) == 0 {
		return as.ContextURI
	}
	return append([]any{as.ContextURI}, extra...)
}
