package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/c360studio/semfed/events"
	"github.com/c360studio/semfed/graph"
	"github.com/c360studio/semfed/metrics"
	"github.com/c360studio/semfed/store"
	"github.com/c360studio/semfed/vocabulary/as"
)

// ErrBadSubmission marks a submission rejected before processing: the
// body did not decode or did not load as a graph.
var ErrBadSubmission = errors.New("bad submission")

// ErrNotAuthor reports a submission whose activity names a different
// actor than the authenticated one.
var ErrNotAuthor = errors.New("activity actor is not the authenticated actor")

// Submission is a locally authored document posted to an actor's
// outbox. The HTTP layer has already authenticated Actor.
type Submission struct {
	Actor       string
	Outbox      string
	Body        []byte
	ContentType string
}

// Submit ingests a local submission synchronously: mint identifiers,
// load, enforce authority, persist, extract, and apply in one call.
// Nothing is persisted when the submission fails validation. On success
// the minted activity URI is returned for the Location header.
func (p *Pipeline) Submit(ctx context.Context, sub Submission) (*store.Notification, string, error) {
	body, activityURI, err := p.mintSubmission(sub)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrBadSubmission, err)
	}

	g, err := graph.Load(body)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrBadSubmission, err)
	}

	if actor, ok := g.FirstIRI(g.Primary, as.PropActor); ok && actor != sub.Actor {
		return nil, "", fmt.Errorf("%w: %s", ErrNotAuthor, actor)
	}

	// Outbound is strict where inbound is silent: the first triple the
	// actor lacks authority over rejects the whole submission.
	if err := p.filter.Enforce(g, sub.Actor); err != nil {
		return nil, "", err
	}

	sender, err := p.store.GetOrCreateReference(ctx, sub.Actor)
	if err != nil {
		return nil, "", err
	}
	target, err := p.store.GetOrCreateReference(ctx, sub.Outbox)
	if err != nil {
		return nil, "", err
	}
	resource, err := p.store.GetOrCreateReference(ctx, activityURI)
	if err != nil {
		return nil, "", err
	}

	contentType := sub.ContentType
	if contentType == "" {
		contentType = as.ContentType
	}
	if err := p.store.UpsertDocument(ctx, resource.ID, body, contentType, store.OriginOutbound); err != nil {
		return nil, "", err
	}

	n := &store.Notification{
		Direction:  store.DirectionOutbound,
		SenderID:   sender.ID,
		TargetID:   target.ID,
		ResourceID: resource.ID,
	}
	if err := p.store.CreateNotification(ctx, n); err != nil {
		return nil, "", err
	}
	metrics.NotificationsReceived.WithLabelValues(store.OriginOutbound).Inc()
	p.bus.Publish(ctx, events.Event{Checkpoint: events.NotificationReceived, Notification: n})

	// The HTTP layer authenticated the author; no proof evaluation.
	if err := p.advance(ctx, n, store.StatusAuthenticating, ""); err != nil {
		return nil, "", err
	}
	if err := p.advance(ctx, n, store.StatusAuthorized, ""); err != nil {
		return nil, "", err
	}
	p.bus.Publish(ctx, events.Event{Checkpoint: events.NotificationAuthorized, Notification: n})

	if _, err := p.registry.ExtractAll(ctx, g, sub.Actor); err != nil {
		return nil, "", fmt.Errorf("extract: %w", err)
	}

	act, err := p.store.ActivityByReference(ctx, resource.ID)
	switch {
	case errors.Is(err, store.ErrNotFound):
	case err != nil:
		return nil, "", err
	default:
		if err := p.machine.Do(ctx, act); err != nil {
			return nil, "", fmt.Errorf("apply activity: %w", err)
		}
		metrics.ActivitiesApplied.WithLabelValues(act.Type).Inc()
		p.bus.Publish(ctx, events.Event{Checkpoint: events.ActivityProcessed, Notification: n, Activity: act})
	}

	if err := p.advance(ctx, n, store.StatusProcessed, ""); err != nil {
		return nil, "", err
	}
	metrics.NotificationsSettled.WithLabelValues(store.StatusProcessed).Inc()
	p.bus.Publish(ctx, events.Event{Checkpoint: events.NotificationSettled, Notification: n})
	p.logger.Info("submission processed",
		"notification", n.ID,
		"activity", activityURI,
		"actor", sub.Actor)

	return n, activityURI, nil
}

// mintSubmission fills in what a client may omit: a bare object is
// wrapped in Create, missing identifiers are minted under the actor's
// domain, and actor/published default to the submitter and now.
func (p *Pipeline) mintSubmission(sub Submission) ([]byte, string, error) {
	var doc map[string]any
	if err := json.Unmarshal(sub.Body, &doc); err != nil {
		return nil, "", fmt.Errorf("decode submission: %w", err)
	}

	domain := store.DomainOf(sub.Actor)
	now := p.clock.Now().UTC().Format(time.RFC3339)

	if !isActivityDoc(doc) {
		if docID(doc) == "" {
			doc["id"] = fmt.Sprintf("https://%s/objects/%s", domain, uuid.NewString())
		}
		if _, ok := doc["attributedTo"]; !ok {
			doc["attributedTo"] = sub.Actor
		}
		if _, ok := doc["published"]; !ok {
			doc["published"] = now
		}
		doc = map[string]any{
			"@context": as.ContextURI,
			"type":     "Create",
			"actor":    sub.Actor,
			"object":   doc,
		}
	}

	activityURI := docID(doc)
	if activityURI == "" {
		activityURI = fmt.Sprintf("https://%s/activities/%s", domain, uuid.NewString())
		doc["id"] = activityURI
	}
	if _, ok := doc["actor"]; !ok {
		doc["actor"] = sub.Actor
	}
	if _, ok := doc["published"]; !ok {
		doc["published"] = now
	}
	if _, ok := doc["@context"]; !ok {
		doc["@context"] = as.ContextURI
	}

	body, err := json.Marshal(doc)
	if err != nil {
		return nil, "", err
	}
	return body, activityURI, nil
}

// docID reads the compact or expanded identifier of a JSON document.
func docID(doc map[string]any) string {
	for _, key := range []string{"id", "@id"} {
		if s, ok := doc[key].(string); ok {
			return s
		}
	}
	return ""
}

// isActivityDoc reports whether the document's type names an AS
// activity class. Type may be a string or a list; the first recognized
// activity wins.
func isActivityDoc(doc map[string]any) bool {
	var names []string
	switch t := docType(doc).(type) {
	case string:
		names = []string{t}
	case []any:
		for _, v := range t {
			if s, ok := v.(string); ok {
				names = append(names, s)
			}
		}
	}
	for _, name := range names {
		if as.IsActivity(as.Namespace + name) {
			return true
		}
	}
	return false
}

func docType(doc map[string]any) any {
	for _, key := range []string{"type", "@type"} {
		if v, ok := doc[key]; ok {
			return v
		}
	}
	return nil
}
