// Package resolve dereferences remote references over HTTP. Fetches are
// rate limited per reference, size capped, and classified into the three
// non-fatal failure modes: rate limited, unreachable, invalid document.
package resolve

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jonboulle/clockwork"

	"github.com/c360studio/semfed/metrics"
	"github.com/c360studio/semfed/store"
)

const acceptHeader = `application/activity+json, application/ld+json; profile="https://www.w3.org/ns/activitystreams"`

// Media types accepted as linked documents.
var documentMediaTypes = map[string]bool{
	"application/activity+json": true,
	"application/ld+json":       true,
	"application/json":          true,
}

// Config holds resolver tunables. Zero values fall back to defaults.
type Config struct {
	UserAgent   string
	Timeout     time.Duration // per-request timeout
	RetryWindow time.Duration // total time spent retrying transient failures
	MaxBodySize int64
	MinInterval time.Duration // minimum gap between fetch attempts per reference
	MaxAge      time.Duration // stored documents younger than this are served from cache
}

func (c Config) withDefaults() Config {
	if c.UserAgent == "" {
		c.UserAgent = "semfed/1.0"
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.RetryWindow <= 0 {
		c.RetryWindow = 30 * time.Second
	}
	if c.MaxBodySize <= 0 {
		c.MaxBodySize = 1 << 20
	}
	if c.MinInterval <= 0 {
		c.MinInterval = 5 * time.Minute
	}
	if c.MaxAge <= 0 {
		c.MaxAge = time.Hour
	}
	return c
}

// Resolver fetches linked documents for references and records the outcome
// on the reference row.
type Resolver struct {
	store  *store.Store
	client *http.Client
	clock  clockwork.Clock
	logger *slog.Logger
	cfg    Config
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithHTTPClient replaces the HTTP client. Tests point this at a local
// server.
func WithHTTPClient(c *http.Client) Option {
	return func(r *Resolver) { r.client = c }
}

// WithClock replaces the wall clock.
func WithClock(c clockwork.Clock) Option {
	return func(r *Resolver) { r.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Resolver) { r.logger = l }
}

// New builds a resolver over the given store.
func New(st *store.Store, cfg Config, opts ...Option) *Resolver {
	r := &Resolver{
		store:  st,
		clock:  clockwork.NewRealClock(),
		logger: slog.Default(),
		cfg:    cfg.withDefaults(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.client == nil {
		r.client = &http.Client{
			Timeout: r.cfg.Timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 5 {
					return fmt.Errorf("too many redirects (max 5)")
				}
				return nil
			},
		}
	}
	return r
}

// Resolve returns the linked document for a reference. Local references
// and fresh cached documents are served from the store; everything else
// goes to the network, subject to the per-reference rate limit.
func (r *Resolver) Resolve(ctx context.Context, ref *store.Reference) (*store.Document, error) {
	if ref.Local {
		return r.store.DocumentByReference(ctx, ref.ID)
	}

	if r.fresh(ref) {
		doc, err := r.store.DocumentByReference(ctx, ref.ID)
		if err == nil {
			return doc, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		// Row says fetched but the body is gone; fall through to a re-fetch.
	}

	won, err := r.store.TryFetchAttempt(ctx, ref.ID, r.cfg.MinInterval)
	if err != nil {
		return nil, err
	}
	if !won {
		metrics.FetchOutcomes.WithLabelValues("rate_limited").Inc()
		return nil, fmt.Errorf("%s: %w", ref.URI, ErrRateLimited)
	}

	body, contentType, err := r.fetchWithRetry(ctx, ref.URI)
	if err != nil {
		var invalid *InvalidDocumentError
		if errors.As(err, &invalid) {
			metrics.FetchOutcomes.WithLabelValues("invalid").Inc()
			if markErr := r.store.MarkFetchFailed(ctx, ref.ID, store.FetchStatusInvalid); markErr != nil {
				r.logger.Error("record fetch failure", "uri", ref.URI, "error", markErr)
			}
			return nil, err
		}
		metrics.FetchOutcomes.WithLabelValues("unreachable").Inc()
		if markErr := r.store.MarkFetchFailed(ctx, ref.ID, store.FetchStatusUnreachable); markErr != nil {
			r.logger.Error("record fetch failure", "uri", ref.URI, "error", markErr)
		}
		return nil, &UnreachableError{URI: ref.URI, Err: err}
	}
	metrics.FetchOutcomes.WithLabelValues("ok").Inc()

	if err := r.store.UpsertDocument(ctx, ref.ID, body, contentType, store.OriginFetch); err != nil {
		return nil, err
	}
	if err := r.store.MarkFetched(ctx, ref.ID); err != nil {
		return nil, err
	}
	r.logger.Debug("resolved reference", "uri", ref.URI, "bytes", len(body))

	return r.store.DocumentByReference(ctx, ref.ID)
}

func (r *Resolver) fresh(ref *store.Reference) bool {
	return ref.FetchStatus == store.FetchStatusOK &&
		ref.FetchedAt != nil &&
		r.clock.Now().Sub(*ref.FetchedAt) < r.cfg.MaxAge
}

// fetchWithRetry retries transient transport failures inside the retry
// window. Invalid documents are permanent and return immediately.
func (r *Resolver) fetchWithRetry(ctx context.Context, uri string) ([]byte, string, error) {
	var (
		body        []byte
		contentType string
	)
	op := func() error {
		b, ct, err := r.fetch(ctx, uri)
		if err != nil {
			var invalid *InvalidDocumentError
			if errors.As(err, &invalid) {
				return backoff.Permanent(err)
			}
			return err
		}
		body, contentType = b, ct
		return nil
	}

	b := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(500*time.Millisecond),
		backoff.WithMaxInterval(5*time.Second),
		backoff.WithMaxElapsedTime(r.cfg.RetryWindow),
	)
	if err := backoff.Retry(op, backoff.WithContext(b, ctx)); err != nil {
		return nil, "", err
	}
	return body, contentType, nil
}

func (r *Resolver) fetch(ctx context.Context, uri string) ([]byte, string, error) {
	reqCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, "", &InvalidDocumentError{URI: uri, Reason: err.Error()}
	}
	req.Header.Set("User-Agent", r.cfg.UserAgent)
	req.Header.Set("Accept", acceptHeader)

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("fetch: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		// Server-side trouble is transient; let the backoff retry it.
		return nil, "", fmt.Errorf("HTTP %d: %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	default:
		return nil, "", &InvalidDocumentError{
			URI:    uri,
			Reason: fmt.Sprintf("HTTP %d: %s", resp.StatusCode, http.StatusText(resp.StatusCode)),
		}
	}

	contentType := resp.Header.Get("Content-Type")
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil || !documentMediaTypes[mediaType] {
		return nil, "", &InvalidDocumentError{
			URI:    uri,
			Reason: fmt.Sprintf("unsupported content type %q", contentType),
		}
	}

	limited := io.LimitReader(resp.Body, r.cfg.MaxBodySize+1)
	body, err := io.ReadAll(limited)
	if err != nil {
		return nil, "", fmt.Errorf("read body: %w", err)
	}
	if int64(len(body)) > r.cfg.MaxBodySize {
		return nil, "", &InvalidDocumentError{
			URI:    uri,
			Reason: fmt.Sprintf("content too large (exceeds %d bytes)", r.cfg.MaxBodySize),
		}
	}
	if !json.Valid(body) {
		return nil, "", &InvalidDocumentError{URI: uri, Reason: "body is not valid JSON"}
	}

	return body, mediaType, nil
}
