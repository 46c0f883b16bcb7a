package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"

	"github.com/c360studio/semfed/graph"
	"github.com/c360studio/semfed/metrics"
	"github.com/c360studio/semfed/store"
	"github.com/c360studio/semfed/vocabulary/as"
)

// ReingestURI replays the stored document behind one reference through
// parse, sanitize, and extraction. Notification state is untouched;
// only the relational projection is rebuilt.
func (p *Pipeline) ReingestURI(ctx context.Context, uri string) error {
	ref, err := p.store.ReferenceByURI(ctx, uri)
	if err != nil {
		return fmt.Errorf("reference %s: %w", uri, err)
	}
	doc, err := p.store.DocumentByReference(ctx, ref.ID)
	if err != nil {
		return fmt.Errorf("document %s: %w", uri, err)
	}
	return p.reingestDocument(ctx, doc, ref)
}

// ReingestAll replays every stored document. Failures are logged per
// document and never abort the walk. Returns how many documents were
// replayed and how many failed.
func (p *Pipeline) ReingestAll(ctx context.Context) (replayed, failed int, err error) {
	err = p.store.EachDocument(ctx, func(doc *store.Document, ref *store.Reference) error {
		if ierr := p.reingestDocument(ctx, doc, ref); ierr != nil {
			failed++
			p.logger.Warn("reingest failed", "uri", ref.URI, "error", ierr)
			return nil
		}
		replayed++
		return nil
	})
	return replayed, failed, err
}

// reingestDocument re-runs the graph stages for one stored document.
// The document's own reference is the authority source: replay must not
// grant a statement more reach than a fetch of that URI would.
func (p *Pipeline) reingestDocument(ctx context.Context, doc *store.Document, ref *store.Reference) error {
	if ref.Tombstoned() {
		return nil
	}
	g, err := graph.Load(doc.Body)
	if err != nil {
		metrics.GraphParseErrs.Inc()
		return fmt.Errorf("parse: %w", err)
	}
	stripped := p.filter.Sanitize(g, ref.URI)
	if len(stripped) > 0 {
		metrics.TriplesStripped.Add(float64(len(stripped)))
	}
	if _, err := p.registry.ExtractAll(ctx, g, ref.URI); err != nil {
		return fmt.Errorf("extract: %w", err)
	}
	metrics.ReingestedDocuments.WithLabelValues("store").Inc()
	return nil
}

// IngestSpoolFile reads one dropped file and stores it as a spool
// document keyed by the document's own identifier, then runs the graph
// stages with that identifier as the authority source.
func (p *Pipeline) IngestSpoolFile(ctx context.Context, path string) error {
	body, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	g, err := graph.Load(body)
	if err != nil {
		metrics.GraphParseErrs.Inc()
		return fmt.Errorf("parse %s: %w", path, err)
	}
	ref, err := p.store.GetOrCreateReference(ctx, g.Primary)
	if err != nil {
		return err
	}
	if ref.Tombstoned() {
		return fmt.Errorf("ingest %s: subject %s is tombstoned", path, ref.URI)
	}
	if err := p.store.UpsertDocument(ctx, ref.ID, body, as.ContentType, store.OriginSpool); err != nil {
		return err
	}
	stripped := p.filter.Sanitize(g, ref.URI)
	if len(stripped) > 0 {
		metrics.TriplesStripped.Add(float64(len(stripped)))
	}
	if _, err := p.registry.ExtractAll(ctx, g, ref.URI); err != nil {
		return fmt.Errorf("extract: %w", err)
	}
	metrics.ReingestedDocuments.WithLabelValues("spool").Inc()
	p.logger.Info("spool document ingested", "path", path, "uri", ref.URI)
	return nil
}

const spoolEventBuffer = 500

// DefaultSpoolPatterns matches the document files a spool directory is
// expected to carry.
func DefaultSpoolPatterns() []string {
	return []string{"**/*.json", "**/*.jsonld"}
}

// SpoolWatcher watches a directory for dropped documents and ingests
// them as they settle. Files are matched against doublestar patterns
// relative to the spool root, changes are debounced, and unchanged
// content is skipped by hash so a re-dropped file costs nothing.
type SpoolWatcher struct {
	pipeline *Pipeline
	dir      string
	patterns []string
	debounce time.Duration
	watcher  *fsnotify.Watcher
	logger   *slog.Logger

	// Debouncing: collect changes before processing
	pendingMu sync.Mutex
	pending   map[string]fsnotify.Op

	// Hash-based change detection
	hashMu sync.RWMutex
	hashes map[string]string

	done chan struct{}
}

// SpoolOption configures a SpoolWatcher.
type SpoolOption func(*SpoolWatcher)

// WithSpoolPatterns overrides the doublestar patterns matched against
// paths relative to the spool root.
func WithSpoolPatterns(patterns []string) SpoolOption {
	return func(w *SpoolWatcher) {
		if len(patterns) > 0 {
			w.patterns = patterns
		}
	}
}

// WithSpoolDebounce overrides how long the watcher waits for a file to
// settle before ingesting it.
func WithSpoolDebounce(d time.Duration) SpoolOption {
	return func(w *SpoolWatcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithSpoolLogger overrides the watcher's logger.
func WithSpoolLogger(logger *slog.Logger) SpoolOption {
	return func(w *SpoolWatcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// NewSpoolWatcher creates a watcher over dir feeding the pipeline.
func NewSpoolWatcher(p *Pipeline, dir string, opts ...SpoolOption) (*SpoolWatcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &SpoolWatcher{
		pipeline: p,
		dir:      dir,
		patterns: DefaultSpoolPatterns(),
		debounce: 500 * time.Millisecond,
		watcher:  fsw,
		logger:   p.logger,
		pending:  make(map[string]fsnotify.Op),
		hashes:   make(map[string]string),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Start ingests the files already present in the spool, then begins
// watching for changes until ctx is cancelled or Stop is called.
func (w *SpoolWatcher) Start(ctx context.Context) error {
	if err := os.MkdirAll(w.dir, 0755); err != nil {
		return err
	}

	w.ingestExisting(ctx)

	if err := w.addWatchesRecursive(w.dir); err != nil {
		return err
	}

	go w.processEvents(ctx)

	w.logger.Info("spool watcher started",
		"dir", w.dir,
		"debounce", w.debounce,
		"patterns", w.patterns)

	return nil
}

// Stop stops the watcher. Done unblocks once the event loop has exited.
func (w *SpoolWatcher) Stop() error {
	return w.watcher.Close()
}

// Done is closed when the event loop exits.
func (w *SpoolWatcher) Done() <-chan struct{} {
	return w.done
}

// ingestExisting sweeps files already sitting in the spool directory.
func (w *SpoolWatcher) ingestExisting(ctx context.Context) {
	for _, pattern := range w.patterns {
		matches, err := doublestar.FilepathGlob(filepath.Join(w.dir, pattern))
		if err != nil {
			w.logger.Warn("spool glob failed", "pattern", pattern, "error", err)
			continue
		}
		for _, path := range matches {
			select {
			case <-ctx.Done():
				return
			default:
			}
			if err := w.ingest(ctx, path); err != nil {
				w.logger.Warn("spool ingest failed", "path", path, "error", err)
			}
		}
	}
}

// matches reports whether a path inside the spool matches any pattern.
func (w *SpoolWatcher) matches(path string) bool {
	rel, err := filepath.Rel(w.dir, path)
	if err != nil {
		return false
	}
	rel = filepath.ToSlash(rel)
	for _, pattern := range w.patterns {
		if ok, err := doublestar.Match(pattern, rel); err == nil && ok {
			return true
		}
	}
	return false
}

// addWatchesRecursive adds watches to all directories under root.
func (w *SpoolWatcher) addWatchesRecursive(root string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			return nil
		}

		// Skip hidden directories
		base := filepath.Base(path)
		if strings.HasPrefix(base, ".") && path != root {
			return filepath.SkipDir
		}

		if err := w.watcher.Add(path); err != nil {
			w.logger.Warn("failed to watch directory", "path", path, "error", err)
		}
		return nil
	})
}

// processEvents handles fsnotify events with debouncing.
func (w *SpoolWatcher) processEvents(ctx context.Context) {
	defer close(w.done)
	ticker := time.NewTicker(w.debounce)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleFSEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("spool watcher error", "error", err)

		case <-ticker.C:
			w.flushPending(ctx)
		}
	}
}

// handleFSEvent records a single fsnotify event for the next flush.
func (w *SpoolWatcher) handleFSEvent(event fsnotify.Event) {
	path := event.Name

	if !w.matches(path) {
		// But handle directory creation (for new watches)
		if event.Has(fsnotify.Create) {
			if info, err := os.Stat(path); err == nil && info.IsDir() {
				w.handleNewDirectory(path)
			}
		}
		return
	}

	w.pendingMu.Lock()
	if len(w.pending) >= spoolEventBuffer {
		w.pendingMu.Unlock()
		w.logger.Warn("spool backlog full, dropping event", "path", path)
		return
	}
	w.pending[path] = event.Op
	w.pendingMu.Unlock()
}

// handleNewDirectory adds a watch to a newly created directory.
func (w *SpoolWatcher) handleNewDirectory(path string) {
	if strings.HasPrefix(filepath.Base(path), ".") {
		return
	}
	if err := w.watcher.Add(path); err != nil {
		w.logger.Warn("failed to watch new directory", "path", path, "error", err)
	}
}

// flushPending ingests accumulated changes.
func (w *SpoolWatcher) flushPending(ctx context.Context) {
	w.pendingMu.Lock()
	if len(w.pending) == 0 {
		w.pendingMu.Unlock()
		return
	}
	toProcess := w.pending
	w.pending = make(map[string]fsnotify.Op)
	w.pendingMu.Unlock()

	for path, op := range toProcess {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if op.Has(fsnotify.Remove) || op.Has(fsnotify.Rename) {
			// Removing a spool file does not retract what it asserted.
			w.hashMu.Lock()
			delete(w.hashes, path)
			w.hashMu.Unlock()
			continue
		}
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			continue
		}

		if err := w.ingest(ctx, path); err != nil {
			w.logger.Warn("spool ingest failed", "path", path, "error", err)
		}
	}
}

// ingest reads one file and feeds it to the pipeline, skipping content
// already seen at this path.
func (w *SpoolWatcher) ingest(ctx context.Context, path string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	sum := sha256.Sum256(content)
	newHash := hex.EncodeToString(sum[:])

	w.hashMu.RLock()
	oldHash, seen := w.hashes[path]
	w.hashMu.RUnlock()
	if seen && oldHash == newHash {
		return nil
	}

	if err := w.pipeline.IngestSpoolFile(ctx, path); err != nil {
		return err
	}

	w.hashMu.Lock()
	w.hashes[path] = newHash
	w.hashMu.Unlock()
	return nil
}
