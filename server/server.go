// Package server is the HTTP boundary of the node: inbox deliveries,
// outbox submissions, resource serving with JSON-LD content negotiation,
// and webfinger discovery. Handlers translate between the wire and the
// pipeline; federation semantics live below this package.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/c360studio/semfed/pipeline"
	"github.com/c360studio/semfed/store"
)

const defaultMaxBodyBytes = 1 << 20

// Server serves the federation HTTP surface for one node.
type Server struct {
	pipeline *pipeline.Pipeline
	store    *store.Store
	render   *Renderer
	auth     Authenticator
	logger   *slog.Logger

	listenAddr string
	maxBody    int64
	domains    []string

	httpServer *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithListenAddr sets the address the server binds to.
func WithListenAddr(addr string) Option {
	return func(s *Server) { s.listenAddr = addr }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMaxBodyBytes caps how much of a request body a handler reads.
func WithMaxBodyBytes(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxBody = n
		}
	}
}

// WithAuthenticator plugs in outbox authentication. Without one every
// outbox submission is refused.
func WithAuthenticator(a Authenticator) Option {
	return func(s *Server) { s.auth = a }
}

// WithDomains restricts webfinger lookups to the node's own domains.
func WithDomains(domains []string) Option {
	return func(s *Server) { s.domains = domains }
}

// New builds the HTTP boundary over the pipeline and store.
func New(p *pipeline.Pipeline, st *store.Store, opts ...Option) (*Server, error) {
	s := &Server{
		pipeline:   p,
		store:      st,
		render:     NewRenderer(st),
		logger:     slog.Default(),
		listenAddr: ":8420",
		maxBody:    defaultMaxBodyBytes,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.pipeline == nil {
		return nil, fmt.Errorf("pipeline is required")
	}
	if s.store == nil {
		return nil, fmt.Errorf("store is required")
	}
	return s, nil
}

// Handler returns the route table. Exposed separately so tests can mount
// it without binding a socket.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /inbox", s.handleSharedInbox)
	mux.HandleFunc("POST /users/{username}/inbox", s.handleActorInbox)
	mux.HandleFunc("POST /users/{username}/outbox", s.handleOutbox)
	mux.HandleFunc("GET /.well-known/webfinger", s.handleWebfinger)
	mux.HandleFunc("GET /", s.handleResource)
	return mux
}

// Run binds the listener and serves until Shutdown.
func (s *Server) Run() error {
	s.httpServer = &http.Server{
		Addr:              s.listenAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info("http server starting", "address", s.listenAddr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("could not listen on %s: %w", s.listenAddr, err)
	}
	return nil
}

// Shutdown drains in-flight requests and closes the listener.
func (s *Server) Shutdown() error {
	if s.httpServer == nil {
		return nil
	}
	s.logger.Info("shutting down http server")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return s.httpServer.Shutdown(ctx)
}

// requestURI reconstructs the public URI for a path on this node.
// Federation runs over TLS, so the public scheme is always https.
func requestURI(r *http.Request, path string) string {
	return "https://" + r.Host + path
}
