package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/c360studio/semfed/activity"
	"github.com/c360studio/semfed/authority"
	"github.com/c360studio/semfed/config"
	"github.com/c360studio/semfed/events"
	"github.com/c360studio/semfed/extract"
	"github.com/c360studio/semfed/metrics"
	"github.com/c360studio/semfed/pipeline"
	"github.com/c360studio/semfed/proof"
	"github.com/c360studio/semfed/queue"
	"github.com/c360studio/semfed/resolve"
	"github.com/c360studio/semfed/server"
	"github.com/c360studio/semfed/store"
)

// App wires the node together: store, queue, pipeline, HTTP boundary.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	embeddedNATS *natsserver.Server
	natsConn     *nats.Conn

	store    *store.Store
	queue    queue.Queue
	pipeline *pipeline.Pipeline
	server   *server.Server

	metricsServer *http.Server
	httpErr       chan error
}

// NewApp creates an application instance from validated configuration.
func NewApp(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:     cfg,
		logger:  logger,
		httpErr: make(chan error, 1),
	}
}

// Start brings up every component in dependency order. On error the
// caller is expected to run Shutdown; it tolerates a partial start.
func (a *App) Start(ctx context.Context) error {
	st, err := store.Open(a.cfg.Storage.Path,
		store.WithLocalDomains(a.cfg.Federation.Domains),
		store.WithLogger(a.logger))
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	a.store = st

	q, err := a.startQueue(ctx)
	if err != nil {
		return err
	}
	a.queue = q

	resolver := resolve.New(st, resolve.Config{
		UserAgent:   a.cfg.Fetch.UserAgent,
		Timeout:     a.cfg.Fetch.Timeout,
		RetryWindow: a.cfg.Fetch.RetryWindow,
		MaxBodySize: a.cfg.Fetch.MaxBodyBytes,
		MinInterval: a.cfg.Fetch.MinInterval,
		MaxAge:      a.cfg.Fetch.MaxAge,
	}, resolve.WithLogger(a.logger))

	checker := authority.NewChecker(a.cfg.Federation.Domains)
	var filterOpts []authority.FilterOption
	if len(a.cfg.Federation.SensitivePredicates) > 0 {
		filterOpts = append(filterOpts, authority.WithSensitivePredicates(a.cfg.Federation.SensitivePredicates))
	}
	filter := authority.NewFilter(checker, filterOpts...)

	keyring := proof.NewKeyring(st, resolver, proof.WithKeyringLogger(a.logger))
	verifier := proof.NewVerifier(st, keyring, proof.WithVerifierLogger(a.logger))
	registry := extract.NewRegistry(st, checker, extract.WithLogger(a.logger))
	machine := activity.New(st, checker,
		activity.WithOutbound(pipeline.NewLoggedOutbound(a.logger)),
		activity.WithLogger(a.logger))

	bus := events.NewBus(events.WithLogger(a.logger))
	bus.Subscribe(events.NotificationSettled, func(_ context.Context, ev events.Event) error {
		a.logger.Info("notification settled",
			"id", ev.Notification.ID,
			"status", ev.Notification.Status)
		return nil
	})

	p := pipeline.New(st, q, verifier, filter, registry, machine,
		pipeline.WithWorkers(a.cfg.Pipeline.Workers),
		pipeline.WithFetchMissingKeys(a.cfg.Pipeline.FetchMissingKeys),
		pipeline.WithBus(bus),
		pipeline.WithLogger(a.logger))
	if err := p.Start(ctx); err != nil {
		return fmt.Errorf("start pipeline: %w", err)
	}
	a.pipeline = p

	srv, err := server.New(p, st,
		server.WithListenAddr(a.cfg.Server.Listen),
		server.WithMaxBodyBytes(a.cfg.Server.MaxBodyBytes),
		server.WithDomains(a.cfg.Federation.Domains),
		server.WithAuthenticator(proof.NewAuthenticator(st)),
		server.WithLogger(a.logger))
	if err != nil {
		return err
	}
	a.server = srv

	go func() { a.httpErr <- srv.Run() }()

	if a.cfg.Server.MetricsListen != "" {
		a.startMetrics()
	}
	return nil
}

// startQueue builds the configured queue, starting or dialing NATS for
// the jetstream kind.
func (a *App) startQueue(ctx context.Context) (queue.Queue, error) {
	if a.cfg.Queue.Kind != "jetstream" {
		return queue.NewMemory(
			queue.WithMaxDeliver(a.cfg.Queue.MaxDeliver),
			queue.WithMemoryLogger(a.logger)), nil
	}

	if a.cfg.Queue.Embedded() {
		storeDir := a.cfg.Queue.StoreDir
		if storeDir == "" {
			storeDir = filepath.Join(filepath.Dir(a.cfg.Storage.Path), "jetstream")
		}
		ns, err := natsserver.NewServer(&natsserver.Options{
			Port:      -1,
			JetStream: true,
			StoreDir:  storeDir,
			NoLog:     true,
			NoSigs:    true,
		})
		if err != nil {
			return nil, fmt.Errorf("create embedded NATS server: %w", err)
		}
		go ns.Start()
		if !ns.ReadyForConnections(5 * time.Second) {
			ns.Shutdown()
			return nil, fmt.Errorf("embedded NATS server failed to start")
		}
		a.embeddedNATS = ns
		a.logger.Info("embedded NATS server started", "store_dir", storeDir)
	}

	url := a.cfg.Queue.URL
	if a.embeddedNATS != nil {
		url = a.embeddedNATS.ClientURL()
	}
	conn, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	a.natsConn = conn

	js, err := jetstream.New(conn)
	if err != nil {
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}
	return queue.NewJetStream(ctx, js, queue.JetStreamConfig{
		Stream:     a.cfg.Queue.Stream,
		Consumer:   a.cfg.Queue.Consumer,
		MaxDeliver: a.cfg.Queue.MaxDeliver,
	}, queue.WithJetStreamLogger(a.logger))
}

// startMetrics exposes the Prometheus collectors on their own listener
// so scraping never competes with federation traffic.
func (a *App) startMetrics() {
	metrics.BuildInfo.WithLabelValues(Version).Set(1)
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	a.metricsServer = &http.Server{
		Addr:              a.cfg.Server.MetricsListen,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		a.logger.Info("metrics listener starting", "address", a.cfg.Server.MetricsListen)
		if err := a.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics listener failed", "error", err)
		}
	}()
}

// Shutdown stops the components in reverse order. Safe after a partial
// Start; nil components are skipped.
func (a *App) Shutdown(timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if a.server != nil {
		if err := a.server.Shutdown(); err != nil {
			a.logger.Warn("http shutdown", "error", err)
		}
	}
	if a.metricsServer != nil {
		if err := a.metricsServer.Shutdown(ctx); err != nil {
			a.logger.Warn("metrics shutdown", "error", err)
		}
	}

	// A started pipeline owns the queue and closes it while draining.
	if a.pipeline != nil {
		a.pipeline.Stop()
	} else if a.queue != nil {
		if err := a.queue.Close(); err != nil && !errors.Is(err, queue.ErrClosed) {
			a.logger.Warn("close queue", "error", err)
		}
	}

	if a.natsConn != nil {
		if err := a.natsConn.Drain(); err != nil {
			a.logger.Warn("drain NATS connection", "error", err)
		}
		a.natsConn.Close()
	}
	if a.embeddedNATS != nil {
		a.embeddedNATS.Shutdown()
		a.embeddedNATS.WaitForShutdown()
	}

	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("close store", "error", err)
		}
	}

	a.logger.Info("semfed shutdown complete")
}

func runServe(configPath, logLevel string) error {
	logger := newLogger(logLevel)
	slog.SetDefault(logger)

	cfg, err := loadConfig(configPath, logger)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	app := NewApp(cfg, logger)
	if err := app.Start(ctx); err != nil {
		app.Shutdown(5 * time.Second)
		return err
	}

	logger.Info("semfed ready",
		"version", Version,
		"domain", cfg.Federation.PrimaryDomain(),
		"listen", cfg.Server.Listen)

	select {
	case <-ctx.Done():
		logger.Info("received shutdown signal")
	case err := <-app.httpErr:
		if err != nil {
			app.Shutdown(30 * time.Second)
			return err
		}
	}

	app.Shutdown(30 * time.Second)
	return nil
}
