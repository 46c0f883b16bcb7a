package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/c360studio/semfed/activity"
	"github.com/c360studio/semfed/authority"
	"github.com/c360studio/semfed/extract"
	"github.com/c360studio/semfed/pipeline"
	"github.com/c360studio/semfed/proof"
	"github.com/c360studio/semfed/queue"
	"github.com/c360studio/semfed/store"
)

// reingestSpec selects what the reingest command replays.
type reingestSpec struct {
	URI      string
	All      bool
	SpoolDir string
	Watch    bool
}

func runReingest(configPath, logLevel string, spec reingestSpec) error {
	modes := 0
	if spec.URI != "" {
		modes++
	}
	if spec.All {
		modes++
	}
	if spec.SpoolDir != "" {
		modes++
	}
	if modes != 1 {
		return fmt.Errorf("pick exactly one of --uri, --all, --spool")
	}
	if spec.Watch && spec.SpoolDir == "" {
		return fmt.Errorf("--watch requires --spool")
	}

	logger := newLogger(logLevel)
	slog.SetDefault(logger)

	cfg, err := loadConfig(configPath, logger)
	if err != nil {
		return err
	}

	st, err := store.Open(cfg.Storage.Path,
		store.WithLocalDomains(cfg.Federation.Domains),
		store.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	checker := authority.NewChecker(cfg.Federation.Domains)
	var filterOpts []authority.FilterOption
	if len(cfg.Federation.SensitivePredicates) > 0 {
		filterOpts = append(filterOpts, authority.WithSensitivePredicates(cfg.Federation.SensitivePredicates))
	}

	// Replay never verifies proofs, fetches keys, or applies activity
	// side effects, so the pipeline runs offline and without workers.
	p := pipeline.New(st,
		queue.NewMemory(),
		proof.NewVerifier(st, proof.NewKeyring(st, nil)),
		authority.NewFilter(checker, filterOpts...),
		extract.NewRegistry(st, checker, extract.WithLogger(logger)),
		activity.New(st, checker),
		pipeline.WithLogger(logger))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	switch {
	case spec.URI != "":
		if err := p.ReingestURI(ctx, spec.URI); err != nil {
			return err
		}
		fmt.Printf("Reingested %s\n", spec.URI)
		return nil

	case spec.All:
		replayed, failed, err := p.ReingestAll(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Reingested %d documents (%d failed)\n", replayed, failed)
		if failed > 0 {
			return fmt.Errorf("%d documents failed; see the log", failed)
		}
		return nil

	default:
		return runSpool(ctx, p, spec, logger)
	}
}

// runSpool sweeps a spool directory, staying on watch when asked. The
// watcher ingests what is already present before watching, so the
// one-shot mode is a start immediately followed by a stop.
func runSpool(ctx context.Context, p *pipeline.Pipeline, spec reingestSpec, logger *slog.Logger) error {
	w, err := pipeline.NewSpoolWatcher(p, spec.SpoolDir, pipeline.WithSpoolLogger(logger))
	if err != nil {
		return err
	}
	if err := w.Start(ctx); err != nil {
		return err
	}

	if spec.Watch {
		<-ctx.Done()
		logger.Info("received shutdown signal")
	}

	if err := w.Stop(); err != nil {
		return err
	}
	<-w.Done()
	return nil
}
