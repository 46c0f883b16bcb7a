// Package main provides the semfed binary entry point.
// Semfed is an ActivityPub federation node built around a
// graph-to-relational mapping core.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"

	"github.com/c360studio/semfed/config"
)

const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "semfed"
)

func main() {
	// Add panic recovery
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		configPath string
		logLevel   string
	)

	cmd := &cobra.Command{
		Use:   "semfed",
		Short: "ActivityPub federation node",
		Long: `Semfed receives signed activity notifications, authenticates their
proofs, strips statements their source has no authority over, and maps
the surviving graph into queryable relational tables.

It serves its own actors back out: JSON-LD documents with content
negotiation, webfinger discovery, and a synchronous outbox for local
submissions.`,
	}

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file path (YAML)")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	cmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the federation node",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(configPath, logLevel)
		},
	})

	actorCmd := &cobra.Command{
		Use:   "actor",
		Short: "Manage local actors",
	}
	var (
		displayName string
		summary     string
		domain      string
		keyBits     int
		locked      bool
	)
	createCmd := &cobra.Command{
		Use:   "create <username>",
		Short: "Provision a local actor with a fresh keypair",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runActorCreate(configPath, logLevel, actorSpec{
				Username: args[0],
				Name:     displayName,
				Summary:  summary,
				Domain:   domain,
				KeyBits:  keyBits,
				Locked:   locked,
			})
		},
	}
	createCmd.Flags().StringVar(&displayName, "name", "", "Display name")
	createCmd.Flags().StringVar(&summary, "summary", "", "Profile summary")
	createCmd.Flags().StringVar(&domain, "domain", "", "Domain to mint under (default: first federation domain)")
	createCmd.Flags().IntVar(&keyBits, "key-bits", 2048, "RSA key size")
	createCmd.Flags().BoolVar(&locked, "locked", false, "Require manual approval of follow requests")
	actorCmd.AddCommand(createCmd)
	cmd.AddCommand(actorCmd)

	var (
		uri      string
		all      bool
		spoolDir string
		watch    bool
	)
	reingestCmd := &cobra.Command{
		Use:   "reingest",
		Short: "Replay stored documents through extraction",
		Long: `Reingest rebuilds the relational projection from stored documents,
or ingests documents dropped into a spool directory. Notification
records are untouched; only the mapping runs again.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReingest(configPath, logLevel, reingestSpec{
				URI:      uri,
				All:      all,
				SpoolDir: spoolDir,
				Watch:    watch,
			})
		},
	}
	reingestCmd.Flags().StringVar(&uri, "uri", "", "Replay the document behind one reference")
	reingestCmd.Flags().BoolVar(&all, "all", false, "Replay every stored document")
	reingestCmd.Flags().StringVar(&spoolDir, "spool", "", "Ingest documents from a spool directory")
	reingestCmd.Flags().BoolVar(&watch, "watch", false, "Keep watching the spool directory for new documents")
	cmd.AddCommand(reingestCmd)

	// Version command
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s version %s (build: %s)\n", appName, Version, BuildTime)
		},
	})

	return cmd
}

// newLogger builds the process logger. Everything downstream inherits it
// through slog.SetDefault.
func newLogger(level string) *slog.Logger {
	lvl := slog.LevelInfo
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}
	return slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      lvl,
		TimeFormat: time.RFC3339,
	}))
}

func loadConfig(path string, logger *slog.Logger) (*config.Config, error) {
	cfg, err := config.NewLoader(logger).Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}
