// Package config provides configuration loading and management for semfed.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete semfed configuration.
type Config struct {
	Federation FederationConfig `yaml:"federation"`
	Server     ServerConfig     `yaml:"server"`
	Storage    StorageConfig    `yaml:"storage"`
	Queue      QueueConfig      `yaml:"queue"`
	Fetch      FetchConfig      `yaml:"fetch"`
	Pipeline   PipelineConfig   `yaml:"pipeline"`
}

// FederationConfig declares the identities this node speaks for.
type FederationConfig struct {
	// Domains are the URI authorities owned by this node. The first entry
	// is the primary domain used when minting local URIs.
	Domains []string `yaml:"domains"`
	// SensitivePredicates overrides the predicate set that requires an
	// authority check before extraction. Empty uses the built-in default
	// (attribution, key ownership, collection control).
	SensitivePredicates []string `yaml:"sensitive_predicates"`
}

// PrimaryDomain returns the domain used for minted URIs.
func (f FederationConfig) PrimaryDomain() string {
	if len(f.Domains) == 0 {
		return ""
	}
	return f.Domains[0]
}

// ServerConfig configures the HTTP boundary.
type ServerConfig struct {
	// Listen is the address for the federation listener (inbox, outbox,
	// resource GET, webfinger).
	Listen string `yaml:"listen"`
	// MetricsListen is the address for the Prometheus exposition
	// listener. Empty disables it.
	MetricsListen string `yaml:"metrics_listen"`
	// MaxBodyBytes caps an inbound POST body.
	MaxBodyBytes int64 `yaml:"max_body_bytes"`
}

// StorageConfig configures the relational store.
type StorageConfig struct {
	// Path is the SQLite database file (":memory:" for a throwaway).
	Path string `yaml:"path"`
}

// QueueConfig configures the notification work queue.
type QueueConfig struct {
	// Kind selects the implementation: "memory" or "jetstream".
	Kind string `yaml:"kind"`
	// URL is an external NATS server. Empty with jetstream kind starts
	// an embedded server.
	URL string `yaml:"url"`
	// Stream is the JetStream stream name.
	Stream string `yaml:"stream"`
	// Consumer is the durable consumer name.
	Consumer string `yaml:"consumer"`
	// MaxDeliver bounds redelivery of a failing job.
	MaxDeliver int `yaml:"max_deliver"`
	// StoreDir is the embedded server's JetStream directory. Empty uses
	// a directory next to the database.
	StoreDir string `yaml:"store_dir"`
}

// Embedded reports whether the jetstream kind should run its own broker.
func (q QueueConfig) Embedded() bool {
	return q.Kind == "jetstream" && q.URL == ""
}

// FetchConfig configures remote dereferencing.
type FetchConfig struct {
	// UserAgent identifies this node on outbound fetches.
	UserAgent string `yaml:"user_agent"`
	// Timeout is the hard per-request limit.
	Timeout time.Duration `yaml:"timeout"`
	// RetryWindow bounds total time spent retrying transient failures.
	RetryWindow time.Duration `yaml:"retry_window"`
	// MinInterval is the minimum gap between fetch attempts of one
	// reference.
	MinInterval time.Duration `yaml:"min_interval"`
	// MaxAge is how long a stored document is served without re-fetching.
	MaxAge time.Duration `yaml:"max_age"`
	// MaxBodyBytes caps a fetched document body.
	MaxBodyBytes int64 `yaml:"max_body_bytes"`
}

// PipelineConfig configures background processing.
type PipelineConfig struct {
	// Workers is the number of concurrent notification processors.
	Workers int `yaml:"workers"`
	// FetchMissingKeys lets proof verification dereference unknown
	// signing keys over the network.
	FetchMissingKeys bool `yaml:"fetch_missing_keys"`
}

// DefaultConfig returns a Config with sensible defaults. The federation
// domain list is intentionally empty; Validate requires at least one.
func DefaultConfig() *Config {
	return &Config{
		Federation: FederationConfig{},
		Server: ServerConfig{
			Listen:        ":8420",
			MetricsListen: ":9420",
			MaxBodyBytes:  1 << 20,
		},
		Storage: StorageConfig{
			Path: "semfed.db",
		},
		Queue: QueueConfig{
			Kind:       "jetstream",
			Stream:     "NOTIFS",
			Consumer:   "semfed-workers",
			MaxDeliver: 3,
		},
		Fetch: FetchConfig{
			UserAgent:    "semfed/1.0",
			Timeout:      10 * time.Second,
			RetryWindow:  30 * time.Second,
			MinInterval:  5 * time.Minute,
			MaxAge:       time.Hour,
			MaxBodyBytes: 1 << 20,
		},
		Pipeline: PipelineConfig{
			Workers:          4,
			FetchMissingKeys: true,
		},
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if len(c.Federation.Domains) == 0 {
		return fmt.Errorf("federation.domains requires at least one domain")
	}
	for _, d := range c.Federation.Domains {
		if d == "" {
			return fmt.Errorf("federation.domains contains an empty entry")
		}
	}
	if c.Server.Listen == "" {
		return fmt.Errorf("server.listen is required")
	}
	if c.Storage.Path == "" {
		return fmt.Errorf("storage.path is required")
	}
	switch c.Queue.Kind {
	case "memory", "jetstream":
	default:
		return fmt.Errorf("queue.kind must be memory or jetstream, got %q", c.Queue.Kind)
	}
	if c.Queue.Kind == "jetstream" && c.Queue.Stream == "" {
		return fmt.Errorf("queue.stream is required for jetstream")
	}
	if c.Queue.MaxDeliver < 1 {
		return fmt.Errorf("queue.max_deliver must be at least 1")
	}
	if c.Fetch.Timeout <= 0 {
		return fmt.Errorf("fetch.timeout must be positive")
	}
	if c.Fetch.MinInterval < 0 {
		return fmt.Errorf("fetch.min_interval must not be negative")
	}
	if c.Pipeline.Workers < 1 {
		return fmt.Errorf("pipeline.workers must be at least 1")
	}
	return nil
}

// LoadFromFile loads configuration from a YAML file on top of defaults.
// ${VAR} references in the file are expanded from the environment before
// parsing, so secrets stay out of the file itself.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	expanded := os.Expand(string(data), func(key string) string {
		return os.Getenv(key)
	})

	config := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expanded), config); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	return config, nil
}

// SaveToFile saves configuration to a YAML file.
func (c *Config) SaveToFile(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// Merge merges another config into this one; non-zero values of other
// take precedence.
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}

	if len(other.Federation.Domains) > 0 {
		c.Federation.Domains = other.Federation.Domains
	}
	if len(other.Federation.SensitivePredicates) > 0 {
		c.Federation.SensitivePredicates = other.Federation.SensitivePredicates
	}

	if other.Server.Listen != "" {
		c.Server.Listen = other.Server.Listen
	}
	if other.Server.MetricsListen != "" {
		c.Server.MetricsListen = other.Server.MetricsListen
	}
	if other.Server.MaxBodyBytes != 0 {
		c.Server.MaxBodyBytes = other.Server.MaxBodyBytes
	}

	if other.Storage.Path != "" {
		c.Storage.Path = other.Storage.Path
	}

	if other.Queue.Kind != "" {
		c.Queue.Kind = other.Queue.Kind
	}
	if other.Queue.URL != "" {
		c.Queue.URL = other.Queue.URL
	}
	if other.Queue.Stream != "" {
		c.Queue.Stream = other.Queue.Stream
	}
	if other.Queue.Consumer != "" {
		c.Queue.Consumer = other.Queue.Consumer
	}
	if other.Queue.MaxDeliver != 0 {
		c.Queue.MaxDeliver = other.Queue.MaxDeliver
	}
	if other.Queue.StoreDir != "" {
		c.Queue.StoreDir = other.Queue.StoreDir
	}

	if other.Fetch.UserAgent != "" {
		c.Fetch.UserAgent = other.Fetch.UserAgent
	}
	if other.Fetch.Timeout != 0 {
		c.Fetch.Timeout = other.Fetch.Timeout
	}
	if other.Fetch.RetryWindow != 0 {
		c.Fetch.RetryWindow = other.Fetch.RetryWindow
	}
	if other.Fetch.MinInterval != 0 {
		c.Fetch.MinInterval = other.Fetch.MinInterval
	}
	if other.Fetch.MaxAge != 0 {
		c.Fetch.MaxAge = other.Fetch.MaxAge
	}
	if other.Fetch.MaxBodyBytes != 0 {
		c.Fetch.MaxBodyBytes = other.Fetch.MaxBodyBytes
	}

	if other.Pipeline.Workers != 0 {
		c.Pipeline.Workers = other.Pipeline.Workers
	}
	if other.Pipeline.FetchMissingKeys {
		c.Pipeline.FetchMissingKeys = true
	}
}
