package config

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
)

const (
	// SiteConfigFile is the name of the deployment-level config file
	SiteConfigFile = "semfed.yaml"
	// UserConfigDir is the directory for user-level config
	UserConfigDir = ".config/semfed"
	// UserConfigFile is the name of the user-level config file
	UserConfigFile = "config.yaml"
)

// Loader handles configuration loading with layered precedence
type Loader struct {
	logger *slog.Logger
}

// NewLoader creates a new configuration loader
func NewLoader(logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{logger: logger}
}

// Load loads configuration with layered precedence:
// 1. Default config
// 2. User config (~/.config/semfed/config.yaml)
// 3. Site config (semfed.yaml in current or parent directories)
// 4. Explicit path (--config flag), which overrides the search entirely
func (l *Loader) Load(explicitPath string) (*Config, error) {
	// Start with defaults
	config := DefaultConfig()

	if explicitPath != "" {
		explicit, err := LoadFromFile(explicitPath)
		if err != nil {
			return nil, err
		}
		config.Merge(explicit)
		l.logger.Debug("Loaded config", slog.String("path", explicitPath))
		if err := config.Validate(); err != nil {
			return nil, err
		}
		return config, nil
	}

	// Load user config
	userConfigPath := l.userConfigPath()
	if userConfig, err := LoadFromFile(userConfigPath); err == nil {
		l.logger.Debug("Loaded user config", slog.String("path", userConfigPath))
		config.Merge(userConfig)
	} else if !errors.Is(err, os.ErrNotExist) {
		l.logger.Warn("Failed to load user config", slog.String("path", userConfigPath), slog.String("error", err.Error()))
	}

	// Load site config
	siteConfigPath := l.findSiteConfig()
	if siteConfigPath != "" {
		if siteConfig, err := LoadFromFile(siteConfigPath); err == nil {
			l.logger.Debug("Loaded site config", slog.String("path", siteConfigPath))
			config.Merge(siteConfig)
		} else {
			l.logger.Warn("Failed to load site config", slog.String("path", siteConfigPath), slog.String("error", err.Error()))
		}
	} else {
		l.logger.Debug("No site config found")
	}

	// Validate final config
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// userConfigPath returns the path to the user config file
func (l *Loader) userConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, UserConfigDir, UserConfigFile)
}

// findSiteConfig searches for semfed.yaml in current and parent directories
func (l *Loader) findSiteConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	dir := cwd
	for {
		configPath := filepath.Join(dir, SiteConfigFile)
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		// Move to parent directory
		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			break
		}
		dir = parent
	}

	return ""
}
