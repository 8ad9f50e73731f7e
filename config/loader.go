package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

const (
	// ProjectConfigFile is the name of the project-level config file.
	ProjectConfigFile = "docscope.yaml"
	// UserConfigDir is the directory for user-level config.
	UserConfigDir = ".config/docscope"
	// UserConfigFile is the name of the user-level config file.
	UserConfigFile = "config.yaml"
	// envPrefix prefixes all environment overrides.
	envPrefix = "DOCSCOPE_"
)

// Loader handles configuration loading with layered precedence.
type Loader struct {
	logger *slog.Logger
}

// NewLoader creates a new configuration loader.
func NewLoader(logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{logger: logger}
}

// Load loads configuration with layered precedence:
// 1. Default config
// 2. User config (~/.config/docscope/config.yaml)
// 3. Project config (docscope.yaml in current or parent directories)
// 4. Environment variables (DOCSCOPE_*)
func (l *Loader) Load() (*Config, error) {
	config := DefaultConfig()

	userConfigPath := l.userConfigPath()
	if userConfig, err := LoadFromFile(userConfigPath); err == nil {
		l.logger.Debug("Loaded user config", slog.String("path", userConfigPath))
		config.Merge(userConfig)
	} else if !os.IsNotExist(err) {
		l.logger.Warn("Failed to load user config", slog.String("path", userConfigPath), slog.String("error", err.Error()))
	}

	projectConfigPath := l.findProjectConfig()
	if projectConfigPath != "" {
		if projectConfig, err := LoadFromFile(projectConfigPath); err == nil {
			l.logger.Debug("Loaded project config", slog.String("path", projectConfigPath))
			config.Merge(projectConfig)
		} else {
			l.logger.Warn("Failed to load project config", slog.String("path", projectConfigPath), slog.String("error", err.Error()))
		}
	} else {
		l.logger.Debug("No project config found")
	}

	l.applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// applyEnvOverrides overlays DOCSCOPE_* environment variables.
func (l *Loader) applyEnvOverrides(config *Config) {
	if v := os.Getenv(envPrefix + "ADDR"); v != "" {
		config.Server.Addr = v
	}
	if v := os.Getenv(envPrefix + "PROVIDER"); v != "" {
		config.Provider.Default = v
	}
	if v := os.Getenv(envPrefix + "PROVIDER_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.Provider.Timeout = d
		}
	}
	if v := os.Getenv(envPrefix + "CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Evaluation.Concurrency = n
		}
	}
	if v := os.Getenv(envPrefix + "MODE"); v != "" {
		config.Evaluation.Mode = v
	}
	if v := os.Getenv(envPrefix + "WORKSPACE_ROOT"); v != "" {
		config.Workspace.Root = v
	}
	if v := os.Getenv(envPrefix + "NATS_URL"); v != "" {
		config.NATS.URL = v
	}
	if v := os.Getenv(envPrefix + "LOG_LEVEL"); v != "" {
		config.Log.Level = v
	}
}

// userConfigPath returns the path to the user config file.
func (l *Loader) userConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, UserConfigDir, UserConfigFile)
}

// findProjectConfig searches for docscope.yaml in current and parent directories.
func (l *Loader) findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	dir := cwd
	for {
		configPath := filepath.Join(dir, ProjectConfigFile)
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return ""
}
