// Package config loads the host configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config models ~/.beam/config.yaml. Everything has a working default; the
// file only exists to override.
type Config struct {
	StorePath string `yaml:"storePath"` // sqlite database location
	Shell     string `yaml:"shell"`     // default command for new sessions; empty = login shell
	BufferCap int    `yaml:"bufferCap"` // replay buffer bytes per session
	Theme     string `yaml:"theme"`     // reported to paired devices in status updates
	EventsURL string `yaml:"eventsUrl"` // NATS URL for host event publishing; empty = log only
	LogLevel  string `yaml:"logLevel"`  // debug|info|warn|error
}

// DefaultPath returns ~/.beam/config.yaml, or a relative fallback when the
// home directory cannot be resolved.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".beam/config.yaml"
	}
	return filepath.Join(home, ".beam", "config.yaml")
}

// DefaultStorePath returns ~/.beam/beam.db.
func DefaultStorePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".beam/beam.db"
	}
	return filepath.Join(home, ".beam", "beam.db")
}

// Load decodes the config file. A missing file returns defaults, not an
// error.
func Load(path string) (*Config, error) {
	cfg := &Config{
		StorePath: DefaultStorePath(),
		Theme:     "tokyo",
		LogLevel:  "info",
	}
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return cfg, nil
	}
	expanded, err := expandPath(trimmed)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(expanded)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.StorePath == "" {
		cfg.StorePath = DefaultStorePath()
	}
	return cfg, nil
}

// Save writes the config, creating parent directories if needed.
func (c *Config) Save(path string) error {
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("config path is required")
	}
	expanded, err := expandPath(path)
	if err != nil {
		return err
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(expanded), 0o755); err != nil {
		return err
	}
	return os.WriteFile(expanded, data, 0o600)
}

func expandPath(path string) (string, error) {
	switch {
	case strings.HasPrefix(path, "~/"):
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, path[2:]), nil
	case path == "~":
		return os.UserHomeDir()
	case filepath.IsAbs(path):
		return path, nil
	default:
		cwd, err := os.Getwd()
		if err != nil {
			return "", err
		}
		return filepath.Join(cwd, path), nil
	}
}
