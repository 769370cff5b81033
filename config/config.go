// Package config provides configuration loading and management for Clarence.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete Clarence configuration
type Config struct {
	Service ServiceConfig `yaml:"service"`
	Push    PushConfig    `yaml:"push"`
	Sync    SyncConfig    `yaml:"sync"`
	Session SessionConfig `yaml:"session"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// ServiceConfig configures the proposal service connection
type ServiceConfig struct {
	// URL is the base URL of the proposal service
	URL string `yaml:"url"`
	// TopicKey identifies the approval queue to watch
	TopicKey string `yaml:"topic_key"`
	// Timeout is the per-request HTTP timeout
	Timeout time.Duration `yaml:"timeout"`
}

// PushConfig configures the push channels
type PushConfig struct {
	// NATSURL is the event bus URL (empty = bus disabled)
	NATSURL string `yaml:"nats_url"`
	// BackoffBase is the first reconnect delay
	BackoffBase time.Duration `yaml:"backoff_base"`
	// BackoffCap is the maximum reconnect delay
	BackoffCap time.Duration `yaml:"backoff_cap"`
}

// SyncConfig configures the reconciliation loop
type SyncConfig struct {
	// Debounce is how long to wait for trailing notifications before fetching
	Debounce time.Duration `yaml:"debounce"`
	// FetchTimeout bounds a single snapshot fetch
	FetchTimeout time.Duration `yaml:"fetch_timeout"`
	// MutationTimeout bounds a single mutation call
	MutationTimeout time.Duration `yaml:"mutation_timeout"`
}

// SessionConfig configures local session persistence
type SessionConfig struct {
	// Path is the session database location
	Path string `yaml:"path"`
}

// MetricsConfig configures the metrics endpoint
type MetricsConfig struct {
	// Addr is the listen address for /metrics (empty = disabled)
	Addr string `yaml:"addr"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Service: ServiceConfig{
			URL:     "http://localhost:8420",
			Timeout: 15 * time.Second,
		},
		Push: PushConfig{
			NATSURL:     "",
			BackoffBase: time.Second,
			BackoffCap:  30 * time.Second,
		},
		Sync: SyncConfig{
			Debounce:        50 * time.Millisecond,
			FetchTimeout:    10 * time.Second,
			MutationTimeout: 15 * time.Second,
		},
		Session: SessionConfig{
			Path: defaultSessionPath(),
		},
		Metrics: MetricsConfig{
			Addr: "",
		},
	}
}

func defaultSessionPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "clarence-session.db"
	}
	return filepath.Join(home, UserConfigDir, "session.db")
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.Service.URL == "" {
		return fmt.Errorf("service.url is required")
	}
	if c.Service.Timeout <= 0 {
		return fmt.Errorf("service.timeout must be positive")
	}
	if c.Push.BackoffBase <= 0 {
		return fmt.Errorf("push.backoff_base must be positive")
	}
	if c.Push.BackoffCap < c.Push.BackoffBase {
		return fmt.Errorf("push.backoff_cap must be at least push.backoff_base")
	}
	if c.Sync.Debounce < 0 {
		return fmt.Errorf("sync.debounce must not be negative")
	}
	return nil
}

// LoadFromFile loads configuration from a YAML file
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// SaveToFile saves configuration to a YAML file
func (c *Config) SaveToFile(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Merge merges another config into this one (other takes precedence for non-zero values)
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}

	// Service
	if other.Service.URL != "" {
		c.Service.URL = other.Service.URL
	}
	if other.Service.TopicKey != "" {
		c.Service.TopicKey = other.Service.TopicKey
	}
	if other.Service.Timeout != 0 {
		c.Service.Timeout = other.Service.Timeout
	}

	// Push
	if other.Push.NATSURL != "" {
		c.Push.NATSURL = other.Push.NATSURL
	}
	if other.Push.BackoffBase != 0 {
		c.Push.BackoffBase = other.Push.BackoffBase
	}
	if other.Push.BackoffCap != 0 {
		c.Push.BackoffCap = other.Push.BackoffCap
	}

	// Sync
	if other.Sync.Debounce != 0 {
		c.Sync.Debounce = other.Sync.Debounce
	}
	if other.Sync.FetchTimeout != 0 {
		c.Sync.FetchTimeout = other.Sync.FetchTimeout
	}
	if other.Sync.MutationTimeout != 0 {
		c.Sync.MutationTimeout = other.Sync.MutationTimeout
	}

	// Session
	if other.Session.Path != "" {
		c.Session.Path = other.Session.Path
	}

	// Metrics
	if other.Metrics.Addr != "" {
		c.Metrics.Addr = other.Metrics.Addr
	}
}
