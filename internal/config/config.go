// Package config provides configuration loading and management for the
// content sync engine.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix for environment variables read by the engine
const EnvPrefix = "CONTENT_SYNC"

// Option defines the interface for configuration options
type Option func(*loaderConfig) error

// loaderConfig defines the configuration for loading a configuration
type loaderConfig struct {
	path string
}

// WithConfigPath loads configuration from a YAML file
func WithConfigPath(path string) Option {
	return func(cfg *loaderConfig) error {
		if path == "" {
			return fmt.Errorf("path is required")
		}

		// Resolve symlinks to prevent symlink attacks.
		// Note that this calls filepath.Clean internally.
		realPath, err := filepath.EvalSymlinks(path)
		if err != nil {
			return fmt.Errorf("failed to evaluate symlinks: %w", err)
		}

		// Validate the path to prevent path traversal attacks
		if !filepath.IsAbs(realPath) {
			if !filepath.IsLocal(realPath) {
				return fmt.Errorf("path is not local or contains invalid traversal: %s", path)
			}
		}

		cfg.path = realPath
		return nil
	}
}

// Config represents the root configuration structure
type Config struct {
	// DataDir is the base directory for fingerprints, cache, queue and
	// status files. Defaults to "./data" if not specified.
	DataDir string `yaml:"dataDir,omitempty"`

	Remote    RemoteConfig     `yaml:"remote"`
	Sources   []SourceConfig   `yaml:"sources"`
	Fetch     *FetchConfig     `yaml:"fetch,omitempty"`
	Cache     *CacheConfig     `yaml:"cache,omitempty"`
	Server    *ServerConfig    `yaml:"server,omitempty"`
	Telemetry *TelemetryConfig `yaml:"telemetry,omitempty"`
}

// RemoteConfig defines the remote content API connection settings
type RemoteConfig struct {
	// Endpoint is the base API URL (without path)
	Endpoint string `yaml:"endpoint"`

	// TokenFile is the path to a file containing the API token.
	// This is the recommended approach for production deployments.
	TokenFile string `yaml:"tokenFile,omitempty"`

	// Timeout is the per-request HTTP timeout (e.g. "10s")
	Timeout string `yaml:"timeout,omitempty"`
}

// SourceConfig defines a single remote collection to synchronize
type SourceConfig struct {
	// ID is the remote source/collection identifier
	ID string `yaml:"id"`

	// Filter narrows which records are synchronized
	Filter *FilterConfig `yaml:"filter,omitempty"`

	// SyncPolicy controls automatic background sync
	SyncPolicy *SyncPolicyConfig `yaml:"syncPolicy,omitempty"`
}

// FilterConfig defines filtering rules for source records
type FilterConfig struct {
	Query      string            `yaml:"query,omitempty"`
	Properties map[string]string `yaml:"properties,omitempty"`
}

// SyncPolicyConfig defines synchronization settings
type SyncPolicyConfig struct {
	Interval string `yaml:"interval"`
}

// FetchConfig tunes the concurrent fetch layer
type FetchConfig struct {
	// MaxConcurrency caps in-flight requests; zero derives the cap from
	// a resource probe
	MaxConcurrency int `yaml:"maxConcurrency,omitempty"`

	// MaxRetries is the number of additional attempts per request
	MaxRetries int `yaml:"maxRetries,omitempty"`

	// BaseDelay is the initial retry backoff delay (e.g. "500ms")
	BaseDelay string `yaml:"baseDelay,omitempty"`
}

// CacheConfig tunes the two-tier cache
type CacheConfig struct {
	// L1Capacity bounds the number of in-memory entries
	L1Capacity int `yaml:"l1Capacity,omitempty"`
}

// ServerConfig defines the operational HTTP server settings
type ServerConfig struct {
	// Address is the listen address (e.g. ":8080")
	Address string `yaml:"address,omitempty"`
}

// TelemetryConfig defines metrics export settings
type TelemetryConfig struct {
	// Enabled turns metric export on
	Enabled bool `yaml:"enabled,omitempty"`

	// Endpoint is the OTLP metrics endpoint
	Endpoint string `yaml:"endpoint,omitempty"`

	// Insecure disables TLS for the OTLP exporter
	Insecure bool `yaml:"insecure,omitempty"`
}

// GetToken returns the remote API token using the following priority:
// 1. Read from TokenFile if specified
// 2. Read from the CONTENT_SYNC_TOKEN environment variable
//
// The token from file has leading/trailing whitespace trimmed.
func (r *RemoteConfig) GetToken() (string, error) {
	if r.TokenFile != "" {
		// Use filepath.Clean to prevent path traversal attacks
		cleanPath := filepath.Clean(r.TokenFile)

		data, err := os.ReadFile(cleanPath)
		if err != nil {
			return "", fmt.Errorf("failed to read token from file %s: %w", r.TokenFile, err)
		}

		return strings.TrimSpace(string(data)), nil
	}

	if envToken := os.Getenv("CONTENT_SYNC_TOKEN"); envToken != "" {
		return envToken, nil
	}

	return "", fmt.Errorf(
		"no API token configured: set tokenFile or the CONTENT_SYNC_TOKEN environment variable",
	)
}

// GetTimeout parses the configured request timeout, defaulting to zero
// (the client's own default) when unset
func (r *RemoteConfig) GetTimeout() (time.Duration, error) {
	if r.Timeout == "" {
		return 0, nil
	}
	return time.ParseDuration(r.Timeout)
}

// LoadConfig loads and parses configuration from a YAML file
func LoadConfig(opts ...Option) (*Config, error) {
	loaderCfg := &loaderConfig{}
	for _, opt := range opts {
		if err := opt(loaderCfg); err != nil {
			return nil, err
		}
	}

	// As of now, this is required because there's no other options to load
	// configuration. Once we add more options, we can remove this check.
	if loaderCfg.path == "" {
		return nil, fmt.Errorf("path is required")
	}

	data, err := os.ReadFile(loaderCfg.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// GetDataDir returns the data directory, using "./data" if not specified
func (c *Config) GetDataDir() string {
	if c.DataDir == "" {
		return "data"
	}
	return c.DataDir
}

// validate performs validation on the configuration
func (c *Config) validate() error {
	if c == nil {
		return fmt.Errorf("config cannot be nil")
	}

	if c.Remote.Endpoint == "" {
		return fmt.Errorf("remote.endpoint is required")
	}

	if _, err := c.Remote.GetTimeout(); err != nil {
		return fmt.Errorf("remote.timeout must be a valid duration (e.g. '10s'): %w", err)
	}

	if len(c.Sources) == 0 {
		return fmt.Errorf("at least one source must be configured")
	}

	sourceIDs := make(map[string]bool)
	for i, src := range c.Sources {
		if src.ID == "" {
			return fmt.Errorf("source[%d]: id is required", i)
		}

		if sourceIDs[src.ID] {
			return fmt.Errorf("source[%d]: duplicate source id '%s'", i, src.ID)
		}
		sourceIDs[src.ID] = true

		if err := validateSyncPolicy(src.SyncPolicy, fmt.Sprintf("source[%d] (%s)", i, src.ID)); err != nil {
			return err
		}
	}

	if c.Fetch != nil && c.Fetch.BaseDelay != "" {
		if _, err := time.ParseDuration(c.Fetch.BaseDelay); err != nil {
			return fmt.Errorf("fetch.baseDelay must be a valid duration (e.g. '500ms'): %w", err)
		}
	}

	return nil
}

// validateSyncPolicy validates the sync policy configuration
func validateSyncPolicy(policy *SyncPolicyConfig, prefix string) error {
	if policy == nil || policy.Interval == "" {
		// Sources without a policy sync on manual trigger only
		return nil
	}

	if _, err := time.ParseDuration(policy.Interval); err != nil {
		return fmt.Errorf("%s: syncPolicy.interval must be a valid duration (e.g., '30m', '1h'): %w", prefix, err)
	}

	return nil
}
